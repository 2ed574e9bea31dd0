package corpus

import (
	"fmt"
	"strings"
)

type ErrorKind string

const (
	ErrIncompleteCorpus ErrorKind = "incomplete_corpus"
	ErrGapInSequence    ErrorKind = "gap_in_sequence"
)

// Error reports a corpus-level problem together with the chapter ids it
// concerns, so callers can decide between failing and degrading.
type Error struct {
	Kind     ErrorKind
	Chapters []string
	Detail   string
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("corpus %s", e.Kind)
	if len(e.Chapters) > 0 {
		msg += ": " + strings.Join(e.Chapters, ", ")
	}
	if e.Detail != "" {
		msg += " (" + e.Detail + ")"
	}
	return msg
}

func NewGapError(missing []string) *Error {
	return &Error{Kind: ErrGapInSequence, Chapters: missing, Detail: "chapter sequence has holes"}
}

func NewIncompleteError(invalid []string, detail string) *Error {
	return &Error{Kind: ErrIncompleteCorpus, Chapters: invalid, Detail: detail}
}
