package corpus

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"mangaflow/internal/schema"
)

var (
	chapterIDPattern = regexp.MustCompile(`^ch_(\d{3,})$`)
	branchIDPattern  = regexp.MustCompile(`^(ch_\d{3,})_([A-Za-z0-9]+)_b_([a-z]+)$`)
	chapterRefPrefix = regexp.MustCompile(`^(ch_\d{3,})`)
)

func FormatChapterID(n int) string {
	return fmt.Sprintf("ch_%03d", n)
}

// ParseChapterID returns the chapter number, or an error for anything that is
// not a bare mainline chapter id.
func ParseChapterID(id string) (int, error) {
	m := chapterIDPattern.FindStringSubmatch(id)
	if m == nil {
		return 0, fmt.Errorf("invalid chapter id %q", id)
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n < 1 {
		return 0, fmt.Errorf("invalid chapter id %q", id)
	}
	return n, nil
}

func IsChapterID(id string) bool {
	return chapterIDPattern.MatchString(id)
}

// SortChapterIDs orders ids numerically in place.
func SortChapterIDs(ids []string) {
	sort.Slice(ids, func(i, j int) bool {
		a, _ := ParseChapterID(ids[i])
		b, _ := ParseChapterID(ids[j])
		return a < b
	})
}

// BranchID derives the deterministic branch identifier for an anchor and
// route kind: ch_005 + a001 + Behavioral -> ch_005_a001_b_behavioral. The id
// is computed, never model-generated, so the same (chapter, anchor, kind)
// always resolves to the same branch.
func BranchID(chapterID, anchorID string, kind schema.RouteKind) string {
	anchor := strings.TrimPrefix(anchorID, chapterID+"_")
	return fmt.Sprintf("%s_%s_b_%s", chapterID, anchor, strings.ToLower(string(kind)))
}

type BranchRef struct {
	BranchID  string
	ChapterID string
	AnchorID  string
	Kind      schema.RouteKind
}

func ParseBranchID(id string) (BranchRef, error) {
	m := branchIDPattern.FindStringSubmatch(id)
	if m == nil {
		return BranchRef{}, fmt.Errorf("invalid branch id %q", id)
	}
	var kind schema.RouteKind
	for _, k := range schema.RouteKinds {
		if strings.ToLower(string(k)) == m[3] {
			kind = k
			break
		}
	}
	if kind == "" {
		return BranchRef{}, fmt.Errorf("invalid branch id %q: unknown route kind %q", id, m[3])
	}
	return BranchRef{BranchID: id, ChapterID: m[1], AnchorID: m[2], Kind: kind}, nil
}

// ChapterRefOf extracts the leading chapter id from any chapter-scoped name,
// including branch ids and artifact file names.
func ChapterRefOf(name string) (string, bool) {
	m := chapterRefPrefix.FindStringSubmatch(name)
	if m == nil {
		return "", false
	}
	return m[1], true
}
