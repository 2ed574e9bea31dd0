package providers

import (
	"context"
	"errors"
	"strings"
)

type ErrorType string

const (
	ErrorQuota     ErrorType = "quota"
	ErrorRate      ErrorType = "rate"
	ErrorTimeout   ErrorType = "timeout"
	ErrorTransient ErrorType = "transient"
	ErrorPermanent ErrorType = "permanent"
	ErrorContext   ErrorType = "context"
)

func ClassifyError(err error) ErrorType {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorTimeout
	}
	e := strings.ToLower(err.Error())
	switch {
	case strings.Contains(e, "quota"), strings.Contains(e, "credit"), strings.Contains(e, "insufficient_quota"):
		return ErrorQuota
	case strings.Contains(e, "rate"), strings.Contains(e, "429"):
		return ErrorRate
	case strings.Contains(e, "context"), strings.Contains(e, "too long"), strings.Contains(e, "maximum prompt length"):
		return ErrorContext
	case strings.Contains(e, "timeout"), strings.Contains(e, "deadline"):
		return ErrorTimeout
	case strings.Contains(e, "temporarily"), strings.Contains(e, "unavailable"), strings.Contains(e, "connection"):
		return ErrorTransient
	default:
		return ErrorPermanent
	}
}

// Retryable reports whether a call with this error class is worth repeating.
func (t ErrorType) Retryable() bool {
	switch t {
	case ErrorRate, ErrorTimeout, ErrorTransient:
		return true
	default:
		return false
	}
}
