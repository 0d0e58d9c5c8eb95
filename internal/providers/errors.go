package providers

import (
	"context"
	"errors"
	"regexp"
	"strings"
)

type ErrorType string

const (
	ErrorQuota     ErrorType = "quota"
	ErrorRate      ErrorType = "rate"
	ErrorTransient ErrorType = "transient"
	ErrorPermanent ErrorType = "permanent"
	ErrorContext   ErrorType = "context"
)

var serverErrorPattern = regexp.MustCompile(`error 5\d\d`)

var (
	ErrNoProviderAvailable = errors.New("no llm provider available")
	ErrMissingKey          = errors.New("provider key missing")
)

func ClassifyError(err error) ErrorType {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ErrorContext
	}
	e := strings.ToLower(err.Error())
	switch {
	case strings.Contains(e, "quota"), strings.Contains(e, "credit"), strings.Contains(e, "insufficient_quota"):
		return ErrorQuota
	case strings.Contains(e, "rate"), strings.Contains(e, "429"):
		return ErrorRate
	case strings.Contains(e, "context"), strings.Contains(e, "too long"):
		return ErrorContext
	case strings.Contains(e, "timeout"), strings.Contains(e, "temporarily"), strings.Contains(e, "unavailable"),
		strings.Contains(e, "overloaded"), serverErrorPattern.MatchString(e):
		return ErrorTransient
	default:
		return ErrorPermanent
	}
}

// ShouldFailover reports whether the next configured provider is worth
// trying after an error of this type. Context errors end the attempt.
func ShouldFailover(t ErrorType) bool {
	return t != ErrorContext && t != ""
}
