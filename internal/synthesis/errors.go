package synthesis

import (
	"errors"
	"fmt"
)

var (
	ErrReviewNotCompleted = errors.New("review is not completed")
	// ErrSynthesisInProgress is returned when another process holds the
	// synthesis lock for the same review.
	ErrSynthesisInProgress = errors.New("synthesis already in progress")
)

// SynthesisError wraps a failed model pass. Per-persona comments stay
// available when it is returned.
type SynthesisError struct {
	ReviewID string
	Err      error
}

func (e *SynthesisError) Error() string {
	return fmt.Sprintf("synthesize review %s: %v", e.ReviewID, e.Err)
}

func (e *SynthesisError) Unwrap() error {
	return e.Err
}
