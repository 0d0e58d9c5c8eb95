package review

import (
	"errors"
	"fmt"
)

var (
	ErrNoPersonas        = errors.New("at least one persona is required")
	ErrUnknownPersona    = errors.New("unknown persona")
	ErrDocumentArchived  = errors.New("document is archived")
	ErrAllPersonasFailed = errors.New("all personas failed")
	// ErrInvalidRange marks a comment whose line range does not fit the
	// document. Such comments are dropped, never surfaced.
	ErrInvalidRange       = errors.New("comment line range out of bounds")
	ErrUnparsableResponse = errors.New("unparsable model response")
)

// PersonaCallError is one persona's failed completion call. It fails that
// persona only.
type PersonaCallError struct {
	PersonaID string
	Err       error
}

func (e *PersonaCallError) Error() string {
	return fmt.Sprintf("persona %s: %v", e.PersonaID, e.Err)
}

func (e *PersonaCallError) Unwrap() error {
	return e.Err
}
