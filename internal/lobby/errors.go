// internal/lobby/errors.go
package lobby

import (
	"errors"
	"fmt"
)

var (
	// ErrLobbyNotFound means the invite code references no lobby. Joins
	// against it write nothing.
	ErrLobbyNotFound = errors.New("lobby: lobby does not exist")

	// ErrContention means the join transaction kept colliding with
	// concurrent commits and exhausted its retries. The caller can simply
	// try again.
	ErrContention = errors.New("lobby: temporarily unavailable, retry")
)

// ValidationError rejects malformed input before any store interaction.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("lobby: invalid %s: %s", e.Field, e.Reason)
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
