package client

import (
	"fmt"

	"github.com/xraph/cadence"
)

// Error is a failed API call. It matches the cadence taxonomy roots with
// errors.Is, so callers branch the same way for local and remote engines.
type Error struct {
	Status     int
	Code       string
	Message    string
	ExistingID string
}

func (e *Error) Error() string {
	return fmt.Sprintf("cadence/client: %d %s: %s", e.Status, e.Code, e.Message)
}

// Is matches cadence.ErrValidation, ErrNotFound, ErrConflict and
// ErrInvalidState by the response code.
func (e *Error) Is(target error) bool {
	switch target {
	case cadence.ErrValidation:
		return e.Code == "validation"
	case cadence.ErrNotFound:
		return e.Code == "not_found"
	case cadence.ErrConflict:
		return e.Code == "conflict"
	case cadence.ErrInvalidState:
		return e.Code == "invalid_state"
	}
	return false
}
