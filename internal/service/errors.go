package service

import (
	"errors"
	"fmt"

	"support-service/internal/store"
)

// Errors returned by the service layer. Anything else is an internal error.
var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrNotFound          = errors.New("not found")
	ErrInvalidTransition = errors.New("invalid case transition")
	ErrLockBusy          = errors.New("case is being resolved by another request")
)

// invalidf wraps ErrInvalidInput with a client-facing reason
func invalidf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// mapStoreErr turns store.ErrNotFound into ErrNotFound and wraps the rest
func mapStoreErr(err error, action string) error {
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%s: %w: %v", action, ErrNotFound, err)
	}
	return fmt.Errorf("%s: %w", action, err)
}
