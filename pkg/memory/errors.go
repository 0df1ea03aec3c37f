package memory

import (
	"errors"
	"fmt"
)

var (
	// ErrStoreUnavailable indicates the backing store could not be read or
	// written. Turns that hit it are not recorded.
	ErrStoreUnavailable = errors.New("memory store unavailable")
	// ErrSessionNotFound is returned by reads that do not create sessions.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionOwnership is returned when a session id is already owned by
	// a different user.
	ErrSessionOwnership = errors.New("session belongs to another user")
	// ErrInvalidTurn rejects turns with a missing user, session or message.
	ErrInvalidTurn = errors.New("invalid turn")
)

func storeErr(op string, err error) error {
	return fmt.Errorf("%s: %w", op, errors.Join(ErrStoreUnavailable, err))
}
