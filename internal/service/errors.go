package service

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound means the referenced record does not exist
	ErrNotFound = errors.New("record not found")
	// ErrNotOwner means the caller does not own the record it tried to mutate
	ErrNotOwner = errors.New("caller does not own this record")
	// ErrCancelled means the user declined a required confirmation; it is an
	// informational no-op, not a failure
	ErrCancelled = errors.New("update cancelled")
	// ErrForbidden means the caller's role does not permit the operation
	ErrForbidden = errors.New("operation not permitted for caller role")
	// ErrInvalidPrice means the submitted price is not positive
	ErrInvalidPrice = errors.New("price must be greater than zero")
	// ErrUpdateInFlight means another guarded update holds the record lock
	ErrUpdateInFlight = errors.New("another update for this record is in flight")
)

// CancelledError carries the deviation that triggered the declined
// confirmation. errors.Is(err, ErrCancelled) matches it.
type CancelledError struct {
	Deviation float64
}

func (e *CancelledError) Error() string {
	return fmt.Sprintf("update cancelled at %.1f%% deviation", e.Deviation*100)
}

func (e *CancelledError) Unwrap() error {
	return ErrCancelled
}
