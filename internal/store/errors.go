package store

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// ErrDuplicateMessage matches any *DuplicateMessageError via errors.Is.
var ErrDuplicateMessage = errors.New("duplicate message")

// DuplicateMessageError reports that (channel, message_id) is already stored.
type DuplicateMessageError struct {
	Channel   string
	MessageID string
}

func (e *DuplicateMessageError) Error() string {
	return fmt.Sprintf("message %s/%s already exists", e.Channel, e.MessageID)
}

func (e *DuplicateMessageError) Is(target error) bool { return target == ErrDuplicateMessage }

// PersistenceError wraps any storage failure other than a duplicate.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string { return e.Op + ": " + e.Err.Error() }

func (e *PersistenceError) Unwrap() error { return e.Err }

// Persistence wraps err as a *PersistenceError unless it is nil or already
// one of the store's typed errors.
func Persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrDuplicateMessage) {
		return err
	}
	var pe *PersistenceError
	if errors.As(err, &pe) {
		return err
	}
	return &PersistenceError{Op: op, Err: err}
}
