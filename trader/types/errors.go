package types

import (
	"errors"
	"fmt"
)

// ConnectionError means the venue could not be reached or the session is
// broken. The current cycle is aborted.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("%s: connection error: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// OrderRejected means the venue declined a well-formed request
type OrderRejected struct {
	Op     string
	Code   int64
	Reason string
}

func (e *OrderRejected) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("%s: rejected (code %d): %s", e.Op, e.Code, e.Reason)
	}
	return fmt.Sprintf("%s: rejected: %s", e.Op, e.Reason)
}

// IsConnectionError reports whether err carries a ConnectionError
func IsConnectionError(err error) bool {
	var ce *ConnectionError
	return errors.As(err, &ce)
}

// IsOrderRejected reports whether err carries an OrderRejected
func IsOrderRejected(err error) bool {
	var rejected *OrderRejected
	return errors.As(err, &rejected)
}
