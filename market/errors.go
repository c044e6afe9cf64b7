package market

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyHistory means the source answered but returned no bars
	ErrEmptyHistory = errors.New("price source returned no bars")
	// ErrSourceUnavailable means the source could not be reached
	ErrSourceUnavailable = errors.New("price source unavailable")
)

// InsufficientDataError is returned when a window is too short for an indicator
type InsufficientDataError struct {
	Indicator string
	Need      int
	Have      int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("insufficient data for %s: need %d bars, have %d", e.Indicator, e.Need, e.Have)
}

// IsInsufficientData reports whether err carries an InsufficientDataError
func IsInsufficientData(err error) bool {
	var target *InsufficientDataError
	return errors.As(err, &target)
}
