package attendance

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingStartDate means the booking cannot be evaluated at all.
	ErrMissingStartDate = errors.New("booking has no start date")
	// ErrUnknownFrequency means the recurrence rule is not one the engine knows.
	ErrUnknownFrequency = errors.New("unknown booking frequency")
	// ErrWindowTooLong means a calendar window spans more than
	// core.MaxCalendarDays days.
	ErrWindowTooLong = errors.New("calendar window too long")
)

// ConfigurationError reports a booking whose scheduling fields are
// insufficient to evaluate. It is never a statement about a particular date.
type ConfigurationError struct {
	BookingID string
	Err       error
}

func (e *ConfigurationError) Error() string {
	if e.BookingID == "" {
		return fmt.Sprintf("booking misconfigured: %v", e.Err)
	}
	return fmt.Sprintf("booking %s misconfigured: %v", e.BookingID, e.Err)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// IsConfigurationError reports whether err is (or wraps) a ConfigurationError.
func IsConfigurationError(err error) bool {
	var cfgErr *ConfigurationError
	return errors.As(err, &cfgErr)
}
