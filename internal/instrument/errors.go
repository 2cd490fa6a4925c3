package instrument

import (
	"errors"
	"fmt"
)

// ErrInvalidInstrument matches every InvalidInstrumentError.
var ErrInvalidInstrument = errors.New("invalid instrument")

// InvalidInstrumentError reports input that cannot be normalized into a key.
type InvalidInstrumentError struct {
	Field  string
	Value  any
	Reason string
}

func (e *InvalidInstrumentError) Error() string {
	if e.Value == nil {
		return fmt.Sprintf("invalid instrument: %s %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid instrument: %s %s (%v)", e.Field, e.Reason, e.Value)
}

func (e *InvalidInstrumentError) Is(target error) bool {
	return target == ErrInvalidInstrument
}

func invalid(field string, value any, reason string) error {
	return &InvalidInstrumentError{Field: field, Value: value, Reason: reason}
}
