package model

import (
	"errors"
	"fmt"
)

// ValidationError marks bad user input (time spec, interval, day token,
// unknown timezone). It is returned to the caller synchronously, never
// retried and never logged as a system failure.
type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string { return e.msg }

// Validationf builds a ValidationError.
func Validationf(format string, args ...any) error {
	return &ValidationError{msg: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
