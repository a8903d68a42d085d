package core

import "github.com/pkg/errors"

// FieldError is used to indicate an error with a specific struct field.
type FieldError struct {
	Field string
	Error string
}

// ValidationError is an input error the caller can fix. It is never a partial operation.
type ValidationError struct {
	Err    error
	Fields []FieldError
}

func NewValidationError(err error, flds ...FieldError) error {
	return &ValidationError{err, flds}
}

// NewFieldError is a ValidationError on the `fields` sharing the same message.
func NewFieldError(msg string, fields ...string) error {
	flds := make([]FieldError, 0, len(fields))
	for _, f := range fields {
		flds = append(flds, FieldError{Field: f, Error: msg})
	}
	return &ValidationError{errors.New(msg), flds}
}

func (err ValidationError) Error() string {
	if err.Err == nil {
		return ""
	}
	return err.Err.Error()
}

// AsValidationError extracts the ValidationError from a wrapped error.
func AsValidationError(err error) (*ValidationError, bool) {
	verr, ok := errors.Cause(err).(*ValidationError)
	return verr, ok
}

type shutdown struct {
	message string
}

func NewShutdownError(msg string) error {
	return &shutdown{message: msg}
}

func (s shutdown) Error() string {
	return s.message
}

func IsShutdown(err error) bool {
	_, ok := errors.Cause(err).(*shutdown)
	return ok
}
