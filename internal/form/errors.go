package form

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Validation failure codes. A *ValidationError matches exactly one of these
// with errors.Is.
var (
	ErrMissingField      = errors.New("missing_field")
	ErrInvalidKind       = errors.New("invalid_kind")
	ErrTooShort          = errors.New("too_short")
	ErrTooLong           = errors.New("too_long")
	ErrNewlineNotAllowed = errors.New("newline_not_allowed")
	ErrTooSmall          = errors.New("too_small")
	ErrTooLarge          = errors.New("too_large")
	ErrInvalidOption     = errors.New("invalid_option")
	ErrTooFewOptions     = errors.New("too_few_options")
	ErrTooManyOptions    = errors.New("too_many_options")
	ErrTooManyFiles      = errors.New("too_many_files")
)

// ValidationError reports the first rule a submission broke.
type ValidationError struct {
	Code    error     // one of the Err* codes above
	FieldID uuid.UUID // offending field
	Bound   int64     // violated bound, for length/number/count codes
	Value   string    // offending option, for ErrInvalidOption
}

func (e *ValidationError) Error() string {
	switch e.Code {
	case ErrTooShort, ErrTooLong, ErrTooSmall, ErrTooLarge,
		ErrTooFewOptions, ErrTooManyOptions, ErrTooManyFiles:
		return fmt.Sprintf("field %s: %s (bound %d)", e.FieldID, e.Code, e.Bound)
	case ErrInvalidOption:
		return fmt.Sprintf("field %s: %s %q", e.FieldID, e.Code, e.Value)
	default:
		return fmt.Sprintf("field %s: %s", e.FieldID, e.Code)
	}
}

// Is matches the error's code.
func (e *ValidationError) Is(target error) bool {
	return e.Code == target
}

func fieldErr(code error, id uuid.UUID) *ValidationError {
	return &ValidationError{Code: code, FieldID: id}
}

func boundErr(code error, id uuid.UUID, bound int64) *ValidationError {
	return &ValidationError{Code: code, FieldID: id, Bound: bound}
}

func optionErr(id uuid.UUID, value string) *ValidationError {
	return &ValidationError{Code: ErrInvalidOption, FieldID: id, Value: value}
}
