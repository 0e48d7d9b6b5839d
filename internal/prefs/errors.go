package prefs

import "errors"

var (
	// ErrNotFound indicates no preference record exists for the user.
	ErrNotFound = errors.New("preferences not found")

	// ErrCategoryNotFound indicates the referenced category is not in the registry.
	ErrCategoryNotFound = errors.New("category not found")

	// ErrMandatoryCategory indicates an attempt to disable a category whose
	// allow-disable flag is false.
	ErrMandatoryCategory = errors.New("category cannot be disabled")

	// ErrInvalidToken indicates an unsubscribe token that resolves to no user.
	// Callers should surface it as a generic failure so the endpoint cannot be
	// used as an oracle for valid tokens.
	ErrInvalidToken = errors.New("invalid unsubscribe token")
)

// ValidationError marks a malformed update payload (bad time string,
// out-of-range day-of-week, unknown timezone).
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	return "invalid " + e.Field + ": " + e.Msg
}

// IsValidation reports whether err is a validation failure, including the
// mandatory-category case.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve) || errors.Is(err, ErrMandatoryCategory)
}
