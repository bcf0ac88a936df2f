package domain

import (
	"errors"
	"strings"
)

// ValidationError describes one invalid request field.
type ValidationError struct {
	Field  string `json:"field"`
	Detail string `json:"detail"`
}

func (e ValidationError) Error() string {
	return e.Field + ": " + e.Detail
}

// ValidationErrors collects every invalid field of a request so they can be
// reported in one response.
type ValidationErrors []ValidationError

func (v ValidationErrors) Error() string {
	parts := make([]string, len(v))
	for i, err := range v {
		parts[i] = err.Error()
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// AsValidationErrors extracts ValidationErrors from err, if present.
func AsValidationErrors(err error) (ValidationErrors, bool) {
	var many ValidationErrors
	if errors.As(err, &many) {
		return many, true
	}
	var one ValidationError
	if errors.As(err, &one) {
		return ValidationErrors{one}, true
	}
	return nil, false
}
