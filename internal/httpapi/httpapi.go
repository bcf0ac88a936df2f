// Package httpapi serves the statistics read endpoints and the recording
// endpoints used by out-of-process producers.
package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/rpattn/agentstats/internal/domain"
	"github.com/rpattn/agentstats/internal/export"
	"github.com/rpattn/agentstats/internal/statistics"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

// A single validator instance is used, because it caches struct parsing.
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Response is the body of every non-data response.
type Response struct {
	Message     string                   `json:"message"`
	Validations []domain.ValidationError `json:"validations,omitempty"`
}

// Write outputs a JSON response body.
func Write(rw http.ResponseWriter, status int, response any) {
	buf := &bytes.Buffer{}
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(true)
	if err := enc.Encode(response); err != nil {
		http.Error(rw, err.Error(), http.StatusInternalServerError)
		return
	}
	rw.Header().Set("Content-Type", "application/json; charset=utf-8")
	rw.WriteHeader(status)
	_, _ = rw.Write(buf.Bytes())
}

// Read decodes a JSON body into value and validates it. It writes the error
// response itself and reports whether the handler may continue.
func Read(rw http.ResponseWriter, r *http.Request, value any) bool {
	if err := json.NewDecoder(r.Body).Decode(value); err != nil {
		Write(rw, http.StatusBadRequest, Response{
			Message: fmt.Sprintf("read body: %s", err.Error()),
		})
		return false
	}
	err := validate.Struct(value)
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		details := make([]domain.ValidationError, 0, len(validationErrors))
		for _, validationError := range validationErrors {
			details = append(details, domain.ValidationError{
				Field:  validationError.Field(),
				Detail: fmt.Sprintf("Validation failed for tag %q with value: \"%v\"", validationError.Tag(), validationError.Value()),
			})
		}
		Write(rw, http.StatusBadRequest, Response{
			Message:     "Validation failed",
			Validations: details,
		})
		return false
	}
	if err != nil {
		Write(rw, http.StatusInternalServerError, Response{
			Message: fmt.Sprintf("validation: %s", err.Error()),
		})
		return false
	}
	return true
}

// writeError maps service errors onto status codes. Unexpected errors are
// logged and answered with a generic message.
func writeError(rw http.ResponseWriter, logger zerolog.Logger, r *http.Request, err error) {
	if validations, ok := domain.AsValidationErrors(err); ok {
		Write(rw, http.StatusBadRequest, Response{Message: "Validation failed", Validations: validations})
		return
	}
	switch {
	case errors.Is(err, statistics.ErrAccessDenied):
		Write(rw, http.StatusForbidden, Response{Message: "forbidden"})
	case errors.Is(err, export.ErrUnsupportedKind):
		Write(rw, http.StatusNotFound, Response{Message: "unknown export"})
	default:
		logger.Error().Err(err).Str("method", r.Method).Str("path", r.URL.Path).Msg("statistics request failed")
		Write(rw, http.StatusInternalServerError, Response{Message: "internal error"})
	}
}
