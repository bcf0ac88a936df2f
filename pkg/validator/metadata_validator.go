// Package validator checks the loosely typed metadata bags handed to the
// statistics recorder against per-entity-type field definitions.
package validator

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// FieldType is the expected shape of one metadata value.
type FieldType string

const (
	FieldTypeString     FieldType = "STRING"
	FieldTypeReference  FieldType = "REFERENCE"
	FieldTypeIdentifier FieldType = "IDENTIFIER"
	FieldTypeInteger    FieldType = "INTEGER"
	FieldTypeBoolean    FieldType = "BOOLEAN"
	FieldTypeTimestamp  FieldType = "TIMESTAMP"
	FieldTypeJSON       FieldType = "JSON"
)

// FieldDefinition represents a field definition for validation
type FieldDefinition struct {
	Type        FieldType `json:"type"`
	Required    bool      `json:"required"`
	Description string    `json:"description,omitempty"`
}

// ValidationError represents a validation error
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Value   any    `json:"value,omitempty"`
}

// ValidationResult represents the result of validation
type ValidationResult struct {
	IsValid bool              `json:"is_valid"`
	Errors  []ValidationError `json:"errors"`
}

// Err folds the result into a single error, or nil when valid.
func (r ValidationResult) Err() error {
	if r.IsValid {
		return nil
	}
	messages := make([]string, len(r.Errors))
	for i, e := range r.Errors {
		messages[i] = e.Message
	}
	return fmt.Errorf("invalid metadata: %s", strings.Join(messages, "; "))
}

// MetadataValidator validates metadata bags. Unknown keys are allowed: the bag
// is open-ended and gets sanitized separately.
type MetadataValidator struct {
	definitions map[string]map[string]FieldDefinition
}

// NewMetadataValidator creates a validator with the given definitions keyed by
// entity type.
func NewMetadataValidator(definitions map[string]map[string]FieldDefinition) *MetadataValidator {
	return &MetadataValidator{definitions: definitions}
}

// Validate checks metadata for entityType. Entity types without definitions
// always validate.
func (mv *MetadataValidator) Validate(entityType string, metadata map[string]any) ValidationResult {
	return mv.ValidateFields(metadata, mv.definitions[entityType])
}

// ValidateFields checks metadata against fieldDefinitions. Every violation is
// reported, ordered by field name.
func (mv *MetadataValidator) ValidateFields(metadata map[string]any, fieldDefinitions map[string]FieldDefinition) ValidationResult {
	names := make([]string, 0, len(fieldDefinitions))
	for name := range fieldDefinitions {
		names = append(names, name)
	}
	sort.Strings(names)

	var errs []ValidationError
	for _, name := range names {
		def := fieldDefinitions[name]
		value := metadata[name]
		if value == nil {
			if def.Required {
				errs = append(errs, ValidationError{Field: name, Message: fmt.Sprintf("required field '%s' is missing", name)})
			}
			continue
		}
		check, ok := fieldCheckers[def.Type]
		if !ok {
			errs = append(errs, ValidationError{Field: name, Message: fmt.Sprintf("unknown field type %s for '%s'", def.Type, name)})
			continue
		}
		if problem := check(value); problem != "" {
			errs = append(errs, ValidationError{Field: name, Message: fmt.Sprintf("field '%s' %s", name, problem), Value: value})
		}
	}

	return ValidationResult{IsValid: len(errs) == 0, Errors: append([]ValidationError{}, errs...)}
}

// fieldCheckers return an empty string for an acceptable value and otherwise
// the reason it was rejected.
var fieldCheckers = map[FieldType]func(value any) string{
	FieldTypeString: func(value any) string {
		if _, ok := value.(string); !ok {
			return fmt.Sprintf("must be a string, got %T", value)
		}
		return ""
	},
	FieldTypeReference: func(value any) string {
		ref, ok := value.(string)
		if !ok || strings.TrimSpace(ref) == "" {
			return "must be a non-empty reference string"
		}
		return ""
	},
	FieldTypeIdentifier: func(value any) string {
		if id, ok := value.(string); ok {
			if strings.TrimSpace(id) == "" {
				return "must be a non-empty identifier"
			}
			return ""
		}
		if !integral(value) {
			return fmt.Sprintf("must be a string or integer identifier, got %T", value)
		}
		return ""
	},
	FieldTypeInteger: func(value any) string {
		if !integral(value) {
			return fmt.Sprintf("must be an integer, got %T", value)
		}
		return ""
	},
	FieldTypeBoolean: func(value any) string {
		if _, ok := value.(bool); !ok {
			return fmt.Sprintf("must be a boolean, got %T", value)
		}
		return ""
	},
	FieldTypeTimestamp: func(value any) string {
		switch v := value.(type) {
		case time.Time:
			return ""
		case string:
			if _, err := time.Parse(time.RFC3339, v); err != nil {
				return "must be an RFC3339 timestamp"
			}
			return ""
		default:
			return fmt.Sprintf("must be a timestamp string, got %T", value)
		}
	},
	FieldTypeJSON: func(value any) string {
		if _, err := json.Marshal(value); err != nil {
			return "is not representable as JSON"
		}
		return ""
	},
}

// integral accepts Go integers, whole float64s (the shape JSON numbers decode
// to), json.Number and decimal strings.
func integral(value any) bool {
	switch v := value.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return true
	case float64:
		return v == float64(int64(v))
	case json.Number:
		_, err := v.Int64()
		return err == nil
	case string:
		_, err := strconv.ParseInt(v, 10, 64)
		return err == nil
	}
	return false
}

// StringValue returns metadata[key] as a trimmed string. Numbers are rendered
// in their decimal form so numeric identifiers survive.
func StringValue(metadata map[string]any, key string) (string, bool) {
	raw, ok := metadata[key]
	if !ok || raw == nil {
		return "", false
	}
	switch v := raw.(type) {
	case string:
		trimmed := strings.TrimSpace(v)
		return trimmed, trimmed != ""
	case json.Number:
		return v.String(), true
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case int:
		return strconv.Itoa(v), true
	case int64:
		return strconv.FormatInt(v, 10), true
	default:
		return fmt.Sprint(v), true
	}
}

// StringPointer is StringValue returning nil when the key is absent or empty.
func StringPointer(metadata map[string]any, key string) *string {
	if value, ok := StringValue(metadata, key); ok {
		return &value
	}
	return nil
}
