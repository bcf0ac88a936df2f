// Package sanitizer strips secret-shaped keys from semi-structured metadata
// before it is persisted next to statistics shadow rows.
package sanitizer

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strings"
)

const emptyObject = "{}"

// disallowedKeys are removed regardless of the pattern checks below.
var disallowedKeys = map[string]struct{}{
	"gitToken":             {},
	"gitPassword":          {},
	"cursorApiKey":         {},
	"keycloakClientSecret": {},
	"apiKey":               {},
	"token":                {},
	"secret":               {},
	"password":             {},
	"privateKey":           {},
	"clientSecret":         {},
}

var secretKeyPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)password`),
	regexp.MustCompile(`(?i)token`),
	regexp.MustCompile(`(?i)secret`),
	regexp.MustCompile(`(?i)key$`),
	regexp.MustCompile(`(?i)credential`),
}

// IsSecretKey reports whether a metadata key names a secret and must be dropped
// together with its whole subtree.
func IsSecretKey(key string) bool {
	if _, ok := disallowedKeys[key]; ok {
		return true
	}
	for _, pattern := range secretKeyPatterns {
		if pattern.MatchString(key) {
			return true
		}
	}
	return false
}

// Sanitize parses raw as a JSON object, removes every secret-shaped key at any
// depth and re-serializes the result. Anything that is not a JSON object
// (empty input, invalid JSON, arrays, scalars) yields "{}". It never fails.
func Sanitize(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return emptyObject
	}

	dec := json.NewDecoder(strings.NewReader(trimmed))
	dec.UseNumber()
	var parsed map[string]any
	if err := dec.Decode(&parsed); err != nil || parsed == nil {
		return emptyObject
	}
	// Trailing garbage after the object makes the document invalid.
	if dec.More() {
		return emptyObject
	}

	encoded, err := marshal(SanitizeMap(parsed))
	if err != nil {
		return emptyObject
	}
	return encoded
}

// SanitizeMap returns a copy of metadata without secret-shaped keys. Nested
// objects and arrays are walked recursively; scalars pass through unchanged.
func SanitizeMap(metadata map[string]any) map[string]any {
	out := make(map[string]any, len(metadata))
	for key, value := range metadata {
		if IsSecretKey(key) {
			continue
		}
		out[key] = sanitizeValue(value)
	}
	return out
}

// IsEmpty reports whether a sanitized document carries no keys at all.
func IsEmpty(sanitized string) bool {
	return strings.TrimSpace(sanitized) == emptyObject
}

func sanitizeValue(value any) any {
	switch typed := value.(type) {
	case map[string]any:
		return SanitizeMap(typed)
	case []any:
		out := make([]any, len(typed))
		for i, element := range typed {
			out[i] = sanitizeValue(element)
		}
		return out
	case []map[string]any:
		out := make([]any, len(typed))
		for i, element := range typed {
			out[i] = SanitizeMap(element)
		}
		return out
	default:
		return value
	}
}

func marshal(value map[string]any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(value); err != nil {
		return "", err
	}
	return strings.TrimRight(buf.String(), "\n"), nil
}
