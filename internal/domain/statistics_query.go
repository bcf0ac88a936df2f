package domain

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultListLimit is applied when a list query carries no limit.
	DefaultListLimit = 10
	// MaxListLimit caps the page size of a list query.
	MaxListLimit = 1000
	// MaxSearchLength caps free-text search input, in characters.
	MaxSearchLength = 200
)

var dateOnlyPattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

var timeBoundLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
}

// Granularity is the bucket size of a summary time series.
type Granularity string

const (
	GranularityDay  Granularity = "day"
	GranularityHour Granularity = "hour"
)

// ParseGranularity converts free text into a Granularity.
func ParseGranularity(value string) (Granularity, error) {
	switch Granularity(value) {
	case GranularityDay, GranularityHour:
		return Granularity(value), nil
	default:
		return "", fmt.Errorf("groupBy must be one of day, hour")
	}
}

// NormalizeToBound expands a date-only upper bound to the last millisecond of
// that day so the whole day is included. Date-times are validated and returned
// unchanged.
func NormalizeToBound(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if dateOnlyPattern.MatchString(trimmed) {
		if _, err := time.Parse("2006-01-02", trimmed); err != nil {
			return "", fmt.Errorf("invalid date %q", raw)
		}
		return trimmed + "T23:59:59.999Z", nil
	}
	if _, err := parseDateTime(trimmed); err != nil {
		return "", err
	}
	return trimmed, nil
}

// ParseFromBound parses an inclusive lower bound. A date-only value means the
// start of that day in UTC.
func ParseFromBound(raw string) (time.Time, error) {
	trimmed := strings.TrimSpace(raw)
	if dateOnlyPattern.MatchString(trimmed) {
		parsed, err := time.Parse("2006-01-02", trimmed)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid date %q", raw)
		}
		return parsed.UTC(), nil
	}
	return parseDateTime(trimmed)
}

// ParseToBound parses an inclusive upper bound after NormalizeToBound.
func ParseToBound(raw string) (time.Time, error) {
	normalized, err := NormalizeToBound(raw)
	if err != nil {
		return time.Time{}, err
	}
	return parseDateTime(normalized)
}

func parseDateTime(value string) (time.Time, error) {
	for _, layout := range timeBoundLayouts {
		if parsed, err := time.Parse(layout, value); err == nil {
			return parsed.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid ISO-8601 date %q", value)
}

// NormalizeSearch trims free text and caps it at MaxSearchLength characters.
func NormalizeSearch(raw string) string {
	trimmed := strings.TrimSpace(raw)
	runes := []rune(trimmed)
	if len(runes) > MaxSearchLength {
		trimmed = strings.TrimSpace(string(runes[:MaxSearchLength]))
	}
	return trimmed
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// EscapeLikePattern escapes the pattern-matching wildcards of a search term so
// it only ever matches literally.
func EscapeLikePattern(term string) string {
	return likeEscaper.Replace(term)
}

// ContainsPattern wraps an escaped term in wildcards for a substring match.
func ContainsPattern(term string) string {
	return "%" + EscapeLikePattern(term) + "%"
}

// ListFilter carries the caller-facing filters of a statistics list query.
// Identifiers are original (primary) ids.
type ListFilter struct {
	ClientID   *string
	AgentID    *string
	From       *time.Time
	To         *time.Time
	Search     string
	Direction  string
	FilterType string
	EntityType *EntityType
	EventType  *EventType
	Limit      int
	Offset     int
}

// Normalized applies pagination defaults and search normalisation.
func (f ListFilter) Normalized() ListFilter {
	if f.Limit <= 0 {
		f.Limit = DefaultListLimit
	}
	if f.Limit > MaxListLimit {
		f.Limit = MaxListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	f.Search = NormalizeSearch(f.Search)
	return f
}

// SummaryFilter carries the caller-facing filters of a summary query.
type SummaryFilter struct {
	ClientID *string
	AgentID  *string
	From     *time.Time
	To       *time.Time
	GroupBy  *Granularity
}

// ActivityQuery is a list query over an activity table, already scoped to a set
// of shadow clients.
type ActivityQuery struct {
	ShadowClientIDs []uuid.UUID
	AgentID         *string
	From            *time.Time
	To              *time.Time
	Search          string
	Direction       string
	FilterType      string
	Limit           int
	Offset          int
}

// EntityEventQuery is a list query over the entity event log. IncludeUnscoped
// additionally matches events that reference no client-owned shadow row.
type EntityEventQuery struct {
	ShadowClientIDs []uuid.UUID
	IncludeUnscoped bool
	AgentID         *string
	From            *time.Time
	To              *time.Time
	Search          string
	EntityType      *EntityType
	EventType       *EventType
	Limit           int
	Offset          int
}

// SummaryQuery scopes an aggregate query.
type SummaryQuery struct {
	ShadowClientIDs []uuid.UUID
	AgentID         *string
	From            *time.Time
	To              *time.Time
}
