package domain

import (
	"encoding/json"
	"time"
)

// ChatTotals aggregates chat I/O volume.
type ChatTotals struct {
	MessageCount int64
	WordCount    int64
	CharCount    int64
}

// FilterBreakdown counts filter records per (filter type, direction).
type FilterBreakdown struct {
	FilterType string          `json:"filterType"`
	Direction  FilterDirection `json:"direction"`
	Count      int64           `json:"count"`
}

// TimeSeriesPoint is one bucket of a chat I/O time series.
type TimeSeriesPoint struct {
	Period    time.Time `json:"period"`
	Count     int64     `json:"count"`
	WordCount int64     `json:"wordCount"`
	CharCount int64     `json:"charCount"`
}

// Summary is the aggregate statistics DTO.
type Summary struct {
	TotalMessages         int64             `json:"totalMessages"`
	TotalWords            int64             `json:"totalWords"`
	TotalChars            int64             `json:"totalChars"`
	AvgWordsPerMessage    float64           `json:"avgWordsPerMessage"`
	FilterDropCount       int64             `json:"filterDropCount"`
	FilterDropBreakdown   []FilterBreakdown `json:"filterDropBreakdown"`
	UniqueFilterTypes     []string          `json:"uniqueFilterTypes"`
	FilterFlagCount       int64             `json:"filterFlagCount"`
	FilterFlagBreakdown   []FilterBreakdown `json:"filterFlagBreakdown"`
	UniqueFlagFilterTypes []string          `json:"uniqueFlagFilterTypes"`
	TimeSeries            []TimeSeriesPoint `json:"timeSeries"`
}

// MarshalJSON omits timeSeries when no grouping was requested and keeps an
// empty array when one was.
func (s Summary) MarshalJSON() ([]byte, error) {
	type plain Summary
	var series *[]TimeSeriesPoint
	if s.TimeSeries != nil {
		series = &s.TimeSeries
	}
	return json.Marshal(struct {
		plain
		TimeSeries *[]TimeSeriesPoint `json:"timeSeries,omitempty"`
	}{plain: plain(s), TimeSeries: series})
}

// EmptySummary returns an all-zero summary with non-nil collections.
func EmptySummary() Summary {
	return Summary{
		FilterDropBreakdown:   []FilterBreakdown{},
		UniqueFilterTypes:     []string{},
		FilterFlagBreakdown:   []FilterBreakdown{},
		UniqueFlagFilterTypes: []string{},
	}
}

// Page is the paginated list DTO.
type Page[T any] struct {
	Data   []T   `json:"data"`
	Total  int64 `json:"total"`
	Limit  int   `json:"limit"`
	Offset int   `json:"offset"`
}

// EmptyPage returns a page without rows for the given pagination.
func EmptyPage[T any](limit, offset int) Page[T] {
	return Page[T]{Data: []T{}, Total: 0, Limit: limit, Offset: offset}
}
