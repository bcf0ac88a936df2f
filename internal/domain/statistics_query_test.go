package domain

import (
	"strings"
	"testing"
	"time"
)

func TestNormalizeToBoundExpandsDateOnly(t *testing.T) {
	got, err := NormalizeToBound("2024-01-01")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "2024-01-01T23:59:59.999Z" {
		t.Fatalf("expected end of day, got %q", got)
	}

	to, err := ParseToBound("2024-01-01")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	occurred := time.Date(2024, 1, 1, 23, 0, 0, 0, time.UTC)
	if occurred.After(to) {
		t.Fatalf("record at %s should fall within bound %s", occurred, to)
	}
}

func TestNormalizeToBoundKeepsDateTimes(t *testing.T) {
	got, err := NormalizeToBound("2024-01-01T10:00:00Z")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "2024-01-01T10:00:00Z" {
		t.Fatalf("date-time should be unchanged, got %q", got)
	}
}

func TestTimeBoundsRejectMalformedValues(t *testing.T) {
	for _, raw := range []string{"yesterday", "2024-13-01", "2024-01-01T25:00:00Z", ""} {
		if _, err := ParseToBound(raw); err == nil {
			t.Fatalf("expected error for to=%q", raw)
		}
		if _, err := ParseFromBound(raw); err == nil {
			t.Fatalf("expected error for from=%q", raw)
		}
	}
}

func TestParseFromBoundDateOnlyIsStartOfDay(t *testing.T) {
	got, err := ParseFromBound("2024-02-29")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.Equal(time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected lower bound %s", got)
	}
}

func TestNormalizeSearchCapsLength(t *testing.T) {
	long := "  " + strings.Repeat("ä", 250) + "  "
	got := NormalizeSearch(long)
	if n := len([]rune(got)); n != MaxSearchLength {
		t.Fatalf("expected %d characters, got %d", MaxSearchLength, n)
	}
}

func TestContainsPatternEscapesWildcards(t *testing.T) {
	cases := map[string]string{
		"100%":    `%100\%%`,
		"a_b":     `%a\_b%`,
		`back\sl`: `%back\\sl%`,
		"plain":   "%plain%",
	}
	for input, want := range cases {
		if got := ContainsPattern(input); got != want {
			t.Fatalf("ContainsPattern(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestListFilterNormalized(t *testing.T) {
	f := ListFilter{Limit: 0, Offset: -3, Search: "  hi  "}.Normalized()
	if f.Limit != DefaultListLimit || f.Offset != 0 || f.Search != "hi" {
		t.Fatalf("unexpected normalized filter: %+v", f)
	}
	f = ListFilter{Limit: 5000}.Normalized()
	if f.Limit != MaxListLimit {
		t.Fatalf("expected limit to be capped, got %d", f.Limit)
	}
}

func TestParseGranularity(t *testing.T) {
	if _, err := ParseGranularity("week"); err == nil {
		t.Fatalf("expected week to be rejected")
	}
	if g, err := ParseGranularity("hour"); err != nil || g != GranularityHour {
		t.Fatalf("unexpected result %q %v", g, err)
	}
}
