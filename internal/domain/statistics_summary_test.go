package domain

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestSummaryJSONTimeSeries(t *testing.T) {
	ungrouped, err := json.Marshal(EmptySummary())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Contains(string(ungrouped), "timeSeries") {
		t.Fatalf("expected no timeSeries without grouping, got %s", ungrouped)
	}

	grouped := EmptySummary()
	grouped.TimeSeries = []TimeSeriesPoint{}
	body, err := json.Marshal(grouped)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(string(body), `"timeSeries":[]`) {
		t.Fatalf("expected empty timeSeries array, got %s", body)
	}
	if !strings.Contains(string(body), `"filterDropBreakdown":[]`) {
		t.Fatalf("expected the remaining fields to encode, got %s", body)
	}

	var decoded Summary
	if err := json.Unmarshal(body, &decoded); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decoded.TimeSeries == nil || len(decoded.TimeSeries) != 0 {
		t.Fatalf("expected empty decoded series, got %#v", decoded.TimeSeries)
	}
}
