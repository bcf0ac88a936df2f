package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/rpattn/agentstats/internal/domain"

	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"
)

// stubSource serves a fixed number of chat rows and records the pages asked for.
type stubSource struct {
	total   int
	err     error
	filters []domain.ListFilter
}

func (s *stubSource) ListChatIO(_ context.Context, _ domain.Identity, filter domain.ListFilter) (domain.Page[domain.ChatIOView], error) {
	s.filters = append(s.filters, filter)
	if s.err != nil {
		return domain.Page[domain.ChatIOView]{}, s.err
	}
	page := domain.Page[domain.ChatIOView]{Data: []domain.ChatIOView{}, Total: int64(s.total), Limit: filter.Limit, Offset: filter.Offset}
	for i := filter.Offset; i < s.total && i < filter.Offset+filter.Limit; i++ {
		agent := fmt.Sprintf("agent-%d", i)
		page.Data = append(page.Data, domain.ChatIOView{
			ID:         fmt.Sprintf("row-%d", i),
			Direction:  domain.ChatDirectionInput,
			WordCount:  i,
			CharCount:  i * 5,
			OccurredAt: time.Date(2024, 1, 1, 0, 0, i, 0, time.UTC),
			ClientID:   "c1",
			ClientName: "Acme",
			AgentID:    &agent,
		})
	}
	return page, nil
}

func (s *stubSource) ListFilterDrops(context.Context, domain.Identity, domain.ListFilter) (domain.Page[domain.FilterRecordView], error) {
	return domain.EmptyPage[domain.FilterRecordView](10, 0), nil
}

func (s *stubSource) ListFilterFlags(context.Context, domain.Identity, domain.ListFilter) (domain.Page[domain.FilterRecordView], error) {
	reason := "contains, a comma"
	return domain.Page[domain.FilterRecordView]{
		Data:  []domain.FilterRecordView{{ID: "f1", Direction: domain.FilterDirectionOutgoing, FilterType: "pii", FilterDisplayName: "PII", FilterReason: &reason, ClientID: "c1"}},
		Total: 1,
	}, nil
}

func (s *stubSource) ListEntityEvents(context.Context, domain.Identity, domain.ListFilter) (domain.Page[domain.EntityEventView], error) {
	return domain.EmptyPage[domain.EntityEventView](10, 0), nil
}

func TestCollectPagesUntilExhausted(t *testing.T) {
	source := &stubSource{total: 7}
	svc := NewService(source, zerolog.Nop(), WithPageSize(3))

	table, err := svc.Collect(context.Background(), Request{Kind: KindChatIO, Filter: domain.ListFilter{Offset: 4}})
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if len(table.Rows) != 7 || table.Truncated {
		t.Fatalf("expected 7 untruncated rows, got %d (truncated=%v)", len(table.Rows), table.Truncated)
	}
	var offsets []int
	for _, f := range source.filters {
		offsets = append(offsets, f.Offset)
	}
	if fmt.Sprint(offsets) != "[0 3 6]" {
		t.Fatalf("unexpected page offsets %v", offsets)
	}
}

func TestCollectStopsAtMaxRows(t *testing.T) {
	source := &stubSource{total: 50}
	svc := NewService(source, zerolog.Nop(), WithPageSize(4), WithMaxRows(10))

	table, err := svc.Collect(context.Background(), Request{Kind: KindChatIO})
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if len(table.Rows) != 10 || !table.Truncated || table.Total != 50 {
		t.Fatalf("expected 10 of 50 rows truncated, got %d of %d (truncated=%v)", len(table.Rows), table.Total, table.Truncated)
	}
	if last := source.filters[len(source.filters)-1]; last.Limit != 2 {
		t.Fatalf("expected the last page to ask for the remaining 2 rows, got %d", last.Limit)
	}
}

func TestCollectPropagatesSourceErrors(t *testing.T) {
	denied := errors.New("access denied")
	svc := NewService(&stubSource{err: denied}, zerolog.Nop())
	if _, err := svc.Collect(context.Background(), Request{Kind: KindChatIO}); !errors.Is(err, denied) {
		t.Fatalf("expected source error, got %v", err)
	}
	if _, err := svc.Collect(context.Background(), Request{Kind: "servers"}); !errors.Is(err, ErrUnsupportedKind) {
		t.Fatalf("expected unsupported kind, got %v", err)
	}
}

func TestWriteXLSX(t *testing.T) {
	svc := NewService(&stubSource{total: 2}, zerolog.Nop())
	table, err := svc.Collect(context.Background(), Request{Kind: KindChatIO})
	if err != nil {
		t.Fatalf("collect: %v", err)
	}

	var buf bytes.Buffer
	if err := svc.Write(&buf, table, FormatXLSX); err != nil {
		t.Fatalf("write: %v", err)
	}

	f, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatalf("open workbook: %v", err)
	}
	defer f.Close()
	rows, err := f.GetRows(string(KindChatIO))
	if err != nil {
		t.Fatalf("get rows: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected header plus 2 rows, got %d", len(rows))
	}
	if rows[0][0] != "id" || rows[0][3] != "wordCount" {
		t.Fatalf("unexpected header %v", rows[0])
	}
	if rows[2][0] != "row-1" || rows[2][1] != "2024-01-01T00:00:01Z" || rows[2][4] != "5" || rows[2][7] != "agent-1" {
		t.Fatalf("unexpected row %v", rows[2])
	}
}

func TestWriteCSV(t *testing.T) {
	svc := NewService(&stubSource{}, zerolog.Nop())
	table, err := svc.Collect(context.Background(), Request{Kind: KindFilterFlags})
	if err != nil {
		t.Fatalf("collect: %v", err)
	}

	var buf bytes.Buffer
	if err := svc.Write(&buf, table, FormatCSV); err != nil {
		t.Fatalf("write: %v", err)
	}
	records, err := csv.NewReader(strings.NewReader(buf.String())).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected header plus 1 row, got %d", len(records))
	}
	if records[1][5] != "contains, a comma" || records[1][10] != "" {
		t.Fatalf("unexpected row %v", records[1])
	}
}

func TestFileNameAndFormat(t *testing.T) {
	svc := NewService(&stubSource{}, zerolog.Nop(), WithClock(func() time.Time {
		return time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)
	}))
	if got := svc.FileName(KindFilterDrops, FormatXLSX); got != "statistics-filter-drops-20240301T123000Z.xlsx" {
		t.Fatalf("unexpected file name %q", got)
	}
	if _, err := ParseFormat("pdf"); err == nil {
		t.Fatalf("expected pdf to be rejected")
	}
	if format, _ := ParseFormat(""); format != FormatXLSX {
		t.Fatalf("expected xlsx default, got %q", format)
	}
}
