// Package export renders statistics list queries as spreadsheet downloads.
package export

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rpattn/agentstats/internal/domain"

	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"
)

// DefaultMaxRows caps an export when no limit is configured.
const DefaultMaxRows = 10000

// ErrUnsupportedKind is returned for an unknown export kind.
var ErrUnsupportedKind = errors.New("unsupported export kind")

// Kind names the list query being exported.
type Kind string

const (
	KindChatIO       Kind = "chat-io"
	KindFilterDrops  Kind = "filter-drops"
	KindFilterFlags  Kind = "filter-flags"
	KindEntityEvents Kind = "entity-events"
)

// ParseKind converts a path segment into a Kind.
func ParseKind(value string) (Kind, error) {
	switch Kind(value) {
	case KindChatIO, KindFilterDrops, KindFilterFlags, KindEntityEvents:
		return Kind(value), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedKind, value)
	}
}

// Format is the file format of an export.
type Format string

const (
	FormatXLSX Format = "xlsx"
	FormatCSV  Format = "csv"
)

// ParseFormat converts free text into a Format; empty means xlsx.
func ParseFormat(value string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(value))) {
	case "", FormatXLSX:
		return FormatXLSX, nil
	case FormatCSV:
		return FormatCSV, nil
	default:
		return "", fmt.Errorf("format must be one of xlsx, csv")
	}
}

// ContentType returns the MIME type of f.
func (f Format) ContentType() string {
	if f == FormatCSV {
		return "text/csv; charset=utf-8"
	}
	return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
}

// Source serves the list queries being exported.
type Source interface {
	ListChatIO(ctx context.Context, identity domain.Identity, filter domain.ListFilter) (domain.Page[domain.ChatIOView], error)
	ListFilterDrops(ctx context.Context, identity domain.Identity, filter domain.ListFilter) (domain.Page[domain.FilterRecordView], error)
	ListFilterFlags(ctx context.Context, identity domain.Identity, filter domain.ListFilter) (domain.Page[domain.FilterRecordView], error)
	ListEntityEvents(ctx context.Context, identity domain.Identity, filter domain.ListFilter) (domain.Page[domain.EntityEventView], error)
}

type Service struct {
	source   Source
	maxRows  int
	pageSize int
	now      func() time.Time
	logger   zerolog.Logger
}

type Option func(*Service)

func WithMaxRows(rows int) Option {
	return func(s *Service) {
		if rows > 0 {
			s.maxRows = rows
		}
	}
}

func WithPageSize(size int) Option {
	return func(s *Service) {
		if size > 0 && size <= domain.MaxListLimit {
			s.pageSize = size
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func NewService(source Source, logger zerolog.Logger, opts ...Option) *Service {
	service := &Service{
		source:   source,
		maxRows:  DefaultMaxRows,
		pageSize: domain.MaxListLimit,
		now:      time.Now,
		logger:   logger.With().Str("component", "export").Logger(),
	}
	for _, opt := range opts {
		opt(service)
	}
	return service
}

// Request describes one export.
type Request struct {
	Identity domain.Identity
	Kind     Kind
	Format   Format
	Filter   domain.ListFilter
}

// Table is the materialized content of an export.
type Table struct {
	Kind      Kind
	Headers   []string
	Rows      [][]any
	Total     int64
	Truncated bool
}

// Collect pages through the list query of req until every match or the row
// cap is reached. Nothing is written, so access and validation errors
// surface before any output.
func (s *Service) Collect(ctx context.Context, req Request) (Table, error) {
	table := Table{Kind: req.Kind, Headers: headersFor(req.Kind)}
	if table.Headers == nil {
		return Table{}, fmt.Errorf("%w: %q", ErrUnsupportedKind, req.Kind)
	}

	filter := req.Filter
	filter.Offset = 0
	for {
		if err := ctx.Err(); err != nil {
			return Table{}, err
		}
		filter.Limit = min(s.pageSize, s.maxRows-len(table.Rows))

		rows, total, err := s.page(ctx, req.Kind, req.Identity, filter)
		if err != nil {
			return Table{}, err
		}
		table.Total = total
		table.Rows = append(table.Rows, rows...)

		if len(rows) < filter.Limit || int64(filter.Offset+len(rows)) >= total {
			break
		}
		if len(table.Rows) >= s.maxRows {
			table.Truncated = total > int64(len(table.Rows))
			break
		}
		filter.Offset += len(rows)
	}

	if table.Truncated {
		s.logger.Warn().
			Str("kind", string(req.Kind)).
			Int64("total", table.Total).
			Int("max_rows", s.maxRows).
			Msg("export truncated")
	}
	return table, nil
}

// Write renders table in format to w.
func (s *Service) Write(w io.Writer, table Table, format Format) error {
	if format == FormatCSV {
		return writeCSV(w, table)
	}
	return writeXLSX(w, table)
}

// FileName returns the download name of an export of kind.
func (s *Service) FileName(kind Kind, format Format) string {
	return fmt.Sprintf("statistics-%s-%s.%s", sanitizeFileComponent(string(kind)), s.now().UTC().Format("20060102T150405Z"), format)
}

func headersFor(kind Kind) []string {
	switch kind {
	case KindChatIO:
		return []string{"id", "occurredAt", "direction", "wordCount", "charCount", "clientId", "clientName", "agentId", "agentName", "userId"}
	case KindFilterDrops, KindFilterFlags:
		return []string{"id", "occurredAt", "direction", "filterType", "filterDisplayName", "filterReason", "wordCount", "charCount", "clientId", "clientName", "agentId", "agentName", "userId"}
	case KindEntityEvents:
		return []string{"id", "occurredAt", "eventType", "entityType", "entityId", "clientId", "clientName", "agentName", "actingUserId"}
	default:
		return nil
	}
}

func (s *Service) page(ctx context.Context, kind Kind, identity domain.Identity, filter domain.ListFilter) ([][]any, int64, error) {
	switch kind {
	case KindChatIO:
		page, err := s.source.ListChatIO(ctx, identity, filter)
		if err != nil {
			return nil, 0, err
		}
		rows := make([][]any, 0, len(page.Data))
		for _, v := range page.Data {
			rows = append(rows, []any{v.ID, v.OccurredAt, string(v.Direction), v.WordCount, v.CharCount, v.ClientID, v.ClientName, v.AgentID, v.AgentName, v.UserID})
		}
		return rows, page.Total, nil
	case KindFilterDrops, KindFilterFlags:
		list := s.source.ListFilterDrops
		if kind == KindFilterFlags {
			list = s.source.ListFilterFlags
		}
		page, err := list(ctx, identity, filter)
		if err != nil {
			return nil, 0, err
		}
		rows := make([][]any, 0, len(page.Data))
		for _, v := range page.Data {
			rows = append(rows, []any{v.ID, v.OccurredAt, string(v.Direction), v.FilterType, v.FilterDisplayName, v.FilterReason, v.WordCount, v.CharCount, v.ClientID, v.ClientName, v.AgentID, v.AgentName, v.UserID})
		}
		return rows, page.Total, nil
	case KindEntityEvents:
		page, err := s.source.ListEntityEvents(ctx, identity, filter)
		if err != nil {
			return nil, 0, err
		}
		rows := make([][]any, 0, len(page.Data))
		for _, v := range page.Data {
			rows = append(rows, []any{v.ID, v.OccurredAt, string(v.EventType), string(v.EntityType), v.OriginalEntityID, v.ClientID, v.ClientName, v.AgentName, v.ActingUserID})
		}
		return rows, page.Total, nil
	default:
		return nil, 0, fmt.Errorf("%w: %q", ErrUnsupportedKind, kind)
	}
}

func writeXLSX(w io.Writer, table Table) error {
	f := excelize.NewFile()
	defer f.Close()

	sheet := string(table.Kind)
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	sw, err := f.NewStreamWriter(sheet)
	if err != nil {
		return fmt.Errorf("create stream writer: %w", err)
	}

	header := make([]any, len(table.Headers))
	for i, h := range table.Headers {
		header[i] = h
	}
	if err := sw.SetRow("A1", header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for i, row := range table.Rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		values := make([]any, len(row))
		for j, value := range row {
			values[j] = cellValue(value)
		}
		if err := sw.SetRow(cell, values); err != nil {
			return fmt.Errorf("write row %d: %w", i+1, err)
		}
	}
	if err := sw.Flush(); err != nil {
		return fmt.Errorf("flush sheet: %w", err)
	}
	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func writeCSV(w io.Writer, table Table) error {
	csvWriter := csv.NewWriter(w)
	if err := csvWriter.Write(table.Headers); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	record := make([]string, len(table.Headers))
	for _, row := range table.Rows {
		for i, value := range row {
			record[i] = formatValue(value)
		}
		if err := csvWriter.Write(record); err != nil {
			return fmt.Errorf("write row: %w", err)
		}
	}
	csvWriter.Flush()
	return csvWriter.Error()
}

// cellValue keeps numbers numeric in the sheet and renders everything else
// as text.
func cellValue(value any) any {
	switch v := value.(type) {
	case int, int64:
		return v
	default:
		return formatValue(v)
	}
}

func formatValue(value any) string {
	if value == nil {
		return ""
	}
	switch v := value.(type) {
	case string:
		return v
	case *string:
		if v == nil {
			return ""
		}
		return *v
	case time.Time:
		return v.UTC().Format(time.RFC3339Nano)
	case fmt.Stringer:
		return v.String()
	case bool:
		if v {
			return "true"
		}
		return "false"
	case json.Number:
		return v.String()
	case int, int32, int64, float64:
		return fmt.Sprintf("%v", v)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func sanitizeFileComponent(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	builder := strings.Builder{}
	for _, r := range value {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-' || r == '_':
			builder.WriteRune(r)
		default:
			builder.WriteRune('-')
		}
	}
	result := strings.Trim(builder.String(), "-")
	if result == "" {
		return "export"
	}
	return result
}
