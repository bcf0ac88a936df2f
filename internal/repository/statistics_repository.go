package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/rpattn/agentstats/internal/db"
	"github.com/rpattn/agentstats/internal/domain"

	"github.com/google/uuid"
)

type statisticsRepository struct {
	db db.DBTX
}

// NewStatisticsRepository creates the read-side repository for activity and
// event queries.
func NewStatisticsRepository(exec db.DBTX) StatisticsRepository {
	return &statisticsRepository{db: exec}
}

const chatIOColumns = "id, direction, word_count, char_count, occurred_at, statistics_client_id, statistics_agent_id, statistics_user_id"

const filterColumns = "id, direction, filter_type, filter_display_name, filter_reason, word_count, char_count, " +
	"occurred_at, statistics_client_id, statistics_agent_id, statistics_user_id"

const entityEventColumns = "e.id, e.event_type, e.entity_type, e.original_entity_id, e.occurred_at, " +
	"e.acting_statistics_user_id, e.statistics_users_id, e.statistics_clients_id, e.statistics_agents_id, " +
	"e.statistics_client_users_id, e.statistics_provisioning_references_id"

func (r *statisticsRepository) ListChatIO(ctx context.Context, query domain.ActivityQuery) ([]domain.ChatIORecord, int64, error) {
	builder := newSQLBuilder()
	applyActivityFilters(builder, query)
	if query.Direction != "" {
		builder.and("direction = %s", builder.arg(query.Direction))
	}
	if query.Search != "" {
		builder.searchClause(domain.ContainsPattern(query.Search),
			"id::text", "direction", "word_count::text", "char_count::text")
	}

	from := " FROM statistics_chat_io" + builder.whereClause()
	total, err := r.count(ctx, from, builder.snapshotArgs())
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count chat io records: %w", err)
	}
	if total == 0 {
		return []domain.ChatIORecord{}, 0, nil
	}

	rows, err := r.db.Query(ctx, "SELECT "+chatIOColumns+from+paginate(builder, query.Limit, query.Offset), builder.args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list chat io records: %w", err)
	}
	defer rows.Close()

	records := []domain.ChatIORecord{}
	for rows.Next() {
		var (
			record    domain.ChatIORecord
			direction string
		)
		if err := rows.Scan(
			&record.ID,
			&direction,
			&record.WordCount,
			&record.CharCount,
			&record.OccurredAt,
			&record.ShadowClientID,
			&record.ShadowAgentID,
			&record.ShadowUserID,
		); err != nil {
			return nil, 0, fmt.Errorf("failed to scan chat io record: %w", err)
		}
		record.Direction = domain.ChatDirection(direction)
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate chat io records: %w", err)
	}

	return records, total, nil
}

func (r *statisticsRepository) ListFilterRecords(ctx context.Context, kind domain.FilterRecordKind, query domain.ActivityQuery) ([]domain.FilterRecord, int64, error) {
	table, err := filterTable(kind)
	if err != nil {
		return nil, 0, err
	}

	builder := newSQLBuilder()
	applyActivityFilters(builder, query)
	if query.Direction != "" {
		builder.and("direction = %s", builder.arg(query.Direction))
	}
	if query.FilterType != "" {
		builder.and("filter_type = %s", builder.arg(query.FilterType))
	}
	if query.Search != "" {
		builder.searchClause(domain.ContainsPattern(query.Search),
			"id::text", "direction", "filter_type", "filter_display_name",
			"COALESCE(filter_reason, '')", "word_count::text", "char_count::text")
	}

	from := " FROM " + table + builder.whereClause()
	total, err := r.count(ctx, from, builder.snapshotArgs())
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count filter %s records: %w", kind, err)
	}
	if total == 0 {
		return []domain.FilterRecord{}, 0, nil
	}

	rows, err := r.db.Query(ctx, "SELECT "+filterColumns+from+paginate(builder, query.Limit, query.Offset), builder.args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list filter %s records: %w", kind, err)
	}
	defer rows.Close()

	records := []domain.FilterRecord{}
	for rows.Next() {
		var (
			record    domain.FilterRecord
			direction string
		)
		if err := rows.Scan(
			&record.ID,
			&direction,
			&record.FilterType,
			&record.FilterDisplayName,
			&record.FilterReason,
			&record.WordCount,
			&record.CharCount,
			&record.OccurredAt,
			&record.ShadowClientID,
			&record.ShadowAgentID,
			&record.ShadowUserID,
		); err != nil {
			return nil, 0, fmt.Errorf("failed to scan filter %s record: %w", kind, err)
		}
		record.Kind = kind
		record.Direction = domain.FilterDirection(direction)
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate filter %s records: %w", kind, err)
	}

	return records, total, nil
}

func (r *statisticsRepository) ListEntityEvents(ctx context.Context, query domain.EntityEventQuery) ([]domain.EntityEvent, int64, error) {
	builder := newSQLBuilder()
	clients := builder.arg(query.ShadowClientIDs)

	scope := fmt.Sprintf("e.statistics_clients_id = ANY(%[1]s::uuid[])"+
		" OR e.statistics_agents_id IN (SELECT id FROM statistics_agents WHERE statistics_client_id = ANY(%[1]s::uuid[]))"+
		" OR e.statistics_client_users_id IN (SELECT id FROM statistics_client_users WHERE statistics_client_id = ANY(%[1]s::uuid[]))"+
		" OR e.statistics_provisioning_references_id IN (SELECT id FROM statistics_provisioning_references WHERE statistics_client_id = ANY(%[1]s::uuid[]))",
		clients)
	if query.IncludeUnscoped {
		scope += " OR (e.statistics_clients_id IS NULL AND e.statistics_agents_id IS NULL" +
			" AND e.statistics_client_users_id IS NULL AND e.statistics_provisioning_references_id IS NULL)"
	}
	builder.and("(%s)", scope)

	if query.AgentID != nil {
		builder.and("e.statistics_agents_id IN (SELECT id FROM statistics_agents WHERE original_agent_id = %s AND statistics_client_id = ANY(%s::uuid[]))",
			builder.arg(*query.AgentID), clients)
	}
	if query.From != nil {
		builder.and("e.occurred_at >= %s", builder.arg(*query.From))
	}
	if query.To != nil {
		builder.and("e.occurred_at <= %s", builder.arg(*query.To))
	}
	if query.EntityType != nil {
		builder.and("e.entity_type = %s", builder.arg(string(*query.EntityType)))
	}
	if query.EventType != nil {
		builder.and("e.event_type = %s", builder.arg(string(*query.EventType)))
	}
	if query.Search != "" {
		builder.searchClause(domain.ContainsPattern(query.Search),
			"e.id::text", "e.event_type", "e.entity_type", "e.original_entity_id")
	}

	from := " FROM statistics_entity_events e" + builder.whereClause()
	total, err := r.count(ctx, from, builder.snapshotArgs())
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count entity events: %w", err)
	}
	if total == 0 {
		return []domain.EntityEvent{}, 0, nil
	}

	limit := builder.arg(query.Limit)
	offset := builder.arg(query.Offset)
	rows, err := r.db.Query(ctx,
		"SELECT "+entityEventColumns+from+
			fmt.Sprintf(" ORDER BY e.occurred_at DESC, e.id DESC LIMIT %s OFFSET %s", limit, offset),
		builder.args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list entity events: %w", err)
	}
	defer rows.Close()

	events := []domain.EntityEvent{}
	for rows.Next() {
		var (
			event      domain.EntityEvent
			eventType  string
			entityType string
		)
		if err := rows.Scan(
			&event.ID,
			&eventType,
			&entityType,
			&event.OriginalEntityID,
			&event.OccurredAt,
			&event.ActingShadowUserID,
			&event.ShadowUserID,
			&event.ShadowClientID,
			&event.ShadowAgentID,
			&event.ShadowClientUserID,
			&event.ShadowProvisioningReferenceID,
		); err != nil {
			return nil, 0, fmt.Errorf("failed to scan entity event: %w", err)
		}
		event.EventType = domain.EventType(eventType)
		event.EntityType = domain.EntityType(entityType)
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate entity events: %w", err)
	}

	return events, total, nil
}

func (r *statisticsRepository) ChatTotals(ctx context.Context, query domain.SummaryQuery) (domain.ChatTotals, error) {
	builder := newSQLBuilder()
	applySummaryFilters(builder, query)

	var totals domain.ChatTotals
	err := r.db.QueryRow(ctx,
		"SELECT COUNT(*), COALESCE(SUM(word_count), 0)::bigint, COALESCE(SUM(char_count), 0)::bigint FROM statistics_chat_io"+builder.whereClause(),
		builder.args...,
	).Scan(&totals.MessageCount, &totals.WordCount, &totals.CharCount)
	if err != nil {
		return domain.ChatTotals{}, fmt.Errorf("failed to aggregate chat totals: %w", err)
	}
	return totals, nil
}

func (r *statisticsRepository) FilterBreakdown(ctx context.Context, kind domain.FilterRecordKind, query domain.SummaryQuery) ([]domain.FilterBreakdown, error) {
	table, err := filterTable(kind)
	if err != nil {
		return nil, err
	}

	builder := newSQLBuilder()
	applySummaryFilters(builder, query)

	rows, err := r.db.Query(ctx,
		"SELECT filter_type, direction, COUNT(*) FROM "+table+builder.whereClause()+
			" GROUP BY filter_type, direction ORDER BY filter_type, direction",
		builder.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate filter %s breakdown: %w", kind, err)
	}
	defer rows.Close()

	breakdown := []domain.FilterBreakdown{}
	for rows.Next() {
		var (
			item      domain.FilterBreakdown
			direction string
		)
		if err := rows.Scan(&item.FilterType, &direction, &item.Count); err != nil {
			return nil, fmt.Errorf("failed to scan filter %s breakdown: %w", kind, err)
		}
		item.Direction = domain.FilterDirection(direction)
		breakdown = append(breakdown, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate filter %s breakdown: %w", kind, err)
	}
	return breakdown, nil
}

func (r *statisticsRepository) ChatTimeSeries(ctx context.Context, granularity domain.Granularity, query domain.SummaryQuery) ([]domain.TimeSeriesPoint, error) {
	if _, err := domain.ParseGranularity(string(granularity)); err != nil {
		return nil, err
	}

	builder := newSQLBuilder()
	unit := builder.arg(string(granularity))
	applySummaryFilters(builder, query)

	rows, err := r.db.Query(ctx, fmt.Sprintf(
		"SELECT date_trunc(%[1]s, occurred_at AT TIME ZONE 'UTC') AS period, COUNT(*), "+
			"COALESCE(SUM(word_count), 0)::bigint, COALESCE(SUM(char_count), 0)::bigint "+
			"FROM statistics_chat_io%[2]s GROUP BY period ORDER BY period ASC",
		unit, builder.whereClause()),
		builder.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate chat time series: %w", err)
	}
	defer rows.Close()

	points := []domain.TimeSeriesPoint{}
	for rows.Next() {
		var point domain.TimeSeriesPoint
		if err := rows.Scan(&point.Period, &point.Count, &point.WordCount, &point.CharCount); err != nil {
			return nil, fmt.Errorf("failed to scan chat time series: %w", err)
		}
		point.Period = point.Period.UTC()
		points = append(points, point)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate chat time series: %w", err)
	}
	return points, nil
}

func (r *statisticsRepository) count(ctx context.Context, from string, args []any) (int64, error) {
	var total int64
	if err := r.db.QueryRow(ctx, "SELECT COUNT(*)"+from, args...).Scan(&total); err != nil {
		return 0, err
	}
	return total, nil
}

// applyActivityFilters adds the client scope, agent and time window shared by
// every activity table.
func applyActivityFilters(builder *sqlBuilder, query domain.ActivityQuery) {
	applyScope(builder, query.ShadowClientIDs, query.AgentID, query.From, query.To)
}

func applySummaryFilters(builder *sqlBuilder, query domain.SummaryQuery) {
	applyScope(builder, query.ShadowClientIDs, query.AgentID, query.From, query.To)
}

func applyScope(builder *sqlBuilder, clientIDs []uuid.UUID, agentID *string, from, to *time.Time) {
	clients := builder.arg(clientIDs)
	builder.and("statistics_client_id = ANY(%s::uuid[])", clients)
	if agentID != nil {
		builder.and("statistics_agent_id IN (SELECT id FROM statistics_agents WHERE original_agent_id = %s AND statistics_client_id = ANY(%s::uuid[]))",
			builder.arg(*agentID), clients)
	}
	if from != nil {
		builder.and("occurred_at >= %s", builder.arg(*from))
	}
	if to != nil {
		builder.and("occurred_at <= %s", builder.arg(*to))
	}
}

func paginate(builder *sqlBuilder, limit, offset int) string {
	return fmt.Sprintf(" ORDER BY occurred_at DESC, id DESC LIMIT %s OFFSET %s", builder.arg(limit), builder.arg(offset))
}
