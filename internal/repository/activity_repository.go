package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/rpattn/agentstats/internal/db"
	"github.com/rpattn/agentstats/internal/domain"

	"github.com/google/uuid"
)

type activityRepository struct {
	db db.DBTX
}

// NewActivityRepository creates a repository for the append-only chat and
// filter activity tables.
func NewActivityRepository(exec db.DBTX) ActivityRepository {
	return &activityRepository{db: exec}
}

func (r *activityRepository) InsertChatIO(ctx context.Context, record domain.ChatIORecord) (domain.ChatIORecord, error) {
	if !record.Direction.Valid() {
		return domain.ChatIORecord{}, fmt.Errorf("invalid chat direction %q", record.Direction)
	}
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	if record.OccurredAt.IsZero() {
		record.OccurredAt = time.Now().UTC()
	}

	_, err := r.db.Exec(ctx, `
		INSERT INTO statistics_chat_io (
			id, direction, word_count, char_count, occurred_at,
			statistics_client_id, statistics_agent_id, statistics_user_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		record.ID, string(record.Direction), record.WordCount, record.CharCount, record.OccurredAt,
		record.ShadowClientID, record.ShadowAgentID, record.ShadowUserID,
	)
	if err != nil {
		return domain.ChatIORecord{}, fmt.Errorf("failed to insert chat io record: %w", err)
	}
	return record, nil
}

func (r *activityRepository) InsertFilterRecord(ctx context.Context, record domain.FilterRecord) (domain.FilterRecord, error) {
	table, err := filterTable(record.Kind)
	if err != nil {
		return domain.FilterRecord{}, err
	}
	if !record.Direction.Valid() {
		return domain.FilterRecord{}, fmt.Errorf("invalid filter direction %q", record.Direction)
	}
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	if record.OccurredAt.IsZero() {
		record.OccurredAt = time.Now().UTC()
	}

	_, err = r.db.Exec(ctx, `
		INSERT INTO `+table+` (
			id, direction, filter_type, filter_display_name, filter_reason, word_count, char_count,
			occurred_at, statistics_client_id, statistics_agent_id, statistics_user_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		record.ID, string(record.Direction), record.FilterType, record.FilterDisplayName, record.FilterReason,
		record.WordCount, record.CharCount, record.OccurredAt,
		record.ShadowClientID, record.ShadowAgentID, record.ShadowUserID,
	)
	if err != nil {
		return domain.FilterRecord{}, fmt.Errorf("failed to insert filter %s record: %w", record.Kind, err)
	}
	return record, nil
}

func filterTable(kind domain.FilterRecordKind) (string, error) {
	switch kind {
	case domain.FilterRecordDrop:
		return "statistics_chat_filter_drops", nil
	case domain.FilterRecordFlag:
		return "statistics_chat_filter_flags", nil
	default:
		return "", fmt.Errorf("unknown filter record kind %q", kind)
	}
}
