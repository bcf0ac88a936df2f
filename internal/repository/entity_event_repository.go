package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/rpattn/agentstats/internal/db"
	"github.com/rpattn/agentstats/internal/domain"

	"github.com/google/uuid"
)

type entityEventRepository struct {
	db db.DBTX
}

// NewEntityEventRepository creates a repository for the append-only entity
// event log.
func NewEntityEventRepository(exec db.DBTX) EntityEventRepository {
	return &entityEventRepository{db: exec}
}

func (r *entityEventRepository) Append(ctx context.Context, event domain.EntityEvent) (domain.EntityEvent, error) {
	if !event.EventType.Valid() {
		return domain.EntityEvent{}, fmt.Errorf("invalid event type %q", event.EventType)
	}
	if !event.EntityType.Valid() {
		return domain.EntityEvent{}, fmt.Errorf("invalid entity type %q", event.EntityType)
	}
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	_, err := r.db.Exec(ctx, `
		INSERT INTO statistics_entity_events (
			id, event_type, entity_type, original_entity_id, occurred_at,
			acting_statistics_user_id, statistics_users_id, statistics_clients_id,
			statistics_agents_id, statistics_client_users_id, statistics_provisioning_references_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		event.ID, string(event.EventType), string(event.EntityType), event.OriginalEntityID, event.OccurredAt,
		event.ActingShadowUserID, event.ShadowUserID, event.ShadowClientID,
		event.ShadowAgentID, event.ShadowClientUserID, event.ShadowProvisioningReferenceID,
	)
	if err != nil {
		return domain.EntityEvent{}, fmt.Errorf("failed to append entity event: %w", err)
	}
	return event, nil
}
