package repository

import (
	"context"
	"fmt"

	"github.com/rpattn/agentstats/internal/db"
	"github.com/rpattn/agentstats/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const shadowAgentColumns = "id, original_agent_id, statistics_client_id, agent_type, container_type, name, description, created_at, updated_at"

type shadowAgentRepository struct {
	db db.DBTX
}

// NewShadowAgentRepository creates a new shadow agent repository
func NewShadowAgentRepository(exec db.DBTX) ShadowAgentRepository {
	return &shadowAgentRepository{db: exec}
}

// Upsert creates the agent or patches its attributes. Nil attributes keep the
// stored value, so an empty patch only touches updated_at.
func (r *shadowAgentRepository) Upsert(ctx context.Context, originalAgentID string, shadowClientID uuid.UUID, attrs domain.ShadowAgentAttributes) (domain.ShadowAgent, error) {
	row := r.db.QueryRow(ctx, `
		INSERT INTO statistics_agents (original_agent_id, statistics_client_id, agent_type, container_type, name, description)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (original_agent_id, statistics_client_id) DO UPDATE
		SET agent_type = COALESCE(EXCLUDED.agent_type, statistics_agents.agent_type),
			container_type = COALESCE(EXCLUDED.container_type, statistics_agents.container_type),
			name = COALESCE(EXCLUDED.name, statistics_agents.name),
			description = COALESCE(EXCLUDED.description, statistics_agents.description),
			updated_at = NOW()
		RETURNING `+shadowAgentColumns,
		originalAgentID, shadowClientID, attrs.AgentType, attrs.ContainerType, attrs.Name, attrs.Description)

	agent, err := scanShadowAgent(row)
	if err != nil {
		return domain.ShadowAgent{}, fmt.Errorf("failed to upsert shadow agent: %w", err)
	}
	return agent, nil
}

func (r *shadowAgentRepository) FindByOriginalID(ctx context.Context, originalAgentID string, shadowClientID uuid.UUID) (domain.ShadowAgent, error) {
	row := r.db.QueryRow(ctx, `SELECT `+shadowAgentColumns+` FROM statistics_agents WHERE original_agent_id = $1 AND statistics_client_id = $2`,
		originalAgentID, shadowClientID)
	agent, err := scanShadowAgent(row)
	if err != nil {
		if isNoRows(err) {
			return domain.ShadowAgent{}, ErrNotFound
		}
		return domain.ShadowAgent{}, fmt.Errorf("failed to get shadow agent: %w", err)
	}
	return agent, nil
}

func (r *shadowAgentRepository) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]domain.ShadowAgent, error) {
	if len(ids) == 0 {
		return []domain.ShadowAgent{}, nil
	}
	return r.list(ctx, `SELECT `+shadowAgentColumns+` FROM statistics_agents WHERE id = ANY($1::uuid[])`, ids)
}

func (r *shadowAgentRepository) ListByClient(ctx context.Context, shadowClientID uuid.UUID) ([]domain.ShadowAgent, error) {
	return r.list(ctx, `SELECT `+shadowAgentColumns+` FROM statistics_agents WHERE statistics_client_id = $1 ORDER BY name NULLS LAST, original_agent_id`, shadowClientID)
}

func (r *shadowAgentRepository) list(ctx context.Context, query string, args ...any) ([]domain.ShadowAgent, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list shadow agents: %w", err)
	}
	defer rows.Close()

	agents := []domain.ShadowAgent{}
	for rows.Next() {
		agent, err := scanShadowAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan shadow agent: %w", err)
		}
		agents = append(agents, agent)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate shadow agents: %w", err)
	}
	return agents, nil
}

func scanShadowAgent(row pgx.Row) (domain.ShadowAgent, error) {
	var agent domain.ShadowAgent
	err := row.Scan(
		&agent.ID,
		&agent.OriginalAgentID,
		&agent.ShadowClientID,
		&agent.AgentType,
		&agent.ContainerType,
		&agent.Name,
		&agent.Description,
		&agent.CreatedAt,
		&agent.UpdatedAt,
	)
	return agent, err
}
