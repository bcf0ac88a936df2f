package repository

import (
	"context"
	"fmt"

	"github.com/rpattn/agentstats/internal/db"
	"github.com/rpattn/agentstats/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const shadowClientColumns = "id, original_client_id, name, endpoint, authentication_type, created_at, updated_at"

type shadowClientRepository struct {
	db db.DBTX
}

// NewShadowClientRepository creates a new shadow client repository
func NewShadowClientRepository(exec db.DBTX) ShadowClientRepository {
	return &shadowClientRepository{db: exec}
}

func (r *shadowClientRepository) Upsert(ctx context.Context, originalClientID string, attrs domain.ShadowClientAttributes) (domain.ShadowClient, error) {
	row := r.db.QueryRow(ctx, `
		INSERT INTO statistics_clients (original_client_id, name, endpoint, authentication_type)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (original_client_id) DO UPDATE
		SET name = EXCLUDED.name,
			endpoint = EXCLUDED.endpoint,
			authentication_type = EXCLUDED.authentication_type,
			updated_at = NOW()
		RETURNING `+shadowClientColumns,
		originalClientID, attrs.Name, attrs.Endpoint, attrs.AuthenticationType)

	client, err := scanShadowClient(row)
	if err != nil {
		return domain.ShadowClient{}, fmt.Errorf("failed to upsert shadow client: %w", err)
	}
	return client, nil
}

func (r *shadowClientRepository) FindByOriginalID(ctx context.Context, originalClientID string) (domain.ShadowClient, error) {
	row := r.db.QueryRow(ctx, `SELECT `+shadowClientColumns+` FROM statistics_clients WHERE original_client_id = $1`, originalClientID)
	client, err := scanShadowClient(row)
	if err != nil {
		if isNoRows(err) {
			return domain.ShadowClient{}, ErrNotFound
		}
		return domain.ShadowClient{}, fmt.Errorf("failed to get shadow client: %w", err)
	}
	return client, nil
}

func (r *shadowClientRepository) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]domain.ShadowClient, error) {
	if len(ids) == 0 {
		return []domain.ShadowClient{}, nil
	}

	rows, err := r.db.Query(ctx, `SELECT `+shadowClientColumns+` FROM statistics_clients WHERE id = ANY($1::uuid[]) ORDER BY name, id`, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to get shadow clients: %w", err)
	}
	defer rows.Close()

	clients := make([]domain.ShadowClient, 0, len(ids))
	for rows.Next() {
		client, err := scanShadowClient(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan shadow client: %w", err)
		}
		clients = append(clients, client)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate shadow clients: %w", err)
	}
	return clients, nil
}

func (r *shadowClientRepository) MapOriginalIDsToShadowIDs(ctx context.Context, originalIDs []string) ([]uuid.UUID, error) {
	if len(originalIDs) == 0 {
		return []uuid.UUID{}, nil
	}

	rows, err := r.db.Query(ctx, `SELECT id FROM statistics_clients WHERE original_client_id = ANY($1::text[])`, originalIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to map client ids: %w", err)
	}
	defer rows.Close()

	ids := make([]uuid.UUID, 0, len(originalIDs))
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan client id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate client ids: %w", err)
	}
	return ids, nil
}

func scanShadowClient(row pgx.Row) (domain.ShadowClient, error) {
	var client domain.ShadowClient
	err := row.Scan(
		&client.ID,
		&client.OriginalClientID,
		&client.Name,
		&client.Endpoint,
		&client.AuthenticationType,
		&client.CreatedAt,
		&client.UpdatedAt,
	)
	return client, err
}
