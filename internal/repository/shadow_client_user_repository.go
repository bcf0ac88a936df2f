package repository

import (
	"context"
	"fmt"

	"github.com/rpattn/agentstats/internal/db"
	"github.com/rpattn/agentstats/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const shadowClientUserColumns = "id, original_client_user_id, statistics_client_id, statistics_user_id, role, created_at, updated_at"

type shadowClientUserRepository struct {
	db db.DBTX
}

// NewShadowClientUserRepository creates a new shadow membership repository
func NewShadowClientUserRepository(exec db.DBTX) ShadowClientUserRepository {
	return &shadowClientUserRepository{db: exec}
}

func (r *shadowClientUserRepository) Upsert(ctx context.Context, originalClientUserID string, attrs domain.ShadowClientUserAttributes) (domain.ShadowClientUser, error) {
	role := attrs.Role
	if role == "" {
		role = domain.RoleUser
	}

	row := r.db.QueryRow(ctx, `
		INSERT INTO statistics_client_users (original_client_user_id, statistics_client_id, statistics_user_id, role)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (original_client_user_id) DO UPDATE
		SET statistics_client_id = EXCLUDED.statistics_client_id,
			statistics_user_id = EXCLUDED.statistics_user_id,
			role = EXCLUDED.role,
			updated_at = NOW()
		RETURNING `+shadowClientUserColumns,
		originalClientUserID, attrs.ShadowClientID, attrs.ShadowUserID, role)

	membership, err := scanShadowClientUser(row)
	if err != nil {
		return domain.ShadowClientUser{}, fmt.Errorf("failed to upsert shadow client user: %w", err)
	}
	return membership, nil
}

func (r *shadowClientUserRepository) FindByOriginalID(ctx context.Context, originalClientUserID string) (domain.ShadowClientUser, error) {
	row := r.db.QueryRow(ctx, `SELECT `+shadowClientUserColumns+` FROM statistics_client_users WHERE original_client_user_id = $1`, originalClientUserID)
	membership, err := scanShadowClientUser(row)
	if err != nil {
		if isNoRows(err) {
			return domain.ShadowClientUser{}, ErrNotFound
		}
		return domain.ShadowClientUser{}, fmt.Errorf("failed to get shadow client user: %w", err)
	}
	return membership, nil
}

func (r *shadowClientUserRepository) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]domain.ShadowClientUser, error) {
	if len(ids) == 0 {
		return []domain.ShadowClientUser{}, nil
	}

	rows, err := r.db.Query(ctx, `SELECT `+shadowClientUserColumns+` FROM statistics_client_users WHERE id = ANY($1::uuid[])`, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to get shadow client users: %w", err)
	}
	defer rows.Close()

	memberships := make([]domain.ShadowClientUser, 0, len(ids))
	for rows.Next() {
		membership, err := scanShadowClientUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan shadow client user: %w", err)
		}
		memberships = append(memberships, membership)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate shadow client users: %w", err)
	}
	return memberships, nil
}

func scanShadowClientUser(row pgx.Row) (domain.ShadowClientUser, error) {
	var membership domain.ShadowClientUser
	err := row.Scan(
		&membership.ID,
		&membership.OriginalClientUserID,
		&membership.ShadowClientID,
		&membership.ShadowUserID,
		&membership.Role,
		&membership.CreatedAt,
		&membership.UpdatedAt,
	)
	return membership, err
}
