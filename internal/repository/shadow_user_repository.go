package repository

import (
	"context"
	"fmt"

	"github.com/rpattn/agentstats/internal/db"
	"github.com/rpattn/agentstats/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const shadowUserColumns = "id, original_user_id, role, created_at, updated_at"

type shadowUserRepository struct {
	db db.DBTX
}

// NewShadowUserRepository creates a new shadow user repository
func NewShadowUserRepository(exec db.DBTX) ShadowUserRepository {
	return &shadowUserRepository{db: exec}
}

func (r *shadowUserRepository) Upsert(ctx context.Context, originalUserID string, attrs domain.ShadowUserAttributes) (domain.ShadowUser, error) {
	role := attrs.Role
	if role == "" {
		role = domain.RoleUser
	}

	row := r.db.QueryRow(ctx, `
		INSERT INTO statistics_users (original_user_id, role)
		VALUES ($1, $2)
		ON CONFLICT (original_user_id) DO UPDATE
		SET role = EXCLUDED.role, updated_at = NOW()
		RETURNING `+shadowUserColumns, originalUserID, role)

	user, err := scanShadowUser(row)
	if err != nil {
		return domain.ShadowUser{}, fmt.Errorf("failed to upsert shadow user: %w", err)
	}
	return user, nil
}

func (r *shadowUserRepository) FindByOriginalID(ctx context.Context, originalUserID string) (domain.ShadowUser, error) {
	row := r.db.QueryRow(ctx, `SELECT `+shadowUserColumns+` FROM statistics_users WHERE original_user_id = $1`, originalUserID)
	user, err := scanShadowUser(row)
	if err != nil {
		if isNoRows(err) {
			return domain.ShadowUser{}, ErrNotFound
		}
		return domain.ShadowUser{}, fmt.Errorf("failed to get shadow user: %w", err)
	}
	return user, nil
}

func (r *shadowUserRepository) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]domain.ShadowUser, error) {
	if len(ids) == 0 {
		return []domain.ShadowUser{}, nil
	}

	rows, err := r.db.Query(ctx, `SELECT `+shadowUserColumns+` FROM statistics_users WHERE id = ANY($1::uuid[])`, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to get shadow users: %w", err)
	}
	defer rows.Close()

	users := make([]domain.ShadowUser, 0, len(ids))
	for rows.Next() {
		user, err := scanShadowUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan shadow user: %w", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate shadow users: %w", err)
	}
	return users, nil
}

func scanShadowUser(row pgx.Row) (domain.ShadowUser, error) {
	var user domain.ShadowUser
	err := row.Scan(&user.ID, &user.OriginalUserID, &user.Role, &user.CreatedAt, &user.UpdatedAt)
	return user, err
}
