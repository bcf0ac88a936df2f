package repository

import (
	"context"
	"fmt"

	"github.com/rpattn/agentstats/internal/db"
	"github.com/rpattn/agentstats/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const shadowProvisioningColumns = "id, original_provisioning_reference_id, statistics_client_id, provider_type, " +
	"server_id, server_name, public_ip, private_ip, provider_metadata::text, created_at, updated_at"

type shadowProvisioningReferenceRepository struct {
	db db.DBTX
}

// NewShadowProvisioningReferenceRepository creates a new shadow provisioning
// reference repository
func NewShadowProvisioningReferenceRepository(exec db.DBTX) ShadowProvisioningReferenceRepository {
	return &shadowProvisioningReferenceRepository{db: exec}
}

// Upsert stores the reference. ProviderMetadata must already be sanitized; a
// nil value stores SQL NULL.
func (r *shadowProvisioningReferenceRepository) Upsert(ctx context.Context, originalID string, attrs domain.ShadowProvisioningReferenceAttributes) (domain.ShadowProvisioningReference, error) {
	row := r.db.QueryRow(ctx, `
		INSERT INTO statistics_provisioning_references (
			original_provisioning_reference_id, statistics_client_id, provider_type,
			server_id, server_name, public_ip, private_ip, provider_metadata
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8::jsonb)
		ON CONFLICT (original_provisioning_reference_id) DO UPDATE
		SET statistics_client_id = EXCLUDED.statistics_client_id,
			provider_type = EXCLUDED.provider_type,
			server_id = EXCLUDED.server_id,
			server_name = EXCLUDED.server_name,
			public_ip = EXCLUDED.public_ip,
			private_ip = EXCLUDED.private_ip,
			provider_metadata = EXCLUDED.provider_metadata,
			updated_at = NOW()
		RETURNING `+shadowProvisioningColumns,
		originalID, attrs.ShadowClientID, attrs.ProviderType,
		attrs.ServerID, attrs.ServerName, attrs.PublicIP, attrs.PrivateIP, attrs.ProviderMetadata)

	ref, err := scanShadowProvisioningReference(row)
	if err != nil {
		return domain.ShadowProvisioningReference{}, fmt.Errorf("failed to upsert shadow provisioning reference: %w", err)
	}
	return ref, nil
}

func (r *shadowProvisioningReferenceRepository) FindByOriginalID(ctx context.Context, originalID string) (domain.ShadowProvisioningReference, error) {
	row := r.db.QueryRow(ctx, `SELECT `+shadowProvisioningColumns+` FROM statistics_provisioning_references WHERE original_provisioning_reference_id = $1`, originalID)
	ref, err := scanShadowProvisioningReference(row)
	if err != nil {
		if isNoRows(err) {
			return domain.ShadowProvisioningReference{}, ErrNotFound
		}
		return domain.ShadowProvisioningReference{}, fmt.Errorf("failed to get shadow provisioning reference: %w", err)
	}
	return ref, nil
}

func (r *shadowProvisioningReferenceRepository) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]domain.ShadowProvisioningReference, error) {
	if len(ids) == 0 {
		return []domain.ShadowProvisioningReference{}, nil
	}

	rows, err := r.db.Query(ctx, `SELECT `+shadowProvisioningColumns+` FROM statistics_provisioning_references WHERE id = ANY($1::uuid[])`, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to get shadow provisioning references: %w", err)
	}
	defer rows.Close()

	refs := make([]domain.ShadowProvisioningReference, 0, len(ids))
	for rows.Next() {
		ref, err := scanShadowProvisioningReference(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan shadow provisioning reference: %w", err)
		}
		refs = append(refs, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate shadow provisioning references: %w", err)
	}
	return refs, nil
}

func scanShadowProvisioningReference(row pgx.Row) (domain.ShadowProvisioningReference, error) {
	var ref domain.ShadowProvisioningReference
	err := row.Scan(
		&ref.ID,
		&ref.OriginalProvisioningReferenceID,
		&ref.ShadowClientID,
		&ref.ProviderType,
		&ref.ServerID,
		&ref.ServerName,
		&ref.PublicIP,
		&ref.PrivateIP,
		&ref.ProviderMetadata,
		&ref.CreatedAt,
		&ref.UpdatedAt,
	)
	return ref, err
}
