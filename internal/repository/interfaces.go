package repository

import (
	"context"
	"errors"

	"github.com/rpattn/agentstats/internal/domain"

	"github.com/google/uuid"
)

// ErrNotFound is returned by lookups that match no row.
var ErrNotFound = errors.New("not found")

// ShadowUserRepository defines the interface for shadow user operations
type ShadowUserRepository interface {
	Upsert(ctx context.Context, originalUserID string, attrs domain.ShadowUserAttributes) (domain.ShadowUser, error)
	FindByOriginalID(ctx context.Context, originalUserID string) (domain.ShadowUser, error)
	GetByIDs(ctx context.Context, ids []uuid.UUID) ([]domain.ShadowUser, error)
}

// ShadowClientRepository defines the interface for shadow client operations
type ShadowClientRepository interface {
	Upsert(ctx context.Context, originalClientID string, attrs domain.ShadowClientAttributes) (domain.ShadowClient, error)
	FindByOriginalID(ctx context.Context, originalClientID string) (domain.ShadowClient, error)
	GetByIDs(ctx context.Context, ids []uuid.UUID) ([]domain.ShadowClient, error)
	// MapOriginalIDsToShadowIDs returns the shadow ids of the given original
	// client ids. Unknown ids are dropped.
	MapOriginalIDsToShadowIDs(ctx context.Context, originalIDs []string) ([]uuid.UUID, error)
}

// ShadowAgentRepository defines the interface for shadow agent operations.
// Agents are keyed by original agent id within a shadow client.
type ShadowAgentRepository interface {
	Upsert(ctx context.Context, originalAgentID string, shadowClientID uuid.UUID, attrs domain.ShadowAgentAttributes) (domain.ShadowAgent, error)
	FindByOriginalID(ctx context.Context, originalAgentID string, shadowClientID uuid.UUID) (domain.ShadowAgent, error)
	GetByIDs(ctx context.Context, ids []uuid.UUID) ([]domain.ShadowAgent, error)
	ListByClient(ctx context.Context, shadowClientID uuid.UUID) ([]domain.ShadowAgent, error)
}

// ShadowClientUserRepository defines the interface for shadow membership operations
type ShadowClientUserRepository interface {
	Upsert(ctx context.Context, originalClientUserID string, attrs domain.ShadowClientUserAttributes) (domain.ShadowClientUser, error)
	FindByOriginalID(ctx context.Context, originalClientUserID string) (domain.ShadowClientUser, error)
	GetByIDs(ctx context.Context, ids []uuid.UUID) ([]domain.ShadowClientUser, error)
}

// ShadowProvisioningReferenceRepository defines the interface for shadow
// provisioning reference operations
type ShadowProvisioningReferenceRepository interface {
	Upsert(ctx context.Context, originalID string, attrs domain.ShadowProvisioningReferenceAttributes) (domain.ShadowProvisioningReference, error)
	FindByOriginalID(ctx context.Context, originalID string) (domain.ShadowProvisioningReference, error)
	GetByIDs(ctx context.Context, ids []uuid.UUID) ([]domain.ShadowProvisioningReference, error)
}

// ActivityRepository appends chat and filter activity rows.
type ActivityRepository interface {
	InsertChatIO(ctx context.Context, record domain.ChatIORecord) (domain.ChatIORecord, error)
	InsertFilterRecord(ctx context.Context, record domain.FilterRecord) (domain.FilterRecord, error)
}

// EntityEventRepository appends entity lifecycle events.
type EntityEventRepository interface {
	Append(ctx context.Context, event domain.EntityEvent) (domain.EntityEvent, error)
}

// StatisticsRepository serves the filtered lists and aggregates. Every list
// method returns the page plus the total match count.
type StatisticsRepository interface {
	ListChatIO(ctx context.Context, query domain.ActivityQuery) ([]domain.ChatIORecord, int64, error)
	ListFilterRecords(ctx context.Context, kind domain.FilterRecordKind, query domain.ActivityQuery) ([]domain.FilterRecord, int64, error)
	ListEntityEvents(ctx context.Context, query domain.EntityEventQuery) ([]domain.EntityEvent, int64, error)

	ChatTotals(ctx context.Context, query domain.SummaryQuery) (domain.ChatTotals, error)
	FilterBreakdown(ctx context.Context, kind domain.FilterRecordKind, query domain.SummaryQuery) ([]domain.FilterBreakdown, error)
	ChatTimeSeries(ctx context.Context, granularity domain.Granularity, query domain.SummaryQuery) ([]domain.TimeSeriesPoint, error)
}

// Repositories bundles every repository the statistics subsystem uses.
type Repositories struct {
	Users                  ShadowUserRepository
	Clients                ShadowClientRepository
	Agents                 ShadowAgentRepository
	ClientUsers            ShadowClientUserRepository
	ProvisioningReferences ShadowProvisioningReferenceRepository
	Activity               ActivityRepository
	Events                 EntityEventRepository
	Statistics             StatisticsRepository
}
