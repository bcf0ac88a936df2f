// Package recorder writes statistics as a best-effort side channel. Public
// Record* methods never block on or report failures; the unexported record*
// methods return errors and are what the tests exercise.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rpattn/agentstats/internal/domain"
	"github.com/rpattn/agentstats/internal/metrics"
	"github.com/rpattn/agentstats/internal/primary"
	"github.com/rpattn/agentstats/internal/repository"
	"github.com/rpattn/agentstats/pkg/validator"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	ErrPrimaryClientNotFound = errors.New("primary client not found")
	ErrShadowClientMissing   = errors.New("shadow client missing")
	ErrShadowUserMissing     = errors.New("shadow user missing")
	ErrInvalidMetadata       = errors.New("invalid metadata")
	ErrNotImplemented        = errors.New("not implemented")
	ErrUnsupportedEntityType = errors.New("unsupported entity type")
)

// isSkip reports whether err means "nothing to record" rather than a failure.
func isSkip(err error) bool {
	return errors.Is(err, ErrPrimaryClientNotFound) ||
		errors.Is(err, ErrShadowClientMissing) ||
		errors.Is(err, ErrShadowUserMissing) ||
		errors.Is(err, ErrInvalidMetadata) ||
		errors.Is(err, ErrNotImplemented) ||
		errors.Is(err, ErrUnsupportedEntityType)
}

// ChatActivity describes one chat message passing through an agent.
type ChatActivity struct {
	ClientID  string
	AgentID   string
	WordCount int
	CharCount int
	UserID    *string
}

// FilterActivity describes one content-filter decision.
type FilterActivity struct {
	ClientID          string
	AgentID           string
	Direction         domain.FilterDirection
	FilterType        string
	FilterDisplayName string
	FilterReason      *string
	WordCount         int
	CharCount         int
	UserID            *string
}

// EntityChange describes a primary-entity lifecycle change.
type EntityChange struct {
	EntityType       domain.EntityType
	OriginalEntityID string
	Metadata         map[string]any
	ActingUserID     *string
}

// AccessInvalidator drops a user's cached accessible-client set.
type AccessInvalidator interface {
	Invalidate(ctx context.Context, userID string) error
}

type Option func(*Recorder)

// WithAccessInvalidator invalidates cached access sets when a recorded
// membership or client event changes which clients a user can see.
func WithAccessInvalidator(access AccessInvalidator) Option {
	return func(r *Recorder) {
		r.access = access
	}
}

// WithMetrics counts recording outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Recorder) {
		r.metrics = m
	}
}

// WithTimeout bounds each background recording.
func WithTimeout(timeout time.Duration) Option {
	return func(r *Recorder) {
		if timeout > 0 {
			r.timeout = timeout
		}
	}
}

// WithClock overrides the clock used for occurred_at.
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) {
		if now != nil {
			r.now = now
		}
	}
}

type Recorder struct {
	repos      repository.Repositories
	clients    primary.ClientDirectory
	authMethod domain.AuthMethod
	validator  *validator.MetadataValidator
	metrics    *metrics.Metrics
	access     AccessInvalidator
	logger     zerolog.Logger
	timeout    time.Duration
	now        func() time.Time

	inflight sync.WaitGroup
}

// New creates a Recorder. authMethod is the deployment authentication method;
// with api-key there are no interactive users and user attribution is skipped.
func New(repos repository.Repositories, clients primary.ClientDirectory, authMethod domain.AuthMethod, logger zerolog.Logger, opts ...Option) *Recorder {
	r := &Recorder{
		repos:      repos,
		clients:    clients,
		authMethod: authMethod,
		validator:  validator.NewEntityMetadataValidator(),
		logger:     logger.With().Str("component", "recorder").Logger(),
		timeout:    30 * time.Second,
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Wait blocks until every in-flight recording has finished.
func (r *Recorder) Wait() {
	r.inflight.Wait()
}

func (r *Recorder) RecordChatInput(ctx context.Context, activity ChatActivity) {
	r.bestEffort(ctx, "chat_input", chatLogger(r.logger, activity), func(ctx context.Context) error {
		_, err := r.recordChat(ctx, domain.ChatDirectionInput, activity)
		return err
	})
}

func (r *Recorder) RecordChatOutput(ctx context.Context, activity ChatActivity) {
	r.bestEffort(ctx, "chat_output", chatLogger(r.logger, activity), func(ctx context.Context) error {
		_, err := r.recordChat(ctx, domain.ChatDirectionOutput, activity)
		return err
	})
}

func (r *Recorder) RecordChatFilterDrop(ctx context.Context, activity FilterActivity) {
	r.bestEffort(ctx, "filter_drop", filterLogger(r.logger, activity), func(ctx context.Context) error {
		_, err := r.recordFilter(ctx, domain.FilterRecordDrop, activity)
		return err
	})
}

func (r *Recorder) RecordChatFilterFlag(ctx context.Context, activity FilterActivity) {
	r.bestEffort(ctx, "filter_flag", filterLogger(r.logger, activity), func(ctx context.Context) error {
		_, err := r.recordFilter(ctx, domain.FilterRecordFlag, activity)
		return err
	})
}

func (r *Recorder) RecordEntityCreated(ctx context.Context, change EntityChange) {
	r.recordEntityAsync(ctx, domain.EventTypeCreated, change)
}

func (r *Recorder) RecordEntityUpdated(ctx context.Context, change EntityChange) {
	r.recordEntityAsync(ctx, domain.EventTypeUpdated, change)
}

func (r *Recorder) RecordEntityDeleted(ctx context.Context, change EntityChange) {
	r.recordEntityAsync(ctx, domain.EventTypeDeleted, change)
}

// RecordEntity dispatches on eventType. Unknown event types are logged and
// dropped.
func (r *Recorder) RecordEntity(ctx context.Context, eventType domain.EventType, change EntityChange) {
	r.recordEntityAsync(ctx, eventType, change)
}

func (r *Recorder) recordEntityAsync(ctx context.Context, eventType domain.EventType, change EntityChange) {
	logger := r.logger.With().
		Str("entity_type", string(change.EntityType)).
		Str("original_entity_id", change.OriginalEntityID).
		Logger()
	r.bestEffort(ctx, "entity_"+string(eventType), logger, func(ctx context.Context) error {
		_, err := r.recordEntity(ctx, eventType, change)
		return err
	})
}

// bestEffort is the only bridge between the error-returning recording paths
// and callers: it runs fn detached from the caller's cancellation, recovers
// panics and logs the outcome.
func (r *Recorder) bestEffort(ctx context.Context, operation string, logger zerolog.Logger, fn func(context.Context) error) {
	if ctx == nil {
		ctx = context.Background()
	}
	detached := context.WithoutCancel(ctx)

	r.inflight.Add(1)
	go func() {
		defer r.inflight.Done()
		defer func() {
			if rec := recover(); rec != nil {
				r.metrics.ObserveRecording(operation, metrics.OutcomeError)
				logger.Error().Str("operation", operation).Interface("panic", rec).Msg("panic while recording statistics")
			}
		}()

		runCtx, cancel := context.WithTimeout(detached, r.timeout)
		defer cancel()

		err := fn(runCtx)
		switch {
		case err == nil:
			r.metrics.ObserveRecording(operation, metrics.OutcomeOK)
		case isSkip(err):
			r.metrics.ObserveRecording(operation, metrics.OutcomeSkipped)
			logger.Warn().Err(err).Str("operation", operation).Msg("statistics recording skipped")
		default:
			r.metrics.ObserveRecording(operation, metrics.OutcomeError)
			logger.Error().Err(err).Str("operation", operation).Msg("statistics recording failed")
		}
	}()
}

func chatLogger(logger zerolog.Logger, activity ChatActivity) zerolog.Logger {
	return logger.With().Str("client_id", activity.ClientID).Str("agent_id", activity.AgentID).Logger()
}

func filterLogger(logger zerolog.Logger, activity FilterActivity) zerolog.Logger {
	return logger.With().
		Str("client_id", activity.ClientID).
		Str("agent_id", activity.AgentID).
		Str("filter_type", activity.FilterType).
		Logger()
}

func (r *Recorder) recordChat(ctx context.Context, direction domain.ChatDirection, activity ChatActivity) (domain.ChatIORecord, error) {
	client, agentID, err := r.ensureShadowEntries(ctx, activity.ClientID, activity.AgentID)
	if err != nil {
		return domain.ChatIORecord{}, err
	}

	record := domain.ChatIORecord{
		ID:             uuid.New(),
		Direction:      direction,
		WordCount:      nonNegative(activity.WordCount),
		CharCount:      nonNegative(activity.CharCount),
		OccurredAt:     r.now(),
		ShadowClientID: client.ID,
		ShadowAgentID:  agentID,
		ShadowUserID:   r.resolveShadowUser(ctx, activity.UserID),
	}
	saved, err := r.repos.Activity.InsertChatIO(ctx, record)
	if err != nil {
		return domain.ChatIORecord{}, err
	}
	return saved, nil
}

func (r *Recorder) recordFilter(ctx context.Context, kind domain.FilterRecordKind, activity FilterActivity) (domain.FilterRecord, error) {
	if !activity.Direction.Valid() {
		return domain.FilterRecord{}, fmt.Errorf("%w: filter direction %q", ErrInvalidMetadata, activity.Direction)
	}

	client, agentID, err := r.ensureShadowEntries(ctx, activity.ClientID, activity.AgentID)
	if err != nil {
		return domain.FilterRecord{}, err
	}

	displayName := activity.FilterDisplayName
	if displayName == "" {
		displayName = activity.FilterType
	}
	record := domain.FilterRecord{
		ID:                uuid.New(),
		Kind:              kind,
		Direction:         activity.Direction,
		FilterType:        activity.FilterType,
		FilterDisplayName: displayName,
		FilterReason:      activity.FilterReason,
		WordCount:         nonNegative(activity.WordCount),
		CharCount:         nonNegative(activity.CharCount),
		OccurredAt:        r.now(),
		ShadowClientID:    client.ID,
		ShadowAgentID:     agentID,
		ShadowUserID:      r.resolveShadowUser(ctx, activity.UserID),
	}
	saved, err := r.repos.Activity.InsertFilterRecord(ctx, record)
	if err != nil {
		return domain.FilterRecord{}, err
	}
	return saved, nil
}

// ensureShadowEntries mirrors the primary client and makes sure the agent has
// a shadow row under it. An existing agent is left untouched.
func (r *Recorder) ensureShadowEntries(ctx context.Context, clientID, agentID string) (domain.ShadowClient, *uuid.UUID, error) {
	client, err := r.syncShadowClient(ctx, clientID)
	if err != nil {
		return domain.ShadowClient{}, nil, err
	}
	if agentID == "" {
		return client, nil, nil
	}

	agent, err := r.repos.Agents.Upsert(ctx, agentID, client.ID, domain.ShadowAgentAttributes{})
	if err != nil {
		return domain.ShadowClient{}, nil, err
	}
	return client, &agent.ID, nil
}

func (r *Recorder) syncShadowClient(ctx context.Context, clientID string) (domain.ShadowClient, error) {
	source, err := r.clients.GetClient(ctx, clientID)
	if err != nil {
		if errors.Is(err, primary.ErrNotFound) {
			return domain.ShadowClient{}, fmt.Errorf("%w: %s", ErrPrimaryClientNotFound, clientID)
		}
		return domain.ShadowClient{}, fmt.Errorf("failed to load primary client: %w", err)
	}
	return r.repos.Clients.Upsert(ctx, source.ID, domain.ShadowClientAttributes{
		Name:               source.Name,
		Endpoint:           source.Endpoint,
		AuthenticationType: source.AuthenticationType,
	})
}

// resolveShadowUser looks up, never creates, the shadow row of userID. A
// missing row means no attribution.
func (r *Recorder) resolveShadowUser(ctx context.Context, userID *string) *uuid.UUID {
	if userID == nil || *userID == "" || r.authMethod == domain.AuthMethodAPIKey {
		return nil
	}
	user, err := r.repos.Users.FindByOriginalID(ctx, *userID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			r.logger.Warn().Err(err).Str("user_id", *userID).Msg("failed to resolve shadow user")
		}
		return nil
	}
	return &user.ID
}

func nonNegative(v int) int {
	if v < 0 {
		return 0
	}
	return v
}
