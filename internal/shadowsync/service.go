// Package shadowsync keeps the statistics shadow tables current with the
// primary users, clients and agents. Every step is an idempotent upsert, so a
// sync can be re-run at any time.
package shadowsync

import (
	"context"
	"fmt"

	"github.com/rpattn/agentstats/internal/domain"
	"github.com/rpattn/agentstats/internal/metrics"
	"github.com/rpattn/agentstats/internal/primary"
	"github.com/rpattn/agentstats/internal/repository"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
)

// DefaultAgentBatchSize is the agent page size used when none is configured.
const DefaultAgentBatchSize = 50

const (
	kindUser   = "user"
	kindClient = "client"
	kindAgent  = "agent"
)

// Result counts the shadow rows written by a sync run.
type Result struct {
	Users          int
	Clients        int
	Agents         int
	SkippedClients []string
}

type Option func(*Service)

// WithAgentBatchSize sets the page size used when listing agents.
func WithAgentBatchSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.batchSize = size
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// Service runs bulk shadow syncs.
type Service struct {
	users     primary.UserDirectory
	clients   primary.ClientDirectory
	agents    primary.AgentLister
	repos     repository.Repositories
	batchSize int
	metrics   *metrics.Metrics
	logger    zerolog.Logger
}

// NewService creates a sync service reading from the primary directories and
// writing through repos.
func NewService(
	users primary.UserDirectory,
	clients primary.ClientDirectory,
	agents primary.AgentLister,
	repos repository.Repositories,
	logger zerolog.Logger,
	opts ...Option,
) *Service {
	s := &Service{
		users:     users,
		clients:   clients,
		agents:    agents,
		repos:     repos,
		batchSize: DefaultAgentBatchSize,
		logger:    logger.With().Str("component", "shadowsync").Logger(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Run syncs clients with their agents, then users. A failure for one client or
// user never stops the run; all of them are returned together as a
// *multierror.Error alongside the partial result.
func (s *Service) Run(ctx context.Context) (Result, error) {
	var errs *multierror.Error

	result, err := s.SyncClients(ctx)
	if err != nil {
		errs = multierror.Append(errs, err)
	}

	users, err := s.SyncUsers(ctx)
	result.Users = users
	if err != nil {
		errs = multierror.Append(errs, err)
	}

	s.logger.Info().
		Int("users", result.Users).
		Int("clients", result.Clients).
		Int("agents", result.Agents).
		Int("skipped_clients", len(result.SkippedClients)).
		Msg("shadow sync finished")

	return result, errs.ErrorOrNil()
}

// SyncUsers upserts a shadow user for every primary user.
func (s *Service) SyncUsers(ctx context.Context) (int, error) {
	users, err := s.users.ListUsers(ctx)
	if err != nil {
		s.metrics.ObserveSync(kindUser, metrics.OutcomeError)
		return 0, fmt.Errorf("failed to list primary users: %w", err)
	}

	var (
		errs   *multierror.Error
		synced int
	)
	for _, user := range users {
		role := user.Role
		if role == "" {
			role = domain.RoleUser
		}
		if _, err := s.repos.Users.Upsert(ctx, user.ID, domain.ShadowUserAttributes{Role: role}); err != nil {
			s.metrics.ObserveSync(kindUser, metrics.OutcomeError)
			errs = multierror.Append(errs, fmt.Errorf("failed to sync user %s: %w", user.ID, err))
			continue
		}
		s.metrics.ObserveSync(kindUser, metrics.OutcomeOK)
		synced++
	}
	return synced, errs.ErrorOrNil()
}

// SyncClients upserts a shadow client for every primary client and pages
// through each client's agents. A client whose agent source fails is logged,
// reported and skipped.
func (s *Service) SyncClients(ctx context.Context) (Result, error) {
	var result Result

	clients, err := s.clients.ListClients(ctx)
	if err != nil {
		s.metrics.ObserveSync(kindClient, metrics.OutcomeError)
		return result, fmt.Errorf("failed to list primary clients: %w", err)
	}

	var errs *multierror.Error
	for _, client := range clients {
		shadow, err := s.repos.Clients.Upsert(ctx, client.ID, domain.ShadowClientAttributes{
			Name:               client.Name,
			Endpoint:           client.Endpoint,
			AuthenticationType: client.AuthenticationType,
		})
		if err != nil {
			s.metrics.ObserveSync(kindClient, metrics.OutcomeError)
			errs = multierror.Append(errs, fmt.Errorf("failed to sync client %s: %w", client.ID, err))
			result.SkippedClients = append(result.SkippedClients, client.ID)
			continue
		}
		s.metrics.ObserveSync(kindClient, metrics.OutcomeOK)
		result.Clients++

		agents, err := s.syncAgents(ctx, client, shadow)
		result.Agents += agents
		if err != nil {
			s.logger.Warn().Err(err).Str("client_id", client.ID).Msg("skipping agents of unreachable client")
			errs = multierror.Append(errs, err)
			result.SkippedClients = append(result.SkippedClients, client.ID)
		}
	}
	return result, errs.ErrorOrNil()
}

// syncAgents pages through the agents of client until a short page. Agents
// upserted before a failing page stay synced.
func (s *Service) syncAgents(ctx context.Context, client primary.Client, shadow domain.ShadowClient) (int, error) {
	synced := 0
	for offset := 0; ; offset += s.batchSize {
		page, err := s.agents.ListAgents(ctx, client, s.batchSize, offset)
		if err != nil {
			s.metrics.ObserveSync(kindAgent, metrics.OutcomeError)
			return synced, fmt.Errorf("failed to list agents of client %s: %w", client.ID, err)
		}

		for _, agent := range page {
			_, err := s.repos.Agents.Upsert(ctx, agent.ID, shadow.ID, domain.ShadowAgentAttributes{
				AgentType:     agent.AgentType,
				ContainerType: agent.ContainerType,
				Name:          agent.Name,
				Description:   agent.Description,
			})
			if err != nil {
				s.metrics.ObserveSync(kindAgent, metrics.OutcomeError)
				return synced, fmt.Errorf("failed to sync agent %s of client %s: %w", agent.ID, client.ID, err)
			}
			s.metrics.ObserveSync(kindAgent, metrics.OutcomeOK)
			synced++
		}

		if len(page) < s.batchSize {
			return synced, nil
		}
	}
}
