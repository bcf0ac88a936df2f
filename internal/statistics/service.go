// Package statistics answers the filtered list and summary queries. Every
// query is scoped to the shadow clients the caller may see before any activity
// table is read.
package statistics

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/rpattn/agentstats/internal/domain"
	"github.com/rpattn/agentstats/internal/repository"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrAccessDenied is returned when a single-client query targets a client the
// caller may not see.
var ErrAccessDenied = errors.New("access denied")

// AccessResolver decides which clients a caller may see.
type AccessResolver interface {
	ResolveAccessibleClientIDs(ctx context.Context, identity domain.Identity) []string
	CheckAccess(ctx context.Context, clientID string, identity domain.Identity) domain.AccessResult
	IsGlobal(identity domain.Identity) bool
}

// Service is the query and aggregation engine.
type Service struct {
	repos  repository.Repositories
	access AccessResolver
	logger zerolog.Logger
}

// NewService creates a statistics query service.
func NewService(repos repository.Repositories, access AccessResolver, logger zerolog.Logger) *Service {
	return &Service{
		repos:  repos,
		access: access,
		logger: logger.With().Str("component", "statistics").Logger(),
	}
}

// scope resolves the shadow client ids a query may read. With clientID set the
// caller must pass CheckAccess for that client; otherwise every accessible
// client is in scope. global is true for an unrestricted, all-client query.
func (s *Service) scope(ctx context.Context, identity domain.Identity, clientID *string) (ids []uuid.UUID, global bool, err error) {
	var originalIDs []string
	if clientID != nil {
		if result := s.access.CheckAccess(ctx, *clientID, identity); !result.HasAccess {
			return nil, false, fmt.Errorf("%w: client %s", ErrAccessDenied, *clientID)
		}
		originalIDs = []string{*clientID}
	} else {
		originalIDs = s.access.ResolveAccessibleClientIDs(ctx, identity)
		global = s.access.IsGlobal(identity)
	}

	ids, err = s.repos.Clients.MapOriginalIDsToShadowIDs(ctx, originalIDs)
	if err != nil {
		return nil, false, fmt.Errorf("failed to map client ids: %w", err)
	}
	return ids, global, nil
}

func activityQuery(ids []uuid.UUID, filter domain.ListFilter) domain.ActivityQuery {
	return domain.ActivityQuery{
		ShadowClientIDs: ids,
		AgentID:         filter.AgentID,
		From:            filter.From,
		To:              filter.To,
		Search:          filter.Search,
		Direction:       filter.Direction,
		FilterType:      filter.FilterType,
		Limit:           filter.Limit,
		Offset:          filter.Offset,
	}
}

// ListChatIO returns one page of chat I/O records, newest first.
func (s *Service) ListChatIO(ctx context.Context, identity domain.Identity, filter domain.ListFilter) (domain.Page[domain.ChatIOView], error) {
	filter = filter.Normalized()
	ids, _, err := s.scope(ctx, identity, filter.ClientID)
	if err != nil {
		return domain.Page[domain.ChatIOView]{}, err
	}
	if len(ids) == 0 {
		return domain.EmptyPage[domain.ChatIOView](filter.Limit, filter.Offset), nil
	}

	records, total, err := s.repos.Statistics.ListChatIO(ctx, activityQuery(ids, filter))
	if err != nil {
		return domain.Page[domain.ChatIOView]{}, fmt.Errorf("failed to list chat io: %w", err)
	}

	refs := newRefSet()
	for _, record := range records {
		refs.add(&record.ShadowClientID, record.ShadowAgentID, record.ShadowUserID)
	}
	h, err := s.hydrate(ctx, refs)
	if err != nil {
		return domain.Page[domain.ChatIOView]{}, err
	}

	views := make([]domain.ChatIOView, 0, len(records))
	for _, record := range records {
		client := h.clients[record.ShadowClientID]
		views = append(views, domain.ChatIOView{
			ID:         record.ID.String(),
			Direction:  record.Direction,
			WordCount:  record.WordCount,
			CharCount:  record.CharCount,
			OccurredAt: record.OccurredAt,
			ClientID:   client.OriginalClientID,
			ClientName: client.Name,
			AgentID:    h.agentID(record.ShadowAgentID),
			AgentName:  h.agentName(record.ShadowAgentID),
			UserID:     h.userID(record.ShadowUserID),
		})
	}
	return domain.Page[domain.ChatIOView]{Data: views, Total: total, Limit: filter.Limit, Offset: filter.Offset}, nil
}

// ListFilterDrops returns one page of filter drops, newest first.
func (s *Service) ListFilterDrops(ctx context.Context, identity domain.Identity, filter domain.ListFilter) (domain.Page[domain.FilterRecordView], error) {
	return s.listFilterRecords(ctx, domain.FilterRecordDrop, identity, filter)
}

// ListFilterFlags returns one page of filter flags, newest first.
func (s *Service) ListFilterFlags(ctx context.Context, identity domain.Identity, filter domain.ListFilter) (domain.Page[domain.FilterRecordView], error) {
	return s.listFilterRecords(ctx, domain.FilterRecordFlag, identity, filter)
}

func (s *Service) listFilterRecords(ctx context.Context, kind domain.FilterRecordKind, identity domain.Identity, filter domain.ListFilter) (domain.Page[domain.FilterRecordView], error) {
	filter = filter.Normalized()
	ids, _, err := s.scope(ctx, identity, filter.ClientID)
	if err != nil {
		return domain.Page[domain.FilterRecordView]{}, err
	}
	if len(ids) == 0 {
		return domain.EmptyPage[domain.FilterRecordView](filter.Limit, filter.Offset), nil
	}

	records, total, err := s.repos.Statistics.ListFilterRecords(ctx, kind, activityQuery(ids, filter))
	if err != nil {
		return domain.Page[domain.FilterRecordView]{}, fmt.Errorf("failed to list filter %ss: %w", kind, err)
	}

	refs := newRefSet()
	for _, record := range records {
		refs.add(&record.ShadowClientID, record.ShadowAgentID, record.ShadowUserID)
	}
	h, err := s.hydrate(ctx, refs)
	if err != nil {
		return domain.Page[domain.FilterRecordView]{}, err
	}

	views := make([]domain.FilterRecordView, 0, len(records))
	for _, record := range records {
		client := h.clients[record.ShadowClientID]
		views = append(views, domain.FilterRecordView{
			ID:                record.ID.String(),
			Direction:         record.Direction,
			FilterType:        record.FilterType,
			FilterDisplayName: record.FilterDisplayName,
			FilterReason:      record.FilterReason,
			WordCount:         record.WordCount,
			CharCount:         record.CharCount,
			OccurredAt:        record.OccurredAt,
			ClientID:          client.OriginalClientID,
			ClientName:        client.Name,
			AgentID:           h.agentID(record.ShadowAgentID),
			AgentName:         h.agentName(record.ShadowAgentID),
			UserID:            h.userID(record.ShadowUserID),
		})
	}
	return domain.Page[domain.FilterRecordView]{Data: views, Total: total, Limit: filter.Limit, Offset: filter.Offset}, nil
}

// ListEntityEvents returns one page of lifecycle events, newest first. Global
// callers also see events that belong to no client, such as user lifecycle.
func (s *Service) ListEntityEvents(ctx context.Context, identity domain.Identity, filter domain.ListFilter) (domain.Page[domain.EntityEventView], error) {
	filter = filter.Normalized()
	ids, global, err := s.scope(ctx, identity, filter.ClientID)
	if err != nil {
		return domain.Page[domain.EntityEventView]{}, err
	}
	if len(ids) == 0 {
		return domain.EmptyPage[domain.EntityEventView](filter.Limit, filter.Offset), nil
	}

	events, total, err := s.repos.Statistics.ListEntityEvents(ctx, domain.EntityEventQuery{
		ShadowClientIDs: ids,
		IncludeUnscoped: global,
		AgentID:         filter.AgentID,
		From:            filter.From,
		To:              filter.To,
		Search:          filter.Search,
		EntityType:      filter.EntityType,
		EventType:       filter.EventType,
		Limit:           filter.Limit,
		Offset:          filter.Offset,
	})
	if err != nil {
		return domain.Page[domain.EntityEventView]{}, fmt.Errorf("failed to list entity events: %w", err)
	}

	refs := newRefSet()
	for _, event := range events {
		refs.add(event.ShadowClientID, event.ShadowAgentID, event.ActingShadowUserID)
		refs.addOwned(event.ShadowClientUserID, event.ShadowProvisioningReferenceID)
	}
	h, err := s.hydrate(ctx, refs)
	if err != nil {
		return domain.Page[domain.EntityEventView]{}, err
	}

	views := make([]domain.EntityEventView, 0, len(events))
	for _, event := range events {
		view := domain.EntityEventView{
			ID:               event.ID.String(),
			EventType:        event.EventType,
			EntityType:       event.EntityType,
			OriginalEntityID: event.OriginalEntityID,
			OccurredAt:       event.OccurredAt,
			AgentName:        h.agentName(event.ShadowAgentID),
			ActingUserID:     h.userID(event.ActingShadowUserID),
		}
		if client, ok := h.owningClient(event); ok {
			originalID, name := client.OriginalClientID, client.Name
			view.ClientID = &originalID
			view.ClientName = &name
		}
		views = append(views, view)
	}
	return domain.Page[domain.EntityEventView]{Data: views, Total: total, Limit: filter.Limit, Offset: filter.Offset}, nil
}

// Summary aggregates chat volume and filter decisions over every client in
// scope, or over filter.ClientID alone when it is set.
func (s *Service) Summary(ctx context.Context, identity domain.Identity, filter domain.SummaryFilter) (domain.Summary, error) {
	ids, _, err := s.scope(ctx, identity, filter.ClientID)
	if err != nil {
		return domain.Summary{}, err
	}
	summary := domain.EmptySummary()
	if len(ids) == 0 {
		if filter.GroupBy != nil {
			summary.TimeSeries = []domain.TimeSeriesPoint{}
		}
		return summary, nil
	}

	query := domain.SummaryQuery{
		ShadowClientIDs: ids,
		AgentID:         filter.AgentID,
		From:            filter.From,
		To:              filter.To,
	}

	totals, err := s.repos.Statistics.ChatTotals(ctx, query)
	if err != nil {
		return domain.Summary{}, fmt.Errorf("failed to aggregate chat io: %w", err)
	}
	summary.TotalMessages = totals.MessageCount
	summary.TotalWords = totals.WordCount
	summary.TotalChars = totals.CharCount
	if totals.MessageCount > 0 {
		summary.AvgWordsPerMessage = float64(totals.WordCount) / float64(totals.MessageCount)
	}

	drops, err := s.repos.Statistics.FilterBreakdown(ctx, domain.FilterRecordDrop, query)
	if err != nil {
		return domain.Summary{}, fmt.Errorf("failed to aggregate filter drops: %w", err)
	}
	summary.FilterDropBreakdown = drops
	summary.FilterDropCount, summary.UniqueFilterTypes = breakdownTotals(drops)

	flags, err := s.repos.Statistics.FilterBreakdown(ctx, domain.FilterRecordFlag, query)
	if err != nil {
		return domain.Summary{}, fmt.Errorf("failed to aggregate filter flags: %w", err)
	}
	summary.FilterFlagBreakdown = flags
	summary.FilterFlagCount, summary.UniqueFlagFilterTypes = breakdownTotals(flags)

	if filter.GroupBy != nil {
		series, err := s.repos.Statistics.ChatTimeSeries(ctx, *filter.GroupBy, query)
		if err != nil {
			return domain.Summary{}, fmt.Errorf("failed to build time series: %w", err)
		}
		if series == nil {
			series = []domain.TimeSeriesPoint{}
		}
		summary.TimeSeries = series
	}
	return summary, nil
}

func breakdownTotals(breakdown []domain.FilterBreakdown) (int64, []string) {
	var total int64
	seen := map[string]struct{}{}
	types := []string{}
	for _, entry := range breakdown {
		total += entry.Count
		if _, ok := seen[entry.FilterType]; ok {
			continue
		}
		seen[entry.FilterType] = struct{}{}
		types = append(types, entry.FilterType)
	}
	sort.Strings(types)
	return total, types
}

// ListClients returns the accessible clients that have a shadow row, ordered
// by name.
func (s *Service) ListClients(ctx context.Context, identity domain.Identity) ([]domain.ClientView, error) {
	ids, _, err := s.scope(ctx, identity, nil)
	if err != nil {
		return nil, err
	}
	views := []domain.ClientView{}
	if len(ids) == 0 {
		return views, nil
	}

	clients, err := s.repos.Clients.GetByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load clients: %w", err)
	}
	for _, client := range clients {
		views = append(views, domain.ClientView{
			ID:                 client.OriginalClientID,
			Name:               client.Name,
			Endpoint:           client.Endpoint,
			AuthenticationType: client.AuthenticationType,
			CreatedAt:          client.CreatedAt,
		})
	}
	sort.Slice(views, func(i, j int) bool {
		if views[i].Name != views[j].Name {
			return views[i].Name < views[j].Name
		}
		return views[i].ID < views[j].ID
	})
	return views, nil
}

// ListAgents returns the shadow agents of one client.
func (s *Service) ListAgents(ctx context.Context, identity domain.Identity, clientID string) ([]domain.AgentView, error) {
	if result := s.access.CheckAccess(ctx, clientID, identity); !result.HasAccess {
		return nil, fmt.Errorf("%w: client %s", ErrAccessDenied, clientID)
	}

	views := []domain.AgentView{}
	client, err := s.repos.Clients.FindByOriginalID(ctx, clientID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return views, nil
		}
		return nil, fmt.Errorf("failed to load client: %w", err)
	}

	agents, err := s.repos.Agents.ListByClient(ctx, client.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list agents: %w", err)
	}
	for _, agent := range agents {
		views = append(views, domain.AgentView{
			ID:            agent.OriginalAgentID,
			ClientID:      client.OriginalClientID,
			Name:          agent.Name,
			Description:   agent.Description,
			AgentType:     agent.AgentType,
			ContainerType: agent.ContainerType,
		})
	}
	return views, nil
}
