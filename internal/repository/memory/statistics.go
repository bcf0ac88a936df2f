package memory

import (
	"context"
	"sort"
	"time"

	"github.com/rpattn/agentstats/internal/domain"

	"github.com/google/uuid"
)

type statisticsRepo struct{ s *Store }

type scope struct {
	clients map[uuid.UUID]struct{}
	agents  map[uuid.UUID]struct{}
	agentID *string
	from    *time.Time
	to      *time.Time
}

// newScope must be called with the read lock held.
func (s *Store) newScope(clientIDs []uuid.UUID, agentID *string, from, to *time.Time) scope {
	sc := scope{clients: idSet(clientIDs), agentID: agentID, from: from, to: to}
	if agentID != nil {
		sc.agents = map[uuid.UUID]struct{}{}
		for _, agent := range s.agents {
			if _, ok := sc.clients[agent.ShadowClientID]; ok && agent.OriginalAgentID == *agentID {
				sc.agents[agent.ID] = struct{}{}
			}
		}
	}
	return sc
}

func (sc scope) matches(clientID uuid.UUID, agentID *uuid.UUID, occurredAt time.Time) bool {
	if _, ok := sc.clients[clientID]; !ok {
		return false
	}
	if sc.agentID != nil {
		if agentID == nil {
			return false
		}
		if _, ok := sc.agents[*agentID]; !ok {
			return false
		}
	}
	if sc.from != nil && occurredAt.Before(*sc.from) {
		return false
	}
	if sc.to != nil && occurredAt.After(*sc.to) {
		return false
	}
	return true
}

func (r statisticsRepo) ListChatIO(_ context.Context, query domain.ActivityQuery) ([]domain.ChatIORecord, int64, error) {
	r.s.mutex.Lock()
	r.s.ActivityReads++
	r.s.mutex.Unlock()

	r.s.mutex.RLock()
	defer r.s.mutex.RUnlock()

	sc := r.s.newScope(query.ShadowClientIDs, query.AgentID, query.From, query.To)
	matched := []domain.ChatIORecord{}
	for _, record := range r.s.chatIO {
		if !sc.matches(record.ShadowClientID, record.ShadowAgentID, record.OccurredAt) {
			continue
		}
		if query.Direction != "" && string(record.Direction) != query.Direction {
			continue
		}
		if query.Search != "" && !containsFold(query.Search,
			record.ID.String(), string(record.Direction), itoa(record.WordCount), itoa(record.CharCount)) {
			continue
		}
		matched = append(matched, record)
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return newerFirst(matched[i].OccurredAt, matched[i].ID, matched[j].OccurredAt, matched[j].ID)
	})
	return pageOf(matched, query.Limit, query.Offset), int64(len(matched)), nil
}

func (r statisticsRepo) ListFilterRecords(_ context.Context, kind domain.FilterRecordKind, query domain.ActivityQuery) ([]domain.FilterRecord, int64, error) {
	r.s.mutex.Lock()
	r.s.ActivityReads++
	r.s.mutex.Unlock()

	r.s.mutex.RLock()
	defer r.s.mutex.RUnlock()

	source := r.s.filterDrops
	if kind == domain.FilterRecordFlag {
		source = r.s.filterFlags
	}
	sc := r.s.newScope(query.ShadowClientIDs, query.AgentID, query.From, query.To)
	matched := []domain.FilterRecord{}
	for _, record := range source {
		if !sc.matches(record.ShadowClientID, record.ShadowAgentID, record.OccurredAt) {
			continue
		}
		if query.Direction != "" && string(record.Direction) != query.Direction {
			continue
		}
		if query.FilterType != "" && record.FilterType != query.FilterType {
			continue
		}
		reason := ""
		if record.FilterReason != nil {
			reason = *record.FilterReason
		}
		if query.Search != "" && !containsFold(query.Search,
			record.ID.String(), string(record.Direction), record.FilterType, record.FilterDisplayName,
			reason, itoa(record.WordCount), itoa(record.CharCount)) {
			continue
		}
		matched = append(matched, record)
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return newerFirst(matched[i].OccurredAt, matched[i].ID, matched[j].OccurredAt, matched[j].ID)
	})
	return pageOf(matched, query.Limit, query.Offset), int64(len(matched)), nil
}

func (r statisticsRepo) ListEntityEvents(_ context.Context, query domain.EntityEventQuery) ([]domain.EntityEvent, int64, error) {
	r.s.mutex.Lock()
	r.s.ActivityReads++
	r.s.mutex.Unlock()

	r.s.mutex.RLock()
	defer r.s.mutex.RUnlock()

	clients := idSet(query.ShadowClientIDs)
	ownedAgents := map[uuid.UUID]struct{}{}
	filterAgents := map[uuid.UUID]struct{}{}
	for _, agent := range r.s.agents {
		if _, ok := clients[agent.ShadowClientID]; ok {
			ownedAgents[agent.ID] = struct{}{}
			if query.AgentID != nil && agent.OriginalAgentID == *query.AgentID {
				filterAgents[agent.ID] = struct{}{}
			}
		}
	}
	ownedMemberships := map[uuid.UUID]struct{}{}
	for _, membership := range r.s.clientUsers {
		if _, ok := clients[membership.ShadowClientID]; ok {
			ownedMemberships[membership.ID] = struct{}{}
		}
	}
	ownedReferences := map[uuid.UUID]struct{}{}
	for _, ref := range r.s.provisioningReferences {
		if _, ok := clients[ref.ShadowClientID]; ok {
			ownedReferences[ref.ID] = struct{}{}
		}
	}

	matched := []domain.EntityEvent{}
	for _, event := range r.s.events {
		inScope := in(clients, event.ShadowClientID) ||
			in(ownedAgents, event.ShadowAgentID) ||
			in(ownedMemberships, event.ShadowClientUserID) ||
			in(ownedReferences, event.ShadowProvisioningReferenceID)
		if !inScope && query.IncludeUnscoped {
			inScope = event.ShadowClientID == nil && event.ShadowAgentID == nil &&
				event.ShadowClientUserID == nil && event.ShadowProvisioningReferenceID == nil
		}
		if !inScope {
			continue
		}
		if query.AgentID != nil && !in(filterAgents, event.ShadowAgentID) {
			continue
		}
		if query.From != nil && event.OccurredAt.Before(*query.From) {
			continue
		}
		if query.To != nil && event.OccurredAt.After(*query.To) {
			continue
		}
		if query.EntityType != nil && event.EntityType != *query.EntityType {
			continue
		}
		if query.EventType != nil && event.EventType != *query.EventType {
			continue
		}
		if query.Search != "" && !containsFold(query.Search,
			event.ID.String(), string(event.EventType), string(event.EntityType), event.OriginalEntityID) {
			continue
		}
		matched = append(matched, event)
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return newerFirst(matched[i].OccurredAt, matched[i].ID, matched[j].OccurredAt, matched[j].ID)
	})
	return pageOf(matched, query.Limit, query.Offset), int64(len(matched)), nil
}

func (r statisticsRepo) ChatTotals(_ context.Context, query domain.SummaryQuery) (domain.ChatTotals, error) {
	r.s.mutex.Lock()
	r.s.ActivityReads++
	r.s.mutex.Unlock()

	r.s.mutex.RLock()
	defer r.s.mutex.RUnlock()

	sc := r.s.newScope(query.ShadowClientIDs, query.AgentID, query.From, query.To)
	var totals domain.ChatTotals
	for _, record := range r.s.chatIO {
		if !sc.matches(record.ShadowClientID, record.ShadowAgentID, record.OccurredAt) {
			continue
		}
		totals.MessageCount++
		totals.WordCount += int64(record.WordCount)
		totals.CharCount += int64(record.CharCount)
	}
	return totals, nil
}

func (r statisticsRepo) FilterBreakdown(_ context.Context, kind domain.FilterRecordKind, query domain.SummaryQuery) ([]domain.FilterBreakdown, error) {
	r.s.mutex.Lock()
	r.s.ActivityReads++
	r.s.mutex.Unlock()

	r.s.mutex.RLock()
	defer r.s.mutex.RUnlock()

	source := r.s.filterDrops
	if kind == domain.FilterRecordFlag {
		source = r.s.filterFlags
	}
	type key struct {
		filterType string
		direction  domain.FilterDirection
	}
	counts := map[key]int64{}
	sc := r.s.newScope(query.ShadowClientIDs, query.AgentID, query.From, query.To)
	for _, record := range source {
		if sc.matches(record.ShadowClientID, record.ShadowAgentID, record.OccurredAt) {
			counts[key{record.FilterType, record.Direction}]++
		}
	}

	breakdown := make([]domain.FilterBreakdown, 0, len(counts))
	for k, count := range counts {
		breakdown = append(breakdown, domain.FilterBreakdown{FilterType: k.filterType, Direction: k.direction, Count: count})
	}
	sort.Slice(breakdown, func(i, j int) bool {
		if breakdown[i].FilterType != breakdown[j].FilterType {
			return breakdown[i].FilterType < breakdown[j].FilterType
		}
		return breakdown[i].Direction < breakdown[j].Direction
	})
	return breakdown, nil
}

func (r statisticsRepo) ChatTimeSeries(_ context.Context, granularity domain.Granularity, query domain.SummaryQuery) ([]domain.TimeSeriesPoint, error) {
	if _, err := domain.ParseGranularity(string(granularity)); err != nil {
		return nil, err
	}

	r.s.mutex.Lock()
	r.s.ActivityReads++
	r.s.mutex.Unlock()

	r.s.mutex.RLock()
	defer r.s.mutex.RUnlock()

	buckets := map[time.Time]*domain.TimeSeriesPoint{}
	sc := r.s.newScope(query.ShadowClientIDs, query.AgentID, query.From, query.To)
	for _, record := range r.s.chatIO {
		if !sc.matches(record.ShadowClientID, record.ShadowAgentID, record.OccurredAt) {
			continue
		}
		period := truncate(record.OccurredAt.UTC(), granularity)
		point, ok := buckets[period]
		if !ok {
			point = &domain.TimeSeriesPoint{Period: period}
			buckets[period] = point
		}
		point.Count++
		point.WordCount += int64(record.WordCount)
		point.CharCount += int64(record.CharCount)
	}

	points := make([]domain.TimeSeriesPoint, 0, len(buckets))
	for _, point := range buckets {
		points = append(points, *point)
	}
	sort.Slice(points, func(i, j int) bool { return points[i].Period.Before(points[j].Period) })
	return points, nil
}

func truncate(t time.Time, granularity domain.Granularity) time.Time {
	if granularity == domain.GranularityHour {
		return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, time.UTC)
	}
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func in(set map[uuid.UUID]struct{}, id *uuid.UUID) bool {
	if id == nil {
		return false
	}
	_, ok := set[*id]
	return ok
}

func newerFirst(a time.Time, aID uuid.UUID, b time.Time, bID uuid.UUID) bool {
	if !a.Equal(b) {
		return a.After(b)
	}
	return aID.String() > bID.String()
}

func pageOf[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return []T{}
	}
	end := len(items)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return items[offset:end]
}
