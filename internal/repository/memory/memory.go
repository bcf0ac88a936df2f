// Package memory is an in-memory implementation of the repository interfaces.
// It mirrors the Postgres query semantics closely enough for service tests and
// local runs without a database.
package memory

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rpattn/agentstats/internal/domain"
	"github.com/rpattn/agentstats/internal/repository"

	"github.com/google/uuid"
)

// Store holds every statistics table in memory.
type Store struct {
	mutex sync.RWMutex
	now   func() time.Time

	users                  []domain.ShadowUser
	clients                []domain.ShadowClient
	agents                 []domain.ShadowAgent
	clientUsers            []domain.ShadowClientUser
	provisioningReferences []domain.ShadowProvisioningReference

	chatIO      []domain.ChatIORecord
	filterDrops []domain.FilterRecord
	filterFlags []domain.FilterRecord
	events      []domain.EntityEvent

	// MapCalls counts MapOriginalIDsToShadowIDs invocations that reached the
	// store.
	MapCalls int
	// ActivityReads counts statistics queries that touched activity or event
	// rows.
	ActivityReads int
}

// New returns an empty store.
func New() *Store {
	return &Store{now: func() time.Time { return time.Now().UTC() }}
}

// SetNow overrides the clock used for created_at/updated_at and default
// occurred_at values.
func (s *Store) SetNow(now func() time.Time) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.now = now
}

// Repositories exposes the store through every repository interface.
func (s *Store) Repositories() repository.Repositories {
	return repository.Repositories{
		Users:                  userRepo{s},
		Clients:                clientRepo{s},
		Agents:                 agentRepo{s},
		ClientUsers:            clientUserRepo{s},
		ProvisioningReferences: provisioningRepo{s},
		Activity:               activityRepo{s},
		Events:                 eventRepo{s},
		Statistics:             statisticsRepo{s},
	}
}

// Snapshot accessors used by tests.

func (s *Store) Users() []domain.ShadowUser {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return append([]domain.ShadowUser{}, s.users...)
}

func (s *Store) Clients() []domain.ShadowClient {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return append([]domain.ShadowClient{}, s.clients...)
}

func (s *Store) Agents() []domain.ShadowAgent {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return append([]domain.ShadowAgent{}, s.agents...)
}

func (s *Store) ClientUsers() []domain.ShadowClientUser {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return append([]domain.ShadowClientUser{}, s.clientUsers...)
}

func (s *Store) ProvisioningReferences() []domain.ShadowProvisioningReference {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return append([]domain.ShadowProvisioningReference{}, s.provisioningReferences...)
}

func (s *Store) ChatIO() []domain.ChatIORecord {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return append([]domain.ChatIORecord{}, s.chatIO...)
}

func (s *Store) FilterRecords(kind domain.FilterRecordKind) []domain.FilterRecord {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	if kind == domain.FilterRecordFlag {
		return append([]domain.FilterRecord{}, s.filterFlags...)
	}
	return append([]domain.FilterRecord{}, s.filterDrops...)
}

func (s *Store) Events() []domain.EntityEvent {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return append([]domain.EntityEvent{}, s.events...)
}

type userRepo struct{ s *Store }

func (r userRepo) Upsert(_ context.Context, originalUserID string, attrs domain.ShadowUserAttributes) (domain.ShadowUser, error) {
	r.s.mutex.Lock()
	defer r.s.mutex.Unlock()

	role := attrs.Role
	if role == "" {
		role = domain.RoleUser
	}
	now := r.s.now()
	for i, user := range r.s.users {
		if user.OriginalUserID != nil && *user.OriginalUserID == originalUserID {
			r.s.users[i].Role = role
			r.s.users[i].UpdatedAt = now
			return r.s.users[i], nil
		}
	}
	original := originalUserID
	user := domain.ShadowUser{ID: uuid.New(), OriginalUserID: &original, Role: role, CreatedAt: now, UpdatedAt: now}
	r.s.users = append(r.s.users, user)
	return user, nil
}

func (r userRepo) FindByOriginalID(_ context.Context, originalUserID string) (domain.ShadowUser, error) {
	r.s.mutex.RLock()
	defer r.s.mutex.RUnlock()
	for _, user := range r.s.users {
		if user.OriginalUserID != nil && *user.OriginalUserID == originalUserID {
			return user, nil
		}
	}
	return domain.ShadowUser{}, repository.ErrNotFound
}

func (r userRepo) GetByIDs(_ context.Context, ids []uuid.UUID) ([]domain.ShadowUser, error) {
	r.s.mutex.RLock()
	defer r.s.mutex.RUnlock()
	wanted := idSet(ids)
	users := []domain.ShadowUser{}
	for _, user := range r.s.users {
		if _, ok := wanted[user.ID]; ok {
			users = append(users, user)
		}
	}
	return users, nil
}

type clientRepo struct{ s *Store }

func (r clientRepo) Upsert(_ context.Context, originalClientID string, attrs domain.ShadowClientAttributes) (domain.ShadowClient, error) {
	r.s.mutex.Lock()
	defer r.s.mutex.Unlock()

	now := r.s.now()
	for i, client := range r.s.clients {
		if client.OriginalClientID == originalClientID {
			r.s.clients[i].Name = attrs.Name
			r.s.clients[i].Endpoint = attrs.Endpoint
			r.s.clients[i].AuthenticationType = attrs.AuthenticationType
			r.s.clients[i].UpdatedAt = now
			return r.s.clients[i], nil
		}
	}
	client := domain.ShadowClient{
		ID:                 uuid.New(),
		OriginalClientID:   originalClientID,
		Name:               attrs.Name,
		Endpoint:           attrs.Endpoint,
		AuthenticationType: attrs.AuthenticationType,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	r.s.clients = append(r.s.clients, client)
	return client, nil
}

func (r clientRepo) FindByOriginalID(_ context.Context, originalClientID string) (domain.ShadowClient, error) {
	r.s.mutex.RLock()
	defer r.s.mutex.RUnlock()
	for _, client := range r.s.clients {
		if client.OriginalClientID == originalClientID {
			return client, nil
		}
	}
	return domain.ShadowClient{}, repository.ErrNotFound
}

func (r clientRepo) GetByIDs(_ context.Context, ids []uuid.UUID) ([]domain.ShadowClient, error) {
	r.s.mutex.RLock()
	defer r.s.mutex.RUnlock()
	wanted := idSet(ids)
	clients := []domain.ShadowClient{}
	for _, client := range r.s.clients {
		if _, ok := wanted[client.ID]; ok {
			clients = append(clients, client)
		}
	}
	sort.Slice(clients, func(i, j int) bool {
		if clients[i].Name != clients[j].Name {
			return clients[i].Name < clients[j].Name
		}
		return clients[i].ID.String() < clients[j].ID.String()
	})
	return clients, nil
}

func (r clientRepo) MapOriginalIDsToShadowIDs(_ context.Context, originalIDs []string) ([]uuid.UUID, error) {
	if len(originalIDs) == 0 {
		return []uuid.UUID{}, nil
	}
	r.s.mutex.Lock()
	defer r.s.mutex.Unlock()
	r.s.MapCalls++

	wanted := make(map[string]struct{}, len(originalIDs))
	for _, id := range originalIDs {
		wanted[id] = struct{}{}
	}
	ids := []uuid.UUID{}
	for _, client := range r.s.clients {
		if _, ok := wanted[client.OriginalClientID]; ok {
			ids = append(ids, client.ID)
		}
	}
	return ids, nil
}

type agentRepo struct{ s *Store }

func (r agentRepo) Upsert(_ context.Context, originalAgentID string, shadowClientID uuid.UUID, attrs domain.ShadowAgentAttributes) (domain.ShadowAgent, error) {
	r.s.mutex.Lock()
	defer r.s.mutex.Unlock()

	now := r.s.now()
	for i, agent := range r.s.agents {
		if agent.OriginalAgentID == originalAgentID && agent.ShadowClientID == shadowClientID {
			if attrs.AgentType != nil {
				r.s.agents[i].AgentType = attrs.AgentType
			}
			if attrs.ContainerType != nil {
				r.s.agents[i].ContainerType = attrs.ContainerType
			}
			if attrs.Name != nil {
				r.s.agents[i].Name = attrs.Name
			}
			if attrs.Description != nil {
				r.s.agents[i].Description = attrs.Description
			}
			r.s.agents[i].UpdatedAt = now
			return r.s.agents[i], nil
		}
	}
	agent := domain.ShadowAgent{
		ID:              uuid.New(),
		OriginalAgentID: originalAgentID,
		ShadowClientID:  shadowClientID,
		AgentType:       attrs.AgentType,
		ContainerType:   attrs.ContainerType,
		Name:            attrs.Name,
		Description:     attrs.Description,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	r.s.agents = append(r.s.agents, agent)
	return agent, nil
}

func (r agentRepo) FindByOriginalID(_ context.Context, originalAgentID string, shadowClientID uuid.UUID) (domain.ShadowAgent, error) {
	r.s.mutex.RLock()
	defer r.s.mutex.RUnlock()
	for _, agent := range r.s.agents {
		if agent.OriginalAgentID == originalAgentID && agent.ShadowClientID == shadowClientID {
			return agent, nil
		}
	}
	return domain.ShadowAgent{}, repository.ErrNotFound
}

func (r agentRepo) GetByIDs(_ context.Context, ids []uuid.UUID) ([]domain.ShadowAgent, error) {
	r.s.mutex.RLock()
	defer r.s.mutex.RUnlock()
	wanted := idSet(ids)
	agents := []domain.ShadowAgent{}
	for _, agent := range r.s.agents {
		if _, ok := wanted[agent.ID]; ok {
			agents = append(agents, agent)
		}
	}
	return agents, nil
}

func (r agentRepo) ListByClient(_ context.Context, shadowClientID uuid.UUID) ([]domain.ShadowAgent, error) {
	r.s.mutex.RLock()
	defer r.s.mutex.RUnlock()
	agents := []domain.ShadowAgent{}
	for _, agent := range r.s.agents {
		if agent.ShadowClientID == shadowClientID {
			agents = append(agents, agent)
		}
	}
	sort.SliceStable(agents, func(i, j int) bool {
		a, b := agents[i].Name, agents[j].Name
		switch {
		case a == nil && b == nil:
			return agents[i].OriginalAgentID < agents[j].OriginalAgentID
		case a == nil:
			return false
		case b == nil:
			return true
		case *a != *b:
			return *a < *b
		}
		return agents[i].OriginalAgentID < agents[j].OriginalAgentID
	})
	return agents, nil
}

type clientUserRepo struct{ s *Store }

func (r clientUserRepo) Upsert(_ context.Context, originalClientUserID string, attrs domain.ShadowClientUserAttributes) (domain.ShadowClientUser, error) {
	r.s.mutex.Lock()
	defer r.s.mutex.Unlock()

	role := attrs.Role
	if role == "" {
		role = domain.RoleUser
	}
	now := r.s.now()
	for i, membership := range r.s.clientUsers {
		if membership.OriginalClientUserID == originalClientUserID {
			r.s.clientUsers[i].ShadowClientID = attrs.ShadowClientID
			r.s.clientUsers[i].ShadowUserID = attrs.ShadowUserID
			r.s.clientUsers[i].Role = role
			r.s.clientUsers[i].UpdatedAt = now
			return r.s.clientUsers[i], nil
		}
	}
	membership := domain.ShadowClientUser{
		ID:                   uuid.New(),
		OriginalClientUserID: originalClientUserID,
		ShadowClientID:       attrs.ShadowClientID,
		ShadowUserID:         attrs.ShadowUserID,
		Role:                 role,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	r.s.clientUsers = append(r.s.clientUsers, membership)
	return membership, nil
}

func (r clientUserRepo) FindByOriginalID(_ context.Context, originalClientUserID string) (domain.ShadowClientUser, error) {
	r.s.mutex.RLock()
	defer r.s.mutex.RUnlock()
	for _, membership := range r.s.clientUsers {
		if membership.OriginalClientUserID == originalClientUserID {
			return membership, nil
		}
	}
	return domain.ShadowClientUser{}, repository.ErrNotFound
}

func (r clientUserRepo) GetByIDs(_ context.Context, ids []uuid.UUID) ([]domain.ShadowClientUser, error) {
	r.s.mutex.RLock()
	defer r.s.mutex.RUnlock()
	wanted := idSet(ids)
	memberships := []domain.ShadowClientUser{}
	for _, membership := range r.s.clientUsers {
		if _, ok := wanted[membership.ID]; ok {
			memberships = append(memberships, membership)
		}
	}
	return memberships, nil
}

type provisioningRepo struct{ s *Store }

func (r provisioningRepo) Upsert(_ context.Context, originalID string, attrs domain.ShadowProvisioningReferenceAttributes) (domain.ShadowProvisioningReference, error) {
	r.s.mutex.Lock()
	defer r.s.mutex.Unlock()

	now := r.s.now()
	ref := domain.ShadowProvisioningReference{
		OriginalProvisioningReferenceID: originalID,
		ShadowClientID:                  attrs.ShadowClientID,
		ProviderType:                    attrs.ProviderType,
		ServerID:                        attrs.ServerID,
		ServerName:                      attrs.ServerName,
		PublicIP:                        attrs.PublicIP,
		PrivateIP:                       attrs.PrivateIP,
		ProviderMetadata:                attrs.ProviderMetadata,
		UpdatedAt:                       now,
	}
	for i, existing := range r.s.provisioningReferences {
		if existing.OriginalProvisioningReferenceID == originalID {
			ref.ID = existing.ID
			ref.CreatedAt = existing.CreatedAt
			r.s.provisioningReferences[i] = ref
			return ref, nil
		}
	}
	ref.ID = uuid.New()
	ref.CreatedAt = now
	r.s.provisioningReferences = append(r.s.provisioningReferences, ref)
	return ref, nil
}

func (r provisioningRepo) FindByOriginalID(_ context.Context, originalID string) (domain.ShadowProvisioningReference, error) {
	r.s.mutex.RLock()
	defer r.s.mutex.RUnlock()
	for _, ref := range r.s.provisioningReferences {
		if ref.OriginalProvisioningReferenceID == originalID {
			return ref, nil
		}
	}
	return domain.ShadowProvisioningReference{}, repository.ErrNotFound
}

func (r provisioningRepo) GetByIDs(_ context.Context, ids []uuid.UUID) ([]domain.ShadowProvisioningReference, error) {
	r.s.mutex.RLock()
	defer r.s.mutex.RUnlock()
	wanted := idSet(ids)
	refs := []domain.ShadowProvisioningReference{}
	for _, ref := range r.s.provisioningReferences {
		if _, ok := wanted[ref.ID]; ok {
			refs = append(refs, ref)
		}
	}
	return refs, nil
}

type activityRepo struct{ s *Store }

func (r activityRepo) InsertChatIO(_ context.Context, record domain.ChatIORecord) (domain.ChatIORecord, error) {
	r.s.mutex.Lock()
	defer r.s.mutex.Unlock()
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	if record.OccurredAt.IsZero() {
		record.OccurredAt = r.s.now()
	}
	r.s.chatIO = append(r.s.chatIO, record)
	return record, nil
}

func (r activityRepo) InsertFilterRecord(_ context.Context, record domain.FilterRecord) (domain.FilterRecord, error) {
	r.s.mutex.Lock()
	defer r.s.mutex.Unlock()
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	if record.OccurredAt.IsZero() {
		record.OccurredAt = r.s.now()
	}
	if record.Kind == domain.FilterRecordFlag {
		r.s.filterFlags = append(r.s.filterFlags, record)
	} else {
		record.Kind = domain.FilterRecordDrop
		r.s.filterDrops = append(r.s.filterDrops, record)
	}
	return record, nil
}

type eventRepo struct{ s *Store }

func (r eventRepo) Append(_ context.Context, event domain.EntityEvent) (domain.EntityEvent, error) {
	r.s.mutex.Lock()
	defer r.s.mutex.Unlock()
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = r.s.now()
	}
	r.s.events = append(r.s.events, event)
	return event, nil
}

func idSet(ids []uuid.UUID) map[uuid.UUID]struct{} {
	set := make(map[uuid.UUID]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

func containsFold(term string, values ...string) bool {
	needle := strings.ToLower(term)
	for _, value := range values {
		if strings.Contains(strings.ToLower(value), needle) {
			return true
		}
	}
	return false
}

func itoa(v int) string { return strconv.Itoa(v) }
