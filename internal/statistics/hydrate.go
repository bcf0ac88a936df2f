package statistics

import (
	"context"
	"fmt"

	"github.com/rpattn/agentstats/internal/domain"
	"github.com/rpattn/agentstats/internal/shadowloader"

	"github.com/google/uuid"
)

// refSet collects the shadow ids referenced by one page of rows.
type refSet struct {
	clients                []uuid.UUID
	agents                 []uuid.UUID
	users                  []uuid.UUID
	clientUsers            []uuid.UUID
	provisioningReferences []uuid.UUID
}

func newRefSet() *refSet {
	return &refSet{}
}

func (r *refSet) add(client, agent, user *uuid.UUID) {
	if client != nil {
		r.clients = append(r.clients, *client)
	}
	if agent != nil {
		r.agents = append(r.agents, *agent)
	}
	if user != nil {
		r.users = append(r.users, *user)
	}
}

// addOwned records the membership and provisioning reference of an event; both
// resolve to their client during hydration.
func (r *refSet) addOwned(clientUser, provisioningReference *uuid.UUID) {
	if clientUser != nil {
		r.clientUsers = append(r.clientUsers, *clientUser)
	}
	if provisioningReference != nil {
		r.provisioningReferences = append(r.provisioningReferences, *provisioningReference)
	}
}

type hydrated struct {
	clients                map[uuid.UUID]domain.ShadowClient
	agents                 map[uuid.UUID]domain.ShadowAgent
	users                  map[uuid.UUID]domain.ShadowUser
	clientUsers            map[uuid.UUID]domain.ShadowClientUser
	provisioningReferences map[uuid.UUID]domain.ShadowProvisioningReference
}

// hydrate loads the shadow rows of a page after the page itself was fetched,
// so joins never multiply rows under pagination. Clients owning a referenced
// agent, membership or provisioning reference are loaded too.
func (s *Service) hydrate(ctx context.Context, refs *refSet) (hydrated, error) {
	loaders := shadowloader.FromContext(ctx)
	if loaders == nil {
		loaders = shadowloader.New(s.repos)
	}

	agents, err := loaders.Agents(ctx, refs.agents)
	if err != nil {
		return hydrated{}, fmt.Errorf("failed to hydrate agents: %w", err)
	}
	clientUsers, err := loaders.ClientUsers(ctx, refs.clientUsers)
	if err != nil {
		return hydrated{}, fmt.Errorf("failed to hydrate client users: %w", err)
	}
	provisioningReferences, err := loaders.ProvisioningReferences(ctx, refs.provisioningReferences)
	if err != nil {
		return hydrated{}, fmt.Errorf("failed to hydrate provisioning references: %w", err)
	}

	clientIDs := append([]uuid.UUID{}, refs.clients...)
	for _, agent := range agents {
		clientIDs = append(clientIDs, agent.ShadowClientID)
	}
	for _, membership := range clientUsers {
		clientIDs = append(clientIDs, membership.ShadowClientID)
	}
	for _, ref := range provisioningReferences {
		clientIDs = append(clientIDs, ref.ShadowClientID)
	}
	clients, err := loaders.Clients(ctx, clientIDs)
	if err != nil {
		return hydrated{}, fmt.Errorf("failed to hydrate clients: %w", err)
	}
	users, err := loaders.Users(ctx, refs.users)
	if err != nil {
		return hydrated{}, fmt.Errorf("failed to hydrate users: %w", err)
	}
	return hydrated{
		clients:                clients,
		agents:                 agents,
		users:                  users,
		clientUsers:            clientUsers,
		provisioningReferences: provisioningReferences,
	}, nil
}

// owningClient resolves the client of an event: its direct reference first,
// then the client behind its agent, membership or provisioning reference.
func (h hydrated) owningClient(event domain.EntityEvent) (domain.ShadowClient, bool) {
	var clientID *uuid.UUID
	switch {
	case event.ShadowClientID != nil:
		clientID = event.ShadowClientID
	case event.ShadowAgentID != nil:
		if agent, ok := h.agents[*event.ShadowAgentID]; ok {
			clientID = &agent.ShadowClientID
		}
	case event.ShadowClientUserID != nil:
		if membership, ok := h.clientUsers[*event.ShadowClientUserID]; ok {
			clientID = &membership.ShadowClientID
		}
	case event.ShadowProvisioningReferenceID != nil:
		if ref, ok := h.provisioningReferences[*event.ShadowProvisioningReferenceID]; ok {
			clientID = &ref.ShadowClientID
		}
	}
	if clientID == nil {
		return domain.ShadowClient{}, false
	}
	client, ok := h.clients[*clientID]
	return client, ok
}

func (h hydrated) agentID(id *uuid.UUID) *string {
	if id == nil {
		return nil
	}
	agent, ok := h.agents[*id]
	if !ok {
		return nil
	}
	originalID := agent.OriginalAgentID
	return &originalID
}

func (h hydrated) agentName(id *uuid.UUID) *string {
	if id == nil {
		return nil
	}
	if agent, ok := h.agents[*id]; ok {
		return agent.Name
	}
	return nil
}

// userID maps a shadow user back to the primary user id. Users whose primary
// row was deleted have no original id left.
func (h hydrated) userID(id *uuid.UUID) *string {
	if id == nil {
		return nil
	}
	if user, ok := h.users[*id]; ok {
		return user.OriginalUserID
	}
	return nil
}
