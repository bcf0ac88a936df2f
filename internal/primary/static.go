package primary

import (
	"context"
	"sync"
)

// Static is an in-memory primary directory. It implements every interface in
// this package and is safe for concurrent use.
type Static struct {
	mu          sync.RWMutex
	clients     []Client
	users       []User
	memberships []ClientUser
	agents      map[string][]AgentSummary
	agentErrors map[string]error
	err         error
}

// NewStatic creates an empty Static directory.
func NewStatic() *Static {
	return &Static{
		agents:      map[string][]AgentSummary{},
		agentErrors: map[string]error{},
	}
}

var (
	_ ClientDirectory     = (*Static)(nil)
	_ UserDirectory       = (*Static)(nil)
	_ MembershipDirectory = (*Static)(nil)
	_ AgentLister         = (*Static)(nil)
)

func (s *Static) AddClient(client Client) *Static {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients = append(s.clients, client)
	return s
}

func (s *Static) AddUser(user User) *Static {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users = append(s.users, user)
	return s
}

func (s *Static) AddMembership(membership ClientUser) *Static {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.memberships = append(s.memberships, membership)
	return s
}

// SetAgents replaces the agents listed for clientID.
func (s *Static) SetAgents(clientID string, agents []AgentSummary) *Static {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agents[clientID] = agents
	return s
}

// FailAgents makes ListAgents for clientID return err.
func (s *Static) FailAgents(clientID string, err error) *Static {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agentErrors[clientID] = err
	return s
}

// Fail makes every directory lookup return err.
func (s *Static) Fail(err error) *Static {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
	return s
}

func (s *Static) GetClient(_ context.Context, clientID string) (Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.err != nil {
		return Client{}, s.err
	}
	for _, client := range s.clients {
		if client.ID == clientID {
			return client, nil
		}
	}
	return Client{}, ErrNotFound
}

func (s *Static) ListClients(context.Context) ([]Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.err != nil {
		return nil, s.err
	}
	return append([]Client{}, s.clients...), nil
}

func (s *Static) ListClientIDs(context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.err != nil {
		return nil, s.err
	}
	ids := make([]string, 0, len(s.clients))
	for _, client := range s.clients {
		ids = append(ids, client.ID)
	}
	return ids, nil
}

func (s *Static) ListClientIDsCreatedBy(_ context.Context, userID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.err != nil {
		return nil, s.err
	}
	ids := []string{}
	for _, client := range s.clients {
		if client.UserID == userID {
			ids = append(ids, client.ID)
		}
	}
	return ids, nil
}

func (s *Static) ListUsers(context.Context) ([]User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.err != nil {
		return nil, s.err
	}
	return append([]User{}, s.users...), nil
}

func (s *Static) ListClientUsersForUser(_ context.Context, userID string) ([]ClientUser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.err != nil {
		return nil, s.err
	}
	memberships := []ClientUser{}
	for _, membership := range s.memberships {
		if membership.UserID == userID {
			memberships = append(memberships, membership)
		}
	}
	return memberships, nil
}

func (s *Static) GetClientUser(_ context.Context, clientID, userID string) (ClientUser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.err != nil {
		return ClientUser{}, s.err
	}
	for _, membership := range s.memberships {
		if membership.ClientID == clientID && membership.UserID == userID {
			return membership, nil
		}
	}
	return ClientUser{}, ErrNotFound
}

func (s *Static) ListAgents(_ context.Context, client Client, limit, offset int) ([]AgentSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.agentErrors[client.ID]; err != nil {
		return nil, err
	}
	agents := s.agents[client.ID]
	if offset >= len(agents) {
		return []AgentSummary{}, nil
	}
	end := offset + limit
	if limit <= 0 || end > len(agents) {
		end = len(agents)
	}
	return append([]AgentSummary{}, agents[offset:end]...), nil
}
