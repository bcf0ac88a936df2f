// Package primary reads the platform's primary entities (users, clients,
// memberships, agents). The statistics subsystem never writes them.
package primary

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a primary entity does not exist.
var ErrNotFound = errors.New("primary entity not found")

// Client is the non-secret view of a primary client.
type Client struct {
	ID                 string
	Name               string
	Endpoint           string
	AuthenticationType string
	// UserID is the creator of the client.
	UserID string
}

type User struct {
	ID   string
	Role string
}

type ClientUser struct {
	ID       string
	ClientID string
	UserID   string
	Role     string
}

// AgentSummary is one entry of a client's agent listing.
type AgentSummary struct {
	ID            string  `json:"id"`
	Name          *string `json:"name,omitempty"`
	Description   *string `json:"description,omitempty"`
	AgentType     *string `json:"agentType,omitempty"`
	ContainerType *string `json:"containerType,omitempty"`
}

// ClientDirectory reads primary clients.
type ClientDirectory interface {
	GetClient(ctx context.Context, clientID string) (Client, error)
	ListClients(ctx context.Context) ([]Client, error)
	ListClientIDs(ctx context.Context) ([]string, error)
	ListClientIDsCreatedBy(ctx context.Context, userID string) ([]string, error)
}

// UserDirectory reads primary users.
type UserDirectory interface {
	ListUsers(ctx context.Context) ([]User, error)
}

// MembershipDirectory reads client-user membership rows.
type MembershipDirectory interface {
	ListClientUsersForUser(ctx context.Context, userID string) ([]ClientUser, error)
	GetClientUser(ctx context.Context, clientID, userID string) (ClientUser, error)
}

// AgentLister pages through the agents a client's agent manager hosts.
type AgentLister interface {
	ListAgents(ctx context.Context, client Client, limit, offset int) ([]AgentSummary, error)
}
