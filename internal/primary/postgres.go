package primary

import (
	"context"
	"errors"
	"fmt"

	"github.com/rpattn/agentstats/internal/db"

	"github.com/jackc/pgx/v5"
)

// Postgres reads the primary users, clients and client_users tables. It
// implements ClientDirectory, UserDirectory and MembershipDirectory.
type Postgres struct {
	db db.DBTX
}

// NewPostgres creates a primary-entity reader.
func NewPostgres(exec db.DBTX) *Postgres {
	return &Postgres{db: exec}
}

var (
	_ ClientDirectory     = (*Postgres)(nil)
	_ UserDirectory       = (*Postgres)(nil)
	_ MembershipDirectory = (*Postgres)(nil)
)

const clientColumns = "id::text, name, COALESCE(endpoint, ''), COALESCE(authentication_type, ''), COALESCE(user_id::text, '')"

func (p *Postgres) GetClient(ctx context.Context, clientID string) (Client, error) {
	row := p.db.QueryRow(ctx, `SELECT `+clientColumns+` FROM clients WHERE id::text = $1`, clientID)
	client, err := scanClient(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Client{}, ErrNotFound
		}
		return Client{}, fmt.Errorf("failed to get client: %w", err)
	}
	return client, nil
}

func (p *Postgres) ListClients(ctx context.Context) ([]Client, error) {
	rows, err := p.db.Query(ctx, `SELECT `+clientColumns+` FROM clients ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list clients: %w", err)
	}
	defer rows.Close()

	clients := []Client{}
	for rows.Next() {
		client, err := scanClient(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan client: %w", err)
		}
		clients = append(clients, client)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate clients: %w", err)
	}
	return clients, nil
}

func (p *Postgres) ListClientIDs(ctx context.Context) ([]string, error) {
	return p.ids(ctx, `SELECT id::text FROM clients`)
}

func (p *Postgres) ListClientIDsCreatedBy(ctx context.Context, userID string) ([]string, error) {
	return p.ids(ctx, `SELECT id::text FROM clients WHERE user_id::text = $1`, userID)
}

func (p *Postgres) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := p.db.Query(ctx, `SELECT id::text, COALESCE(role, 'user') FROM users ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	users := []User{}
	for rows.Next() {
		var user User
		if err := rows.Scan(&user.ID, &user.Role); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate users: %w", err)
	}
	return users, nil
}

func (p *Postgres) ListClientUsersForUser(ctx context.Context, userID string) ([]ClientUser, error) {
	rows, err := p.db.Query(ctx,
		`SELECT id::text, client_id::text, user_id::text, COALESCE(role, 'user') FROM client_users WHERE user_id::text = $1`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list client users: %w", err)
	}
	defer rows.Close()

	memberships := []ClientUser{}
	for rows.Next() {
		var membership ClientUser
		if err := rows.Scan(&membership.ID, &membership.ClientID, &membership.UserID, &membership.Role); err != nil {
			return nil, fmt.Errorf("failed to scan client user: %w", err)
		}
		memberships = append(memberships, membership)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate client users: %w", err)
	}
	return memberships, nil
}

func (p *Postgres) GetClientUser(ctx context.Context, clientID, userID string) (ClientUser, error) {
	var membership ClientUser
	err := p.db.QueryRow(ctx,
		`SELECT id::text, client_id::text, user_id::text, COALESCE(role, 'user') FROM client_users WHERE client_id::text = $1 AND user_id::text = $2`,
		clientID, userID,
	).Scan(&membership.ID, &membership.ClientID, &membership.UserID, &membership.Role)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ClientUser{}, ErrNotFound
		}
		return ClientUser{}, fmt.Errorf("failed to get client user: %w", err)
	}
	return membership, nil
}

func (p *Postgres) ids(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := p.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list client ids: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan client id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate client ids: %w", err)
	}
	return ids, nil
}

func scanClient(row pgx.Row) (Client, error) {
	var client Client
	err := row.Scan(&client.ID, &client.Name, &client.Endpoint, &client.AuthenticationType, &client.UserID)
	return client, err
}
