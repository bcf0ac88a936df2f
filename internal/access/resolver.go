// Package access decides which clients a caller may read statistics for.
package access

import (
	"context"
	"errors"

	"github.com/rpattn/agentstats/internal/domain"
	"github.com/rpattn/agentstats/internal/primary"

	"github.com/rs/zerolog"
)

// Option configures a Resolver.
type Option func(*Resolver)

// WithCache enables caching of per-user client sets.
func WithCache(cache Cache) Option {
	return func(r *Resolver) {
		if cache != nil {
			r.cache = cache
		}
	}
}

// Resolver computes accessible client sets. It never returns errors: lookup
// failures are logged and resolve to no access.
type Resolver struct {
	clients     primary.ClientDirectory
	memberships primary.MembershipDirectory
	authMethod  domain.AuthMethod
	cache       Cache
	logger      zerolog.Logger
}

// NewResolver creates a Resolver for the deployment's authentication method.
func NewResolver(clients primary.ClientDirectory, memberships primary.MembershipDirectory, authMethod domain.AuthMethod, logger zerolog.Logger, opts ...Option) *Resolver {
	r := &Resolver{
		clients:     clients,
		memberships: memberships,
		authMethod:  authMethod,
		cache:       noopCache{},
		logger:      logger.With().Str("component", "access").Logger(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// effective applies the deployment auth method: in api-key deployments every
// caller is API-key authenticated.
func (r *Resolver) effective(identity domain.Identity) domain.Identity {
	if r.authMethod == domain.AuthMethodAPIKey {
		identity.IsAPIKeyAuth = true
	}
	return identity
}

// IsGlobal reports whether identity sees every client.
func (r *Resolver) IsGlobal(identity domain.Identity) bool {
	return r.effective(identity).IsGlobal()
}

// ResolveAccessibleClientIDs returns the original client ids identity may
// read. Order is not guaranteed.
func (r *Resolver) ResolveAccessibleClientIDs(ctx context.Context, identity domain.Identity) []string {
	identity = r.effective(identity)

	if identity.IsGlobal() {
		ids, err := r.clients.ListClientIDs(ctx)
		if err != nil {
			r.logger.Error().Err(err).Msg("failed to list clients for global caller")
			return []string{}
		}
		return ids
	}

	if identity.UserID == "" {
		return []string{}
	}

	if cached, ok, err := r.cache.Get(ctx, identity.UserID); err != nil {
		r.logger.Warn().Err(err).Str("user_id", identity.UserID).Msg("access cache read failed")
	} else if ok {
		return cached
	}

	created, err := r.clients.ListClientIDsCreatedBy(ctx, identity.UserID)
	if err != nil {
		r.logger.Error().Err(err).Str("user_id", identity.UserID).Msg("failed to list clients created by user")
		return []string{}
	}
	memberships, err := r.memberships.ListClientUsersForUser(ctx, identity.UserID)
	if err != nil {
		r.logger.Error().Err(err).Str("user_id", identity.UserID).Msg("failed to list client memberships")
		return []string{}
	}

	seen := make(map[string]struct{}, len(created)+len(memberships))
	ids := make([]string, 0, len(created)+len(memberships))
	add := func(id string) {
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	for _, id := range created {
		add(id)
	}
	for _, membership := range memberships {
		add(membership.ClientID)
	}

	if err := r.cache.Set(ctx, identity.UserID, ids); err != nil {
		r.logger.Warn().Err(err).Str("user_id", identity.UserID).Msg("access cache write failed")
	}
	return ids
}

// CheckAccess decides access to a single client: global callers always, then
// the creator, then a membership row carrying its role.
func (r *Resolver) CheckAccess(ctx context.Context, clientID string, identity domain.Identity) domain.AccessResult {
	identity = r.effective(identity)

	if identity.IsGlobal() {
		return domain.AccessResult{HasAccess: true}
	}
	if identity.UserID == "" || clientID == "" {
		return domain.AccessResult{}
	}

	client, err := r.clients.GetClient(ctx, clientID)
	switch {
	case err == nil:
		if client.UserID == identity.UserID {
			return domain.AccessResult{HasAccess: true, IsCreator: true}
		}
	case errors.Is(err, primary.ErrNotFound):
		return domain.AccessResult{}
	default:
		r.logger.Error().Err(err).Str("client_id", clientID).Msg("failed to load client for access check")
		return domain.AccessResult{}
	}

	membership, err := r.memberships.GetClientUser(ctx, clientID, identity.UserID)
	if err != nil {
		if !errors.Is(err, primary.ErrNotFound) {
			r.logger.Error().Err(err).Str("client_id", clientID).Str("user_id", identity.UserID).Msg("failed to load membership for access check")
		}
		return domain.AccessResult{}
	}
	role := membership.Role
	return domain.AccessResult{HasAccess: true, ClientRole: &role}
}
