package access

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/rpattn/agentstats/internal/domain"
	"github.com/rpattn/agentstats/internal/primary"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func newDirectory() *primary.Static {
	return primary.NewStatic().
		AddClient(primary.Client{ID: "c1", Name: "One", UserID: "u1"}).
		AddClient(primary.Client{ID: "c2", Name: "Two", UserID: "u2"}).
		AddClient(primary.Client{ID: "c3", Name: "Three", UserID: "u2"}).
		AddMembership(primary.ClientUser{ID: "m1", ClientID: "c1", UserID: "u3", Role: "viewer"}).
		AddMembership(primary.ClientUser{ID: "m2", ClientID: "c2", UserID: "u1", Role: "editor"}).
		AddMembership(primary.ClientUser{ID: "m3", ClientID: "c1", UserID: "u1", Role: "owner"})
}

func sorted(ids []string) []string {
	out := append([]string{}, ids...)
	sort.Strings(out)
	return out
}

func TestResolveAccessibleClientIDs(t *testing.T) {
	dir := newDirectory()
	resolver := NewResolver(dir, dir, domain.AuthMethodPassword, zerolog.Nop())
	ctx := context.Background()

	require.Equal(t, []string{"c1", "c2", "c3"}, sorted(resolver.ResolveAccessibleClientIDs(ctx, domain.Identity{UserID: "admin", UserRole: domain.RoleAdmin})))
	require.Equal(t, []string{"c1", "c2", "c3"}, sorted(resolver.ResolveAccessibleClientIDs(ctx, domain.Identity{IsAPIKeyAuth: true})))
	require.Empty(t, resolver.ResolveAccessibleClientIDs(ctx, domain.Identity{}))

	// u1 created c1 and is a member of c1 and c2; c1 must appear once.
	require.Equal(t, []string{"c1", "c2"}, sorted(resolver.ResolveAccessibleClientIDs(ctx, domain.Identity{UserID: "u1", UserRole: domain.RoleUser})))
	require.Equal(t, []string{"c1"}, resolver.ResolveAccessibleClientIDs(ctx, domain.Identity{UserID: "u3", UserRole: domain.RoleUser}))
	require.Empty(t, resolver.ResolveAccessibleClientIDs(ctx, domain.Identity{UserID: "nobody", UserRole: domain.RoleUser}))
}

func TestAPIKeyDeploymentTreatsEveryCallerAsGlobal(t *testing.T) {
	dir := newDirectory()
	resolver := NewResolver(dir, dir, domain.AuthMethodAPIKey, zerolog.Nop())

	ids := resolver.ResolveAccessibleClientIDs(context.Background(), domain.Identity{})
	require.Len(t, ids, 3)
	require.True(t, resolver.CheckAccess(context.Background(), "c3", domain.Identity{}).HasAccess)
}

func TestCheckAccessPrecedence(t *testing.T) {
	dir := newDirectory()
	resolver := NewResolver(dir, dir, domain.AuthMethodKeycloak, zerolog.Nop())
	ctx := context.Background()

	admin := resolver.CheckAccess(ctx, "c2", domain.Identity{UserID: "x", UserRole: domain.RoleAdmin})
	require.True(t, admin.HasAccess)
	require.False(t, admin.IsCreator)

	creator := resolver.CheckAccess(ctx, "c1", domain.Identity{UserID: "u1", UserRole: domain.RoleUser})
	require.True(t, creator.HasAccess)
	require.True(t, creator.IsCreator)
	require.Nil(t, creator.ClientRole)

	member := resolver.CheckAccess(ctx, "c2", domain.Identity{UserID: "u1", UserRole: domain.RoleUser})
	require.True(t, member.HasAccess)
	require.False(t, member.IsCreator)
	require.NotNil(t, member.ClientRole)
	require.Equal(t, "editor", *member.ClientRole)

	require.False(t, resolver.CheckAccess(ctx, "c3", domain.Identity{UserID: "u1", UserRole: domain.RoleUser}).HasAccess)
	require.False(t, resolver.CheckAccess(ctx, "missing", domain.Identity{UserID: "u1", UserRole: domain.RoleUser}).HasAccess)
	require.False(t, resolver.CheckAccess(ctx, "c1", domain.Identity{}).HasAccess)
}

func TestDirectoryFailureDeniesAccess(t *testing.T) {
	dir := newDirectory().Fail(errors.New("database unavailable"))
	resolver := NewResolver(dir, dir, domain.AuthMethodPassword, zerolog.Nop())
	ctx := context.Background()

	require.Empty(t, resolver.ResolveAccessibleClientIDs(ctx, domain.Identity{UserID: "u1"}))
	require.Empty(t, resolver.ResolveAccessibleClientIDs(ctx, domain.Identity{UserRole: domain.RoleAdmin}))
	require.False(t, resolver.CheckAccess(ctx, "c1", domain.Identity{UserID: "u1"}).HasAccess)
}

func TestRedisCacheServesRepeatedLookups(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run: %v", err)
	}
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	cache := NewRedisCache(client, time.Minute)

	dir := newDirectory()
	resolver := NewResolver(dir, dir, domain.AuthMethodPassword, zerolog.Nop(), WithCache(cache))
	ctx := context.Background()
	identity := domain.Identity{UserID: "u3", UserRole: domain.RoleUser}

	require.Equal(t, []string{"c1"}, resolver.ResolveAccessibleClientIDs(ctx, identity))
	require.True(t, mr.Exists(cacheKeyPrefix+"u3"))

	// New membership is invisible until the entry expires.
	dir.AddMembership(primary.ClientUser{ID: "m4", ClientID: "c3", UserID: "u3"})
	require.Equal(t, []string{"c1"}, resolver.ResolveAccessibleClientIDs(ctx, identity))

	mr.FastForward(2 * time.Minute)
	require.Equal(t, []string{"c1", "c3"}, sorted(resolver.ResolveAccessibleClientIDs(ctx, identity)))

	require.NoError(t, cache.Invalidate(ctx, "u3"))
	require.False(t, mr.Exists(cacheKeyPrefix+"u3"))
}

func TestRedisCacheFailureFallsBackToDirectory(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	mr.Close()

	dir := newDirectory()
	resolver := NewResolver(dir, dir, domain.AuthMethodPassword, zerolog.Nop(), WithCache(NewRedisCache(client, time.Minute)))
	require.Equal(t, []string{"c1"}, resolver.ResolveAccessibleClientIDs(context.Background(), domain.Identity{UserID: "u3"}))
}
