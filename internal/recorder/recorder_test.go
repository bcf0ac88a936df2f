package recorder

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rpattn/agentstats/internal/access"
	"github.com/rpattn/agentstats/internal/domain"
	"github.com/rpattn/agentstats/internal/metrics"
	"github.com/rpattn/agentstats/internal/primary"
	"github.com/rpattn/agentstats/internal/repository/memory"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestRecorder(t *testing.T, authMethod domain.AuthMethod, opts ...Option) (*Recorder, *memory.Store, *primary.Static) {
	t.Helper()
	store := memory.New()
	dir := primary.NewStatic().
		AddClient(primary.Client{ID: "c1", Name: "Acme", Endpoint: "https://acme.example", AuthenticationType: "api-key", UserID: "u1"})
	opts = append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)
	return New(store.Repositories(), dir, authMethod, zerolog.Nop(), opts...), store, dir
}

func strPtr(s string) *string { return &s }

func TestRecordChatCreatesShadowEntries(t *testing.T) {
	rec, store, _ := newTestRecorder(t, domain.AuthMethodPassword)
	ctx := context.Background()

	record, err := rec.recordChat(ctx, domain.ChatDirectionInput, ChatActivity{ClientID: "c1", AgentID: "a1", WordCount: 10, CharCount: 50})
	require.NoError(t, err)
	require.Equal(t, domain.ChatDirectionInput, record.Direction)
	require.Equal(t, fixedNow, record.OccurredAt)
	require.NotNil(t, record.ShadowAgentID)
	require.Nil(t, record.ShadowUserID)

	clients := store.Clients()
	require.Len(t, clients, 1)
	require.Equal(t, "Acme", clients[0].Name)
	require.Equal(t, "https://acme.example", clients[0].Endpoint)
	require.Equal(t, clients[0].ID, record.ShadowClientID)

	_, err = rec.recordChat(ctx, domain.ChatDirectionOutput, ChatActivity{ClientID: "c1", AgentID: "a1", WordCount: 20, CharCount: 100})
	require.NoError(t, err)
	require.Len(t, store.Clients(), 1, "client upsert must be idempotent")
	require.Len(t, store.Agents(), 1, "agent upsert must be idempotent")
	require.Len(t, store.ChatIO(), 2)
}

func TestRecordChatKeepsExistingAgentAttributes(t *testing.T) {
	rec, store, _ := newTestRecorder(t, domain.AuthMethodPassword)
	ctx := context.Background()

	_, err := rec.recordEntity(ctx, domain.EventTypeCreated, EntityChange{EntityType: domain.EntityTypeClient, OriginalEntityID: "c1"})
	require.NoError(t, err)
	_, err = rec.recordEntity(ctx, domain.EventTypeCreated, EntityChange{
		EntityType:       domain.EntityTypeAgent,
		OriginalEntityID: "a1",
		Metadata:         map[string]any{"clientId": "c1", "name": "helper", "agentType": "cursor"},
	})
	require.NoError(t, err)

	_, err = rec.recordChat(ctx, domain.ChatDirectionInput, ChatActivity{ClientID: "c1", AgentID: "a1", WordCount: 1, CharCount: 1})
	require.NoError(t, err)

	agents := store.Agents()
	require.Len(t, agents, 1)
	require.NotNil(t, agents[0].Name)
	require.Equal(t, "helper", *agents[0].Name)
	require.Equal(t, "cursor", *agents[0].AgentType)
}

func TestRecordChatUnknownClientIsSkipped(t *testing.T) {
	rec, store, _ := newTestRecorder(t, domain.AuthMethodPassword)

	_, err := rec.recordChat(context.Background(), domain.ChatDirectionInput, ChatActivity{ClientID: "missing", AgentID: "a1"})
	require.ErrorIs(t, err, ErrPrimaryClientNotFound)
	require.True(t, isSkip(err))
	require.Empty(t, store.Clients())
	require.Empty(t, store.ChatIO())
}

func TestUserAttribution(t *testing.T) {
	rec, store, _ := newTestRecorder(t, domain.AuthMethodPassword)
	ctx := context.Background()

	_, err := store.Repositories().Users.Upsert(ctx, "u1", domain.ShadowUserAttributes{})
	require.NoError(t, err)

	record, err := rec.recordChat(ctx, domain.ChatDirectionInput, ChatActivity{ClientID: "c1", AgentID: "a1", UserID: strPtr("u1")})
	require.NoError(t, err)
	require.NotNil(t, record.ShadowUserID)
	require.Equal(t, store.Users()[0].ID, *record.ShadowUserID)

	record, err = rec.recordChat(ctx, domain.ChatDirectionInput, ChatActivity{ClientID: "c1", AgentID: "a1", UserID: strPtr("ghost")})
	require.NoError(t, err)
	require.Nil(t, record.ShadowUserID, "a missing shadow user yields no attribution")
	require.Len(t, store.Users(), 1, "user lookup must not create shadow users")

	apiKeyRec, apiKeyStore, _ := newTestRecorder(t, domain.AuthMethodAPIKey)
	_, err = apiKeyStore.Repositories().Users.Upsert(ctx, "u1", domain.ShadowUserAttributes{})
	require.NoError(t, err)
	record, err = apiKeyRec.recordChat(ctx, domain.ChatDirectionInput, ChatActivity{ClientID: "c1", AgentID: "a1", UserID: strPtr("u1")})
	require.NoError(t, err)
	require.Nil(t, record.ShadowUserID, "api-key deployments do not attribute users")
}

func TestRecordFilterAllowsZeroCounts(t *testing.T) {
	rec, store, _ := newTestRecorder(t, domain.AuthMethodPassword)
	ctx := context.Background()

	drop, err := rec.recordFilter(ctx, domain.FilterRecordDrop, FilterActivity{
		ClientID:     "c1",
		AgentID:      "a1",
		Direction:    domain.FilterDirectionOutgoing,
		FilterType:   "pii",
		FilterReason: strPtr("email address"),
	})
	require.NoError(t, err)
	require.Equal(t, 0, drop.WordCount)
	require.Equal(t, "pii", drop.FilterDisplayName)

	_, err = rec.recordFilter(ctx, domain.FilterRecordFlag, FilterActivity{
		ClientID:   "c1",
		AgentID:    "a1",
		Direction:  domain.FilterDirectionIncoming,
		FilterType: "profanity",
		WordCount:  3,
		CharCount:  12,
	})
	require.NoError(t, err)

	require.Len(t, store.FilterRecords(domain.FilterRecordDrop), 1)
	require.Len(t, store.FilterRecords(domain.FilterRecordFlag), 1)

	_, err = rec.recordFilter(ctx, domain.FilterRecordDrop, FilterActivity{ClientID: "c1", Direction: "sideways"})
	require.ErrorIs(t, err, ErrInvalidMetadata)
}

func TestRecordEntityCreatedUnknownClientWritesNothing(t *testing.T) {
	rec, store, _ := newTestRecorder(t, domain.AuthMethodPassword)

	rec.RecordEntityCreated(context.Background(), EntityChange{
		EntityType:       domain.EntityTypeClient,
		OriginalEntityID: "does-not-exist",
		Metadata:         map[string]any{},
		ActingUserID:     strPtr("u1"),
	})
	rec.Wait()

	require.Empty(t, store.Clients())
	require.Empty(t, store.Events())
}

func TestRecordEntityUser(t *testing.T) {
	rec, store, _ := newTestRecorder(t, domain.AuthMethodPassword)
	ctx := context.Background()

	event, err := rec.recordEntity(ctx, domain.EventTypeCreated, EntityChange{EntityType: domain.EntityTypeUser, OriginalEntityID: "u9"})
	require.NoError(t, err)
	users := store.Users()
	require.Len(t, users, 1)
	require.Equal(t, domain.RoleUser, users[0].Role)
	require.Equal(t, users[0].ID, *event.ShadowUserID)

	_, err = rec.recordEntity(ctx, domain.EventTypeUpdated, EntityChange{
		EntityType:       domain.EntityTypeUser,
		OriginalEntityID: "u9",
		Metadata:         map[string]any{"role": "admin"},
	})
	require.NoError(t, err)
	users = store.Users()
	require.Len(t, users, 1)
	require.Equal(t, domain.RoleAdmin, users[0].Role)
	require.Len(t, store.Events(), 2)
}

func TestRecordEntityAgentRequiresShadowClient(t *testing.T) {
	rec, store, _ := newTestRecorder(t, domain.AuthMethodPassword)
	ctx := context.Background()

	_, err := rec.recordEntity(ctx, domain.EventTypeCreated, EntityChange{
		EntityType:       domain.EntityTypeAgent,
		OriginalEntityID: "a1",
		Metadata:         map[string]any{"name": "helper"},
	})
	require.ErrorIs(t, err, ErrInvalidMetadata)

	_, err = rec.recordEntity(ctx, domain.EventTypeCreated, EntityChange{
		EntityType:       domain.EntityTypeAgent,
		OriginalEntityID: "a1",
		Metadata:         map[string]any{"clientId": "c1"},
	})
	require.ErrorIs(t, err, ErrShadowClientMissing)
	require.Empty(t, store.Events())
}

func TestRecordEntityClientUser(t *testing.T) {
	rec, store, _ := newTestRecorder(t, domain.AuthMethodPassword)
	ctx := context.Background()

	_, err := rec.recordEntity(ctx, domain.EventTypeCreated, EntityChange{EntityType: domain.EntityTypeClient, OriginalEntityID: "c1"})
	require.NoError(t, err)

	change := EntityChange{
		EntityType:       domain.EntityTypeClientUser,
		OriginalEntityID: "m1",
		Metadata:         map[string]any{"clientId": "c1", "userId": "u5", "role": "viewer"},
	}
	_, err = rec.recordEntity(ctx, domain.EventTypeCreated, change)
	require.ErrorIs(t, err, ErrShadowUserMissing)

	_, err = rec.recordEntity(ctx, domain.EventTypeCreated, EntityChange{EntityType: domain.EntityTypeUser, OriginalEntityID: "u5"})
	require.NoError(t, err)

	event, err := rec.recordEntity(ctx, domain.EventTypeCreated, change)
	require.NoError(t, err)
	memberships := store.ClientUsers()
	require.Len(t, memberships, 1)
	require.Equal(t, "viewer", memberships[0].Role)
	require.Equal(t, memberships[0].ID, *event.ShadowClientUserID)

	_, err = rec.recordEntity(ctx, domain.EventTypeUpdated, change)
	require.ErrorIs(t, err, ErrNotImplemented)
}

func TestRecordEntityProvisioningReferenceSanitizesMetadata(t *testing.T) {
	rec, store, _ := newTestRecorder(t, domain.AuthMethodPassword)
	ctx := context.Background()

	_, err := rec.recordEntity(ctx, domain.EventTypeCreated, EntityChange{EntityType: domain.EntityTypeClient, OriginalEntityID: "c1"})
	require.NoError(t, err)

	_, err = rec.recordEntity(ctx, domain.EventTypeCreated, EntityChange{
		EntityType:       domain.EntityTypeProvisioningReference,
		OriginalEntityID: "p1",
		Metadata: map[string]any{
			"clientId":     "c1",
			"providerType": "hetzner",
			"serverId":     float64(4711),
			"publicIp":     "203.0.113.7",
			"providerMetadata": map[string]any{
				"region":   "fsn1",
				"apiToken": "secret-value",
				"ssh":      map[string]any{"privateKey": "-----BEGIN", "user": "root"},
			},
		},
	})
	require.NoError(t, err)

	_, err = rec.recordEntity(ctx, domain.EventTypeCreated, EntityChange{
		EntityType:       domain.EntityTypeProvisioningReference,
		OriginalEntityID: "p2",
		Metadata: map[string]any{
			"clientId":         "c1",
			"providerType":     "aws",
			"providerMetadata": `{"password":"x"}`,
		},
	})
	require.NoError(t, err)

	refs := store.ProvisioningReferences()
	require.Len(t, refs, 2)
	require.Equal(t, "4711", *refs[0].ServerID)
	require.NotNil(t, refs[0].ProviderMetadata)
	require.JSONEq(t, `{"region":"fsn1","ssh":{"user":"root"}}`, *refs[0].ProviderMetadata)
	require.Nil(t, refs[1].ProviderMetadata, "fully redacted metadata is not stored")

	_, err = rec.recordEntity(ctx, domain.EventTypeCreated, EntityChange{
		EntityType:       domain.EntityTypeProvisioningReference,
		OriginalEntityID: "p3",
		Metadata:         map[string]any{"clientId": "c1"},
	})
	require.ErrorIs(t, err, ErrInvalidMetadata)

	_, err = rec.recordEntity(ctx, domain.EventTypeUpdated, EntityChange{
		EntityType:       domain.EntityTypeProvisioningReference,
		OriginalEntityID: "p1",
		Metadata:         map[string]any{"clientId": "c1", "providerType": "hetzner"},
	})
	require.ErrorIs(t, err, ErrNotImplemented)
}

func TestRecordedMembershipInvalidatesAccessCache(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run: %v", err)
	}
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	cache := access.NewRedisCache(client, time.Minute)
	rec, _, _ := newTestRecorder(t, domain.AuthMethodPassword, WithAccessInvalidator(cache))
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "u1", []string{}))
	require.NoError(t, cache.Set(ctx, "u5", []string{}))
	require.NoError(t, cache.Set(ctx, "u9", []string{"c9"}))

	_, err = rec.recordEntity(ctx, domain.EventTypeCreated, EntityChange{EntityType: domain.EntityTypeClient, OriginalEntityID: "c1", ActingUserID: strPtr("u1")})
	require.NoError(t, err)
	_, err = rec.recordEntity(ctx, domain.EventTypeCreated, EntityChange{EntityType: domain.EntityTypeUser, OriginalEntityID: "u5"})
	require.NoError(t, err)
	_, err = rec.recordEntity(ctx, domain.EventTypeCreated, EntityChange{
		EntityType:       domain.EntityTypeClientUser,
		OriginalEntityID: "m1",
		Metadata:         map[string]any{"clientId": "c1", "userId": "u5"},
	})
	require.NoError(t, err)

	_, hit, err := cache.Get(ctx, "u1")
	require.NoError(t, err)
	require.False(t, hit, "the creator of a client loses the cached set")
	_, hit, err = cache.Get(ctx, "u5")
	require.NoError(t, err)
	require.False(t, hit, "the new member loses the cached set")
	ids, hit, err := cache.Get(ctx, "u9")
	require.NoError(t, err)
	require.True(t, hit)
	require.Equal(t, []string{"c9"}, ids)

	require.NoError(t, cache.Set(ctx, "u5", []string{}))
	_, err = rec.recordEntity(ctx, domain.EventTypeCreated, EntityChange{
		EntityType:       domain.EntityTypeClientUser,
		OriginalEntityID: "m2",
		Metadata:         map[string]any{"clientId": "c1", "userId": "u404"},
	})
	require.ErrorIs(t, err, ErrShadowUserMissing)
	_, hit, err = cache.Get(ctx, "u5")
	require.NoError(t, err)
	require.True(t, hit, "a skipped recording leaves the cache alone")
}

func TestRecordEntityDeletedKeepsShadowRows(t *testing.T) {
	rec, store, _ := newTestRecorder(t, domain.AuthMethodPassword)
	ctx := context.Background()

	_, err := rec.recordEntity(ctx, domain.EventTypeCreated, EntityChange{EntityType: domain.EntityTypeClient, OriginalEntityID: "c1"})
	require.NoError(t, err)
	_, err = rec.recordEntity(ctx, domain.EventTypeCreated, EntityChange{
		EntityType:       domain.EntityTypeAgent,
		OriginalEntityID: "a1",
		Metadata:         map[string]any{"clientId": "c1"},
	})
	require.NoError(t, err)

	clientDeleted, err := rec.recordEntity(ctx, domain.EventTypeDeleted, EntityChange{EntityType: domain.EntityTypeClient, OriginalEntityID: "c1"})
	require.NoError(t, err)
	require.NotNil(t, clientDeleted.ShadowClientID)
	require.Equal(t, store.Clients()[0].ID, *clientDeleted.ShadowClientID)

	agentDeleted, err := rec.recordEntity(ctx, domain.EventTypeDeleted, EntityChange{
		EntityType:       domain.EntityTypeAgent,
		OriginalEntityID: "a1",
		Metadata:         map[string]any{"clientId": "c1"},
	})
	require.NoError(t, err)
	require.Nil(t, agentDeleted.ShadowAgentID, "agent deletions correlate through the original id only")
	require.Equal(t, "a1", agentDeleted.OriginalEntityID)

	userDeleted, err := rec.recordEntity(ctx, domain.EventTypeDeleted, EntityChange{EntityType: domain.EntityTypeUser, OriginalEntityID: "never-mirrored"})
	require.NoError(t, err)
	require.Nil(t, userDeleted.ShadowUserID)

	require.Len(t, store.Clients(), 1)
	require.Len(t, store.Agents(), 1)
	require.Len(t, store.Events(), 5)
}

func TestRecordEntityRejectsUnknownEntityType(t *testing.T) {
	rec, _, _ := newTestRecorder(t, domain.AuthMethodPassword)
	_, err := rec.recordEntity(context.Background(), domain.EventTypeCreated, EntityChange{EntityType: "server", OriginalEntityID: "s1"})
	require.ErrorIs(t, err, ErrUnsupportedEntityType)
}

func TestActingUserIsResolved(t *testing.T) {
	rec, store, _ := newTestRecorder(t, domain.AuthMethodKeycloak)
	ctx := context.Background()

	_, err := store.Repositories().Users.Upsert(ctx, "u1", domain.ShadowUserAttributes{Role: domain.RoleAdmin})
	require.NoError(t, err)

	event, err := rec.recordEntity(ctx, domain.EventTypeCreated, EntityChange{
		EntityType:       domain.EntityTypeClient,
		OriginalEntityID: "c1",
		ActingUserID:     strPtr("u1"),
	})
	require.NoError(t, err)
	require.NotNil(t, event.ActingShadowUserID)
	require.Equal(t, store.Users()[0].ID, *event.ActingShadowUserID)
}

type panickingActivity struct{}

func (panickingActivity) InsertChatIO(context.Context, domain.ChatIORecord) (domain.ChatIORecord, error) {
	panic("boom")
}

func (panickingActivity) InsertFilterRecord(context.Context, domain.FilterRecord) (domain.FilterRecord, error) {
	return domain.FilterRecord{}, errors.New("disk full")
}

func TestBestEffortSwallowsPanicsAndErrors(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(registry, registry)
	store := memory.New()
	repos := store.Repositories()
	repos.Activity = panickingActivity{}
	dir := primary.NewStatic().AddClient(primary.Client{ID: "c1", Name: "Acme"})
	rec := New(repos, dir, domain.AuthMethodPassword, zerolog.Nop(), WithMetrics(m))

	rec.RecordChatInput(context.Background(), ChatActivity{ClientID: "c1", AgentID: "a1"})
	rec.RecordChatFilterDrop(context.Background(), FilterActivity{ClientID: "c1", AgentID: "a1", Direction: domain.FilterDirectionIncoming, FilterType: "spam"})
	rec.RecordChatOutput(context.Background(), ChatActivity{ClientID: "missing"})
	rec.Wait()

	expected := `
# HELP agentstats_recordings_total Best-effort statistics recordings by operation and outcome.
# TYPE agentstats_recordings_total counter
agentstats_recordings_total{operation="chat_input",outcome="error"} 1
agentstats_recordings_total{operation="chat_output",outcome="skipped"} 1
agentstats_recordings_total{operation="filter_drop",outcome="error"} 1
`
	require.NoError(t, testutil.GatherAndCompare(registry, strings.NewReader(expected), "agentstats_recordings_total"))
	require.Empty(t, store.ChatIO())
}

func TestPublicRecordingOutlivesCallerContext(t *testing.T) {
	rec, store, _ := newTestRecorder(t, domain.AuthMethodPassword)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rec.RecordChatInput(ctx, ChatActivity{ClientID: "c1", AgentID: "a1", WordCount: 4, CharCount: 20})
	rec.Wait()

	require.Len(t, store.ChatIO(), 1)
}
