//go:build integration

package repository

import (
	"context"
	"log"
	"testing"
	"time"

	"github.com/rpattn/agentstats/internal/db"
	"github.com/rpattn/agentstats/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// Run with: go test -tags=integration -timeout 180s ./internal/repository/...
func startPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	ctx := context.Background()
	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("agent_statistics"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}
	t.Cleanup(func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			log.Printf("failed to terminate postgres container: %v", err)
		}
	})

	host, err := pgContainer.Host(ctx)
	if err != nil {
		t.Fatalf("failed to get container host: %v", err)
	}
	port, err := pgContainer.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("failed to get mapped port: %v", err)
	}

	cfg := db.Config{
		Host:     host,
		Port:     port.Int(),
		User:     "testuser",
		Password: "testpass",
		DBName:   "agent_statistics",
		SSLMode:  "disable",
	}
	if err := db.RunMigrations(cfg, zerolog.Nop()); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	conn, err := db.NewConnection(ctx, cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	t.Cleanup(conn.Close)
	return conn.Pool
}

func TestShadowUpsertsAreIdempotent(t *testing.T) {
	pool := startPostgres(t)
	ctx := context.Background()
	clients := NewShadowClientRepository(pool)
	agents := NewShadowAgentRepository(pool)

	first, err := clients.Upsert(ctx, "c1", domain.ShadowClientAttributes{Name: "Acme", Endpoint: "https://acme", AuthenticationType: "api-key"})
	if err != nil {
		t.Fatalf("upsert client: %v", err)
	}
	second, err := clients.Upsert(ctx, "c1", domain.ShadowClientAttributes{Name: "Acme Corp", Endpoint: "https://acme", AuthenticationType: "api-key"})
	if err != nil {
		t.Fatalf("upsert client again: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("expected same surrogate id, got %s and %s", first.ID, second.ID)
	}
	if second.Name != "Acme Corp" {
		t.Fatalf("expected updated name, got %q", second.Name)
	}

	name := "helper"
	agent, err := agents.Upsert(ctx, "a1", first.ID, domain.ShadowAgentAttributes{Name: &name})
	if err != nil {
		t.Fatalf("upsert agent: %v", err)
	}
	again, err := agents.Upsert(ctx, "a1", first.ID, domain.ShadowAgentAttributes{})
	if err != nil {
		t.Fatalf("upsert agent with empty patch: %v", err)
	}
	if again.ID != agent.ID || again.Name == nil || *again.Name != "helper" {
		t.Fatalf("empty patch should keep the agent unchanged, got %+v", again)
	}

	ids, err := clients.MapOriginalIDsToShadowIDs(ctx, []string{"c1", "missing"})
	if err != nil {
		t.Fatalf("map ids: %v", err)
	}
	if len(ids) != 1 || ids[0] != first.ID {
		t.Fatalf("unexpected mapped ids %v", ids)
	}

	if _, err := clients.FindByOriginalID(ctx, "missing"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStatisticsQueries(t *testing.T) {
	pool := startPostgres(t)
	ctx := context.Background()

	client, err := NewShadowClientRepository(pool).Upsert(ctx, "c1", domain.ShadowClientAttributes{Name: "Acme"})
	if err != nil {
		t.Fatalf("upsert client: %v", err)
	}
	agent, err := NewShadowAgentRepository(pool).Upsert(ctx, "a1", client.ID, domain.ShadowAgentAttributes{})
	if err != nil {
		t.Fatalf("upsert agent: %v", err)
	}

	activity := NewActivityRepository(pool)
	day := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	chats := []domain.ChatIORecord{
		{Direction: domain.ChatDirectionInput, WordCount: 10, CharCount: 50, OccurredAt: day.Add(9 * time.Hour)},
		{Direction: domain.ChatDirectionOutput, WordCount: 20, CharCount: 100, OccurredAt: day.Add(23 * time.Hour)},
	}
	for _, chat := range chats {
		chat.ShadowClientID = client.ID
		chat.ShadowAgentID = &agent.ID
		if _, err := activity.InsertChatIO(ctx, chat); err != nil {
			t.Fatalf("insert chat: %v", err)
		}
	}

	reason := "matched 100% rule"
	drops := []domain.FilterRecord{
		{FilterType: "profanity", Direction: domain.FilterDirectionIncoming},
		{FilterType: "profanity", Direction: domain.FilterDirectionIncoming},
		{FilterType: "spam", Direction: domain.FilterDirectionOutgoing, FilterReason: &reason},
	}
	for _, drop := range drops {
		drop.Kind = domain.FilterRecordDrop
		drop.ShadowClientID = client.ID
		drop.OccurredAt = day.Add(time.Hour)
		if _, err := activity.InsertFilterRecord(ctx, drop); err != nil {
			t.Fatalf("insert drop: %v", err)
		}
	}

	repo := NewStatisticsRepository(pool)
	scope := domain.SummaryQuery{ShadowClientIDs: []uuid.UUID{client.ID}}

	totals, err := repo.ChatTotals(ctx, scope)
	if err != nil {
		t.Fatalf("chat totals: %v", err)
	}
	if totals.MessageCount != 2 || totals.WordCount != 30 || totals.CharCount != 150 {
		t.Fatalf("unexpected totals %+v", totals)
	}

	breakdown, err := repo.FilterBreakdown(ctx, domain.FilterRecordDrop, scope)
	if err != nil {
		t.Fatalf("breakdown: %v", err)
	}
	if len(breakdown) != 2 || breakdown[0].FilterType != "profanity" || breakdown[0].Count != 2 || breakdown[1].Count != 1 {
		t.Fatalf("unexpected breakdown %+v", breakdown)
	}

	series, err := repo.ChatTimeSeries(ctx, domain.GranularityHour, scope)
	if err != nil {
		t.Fatalf("time series: %v", err)
	}
	if len(series) != 2 || !series[0].Period.Equal(day.Add(9*time.Hour)) {
		t.Fatalf("unexpected series %+v", series)
	}

	to, err := domain.ParseToBound("2024-01-01")
	if err != nil {
		t.Fatalf("parse to: %v", err)
	}
	records, total, err := repo.ListChatIO(ctx, domain.ActivityQuery{
		ShadowClientIDs: []uuid.UUID{client.ID},
		AgentID:         &agent.OriginalAgentID,
		To:              &to,
		Limit:           1,
	})
	if err != nil {
		t.Fatalf("list chat io: %v", err)
	}
	if total != 2 || len(records) != 1 || records[0].Direction != domain.ChatDirectionOutput {
		t.Fatalf("expected newest of two records, got total=%d records=%+v", total, records)
	}

	matches, total, err := repo.ListFilterRecords(ctx, domain.FilterRecordDrop, domain.ActivityQuery{
		ShadowClientIDs: []uuid.UUID{client.ID},
		Search:          "100%",
		Limit:           10,
	})
	if err != nil {
		t.Fatalf("search drops: %v", err)
	}
	if total != 1 || len(matches) != 1 || matches[0].FilterType != "spam" {
		t.Fatalf("literal percent search should match only the spam record, got %+v", matches)
	}

	empty, total, err := repo.ListChatIO(ctx, domain.ActivityQuery{ShadowClientIDs: []uuid.UUID{uuid.New()}, Limit: 10})
	if err != nil {
		t.Fatalf("list foreign client: %v", err)
	}
	if total != 0 || len(empty) != 0 {
		t.Fatalf("expected no records for foreign client")
	}
}

func TestEntityEventScoping(t *testing.T) {
	pool := startPostgres(t)
	ctx := context.Background()

	client, err := NewShadowClientRepository(pool).Upsert(ctx, "c1", domain.ShadowClientAttributes{Name: "Acme"})
	if err != nil {
		t.Fatalf("upsert client: %v", err)
	}
	agent, err := NewShadowAgentRepository(pool).Upsert(ctx, "a1", client.ID, domain.ShadowAgentAttributes{})
	if err != nil {
		t.Fatalf("upsert agent: %v", err)
	}
	user, err := NewShadowUserRepository(pool).Upsert(ctx, "u1", domain.ShadowUserAttributes{})
	if err != nil {
		t.Fatalf("upsert user: %v", err)
	}

	events := NewEntityEventRepository(pool)
	for _, event := range []domain.EntityEvent{
		{EventType: domain.EventTypeCreated, EntityType: domain.EntityTypeClient, OriginalEntityID: "c1", ShadowClientID: &client.ID},
		{EventType: domain.EventTypeCreated, EntityType: domain.EntityTypeAgent, OriginalEntityID: "a1", ShadowAgentID: &agent.ID},
		{EventType: domain.EventTypeCreated, EntityType: domain.EntityTypeUser, OriginalEntityID: "u1", ShadowUserID: &user.ID},
	} {
		if _, err := events.Append(ctx, event); err != nil {
			t.Fatalf("append event: %v", err)
		}
	}

	repo := NewStatisticsRepository(pool)
	scoped, total, err := repo.ListEntityEvents(ctx, domain.EntityEventQuery{ShadowClientIDs: []uuid.UUID{client.ID}, Limit: 10})
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if total != 2 || len(scoped) != 2 {
		t.Fatalf("expected client and agent events, got %d", total)
	}

	_, total, err = repo.ListEntityEvents(ctx, domain.EntityEventQuery{ShadowClientIDs: []uuid.UUID{client.ID}, IncludeUnscoped: true, Limit: 10})
	if err != nil {
		t.Fatalf("list events with unscoped: %v", err)
	}
	if total != 3 {
		t.Fatalf("expected user event to be included, got %d", total)
	}

	agentType := domain.EntityTypeAgent
	filtered, _, err := repo.ListEntityEvents(ctx, domain.EntityEventQuery{
		ShadowClientIDs: []uuid.UUID{client.ID},
		EntityType:      &agentType,
		Limit:           10,
	})
	if err != nil {
		t.Fatalf("list agent events: %v", err)
	}
	if len(filtered) != 1 || filtered[0].OriginalEntityID != "a1" {
		t.Fatalf("unexpected filtered events %+v", filtered)
	}
}
