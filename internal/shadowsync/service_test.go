package shadowsync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/rpattn/agentstats/internal/domain"
	"github.com/rpattn/agentstats/internal/metrics"
	"github.com/rpattn/agentstats/internal/primary"
	"github.com/rpattn/agentstats/internal/repository/memory"

	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func agentsNamed(prefix string, n int) []primary.AgentSummary {
	agents := make([]primary.AgentSummary, 0, n)
	for i := 0; i < n; i++ {
		name := fmt.Sprintf("%s agent %d", prefix, i)
		agents = append(agents, primary.AgentSummary{ID: fmt.Sprintf("%s-%d", prefix, i), Name: &name})
	}
	return agents
}

// countingLister records the offsets it was asked for.
type countingLister struct {
	primary.AgentLister
	offsets []int
}

func (l *countingLister) ListAgents(ctx context.Context, client primary.Client, limit, offset int) ([]primary.AgentSummary, error) {
	l.offsets = append(l.offsets, offset)
	return l.AgentLister.ListAgents(ctx, client, limit, offset)
}

func TestRunSyncsUsersClientsAndPagedAgents(t *testing.T) {
	dir := primary.NewStatic().
		AddUser(primary.User{ID: "u1", Role: domain.RoleAdmin}).
		AddUser(primary.User{ID: "u2"}).
		AddClient(primary.Client{ID: "c1", Name: "Acme", Endpoint: "https://acme"}).
		AddClient(primary.Client{ID: "c2", Name: "Globex", Endpoint: "https://globex"}).
		SetAgents("c1", agentsNamed("c1", 5)).
		SetAgents("c2", agentsNamed("c2", 4))
	lister := &countingLister{AgentLister: dir}
	store := memory.New()

	svc := NewService(dir, dir, lister, store.Repositories(), zerolog.Nop(), WithAgentBatchSize(2))
	result, err := svc.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, Result{Users: 2, Clients: 2, Agents: 9}, result)

	// c1: 2,2,1 stops on the short page; c2: 2,2,0 needs one empty page.
	require.Equal(t, []int{0, 2, 4, 0, 2, 4}, lister.offsets)

	users := store.Users()
	require.Len(t, users, 2)
	roles := map[string]string{}
	for _, user := range users {
		roles[*user.OriginalUserID] = user.Role
	}
	require.Equal(t, map[string]string{"u1": domain.RoleAdmin, "u2": domain.RoleUser}, roles)
	require.Len(t, store.Clients(), 2)
	require.Len(t, store.Agents(), 9)
}

func TestRunIsIdempotent(t *testing.T) {
	dir := primary.NewStatic().
		AddUser(primary.User{ID: "u1", Role: domain.RoleUser}).
		AddClient(primary.Client{ID: "c1", Name: "Acme"}).
		SetAgents("c1", agentsNamed("c1", 3))
	store := memory.New()
	svc := NewService(dir, dir, dir, store.Repositories(), zerolog.Nop())

	_, err := svc.Run(context.Background())
	require.NoError(t, err)
	firstClientID := store.Clients()[0].ID

	_, err = svc.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, store.Users(), 1)
	require.Len(t, store.Clients(), 1)
	require.Len(t, store.Agents(), 3)
	require.Equal(t, firstClientID, store.Clients()[0].ID)
}

func TestUnreachableClientIsSkipped(t *testing.T) {
	dir := primary.NewStatic().
		AddClient(primary.Client{ID: "down", Name: "Down"}).
		AddClient(primary.Client{ID: "up", Name: "Up"}).
		SetAgents("up", agentsNamed("up", 1)).
		FailAgents("down", errors.New("connection refused"))
	store := memory.New()
	registry := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(registry, registry)

	svc := NewService(dir, dir, dir, store.Repositories(), zerolog.Nop(), WithMetrics(m))
	result, err := svc.Run(context.Background())
	require.Error(t, err)

	var merr *multierror.Error
	require.ErrorAs(t, err, &merr)
	require.Len(t, merr.Errors, 1)
	require.Contains(t, err.Error(), "connection refused")

	require.Equal(t, 2, result.Clients)
	require.Equal(t, 1, result.Agents)
	require.Equal(t, []string{"down"}, result.SkippedClients)
	require.Len(t, store.Clients(), 2, "the client row is still mirrored")
	require.Len(t, store.Agents(), 1)

	expected := `
# HELP agentstats_shadow_sync_total Shadow entities synchronised by kind and outcome.
# TYPE agentstats_shadow_sync_total counter
agentstats_shadow_sync_total{kind="agent",outcome="error"} 1
agentstats_shadow_sync_total{kind="agent",outcome="ok"} 1
agentstats_shadow_sync_total{kind="client",outcome="ok"} 2
`
	require.NoError(t, testutil.GatherAndCompare(registry, strings.NewReader(expected), "agentstats_shadow_sync_total"))
}

func TestRunReportsDirectoryFailure(t *testing.T) {
	dir := primary.NewStatic().Fail(errors.New("primary database down"))
	svc := NewService(dir, dir, dir, memory.New().Repositories(), zerolog.Nop())

	result, err := svc.Run(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "failed to list primary clients")
	require.Contains(t, err.Error(), "failed to list primary users")
	require.Equal(t, Result{}, result)
}
