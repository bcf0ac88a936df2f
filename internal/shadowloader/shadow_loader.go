// Package shadowloader batches shadow row lookups by surrogate id so list
// pages can be re-hydrated with one query per table.
package shadowloader

import (
	"context"
	"fmt"
	"time"

	"github.com/rpattn/agentstats/internal/domain"
	"github.com/rpattn/agentstats/internal/repository"

	"github.com/google/uuid"
	"github.com/graph-gophers/dataloader"
)

type ctxKey string

const loadersKey ctxKey = "shadowLoaders"

// Loaders holds one batched loader per shadow table. Loaders cache results, so
// a Loaders value should live for a single request.
type Loaders struct {
	clients                *dataloader.Loader
	agents                 *dataloader.Loader
	users                  *dataloader.Loader
	clientUsers            *dataloader.Loader
	provisioningReferences *dataloader.Loader
}

func New(repos repository.Repositories) *Loaders {
	return &Loaders{
		clients: newLoader(repos.Clients.GetByIDs, func(c domain.ShadowClient) uuid.UUID { return c.ID }),
		agents:  newLoader(repos.Agents.GetByIDs, func(a domain.ShadowAgent) uuid.UUID { return a.ID }),
		users:   newLoader(repos.Users.GetByIDs, func(u domain.ShadowUser) uuid.UUID { return u.ID }),

		clientUsers:            newLoader(repos.ClientUsers.GetByIDs, func(m domain.ShadowClientUser) uuid.UUID { return m.ID }),
		provisioningReferences: newLoader(repos.ProvisioningReferences.GetByIDs, func(p domain.ShadowProvisioningReference) uuid.UUID { return p.ID }),
	}
}

// WithLoaders attaches loaders to ctx.
func WithLoaders(ctx context.Context, loaders *Loaders) context.Context {
	return context.WithValue(ctx, loadersKey, loaders)
}

// FromContext returns the loaders attached to ctx, or nil.
func FromContext(ctx context.Context) *Loaders {
	if l, ok := ctx.Value(loadersKey).(*Loaders); ok {
		return l
	}
	return nil
}

func (l *Loaders) Clients(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]domain.ShadowClient, error) {
	return loadMany[domain.ShadowClient](ctx, l.clients, ids)
}

func (l *Loaders) Agents(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]domain.ShadowAgent, error) {
	return loadMany[domain.ShadowAgent](ctx, l.agents, ids)
}

func (l *Loaders) Users(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]domain.ShadowUser, error) {
	return loadMany[domain.ShadowUser](ctx, l.users, ids)
}

func (l *Loaders) ClientUsers(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]domain.ShadowClientUser, error) {
	return loadMany[domain.ShadowClientUser](ctx, l.clientUsers, ids)
}

func (l *Loaders) ProvisioningReferences(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]domain.ShadowProvisioningReference, error) {
	return loadMany[domain.ShadowProvisioningReference](ctx, l.provisioningReferences, ids)
}

func newLoader[T any](fetch func(context.Context, []uuid.UUID) ([]T, error), idOf func(T) uuid.UUID) *dataloader.Loader {
	batchFn := func(ctx context.Context, keys dataloader.Keys) []*dataloader.Result {
		ids := make([]uuid.UUID, len(keys))
		for i, k := range keys {
			id, err := uuid.Parse(k.String())
			if err != nil {
				return errorResults(len(keys), fmt.Errorf("invalid UUID: %w", err))
			}
			ids[i] = id
		}

		rows, err := fetch(ctx, ids)
		if err != nil {
			return errorResults(len(keys), err)
		}

		byID := make(map[uuid.UUID]T, len(rows))
		for _, row := range rows {
			byID[idOf(row)] = row
		}

		// Results must line up with keys; missing rows resolve to nil.
		results := make([]*dataloader.Result, len(keys))
		for i, id := range ids {
			if row, ok := byID[id]; ok {
				results[i] = &dataloader.Result{Data: row}
			} else {
				results[i] = &dataloader.Result{Data: nil}
			}
		}
		return results
	}

	return dataloader.NewBatchedLoader(batchFn, dataloader.WithWait(2*time.Millisecond))
}

func errorResults(n int, err error) []*dataloader.Result {
	results := make([]*dataloader.Result, n)
	for i := range results {
		results[i] = &dataloader.Result{Error: err}
	}
	return results
}

// loadMany resolves ids through loader. Ids without a row are absent from the
// returned map.
func loadMany[T any](ctx context.Context, loader *dataloader.Loader, ids []uuid.UUID) (map[uuid.UUID]T, error) {
	out := make(map[uuid.UUID]T, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	seen := make(map[uuid.UUID]struct{}, len(ids))
	keys := make(dataloader.Keys, 0, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		keys = append(keys, dataloader.StringKey(id.String()))
	}

	values, errs := loader.LoadMany(ctx, keys)()
	for _, err := range errs {
		if err != nil {
			return nil, fmt.Errorf("failed to load shadow rows: %w", err)
		}
	}
	// LoadMany answers in key order.
	for i, value := range values {
		row, ok := value.(T)
		if !ok {
			continue
		}
		id, err := uuid.Parse(keys[i].String())
		if err != nil {
			continue
		}
		out[id] = row
	}
	return out, nil
}
