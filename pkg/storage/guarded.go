package storage

import (
	"context"

	"github.com/forgelabs/forge-orchestrator/pkg/common/circuitbreaker"
	"github.com/forgelabs/forge-orchestrator/pkg/scheduler/model"
)

// guardedStore routes every operation through a circuit breaker so a
// misbehaving backend sheds load instead of stalling the control loops.
type guardedStore struct {
	store   Store
	breaker *circuitbreaker.CircuitBreaker
}

// NewGuarded wraps a store with the given circuit breaker.
func NewGuarded(store Store, breaker *circuitbreaker.CircuitBreaker) Store {
	return &guardedStore{store: store, breaker: breaker}
}

func (g *guardedStore) SaveWorkload(ctx context.Context, w *model.Workload) error {
	return g.breaker.Execute(func() error {
		return g.store.SaveWorkload(ctx, w)
	})
}

func (g *guardedStore) DeleteWorkload(ctx context.Context, id string) error {
	return g.breaker.Execute(func() error {
		return g.store.DeleteWorkload(ctx, id)
	})
}

func (g *guardedStore) ListWorkloads(ctx context.Context) ([]*model.Workload, error) {
	var out []*model.Workload
	err := g.breaker.Execute(func() error {
		var err error
		out, err = g.store.ListWorkloads(ctx)
		return err
	})
	return out, err
}

func (g *guardedStore) SaveNode(ctx context.Context, n *model.NodeResources) error {
	return g.breaker.Execute(func() error {
		return g.store.SaveNode(ctx, n)
	})
}

func (g *guardedStore) DeleteNode(ctx context.Context, id model.NodeID) error {
	return g.breaker.Execute(func() error {
		return g.store.DeleteNode(ctx, id)
	})
}

func (g *guardedStore) ListNodes(ctx context.Context) ([]*model.NodeResources, error) {
	var out []*model.NodeResources
	err := g.breaker.Execute(func() error {
		var err error
		out, err = g.store.ListNodes(ctx)
		return err
	})
	return out, err
}

func (g *guardedStore) Close() error {
	return g.store.Close()
}
