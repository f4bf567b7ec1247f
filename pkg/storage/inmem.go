package storage

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/pkg/errors"

	"github.com/forgelabs/forge-orchestrator/pkg/scheduler/model"
)

// inMemStore keeps records as encoded JSON so callers never share
// mutable state with the store.
type inMemStore struct {
	mu        sync.RWMutex
	workloads map[string][]byte
	nodes     map[model.NodeID][]byte
}

// NewInMem creates an in-memory store.
func NewInMem() Store {
	return &inMemStore{
		workloads: make(map[string][]byte),
		nodes:     make(map[model.NodeID][]byte),
	}
}

func (s *inMemStore) SaveWorkload(_ context.Context, w *model.Workload) error {
	value, err := json.Marshal(w)
	if err != nil {
		return errors.Wrapf(err, "encode workload %s", w.ID)
	}
	s.mu.Lock()
	s.workloads[w.ID] = value
	s.mu.Unlock()
	return nil
}

func (s *inMemStore) DeleteWorkload(_ context.Context, id string) error {
	s.mu.Lock()
	delete(s.workloads, id)
	s.mu.Unlock()
	return nil
}

func (s *inMemStore) ListWorkloads(_ context.Context) ([]*model.Workload, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*model.Workload, 0, len(s.workloads))
	for id, value := range s.workloads {
		var w model.Workload
		if err := json.Unmarshal(value, &w); err != nil {
			return nil, errors.Wrapf(err, "decode workload %s", id)
		}
		out = append(out, &w)
	}
	return out, nil
}

func (s *inMemStore) SaveNode(_ context.Context, n *model.NodeResources) error {
	value, err := json.Marshal(n)
	if err != nil {
		return errors.Wrapf(err, "encode node %s", n.NodeID)
	}
	s.mu.Lock()
	s.nodes[n.NodeID] = value
	s.mu.Unlock()
	return nil
}

func (s *inMemStore) DeleteNode(_ context.Context, id model.NodeID) error {
	s.mu.Lock()
	delete(s.nodes, id)
	s.mu.Unlock()
	return nil
}

func (s *inMemStore) ListNodes(_ context.Context) ([]*model.NodeResources, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*model.NodeResources, 0, len(s.nodes))
	for id, value := range s.nodes {
		var n model.NodeResources
		if err := json.Unmarshal(value, &n); err != nil {
			return nil, errors.Wrapf(err, "decode node %s", id)
		}
		out = append(out, &n)
	}
	return out, nil
}

func (s *inMemStore) Close() error {
	return nil
}
