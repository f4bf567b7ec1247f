// Package storage persists workload and node state so the orchestrator
// can recover its registry and queue after a restart.
package storage

import (
	"context"

	"github.com/forgelabs/forge-orchestrator/pkg/scheduler/model"
)

// Store persists workloads and nodes. Implementations are safe for
// concurrent use.
type Store interface {
	// SaveWorkload upserts a workload record.
	SaveWorkload(ctx context.Context, w *model.Workload) error
	// DeleteWorkload removes a workload record. Deleting an unknown id
	// is not an error.
	DeleteWorkload(ctx context.Context, id string) error
	// ListWorkloads returns all persisted workloads.
	ListWorkloads(ctx context.Context) ([]*model.Workload, error)

	// SaveNode upserts a node record.
	SaveNode(ctx context.Context, n *model.NodeResources) error
	// DeleteNode removes a node record. Deleting an unknown id is not
	// an error.
	DeleteNode(ctx context.Context, id model.NodeID) error
	// ListNodes returns all persisted nodes.
	ListNodes(ctx context.Context) ([]*model.NodeResources, error)

	// Close releases the store's resources.
	Close() error
}
