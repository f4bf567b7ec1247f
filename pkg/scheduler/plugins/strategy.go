// Package plugins holds the pluggable placement strategies used by the
// scheduler to score nodes for a workload.
package plugins

import (
	"github.com/forgelabs/forge-orchestrator/pkg/scheduler/model"
)

// Strategy scores a node for a workload; higher is better. Eligibility
// filtering (capacity, GPU memory) is the scheduler's responsibility, so
// strategies may assume the node fits the workload.
type Strategy interface {
	// Score returns the placement score for scheduling the workload on
	// the node.
	Score(workload *model.Workload, node *model.NodeResources) float64

	// Name returns the strategy name for logging and metrics.
	Name() string
}
