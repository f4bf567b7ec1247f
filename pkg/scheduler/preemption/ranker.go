package preemption

import (
	"sort"

	log "github.com/sirupsen/logrus"

	"github.com/forgelabs/forge-orchestrator/pkg/scheduler/model"
)

// RunningWorkload is a placed workload considered for eviction.
type RunningWorkload struct {
	// Workload is the running workload.
	Workload *model.Workload
	// NodeID is the node hosting it.
	NodeID model.NodeID
	// GPUIDs are the GPU devices allocated to it.
	GPUIDs []uint32
}

// Ranker selects the victims to evict from a node so a pending workload
// fits. Implementations are pure: they never mutate node state.
type Ranker interface {
	// VictimsToEvict returns a victim set whose release makes the node
	// fit the requirements, or ok=false when no sufficient set of
	// strictly-lower-priority victims exists.
	VictimsToEvict(
		req *model.ResourceRequirements,
		node *model.NodeResources,
		running []RunningWorkload,
		preemptorPriority int32,
	) (victims []RunningWorkload, ok bool)
}

// NewPriorityRanker creates the ranker evicting lowest-priority victims
// first, youngest first within a priority.
func NewPriorityRanker() Ranker {
	return &priorityRanker{}
}

type priorityRanker struct{}

func (r *priorityRanker) VictimsToEvict(
	req *model.ResourceRequirements,
	node *model.NodeResources,
	running []RunningWorkload,
	preemptorPriority int32,
) ([]RunningWorkload, bool) {
	candidates := make([]RunningWorkload, 0, len(running))
	for _, rw := range running {
		if rw.Workload.Priority < preemptorPriority {
			candidates = append(candidates, rw)
		}
	}
	if len(candidates) == 0 {
		return nil, false
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Workload.Priority != candidates[j].Workload.Priority {
			return candidates[i].Workload.Priority < candidates[j].Workload.Priority
		}
		// Within a priority, evict the most recently created first.
		return candidates[i].Workload.CreatedAt.After(candidates[j].Workload.CreatedAt)
	})

	cpuFree := node.CPUAvailable()
	memFree := node.MemoryAvailable()
	gpuFree := node.GPUsAvailable()

	var victims []RunningWorkload
	for _, victim := range candidates {
		if fits(req, cpuFree, memFree, gpuFree) {
			break
		}
		victims = append(victims, victim)
		cpuFree += victim.Workload.Requirements.CPUMillis
		memFree += victim.Workload.Requirements.MemoryMB
		gpuFree += len(victim.GPUIDs)
	}

	if !fits(req, cpuFree, memFree, gpuFree) {
		log.WithFields(log.Fields{
			"node_id":    node.NodeID,
			"candidates": len(candidates),
		}).Debug("no sufficient victim set on node")
		return nil, false
	}
	return victims, true
}

// fits checks the requirement against simulated free resources. GPU
// memory is approximated by device count; the scheduler re-validates the
// exact fit after the eviction is applied.
func fits(req *model.ResourceRequirements, cpuFree, memFree uint64, gpuFree int) bool {
	return cpuFree >= req.CPUMillis &&
		memFree >= req.MemoryMB &&
		gpuFree >= int(req.GPUCount)
}
