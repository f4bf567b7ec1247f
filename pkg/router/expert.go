// Package router selects inference experts for requests, filtering by
// health, load, GPU memory and model version.
package router

import (
	"sort"
	"sync"

	"github.com/forgelabs/forge-orchestrator/pkg/scheduler/model"
)

// loadCeiling is the load fraction at which an expert stops taking
// new requests.
const loadCeiling = 0.95

// Expert is one inference replica in the routing pool.
type Expert struct {
	// Index uniquely identifies the expert within the registry.
	Index int
	// Node is the node hosting the replica.
	Node model.NodeID
	// Capacity is the replica's request capacity.
	Capacity uint32
	// Load is the current load fraction, clamped to [0, 1].
	Load float64
	// Healthy reflects the last health report.
	Healthy bool
	// GPU is the device serving this expert, if any.
	GPU *model.GpuResources
	// ModelVersion is the served model version, if reported.
	ModelVersion string
	// Metadata carries arbitrary key-value pairs.
	Metadata map[string]string
}

// Available returns true when the expert can take another request.
func (e *Expert) Available() bool {
	return e.Healthy && e.Load < loadCeiling
}

// HasGPUMemory returns true when the expert's device has at least mb
// free. Experts without a GPU never satisfy a GPU memory requirement.
func (e *Expert) HasGPUMemory(mb uint64) bool {
	return e.GPU != nil && e.GPU.AvailableMemoryMB() >= mb
}

// Registry tracks the live expert pool. All methods are safe for
// concurrent use.
type Registry struct {
	mu      sync.Mutex
	experts map[int]*Expert
}

// NewRegistry creates an empty expert registry.
func NewRegistry() *Registry {
	return &Registry{experts: make(map[int]*Expert)}
}

// Upsert adds or replaces an expert by index.
func (r *Registry) Upsert(e Expert) {
	e.Load = clamp01(e.Load)
	r.mu.Lock()
	r.experts[e.Index] = &e
	r.mu.Unlock()
}

// Remove drops an expert from the pool.
func (r *Registry) Remove(index int) {
	r.mu.Lock()
	delete(r.experts, index)
	r.mu.Unlock()
}

// UpdateLoad records a load report for an expert. Unknown indexes are
// ignored.
func (r *Registry) UpdateLoad(index int, load float64) {
	r.mu.Lock()
	if e, ok := r.experts[index]; ok {
		e.Load = clamp01(load)
	}
	r.mu.Unlock()
}

// SetHealthy records a health report for an expert.
func (r *Registry) SetHealthy(index int, healthy bool) {
	r.mu.Lock()
	if e, ok := r.experts[index]; ok {
		e.Healthy = healthy
	}
	r.mu.Unlock()
}

// UpdateGPU records GPU telemetry for an expert.
func (r *Registry) UpdateGPU(index int, usedMB uint64, utilization float64) {
	r.mu.Lock()
	if e, ok := r.experts[index]; ok && e.GPU != nil {
		e.GPU.UpdateMemory(usedMB)
		e.GPU.UpdateUtilization(utilization)
	}
	r.mu.Unlock()
}

// Snapshot returns a copy of the expert pool ordered by index.
func (r *Registry) Snapshot() []Expert {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Expert, 0, len(r.experts))
	for _, e := range r.experts {
		copied := *e
		if e.GPU != nil {
			// Telemetry keeps mutating the registry's GpuResources, so
			// the snapshot gets its own copy.
			gpu := *e.GPU
			copied.GPU = &gpu
		}
		out = append(out, copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

// Len returns the number of registered experts.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.experts)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
