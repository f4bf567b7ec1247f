package router

import (
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/uber-go/tally"
	"go.uber.org/atomic"
)

// ErrNoHealthyExperts is returned when the eligibility filter leaves no
// expert to route to. The error is fatal to the caller; the router
// never retries or falls back internally.
var ErrNoHealthyExperts = errors.New("no healthy experts available")

// Request describes one routing request.
type Request struct {
	// Key identifies the request for logging.
	Key string
	// MinGPUMemoryMB, when non-zero, requires an expert whose device
	// has at least this much free memory.
	MinGPUMemoryMB uint64
	// ModelVersion, when non-empty, requires an exact version match.
	ModelVersion string
}

// Result is the routing outcome.
type Result struct {
	// ExpertIndex is the selected expert.
	ExpertIndex int
	// Node is the node hosting the selected expert.
	Node string
	// Confidence reflects how loaded the selected expert is; 1 means
	// idle.
	Confidence float64
	// Alternatives lists the other eligible expert indexes.
	Alternatives []int
}

// Policy selects one expert among the eligible set. The eligible slice
// is never empty and is ordered by expert index.
type Policy interface {
	Select(eligible []Expert, req Request) Expert
	Name() string
}

// Router pairs an expert registry with a selection policy.
type Router struct {
	registry *Registry
	policy   Policy
	metrics  *Metrics
}

// New creates a router.
func New(registry *Registry, policy Policy, scope tally.Scope) *Router {
	return &Router{
		registry: registry,
		policy:   policy,
		metrics:  NewMetrics(scope, policy.Name()),
	}
}

// Route selects an expert for the request. Eligibility filters apply in
// order: healthy, load below the ceiling, GPU memory when requested,
// version match when requested.
func (r *Router) Route(req Request) (Result, error) {
	var eligible []Expert
	for _, e := range r.registry.Snapshot() {
		if !e.Available() {
			continue
		}
		if req.MinGPUMemoryMB > 0 && !e.HasGPUMemory(req.MinGPUMemoryMB) {
			continue
		}
		if req.ModelVersion != "" && e.ModelVersion != req.ModelVersion {
			continue
		}
		eligible = append(eligible, e)
	}

	if len(eligible) == 0 {
		r.metrics.NoExpert.Inc(1)
		log.WithFields(log.Fields{
			"key":     req.Key,
			"version": req.ModelVersion,
		}).Debug("no eligible expert for request")
		return Result{}, ErrNoHealthyExperts
	}

	selected := r.policy.Select(eligible, req)

	alternatives := make([]int, 0, len(eligible)-1)
	for _, e := range eligible {
		if e.Index != selected.Index {
			alternatives = append(alternatives, e.Index)
		}
	}

	r.metrics.Routed.Inc(1)
	return Result{
		ExpertIndex:  selected.Index,
		Node:         selected.Node.String(),
		Confidence:   1 - selected.Load,
		Alternatives: alternatives,
	}, nil
}

// roundRobin rotates through the eligible set.
type roundRobin struct {
	cursor atomic.Uint64
}

// NewRoundRobin creates the rotating-index policy.
func NewRoundRobin() Policy {
	return &roundRobin{}
}

func (p *roundRobin) Name() string { return "round-robin" }

func (p *roundRobin) Select(eligible []Expert, _ Request) Expert {
	n := p.cursor.Add(1) - 1
	return eligible[n%uint64(len(eligible))]
}

// leastLoad picks the expert with the minimum load fraction.
type leastLoad struct{}

// NewLeastLoad creates the load-aware policy.
func NewLeastLoad() Policy {
	return &leastLoad{}
}

func (p *leastLoad) Name() string { return "least-load" }

func (p *leastLoad) Select(eligible []Expert, _ Request) Expert {
	best := eligible[0]
	for _, e := range eligible[1:] {
		if e.Load < best.Load {
			best = e
		}
	}
	return best
}

// gpuAware picks the expert with the most free GPU memory. Experts
// without a device rank last.
type gpuAware struct{}

// NewGPUAware creates the GPU-memory-aware policy.
func NewGPUAware() Policy {
	return &gpuAware{}
}

func (p *gpuAware) Name() string { return "gpu-aware" }

func (p *gpuAware) Select(eligible []Expert, _ Request) Expert {
	best := eligible[0]
	bestFree := freeGPUMemory(best)
	for _, e := range eligible[1:] {
		if free := freeGPUMemory(e); free > bestFree {
			best = e
			bestFree = free
		}
	}
	return best
}

func freeGPUMemory(e Expert) uint64 {
	if e.GPU == nil {
		return 0
	}
	return e.GPU.AvailableMemoryMB()
}

// versionAware picks the least loaded expert. Version eligibility is
// enforced by the router's filter, so by the time this policy runs the
// whole eligible set matches the requested version exactly.
type versionAware struct {
	leastLoad
}

// NewVersionAware creates the version-pinned policy.
func NewVersionAware() Policy {
	return &versionAware{}
}

func (p *versionAware) Name() string { return "version-aware" }
