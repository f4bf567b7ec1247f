package model

import (
	"time"
)

// ResourceRequirements is the typed resource demand of a workload.
// All values are non-negative by construction.
type ResourceRequirements struct {
	// CPUMillis is requested CPU in millicores (1000 = 1 core).
	CPUMillis uint64 `json:"cpu_millis"`
	// MemoryMB is requested memory in MB.
	MemoryMB uint64 `json:"memory_mb"`
	// GPUCount is the number of GPU devices requested.
	GPUCount uint32 `json:"gpu_count"`
	// GPUMemoryMB is required memory per GPU device in MB.
	GPUMemoryMB uint64 `json:"gpu_memory_mb"`
}

// NewResourceRequirements returns the default requirements.
func NewResourceRequirements() *ResourceRequirements {
	return &ResourceRequirements{
		CPUMillis: 100,
		MemoryMB:  128,
	}
}

// WithCPU sets the CPU requirement in millicores.
func (r *ResourceRequirements) WithCPU(millis uint64) *ResourceRequirements {
	r.CPUMillis = millis
	return r
}

// WithMemory sets the memory requirement in MB.
func (r *ResourceRequirements) WithMemory(mb uint64) *ResourceRequirements {
	r.MemoryMB = mb
	return r
}

// WithGPU sets the GPU count and per-device memory requirement.
func (r *ResourceRequirements) WithGPU(count uint32, memoryMB uint64) *ResourceRequirements {
	r.GPUCount = count
	r.GPUMemoryMB = memoryMB
	return r
}

// Workload is a unit of work awaiting placement on a node.
type Workload struct {
	// ID is unique among pending and running workloads.
	ID string `json:"id"`
	// Name is the human readable workload name.
	Name string `json:"name"`
	// Requirements is the resource demand.
	Requirements *ResourceRequirements `json:"requirements"`
	// Priority orders the workload in the scheduling queue; higher wins.
	Priority int32 `json:"priority"`
	// PriorityClass optionally names a registered priority class. When
	// set, the class resolves Priority and the preemption policy.
	PriorityClass string `json:"priority_class,omitempty"`
	// Metadata carries arbitrary key-value pairs.
	Metadata map[string]string `json:"metadata,omitempty"`
	// CreatedAt is the submission timestamp.
	CreatedAt time.Time `json:"created_at"`
}

// NewWorkload creates a workload with default requirements.
func NewWorkload(id, name string) *Workload {
	return &Workload{
		ID:           id,
		Name:         name,
		Requirements: NewResourceRequirements(),
		Metadata:     make(map[string]string),
		CreatedAt:    time.Now().UTC(),
	}
}

// WithRequirements sets the resource requirements.
func (w *Workload) WithRequirements(req *ResourceRequirements) *Workload {
	w.Requirements = req
	return w
}

// WithPriority sets the workload priority.
func (w *Workload) WithPriority(priority int32) *Workload {
	w.Priority = priority
	return w
}

// WithPriorityClass names the priority class governing this workload.
func (w *Workload) WithPriorityClass(class string) *Workload {
	w.PriorityClass = class
	return w
}

// SchedulingDecision is the outcome of one scheduling attempt. It is
// returned to the caller and never persisted.
type SchedulingDecision struct {
	// WorkloadID identifies the workload the decision is for.
	WorkloadID string
	// NodeID is the selected node, nil when scheduling failed.
	NodeID *NodeID
	// Score is the placement score of the selected node.
	Score float64
	// Reason is a human readable explanation suitable for logging.
	Reason string
	// Preempted lists workload ids evicted to make room.
	Preempted []string
	// Latency is the time the scheduling attempt took.
	Latency time.Duration
}

// Scheduled returns true when the decision carries a target node.
func (d SchedulingDecision) Scheduled() bool {
	return d.NodeID != nil
}
