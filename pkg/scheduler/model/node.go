// Package model holds the resource and workload types shared by the
// scheduler, autoscaler and router.
package model

import (
	"github.com/pborman/uuid"
)

// NodeID is the opaque unique identifier of a cluster node. IDs are never
// reused after a node departs.
type NodeID string

// NewNodeID generates a random node identifier.
func NewNodeID() NodeID {
	return NodeID("node-" + uuid.NewRandom().String()[:8])
}

// String returns the node id as a string.
func (n NodeID) String() string {
	return string(n)
}

// GpuResources describes one GPU device and its telemetry.
type GpuResources struct {
	DeviceID          uint32  `json:"device_id"`
	Model             string  `json:"model"`
	MemoryMB          uint64  `json:"memory_mb"`
	MemoryUsedMB      uint64  `json:"memory_used_mb"`
	Utilization       float64 `json:"utilization"`
	ComputeCapability float64 `json:"compute_capability,omitempty"`
	TensorCores       bool    `json:"tensor_cores"`
}

// NewGpuResources creates GPU resources for a device.
func NewGpuResources(deviceID uint32, model string, memoryMB uint64) *GpuResources {
	return &GpuResources{
		DeviceID: deviceID,
		Model:    model,
		MemoryMB: memoryMB,
	}
}

// AvailableMemoryMB returns the free device memory.
func (g *GpuResources) AvailableMemoryMB() uint64 {
	if g.MemoryUsedMB > g.MemoryMB {
		return 0
	}
	return g.MemoryMB - g.MemoryUsedMB
}

// UpdateMemory records used memory from telemetry, clamped to capacity.
func (g *GpuResources) UpdateMemory(usedMB uint64) {
	if usedMB > g.MemoryMB {
		usedMB = g.MemoryMB
	}
	g.MemoryUsedMB = usedMB
}

// UpdateUtilization records device utilization, clamped to [0, 1].
func (g *GpuResources) UpdateUtilization(util float64) {
	g.Utilization = clampFraction(util)
}

// Available returns true if the device has headroom for more work.
func (g *GpuResources) Available() bool {
	return g.Utilization < 0.95
}

// NodeResources tracks the capacity and allocation of a single node.
// Allocation never exceeds capacity along any dimension.
type NodeResources struct {
	NodeID          NodeID            `json:"node_id"`
	CPUCapacity     uint64            `json:"cpu_capacity"`
	CPUAllocated    uint64            `json:"cpu_allocated"`
	MemoryCapacity  uint64            `json:"memory_capacity"`
	MemoryAllocated uint64            `json:"memory_allocated"`
	GPUs            []*GpuResources   `json:"gpus,omitempty"`
	GPUsAllocated   []uint32          `json:"gpus_allocated,omitempty"`
	Labels          map[string]string `json:"labels,omitempty"`
	Schedulable     bool              `json:"schedulable"`
}

// NewNodeResources creates node resources with the given capacity.
// CPU is in millicores, memory in MB.
func NewNodeResources(id NodeID, cpuCapacity, memoryCapacity uint64) *NodeResources {
	return &NodeResources{
		NodeID:         id,
		CPUCapacity:    cpuCapacity,
		MemoryCapacity: memoryCapacity,
		Labels:         make(map[string]string),
		Schedulable:    true,
	}
}

// AddGPU attaches a GPU device to the node.
func (n *NodeResources) AddGPU(gpu *GpuResources) *NodeResources {
	n.GPUs = append(n.GPUs, gpu)
	return n
}

// CPUAvailable returns unallocated CPU millicores.
func (n *NodeResources) CPUAvailable() uint64 {
	if n.CPUAllocated > n.CPUCapacity {
		return 0
	}
	return n.CPUCapacity - n.CPUAllocated
}

// MemoryAvailable returns unallocated memory in MB.
func (n *NodeResources) MemoryAvailable() uint64 {
	if n.MemoryAllocated > n.MemoryCapacity {
		return 0
	}
	return n.MemoryCapacity - n.MemoryAllocated
}

// GPUsAvailable returns the number of unallocated GPU devices.
func (n *NodeResources) GPUsAvailable() int {
	return len(n.GPUs) - len(n.GPUsAllocated)
}

// CPUUtilization returns the allocated CPU fraction.
func (n *NodeResources) CPUUtilization() float64 {
	if n.CPUCapacity == 0 {
		return 0
	}
	return float64(n.CPUAllocated) / float64(n.CPUCapacity)
}

// MemoryUtilization returns the allocated memory fraction.
func (n *NodeResources) MemoryUtilization() float64 {
	if n.MemoryCapacity == 0 {
		return 0
	}
	return float64(n.MemoryAllocated) / float64(n.MemoryCapacity)
}

func (n *NodeResources) gpuAllocated(deviceID uint32) bool {
	for _, id := range n.GPUsAllocated {
		if id == deviceID {
			return true
		}
	}
	return false
}

// freeGPUs returns unallocated devices satisfying the per-device memory
// requirement.
func (n *NodeResources) freeGPUs(memoryMB uint64) []*GpuResources {
	var free []*GpuResources
	for _, gpu := range n.GPUs {
		if !n.gpuAllocated(gpu.DeviceID) && gpu.AvailableMemoryMB() >= memoryMB {
			free = append(free, gpu)
		}
	}
	return free
}

// CanFit checks whether the node can satisfy the requirements along every
// resource dimension.
func (n *NodeResources) CanFit(req *ResourceRequirements) bool {
	if !n.Schedulable {
		return false
	}
	if n.CPUAvailable() < req.CPUMillis {
		return false
	}
	if n.MemoryAvailable() < req.MemoryMB {
		return false
	}
	if req.GPUCount > 0 {
		if len(n.freeGPUs(req.GPUMemoryMB)) < int(req.GPUCount) {
			return false
		}
	}
	return true
}

// Allocate reserves resources for the requirements and returns the GPU
// device ids taken. The operation is atomic: it either applies all
// counters or leaves the node unchanged.
func (n *NodeResources) Allocate(req *ResourceRequirements) ([]uint32, bool) {
	if !n.CanFit(req) {
		return nil, false
	}

	n.CPUAllocated += req.CPUMillis
	n.MemoryAllocated += req.MemoryMB

	var taken []uint32
	for _, gpu := range n.freeGPUs(req.GPUMemoryMB)[:req.GPUCount] {
		taken = append(taken, gpu.DeviceID)
	}
	n.GPUsAllocated = append(n.GPUsAllocated, taken...)
	return taken, true
}

// Release returns previously allocated resources to the node.
func (n *NodeResources) Release(req *ResourceRequirements, gpuIDs []uint32) {
	if req.CPUMillis > n.CPUAllocated {
		n.CPUAllocated = 0
	} else {
		n.CPUAllocated -= req.CPUMillis
	}
	if req.MemoryMB > n.MemoryAllocated {
		n.MemoryAllocated = 0
	} else {
		n.MemoryAllocated -= req.MemoryMB
	}

	if len(gpuIDs) == 0 {
		return
	}
	released := make(map[uint32]bool, len(gpuIDs))
	for _, id := range gpuIDs {
		released[id] = true
	}
	kept := n.GPUsAllocated[:0]
	for _, id := range n.GPUsAllocated {
		if !released[id] {
			kept = append(kept, id)
		}
	}
	n.GPUsAllocated = kept
}

func clampFraction(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
