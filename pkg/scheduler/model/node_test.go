package model

import (
	"testing"

	"github.com/stretchr/testify/suite"
)

type NodeResourcesTestSuite struct {
	suite.Suite
	node *NodeResources
}

func TestNodeResourcesTestSuite(t *testing.T) {
	suite.Run(t, new(NodeResourcesTestSuite))
}

func (s *NodeResourcesTestSuite) SetupTest() {
	s.node = NewNodeResources(NewNodeID(), 4000, 8192)
}

func (s *NodeResourcesTestSuite) TestAllocateRelease() {
	req := NewResourceRequirements().WithCPU(1000).WithMemory(2048)
	s.True(s.node.CanFit(req))

	_, ok := s.node.Allocate(req)
	s.True(ok)
	s.Equal(uint64(3000), s.node.CPUAvailable())
	s.Equal(uint64(6144), s.node.MemoryAvailable())

	s.node.Release(req, nil)
	s.Equal(uint64(4000), s.node.CPUAvailable())
	s.Equal(uint64(8192), s.node.MemoryAvailable())
}

func (s *NodeResourcesTestSuite) TestAllocateAtomicOnNoFit() {
	req := NewResourceRequirements().WithCPU(8000).WithMemory(1)
	_, ok := s.node.Allocate(req)
	s.False(ok)
	s.Equal(uint64(0), s.node.CPUAllocated)
	s.Equal(uint64(0), s.node.MemoryAllocated)
}

func (s *NodeResourcesTestSuite) TestUnschedulableNodeNeverFits() {
	s.node.Schedulable = false
	s.False(s.node.CanFit(NewResourceRequirements()))
}

func (s *NodeResourcesTestSuite) TestGPUAllocation() {
	s.node.AddGPU(NewGpuResources(0, "A100", 40960))
	s.node.AddGPU(NewGpuResources(1, "A100", 40960))

	req := NewResourceRequirements().WithCPU(100).WithMemory(128).WithGPU(1, 20000)
	s.True(s.node.CanFit(req))

	taken, ok := s.node.Allocate(req)
	s.True(ok)
	s.Len(taken, 1)
	s.Equal(1, s.node.GPUsAvailable())

	// Second device still available, third request fails.
	taken2, ok := s.node.Allocate(req)
	s.True(ok)
	s.Len(taken2, 1)
	_, ok = s.node.Allocate(req)
	s.False(ok)

	s.node.Release(req, taken)
	s.Equal(1, s.node.GPUsAvailable())
}

func (s *NodeResourcesTestSuite) TestGPUMemoryRequirement() {
	gpu := NewGpuResources(0, "T4", 16384)
	gpu.UpdateMemory(10000)
	s.node.AddGPU(gpu)

	req := NewResourceRequirements().WithGPU(1, 8000)
	s.False(s.node.CanFit(req), "free GPU memory below requirement")

	gpu.UpdateMemory(0)
	s.True(s.node.CanFit(req))
}

func (s *NodeResourcesTestSuite) TestGpuResourcesClamping() {
	gpu := NewGpuResources(0, "H100", 81920)
	gpu.UpdateMemory(100000)
	s.Equal(uint64(81920), gpu.MemoryUsedMB)
	s.Equal(uint64(0), gpu.AvailableMemoryMB())

	gpu.UpdateUtilization(1.5)
	s.Equal(1.0, gpu.Utilization)
	s.False(gpu.Available())
}
