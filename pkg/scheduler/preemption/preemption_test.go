package preemption

import (
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/forgelabs/forge-orchestrator/pkg/scheduler/model"
)

type PreemptionTestSuite struct {
	suite.Suite
	ranker Ranker
	node   *model.NodeResources
}

func TestPreemptionTestSuite(t *testing.T) {
	suite.Run(t, new(PreemptionTestSuite))
}

func (s *PreemptionTestSuite) SetupTest() {
	s.ranker = NewPriorityRanker()
	s.node = model.NewNodeResources(model.NewNodeID(), 4000, 8192)
}

func (s *PreemptionTestSuite) running(id string, priority int32, cpu, mem uint64) RunningWorkload {
	w := model.NewWorkload(id, id).
		WithPriority(priority).
		WithRequirements(model.NewResourceRequirements().WithCPU(cpu).WithMemory(mem))
	s.node.Allocate(w.Requirements)
	return RunningWorkload{Workload: w, NodeID: s.node.NodeID}
}

func (s *PreemptionTestSuite) TestStandardClassOrdering() {
	s.Greater(SystemCritical.Value, SystemHigh.Value)
	s.Greater(SystemHigh.Value, ProductionHigh.Value)
	s.Greater(ProductionHigh.Value, ProductionMedium.Value)
	s.Greater(ProductionMedium.Value, Batch.Value)
	s.Greater(Batch.Value, BestEffort.Value)

	s.Equal(Never, Batch.Policy)
	s.Equal(Never, BestEffort.Policy)
	s.Equal(PreemptLowerPriority, SystemCritical.Policy)
}

func (s *PreemptionTestSuite) TestClassTableSingleDefault() {
	table, err := NewClassTable(StandardClasses()...)
	s.NoError(err)
	s.Equal("production-medium", table.Default().Name)

	// Unknown names resolve to the default class.
	s.Equal("production-medium", table.Lookup("no-such-class").Name)
	s.Equal("batch", table.Lookup("batch").Name)
}

func (s *PreemptionTestSuite) TestClassTableRejectsTwoDefaults() {
	second := ProductionHigh
	second.GlobalDefault = true
	_, err := NewClassTable(ProductionMedium, second)
	s.Error(err)
}

func (s *PreemptionTestSuite) TestClassTableRejectsNoDefault() {
	_, err := NewClassTable(Batch, BestEffort)
	s.Error(err)
}

func (s *PreemptionTestSuite) TestClassTableRejectsDuplicateNames() {
	_, err := NewClassTable(ProductionMedium, ProductionMedium)
	s.Error(err)
}

func (s *PreemptionTestSuite) TestEvictsLowestPriorityFirst() {
	running := []RunningWorkload{
		s.running("low", 10, 2000, 4096),
		s.running("medium", 50, 2000, 4096),
	}
	req := model.NewResourceRequirements().WithCPU(1500).WithMemory(2048)

	victims, ok := s.ranker.VictimsToEvict(req, s.node, running, 100)
	s.True(ok)
	s.Len(victims, 1)
	s.Equal("low", victims[0].Workload.ID)
}

func (s *PreemptionTestSuite) TestNeverEvictsEqualOrHigherPriority() {
	running := []RunningWorkload{
		s.running("peer", 100, 4000, 8192),
	}
	req := model.NewResourceRequirements().WithCPU(1000).WithMemory(1024)

	_, ok := s.ranker.VictimsToEvict(req, s.node, running, 100)
	s.False(ok)
}

func (s *PreemptionTestSuite) TestAccumulatesVictimsUntilFit() {
	running := []RunningWorkload{
		s.running("a", 10, 1500, 2048),
		s.running("b", 10, 1500, 2048),
		s.running("c", 10, 1000, 2048),
	}
	req := model.NewResourceRequirements().WithCPU(2500).WithMemory(3000)

	victims, ok := s.ranker.VictimsToEvict(req, s.node, running, 100)
	s.True(ok)
	s.True(len(victims) >= 2, "one victim cannot free 2500 millicores")
}

func (s *PreemptionTestSuite) TestInsufficientVictimsFails() {
	running := []RunningWorkload{
		s.running("small", 10, 500, 512),
	}
	// Node is 4000/8192 with 500/512 allocated; a 3900 CPU request fits
	// only if more than the single victim frees up.
	s.node.CPUAllocated = 4000
	req := model.NewResourceRequirements().WithCPU(3900).WithMemory(1024)

	_, ok := s.ranker.VictimsToEvict(req, s.node, running, 100)
	s.False(ok)
}

func (s *PreemptionTestSuite) TestYoungestEvictedFirstWithinPriority() {
	older := s.running("older", 10, 1000, 1024)
	older.Workload.CreatedAt = time.Now().Add(-time.Hour)
	younger := s.running("younger", 10, 1000, 1024)

	s.node.CPUAllocated = 4000
	req := model.NewResourceRequirements().WithCPU(900).WithMemory(512)

	victims, ok := s.ranker.VictimsToEvict(
		req, s.node, []RunningWorkload{older, younger}, 100)
	s.True(ok)
	s.Equal("younger", victims[0].Workload.ID)
}
