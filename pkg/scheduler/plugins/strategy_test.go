package plugins

import (
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/forgelabs/forge-orchestrator/pkg/scheduler/model"
)

type StrategyTestSuite struct {
	suite.Suite
	workload *model.Workload
}

func TestStrategyTestSuite(t *testing.T) {
	suite.Run(t, new(StrategyTestSuite))
}

func (s *StrategyTestSuite) SetupTest() {
	s.workload = model.NewWorkload("w1", "test").
		WithRequirements(model.NewResourceRequirements().WithCPU(500).WithMemory(512))
}

func (s *StrategyTestSuite) node(cpuAlloc, memAlloc uint64) *model.NodeResources {
	node := model.NewNodeResources(model.NewNodeID(), 4000, 8192)
	node.CPUAllocated = cpuAlloc
	node.MemoryAllocated = memAlloc
	return node
}

func (s *StrategyTestSuite) TestBinPackPrefersUtilized() {
	strategy := NewBinPack()

	lowUtil := s.node(1000, 2048)
	highUtil := s.node(3000, 6144)

	s.Greater(
		strategy.Score(s.workload, highUtil),
		strategy.Score(s.workload, lowUtil),
		"bin-pack must prefer the more utilized node")
}

func (s *StrategyTestSuite) TestSpreadPrefersEmpty() {
	strategy := NewSpread()

	lowUtil := s.node(1000, 2048)
	highUtil := s.node(3000, 6144)

	s.Greater(
		strategy.Score(s.workload, lowUtil),
		strategy.Score(s.workload, highUtil),
		"spread must prefer the less utilized node")
}

func (s *StrategyTestSuite) TestLearnedScoreBounded() {
	strategy := NewLearned(LearnedConfig{})
	node := s.node(2000, 4096)

	score := strategy.Score(s.workload, node)
	s.Greater(score, 0.0)
	s.Less(score, 1.0)
}

func (s *StrategyTestSuite) TestLearnedFeedbackMovesWeights() {
	strategy := NewLearned(LearnedConfig{})
	node := s.node(2000, 4096)

	before := strategy.Weights()
	features := strategy.ExtractFeatures(s.workload, node)
	strategy.RecordFeedback(features, 0.9)
	after := strategy.Weights()

	moved := false
	for i := range before {
		if before[i] != after[i] {
			moved = true
		}
	}
	s.True(moved, "feedback must adjust at least one weight")
}

func (s *StrategyTestSuite) TestLearnedWeightsStayClamped() {
	strategy := NewLearned(LearnedConfig{LearningRate: 10})
	features := []float64{1, 1, 1, 1, 1, 1, 1, 1}

	// LMS with an extreme learning rate is a heuristic, not an optimizer;
	// the clamp is the only hard bound.
	for i := 0; i < 100; i++ {
		strategy.RecordFeedback(features, 1.0)
	}
	for _, w := range strategy.Weights() {
		s.LessOrEqual(w, 2.0)
		s.GreaterOrEqual(w, -2.0)
	}
}

func (s *StrategyTestSuite) TestLearnedWithoutFeedbackKeepsWeights() {
	strategy := NewLearned(LearnedConfig{})
	node := s.node(1000, 1024)

	strategy.Score(s.workload, node)
	strategy.Score(s.workload, node)

	for _, w := range strategy.Weights() {
		s.Equal(0.5, w)
	}
}

func (s *StrategyTestSuite) TestDefaultFeaturesDimension() {
	features := DefaultFeatures(s.workload, s.node(0, 0))
	s.Len(features, 8)
}
