package router

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/suite"
	"github.com/uber-go/tally"

	"github.com/forgelabs/forge-orchestrator/pkg/scheduler/model"
)

type RouterTestSuite struct {
	suite.Suite
	registry *Registry
}

func TestRouterTestSuite(t *testing.T) {
	suite.Run(t, new(RouterTestSuite))
}

func (s *RouterTestSuite) SetupTest() {
	s.registry = NewRegistry()
}

func (s *RouterTestSuite) expert(index int, load float64, healthy bool) Expert {
	return Expert{
		Index:   index,
		Node:    model.NodeID("node-a"),
		Healthy: healthy,
		Load:    load,
	}
}

func (s *RouterTestSuite) router(policy Policy) *Router {
	return New(s.registry, policy, tally.NoopScope)
}

func (s *RouterTestSuite) TestNeverRoutesToUnhealthyExpert() {
	s.registry.Upsert(s.expert(0, 0.1, false))
	s.registry.Upsert(s.expert(1, 0.9, true))

	result, err := s.router(NewLeastLoad()).Route(Request{Key: "k"})
	s.NoError(err)
	s.Equal(1, result.ExpertIndex)
}

func (s *RouterTestSuite) TestNeverRoutesToOverloadedExpert() {
	s.registry.Upsert(s.expert(0, 0.96, true))
	s.registry.Upsert(s.expert(1, 0.5, true))

	result, err := s.router(NewRoundRobin()).Route(Request{Key: "k"})
	s.NoError(err)
	s.Equal(1, result.ExpertIndex)
}

func (s *RouterTestSuite) TestEmptyPoolReturnsError() {
	_, err := s.router(NewLeastLoad()).Route(Request{Key: "k"})
	s.Equal(ErrNoHealthyExperts, err)
}

func (s *RouterTestSuite) TestAllFilteredReturnsError() {
	s.registry.Upsert(s.expert(0, 0.99, true))
	s.registry.Upsert(s.expert(1, 0.1, false))

	_, err := s.router(NewLeastLoad()).Route(Request{Key: "k"})
	s.Equal(ErrNoHealthyExperts, err)
}

func (s *RouterTestSuite) TestRoundRobinRotates() {
	s.registry.Upsert(s.expert(0, 0.1, true))
	s.registry.Upsert(s.expert(1, 0.1, true))
	s.registry.Upsert(s.expert(2, 0.1, true))

	router := s.router(NewRoundRobin())
	var picked []int
	for i := 0; i < 6; i++ {
		result, err := router.Route(Request{Key: "k"})
		s.NoError(err)
		picked = append(picked, result.ExpertIndex)
	}
	s.Equal([]int{0, 1, 2, 0, 1, 2}, picked)
}

func (s *RouterTestSuite) TestLeastLoadPicksMinimum() {
	s.registry.Upsert(s.expert(0, 0.8, true))
	s.registry.Upsert(s.expert(1, 0.2, true))
	s.registry.Upsert(s.expert(2, 0.5, true))

	result, err := s.router(NewLeastLoad()).Route(Request{Key: "k"})
	s.NoError(err)
	s.Equal(1, result.ExpertIndex)
	s.InDelta(0.8, result.Confidence, 1e-9)
	s.ElementsMatch([]int{0, 2}, result.Alternatives)
}

func (s *RouterTestSuite) TestGPUMemoryRequirementFilters() {
	gpuSmall := s.expert(0, 0.1, true)
	gpuSmall.GPU = model.NewGpuResources(0, "t4", 16384)
	gpuSmall.GPU.UpdateMemory(15000)

	gpuLarge := s.expert(1, 0.9, true)
	gpuLarge.GPU = model.NewGpuResources(1, "a100", 40960)

	noGPU := s.expert(2, 0.0, true)

	s.registry.Upsert(gpuSmall)
	s.registry.Upsert(gpuLarge)
	s.registry.Upsert(noGPU)

	result, err := s.router(NewLeastLoad()).Route(Request{Key: "k", MinGPUMemoryMB: 8192})
	s.NoError(err)
	s.Equal(1, result.ExpertIndex)
}

func (s *RouterTestSuite) TestGPUAwarePicksMostFreeMemory() {
	a := s.expert(0, 0.1, true)
	a.GPU = model.NewGpuResources(0, "a100", 40960)
	a.GPU.UpdateMemory(30000)

	b := s.expert(1, 0.1, true)
	b.GPU = model.NewGpuResources(1, "a100", 40960)
	b.GPU.UpdateMemory(1000)

	s.registry.Upsert(a)
	s.registry.Upsert(b)

	result, err := s.router(NewGPUAware()).Route(Request{Key: "k"})
	s.NoError(err)
	s.Equal(1, result.ExpertIndex)
}

func (s *RouterTestSuite) TestVersionMatchIsExact() {
	v1 := s.expert(0, 0.1, true)
	v1.ModelVersion = "v1"
	v2 := s.expert(1, 0.9, true)
	v2.ModelVersion = "v2"

	s.registry.Upsert(v1)
	s.registry.Upsert(v2)

	result, err := s.router(NewVersionAware()).Route(Request{Key: "k", ModelVersion: "v2"})
	s.NoError(err)
	s.Equal(1, result.ExpertIndex)

	_, err = s.router(NewVersionAware()).Route(Request{Key: "k", ModelVersion: "v3"})
	s.Equal(ErrNoHealthyExperts, err)
}

func (s *RouterTestSuite) TestSnapshotIsolatedFromTelemetry() {
	e := s.expert(0, 0.1, true)
	e.GPU = model.NewGpuResources(0, "a100", 40960)
	s.registry.Upsert(e)

	snapshot := s.registry.Snapshot()
	s.registry.UpdateGPU(0, 40000, 0.9)

	s.Equal(uint64(0), snapshot[0].GPU.MemoryUsedMB)
	s.Equal(uint64(40000), s.registry.Snapshot()[0].GPU.MemoryUsedMB)
}

func (s *RouterTestSuite) TestRouteUnderConcurrentTelemetry() {
	for i := 0; i < 4; i++ {
		e := s.expert(i, 0.1, true)
		e.GPU = model.NewGpuResources(uint32(i), "a100", 40960)
		s.registry.Upsert(e)
	}
	router := s.router(NewGPUAware())

	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
				s.registry.UpdateGPU(i%4, uint64(i%30000), float64(i%10)/10)
				s.registry.UpdateLoad(i%4, float64(i%9)/10)
			}
		}
	}()

	for i := 0; i < 1000; i++ {
		_, err := router.Route(Request{Key: "k", MinGPUMemoryMB: 1024})
		s.NoError(err)
	}
	close(stop)
	wg.Wait()
}

func (s *RouterTestSuite) TestRegistryUpdates() {
	s.registry.Upsert(s.expert(0, 0.5, true))
	s.Equal(1, s.registry.Len())

	s.registry.UpdateLoad(0, 2.0)
	snapshot := s.registry.Snapshot()
	s.Equal(1.0, snapshot[0].Load)

	s.registry.SetHealthy(0, false)
	_, err := s.router(NewLeastLoad()).Route(Request{Key: "k"})
	s.Equal(ErrNoHealthyExperts, err)

	s.registry.Remove(0)
	s.Equal(0, s.registry.Len())
}
