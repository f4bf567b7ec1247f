package queue

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/forgelabs/forge-orchestrator/pkg/scheduler/model"
)

type SchedulingQueueTestSuite struct {
	suite.Suite
	queue *SchedulingQueue
}

func TestSchedulingQueueTestSuite(t *testing.T) {
	suite.Run(t, new(SchedulingQueueTestSuite))
}

func (s *SchedulingQueueTestSuite) SetupTest() {
	s.queue = NewSchedulingQueue()
}

func (s *SchedulingQueueTestSuite) workload(id string, priority int32) *model.Workload {
	return model.NewWorkload(id, id).WithPriority(priority)
}

func (s *SchedulingQueueTestSuite) dequeueID() string {
	queued, err := s.queue.Dequeue()
	s.Require().NoError(err)
	return queued.Workload.ID
}

func (s *SchedulingQueueTestSuite) TestPriorityOrdering() {
	s.queue.Enqueue(s.workload("low", 10))
	s.queue.Enqueue(s.workload("high", 100))
	s.queue.Enqueue(s.workload("medium", 50))

	s.Equal("high", s.dequeueID())
	s.Equal("medium", s.dequeueID())
	s.Equal("low", s.dequeueID())
}

func (s *SchedulingQueueTestSuite) TestFIFOWithinPriority() {
	s.queue.Enqueue(s.workload("first", 50))
	s.queue.Enqueue(s.workload("second", 50))
	s.queue.Enqueue(s.workload("third", 50))

	s.Equal("first", s.dequeueID())
	s.Equal("second", s.dequeueID())
	s.Equal("third", s.dequeueID())
}

func (s *SchedulingQueueTestSuite) TestDequeueEmpty() {
	_, err := s.queue.Dequeue()
	s.Equal(ErrEmpty, err)
}

func (s *SchedulingQueueTestSuite) TestBackoffGrowth() {
	s.queue.Enqueue(s.workload("w1", 0))

	queued, err := s.queue.Dequeue()
	s.Require().NoError(err)

	now := time.Now()
	s.queue.RecordFailure(queued)
	s.InDelta(2.0, queued.BackoffUntil.Sub(now).Seconds(), 0.5,
		"first failure backs off ~2s")

	queued.Attempts = 2 // simulate past failures, next one is the third
	s.queue.Remove("w1")
	s.queue.Enqueue(queued.Workload)
	q2, err := s.queue.Dequeue()
	s.Require().NoError(err)
	q2.Attempts = 2
	now = time.Now()
	s.queue.RecordFailure(q2)
	s.InDelta(8.0, q2.BackoffUntil.Sub(now).Seconds(), 0.5,
		"third failure backs off ~8s")
}

func (s *SchedulingQueueTestSuite) TestBackoffSaturates() {
	queued := &QueuedWorkload{
		Workload: s.workload("w1", 0),
		Attempts: 20,
	}
	now := time.Now()
	s.queue.RecordFailure(queued)

	delay := queued.BackoffUntil.Sub(now)
	s.InDelta(256.0, delay.Seconds(), 0.5, "delay stabilizes at 256s")
	s.LessOrEqual(delay, 300*time.Second)
}

func (s *SchedulingQueueTestSuite) TestBackedOffWorkloadSkipped() {
	s.queue.Enqueue(s.workload("failing", 100))
	s.queue.Enqueue(s.workload("healthy", 10))

	queued, err := s.queue.Dequeue()
	s.Require().NoError(err)
	s.Equal("failing", queued.Workload.ID)
	s.queue.RecordFailure(queued)

	// The higher priority workload is in backoff, the lower one still
	// dequeues while the failing one keeps its queue position.
	s.Equal("healthy", s.dequeueID())
	s.Equal(1, s.queue.Len())
}

func (s *SchedulingQueueTestSuite) TestRemove() {
	s.queue.Enqueue(s.workload("w1", 0))
	s.queue.Enqueue(s.workload("w2", 0))
	s.queue.Enqueue(s.workload("w3", 0))

	s.True(s.queue.Remove("w2"))
	s.False(s.queue.Remove("w2"))

	s.Equal("w1", s.dequeueID())
	s.Equal("w3", s.dequeueID())
	s.True(s.queue.IsEmpty())
}

func (s *SchedulingQueueTestSuite) TestEnqueueFrontJumpsTier() {
	s.queue.Enqueue(s.workload("older", 50))
	s.queue.Enqueue(s.workload("newer", 50))

	s.queue.EnqueueFront(s.workload("victim", 50))

	s.Equal("victim", s.dequeueID())
	s.Equal("older", s.dequeueID())
	s.Equal("newer", s.dequeueID())
}

func (s *SchedulingQueueTestSuite) TestEnqueueFrontDoesNotOutrankHigherTier() {
	s.queue.Enqueue(s.workload("high", 100))
	s.queue.EnqueueFront(s.workload("victim", 50))

	s.Equal("high", s.dequeueID())
	s.Equal("victim", s.dequeueID())
}

func (s *SchedulingQueueTestSuite) TestConcurrentEnqueueKeepsArrivalOrder() {
	const submitters = 8
	const perSubmitter = 50

	var wg sync.WaitGroup
	for g := 0; g < submitters; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < perSubmitter; i++ {
				id := fmt.Sprintf("w-%d-%d", g, i)
				s.queue.Enqueue(s.workload(id, 50))
			}
		}(g)
	}
	wg.Wait()

	s.Equal(submitters*perSubmitter, s.queue.Len())

	// The list position of each workload must agree with the sequence
	// it was assigned, whatever the interleaving was.
	prev := int64(0)
	for i := 0; i < submitters*perSubmitter; i++ {
		queued, err := s.queue.Dequeue()
		s.Require().NoError(err)
		s.Greater(queued.Sequence, prev)
		prev = queued.Sequence
	}
	s.True(s.queue.IsEmpty())
}

func (s *SchedulingQueueTestSuite) TestVictimStaysAheadOfReinsertedFailure() {
	s.queue.Enqueue(s.workload("failing", 50))

	queued, err := s.queue.Dequeue()
	s.Require().NoError(err)
	s.Equal("failing", queued.Workload.ID)

	s.queue.EnqueueFront(s.workload("victim", 50))
	s.queue.RecordFailure(queued)

	// The sequence-ordered reinsert must land behind the re-admitted
	// victim, not in front of it.
	front, err := s.queue.Peek()
	s.Require().NoError(err)
	s.Equal("victim", front.ID)

	s.True(s.queue.Remove("victim"))
	front, err = s.queue.Peek()
	s.Require().NoError(err)
	s.Equal("failing", front.ID)
}

func (s *SchedulingQueueTestSuite) TestPeekDoesNotMutate() {
	s.queue.Enqueue(s.workload("w1", 10))

	peeked, err := s.queue.Peek()
	s.NoError(err)
	s.Equal("w1", peeked.ID)
	s.Equal(1, s.queue.Len())
}
