package scheduler

import (
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	runningStateNotStarted int32 = 0
	runningStateRunning    int32 = 1
)

// Start launches the scheduling run loop. Each tick drains every ready
// workload from the queue; soft failures are re-queued with backoff.
func (s *Scheduler) Start() {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	if s.runningState.Load() == runningStateRunning {
		log.Warn("scheduler is already running, no action will be performed")
		return
	}

	started := make(chan struct{})
	go func() {
		defer s.runningState.Store(runningStateNotStarted)
		s.runningState.Store(runningStateRunning)

		log.Info("starting scheduler run loop")
		close(started)

		ticker := time.NewTicker(s.schedulingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-s.stopChan:
				log.Info("exiting scheduler run loop")
				return
			case <-ticker.C:
				s.drainReady()
			}
		}
	}()
	<-started
}

// drainReady schedules every workload that is ready this tick. The loop
// terminates because each dequeued workload either leaves the queue or
// re-enters it in backoff, where Dequeue no longer sees it.
func (s *Scheduler) drainReady() {
	for {
		if _, ok := s.ScheduleNext(); !ok {
			return
		}
	}
}

// Stop terminates the run loop and waits for it to exit.
func (s *Scheduler) Stop() {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	if s.runningState.Load() == runningStateNotStarted {
		log.Warn("scheduler is already stopped, no action will be performed")
		return
	}

	log.Info("stopping scheduler run loop")
	s.stopChan <- struct{}{}

	for s.runningState.Load() == runningStateRunning {
		time.Sleep(10 * time.Millisecond)
	}
}
