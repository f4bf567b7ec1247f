package autoscaler

import (
	"time"

	log "github.com/sirupsen/logrus"
	"go.uber.org/multierr"

	"github.com/forgelabs/forge-orchestrator/pkg/scheduler/model"
)

const (
	runningStateNotStarted int32 = 0
	runningStateRunning    int32 = 1
)

// MetricsProvider supplies the utilization snapshots the loop evaluates.
type MetricsProvider interface {
	// Targets lists the scaling targets to evaluate this tick.
	Targets() []string
	// Snapshot returns the current observation for a target.
	Snapshot(targetID string) (Snapshot, error)
}

// Actuator applies scaling decisions that moved the target.
type Actuator interface {
	Apply(targetID string, decision Decision) error
}

// WorkloadSubmitter accepts new workloads for placement. The scheduler
// satisfies this interface.
type WorkloadSubmitter interface {
	Submit(w *model.Workload) error
}

// WorkloadFactory builds the workload for one additional replica of a
// scaling target.
type WorkloadFactory func(targetID string, target uint32) *model.Workload

// submitterActuator turns scale-up decisions into workload submissions.
// Scale-downs are left to the replica owner to drain.
type submitterActuator struct {
	submitter WorkloadSubmitter
	factory   WorkloadFactory
}

// NewSubmitterActuator feeds each scale-up back into the scheduling
// queue as a new workload built by the factory.
func NewSubmitterActuator(submitter WorkloadSubmitter, factory WorkloadFactory) Actuator {
	return &submitterActuator{submitter: submitter, factory: factory}
}

func (s *submitterActuator) Apply(targetID string, decision Decision) error {
	if decision.Direction != Up {
		return nil
	}
	return s.submitter.Submit(s.factory(targetID, decision.Target))
}

// Start launches the evaluation loop against the given provider and
// actuator.
func (a *Autoscaler) Start(provider MetricsProvider, actuator Actuator) {
	a.lifecycleMu.Lock()
	defer a.lifecycleMu.Unlock()

	if a.runningState.Load() == runningStateRunning {
		log.Warn("autoscaler is already running, no action will be performed")
		return
	}

	started := make(chan struct{})
	go func() {
		defer a.runningState.Store(runningStateNotStarted)
		a.runningState.Store(runningStateRunning)

		log.WithField("interval", a.config.EvalInterval).
			Info("starting autoscaler loop")
		close(started)

		ticker := time.NewTicker(a.config.EvalInterval)
		defer ticker.Stop()
		for {
			select {
			case <-a.stopChan:
				log.Info("exiting autoscaler loop")
				return
			case <-ticker.C:
				if err := a.sweep(provider, actuator); err != nil {
					a.metrics.SweepFail.Inc(1)
					log.WithError(err).Warn("autoscaler sweep had errors")
				} else {
					a.metrics.SweepSuccess.Inc(1)
				}
			}
		}
	}()
	<-started
}

// sweep evaluates every target once, aggregating per-target errors so
// one bad target never blocks the rest.
func (a *Autoscaler) sweep(provider MetricsProvider, actuator Actuator) error {
	var errs error
	for _, targetID := range provider.Targets() {
		snapshot, err := provider.Snapshot(targetID)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}

		decision := a.Evaluate(targetID, snapshot)
		if decision.Direction == None {
			continue
		}
		if err := actuator.Apply(targetID, decision); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}

// Stop terminates the evaluation loop and waits for it to exit.
func (a *Autoscaler) Stop() {
	a.lifecycleMu.Lock()
	defer a.lifecycleMu.Unlock()

	if a.runningState.Load() == runningStateNotStarted {
		log.Warn("autoscaler is already stopped, no action will be performed")
		return
	}

	log.Info("stopping autoscaler loop")
	a.stopChan <- struct{}{}

	for a.runningState.Load() == runningStateRunning {
		time.Sleep(10 * time.Millisecond)
	}
}
