package scheduler

import "github.com/uber-go/tally"

// Metrics is a placeholder for all metrics in the scheduler.
type Metrics struct {
	APISubmit     tally.Counter
	SubmitSuccess tally.Counter
	SubmitFail    tally.Counter

	ScheduleSuccess tally.Counter
	ScheduleFail    tally.Counter
	SchedulePreempt tally.Counter

	WorkloadsEvicted tally.Counter

	QueueLen  tally.Gauge
	NodeCount tally.Gauge

	SchedulingLatency tally.Timer
}

// NewMetrics returns a new instance of scheduler.Metrics.
func NewMetrics(scope tally.Scope) *Metrics {
	successScope := scope.Tagged(map[string]string{"type": "success"})
	failScope := scope.Tagged(map[string]string{"type": "fail"})
	apiScope := scope.SubScope("api")
	queueScope := scope.SubScope("queue")
	nodeScope := scope.SubScope("node")

	return &Metrics{
		APISubmit:     apiScope.Counter("submit"),
		SubmitSuccess: successScope.Counter("submit"),
		SubmitFail:    failScope.Counter("submit"),

		ScheduleSuccess: successScope.Counter("schedule"),
		ScheduleFail:    failScope.Counter("schedule"),
		SchedulePreempt: scope.Counter("schedule_with_preemption"),

		WorkloadsEvicted: scope.Counter("workloads_evicted"),

		QueueLen:  queueScope.Gauge("length"),
		NodeCount: nodeScope.Gauge("count"),

		SchedulingLatency: scope.Timer("scheduling_latency"),
	}
}
