package autoscaler

import "github.com/uber-go/tally"

// Metrics is a placeholder for all metrics in the autoscaler.
type Metrics struct {
	ScaleUp            tally.Counter
	ScaleDown          tally.Counter
	NoChange           tally.Counter
	CooldownSuppressed tally.Counter

	SweepSuccess tally.Counter
	SweepFail    tally.Counter

	Replicas tally.Gauge
}

// NewMetrics returns a new instance of autoscaler.Metrics.
func NewMetrics(scope tally.Scope) *Metrics {
	decisionScope := scope.SubScope("decision")
	sweepScope := scope.SubScope("sweep")
	successScope := sweepScope.Tagged(map[string]string{"type": "success"})
	failScope := sweepScope.Tagged(map[string]string{"type": "fail"})

	return &Metrics{
		ScaleUp:            decisionScope.Counter("scale_up"),
		ScaleDown:          decisionScope.Counter("scale_down"),
		NoChange:           decisionScope.Counter("no_change"),
		CooldownSuppressed: decisionScope.Counter("cooldown_suppressed"),

		SweepSuccess: successScope.Counter("runs"),
		SweepFail:    failScope.Counter("runs"),

		Replicas: scope.Gauge("replicas"),
	}
}
