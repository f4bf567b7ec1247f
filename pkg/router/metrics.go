package router

import "github.com/uber-go/tally"

// Metrics is a placeholder for all metrics in the router.
type Metrics struct {
	Routed   tally.Counter
	NoExpert tally.Counter

	PoolSize tally.Gauge
}

// NewMetrics returns a new instance of router.Metrics tagged with the
// active policy.
func NewMetrics(scope tally.Scope, policy string) *Metrics {
	scope = scope.Tagged(map[string]string{"policy": policy})

	return &Metrics{
		Routed:   scope.Counter("routed"),
		NoExpert: scope.Counter("no_expert"),
		PoolSize: scope.Gauge("pool_size"),
	}
}
