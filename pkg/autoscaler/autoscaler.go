// Package autoscaler computes replica target counts from utilization
// snapshots, enforcing per-direction cooldowns and hard replica bounds.
package autoscaler

import (
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/uber-go/tally"
	"go.uber.org/atomic"
)

// historySize is the number of snapshots retained per target.
const historySize = 32

// Config holds the autoscaler thresholds and bounds.
type Config struct {
	// UpscaleThreshold is the utilization fraction at or above which the
	// target grows.
	UpscaleThreshold float64 `yaml:"upscale_threshold"`
	// DownscaleThreshold is the utilization fraction at or below which
	// the target shrinks.
	DownscaleThreshold float64 `yaml:"downscale_threshold"`
	// ScaleUpCooldown is the minimum time between applied scale-ups.
	ScaleUpCooldown time.Duration `yaml:"scale_up_cooldown"`
	// ScaleDownCooldown is the minimum time between applied scale-downs.
	ScaleDownCooldown time.Duration `yaml:"scale_down_cooldown"`
	// EvalInterval is the control loop tick.
	EvalInterval time.Duration `yaml:"eval_interval"`
	// MinReplicas is the lower replica bound.
	MinReplicas uint32 `yaml:"min_replicas"`
	// MaxReplicas is the upper replica bound.
	MaxReplicas uint32 `yaml:"max_replicas"`
	// ScaleUpStep is the replica increment per scale-up.
	ScaleUpStep uint32 `yaml:"scale_up_step"`
	// ScaleDownStep is the replica decrement per scale-down.
	ScaleDownStep uint32 `yaml:"scale_down_step"`
}

// DefaultConfig returns the stock autoscaler configuration.
func DefaultConfig() Config {
	return Config{
		UpscaleThreshold:   0.8,
		DownscaleThreshold: 0.3,
		ScaleUpCooldown:    300 * time.Second,
		ScaleDownCooldown:  300 * time.Second,
		EvalInterval:       30 * time.Second,
		MinReplicas:        1,
		MaxReplicas:        100,
		ScaleUpStep:        1,
		ScaleDownStep:      1,
	}
}

// Validate fails fast on configurations that can never behave sanely.
func (c Config) Validate() error {
	if c.UpscaleThreshold <= c.DownscaleThreshold {
		return errors.Errorf(
			"upscale threshold %.2f must exceed downscale threshold %.2f",
			c.UpscaleThreshold, c.DownscaleThreshold)
	}
	if c.MinReplicas > c.MaxReplicas {
		return errors.Errorf(
			"min replicas %d must not exceed max replicas %d",
			c.MinReplicas, c.MaxReplicas)
	}
	if c.ScaleUpStep == 0 || c.ScaleDownStep == 0 {
		return errors.New("scale steps must be positive")
	}
	return nil
}

// Direction of a scaling decision.
type Direction int

const (
	// None means the replica count stays where it is.
	None Direction = iota
	// Up grows the replica count.
	Up
	// Down shrinks the replica count.
	Down
)

func (d Direction) String() string {
	switch d {
	case Up:
		return "up"
	case Down:
		return "down"
	}
	return "none"
}

// Snapshot is one utilization observation for a scaling target.
type Snapshot struct {
	// Utilization is the load fraction, clamped to [0, 1] on intake.
	Utilization float64
	// CurrentReplicas is the replica count at observation time.
	CurrentReplicas uint32
	// Timestamp is when the observation was taken.
	Timestamp time.Time
}

// Decision is the outcome of one evaluation. Target always lies within
// the configured replica bounds.
type Decision struct {
	// Target is the desired replica count.
	Target uint32
	// Direction records whether the target moved.
	Direction Direction
	// Reason explains the decision for logging.
	Reason string
}

// targetState is the per-target cooldown and history bookkeeping.
type targetState struct {
	lastScaleUp   time.Time
	lastScaleDown time.Time
	history       []Snapshot
}

// Autoscaler evaluates utilization snapshots into scaling decisions.
// All methods are safe for concurrent use.
type Autoscaler struct {
	mu      sync.Mutex
	config  Config
	targets map[string]*targetState
	metrics *Metrics
	now     func() time.Time

	runningState atomic.Int32
	lifecycleMu  sync.Mutex
	stopChan     chan struct{}
}

// New creates an autoscaler after validating the configuration.
func New(config Config, scope tally.Scope) (*Autoscaler, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Wrap(err, "autoscaler config")
	}
	return &Autoscaler{
		config:   config,
		targets:  make(map[string]*targetState),
		metrics:  NewMetrics(scope),
		now:      time.Now,
		stopChan: make(chan struct{}, 1),
	}, nil
}

// Evaluate computes the scaling decision for one target. Applied
// decisions reset the matching cooldown timer; suppressed ones do not.
func (a *Autoscaler) Evaluate(targetID string, snapshot Snapshot) Decision {
	snapshot.Utilization = clamp01(snapshot.Utilization)
	if snapshot.Timestamp.IsZero() {
		snapshot.Timestamp = a.now()
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	state, ok := a.targets[targetID]
	if !ok {
		state = &targetState{}
		a.targets[targetID] = state
	}
	state.history = append(state.history, snapshot)
	if len(state.history) > historySize {
		state.history = state.history[1:]
	}

	current := a.clampReplicas(snapshot.CurrentReplicas)
	decision := a.decide(state, current, snapshot.Utilization)

	a.metrics.Replicas.Update(float64(decision.Target))
	log.WithFields(log.Fields{
		"target_id":   targetID,
		"utilization": snapshot.Utilization,
		"replicas":    current,
		"decision":    decision.Direction.String(),
		"new_target":  decision.Target,
		"reason":      decision.Reason,
	}).Debug("autoscaler evaluation")
	return decision
}

func (a *Autoscaler) decide(state *targetState, current uint32, util float64) Decision {
	now := a.now()

	switch {
	case util >= a.config.UpscaleThreshold && current < a.config.MaxReplicas:
		if now.Sub(state.lastScaleUp) < a.config.ScaleUpCooldown {
			a.metrics.CooldownSuppressed.Inc(1)
			return Decision{Target: current, Direction: None, Reason: "cooldown active"}
		}
		target := a.clampReplicas(saturatingAdd(current, a.config.ScaleUpStep))
		state.lastScaleUp = now
		a.metrics.ScaleUp.Inc(1)
		return Decision{
			Target:    target,
			Direction: Up,
			Reason: fmt.Sprintf("utilization %.2f above threshold %.2f",
				util, a.config.UpscaleThreshold),
		}

	case util <= a.config.DownscaleThreshold && current > a.config.MinReplicas:
		if now.Sub(state.lastScaleDown) < a.config.ScaleDownCooldown {
			a.metrics.CooldownSuppressed.Inc(1)
			return Decision{Target: current, Direction: None, Reason: "cooldown active"}
		}
		target := a.clampReplicas(saturatingSub(current, a.config.ScaleDownStep))
		state.lastScaleDown = now
		a.metrics.ScaleDown.Inc(1)
		return Decision{
			Target:    target,
			Direction: Down,
			Reason: fmt.Sprintf("utilization %.2f below threshold %.2f",
				util, a.config.DownscaleThreshold),
		}
	case util >= a.config.UpscaleThreshold:
		a.metrics.NoChange.Inc(1)
		return Decision{Target: current, Direction: None, Reason: "at max replicas"}

	case util <= a.config.DownscaleThreshold:
		a.metrics.NoChange.Inc(1)
		return Decision{Target: current, Direction: None, Reason: "at min replicas"}
	}

	a.metrics.NoChange.Inc(1)
	return Decision{
		Target:    current,
		Direction: None,
		Reason:    "utilization within thresholds",
	}
}

// History returns the retained snapshots for a target, oldest first.
func (a *Autoscaler) History(targetID string) []Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	state, ok := a.targets[targetID]
	if !ok {
		return nil
	}
	return append([]Snapshot(nil), state.history...)
}

func (a *Autoscaler) clampReplicas(n uint32) uint32 {
	if n < a.config.MinReplicas {
		return a.config.MinReplicas
	}
	if n > a.config.MaxReplicas {
		return a.config.MaxReplicas
	}
	return n
}

func saturatingAdd(a, b uint32) uint32 {
	if a > ^uint32(0)-b {
		return ^uint32(0)
	}
	return a + b
}

func saturatingSub(a, b uint32) uint32 {
	if b > a {
		return 0
	}
	return a - b
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
