package backoff

import (
	"math"
	"math/rand"
	"time"
)

const (
	// done is returned by a policy when no more attempts should be made.
	done time.Duration = -1

	// jitterFraction bounds the random perturbation applied to a delay.
	jitterFraction = 0.25
)

// RetryPolicy is the interface for computing the delay before the next
// attempt of a fallible operation.
type RetryPolicy interface {
	// CalculateNextDelay returns the delay before the given attempt
	// (1-based), or a negative duration when attempts are exhausted.
	CalculateNextDelay(attempt int) time.Duration
}

// ExponentialConfig configures an exponential retry policy.
type ExponentialConfig struct {
	// InitialDelay is the delay before the first retry.
	InitialDelay time.Duration `yaml:"initial_delay"`
	// MaxDelay caps the computed delay.
	MaxDelay time.Duration `yaml:"max_delay"`
	// Multiplier is the exponential growth factor, >= 1.
	Multiplier float64 `yaml:"multiplier"`
	// MaxRetries bounds the number of retries. Zero means unlimited.
	MaxRetries int `yaml:"max_retries"`
	// Jitter perturbs each delay by up to +/-25% when set.
	Jitter bool `yaml:"jitter"`
}

// DefaultExponentialConfig returns the config used when callers do not
// override retry behavior.
func DefaultExponentialConfig() ExponentialConfig {
	return ExponentialConfig{
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		MaxRetries:   3,
		Jitter:       true,
	}
}

// NewExponentialPolicy creates a RetryPolicy with exponentially growing
// delays: delay(n) = min(initial * multiplier^(n-1), max).
func NewExponentialPolicy(config ExponentialConfig) RetryPolicy {
	if config.Multiplier < 1.0 {
		config.Multiplier = 1.0
	}
	return &exponentialPolicy{config: config}
}

type exponentialPolicy struct {
	config ExponentialConfig
}

func (p *exponentialPolicy) CalculateNextDelay(attempt int) time.Duration {
	if p.config.MaxRetries > 0 && attempt > p.config.MaxRetries {
		return done
	}

	delay := float64(p.config.InitialDelay) *
		math.Pow(p.config.Multiplier, float64(attempt-1))
	delay = math.Min(delay, float64(p.config.MaxDelay))

	if p.config.Jitter {
		// rand.Float64()*2-1 is in [-1, 1).
		delay += delay * jitterFraction * (rand.Float64()*2 - 1)
	}
	return time.Duration(delay)
}

// Retrier tracks the attempt count across calls to a retry policy.
type Retrier interface {
	NextBackOff() time.Duration
}

// NewRetrier creates a Retrier for the given policy.
func NewRetrier(policy RetryPolicy) Retrier {
	return &retrierImpl{
		policy:         policy,
		currentAttempt: 1,
	}
}

type retrierImpl struct {
	policy         RetryPolicy
	currentAttempt int
}

// NextBackOff returns the next delay interval.
func (r *retrierImpl) NextBackOff() time.Duration {
	nextInterval := r.policy.CalculateNextDelay(r.currentAttempt)
	r.currentAttempt++
	return nextInterval
}
