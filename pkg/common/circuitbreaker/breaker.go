// Package circuitbreaker isolates a repeatedly failing collaborator so
// callers fail fast instead of piling up on a dead dependency.
package circuitbreaker

import (
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// State of the breaker.
type State int32

const (
	// Closed lets requests flow normally.
	Closed State = iota
	// Open blocks requests until the open timeout elapses.
	Open
	// HalfOpen lets probe requests through to test recovery.
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	}
	return "unknown"
}

// ErrCircuitOpen is returned when the breaker rejects a call.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Config for a CircuitBreaker.
type Config struct {
	// FailureThreshold is the number of consecutive failures before the
	// breaker opens.
	FailureThreshold int `yaml:"failure_threshold"`
	// SuccessThreshold is the number of consecutive half-open successes
	// before the breaker closes again.
	SuccessThreshold int `yaml:"success_threshold"`
	// OpenTimeout is the time the breaker stays open before probing.
	OpenTimeout time.Duration `yaml:"open_timeout"`
}

// DefaultConfig returns the breaker config used when none is supplied.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		SuccessThreshold: 3,
		OpenTimeout:      30 * time.Second,
	}
}

// CircuitBreaker guards a fallible operation with closed/open/half-open
// state transitions.
type CircuitBreaker struct {
	mu sync.Mutex

	name   string
	config Config

	state     State
	failures  int
	successes int
	openedAt  time.Time
}

// New creates a circuit breaker with the given name and config.
func New(name string, config Config) *CircuitBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 1
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 1
	}
	return &CircuitBreaker{
		name:   name,
		config: config,
		state:  Closed,
	}
}

// Execute runs f if the breaker allows it, recording the outcome.
func (b *CircuitBreaker) Execute(f func() error) error {
	if !b.allow() {
		return ErrCircuitOpen
	}

	err := f()
	if err != nil {
		b.recordFailure()
		return err
	}
	b.recordSuccess()
	return nil
}

// State returns the current breaker state.
func (b *CircuitBreaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stateLocked()
}

func (b *CircuitBreaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stateLocked() != Open
}

// stateLocked transitions open -> half-open once the timeout has elapsed.
func (b *CircuitBreaker) stateLocked() State {
	if b.state == Open && time.Since(b.openedAt) >= b.config.OpenTimeout {
		b.state = HalfOpen
		b.successes = 0
		log.WithField("breaker", b.name).Info("Circuit breaker half-open")
	}
	return b.state
}

func (b *CircuitBreaker) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.stateLocked() {
	case HalfOpen:
		b.open()
	case Closed:
		b.failures++
		if b.failures >= b.config.FailureThreshold {
			b.open()
		}
	}
}

func (b *CircuitBreaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.stateLocked() {
	case HalfOpen:
		b.successes++
		if b.successes >= b.config.SuccessThreshold {
			b.state = Closed
			b.failures = 0
			log.WithField("breaker", b.name).Info("Circuit breaker closed")
		}
	case Closed:
		b.failures = 0
	}
}

func (b *CircuitBreaker) open() {
	b.state = Open
	b.openedAt = time.Now()
	b.failures = 0
	log.WithFields(log.Fields{
		"breaker": b.name,
		"timeout": b.config.OpenTimeout,
	}).Warn("Circuit breaker opened")
}
