package meshcore

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// CircuitState is the lifecycle state of a CircuitBreaker.
type CircuitState int

const (
	StateClosed CircuitState = iota
	StateOpen
	StateHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig configures failure thresholds and recovery timing,
// adapted from the teacher's resilience.CircuitBreakerConfig but trimmed
// to the fixed-threshold variant the mesh's outbound sync calls need (no
// sliding-window error-rate bucketing).
type CircuitBreakerConfig struct {
	Name             string
	FailureThreshold int
	SleepWindow      time.Duration
	HalfOpenRequests int
}

// CircuitBreaker protects an outbound call (the per-peer sync pull in
// synccoord) from hammering an unreachable peer. It never holds its lock across the
// wrapped call.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig

	mu               sync.Mutex
	state            CircuitState
	consecutiveFail  int
	halfOpenInFlight int
	halfOpenSuccess  int
	openedAt         time.Time
	logger           Logger
}

// NewCircuitBreaker constructs a breaker with the given configuration,
// defaulting zero-valued fields to sensible values.
func NewCircuitBreaker(cfg CircuitBreakerConfig, logger Logger) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.SleepWindow <= 0 {
		cfg.SleepWindow = 30 * time.Second
	}
	if cfg.HalfOpenRequests <= 0 {
		cfg.HalfOpenRequests = 3
	}
	if logger == nil {
		logger = NoOpLogger{}
	}
	return &CircuitBreaker{cfg: cfg, state: StateClosed, logger: logger}
}

// ErrCircuitOpen is returned by Execute when the breaker is open.
var ErrCircuitOpen = fmt.Errorf("%w: circuit breaker open", ErrUpstreamUnreachable)

// Execute runs fn if the breaker permits it, recording the outcome.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if !cb.allow() {
		return ErrCircuitOpen
	}
	err := fn(ctx)
	cb.record(err == nil)
	return err
}

// State returns the current breaker state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return true
	case StateOpen:
		if time.Since(cb.openedAt) >= cb.cfg.SleepWindow {
			cb.transition(StateHalfOpen)
			cb.halfOpenInFlight = 1
			return true
		}
		return false
	case StateHalfOpen:
		if cb.halfOpenInFlight < cb.cfg.HalfOpenRequests {
			cb.halfOpenInFlight++
			return true
		}
		return false
	}
	return false
}

func (cb *CircuitBreaker) record(success bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		if success {
			cb.consecutiveFail = 0
			return
		}
		cb.consecutiveFail++
		if cb.consecutiveFail >= cb.cfg.FailureThreshold {
			cb.transition(StateOpen)
		}
	case StateHalfOpen:
		if success {
			cb.halfOpenSuccess++
			if cb.halfOpenSuccess >= cb.cfg.HalfOpenRequests {
				cb.transition(StateClosed)
			}
			return
		}
		cb.transition(StateOpen)
	}
}

func (cb *CircuitBreaker) transition(to CircuitState) {
	from := cb.state
	cb.state = to
	switch to {
	case StateOpen:
		cb.openedAt = time.Now()
		cb.halfOpenInFlight = 0
		cb.halfOpenSuccess = 0
	case StateClosed:
		cb.consecutiveFail = 0
		cb.halfOpenInFlight = 0
		cb.halfOpenSuccess = 0
	case StateHalfOpen:
		cb.halfOpenSuccess = 0
	}
	cb.logger.Info("circuit breaker state change", map[string]interface{}{
		"name": cb.cfg.Name,
		"from": from.String(),
		"to":   to.String(),
	})
}
