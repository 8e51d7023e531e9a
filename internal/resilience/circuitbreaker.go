// Package resilience keeps the voice pipeline answering when a model backend
// misbehaves.
//
// Every provider slot (language model, recognizer, synthesizer) may list
// fallbacks. A [FallbackGroup] tries them in order, each behind its own
// [CircuitBreaker], so a backend that keeps failing is skipped until it has
// had time to recover. The typed wrappers ([LLMFallback], [STTFallback],
// [TTSFallback]) implement the provider interfaces themselves and can be used
// wherever a single provider is expected.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/soven/internal/fault"
)

// ErrCircuitOpen is returned without calling the backend while its breaker
// is open.
var ErrCircuitOpen = errors.New("resilience: circuit breaker is open")

// State is the operating mode of a [CircuitBreaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects calls with [ErrCircuitOpen] until the reset timeout
	// has passed since the last failure.
	StateOpen

	// StateHalfOpen admits a few probe calls. Enough successes close the
	// breaker; any failure opens it again.
	StateHalfOpen
)

func (s State) String() string {
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

// Transition describes a breaker changing state.
type Transition struct {
	Name     string
	From, To State
}

// CircuitBreakerConfig tunes a [CircuitBreaker]. Zero values take the
// defaults noted on each field.
type CircuitBreakerConfig struct {
	// Name labels logs and transitions ("llm/ollama").
	Name string

	// MaxFailures consecutive failures open the breaker. Default: 5.
	MaxFailures int

	// ResetTimeout is the time after the last failure before probing.
	// Default: 30s.
	ResetTimeout time.Duration

	// HalfOpenMax is both the probe budget and the number of successful
	// probes needed to close. Default: 3.
	HalfOpenMax int

	// Neutral reports errors that say nothing about the backend's health.
	// They reach the caller but neither trip nor close the breaker.
	// Default: [NeutralError].
	Neutral func(error) bool

	// OnTransition is called after every state change, outside the lock.
	// Default: log the change.
	OnTransition func(Transition)
}

// NeutralError reports caller-side failures: a cancelled request or input the
// backend rightly refused.
func NeutralError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, fault.ErrInvalidInput)
}

func logTransition(t Transition) {
	level := slog.LevelInfo
	if t.To == StateOpen {
		level = slog.LevelWarn
	}
	slog.Log(context.Background(), level, "resilience: circuit "+t.To.String(),
		"name", t.Name,
		"from", t.From.String(),
	)
}

// CircuitBreaker guards one backend. It is safe for concurrent use.
type CircuitBreaker struct {
	name         string
	maxFailures  int
	resetTimeout time.Duration
	halfOpenMax  int
	neutral      func(error) bool
	onTransition func(Transition)

	mu          sync.Mutex
	state       State
	failures    int
	lastFailure time.Time
	probes      int
	successes   int
}

// NewCircuitBreaker returns a closed breaker.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 3
	}
	if cfg.Neutral == nil {
		cfg.Neutral = NeutralError
	}
	if cfg.OnTransition == nil {
		cfg.OnTransition = logTransition
	}
	return &CircuitBreaker{
		name:         cfg.Name,
		maxFailures:  cfg.MaxFailures,
		resetTimeout: cfg.ResetTimeout,
		halfOpenMax:  cfg.HalfOpenMax,
		neutral:      cfg.Neutral,
		onTransition: cfg.OnTransition,
	}
}

// Execute calls fn unless the breaker rejects it with [ErrCircuitOpen], and
// accounts for fn's result.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	probe, err := cb.admit()
	if err != nil {
		return err
	}
	err = fn()
	cb.settle(probe, err)
	return err
}

// admit decides whether a call may proceed. probe is set when the call uses
// the half-open budget.
func (cb *CircuitBreaker) admit() (probe bool, err error) {
	cb.mu.Lock()
	from := cb.state
	if cb.state == StateOpen && time.Since(cb.lastFailure) >= cb.resetTimeout {
		cb.state, cb.probes, cb.successes = StateHalfOpen, 0, 0
	}
	switch cb.state {
	case StateOpen:
		err = ErrCircuitOpen
	case StateHalfOpen:
		if cb.probes >= cb.halfOpenMax {
			err = ErrCircuitOpen
		} else {
			cb.probes++
			probe = true
		}
	}
	to := cb.state
	cb.mu.Unlock()

	cb.notify(from, to)
	return probe, err
}

// settle records the outcome of an admitted call.
func (cb *CircuitBreaker) settle(probe bool, err error) {
	cb.mu.Lock()
	from := cb.state
	switch {
	case err != nil && cb.neutral(err):
		if probe && cb.state == StateHalfOpen {
			cb.probes--
		}

	case err != nil:
		cb.lastFailure = time.Now()
		cb.failures++
		if cb.state == StateHalfOpen || cb.failures >= cb.maxFailures {
			cb.state = StateOpen
		}

	case cb.state == StateHalfOpen && probe:
		cb.successes++
		if cb.successes >= cb.halfOpenMax {
			cb.state, cb.failures, cb.probes, cb.successes = StateClosed, 0, 0, 0
		}

	case cb.state == StateClosed:
		cb.failures = 0
	}
	to := cb.state
	cb.mu.Unlock()

	cb.notify(from, to)
}

func (cb *CircuitBreaker) notify(from, to State) {
	if from != to {
		cb.onTransition(Transition{Name: cb.name, From: from, To: to})
	}
}

// Name returns the configured label.
func (cb *CircuitBreaker) Name() string { return cb.name }

// State returns the current state. An open breaker whose reset timeout has
// passed reports [StateHalfOpen]; the transition itself happens on the next
// call.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateOpen && time.Since(cb.lastFailure) >= cb.resetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Reset forces the breaker closed.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	from := cb.state
	cb.state, cb.failures, cb.probes, cb.successes = StateClosed, 0, 0, 0
	cb.mu.Unlock()

	cb.notify(from, StateClosed)
}
