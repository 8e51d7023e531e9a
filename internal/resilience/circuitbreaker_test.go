package resilience

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/soven/internal/fault"
)

var errTest = errors.New("backend down")

// transitions records every state change of a breaker.
type transitions struct {
	mu  sync.Mutex
	got []string
}

func (r *transitions) record(t Transition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, t.From.String()+"->"+t.To.String())
}

func (r *transitions) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.got)
}

func newBreaker(maxFailures, halfOpenMax int, reset time.Duration) (*CircuitBreaker, *transitions) {
	rec := &transitions{}
	return NewCircuitBreaker(CircuitBreakerConfig{
		Name:         "tts/coqui",
		MaxFailures:  maxFailures,
		ResetTimeout: reset,
		HalfOpenMax:  halfOpenMax,
		OnTransition: rec.record,
	}), rec
}

func fail() error    { return errTest }
func succeed() error { return nil }

func TestNewCircuitBreaker_Defaults(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "llm/ollama"})
	if cb.maxFailures != 5 || cb.resetTimeout != 30*time.Second || cb.halfOpenMax != 3 {
		t.Errorf("defaults = %d, %s, %d", cb.maxFailures, cb.resetTimeout, cb.halfOpenMax)
	}
	if cb.State() != StateClosed || cb.Name() != "llm/ollama" {
		t.Errorf("state = %v, name = %q", cb.State(), cb.Name())
	}
}

func TestCircuitBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	t.Parallel()

	cb, rec := newBreaker(3, 1, time.Hour)

	// A success in between resets the count.
	_ = cb.Execute(fail)
	_ = cb.Execute(fail)
	_ = cb.Execute(succeed)
	_ = cb.Execute(fail)
	_ = cb.Execute(fail)
	if cb.State() != StateClosed {
		t.Fatalf("state = %v, want closed after a reset streak", cb.State())
	}

	_ = cb.Execute(fail)
	if cb.State() != StateOpen {
		t.Fatalf("state = %v, want open", cb.State())
	}
	called := false
	err := cb.Execute(func() error { called = true; return nil })
	if !errors.Is(err, ErrCircuitOpen) || called {
		t.Errorf("err = %v, called = %v", err, called)
	}
	if got := rec.list(); !slices.Equal(got, []string{"closed->open"}) {
		t.Errorf("transitions = %v", got)
	}
}

func TestCircuitBreaker_HalfOpen(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		probes    []func() error
		wantState State
		wantTrans []string
	}{
		{
			name:      "enough successes close",
			probes:    []func() error{succeed, succeed},
			wantState: StateClosed,
			wantTrans: []string{"closed->open", "open->half-open", "half-open->closed"},
		},
		{
			name:      "failed probe reopens",
			probes:    []func() error{succeed, fail},
			wantState: StateOpen,
			wantTrans: []string{"closed->open", "open->half-open", "half-open->open"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cb, rec := newBreaker(2, 2, 10*time.Millisecond)
			_ = cb.Execute(fail)
			_ = cb.Execute(fail)

			time.Sleep(15 * time.Millisecond)
			if cb.State() != StateHalfOpen {
				t.Fatalf("state = %v, want half-open after the reset timeout", cb.State())
			}
			for _, p := range tt.probes {
				_ = cb.Execute(p)
			}

			cb.mu.Lock()
			got := cb.state
			cb.mu.Unlock()
			if got != tt.wantState {
				t.Errorf("state = %v, want %v", got, tt.wantState)
			}
			if trans := rec.list(); !slices.Equal(trans, tt.wantTrans) {
				t.Errorf("transitions = %v, want %v", trans, tt.wantTrans)
			}
		})
	}
}

func TestCircuitBreaker_ProbeBudget(t *testing.T) {
	t.Parallel()

	cb, _ := newBreaker(1, 1, 10*time.Millisecond)
	_ = cb.Execute(fail)
	time.Sleep(15 * time.Millisecond)

	// The single probe is in flight; a second caller is turned away.
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- cb.Execute(func() error { <-release; return nil })
	}()
	deadline := time.Now().Add(time.Second)
	for {
		cb.mu.Lock()
		inFlight := cb.probes
		cb.mu.Unlock()
		if inFlight == 1 || time.Now().After(deadline) {
			break
		}
		time.Sleep(time.Millisecond)
	}
	if err := cb.Execute(succeed); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("second probe err = %v, want ErrCircuitOpen", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("probe: %v", err)
	}
	if cb.State() != StateClosed {
		t.Errorf("state = %v, want closed", cb.State())
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	t.Parallel()

	cb, rec := newBreaker(1, 1, time.Hour)
	_ = cb.Execute(fail)
	cb.Reset()
	if cb.State() != StateClosed {
		t.Fatalf("state = %v, want closed", cb.State())
	}
	if err := cb.Execute(succeed); err != nil {
		t.Fatalf("after reset: %v", err)
	}
	cb.Reset()
	if got := rec.list(); !slices.Equal(got, []string{"closed->open", "open->closed"}) {
		t.Errorf("transitions = %v (reset of a closed breaker must not notify)", got)
	}
}

func TestCircuitBreaker_NeutralErrorsDoNotTrip(t *testing.T) {
	t.Parallel()

	cb, rec := newBreaker(2, 1, time.Hour)
	for range 5 {
		err := cb.Execute(func() error { return fmt.Errorf("extract: %w", fault.ErrInvalidInput) })
		if !errors.Is(err, fault.ErrInvalidInput) {
			t.Fatalf("err = %v", err)
		}
		_ = cb.Execute(func() error { return context.Canceled })
	}
	if cb.State() != StateClosed || len(rec.list()) != 0 {
		t.Errorf("state = %v, transitions = %v", cb.State(), rec.list())
	}
}

func TestState_String(t *testing.T) {
	t.Parallel()

	tests := []struct {
		state State
		want  string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half-open"},
		{State(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
