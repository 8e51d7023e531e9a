// Package mock provides a recording test double for [appliance.Dispatcher].
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/soven/internal/appliance"
)

// Call records a single Dispatch.
type Call struct {
	EntityID string
	Command  string
}

// Dispatcher records every call. Errs maps a command token to the error
// returned for it.
type Dispatcher struct {
	mu    sync.Mutex
	calls []Call

	Errs map[string]error
}

var _ appliance.Dispatcher = (*Dispatcher)(nil)

// Dispatch implements [appliance.Dispatcher].
func (d *Dispatcher) Dispatch(_ context.Context, entityID, command string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, Call{EntityID: entityID, Command: command})
	return d.Errs[command]
}

// Calls returns a copy of the recorded calls.
func (d *Dispatcher) Calls() []Call {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Call, len(d.calls))
	copy(out, d.calls)
	return out
}
