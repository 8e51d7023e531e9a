// Package mock is a scriptable [llm.Provider] for tests. It records every
// request so tests can inspect the prompts built by extraction and dialogue.
//
//	p := &mock.Provider{Reply: &llm.CompletionResponse{Content: "Brewing!"}}
package mock

import (
	"context"
	"slices"
	"sync"

	"github.com/MrWong99/soven/pkg/provider/llm"
)

// Call is one recorded Complete invocation.
type Call struct {
	Ctx context.Context
	Req llm.CompletionRequest
}

// Provider answers Complete with Func when set, otherwise with Reply and
// Err. Set the fields before the first call.
type Provider struct {
	Reply *llm.CompletionResponse
	Err   error
	Func  func(context.Context, llm.CompletionRequest) (*llm.CompletionResponse, error)

	mu    sync.Mutex
	calls []Call
}

// Complete implements [llm.Provider].
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	p.calls = append(p.calls, Call{Ctx: ctx, Req: req})
	p.mu.Unlock()

	if p.Func != nil {
		return p.Func(ctx, req)
	}
	return p.Reply, p.Err
}

// Calls returns a copy of the recorded calls in order.
func (p *Provider) Calls() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.calls)
}

var _ llm.Provider = (*Provider)(nil)
