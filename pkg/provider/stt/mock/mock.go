// Package mock provides a test double for the stt.Provider interface.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/soven/pkg/provider/stt"
)

// RecognizeCall records a single invocation of Recognize.
type RecognizeCall struct {
	Ctx context.Context
	Req stt.Request
}

// Provider is a mock implementation of stt.Provider.
//
// Results are consumed in order; once exhausted the last entry repeats. Errs
// works the same way and is checked first. Block, if non-nil, makes Recognize
// wait until it is closed or ctx ends.
type Provider struct {
	mu sync.Mutex

	// Results are returned by successive Recognize calls.
	Results []stt.Transcript

	// Errs are returned by successive Recognize calls. A nil entry means
	// "use Results".
	Errs []error

	// Block, if set, delays Recognize until closed or ctx is done.
	Block chan struct{}

	// Calls records every invocation of Recognize in order.
	Calls []RecognizeCall
}

// Recognize records the call and returns the next configured result.
func (p *Provider) Recognize(ctx context.Context, req stt.Request) (stt.Transcript, error) {
	p.mu.Lock()
	idx := len(p.Calls)
	audio := make([]byte, len(req.Audio))
	copy(audio, req.Audio)
	req.Audio = audio
	p.Calls = append(p.Calls, RecognizeCall{Ctx: ctx, Req: req})
	block := p.Block
	var err error
	if len(p.Errs) > 0 {
		err = p.Errs[min(idx, len(p.Errs)-1)]
	}
	var res stt.Transcript
	if len(p.Results) > 0 {
		res = p.Results[min(idx, len(p.Results)-1)]
	}
	p.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return stt.Transcript{}, ctx.Err()
		}
	}
	if err != nil {
		return stt.Transcript{}, err
	}
	return res, nil
}

// CallCount returns the number of Recognize calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

var _ stt.Provider = (*Provider)(nil)
