// Package mock provides a test double for the tts.Provider interface.
//
// Example:
//
//	p := &mock.Provider{Result: tts.Audio{PCM: make([]byte, 4096), SampleRate: 16000}}
//	audio, _ := p.Synthesize(ctx, tts.Request{Text: "Hello", Voice: tts.Voice{Speaker: "p297"}})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/soven/pkg/provider/tts"
)

// SynthesizeCall records a single invocation of Synthesize.
type SynthesizeCall struct {
	Ctx context.Context
	Req tts.Request
}

// Provider is a mock implementation of tts.Provider and tts.VoiceLister.
type Provider struct {
	mu sync.Mutex

	// Result is returned by Synthesize when Err is nil.
	Result tts.Audio

	// Err, if non-nil, is returned as the error from Synthesize.
	Err error

	// Voices is returned by ListVoices.
	Voices []tts.Voice

	// ListErr, if non-nil, is returned as the error from ListVoices.
	ListErr error

	// Calls records every call to Synthesize in order.
	Calls []SynthesizeCall
}

// Synthesize records the call and returns Result, Err.
func (p *Provider) Synthesize(ctx context.Context, req tts.Request) (tts.Audio, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = append(p.Calls, SynthesizeCall{Ctx: ctx, Req: req})
	if p.Err != nil {
		return tts.Audio{}, p.Err
	}
	pcm := make([]byte, len(p.Result.PCM))
	copy(pcm, p.Result.PCM)
	return tts.Audio{PCM: pcm, SampleRate: p.Result.SampleRate}, nil
}

// ListVoices returns Voices, ListErr.
func (p *Provider) ListVoices(context.Context) ([]tts.Voice, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Voices, p.ListErr
}

// CallCount returns the number of Synthesize calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

var (
	_ tts.Provider    = (*Provider)(nil)
	_ tts.VoiceLister = (*Provider)(nil)
)
