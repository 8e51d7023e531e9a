package resilience

import (
	"context"
	"errors"

	"github.com/MrWong99/soven/pkg/provider/tts"
)

// errNoVoiceLister marks a backend that cannot enumerate voices.
var errNoVoiceLister = errors.New("resilience: provider does not list voices")

// TTSFallback implements [tts.Provider] and [tts.VoiceLister] with failover
// across several backends.
type TTSFallback struct {
	group *FallbackGroup[tts.Provider]
}

var (
	_ tts.Provider    = (*TTSFallback)(nil)
	_ tts.VoiceLister = (*TTSFallback)(nil)
)

// NewTTSFallback creates a [TTSFallback] with primary as the preferred backend.
func NewTTSFallback(primary tts.Provider, primaryName string, cfg FallbackConfig) *TTSFallback {
	if cfg.Kind == "" {
		cfg.Kind = "tts"
	}
	return &TTSFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers an additional backend.
func (f *TTSFallback) AddFallback(name string, p tts.Provider) { f.group.AddFallback(name, p) }

// Names returns the backends in failover order.
func (f *TTSFallback) Names() []string { return f.group.Names() }

// Ready reports an error while every backend's circuit is open.
func (f *TTSFallback) Ready() error { return f.group.Ready() }

// Synthesize renders req with the first healthy backend.
func (f *TTSFallback) Synthesize(ctx context.Context, req tts.Request) (tts.Audio, error) {
	return ExecuteWithResult(ctx, f.group, func(p tts.Provider) (tts.Audio, error) {
		return p.Synthesize(ctx, req)
	})
}

// ListVoices asks the first backend that can list voices. It bypasses the
// circuit breakers since listing is not on the synthesis path.
func (f *TTSFallback) ListVoices(ctx context.Context) ([]tts.Voice, error) {
	for _, e := range f.group.entries {
		if l, ok := e.value.(tts.VoiceLister); ok {
			return l.ListVoices(ctx)
		}
	}
	return nil, errNoVoiceLister
}
