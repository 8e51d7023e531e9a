package resilience

import (
	"context"

	"github.com/MrWong99/soven/pkg/provider/stt"
)

// STTFallback implements [stt.Provider] with failover across several backends.
type STTFallback struct {
	group *FallbackGroup[stt.Provider]
}

var _ stt.Provider = (*STTFallback)(nil)

// NewSTTFallback creates an [STTFallback] with primary as the preferred backend.
func NewSTTFallback(primary stt.Provider, primaryName string, cfg FallbackConfig) *STTFallback {
	if cfg.Kind == "" {
		cfg.Kind = "stt"
	}
	return &STTFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers an additional backend.
func (f *STTFallback) AddFallback(name string, p stt.Provider) { f.group.AddFallback(name, p) }

// Names returns the backends in failover order.
func (f *STTFallback) Names() []string { return f.group.Names() }

// Ready reports an error while every backend's circuit is open.
func (f *STTFallback) Ready() error { return f.group.Ready() }

// Recognize transcribes req with the first healthy backend. The same audio is
// replayed to each fallback.
func (f *STTFallback) Recognize(ctx context.Context, req stt.Request) (stt.Transcript, error) {
	return ExecuteWithResult(ctx, f.group, func(p stt.Provider) (stt.Transcript, error) {
		return p.Recognize(ctx, req)
	})
}
