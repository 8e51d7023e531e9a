// Package extract turns a free-text origin narrative into personality
// [personality.Traits] by asking a language model for a constrained JSON
// analysis and validating whatever comes back.
//
// The boundary is strict: [Extractor.Extract] only talks to the model, and
// [Parse] alone decides what the response means. Parse is deterministic for a
// given raw response, so only the model call itself is non-reproducible.
//
// An [Extractor] holds no mutable state and is safe for concurrent use.
package extract

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrWong99/soven/internal/fault"
	"github.com/MrWong99/soven/internal/observe"
	"github.com/MrWong99/soven/internal/personality"
	"github.com/MrWong99/soven/pkg/provider/llm"
)

// DefaultTimeout bounds a single extraction call.
const DefaultTimeout = 30 * time.Second

// Hints carry optional user preferences into the prompt.
type Hints struct {
	// PreferredAccent, when set, is mentioned to the model as context for the summary.
	PreferredAccent string
}

// Result is a validated extraction.
type Result struct {
	Traits  personality.Traits `json:"traits"`
	Summary string             `json:"summary"`
	Themes  []string           `json:"themes"`
}

// Fallback returns the result used when extraction is unavailable: every
// numeric trait at its default, default categoricals and an empty summary.
func Fallback() Result {
	return Result{
		Traits: personality.DefaultTraits(),
		Themes: []string{},
	}
}

// Option configures an [Extractor].
type Option func(*Extractor)

// WithTimeout overrides [DefaultTimeout]. Non-positive values are ignored.
func WithTimeout(d time.Duration) Option {
	return func(e *Extractor) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithTemperature sets the sampling temperature. The default is 0.2.
func WithTemperature(t float64) Option {
	return func(e *Extractor) { e.temperature = t }
}

// WithMetrics records extraction latency and outcome on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(e *Extractor) { e.metrics = m }
}

// Extractor asks a language model for trait analyses.
type Extractor struct {
	llm         llm.Provider
	timeout     time.Duration
	temperature float64
	metrics     *observe.Metrics
}

// New creates an Extractor backed by p.
func New(p llm.Provider, opts ...Option) *Extractor {
	e := &Extractor{
		llm:         p,
		timeout:     DefaultTimeout,
		temperature: 0.2,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Extract analyses narrative.
//
// On any failure (timeout, transport error, refusal, malformed output) the
// error wraps [fault.ErrExtractionUnavailable] and the returned Result is
// [Fallback], so callers can always proceed with onboarding.
func (e *Extractor) Extract(ctx context.Context, narrative string, hints Hints) (Result, error) {
	start := time.Now()
	res, err := e.extract(ctx, narrative, hints)
	if e.metrics != nil {
		e.metrics.RecordExtraction(ctx, time.Since(start), err != nil)
	}
	if err != nil {
		observe.Logger(ctx).Warn("extract: falling back to default traits", "err", err)
		return Fallback(), err
	}
	return res, nil
}

func (e *Extractor) extract(ctx context.Context, narrative string, hints Hints) (Result, error) {
	if e.llm == nil {
		return Result{}, fmt.Errorf("extract: %w: no language model configured", fault.ErrExtractionUnavailable)
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	resp, err := e.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: analystSystemPrompt,
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: BuildPrompt(narrative, hints)},
		},
		Temperature: e.temperature,
		JSONMode:    true,
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return Result{}, fmt.Errorf("extract: %w: timed out after %s", fault.ErrExtractionUnavailable, e.timeout)
		}
		return Result{}, fmt.Errorf("extract: %w: %w", fault.ErrExtractionUnavailable, err)
	}
	if resp == nil {
		return Result{}, fmt.Errorf("extract: %w: empty response", fault.ErrExtractionUnavailable)
	}
	return Parse(resp.Content)
}
