// Package dialogue produces the appliance's spoken replies.
//
// A [Responder] asks the language model for a short in-character reply and
// scans it with a [CommandTable] for phrases that map to appliance command
// tokens. The table is declarative: changing which phrases trigger which
// commands never touches the generation code.
package dialogue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/MrWong99/soven/internal/fault"
	"github.com/MrWong99/soven/internal/observe"
	"github.com/MrWong99/soven/internal/personality"
	"github.com/MrWong99/soven/pkg/provider/llm"
)

// DefaultTimeout bounds a single reply generation.
const DefaultTimeout = 20 * time.Second

// defaultMaxTokens keeps replies to a sentence or two.
const defaultMaxTokens = 150

// DefaultFallbackReplies are spoken when generation fails.
var DefaultFallbackReplies = []string{
	"Sorry, I'm having trouble thinking right now.",
	"My brain's offline. Try again?",
}

// Turn is one completed exchange.
type Turn struct {
	Utterance string   `json:"utterance"`
	Reply     string   `json:"reply"`
	Commands  []string `json:"commands"`
}

// Option configures a [Responder].
type Option func(*Responder)

// WithCommandTable replaces the default trigger table.
func WithCommandTable(t *CommandTable) Option {
	return func(r *Responder) {
		if t != nil {
			r.table.Store(t)
		}
	}
}

// WithAppliance sets the appliance noun used in the system prompt.
func WithAppliance(noun string) Option {
	return func(r *Responder) {
		if noun = strings.TrimSpace(noun); noun != "" {
			r.appliance = noun
		}
	}
}

// WithTimeout overrides [DefaultTimeout]. Non-positive values are ignored.
func WithTimeout(d time.Duration) Option {
	return func(r *Responder) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithFallbackReplies replaces [DefaultFallbackReplies]. An empty list is ignored.
func WithFallbackReplies(replies []string) Option {
	return func(r *Responder) {
		if len(replies) > 0 {
			r.fallbacks = append([]string(nil), replies...)
		}
	}
}

// WithTemperature sets the sampling temperature. The default is 0.7.
func WithTemperature(t float64) Option {
	return func(r *Responder) { r.temperature = t }
}

// WithMetrics records generation latency and emitted commands on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(r *Responder) { r.metrics = m }
}

// Responder generates replies. It is safe for concurrent use; the command
// table may be swapped at runtime with [Responder.SetCommandTable].
type Responder struct {
	llm         llm.Provider
	table       atomic.Pointer[CommandTable]
	appliance   string
	timeout     time.Duration
	temperature float64
	fallbacks   []string
	metrics     *observe.Metrics
}

// NewResponder creates a Responder backed by p.
func NewResponder(p llm.Provider, opts ...Option) *Responder {
	r := &Responder{
		llm:         p,
		appliance:   DefaultAppliance,
		timeout:     DefaultTimeout,
		temperature: 0.7,
		fallbacks:   DefaultFallbackReplies,
	}
	r.table.Store(MustCommandTable(DefaultTriggers()))
	for _, o := range opts {
		o(r)
	}
	return r
}

// SetCommandTable swaps the trigger table used by subsequent turns.
func (r *Responder) SetCommandTable(t *CommandTable) {
	if t != nil {
		r.table.Store(t)
	}
}

// CommandTable returns the table currently in use.
func (r *Responder) CommandTable() *CommandTable { return r.table.Load() }

// Fallback returns the fallback reply for turn n. The same n always yields
// the same reply.
func (r *Responder) Fallback(n int) string {
	if n < 0 {
		n = -n
	}
	return r.fallbacks[n%len(r.fallbacks)]
}

// Respond generates p's reply to utterance and scans it for commands.
//
// On failure the error wraps [fault.ErrGenerationUnavailable] and the returned
// Turn carries only the utterance; callers speak [Responder.Fallback] instead.
func (r *Responder) Respond(ctx context.Context, utterance string, p *personality.Personality) (Turn, error) {
	turn := Turn{Utterance: utterance, Commands: []string{}}
	if p == nil {
		return turn, fmt.Errorf("dialogue: %w: personality must not be nil", fault.ErrInvalidInput)
	}
	if strings.TrimSpace(utterance) == "" {
		return turn, fmt.Errorf("dialogue: %w: utterance must not be empty", fault.ErrInvalidInput)
	}
	if r.llm == nil {
		return turn, fmt.Errorf("dialogue: %w: no language model configured", fault.ErrGenerationUnavailable)
	}

	ctx, span := observe.StartSpan(observe.WithEntity(ctx, p.ID), "dialogue.respond")
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	resp, err := r.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: SystemPrompt(p, r.appliance),
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: utterance},
		},
		Temperature: r.temperature,
		MaxTokens:   defaultMaxTokens,
	})
	if r.metrics != nil {
		r.metrics.LLMDuration.Record(ctx, time.Since(start).Seconds())
	}
	if err != nil {
		span.RecordError(err)
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return turn, fmt.Errorf("dialogue: %w: timed out after %s", fault.ErrGenerationUnavailable, r.timeout)
	case err != nil:
		return turn, fmt.Errorf("dialogue: %w: %w", fault.ErrGenerationUnavailable, err)
	case resp == nil || strings.TrimSpace(resp.Content) == "":
		return turn, fmt.Errorf("dialogue: %w: empty reply", fault.ErrGenerationUnavailable)
	}

	turn.Reply = strings.TrimSpace(resp.Content)
	turn.Commands = r.table.Load().Scan(turn.Reply)
	if r.metrics != nil {
		r.metrics.RecordCommands(ctx, turn.Commands)
	}
	return turn, nil
}
