// Package realtime runs the persistent audio session between an appliance and
// its personality.
//
// Each appliance holds one websocket. It streams 16-bit mono PCM and marks the
// end of an utterance with the text frame "AUDIO_END"; the server answers with
// JSON events and binary PCM chunks, always finishing a spoken reply with
// {"type":"audio_end"}. Every connection is served by one session that owns
// its buffer, its state machine and its in-flight provider calls; sessions
// share nothing but the read-only dependencies in [Deps].
package realtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/coder/websocket"

	"github.com/MrWong99/soven/internal/appliance"
	"github.com/MrWong99/soven/internal/dialogue"
	"github.com/MrWong99/soven/internal/observe"
	"github.com/MrWong99/soven/internal/personality"
	"github.com/MrWong99/soven/pkg/provider/stt"
	"github.com/MrWong99/soven/pkg/provider/tts"
)

// maxFrameSize bounds a single inbound websocket message.
const maxFrameSize = 1 << 20

// ProfileSource loads the personality bound to an entity id. A missing
// profile must be reported as an error wrapping fault.ErrProfileNotFound.
type ProfileSource interface {
	Get(ctx context.Context, id string) (*personality.Personality, error)
}

// Responder produces the reply for one utterance. [*dialogue.Responder]
// implements it.
type Responder interface {
	Respond(ctx context.Context, utterance string, p *personality.Personality) (dialogue.Turn, error)
	Fallback(n int) string
}

var _ Responder = (*dialogue.Responder)(nil)

// Deps are the collaborators shared by all sessions.
type Deps struct {
	Profiles  ProfileSource
	STT       stt.Provider
	Responder Responder
	TTS       tts.Provider

	// Dispatcher receives the command tokens of each reply. Optional.
	Dispatcher appliance.Dispatcher

	// Metrics is optional.
	Metrics *observe.Metrics
}

func (d Deps) validate() error {
	var errs []error
	if d.Profiles == nil {
		errs = append(errs, errors.New("realtime: profile source is required"))
	}
	if d.STT == nil {
		errs = append(errs, errors.New("realtime: stt provider is required"))
	}
	if d.Responder == nil {
		errs = append(errs, errors.New("realtime: responder is required"))
	}
	if d.TTS == nil {
		errs = append(errs, errors.New("realtime: tts provider is required"))
	}
	return errors.Join(errs...)
}

// Option configures a [Handler].
type Option func(*Handler)

// WithRegistry shares r instead of a private registry.
func WithRegistry(r *Registry) Option {
	return func(h *Handler) {
		if r != nil {
			h.registry = r
		}
	}
}

// WithAcceptOptions sets the websocket accept options, e.g. allowed origins.
func WithAcceptOptions(opts *websocket.AcceptOptions) Option {
	return func(h *Handler) { h.accept = opts }
}

// Handler upgrades appliance connections and serves one session per
// connection. Mount it on "GET /ws/audio/{entity_id}"; the entity id may also
// be given as the device_id query parameter.
type Handler struct {
	deps     Deps
	cfg      atomic.Pointer[Config]
	registry *Registry
	accept   *websocket.AcceptOptions
	wg       sync.WaitGroup
}

// NewHandler validates deps and cfg and returns a ready Handler.
func NewHandler(deps Deps, cfg Config, opts ...Option) (*Handler, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	if deps.Dispatcher == nil {
		deps.Dispatcher = appliance.Nop{}
	}
	h := &Handler{deps: deps, registry: NewRegistry()}
	if err := h.SetConfig(cfg); err != nil {
		return nil, err
	}
	for _, o := range opts {
		o(h)
	}
	return h, nil
}

// SetConfig replaces the session settings. Sessions already running keep the
// settings they started with.
func (h *Handler) SetConfig(cfg Config) error {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return err
	}
	h.cfg.Store(&cfg)
	return nil
}

// Config returns the settings new sessions start with.
func (h *Handler) Config() Config { return *h.cfg.Load() }

// Registry returns the live session registry.
func (h *Handler) Registry() *Registry { return h.registry }

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	entityID := r.PathValue("entity_id")
	if entityID == "" {
		entityID = r.URL.Query().Get("device_id")
	}
	if entityID == "" {
		http.Error(w, "missing entity id", http.StatusBadRequest)
		return
	}

	conn, err := websocket.Accept(w, r, h.accept)
	if err != nil {
		observe.Logger(r.Context()).Warn("realtime: websocket accept failed", "entity_id", entityID, "err", err)
		return
	}
	conn.SetReadLimit(maxFrameSize)

	h.wg.Add(1)
	defer h.wg.Done()

	s := newSession(r.Context(), h, conn, entityID, h.Config())
	h.registry.add(s)
	defer h.registry.remove(s.id)

	if m := h.deps.Metrics; m != nil {
		m.ActiveSessions.Add(r.Context(), 1)
		defer m.ActiveSessions.Add(context.WithoutCancel(r.Context()), -1)
	}
	s.run()
}

// Shutdown closes every live session and waits until they have finished or
// ctx is done.
func (h *Handler) Shutdown(ctx context.Context) error {
	h.registry.CloseAll("server shutting down")

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("realtime: shutdown: %w", ctx.Err())
	}
}
