// Package app wires all Soven subsystems into a running server.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves HTTP until the context ends, and Shutdown tears
// everything down in order.
//
// For testing, inject doubles via functional options (WithStore,
// WithDispatcher, etc.). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/coder/websocket"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/soven/internal/api"
	"github.com/MrWong99/soven/internal/appliance"
	"github.com/MrWong99/soven/internal/config"
	"github.com/MrWong99/soven/internal/dialogue"
	"github.com/MrWong99/soven/internal/extract"
	"github.com/MrWong99/soven/internal/health"
	"github.com/MrWong99/soven/internal/observe"
	"github.com/MrWong99/soven/internal/onboarding"
	"github.com/MrWong99/soven/internal/personality"
	"github.com/MrWong99/soven/internal/realtime"
	"github.com/MrWong99/soven/internal/voicematch"
	"github.com/MrWong99/soven/pkg/provider/llm"
	"github.com/MrWong99/soven/pkg/provider/stt"
	"github.com/MrWong99/soven/pkg/provider/tts"
	"github.com/MrWong99/soven/pkg/voice"
)

// readHeaderTimeout bounds how long a client may take to send headers.
const readHeaderTimeout = 10 * time.Second

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured. Populated by main.go via the config registry.
type Providers struct {
	LLM llm.Provider
	STT stt.Provider
	TTS tts.Provider
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       atomic.Pointer[config.Config]
	providers *Providers

	metrics    *observe.Metrics
	metricsH   http.Handler
	level      *slog.LevelVar
	configPath string

	// Subsystems, initialised in New and torn down in Shutdown.
	catalog    *voice.Catalog
	pool       *pgxpool.Pool
	store      personality.Store
	dispatcher appliance.Dispatcher
	onboarding *onboarding.Service
	responder  *dialogue.Responder
	realtime   *realtime.Handler
	registry   *realtime.Registry
	health     *health.Handler
	handler    http.Handler

	srvMu  sync.Mutex
	server *http.Server

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a personality store instead of creating one from config.
func WithStore(s personality.Store) Option {
	return func(a *App) { a.store = s }
}

// WithDispatcher injects an appliance dispatcher instead of dialling the
// configured MCP server.
func WithDispatcher(d appliance.Dispatcher) Option {
	return func(a *App) { a.dispatcher = d }
}

// WithCatalog injects a voice catalog instead of loading one from config.
func WithCatalog(c *voice.Catalog) Option {
	return func(a *App) { a.catalog = c }
}

// WithMetrics sets the metrics instance. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler sets the /metrics handler. Defaults to
// [observe.MetricsHandler].
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsH = h }
}

// WithLevelVar lets config reloads adjust the level of the process logger.
func WithLevelVar(v *slog.LevelVar) Option {
	return func(a *App) { a.level = v }
}

// WithConfigPath enables hot reload: Run polls path and applies changes.
func WithConfigPath(path string) Option {
	return func(a *App) { a.configPath = path }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry).
//
// New performs all initialisation synchronously: catalog loading, store
// connection and migration, appliance connection, and handler assembly.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: config is required")
	}
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{providers: providers}
	a.cfg.Store(cfg)
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.metricsH == nil {
		a.metricsH = observe.MetricsHandler()
	}

	// ── 1. Voice catalog ─────────────────────────────────────────────────
	if err := a.initCatalog(); err != nil {
		return nil, fmt.Errorf("app: init catalog: %w", err)
	}

	// ── 2. Personality store ─────────────────────────────────────────────
	if err := a.initStore(ctx); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init store: %w", err)
	}

	// ── 3. Appliance bridge ──────────────────────────────────────────────
	if err := a.initAppliance(ctx); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init appliance: %w", err)
	}

	// ── 4. Onboarding + dialogue ─────────────────────────────────────────
	if err := a.initServices(); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init services: %w", err)
	}

	// ── 5. HTTP surface ──────────────────────────────────────────────────
	if err := a.initHTTP(); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init http: %w", err)
	}

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

func (a *App) initCatalog() error {
	if a.catalog != nil {
		return nil
	}
	path := a.Config().Voices.CatalogFile
	if path == "" {
		a.catalog = voice.Builtin()
		return nil
	}
	c, err := voice.LoadFile(path)
	if err != nil {
		return err
	}
	slog.Info("loaded voice catalog", "path", path, "voices", c.Len())
	a.catalog = c
	return nil
}

// initStore connects to PostgreSQL or falls back to an in-memory store.
func (a *App) initStore(ctx context.Context) error {
	if a.store != nil {
		return nil
	}
	dsn := a.Config().Store.PostgresDSN
	if dsn == "" {
		slog.Warn("store.postgres_dsn not set, personalities are kept in memory only")
		a.store = personality.NewMemStore()
		return nil
	}

	pool, err := personality.NewPool(ctx, dsn)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, func() error {
		pool.Close()
		return nil
	})

	pg := personality.NewPostgresStore(pool)
	if err := pg.Migrate(ctx); err != nil {
		return err
	}
	a.pool, a.store = pool, pg
	return nil
}

// initAppliance dials the configured MCP server, if any.
func (a *App) initAppliance(ctx context.Context) error {
	if a.dispatcher != nil {
		return nil
	}
	ac := a.Config().Appliance
	if !ac.Enabled() {
		a.dispatcher = appliance.Nop{}
		return nil
	}

	d, err := appliance.Dial(ctx, ac.MCP(),
		appliance.WithCallTimeout(ac.CallTimeout.Std()),
		appliance.WithMetrics(a.metrics),
	)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, d.Close)
	slog.Info("connected appliance bridge", "transport", ac.Transport, "tools", d.Tools())
	a.dispatcher = d
	return nil
}

func (a *App) initServices() error {
	cfg := a.Config()

	extractOpts := []extract.Option{
		extract.WithTimeout(cfg.Extraction.Timeout.Std()),
		extract.WithMetrics(a.metrics),
	}
	if cfg.Extraction.Temperature > 0 {
		extractOpts = append(extractOpts, extract.WithTemperature(cfg.Extraction.Temperature))
	}
	a.onboarding = onboarding.New(
		a.store,
		extract.New(a.providers.LLM, extractOpts...),
		voicematch.New(a.catalog),
	)

	table, err := commandTable(cfg.Dialogue.Triggers)
	if err != nil {
		return err
	}
	dialogueOpts := []dialogue.Option{
		dialogue.WithCommandTable(table),
		dialogue.WithAppliance(cfg.Dialogue.Appliance),
		dialogue.WithTimeout(cfg.Dialogue.Timeout.Std()),
		dialogue.WithFallbackReplies(cfg.Dialogue.FallbackReplies),
		dialogue.WithMetrics(a.metrics),
	}
	if cfg.Dialogue.Temperature > 0 {
		dialogueOpts = append(dialogueOpts, dialogue.WithTemperature(cfg.Dialogue.Temperature))
	}
	a.responder = dialogue.NewResponder(a.providers.LLM, dialogueOpts...)

	if a.providers.LLM == nil {
		slog.Warn("no LLM configured, extraction uses default traits and replies use fallbacks")
	}
	return nil
}

// commandTable compiles triggers, or the default table when there are none.
func commandTable(triggers []dialogue.Trigger) (*dialogue.CommandTable, error) {
	if len(triggers) == 0 {
		triggers = dialogue.DefaultTriggers()
	}
	return dialogue.NewCommandTable(triggers)
}

func (a *App) initHTTP() error {
	cfg := a.Config()
	mux := http.NewServeMux()
	a.registry = realtime.NewRegistry()

	if a.providers.STT != nil && a.providers.TTS != nil {
		rt, err := realtime.NewHandler(realtime.Deps{
			Profiles:   a.onboarding,
			STT:        a.providers.STT,
			Responder:  a.responder,
			TTS:        a.providers.TTS,
			Dispatcher: a.dispatcher,
			Metrics:    a.metrics,
		}, cfg.Session.Realtime(),
			realtime.WithRegistry(a.registry),
			realtime.WithAcceptOptions(&websocket.AcceptOptions{OriginPatterns: cfg.Server.AllowedOrigins}),
		)
		if err != nil {
			return err
		}
		a.realtime = rt
		mux.Handle("GET /ws/audio/{entity_id}", rt)
		mux.Handle("GET /ws/audio", rt)
	} else {
		slog.Warn("realtime audio disabled, both an STT and a TTS provider are required")
	}

	srv, err := api.New(api.Deps{
		Personalities: a.onboarding,
		Responder:     a.responder,
		Catalog:       a.catalog,
		TTS:           a.providers.TTS,
		Dispatcher:    a.dispatcher,
		Sessions:      a.registry,
	})
	if err != nil {
		return err
	}
	srv.Register(mux)

	a.health = health.New(health.Info{
		Service: api.ServiceName,
		Version: api.Version,
		Voices:  a.catalog.Len,
	}, a.checkers()...)
	a.health.Register(mux)
	mux.Handle("GET /metrics", a.metricsH)

	a.handler = observe.Middleware(a.metrics)(api.RequireAPIKey(cfg.Server.APIKey, mux))
	return nil
}

// readier is implemented by provider fallback groups.
type readier interface{ Ready() error }

// checkers returns the readiness probes for the configured dependencies.
func (a *App) checkers() []health.Checker {
	cs := []health.Checker{{
		Name: "voices",
		Check: func(context.Context) error {
			if a.catalog.Len() == 0 {
				return errors.New("voice catalog is empty")
			}
			return nil
		},
	}}
	if a.pool != nil {
		cs = append(cs, health.Checker{Name: "store", Check: a.pool.Ping})
	}
	for _, slot := range []struct {
		kind     string
		provider any
	}{
		{"llm", a.providers.LLM},
		{"stt", a.providers.STT},
		{"tts", a.providers.TTS},
	} {
		if r, ok := slot.provider.(readier); ok {
			cs = append(cs, health.Checker{Name: slot.kind + "_backends", Check: func(context.Context) error {
				return r.Ready()
			}})
		}
	}
	if vl, ok := a.providers.TTS.(tts.VoiceLister); ok {
		cs = append(cs, health.Checker{Name: "tts", Check: func(ctx context.Context) error {
			_, err := vl.ListVoices(ctx)
			return err
		}})
	}
	return cs
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Config returns the config currently in effect.
func (a *App) Config() *config.Config { return a.cfg.Load() }

// Handler returns the root HTTP handler.
func (a *App) Handler() http.Handler { return a.handler }

// Sessions returns the live realtime session registry.
func (a *App) Sessions() *realtime.Registry { return a.registry }

// ─── Hot reload ──────────────────────────────────────────────────────────────

// ApplyConfig switches to next, applying the hot-reloadable parts at once.
// Sections listed in the diff's RestartRequired are stored but only take
// effect after a restart.
func (a *App) ApplyConfig(next *config.Config) error {
	prev := a.Config()
	d := config.Diff(prev, next)
	if d.Empty() {
		return nil
	}

	var errs []error
	if d.LogLevelChanged && a.level != nil {
		a.level.Set(d.NewLogLevel.Slog())
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.SessionChanged && a.realtime != nil {
		if err := a.realtime.SetConfig(next.Session.Realtime()); err != nil {
			errs = append(errs, fmt.Errorf("session: %w", err))
		} else {
			slog.Info("session settings changed", "wake_policy_changed", d.WakePolicyChanged)
		}
	}
	if d.TriggersChanged {
		table, err := commandTable(next.Dialogue.Triggers)
		if err != nil {
			errs = append(errs, err)
		} else {
			a.responder.SetCommandTable(table)
			slog.Info("command table reloaded", "triggers", table.Len())
		}
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes require a restart", "sections", d.RestartRequired)
	}

	a.cfg.Store(next)
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("app: apply config: %w", err)
	}
	return nil
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run listens on the configured address and serves until ctx is cancelled.
// It returns ctx's error on a normal stop.
func (a *App) Run(ctx context.Context) error {
	addr := a.Config().Server.ListenAddr
	if addr == "" {
		addr = ":8000"
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("app: listen %s: %w", addr, err)
	}
	return a.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled. When hot reload is enabled the
// config file is polled alongside.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	cfg := a.Config()
	srv := &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	a.srvMu.Lock()
	a.server = srv
	a.srvMu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if tls := cfg.Server.TLS; tls != nil {
			err = srv.ServeTLS(ln, tls.CertFile, tls.KeyFile)
		} else {
			err = srv.Serve(ln)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	})
	if a.configPath != "" {
		w, err := config.NewWatcher(a.configPath, func(_, next *config.Config) {
			if err := a.ApplyConfig(next); err != nil {
				slog.Error("config reload failed", "err", err)
			}
		})
		if err != nil {
			slog.Warn("config hot reload disabled", "err", err)
		} else {
			g.Go(func() error {
				w.Run(gctx)
				return nil
			})
			g.Go(func() error {
				reloadOnHangup(gctx, w)
				return nil
			})
		}
	}
	g.Go(func() error {
		<-gctx.Done()
		// Unblocks Serve when the context ends without Shutdown.
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), readHeaderTimeout)
		defer cancel()
		return a.closeServer(shutdownCtx)
	})

	slog.Info("soven listening",
		"addr", ln.Addr().String(),
		"tls", cfg.Server.TLS != nil,
		"realtime", a.realtime != nil,
		"voices", a.catalog.Len(),
	)
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

func (a *App) closeServer(ctx context.Context) error {
	a.srvMu.Lock()
	srv := a.server
	a.srvMu.Unlock()
	if srv == nil {
		return nil
	}
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("app: http shutdown: %w", err)
	}
	return nil
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems: live sessions first, then the HTTP
// server, then the closers in init order. It respects the context deadline:
// if ctx expires before all closers finish, remaining closers are skipped and
// the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "sessions", a.registry.Count(), "closers", len(a.closers))

		if a.realtime != nil {
			if err := a.realtime.Shutdown(ctx); err != nil {
				slog.Warn("realtime shutdown error", "err", err)
			}
		}
		if err := a.closeServer(ctx); err != nil {
			slog.Warn("http shutdown error", "err", err)
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// closeAll releases whatever New managed to open before failing.
func (a *App) closeAll() {
	for _, c := range a.closers {
		_ = c()
	}
	a.closers = nil
}

// reloadOnHangup forces a config reload on every SIGHUP until ctx ends.
func reloadOnHangup(ctx context.Context, w *config.Watcher) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if _, err := w.Reload(true); err != nil {
				slog.Warn("config: reload on SIGHUP rejected", "err", err)
			}
		}
	}
}
