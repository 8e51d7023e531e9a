package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrWong99/soven/internal/api"
	"github.com/MrWong99/soven/internal/app"
	"github.com/MrWong99/soven/internal/config"
	"github.com/MrWong99/soven/internal/observe"
)

// shutdownTimeout bounds the graceful shutdown after a signal.
const shutdownTimeout = 15 * time.Second

func newServeCmd(root *rootOptions) *cobra.Command {
	var watch bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and realtime audio server",
		Long: `Run the HTTP API and realtime audio server.

Appliances stream PCM to /ws/audio/{entity_id}; the companion app talks to
the /api endpoints. With --watch (default) the config file is polled and log
level, session settings and command triggers are applied without a restart.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), root, watch, cmd.OutOrStdout())
		},
	}
	cmd.Flags().BoolVar(&watch, "watch", true, "reload hot-reloadable settings when the config file changes")
	return cmd
}

func runServe(parent context.Context, root *rootOptions, watch bool, out io.Writer) error {
	configPath := root.configPath
	cfg, err := root.loadConfig(false)
	if err != nil {
		return err
	}
	level := newLogger(cfg.Server.LogLevel)

	slog.Info("soven starting",
		"config", configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	tel, err := observe.Init(ctx, observe.TelemetryConfig{
		ServiceName:    "soven",
		ServiceVersion: api.Version,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := tel.Metrics

	// ── Providers ─────────────────────────────────────────────────────────────
	providers, err := buildProviders(cfg, newProviderRegistry(), metrics)
	if err != nil {
		return err
	}

	printStartupSummary(out, cfg)

	opts := []app.Option{
		app.WithLevelVar(level),
		app.WithMetrics(metrics),
		app.WithMetricsHandler(tel.Handler()),
	}
	if watch {
		opts = append(opts, app.WithConfigPath(configPath))
	}
	application, err := app.New(ctx, cfg, providers, opts...)
	if err != nil {
		return err
	}

	slog.Info("server ready, press Ctrl+C to shut down")
	runErr := application.Run(ctx)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("run error", "err", runErr)
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	slog.Info("stopping")
	if err := application.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	slog.Info("goodbye")
	return nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(w io.Writer, cfg *config.Config) {
	fmt.Fprintln(w, "╔═══════════════════════════════════════╗")
	fmt.Fprintln(w, "║          Soven startup summary        ║")
	fmt.Fprintln(w, "╠═══════════════════════════════════════╣")
	printProvider(w, "LLM", cfg.Providers.LLM)
	printProvider(w, "STT", cfg.Providers.STT)
	printProvider(w, "TTS", cfg.Providers.TTS)

	store := "memory"
	if cfg.Store.PostgresDSN != "" {
		store = "postgres"
	}
	fmt.Fprintf(w, "║  Store           : %-19s ║\n", store)

	catalog := "(built-in)"
	if cfg.Voices.CatalogFile != "" {
		catalog = clip(cfg.Voices.CatalogFile)
	}
	fmt.Fprintf(w, "║  Voices          : %-19s ║\n", catalog)

	bridge := "(disabled)"
	if cfg.Appliance.Enabled() {
		bridge = string(cfg.Appliance.Transport)
	}
	fmt.Fprintf(w, "║  Appliance       : %-19s ║\n", bridge)

	auth := "(open)"
	if cfg.Server.APIKey != "" {
		auth = "api key"
	}
	fmt.Fprintf(w, "║  Auth            : %-19s ║\n", auth)
	if cfg.Server.ListenAddr != "" {
		fmt.Fprintf(w, "║  Listen addr     : %-19s ║\n", clip(cfg.Server.ListenAddr))
	}
	fmt.Fprintln(w, "╚═══════════════════════════════════════╝")
}

func printProvider(w io.Writer, kind string, e config.ProviderEntry) {
	value := e.Name
	switch {
	case value == "":
		value = "(not configured)"
	case e.Model != "":
		value = e.Name + " / " + e.Model
	}
	if n := len(e.Fallbacks); n > 0 && e.Name != "" {
		value = fmt.Sprintf("%s +%d", value, n)
	}
	fmt.Fprintf(w, "║  %-12s    : %-19s ║\n", kind, clip(value))
}

func clip(s string) string {
	if len(s) > 19 {
		return s[:16] + "…"
	}
	return s
}
