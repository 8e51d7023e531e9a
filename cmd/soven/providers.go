package main

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/soven/internal/app"
	"github.com/MrWong99/soven/internal/config"
	"github.com/MrWong99/soven/internal/observe"
	"github.com/MrWong99/soven/internal/resilience"
	"github.com/MrWong99/soven/pkg/provider/llm"
	"github.com/MrWong99/soven/pkg/provider/llm/anyllm"
	"github.com/MrWong99/soven/pkg/provider/llm/openai"
	"github.com/MrWong99/soven/pkg/provider/stt"
	"github.com/MrWong99/soven/pkg/provider/stt/deepgram"
	"github.com/MrWong99/soven/pkg/provider/stt/whisper"
	"github.com/MrWong99/soven/pkg/provider/tts"
	"github.com/MrWong99/soven/pkg/provider/tts/coqui"
)

// anyllmProviders share the same pattern: optional APIKey + optional BaseURL.
var anyllmProviders = []string{"anthropic", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"}

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the appropriate
// provider from the real implementation packages.
func registerBuiltinProviders(reg *config.Registry) {
	// ── LLM ───────────────────────────────────────────────────────────────────
	for _, providerName := range anyllmProviders {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterLLM("ollama", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.NewOllama(entry.Model, opts...)
	})

	// openai and any server speaking its chat completions API.
	openaiFactory := func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []openai.Option
		if entry.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(entry.BaseURL))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, openai.WithOrganization(org))
		}
		if d := optDuration(entry.Options, "timeout"); d > 0 {
			opts = append(opts, openai.WithTimeout(d))
		}
		if n, ok := optInt(entry.Options, "max_retries"); ok {
			opts = append(opts, openai.WithMaxRetries(n))
		}
		return openai.New(entry.APIKey, entry.Model, opts...)
	}
	reg.RegisterLLM("openai", openaiFactory)
	reg.RegisterLLM("openai-compatible", openaiFactory)

	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		if rms, ok := optFloat(entry.Options, "silence_rms"); ok {
			opts = append(opts, whisper.WithSilenceRMS(rms))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterSTT("whisper-native", func(entry config.ProviderEntry) (stt.Provider, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = optString(entry.Options, "model_path")
		}
		var opts []whisper.NativeOption
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithNativeLanguage(lang))
		}
		if rms, ok := optFloat(entry.Options, "silence_rms"); ok {
			opts = append(opts, whisper.WithNativeSilenceRMS(rms))
		}
		return whisper.NewNative(modelPath, opts...)
	})

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("coqui", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []coqui.Option
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, coqui.WithLanguage(lang))
		}
		if mode := optString(entry.Options, "api_mode"); mode != "" {
			opts = append(opts, coqui.WithAPIMode(coqui.APIMode(mode)))
		}
		if d := optDuration(entry.Options, "timeout"); d > 0 {
			opts = append(opts, coqui.WithTimeout(d))
		}
		// model_servers routes single-speaker models to their own servers.
		for model, url := range optStringMap(entry.Options, "model_servers") {
			opts = append(opts, coqui.WithModelServer(model, url))
		}
		return coqui.New(entry.BaseURL, opts...)
	})
}

// newProviderRegistry returns a registry with every built-in provider.
func newProviderRegistry() *config.Registry {
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)
	return reg
}

// buildProviders instantiates all providers named in cfg using the registry
// and returns them in an [app.Providers] struct for the application to consume.
// Entries with fallbacks are wrapped in a circuit-breaking fallback group.
func buildProviders(cfg *config.Config, reg *config.Registry, m *observe.Metrics) (*app.Providers, error) {
	ps := &app.Providers{}
	var err error
	if ps.LLM, err = buildLLM(cfg.Providers.LLM, reg, m); err != nil {
		return nil, err
	}
	if ps.STT, err = buildSlot(cfg.Providers.STT, "stt", reg.CreateSTT, func(primary stt.Provider, fc resilience.FallbackConfig) slotGroup[stt.Provider] {
		return resilience.NewSTTFallback(primary, cfg.Providers.STT.Name, fc)
	}, m); err != nil {
		return nil, err
	}
	if ps.TTS, err = buildSlot(cfg.Providers.TTS, "tts", reg.CreateTTS, func(primary tts.Provider, fc resilience.FallbackConfig) slotGroup[tts.Provider] {
		return resilience.NewTTSFallback(primary, cfg.Providers.TTS.Name, fc)
	}, m); err != nil {
		return nil, err
	}
	return ps, nil
}

func buildLLM(entry config.ProviderEntry, reg *config.Registry, m *observe.Metrics) (llm.Provider, error) {
	return buildSlot(entry, "llm", reg.CreateLLM, func(primary llm.Provider, fc resilience.FallbackConfig) slotGroup[llm.Provider] {
		return resilience.NewLLMFallback(primary, entry.Name, fc)
	}, m)
}

// slotGroup is a fallback group that is itself a provider of kind P.
type slotGroup[P any] interface {
	AddFallback(name string, p P)
	Names() []string
}

// buildSlot creates the primary provider of one slot and, when the entry has
// fallbacks, a fallback group around it. An empty name yields the zero P.
func buildSlot[P any](
	entry config.ProviderEntry,
	kind string,
	create func(config.ProviderEntry) (P, error),
	group func(P, resilience.FallbackConfig) slotGroup[P],
	m *observe.Metrics,
) (P, error) {
	var zero P
	if entry.Name == "" {
		return zero, nil
	}
	primary, err := create(entry)
	if err != nil {
		return zero, fmt.Errorf("create %s provider %q: %w", kind, entry.Name, err)
	}
	slog.Info("provider created", "kind", kind, "name", entry.Name)
	if len(entry.Fallbacks) == 0 {
		return primary, nil
	}

	g := group(primary, resilience.FallbackConfig{Kind: kind, Metrics: m})
	for _, fb := range entry.Fallbacks {
		p, err := create(fb)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			return zero, fmt.Errorf("create %s fallback: %w", kind, err)
		}
		if err != nil {
			// Broken fallbacks are skipped; the primary still serves.
			slog.Warn("skipping fallback provider", "kind", kind, "name", fb.Name, "err", err)
			continue
		}
		g.AddFallback(fb.Name, p)
	}
	slog.Info("provider fallback chain", "kind", kind, "chain", g.Names())

	p, ok := any(g).(P)
	if !ok {
		return zero, fmt.Errorf("%s fallback group does not implement the provider interface", kind)
	}
	return p, nil
}

// ── Option helpers ────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

func optFloat(opts map[string]any, key string) (float64, bool) {
	switch v := opts[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}

func optInt(opts map[string]any, key string) (int, bool) {
	switch v := opts[key].(type) {
	case int:
		return v, true
	case float64:
		return int(v), true
	}
	return 0, false
}

// optDuration accepts Go duration strings ("30s") or plain seconds.
func optDuration(opts map[string]any, key string) time.Duration {
	if s := optString(opts, key); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil {
			slog.Warn("ignoring invalid duration option", "key", key, "value", s)
			return 0
		}
		return d
	}
	if f, ok := optFloat(opts, key); ok {
		return time.Duration(f * float64(time.Second))
	}
	return 0
}

func optStringMap(opts map[string]any, key string) map[string]string {
	raw, ok := opts[key].(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}
