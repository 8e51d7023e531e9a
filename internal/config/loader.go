package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/soven/internal/appliance"
	"github.com/MrWong99/soven/internal/dialogue"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm": {"ollama", "openai", "openai-compatible", "anthropic", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"stt": {"whisper", "whisper-native", "deepgram"},
	"tts": {"coqui"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Unknown keys are rejected. An empty document yields the zero config.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Providers
	for kind, entry := range map[string]ProviderEntry{
		"llm": cfg.Providers.LLM,
		"stt": cfg.Providers.STT,
		"tts": cfg.Providers.TTS,
	} {
		validateProviderName(kind, entry.Name)
		for i, fb := range entry.Fallbacks {
			if fb.Name == "" {
				errs = append(errs, fmt.Errorf("providers.%s.fallbacks[%d].name is required", kind, i))
				continue
			}
			validateProviderName(kind, fb.Name)
		}
		if entry.Name == "" && len(entry.Fallbacks) > 0 {
			errs = append(errs, fmt.Errorf("providers.%s has fallbacks but no primary name", kind))
		}
	}
	if cfg.Providers.LLM.Name == "" {
		slog.Warn("no LLM provider configured; extraction will use default traits and dialogue will only use fallback replies")
	}

	// Extraction
	if cfg.Extraction.Timeout < 0 {
		errs = append(errs, fmt.Errorf("extraction.timeout %s must not be negative", cfg.Extraction.Timeout.Std()))
	}
	if t := cfg.Extraction.Temperature; t < 0 || t > 2 {
		errs = append(errs, fmt.Errorf("extraction.temperature %.2f is out of range [0, 2]", t))
	}

	// Dialogue
	if cfg.Dialogue.Timeout < 0 {
		errs = append(errs, fmt.Errorf("dialogue.timeout %s must not be negative", cfg.Dialogue.Timeout.Std()))
	}
	if t := cfg.Dialogue.Temperature; t < 0 || t > 2 {
		errs = append(errs, fmt.Errorf("dialogue.temperature %.2f is out of range [0, 2]", t))
	}
	if len(cfg.Dialogue.Triggers) > 0 {
		if _, err := dialogue.NewCommandTable(cfg.Dialogue.Triggers); err != nil {
			errs = append(errs, fmt.Errorf("dialogue.triggers: %w", err))
		}
	}

	// Session
	if err := cfg.Session.Realtime().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("session: %w", err))
	}

	// Appliance
	a := cfg.Appliance
	if a.Transport != "" && !a.Transport.IsValid() {
		errs = append(errs, fmt.Errorf("appliance.transport %q is invalid; valid values: stdio, streamable-http", a.Transport))
	}
	if a.Transport == appliance.TransportStdio && a.Command == "" {
		errs = append(errs, errors.New("appliance.command is required when transport is stdio"))
	}
	if a.Transport == appliance.TransportStreamableHTTP && a.URL == "" {
		errs = append(errs, errors.New("appliance.url is required when transport is streamable-http"))
	}
	if a.CallTimeout < 0 {
		errs = append(errs, fmt.Errorf("appliance.call_timeout %s must not be negative", a.CallTimeout.Std()))
	}

	if cfg.Store.PostgresDSN == "" {
		slog.Warn("store.postgres_dsn is empty; personalities are kept in memory and lost on restart")
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok || slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name; may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
