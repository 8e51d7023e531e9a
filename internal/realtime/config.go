package realtime

import (
	"errors"
	"fmt"
	"time"
)

// WakePolicy decides which transcripts reach the dialogue pipeline.
type WakePolicy string

const (
	// WakeName requires the assistant's name in the transcript.
	WakeName WakePolicy = "name"

	// WakeAlways accepts every non-empty transcript.
	WakeAlways WakePolicy = "always"
)

// OverlapPolicy decides what happens to an end-of-utterance that arrives
// while a turn is still in flight.
type OverlapPolicy string

const (
	// OverlapQueue holds one end-of-utterance and runs it after the current turn.
	OverlapQueue OverlapPolicy = "queue"

	// OverlapReject answers with an invalid_input error and drops it.
	OverlapReject OverlapPolicy = "reject"
)

// Config holds per-session tuning. Zero fields take the values of
// [DefaultConfig].
type Config struct {
	// SampleRate of inbound and outbound PCM in Hz.
	SampleRate int

	// ChunkSize is the byte size of outbound audio frames.
	ChunkSize int

	// SilenceTimeout ends an utterance when no voiced audio arrived for this
	// long after speech started.
	SilenceTimeout time.Duration

	// SilenceLevel is the RMS below which a frame counts as silence.
	SilenceLevel float64

	// IdleTimeout closes a session that received nothing for this long.
	IdleTimeout time.Duration

	RecognitionTimeout time.Duration
	GenerationTimeout  time.Duration
	SynthesisTimeout   time.Duration

	// MaxUtterance caps buffered audio. Reaching it ends the utterance.
	MaxUtterance time.Duration

	WakePolicy    WakePolicy
	OverlapPolicy OverlapPolicy
}

// DefaultConfig returns the built-in session settings.
func DefaultConfig() Config {
	return Config{
		SampleRate:         16000,
		ChunkSize:          1024,
		SilenceTimeout:     1500 * time.Millisecond,
		SilenceLevel:       300,
		IdleTimeout:        5 * time.Minute,
		RecognitionTimeout: 15 * time.Second,
		GenerationTimeout:  30 * time.Second,
		SynthesisTimeout:   20 * time.Second,
		MaxUtterance:       30 * time.Second,
		WakePolicy:         WakeName,
		OverlapPolicy:      OverlapQueue,
	}
}

// WithDefaults returns c with every zero field replaced by its default.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.SampleRate == 0 {
		c.SampleRate = d.SampleRate
	}
	if c.ChunkSize == 0 {
		c.ChunkSize = d.ChunkSize
	}
	if c.SilenceTimeout == 0 {
		c.SilenceTimeout = d.SilenceTimeout
	}
	if c.SilenceLevel == 0 {
		c.SilenceLevel = d.SilenceLevel
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = d.IdleTimeout
	}
	if c.RecognitionTimeout == 0 {
		c.RecognitionTimeout = d.RecognitionTimeout
	}
	if c.GenerationTimeout == 0 {
		c.GenerationTimeout = d.GenerationTimeout
	}
	if c.SynthesisTimeout == 0 {
		c.SynthesisTimeout = d.SynthesisTimeout
	}
	if c.MaxUtterance == 0 {
		c.MaxUtterance = d.MaxUtterance
	}
	if c.WakePolicy == "" {
		c.WakePolicy = d.WakePolicy
	}
	if c.OverlapPolicy == "" {
		c.OverlapPolicy = d.OverlapPolicy
	}
	return c
}

// Validate checks a config after defaults have been applied.
func (c Config) Validate() error {
	var errs []error
	if c.SampleRate < 8000 || c.SampleRate > 48000 {
		errs = append(errs, fmt.Errorf("realtime: sample_rate must be in [8000, 48000], got %d", c.SampleRate))
	}
	if c.ChunkSize < 2 || c.ChunkSize%2 != 0 {
		errs = append(errs, fmt.Errorf("realtime: chunk_size must be a positive even number, got %d", c.ChunkSize))
	}
	for name, d := range map[string]time.Duration{
		"silence_timeout":     c.SilenceTimeout,
		"idle_timeout":        c.IdleTimeout,
		"recognition_timeout": c.RecognitionTimeout,
		"generation_timeout":  c.GenerationTimeout,
		"synthesis_timeout":   c.SynthesisTimeout,
		"max_utterance":       c.MaxUtterance,
	} {
		if d < 0 {
			errs = append(errs, fmt.Errorf("realtime: %s must not be negative", name))
		}
	}
	if c.WakePolicy != WakeName && c.WakePolicy != WakeAlways {
		errs = append(errs, fmt.Errorf("realtime: wake_policy must be %q or %q, got %q", WakeName, WakeAlways, c.WakePolicy))
	}
	if c.OverlapPolicy != OverlapQueue && c.OverlapPolicy != OverlapReject {
		errs = append(errs, fmt.Errorf("realtime: overlap_policy must be %q or %q, got %q", OverlapQueue, OverlapReject, c.OverlapPolicy))
	}
	return errors.Join(errs...)
}
