// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A provider turns one reply into one block of mono 16-bit PCM. The realtime
// session then cuts that block into fixed-size chunks for the appliance, so
// providers never deal with the wire format.
//
// Implementations must be safe for concurrent use.
package tts

import "context"

// Voice selects what a provider should speak with.
type Voice struct {
	// Model is the engine identifier (e.g., "tts_models/en/vctk/vits").
	// Empty means the provider's default model.
	Model string

	// Speaker is the speaker code within a multi-speaker model (e.g., "p297").
	// Empty for single-speaker models.
	Speaker string
}

// Request is a single synthesis job.
type Request struct {
	Text  string
	Voice Voice

	// SampleRate is the rate the caller wants back. Zero keeps the model's
	// native rate.
	SampleRate int
}

// Audio is synthesised mono 16-bit signed little-endian PCM.
type Audio struct {
	PCM        []byte
	SampleRate int
}

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// Synthesize renders req.Text with req.Voice. It returns promptly with
	// ctx's error when ctx is cancelled.
	Synthesize(ctx context.Context, req Request) (Audio, error)
}

// VoiceLister is implemented by providers that can report which speakers
// their backend currently serves.
type VoiceLister interface {
	ListVoices(ctx context.Context) ([]Voice, error)
}
