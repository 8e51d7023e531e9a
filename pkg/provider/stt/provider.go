// Package stt defines the Provider interface for Speech-to-Text backends.
//
// The appliance sends one utterance at a time, so recognition is a single
// batch call: the session hands over the buffered PCM once the speaker is done
// and gets back the full transcript. Providers built on streaming services
// (Deepgram) hide their socket behind the same call.
//
// Implementations must be safe for concurrent use. Multiple sessions may
// recognise audio at the same time.
package stt

import (
	"context"
	"time"
)

// Request is one utterance to recognise.
type Request struct {
	// Audio is mono 16-bit signed little-endian PCM.
	Audio []byte

	// SampleRate is the sample rate of Audio in Hz.
	SampleRate int

	// Language is an optional BCP-47 tag. Empty means provider default.
	Language string

	// Hints lists words the recogniser should favour, typically the
	// assistant's name so the wake check sees it spelled correctly.
	Hints []string
}

// Transcript is the recognition result for a Request.
type Transcript struct {
	// Text is the recognised speech. Empty when the audio held no speech.
	Text string

	// Confidence is the overall confidence score (0.0–1.0). Zero when the
	// provider does not report one.
	Confidence float64

	// Duration is the length of the recognised audio.
	Duration time.Duration
}

// Provider is the abstraction over any STT backend.
type Provider interface {
	// Recognize transcribes req.Audio. It returns promptly with ctx's error
	// when ctx is cancelled.
	Recognize(ctx context.Context, req Request) (Transcript, error)
}
