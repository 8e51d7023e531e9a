// This file contains the NativeProvider implementation backed by the
// whisper.cpp CGO bindings. The whisper.cpp static library (libwhisper.a)
// and headers (whisper.h) must be available at link time via LIBRARY_PATH
// and C_INCLUDE_PATH environment variables.

package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/MrWong99/soven/pkg/audio"
	"github.com/MrWong99/soven/pkg/provider/stt"
)

// nativeSampleRate is the only input rate whisper.cpp accepts.
const nativeSampleRate = 16000

var _ stt.Provider = (*NativeProvider)(nil)

// NativeProvider implements stt.Provider using the whisper.cpp Go bindings.
// The model is loaded once and shared; every Recognize call gets its own
// whisper context because contexts are not safe for concurrent use.
type NativeProvider struct {
	model      whisperlib.Model
	language   string
	silenceRMS float64
}

// NativeOption is a functional option for configuring a NativeProvider.
type NativeOption func(*NativeProvider)

// WithNativeLanguage sets the language code for transcription. Defaults to "en".
func WithNativeLanguage(lang string) NativeOption {
	return func(p *NativeProvider) { p.language = lang }
}

// WithNativeSilenceRMS sets the energy threshold below which audio is not
// processed. Zero disables the check.
func WithNativeSilenceRMS(rms float64) NativeOption {
	return func(p *NativeProvider) { p.silenceRMS = rms }
}

// NewNative loads the whisper.cpp model at modelPath. The caller must call
// Close when the provider is no longer needed.
func NewNative(modelPath string, opts ...NativeOption) (*NativeProvider, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}

	p := &NativeProvider{
		model:      model,
		language:   defaultLanguage,
		silenceRMS: defaultRMSThreshold,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Close releases the whisper model.
func (p *NativeProvider) Close() error {
	if p.model != nil {
		return p.model.Close()
	}
	return nil
}

// Recognize implements stt.Provider. whisper.cpp expects 16 kHz input, so
// other rates are resampled first. Inference itself cannot be interrupted;
// a cancelled ctx is honoured before and after it.
func (p *NativeProvider) Recognize(ctx context.Context, req stt.Request) (stt.Transcript, error) {
	if err := ctx.Err(); err != nil {
		return stt.Transcript{}, err
	}
	sr := req.SampleRate
	if sr <= 0 {
		sr = defaultSampleRate
	}
	out := stt.Transcript{Duration: audio.Duration(req.Audio, sr)}
	if len(req.Audio) < audio.BytesPerSample {
		return out, nil
	}
	if p.silenceRMS > 0 && audio.RMS(req.Audio) < p.silenceRMS {
		return out, nil
	}

	pcm := audio.ResampleMono16(req.Audio, sr, nativeSampleRate)
	lang := req.Language
	if lang == "" {
		lang = p.language
	}

	text, err := p.infer(audio.ToFloat32(pcm), lang)
	if err != nil {
		return stt.Transcript{}, err
	}
	if err := ctx.Err(); err != nil {
		return stt.Transcript{}, err
	}
	out.Text = text
	return out, nil
}

func (p *NativeProvider) infer(samples []float32, language string) (string, error) {
	wctx, err := p.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("whisper: create context: %w", err)
	}
	if err := wctx.SetLanguage(language); err != nil {
		slog.Warn("whisper: failed to set language, using default", "language", language, "err", err)
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return "", fmt.Errorf("whisper: process audio: %w", err)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("whisper: read segment: %w", err)
		}
		if text := strings.TrimSpace(segment.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " "), nil
}
