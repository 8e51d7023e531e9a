package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/MrWong99/soven/internal/fault"
	"github.com/MrWong99/soven/pkg/audio"
	"github.com/MrWong99/soven/pkg/provider/tts"
	"github.com/MrWong99/soven/pkg/voice"
)

// maxSynthesisLen bounds /api/tts/generate text in bytes.
const maxSynthesisLen = 1000

// defaultSynthesisRate is assumed when a provider does not report its rate.
const defaultSynthesisRate = 22050

type voicesResponse struct {
	Default string        `json:"default"`
	Count   int           `json:"count"`
	Voices  []voice.Entry `json:"voices"`
}

func (s *Server) handleVoices(w http.ResponseWriter, _ *http.Request) {
	all := s.deps.Catalog.All()
	writeJSON(w, http.StatusOK, voicesResponse{
		Default: s.deps.Catalog.Default().Code,
		Count:   len(all),
		Voices:  all,
	})
}

type ttsRequest struct {
	Text    string `json:"text"`
	VoiceID string `json:"voice_id"`
}

// handleTTS synthesises text with a catalog voice and answers with a mono
// 16-bit WAV file. An empty voice_id selects the catalog default.
func (s *Server) handleTTS(w http.ResponseWriter, r *http.Request) {
	if s.deps.TTS == nil {
		writeError(w, r, fmt.Errorf("api: %w: no tts provider configured", fault.ErrSynthesisFailure))
		return
	}
	var req ttsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	text := strings.TrimSpace(req.Text)
	switch {
	case text == "":
		writeError(w, r, fmt.Errorf("api: %w: text must not be empty", fault.ErrInvalidInput))
		return
	case len(text) > maxSynthesisLen:
		writeError(w, r, fmt.Errorf("api: %w: text exceeds %d bytes", fault.ErrInvalidInput, maxSynthesisLen))
		return
	}

	entry := s.deps.Catalog.Default()
	if req.VoiceID != "" {
		e, err := s.deps.Catalog.Lookup(req.VoiceID)
		if errors.Is(err, voice.ErrNotFound) {
			writeError(w, r, fmt.Errorf("api: %w: unknown voice_id %q", fault.ErrInvalidInput, req.VoiceID))
			return
		}
		if err != nil {
			writeError(w, r, err)
			return
		}
		entry = e
	}

	out, err := s.deps.TTS.Synthesize(r.Context(), tts.Request{
		Text:  text,
		Voice: tts.Voice{Model: entry.Model, Speaker: entry.Speaker},
	})
	if err != nil {
		if fault.CodeOf(err) == fault.CodeInternal {
			err = fmt.Errorf("api: %w: %w", fault.ErrSynthesisFailure, err)
		}
		writeError(w, r, err)
		return
	}

	rate := out.SampleRate
	if rate <= 0 {
		rate = defaultSynthesisRate
	}
	wav := audio.EncodeWAV(out.PCM, rate, 1)
	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Content-Length", strconv.Itoa(len(wav)))
	w.Header().Set("Content-Disposition", `attachment; filename="speech.wav"`)
	w.Header().Set("X-Voice-Id", entry.Code)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(wav)
}
