// Package api serves the Soven REST endpoints used by the companion app:
// personality onboarding, text dialogue turns, the voice catalog and ad-hoc
// speech synthesis.
//
// Errors are JSON objects of the form {"error":{"code":"...","message":"..."}}
// where code is one of the [fault] wire codes.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"

	"github.com/MrWong99/soven/internal/appliance"
	"github.com/MrWong99/soven/internal/fault"
	"github.com/MrWong99/soven/internal/observe"
	"github.com/MrWong99/soven/internal/onboarding"
	"github.com/MrWong99/soven/internal/personality"
	"github.com/MrWong99/soven/internal/realtime"
	"github.com/MrWong99/soven/internal/voicematch"
	"github.com/MrWong99/soven/pkg/provider/tts"
	"github.com/MrWong99/soven/pkg/voice"
)

// Service identity reported by the banner and /api/health.
const (
	ServiceName = "soven-api"
	Version     = "2.0"
)

// maxBodyBytes bounds request bodies. Narratives are capped well below this.
const maxBodyBytes = 64 << 10

// Personalities is the onboarding surface. [*onboarding.Service] implements it.
type Personalities interface {
	Create(ctx context.Context, req onboarding.Request) (*onboarding.Result, error)
	Get(ctx context.Context, id string) (*personality.Personality, error)
	List(ctx context.Context) ([]personality.Personality, error)
	Rematch(ctx context.Context, id string, prefs personality.Preferences) (*personality.Personality, voicematch.Selection, error)
	Similar(ctx context.Context, id string, limit int) ([]personality.Neighbor, error)
}

var _ Personalities = (*onboarding.Service)(nil)

// Deps are the collaborators of a [Server].
type Deps struct {
	Personalities Personalities
	Responder     realtime.Responder
	Catalog       *voice.Catalog

	// TTS backs /api/tts/generate. Optional; the endpoint answers 503 without it.
	TTS tts.Provider

	// Dispatcher executes commands found in text turns. Optional.
	Dispatcher appliance.Dispatcher

	// Sessions backs /api/sessions. Optional.
	Sessions *realtime.Registry
}

func (d Deps) validate() error {
	var errs []error
	if d.Personalities == nil {
		errs = append(errs, errors.New("api: personalities are required"))
	}
	if d.Responder == nil {
		errs = append(errs, errors.New("api: responder is required"))
	}
	if d.Catalog == nil {
		errs = append(errs, errors.New("api: voice catalog is required"))
	}
	return errors.Join(errs...)
}

// Server holds the API handlers.
type Server struct {
	deps  Deps
	turns atomic.Int64
}

// New validates deps and returns a Server.
func New(deps Deps) (*Server, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	if deps.Dispatcher == nil {
		deps.Dispatcher = appliance.Nop{}
	}
	return &Server{deps: deps}, nil
}

// Register adds the API routes to mux.
//
//	GET  /                               service banner
//	POST /api/personality/create         onboard a personality
//	GET  /api/personality/{id}           fetch a personality
//	POST /api/personality/{id}/voice     recompute the voice
//	GET  /api/personality/{id}/similar   nearest personalities by traits
//	GET  /api/personalities              list personalities
//	POST /api/dialogue/turn              one text turn
//	GET  /api/voices/list                voice catalog
//	POST /api/tts/generate               synthesise text to WAV
//	GET  /api/sessions                   live appliance sessions
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /{$}", s.handleBanner)
	mux.HandleFunc("POST /api/personality/create", s.handleCreate)
	mux.HandleFunc("GET /api/personality/{id}", s.handleGet)
	mux.HandleFunc("POST /api/personality/{id}/voice", s.handleRematch)
	mux.HandleFunc("GET /api/personality/{id}/similar", s.handleSimilar)
	mux.HandleFunc("GET /api/personalities", s.handleList)
	mux.HandleFunc("POST /api/dialogue/turn", s.handleTurn)
	mux.HandleFunc("GET /api/voices/list", s.handleVoices)
	mux.HandleFunc("POST /api/tts/generate", s.handleTTS)
	mux.HandleFunc("GET /api/sessions", s.handleSessions)
}

type bannerResponse struct {
	Message  string   `json:"message"`
	Version  string   `json:"version"`
	Features []string `json:"features"`
}

func (s *Server) handleBanner(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, bannerResponse{
		Message:  "Soven API running",
		Version:  Version,
		Features: []string{"personalities", "dialogue", "tts", "voices", "realtime"},
	})
}

type sessionsResponse struct {
	Sessions []realtime.Info `json:"sessions"`
}

func (s *Server) handleSessions(w http.ResponseWriter, _ *http.Request) {
	res := sessionsResponse{Sessions: []realtime.Info{}}
	if s.deps.Sessions != nil {
		res.Sessions = s.deps.Sessions.List()
	}
	writeJSON(w, http.StatusOK, res)
}

// ── helpers ──────────────────────────────────────────────────────────────────

type problemBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type problem struct {
	Error problemBody `json:"error"`
}

// statusOf maps an error to its HTTP status and wire code.
func statusOf(err error) (int, string) {
	if errors.Is(err, personality.ErrDuplicateID) {
		return http.StatusConflict, fault.CodeOf(err)
	}
	code := fault.CodeOf(err)
	switch code {
	case fault.ErrInvalidInput.Code():
		return http.StatusBadRequest, code
	case fault.ErrProfileNotFound.Code():
		return http.StatusNotFound, code
	case fault.ErrExtractionUnavailable.Code(), fault.ErrGenerationUnavailable.Code(), fault.ErrRecognitionFailure.Code():
		return http.StatusServiceUnavailable, code
	case fault.ErrSynthesisFailure.Code():
		return http.StatusBadGateway, code
	}
	return http.StatusInternalServerError, fault.CodeInternal
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusOf(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		observe.Logger(r.Context()).Error("api: request failed", "path", r.URL.Path, "err", err)
		msg = "internal error"
	}
	writeJSON(w, status, problem{Error: problemBody{Code: code, Message: msg}})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decodeJSON reads a JSON body into v. Failures wrap [fault.ErrInvalidInput].
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("api: %w: empty request body", fault.ErrInvalidInput)
		}
		return fmt.Errorf("api: %w: malformed JSON body: %w", fault.ErrInvalidInput, err)
	}
	return nil
}
