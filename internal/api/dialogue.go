package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/MrWong99/soven/internal/appliance"
	"github.com/MrWong99/soven/internal/fault"
	"github.com/MrWong99/soven/internal/observe"
)

// maxUtteranceLen bounds text turns in bytes.
const maxUtteranceLen = 2000

type turnRequest struct {
	EntityID  string `json:"entity_id"`
	Utterance string `json:"utterance"`
}

type turnResponse struct {
	Reply    string   `json:"reply"`
	Commands []string `json:"commands"`
	Fallback bool     `json:"fallback"`

	// DispatchErrors lists commands the appliance refused, keyed by token.
	DispatchErrors map[string]string `json:"dispatch_errors,omitempty"`
}

// handleTurn runs one text exchange with the personality bound to entity_id.
// When the language model is unavailable the reply is a canned fallback and
// the response still succeeds.
func (s *Server) handleTurn(w http.ResponseWriter, r *http.Request) {
	var req turnRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	switch {
	case req.EntityID == "":
		writeError(w, r, fmt.Errorf("api: %w: entity_id is required", fault.ErrInvalidInput))
		return
	case strings.TrimSpace(req.Utterance) == "":
		writeError(w, r, fmt.Errorf("api: %w: utterance must not be empty", fault.ErrInvalidInput))
		return
	case len(req.Utterance) > maxUtteranceLen:
		writeError(w, r, fmt.Errorf("api: %w: utterance exceeds %d bytes", fault.ErrInvalidInput, maxUtteranceLen))
		return
	}

	ctx := observe.WithEntity(r.Context(), req.EntityID)
	p, err := s.deps.Personalities.Get(ctx, req.EntityID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	turn, err := s.deps.Responder.Respond(ctx, req.Utterance, p)
	if errors.Is(err, fault.ErrGenerationUnavailable) {
		observe.Logger(ctx).Warn("api: dialogue fallback", "err", err)
		n := int(s.turns.Add(1))
		writeJSON(w, http.StatusOK, turnResponse{
			Reply:    s.deps.Responder.Fallback(n),
			Commands: []string{},
			Fallback: true,
		})
		return
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.turns.Add(1)

	res := turnResponse{Reply: turn.Reply, Commands: turn.Commands}
	if res.Commands == nil {
		res.Commands = []string{}
	}
	if failed := appliance.DispatchAll(ctx, s.deps.Dispatcher, req.EntityID, turn.Commands); len(failed) > 0 {
		res.DispatchErrors = make(map[string]string, len(failed))
		for cmd, err := range failed {
			observe.Logger(ctx).Warn("api: command dispatch failed", "command", cmd, "err", err)
			res.DispatchErrors[cmd] = err.Error()
		}
	}
	writeJSON(w, http.StatusOK, res)
}
