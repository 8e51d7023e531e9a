package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/MrWong99/soven/internal/fault"
	"github.com/MrWong99/soven/internal/onboarding"
	"github.com/MrWong99/soven/internal/personality"
	"github.com/MrWong99/soven/internal/voicematch"
)

type createRequest struct {
	EntityID    string `json:"entity_id"`
	Name        string `json:"name"`
	Description string `json:"description"`

	// PreferAmerican defaults to true when omitted.
	PreferAmerican *bool  `json:"prefer_american"`
	Gender         string `json:"gender"`
}

type createResponse struct {
	Success            bool                     `json:"success"`
	PersonalityID      string                   `json:"personality_id"`
	Name               string                   `json:"name"`
	Description        string                   `json:"description"`
	Personality        *personality.Personality `json:"personality"`
	Voice              voicematch.Selection     `json:"voice"`
	ExtractionFallback bool                     `json:"extraction_fallback"`
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	american := true
	if req.PreferAmerican != nil {
		american = *req.PreferAmerican
	}

	res, err := s.deps.Personalities.Create(r.Context(), onboarding.Request{
		EntityID:  req.EntityID,
		Name:      req.Name,
		Narrative: req.Description,
		Preferences: personality.Preferences{
			PreferAmerican: &american,
			ExplicitGender: req.Gender,
		},
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, createResponse{
		Success:            true,
		PersonalityID:      res.Personality.ID,
		Name:               res.Personality.Name,
		Description:        res.Personality.Narrative,
		Personality:        res.Personality,
		Voice:              res.Selection,
		ExtractionFallback: res.ExtractionFallback,
	})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	p, err := s.deps.Personalities.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type listResponse struct {
	Personalities []personality.Personality `json:"personalities"`
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	ps, err := s.deps.Personalities.List(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if ps == nil {
		ps = []personality.Personality{}
	}
	writeJSON(w, http.StatusOK, listResponse{Personalities: ps})
}

type rematchRequest struct {
	PreferAmerican *bool  `json:"prefer_american"`
	Gender         string `json:"gender"`
}

type rematchResponse struct {
	Personality *personality.Personality `json:"personality"`
	Voice       voicematch.Selection     `json:"voice"`
}

func (s *Server) handleRematch(w http.ResponseWriter, r *http.Request) {
	var req rematchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	p, sel, err := s.deps.Personalities.Rematch(r.Context(), r.PathValue("id"), personality.Preferences{
		PreferAmerican: req.PreferAmerican,
		ExplicitGender: req.Gender,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rematchResponse{Personality: p, Voice: sel})
}

type similarResponse struct {
	ID        string                 `json:"id"`
	Neighbors []personality.Neighbor `json:"neighbors"`
}

func (s *Server) handleSimilar(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, r, fmt.Errorf("api: %w: limit must be a positive integer, got %q", fault.ErrInvalidInput, raw))
			return
		}
		limit = n
	}

	id := r.PathValue("id")
	ns, err := s.deps.Personalities.Similar(r.Context(), id, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if ns == nil {
		ns = []personality.Neighbor{}
	}
	writeJSON(w, http.StatusOK, similarResponse{ID: id, Neighbors: ns})
}
