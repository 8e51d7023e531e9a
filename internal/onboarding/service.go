// Package onboarding creates and maintains companion personalities.
//
// [Service.Create] runs the full pipeline: validate the request, extract
// traits from the narrative, match a voice and persist the result. Extraction
// failures never block onboarding; the profile is stored with default traits
// and the result reports the fallback.
package onboarding

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/MrWong99/soven/internal/extract"
	"github.com/MrWong99/soven/internal/fault"
	"github.com/MrWong99/soven/internal/observe"
	"github.com/MrWong99/soven/internal/personality"
	"github.com/MrWong99/soven/internal/voicematch"
	"github.com/MrWong99/soven/pkg/voice"
)

// Input limits.
const (
	MaxNameLength      = 64
	MaxNarrativeLength = 10000
	MaxEntityIDLength  = 128
)

// Similar limits.
const (
	DefaultSimilarLimit = 5
	MaxSimilarLimit     = 50
)

// Extractor turns a narrative into traits. [*extract.Extractor] implements it.
type Extractor interface {
	Extract(ctx context.Context, narrative string, hints extract.Hints) (extract.Result, error)
}

var _ Extractor = (*extract.Extractor)(nil)

// Request describes a personality to create.
type Request struct {
	// EntityID is optional; a random UUID is assigned when empty.
	EntityID    string                  `json:"entity_id,omitempty"`
	Name        string                  `json:"name"`
	Narrative   string                  `json:"narrative"`
	Preferences personality.Preferences `json:"preferences"`
}

// Validate checks the request against the input limits.
func (r Request) Validate() error {
	var errs []error
	if id := r.EntityID; id != "" {
		if len(id) > MaxEntityIDLength {
			errs = append(errs, fmt.Errorf("entity_id must be at most %d bytes", MaxEntityIDLength))
		}
		if strings.IndexFunc(id, func(r rune) bool { return unicode.IsSpace(r) || r == '/' }) >= 0 {
			errs = append(errs, errors.New("entity_id must not contain whitespace or '/'"))
		}
	}
	name := strings.TrimSpace(r.Name)
	switch {
	case name == "":
		errs = append(errs, errors.New("name must not be empty"))
	case utf8.RuneCountInString(name) > MaxNameLength:
		errs = append(errs, fmt.Errorf("name must be at most %d characters", MaxNameLength))
	}
	narrative := strings.TrimSpace(r.Narrative)
	switch {
	case narrative == "":
		errs = append(errs, errors.New("narrative must not be empty"))
	case utf8.RuneCountInString(narrative) > MaxNarrativeLength:
		errs = append(errs, fmt.Errorf("narrative must be at most %d characters", MaxNarrativeLength))
	}
	if err := r.Preferences.Validate(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("onboarding: %w: %w", fault.ErrInvalidInput, errors.Join(errs...))
	}
	return nil
}

// Result is the outcome of [Service.Create].
type Result struct {
	Personality *personality.Personality `json:"personality"`
	Selection   voicematch.Selection     `json:"voice"`

	// ExtractionFallback is true when the traits are defaults because
	// extraction was unavailable.
	ExtractionFallback bool `json:"extraction_fallback"`
}

// Option configures a [Service].
type Option func(*Service)

// WithIDGenerator replaces the UUID generator used for new entity ids.
func WithIDGenerator(fn func() string) Option {
	return func(s *Service) {
		if fn != nil {
			s.newID = fn
		}
	}
}

// Service coordinates extraction, matching and storage. It is safe for
// concurrent use.
type Service struct {
	store     personality.Store
	extractor Extractor
	matcher   *voicematch.Matcher
	newID     func() string
}

// New creates a Service.
func New(store personality.Store, extractor Extractor, matcher *voicematch.Matcher, opts ...Option) *Service {
	s := &Service{
		store:     store,
		extractor: extractor,
		matcher:   matcher,
		newID:     uuid.NewString,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Create onboards a new personality.
//
// Invalid input wraps [fault.ErrInvalidInput]; a taken entity id additionally
// wraps [personality.ErrDuplicateID]. Extraction failures are not errors.
func (s *Service) Create(ctx context.Context, req Request) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	id := req.EntityID
	if id == "" {
		id = s.newID()
	}
	narrative := strings.TrimSpace(req.Narrative)

	ctx, span := observe.StartSpan(observe.WithEntity(ctx, id), "onboarding.create")
	defer span.End()

	var hints extract.Hints
	if req.Preferences.PreferAmerican != nil && *req.Preferences.PreferAmerican {
		hints.PreferredAccent = voice.AccentAmerican
	}
	extracted, err := s.extractor.Extract(ctx, narrative, hints)
	fallback := err != nil
	if fallback {
		extracted = extract.Fallback()
	}

	sel := s.matcher.Select(extracted.Traits, narrative, req.Preferences)
	p := &personality.Personality{
		ID:          id,
		Name:        strings.TrimSpace(req.Name),
		Narrative:   narrative,
		Summary:     extracted.Summary,
		Themes:      extracted.Themes,
		Traits:      extracted.Traits,
		Voice:       sel.Stored(),
		Preferences: req.Preferences,
	}
	if err := s.store.Create(ctx, p); err != nil {
		span.RecordError(err)
		if errors.Is(err, personality.ErrDuplicateID) {
			return nil, fmt.Errorf("onboarding: %w: %w", fault.ErrInvalidInput, err)
		}
		return nil, fmt.Errorf("onboarding: store: %w", err)
	}

	observe.Logger(ctx).Info("onboarding: personality created",
		"voice", sel.Entry.Code,
		"score", sel.Score,
		"extraction_fallback", fallback,
	)
	return &Result{Personality: p, Selection: sel, ExtractionFallback: fallback}, nil
}

// Get returns the personality for id or an error wrapping
// [fault.ErrProfileNotFound].
func (s *Service) Get(ctx context.Context, id string) (*personality.Personality, error) {
	p, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("onboarding: get %q: %w", id, err)
	}
	if p == nil {
		return nil, fmt.Errorf("onboarding: %w: %q", fault.ErrProfileNotFound, id)
	}
	return p, nil
}

// List returns every stored personality ordered by name.
func (s *Service) List(ctx context.Context) ([]personality.Personality, error) {
	list, err := s.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("onboarding: list: %w", err)
	}
	return list, nil
}

// Rematch recomputes the voice of id under new preferences. Traits are left
// untouched.
func (s *Service) Rematch(ctx context.Context, id string, prefs personality.Preferences) (*personality.Personality, voicematch.Selection, error) {
	if err := prefs.Validate(); err != nil {
		return nil, voicematch.Selection{}, fmt.Errorf("onboarding: %w", err)
	}
	ctx = observe.WithEntity(ctx, id)
	p, err := s.Get(ctx, id)
	if err != nil {
		return nil, voicematch.Selection{}, err
	}

	sel := s.matcher.Select(p.Traits, p.Narrative, prefs)
	if err := s.store.UpdateVoice(ctx, id, sel.Stored(), prefs); err != nil {
		return nil, voicematch.Selection{}, fmt.Errorf("onboarding: rematch %q: %w", id, err)
	}
	p.Voice = sel.Stored()
	p.Preferences = prefs

	observe.Logger(ctx).Info("onboarding: voice rematched", "voice", sel.Entry.Code)
	return p, sel, nil
}

// Similar returns personalities whose traits are closest to id's. A
// non-positive limit means [DefaultSimilarLimit]; limits above
// [MaxSimilarLimit] are capped.
func (s *Service) Similar(ctx context.Context, id string, limit int) ([]personality.Neighbor, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	switch {
	case limit <= 0:
		limit = DefaultSimilarLimit
	case limit > MaxSimilarLimit:
		limit = MaxSimilarLimit
	}
	neighbors, err := s.store.Similar(ctx, id, limit)
	if err != nil {
		return nil, fmt.Errorf("onboarding: similar %q: %w", id, err)
	}
	return neighbors, nil
}
