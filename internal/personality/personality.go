// Package personality defines the AI companion profile created during
// onboarding and the stores that persist it.
//
// A [Personality] binds an entity id to a name, the user's origin narrative,
// the extracted [Traits] and the voice chosen for it. Traits are fixed once the
// profile is created; only the voice selection may be recomputed.
package personality

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrWong99/soven/internal/fault"
	"github.com/MrWong99/soven/pkg/voice"
)

// Preferences are explicit user choices that steer voice selection.
type Preferences struct {
	// PreferAmerican, when set, overrides accent keywords in the narrative.
	PreferAmerican *bool `json:"prefer_american,omitempty"`

	// ExplicitGender is "M", "F" or empty. When set it takes precedence over
	// pronouns found in the narrative.
	ExplicitGender string `json:"gender,omitempty"`
}

// Validate checks the gender tag.
func (p Preferences) Validate() error {
	switch p.ExplicitGender {
	case voice.GenderFemale, voice.GenderMale, voice.GenderUnspecified:
		return nil
	}
	return fmt.Errorf("personality: %w: gender must be \"M\", \"F\" or empty, got %q", fault.ErrInvalidInput, p.ExplicitGender)
}

// VoiceSelection is the stored outcome of voice matching.
type VoiceSelection struct {
	Voice voice.Entry `json:"voice"`
	Score float64     `json:"score"`
}

// Personality is the persisted companion profile.
type Personality struct {
	// ID is the entity id the appliance connects with.
	ID string `json:"id"`

	// Name is the assigned AI name, also used as the wake word.
	Name string `json:"name"`

	// Narrative is the origin story supplied by the user. Never modified.
	Narrative string `json:"narrative"`

	// Summary is the short psychological summary produced during extraction.
	// Empty when extraction fell back to defaults.
	Summary string `json:"summary"`

	Themes      []string       `json:"themes"`
	Traits      Traits         `json:"traits"`
	Voice       VoiceSelection `json:"voice_selection"`
	Preferences Preferences    `json:"preferences"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks that a personality is fit to be stored.
func (p *Personality) Validate() error {
	var errs []error
	if p.ID == "" {
		errs = append(errs, errors.New("personality: id must not be empty"))
	}
	if p.Name == "" {
		errs = append(errs, errors.New("personality: name must not be empty"))
	}
	if p.Voice.Voice.Code == "" {
		errs = append(errs, errors.New("personality: voice selection must not be empty"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", fault.ErrInvalidInput, errors.Join(errs...))
	}
	if err := p.Traits.Validate(); err != nil {
		return err
	}
	return p.Preferences.Validate()
}

// Neighbor is a personality returned by [Store.Similar] together with its
// cosine distance to the reference traits.
type Neighbor struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Distance float64 `json:"distance"`
}

// Store persists personalities. Implementations must be safe for concurrent use.
type Store interface {
	// Create inserts a new personality. It returns an error if the id exists.
	Create(ctx context.Context, p *Personality) error

	// Get returns the personality with the given id, or (nil, nil) if absent.
	Get(ctx context.Context, id string) (*Personality, error)

	// UpdateVoice replaces the voice selection and preferences of an existing
	// personality. Traits are never touched.
	UpdateVoice(ctx context.Context, id string, sel VoiceSelection, prefs Preferences) error

	// List returns all personalities ordered by name.
	List(ctx context.Context) ([]Personality, error)

	// Similar returns up to limit other personalities ordered by trait-vector
	// cosine distance to the personality id. An unknown id yields no neighbors.
	Similar(ctx context.Context, id string, limit int) ([]Neighbor, error)
}
