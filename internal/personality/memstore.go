package personality

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/MrWong99/soven/internal/fault"
)

// ErrDuplicateID is returned by [MemStore.Create] when the id is taken.
var ErrDuplicateID = errors.New("personality: duplicate id")

// Compile-time assertion that MemStore satisfies the Store interface.
var _ Store = (*MemStore)(nil)

// MemStore is a thread-safe, in-memory implementation of [Store], used when
// no database is configured and in tests. The zero value is ready to use.
type MemStore struct {
	mu    sync.RWMutex
	items map[string]Personality
	now   func() time.Time
}

// NewMemStore returns an initialised [MemStore].
func NewMemStore() *MemStore {
	return &MemStore{items: make(map[string]Personality)}
}

func (s *MemStore) clock() time.Time {
	if s.now != nil {
		return s.now()
	}
	return time.Now().UTC()
}

// Create implements [Store.Create].
func (s *MemStore) Create(_ context.Context, p *Personality) error {
	if err := p.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.items == nil {
		s.items = make(map[string]Personality)
	}
	if _, exists := s.items[p.ID]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateID, p.ID)
	}

	now := s.clock()
	p.CreatedAt, p.UpdatedAt = now, now
	s.items[p.ID] = clonePersonality(*p)
	return nil
}

// Get implements [Store.Get].
func (s *MemStore) Get(_ context.Context, id string) (*Personality, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.items[id]
	if !ok {
		return nil, nil
	}
	out := clonePersonality(p)
	return &out, nil
}

// UpdateVoice implements [Store.UpdateVoice].
func (s *MemStore) UpdateVoice(_ context.Context, id string, sel VoiceSelection, prefs Preferences) error {
	if err := prefs.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.items[id]
	if !ok {
		return fmt.Errorf("personality: %w: %q", fault.ErrProfileNotFound, id)
	}
	p.Voice = sel
	p.Preferences = clonePreferences(prefs)
	p.UpdatedAt = s.clock()
	s.items[id] = p
	return nil
}

// List implements [Store.List].
func (s *MemStore) List(_ context.Context) ([]Personality, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Personality, 0, len(s.items))
	for _, p := range s.items {
		out = append(out, clonePersonality(p))
	}
	slices.SortFunc(out, func(a, b Personality) int {
		return cmp.Or(cmp.Compare(a.Name, b.Name), cmp.Compare(a.ID, b.ID))
	})
	return out, nil
}

// Similar implements [Store.Similar] with a linear scan.
func (s *MemStore) Similar(_ context.Context, id string, limit int) ([]Neighbor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ref, ok := s.items[id]
	if !ok || limit <= 0 {
		return nil, nil
	}
	refVec := ref.Traits.Vector()

	out := make([]Neighbor, 0, len(s.items))
	for _, p := range s.items {
		if p.ID == id {
			continue
		}
		out = append(out, Neighbor{
			ID:       p.ID,
			Name:     p.Name,
			Distance: CosineDistance(refVec, p.Traits.Vector()),
		})
	}
	slices.SortFunc(out, func(a, b Neighbor) int {
		return cmp.Or(cmp.Compare(a.Distance, b.Distance), cmp.Compare(a.ID, b.ID))
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// CosineDistance returns 1 - cos(a, b), matching pgvector's <=> operator.
// Zero vectors are at distance 1 from everything.
func CosineDistance(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range min(len(a), len(b)) {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}

func clonePersonality(p Personality) Personality {
	p.Themes = slices.Clone(p.Themes)
	p.Voice.Voice.Tags = slices.Clone(p.Voice.Voice.Tags)
	p.Preferences = clonePreferences(p.Preferences)
	return p
}

func clonePreferences(p Preferences) Preferences {
	if p.PreferAmerican != nil {
		v := *p.PreferAmerican
		p.PreferAmerican = &v
	}
	return p
}
