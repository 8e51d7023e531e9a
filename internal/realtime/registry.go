package realtime

import (
	"cmp"
	"slices"
	"sync"
	"time"
)

// Info is a snapshot of a live session.
type Info struct {
	ID        string    `json:"id"`
	EntityID  string    `json:"entity_id"`
	State     State     `json:"state"`
	Turns     int       `json:"turns"`
	StartedAt time.Time `json:"started_at"`
}

// Registry tracks live sessions. All methods are safe for concurrent use.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*session
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*session)}
}

func (r *Registry) add(s *session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.id] = s
}

func (r *Registry) remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// List returns a snapshot of every live session, oldest first.
func (r *Registry) List() []Info {
	r.mu.Lock()
	out := make([]Info, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s.info())
	}
	r.mu.Unlock()

	slices.SortFunc(out, func(a, b Info) int {
		return cmp.Or(a.StartedAt.Compare(b.StartedAt), cmp.Compare(a.ID, b.ID))
	})
	return out
}

// CloseAll cancels every live session. Sessions finish their shutdown
// asynchronously and remove themselves.
func (r *Registry) CloseAll(reason string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sessions {
		s.shutdown(reason)
	}
	return len(r.sessions)
}
