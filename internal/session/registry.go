package session

import (
	"sync"

	"chatdock/internal/config"
)

// Factory builds a session for an id. The registry calls it with the lock
// held, so factories must not call back into the registry.
type Factory func(id string, cfg config.Session) *ChatSession

// Registry supervises the live sessions, keyed by id. It is the single source
// of truth for "is this id active": creation registers synchronously, so a
// duplicate start command in the async window is a no-op rather than a second
// concurrent browser page.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*ChatSession
	factory  Factory
}

// NewRegistry creates an empty registry.
func NewRegistry(factory Factory) *Registry {
	return &Registry{
		sessions: make(map[string]*ChatSession),
		factory:  factory,
	}
}

// Create registers a new session for id. Returns nil when the id is already
// active.
func (r *Registry) Create(id string, cfg config.Session) *ChatSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[id]; ok {
		return nil
	}
	s := r.factory(id, cfg)
	r.sessions[id] = s
	return s
}

// Replace registers the reload replacement for id. The old instance has
// already removed itself; if someone re-created the id meanwhile, the reload
// yields and Replace returns nil.
func (r *Registry) Replace(id string, cfg config.Session) *ChatSession {
	return r.Create(id, cfg)
}

// Get looks up the live session for id.
func (r *Registry) Get(id string) (*ChatSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Remove drops id from the registry.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// ForEach visits a snapshot of the live sessions. fn runs without the lock,
// so it may call back into the registry.
func (r *Registry) ForEach(fn func(*ChatSession)) {
	r.mu.Lock()
	snapshot := make([]*ChatSession, 0, len(r.sessions))
	for _, s := range r.sessions {
		snapshot = append(snapshot, s)
	}
	r.mu.Unlock()
	for _, s := range snapshot {
		fn(s)
	}
}

// StopAll force-stops every live session. Used for process shutdown.
func (r *Registry) StopAll() {
	r.ForEach(func(s *ChatSession) {
		s.Stop(true)
	})
}
