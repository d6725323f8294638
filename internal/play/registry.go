package play

import (
	"sync"
	"time"
)

// Registry keeps one Session per attempt so a reconnecting client finds its draft again.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// GetOrCreate returns the session of an attempt, creating it with newSession when missing.
func (r *Registry) GetOrCreate(attemptID string, newSession func() *Session) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[attemptID]; ok {
		return s
	}

	s := newSession()
	r.sessions[attemptID] = s
	return s
}

func (r *Registry) Get(attemptID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[attemptID]
	return s, ok
}

func (r *Registry) Delete(attemptID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, attemptID)
}

// Prune drops the sessions that are finished or whose attempt ended before cutoff, and returns
// how many it dropped.
func (r *Registry) Prune(cutoff time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for id, s := range r.sessions {
		if s.Outcome() != nil || s.Attempt().EndsAt.Before(cutoff) {
			delete(r.sessions, id)
			n++
		}
	}

	return n
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
