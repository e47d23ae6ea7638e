package interactive

import (
	"sort"
	"sync"

	"github.com/small-frappuccino/kokobot/pkg/errors"
)

// Registry maps message ids to live sessions. It is the only place sessions
// are mutated; its lock is never held across platform calls.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Register inserts s. A second registration for the same message fails with
// errors.ErrDuplicateSession; re-renders go through UpdateInPlace.
func (r *Registry) Register(s *Session) error {
	if err := s.validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[s.ID]; ok {
		return errors.ErrDuplicateSession
	}
	cp := s.clone()
	r.sessions[s.ID] = &cp
	return nil
}

// Get returns a copy of the session for id.
func (r *Registry) Get(id string) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return Session{}, false
	}
	return s.clone(), true
}

// UpdateInPlace applies fn to the live session and returns a copy of the
// result. If fn fails the error is returned; fn must leave the session
// unchanged in that case.
func (r *Registry) UpdateInPlace(id string, fn func(*Session) error) (Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return Session{}, errors.ErrSessionNotFound
	}
	if err := fn(s); err != nil {
		return Session{}, err
	}
	return s.clone(), nil
}

// Remove deregisters id and returns what was there. Removing an absent id is a no-op.
func (r *Registry) Remove(id string) (Session, bool) {
	return r.RemoveIf(id, nil)
}

// RemoveIf deregisters id only when pred accepts the live session.
func (r *Registry) RemoveIf(id string, pred func(*Session) bool) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return Session{}, false
	}
	if pred != nil && !pred(s) {
		return Session{}, false
	}
	delete(r.sessions, id)
	return s.clone(), true
}

// List returns copies of all sessions ordered by creation time.
func (r *Registry) List() []Session {
	r.mu.Lock()
	out := make([]Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s.clone())
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
