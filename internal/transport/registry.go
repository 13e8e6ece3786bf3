package transport

import (
	"slices"
	"strings"
	"sync"

	"github.com/tkingovr/iochain/api"
)

// Registry tracks the live sessions of a process.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Add records s under its ID.
func (r *Registry) Add(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID()] = s
}

// Remove forgets the session with the given ID.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

// Get returns the live session with the given ID.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Sessions returns the live sessions ordered by open time.
func (r *Registry) Sessions() []*Session {
	r.mu.RLock()
	list := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		list = append(list, s)
	}
	r.mu.RUnlock()

	slices.SortFunc(list, func(a, b *Session) int {
		if c := a.openedAt.Compare(b.openedAt); c != 0 {
			return c
		}
		return strings.Compare(a.id, b.id)
	})
	return list
}

// Infos describes every live session.
func (r *Registry) Infos() []api.SessionInfo {
	sessions := r.Sessions()
	infos := make([]api.SessionInfo, len(sessions))
	for i, s := range sessions {
		infos[i] = s.Info()
	}
	return infos
}

// CloseAll closes every live session.
func (r *Registry) CloseAll() {
	for _, s := range r.Sessions() {
		_ = s.Close()
	}
}
