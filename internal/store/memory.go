// internal/store/memory.go
//
// Session Store: the client's single source of truth for who is signed in and
// which game session is active.
//
// Characteristics:
//   - Holds the bearer token, the identity Profile, and the Session snapshot.
//   - No game logic: get, set, invalidate. The Round Controller is the only
//     writer of the session snapshot.
//   - Concurrency-safe via RWMutex (concurrent reads allowed, writes exclusive).
//   - Observers are notified after every change with the kind of change.

package store

import (
	"sync"

	"github.com/robalobadob/photoguess/internal/game"
)

// Change identifies what part of the store was written.
type Change int

const (
	ChangeCredential Change = iota + 1
	ChangeSession
	ChangeInvalidated
)

// Store is the in-memory session store.
type Store struct {
	mu        sync.RWMutex
	token     string
	identity  *game.Profile
	session   *game.Session
	observers []func(Change)
}

// New constructs an empty Store.
func New() *Store { return &Store{} }

// Observe registers fn to be called after every change. Observers must not
// write back into the store.
func (s *Store) Observe(fn func(Change)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, fn)
}

func (s *Store) notify(c Change) {
	s.mu.RLock()
	obs := append([]func(Change){}, s.observers...)
	s.mu.RUnlock()
	for _, fn := range obs {
		fn(c)
	}
}

// Token returns the bearer token or "" when signed out.
func (s *Store) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// Identity returns a copy of the signed-in profile, or nil.
func (s *Store) Identity() *game.Profile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.identity == nil {
		return nil
	}
	p := *s.identity
	return &p
}

// SetCredential stores the token and (optionally) the profile it belongs to.
func (s *Store) SetCredential(token string, p *game.Profile) {
	s.mu.Lock()
	s.token = token
	if p != nil {
		cp := *p
		s.identity = &cp
	}
	s.mu.Unlock()
	s.notify(ChangeCredential)
}

// Session returns a copy of the active session snapshot, or nil.
func (s *Store) Session() *game.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.session == nil {
		return nil
	}
	cp := *s.session
	return &cp
}

// SetSession replaces the session snapshot.
func (s *Store) SetSession(sess game.Session) {
	s.mu.Lock()
	s.session = &sess
	s.mu.Unlock()
	s.notify(ChangeSession)
}

// ClearSession drops the session snapshot.
func (s *Store) ClearSession() {
	s.mu.Lock()
	s.session = nil
	s.mu.Unlock()
	s.notify(ChangeSession)
}

// Invalidate forgets token, identity and session.
func (s *Store) Invalidate() {
	s.mu.Lock()
	s.token = ""
	s.identity = nil
	s.session = nil
	s.mu.Unlock()
	s.notify(ChangeInvalidated)
}
