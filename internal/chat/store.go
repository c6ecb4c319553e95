package chat

import (
	"sync"
)

// Store is the arena of chat sessions, one record per session key. It is
// the single source of truth for session state; callers hold keys, never
// references into the arena, and mutate through Patch.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewStore() *Store {
	return &Store{sessions: make(map[string]*Session)}
}

// Ensure initializes a blank session for the key if none exists and
// returns a snapshot of the record.
func (s *Store) Ensure(key string, kind Kind) Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[key]; !ok {
		s.sessions[key] = &Session{Key: key, Kind: kind}
	}
	return snapshot(s.sessions[key])
}

// Get returns a snapshot of the session, if present.
func (s *Store) Get(key string) (Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[key]
	if !ok {
		return Session{}, false
	}
	return snapshot(sess), true
}

// Patch applies a mutation to the session under the store lock. Unknown
// keys are ignored so late results for closed rooms fall on the floor.
func (s *Store) Patch(key string, mutate func(*Session)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[key]; ok {
		mutate(sess)
	}
}

// Reset reinitializes a session to its blank state, keeping key and kind.
func (s *Store) Reset(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[key]; ok {
		s.sessions[key] = &Session{Key: sess.Key, Kind: sess.Kind}
	}
}

// Remove discards a session entirely.
func (s *Store) Remove(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, key)
}

// Keys lists all live session keys.
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.sessions))
	for k := range s.sessions {
		keys = append(keys, k)
	}
	return keys
}

// PatchAll applies a mutation to every session, used for state that is
// connection-wide but surfaced per session.
func (s *Store) PatchAll(mutate func(*Session)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.sessions {
		mutate(sess)
	}
}

func snapshot(sess *Session) Session {
	out := *sess
	out.Participants = append([]Participant(nil), sess.Participants...)
	out.Messages = append([]Message(nil), sess.Messages...)
	out.History = append([]Message(nil), sess.History...)
	return out
}
