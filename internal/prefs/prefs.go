package prefs

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
)

// Scope separates preference namespaces so a café room and a DM room with
// the same numeric id never collide.
type Scope string

const (
	ScopeCafe   Scope = "cafe"
	ScopeDirect Scope = "direct"
)

// Store persists per-room preferences in a single JSON file. Writes are
// best-effort: a failed flush keeps the in-memory value, which is
// authoritative for the UI.
type Store struct {
	mu    sync.RWMutex
	path  string
	muted map[string]bool
}

func NewStore(path string) *Store {
	s := &Store{path: path, muted: make(map[string]bool)}
	data, err := os.ReadFile(path)
	if err == nil {
		var onDisk struct {
			Muted map[string]bool `json:"muted"`
		}
		if json.Unmarshal(data, &onDisk) == nil && onDisk.Muted != nil {
			s.muted = onDisk.Muted
		}
	}
	return s
}

func key(scope Scope, roomID string) string {
	return string(scope) + ":" + roomID
}

// Muted reports the stored mute flag for a room, defaulting to false.
func (s *Store) Muted(scope Scope, roomID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.muted[key(scope, roomID)]
}

// SetMuted stores the mute flag and flushes to disk.
func (s *Store) SetMuted(scope Scope, roomID string, muted bool) error {
	s.mu.Lock()
	if muted {
		s.muted[key(scope, roomID)] = true
	} else {
		delete(s.muted, key(scope, roomID))
	}
	snapshot := make(map[string]bool, len(s.muted))
	for k, v := range s.muted {
		snapshot[k] = v
	}
	s.mu.Unlock()

	return s.flush(snapshot)
}

func (s *Store) flush(muted map[string]bool) error {
	if s.path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(struct {
		Muted map[string]bool `json:"muted"`
	}{Muted: muted}, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0o600)
}
