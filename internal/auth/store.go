package auth

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
)

// Credentials is the persisted shape of the auth state.
type Credentials struct {
	AccessToken string `json:"accessToken"`
	Nickname    string `json:"nickname,omitempty"`
}

// Store holds the bearer credential consumed by the socket handshake and
// the identity resolver. Token issuance happens elsewhere; this store only
// persists what a login flow hands it.
type Store struct {
	mu    sync.RWMutex
	path  string
	creds Credentials
}

// NewStore creates a store backed by the given file. A missing or unreadable
// file yields an empty store; it is created on the first Save.
func NewStore(path string) *Store {
	s := &Store{path: path}
	data, err := os.ReadFile(path)
	if err == nil {
		_ = json.Unmarshal(data, &s.creds)
	}
	return s
}

func (s *Store) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.creds.AccessToken
}

func (s *Store) Nickname() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.creds.Nickname
}

// Save replaces the stored credentials and persists them to disk.
func (s *Store) Save(creds Credentials) error {
	s.mu.Lock()
	s.creds = creds
	s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0o600)
}

// Clear wipes the in-memory credentials and removes the backing file.
func (s *Store) Clear() error {
	s.mu.Lock()
	s.creds = Credentials{}
	s.mu.Unlock()

	err := os.Remove(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
