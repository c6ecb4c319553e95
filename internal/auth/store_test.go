package auth

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")

	store := NewStore(path)
	assert.Empty(t, store.Token())

	require.NoError(t, store.Save(Credentials{AccessToken: "tok", Nickname: "alice"}))

	reloaded := NewStore(path)
	assert.Equal(t, "tok", reloaded.Token())
	assert.Equal(t, "alice", reloaded.Nickname())
}

func TestClear(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")
	store := NewStore(path)
	require.NoError(t, store.Save(Credentials{AccessToken: "tok"}))

	require.NoError(t, store.Clear())
	assert.Empty(t, store.Token())
	assert.Empty(t, NewStore(path).Token())

	// Clearing twice must not fail on the missing file.
	require.NoError(t, store.Clear())
}
