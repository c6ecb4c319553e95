package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cafechat/internal/rest"
	"cafechat/pkg/logger"
)

func newTestAPI(t *testing.T, handler http.Handler) *rest.Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return rest.NewClient(server.URL, func() string { return "test-token" }, logger.NewNop())
}

// historyHandler serves descending pages from newest down to 1.
func historyHandler(t *testing.T, newest int64, pageSize int) http.Handler {
	t.Helper()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		before := newest + 1
		if v := r.URL.Query().Get("beforeChatId"); v != "" {
			parsed, err := strconv.ParseInt(v, 10, 64)
			require.NoError(t, err)
			before = parsed
		}

		content := make([]map[string]interface{}, 0, pageSize)
		for id := before - 1; id >= 1 && len(content) < pageSize; id-- {
			content = append(content, map[string]interface{}{
				"chatId":         id,
				"roomId":         42,
				"message":        fmt.Sprintf("message %d", id),
				"senderNickname": "bob",
				"messageType":    "TEXT",
			})
		}
		hasNext := len(content) > 0 && content[len(content)-1]["chatId"].(int64) > 1

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"data": map[string]interface{}{"content": content, "hasNext": hasNext},
		})
	})
}

func TestLoadMoreFirstPageUsesNoCursor(t *testing.T) {
	store := NewStore()
	key := newCafeSession(t, store, "42")
	api := newTestAPI(t, historyHandler(t, 120, HistoryPageSize))
	loader := NewHistoryLoader(store, api, logger.NewNop())

	require.NoError(t, loader.LoadMore(context.Background(), key))

	sess, _ := store.Get(key)
	require.Len(t, sess.History, HistoryPageSize)
	assert.Equal(t, int64(120), sess.History[0].ChatID)
	assert.Equal(t, int64(71), sess.History[len(sess.History)-1].ChatID)
	assert.True(t, sess.HasMoreHistory)
	assert.False(t, sess.IsLoadingHistory)
}

func TestLoadMoreExtendsStrictlyOlder(t *testing.T) {
	store := NewStore()
	key := newCafeSession(t, store, "42")
	api := newTestAPI(t, historyHandler(t, 120, HistoryPageSize))
	loader := NewHistoryLoader(store, api, logger.NewNop())

	require.NoError(t, loader.LoadMore(context.Background(), key))
	require.NoError(t, loader.LoadMore(context.Background(), key))

	sess, _ := store.Get(key)
	require.Len(t, sess.History, 100)
	for i := 1; i < len(sess.History); i++ {
		assert.Less(t, sess.History[i].ChatID, sess.History[i-1].ChatID)
	}
	assert.Equal(t, int64(21), sess.History[len(sess.History)-1].ChatID)
}

func TestHasMoreFalseOnShortPage(t *testing.T) {
	store := NewStore()
	key := newCafeSession(t, store, "42")
	api := newTestAPI(t, historyHandler(t, 30, HistoryPageSize))
	loader := NewHistoryLoader(store, api, logger.NewNop())

	require.NoError(t, loader.LoadMore(context.Background(), key))

	sess, _ := store.Get(key)
	assert.Len(t, sess.History, 30)
	assert.False(t, sess.HasMoreHistory)
}

func TestLoadMoreFailureFailsClosed(t *testing.T) {
	store := NewStore()
	key := newCafeSession(t, store, "42")
	api := newTestAPI(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	loader := NewHistoryLoader(store, api, logger.NewNop())

	store.Patch(key, func(s *Session) {
		s.History = []Message{{ID: "10", ChatID: 10}}
		s.HasMoreHistory = true
	})

	err := loader.LoadMore(context.Background(), key)
	require.Error(t, err)

	sess, _ := store.Get(key)
	assert.Empty(t, sess.History)
	assert.False(t, sess.HasMoreHistory)
	assert.False(t, sess.IsLoadingHistory)
}

func TestLoadMoreNoOpsWhileInFlight(t *testing.T) {
	store := NewStore()
	key := newCafeSession(t, store, "42")
	calls := 0
	api := newTestAPI(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	loader := NewHistoryLoader(store, api, logger.NewNop())

	store.Patch(key, func(s *Session) { s.IsLoadingHistory = true })
	require.NoError(t, loader.LoadMore(context.Background(), key))
	assert.Zero(t, calls)
}

func TestLoadMoreNoOpsWithoutRoom(t *testing.T) {
	store := NewStore()
	store.Ensure("idle", KindCafe)
	loader := NewHistoryLoader(store, newTestAPI(t, historyHandler(t, 10, HistoryPageSize)), logger.NewNop())

	require.NoError(t, loader.LoadMore(context.Background(), "idle"))

	sess, _ := store.Get("idle")
	assert.Empty(t, sess.History)
}
