package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cafechat/internal/prefs"
	"cafechat/internal/rest"
	"cafechat/pkg/events"
	"cafechat/pkg/logger"
)

func seedMessages(store *Store, key string) {
	store.Patch(key, func(s *Session) {
		s.Messages = []Message{
			{ID: "6", ChatID: 6, SenderName: "bob", OthersUnreadUsers: 2},
			{ID: "7", ChatID: 7, SenderName: "alice", IsMine: true, OthersUnreadUsers: 2},
			{ID: "8", ChatID: 8, SenderName: "bob", OthersUnreadUsers: 2},
		}
		s.History = []Message{
			{ID: "5", ChatID: 5, SenderName: "bob", OthersUnreadUsers: 2},
			{ID: "4", ChatID: 4, SenderName: "alice", IsMine: true, OthersUnreadUsers: 2},
			{ID: "3", ChatID: 3, SenderName: "bob", OthersUnreadUsers: 1},
		}
	})
}

func TestReceiptMonotonicity(t *testing.T) {
	store := NewStore()
	key := newCafeSession(t, store, "42")
	seedMessages(store, key)
	tracker := NewReadTracker(store, nil, nil, nil, logger.NewNop())

	tracker.ApplyReceipt(key, ReadReceipt{ReaderID: "A", LastReadChatID: 5})
	tracker.ApplyReceipt(key, ReadReceipt{ReaderID: "A", LastReadChatID: 3}) // stale, ignored
	tracker.ApplyReceipt(key, ReadReceipt{ReaderID: "A", LastReadChatID: 8})

	sess, _ := store.Get(key)
	// (0,5] decremented once, then (5,8] decremented once.
	assert.Equal(t, 1, sess.Messages[0].OthersUnreadUsers) // id 6
	assert.Equal(t, 1, sess.Messages[1].OthersUnreadUsers) // id 7
	assert.Equal(t, 1, sess.Messages[2].OthersUnreadUsers) // id 8
	assert.Equal(t, 1, sess.History[0].OthersUnreadUsers)  // id 5
	assert.Equal(t, 1, sess.History[1].OthersUnreadUsers)  // id 4
	assert.Equal(t, 0, sess.History[2].OthersUnreadUsers)  // id 3, floored
}

func TestReceiptsTrackReadersIndependently(t *testing.T) {
	store := NewStore()
	key := newCafeSession(t, store, "42")
	seedMessages(store, key)
	tracker := NewReadTracker(store, nil, nil, nil, logger.NewNop())

	tracker.ApplyReceipt(key, ReadReceipt{ReaderID: "A", LastReadChatID: 8})
	tracker.ApplyReceipt(key, ReadReceipt{ReaderID: "B", LastReadChatID: 8})

	sess, _ := store.Get(key)
	assert.Equal(t, 0, sess.Messages[0].OthersUnreadUsers)
}

func TestMarkAsReadDecrementsOthersMessages(t *testing.T) {
	store := NewStore()
	key := newCafeSession(t, store, "42")
	seedMessages(store, key)

	var markedID atomic.Int64
	api := newTestAPI(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.True(t, strings.HasSuffix(r.URL.Path, "/read-status"))
		var body struct {
			LastReadChatID int64 `json:"lastReadChatId"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		markedID.Store(body.LastReadChatID)
		w.WriteHeader(http.StatusOK)
	}))

	bus := events.NewBus()
	var readEvents []events.Event
	bus.Subscribe(context.Background(), events.ChannelPrefixRoomRead+"42", func(_ context.Context, ev events.Event) error {
		readEvents = append(readEvents, ev)
		return nil
	})

	tracker := NewReadTracker(store, api, bus, nil, logger.NewNop())
	require.NoError(t, tracker.MarkAsRead(context.Background(), key))

	assert.Equal(t, int64(8), markedID.Load())

	sess, _ := store.Get(key)
	assert.Equal(t, 1, sess.Messages[0].OthersUnreadUsers) // bob's, decremented
	assert.Equal(t, 2, sess.Messages[1].OthersUnreadUsers) // mine, untouched
	assert.Equal(t, 1, sess.Messages[2].OthersUnreadUsers)
	assert.Equal(t, 0, sess.History[2].OthersUnreadUsers) // floored at zero

	require.Len(t, readEvents, 1)
	assert.Equal(t, events.EventTypeRoomMarkedRead, readEvents[0].Type)
}

func TestMarkAsReadNoOpsOnEmptyRoom(t *testing.T) {
	store := NewStore()
	key := newCafeSession(t, store, "42")
	calls := 0
	api := newTestAPI(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
	}))
	tracker := NewReadTracker(store, api, nil, nil, logger.NewNop())

	require.NoError(t, tracker.MarkAsRead(context.Background(), key))
	assert.Zero(t, calls)
}

func TestDebounceCollapsesBursts(t *testing.T) {
	store := NewStore()
	newCafeSession(t, store, "42")

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/read-latest") {
			calls.Add(1)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()
	api := rest.NewClient(server.URL, func() string { return "t" }, logger.NewNop())

	tracker := NewReadTracker(store, api, nil, nil, logger.NewNop())
	tracker.debounce = 30 * time.Millisecond

	for i := 0; i < 10; i++ {
		tracker.ScheduleReadLatest("42")
	}

	assert.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 10*time.Millisecond)
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
}

func TestReadLatest404IsTolerated(t *testing.T) {
	store := NewStore()
	newCafeSession(t, store, "42")
	var mu sync.Mutex
	hit := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		hit = true
		mu.Unlock()
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	tracker := NewReadTracker(store, rest.NewClient(server.URL, func() string { return "t" }, logger.NewNop()), nil, nil, logger.NewNop())
	tracker.debounce = 10 * time.Millisecond
	tracker.ScheduleReadLatest("42")

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return hit
	}, time.Second, 5*time.Millisecond)
}

func TestCancelPendingStopsTimer(t *testing.T) {
	store := NewStore()
	newCafeSession(t, store, "42")
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
	}))
	defer server.Close()

	tracker := NewReadTracker(store, rest.NewClient(server.URL, func() string { return "t" }, logger.NewNop()), nil, nil, logger.NewNop())
	tracker.debounce = 30 * time.Millisecond
	tracker.ScheduleReadLatest("42")
	tracker.CancelPending("42")

	time.Sleep(80 * time.Millisecond)
	assert.Zero(t, calls.Load())
}

func TestToggleMuteIsOptimisticAndIdempotent(t *testing.T) {
	store := NewStore()
	key := newCafeSession(t, store, "42")
	prefStore := prefs.NewStore(filepath.Join(t.TempDir(), "prefs.json"))

	// Server rejects every mute sync; the local flip must stick anyway.
	api := newTestAPI(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	tracker := NewReadTracker(store, api, nil, prefStore, logger.NewNop())

	assert.True(t, tracker.ToggleMute(context.Background(), key))
	assert.True(t, prefStore.Muted(prefs.ScopeCafe, "42"))

	assert.False(t, tracker.ToggleMute(context.Background(), key))
	assert.False(t, prefStore.Muted(prefs.ScopeCafe, "42"))

	sess, _ := store.Get(key)
	assert.False(t, sess.IsMuted)
}
