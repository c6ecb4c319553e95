package chat

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"cafechat/internal/prefs"
	"cafechat/internal/rest"
	"cafechat/pkg/cherrors"
	"cafechat/pkg/events"
	"cafechat/pkg/logger"
)

// ReadDebounce collapses bursts of inbound messages into a single
// read-latest call per room.
const ReadDebounce = 400 * time.Millisecond

// ReadTracker coordinates read state in both directions: it emits the
// local user's read position and consumes other participants' receipts to
// decrement per-message unread counts. It also owns the per-room mute
// flag.
type ReadTracker struct {
	store *Store
	api   *rest.Client
	bus   *events.Bus
	prefs *prefs.Store
	log   *logger.Logger

	mu     sync.Mutex
	timers map[string]*time.Timer      // roomID -> pending read-latest
	marks  map[string]map[string]int64 // sessionKey -> readerID -> high-water mark

	debounce time.Duration
}

func NewReadTracker(store *Store, api *rest.Client, bus *events.Bus, prefStore *prefs.Store, log *logger.Logger) *ReadTracker {
	if log == nil {
		log = logger.NewNop()
	}
	return &ReadTracker{
		store:    store,
		api:      api,
		bus:      bus,
		prefs:    prefStore,
		log:      log,
		timers:   make(map[string]*time.Timer),
		marks:    make(map[string]map[string]int64),
		debounce: ReadDebounce,
	}
}

// ScheduleReadLatest (re)arms the per-room debounce timer. When it fires,
// the room is marked read up to its newest message. A burst of inbound
// messages inside the window results in exactly one call.
func (t *ReadTracker) ScheduleReadLatest(roomID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if timer, ok := t.timers[roomID]; ok {
		timer.Stop()
	}
	t.timers[roomID] = time.AfterFunc(t.debounce, func() {
		t.mu.Lock()
		delete(t.timers, roomID)
		t.mu.Unlock()
		t.fireReadLatest(roomID)
	})
}

// CancelPending stops any armed read-latest timer for the room, used on
// room close.
func (t *ReadTracker) CancelPending(roomID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if timer, ok := t.timers[roomID]; ok {
		timer.Stop()
		delete(t.timers, roomID)
	}
}

func (t *ReadTracker) fireReadLatest(roomID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := t.api.ReadLatest(ctx, roomID)
	if err == nil {
		return
	}
	// 404 means the deployment does not ship the route; read tracking is
	// best-effort, so everything else is only worth a warning.
	if errors.Is(err, cherrors.ErrNotFound) {
		return
	}
	t.log.Warnf("read: read-latest for room %s failed: %v", roomID, err)
}

// MarkAsRead marks the newest known message (across live and history
// lists) as read on the server, then decrements the unread count of every
// older message authored by someone else.
func (t *ReadTracker) MarkAsRead(ctx context.Context, sessionKey string) error {
	sess, ok := t.store.Get(sessionKey)
	if !ok {
		return cherrors.ErrSessionMissing
	}
	if sess.RoomID == "" {
		return cherrors.ErrNoActiveRoom
	}

	merged := make([]Message, 0, len(sess.Messages)+len(sess.History))
	merged = append(merged, sess.Messages...)
	merged = append(merged, sess.History...)
	if len(merged) == 0 {
		return nil
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].ChatID < merged[j].ChatID })
	newest := merged[len(merged)-1].ChatID

	if err := t.api.MarkRead(ctx, sess.RoomID, newest); err != nil {
		t.log.Warnf("read: mark-read for room %s failed: %v", sess.RoomID, err)
		return err
	}

	t.store.Patch(sessionKey, func(s *Session) {
		decrementUpTo(s.Messages, 0, newest, true)
		decrementUpTo(s.History, 0, newest, true)
	})

	if t.bus != nil {
		_ = t.bus.Publish(ctx, events.ChannelPrefixRoomRead+sess.RoomID, events.Event{
			Type:    events.EventTypeRoomMarkedRead,
			Payload: newest,
		})
	}
	return nil
}

// ApplyReceipt consumes one inbound read receipt. Receipts at or below the
// reader's previously-seen mark are ignored; a strictly-higher receipt
// decrements the unread count of every message in (prevMark, lastRead].
func (t *ReadTracker) ApplyReceipt(sessionKey string, receipt ReadReceipt) {
	t.mu.Lock()
	readerMarks, ok := t.marks[sessionKey]
	if !ok {
		readerMarks = make(map[string]int64)
		t.marks[sessionKey] = readerMarks
	}
	prev := readerMarks[receipt.ReaderID]
	if receipt.LastReadChatID <= prev {
		t.mu.Unlock()
		return
	}
	readerMarks[receipt.ReaderID] = receipt.LastReadChatID
	t.mu.Unlock()

	t.store.Patch(sessionKey, func(s *Session) {
		decrementUpTo(s.Messages, prev, receipt.LastReadChatID, false)
		decrementUpTo(s.History, prev, receipt.LastReadChatID, false)
	})
}

// ForgetMarks drops the high-water marks for a session, used when the
// session is reset.
func (t *ReadTracker) ForgetMarks(sessionKey string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.marks, sessionKey)
}

// ToggleMute flips the room's mute flag. The flip is committed locally and
// persisted to the preference store first; the server update is
// best-effort and a failure does not roll the flag back.
func (t *ReadTracker) ToggleMute(ctx context.Context, sessionKey string) bool {
	var muted bool
	var roomID string
	var scope prefs.Scope
	t.store.Patch(sessionKey, func(s *Session) {
		s.IsMuted = !s.IsMuted
		muted = s.IsMuted
		roomID = s.RoomID
		scope = prefs.ScopeCafe
		if s.Kind == KindDirect {
			scope = prefs.ScopeDirect
		}
	})
	if roomID == "" {
		return muted
	}

	if t.prefs != nil {
		if err := t.prefs.SetMuted(scope, roomID, muted); err != nil {
			t.log.Warnf("mute: persisting preference for room %s failed: %v", roomID, err)
		}
	}
	if err := t.api.SetMuted(ctx, roomID, muted); err != nil {
		t.log.Warnf("mute: server sync for room %s failed: %v", roomID, err)
	}
	return muted
}

// decrementUpTo lowers OthersUnreadUsers by one, floored at zero, for
// every message with id in (after, upTo]. With othersOnly the caller's own
// messages are skipped.
func decrementUpTo(list []Message, after, upTo int64, othersOnly bool) {
	for i := range list {
		id := list[i].ChatID
		if id <= after || id > upTo {
			continue
		}
		if othersOnly && list[i].IsMine {
			continue
		}
		if list[i].OthersUnreadUsers > 0 {
			list[i].OthersUnreadUsers--
		}
	}
}
