package chat

import (
	"context"
	"fmt"

	"cafechat/internal/rest"
	"cafechat/pkg/logger"
)

// HistoryPageSize is the number of messages requested per backfill page.
const HistoryPageSize = 50

// HistoryLoader paginates persisted messages backwards, independent of the
// live socket stream. History grows older-ward: each fetched page is
// appended behind everything already loaded.
type HistoryLoader struct {
	store *Store
	api   *rest.Client
	log   *logger.Logger
}

func NewHistoryLoader(store *Store, api *rest.Client, log *logger.Logger) *HistoryLoader {
	if log == nil {
		log = logger.NewNop()
	}
	return &HistoryLoader{store: store, api: api, log: log}
}

// LoadMore fetches the next older page. It no-ops while a load is in
// flight or when the session has no active room. A fetch failure clears
// all loaded history and the has-more flag; the caller must reopen the
// room to recover.
func (h *HistoryLoader) LoadMore(ctx context.Context, sessionKey string) error {
	var roomID string
	var cursor int64
	started := false
	h.store.Patch(sessionKey, func(s *Session) {
		if s.IsLoadingHistory || s.RoomID == "" {
			return
		}
		s.IsLoadingHistory = true
		started = true
		roomID = s.RoomID
		if n := len(s.History); n > 0 {
			cursor = s.History[n-1].ChatID
		}
	})
	if !started {
		return nil
	}

	page, err := h.api.History(ctx, roomID, cursor, HistoryPageSize)
	if err != nil {
		h.log.Errorf("history: load for room %s failed: %v", roomID, err)
		h.store.Patch(sessionKey, func(s *Session) {
			s.History = nil
			s.HasMoreHistory = false
			s.IsLoadingHistory = false
		})
		return fmt.Errorf("load history: %w", err)
	}

	h.store.Patch(sessionKey, func(s *Session) {
		for _, entry := range page.Content {
			// The cursor bound is exclusive; anything at or past it would
			// break the strictly-descending invariant.
			if cursor > 0 && entry.ChatID >= cursor {
				continue
			}
			s.History = append(s.History, messageFromHistory(entry))
		}
		s.HasMoreHistory = page.HasNext && len(page.Content) >= HistoryPageSize
		s.IsLoadingHistory = false
	})
	return nil
}
