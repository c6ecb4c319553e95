package devserver

import (
	"context"
	"sync"
)

// MemoryHistoryRepo keeps messages in process memory. It is the default
// backend when no DATABASE_URL is configured.
type MemoryHistoryRepo struct {
	mu    sync.RWMutex
	rooms map[int64][]StoredMessage
	seq   map[int64]int64
}

func NewMemoryHistoryRepo() *MemoryHistoryRepo {
	return &MemoryHistoryRepo{
		rooms: make(map[int64][]StoredMessage),
		seq:   make(map[int64]int64),
	}
}

func (r *MemoryHistoryRepo) Append(ctx context.Context, msg StoredMessage) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq[msg.RoomID]++
	msg.ChatID = r.seq[msg.RoomID]
	r.rooms[msg.RoomID] = append(r.rooms[msg.RoomID], msg)
	return msg.ChatID, nil
}

func (r *MemoryHistoryRepo) ListBefore(ctx context.Context, roomID, before int64, limit int) ([]StoredMessage, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	all := r.rooms[roomID]
	out := make([]StoredMessage, 0, limit)
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		if before > 0 && all[i].ChatID >= before {
			continue
		}
		out = append(out, all[i])
	}

	hasNext := false
	if len(out) > 0 {
		oldest := out[len(out)-1].ChatID
		for _, m := range all {
			if m.ChatID < oldest {
				hasNext = true
				break
			}
		}
	}
	return out, hasNext, nil
}

func (r *MemoryHistoryRepo) Newest(ctx context.Context, roomID int64) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.seq[roomID], nil
}

// MemoryReadState is the in-process ReadStateStore.
type MemoryReadState struct {
	mu    sync.RWMutex
	marks map[int64]map[string]int64
	muted map[int64]map[string]bool
}

func NewMemoryReadState() *MemoryReadState {
	return &MemoryReadState{
		marks: make(map[int64]map[string]int64),
		muted: make(map[int64]map[string]bool),
	}
}

func (s *MemoryReadState) SetMark(ctx context.Context, roomID int64, user string, lastReadChatID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.marks[roomID]; !ok {
		s.marks[roomID] = make(map[string]int64)
	}
	if lastReadChatID > s.marks[roomID][user] {
		s.marks[roomID][user] = lastReadChatID
	}
	return nil
}

func (s *MemoryReadState) Marks(ctx context.Context, roomID int64) (map[string]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]int64, len(s.marks[roomID]))
	for user, mark := range s.marks[roomID] {
		out[user] = mark
	}
	return out, nil
}

func (s *MemoryReadState) SetMuted(ctx context.Context, roomID int64, user string, muted bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.muted[roomID]; !ok {
		s.muted[roomID] = make(map[string]bool)
	}
	s.muted[roomID][user] = muted
	return nil
}

func (s *MemoryReadState) Muted(ctx context.Context, roomID int64, user string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.muted[roomID][user], nil
}
