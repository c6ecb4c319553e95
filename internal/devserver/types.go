package devserver

import (
	"context"
	"time"
)

// StoredMessage is one persisted chat message.
type StoredMessage struct {
	ChatID      int64
	RoomID      int64
	Sender      string
	Content     string
	MessageType string
	CreatedAt   time.Time
}

// HistoryRepo persists messages and serves descending pages of them.
type HistoryRepo interface {
	// Append stores the message and returns its assigned chat id,
	// monotonically increasing within the room.
	Append(ctx context.Context, msg StoredMessage) (int64, error)
	// ListBefore returns up to limit messages with id strictly below
	// before (0 = newest page), newest first, plus a has-more flag.
	ListBefore(ctx context.Context, roomID, before int64, limit int) ([]StoredMessage, bool, error)
	// Newest returns the highest chat id in the room, 0 when empty.
	Newest(ctx context.Context, roomID int64) (int64, error)
}

// ReadStateStore tracks per-user read watermarks and mute flags.
type ReadStateStore interface {
	SetMark(ctx context.Context, roomID int64, user string, lastReadChatID int64) error
	// Marks returns every known user watermark in the room.
	Marks(ctx context.Context, roomID int64) (map[string]int64, error)
	SetMuted(ctx context.Context, roomID int64, user string, muted bool) error
	Muted(ctx context.Context, roomID int64, user string) (bool, error)
}

// Wire DTOs matching the client contract.

type historyMessageDTO struct {
	ChatID            int64  `json:"chatId"`
	RoomID            int64  `json:"roomId"`
	Message           string `json:"message"`
	SenderNickname    string `json:"senderNickname"`
	TimeLabel         string `json:"timeLabel"`
	Mine              bool   `json:"mine"`
	MessageType       string `json:"messageType"`
	CreatedAt         string `json:"createdAt"`
	OthersUnreadUsers int    `json:"othersUnreadUsers"`
}

type historyPageDTO struct {
	Content []historyMessageDTO `json:"content"`
	HasNext bool                `json:"hasNext"`
}

type participantDTO struct {
	UserID   int64  `json:"userId"`
	Nickname string `json:"nickname"`
	Me       bool   `json:"me"`
}

func timeLabel(t time.Time) string {
	return t.Format("15:04")
}
