package chat

import (
	"strconv"

	"cafechat/internal/rest"
)

// Kind distinguishes the two chat flavors. Café rooms are public and tied
// to a café page; direct rooms are private 1:1 conversations.
type Kind int

const (
	KindCafe Kind = iota
	KindDirect
)

// Message type values carried on the wire.
const (
	TypeText        = "TEXT"
	TypeSystem      = "SYSTEM"
	TypeSystemJoin  = "SYSTEM_JOIN"
	TypeSystemLeave = "SYSTEM_LEAVE"
)

// IsSystemType reports whether a message type is a system notice rather
// than user content.
func IsSystemType(messageType string) bool {
	switch messageType {
	case TypeSystem, TypeSystemJoin, TypeSystemLeave:
		return true
	}
	return false
}

// Message is one chat entry, either delivered live over the socket or
// backfilled from history.
type Message struct {
	ID                string
	ChatID            int64
	SenderName        string
	SenderID          string
	Content           string
	IsMine            bool
	MessageType       string
	Images            []rest.Image
	TimeLabel         string
	OthersUnreadUsers int
	CreatedAt         string
}

// Participant is one roster entry. For café rooms the current user's entry
// is annotated and sorted first.
type Participant struct {
	ID   string
	Name string
	IsMe bool
}

// Session is the client-local state for one open room.
type Session struct {
	Key              string
	Kind             Kind
	RoomID           string // broker topic key; empty before the first join
	IsJoined         bool
	IsLoading        bool
	Error            string
	Participants     []Participant
	Messages         []Message // live socket messages, arrival order
	History          []Message // backfill, strictly descending by chat id
	HasMoreHistory   bool
	IsLoadingHistory bool
	IsMuted          bool
	StompConnected   bool
	ParticipantCount int // direct rooms only
}

// CafeSessionKey returns the arena key for a café room.
func CafeSessionKey(roomID string) string {
	return roomID
}

// DirectSessionKey returns the arena key for a 1:1 room, derived from the
// counterpart so two surfaces opening the same counterpart share a session.
func DirectSessionKey(counterpartID string) string {
	return "dm:" + counterpartID
}

// messageFromHistory converts a persisted history entry into a Message.
func messageFromHistory(h rest.HistoryMessage) Message {
	return Message{
		ID:                strconv.FormatInt(h.ChatID, 10),
		ChatID:            h.ChatID,
		SenderName:        h.SenderNickname,
		Content:           h.Message,
		IsMine:            h.Mine,
		MessageType:       h.MessageType,
		Images:            h.Images,
		TimeLabel:         h.TimeLabel,
		OthersUnreadUsers: h.OthersUnreadUsers,
		CreatedAt:         h.CreatedAt,
	}
}
