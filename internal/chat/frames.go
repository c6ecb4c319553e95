package chat

import (
	"encoding/json"
	"strconv"

	"cafechat/internal/rest"
)

// ChatFrame is the wire shape of one live message frame.
type ChatFrame struct {
	ChatID         int64        `json:"chatId"`
	RoomID         int64        `json:"roomId"`
	Message        string       `json:"message"`
	SenderNickname string       `json:"senderNickname"`
	TimeLabel      string       `json:"timeLabel"`
	Mine           bool         `json:"mine"`
	MessageType    string       `json:"messageType"`
	CreatedAt      string       `json:"createdAt"`
	Images         []rest.Image `json:"images,omitempty"`

	// Optional on the wire; zero when the broker omits it.
	OthersUnreadUsers int `json:"othersUnreadUsers"`
}

// ReadReceipt is the wire shape of one read-receipt frame.
type ReadReceipt struct {
	ReaderID       string `json:"readerId"`
	LastReadChatID int64  `json:"lastReadChatId"`
}

// FrameKind tags a classified inbound frame.
type FrameKind int

const (
	FrameUnknown FrameKind = iota
	FrameText
	FrameSystem
	FrameReadReceipt
)

// Inbound is the parse-then-validate result for one broker frame. Exactly
// one of Chat or Receipt is meaningful, per Kind.
type Inbound struct {
	Kind    FrameKind
	Chat    ChatFrame
	Receipt ReadReceipt
}

// ParseChatFrame decodes and classifies a frame from the room message
// channel. Unparsable payloads come back as FrameUnknown.
func ParseChatFrame(data []byte) Inbound {
	var frame ChatFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return Inbound{Kind: FrameUnknown}
	}
	if frame.ChatID == 0 && frame.Message == "" {
		return Inbound{Kind: FrameUnknown}
	}
	kind := FrameText
	if IsSystemType(frame.MessageType) {
		kind = FrameSystem
	}
	return Inbound{Kind: kind, Chat: frame}
}

// ParseReadReceipt decodes a frame from the read channel. Frames missing
// either required field are rejected as FrameUnknown.
func ParseReadReceipt(data []byte) Inbound {
	var raw struct {
		ReaderID       *string `json:"readerId"`
		LastReadChatID *int64  `json:"lastReadChatId"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return Inbound{Kind: FrameUnknown}
	}
	if raw.ReaderID == nil || *raw.ReaderID == "" || raw.LastReadChatID == nil {
		return Inbound{Kind: FrameUnknown}
	}
	return Inbound{
		Kind:    FrameReadReceipt,
		Receipt: ReadReceipt{ReaderID: *raw.ReaderID, LastReadChatID: *raw.LastReadChatID},
	}
}

// messageFromFrame converts a live frame into a session Message. Authorship
// is resolved by the reconciler, not here.
func messageFromFrame(f ChatFrame) Message {
	return Message{
		ID:                strconv.FormatInt(f.ChatID, 10),
		ChatID:            f.ChatID,
		SenderName:        f.SenderNickname,
		Content:           f.Message,
		MessageType:       f.MessageType,
		Images:            f.Images,
		TimeLabel:         f.TimeLabel,
		OthersUnreadUsers: f.OthersUnreadUsers,
		CreatedAt:         f.CreatedAt,
	}
}
