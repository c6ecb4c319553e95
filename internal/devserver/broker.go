package devserver

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"cafechat/internal/stomp"
	"cafechat/pkg/logger"
)

// Broker is a minimal STOMP broker speaking the client's destination
// contract: /sub/rooms/{id}, /sub/rooms/{id}/read,
// /user/queue/notifications, and /pub/rooms/{id}.
type Broker struct {
	auth *Auth
	repo HistoryRepo
	log  *logger.Logger

	upgrader websocket.Upgrader

	mu    sync.RWMutex
	conns map[*brokerConn]struct{}
	subs  map[string]map[*brokerConn]string // destination -> conn -> subscription id
}

type brokerConn struct {
	ws       *websocket.Conn
	nickname string
	writeMu  sync.Mutex
}

func NewBroker(auth *Auth, repo HistoryRepo, log *logger.Logger) *Broker {
	if log == nil {
		log = logger.NewNop()
	}
	return &Broker{
		auth: auth,
		repo: repo,
		log:  log,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		conns: make(map[*brokerConn]struct{}),
		subs:  make(map[string]map[*brokerConn]string),
	}
}

// Handle upgrades the request and runs the connection's frame loop.
func (b *Broker) Handle(w http.ResponseWriter, r *http.Request) {
	ws, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.log.Warnf("broker: upgrade failed: %v", err)
		return
	}
	conn := &brokerConn{ws: ws}

	b.mu.Lock()
	b.conns[conn] = struct{}{}
	b.mu.Unlock()

	defer b.drop(conn)

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		frame, err := stomp.Parse(data)
		if err != nil {
			b.log.Warnf("broker: malformed frame: %v", err)
			continue
		}
		if frame == nil {
			continue // heartbeat
		}
		if !b.handleFrame(conn, frame) {
			return
		}
	}
}

func (b *Broker) handleFrame(conn *brokerConn, frame *stomp.Frame) bool {
	switch frame.Command {
	case stomp.CmdConnect:
		token := strings.TrimPrefix(frame.Header("Authorization"), "Bearer ")
		nickname, err := b.auth.Verify(token)
		if err != nil {
			errFrame := stomp.NewFrame(stomp.CmdError)
			errFrame.Headers[stomp.HdrMessage] = "unauthorized"
			b.write(conn, errFrame)
			return false
		}
		conn.nickname = nickname

		connected := stomp.NewFrame(stomp.CmdConnected)
		connected.Headers["version"] = "1.2"
		connected.Headers[stomp.HdrHeartBeat] = "0,0"
		b.write(conn, connected)

	case stomp.CmdSubscribe:
		dest := frame.Header(stomp.HdrDestination)
		id := frame.Header(stomp.HdrID)
		if dest == "" || id == "" || conn.nickname == "" {
			return true
		}
		b.mu.Lock()
		if _, ok := b.subs[dest]; !ok {
			b.subs[dest] = make(map[*brokerConn]string)
		}
		b.subs[dest][conn] = id
		b.mu.Unlock()

		if roomID, ok := roomFromDestination(dest); ok {
			b.emitSystem(roomID, conn.nickname+" joined the room", "SYSTEM_JOIN")
		}

	case stomp.CmdUnsubscribe:
		id := frame.Header(stomp.HdrID)
		var leftRoom int64 = -1
		b.mu.Lock()
		for dest, conns := range b.subs {
			if conns[conn] == id {
				delete(conns, conn)
				if len(conns) == 0 {
					delete(b.subs, dest)
				}
				if roomID, ok := roomFromDestination(dest); ok {
					leftRoom = roomID
				}
				break
			}
		}
		b.mu.Unlock()
		if leftRoom >= 0 && conn.nickname != "" {
			b.emitSystem(leftRoom, conn.nickname+" left the room", "SYSTEM_LEAVE")
		}

	case stomp.CmdSend:
		b.handleSend(conn, frame)

	case stomp.CmdDisconnect:
		return false
	}
	return true
}

func (b *Broker) handleSend(conn *brokerConn, frame *stomp.Frame) {
	dest := frame.Header(stomp.HdrDestination)
	if !strings.HasPrefix(dest, "/pub/rooms/") || conn.nickname == "" {
		return
	}
	roomID, err := strconv.ParseInt(strings.TrimPrefix(dest, "/pub/rooms/"), 10, 64)
	if err != nil {
		return
	}

	var payload struct {
		Message string `json:"message"`
		RoomID  int64  `json:"roomId"`
	}
	if err := json.Unmarshal(frame.Body, &payload); err != nil || payload.Message == "" {
		return
	}

	now := time.Now()
	chatID, err := b.repo.Append(context.Background(), StoredMessage{
		RoomID:      roomID,
		Sender:      conn.nickname,
		Content:     payload.Message,
		MessageType: "TEXT",
		CreatedAt:   now,
	})
	if err != nil {
		b.log.Errorf("broker: persisting message failed: %v", err)
		return
	}

	b.broadcastChat(roomID, chatID, conn.nickname, payload.Message, "TEXT", now)
}

// emitSystem persists and broadcasts a join/leave notice.
func (b *Broker) emitSystem(roomID int64, text, messageType string) {
	now := time.Now()
	chatID, err := b.repo.Append(context.Background(), StoredMessage{
		RoomID:      roomID,
		Sender:      "system",
		Content:     text,
		MessageType: messageType,
		CreatedAt:   now,
	})
	if err != nil {
		b.log.Errorf("broker: persisting system message failed: %v", err)
		return
	}
	b.broadcastChat(roomID, chatID, "system", text, messageType, now)
}

// broadcastChat fans a chat frame out to the room's subscribers. The mine
// flag is personalized per receiving connection.
func (b *Broker) broadcastChat(roomID, chatID int64, sender, content, messageType string, at time.Time) {
	dest := "/sub/rooms/" + strconv.FormatInt(roomID, 10)

	b.mu.RLock()
	targets := make(map[*brokerConn]string, len(b.subs[dest]))
	for conn, subID := range b.subs[dest] {
		targets[conn] = subID
	}
	b.mu.RUnlock()

	for conn, subID := range targets {
		body, err := json.Marshal(map[string]interface{}{
			"chatId":         chatID,
			"roomId":         roomID,
			"message":        content,
			"senderNickname": sender,
			"timeLabel":      timeLabel(at),
			"mine":           conn.nickname == sender,
			"messageType":    messageType,
			"createdAt":      at.Format(time.RFC3339),
		})
		if err != nil {
			continue
		}
		b.deliver(conn, subID, dest, body)
	}
}

// PublishReceipt fans a read receipt out on the room's read channel.
func (b *Broker) PublishReceipt(roomID int64, readerID string, lastReadChatID int64) {
	dest := "/sub/rooms/" + strconv.FormatInt(roomID, 10) + "/read"
	body, err := json.Marshal(map[string]interface{}{
		"readerId":       readerID,
		"lastReadChatId": lastReadChatID,
	})
	if err != nil {
		return
	}

	b.mu.RLock()
	targets := make(map[*brokerConn]string, len(b.subs[dest]))
	for conn, subID := range b.subs[dest] {
		targets[conn] = subID
	}
	b.mu.RUnlock()

	for conn, subID := range targets {
		b.deliver(conn, subID, dest, body)
	}
}

// Notify pushes a payload to a user's personal notification queue.
func (b *Broker) Notify(nickname string, payload []byte) {
	const dest = "/user/queue/notifications"

	b.mu.RLock()
	targets := make(map[*brokerConn]string)
	for conn, subID := range b.subs[dest] {
		if conn.nickname == nickname {
			targets[conn] = subID
		}
	}
	b.mu.RUnlock()

	for conn, subID := range targets {
		b.deliver(conn, subID, dest, payload)
	}
}

// Subscribers lists the nicknames currently subscribed to a room.
func (b *Broker) Subscribers(roomID int64) []string {
	dest := "/sub/rooms/" + strconv.FormatInt(roomID, 10)

	b.mu.RLock()
	defer b.mu.RUnlock()
	seen := make(map[string]struct{})
	out := make([]string, 0, len(b.subs[dest]))
	for conn := range b.subs[dest] {
		if _, ok := seen[conn.nickname]; ok || conn.nickname == "" {
			continue
		}
		seen[conn.nickname] = struct{}{}
		out = append(out, conn.nickname)
	}
	return out
}

func (b *Broker) deliver(conn *brokerConn, subID, dest string, body []byte) {
	frame := stomp.NewFrame(stomp.CmdMessage)
	frame.Headers[stomp.HdrSubscription] = subID
	frame.Headers[stomp.HdrDestination] = dest
	frame.Headers[stomp.HdrContentType] = "application/json"
	frame.Body = body
	b.write(conn, frame)
}

func (b *Broker) write(conn *brokerConn, frame *stomp.Frame) {
	conn.writeMu.Lock()
	defer conn.writeMu.Unlock()
	_ = conn.ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := conn.ws.WriteMessage(websocket.TextMessage, stomp.Marshal(frame)); err != nil {
		b.log.Debugf("broker: write to %s failed: %v", conn.nickname, err)
	}
}

func (b *Broker) drop(conn *brokerConn) {
	b.mu.Lock()
	delete(b.conns, conn)
	var rooms []int64
	for dest, conns := range b.subs {
		if _, ok := conns[conn]; ok {
			delete(conns, conn)
			if len(conns) == 0 {
				delete(b.subs, dest)
			}
			if roomID, ok := roomFromDestination(dest); ok {
				rooms = append(rooms, roomID)
			}
		}
	}
	b.mu.Unlock()

	_ = conn.ws.Close()
	if conn.nickname != "" {
		for _, roomID := range rooms {
			b.emitSystem(roomID, conn.nickname+" left the room", "SYSTEM_LEAVE")
		}
	}
}

// roomFromDestination extracts the room id from a message-channel
// destination; read channels and queues return false.
func roomFromDestination(dest string) (int64, bool) {
	if !strings.HasPrefix(dest, "/sub/rooms/") {
		return 0, false
	}
	rest := strings.TrimPrefix(dest, "/sub/rooms/")
	if strings.Contains(rest, "/") {
		return 0, false
	}
	id, err := strconv.ParseInt(rest, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}
