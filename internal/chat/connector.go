package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"cafechat/internal/stomp"
	"cafechat/pkg/cherrors"
	"cafechat/pkg/logger"
)

// Broker destinations.
const (
	destRoomPrefix    = "/sub/rooms/"
	destReadSuffix    = "/read"
	destPublishPrefix = "/pub/rooms/"
	destNotifications = "/user/queue/notifications"
)

// FrameSink receives classified frames from the room message channel.
type FrameSink func(roomID string, in Inbound)

// ReceiptSink receives validated read receipts from the read channel.
type ReceiptSink func(roomID string, receipt ReadReceipt)

// ConnectorCallbacks wires the connector's inbound traffic to its
// consumers. TextArrived is invoked for non-system frames so the owner can
// schedule a debounced read-latest.
type ConnectorCallbacks struct {
	Frame        FrameSink
	Receipt      ReceiptSink
	TextArrived  func(roomID string)
	Notification func(body []byte)
	Connection   func(connected bool)
}

// Connector owns exactly one broker connection per instance and
// multiplexes room subscriptions over it. At most one room's message+read
// subscription pair is live at a time.
type Connector struct {
	brokerURL string
	token     func() string
	username  func() string
	callbacks ConnectorCallbacks
	log       *logger.Logger

	mu         sync.Mutex
	client     *stomp.Client
	connected  bool
	activeRoom string
	msgSubID   string
	readSubID  string
	notifSubID string
}

func NewConnector(brokerURL string, token, username func() string, callbacks ConnectorCallbacks, log *logger.Logger) *Connector {
	if log == nil {
		log = logger.NewNop()
	}
	return &Connector{
		brokerURL: brokerURL,
		token:     token,
		username:  username,
		callbacks: callbacks,
		log:       log,
	}
}

// Connect establishes the broker connection. Idempotent: a live connection
// is left alone. Failures never propagate; they are logged and reflected
// in the connected flag, leaving the session in its last-known state.
func (c *Connector) Connect(ctx context.Context) {
	c.mu.Lock()
	if c.connected || c.client != nil {
		// Already connected, or the transport's reconnect loop owns the
		// connection; a second client would double-dial.
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	token := c.token()
	if token == "" {
		c.log.Warnf("connector: no access token, staying disconnected")
		c.setConnected(false)
		return
	}

	username := c.username()
	if username == "" {
		username = "anonymous"
	}

	client := stomp.NewClient(stomp.Options{
		URL: c.brokerURL,
		ConnectHeaders: map[string]string{
			"Authorization": "Bearer " + token,
			"user-name":     username,
		},
		OnConnect:    c.onTransportConnect,
		OnDisconnect: c.onTransportDisconnect,
		Logger:       c.log,
	})

	c.mu.Lock()
	c.client = client
	c.mu.Unlock()

	if err := client.Activate(ctx); err != nil {
		c.log.Errorf("connector: connect failed: %v", err)
		c.mu.Lock()
		c.client = nil
		c.mu.Unlock()
		c.setConnected(false)
	}
}

func (c *Connector) onTransportConnect() {
	// The transport does not re-subscribe on reconnect; stale ids from a
	// previous connection must not be reused for UNSUBSCRIBE.
	c.mu.Lock()
	c.connected = true
	c.msgSubID = ""
	c.readSubID = ""
	c.notifSubID = ""
	c.mu.Unlock()
	if c.callbacks.Connection != nil {
		c.callbacks.Connection(true)
	}
}

func (c *Connector) onTransportDisconnect(err error) {
	c.setConnected(false)
}

func (c *Connector) setConnected(connected bool) {
	c.mu.Lock()
	c.connected = connected
	if !connected {
		c.msgSubID = ""
		c.readSubID = ""
		c.notifSubID = ""
	}
	c.mu.Unlock()
	if c.callbacks.Connection != nil {
		c.callbacks.Connection(connected)
	}
}

// Connected reports the transport-level connectivity flag.
func (c *Connector) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// SetActiveRoom records which room the owning surface considers current.
// SubscribeToRoom refuses any other room, which keeps rapid room switches
// from leaking a stale subscription into the new room.
func (c *Connector) SetActiveRoom(roomID string) {
	c.mu.Lock()
	c.activeRoom = roomID
	c.mu.Unlock()
}

// ActiveRoom returns the room currently considered active.
func (c *Connector) ActiveRoom() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activeRoom
}

// SubscribeToRoom subscribes the message and read-receipt channels for the
// room, tearing down any prior pair first.
func (c *Connector) SubscribeToRoom(roomID string) error {
	c.mu.Lock()
	if c.activeRoom != "" && c.activeRoom != roomID {
		active := c.activeRoom
		c.mu.Unlock()
		c.log.Warnf("connector: refusing subscription to room %s while room %s is active", roomID, active)
		return fmt.Errorf("subscribe room %s: %w", roomID, cherrors.ErrRoomMismatch)
	}
	if !c.connected || c.client == nil {
		c.mu.Unlock()
		return cherrors.ErrNotConnected
	}
	client := c.client
	prevMsg, prevRead := c.msgSubID, c.readSubID
	c.mu.Unlock()

	if prevMsg != "" {
		_ = client.Unsubscribe(prevMsg)
	}
	if prevRead != "" {
		_ = client.Unsubscribe(prevRead)
	}

	msgSubID, err := client.Subscribe(destRoomPrefix+roomID, func(_ string, body []byte) {
		c.handleRoomFrame(roomID, body)
	})
	if err != nil {
		return fmt.Errorf("subscribe room %s: %w", roomID, err)
	}

	readSubID, err := client.Subscribe(destRoomPrefix+roomID+destReadSuffix, func(_ string, body []byte) {
		c.handleReadFrame(roomID, body)
	})
	if err != nil {
		_ = client.Unsubscribe(msgSubID)
		return fmt.Errorf("subscribe room %s read channel: %w", roomID, err)
	}

	c.mu.Lock()
	c.msgSubID = msgSubID
	c.readSubID = readSubID
	c.mu.Unlock()
	return nil
}

// SubscribeNotifications subscribes the personal notification queue, used
// by the café-room flow. Idempotent per connection.
func (c *Connector) SubscribeNotifications() error {
	c.mu.Lock()
	if c.notifSubID != "" {
		c.mu.Unlock()
		return nil
	}
	if !c.connected || c.client == nil {
		c.mu.Unlock()
		return cherrors.ErrNotConnected
	}
	client := c.client
	c.mu.Unlock()

	id, err := client.Subscribe(destNotifications, func(_ string, body []byte) {
		if c.callbacks.Notification != nil {
			c.callbacks.Notification(body)
		}
	})
	if err != nil {
		return fmt.Errorf("subscribe notifications: %w", err)
	}

	c.mu.Lock()
	c.notifSubID = id
	c.mu.Unlock()
	return nil
}

func (c *Connector) handleRoomFrame(roomID string, body []byte) {
	in := ParseChatFrame(body)
	if in.Kind == FrameUnknown {
		c.log.Warnf("connector: dropping malformed frame on room %s", roomID)
		return
	}
	if c.callbacks.Frame != nil {
		c.callbacks.Frame(roomID, in)
	}
	if in.Kind == FrameText && c.callbacks.TextArrived != nil {
		c.callbacks.TextArrived(roomID)
	}
}

func (c *Connector) handleReadFrame(roomID string, body []byte) {
	in := ParseReadReceipt(body)
	if in.Kind != FrameReadReceipt {
		// Malformed receipts are dropped without ceremony.
		return
	}
	if c.callbacks.Receipt != nil {
		c.callbacks.Receipt(roomID, in.Receipt)
	}
}

// SendMessage publishes a text message to the room. It silently no-ops
// when disconnected, when no room is given, or when the trimmed content is
// empty. Publish failures propagate so the UI can surface a failed send.
func (c *Connector) SendMessage(roomID, content string) error {
	content = strings.TrimSpace(content)
	c.mu.Lock()
	connected := c.connected
	client := c.client
	c.mu.Unlock()

	if !connected || client == nil || roomID == "" || content == "" {
		return nil
	}

	numericRoom, err := strconv.ParseInt(roomID, 10, 64)
	if err != nil {
		c.log.Warnf("connector: room id %q is not numeric, dropping send", roomID)
		return nil
	}

	payload, err := json.Marshal(struct {
		Message string `json:"message"`
		RoomID  int64  `json:"roomId"`
	}{Message: content, RoomID: numericRoom})
	if err != nil {
		return err
	}

	if err := client.Send(destPublishPrefix+roomID, "application/json", payload); err != nil {
		return fmt.Errorf("%w: %v", cherrors.ErrPublishFailed, err)
	}
	return nil
}

// UnsubscribeRoom tears down the live subscription pair, if any.
func (c *Connector) UnsubscribeRoom() {
	c.mu.Lock()
	client := c.client
	msgSubID, readSubID := c.msgSubID, c.readSubID
	c.msgSubID = ""
	c.readSubID = ""
	c.mu.Unlock()

	if client == nil {
		return
	}
	if msgSubID != "" {
		_ = client.Unsubscribe(msgSubID)
	}
	if readSubID != "" {
		_ = client.Unsubscribe(readSubID)
	}
}

// Disconnect tears down all subscriptions and the connection. Safe to call
// repeatedly.
func (c *Connector) Disconnect() {
	c.UnsubscribeRoom()

	c.mu.Lock()
	client := c.client
	notifSubID := c.notifSubID
	c.client = nil
	c.notifSubID = ""
	c.connected = false
	c.mu.Unlock()

	if client != nil {
		if notifSubID != "" {
			_ = client.Unsubscribe(notifSubID)
		}
		client.Deactivate()
	}
}
