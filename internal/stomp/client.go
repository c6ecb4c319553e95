package stomp

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"cafechat/pkg/logger"
)

const (
	writeWait        = 10 * time.Second
	handshakeWait    = 10 * time.Second
	defaultHeartbeat = 10 * time.Second
	defaultReconnect = 5 * time.Second
	maxFrameSize     = 512 * 1024
)

// MessageHandler receives the body of each MESSAGE frame delivered on a
// subscription.
type MessageHandler func(destination string, body []byte)

// Options configures a Client.
type Options struct {
	URL            string
	ConnectHeaders map[string]string // extra CONNECT headers (Authorization, user-name)
	Heartbeat      time.Duration     // outgoing heartbeat interval, default 10s; incoming is disabled
	ReconnectDelay time.Duration     // fixed delay between redial attempts, default 5s
	OnConnect      func()            // called after every successful handshake, including re-dials
	OnDisconnect   func(err error)   // called when an active connection drops unexpectedly
	Logger         *logger.Logger
}

type subscription struct {
	destination string
	handler     MessageHandler
}

// Client is a STOMP 1.2 client over a single WebSocket connection.
// Subscriptions do not survive a reconnect; the owner re-subscribes from
// its OnConnect callback.
type Client struct {
	opts Options
	log  *logger.Logger

	mu         sync.Mutex
	conn       *websocket.Conn
	subs       map[string]subscription
	connected  bool
	closing    bool
	generation int
}

func NewClient(opts Options) *Client {
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = defaultHeartbeat
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = defaultReconnect
	}
	log := opts.Logger
	if log == nil {
		log = logger.NewNop()
	}
	return &Client{
		opts: opts,
		log:  log,
		subs: make(map[string]subscription),
	}
}

// Activate dials the broker and performs the CONNECT handshake. It returns
// once the handshake completes; the read and heartbeat loops run until
// Deactivate. A dropped connection is redialed forever at the configured
// fixed delay.
func (c *Client) Activate(ctx context.Context) error {
	c.mu.Lock()
	if c.connected || c.closing {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}
	c.attach(conn)
	return nil
}

// Connected reports whether the handshake has completed and the connection
// is believed live.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Subscribe sends a SUBSCRIBE frame and registers the handler under a fresh
// subscription id, which is returned for use with Unsubscribe.
func (c *Client) Subscribe(destination string, handler MessageHandler) (string, error) {
	id := uuid.New().String()

	frame := NewFrame(CmdSubscribe)
	frame.Headers[HdrID] = id
	frame.Headers[HdrDestination] = destination
	if err := c.writeFrame(frame); err != nil {
		return "", fmt.Errorf("subscribe %s: %w", destination, err)
	}

	c.mu.Lock()
	c.subs[id] = subscription{destination: destination, handler: handler}
	c.mu.Unlock()
	return id, nil
}

// Unsubscribe removes the handler and sends UNSUBSCRIBE. Safe to call with
// an unknown id.
func (c *Client) Unsubscribe(id string) error {
	c.mu.Lock()
	_, known := c.subs[id]
	delete(c.subs, id)
	c.mu.Unlock()
	if !known {
		return nil
	}

	frame := NewFrame(CmdUnsubscribe)
	frame.Headers[HdrID] = id
	return c.writeFrame(frame)
}

// Send publishes a SEND frame to the destination.
func (c *Client) Send(destination, contentType string, body []byte) error {
	frame := NewFrame(CmdSend)
	frame.Headers[HdrDestination] = destination
	if contentType != "" {
		frame.Headers[HdrContentType] = contentType
	}
	frame.Body = body
	if err := c.writeFrame(frame); err != nil {
		return fmt.Errorf("send to %s: %w", destination, err)
	}
	return nil
}

// Deactivate closes the connection and stops the reconnect loop. Safe to
// call multiple times.
func (c *Client) Deactivate() {
	c.mu.Lock()
	c.closing = true
	c.connected = false
	conn := c.conn
	c.conn = nil
	c.subs = make(map[string]subscription)
	c.mu.Unlock()

	if conn != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		_ = conn.Close()
	}
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeWait}
	conn, _, err := dialer.DialContext(ctx, c.opts.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", c.opts.URL, err)
	}
	conn.SetReadLimit(maxFrameSize)

	connect := NewFrame(CmdConnect)
	connect.Headers[HdrAcceptVersion] = "1.2"
	// Outgoing heartbeat only; incoming disabled.
	connect.Headers[HdrHeartBeat] = fmt.Sprintf("%d,0", c.opts.Heartbeat.Milliseconds())
	for k, v := range c.opts.ConnectHeaders {
		connect.Headers[k] = v
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, Marshal(connect)); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("write CONNECT: %w", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(handshakeWait))
	_, data, err := conn.ReadMessage()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("read CONNECTED: %w", err)
	}
	_ = conn.SetReadDeadline(time.Time{})

	frame, err := Parse(data)
	if err != nil || frame == nil {
		_ = conn.Close()
		return nil, fmt.Errorf("handshake: bad frame: %v", err)
	}
	if frame.Command == CmdError {
		_ = conn.Close()
		return nil, fmt.Errorf("handshake refused: %s", frame.Header(HdrMessage))
	}
	if frame.Command != CmdConnected {
		_ = conn.Close()
		return nil, fmt.Errorf("handshake: unexpected %s frame", frame.Command)
	}
	return conn, nil
}

// attach installs a live connection and starts its loops.
func (c *Client) attach(conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.generation++
	gen := c.generation
	c.mu.Unlock()

	go c.readLoop(conn, gen)
	go c.heartbeatLoop(conn, gen)

	if c.opts.OnConnect != nil {
		c.opts.OnConnect()
	}
}

func (c *Client) readLoop(conn *websocket.Conn, gen int) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.handleDrop(conn, gen, err)
			return
		}

		frame, err := Parse(data)
		if err != nil {
			c.log.Warnf("stomp: dropping malformed frame: %v", err)
			continue
		}
		if frame == nil {
			continue // heartbeat
		}

		switch frame.Command {
		case CmdMessage:
			c.dispatch(frame)
		case CmdError:
			c.log.Errorf("stomp: broker error: %s", frame.Header(HdrMessage))
		default:
			c.log.Debugf("stomp: ignoring %s frame", frame.Command)
		}
	}
}

func (c *Client) dispatch(frame *Frame) {
	subID := frame.Header(HdrSubscription)

	c.mu.Lock()
	sub, ok := c.subs[subID]
	c.mu.Unlock()
	if !ok {
		c.log.Debugf("stomp: message for unknown subscription %q", subID)
		return
	}
	sub.handler(frame.Header(HdrDestination), frame.Body)
}

func (c *Client) heartbeatLoop(conn *websocket.Conn, gen int) {
	ticker := time.NewTicker(c.opts.Heartbeat)
	defer ticker.Stop()

	for range ticker.C {
		c.mu.Lock()
		stale := c.conn != conn || c.generation != gen || c.closing
		c.mu.Unlock()
		if stale {
			return
		}

		c.mu.Lock()
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		err := conn.WriteMessage(websocket.TextMessage, heartbeatFrame)
		c.mu.Unlock()
		if err != nil {
			return // read loop will observe the broken connection
		}
	}
}

// handleDrop reacts to a read failure: clears state, notifies the owner,
// and redials at the fixed delay unless Deactivate was called.
func (c *Client) handleDrop(conn *websocket.Conn, gen int, err error) {
	c.mu.Lock()
	if c.conn != conn || c.generation != gen {
		c.mu.Unlock()
		return // superseded by a newer connection
	}
	closing := c.closing
	c.conn = nil
	c.connected = false
	c.subs = make(map[string]subscription)
	c.mu.Unlock()

	_ = conn.Close()
	if closing {
		return
	}

	c.log.Warnf("stomp: connection dropped: %v", err)
	if c.opts.OnDisconnect != nil {
		c.opts.OnDisconnect(err)
	}

	for {
		time.Sleep(c.opts.ReconnectDelay)

		c.mu.Lock()
		if c.closing {
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()

		next, dialErr := c.dial(context.Background())
		if dialErr != nil {
			c.log.Warnf("stomp: reconnect failed: %v", dialErr)
			continue
		}
		c.attach(next)
		return
	}
}

func (c *Client) writeFrame(frame *Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil || !c.connected {
		return fmt.Errorf("stomp: not connected")
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, Marshal(frame))
}
