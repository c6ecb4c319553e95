package stomp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testBroker accepts one connection, answers CONNECT, and echoes every
// SEND back as a MESSAGE on the first subscription it saw.
type testBroker struct {
	upgrader websocket.Upgrader

	mu          sync.Mutex
	connectHdrs map[string]string
	subID       string
}

func (b *testBroker) handler(w http.ResponseWriter, r *http.Request) {
	ws, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer ws.Close()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		frame, err := Parse(data)
		if err != nil || frame == nil {
			continue
		}
		switch frame.Command {
		case CmdConnect:
			b.mu.Lock()
			b.connectHdrs = frame.Headers
			b.mu.Unlock()
			connected := NewFrame(CmdConnected)
			connected.Headers["version"] = "1.2"
			_ = ws.WriteMessage(websocket.TextMessage, Marshal(connected))
		case CmdSubscribe:
			b.mu.Lock()
			b.subID = frame.Header(HdrID)
			b.mu.Unlock()
		case CmdSend:
			b.mu.Lock()
			subID := b.subID
			b.mu.Unlock()
			msg := NewFrame(CmdMessage)
			msg.Headers[HdrSubscription] = subID
			msg.Headers[HdrDestination] = frame.Header(HdrDestination)
			msg.Body = frame.Body
			_ = ws.WriteMessage(websocket.TextMessage, Marshal(msg))
		}
	}
}

func startBroker(t *testing.T) (*testBroker, string) {
	t.Helper()
	broker := &testBroker{}
	server := httptest.NewServer(http.HandlerFunc(broker.handler))
	t.Cleanup(server.Close)
	return broker, "ws" + strings.TrimPrefix(server.URL, "http")
}

func TestActivateSendsConnectHeaders(t *testing.T) {
	broker, url := startBroker(t)

	client := NewClient(Options{
		URL: url,
		ConnectHeaders: map[string]string{
			"Authorization": "Bearer token-123",
			"user-name":     "alice",
		},
	})
	require.NoError(t, client.Activate(context.Background()))
	defer client.Deactivate()

	assert.True(t, client.Connected())
	broker.mu.Lock()
	defer broker.mu.Unlock()
	assert.Equal(t, "Bearer token-123", broker.connectHdrs["Authorization"])
	assert.Equal(t, "alice", broker.connectHdrs["user-name"])
	assert.Equal(t, "1.2", broker.connectHdrs[HdrAcceptVersion])
}

func TestSubscribeDispatchesMessages(t *testing.T) {
	_, url := startBroker(t)

	client := NewClient(Options{URL: url})
	require.NoError(t, client.Activate(context.Background()))
	defer client.Deactivate()

	received := make(chan []byte, 1)
	_, err := client.Subscribe("/sub/rooms/1", func(_ string, body []byte) {
		received <- body
	})
	require.NoError(t, err)

	require.NoError(t, client.Send("/sub/rooms/1", "application/json", []byte(`{"x":1}`)))

	select {
	case body := <-received:
		assert.JSONEq(t, `{"x":1}`, string(body))
	case <-time.After(2 * time.Second):
		t.Fatal("no message dispatched")
	}
}

func TestActivateIsIdempotent(t *testing.T) {
	_, url := startBroker(t)

	client := NewClient(Options{URL: url})
	require.NoError(t, client.Activate(context.Background()))
	defer client.Deactivate()

	require.NoError(t, client.Activate(context.Background()))
	assert.True(t, client.Connected())
}

func TestSendWhileClosedFails(t *testing.T) {
	client := NewClient(Options{URL: "ws://localhost:0"})
	err := client.Send("/pub/rooms/1", "", []byte("x"))
	assert.Error(t, err)
}
