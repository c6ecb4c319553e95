package chat

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cafechat/pkg/cherrors"
	"cafechat/pkg/logger"
)

func staticToken(token string) func() string {
	return func() string { return token }
}

func TestConnectWithoutTokenStaysDisconnected(t *testing.T) {
	var transitions []bool
	c := NewConnector("ws://127.0.0.1:1/stomp/chats", staticToken(""), staticToken("alice"), ConnectorCallbacks{
		Connection: func(connected bool) { transitions = append(transitions, connected) },
	}, logger.NewNop())

	c.Connect(context.Background())

	assert.False(t, c.Connected())
	assert.Equal(t, []bool{false}, transitions)
}

func TestConnectFailureIsSoftAndRetryable(t *testing.T) {
	c := NewConnector("ws://127.0.0.1:1/stomp/chats", staticToken("t"), staticToken("alice"), ConnectorCallbacks{}, logger.NewNop())

	c.Connect(context.Background())
	assert.False(t, c.Connected())

	// The failed attempt must not leave a half-built client behind.
	c.Connect(context.Background())
	assert.False(t, c.Connected())
}

func TestSendMessageNoOpsWhenIdle(t *testing.T) {
	c := NewConnector("ws://127.0.0.1:1/stomp/chats", staticToken("t"), staticToken("alice"), ConnectorCallbacks{}, logger.NewNop())

	assert.NoError(t, c.SendMessage("42", "hello"))
	assert.NoError(t, c.SendMessage("", "hello"))
	assert.NoError(t, c.SendMessage("42", "   "))
}

func TestSubscribeRefusesWhileDisconnected(t *testing.T) {
	c := NewConnector("ws://127.0.0.1:1/stomp/chats", staticToken("t"), staticToken("alice"), ConnectorCallbacks{}, logger.NewNop())

	err := c.SubscribeToRoom("42")
	assert.ErrorIs(t, err, cherrors.ErrNotConnected)
}

func TestSubscribeRefusesInactiveRoom(t *testing.T) {
	c := NewConnector("ws://127.0.0.1:1/stomp/chats", staticToken("t"), staticToken("alice"), ConnectorCallbacks{}, logger.NewNop())
	c.SetActiveRoom("42")

	err := c.SubscribeToRoom("99")
	require.Error(t, err)
	assert.True(t, errors.Is(err, cherrors.ErrRoomMismatch))
	assert.Equal(t, "42", c.ActiveRoom())
}

func TestRoomFrameDispatch(t *testing.T) {
	var frames []Inbound
	var textRooms []string
	c := NewConnector("ws://127.0.0.1:1/stomp/chats", staticToken("t"), staticToken("alice"), ConnectorCallbacks{
		Frame:       func(_ string, in Inbound) { frames = append(frames, in) },
		TextArrived: func(roomID string) { textRooms = append(textRooms, roomID) },
	}, logger.NewNop())

	c.handleRoomFrame("42", []byte(`{"chatId":1,"roomId":42,"message":"hi","senderNickname":"bob","messageType":"TEXT"}`))
	c.handleRoomFrame("42", []byte(`{"chatId":2,"roomId":42,"message":"bob joined the room","messageType":"SYSTEM_JOIN"}`))
	c.handleRoomFrame("42", []byte(`not json`))

	require.Len(t, frames, 2)
	assert.Equal(t, FrameText, frames[0].Kind)
	assert.Equal(t, FrameSystem, frames[1].Kind)
	// Only the text frame triggers read scheduling.
	assert.Equal(t, []string{"42"}, textRooms)
}

func TestReadFrameDispatch(t *testing.T) {
	var receipts []ReadReceipt
	c := NewConnector("ws://127.0.0.1:1/stomp/chats", staticToken("t"), staticToken("alice"), ConnectorCallbacks{
		Receipt: func(_ string, receipt ReadReceipt) { receipts = append(receipts, receipt) },
	}, logger.NewNop())

	c.handleReadFrame("42", []byte(`{"readerId":"bob","lastReadChatId":9}`))
	c.handleReadFrame("42", []byte(`{"readerId":"bob"}`))
	c.handleReadFrame("42", []byte(`garbage`))

	require.Len(t, receipts, 1)
	assert.Equal(t, int64(9), receipts[0].LastReadChatID)
}

func TestDisconnectIsIdempotent(t *testing.T) {
	c := NewConnector("ws://127.0.0.1:1/stomp/chats", staticToken("t"), staticToken("alice"), ConnectorCallbacks{}, logger.NewNop())
	c.Disconnect()
	c.Disconnect()
	assert.False(t, c.Connected())
}
