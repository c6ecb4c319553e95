package stomp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalParseRoundtrip(t *testing.T) {
	frame := NewFrame(CmdSend)
	frame.Headers[HdrDestination] = "/pub/rooms/42"
	frame.Headers[HdrContentType] = "application/json"
	frame.Body = []byte(`{"message":"hello","roomId":42}`)

	parsed, err := Parse(Marshal(frame))
	require.NoError(t, err)
	require.NotNil(t, parsed)

	assert.Equal(t, CmdSend, parsed.Command)
	assert.Equal(t, "/pub/rooms/42", parsed.Header(HdrDestination))
	assert.Equal(t, frame.Body, parsed.Body)
}

func TestParseHeartbeatYieldsNil(t *testing.T) {
	frame, err := Parse([]byte("\n"))
	require.NoError(t, err)
	assert.Nil(t, frame)
}

func TestParseMalformedHeader(t *testing.T) {
	_, err := Parse([]byte("MESSAGE\nno-colon-here\n\nbody\x00"))
	assert.Error(t, err)
}

func TestHeaderEscaping(t *testing.T) {
	frame := NewFrame(CmdConnect)
	frame.Headers["user-name"] = "line:one\ntwo"

	parsed, err := Parse(Marshal(frame))
	require.NoError(t, err)
	assert.Equal(t, "line:one\ntwo", parsed.Header("user-name"))
}

func TestFirstHeaderOccurrenceWins(t *testing.T) {
	parsed, err := Parse([]byte("MESSAGE\nfoo:first\nfoo:second\n\n\x00"))
	require.NoError(t, err)
	assert.Equal(t, "first", parsed.Header("foo"))
}
