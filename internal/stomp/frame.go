package stomp

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
)

// STOMP 1.2 frame commands used by this client.
const (
	CmdConnect     = "CONNECT"
	CmdConnected   = "CONNECTED"
	CmdSubscribe   = "SUBSCRIBE"
	CmdUnsubscribe = "UNSUBSCRIBE"
	CmdSend        = "SEND"
	CmdMessage     = "MESSAGE"
	CmdError       = "ERROR"
	CmdDisconnect  = "DISCONNECT"
)

// Well-known header names.
const (
	HdrAcceptVersion = "accept-version"
	HdrHeartBeat     = "heart-beat"
	HdrDestination   = "destination"
	HdrSubscription  = "subscription"
	HdrID            = "id"
	HdrContentType   = "content-type"
	HdrMessage       = "message"
)

// Frame is a single STOMP frame: command line, header lines, NUL-terminated body.
type Frame struct {
	Command string
	Headers map[string]string
	Body    []byte
}

func NewFrame(command string) *Frame {
	return &Frame{Command: command, Headers: make(map[string]string)}
}

func (f *Frame) Header(key string) string {
	return f.Headers[key]
}

// heartbeatFrame is the body-less newline a peer sends to keep the
// connection alive.
var heartbeatFrame = []byte("\n")

// Marshal renders the frame as wire bytes. Headers are emitted in sorted
// key order so output is deterministic.
func Marshal(f *Frame) []byte {
	var buf bytes.Buffer
	buf.WriteString(f.Command)
	buf.WriteByte('\n')

	keys := make([]string, 0, len(f.Headers))
	for k := range f.Headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		buf.WriteString(escapeHeader(k))
		buf.WriteByte(':')
		buf.WriteString(escapeHeader(f.Headers[k]))
		buf.WriteByte('\n')
	}
	buf.WriteByte('\n')
	buf.Write(f.Body)
	buf.WriteByte(0)
	return buf.Bytes()
}

// Parse decodes wire bytes into a Frame. A lone newline (heartbeat) yields
// a nil frame and nil error.
func Parse(data []byte) (*Frame, error) {
	data = bytes.TrimRight(data, "\x00")
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}

	headerEnd := bytes.Index(data, []byte("\n\n"))
	if headerEnd < 0 {
		// Frame with no body separator; tolerate a bare command line.
		headerEnd = len(data)
	}
	head := string(data[:headerEnd])
	var body []byte
	if headerEnd+2 <= len(data) {
		body = data[headerEnd+2:]
	}

	lines := strings.Split(head, "\n")
	command := strings.TrimSuffix(lines[0], "\r")
	if command == "" {
		return nil, fmt.Errorf("stomp: empty command")
	}

	frame := NewFrame(command)
	for _, line := range lines[1:] {
		line = strings.TrimSuffix(line, "\r")
		if line == "" {
			continue
		}
		idx := strings.IndexByte(line, ':')
		if idx < 0 {
			return nil, fmt.Errorf("stomp: malformed header %q", line)
		}
		key := unescapeHeader(line[:idx])
		value := unescapeHeader(line[idx+1:])
		// First occurrence wins per the STOMP spec.
		if _, ok := frame.Headers[key]; !ok {
			frame.Headers[key] = value
		}
	}
	frame.Body = body
	return frame, nil
}

var headerEscaper = strings.NewReplacer(
	`\`, `\\`,
	"\n", `\n`,
	"\r", `\r`,
	":", `\c`,
)

func escapeHeader(s string) string {
	return headerEscaper.Replace(s)
}

func unescapeHeader(s string) string {
	if !strings.ContainsRune(s, '\\') {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' || i+1 == len(s) {
			b.WriteByte(s[i])
			continue
		}
		i++
		switch s[i] {
		case 'n':
			b.WriteByte('\n')
		case 'r':
			b.WriteByte('\r')
		case 'c':
			b.WriteByte(':')
		case '\\':
			b.WriteByte('\\')
		default:
			b.WriteByte(s[i])
		}
	}
	return b.String()
}
