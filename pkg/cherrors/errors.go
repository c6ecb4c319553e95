package cherrors

import "errors"

// Common errors
var (
	ErrNotConnected   = errors.New("not connected to broker")
	ErrNoActiveRoom   = errors.New("no active room")
	ErrRoomMismatch   = errors.New("room is not the active room")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrNotFound       = errors.New("not found")
	ErrSessionMissing = errors.New("session not found")
	ErrPublishFailed  = errors.New("publish failed")
)
