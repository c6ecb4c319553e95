package events

import (
	"context"
	"sync"
	"time"
)

type Event struct {
	Type      string      `json:"type"`
	Payload   interface{} `json:"payload"`
	Timestamp int64       `json:"timestamp"`
}

type Handler func(ctx context.Context, event Event) error

type Publisher interface {
	Publish(ctx context.Context, channel string, event Event) error
}

type Subscriber interface {
	Subscribe(ctx context.Context, channel string, handler Handler) func()
}

type Broker interface {
	Publisher
	Subscriber
}

// Channel name constants. Room-scoped channels carry the room id suffix.
const (
	ChannelPrefixRoomMessage = "room:message:"
	ChannelPrefixRoomRead    = "room:read:"
	ChannelNotifications     = "user:notifications"
)

// Event type constants, format: domain.action
const (
	EventTypeMessageAppended      = "message.appended"
	EventTypeRoomMarkedRead       = "room.marked_read"
	EventTypeNotificationReceived = "notification.received"
)

// Bus is an in-process Broker. Handlers run synchronously on the
// publishing goroutine; handler errors do not stop delivery to the rest.
type Bus struct {
	mu       sync.RWMutex
	nextID   int
	channels map[string]map[int]Handler
}

func NewBus() *Bus {
	return &Bus{channels: make(map[string]map[int]Handler)}
}

// Subscribe registers a handler on a channel and returns the unsubscribe
// function. Callers must invoke it when the owning surface goes away.
func (b *Bus) Subscribe(ctx context.Context, channel string, handler Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.channels[channel]; !ok {
		b.channels[channel] = make(map[int]Handler)
	}
	id := b.nextID
	b.nextID++
	b.channels[channel][id] = handler

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if handlers, ok := b.channels[channel]; ok {
			delete(handlers, id)
			if len(handlers) == 0 {
				delete(b.channels, channel)
			}
		}
	}
}

// Publish delivers an event to every handler subscribed to the channel.
func (b *Bus) Publish(ctx context.Context, channel string, event Event) error {
	if event.Timestamp == 0 {
		event.Timestamp = time.Now().UnixMilli()
	}

	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.channels[channel]))
	for _, h := range b.channels[channel] {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		_ = h(ctx, event)
	}
	return nil
}
