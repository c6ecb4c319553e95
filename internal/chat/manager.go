package chat

import (
	"context"
	"sort"
	"strconv"
	"sync"

	"cafechat/internal/identity"
	"cafechat/internal/prefs"
	"cafechat/internal/rest"
	"cafechat/pkg/events"
	"cafechat/pkg/logger"
)

// ManagerOptions collects the collaborators a Manager needs.
type ManagerOptions struct {
	BrokerURL string
	API       *rest.Client
	Bus       *events.Bus
	Prefs     *prefs.Store
	Token     func() string
	Resolver  *identity.Resolver
	Logger    *logger.Logger
}

// Manager is the facade over the chat core: it owns the session store, the
// connector, and the reconciliation/history/read components, and wires the
// connector's inbound traffic to them.
type Manager struct {
	log        *logger.Logger
	bus        *events.Bus
	store      *Store
	connector  *Connector
	reconciler *Reconciler
	history    *HistoryLoader
	read       *ReadTracker
	api        *rest.Client
	prefs      *prefs.Store

	mu         sync.Mutex
	keysByRoom map[string]string // roomID -> session key
	lostRoom   string            // room to re-subscribe after a reconnect
}

func NewManager(opts ManagerOptions) *Manager {
	log := opts.Logger
	if log == nil {
		log = logger.NewNop()
	}

	m := &Manager{
		log:        log,
		bus:        opts.Bus,
		store:      NewStore(),
		api:        opts.API,
		prefs:      opts.Prefs,
		keysByRoom: make(map[string]string),
	}
	m.reconciler = NewReconciler(m.store, opts.Bus, opts.Resolver, log)
	m.history = NewHistoryLoader(m.store, opts.API, log)
	m.read = NewReadTracker(m.store, opts.API, opts.Bus, opts.Prefs, log)
	m.connector = NewConnector(opts.BrokerURL, opts.Token, opts.Resolver.Resolve, ConnectorCallbacks{
		Frame:        m.onFrame,
		Receipt:      m.onReceipt,
		TextArrived:  m.read.ScheduleReadLatest,
		Notification: m.onNotification,
		Connection:   m.onConnection,
	}, log)
	return m
}

// Store exposes the session arena for read access by UI surfaces.
func (m *Manager) Store() *Store { return m.store }

// Connector exposes the transport connector.
func (m *Manager) Connector() *Connector { return m.connector }

// OpenCafeRoom joins a public café room: ensures a session, connects and
// subscribes, loads the roster, and eagerly backfills the newest history
// page followed by a read mark.
func (m *Manager) OpenCafeRoom(ctx context.Context, roomID string) (string, error) {
	return m.openRoom(ctx, CafeSessionKey(roomID), KindCafe, roomID)
}

// OpenDirectRoom joins a 1:1 room. The session is keyed by counterpart so
// every surface pointed at the same person shares one record.
func (m *Manager) OpenDirectRoom(ctx context.Context, counterpartID, roomID string) (string, error) {
	return m.openRoom(ctx, DirectSessionKey(counterpartID), KindDirect, roomID)
}

func (m *Manager) openRoom(ctx context.Context, key string, kind Kind, roomID string) (string, error) {
	m.store.Ensure(key, kind)

	scope := prefs.ScopeCafe
	if kind == KindDirect {
		scope = prefs.ScopeDirect
	}
	muted := false
	if m.prefs != nil {
		muted = m.prefs.Muted(scope, roomID)
	}

	m.store.Patch(key, func(s *Session) {
		s.RoomID = roomID
		s.IsLoading = true
		s.Error = ""
		s.IsMuted = muted
	})

	m.mu.Lock()
	m.keysByRoom[roomID] = key
	m.mu.Unlock()

	m.connector.SetActiveRoom(roomID)
	m.connector.Connect(ctx)
	if m.connector.Connected() {
		if err := m.connector.SubscribeToRoom(roomID); err != nil {
			m.log.Warnf("manager: subscribing room %s failed: %v", roomID, err)
		}
		if kind == KindCafe {
			if err := m.connector.SubscribeNotifications(); err != nil {
				m.log.Warnf("manager: subscribing notifications failed: %v", err)
			}
		}
	}

	m.loadParticipants(ctx, key, kind, roomID)

	if err := m.history.LoadMore(ctx, key); err != nil {
		m.store.Patch(key, func(s *Session) {
			s.Error = err.Error()
		})
	} else if err := m.read.MarkAsRead(ctx, key); err != nil {
		m.log.Warnf("manager: initial read mark for room %s failed: %v", roomID, err)
	}

	// Identity may only be resolvable now that the token was consumed for
	// the handshake.
	m.reconciler.CorrectOwnership(key)

	m.store.Patch(key, func(s *Session) {
		s.IsJoined = true
		s.IsLoading = false
		s.StompConnected = m.connector.Connected()
	})
	return key, nil
}

func (m *Manager) loadParticipants(ctx context.Context, key string, kind Kind, roomID string) {
	roster, err := m.api.Participants(ctx, roomID)
	if err != nil {
		m.log.Warnf("manager: loading participants for room %s failed: %v", roomID, err)
		return
	}

	participants := make([]Participant, 0, len(roster))
	for _, p := range roster {
		entry := Participant{
			ID:   strconv.FormatInt(p.UserID, 10),
			Name: p.Nickname,
			IsMe: p.Me,
		}
		if kind == KindCafe && p.Me {
			entry.Name = p.Nickname + " (me)"
		}
		participants = append(participants, entry)
	}
	if kind == KindCafe {
		// Current user first, otherwise server order.
		sort.SliceStable(participants, func(i, j int) bool {
			return participants[i].IsMe && !participants[j].IsMe
		})
	}

	m.store.Patch(key, func(s *Session) {
		s.Participants = participants
		if kind == KindDirect {
			s.ParticipantCount = len(participants)
		}
	})
}

// CloseRoom tears down the room's subscriptions and resets its session.
func (m *Manager) CloseRoom(key string) {
	sess, ok := m.store.Get(key)
	if !ok {
		return
	}

	if sess.RoomID != "" {
		m.read.CancelPending(sess.RoomID)
		m.mu.Lock()
		delete(m.keysByRoom, sess.RoomID)
		m.mu.Unlock()
	}
	if m.connector.ActiveRoom() == sess.RoomID {
		m.connector.UnsubscribeRoom()
		m.connector.SetActiveRoom("")
	}
	m.read.ForgetMarks(key)
	m.store.Reset(key)
}

// Send publishes a message to the session's room. Publish failures
// propagate; everything else silently no-ops.
func (m *Manager) Send(key, content string) error {
	sess, ok := m.store.Get(key)
	if !ok {
		return nil
	}
	return m.connector.SendMessage(sess.RoomID, content)
}

// LoadMoreHistory fetches the next older history page for the session.
func (m *Manager) LoadMoreHistory(ctx context.Context, key string) error {
	return m.history.LoadMore(ctx, key)
}

// MarkAsRead marks the newest known message as read.
func (m *Manager) MarkAsRead(ctx context.Context, key string) error {
	return m.read.MarkAsRead(ctx, key)
}

// ToggleMute flips and persists the session's mute flag.
func (m *Manager) ToggleMute(ctx context.Context, key string) bool {
	return m.read.ToggleMute(ctx, key)
}

// Session returns a snapshot of the session state.
func (m *Manager) Session(key string) (Session, bool) {
	return m.store.Get(key)
}

// Shutdown drops the broker connection.
func (m *Manager) Shutdown() {
	m.connector.Disconnect()
}

func (m *Manager) keyForRoom(roomID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key, ok := m.keysByRoom[roomID]
	return key, ok
}

func (m *Manager) onFrame(roomID string, in Inbound) {
	key, ok := m.keyForRoom(roomID)
	if !ok {
		m.log.Debugf("manager: frame for unopened room %s", roomID)
		return
	}
	m.reconciler.Apply(key, in)
}

func (m *Manager) onReceipt(roomID string, receipt ReadReceipt) {
	key, ok := m.keyForRoom(roomID)
	if !ok {
		return
	}
	m.read.ApplyReceipt(key, receipt)
}

func (m *Manager) onNotification(body []byte) {
	if m.bus == nil {
		return
	}
	_ = m.bus.Publish(context.Background(), events.ChannelNotifications, events.Event{
		Type:    events.EventTypeNotificationReceived,
		Payload: string(body),
	})
}

func (m *Manager) onConnection(connected bool) {
	m.store.PatchAll(func(s *Session) {
		s.StompConnected = connected
	})

	m.mu.Lock()
	if !connected {
		m.lostRoom = m.connector.ActiveRoom()
		m.mu.Unlock()
		return
	}
	room := m.lostRoom
	m.lostRoom = ""
	m.mu.Unlock()

	// Reconnects drop all subscriptions; the session logic re-establishes
	// the active room's pair here.
	if room != "" {
		if err := m.connector.SubscribeToRoom(room); err != nil {
			m.log.Warnf("manager: re-subscribing room %s after reconnect failed: %v", room, err)
		}
	}
}
