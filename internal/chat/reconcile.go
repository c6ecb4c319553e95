package chat

import (
	"context"
	"strings"

	"cafechat/internal/identity"
	"cafechat/pkg/events"
	"cafechat/pkg/logger"
)

// Reconciler folds raw broker frames into session message lists: resolves
// authorship, drops duplicates, and notifies other surfaces of appends.
type Reconciler struct {
	store    *Store
	bus      *events.Bus
	resolver *identity.Resolver
	log      *logger.Logger
}

func NewReconciler(store *Store, bus *events.Bus, resolver *identity.Resolver, log *logger.Logger) *Reconciler {
	if log == nil {
		log = logger.NewNop()
	}
	return &Reconciler{store: store, bus: bus, resolver: resolver, log: log}
}

// Apply appends one classified frame to the session's live message list.
// Duplicate chat ids are dropped, keeping the first-seen content.
func (r *Reconciler) Apply(sessionKey string, in Inbound) {
	if in.Kind != FrameText && in.Kind != FrameSystem {
		r.log.Warnf("reconciler: dropping unclassified frame for session %s", sessionKey)
		return
	}

	sess, ok := r.store.Get(sessionKey)
	if !ok {
		r.log.Debugf("reconciler: frame for unknown session %s", sessionKey)
		return
	}

	msg := messageFromFrame(in.Chat)
	msg.IsMine = r.isMine(sess.Kind, in.Chat)

	appended := false
	r.store.Patch(sessionKey, func(s *Session) {
		for _, existing := range s.Messages {
			if existing.ID == msg.ID {
				return
			}
		}
		s.Messages = append(s.Messages, msg)
		appended = true
	})
	if !appended {
		return
	}

	if r.bus != nil {
		_ = r.bus.Publish(context.Background(), events.ChannelPrefixRoomMessage+sess.RoomID, events.Event{
			Type:    events.EventTypeMessageAppended,
			Payload: msg,
		})
	}
}

// isMine resolves authorship: the explicit wire flag first, then a
// nickname match, and for café system notices a textual mention of the
// current user's nickname.
func (r *Reconciler) isMine(kind Kind, frame ChatFrame) bool {
	if frame.Mine {
		return true
	}
	nickname := r.resolver.Resolve()
	if nickname == "" {
		return false
	}
	if frame.SenderNickname == nickname {
		return true
	}
	if kind == KindCafe && IsSystemType(frame.MessageType) &&
		strings.Contains(frame.Message, nickname) {
		return true
	}
	return false
}

// CorrectOwnership re-scans the live list after the current user's
// nickname becomes known and flips entries that were appended before the
// nickname was resolvable. Café rooms only.
func (r *Reconciler) CorrectOwnership(sessionKey string) {
	nickname := r.resolver.Resolve()
	if nickname == "" {
		return
	}
	r.store.Patch(sessionKey, func(s *Session) {
		if s.Kind != KindCafe {
			return
		}
		for i := range s.Messages {
			if !s.Messages[i].IsMine && s.Messages[i].SenderName == nickname {
				s.Messages[i].IsMine = true
			}
		}
	})
}
