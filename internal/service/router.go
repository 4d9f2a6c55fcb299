package service

import (
	"context"
	"log/slog"

	"github.com/ReilBleem13/PalMessenger/internal/domain"
	"github.com/ReilBleem13/PalMessenger/internal/metrics"
)

// router turns bus events into frames for local connections. Events
// without a local target are dropped: the process holding the target's
// connection delivers them.
type router struct {
	hub     *Hub
	store   MessageStore
	metrics *metrics.Metrics
}

func (r *router) handle(ctx context.Context, event domain.Event) {
	r.metrics.BusEvents.WithLabelValues(string(event.Kind())).Inc()
	event.Accept(&routing{router: r, ctx: ctx})
}

// routing is one event on its way through the router.
type routing struct {
	*router
	ctx context.Context
}

var _ domain.EventVisitor = (*routing)(nil)

// A message is delivered once a live connection accepted it; nothing
// else sets the flag outside offline recovery.
func (r *routing) VisitPrivateMessage(e *domain.PrivateMessageEvent) {
	n := r.hub.Deliver(e.To, newOutbound(PrivateMessageType, PrivateMessageEvent{
		From:      e.From,
		To:        e.To,
		Message:   e.Body,
		MessageID: e.MessageID,
		Timestamp: e.CreatedAt,
	}))
	if n == 0 {
		return
	}

	if err := r.store.MarkDelivered(r.ctx, e.MessageID); err != nil {
		slog.Warn("Failed to mark message delivered", "message_id", e.MessageID, "error", err)
	}
}

func (r *routing) VisitUserJoined(e *domain.UserJoinedEvent) {
	r.friendStatus(e.Username, domain.StatusOnline, e.Friends)
}

func (r *routing) VisitUserLeft(e *domain.UserLeftEvent) {
	r.friendStatus(e.Username, domain.StatusOffline, e.Friends)
}

func (r *routing) VisitStatusChanged(e *domain.StatusChangedEvent) {
	r.friendStatus(e.Username, e.Status, e.Friends)
}

func (r *routing) VisitTypingStart(e *domain.TypingStartEvent) {
	r.hub.Deliver(e.To, newOutbound(TypingStartType, TypingEvent{Username: e.From}))
}

func (r *routing) VisitTypingStop(e *domain.TypingStopEvent) {
	r.hub.Deliver(e.To, newOutbound(TypingStopType, TypingEvent{Username: e.From}))
}

func (r *routing) VisitReaction(e *domain.ReactionEvent) {
	msg := newOutbound(MessageReactionType, ReactionEvent{
		MessageID: e.MessageID,
		Emoji:     e.Emoji,
		Username:  e.Username,
		Action:    e.Action,
	})

	seen := make(map[string]struct{}, len(e.Targets))
	for _, target := range e.Targets {
		if _, ok := seen[target]; ok {
			continue
		}
		seen[target] = struct{}{}
		r.hub.Deliver(target, msg)
	}
}

func (r *router) friendStatus(username string, status domain.PresenceStatus, friends []string) {
	msg := newOutbound(FriendStatusChangedType, FriendStatusEvent{
		Username: username,
		Status:   status,
	})
	for _, friend := range friends {
		r.hub.Deliver(friend, msg)
	}
}
