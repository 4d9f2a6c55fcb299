package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/ReilBleem13/PalMessenger/internal/domain"
	"github.com/ReilBleem13/PalMessenger/internal/metrics"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxFrameSize   = 64 * 1024
	pushTitle      = "New message"
	defaultBuffer  = 256
	defaultBatch   = 100
	defaultMaxBody = 2000
	defaultBeat    = 15 * time.Second
)

type Options struct {
	InstanceID        string
	RecoveryBatchSize int
	MaxMessageLength  int
	ClientSendBuffer  int
	HeartbeatInterval time.Duration
}

type MessageService struct {
	registry PresenceRegistry
	bus      Bus
	store    MessageStore
	identity Identity
	push     PushSender
	hub      *Hub
	metrics  *metrics.Metrics
	router   *router
	opts     Options
}

func NewMessageService(
	registry PresenceRegistry,
	bus Bus,
	store MessageStore,
	identity Identity,
	push PushSender,
	m *metrics.Metrics,
	opts Options,
) *MessageService {
	if opts.RecoveryBatchSize <= 0 {
		opts.RecoveryBatchSize = defaultBatch
	}
	if opts.MaxMessageLength <= 0 {
		opts.MaxMessageLength = defaultMaxBody
	}
	if opts.ClientSendBuffer <= 0 {
		opts.ClientSendBuffer = defaultBuffer
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = defaultBeat
	}

	hub := NewHub()
	return &MessageService{
		registry: registry,
		bus:      bus,
		store:    store,
		identity: identity,
		push:     push,
		hub:      hub,
		metrics:  m,
		router:   &router{hub: hub, store: store, metrics: m},
		opts:     opts,
	}
}

// Start clears presence entries left by this instance's previous run and
// by dead instances, then subscribes to the fan-out bus and keeps the
// presence heartbeat going for the lifetime of ctx.
func (ms *MessageService) Start(ctx context.Context) error {
	n, err := ms.registry.Sweep(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		slog.Info("Removed stale presence entries", "count", n, "instance_id", ms.opts.InstanceID)
	}

	if err := ms.registry.Heartbeat(ctx); err != nil {
		return err
	}

	if err := ms.bus.Subscribe(ctx, ms.router.handle); err != nil {
		return err
	}
	slog.Info("Subscribed to fan-out bus", "instance_id", ms.opts.InstanceID)

	go ms.heartbeat(ctx)
	return nil
}

// heartbeat keeps this instance's presence alive and sweeps instances
// that stopped beating.
func (ms *MessageService) heartbeat(ctx context.Context) {
	ticker := time.NewTicker(ms.opts.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := ms.registry.Heartbeat(ctx); err != nil {
				slog.Error("Failed to refresh presence heartbeat", "error", err)
				continue
			}

			n, err := ms.registry.SweepExpired(ctx)
			if err != nil {
				slog.Error("Failed to sweep dead instances", "error", err)
			}
			if n > 0 {
				slog.Info("Swept presence of dead instances", "count", n)
			}
		}
	}
}

func (ms *MessageService) NewClient(userID int64, username string, conn *websocket.Conn) *Client {
	return NewClient(userID, username, conn, ms.opts.ClientSendBuffer)
}

func (ms *MessageService) HandleConn(ctx context.Context, client *Client) {
	ms.metrics.ConnectionsActive.Inc()

	defer func() {
		ms.Disconnect(ctx, client)
		client.conn.Close()
		ms.metrics.ConnectionsActive.Dec()
	}()

	client.conn.SetReadLimit(maxFrameSize)
	client.conn.SetPongHandler(func(string) error {
		return client.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return ms.read(gctx, client)
	})

	g.Go(func() error {
		return ms.write(gctx, client)
	})

	err := g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("Error during handle conn", "conn_id", client.ID, "error", err)
	}
}

func (ms *MessageService) read(ctx context.Context, client *Client) error {
	client.conn.SetReadDeadline(time.Now().Add(pongWait))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			_, raw, err := client.conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err,
					websocket.CloseGoingAway,
					websocket.CloseAbnormalClosure,
					websocket.CloseNoStatusReceived,
					websocket.CloseNormalClosure) {
					slog.Error("Websocket close error", "conn_id", client.ID, "error", err)
				}
				return context.Canceled
			}

			// a frame that started is finished even if the peer goes away
			ms.HandleFrame(context.WithoutCancel(ctx), client, raw)
		}
	}
}

func (ms *MessageService) write(ctx context.Context, client *Client) error {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		// unblocks the reader
		client.conn.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return err
			}
		case msg := <-client.send:
			client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if msg == nil {
				client.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "closed by server"))
				return context.Canceled
			}
			if err := client.conn.WriteJSON(msg); err != nil {
				return err
			}
		}
	}
}

// HandleFrame decodes one client frame and runs it against the
// connection's state machine. Errors are reported to the client.
func (ms *MessageService) HandleFrame(ctx context.Context, client *Client, raw []byte) {
	eventType, req, err := decodeInbound(raw, ms.opts.MaxMessageLength)
	if err == nil {
		switch r := req.(type) {
		case *RegisterRequest:
			err = ms.Register(ctx, client, r.Username)
		case *PrivateMessageRequest:
			err = ms.SendPrivateMessage(ctx, client, r)
		case *TypingRequest:
			err = ms.Typing(ctx, client, r.To, eventType == TypingStartType)
		case *ReactionRequest:
			err = ms.React(ctx, client, r)
		case *MarkReadRequest:
			err = ms.MarkRead(ctx, client, r.From)
		case *SetStatusRequest:
			err = ms.SetStatus(ctx, client, r.Status)
		}
	}
	if err == nil {
		return
	}

	ms.replyError(client, eventType, err)

	if eventType == RegisterType && (errors.Is(err, domain.ErrUsernameTaken) || errors.Is(err, domain.ErrForbidden)) {
		client.Kick()
	}
}

func (ms *MessageService) SendPrivateMessage(ctx context.Context, client *Client, req *PrivateMessageRequest) error {
	from, err := ms.requireRegistered(client)
	if err != nil {
		return err
	}

	recipient, err := ms.identity.FindByUsername(ctx, req.To)
	if err != nil {
		return dependencyErr(err)
	}

	friendship, err := ms.identity.FindFriendship(ctx, client.UserID, recipient.ID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFriends) {
			return domain.ErrNotFriends.WithMessage("You are not friends with " + recipient.Username)
		}
		return dependencyErr(err)
	}

	msg, err := ms.store.Create(ctx, client.UserID, recipient.ID, friendship.ID, req.Message)
	if err != nil {
		return dependencyErr(err)
	}
	ms.metrics.MessagesSent.Inc()

	client.Send(newOutbound(MessageSentType, MessageSentEvent{
		TempID:    req.TempID,
		MessageID: msg.ID,
		To:        recipient.Username,
		Timestamp: msg.CreatedAt,
	}))

	// Presence only decides on push. The delivered flag is set by whichever
	// process hands the message to a live connection.
	online, err := ms.registry.Contains(ctx, recipient.Username)
	if err != nil {
		return domain.ErrDependencyUnavailable.
			WithMessage("Message saved, live delivery is delayed").
			Wrap(err)
	}

	err = ms.bus.Publish(ctx, &domain.PrivateMessageEvent{
		MessageID: msg.ID,
		From:      from,
		To:        recipient.Username,
		Body:      msg.Body,
		CreatedAt: msg.CreatedAt,
	})
	if err != nil {
		return domain.ErrDependencyUnavailable.
			WithMessage("Message saved, live delivery is delayed").
			Wrap(err)
	}

	if !online {
		ms.push.Notify(ctx, recipient.ID, pushTitle, map[string]any{
			"from":      from,
			"messageId": msg.ID,
		})
	}
	return nil
}

// Typing forwards typing_start / typing_stop. Nothing is stored and no
// timeout is applied here; clients send the stop themselves.
func (ms *MessageService) Typing(ctx context.Context, client *Client, to string, start bool) error {
	from, err := ms.requireRegistered(client)
	if err != nil {
		return err
	}

	var event domain.Event = &domain.TypingStopEvent{From: from, To: to}
	if start {
		event = &domain.TypingStartEvent{From: from, To: to}
	}

	if err := ms.bus.Publish(ctx, event); err != nil {
		return domain.ErrDependencyUnavailable.Wrap(err)
	}
	return nil
}

// React toggles the user's emoji on a message and fans out the resulting
// action to both participants.
func (ms *MessageService) React(ctx context.Context, client *Client, req *ReactionRequest) error {
	username, err := ms.requireRegistered(client)
	if err != nil {
		return err
	}

	msg, err := ms.store.FindByID(ctx, req.MessageID)
	if err != nil {
		return dependencyErr(err)
	}
	if !msg.Participant(client.UserID) {
		return domain.ErrMessageNotFound
	}
	if req.To != "" && req.To != msg.Peer(client.UserID) {
		return domain.ErrInvalidRequest.WithMessage("Message is not in the conversation with " + req.To)
	}

	action, err := ms.store.ToggleReaction(ctx, msg.ID, client.UserID, req.Emoji)
	if err != nil {
		return dependencyErr(err)
	}

	err = ms.bus.Publish(ctx, &domain.ReactionEvent{
		MessageID: msg.ID,
		Emoji:     req.Emoji,
		Username:  username,
		Action:    action,
		Targets:   []string{msg.SenderUsername, msg.RecipientUsername},
	})
	if err != nil {
		return domain.ErrDependencyUnavailable.Wrap(err)
	}
	return nil
}

func (ms *MessageService) MarkRead(ctx context.Context, client *Client, from string) error {
	if _, err := ms.requireRegistered(client); err != nil {
		return err
	}

	sender, err := ms.identity.FindByUsername(ctx, from)
	if err != nil {
		return dependencyErr(err)
	}

	n, err := ms.store.MarkConversationRead(ctx, client.UserID, sender.ID)
	if err != nil {
		return dependencyErr(err)
	}
	slog.Debug("Conversation marked read", "reader_id", client.UserID, "sender", from, "count", n)
	return nil
}

func (ms *MessageService) History(ctx context.Context, userID int64, with string, cursor *int64) (*HistoryPage, error) {
	other, err := ms.identity.FindByUsername(ctx, with)
	if err != nil {
		return nil, dependencyErr(err)
	}

	if _, err := ms.identity.FindFriendship(ctx, userID, other.ID); err != nil {
		return nil, dependencyErr(err)
	}

	messages, newCursor, hasMore, err := ms.store.PaginateConversation(ctx, userID, other.ID, cursor)
	if err != nil {
		slog.Error("Failed to paginate conversation", "user_id", userID, "with", with, "error", err)
		return nil, dependencyErr(err)
	}

	return &HistoryPage{
		Messages:  messages,
		NewCursor: newCursor,
		HasMore:   hasMore,
	}, nil
}

func (ms *MessageService) requireRegistered(client *Client) (string, error) {
	if client.State() != domain.ConnRegistered {
		return "", domain.ErrNotRegistered
	}
	return client.Username(), nil
}

func (ms *MessageService) replyError(client *Client, eventType EventType, err error) {
	var appErr *domain.AppError
	if !errors.As(err, &appErr) {
		slog.Error("Unhandled error", "conn_id", client.ID, "event", eventType, "error", err)
		appErr = domain.ErrInternalServerError
	} else if appErr.Status >= 500 {
		slog.Error("Event failed", "conn_id", client.ID, "event", eventType, "error", err)
	} else {
		slog.Info("Event rejected", "conn_id", client.ID, "event", eventType, "code", appErr.Code)
	}

	client.Send(newOutbound(ErrorType, ErrorEvent{
		Code:    appErr.Code,
		Message: appErr.Message,
		Event:   eventType,
	}))
}

// dependencyErr passes domain errors through and turns anything else
// (driver, network) into a transient error.
func dependencyErr(err error) error {
	var appErr *domain.AppError
	if errors.As(err, &appErr) {
		return err
	}
	return domain.ErrDependencyUnavailable.Wrap(err)
}
