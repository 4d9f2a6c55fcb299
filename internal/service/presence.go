package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/ReilBleem13/PalMessenger/internal/domain"
	"go.uber.org/multierr"
)

// Register binds username to the connection, marks it present, tells the
// user's friends and replays messages that arrived while it was offline.
//
// A username that is already present is taken over when the connection
// authenticates as the same account (reconnect); otherwise it is a
// conflict. Two processes registering the same name at the same moment
// can both succeed; the registry is a set, so the last writer wins.
func (ms *MessageService) Register(ctx context.Context, client *Client, username string) error {
	switch client.State() {
	case domain.ConnRegistered:
		return domain.ErrAlreadyRegistered
	case domain.ConnClosed:
		return domain.ErrNotRegistered
	}

	if username == "" {
		username = client.authName
	}

	account, err := ms.identity.FindByUsername(ctx, username)
	if err != nil {
		return dependencyErr(err)
	}

	present, err := ms.registry.Contains(ctx, username)
	if err != nil {
		return domain.ErrDependencyUnavailable.Wrap(err)
	}

	if account.ID != client.UserID {
		if present {
			return domain.ErrUsernameTaken
		}
		return domain.ErrForbidden.WithMessage("Cannot register as another user")
	}

	if !client.bind(username) {
		return domain.ErrNotRegistered
	}
	// Local routing first: once the name is visible in the registry,
	// events for it must find this connection.
	ms.hub.Register(client)

	if err := ms.claimPresence(ctx, client, username, present); err != nil {
		ms.hub.Unregister(client)
		client.unbind()
		return err
	}

	if client.State() == domain.ConnClosed {
		// closed while we were talking to the registry; Disconnect may
		// have run before the entry existed
		if ms.hub.Count(username) == 0 {
			if err := ms.registry.Remove(ctx, username); err != nil {
				slog.Warn("Failed to roll back presence entry", "username", username, "error", err)
			}
		}
		return domain.ErrNotRegistered
	}

	friends, err := ms.identity.FriendsOf(ctx, client.UserID)
	if err != nil {
		slog.Warn("Failed to load friends on register", "username", username, "error", err)
	}

	client.Send(newOutbound(SystemType, SystemEvent{Message: "Registered as " + username}))
	ms.sendUserList(ctx, client, friends)

	if err := ms.bus.Publish(ctx, &domain.UserJoinedEvent{Username: username, Friends: friends}); err != nil {
		slog.Warn("Failed to publish user joined", "username", username, "error", err)
	}

	ms.recoverUndelivered(ctx, client)
	return nil
}

func (ms *MessageService) claimPresence(ctx context.Context, client *Client, username string, present bool) error {
	if present {
		// Any connection of the same account evicts the old entry, so a
		// second tab takes the name over from the first.
		slog.Warn("Evicting existing presence entry on reconnect", "username", username, "conn_id", client.ID)
		if err := ms.registry.Remove(ctx, username); err != nil {
			return domain.ErrDependencyUnavailable.Wrap(err)
		}
	}

	if err := ms.registry.Add(ctx, username); err != nil {
		return domain.ErrDependencyUnavailable.Wrap(err)
	}
	return nil
}

// Disconnect is idempotent and runs for every connection that ends,
// however it ends.
func (ms *MessageService) Disconnect(ctx context.Context, client *Client) {
	username, wasRegistered := client.close()
	if !wasRegistered {
		return
	}

	ctx = context.WithoutCancel(ctx)

	if remaining := ms.hub.Unregister(client); remaining > 0 {
		return
	}

	if err := ms.registry.Remove(ctx, username); err != nil {
		slog.Error("Failed to remove presence entry", "username", username, "error", err)
	}

	friends, err := ms.identity.FriendsOf(ctx, client.UserID)
	if err != nil {
		slog.Warn("Failed to load friends on disconnect", "username", username, "error", err)
	}

	if err := ms.bus.Publish(ctx, &domain.UserLeftEvent{Username: username, Friends: friends}); err != nil {
		slog.Warn("Failed to publish user left", "username", username, "error", err)
	}
}

func (ms *MessageService) SetStatus(ctx context.Context, client *Client, status domain.PresenceStatus) error {
	username, err := ms.requireRegistered(client)
	if err != nil {
		return err
	}

	friends, err := ms.identity.FriendsOf(ctx, client.UserID)
	if err != nil {
		return dependencyErr(err)
	}

	err = ms.bus.Publish(ctx, &domain.StatusChangedEvent{
		Username: username,
		Status:   status,
		Friends:  friends,
	})
	if err != nil {
		return domain.ErrDependencyUnavailable.Wrap(err)
	}
	return nil
}

func (ms *MessageService) sendUserList(ctx context.Context, client *Client, friends []string) {
	online, err := ms.registry.List(ctx)
	if err != nil {
		slog.Warn("Failed to list presence", "username", client.Username(), "error", err)
		return
	}

	users := make([]string, 0, len(friends))
	for _, friend := range friends {
		if slices.Contains(online, friend) {
			users = append(users, friend)
		}
	}
	slices.Sort(users)

	client.Send(newOutbound(UserListType, UserListEvent{Users: users}))
}

// recoverUndelivered hands the client its oldest undelivered messages and
// marks each one delivered. A failure on one message does not stop the
// rest; whatever is left undelivered is picked up on the next register.
func (ms *MessageService) recoverUndelivered(ctx context.Context, client *Client) {
	messages, err := ms.store.FindUndelivered(ctx, client.UserID, ms.opts.RecoveryBatchSize)
	if err != nil {
		slog.Error("Failed to load undelivered messages", "user_id", client.UserID, "error", err)
		return
	}

	var errs error
	for _, msg := range messages {
		queued := client.Send(newOutbound(PrivateMessageType, PrivateMessageEvent{
			From:      msg.SenderUsername,
			To:        msg.RecipientUsername,
			Message:   msg.Body,
			MessageID: msg.ID,
			Timestamp: msg.CreatedAt,
		}))
		if !queued {
			errs = multierr.Append(errs, fmt.Errorf("queue message %d: %w", msg.ID, errClientUnavailable))
			continue
		}

		if err := ms.store.MarkDelivered(ctx, msg.ID); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		ms.metrics.MessagesRecovered.Inc()
	}

	if errs != nil {
		slog.Warn("Offline recovery finished with errors",
			"user_id", client.UserID,
			"total", len(messages),
			"failed", len(multierr.Errors(errs)),
			"error", errs,
		)
		return
	}
	if len(messages) > 0 {
		slog.Info("Offline recovery delivered messages", "user_id", client.UserID, "count", len(messages))
	}
}

var errClientUnavailable = errors.New("client queue full or closed")
