package service

import (
	"context"

	"github.com/ReilBleem13/PalMessenger/internal/domain"
	"github.com/gorilla/websocket"
)

type PresenceRegistry interface {
	Add(ctx context.Context, username string) error
	Remove(ctx context.Context, username string) error
	List(ctx context.Context) ([]string, error)
	Contains(ctx context.Context, username string) (bool, error)
	Heartbeat(ctx context.Context) error
	Sweep(ctx context.Context) (int, error)
	SweepExpired(ctx context.Context) (int, error)
}

type Bus interface {
	Publish(ctx context.Context, event domain.Event) error
	Subscribe(ctx context.Context, handler func(ctx context.Context, event domain.Event)) error
}

type MessageStore interface {
	Create(ctx context.Context, senderID, recipientID, friendshipID int64, body string) (*domain.Message, error)
	FindByID(ctx context.Context, messageID int64) (*domain.Message, error)
	MarkDelivered(ctx context.Context, messageID int64) error
	FindUndelivered(ctx context.Context, recipientID int64, limit int) ([]domain.Message, error)
	ToggleReaction(ctx context.Context, messageID, userID int64, emoji string) (domain.ReactionAction, error)
	MarkConversationRead(ctx context.Context, readerID, senderID int64) (int64, error)
	PaginateConversation(ctx context.Context, userID1, userID2 int64, cursor *int64) ([]domain.Message, *int64, bool, error)
}

type Identity interface {
	FindByUsername(ctx context.Context, username string) (*domain.User, error)
	FindFriendship(ctx context.Context, userID1, userID2 int64) (*domain.Friendship, error)
	FriendsOf(ctx context.Context, userID int64) ([]string, error)
}

type PushSender interface {
	Notify(ctx context.Context, userID int64, title string, payload any)
}

type MessageServiceIn interface {
	NewClient(userID int64, username string, conn *websocket.Conn) *Client
	HandleConn(ctx context.Context, client *Client)
	History(ctx context.Context, userID int64, with string, cursor *int64) (*HistoryPage, error)
}
