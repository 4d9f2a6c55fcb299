package domain

import "time"

type User struct {
	ID       int64  `json:"id" db:"id"`
	Username string `json:"username" db:"username"`
}

type Friendship struct {
	ID          int64            `json:"id" db:"id"`
	RequesterID int64            `json:"requester_id" db:"requester_id"`
	AddresseeID int64            `json:"addressee_id" db:"addressee_id"`
	Status      FriendshipStatus `json:"status" db:"status"`
}

type Message struct {
	ID           int64      `json:"id" db:"id"`
	SenderID     int64      `json:"sender_id" db:"sender_id"`
	RecipientID  int64      `json:"recipient_id" db:"recipient_id"`
	FriendshipID int64      `json:"friendship_id" db:"friendship_id"`
	Body         string     `json:"body" db:"body"`
	Delivered    bool       `json:"delivered" db:"delivered"`
	DeliveredAt  *time.Time `json:"delivered_at,omitempty" db:"delivered_at"`
	Read         bool       `json:"read" db:"read"`
	ReadAt       *time.Time `json:"read_at,omitempty" db:"read_at"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`

	// Filled by joins, not stored on the row.
	SenderUsername    string `json:"sender_username" db:"sender_username"`
	RecipientUsername string `json:"recipient_username" db:"recipient_username"`

	Reactions []Reaction `json:"reactions,omitempty" db:"-"`
}

// Participant reports whether userID is the sender or the recipient.
func (m *Message) Participant(userID int64) bool {
	return m.SenderID == userID || m.RecipientID == userID
}

// Peer is the other side of the conversation as seen by userID.
func (m *Message) Peer(userID int64) string {
	if m.SenderID == userID {
		return m.RecipientUsername
	}
	return m.SenderUsername
}

type Reaction struct {
	MessageID int64     `json:"message_id" db:"message_id"`
	UserID    int64     `json:"user_id" db:"user_id"`
	Emoji     string    `json:"emoji" db:"emoji"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type PushSubscription struct {
	ID        int64     `json:"id" db:"id"`
	UserID    int64     `json:"user_id" db:"user_id"`
	Endpoint  string    `json:"endpoint" db:"endpoint"`
	P256dh    string    `json:"p256dh" db:"p256dh"`
	Auth      string    `json:"auth" db:"auth"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type (
	FriendshipStatus string

	ReactionAction string

	PresenceStatus string

	ConnState int
)

const (
	FriendshipPending  FriendshipStatus = "pending"
	FriendshipAccepted FriendshipStatus = "accepted"

	ReactionAdd    ReactionAction = "add"
	ReactionRemove ReactionAction = "remove"

	StatusOnline  PresenceStatus = "online"
	StatusAway    PresenceStatus = "away"
	StatusBusy    PresenceStatus = "busy"
	StatusOffline PresenceStatus = "offline"
)

const (
	ConnConnected ConnState = iota
	ConnRegistered
	ConnClosed
)

func (s ConnState) String() string {
	switch s {
	case ConnConnected:
		return "connected"
	case ConnRegistered:
		return "registered"
	case ConnClosed:
		return "closed"
	}
	return "unknown"
}

// Settable reports whether a client may announce this status itself.
// Offline is derived from disconnect only.
func (s PresenceStatus) Settable() bool {
	switch s {
	case StatusOnline, StatusAway, StatusBusy:
		return true
	}
	return false
}
