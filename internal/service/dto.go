package service

import (
	"encoding/json"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ReilBleem13/PalMessenger/internal/domain"
)

type EventType string

const (
	// client -> server
	RegisterType    EventType = "register"
	MarkReadType    EventType = "mark_read"
	SetStatusType   EventType = "set_status"
	TypingStartType EventType = "typing_start"
	TypingStopType  EventType = "typing_stop"

	// both directions
	PrivateMessageType  EventType = "private_message"
	MessageReactionType EventType = "message_reaction"

	// server -> client
	MessageSentType         EventType = "message_sent"
	UserListType            EventType = "user_list"
	SystemType              EventType = "system"
	ErrorType               EventType = "error"
	FriendStatusChangedType EventType = "friend_status_changed"
)

const (
	maxUsernameLength = 32
	maxTempIDLength   = 64
	maxEmojiBytes     = 32
)

// Request from client
type InboundMessage struct {
	Type EventType       `json:"type"`
	Data json.RawMessage `json:"data"`
}

type RegisterRequest struct {
	Username string `json:"username"`
}

type PrivateMessageRequest struct {
	To      string `json:"to"`
	Message string `json:"message"`
	TempID  string `json:"tempId"`
}

type TypingRequest struct {
	To string `json:"to"`
}

type ReactionRequest struct {
	MessageID int64  `json:"messageId"`
	Emoji     string `json:"emoji"`
	To        string `json:"to"`
}

type MarkReadRequest struct {
	From string `json:"from"`
}

type SetStatusRequest struct {
	Status domain.PresenceStatus `json:"status"`
}

// Events for clients
type OutboundMessage struct {
	Type EventType       `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type PrivateMessageEvent struct {
	From      string    `json:"from"`
	To        string    `json:"to"`
	Message   string    `json:"message"`
	MessageID int64     `json:"messageId"`
	Timestamp time.Time `json:"timestamp"`
}

type MessageSentEvent struct {
	TempID    string    `json:"tempId"`
	MessageID int64     `json:"messageId"`
	To        string    `json:"to"`
	Timestamp time.Time `json:"timestamp"`
}

type UserListEvent struct {
	Users []string `json:"users"`
}

type SystemEvent struct {
	Message string `json:"message"`
}

type ErrorEvent struct {
	Code    string    `json:"code"`
	Message string    `json:"message"`
	Event   EventType `json:"event,omitempty"`
}

type TypingEvent struct {
	Username string `json:"username"`
}

type FriendStatusEvent struct {
	Username string                `json:"username"`
	Status   domain.PresenceStatus `json:"status"`
}

type ReactionEvent struct {
	MessageID int64                 `json:"messageId"`
	Emoji     string                `json:"emoji"`
	Username  string                `json:"username"`
	Action    domain.ReactionAction `json:"action"`
}

type HistoryPage struct {
	Messages  []domain.Message `json:"messages"`
	NewCursor *int64           `json:"new_cursor,omitempty"`
	HasMore   bool             `json:"has_more"`
}

func newOutbound(t EventType, v any) *OutboundMessage {
	data, err := json.Marshal(v)
	if err != nil {
		// Only our own event structs reach this point.
		panic("marshal outbound " + string(t) + ": " + err.Error())
	}
	return &OutboundMessage{Type: t, Data: data}
}

// decodeInbound parses and validates one client frame. The returned value
// is one of the *Request types above.
func decodeInbound(raw []byte, maxMessageLength int) (EventType, any, error) {
	var wrapper InboundMessage
	if err := json.Unmarshal(raw, &wrapper); err != nil {
		return "", nil, domain.ErrInvalidRequest.WithMessage("Malformed frame")
	}

	var (
		req      any
		validate func() error
	)

	switch wrapper.Type {
	case RegisterType:
		r := &RegisterRequest{}
		req, validate = r, r.validate
	case PrivateMessageType:
		r := &PrivateMessageRequest{}
		req, validate = r, func() error { return r.validate(maxMessageLength) }
	case TypingStartType, TypingStopType:
		r := &TypingRequest{}
		req, validate = r, r.validate
	case MessageReactionType:
		r := &ReactionRequest{}
		req, validate = r, r.validate
	case MarkReadType:
		r := &MarkReadRequest{}
		req, validate = r, r.validate
	case SetStatusType:
		r := &SetStatusRequest{}
		req, validate = r, r.validate
	default:
		return wrapper.Type, nil, domain.ErrInvalidRequest.WithMessage("Unknown event type " + string(wrapper.Type))
	}

	if len(wrapper.Data) > 0 {
		if err := json.Unmarshal(wrapper.Data, req); err != nil {
			return wrapper.Type, nil, domain.ErrInvalidRequest.WithMessage("Malformed " + string(wrapper.Type) + " payload")
		}
	}

	if err := validate(); err != nil {
		return wrapper.Type, nil, err
	}
	return wrapper.Type, req, nil
}

func validUsername(name string) bool {
	return name != "" &&
		len(name) <= maxUsernameLength &&
		strings.TrimSpace(name) == name
}

// An empty username means "register under the authenticated name".
func (r *RegisterRequest) validate() error {
	if r.Username != "" && !validUsername(r.Username) {
		return domain.ErrInvalidRequest.WithMessage("Invalid username")
	}
	return nil
}

func (r *PrivateMessageRequest) validate(maxLength int) error {
	if !validUsername(r.To) {
		return domain.ErrInvalidRequest.WithMessage("Invalid recipient")
	}
	if strings.TrimSpace(r.Message) == "" {
		return domain.ErrInvalidRequest.WithMessage("Message is empty")
	}
	if utf8.RuneCountInString(r.Message) > maxLength {
		return domain.ErrInvalidRequest.WithMessage("Message is too long")
	}
	if r.TempID == "" || len(r.TempID) > maxTempIDLength {
		return domain.ErrInvalidRequest.WithMessage("Invalid tempId")
	}
	return nil
}

func (r *TypingRequest) validate() error {
	if !validUsername(r.To) {
		return domain.ErrInvalidRequest.WithMessage("Invalid recipient")
	}
	return nil
}

func (r *ReactionRequest) validate() error {
	if r.MessageID <= 0 {
		return domain.ErrInvalidRequest.WithMessage("Invalid messageId")
	}
	if r.Emoji == "" || len(r.Emoji) > maxEmojiBytes || strings.ContainsAny(r.Emoji, " \t\r\n") {
		return domain.ErrInvalidRequest.WithMessage("Invalid emoji")
	}
	// optional; reaction targets always come from the message itself
	if r.To != "" && !validUsername(r.To) {
		return domain.ErrInvalidRequest.WithMessage("Invalid recipient")
	}
	return nil
}

func (r *MarkReadRequest) validate() error {
	if !validUsername(r.From) {
		return domain.ErrInvalidRequest.WithMessage("Invalid sender")
	}
	return nil
}

func (r *SetStatusRequest) validate() error {
	if !r.Status.Settable() {
		return domain.ErrInvalidRequest.WithMessage("Invalid status")
	}
	return nil
}
