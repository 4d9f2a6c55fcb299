package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

type EventKind string

const (
	PrivateMessageKind EventKind = "private_message"
	UserJoinedKind     EventKind = "user_joined"
	UserLeftKind       EventKind = "user_left"
	TypingStartKind    EventKind = "typing_start"
	TypingStopKind     EventKind = "typing_stop"
	StatusChangedKind  EventKind = "status_changed"
	ReactionKind       EventKind = "reaction"
)

// Event is a fan-out bus event. The set of implementations is closed:
// only the types in this file satisfy it.
type Event interface {
	Kind() EventKind
	Accept(v EventVisitor)

	sealed()
}

// EventVisitor has one method per Event variant. Every router implements
// it, so a new variant does not compile until it is handled everywhere.
type EventVisitor interface {
	VisitPrivateMessage(e *PrivateMessageEvent)
	VisitUserJoined(e *UserJoinedEvent)
	VisitUserLeft(e *UserLeftEvent)
	VisitTypingStart(e *TypingStartEvent)
	VisitTypingStop(e *TypingStopEvent)
	VisitStatusChanged(e *StatusChangedEvent)
	VisitReaction(e *ReactionEvent)
}

type PrivateMessageEvent struct {
	MessageID int64     `json:"message_id"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

type UserJoinedEvent struct {
	Username string   `json:"username"`
	Friends  []string `json:"friends"`
}

type UserLeftEvent struct {
	Username string   `json:"username"`
	Friends  []string `json:"friends"`
}

type TypingStartEvent struct {
	From string `json:"from"`
	To   string `json:"to"`
}

type TypingStopEvent struct {
	From string `json:"from"`
	To   string `json:"to"`
}

type StatusChangedEvent struct {
	Username string         `json:"username"`
	Status   PresenceStatus `json:"status"`
	Friends  []string       `json:"friends"`
}

type ReactionEvent struct {
	MessageID int64          `json:"message_id"`
	Emoji     string         `json:"emoji"`
	Username  string         `json:"username"`
	Action    ReactionAction `json:"action"`
	// Participants of the conversation the message belongs to.
	Targets []string `json:"targets"`
}

func (*PrivateMessageEvent) Kind() EventKind { return PrivateMessageKind }
func (*UserJoinedEvent) Kind() EventKind     { return UserJoinedKind }
func (*UserLeftEvent) Kind() EventKind       { return UserLeftKind }
func (*TypingStartEvent) Kind() EventKind    { return TypingStartKind }
func (*TypingStopEvent) Kind() EventKind     { return TypingStopKind }
func (*StatusChangedEvent) Kind() EventKind  { return StatusChangedKind }
func (*ReactionEvent) Kind() EventKind       { return ReactionKind }

func (e *PrivateMessageEvent) Accept(v EventVisitor) { v.VisitPrivateMessage(e) }
func (e *UserJoinedEvent) Accept(v EventVisitor)     { v.VisitUserJoined(e) }
func (e *UserLeftEvent) Accept(v EventVisitor)       { v.VisitUserLeft(e) }
func (e *TypingStartEvent) Accept(v EventVisitor)    { v.VisitTypingStart(e) }
func (e *TypingStopEvent) Accept(v EventVisitor)     { v.VisitTypingStop(e) }
func (e *StatusChangedEvent) Accept(v EventVisitor)  { v.VisitStatusChanged(e) }
func (e *ReactionEvent) Accept(v EventVisitor)       { v.VisitReaction(e) }

func (*PrivateMessageEvent) sealed() {}
func (*UserJoinedEvent) sealed()     {}
func (*UserLeftEvent) sealed()       {}
func (*TypingStartEvent) sealed()    {}
func (*TypingStopEvent) sealed()     {}
func (*StatusChangedEvent) sealed()  {}
func (*ReactionEvent) sealed()       {}

// Envelope is the bus wire format.
type Envelope struct {
	Kind   EventKind       `json:"kind"`
	Origin string          `json:"origin"`
	Data   json.RawMessage `json:"data"`
}

func EncodeEvent(origin string, e Event) ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal %s event: %w", e.Kind(), err)
	}
	return json.Marshal(&Envelope{
		Kind:   e.Kind(),
		Origin: origin,
		Data:   data,
	})
}

func DecodeEvent(raw []byte) (Event, *Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, nil, fmt.Errorf("unmarshal envelope: %w", err)
	}

	var e Event
	switch env.Kind {
	case PrivateMessageKind:
		e = &PrivateMessageEvent{}
	case UserJoinedKind:
		e = &UserJoinedEvent{}
	case UserLeftKind:
		e = &UserLeftEvent{}
	case TypingStartKind:
		e = &TypingStartEvent{}
	case TypingStopKind:
		e = &TypingStopEvent{}
	case StatusChangedKind:
		e = &StatusChangedEvent{}
	case ReactionKind:
		e = &ReactionEvent{}
	default:
		return nil, &env, fmt.Errorf("unknown event kind %q", env.Kind)
	}

	if err := json.Unmarshal(env.Data, e); err != nil {
		return nil, &env, fmt.Errorf("unmarshal %s event: %w", env.Kind, err)
	}
	return e, &env, nil
}
