package service

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/ReilBleem13/PalMessenger/internal/domain"
	"github.com/ReilBleem13/PalMessenger/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

var errStoreDown = errors.New("connection refused")

// memRegistry is a presence set shared by every service in a test, the
// way Redis is shared by every process.
type memRegistry struct {
	mu      sync.Mutex
	names   map[string]struct{}
	failing bool

	// afterAdd runs once a name was added, outside the lock
	afterAdd func(username string)
}

func newMemRegistry() *memRegistry {
	return &memRegistry{names: make(map[string]struct{})}
}

func (r *memRegistry) Add(_ context.Context, username string) error {
	r.mu.Lock()
	if r.failing {
		r.mu.Unlock()
		return errStoreDown
	}
	r.names[username] = struct{}{}
	hook := r.afterAdd
	r.mu.Unlock()

	if hook != nil {
		hook(username)
	}
	return nil
}

func (r *memRegistry) Remove(_ context.Context, username string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failing {
		return errStoreDown
	}
	delete(r.names, username)
	return nil
}

func (r *memRegistry) List(_ context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failing {
		return nil, errStoreDown
	}
	out := make([]string, 0, len(r.names))
	for name := range r.names {
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

func (r *memRegistry) Contains(_ context.Context, username string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failing {
		return false, errStoreDown
	}
	_, ok := r.names[username]
	return ok, nil
}

func (r *memRegistry) Heartbeat(context.Context) error {
	return nil
}

func (r *memRegistry) Sweep(context.Context) (int, error) {
	return 0, nil
}

func (r *memRegistry) SweepExpired(context.Context) (int, error) {
	return 0, nil
}

func (r *memRegistry) setFailing(v bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failing = v
}

// loopbackBus delivers every published event to every subscriber,
// synchronously, including the publisher's own process.
type loopbackBus struct {
	mu       sync.Mutex
	handlers []func(context.Context, domain.Event)
}

func (b *loopbackBus) Publish(ctx context.Context, event domain.Event) error {
	// go through the wire format so both processes see decoded copies
	raw, err := domain.EncodeEvent("test", event)
	if err != nil {
		return err
	}

	b.mu.Lock()
	handlers := append([]func(context.Context, domain.Event){}, b.handlers...)
	b.mu.Unlock()

	for _, h := range handlers {
		decoded, _, err := domain.DecodeEvent(raw)
		if err != nil {
			return err
		}
		h(ctx, decoded)
	}
	return nil
}

func (b *loopbackBus) Subscribe(_ context.Context, handler func(context.Context, domain.Event)) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, handler)
	return nil
}

type reactionKey struct {
	messageID int64
	userID    int64
	emoji     string
}

type memStore struct {
	mu            sync.Mutex
	names         map[int64]string
	messages      map[int64]*domain.Message
	nextID        int64
	reactions     map[reactionKey]struct{}
	failDelivered map[int64]bool
	createCalls   int
}

func newMemStore(users []domain.User) *memStore {
	names := make(map[int64]string, len(users))
	for _, u := range users {
		names[u.ID] = u.Username
	}
	return &memStore{
		names:         names,
		messages:      make(map[int64]*domain.Message),
		reactions:     make(map[reactionKey]struct{}),
		failDelivered: make(map[int64]bool),
	}
}

func (s *memStore) Create(_ context.Context, senderID, recipientID, friendshipID int64, body string) (*domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.createCalls++
	s.nextID++
	msg := &domain.Message{
		ID:                s.nextID,
		SenderID:          senderID,
		RecipientID:       recipientID,
		FriendshipID:      friendshipID,
		Body:              body,
		CreatedAt:         time.Now().UTC(),
		SenderUsername:    s.names[senderID],
		RecipientUsername: s.names[recipientID],
	}
	s.messages[msg.ID] = msg
	cp := *msg
	return &cp, nil
}

func (s *memStore) FindByID(_ context.Context, messageID int64) (*domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.messages[messageID]
	if !ok {
		return nil, domain.ErrMessageNotFound
	}
	cp := *msg
	return &cp, nil
}

func (s *memStore) MarkDelivered(_ context.Context, messageID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failDelivered[messageID] {
		return errStoreDown
	}
	if msg, ok := s.messages[messageID]; ok && !msg.Delivered {
		now := time.Now().UTC()
		msg.Delivered = true
		msg.DeliveredAt = &now
	}
	return nil
}

func (s *memStore) FindUndelivered(_ context.Context, recipientID int64, limit int) ([]domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Message
	for _, msg := range s.messages {
		if msg.RecipientID == recipientID && !msg.Delivered {
			out = append(out, *msg)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) ToggleReaction(_ context.Context, messageID, userID int64, emoji string) (domain.ReactionAction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := reactionKey{messageID, userID, emoji}
	if _, ok := s.reactions[key]; ok {
		delete(s.reactions, key)
		return domain.ReactionRemove, nil
	}
	s.reactions[key] = struct{}{}
	return domain.ReactionAdd, nil
}

func (s *memStore) MarkConversationRead(_ context.Context, readerID, senderID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, msg := range s.messages {
		if msg.RecipientID == readerID && msg.SenderID == senderID && !msg.Read {
			msg.Read = true
			n++
		}
	}
	return n, nil
}

func (s *memStore) PaginateConversation(_ context.Context, userID1, userID2 int64, _ *int64) ([]domain.Message, *int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Message
	for _, msg := range s.messages {
		if (msg.SenderID == userID1 && msg.RecipientID == userID2) ||
			(msg.SenderID == userID2 && msg.RecipientID == userID1) {
			out = append(out, *msg)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil, false, nil
}

func (s *memStore) message(id int64) domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.messages[id]
}

type memIdentity struct {
	users   map[string]domain.User
	friends map[[2]int64]int64
}

func newMemIdentity(users []domain.User) *memIdentity {
	idx := make(map[string]domain.User, len(users))
	for _, u := range users {
		idx[u.Username] = u
	}
	return &memIdentity{users: idx, friends: make(map[[2]int64]int64)}
}

func (i *memIdentity) befriend(a, b string, friendshipID int64) {
	ua, ub := i.users[a], i.users[b]
	i.friends[[2]int64{ua.ID, ub.ID}] = friendshipID
	i.friends[[2]int64{ub.ID, ua.ID}] = friendshipID
}

func (i *memIdentity) FindByUsername(_ context.Context, username string) (*domain.User, error) {
	u, ok := i.users[username]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	return &u, nil
}

func (i *memIdentity) FindFriendship(_ context.Context, userID1, userID2 int64) (*domain.Friendship, error) {
	id, ok := i.friends[[2]int64{userID1, userID2}]
	if !ok {
		return nil, domain.ErrNotFriends
	}
	return &domain.Friendship{
		ID:          id,
		RequesterID: userID1,
		AddresseeID: userID2,
		Status:      domain.FriendshipAccepted,
	}, nil
}

func (i *memIdentity) FriendsOf(_ context.Context, userID int64) ([]string, error) {
	var out []string
	for pair := range i.friends {
		if pair[0] != userID {
			continue
		}
		for _, u := range i.users {
			if u.ID == pair[1] {
				out = append(out, u.Username)
			}
		}
	}
	sort.Strings(out)
	return out, nil
}

type pushCall struct {
	userID  int64
	title   string
	payload any
}

type recordingPush struct {
	mu    sync.Mutex
	calls []pushCall
}

func (p *recordingPush) Notify(_ context.Context, userID int64, title string, payload any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, pushCall{userID, title, payload})
}

func (p *recordingPush) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

// cluster is a set of processes sharing one registry, bus, store and
// identity source.
type cluster struct {
	registry *memRegistry
	bus      *loopbackBus
	store    *memStore
	identity *memIdentity
	push     *recordingPush
}

var (
	alice = domain.User{ID: 1, Username: "alice"}
	bob   = domain.User{ID: 2, Username: "bob"}
	carol = domain.User{ID: 3, Username: "carol"}
)

func newCluster() *cluster {
	users := []domain.User{alice, bob, carol}
	c := &cluster{
		registry: newMemRegistry(),
		bus:      &loopbackBus{},
		store:    newMemStore(users),
		identity: newMemIdentity(users),
		push:     &recordingPush{},
	}
	c.identity.befriend("alice", "bob", 10)
	return c
}

func (c *cluster) process(t *testing.T, instanceID string) *MessageService {
	t.Helper()
	ms := NewMessageService(
		c.registry,
		c.bus,
		c.store,
		c.identity,
		c.push,
		metrics.New(prometheus.NewRegistry()),
		Options{InstanceID: instanceID, RecoveryBatchSize: 100, ClientSendBuffer: 64},
	)
	require.NoError(t, ms.Start(context.Background()))
	return ms
}

func frame(t *testing.T, eventType EventType, data any) []byte {
	t.Helper()
	payload, err := json.Marshal(data)
	require.NoError(t, err)
	raw, err := json.Marshal(InboundMessage{Type: eventType, Data: payload})
	require.NoError(t, err)
	return raw
}

// connect opens a connection on ms authenticated as user and registers it.
func connect(t *testing.T, ms *MessageService, user domain.User) *Client {
	t.Helper()
	client := ms.NewClient(user.ID, user.Username, nil)
	ms.HandleFrame(context.Background(), client, frame(t, RegisterType, RegisterRequest{Username: user.Username}))
	require.Equal(t, domain.ConnRegistered, client.State(), "register %s", user.Username)
	return client
}

// drain returns every frame queued for the client so far.
func drain(client *Client) []*OutboundMessage {
	var out []*OutboundMessage
	for {
		select {
		case msg := <-client.send:
			out = append(out, msg)
		default:
			return out
		}
	}
}

func ofType(frames []*OutboundMessage, t EventType) []*OutboundMessage {
	var out []*OutboundMessage
	for _, f := range frames {
		if f != nil && f.Type == t {
			out = append(out, f)
		}
	}
	return out
}

func decode[T any](t *testing.T, msg *OutboundMessage) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(msg.Data, &v))
	return v
}
