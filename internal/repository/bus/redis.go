package bus

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ReilBleem13/PalMessenger/internal/domain"
	"github.com/redis/go-redis/v9"
)

// Handler receives every event published on the channel, including the
// ones this process published itself.
type Handler = func(ctx context.Context, event domain.Event)

type RedisBus struct {
	redis   *redis.Client
	channel string
	origin  string
}

func NewRedisBus(redis *redis.Client, channel, origin string) *RedisBus {
	return &RedisBus{
		redis:   redis,
		channel: channel,
		origin:  origin,
	}
}

func (rb *RedisBus) Publish(ctx context.Context, event domain.Event) error {
	data, err := domain.EncodeEvent(rb.origin, event)
	if err != nil {
		return err
	}

	if err := rb.redis.Publish(ctx, rb.channel, data).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", event.Kind(), err)
	}
	return nil
}

// Subscribe returns once the subscription is confirmed by the server and
// keeps dispatching on a background goroutine until ctx is done.
func (rb *RedisBus) Subscribe(ctx context.Context, handler Handler) error {
	pubSub := rb.redis.Subscribe(ctx, rb.channel)

	if _, err := pubSub.Receive(ctx); err != nil {
		pubSub.Close()
		return fmt.Errorf("subscribe %s: %w", rb.channel, err)
	}

	ch := pubSub.Channel()

	go func() {
		defer pubSub.Close()

		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				dispatch(ctx, []byte(msg.Payload), handler)
			}
		}
	}()
	return nil
}

func (rb *RedisBus) Close() error {
	return nil
}

func dispatch(ctx context.Context, payload []byte, handler Handler) {
	event, env, err := domain.DecodeEvent(payload)
	if err != nil {
		slog.Warn("Dropping malformed bus event", "error", err)
		return
	}

	slog.Debug("Bus event received", "kind", env.Kind, "origin", env.Origin)
	handler(ctx, event)
}
