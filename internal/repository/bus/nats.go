package bus

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ReilBleem13/PalMessenger/internal/domain"
	"github.com/nats-io/nats.go"
	"github.com/sethvargo/go-retry"
)

type NATSBus struct {
	conn    *nats.Conn
	subject string
	origin  string
}

func NewNATSBus(conn *nats.Conn, subject, origin string) *NATSBus {
	return &NATSBus{
		conn:    conn,
		subject: subject,
		origin:  origin,
	}
}

// ConnectNATS dials the server with retries and keeps reconnecting
// forever once connected.
func ConnectNATS(ctx context.Context, url, name string) (*nats.Conn, error) {
	var nc *nats.Conn

	backoff := retry.WithMaxRetries(10, retry.NewExponential(500*time.Millisecond))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		conn, err := nats.Connect(url,
			nats.Name(name),
			nats.MaxReconnects(-1),
			nats.ReconnectWait(2*time.Second),
		)
		if err != nil {
			slog.Info("Waiting for NATS", "url", url, "error", err)
			return retry.RetryableError(err)
		}
		nc = conn
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", url, err)
	}
	return nc, nil
}

func (nb *NATSBus) Publish(ctx context.Context, event domain.Event) error {
	data, err := domain.EncodeEvent(nb.origin, event)
	if err != nil {
		return err
	}

	if err := nb.conn.Publish(nb.subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", event.Kind(), err)
	}
	return nil
}

func (nb *NATSBus) Subscribe(ctx context.Context, handler Handler) error {
	sub, err := nb.conn.Subscribe(nb.subject, func(msg *nats.Msg) {
		dispatch(ctx, msg.Data, handler)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", nb.subject, err)
	}

	if err := nb.conn.Flush(); err != nil {
		sub.Unsubscribe()
		return fmt.Errorf("confirm subscription %s: %w", nb.subject, err)
	}

	go func() {
		<-ctx.Done()
		if err := sub.Unsubscribe(); err != nil && err != nats.ErrConnectionClosed {
			slog.Warn("Failed to unsubscribe from bus", "subject", nb.subject, "error", err)
		}
	}()
	return nil
}

func (nb *NATSBus) Close() error {
	if err := nb.conn.Drain(); err != nil {
		nb.conn.Close()
		return err
	}
	return nil
}
