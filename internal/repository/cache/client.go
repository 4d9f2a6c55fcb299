package cache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ReilBleem13/PalMessenger/internal/config"
	"github.com/redis/go-redis/v9"
	"github.com/sethvargo/go-retry"
)

// NewRedisClient connects and pings Redis, retrying with exponential
// backoff while the server is still coming up.
func NewRedisClient(ctx context.Context, cfg config.Redis) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	backoff := retry.WithMaxRetries(8, retry.NewExponential(250*time.Millisecond))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := client.Ping(ctx).Err(); err != nil {
			slog.Info("Waiting for Redis", "addr", cfg.Addr(), "error", err)
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("connect redis %s: %w", cfg.Addr(), err)
	}
	return client, nil
}
