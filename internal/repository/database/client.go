package database

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/sethvargo/go-retry"
)

func NewPostgresClient(ctx context.Context, dsn string) (*sqlx.DB, error) {
	var client *sqlx.DB

	backoff := retry.WithMaxRetries(10, retry.NewExponential(500*time.Millisecond))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
		if err != nil {
			slog.Info("Waiting for PostgreSQL", "error", err)
			return retry.RetryableError(err)
		}
		client = db
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return client, nil
}
