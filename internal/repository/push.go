package repository

import (
	"context"
	"fmt"

	"github.com/ReilBleem13/PalMessenger/internal/domain"
	"github.com/jmoiron/sqlx"
)

type PushSubscriptionRepo struct {
	db *sqlx.DB
}

func NewPushSubscriptionRepo(db *sqlx.DB) *PushSubscriptionRepo {
	return &PushSubscriptionRepo{
		db: db,
	}
}

// Save stores the subscription, moving an already known endpoint to the
// given user.
func (pr *PushSubscriptionRepo) Save(ctx context.Context, sub *domain.PushSubscription) error {
	query := `
		INSERT INTO push_subscriptions (user_id, endpoint, p256dh, auth)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (endpoint) DO UPDATE
		SET user_id = EXCLUDED.user_id, p256dh = EXCLUDED.p256dh, auth = EXCLUDED.auth
		RETURNING id, created_at;
	`

	err := pr.db.QueryRowContext(ctx, query, sub.UserID, sub.Endpoint, sub.P256dh, sub.Auth).Scan(&sub.ID, &sub.CreatedAt)
	if err != nil {
		return fmt.Errorf("save push subscription: %w", err)
	}
	return nil
}

func (pr *PushSubscriptionRepo) ListByUser(ctx context.Context, userID int64) ([]domain.PushSubscription, error) {
	query := `
		SELECT id, user_id, endpoint, p256dh, auth, created_at
		FROM push_subscriptions
		WHERE user_id = $1;
	`

	var subs []domain.PushSubscription
	err := pr.db.SelectContext(ctx, &subs, query, userID)
	if err != nil {
		return nil, fmt.Errorf("select push subscriptions of %d: %w", userID, err)
	}
	return subs, nil
}

func (pr *PushSubscriptionRepo) DeleteByEndpoint(ctx context.Context, endpoint string) error {
	query := `
		DELETE FROM push_subscriptions WHERE endpoint = $1;
	`

	_, err := pr.db.ExecContext(ctx, query, endpoint)
	if err != nil {
		return fmt.Errorf("delete push subscription: %w", err)
	}
	return nil
}
