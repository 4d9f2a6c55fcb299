package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ReilBleem13/PalMessenger/internal/domain"
	"github.com/jmoiron/sqlx"
)

// UserRepo is a read-only view over accounts and friendships, which are
// managed elsewhere.
type UserRepo struct {
	db *sqlx.DB
}

func NewUserRepo(db *sqlx.DB) *UserRepo {
	return &UserRepo{
		db: db,
	}
}

func (ur *UserRepo) FindByUsername(ctx context.Context, username string) (*domain.User, error) {
	query := `
		SELECT id, username FROM users WHERE username = $1;
	`

	var user domain.User
	err := ur.db.GetContext(ctx, &user, query, username)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", username, err)
	}
	return &user, nil
}

// FindFriendship returns the accepted friendship between two users in
// either direction, or domain.ErrNotFriends.
func (ur *UserRepo) FindFriendship(ctx context.Context, userID1, userID2 int64) (*domain.Friendship, error) {
	query := `
		SELECT id, requester_id, addressee_id, status
		FROM friendships
		WHERE status = 'accepted'
			AND (
				(requester_id = $1 AND addressee_id = $2)
				OR
				(requester_id = $2 AND addressee_id = $1)
			)
		LIMIT 1;
	`

	var f domain.Friendship
	err := ur.db.GetContext(ctx, &f, query, userID1, userID2)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFriends
	}
	if err != nil {
		return nil, fmt.Errorf("get friendship %d-%d: %w", userID1, userID2, err)
	}
	return &f, nil
}

func (ur *UserRepo) FriendsOf(ctx context.Context, userID int64) ([]string, error) {
	query := `
		SELECT u.username
		FROM friendships f
		JOIN users u ON u.id = CASE
			WHEN f.requester_id = $1 THEN f.addressee_id
			ELSE f.requester_id
		END
		WHERE f.status = 'accepted'
			AND (f.requester_id = $1 OR f.addressee_id = $1)
		ORDER BY u.username;
	`

	var friends []string
	err := ur.db.SelectContext(ctx, &friends, query, userID)
	if err != nil {
		return nil, fmt.Errorf("select friends of %d: %w", userID, err)
	}
	return friends, nil
}
