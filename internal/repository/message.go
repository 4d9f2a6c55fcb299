package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ReilBleem13/PalMessenger/internal/domain"
	"github.com/jmoiron/sqlx"
)

const pageSize = 20

type MessageRepo struct {
	db *sqlx.DB
}

func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{
		db: db,
	}
}

func (mr *MessageRepo) Create(ctx context.Context, senderID, recipientID, friendshipID int64, body string) (*domain.Message, error) {
	query := `
		INSERT INTO messages (
			sender_id,
			recipient_id,
			friendship_id,
			body,
			created_at
		)
		VALUES ($1, $2, $3, $4, NOW())
		RETURNING id, created_at;
	`

	msg := &domain.Message{
		SenderID:     senderID,
		RecipientID:  recipientID,
		FriendshipID: friendshipID,
		Body:         body,
	}
	err := mr.db.QueryRowContext(ctx, query, senderID, recipientID, friendshipID, body).Scan(&msg.ID, &msg.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	return msg, nil
}

func (mr *MessageRepo) FindByID(ctx context.Context, messageID int64) (*domain.Message, error) {
	query := `
		SELECT
			m.id,
			m.sender_id,
			m.recipient_id,
			m.friendship_id,
			m.body,
			m.delivered,
			m.delivered_at,
			m.read,
			m.read_at,
			m.created_at,
			s.username AS sender_username,
			r.username AS recipient_username
		FROM messages m
		JOIN users s ON s.id = m.sender_id
		JOIN users r ON r.id = m.recipient_id
		WHERE m.id = $1;
	`

	var msg domain.Message
	err := mr.db.GetContext(ctx, &msg, query, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrMessageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get message %d: %w", messageID, err)
	}
	return &msg, nil
}

// MarkDelivered sets delivered once; later calls leave delivered_at as is.
func (mr *MessageRepo) MarkDelivered(ctx context.Context, messageID int64) error {
	query := `
		UPDATE messages
		SET delivered = TRUE, delivered_at = NOW()
		WHERE id = $1 AND delivered = FALSE;
	`

	_, err := mr.db.ExecContext(ctx, query, messageID)
	if err != nil {
		return fmt.Errorf("mark message %d delivered: %w", messageID, err)
	}
	return nil
}

func (mr *MessageRepo) FindUndelivered(ctx context.Context, recipientID int64, limit int) ([]domain.Message, error) {
	query := `
		SELECT
			m.id,
			m.sender_id,
			m.recipient_id,
			m.friendship_id,
			m.body,
			m.delivered,
			m.delivered_at,
			m.read,
			m.read_at,
			m.created_at,
			s.username AS sender_username,
			r.username AS recipient_username
		FROM messages m
		JOIN users s ON s.id = m.sender_id
		JOIN users r ON r.id = m.recipient_id
		WHERE m.recipient_id = $1
			AND m.delivered = FALSE
		ORDER BY m.created_at ASC, m.id ASC
		LIMIT $2;
	`

	var messages []domain.Message
	err := mr.db.SelectContext(ctx, &messages, query, recipientID, limit)
	if err != nil {
		return nil, fmt.Errorf("select undelivered for %d: %w", recipientID, err)
	}
	return messages, nil
}

// ToggleReaction removes the user's reaction with this emoji if there is
// one and adds it otherwise. The returned action is what was applied.
func (mr *MessageRepo) ToggleReaction(ctx context.Context, messageID, userID int64, emoji string) (domain.ReactionAction, error) {
	tx, err := mr.db.BeginTxx(ctx, &sql.TxOptions{})
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	query := `
		DELETE FROM message_reactions
		WHERE message_id = $1 AND user_id = $2 AND emoji = $3;
	`

	res, err := tx.ExecContext(ctx, query, messageID, userID, emoji)
	if err != nil {
		return "", fmt.Errorf("delete reaction: %w", err)
	}

	rowsAff, err := res.RowsAffected()
	if err != nil {
		return "", err
	}

	action := domain.ReactionRemove
	if rowsAff == 0 {
		query = `
			INSERT INTO message_reactions (message_id, user_id, emoji)
			VALUES ($1, $2, $3)
			ON CONFLICT (message_id, user_id, emoji) DO NOTHING;
		`

		if _, err := tx.ExecContext(ctx, query, messageID, userID, emoji); err != nil {
			return "", fmt.Errorf("insert reaction: %w", err)
		}
		action = domain.ReactionAdd
	}

	if err := tx.Commit(); err != nil {
		return "", err
	}
	return action, nil
}

func (mr *MessageRepo) GetReactions(ctx context.Context, messageID int64) ([]domain.Reaction, error) {
	query := `
		SELECT message_id, user_id, emoji, created_at
		FROM message_reactions
		WHERE message_id = $1
		ORDER BY id ASC;
	`

	var reactions []domain.Reaction
	err := mr.db.SelectContext(ctx, &reactions, query, messageID)
	if err != nil {
		return nil, fmt.Errorf("select reactions of %d: %w", messageID, err)
	}
	return reactions, nil
}

// MarkConversationRead marks every message from senderID to readerID read
// and returns the number of rows changed.
func (mr *MessageRepo) MarkConversationRead(ctx context.Context, readerID, senderID int64) (int64, error) {
	query := `
		UPDATE messages
		SET read = TRUE, read_at = NOW()
		WHERE recipient_id = $1 AND sender_id = $2 AND read = FALSE;
	`

	res, err := mr.db.ExecContext(ctx, query, readerID, senderID)
	if err != nil {
		return 0, fmt.Errorf("mark conversation read: %w", err)
	}
	return res.RowsAffected()
}

// PaginateConversation returns up to one page of messages between two
// users, newest first, starting below cursor when it is set.
func (mr *MessageRepo) PaginateConversation(ctx context.Context, userID1, userID2 int64, cursor *int64) ([]domain.Message, *int64, bool, error) {
	var (
		query    string
		err      error
		messages []domain.Message
	)

	if cursor == nil {
		query = `
			SELECT
				m.id,
				m.sender_id,
				m.recipient_id,
				m.friendship_id,
				m.body,
				m.delivered,
				m.delivered_at,
				m.read,
				m.read_at,
				m.created_at,
				s.username AS sender_username,
				r.username AS recipient_username
			FROM messages m
			JOIN users s ON s.id = m.sender_id
			JOIN users r ON r.id = m.recipient_id
			WHERE (
				(m.sender_id = $1 AND m.recipient_id = $2)
				OR
				(m.sender_id = $2 AND m.recipient_id = $1)
			)
			ORDER BY m.id DESC
			LIMIT 21;
		`
		err = mr.db.SelectContext(ctx, &messages, query, userID1, userID2)
	} else {
		query = `
			SELECT
				m.id,
				m.sender_id,
				m.recipient_id,
				m.friendship_id,
				m.body,
				m.delivered,
				m.delivered_at,
				m.read,
				m.read_at,
				m.created_at,
				s.username AS sender_username,
				r.username AS recipient_username
			FROM messages m
			JOIN users s ON s.id = m.sender_id
			JOIN users r ON r.id = m.recipient_id
			WHERE (
				(m.sender_id = $1 AND m.recipient_id = $2)
				OR
				(m.sender_id = $2 AND m.recipient_id = $1)
			)
			AND m.id < $3
			ORDER BY m.id DESC
			LIMIT 21;
		`
		err = mr.db.SelectContext(ctx, &messages, query, userID1, userID2, *cursor)
	}
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, nil, false, err
	}

	hasMore := len(messages) > pageSize
	if hasMore {
		messages = messages[:pageSize]
	}

	for i := range messages {
		reactions, err := mr.GetReactions(ctx, messages[i].ID)
		if err != nil {
			return nil, nil, false, err
		}
		messages[i].Reactions = reactions
	}

	var nextCursor *int64
	if len(messages) > 0 {
		lastID := messages[len(messages)-1].ID
		nextCursor = &lastID
	}
	return messages, nextCursor, hasMore, nil
}
