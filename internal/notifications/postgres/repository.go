// Package postgres provides the PostgreSQL implementation of the
// notifications repository.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/bissquit/pushgarden/internal/domain"
	"github.com/bissquit/pushgarden/internal/notifications"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository implements notifications.Repository using PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new PostgreSQL repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// FetchFresh returns the recipient's undelivered notifications, oldest first.
func (r *Repository) FetchFresh(ctx context.Context, recipientID string) ([]domain.Notification, error) {
	query := `
		SELECT id, recipient_id, sender_id, post_id, is_fresh, created_at
		FROM notifications
		WHERE recipient_id = $1 AND is_fresh
		ORDER BY created_at
	`
	rows, err := r.db.Query(ctx, query, recipientID)
	if err != nil {
		return nil, fmt.Errorf("fetch fresh notifications: %w", err)
	}
	defer rows.Close()

	notifs := make([]domain.Notification, 0)
	for rows.Next() {
		var n domain.Notification
		err := rows.Scan(
			&n.ID,
			&n.RecipientID,
			&n.SenderID,
			&n.PostID,
			&n.IsFresh,
			&n.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		notifs = append(notifs, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("fetch fresh notifications: %w", err)
	}

	return notifs, nil
}

// MarkDelivered flips is_fresh off for the given notification ids.
func (r *Repository) MarkDelivered(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	query := `UPDATE notifications SET is_fresh = FALSE WHERE id = ANY($1)`
	if _, err := r.db.Exec(ctx, query, ids); err != nil {
		return fmt.Errorf("mark notifications delivered: %w", err)
	}
	return nil
}

// FindByCurrentKey returns the user holding the given session key.
func (r *Repository) FindByCurrentKey(ctx context.Context, key string) (*domain.User, error) {
	query := `
		SELECT id, name, avatar_url, COALESCE(current_key, ''), created_at
		FROM users
		WHERE current_key = $1
	`
	user, err := scanUser(r.db.QueryRow(ctx, query, key))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notifications.ErrUserNotFound
		}
		return nil, fmt.Errorf("find user by key: %w", err)
	}
	return user, nil
}

// FindCurrentKey returns the user's active session key.
func (r *Repository) FindCurrentKey(ctx context.Context, userID string) (string, error) {
	if _, err := uuid.Parse(userID); err != nil {
		return "", notifications.ErrUserNotFound
	}

	query := `SELECT current_key FROM users WHERE id = $1`
	var key *string
	if err := r.db.QueryRow(ctx, query, userID).Scan(&key); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", notifications.ErrUserNotFound
		}
		return "", fmt.Errorf("find current key: %w", err)
	}
	if key == nil || *key == "" {
		return "", notifications.ErrKeyNotFound
	}
	return *key, nil
}

// FindUser returns the user by id.
func (r *Repository) FindUser(ctx context.Context, userID string) (*domain.User, error) {
	if _, err := uuid.Parse(userID); err != nil {
		return nil, notifications.ErrUserNotFound
	}

	query := `
		SELECT id, name, avatar_url, COALESCE(current_key, ''), created_at
		FROM users
		WHERE id = $1
	`
	user, err := scanUser(r.db.QueryRow(ctx, query, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notifications.ErrUserNotFound
		}
		return nil, fmt.Errorf("find user: %w", err)
	}
	return user, nil
}

// Find returns the push event by id. A malformed id is reported the same way
// as an unknown one: the event does not exist.
func (r *Repository) Find(ctx context.Context, id string) (*domain.PushEvent, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, notifications.ErrEventNotFound
	}

	query := `
		SELECT id, recipient_ids, is_processed, created_at
		FROM push_events
		WHERE id = $1
	`
	var ev domain.PushEvent
	err := r.db.QueryRow(ctx, query, id).Scan(
		&ev.ID,
		&ev.RecipientIDs,
		&ev.Processed,
		&ev.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notifications.ErrEventNotFound
		}
		return nil, fmt.Errorf("find push event: %w", err)
	}
	return &ev, nil
}

// MarkProcessed flips the push event's processed flag.
func (r *Repository) MarkProcessed(ctx context.Context, id string) error {
	query := `UPDATE push_events SET is_processed = TRUE WHERE id = $1`
	if _, err := r.db.Exec(ctx, query, id); err != nil {
		return fmt.Errorf("mark push event processed: %w", err)
	}
	return nil
}

func scanUser(row pgx.Row) (*domain.User, error) {
	var user domain.User
	err := row.Scan(
		&user.ID,
		&user.Name,
		&user.AvatarURL,
		&user.CurrentKey,
		&user.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &user, nil
}
