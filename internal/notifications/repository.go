// Package notifications defines the storage and rendering boundary of the
// long-poll core. The core holds no durable state of its own: notification
// records, users and push events live behind these interfaces, with pgx and
// mongo implementations in the postgres and mongo subpackages.
package notifications

import (
	"context"

	"github.com/bissquit/pushgarden/internal/domain"
)

// Store gives read/update access to persisted notification records.
type Store interface {
	// FetchFresh returns the recipient's undelivered notifications, oldest
	// first. An empty slice means no fresh notifications; store failures are
	// returned as errors and must not be conflated with an empty result.
	FetchFresh(ctx context.Context, recipientID string) ([]domain.Notification, error)

	// MarkDelivered flips IsFresh off for the given notification ids so the
	// next probe does not return them again.
	MarkDelivered(ctx context.Context, ids []string) error
}

// UserDirectory resolves users and their current long-poll session keys.
type UserDirectory interface {
	// FindByCurrentKey returns the user whose active session key equals key.
	// Returns ErrUserNotFound when no user holds the key.
	FindByCurrentKey(ctx context.Context, key string) (*domain.User, error)

	// FindCurrentKey returns the user's active session key.
	// Returns ErrKeyNotFound when the user has no active session.
	FindCurrentKey(ctx context.Context, userID string) (string, error)

	// FindUser returns the user by id. Returns ErrUserNotFound when absent.
	FindUser(ctx context.Context, userID string) (*domain.User, error)
}

// PushEventStore gives access to externally created push events.
type PushEventStore interface {
	// Find returns the push event by id. Returns ErrEventNotFound for an
	// unknown or malformed id.
	Find(ctx context.Context, id string) (*domain.PushEvent, error)

	// MarkProcessed flips the event's processed flag.
	MarkProcessed(ctx context.Context, id string) error
}

// Repository bundles all three storage interfaces; both backend
// implementations satisfy it with a single struct.
type Repository interface {
	Store
	UserDirectory
	PushEventStore
}
