// Package mongo provides the MongoDB implementation of the notifications
// repository. Collection and field names follow the layout written by the
// upstream producers: users, notifications and push_notifications.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bissquit/pushgarden/internal/domain"
	"github.com/bissquit/pushgarden/internal/notifications"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// Repository implements notifications.Repository using MongoDB.
type Repository struct {
	users  *mongo.Collection
	notifs *mongo.Collection
	events *mongo.Collection
}

// NewRepository creates a new MongoDB repository.
func NewRepository(db *mongo.Database) *Repository {
	return &Repository{
		users:  db.Collection("users"),
		notifs: db.Collection("notifications"),
		events: db.Collection("push_notifications"),
	}
}

type userDoc struct {
	ID         bson.ObjectID `bson:"_id"`
	Name       string        `bson:"name"`
	AvatarURL  string        `bson:"avatar_url,omitempty"`
	CurrentKey string        `bson:"current_key,omitempty"`
	CreatedAt  time.Time     `bson:"created_at,omitempty"`
}

type notificationDoc struct {
	ID         bson.ObjectID `bson:"_id"`
	ToUserID   bson.ObjectID `bson:"to_user_id"`
	FromUserID bson.ObjectID `bson:"from_user_id"`
	PostID     bson.ObjectID `bson:"post_id"`
	IsFresh    bool          `bson:"is_fresh"`
	CreatedAt  time.Time     `bson:"created_at,omitempty"`
}

type pushEventDoc struct {
	ID          bson.ObjectID   `bson:"_id"`
	Users       []bson.ObjectID `bson:"users"`
	IsProcessed bool            `bson:"is_processed"`
	CreatedAt   time.Time       `bson:"created_at,omitempty"`
}

// FetchFresh returns the recipient's undelivered notifications, oldest first.
func (r *Repository) FetchFresh(ctx context.Context, recipientID string) ([]domain.Notification, error) {
	oid, err := bson.ObjectIDFromHex(recipientID)
	if err != nil {
		return []domain.Notification{}, nil
	}

	cursor, err := r.notifs.Find(ctx,
		bson.M{"to_user_id": oid, "is_fresh": true},
		options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}),
	)
	if err != nil {
		return nil, fmt.Errorf("fetch fresh notifications: %w", err)
	}
	defer cursor.Close(ctx)

	notifs := make([]domain.Notification, 0)
	for cursor.Next(ctx) {
		var doc notificationDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode notification: %w", err)
		}
		notifs = append(notifs, toNotification(doc))
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("fetch fresh notifications: %w", err)
	}

	return notifs, nil
}

// MarkDelivered flips is_fresh off for the given notification ids.
func (r *Repository) MarkDelivered(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	oids := make([]bson.ObjectID, 0, len(ids))
	for _, id := range ids {
		oid, err := bson.ObjectIDFromHex(id)
		if err != nil {
			return fmt.Errorf("mark notifications delivered: bad id %q: %w", id, err)
		}
		oids = append(oids, oid)
	}

	_, err := r.notifs.UpdateMany(ctx,
		bson.M{"_id": bson.M{"$in": oids}},
		bson.M{"$set": bson.M{"is_fresh": false}},
	)
	if err != nil {
		return fmt.Errorf("mark notifications delivered: %w", err)
	}
	return nil
}

// FindByCurrentKey returns the user holding the given session key.
func (r *Repository) FindByCurrentKey(ctx context.Context, key string) (*domain.User, error) {
	var doc userDoc
	err := r.users.FindOne(ctx, bson.M{"current_key": key}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, notifications.ErrUserNotFound
		}
		return nil, fmt.Errorf("find user by key: %w", err)
	}
	return toUser(doc), nil
}

// FindCurrentKey returns the user's active session key.
func (r *Repository) FindCurrentKey(ctx context.Context, userID string) (string, error) {
	user, err := r.FindUser(ctx, userID)
	if err != nil {
		return "", err
	}
	if user.CurrentKey == "" {
		return "", notifications.ErrKeyNotFound
	}
	return user.CurrentKey, nil
}

// FindUser returns the user by id.
func (r *Repository) FindUser(ctx context.Context, userID string) (*domain.User, error) {
	oid, err := bson.ObjectIDFromHex(userID)
	if err != nil {
		return nil, notifications.ErrUserNotFound
	}

	var doc userDoc
	err = r.users.FindOne(ctx, bson.M{"_id": oid}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, notifications.ErrUserNotFound
		}
		return nil, fmt.Errorf("find user: %w", err)
	}
	return toUser(doc), nil
}

// Find returns the push event by id. A malformed id is reported the same way
// as an unknown one: the event does not exist.
func (r *Repository) Find(ctx context.Context, id string) (*domain.PushEvent, error) {
	oid, err := bson.ObjectIDFromHex(id)
	if err != nil {
		return nil, notifications.ErrEventNotFound
	}

	var doc pushEventDoc
	err = r.events.FindOne(ctx, bson.M{"_id": oid}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, notifications.ErrEventNotFound
		}
		return nil, fmt.Errorf("find push event: %w", err)
	}

	recipients := make([]string, 0, len(doc.Users))
	for _, u := range doc.Users {
		recipients = append(recipients, u.Hex())
	}

	return &domain.PushEvent{
		ID:           doc.ID.Hex(),
		RecipientIDs: recipients,
		Processed:    doc.IsProcessed,
		CreatedAt:    createdAt(doc.CreatedAt, doc.ID),
	}, nil
}

// MarkProcessed flips the push event's processed flag.
func (r *Repository) MarkProcessed(ctx context.Context, id string) error {
	oid, err := bson.ObjectIDFromHex(id)
	if err != nil {
		return fmt.Errorf("mark push event processed: bad id %q: %w", id, err)
	}

	_, err = r.events.UpdateOne(ctx,
		bson.M{"_id": oid},
		bson.M{"$set": bson.M{"is_processed": true}},
	)
	if err != nil {
		return fmt.Errorf("mark push event processed: %w", err)
	}
	return nil
}

func toUser(doc userDoc) *domain.User {
	return &domain.User{
		ID:         doc.ID.Hex(),
		Name:       doc.Name,
		AvatarURL:  doc.AvatarURL,
		CurrentKey: doc.CurrentKey,
		CreatedAt:  createdAt(doc.CreatedAt, doc.ID),
	}
}

func toNotification(doc notificationDoc) domain.Notification {
	return domain.Notification{
		ID:          doc.ID.Hex(),
		RecipientID: doc.ToUserID.Hex(),
		SenderID:    doc.FromUserID.Hex(),
		PostID:      doc.PostID.Hex(),
		IsFresh:     doc.IsFresh,
		CreatedAt:   createdAt(doc.CreatedAt, doc.ID),
	}
}

// createdAt falls back to the object id's embedded timestamp for documents
// written without an explicit created_at field.
func createdAt(t time.Time, id bson.ObjectID) time.Time {
	if !t.IsZero() {
		return t
	}
	return id.Timestamp()
}
