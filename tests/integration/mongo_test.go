//go:build integration

package integration

import (
	"context"
	"testing"
	"time"

	"github.com/bissquit/pushgarden/internal/notifications"
	notificationsmongo "github.com/bissquit/pushgarden/internal/notifications/mongo"
	mongoconn "github.com/bissquit/pushgarden/internal/pkg/mongo"
	"github.com/bissquit/pushgarden/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

// The mongo backend gets a focused repository test instead of a full server
// run: the HTTP surface is identical, only the storage layer differs.
func TestMongoRepository(t *testing.T) {
	ctx := context.Background()

	container, err := testutil.NewMongoContainer(ctx)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = container.Terminate(ctx)
	})

	db, err := mongoconn.Connect(ctx, mongoconn.Config{
		URI:             container.URI,
		Database:        "pushgarden_test",
		ConnectTimeout:  10 * time.Second,
		MaxPoolSize:     5,
		ConnectAttempts: 3,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = db.Client().Disconnect(ctx)
	})

	repo := notificationsmongo.NewRepository(db)

	senderID := seedMongoUser(t, db, "teal'c", "")
	recipientID := seedMongoUser(t, db, "vala", "sess-mongo-1")
	notifID := seedMongoNotification(t, db, recipientID, senderID)
	eventID := seedMongoPushEvent(t, db, recipientID)

	t.Run("find user by current key", func(t *testing.T) {
		user, err := repo.FindByCurrentKey(ctx, "sess-mongo-1")
		require.NoError(t, err)
		assert.Equal(t, recipientID.Hex(), user.ID)
		assert.Equal(t, "vala", user.Name)

		_, err = repo.FindByCurrentKey(ctx, "unknown-key")
		assert.ErrorIs(t, err, notifications.ErrUserNotFound)
	})

	t.Run("find current key", func(t *testing.T) {
		key, err := repo.FindCurrentKey(ctx, recipientID.Hex())
		require.NoError(t, err)
		assert.Equal(t, "sess-mongo-1", key)

		_, err = repo.FindCurrentKey(ctx, senderID.Hex())
		assert.ErrorIs(t, err, notifications.ErrKeyNotFound)

		_, err = repo.FindCurrentKey(ctx, "not-a-hex-id")
		assert.ErrorIs(t, err, notifications.ErrUserNotFound)
	})

	t.Run("fetch fresh and mark delivered", func(t *testing.T) {
		notifs, err := repo.FetchFresh(ctx, recipientID.Hex())
		require.NoError(t, err)
		require.Len(t, notifs, 1)
		assert.Equal(t, notifID.Hex(), notifs[0].ID)
		assert.Equal(t, senderID.Hex(), notifs[0].SenderID)

		require.NoError(t, repo.MarkDelivered(ctx, []string{notifID.Hex()}))

		notifs, err = repo.FetchFresh(ctx, recipientID.Hex())
		require.NoError(t, err)
		assert.Empty(t, notifs)
	})

	t.Run("push events", func(t *testing.T) {
		event, err := repo.Find(ctx, eventID.Hex())
		require.NoError(t, err)
		assert.False(t, event.Processed)
		assert.Equal(t, []string{recipientID.Hex()}, event.RecipientIDs)

		_, err = repo.Find(ctx, "malformed")
		assert.ErrorIs(t, err, notifications.ErrEventNotFound)

		require.NoError(t, repo.MarkProcessed(ctx, eventID.Hex()))

		event, err = repo.Find(ctx, eventID.Hex())
		require.NoError(t, err)
		assert.True(t, event.Processed)
	})
}

func seedMongoUser(t *testing.T, db *mongo.Database, name, key string) bson.ObjectID {
	t.Helper()

	id := bson.NewObjectID()
	doc := bson.M{"_id": id, "name": name}
	if key != "" {
		doc["current_key"] = key
	}

	_, err := db.Collection("users").InsertOne(context.Background(), doc)
	require.NoError(t, err)
	return id
}

func seedMongoNotification(t *testing.T, db *mongo.Database, recipientID, senderID bson.ObjectID) bson.ObjectID {
	t.Helper()

	id := bson.NewObjectID()
	_, err := db.Collection("notifications").InsertOne(context.Background(), bson.M{
		"_id":          id,
		"to_user_id":   recipientID,
		"from_user_id": senderID,
		"post_id":      bson.NewObjectID(),
		"is_fresh":     true,
	})
	require.NoError(t, err)
	return id
}

func seedMongoPushEvent(t *testing.T, db *mongo.Database, recipients ...bson.ObjectID) bson.ObjectID {
	t.Helper()

	id := bson.NewObjectID()
	_, err := db.Collection("push_notifications").InsertOne(context.Background(), bson.M{
		"_id":          id,
		"users":        recipients,
		"is_processed": false,
	})
	require.NoError(t, err)
	return id
}
