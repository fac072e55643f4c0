//go:build integration

package integration

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/bissquit/pushgarden/internal/testutil"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// createTestUser inserts a user and returns its id. An empty key leaves the
// user without an active long-poll session.
func createTestUser(t *testing.T, name, key string) string {
	t.Helper()

	var currentKey *string
	if key != "" {
		currentKey = &key
	}

	var id string
	err := testDB.QueryRow(context.Background(),
		`INSERT INTO users (name, current_key) VALUES ($1, $2) RETURNING id`,
		name, currentKey,
	).Scan(&id)
	require.NoError(t, err)

	t.Cleanup(func() {
		_, _ = testDB.Exec(context.Background(), `DELETE FROM users WHERE id = $1`, id)
	})

	return id
}

// createTestNotification inserts a fresh notification and returns its id.
func createTestNotification(t *testing.T, recipientID, senderID, postID string) string {
	t.Helper()

	var id string
	err := testDB.QueryRow(context.Background(),
		`INSERT INTO notifications (recipient_id, sender_id, post_id) VALUES ($1, $2, $3) RETURNING id`,
		recipientID, senderID, postID,
	).Scan(&id)
	require.NoError(t, err)

	return id
}

// createTestPushEvent inserts an unprocessed push event and returns its id.
func createTestPushEvent(t *testing.T, recipientIDs ...string) string {
	t.Helper()

	var id string
	err := testDB.QueryRow(context.Background(),
		`INSERT INTO push_events (recipient_ids) VALUES ($1) RETURNING id`,
		recipientIDs,
	).Scan(&id)
	require.NoError(t, err)

	t.Cleanup(func() {
		_, _ = testDB.Exec(context.Background(), `DELETE FROM push_events WHERE id = $1`, id)
	})

	return id
}

// notificationIsFresh reads the freshness flag straight from the store.
func notificationIsFresh(t *testing.T, id string) bool {
	t.Helper()

	var fresh bool
	err := testDB.QueryRow(context.Background(),
		`SELECT is_fresh FROM notifications WHERE id = $1`, id,
	).Scan(&fresh)
	require.NoError(t, err)
	return fresh
}

// pushEventProcessed reads the processed flag straight from the store.
func pushEventProcessed(t *testing.T, id string) bool {
	t.Helper()

	var processed bool
	err := testDB.QueryRow(context.Background(),
		`SELECT is_processed FROM push_events WHERE id = $1`, id,
	).Scan(&processed)
	require.NoError(t, err)
	return processed
}

// signPushToken signs a push token for the trigger endpoint.
func signPushToken(t *testing.T, secret, scope string) string {
	t.Helper()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"scope": scope,
		"exp":   time.Now().Add(time.Hour).Unix(),
		"iat":   time.Now().Unix(),
	})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

// waitPath builds the wait endpoint path for a session key.
func waitPath(key string) string {
	return "/api/v1/notifications/wait?key=" + url.QueryEscape(key)
}

// pushPath builds the push endpoint path.
func pushPath(token, pushID string) string {
	return fmt.Sprintf("/api/v1/notifications/push?auth=%s&push_id=%s",
		url.QueryEscape(token), url.QueryEscape(pushID))
}

// newSessionKey returns a unique session key for one test.
func newSessionKey() string {
	return "sess-" + uuid.NewString()
}

// waitResult carries the outcome of an asynchronous wait request.
type waitResult struct {
	resp *http.Response
	err  error
}

// startWait issues the wait request in the background and returns the result
// channel plus a function that blocks until the server has the waiter
// registered.
func startWait(t *testing.T, client *testutil.Client, key string) (<-chan waitResult, func()) {
	t.Helper()

	results := make(chan waitResult, 1)
	go func() {
		resp, err := client.GET(waitPath(key))
		results <- waitResult{resp: resp, err: err}
	}()

	awaitRegistered := func() {
		require.Eventually(t, func() bool {
			return testApp.Registry().IsPending(key)
		}, 3*time.Second, 10*time.Millisecond, "waiter for %s never registered", key)
	}

	return results, awaitRegistered
}
