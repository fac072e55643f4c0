package domain

import "time"

// User is a notification recipient or sender.
// CurrentKey is the opaque session token of the user's current long-poll
// connection; empty when the user has no active session.
type User struct {
	ID         string
	Name       string
	AvatarURL  string
	CurrentKey string
	CreatedAt  time.Time
}
