package domain

import "time"

// Notification is a single persisted notification addressed to one recipient.
// IsFresh marks it as not yet delivered to its recipient; delivery flips the
// flag so the next probe does not return it again.
type Notification struct {
	ID          string
	RecipientID string
	SenderID    string
	PostID      string
	IsFresh     bool
	CreatedAt   time.Time
}
