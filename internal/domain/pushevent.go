package domain

import "time"

// PushEvent is an externally raised signal that the listed recipients may
// have new notifications waiting. Processed transitions false to true exactly
// once per event; delivery to individual recipients is best-effort.
type PushEvent struct {
	ID           string
	RecipientIDs []string
	Processed    bool
	CreatedAt    time.Time
}
