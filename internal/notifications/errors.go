package notifications

import "errors"

// Repository errors. Not-found conditions are expected no-ops for the
// callers; anything else coming out of a repository is a transient store
// failure and is wrapped, not replaced.
var (
	ErrUserNotFound  = errors.New("user not found")
	ErrKeyNotFound   = errors.New("no active session key for user")
	ErrEventNotFound = errors.New("push event not found")
)
