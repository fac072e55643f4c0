package longpoll

import "errors"

// Wait errors.
var (
	// ErrUnknownKey means no user holds the presented session key. The
	// request is rejected before any waiter is created.
	ErrUnknownKey = errors.New("unknown session key")

	// ErrSuperseded means a newer wait arrived for the same key while this
	// one was suspended; the older connection is released with a conflict.
	ErrSuperseded = errors.New("wait superseded by a newer connection")
)
