package trigger

import "errors"

var (
	// ErrUnauthorized is returned when the push token is missing, malformed
	// or carries the wrong scope.
	ErrUnauthorized = errors.New("unauthorized")
)
