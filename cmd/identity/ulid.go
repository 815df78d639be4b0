package identity

import (
	"time"

	"huddle/cmd/identity/ids"
)

// NewULID returns a new user id (26-char ULID).
func NewULID(now time.Time) (string, error) {
	return ids.NewULID(now)
}
