package domain

import (
	"time"

	"github.com/google/uuid"
)

// NewID returns a time-ordered identifier so that stores ordering rows by
// key also return them in creation order.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// now is the creation timestamp source, truncated to what every store keeps.
func now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}
