package types

import "github.com/google/uuid"

// ConnectionID identifies the connection that originated a commit, so that
// the commit's own notification can be filtered out of its own change
// feed while still being delivered to every other subscriber.
type ConnectionID string

// NewConnectionID generates a fresh, process-unique connection id.
func NewConnectionID() ConnectionID {
	return ConnectionID(uuid.NewString())
}
