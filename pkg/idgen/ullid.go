// Package idgen generates sortable and random identifiers used across the
// event store: ULIDs where a caller hasn't supplied its own identifier,
// and UUIDs for ephemeral handles like subscriptions and lock tokens.
package idgen

import (
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// MustGenerateSortableID returns a new ULID: lexicographically sortable
// by creation time, suitable as a default event or command identifier.
func MustGenerateSortableID() string {
	entropy := rand.New(rand.NewSource(time.Now().UnixNano()))
	ms := ulid.Timestamp(time.Now())
	id, err := ulid.New(ms, entropy)
	if err != nil {
		panic(err)
	}
	return id.String()
}

// NewHandle returns a random UUID, used for subscription handles and
// advisory-lock tokens where sortability isn't useful.
func NewHandle() string {
	return uuid.NewString()
}
