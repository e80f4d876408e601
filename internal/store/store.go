// Package store persists the reference server's entities, change feed and
// idempotency records.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/erauner12/fieldsync/internal/syncx"
	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when deleting an entity the server never saw
	ErrNotFound = errors.New("entity not found")

	// ErrConflict is returned when creating an entity that already exists
	ErrConflict = errors.New("entity already exists")
)

// MutationKind is what a mutation does to its entity
type MutationKind string

const (
	MutationCreate MutationKind = "create"
	MutationUpdate MutationKind = "update"
	MutationDelete MutationKind = "delete"
)

// Mutation is one client write
type Mutation struct {
	Kind       MutationKind
	EntityType string
	UID        string
	UpdatedAt  time.Time // client clock; last write wins on it
	Data       json.RawMessage
}

// Entity is one stored row
type Entity struct {
	RowID       uuid.UUID
	EntityType  string
	UID         string
	Version     int
	UpdatedAtMs int64 // client clock of the winning write
	ChangedMs   int64 // server clock; orders the change feed
	Deleted     bool
	Data        json.RawMessage
}

// Record converts the row to its wire form
func (e Entity) Record() syncx.EntityRecord {
	return syncx.EntityRecord{
		EntityType: e.EntityType,
		UID:        e.UID,
		Version:    e.Version,
		UpdatedAt:  time.UnixMilli(e.UpdatedAtMs).UTC(),
		ChangedAt:  time.UnixMilli(e.ChangedMs).UTC(),
		Deleted:    e.Deleted,
		Data:       e.Data,
	}
}

// IdempotentResponse is the stored outcome of a keyed request
type IdempotentResponse struct {
	Status int
	Body   []byte
}

// Store is the reference server's persistence
type Store interface {
	// ApplyMutation applies m for owner with last-write-wins and returns the
	// entity as stored afterwards. A stale write changes nothing and returns
	// the current row.
	ApplyMutation(ctx context.Context, owner string, m Mutation) (Entity, error)

	// Changes returns up to limit rows changed after cursor, in feed order
	Changes(ctx context.Context, owner string, after syncx.Cursor, limit int) ([]Entity, error)

	// LookupIdempotency returns the stored response for key, nil if none
	LookupIdempotency(ctx context.Context, owner, key string) (*IdempotentResponse, error)

	// SaveIdempotency records the response for key; the first save wins
	SaveIdempotency(ctx context.Context, owner, key string, resp IdempotentResponse) error
}

// resolve decides the row that results from applying m over existing (nil if
// absent). changed is false when the write loses and nothing is stored.
func resolve(existing *Entity, m Mutation, nowMs int64) (next Entity, changed bool, err error) {
	ms := m.UpdatedAt.UnixMilli()

	if existing == nil {
		if m.Kind == MutationDelete {
			return Entity{}, false, fmt.Errorf("%w: %s %s", ErrNotFound, m.EntityType, m.UID)
		}
		return Entity{
			RowID:       uuid.New(),
			EntityType:  m.EntityType,
			UID:         m.UID,
			Version:     1,
			UpdatedAtMs: ms,
			ChangedMs:   nowMs,
			Data:        m.Data,
		}, true, nil
	}

	// Strict > keeps replays of the same write from bumping the version. A
	// create at or before the live row's timestamp is a replay or a lost
	// write, not a conflict.
	if ms <= existing.UpdatedAtMs {
		return *existing, false, nil
	}

	if m.Kind == MutationCreate && !existing.Deleted {
		return *existing, false, fmt.Errorf("%w: %s %s", ErrConflict, m.EntityType, m.UID)
	}

	next = *existing
	next.Version++
	next.UpdatedAtMs = ms
	next.ChangedMs = max(nowMs, existing.ChangedMs)
	if m.Kind == MutationDelete {
		next.Deleted = true
		next.Data = nil
	} else {
		next.Deleted = false
		next.Data = m.Data
	}
	return next, true, nil
}
