// Package syncx holds the wire types and helpers shared by the sync client
// and the reference sync server.
package syncx

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// UpdateKind says whether a server change carries a new payload or a tombstone
type UpdateKind string

const (
	UpdateUpsert UpdateKind = "upsert"
	UpdateDelete UpdateKind = "delete"
)

// ServerUpdate is one change from the server's delta feed
type ServerUpdate struct {
	EntityType string          `json:"entityType"`
	EntityID   string          `json:"entityId"`
	Kind       UpdateKind      `json:"kind"`
	Data       json.RawMessage `json:"data,omitempty"`
	Version    int             `json:"version"`
	UpdatedAt  time.Time       `json:"updatedAt"`
	ChangedAt  time.Time       `json:"changedAt"` // server clock; feed order
}

// DeltaPage is the response body of GET /v1/sync/updates
type DeltaPage struct {
	Updates    []ServerUpdate `json:"updates"`
	NextCursor *string        `json:"nextCursor,omitempty"`
	ServerTime time.Time      `json:"serverTime"`
}

// MutationRequest is the body the client sends for create and update
// UpdatedAt is the client-side operation timestamp; the server applies
// last-write-wins on it
type MutationRequest struct {
	UID       string          `json:"uid"`
	UpdatedAt time.Time       `json:"updatedAt"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Validate checks the fields the server needs before touching storage
func (m MutationRequest) Validate() error {
	if m.UID == "" {
		return errors.New("missing uid")
	}
	if len(m.UID) > 128 {
		return errors.New("uid too long")
	}
	if m.UpdatedAt.IsZero() {
		return errors.New("missing updatedAt")
	}
	if len(m.Data) > 0 && !json.Valid(m.Data) {
		return errors.New("data is not valid json")
	}
	return nil
}

// ErrorBody is the JSON shape of every non-2xx response
type ErrorBody struct {
	Error         string `json:"error"`
	Message       string `json:"message,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

// Error codes used in ErrorBody.Error
const (
	CodeInvalidRequest = "invalid_request"
	CodeValidation     = "validation_failed"
	CodeUnauthorized   = "unauthorized"
	CodeNotFound       = "not_found"
	CodeConflict       = "conflict"
	CodeRateLimited    = "rate_limited"
	CodeInternal       = "internal_error"
)

// entityPaths maps entity types to their REST collection segment
var entityPaths = map[string]string{
	"lead":     "leads",
	"property": "properties",
	"note":     "notes",
	"task":     "tasks",
}

// EntityPath returns the collection path segment for an entity type
func EntityPath(entityType string) (string, error) {
	if p, ok := entityPaths[entityType]; ok {
		return p, nil
	}
	return "", fmt.Errorf("no collection for entity type %q", entityType)
}

// EntityFromPath is the inverse of EntityPath
func EntityFromPath(segment string) (string, bool) {
	for entity, p := range entityPaths {
		if p == segment {
			return entity, true
		}
	}
	return "", false
}

// EntityTypes returns the entity types with a REST collection
func EntityTypes() []string {
	return []string{"lead", "property", "note", "task"}
}

// EntityRecord is the server's view of one entity, returned by the entity
// routes after a mutation
type EntityRecord struct {
	EntityType string          `json:"entityType"`
	UID        string          `json:"uid"`
	Version    int             `json:"version"`
	UpdatedAt  time.Time       `json:"updatedAt"`
	ChangedAt  time.Time       `json:"changedAt"`
	Deleted    bool            `json:"deleted"`
	Data       json.RawMessage `json:"data,omitempty"`
}

// Update converts the record into a delta feed entry
func (r EntityRecord) Update() ServerUpdate {
	u := ServerUpdate{
		EntityType: r.EntityType,
		EntityID:   r.UID,
		Kind:       UpdateUpsert,
		Data:       r.Data,
		Version:    r.Version,
		UpdatedAt:  r.UpdatedAt,
		ChangedAt:  r.ChangedAt,
	}
	if r.Deleted {
		u.Kind = UpdateDelete
		u.Data = nil
	}
	return u
}
