// Package queue is the durable, ordered store of pending local mutations.
//
// Every mutation is written through to the key-value store as a full snapshot
// of the list. If queue depth regularly exceeds ~500 entries, replace the
// snapshot with an append-only log plus periodic compaction.
package queue

import (
	"encoding/json"
	"fmt"
	"time"
)

// OperationType is the kind of mutation an operation carries
type OperationType string

const (
	OpCreate OperationType = "create"
	OpUpdate OperationType = "update"
	OpDelete OperationType = "delete"
)

// Valid reports whether t is one of the known operation types
func (t OperationType) Valid() bool {
	switch t {
	case OpCreate, OpUpdate, OpDelete:
		return true
	}
	return false
}

// EntityType names a domain entity. The set is open: the dispatcher decides
// which entity types it can route.
type EntityType string

const (
	EntityLead     EntityType = "lead"
	EntityProperty EntityType = "property"
	EntityNote     EntityType = "note"
	EntityTask     EntityType = "task"
)

// KnownEntities lists the entity types the reference remote API serves
var KnownEntities = []EntityType{EntityLead, EntityProperty, EntityNote, EntityTask}

// SyncOperation is one pending local mutation
type SyncOperation struct {
	ID         string          `json:"id"`
	Type       OperationType   `json:"type"`
	EntityType EntityType      `json:"entityType"`
	EntityID   string          `json:"entityId"`
	Data       json.RawMessage `json:"data,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
	RetryCount int             `json:"retryCount"`
	LastError  string          `json:"lastError,omitempty"`
}

// Input is what callers provide to enqueue a mutation
type Input struct {
	Type       OperationType
	EntityType EntityType
	EntityID   string
	Data       json.RawMessage
}

// Validate checks the fields the engine relies on; Data is never inspected
func (in Input) Validate() error {
	if !in.Type.Valid() {
		return fmt.Errorf("%w: unknown type %q", ErrInvalidOperation, in.Type)
	}
	if in.EntityType == "" {
		return fmt.Errorf("%w: entityType is required", ErrInvalidOperation)
	}
	if in.EntityID == "" {
		return fmt.Errorf("%w: entityId is required", ErrInvalidOperation)
	}
	if len(in.Data) > 0 && !json.Valid(in.Data) {
		return fmt.Errorf("%w: data is not valid JSON", ErrInvalidOperation)
	}
	return nil
}

// MarshalJSON keeps timestamps in UTC RFC3339 with sub-second precision
func (op SyncOperation) MarshalJSON() ([]byte, error) {
	type alias SyncOperation
	return json.Marshal(struct {
		alias
		Timestamp string `json:"timestamp"`
	}{
		alias:     alias(op),
		Timestamp: op.Timestamp.UTC().Format(time.RFC3339Nano),
	})
}

// UnmarshalJSON accepts RFC3339 timestamps with or without fractional seconds
func (op *SyncOperation) UnmarshalJSON(b []byte) error {
	type alias SyncOperation
	aux := struct {
		*alias
		Timestamp string `json:"timestamp"`
	}{alias: (*alias)(op)}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	if aux.Timestamp == "" {
		op.Timestamp = time.Time{}
		return nil
	}
	ts, err := time.Parse(time.RFC3339Nano, aux.Timestamp)
	if err != nil {
		return fmt.Errorf("invalid timestamp %q: %w", aux.Timestamp, err)
	}
	op.Timestamp = ts.UTC()
	return nil
}
