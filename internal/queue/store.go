package queue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/erauner12/fieldsync/internal/kvstore"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	// StorageKey is where the queue snapshot lives in the key-value store
	StorageKey = "fieldsync:queue"

	// SnapshotVersion is the current snapshot format version
	SnapshotVersion = 1
)

// snapshot is the persisted layout: a version tag plus the ordered operations
type snapshot struct {
	Version    int             `json:"version"`
	Operations []SyncOperation `json:"operations"`
}

// Options configures a Store. Zero values fall back to defaults.
type Options struct {
	Key    string
	Now    func() time.Time
	NewID  func() string
	Logger *zerolog.Logger
}

// Store holds pending operations in FIFO order and writes every change
// through to durable storage
type Store struct {
	mu     sync.Mutex
	kv     kvstore.Store
	key    string
	ops    []SyncOperation
	now    func() time.Time
	newID  func() string
	logger *zerolog.Logger

	// degraded is the last persistence failure, empty when healthy
	degraded string

	// lastStamp is the newest timestamp handed out
	lastStamp time.Time
}

// New creates a queue store over kv. Call LoadAll at startup to restore
// operations persisted by a previous process.
func New(kv kvstore.Store, opts Options) *Store {
	s := &Store{
		kv:     kv,
		key:    opts.Key,
		now:    opts.Now,
		newID:  opts.NewID,
		logger: opts.Logger,
	}
	if s.key == "" {
		s.key = StorageKey
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.newID == nil {
		s.newID = func() string { return uuid.New().String() }
	}
	if s.logger == nil {
		s.logger = &log.Logger
	}
	return s
}

// Enqueue appends a new operation and persists the full list before returning.
// If the write fails the operation stays queued in memory and the returned
// error wraps ErrNotPersisted; the id is still valid.
func (s *Store) Enqueue(ctx context.Context, in Input) (string, error) {
	if err := in.Validate(); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	op := SyncOperation{
		ID:         s.newID(),
		Type:       in.Type,
		EntityType: in.EntityType,
		EntityID:   in.EntityID,
		Data:       compactRaw(in.Data),
		Timestamp:  s.stampLocked(),
		RetryCount: 0,
	}
	s.ops = append(s.ops, op)

	s.logger.Debug().
		Str("opId", op.ID).
		Str("type", string(op.Type)).
		Str("entityType", string(op.EntityType)).
		Str("entityId", op.EntityID).
		Int("depth", len(s.ops)).
		Msg("operation enqueued")

	if err := s.persistLocked(ctx); err != nil {
		return op.ID, err
	}
	return op.ID, nil
}

// stampLocked returns the timestamp for a new operation. The server resolves
// conflicts on millisecond timestamps, so consecutive operations are kept at
// least a millisecond apart.
func (s *Store) stampLocked() time.Time {
	ts := s.now().UTC()
	if floor := s.lastStamp.Add(time.Millisecond); !s.lastStamp.IsZero() && ts.Before(floor) {
		ts = floor
	}
	s.lastStamp = ts
	return ts
}

// PeekBatch returns up to max operations, oldest first, without removing them.
// When filter is non-nil only matching operations are returned.
func (s *Store) PeekBatch(max int, filter func(SyncOperation) bool) []SyncOperation {
	s.mu.Lock()
	defer s.mu.Unlock()

	if max <= 0 {
		return nil
	}

	batch := make([]SyncOperation, 0, min(max, len(s.ops)))
	for _, op := range s.ops {
		if filter != nil && !filter(op) {
			continue
		}
		batch = append(batch, cloneOp(op))
		if len(batch) == max {
			break
		}
	}
	return batch
}

// Remove deletes the operation with id and persists the list
func (s *Store) Remove(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexLocked(id)
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	s.ops = append(s.ops[:idx], s.ops[idx+1:]...)

	return s.persistLocked(ctx)
}

// UpdateRetryCount sets the retry count (and last failure, when non-nil) of
// an operation in place, keeping its queue position
func (s *Store) UpdateRetryCount(ctx context.Context, id string, newCount int, lastErr error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexLocked(id)
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	s.ops[idx].RetryCount = newCount
	if lastErr != nil {
		s.ops[idx].LastError = lastErr.Error()
	}

	return s.persistLocked(ctx)
}

// LoadAll replaces the in-memory queue with the persisted snapshot and
// returns a copy of it. A missing snapshot yields an empty queue.
func (s *Store) LoadAll(ctx context.Context) ([]SyncOperation, error) {
	raw, ok, err := s.kv.Get(ctx, s.key)
	if err != nil {
		s.mu.Lock()
		s.markDegradedLocked(err)
		s.mu.Unlock()
		return nil, fmt.Errorf("failed to read queue snapshot: %w", err)
	}

	var ops []SyncOperation
	if ok {
		ops, err = decodeSnapshot(raw)
		if err != nil {
			return nil, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops = ops
	for _, op := range ops {
		if op.Timestamp.After(s.lastStamp) {
			s.lastStamp = op.Timestamp
		}
	}
	s.logger.Info().Int("pending", len(ops)).Msg("sync queue loaded")
	return s.listLocked(), nil
}

// PersistAll replaces the queue with ops and writes it out
func (s *Store) PersistAll(ctx context.Context, ops []SyncOperation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ops = make([]SyncOperation, 0, len(ops))
	for _, op := range ops {
		s.ops = append(s.ops, cloneOp(op))
	}
	return s.persistLocked(ctx)
}

// Clear drops every pending operation
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dropped := len(s.ops)
	s.ops = nil
	s.logger.Warn().Int("dropped", dropped).Msg("sync queue cleared")
	return s.persistLocked(ctx)
}

// List returns a copy of all queued operations in order
func (s *Store) List() []SyncOperation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listLocked()
}

// Get returns a copy of one operation
func (s *Store) Get(id string) (SyncOperation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.indexLocked(id)
	if idx < 0 {
		return SyncOperation{}, false
	}
	return cloneOp(s.ops[idx]), true
}

// Len returns the number of queued operations
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ops)
}

// FailedCount returns the number of queued operations with RetryCount > 0
func (s *Store) FailedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, op := range s.ops {
		if op.RetryCount > 0 {
			n++
		}
	}
	return n
}

// Degraded reports whether the last write to durable storage failed
func (s *Store) Degraded() (bool, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.degraded != "", s.degraded
}

func (s *Store) persistLocked(ctx context.Context) error {
	data, err := json.Marshal(snapshot{Version: SnapshotVersion, Operations: s.nonNilLocked()})
	if err != nil {
		s.markDegradedLocked(err)
		return fmt.Errorf("%w: %v", ErrNotPersisted, err)
	}

	if err := s.kv.Set(ctx, s.key, data); err != nil {
		s.markDegradedLocked(err)
		return fmt.Errorf("%w: %v", ErrNotPersisted, err)
	}

	if s.degraded != "" {
		s.logger.Info().Msg("queue persistence recovered")
		s.degraded = ""
	}
	return nil
}

func (s *Store) markDegradedLocked(err error) {
	s.degraded = err.Error()
	s.logger.Error().Err(err).Int("pending", len(s.ops)).Msg("queue persistence failed; keeping operations in memory")
}

func (s *Store) indexLocked(id string) int {
	for i := range s.ops {
		if s.ops[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) listLocked() []SyncOperation {
	out := make([]SyncOperation, len(s.ops))
	for i, op := range s.ops {
		out[i] = cloneOp(op)
	}
	return out
}

func (s *Store) nonNilLocked() []SyncOperation {
	if s.ops == nil {
		return []SyncOperation{}
	}
	return s.ops
}

// decodeSnapshot accepts the versioned envelope and the legacy bare array
func decodeSnapshot(raw []byte) ([]SyncOperation, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, nil
	}

	if trimmed[0] == '[' {
		var ops []SyncOperation
		if err := json.Unmarshal(trimmed, &ops); err != nil {
			return nil, fmt.Errorf("failed to decode legacy queue snapshot: %w", err)
		}
		return ops, nil
	}

	var snap snapshot
	if err := json.Unmarshal(trimmed, &snap); err != nil {
		return nil, fmt.Errorf("failed to decode queue snapshot: %w", err)
	}
	if snap.Version < 1 || snap.Version > SnapshotVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, snap.Version)
	}
	return snap.Operations, nil
}

// compactRaw strips insignificant whitespace so a reloaded payload is
// byte-identical to what was persisted
func compactRaw(b json.RawMessage) json.RawMessage {
	if len(b) == 0 {
		return nil
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, b); err != nil {
		return cloneRaw(b)
	}
	return json.RawMessage(buf.Bytes())
}

func cloneOp(op SyncOperation) SyncOperation {
	op.Data = cloneRaw(op.Data)
	return op
}

func cloneRaw(b json.RawMessage) json.RawMessage {
	if b == nil {
		return nil
	}
	out := make(json.RawMessage, len(b))
	copy(out, b)
	return out
}
