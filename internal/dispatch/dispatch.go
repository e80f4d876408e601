// Package dispatch routes a queued operation to the remote call for its
// entity type and operation type.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/erauner12/fieldsync/internal/queue"
)

// Request is what a handler receives for one operation
type Request struct {
	OperationID    string
	EntityType     queue.EntityType
	EntityID       string
	Data           json.RawMessage
	Timestamp      time.Time
	IdempotencyKey string
}

// Handler performs the remote call for one operation
type Handler func(ctx context.Context, req Request) error

type route struct {
	entity queue.EntityType
	op     queue.OperationType
}

// Dispatcher maps (entity type, operation type) to a Handler
type Dispatcher struct {
	mu     sync.RWMutex
	routes map[route]Handler
}

// New returns an empty dispatcher
func New() *Dispatcher {
	return &Dispatcher{routes: make(map[route]Handler)}
}

// Register installs h for the combination, replacing any previous handler
func (d *Dispatcher) Register(entity queue.EntityType, op queue.OperationType, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.routes[route{entity, op}] = h
}

// Supports reports whether a handler exists for the combination
func (d *Dispatcher) Supports(entity queue.EntityType, op queue.OperationType) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.routes[route{entity, op}]
	return ok
}

// Routes lists registered combinations as "entity:op", sorted
func (d *Dispatcher) Routes() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]string, 0, len(d.routes))
	for r := range d.routes {
		out = append(out, string(r.entity)+":"+string(r.op))
	}
	sort.Strings(out)
	return out
}

// Dispatch performs exactly one remote call for op. It returns
// *UnsupportedOperationError when no handler is registered.
func (d *Dispatcher) Dispatch(ctx context.Context, op queue.SyncOperation) error {
	d.mu.RLock()
	h, ok := d.routes[route{op.EntityType, op.Type}]
	d.mu.RUnlock()

	if !ok {
		return &UnsupportedOperationError{EntityType: op.EntityType, Type: op.Type}
	}

	if err := h(ctx, Request{
		OperationID:    op.ID,
		EntityType:     op.EntityType,
		EntityID:       op.EntityID,
		Data:           op.Data,
		Timestamp:      op.Timestamp,
		IdempotencyKey: IdempotencyKey(op),
	}); err != nil {
		return fmt.Errorf("%s %s %s: %w", op.Type, op.EntityType, op.EntityID, err)
	}
	return nil
}

// IdempotencyKey is the stable key sent with every attempt of op so the
// server applies it at most once
func IdempotencyKey(op queue.SyncOperation) string {
	return "fs-" + op.ID
}
