// Package retry decides what happens to an operation after a failed dispatch.
package retry

import (
	"github.com/erauner12/fieldsync/internal/dispatch"
	"github.com/erauner12/fieldsync/internal/queue"
)

const (
	DefaultMaxRetries         = 5
	DefaultBackgroundMaxRetry = 3
)

// Decision is the outcome of a failed attempt
type Decision int

const (
	// Retry keeps the operation queued with its count incremented
	Retry Decision = iota
	// Evict removes the operation; its mutation is lost
	Evict
)

func (d Decision) String() string {
	if d == Evict {
		return "evict"
	}
	return "retry"
}

// Policy holds the retry limits
type Policy struct {
	// MaxRetries is the failure count at which an operation is evicted
	MaxRetries int
	// BackgroundMaxRetry bounds which operations the background job attempts
	BackgroundMaxRetry int
}

// DefaultPolicy returns the standard limits (5 and 3)
func DefaultPolicy() Policy {
	return Policy{MaxRetries: DefaultMaxRetries, BackgroundMaxRetry: DefaultBackgroundMaxRetry}
}

func (p Policy) maxRetries() int {
	if p.MaxRetries <= 0 {
		return DefaultMaxRetries
	}
	return p.MaxRetries
}

func (p Policy) backgroundMax() int {
	if p.BackgroundMaxRetry <= 0 {
		return DefaultBackgroundMaxRetry
	}
	return p.BackgroundMaxRetry
}

// ShouldRetry reports whether op still has retry budget
func (p Policy) ShouldRetry(op queue.SyncOperation) bool {
	return op.RetryCount < p.maxRetries()
}

// RecordFailure returns a copy of op with one more failure counted
func (p Policy) RecordFailure(op queue.SyncOperation) queue.SyncOperation {
	op.RetryCount++
	return op
}

// BackgroundEligible reports whether the background job may attempt op
func (p Policy) BackgroundEligible(op queue.SyncOperation) bool {
	return op.RetryCount < p.backgroundMax()
}

// Decide classifies a failed attempt. Permanent errors evict at once
// without touching the count; otherwise the count is incremented and the
// operation is evicted when it reaches MaxRetries. The returned operation
// carries the count to persist.
func (p Policy) Decide(op queue.SyncOperation, err error) (Decision, queue.SyncOperation) {
	if dispatch.IsPermanent(err) {
		return Evict, op
	}

	next := p.RecordFailure(op)
	if !p.ShouldRetry(next) {
		return Evict, next
	}
	return Retry, next
}
