// Package reconcile pulls the server's changes since the last successful
// sync and applies them to local state in the order received. The server
// wins: local pending operations are re-applied on top by the dispatcher on
// their next attempt.
package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/erauner12/fieldsync/internal/syncx"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultInitialLookback bounds the first pull when no sync has completed
const DefaultInitialLookback = 24 * time.Hour

// FeedOverlap is subtracted from the server's watermark so changes committed
// just behind it are pulled again on the next pass. Re-applying a change is
// harmless.
const FeedOverlap = time.Second

// Source fetches server changes; *remote.DeltaClient implements it
type Source interface {
	PullUpdates(ctx context.Context, since time.Time, deviceID string) ([]syncx.ServerUpdate, time.Time, error)
}

// Applier writes one server change to local state
type Applier interface {
	Apply(ctx context.Context, u syncx.ServerUpdate) error
}

// ApplierFunc adapts a function to Applier
type ApplierFunc func(ctx context.Context, u syncx.ServerUpdate) error

func (f ApplierFunc) Apply(ctx context.Context, u syncx.ServerUpdate) error { return f(ctx, u) }

// Result summarises one reconciliation pass
type Result struct {
	Since time.Time
	// Next is the since for the following pass, on the server clock. Zero
	// when the server did not report a time.
	Next    time.Time
	Fetched int
	Applied int
	Failed  int
}

// Options configures a Reconciler
type Options struct {
	DeviceID        string
	InitialLookback time.Duration
	Now             func() time.Time
	Logger          *zerolog.Logger
}

// Reconciler runs the pull-and-apply phase of a sync cycle
type Reconciler struct {
	source   Source
	applier  Applier
	deviceID string
	lookback time.Duration
	now      func() time.Time
	logger   *zerolog.Logger
}

// New creates a Reconciler
func New(source Source, applier Applier, opts Options) *Reconciler {
	r := &Reconciler{
		source:   source,
		applier:  applier,
		deviceID: opts.DeviceID,
		lookback: opts.InitialLookback,
		now:      opts.Now,
		logger:   opts.Logger,
	}
	if r.lookback <= 0 {
		r.lookback = DefaultInitialLookback
	}
	if r.now == nil {
		r.now = time.Now
	}
	if r.logger == nil {
		r.logger = &log.Logger
	}
	return r
}

// Run pulls changes since lastSync (or the initial lookback window when nil)
// and applies each in order. A failed apply is logged and counted and never
// stops the pass; only a failed pull returns an error.
func (r *Reconciler) Run(ctx context.Context, lastSync *time.Time) (Result, error) {
	since := r.now().Add(-r.lookback)
	if lastSync != nil && !lastSync.IsZero() {
		since = *lastSync
	}
	res := Result{Since: since}

	updates, next, err := r.source.PullUpdates(ctx, since, r.deviceID)
	if err != nil {
		return res, fmt.Errorf("failed to pull server updates: %w", err)
	}
	res.Fetched = len(updates)
	if !next.IsZero() {
		res.Next = next.Add(-FeedOverlap)
	}

	for _, u := range updates {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if err := r.applier.Apply(ctx, u); err != nil {
			res.Failed++
			r.logger.Warn().
				Err(err).
				Str("entityType", u.EntityType).
				Str("entityId", u.EntityID).
				Str("kind", string(u.Kind)).
				Msg("failed to apply server update")
			continue
		}
		res.Applied++
	}

	r.logger.Info().
		Time("since", since).
		Time("next", res.Next).
		Int("fetched", res.Fetched).
		Int("applied", res.Applied).
		Int("failed", res.Failed).
		Msg("reconciliation complete")
	return res, nil
}
