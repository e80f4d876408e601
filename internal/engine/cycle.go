package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/erauner12/fieldsync/internal/queue"
	"github.com/erauner12/fieldsync/internal/retry"
)

// phaseResult counts per-operation outcomes of one dispatch phase
type phaseResult struct {
	Attempted int
	Succeeded int
	Retried   int
	Evicted   int
}

// runCycle runs dispatch then reconciliation and, if the pull succeeded,
// records the last sync time: the server's watermark when it reported one,
// otherwise the local cycle start
func (e *Engine) runCycle(parent context.Context, forced bool) {
	e.cycleMu.Lock()
	defer e.cycleMu.Unlock()

	ctx, cancel := context.WithTimeout(parent, e.opts.CycleTimeout)
	defer cancel()

	started := e.opts.Now().UTC()
	logger := e.logger.With().Bool("forced", forced).Logger()

	defer func() {
		if r := recover(); r != nil {
			logger.Error().
				Interface("panic", r).
				Str("stack", string(debug.Stack())).
				Msg("sync cycle panicked")
			e.setLastError(fmt.Sprintf("sync cycle panicked: %v", r))
		}
	}()

	logger.Info().Int("pending", e.deps.Queue.Len()).Msg("sync cycle started")

	res := e.dispatchPhase(ctx, e.opts.BatchSize, nil)

	cycleErr := ""
	syncedAt := started
	if e.deps.Reconciler != nil {
		pulled, err := e.deps.Reconciler.Run(ctx, e.GetLastSyncTime())
		switch {
		case err != nil:
			logger.Warn().Err(err).Msg("reconciliation failed; last sync time unchanged")
			cycleErr = err.Error()
		case !pulled.Next.IsZero():
			syncedAt = pulled.Next.UTC()
		}
	}

	if cycleErr == "" {
		e.saveLastSync(context.WithoutCancel(ctx), syncedAt)
	}
	if cycleErr == "" && ctx.Err() != nil {
		cycleErr = fmt.Sprintf("sync cycle timed out after %s", e.opts.CycleTimeout)
	}
	e.setLastError(cycleErr)

	logger.Info().
		Int("attempted", res.Attempted).
		Int("succeeded", res.Succeeded).
		Int("retried", res.Retried).
		Int("evicted", res.Evicted).
		Int("pending", e.deps.Queue.Len()).
		Dur("duration", e.opts.Now().Sub(started)).
		Msg("sync cycle finished")
}

// dispatchPhase attempts up to max operations, oldest first. Operations are
// attempted strictly in order; once ctx is done the rest of the batch is
// left untouched for the next cycle.
func (e *Engine) dispatchPhase(ctx context.Context, max int, filter func(queue.SyncOperation) bool) phaseResult {
	var res phaseResult

	// Queue bookkeeping must land even if the cycle deadline passes mid-call
	bookCtx := context.WithoutCancel(ctx)

	for _, op := range e.deps.Queue.PeekBatch(max, filter) {
		if ctx.Err() != nil {
			break
		}
		res.Attempted++

		err := e.dispatchOne(ctx, op)
		if err == nil {
			res.Succeeded++
			e.removeOp(bookCtx, op.ID)
			continue
		}

		decision, next := e.opts.Policy.Decide(op, err)
		switch decision {
		case retry.Evict:
			res.Evicted++
			e.evict(bookCtx, next, err)
		default:
			res.Retried++
			e.logger.Warn().
				Err(err).
				Str("opId", op.ID).
				Str("entityType", string(op.EntityType)).
				Str("entityId", op.EntityID).
				Int("retryCount", next.RetryCount).
				Msg("operation failed, will retry")
			if uerr := e.deps.Queue.UpdateRetryCount(bookCtx, op.ID, next.RetryCount, err); uerr != nil {
				e.queueWriteFailed(uerr, op.ID)
			}
		}
	}
	return res
}

// dispatchOne calls the dispatcher, converting a panic into an error
func (e *Engine) dispatchOne(ctx context.Context, op queue.SyncOperation) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("dispatch panicked: %v", r)
		}
	}()
	return e.deps.Dispatcher.Dispatch(ctx, op)
}

func (e *Engine) evict(ctx context.Context, op queue.SyncOperation, cause error) {
	e.mu.Lock()
	e.evicted++
	e.mu.Unlock()

	e.logger.Error().
		Err(cause).
		Str("event", "operation_evicted").
		Str("opId", op.ID).
		Str("type", string(op.Type)).
		Str("entityType", string(op.EntityType)).
		Str("entityId", op.EntityID).
		Int("retryCount", op.RetryCount).
		Time("queuedAt", op.Timestamp).
		Msg("operation evicted; local mutation will not reach the server")

	e.removeOp(ctx, op.ID)
}

func (e *Engine) removeOp(ctx context.Context, id string) {
	if err := e.deps.Queue.Remove(ctx, id); err != nil {
		e.queueWriteFailed(err, id)
	}
}

// queueWriteFailed logs a queue bookkeeping failure. A missing operation was
// cleared concurrently and is not an error.
func (e *Engine) queueWriteFailed(err error, id string) {
	if errors.Is(err, queue.ErrNotFound) {
		e.logger.Debug().Str("opId", id).Msg("operation no longer queued")
		return
	}
	e.logger.Error().Err(err).Str("opId", id).Msg("failed to update sync queue")
}

// runBackground is the lightweight periodic drain: a small batch of
// operations with retry budget left, no reconciliation, no last sync update
func (e *Engine) runBackground(parent context.Context) {
	if !e.deps.Network.CurrentState() || e.deps.Queue.Len() == 0 {
		return
	}

	e.mu.Lock()
	if e.active > 0 {
		e.mu.Unlock()
		e.logger.Debug().Msg("sync in progress, background job skipped")
		return
	}
	e.active++
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.active--
		e.mu.Unlock()
	}()

	e.cycleMu.Lock()
	defer e.cycleMu.Unlock()

	ctx, cancel := context.WithTimeout(parent, e.opts.CycleTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error().Interface("panic", r).Msg("background sync panicked")
		}
	}()

	res := e.dispatchPhase(ctx, e.opts.BackgroundBatchSize, e.opts.Policy.BackgroundEligible)
	if res.Attempted > 0 {
		e.logger.Info().
			Int("attempted", res.Attempted).
			Int("succeeded", res.Succeeded).
			Int("evicted", res.Evicted).
			Msg("background sync finished")
	}
}

// foregroundLoop runs a full cycle every ForegroundInterval while in the
// foreground
func (e *Engine) foregroundLoop() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.opts.ForegroundInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.baseCtx.Done():
			return
		case <-ticker.C:
			if e.isForeground() {
				e.TriggerSync(e.baseCtx, false)
			}
		}
	}
}

// backgroundLoop runs the lightweight job every BackgroundInterval while in
// the background
func (e *Engine) backgroundLoop() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.opts.BackgroundInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.baseCtx.Done():
			return
		case <-ticker.C:
			if !e.isForeground() {
				e.runBackground(e.baseCtx)
			}
		}
	}
}

func (e *Engine) isForeground() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.foreground
}

func (e *Engine) setLastError(msg string) {
	e.mu.Lock()
	e.lastError = msg
	e.mu.Unlock()
}

func (e *Engine) loadLastSync(ctx context.Context) (*time.Time, error) {
	raw, ok, err := e.deps.KV.Get(ctx, LastSyncKey)
	if err != nil || !ok {
		return nil, err
	}
	t, err := time.Parse(time.RFC3339Nano, string(raw))
	if err != nil {
		return nil, fmt.Errorf("invalid last sync time %q: %w", raw, err)
	}
	return &t, nil
}

// saveLastSync records t in memory and in storage; a storage failure marks
// the engine degraded but keeps the in-memory value
func (e *Engine) saveLastSync(ctx context.Context, t time.Time) {
	err := e.deps.KV.Set(ctx, LastSyncKey, []byte(t.Format(time.RFC3339Nano)))

	e.mu.Lock()
	e.lastSync = &t
	if err != nil {
		e.storageErr = err.Error()
	} else {
		e.storageErr = ""
	}
	e.mu.Unlock()

	if err != nil {
		e.logger.Error().Err(err).Msg("failed to persist last sync time")
	}
}
