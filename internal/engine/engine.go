// Package engine orchestrates offline-first synchronization: it queues local
// mutations, drains them to the server when connectivity allows, and pulls
// server changes back.
//
// An Engine is constructed explicitly, owns its timers and its connectivity
// subscription, and is torn down with Close. Nothing is process-global.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/erauner12/fieldsync/internal/kvstore"
	"github.com/erauner12/fieldsync/internal/queue"
	"github.com/erauner12/fieldsync/internal/reconcile"
	"github.com/erauner12/fieldsync/internal/retry"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LastSyncKey is where the last successful sync time is persisted
const LastSyncKey = "fieldsync:last_sync_time"

const (
	DefaultBatchSize           = 10
	DefaultBackgroundBatchSize = 5
	DefaultForegroundInterval  = 5 * time.Minute
	DefaultBackgroundInterval  = 15 * time.Second
	DefaultCycleTimeout        = 2 * time.Minute
)

var (
	// ErrClosed is returned by operations on a closed engine
	ErrClosed = errors.New("sync engine closed")

	// ErrAlreadyStarted is returned by a second Start call
	ErrAlreadyStarted = errors.New("sync engine already started")
)

// Dispatcher performs the remote call for one operation; *dispatch.Dispatcher
// implements it
type Dispatcher interface {
	Dispatch(ctx context.Context, op queue.SyncOperation) error
}

// Reconciler runs the pull phase; *reconcile.Reconciler implements it
type Reconciler interface {
	Run(ctx context.Context, lastSync *time.Time) (reconcile.Result, error)
}

// Connectivity is the engine's view of the network; *netmon.Monitor
// implements it
type Connectivity interface {
	CurrentState() bool
	OnReconnect(fn func())
}

// Deps are the collaborators an Engine drives
type Deps struct {
	Queue      *queue.Store
	KV         kvstore.Store // last sync time
	Dispatcher Dispatcher
	Reconciler Reconciler // nil skips the pull phase
	Network    Connectivity
}

// Options tunes an Engine; zero values use the defaults above
type Options struct {
	BatchSize           int
	BackgroundBatchSize int
	ForegroundInterval  time.Duration
	BackgroundInterval  time.Duration
	CycleTimeout        time.Duration
	Policy              retry.Policy
	Now                 func() time.Time
	Logger              *zerolog.Logger
}

func (o Options) withDefaults() Options {
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.BackgroundBatchSize <= 0 {
		o.BackgroundBatchSize = DefaultBackgroundBatchSize
	}
	if o.ForegroundInterval <= 0 {
		o.ForegroundInterval = DefaultForegroundInterval
	}
	if o.BackgroundInterval <= 0 {
		o.BackgroundInterval = DefaultBackgroundInterval
	}
	if o.CycleTimeout <= 0 {
		o.CycleTimeout = DefaultCycleTimeout
	}
	if o.Policy.MaxRetries <= 0 && o.Policy.BackgroundMaxRetry <= 0 {
		o.Policy = retry.DefaultPolicy()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Logger == nil {
		o.Logger = &log.Logger
	}
	return o
}

// Engine is the sync orchestrator
type Engine struct {
	deps   Deps
	opts   Options
	logger *zerolog.Logger

	// mu guards the fields below; it is never held across I/O
	mu         sync.Mutex
	active     int // cycles or background runs in flight
	lastSync   *time.Time
	lastError  string
	storageErr string
	evicted    int
	foreground bool
	started    bool
	closed     bool

	// cycleMu serializes everything that drains the queue
	cycleMu sync.Mutex

	baseCtx   context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New creates an engine. Call Start to restore persisted state and begin
// scheduling; TriggerSync works without Start.
func New(deps Deps, opts Options) (*Engine, error) {
	if deps.Queue == nil || deps.KV == nil || deps.Dispatcher == nil || deps.Network == nil {
		return nil, fmt.Errorf("engine requires queue, kv store, dispatcher and network")
	}
	opts = opts.withDefaults()

	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		deps:       deps,
		opts:       opts,
		logger:     opts.Logger,
		foreground: true,
		baseCtx:    ctx,
		cancel:     cancel,
	}, nil
}

// Restore loads the persisted queue and last sync time. Start calls it;
// one-shot callers that never Start call it directly. Read failures are
// logged and reported through status.
func (e *Engine) Restore(ctx context.Context) int {
	ops, err := e.deps.Queue.LoadAll(ctx)
	if err != nil {
		e.logger.Error().Err(err).Msg("failed to load sync queue; starting with in-memory queue")
	}

	last, err := e.loadLastSync(ctx)
	if err != nil {
		e.logger.Error().Err(err).Msg("failed to load last sync time")
	}

	e.mu.Lock()
	e.lastSync = last
	e.mu.Unlock()
	return len(ops)
}

// Start restores persisted state, subscribes to reconnect events and starts
// the foreground and background schedules. The engine starts even when
// storage cannot be read.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	if e.started {
		e.mu.Unlock()
		return ErrAlreadyStarted
	}
	e.started = true
	e.mu.Unlock()

	pending := e.Restore(ctx)

	e.deps.Network.OnReconnect(e.onReconnect)

	e.wg.Add(2)
	go e.foregroundLoop()
	go e.backgroundLoop()

	ev := e.logger.Info().Int("pending", pending).Bool("online", e.deps.Network.CurrentState())
	if last := e.GetLastSyncTime(); last != nil {
		ev = ev.Time("lastSyncTime", *last)
	}
	ev.Msg("sync engine started")
	return nil
}

// Close stops timers and the reconnect subscription and waits for any
// cycle the engine started itself. It does not touch the queue.
func (e *Engine) Close() {
	e.closeOnce.Do(func() {
		e.mu.Lock()
		e.closed = true
		e.mu.Unlock()

		e.cancel()
		e.wg.Wait()
		e.logger.Info().Msg("sync engine stopped")
	})
}

// SetForeground switches between the foreground schedule (full cycles) and
// the background job (lightweight dispatch only)
func (e *Engine) SetForeground(foreground bool) {
	e.mu.Lock()
	changed := e.foreground != foreground
	e.foreground = foreground
	e.mu.Unlock()

	if changed {
		e.logger.Debug().Bool("foreground", foreground).Msg("sync schedule switched")
	}
}

// QueueOperation records a local mutation. It returns once the operation is
// durably queued; when the write to storage fails the operation is still
// queued in memory, the id is returned together with an error wrapping
// queue.ErrNotPersisted, and status reports degraded. If the engine is
// running, online and idle a cycle is started in the background.
func (e *Engine) QueueOperation(ctx context.Context, in queue.Input) (string, error) {
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return "", ErrClosed
	}

	id, err := e.deps.Queue.Enqueue(ctx, in)
	if err != nil && !errors.Is(err, queue.ErrNotPersisted) {
		return "", err
	}

	e.nudge()
	return id, err
}

// ForcefulSync runs a cycle even if one is in progress. It still does
// nothing while offline.
func (e *Engine) ForcefulSync(ctx context.Context) SyncStatus {
	return e.TriggerSync(ctx, true)
}

// TriggerSync runs one sync cycle and returns the resulting status.
// Without force, a call made while a cycle is in flight returns the current
// status immediately. While offline nothing changes. Errors never escape:
// they are logged and surface through SyncStatus.
func (e *Engine) TriggerSync(ctx context.Context, force bool) SyncStatus {
	e.mu.Lock()
	if e.active > 0 && !force {
		e.mu.Unlock()
		e.logger.Debug().Msg("sync already in progress, skipping")
		return e.GetSyncStatus()
	}
	if !e.deps.Network.CurrentState() {
		e.mu.Unlock()
		e.logger.Debug().Msg("offline, sync skipped")
		return e.GetSyncStatus()
	}
	e.active++
	e.mu.Unlock()

	e.runTracked(ctx, force)
	return e.GetSyncStatus()
}

// runTracked runs one cycle and releases the active slot taken by the caller,
// so status built afterwards reports idle
func (e *Engine) runTracked(ctx context.Context, force bool) {
	defer func() {
		e.mu.Lock()
		e.active--
		e.mu.Unlock()
	}()
	e.runCycle(ctx, force)
}

// ClearPendingOperations drops every queued operation
func (e *Engine) ClearPendingOperations(ctx context.Context) error {
	return e.deps.Queue.Clear(ctx)
}

// PendingOperations returns a copy of the queue, oldest first
func (e *Engine) PendingOperations() []queue.SyncOperation {
	return e.deps.Queue.List()
}

// nudge starts a cycle in the background when the engine is running, online
// and idle
func (e *Engine) nudge() {
	e.mu.Lock()
	ok := e.started && !e.closed && e.active == 0
	e.mu.Unlock()
	if !ok || !e.deps.Network.CurrentState() {
		return
	}
	e.goCycle("enqueue")
}

func (e *Engine) onReconnect() {
	e.logger.Info().Msg("connectivity restored, starting sync")
	e.goCycle("reconnect")
}

// goCycle runs TriggerSync(false) on a tracked goroutine
func (e *Engine) goCycle(reason string) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.wg.Add(1)
	e.mu.Unlock()

	go func() {
		defer e.wg.Done()
		e.logger.Debug().Str("reason", reason).Msg("sync triggered")
		e.TriggerSync(e.baseCtx, false)
	}()
}
