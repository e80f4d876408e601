// Package netmon tracks connectivity and tells the sync engine when the
// device comes back online.
package netmon

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultDebounce is how long a raw state must hold before it is published
const DefaultDebounce = 2 * time.Second

// ErrAlreadyStarted is returned by a second Start call
var ErrAlreadyStarted = errors.New("network monitor already started")

// Provider reports raw connectivity from some source
type Provider interface {
	// Current returns the connectivity state right now
	Current(ctx context.Context) bool

	// Watch streams raw state changes until ctx is done, then closes the
	// channel. Duplicate values are allowed.
	Watch(ctx context.Context) <-chan bool
}

// Options configures a Monitor
type Options struct {
	Debounce time.Duration
	Logger   *zerolog.Logger
}

// Monitor coalesces a provider's raw events into settled connectivity
// transitions. Callbacks run on the monitor goroutine in registration order
// and must not block.
type Monitor struct {
	provider Provider
	debounce time.Duration
	logger   *zerolog.Logger

	mu          sync.RWMutex
	online      bool
	started     bool
	onReconnect []func()
	onChange    []func(bool)

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a monitor over provider; call Start to begin watching
func New(provider Provider, opts Options) *Monitor {
	m := &Monitor{
		provider: provider,
		debounce: opts.Debounce,
		logger:   opts.Logger,
	}
	if m.debounce <= 0 {
		m.debounce = DefaultDebounce
	}
	if m.logger == nil {
		m.logger = &log.Logger
	}
	return m
}

// OnReconnect registers fn to run once per settled offline to online
// transition
func (m *Monitor) OnReconnect(fn func()) {
	m.mu.Lock()
	m.onReconnect = append(m.onReconnect, fn)
	m.mu.Unlock()
}

// OnChange registers fn to run on every settled state change
func (m *Monitor) OnChange(fn func(online bool)) {
	m.mu.Lock()
	m.onChange = append(m.onChange, fn)
	m.mu.Unlock()
}

// CurrentState returns the last published state
func (m *Monitor) CurrentState() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.online
}

// Start reads the initial state and begins watching the provider
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return ErrAlreadyStarted
	}
	m.started = true
	m.mu.Unlock()

	initial := m.provider.Current(ctx)

	m.mu.Lock()
	m.online = initial
	m.mu.Unlock()

	m.logger.Info().Bool("online", initial).Dur("debounce", m.debounce).Msg("network monitor started")

	watchCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	m.cancel = cancel
	events := m.provider.Watch(watchCtx)

	m.wg.Add(1)
	go m.loop(watchCtx, events)
	return nil
}

// Close stops watching and waits for the monitor goroutine to exit
func (m *Monitor) Close() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}

func (m *Monitor) loop(ctx context.Context, events <-chan bool) {
	defer m.wg.Done()

	timer := time.NewTimer(m.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	var (
		raw     bool
		pending bool
	)

	for {
		select {
		case <-ctx.Done():
			return

		case v, ok := <-events:
			if !ok {
				return
			}
			raw = v
			if !pending {
				pending = true
			} else if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(m.debounce)

		case <-timer.C:
			pending = false
			m.publish(raw)
		}
	}
}

// publish applies a settled state and fires callbacks on a transition
func (m *Monitor) publish(online bool) {
	m.mu.Lock()
	prev := m.online
	if prev == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	changeFns := slices.Clone(m.onChange)
	var reconnectFns []func()
	if !prev && online {
		reconnectFns = append(reconnectFns, m.onReconnect...)
	}
	m.mu.Unlock()

	m.logger.Info().Bool("online", online).Msg("connectivity changed")

	for _, fn := range changeFns {
		fn(online)
	}
	for _, fn := range reconnectFns {
		fn()
	}
}
