package netmon

import (
	"context"
	"sync"
)

// ManualProvider is driven programmatically with Set; embedding apps feed
// it from their own platform connectivity API
type ManualProvider struct {
	mu     sync.Mutex
	online bool
	subs   map[chan bool]struct{}
}

// NewManualProvider starts in the given state
func NewManualProvider(online bool) *ManualProvider {
	return &ManualProvider{online: online, subs: make(map[chan bool]struct{})}
}

// Set records a raw state and forwards it to watchers. A watcher whose
// buffer is full misses the value; the next Set carries the latest state.
func (p *ManualProvider) Set(online bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.online = online
	for ch := range p.subs {
		select {
		case ch <- online:
		default:
		}
	}
}

func (p *ManualProvider) Current(context.Context) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.online
}

func (p *ManualProvider) Watch(ctx context.Context) <-chan bool {
	ch := make(chan bool, 64)

	p.mu.Lock()
	p.subs[ch] = struct{}{}
	p.mu.Unlock()

	go func() {
		<-ctx.Done()
		p.mu.Lock()
		delete(p.subs, ch)
		close(ch)
		p.mu.Unlock()
	}()
	return ch
}
