package netmon

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

var quiet = zerolog.Nop()

const testDebounce = 30 * time.Millisecond

func startMonitor(t *testing.T, p Provider) *Monitor {
	t.Helper()
	m := New(p, Options{Debounce: testDebounce, Logger: &quiet})
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(m.Close)
	return m
}

func waitFor(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestMonitor_InitialState(t *testing.T) {
	m := startMonitor(t, NewManualProvider(true))
	if !m.CurrentState() {
		t.Error("expected initial online state from provider")
	}
}

func TestMonitor_ReconnectFiresOnce(t *testing.T) {
	p := NewManualProvider(false)
	m := startMonitor(t, p)

	var reconnects int32
	m.OnReconnect(func() { atomic.AddInt32(&reconnects, 1) })

	p.Set(true)
	waitFor(t, m.CurrentState, "online")

	// Repeated online reports are not new transitions
	p.Set(true)
	time.Sleep(3 * testDebounce)

	if n := atomic.LoadInt32(&reconnects); n != 1 {
		t.Errorf("expected 1 reconnect, got %d", n)
	}
}

func TestMonitor_FlapsCoalesce(t *testing.T) {
	p := NewManualProvider(false)
	m := startMonitor(t, p)

	var reconnects, changes int32
	m.OnReconnect(func() { atomic.AddInt32(&reconnects, 1) })
	m.OnChange(func(bool) { atomic.AddInt32(&changes, 1) })

	// Rapid flapping inside one debounce window settles on online
	for _, v := range []bool{true, false, true, false, true} {
		p.Set(v)
		time.Sleep(testDebounce / 10)
	}
	waitFor(t, m.CurrentState, "settled online")
	time.Sleep(3 * testDebounce)

	if n := atomic.LoadInt32(&reconnects); n != 1 {
		t.Errorf("expected exactly 1 reconnect for a flapping burst, got %d", n)
	}
	if n := atomic.LoadInt32(&changes); n != 1 {
		t.Errorf("expected exactly 1 change, got %d", n)
	}
}

func TestMonitor_FlapReturningToSameStateIsSilent(t *testing.T) {
	p := NewManualProvider(true)
	m := startMonitor(t, p)

	var changes int32
	m.OnChange(func(bool) { atomic.AddInt32(&changes, 1) })

	p.Set(false)
	p.Set(true)
	time.Sleep(4 * testDebounce)

	if n := atomic.LoadInt32(&changes); n != 0 {
		t.Errorf("expected no published change, got %d", n)
	}
	if !m.CurrentState() {
		t.Error("state should still be online")
	}
}

func TestMonitor_GoingOfflineDoesNotReconnect(t *testing.T) {
	p := NewManualProvider(true)
	m := startMonitor(t, p)

	var reconnects int32
	m.OnReconnect(func() { atomic.AddInt32(&reconnects, 1) })

	p.Set(false)
	waitFor(t, func() bool { return !m.CurrentState() }, "offline")

	if atomic.LoadInt32(&reconnects) != 0 {
		t.Error("going offline must not fire reconnect")
	}
}

func TestMonitor_StartTwice(t *testing.T) {
	m := startMonitor(t, NewManualProvider(true))
	if err := m.Start(context.Background()); err != ErrAlreadyStarted {
		t.Errorf("second Start = %v, want ErrAlreadyStarted", err)
	}
}

func TestProbeProvider(t *testing.T) {
	var healthy atomic.Bool
	healthy.Store(true)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/healthz" {
			t.Errorf("unexpected probe path %s", r.URL.Path)
		}
		if !healthy.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	p := NewProbeProvider(server.URL+"/", 10*time.Millisecond, time.Second)
	if !p.Current(context.Background()) {
		t.Error("expected online while healthz answers 200")
	}

	healthy.Store(false)
	if p.Current(context.Background()) {
		t.Error("expected offline while healthz answers 503")
	}

	ctx, cancel := context.WithCancel(context.Background())
	ch := p.Watch(ctx)
	if v := <-ch; v {
		t.Error("expected watched state offline")
	}
	cancel()
	for range ch {
	}
}

func TestProbeProvider_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	if NewProbeProvider(url, 0, 100*time.Millisecond).Current(context.Background()) {
		t.Error("unreachable server must read as offline")
	}
}

func TestFileProvider(t *testing.T) {
	path := filepath.Join(t.TempDir(), "connectivity")
	p := NewFileProvider(path)

	if p.Current(context.Background()) {
		t.Error("missing file should read as offline")
	}

	m := startMonitor(t, p)

	var reconnects int32
	m.OnReconnect(func() { atomic.AddInt32(&reconnects, 1) })

	if err := os.WriteFile(path, []byte("online\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	waitFor(t, m.CurrentState, "online after writing flag file")

	if err := os.WriteFile(path, []byte("offline"), 0o644); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return !m.CurrentState() }, "offline after rewriting flag file")

	if err := os.WriteFile(path, []byte("1"), 0o644); err != nil {
		t.Fatal(err)
	}
	waitFor(t, m.CurrentState, "online again")

	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return !m.CurrentState() }, "offline after removing flag file")

	if n := atomic.LoadInt32(&reconnects); n != 2 {
		t.Errorf("expected 2 reconnects, got %d", n)
	}
}

func TestMonitor_OnChangeReportsEachTransition(t *testing.T) {
	p := NewManualProvider(true)
	m := startMonitor(t, p)

	var mu sync.Mutex
	var seen []bool
	for i := 0; i < 2; i++ {
		m.OnChange(func(online bool) {
			mu.Lock()
			seen = append(seen, online)
			mu.Unlock()
		})
	}

	count := func() int {
		mu.Lock()
		defer mu.Unlock()
		return len(seen)
	}

	p.Set(false)
	waitFor(t, func() bool { return count() == 2 }, "offline callbacks")
	p.Set(true)
	waitFor(t, func() bool { return count() == 4 }, "online callbacks")

	mu.Lock()
	defer mu.Unlock()
	want := []bool{false, false, true, true}
	if len(seen) != len(want) {
		t.Fatalf("callbacks saw %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("callbacks saw %v, want %v", seen, want)
			break
		}
	}
}
