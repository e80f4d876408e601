package httpapi_test

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/erauner12/fieldsync/internal/auth"
	"github.com/erauner12/fieldsync/internal/dispatch"
	"github.com/erauner12/fieldsync/internal/engine"
	"github.com/erauner12/fieldsync/internal/httpapi"
	"github.com/erauner12/fieldsync/internal/kvstore"
	"github.com/erauner12/fieldsync/internal/netmon"
	"github.com/erauner12/fieldsync/internal/queue"
	"github.com/erauner12/fieldsync/internal/reconcile"
	"github.com/erauner12/fieldsync/internal/remote"
	"github.com/erauner12/fieldsync/internal/store"
	"github.com/rs/zerolog"
)

type device struct {
	engine *engine.Engine
	kv     *kvstore.Memory
}

// newDevice wires a full client stack against baseURL the way cmd/fieldsync does
func newDevice(t *testing.T, baseURL, account, deviceID string) *device {
	t.Helper()
	logger := zerolog.Nop()
	ctx := context.Background()

	kv := kvstore.NewMemory()
	q := queue.New(kv, queue.Options{Logger: &logger})

	client := remote.NewHTTPClient(baseURL, nil, remote.Options{DebugSub: account, DeviceID: deviceID, Logger: &logger})
	d, err := dispatch.NewRemote(client)
	if err != nil {
		t.Fatalf("NewRemote: %v", err)
	}
	rec := reconcile.New(remote.NewDeltaClient(client, 2, 0), reconcile.NewKVApplier(kv), reconcile.Options{DeviceID: deviceID, Logger: &logger})

	mon := netmon.New(netmon.NewManualProvider(true), netmon.Options{Logger: &logger})
	if err := mon.Start(ctx); err != nil {
		t.Fatalf("monitor start: %v", err)
	}
	t.Cleanup(mon.Close)

	e, err := engine.New(engine.Deps{Queue: q, KV: kv, Dispatcher: d, Reconciler: rec, Network: mon}, engine.Options{Logger: &logger})
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	t.Cleanup(e.Close)
	return &device{engine: e, kv: kv}
}

func TestTwoDevicesConverge(t *testing.T) {
	srv := &httpapi.Server{Store: store.NewMemoryStore()}
	ts := httptest.NewServer(srv.Routes(auth.JWTCfg{HS256Secret: "test-secret", DevMode: true}))
	defer ts.Close()

	ctx := context.Background()
	a := newDevice(t, ts.URL, "acct-1", "phone")
	b := newDevice(t, ts.URL, "acct-1", "tablet")

	ops := []queue.Input{
		{Type: queue.OpCreate, EntityType: queue.EntityLead, EntityID: "L1", Data: json.RawMessage(`{"name":"Acme"}`)},
		{Type: queue.OpUpdate, EntityType: queue.EntityLead, EntityID: "L1", Data: json.RawMessage(`{"name":"Acme Corp"}`)},
		{Type: queue.OpCreate, EntityType: queue.EntityNote, EntityID: "N1", Data: json.RawMessage(`{"text":"call back"}`)},
		{Type: queue.OpCreate, EntityType: queue.EntityTask, EntityID: "T1", Data: json.RawMessage(`{}`)},
		{Type: queue.OpDelete, EntityType: queue.EntityTask, EntityID: "T1"},
		// Never created on the server: 404, evicted without retries
		{Type: queue.OpDelete, EntityType: queue.EntityProperty, EntityID: "ghost"},
	}
	for _, in := range ops {
		if _, err := a.engine.QueueOperation(ctx, in); err != nil {
			t.Fatalf("QueueOperation: %v", err)
		}
	}

	st := a.engine.TriggerSync(ctx, false)
	if st.PendingOperations != 0 {
		t.Fatalf("device A still has %d pending: %+v", st.PendingOperations, a.engine.PendingOperations())
	}
	if st.EvictedOperations != 1 {
		t.Errorf("evicted = %d, want 1", st.EvictedOperations)
	}
	if st.LastSyncTime == nil {
		t.Error("last sync time not recorded")
	}

	st = b.engine.TriggerSync(ctx, false)
	if st.LastSyncTime == nil {
		t.Fatalf("device B pull failed: %+v", st)
	}

	applier := reconcile.NewKVApplier(b.kv)
	lead, err := applier.Load(ctx, "lead", "L1")
	if err != nil || lead == nil {
		t.Fatalf("lead not pulled to device B: %v", err)
	}
	if string(lead.Data) != `{"name":"Acme Corp"}` || lead.Version != 2 {
		t.Errorf("lead on B = %+v", lead)
	}
	if note, _ := applier.Load(ctx, "note", "N1"); note == nil {
		t.Error("note not pulled to device B")
	}
	if task, _ := applier.Load(ctx, "task", "T1"); task != nil {
		t.Errorf("deleted task still present on B: %+v", task)
	}
}
