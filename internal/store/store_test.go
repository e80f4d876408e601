package store

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/erauner12/fieldsync/internal/db"
	"github.com/erauner12/fieldsync/internal/syncx"
	"github.com/google/uuid"
)

var t0 = time.Date(2025, 11, 3, 10, 0, 0, 0, time.UTC)

func mut(kind MutationKind, uid string, at time.Time, data string) Mutation {
	m := Mutation{Kind: kind, EntityType: "lead", UID: uid, UpdatedAt: at}
	if data != "" {
		m.Data = json.RawMessage(data)
	}
	return m
}

func TestResolve(t *testing.T) {
	live := &Entity{RowID: uuid.New(), EntityType: "lead", UID: "L1", Version: 2, UpdatedAtMs: t0.UnixMilli(), ChangedMs: 100, Data: json.RawMessage(`{"v":2}`)}
	dead := &Entity{RowID: uuid.New(), EntityType: "lead", UID: "L1", Version: 3, UpdatedAtMs: t0.UnixMilli(), ChangedMs: 100, Deleted: true}

	tests := []struct {
		name        string
		existing    *Entity
		m           Mutation
		wantErr     error
		wantChanged bool
		wantVersion int
		wantDeleted bool
	}{
		{"create new", nil, mut(MutationCreate, "L1", t0, `{}`), nil, true, 1, false},
		{"update unknown upserts", nil, mut(MutationUpdate, "L1", t0, `{}`), nil, true, 1, false},
		{"delete unknown", nil, mut(MutationDelete, "L1", t0, ""), ErrNotFound, false, 0, false},
		{"create existing", live, mut(MutationCreate, "L1", t0.Add(time.Second), `{}`), ErrConflict, false, 0, false},
		{"create replay", live, mut(MutationCreate, "L1", t0, `{"v":2}`), nil, false, 2, false},
		{"create older than live row", live, mut(MutationCreate, "L1", t0.Add(-time.Second), `{}`), nil, false, 2, false},
		{"create over tombstone", dead, mut(MutationCreate, "L1", t0.Add(time.Second), `{}`), nil, true, 4, false},
		{"newer update", live, mut(MutationUpdate, "L1", t0.Add(time.Second), `{"v":3}`), nil, true, 3, false},
		{"same timestamp replay", live, mut(MutationUpdate, "L1", t0, `{"v":9}`), nil, false, 2, false},
		{"older update loses", live, mut(MutationUpdate, "L1", t0.Add(-time.Second), `{"v":1}`), nil, false, 2, false},
		{"newer delete", live, mut(MutationDelete, "L1", t0.Add(time.Second), ""), nil, true, 3, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, changed, err := resolve(tt.existing, tt.m, 200)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if changed != tt.wantChanged || got.Version != tt.wantVersion || got.Deleted != tt.wantDeleted {
				t.Errorf("got changed=%v version=%d deleted=%v", changed, got.Version, got.Deleted)
			}
			if changed && got.ChangedMs != 200 {
				t.Errorf("changedMs = %d, want server clock 200", got.ChangedMs)
			}
		})
	}
}

// exerciseStore runs the behaviour shared by every Store implementation
func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	e, err := s.ApplyMutation(ctx, "alice", mut(MutationCreate, "L1", t0, `{"name":"Acme"}`))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if e.Version != 1 || string(e.Data) != `{"name":"Acme"}` {
		t.Errorf("unexpected entity after create: %+v", e)
	}

	if _, err := s.ApplyMutation(ctx, "alice", mut(MutationUpdate, "L1", t0.Add(time.Minute), `{"name":"Acme 2"}`)); err != nil {
		t.Fatalf("update: %v", err)
	}
	if _, err := s.ApplyMutation(ctx, "alice", mut(MutationUpdate, "L2", t0, `{"name":"Beta"}`)); err != nil {
		t.Fatalf("second entity: %v", err)
	}
	if _, err := s.ApplyMutation(ctx, "bob", mut(MutationCreate, "L1", t0, `{"name":"Bob's"}`)); err != nil {
		t.Fatalf("other owner: %v", err)
	}

	stale, err := s.ApplyMutation(ctx, "alice", mut(MutationUpdate, "L1", t0, `{"name":"stale"}`))
	if err != nil {
		t.Fatalf("stale update: %v", err)
	}
	if stale.Version != 2 || string(stale.Data) != `{"name":"Acme 2"}` {
		t.Errorf("stale write must not win: %+v", stale)
	}

	all, err := s.Changes(ctx, "alice", syncx.Cursor{}, 100)
	if err != nil {
		t.Fatalf("Changes: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 rows for alice, got %d", len(all))
	}

	// Paging one row at a time visits every row exactly once
	var seen []string
	cur := syncx.Cursor{}
	for i := 0; i < 5; i++ {
		page, err := s.Changes(ctx, "alice", cur, 1)
		if err != nil {
			t.Fatalf("Changes page: %v", err)
		}
		if len(page) == 0 {
			break
		}
		seen = append(seen, page[0].UID)
		cur = syncx.Cursor{ChangedMs: page[0].ChangedMs, UID: page[0].RowID}
	}
	if len(seen) != 2 || seen[0] == seen[1] {
		t.Errorf("paging visited %v", seen)
	}

	if _, err := s.ApplyMutation(ctx, "alice", mut(MutationDelete, "nope", t0, "")); !errors.Is(err, ErrNotFound) {
		t.Errorf("delete unknown = %v, want ErrNotFound", err)
	}

	got, err := s.LookupIdempotency(ctx, "alice", "fs-1")
	if err != nil || got != nil {
		t.Fatalf("lookup before save = %v, %v", got, err)
	}
	if err := s.SaveIdempotency(ctx, "alice", "fs-1", IdempotentResponse{Status: 201, Body: []byte(`{"a":1}`)}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.SaveIdempotency(ctx, "alice", "fs-1", IdempotentResponse{Status: 500, Body: []byte(`x`)}); err != nil {
		t.Fatalf("second save: %v", err)
	}
	got, err = s.LookupIdempotency(ctx, "alice", "fs-1")
	if err != nil || got == nil || got.Status != 201 || string(got.Body) != `{"a":1}` {
		t.Errorf("lookup = %+v, %v; first save must win", got, err)
	}
	if other, _ := s.LookupIdempotency(ctx, "bob", "fs-1"); other != nil {
		t.Error("idempotency keys must be scoped to the owner")
	}
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestPGStore(t *testing.T) {
	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping integration tests")
	}

	ctx := context.Background()
	pool, err := db.Open(ctx, dbURL)
	if err != nil {
		t.Fatalf("Failed to connect to test database: %v", err)
	}
	defer pool.Close()

	if err := db.Migrate(ctx, pool); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if _, err := pool.Exec(ctx, `DELETE FROM entity; DELETE FROM idempotency_key;`); err != nil {
		t.Fatalf("Failed to clean test database: %v", err)
	}

	exerciseStore(t, NewPGStore(pool))
}
