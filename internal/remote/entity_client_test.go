package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/erauner12/fieldsync/internal/syncx"
)

func TestEntityClient_Mutations(t *testing.T) {
	type seen struct {
		method, path, idem string
		body               syncx.MutationRequest
	}
	var got []seen

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body syncx.MutationRequest
		json.NewDecoder(r.Body).Decode(&body)
		got = append(got, seen{r.Method, r.URL.Path, r.Header.Get("Idempotency-Key"), body})

		w.Header().Set("Content-Type", "application/json")
		if r.Method == http.MethodPost {
			w.WriteHeader(http.StatusCreated)
		}
		json.NewEncoder(w).Encode(syncx.EntityRecord{
			EntityType: "lead",
			UID:        body.UID,
			Version:    len(got),
			UpdatedAt:  body.UpdatedAt,
			Deleted:    r.Method == http.MethodDelete,
			Data:       body.Data,
		})
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, StaticToken("t"), Options{Logger: &quiet})
	leads, err := NewEntityClient(client, "lead")
	if err != nil {
		t.Fatalf("NewEntityClient: %v", err)
	}

	at := time.Date(2025, 11, 3, 10, 0, 0, 0, time.UTC)
	ctx := context.Background()

	rec, err := leads.Create(ctx, Mutation{UID: "L1", UpdatedAt: at, Data: json.RawMessage(`{"name":"Acme"}`), IdempotencyKey: "fs-op-1"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if rec.UID != "L1" || rec.Version != 1 || string(rec.Data) != `{"name":"Acme"}` {
		t.Errorf("unexpected record: %+v", rec)
	}

	if _, err := leads.Update(ctx, Mutation{UID: "L1", UpdatedAt: at.Add(time.Minute), Data: json.RawMessage(`{"name":"Acme 2"}`), IdempotencyKey: "fs-op-2"}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	rec, err = leads.Delete(ctx, Mutation{UID: "L1", UpdatedAt: at.Add(2 * time.Minute), Data: json.RawMessage(`{"ignored":true}`), IdempotencyKey: "fs-op-3"})
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if !rec.Deleted {
		t.Error("expected tombstone record")
	}

	want := []struct{ method, path, idem string }{
		{"POST", "/v1/leads", "fs-op-1"},
		{"PUT", "/v1/leads/L1", "fs-op-2"},
		{"DELETE", "/v1/leads/L1", "fs-op-3"},
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d requests, got %d", len(want), len(got))
	}
	for i, w := range want {
		if got[i].method != w.method || got[i].path != w.path || got[i].idem != w.idem {
			t.Errorf("request %d = %s %s (%s), want %s %s (%s)", i, got[i].method, got[i].path, got[i].idem, w.method, w.path, w.idem)
		}
		if got[i].body.UID != "L1" || got[i].body.UpdatedAt.IsZero() {
			t.Errorf("request %d body missing uid or updatedAt: %+v", i, got[i].body)
		}
	}
	if len(got[2].body.Data) != 0 {
		t.Errorf("delete should not send data, got %s", got[2].body.Data)
	}
}

func TestEntityClient_UnknownEntity(t *testing.T) {
	client := NewHTTPClient("http://localhost", StaticToken("t"), Options{Logger: &quiet})
	if _, err := NewEntityClient(client, "invoice"); err == nil {
		t.Error("expected error for entity type without a collection")
	}
}

func TestEntityClient_EscapesUID(t *testing.T) {
	var rawPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rawPath = r.URL.EscapedPath()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, StaticToken("t"), Options{Logger: &quiet})
	notes, _ := NewEntityClient(client, "note")

	if _, err := notes.Update(context.Background(), Mutation{UID: "a/b c", UpdatedAt: time.Now()}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if !strings.HasSuffix(rawPath, "/v1/notes/a%2Fb%20c") {
		t.Errorf("uid not escaped: %s", rawPath)
	}
}
