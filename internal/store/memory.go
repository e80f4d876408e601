package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/erauner12/fieldsync/internal/syncx"
)

type entityKey struct {
	owner, entityType, uid string
}

// MemoryStore keeps everything in process memory; used by tests and by the
// server when no database URL is configured
type MemoryStore struct {
	mu       sync.Mutex
	entities map[entityKey]*Entity
	idem     map[[2]string]IdempotentResponse
	now      func() time.Time
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entities: make(map[entityKey]*Entity),
		idem:     make(map[[2]string]IdempotentResponse),
		now:      time.Now,
	}
}

func (s *MemoryStore) ApplyMutation(_ context.Context, owner string, m Mutation) (Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := entityKey{owner, m.EntityType, m.UID}
	next, changed, err := resolve(s.entities[k], m, s.now().UnixMilli())
	if err != nil {
		return Entity{}, err
	}
	if changed {
		stored := next
		stored.Data = append([]byte(nil), next.Data...)
		s.entities[k] = &stored
	}
	return next, nil
}

func (s *MemoryStore) Changes(_ context.Context, owner string, after syncx.Cursor, limit int) ([]Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Entity
	for k, e := range s.entities {
		if k.owner != owner || !after.Before(e.ChangedMs, e.RowID) {
			continue
		}
		out = append(out, *e)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].ChangedMs != out[j].ChangedMs {
			return out[i].ChangedMs < out[j].ChangedMs
		}
		return out[i].RowID.String() < out[j].RowID.String()
	})

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) LookupIdempotency(_ context.Context, owner, key string) (*IdempotentResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.idem[[2]string{owner, key}]; ok {
		return &r, nil
	}
	return nil, nil
}

func (s *MemoryStore) SaveIdempotency(_ context.Context, owner, key string, resp IdempotentResponse) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := [2]string{owner, key}
	if _, ok := s.idem[k]; !ok {
		s.idem[k] = resp
	}
	return nil
}
