package reconcile

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/erauner12/fieldsync/internal/kvstore"
	"github.com/erauner12/fieldsync/internal/syncx"
)

// EntityKeyPrefix prefixes every entity stored by KVApplier
const EntityKeyPrefix = "fieldsync:entity:"

// EntityKey is the storage key of one entity
func EntityKey(entityType, entityID string) string {
	return EntityKeyPrefix + entityType + ":" + entityID
}

// StoredEntity is the value KVApplier writes
type StoredEntity struct {
	Version int             `json:"version"`
	Data    json.RawMessage `json:"data"`
}

// KVApplier keeps the server's copy of each entity in a key-value store.
// Deletes remove the key.
type KVApplier struct {
	kv kvstore.Store
}

// NewKVApplier creates an applier over kv
func NewKVApplier(kv kvstore.Store) *KVApplier {
	return &KVApplier{kv: kv}
}

func (a *KVApplier) Apply(ctx context.Context, u syncx.ServerUpdate) error {
	if u.EntityType == "" || u.EntityID == "" {
		return fmt.Errorf("server update missing entity type or id")
	}
	key := EntityKey(u.EntityType, u.EntityID)

	switch u.Kind {
	case syncx.UpdateDelete:
		return a.kv.Delete(ctx, key)
	case syncx.UpdateUpsert, "":
		b, err := json.Marshal(StoredEntity{Version: u.Version, Data: u.Data})
		if err != nil {
			return err
		}
		return a.kv.Set(ctx, key, b)
	default:
		return fmt.Errorf("unknown update kind %q", u.Kind)
	}
}

// Load returns the stored entity, if any
func (a *KVApplier) Load(ctx context.Context, entityType, entityID string) (*StoredEntity, error) {
	b, ok, err := a.kv.Get(ctx, EntityKey(entityType, entityID))
	if err != nil || !ok {
		return nil, err
	}
	var e StoredEntity
	if err := json.Unmarshal(b, &e); err != nil {
		return nil, fmt.Errorf("failed to decode stored entity: %w", err)
	}
	return &e, nil
}
