package dispatch

import (
	"context"

	"github.com/erauner12/fieldsync/internal/queue"
	"github.com/erauner12/fieldsync/internal/remote"
	"github.com/erauner12/fieldsync/internal/syncx"
)

// EntityAPI is the remote surface for one entity type; *remote.EntityClient
// implements it
type EntityAPI interface {
	Create(ctx context.Context, m remote.Mutation) (*syncx.EntityRecord, error)
	Update(ctx context.Context, m remote.Mutation) (*syncx.EntityRecord, error)
	Delete(ctx context.Context, m remote.Mutation) (*syncx.EntityRecord, error)
}

// RegisterEntity wires create, update and delete for entity to api
func (d *Dispatcher) RegisterEntity(entity queue.EntityType, api EntityAPI) {
	mutation := func(req Request) remote.Mutation {
		return remote.Mutation{
			UID:            req.EntityID,
			UpdatedAt:      req.Timestamp,
			Data:           req.Data,
			IdempotencyKey: req.IdempotencyKey,
		}
	}

	d.Register(entity, queue.OpCreate, func(ctx context.Context, req Request) error {
		_, err := api.Create(ctx, mutation(req))
		return err
	})
	d.Register(entity, queue.OpUpdate, func(ctx context.Context, req Request) error {
		_, err := api.Update(ctx, mutation(req))
		return err
	})
	d.Register(entity, queue.OpDelete, func(ctx context.Context, req Request) error {
		_, err := api.Delete(ctx, mutation(req))
		return err
	})
}

// NewRemote returns a dispatcher routing every entity type the sync API
// serves (lead, property, note, task) through client
func NewRemote(client *remote.HTTPClient) (*Dispatcher, error) {
	d := New()
	for _, entity := range queue.KnownEntities {
		api, err := remote.NewEntityClient(client, string(entity))
		if err != nil {
			return nil, err
		}
		d.RegisterEntity(entity, api)
	}
	return d, nil
}
