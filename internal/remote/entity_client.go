package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/erauner12/fieldsync/internal/syncx"
)

// Mutation is one create, update or delete sent to an entity collection
type Mutation struct {
	UID            string
	UpdatedAt      time.Time
	Data           json.RawMessage
	IdempotencyKey string
}

// EntityClient sends mutations for one entity type
// Server side: internal/httpapi/entities.go
type EntityClient struct {
	http       *HTTPClient
	entityType string
	basePath   string // e.g. "/v1/leads"
}

// NewEntityClient creates a client for entityType (lead, property, note, task)
func NewEntityClient(httpClient *HTTPClient, entityType string) (*EntityClient, error) {
	segment, err := syncx.EntityPath(entityType)
	if err != nil {
		return nil, err
	}
	return &EntityClient{
		http:       httpClient,
		entityType: entityType,
		basePath:   "/v1/" + segment,
	}, nil
}

// EntityType returns the entity type this client serves
func (c *EntityClient) EntityType() string { return c.entityType }

// Create creates the entity; replaying the same idempotency key returns the
// original result
func (c *EntityClient) Create(ctx context.Context, m Mutation) (*syncx.EntityRecord, error) {
	return c.send(ctx, http.MethodPost, c.http.baseURL+c.basePath, m)
}

// Update replaces the entity payload (last write wins on UpdatedAt)
func (c *EntityClient) Update(ctx context.Context, m Mutation) (*syncx.EntityRecord, error) {
	return c.send(ctx, http.MethodPut, c.itemURL(m.UID), m)
}

// Delete tombstones the entity
func (c *EntityClient) Delete(ctx context.Context, m Mutation) (*syncx.EntityRecord, error) {
	m.Data = nil
	return c.send(ctx, http.MethodDelete, c.itemURL(m.UID), m)
}

func (c *EntityClient) itemURL(uid string) string {
	return c.http.baseURL + c.basePath + "/" + url.PathEscape(uid)
}

func (c *EntityClient) send(ctx context.Context, method, reqURL string, m Mutation) (*syncx.EntityRecord, error) {
	body, err := json.Marshal(syncx.MutationRequest{
		UID:       m.UID,
		UpdatedAt: m.UpdatedAt.UTC(),
		Data:      m.Data,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal mutation: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if m.IdempotencyKey != "" {
		req.Header.Set("Idempotency-Key", m.IdempotencyKey)
	}

	resp, err := c.http.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}

	var rec syncx.EntityRecord
	if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
		return nil, fmt.Errorf("failed to decode %s response: %w", c.entityType, err)
	}
	return &rec, nil
}
