package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/erauner12/fieldsync/internal/syncx"
)

const (
	DefaultPageLimit = 200
	DefaultMaxPages  = 50
)

// DeltaClient reads the server change feed (GET /v1/sync/updates)
type DeltaClient struct {
	http      *HTTPClient
	pageLimit int
	maxPages  int
}

// NewDeltaClient creates a feed reader; non-positive limits use defaults
func NewDeltaClient(httpClient *HTTPClient, pageLimit, maxPages int) *DeltaClient {
	if pageLimit <= 0 {
		pageLimit = DefaultPageLimit
	}
	if maxPages <= 0 {
		maxPages = DefaultMaxPages
	}
	return &DeltaClient{http: httpClient, pageLimit: pageLimit, maxPages: maxPages}
}

// PullUpdates returns every change recorded at or after since, in feed order,
// following nextCursor until the feed is exhausted or the page cap is hit.
// next is where the following pull should start, on the server clock: the
// server time reported with the first page, or, when the page cap is hit,
// the change time of the last update received. Hitting the cap is not an
// error; the rest of the feed arrives on the next pull.
func (c *DeltaClient) PullUpdates(ctx context.Context, since time.Time, deviceID string) (updates []syncx.ServerUpdate, next time.Time, err error) {
	var cursor string

	for page := 0; page < c.maxPages; page++ {
		p, err := c.fetchPage(ctx, since, deviceID, cursor)
		if err != nil {
			return updates, next, err
		}
		if page == 0 {
			next = p.ServerTime
		}
		updates = append(updates, p.Updates...)

		if p.NextCursor == nil || *p.NextCursor == "" {
			return updates, next, nil
		}
		cursor = *p.NextCursor
	}

	c.http.logger.Warn().
		Int("pages", c.maxPages).
		Int("updates", len(updates)).
		Msg("delta feed page cap reached; remaining changes deferred")
	if n := len(updates); n > 0 && !updates[n-1].ChangedAt.IsZero() {
		next = updates[n-1].ChangedAt
	}
	return updates, next, nil
}

func (c *DeltaClient) fetchPage(ctx context.Context, since time.Time, deviceID, cursor string) (*syncx.DeltaPage, error) {
	params := url.Values{}
	params.Set("limit", strconv.Itoa(c.pageLimit))
	if cursor != "" {
		params.Set("cursor", cursor)
	} else if !since.IsZero() {
		params.Set("since", since.UTC().Format(time.RFC3339Nano))
	}
	if deviceID != "" {
		params.Set("deviceId", deviceID)
	}

	reqURL := c.http.baseURL + "/v1/sync/updates?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var page syncx.DeltaPage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("failed to decode delta page: %w", err)
	}
	return &page, nil
}
