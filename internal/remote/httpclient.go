// Package remote is the client side of the sync API: an authenticated HTTP
// client, per-entity mutation clients and the delta feed reader.
package remote

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	// DefaultMaxRetries bounds in-call retries for 401 and 429 responses
	DefaultMaxRetries = 2

	// DefaultBackoff is the initial backoff when a 429 carries no Retry-After
	DefaultBackoff = 1 * time.Second

	// MaxRetryAfter caps how long a single call waits on Retry-After; longer
	// waits are left to the sync engine's own schedule
	MaxRetryAfter = 10 * time.Second
)

// Options configures an HTTPClient
type Options struct {
	// DebugSub is sent as X-Debug-Sub when no TokenProvider is set (dev mode)
	DebugSub string

	// DeviceID is sent as X-Device-ID on every request
	DeviceID string

	Timeout    time.Duration
	MaxRetries int
	HTTPClient *http.Client
	Logger     *zerolog.Logger
}

// HTTPClient wraps http.Client with authentication and retry logic
// Automatically injects:
// - Authorization: Bearer <token> (production) OR X-Debug-Sub (dev mode)
// - X-Device-ID: <device id>
// - X-Correlation-ID: <uuid>
//
// Handles retries for:
// - 401 Unauthorized: invalidate token cache, retry
// - 429 Too Many Requests: respect Retry-After (capped), exponential backoff
//
// Every other non-2xx response is returned as a *Error.
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
	tokens     TokenProvider // nil in dev mode
	debugSub   string
	deviceID   string
	maxRetries int
	logger     *zerolog.Logger
}

// NewHTTPClient creates a new authenticated HTTP client
// For production provide tokens; for dev mode pass nil and set Options.DebugSub
func NewHTTPClient(baseURL string, tokens TokenProvider, opts Options) *HTTPClient {
	c := &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: opts.HTTPClient,
		tokens:     tokens,
		debugSub:   opts.DebugSub,
		deviceID:   opts.DeviceID,
		maxRetries: opts.MaxRetries,
		logger:     opts.Logger,
	}
	if c.httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		c.httpClient = &http.Client{Timeout: timeout}
	}
	if c.maxRetries <= 0 {
		c.maxRetries = DefaultMaxRetries
	}
	if c.logger == nil {
		c.logger = &log.Logger
	}
	return c
}

// BaseURL returns the API root without trailing slash
func (c *HTTPClient) BaseURL() string { return c.baseURL }

// Do executes an HTTP request with auth headers and retry logic
// A nil error means the response status is 2xx; the caller closes the body.
func (c *HTTPClient) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	correlationID := uuid.New().String()

	logger := c.logger.With().
		Str("method", req.Method).
		Str("path", req.URL.Path).
		Str("correlationId", correlationID).
		Logger()

	body, err := readBody(req)
	if err != nil {
		return nil, fmt.Errorf("failed to read request body: %w", err)
	}

	return c.doWithRetry(ctx, req, body, &logger, correlationID, 0)
}

func (c *HTTPClient) doWithRetry(ctx context.Context, req *http.Request, body []byte, logger *zerolog.Logger, correlationID string, retryCount int) (*http.Response, error) {
	attempt, err := cloneRequest(ctx, req, body)
	if err != nil {
		return nil, fmt.Errorf("failed to clone request: %w", err)
	}

	attempt.Header.Set("X-Correlation-ID", correlationID)
	if c.deviceID != "" {
		attempt.Header.Set("X-Device-ID", c.deviceID)
	}

	if c.tokens == nil {
		attempt.Header.Set("X-Debug-Sub", c.debugSub)
	} else {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return nil, &Error{Kind: KindAuth, Err: fmt.Errorf("failed to get auth token: %w", err)}
		}
		attempt.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(attempt)
	duration := time.Since(start)

	if err != nil {
		logger.Warn().Err(err).Dur("duration", duration).Msg("HTTP request failed")
		return nil, transportError(ctx, err)
	}

	logger.Debug().
		Int("status", resp.StatusCode).
		Dur("duration", duration).
		Int("retryCount", retryCount).
		Msg("HTTP request completed")

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return c.handleUnauthorized(ctx, req, body, resp, logger, correlationID, retryCount)
	case resp.StatusCode == http.StatusTooManyRequests:
		return c.handleRateLimit(ctx, req, body, resp, logger, correlationID, retryCount)
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return resp, nil
	default:
		return nil, errorFromResponse(resp)
	}
}

// handleUnauthorized invalidates the cached token and retries
func (c *HTTPClient) handleUnauthorized(ctx context.Context, req *http.Request, body []byte, resp *http.Response, logger *zerolog.Logger, correlationID string, retryCount int) (*http.Response, error) {
	if c.tokens == nil || retryCount >= c.maxRetries {
		logger.Warn().Bool("devMode", c.tokens == nil).Msg("401 Unauthorized - giving up")
		return nil, errorFromResponse(resp)
	}
	resp.Body.Close()

	logger.Warn().Msg("401 Unauthorized - invalidating token and retrying")
	c.tokens.Invalidate()

	return c.doWithRetry(ctx, req, body, logger, correlationID, retryCount+1)
}

// handleRateLimit waits out Retry-After (or exponential backoff) and retries
func (c *HTTPClient) handleRateLimit(ctx context.Context, req *http.Request, body []byte, resp *http.Response, logger *zerolog.Logger, correlationID string, retryCount int) (*http.Response, error) {
	retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))

	if retryCount >= c.maxRetries || retryAfter > MaxRetryAfter {
		logger.Warn().Dur("retryAfter", retryAfter).Msg("Rate limited - deferring to next sync")
		return nil, errorFromResponse(resp)
	}
	resp.Body.Close()

	if retryAfter == 0 {
		retryAfter = DefaultBackoff * time.Duration(1<<retryCount)
	}

	logger.Warn().
		Dur("retryAfter", retryAfter).
		Int("retryCount", retryCount).
		Str("rateLimitRemaining", resp.Header.Get("X-RateLimit-Remaining")).
		Msg("Rate limited - backing off")

	timer := time.NewTimer(retryAfter)
	defer timer.Stop()
	select {
	case <-timer.C:
		return c.doWithRetry(ctx, req, body, logger, correlationID, retryCount+1)
	case <-ctx.Done():
		return nil, transportError(ctx, ctx.Err())
	}
}

func readBody(req *http.Request) ([]byte, error) {
	if req.Body == nil {
		return nil, nil
	}
	defer req.Body.Close()
	return io.ReadAll(req.Body)
}

// cloneRequest builds one attempt of req carrying body
func cloneRequest(ctx context.Context, req *http.Request, body []byte) (*http.Request, error) {
	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	attempt, err := http.NewRequestWithContext(ctx, req.Method, req.URL.String(), rdr)
	if err != nil {
		return nil, err
	}

	for k, v := range req.Header {
		if k == "Authorization" || k == "X-Debug-Sub" {
			continue // re-injected per attempt
		}
		attempt.Header[k] = v
	}
	return attempt, nil
}

// parseRetryAfter parses the Retry-After header
// Supports both integer seconds and HTTP-date format
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}

	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}

	if t, err := http.ParseTime(value); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}

	return 0
}
