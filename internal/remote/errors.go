package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/erauner12/fieldsync/internal/syncx"
)

// Kind classifies a remote failure
type Kind string

const (
	KindNetwork     Kind = "network"
	KindTimeout     Kind = "timeout"
	KindAuth        Kind = "auth"
	KindValidation  Kind = "validation"
	KindNotFound    Kind = "not_found"
	KindConflict    Kind = "conflict"
	KindRateLimited Kind = "rate_limited"
	KindServer      Kind = "server"
	KindClient      Kind = "client"
)

// Error is a failed call to the sync API
type Error struct {
	Kind          Kind
	StatusCode    int    // 0 when no response was received
	Code          string // error code from the response body
	Message       string
	CorrelationID string
	RetryAfter    time.Duration
	Err           error // underlying transport error, if any
}

func (e *Error) Error() string {
	if e.StatusCode == 0 {
		if e.Err != nil {
			return fmt.Sprintf("remote %s error: %v", e.Kind, e.Err)
		}
		return fmt.Sprintf("remote %s error", e.Kind)
	}
	msg := e.Message
	if msg == "" {
		msg = e.Code
	}
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	return fmt.Sprintf("remote %s error (status %d): %s", e.Kind, e.StatusCode, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Temporary reports whether a later attempt can succeed without changing
// the request
func (e *Error) Temporary() bool {
	switch e.Kind {
	case KindNetwork, KindTimeout, KindAuth, KindRateLimited, KindServer:
		return true
	}
	return e.StatusCode == http.StatusRequestTimeout
}

// AsError extracts a *Error from err's chain
func AsError(err error) (*Error, bool) {
	var re *Error
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}

// kindForStatus maps an HTTP status to a failure kind
func kindForStatus(status int) Kind {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return KindAuth
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return KindValidation
	case status == http.StatusNotFound || status == http.StatusGone:
		return KindNotFound
	case status == http.StatusConflict || status == http.StatusPreconditionFailed:
		return KindConflict
	case status == http.StatusTooManyRequests:
		return KindRateLimited
	case status == http.StatusRequestTimeout:
		return KindTimeout
	case status >= 500:
		return KindServer
	default:
		return KindClient
	}
}

// errorFromResponse builds an Error from a non-2xx response and closes its body
func errorFromResponse(resp *http.Response) *Error {
	defer resp.Body.Close()

	e := &Error{
		Kind:          kindForStatus(resp.StatusCode),
		StatusCode:    resp.StatusCode,
		CorrelationID: resp.Header.Get("X-Correlation-ID"),
		RetryAfter:    parseRetryAfter(resp.Header.Get("Retry-After")),
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err == nil && len(body) > 0 {
		var eb syncx.ErrorBody
		if json.Unmarshal(body, &eb) == nil {
			e.Code = eb.Error
			e.Message = eb.Message
			if eb.CorrelationID != "" {
				e.CorrelationID = eb.CorrelationID
			}
		}
	}
	return e
}

// transportError wraps a failure that produced no response
func transportError(ctx context.Context, err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) || ctx.Err() == context.DeadlineExceeded {
		return &Error{Kind: KindTimeout, Err: err}
	}
	var te interface{ Timeout() bool }
	if errors.As(err, &te) && te.Timeout() {
		return &Error{Kind: KindTimeout, Err: err}
	}
	return &Error{Kind: KindNetwork, Err: err}
}
