package httpapi

import (
	"bytes"
	"context"
	"net/http"

	"github.com/erauner12/fieldsync/internal/auth"
	"github.com/erauner12/fieldsync/internal/store"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
)

// IdempotencyMiddleware replays the stored response for a repeated
// Idempotency-Key. Responses below 500 (except 429) are recorded.
func (s *Server) IdempotencyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("Idempotency-Key")
		if key == "" {
			next.ServeHTTP(w, r)
			return
		}

		owner := auth.UserID(r.Context())
		logger := log.Ctx(r.Context())

		prev, err := s.Store.LookupIdempotency(r.Context(), owner, key)
		if err != nil {
			logger.Error().Err(err).Str("idempotencyKey", key).Msg("idempotency lookup failed")
		}
		if prev != nil {
			logger.Debug().Str("idempotencyKey", key).Int("status", prev.Status).Msg("replaying idempotent response")
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Idempotent-Replayed", "true")
			w.WriteHeader(prev.Status)
			w.Write(prev.Body)
			return
		}

		var buf bytes.Buffer
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		ww.Tee(&buf)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status >= 500 || status == http.StatusTooManyRequests {
			return
		}
		resp := store.IdempotentResponse{Status: status, Body: buf.Bytes()}
		if err := s.Store.SaveIdempotency(context.WithoutCancel(r.Context()), owner, key, resp); err != nil {
			logger.Error().Err(err).Str("idempotencyKey", key).Msg("failed to record idempotent response")
		}
	})
}
