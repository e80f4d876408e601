// Package httpapi is the reference sync server: entity mutation routes, the
// delta feed and server info.
package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/erauner12/fieldsync/internal/auth"
	"github.com/erauner12/fieldsync/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
)

const (
	defaultUpdatesLimit = 200
	maxUpdatesLimit     = 1000
)

// Server holds dependencies for HTTP handlers
type Server struct {
	Store           store.Store
	RateLimitConfig RateLimitInfo
}

// writeJSON writes a JSON response with the given status code
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode json response")
	}
}

// parseLimit parses a limit query param with default and max
func parseLimit(q string, def, max int) int {
	if q == "" {
		return def
	}
	n, err := strconv.Atoi(q)
	if err != nil || n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}

// Routes creates the HTTP router with all sync endpoints
func (s *Server) Routes(jwt auth.JWTCfg) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(CorrelationMiddleware)
	r.Use(RequestLogger)
	r.Use(middleware.Recoverer)

	// Health check (unauthenticated); the client's connectivity probe hits it
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
		w.Write([]byte("ok"))
	})
	r.Get("/v1/sync/info", s.Info)

	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(jwt))
		r.Use(DeviceMiddleware)
		if s.RateLimitConfig.MaxRequests > 0 {
			r.Use(RateLimitMiddleware(s.RateLimitConfig))
		}

		r.Get("/v1/sync/updates", s.PullUpdates)

		r.Group(func(r chi.Router) {
			r.Use(s.IdempotencyMiddleware)
			r.Post("/v1/{collection}", s.CreateEntity)
			r.Put("/v1/{collection}/{uid}", s.UpdateEntity)
			r.Delete("/v1/{collection}/{uid}", s.DeleteEntity)
		})
	})

	log.Info().Msg("HTTP routes registered")
	return r
}
