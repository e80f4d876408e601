package httpapi

import (
	"net/http"
	"time"

	"github.com/erauner12/fieldsync/internal/syncx"
)

// ServerInfo represents the server's capabilities and configuration
type ServerInfo struct {
	APIVersion string                      `json:"apiVersion"`
	ServerTime string                      `json:"serverTime"`
	Entities   map[string]EntityCapability `json:"entities"`
	RateLimit  *RateLimitInfo              `json:"rateLimit,omitempty"`
	Hints      SyncHints                   `json:"hints"`
}

// RateLimitInfo describes the server's rate limiting policy
type RateLimitInfo struct {
	WindowSeconds int `json:"windowSeconds"` // e.g. 60
	MaxRequests   int `json:"maxRequests"`   // per window
	Burst         int `json:"burst"`         // token bucket size
}

// SyncHints provides recommendations for client behavior
type SyncHints struct {
	MaxUpdatesLimit int  `json:"maxUpdatesLimit"`
	BackoffMsOn429  int  `json:"backoffMsOn429"` // default backoff if Retry-After missing
	Idempotency     bool `json:"idempotency"`
}

// EntityCapability describes one entity collection
type EntityCapability struct {
	Path   string `json:"path"`
	Create bool   `json:"create"`
	Update bool   `json:"update"`
	Delete bool   `json:"delete"`
}

// Info handles GET /v1/sync/info
// Callable without authentication so clients can discover capabilities
func (s *Server) Info(w http.ResponseWriter, r *http.Request) {
	info := ServerInfo{
		APIVersion: "1.0",
		ServerTime: time.Now().UTC().Format(time.RFC3339Nano),
		Entities:   make(map[string]EntityCapability),
		Hints: SyncHints{
			MaxUpdatesLimit: maxUpdatesLimit,
			BackoffMsOn429:  1500,
			Idempotency:     true,
		},
	}
	for _, entity := range syncx.EntityTypes() {
		p, _ := syncx.EntityPath(entity)
		info.Entities[entity] = EntityCapability{Path: "/v1/" + p, Create: true, Update: true, Delete: true}
	}
	if s.RateLimitConfig.MaxRequests > 0 {
		rl := s.RateLimitConfig
		info.RateLimit = &rl
	}

	writeJSON(w, http.StatusOK, info)
}
