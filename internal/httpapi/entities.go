package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/erauner12/fieldsync/internal/auth"
	"github.com/erauner12/fieldsync/internal/store"
	"github.com/erauner12/fieldsync/internal/syncx"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

const maxMutationBody = 1 << 20

// CreateEntity handles POST /v1/{collection}
func (s *Server) CreateEntity(w http.ResponseWriter, r *http.Request) {
	entityType, ok := s.collection(w, r)
	if !ok {
		return
	}
	req, ok := decodeMutation(w, r, true)
	if !ok {
		return
	}
	s.apply(w, r, http.StatusCreated, store.Mutation{
		Kind:       store.MutationCreate,
		EntityType: entityType,
		UID:        req.UID,
		UpdatedAt:  req.UpdatedAt,
		Data:       req.Data,
	})
}

// UpdateEntity handles PUT /v1/{collection}/{uid}
// Unknown entities are created; stale writes return the current row unchanged
func (s *Server) UpdateEntity(w http.ResponseWriter, r *http.Request) {
	entityType, ok := s.collection(w, r)
	if !ok {
		return
	}
	req, ok := decodeMutation(w, r, true)
	if !ok {
		return
	}
	uid := chi.URLParam(r, "uid")
	if req.UID != uid {
		writeError(w, r, http.StatusBadRequest, syncx.CodeInvalidRequest, "uid in body does not match path")
		return
	}
	s.apply(w, r, http.StatusOK, store.Mutation{
		Kind:       store.MutationUpdate,
		EntityType: entityType,
		UID:        uid,
		UpdatedAt:  req.UpdatedAt,
		Data:       req.Data,
	})
}

// DeleteEntity handles DELETE /v1/{collection}/{uid}
// The body is optional; without an updatedAt the server clock is used
func (s *Server) DeleteEntity(w http.ResponseWriter, r *http.Request) {
	entityType, ok := s.collection(w, r)
	if !ok {
		return
	}
	req, ok := decodeMutation(w, r, false)
	if !ok {
		return
	}
	uid := chi.URLParam(r, "uid")
	if req.UID != "" && req.UID != uid {
		writeError(w, r, http.StatusBadRequest, syncx.CodeInvalidRequest, "uid in body does not match path")
		return
	}
	at := req.UpdatedAt
	if at.IsZero() {
		at = time.Now().UTC()
	}
	s.apply(w, r, http.StatusOK, store.Mutation{
		Kind:       store.MutationDelete,
		EntityType: entityType,
		UID:        uid,
		UpdatedAt:  at,
	})
}

func (s *Server) apply(w http.ResponseWriter, r *http.Request, status int, m store.Mutation) {
	owner := auth.UserID(r.Context())
	e, err := s.Store.ApplyMutation(r.Context(), owner, m)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}

	log.Ctx(r.Context()).Debug().
		Str("kind", string(m.Kind)).
		Str("entityType", m.EntityType).
		Str("uid", m.UID).
		Int("version", e.Version).
		Msg("mutation applied")

	writeJSON(w, status, e.Record())
}

// collection resolves the {collection} path segment to an entity type
func (s *Server) collection(w http.ResponseWriter, r *http.Request) (string, bool) {
	entityType, ok := syncx.EntityFromPath(chi.URLParam(r, "collection"))
	if !ok {
		writeError(w, r, http.StatusNotFound, syncx.CodeNotFound, "unknown collection")
		return "", false
	}
	return entityType, true
}

// decodeMutation reads and validates the request body. When required is
// false an empty body is accepted.
func decodeMutation(w http.ResponseWriter, r *http.Request, required bool) (syncx.MutationRequest, bool) {
	var req syncx.MutationRequest
	err := json.NewDecoder(io.LimitReader(r.Body, maxMutationBody)).Decode(&req)
	if errors.Is(err, io.EOF) && !required {
		return req, true
	}
	if err != nil {
		writeError(w, r, http.StatusBadRequest, syncx.CodeInvalidRequest, "invalid json body")
		return req, false
	}
	if !required && req.UID == "" {
		return req, true
	}
	if err := req.Validate(); err != nil {
		if !required && req.UpdatedAt.IsZero() {
			return req, true
		}
		writeError(w, r, http.StatusUnprocessableEntity, syncx.CodeValidation, err.Error())
		return req, false
	}
	return req, true
}
