package httpapi

import (
	"errors"
	"net/http"

	"github.com/erauner12/fieldsync/internal/store"
	"github.com/erauner12/fieldsync/internal/syncx"
	"github.com/rs/zerolog/log"
)

// writeError writes the common error body with the request's correlation id
func writeError(w http.ResponseWriter, r *http.Request, status int, code, msg string) {
	writeJSON(w, status, syncx.ErrorBody{
		Error:         code,
		Message:       msg,
		CorrelationID: GetCorrelationID(r.Context()),
	})
}

// writeStoreError maps a store failure onto its HTTP status
func writeStoreError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, r, http.StatusNotFound, syncx.CodeNotFound, err.Error())
	case errors.Is(err, store.ErrConflict):
		writeError(w, r, http.StatusConflict, syncx.CodeConflict, err.Error())
	default:
		log.Ctx(r.Context()).Error().Err(err).Msg("store operation failed")
		writeError(w, r, http.StatusInternalServerError, syncx.CodeInternal, "internal error")
	}
}
