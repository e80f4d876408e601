package httpapi

import (
	"net/http"
	"time"

	"github.com/erauner12/fieldsync/internal/auth"
	"github.com/erauner12/fieldsync/internal/syncx"
	"github.com/rs/zerolog/log"
)

// PullUpdates handles GET /v1/sync/updates?since=<rfc3339>|cursor=<opaque>&limit=<int>
// Returns changes in (changed_ms, row_id) order. nextCursor is set only when
// more changes remain.
func (s *Server) PullUpdates(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := parseLimit(q.Get("limit"), defaultUpdatesLimit, maxUpdatesLimit)

	var cur syncx.Cursor
	switch {
	case q.Get("cursor") != "":
		c, err := syncx.DecodeCursor(q.Get("cursor"))
		if err != nil {
			writeError(w, r, http.StatusBadRequest, syncx.CodeInvalidRequest, err.Error())
			return
		}
		cur = c
	case q.Get("since") != "":
		ms, ok := syncx.ParseTimeToMs(q.Get("since"))
		if !ok {
			writeError(w, r, http.StatusBadRequest, syncx.CodeInvalidRequest, "invalid since")
			return
		}
		cur = syncx.CursorAt(time.UnixMilli(ms))
	}

	// Taken before the query: any change the query misses is stamped at or after it
	serverTime := time.Now().UTC()
	owner := auth.UserID(r.Context())
	rows, err := s.Store.Changes(r.Context(), owner, cur, limit+1)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}

	page := syncx.DeltaPage{
		Updates:    make([]syncx.ServerUpdate, 0, min(len(rows), limit)),
		ServerTime: serverTime,
	}
	if len(rows) > limit {
		rows = rows[:limit]
		last := rows[len(rows)-1]
		next := syncx.Cursor{ChangedMs: last.ChangedMs, UID: last.RowID}.Encode()
		page.NextCursor = &next
	}
	for _, e := range rows {
		page.Updates = append(page.Updates, e.Record().Update())
	}

	log.Ctx(r.Context()).Debug().
		Int("count", len(page.Updates)).
		Bool("more", page.NextCursor != nil).
		Msg("delta page served")

	writeJSON(w, http.StatusOK, page)
}
