package dispatch

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/erauner12/fieldsync/internal/queue"
	"github.com/erauner12/fieldsync/internal/remote"
)

// UnsupportedOperationError means no handler exists for the combination.
// It is permanent: retrying cannot succeed.
type UnsupportedOperationError struct {
	EntityType queue.EntityType
	Type       queue.OperationType
}

func (e *UnsupportedOperationError) Error() string {
	return fmt.Sprintf("unsupported operation %s for entity type %s", e.Type, e.EntityType)
}

// IsPermanent reports whether err can never succeed on retry.
// Permanent: unsupported combinations and remote rejections of the request
// itself (validation, conflict, not found, other 4xx).
// Transient: network failures, timeouts, 5xx, 408, 429 and auth failures
// (401/403 may clear once the token is refreshed).
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}

	var unsupported *UnsupportedOperationError
	if errors.As(err, &unsupported) {
		return true
	}

	if re, ok := remote.AsError(err); ok {
		switch re.Kind {
		case remote.KindValidation, remote.KindConflict, remote.KindNotFound:
			return true
		case remote.KindClient:
			switch re.StatusCode {
			case http.StatusUnauthorized, http.StatusForbidden, http.StatusRequestTimeout, http.StatusTooManyRequests:
				return false
			}
			return re.StatusCode >= 400 && re.StatusCode < 500
		}
		return false
	}

	// context errors and anything unrecognised are transient; the retry
	// budget bounds them
	return false
}
