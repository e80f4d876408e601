package syncx

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidCursor indicates a delta cursor the server did not issue
var ErrInvalidCursor = errors.New("invalid delta cursor")

const cursorPrefix = "d1"

// Cursor is a position in the server's change feed
// Changes are ordered by (ChangedMs, UID); UID is the server row id and breaks
// ties between changes recorded in the same millisecond
// Encoded form: base64url("d1|<changed_ms>|<uid>")
type Cursor struct {
	ChangedMs int64
	UID       uuid.UUID
}

// CursorAt returns the cursor positioned just before every change made at or
// after t
func CursorAt(t time.Time) Cursor {
	if t.IsZero() {
		return Cursor{}
	}
	return Cursor{ChangedMs: t.UTC().UnixMilli() - 1, UID: uuid.Max}
}

// IsZero reports whether c is the start of the feed
func (c Cursor) IsZero() bool {
	return c.ChangedMs == 0 && c.UID == uuid.Nil
}

// Before reports whether the change (ms, uid) sorts after c, i.e. is not yet
// consumed by a reader positioned at c
func (c Cursor) Before(ms int64, uid uuid.UUID) bool {
	if ms != c.ChangedMs {
		return ms > c.ChangedMs
	}
	return strings.Compare(uid.String(), c.UID.String()) > 0
}

// Encode returns the opaque wire form; the zero cursor encodes to ""
func (c Cursor) Encode() string {
	if c.IsZero() {
		return ""
	}
	raw := fmt.Sprintf("%s|%d|%s", cursorPrefix, c.ChangedMs, c.UID.String())
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// DecodeCursor parses a cursor produced by Encode, or the older unprefixed
// base64url("<changed_ms>|<uid>") form. The empty string is the zero cursor.
func DecodeCursor(s string) (Cursor, error) {
	if s == "" {
		return Cursor{}, nil
	}

	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return Cursor{}, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}

	parts := strings.Split(string(b), "|")
	switch {
	case len(parts) == 3 && parts[0] == cursorPrefix:
		parts = parts[1:]
	case len(parts) == 2:
	default:
		return Cursor{}, ErrInvalidCursor
	}

	ms, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || ms < 0 {
		return Cursor{}, ErrInvalidCursor
	}

	id, err := uuid.Parse(parts[1])
	if err != nil {
		return Cursor{}, ErrInvalidCursor
	}

	return Cursor{ChangedMs: ms, UID: id}, nil
}
