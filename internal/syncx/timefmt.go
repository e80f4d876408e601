package syncx

import (
	"strconv"
	"time"
)

// RFC3339 converts Unix milliseconds to an RFC3339 timestamp string (UTC)
func RFC3339(ms int64) string {
	return time.UnixMilli(ms).UTC().Format(time.RFC3339Nano)
}

// NowMs returns current Unix milliseconds timestamp (UTC)
func NowMs() int64 {
	return time.Now().UTC().UnixMilli()
}

// ParseTimeToMs converts various time formats to Unix milliseconds
// Accepts: RFC3339 (with or without fraction), numeric milliseconds as string
func ParseTimeToMs(s string) (int64, bool) {
	if s == "" {
		return 0, false
	}

	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC().UnixMilli(), true
	}

	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return ms, true
	}

	return 0, false
}
