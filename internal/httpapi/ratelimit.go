package httpapi

import (
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/erauner12/fieldsync/internal/auth"
	"github.com/erauner12/fieldsync/internal/syncx"
	"github.com/rs/zerolog/log"
)

// bucketIdleTTL is how long an untouched bucket is kept before it is swept
const bucketIdleTTL = time.Hour

// bucket is one subject's token bucket
type bucket struct {
	tokens   float64
	lastSeen time.Time
}

// verdict is the limiter's answer for one request
type verdict struct {
	allowed    bool
	remaining  int
	retryAfter time.Duration
}

// limiter hands out tokens per authenticated subject. Each subject may burst
// up to policy.Burst requests; tokens refill at MaxRequests per WindowSeconds.
type limiter struct {
	policy   RateLimitInfo
	capacity float64
	perSec   float64
	now      func() time.Time

	mu        sync.Mutex
	buckets   map[string]*bucket
	lastSweep time.Time
}

func newLimiter(policy RateLimitInfo, now func() time.Time) *limiter {
	if now == nil {
		now = time.Now
	}
	return &limiter{
		policy:    policy,
		capacity:  float64(max(policy.Burst, 1)),
		perSec:    float64(policy.MaxRequests) / float64(max(policy.WindowSeconds, 1)),
		now:       now,
		buckets:   make(map[string]*bucket),
		lastSweep: now(),
	}
}

// take spends one token from subject's bucket if it has one
func (l *limiter) take(subject string) verdict {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.sweepLocked(now)

	b, ok := l.buckets[subject]
	if !ok {
		b = &bucket{tokens: l.capacity, lastSeen: now}
		l.buckets[subject] = b
	}
	b.tokens = min(l.capacity, b.tokens+now.Sub(b.lastSeen).Seconds()*l.perSec)
	b.lastSeen = now

	if b.tokens >= 1 {
		b.tokens--
		return verdict{allowed: true, remaining: int(b.tokens)}
	}
	if l.perSec <= 0 {
		return verdict{retryAfter: time.Duration(max(l.policy.WindowSeconds, 1)) * time.Second}
	}
	wait := time.Duration((1 - b.tokens) / l.perSec * float64(time.Second))
	return verdict{retryAfter: wait}
}

// sweepLocked drops idle buckets at most once per bucketIdleTTL
func (l *limiter) sweepLocked(now time.Time) {
	if now.Sub(l.lastSweep) < bucketIdleTTL {
		return
	}
	l.lastSweep = now
	for subject, b := range l.buckets {
		if now.Sub(b.lastSeen) > bucketIdleTTL {
			delete(l.buckets, subject)
		}
	}
}

// RateLimitMiddleware limits each authenticated subject per policy and
// answers 429 rate_limited with Retry-After when the subject's bucket is empty.
// Unauthenticated requests pass through; the auth middleware rejects them.
func RateLimitMiddleware(policy RateLimitInfo) func(http.Handler) http.Handler {
	return rateLimit(newLimiter(policy, nil))
}

func rateLimit(l *limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			subject := auth.UserID(r.Context())
			if subject == "" {
				next.ServeHTTP(w, r)
				return
			}

			v := l.take(subject)
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(l.policy.MaxRequests))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(v.remaining))

			if v.allowed {
				next.ServeHTTP(w, r)
				return
			}

			secs := max(int(v.retryAfter.Round(time.Second)/time.Second), 1)
			w.Header().Set("Retry-After", strconv.Itoa(secs))
			log.Ctx(r.Context()).Warn().
				Str("subject", subject).
				Int("retryAfter", secs).
				Msg("request rate limited")
			writeError(w, r, http.StatusTooManyRequests, syncx.CodeRateLimited,
				fmt.Sprintf("retry after %ds", secs))
		})
	}
}
