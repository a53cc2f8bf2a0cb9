package admin

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// DefaultBurstSize is the bucket capacity used when none is configured.
const DefaultBurstSize = 200

// bucketTTL is how long an idle client's bucket is kept.
const bucketTTL = time.Minute

type tokenBucket struct {
	tokens float64
	last   time.Time
}

// rateLimiter is a per-client token bucket keyed by remote IP. Idle
// buckets are swept lazily from allow, so there is nothing to stop.
type rateLimiter struct {
	rps   float64
	burst int
	now   func() time.Time

	mu        sync.Mutex
	buckets   map[string]*tokenBucket
	lastSweep time.Time
}

func newRateLimiter(rps float64, burst int) *rateLimiter {
	if burst <= 0 {
		burst = DefaultBurstSize
	}
	return &rateLimiter{
		rps:     rps,
		burst:   burst,
		now:     time.Now,
		buckets: make(map[string]*tokenBucket),
	}
}

// allow takes one token for client. When none is left it reports how long
// until one will be.
func (rl *rateLimiter) allow(client string) (ok bool, remaining int, retryAfter time.Duration) {
	now := rl.now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	if now.Sub(rl.lastSweep) > bucketTTL {
		for k, b := range rl.buckets {
			if now.Sub(b.last) > bucketTTL {
				delete(rl.buckets, k)
			}
		}
		rl.lastSweep = now
	}

	b, found := rl.buckets[client]
	if !found {
		b = &tokenBucket{tokens: float64(rl.burst), last: now}
		rl.buckets[client] = b
	}
	b.tokens = math.Min(float64(rl.burst), b.tokens+now.Sub(b.last).Seconds()*rl.rps)
	b.last = now

	if b.tokens >= 1 {
		b.tokens--
		return true, int(b.tokens), 0
	}
	wait := time.Duration((1 - b.tokens) / rl.rps * float64(time.Second))
	return false, 0, wait
}

func (rl *rateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ok, remaining, retry := rl.allow(clientIP(r))
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.burst))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		if !ok {
			secs := int64(math.Ceil(retry.Seconds()))
			w.Header().Set("Retry-After", strconv.FormatInt(max(secs, 1), 10))
			writeStatus(w, http.StatusTooManyRequests, CodeRateLimited, "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientIP returns the connection's remote IP. Forwarding headers are
// ignored: they are client controlled.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
