// AngelaMos | 2026
// ratelimit.go

package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	redis_rate "github.com/go-redis/redis_rate/v10"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/carterperez-dev/rentals/backend/internal/core"
)

// RateLimitConfig configures a single limiter. Redis is the primary
// counter store; an in-process token bucket takes over when Redis fails.
type RateLimitConfig struct {
	Limit      redis_rate.Limit
	KeyFunc    func(*http.Request) string
	BypassFunc func(*http.Request) bool
}

type RateLimiter struct {
	counter *counter
	config  RateLimitConfig
}

func NewRateLimiter(rdb *redis.Client, cfg RateLimitConfig) *RateLimiter {
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = KeyByIP
	}

	return &RateLimiter{counter: newCounter(rdb), config: cfg}
}

func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rl.config.BypassFunc != nil && rl.config.BypassFunc(r) {
			next.ServeHTTP(w, r)
			return
		}

		key := rl.config.KeyFunc(r)
		res := rl.counter.allow(r.Context(), key, rl.config.Limit)
		serveLimited(w, r, next, res, rl.config.Limit)
	})
}

// RoleLimits maps a user role to its per-user limit.
type RoleLimits map[string]redis_rate.Limit

// DefaultRoleLimits scales the base limit: admins get ten times the budget,
// landlords managing many listings twice.
func DefaultRoleLimits(base redis_rate.Limit) RoleLimits {
	scaled := func(n int) redis_rate.Limit {
		return Per(base.Rate*n, base.Burst*n, base.Period)
	}

	return RoleLimits{
		"tenant":   base,
		"landlord": scaled(2),
		"admin":    scaled(10),
	}
}

// RoleRateLimiter limits authenticated callers by user id with the limit of
// their role. It must run after Authenticator; anonymous requests fall back
// to the fallback limit keyed by IP.
func RoleRateLimiter(
	rdb *redis.Client,
	limits RoleLimits,
	fallbackLimit redis_rate.Limit,
) func(http.Handler) http.Handler {
	c := newCounter(rdb)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			role := GetUserRole(r.Context())

			limit, ok := limits[role]
			if !ok {
				limit = fallbackLimit
			}

			res := c.allow(r.Context(), KeyByUser(r), limit)
			if role != "" {
				w.Header().Set("X-RateLimit-Role", role)
			}
			serveLimited(w, r, next, res, limit)
		})
	}
}

// Per builds a limit of rate requests per window.
func Per(rate, burst int, window time.Duration) redis_rate.Limit {
	return redis_rate.Limit{Rate: rate, Burst: burst, Period: window}
}

func serveLimited(
	w http.ResponseWriter,
	r *http.Request,
	next http.Handler,
	res *redis_rate.Result,
	limit redis_rate.Limit,
) {
	h := w.Header()
	h.Set("X-RateLimit-Limit", strconv.Itoa(limit.Rate))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(max(res.Remaining, 0)))
	h.Set("X-RateLimit-Reset",
		strconv.FormatInt(time.Now().Add(res.ResetAfter).Unix(), 10))

	if res.Allowed > 0 {
		next.ServeHTTP(w, r)
		return
	}

	retryAfter := max(int(res.RetryAfter.Seconds()), 1)
	h.Set("Retry-After", strconv.Itoa(retryAfter))

	core.JSONError(w, core.NewAppError(
		nil,
		fmt.Sprintf("rate limit exceeded, retry after %d seconds", retryAfter),
		http.StatusTooManyRequests,
		"RATE_LIMITED",
	))
}

// counter asks Redis first and the local buckets when Redis errors.
type counter struct {
	redis *redis_rate.Limiter
	local *localBuckets
}

func newCounter(rdb *redis.Client) *counter {
	return &counter{
		redis: redis_rate.NewLimiter(rdb),
		local: &localBuckets{buckets: make(map[string]*bucket)},
	}
}

func (c *counter) allow(
	ctx context.Context,
	key string,
	limit redis_rate.Limit,
) *redis_rate.Result {
	res, err := c.redis.Allow(ctx, key, limit)
	if err == nil {
		return res
	}

	slog.WarnContext(ctx, "redis rate limiter unavailable, using local bucket",
		"key", key,
		"error", err,
	)
	return c.local.allow(key, limit, time.Now())
}

const (
	sweepEvery = 5 * time.Minute
	bucketIdle = 10 * time.Minute
)

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// localBuckets is a per-key token bucket store. Idle buckets are swept on
// access rather than by a background goroutine.
type localBuckets struct {
	mu        sync.Mutex
	buckets   map[string]*bucket
	lastSweep time.Time
}

func (l *localBuckets) allow(
	key string,
	limit redis_rate.Limit,
	now time.Time,
) *redis_rate.Result {
	perSecond := float64(limit.Rate) / limit.Period.Seconds()
	interval := time.Duration(float64(time.Second) / perSecond)

	l.mu.Lock()
	if now.Sub(l.lastSweep) > sweepEvery {
		for k, b := range l.buckets {
			if now.Sub(b.lastSeen) > bucketIdle {
				delete(l.buckets, k)
			}
		}
		l.lastSweep = now
	}

	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(rate.Limit(perSecond), limit.Burst)}
		l.buckets[key] = b
	}
	b.lastSeen = now
	l.mu.Unlock()

	res := &redis_rate.Result{
		Limit:      limit,
		Remaining:  int(b.limiter.TokensAt(now)),
		ResetAfter: interval,
		RetryAfter: -1,
	}

	if b.limiter.AllowN(now, 1) {
		res.Allowed = 1
		res.Remaining = max(res.Remaining-1, 0)
	} else {
		res.RetryAfter = interval
	}

	return res
}

// ClientIP returns the caller address, preferring the last X-Forwarded-For
// hop appended by our own proxy.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		hops := strings.Split(xff, ",")
		return strings.TrimSpace(hops[len(hops)-1])
	}

	if real := r.Header.Get("X-Real-IP"); real != "" {
		return real
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func KeyByIP(r *http.Request) string {
	return "ratelimit:ip:" + ClientIP(r)
}

// KeyByIPAndEndpoint keeps login attempts from sharing a bucket with
// refresh calls from the same address.
func KeyByIPAndEndpoint(r *http.Request) string {
	return KeyByIP(r) + ":endpoint:" + endpointPattern(r.URL.Path)
}

func KeyByUser(r *http.Request) string {
	if userID := GetUserID(r.Context()); userID != "" {
		return "ratelimit:user:" + userID
	}
	return KeyByIP(r)
}

// endpointPattern collapses ids in a path so /users/42 and /users/43 share
// one bucket.
func endpointPattern(path string) string {
	segments := strings.Split(strings.Trim(path, "/"), "/")

	for i, seg := range segments {
		if uuid.Validate(seg) == nil {
			segments[i] = "{id}"
			continue
		}
		if _, err := strconv.ParseUint(seg, 10, 64); err == nil {
			segments[i] = "{id}"
		}
	}

	return "/" + strings.Join(segments, "/")
}
