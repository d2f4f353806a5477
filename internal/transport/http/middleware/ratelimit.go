package middleware

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"hrpay/internal/transport/http/api"
)

type RateLimitKeyFunc func(r *http.Request) string

type RateLimitOption func(*rateLimiter)

// idleAfter is how long an unused client limiter is kept.
const idleAfter = 10 * time.Minute

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type rateLimiter struct {
	mu        sync.Mutex
	limit     rate.Limit
	burst     int
	keyFn     RateLimitKeyFunc
	clients   map[string]*client
	lastSweep time.Time
	now       func() time.Time
}

func WithKeyFunc(fn RateLimitKeyFunc) RateLimitOption {
	return func(rl *rateLimiter) {
		if fn != nil {
			rl.keyFn = fn
		}
	}
}

// RateLimit allows perSecond requests per client with bursts of burst. The
// client is the authenticated user, or the remote IP for anonymous calls.
func RateLimit(perSecond float64, burst int, opts ...RateLimitOption) func(http.Handler) http.Handler {
	rl := newRateLimiter(perSecond, burst, actorOrIPKey)
	for _, opt := range opts {
		opt(rl)
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !rl.enforce(w, r) {
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// BatchRateLimit adds a stricter per-user limit in front of the batch job and
// payroll run triggers.
func BatchRateLimit(perSecond float64, burst int) func(http.Handler) http.Handler {
	strict := newRateLimiter(max(perSecond/10, 0.1), max(burst/4, 1), actorOrIPKey)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isBatchTrigger(r) && !strict.enforce(w, r) {
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func actorOrIPKey(r *http.Request) string {
	if user, ok := GetUser(r.Context()); ok && user.UserID != "" {
		return "user:" + user.UserID
	}
	return clientIPKey(r)
}

func clientIPKey(r *http.Request) string {
	if fwd := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if value := strings.TrimSpace(first); value != "" {
			return value
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil && host != "" {
		return host
	}
	return strings.TrimSpace(r.RemoteAddr)
}

func newRateLimiter(perSecond float64, burst int, keyFn RateLimitKeyFunc) *rateLimiter {
	if keyFn == nil {
		keyFn = actorOrIPKey
	}
	return &rateLimiter{
		limit:   rate.Limit(perSecond),
		burst:   burst,
		keyFn:   keyFn,
		clients: map[string]*client{},
		now:     time.Now,
	}
}

func (rl *rateLimiter) get(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if now.Sub(rl.lastSweep) > idleAfter {
		for k, c := range rl.clients {
			if now.Sub(c.lastSeen) > idleAfter {
				delete(rl.clients, k)
			}
		}
		rl.lastSweep = now
	}
	c, ok := rl.clients[key]
	if !ok {
		c = &client{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.clients[key] = c
	}
	c.lastSeen = now
	return c.limiter
}

func (rl *rateLimiter) enforce(w http.ResponseWriter, r *http.Request) bool {
	if rl.limit <= 0 || rl.burst <= 0 {
		return true
	}
	key := rl.keyFn(r)
	if key == "" {
		key = clientIPKey(r)
	}
	limiter := rl.get(key)

	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.burst))
	reservation := limiter.ReserveN(rl.now(), 1)
	if delay := reservation.DelayFrom(rl.now()); delay > 0 {
		reservation.CancelAt(rl.now())
		w.Header().Set("Retry-After", strconv.Itoa(max(int(delay.Seconds()), 1)))
		zap.L().Warn("rate limit exceeded",
			zap.String("key", key),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
		)
		api.Fail(w, http.StatusTooManyRequests, "rate_limited", "too many requests", GetRequestID(r.Context()))
		return false
	}
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(max(int(limiter.TokensAt(rl.now())), 0)))
	return true
}

func isBatchTrigger(r *http.Request) bool {
	if r.Method != http.MethodPost {
		return false
	}
	path := strings.TrimPrefix(r.URL.Path, "/api/v1")
	if path == "/jobs/run-accrual" || path == "/payroll/runs" {
		return true
	}
	return strings.HasPrefix(path, "/payroll/runs/") &&
		(strings.HasSuffix(path, "/calculate") || strings.HasSuffix(path, "/finalize"))
}
