package security

import (
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/crosscheckai/crosscheck/pkg/web"
	"github.com/valyala/fasthttp"
	"golang.org/x/time/rate"
)

// RateLimitConfig configures per-client rate limiting
type RateLimitConfig struct {
	// RequestsPerMinute is the sustained rate per client
	RequestsPerMinute int `yaml:"requests_per_minute" json:"requests_per_minute"`

	// Burst is how many requests a client may make at once. Default: RequestsPerMinute.
	Burst int `yaml:"burst" json:"burst"`

	// KeyFunc identifies the client. Default: remote IP.
	KeyFunc func(ctx *web.FastRequestContext) string `yaml:"-" json:"-"`

	// IdleTTL drops limiters for clients not seen for this long. Default: 10m.
	IdleTTL time.Duration `yaml:"-" json:"-"`
}

// Limiter holds one token bucket per client key
type Limiter struct {
	mu      sync.Mutex
	clients map[string]*client
	every   time.Duration
	burst   int
	ttl     time.Duration
	now     func() time.Time
}

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewLimiter creates a Limiter from config
func NewLimiter(config RateLimitConfig) *Limiter {
	rpm := config.RequestsPerMinute
	if rpm <= 0 {
		rpm = 60
	}
	burst := config.Burst
	if burst <= 0 {
		burst = rpm
	}
	ttl := config.IdleTTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Limiter{
		clients: make(map[string]*client),
		every:   time.Minute / time.Duration(rpm),
		burst:   burst,
		ttl:     ttl,
		now:     time.Now,
	}
}

// Allow reports whether key may make a request now
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	now := l.now()
	c, ok := l.clients[key]
	if !ok {
		l.evictIdle(now)
		c = &client{limiter: rate.NewLimiter(rate.Every(l.every), l.burst)}
		l.clients[key] = c
	}
	c.lastSeen = now
	l.mu.Unlock()

	return c.limiter.AllowN(now, 1)
}

// evictIdle runs with mu held, only when a new client arrives
func (l *Limiter) evictIdle(now time.Time) {
	for key, c := range l.clients {
		if now.Sub(c.lastSeen) > l.ttl {
			delete(l.clients, key)
		}
	}
}

// RetryAfter is how long a rejected client should wait for one token
func (l *Limiter) RetryAfter() time.Duration {
	return l.every
}

// RateLimit rejects clients over their rate with 429
func RateLimit(config RateLimitConfig) web.FastMiddleware {
	return RateLimitWith(NewLimiter(config), config.KeyFunc)
}

// RateLimitWith applies an existing limiter, so several routes can share one budget
func RateLimitWith(limiter *Limiter, keyFunc func(ctx *web.FastRequestContext) string) web.FastMiddleware {
	if keyFunc == nil {
		keyFunc = func(ctx *web.FastRequestContext) string {
			return ctx.RequestCtx.RemoteIP().String()
		}
	}
	retryAfter := strconv.Itoa(max(1, int(math.Ceil(limiter.RetryAfter().Seconds()))))

	return func(next web.FastRequestHandler) web.FastRequestHandler {
		return func(ctx *web.FastRequestContext) error {
			if !limiter.Allow(keyFunc(ctx)) {
				ctx.RequestCtx.Response.Header.Set(fasthttp.HeaderRetryAfter, retryAfter)
				return web.NewHTTPError(fasthttp.StatusTooManyRequests, "rate_limited", "too many requests")
			}
			return next(ctx)
		}
	}
}
