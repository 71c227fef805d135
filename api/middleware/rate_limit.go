package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"
)

// KeyFunc picks the bucket a request is counted against.
type KeyFunc func(c echo.Context) string

func ClientIPKey(c echo.Context) string {
	return c.RealIP()
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter throttles requests per key with a token bucket. Buckets idle
// for longer than ttl are dropped.
type RateLimiter struct {
	mutex    sync.Mutex
	visitors map[string]*visitor
	rate     rate.Limit
	burst    int
	ttl      time.Duration
	key      KeyFunc
	now      func() time.Time
}

func NewRateLimiter(r rate.Limit, burst int, ttl time.Duration) *RateLimiter {
	return &RateLimiter{
		visitors: make(map[string]*visitor),
		rate:     r,
		burst:    burst,
		ttl:      ttl,
		key:      ClientIPKey,
		now:      time.Now,
	}
}

// WithKey swaps the bucket key, e.g. to count per account instead of per IP.
func (l *RateLimiter) WithKey(key KeyFunc) *RateLimiter {
	l.key = key
	return l
}

func (l *RateLimiter) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			reservation := l.reserve(l.key(c))
			if delay := reservation.DelayFrom(l.now()); delay > 0 {
				reservation.CancelAt(l.now())
				seconds := int(math.Ceil(delay.Seconds()))
				c.Response().Header().Set("Retry-After", strconv.Itoa(seconds))
				return c.JSON(http.StatusTooManyRequests, map[string]string{"message": "too many requests"})
			}
			return next(c)
		}
	}
}

func (l *RateLimiter) reserve(key string) *rate.Reservation {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	now := l.now()
	v, ok := l.visitors[key]
	if !ok {
		l.cleanup(now)
		v = &visitor{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.visitors[key] = v
	}
	v.lastSeen = now
	return v.limiter.ReserveN(now, 1)
}

func (l *RateLimiter) cleanup(now time.Time) {
	if l.ttl == 0 {
		return
	}
	cutoff := now.Add(-l.ttl)
	for key, v := range l.visitors {
		if v.lastSeen.Before(cutoff) {
			delete(l.visitors, key)
		}
	}
}
