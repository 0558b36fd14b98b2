package httpmiddleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"cocred/internal/metrics"
)

// maxKeys bounds the tracked clients; full buckets are evicted beyond it.
const maxKeys = 10000

// TokenBucket limits requests per key. Each key holds up to capacity tokens
// and regains perMinute tokens a minute.
type TokenBucket struct {
	mu       sync.Mutex
	capacity float64
	refill   float64 // tokens per second
	keys     map[string]*allowance
	now      func() time.Time
}

type allowance struct {
	tokens  float64
	updated time.Time
}

// NewTokenBucket returns a limiter. capacity <= 0 means one minute of refill.
func NewTokenBucket(capacity, perMinute int) *TokenBucket {
	if capacity <= 0 {
		capacity = perMinute
	}
	return &TokenBucket{
		capacity: float64(capacity),
		refill:   float64(perMinute) / 60,
		keys:     map[string]*allowance{},
		now:      time.Now,
	}
}

func (l *TokenBucket) PerIP() gin.HandlerFunc {
	return l.Middleware(func(c *gin.Context) string { return c.ClientIP() })
}

// Middleware rejects with 429 and a Retry-After header once keyFn's bucket is empty.
func (l *TokenBucket) Middleware(keyFn func(*gin.Context) string) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := keyFn(c)
		if key == "" {
			key = "unknown"
		}
		if wait, ok := l.take(key); !ok {
			metrics.RateLimited.Inc()
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit"})
			return
		}
		c.Next()
	}
}

// Allow takes one token for key.
func (l *TokenBucket) Allow(key string) bool {
	_, ok := l.take(key)
	return ok
}

// take spends a token, or reports how long until one is available.
func (l *TokenBucket) take(key string) (time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	a := l.keys[key]
	if a == nil {
		if len(l.keys) >= maxKeys {
			l.evict(now)
		}
		a = &allowance{tokens: l.capacity, updated: now}
		l.keys[key] = a
	}
	a.tokens = math.Min(l.capacity, a.tokens+now.Sub(a.updated).Seconds()*l.refill)
	a.updated = now

	if a.tokens < 1 {
		if l.refill <= 0 {
			return time.Minute, false
		}
		return time.Duration((1 - a.tokens) / l.refill * float64(time.Second)), false
	}
	a.tokens--
	return 0, true
}

// evict drops keys whose buckets have refilled completely. Must hold mu.
func (l *TokenBucket) evict(now time.Time) {
	for k, a := range l.keys {
		if a.tokens+now.Sub(a.updated).Seconds()*l.refill >= l.capacity {
			delete(l.keys, k)
		}
	}
}
