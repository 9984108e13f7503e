package middleware

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	limiterBurst = 5
	visitorTTL   = 5 * time.Minute
)

// OwnerRateLimiter keeps one token bucket per authenticated owner. It must run after
// AuthMiddleware.
type OwnerRateLimiter struct {
	visitors sync.Map
	rps      rate.Limit
	burst    int
	log      *zap.Logger
}

type visitor struct {
	limiter  *rate.Limiter
	mu       sync.Mutex
	lastSeen time.Time
}

func NewOwnerRateLimiter(perMinute int, logger *zap.Logger) *OwnerRateLimiter {
	return &OwnerRateLimiter{
		rps:   rate.Limit(float64(perMinute) / 60.0),
		burst: limiterBurst,
		log:   logger,
	}
}

func (l *OwnerRateLimiter) getLimiter(key string) *rate.Limiter {
	now := time.Now()
	v, _ := l.visitors.LoadOrStore(key, &visitor{limiter: rate.NewLimiter(l.rps, l.burst), lastSeen: now})
	vi := v.(*visitor)
	vi.mu.Lock()
	vi.lastSeen = now
	vi.mu.Unlock()
	return vi.limiter
}

// CleanupWorker drops owners idle for longer than visitorTTL until ctx is done.
func (l *OwnerRateLimiter) CleanupWorker(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.cleanup(time.Now().Add(-visitorTTL))
		}
	}
}

func (l *OwnerRateLimiter) cleanup(cutoff time.Time) {
	l.visitors.Range(func(k, v interface{}) bool {
		vi := v.(*visitor)
		vi.mu.Lock()
		idle := vi.lastSeen.Before(cutoff)
		vi.mu.Unlock()
		if idle {
			l.visitors.Delete(k)
		}
		return true
	})
}

func (l *OwnerRateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.ClientIP()
		if owner, ok := Owner(c); ok {
			key = owner.ID.String()
		}

		if !l.getLimiter(key).Allow() {
			l.log.Warn("rate limit exceeded", zap.String("owner", key), zap.String("path", c.FullPath()))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}

		c.Next()
	}
}
