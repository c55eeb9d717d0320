package middlewares

import (
	"net"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// RateLimitMiddleware limits requests per client IP. This is edge protection
// for the HTTP surface only; per-token rate limiting is enforced inside the
// core against the store.
func RateLimitMiddleware(limitPerMinute float64) gin.HandlerFunc {
	var (
		mu       sync.Mutex
		limiters = make(map[string]*rate.Limiter)
	)

	perSecond := rate.Limit(limitPerMinute / 60.0)
	burst := int(limitPerMinute)
	if burst < 1 {
		burst = 1
	}

	return func(c *gin.Context) {
		key := rateKey(c)

		mu.Lock()
		limiter, ok := limiters[key]
		if !ok {
			limiter = rate.NewLimiter(perSecond, burst)
			limiters[key] = limiter
		}
		mu.Unlock()

		if !limiter.Allow() {
			c.Header("Retry-After", "60")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":   "rate_limited",
				"message": "Too many requests",
			})
			return
		}

		c.Next()
	}
}

func rateKey(c *gin.Context) string {
	host, _, err := net.SplitHostPort(c.Request.RemoteAddr)
	if err != nil {
		return c.ClientIP()
	}
	return host
}
