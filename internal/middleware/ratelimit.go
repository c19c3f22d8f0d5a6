package middleware

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/learnhub/core/internal/pkg/metrics"
	"github.com/learnhub/core/internal/pkg/ratelimit"
	"github.com/learnhub/core/internal/pkg/response"
)

// RateLimit throttles anonymous requests per client IP. Authenticated
// requests and store failures pass through.
func RateLimit(window *ratelimit.Window, m *metrics.Metrics, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if IsAuthenticated(c) {
			c.Next()
			return
		}

		ip := c.ClientIP()
		if ip == "" {
			c.Next()
			return
		}

		ok, err := window.Allow(c.Request.Context(), ip)
		if err != nil {
			log.Warn("rate limit check failed", zap.Error(err))
			c.Next()
			return
		}
		if !ok {
			m.RateLimited()
			c.Header("Retry-After", "1")
			response.TooManyRequests(c, "Too many requests, slow down")
			return
		}
		c.Next()
	}
}
