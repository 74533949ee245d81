package middleware

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"buildr/internal/pkg/metrics"
	"buildr/internal/pkg/ratelimit"
)

// RateLimit 对认证入口按客户端 IP 限流。
//
// Redis 故障时放行而不是拒绝，限流是保护措施不是功能依赖。
func RateLimit(limiter *ratelimit.Limiter, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter == nil {
			c.Next()
			return
		}
		allowed, err := limiter.Allow(c.Request.Context(), c.ClientIP())
		if err != nil {
			if logger != nil {
				logger.Warn("rate limiter unavailable", slog.String("error", err.Error()))
			}
			c.Next()
			return
		}
		if !allowed {
			metrics.RateLimitRejectedTotal.Inc()
			c.JSON(http.StatusTooManyRequests, gin.H{"success": false, "message": "Too many requests, slow down"})
			c.Abort()
			return
		}
		c.Next()
	}
}
