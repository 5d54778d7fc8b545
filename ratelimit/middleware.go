package ratelimit

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

// GinMiddleware 按请求限流的 Gin 中间件，超限时返回 429
//
// keyFunc 为 nil 时使用客户端 IP。限流器出错时放行，发现接口的可用性
// 优先于限流的准确性。
//
// 使用示例:
//
//	r.GET("/cloudmap_sd", ratelimit.GinMiddleware(limiter, nil, ratelimit.Limit{Rate: 2, Burst: 5}), handler)
func GinMiddleware(limiter Limiter, keyFunc func(*gin.Context) string, limit Limit) gin.HandlerFunc {
	if keyFunc == nil {
		keyFunc = func(c *gin.Context) string {
			return "ip:" + c.ClientIP()
		}
	}

	return func(c *gin.Context) {
		if limiter == nil || !limit.Valid() {
			c.Next()
			return
		}

		key := keyFunc(c)
		if key == "" {
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", fmt.Sprintf("rate=%.2f, burst=%d", limit.Rate, limit.Burst))

		allowed, err := limiter.Allow(c.Request.Context(), key, limit)
		if err != nil || allowed {
			c.Next()
			return
		}

		c.Header("X-RateLimit-Remaining", "0")
		c.String(http.StatusTooManyRequests, "rate limit exceeded\n")
		c.Abort()
	}
}
