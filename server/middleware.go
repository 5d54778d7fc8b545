package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ceyewan/cloudmap-sd/clog"
)

// HeaderRequestID 请求 ID 头
const HeaderRequestID = "X-Request-ID"

// requestID 沿用调用方的请求 ID，没有时生成一个，并写入日志上下文
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderRequestID)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		c.Header(HeaderRequestID, id)
		c.Request = c.Request.WithContext(clog.WithRequestID(c.Request.Context(), id))
		c.Next()
	}
}

// accessLog 请求结束后记录访问日志，探活请求降为 debug
func accessLog(logger clog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		fields := []clog.Field{
			clog.String("method", c.Request.Method),
			clog.String("route", route),
			clog.Int("status", c.Writer.Status()),
			clog.Int("bytes", c.Writer.Size()),
			clog.Duration("duration", time.Since(start)),
			clog.String("client_ip", c.ClientIP()),
		}

		ctx := c.Request.Context()
		switch {
		case route == pathHealth || route == pathReady || route == pathMetrics:
			logger.DebugContext(ctx, "http request", fields...)
		case c.Writer.Status() >= http.StatusInternalServerError:
			logger.WarnContext(ctx, "http request", fields...)
		default:
			logger.InfoContext(ctx, "http request", fields...)
		}
	}
}

// recovery 捕获 panic，记录日志后返回 500
func recovery(logger clog.Logger) gin.HandlerFunc {
	return gin.CustomRecoveryWithWriter(nil, func(c *gin.Context, recovered any) {
		logger.ErrorContext(c.Request.Context(), "panic recovered",
			clog.Any("panic", recovered),
			clog.String("path", c.Request.URL.Path))
		c.String(http.StatusInternalServerError, "internal error\n")
		c.Abort()
	})
}
