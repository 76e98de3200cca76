package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// securityHeaders 每个响应都带上的固定头。收件箱内容属于会话私有数据，禁止缓存。
var securityHeaders = [][2]string{
	{"X-Content-Type-Options", "nosniff"},
	{"X-Frame-Options", "DENY"},
	{"Referrer-Policy", "no-referrer"},
	{"Cache-Control", "no-store"},
}

// SecurityHeaders 添加安全响应头
func SecurityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		for _, h := range securityHeaders {
			c.Header(h[0], h[1])
		}
		c.Next()
	}
}

// RequestLogger 按响应状态选择级别记录访问日志。route 为路由模板，不含邮件 key。
func RequestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		fields := make([]zap.Field, 0, 6)
		fields = append(fields,
			zap.String("method", c.Request.Method),
			zap.String("route", c.FullPath()),
			zap.Int("status", status),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
		if errs := c.Errors.ByType(gin.ErrorTypeAny); len(errs) > 0 {
			fields = append(fields, zap.Strings("errors", errs.Errors()))
		}

		switch {
		case status >= 500:
			log.Error("request failed", fields...)
		case status >= 400:
			log.Info("request rejected", fields...)
		default:
			log.Debug("request served", fields...)
		}
	}
}
