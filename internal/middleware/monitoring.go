package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"tethbox/backend/internal/monitoring"
)

// unmatchedRoute 未命中任何路由的请求共用的指标标签
const unmatchedRoute = "unmatched"

// MonitoringMiddleware 记录 HTTP 指标并兜底处理 panic
type MonitoringMiddleware struct {
	metrics *monitoring.Metrics
	logger  *zap.Logger
}

func NewMonitoringMiddleware(metrics *monitoring.Metrics, logger *zap.Logger) *MonitoringMiddleware {
	return &MonitoringMiddleware{metrics: metrics, logger: logger}
}

func routeLabel(c *gin.Context) string {
	if route := c.FullPath(); route != "" {
		return route
	}
	return unmatchedRoute
}

// HTTPMetrics 按路由模板记录请求数与耗时
func (mm *MonitoringMiddleware) HTTPMetrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		mm.metrics.RecordHTTPRequest(c.Request.Method, routeLabel(c), strconv.Itoa(c.Writer.Status()), time.Since(start))
	}
}

// PanicRecovery 捕获处理函数中的 panic，计数后返回 500。
// 响应已开始写出时只能中止，不能再改状态码。
func (mm *MonitoringMiddleware) PanicRecovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			mm.metrics.PanicsTotal.Inc()
			mm.logger.Error("handler panic",
				zap.Any("panic", rec),
				zap.String("method", c.Request.Method),
				zap.String("route", routeLabel(c)),
				zap.Stack("stack"),
			)
			if c.Writer.Written() {
				c.Abort()
				return
			}
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"code": http.StatusInternalServerError,
				"msg":  "服务器内部错误",
			})
		}()
		c.Next()
	}
}
