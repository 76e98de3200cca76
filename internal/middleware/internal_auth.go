package middleware

import (
	"crypto/subtle"
	"net"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	// CronTokenHeader 调用清理端点时携带的令牌头
	CronTokenHeader = "X-Tethbox-Cron-Token"
	// InboundTokenHeader 调用入站投递端点时携带的令牌头
	InboundTokenHeader = "X-Tethbox-Inbound-Token"
)

// proxyHeaders 出现任意一个即说明请求经过了反向代理
var proxyHeaders = []string{"X-Forwarded-For", "X-Real-IP", "Forwarded"}

// InternalAuth 保护只供内部调用的端点（定时清理、MTA 投递）
//
// 配置了 token 时任何来源（包括本机）都必须在 header 中携带相同的值。
// token 为空时只允许本机直连，经过代理转发的请求即使来自回环地址也拒绝。
func InternalAuth(header, token string, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		provided := c.GetHeader(header)
		if token != "" {
			if subtle.ConstantTimeCompare([]byte(provided), []byte(token)) == 1 {
				c.Next()
				return
			}
		} else if isLoopback(c.Request.RemoteAddr) && !proxied(c.Request) {
			c.Next()
			return
		}

		log.Warn("internal endpoint access denied",
			zap.String("path", c.Request.URL.Path),
			zap.String("remote", c.Request.RemoteAddr),
			zap.Bool("token_provided", provided != ""))
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
			"code": http.StatusForbidden,
			"msg":  "无权访问",
		})
	}
}

func proxied(r *http.Request) bool {
	for _, h := range proxyHeaders {
		if r.Header.Get(h) != "" {
			return true
		}
	}
	return false
}

// isLoopback 按 TCP 对端地址判断，不信任任何代理头
func isLoopback(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
