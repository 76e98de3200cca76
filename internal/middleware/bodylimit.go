package middleware

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

const (
	// SmallBodyLimit 普通 API 请求
	SmallBodyLimit = 64 * 1024
	// DefaultMailLimit 入站原始邮件的默认上限
	DefaultMailLimit = 10 * 1024 * 1024
)

// BodySizeLimit 限制请求体大小的中间件
//
// Content-Length 已超限时直接返回 413，否则用 MaxBytesReader 截断读取。
func BodySizeLimit(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > maxBytes {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{
				"code": http.StatusRequestEntityTooLarge,
				"msg":  fmt.Sprintf("请求体超过 %d 字节限制", maxBytes),
			})
			return
		}

		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Header("X-Max-Body-Size", strconv.FormatInt(maxBytes, 10))
		c.Next()
	}
}
