package httptransport

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Response 统一错误响应结构
//
// 成功响应直接返回业务对象（如 {account: ...}），与前端字段保持兼容。
type Response struct {
	Code int         `json:"code"`           // 业务状态码
	Msg  string      `json:"msg"`            // 中文提示信息
	Data interface{} `json:"data,omitempty"` // 数据载荷
}

// 业务状态码定义
const (
	CodeBadRequest         = 400 // 请求参数错误
	CodeForbidden          = 403 // 无权限
	CodeNotFound           = 404 // 资源不存在
	CodeGone               = 410 // 账户不存在或已过期
	CodeTooManyRequests    = 429 // 请求过于频繁
	CodeInternalError      = 500 // 服务器内部错误
	CodeServiceUnavailable = 503 // 服务暂不可用
)

// BadRequest 请求参数错误（400）
func BadRequest(c *gin.Context, msg string) {
	Error(c, http.StatusBadRequest, msg)
}

// InternalError 服务器内部错误（500）
func InternalError(c *gin.Context, msg string) {
	Error(c, http.StatusInternalServerError, msg)
}

// Error 通用错误响应（根据HTTP状态码自动选择）
func Error(c *gin.Context, httpCode int, msg string) {
	c.AbortWithStatusJSON(httpCode, Response{
		Code: httpCode,
		Msg:  msg,
	})
}
