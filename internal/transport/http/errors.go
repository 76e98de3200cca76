package httptransport

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"tethbox/backend/internal/domain"
	"tethbox/backend/internal/service"
)

type errorMapping struct {
	err    error
	status int
	msg    string
}

// 错误映射表（业务错误 -> 状态码与中文消息），按顺序匹配
var errorMappings = []errorMapping{
	{domain.ErrNotFound, CodeNotFound, MsgNotFound},
	{domain.ErrForbidden, CodeForbidden, MsgForbidden},
	{domain.ErrGone, CodeGone, MsgAccountGone},
	{domain.ErrValidation, CodeBadRequest, MsgInvalidAddress},
	{service.ErrRateLimited, CodeTooManyRequests, MsgRateLimited},
	{service.ErrForwardUnavailable, CodeServiceUnavailable, MsgForwardUnavailable},
}

// 通用错误消息
const (
	MsgInvalidRequest     = "请求参数格式错误"
	MsgNotFound           = "邮件或附件不存在"
	MsgForbidden          = "无权访问该资源"
	MsgAccountGone        = "邮箱不存在或已过期"
	MsgInvalidAddress     = "邮箱地址格式无效"
	MsgRateLimited        = "创建邮箱过于频繁，请稍后重试"
	MsgForwardUnavailable = "转发服务暂不可用"
	MsgInvalidMail        = "邮件格式无法解析"
	MsgSweepFailed        = "清理任务执行失败"
	MsgInternalError      = "服务器内部错误，请稍后重试"
)

// statusFor 返回错误对应的状态码与中文消息，未知错误归为 500
func statusFor(err error) (int, string) {
	for _, m := range errorMappings {
		if errors.Is(err, m.err) {
			return m.status, m.msg
		}
	}
	return http.StatusInternalServerError, MsgInternalError
}

// respondError 写出错误响应，服务端错误记录日志
func respondError(c *gin.Context, log *zap.Logger, err error) {
	status, msg := statusFor(err)
	if status >= http.StatusInternalServerError {
		log.Error("request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err))
		_ = c.Error(err)
	}
	Error(c, status, msg)
}
