package httptransport

import (
	"errors"
	"io"
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"tethbox/backend/internal/domain"
)

var addressValidator = domain.NewEmailValidator()

// clearAccounts 执行一次过期账户清理
func (h *Handler) clearAccounts(c *gin.Context) {
	result, err := h.sweeper.Sweep(c.Request.Context())
	if err != nil {
		h.log.Error("sweep failed", zap.Error(err))
		InternalError(c, MsgSweepFailed)
		return
	}
	c.JSON(http.StatusOK, result)
}

// inboundMail 接收 MTA 通过管道投递的原始邮件，地址取自路径
func (h *Handler) inboundMail(c *gin.Context) {
	address, err := url.PathUnescape(c.Param("address"))
	if err != nil || addressValidator.ValidateEmail(address) != nil {
		BadRequest(c, MsgInvalidAddress)
		return
	}

	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			Error(c, http.StatusRequestEntityTooLarge, "邮件超过大小限制")
			return
		}
		BadRequest(c, MsgInvalidRequest)
		return
	}

	stored, err := h.ingest.DeliverBytes(c.Request.Context(), []string{address}, raw, "http")
	if err != nil {
		h.log.Warn("failed to parse inbound mail", zap.String("address", address), zap.Error(err))
		BadRequest(c, MsgInvalidMail)
		return
	}
	c.JSON(http.StatusOK, gin.H{"stored": stored})
}

// healthSummary 汇总各依赖的健康状态
func (h *Handler) healthSummary(c *gin.Context) {
	results, ok := h.health.CheckHealth()
	status := http.StatusOK
	if !ok {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{
		"status": map[bool]string{true: "ok", false: "degraded"}[ok],
		"checks": results,
	})
}
