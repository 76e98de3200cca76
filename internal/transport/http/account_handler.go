package httptransport

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"tethbox/backend/internal/domain"
	"tethbox/backend/internal/session"
)

type accountResponse struct {
	Email    string `json:"email"`
	ExpireIn int64  `json:"expireIn"`
}

type accountEnvelope struct {
	Account accountResponse `json:"account"`
}

func (h *Handler) toAccountResponse(account *domain.Account) accountResponse {
	return accountResponse{
		Email:    account.Email,
		ExpireIn: account.ExpireIn(h.accounts.Now()),
	}
}

// initAccount 确保会话绑定有效账户
func (h *Handler) initAccount(c *gin.Context) {
	account, err := h.accounts.Init(c.Request.Context(), session.FromContext(c), c.ClientIP())
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, accountEnvelope{Account: h.toAccountResponse(account)})
}

// newAccount 关闭旧账户并绑定新账户
func (h *Handler) newAccount(c *gin.Context) {
	account, err := h.accounts.NewAccount(c.Request.Context(), session.FromContext(c), c.ClientIP())
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, accountEnvelope{Account: h.toAccountResponse(account)})
}

// resetTimer 续期当前账户
func (h *Handler) resetTimer(c *gin.Context) {
	account, err := h.accounts.Renew(c.Request.Context(), session.FromContext(c))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, accountEnvelope{Account: h.toAccountResponse(account)})
}
