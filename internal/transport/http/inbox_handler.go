package httptransport

import (
	"mime"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"tethbox/backend/internal/domain"
	"tethbox/backend/internal/service"
	"tethbox/backend/internal/session"
	"tethbox/backend/internal/storage"
)

type messageSummary struct {
	Key           string `json:"key"`
	SenderName    string `json:"sender_name"`
	SenderAddress string `json:"sender_address"`
	Sender        string `json:"sender"`
	Date          int64  `json:"date"`
	Subject       string `json:"subject"`
	Read          bool   `json:"read"`
}

type inboxResponse struct {
	Account  accountResponse  `json:"account"`
	Messages []messageSummary `json:"messages"`
}

type attachmentInfo struct {
	Key         string `json:"key"`
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
	Inline      bool   `json:"inline"`
	URL         string `json:"url"`
}

type messageDetail struct {
	messageSummary
	Receiver    string           `json:"receiver"`
	ReplyTo     string           `json:"reply_to,omitempty"`
	CC          string           `json:"cc,omitempty"`
	HTML        string           `json:"html"`
	Attachments []attachmentInfo `json:"attachments"`
}

type forwardRequest struct {
	Address string `form:"address" json:"address"`
}

// attachmentURL 附件的下载地址
func attachmentURL(att *domain.Attachment) string {
	return "/attachment/" + att.ID
}

func toMessageSummary(msg *domain.Message) messageSummary {
	return messageSummary{
		Key:           msg.ID,
		SenderName:    msg.SenderName,
		SenderAddress: msg.SenderAddress,
		Sender:        msg.Sender(),
		Date:          msg.Date.Unix(),
		Subject:       msg.Subject,
		Read:          msg.Read,
	}
}

// listInbox 返回当前账户的收件箱
func (h *Handler) listInbox(c *gin.Context) {
	order := storage.SortAscending
	if strings.EqualFold(c.Query("order"), "desc") {
		order = storage.SortDescending
	}

	account, messages, err := h.inbox.Inbox(c.Request.Context(), session.FromContext(c), order)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	summaries := make([]messageSummary, 0, len(messages))
	for i := range messages {
		summaries = append(summaries, toMessageSummary(&messages[i]))
	}
	c.JSON(http.StatusOK, inboxResponse{
		Account:  h.toAccountResponse(account),
		Messages: summaries,
	})
}

// getMessage 返回完整邮件并标记已读
func (h *Handler) getMessage(c *gin.Context) {
	msg, attachments, err := h.inbox.ReadMessage(c.Request.Context(), session.FromContext(c), c.Param("key"))
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	infos := make([]attachmentInfo, 0, len(attachments))
	for i := range attachments {
		att := &attachments[i]
		infos = append(infos, attachmentInfo{
			Key:         att.ID,
			Filename:    att.Filename,
			ContentType: att.ContentType,
			Size:        att.Size,
			Inline:      att.IsInline(),
			URL:         attachmentURL(att),
		})
	}

	c.JSON(http.StatusOK, gin.H{"message": messageDetail{
		messageSummary: toMessageSummary(msg),
		Receiver:       domain.FormatAddress(msg.ReceiverName, msg.ReceiverAddress),
		ReplyTo:        msg.ReplyTo,
		CC:             msg.CC,
		HTML:           service.RenderBody(msg, attachments, attachmentURL),
		Attachments:    infos,
	}})
}

// forwardMessage 把邮件转发到指定地址，发送在后台进行
func (h *Handler) forwardMessage(c *gin.Context) {
	var req forwardRequest
	if err := c.ShouldBind(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	if err := h.forward.Forward(c.Request.Context(), session.FromContext(c), c.Param("key"), req.Address); err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{})
}

// downloadAttachment 以原文件名返回附件内容
func (h *Handler) downloadAttachment(c *gin.Context) {
	att, rc, size, err := h.inbox.OpenAttachment(c.Request.Context(), session.FromContext(c), c.Param("key"))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	defer rc.Close()

	contentType, inline := attachmentType(att)
	disposition := "attachment"
	if inline {
		disposition = "inline"
	}
	if att.Filename != "" {
		if v := mime.FormatMediaType(disposition, map[string]string{"filename": att.Filename}); v != "" {
			disposition = v
		}
	}

	// 附件下载不使用统一响应格式，直接返回二进制流
	c.DataFromReader(http.StatusOK, size, contentType, rc, map[string]string{
		"Content-Disposition":     disposition,
		"Content-Security-Policy": attachmentCSP,
	})
}

// attachmentCSP 附件内容来自不可信的发件人，禁止脚本与一切子资源
const attachmentCSP = "default-src 'none'; sandbox"

// inlineImageTypes 允许在浏览器内直接显示的内嵌图片类型，其余一律作为下载
var inlineImageTypes = map[string]bool{
	"image/png":  true,
	"image/jpeg": true,
	"image/gif":  true,
	"image/webp": true,
	"image/bmp":  true,
}

// attachmentType 返回响应的 Content-Type 以及是否可以内联显示。
// 只有带 Content-ID 的栅格图片内联，无法解析的类型按二进制流处理。
func attachmentType(att *domain.Attachment) (string, bool) {
	mediaType, _, err := mime.ParseMediaType(att.ContentType)
	if err != nil || mediaType == "" {
		return "application/octet-stream", false
	}
	return att.ContentType, att.IsInline() && inlineImageTypes[mediaType]
}

// serveWebSocket 把连接绑定到会话当前的有效账户
func (h *Handler) serveWebSocket(c *gin.Context) {
	account, err := h.accounts.Resolve(c.Request.Context(), session.FromContext(c))
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	// 升级失败时 upgrader 已写出错误响应
	if err := h.hub.Serve(c.Writer, c.Request, account.ID); err != nil {
		h.log.Debug("websocket not established", zap.Int64("account_id", account.ID), zap.Error(err))
	}
}
