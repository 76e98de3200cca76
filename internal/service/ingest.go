package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"

	"tethbox/backend/internal/domain"
	"tethbox/backend/internal/monitoring"
	"tethbox/backend/internal/storage"
	"tethbox/backend/internal/storage/filesystem"
)

// 丢弃原因，对应 MessagesDropped 的 reason 标签
const (
	dropParseError     = "parse_error"
	dropForeignDomain  = "foreign_domain"
	dropUnknownAccount = "unknown_account"
	dropExpiredAccount = "expired_account"
	dropStorageError   = "storage_error"
)

// Notifier 在新邮件入库后接收通知。
type Notifier interface {
	NotifyNewMail(ctx context.Context, accountID int64, msg *domain.Message)
}

// IngestService 把入站邮件投递到收件账户。
type IngestService struct {
	store    storage.Store
	blobs    storage.BlobStore
	notifier Notifier
	policy   *bluemonday.Policy
	domain   string
	metrics  *monitoring.Metrics
	log      *zap.Logger
	now      func() time.Time
}

// NewIngestService 创建入站投递服务。notifier 可以为 nil。
func NewIngestService(store storage.Store, blobs storage.BlobStore, notifier Notifier, mailDomain string, metrics *monitoring.Metrics, log *zap.Logger) *IngestService {
	return &IngestService{
		store:    store,
		blobs:    blobs,
		notifier: notifier,
		policy:   newHTMLPolicy(),
		domain:   strings.ToLower(mailDomain),
		metrics:  metrics,
		log:      log,
		now:      time.Now,
	}
}

func newHTMLPolicy() *bluemonday.Policy {
	p := bluemonday.UGCPolicy()
	p.AllowAttrs("style").Globally()
	p.AllowAttrs("align", "valign", "bgcolor", "width", "height", "border", "cellpadding", "cellspacing").
		OnElements("table", "tr", "td", "th", "tbody", "thead", "img")
	p.AllowURLSchemes("http", "https", "mailto", "cid")
	p.RequireNoFollowOnLinks(false)
	return p
}

// SanitizeHTML 清洗 HTML 正文，去掉脚本等不安全标记，保留 style 属性。
func (s *IngestService) SanitizeHTML(src string) string {
	return s.policy.Sanitize(src)
}

// Deliver 解析原始邮件并投递给每个收件人，返回成功入库的数量。
//
// 收件人不存在、已失效或存储失败时只记录日志并丢弃，不向发件人返回错误；
// 只有整封邮件无法解析时才返回错误。
func (s *IngestService) Deliver(ctx context.Context, recipients []string, raw io.Reader, source string) (int, error) {
	start := time.Now()
	defer func() {
		s.metrics.IngestDuration.Observe(time.Since(start).Seconds())
	}()

	parsed, err := ParseMail(raw)
	if err != nil {
		s.metrics.MessagesDropped.WithLabelValues(dropParseError).Add(float64(len(recipients)))
		return 0, fmt.Errorf("parse mail: %w", err)
	}

	stored := 0
	seen := make(map[string]struct{}, len(recipients))
	for _, rcpt := range recipients {
		addr := domain.NormalizeAddress(rcpt)
		if _, dup := seen[addr]; dup {
			continue
		}
		seen[addr] = struct{}{}

		if err := s.deliverOne(ctx, addr, parsed); err != nil {
			continue
		}
		stored++
		s.metrics.MessagesReceived.WithLabelValues(source).Inc()
	}
	return stored, nil
}

func (s *IngestService) deliverOne(ctx context.Context, addr string, parsed *ParsedMail) error {
	log := s.log.With(zap.String("recipient", addr))

	if at := strings.LastIndex(addr, "@"); at < 0 || addr[at+1:] != s.domain {
		s.drop(dropForeignDomain)
		log.Debug("dropping mail for foreign domain")
		return errDropped
	}

	account, err := s.store.GetAccountByEmail(ctx, addr)
	if err != nil {
		if errors.Is(err, storage.ErrAccountNotFound) {
			s.drop(dropUnknownAccount)
			log.Debug("dropping mail for unknown account")
			return errDropped
		}
		s.drop(dropStorageError)
		log.Error("failed to resolve recipient", zap.Error(err))
		return err
	}

	now := s.now()
	if !account.IsValidAt(now) {
		s.drop(dropExpiredAccount)
		log.Debug("dropping mail for expired account", zap.Int64("account_id", account.ID))
		return errDropped
	}

	msg := s.buildMessage(account, addr, parsed, now)
	attachments, err := s.storeBlobs(ctx, msg.ID, parsed.Parts)
	if err != nil {
		s.drop(dropStorageError)
		log.Error("failed to store attachments", zap.String("message_id", msg.ID), zap.Error(err))
		return err
	}

	if err := s.store.CreateMessage(ctx, msg, attachments); err != nil {
		s.removeBlobs(ctx, attachments)
		s.drop(dropStorageError)
		log.Error("failed to store message",
			zap.Int64("account_id", account.ID),
			zap.String("message_id", msg.ID),
			zap.Error(err))
		return err
	}

	log.Info("mail delivered",
		zap.Int64("account_id", account.ID),
		zap.String("message_id", msg.ID),
		zap.Int("attachments", len(attachments)))

	if s.notifier != nil {
		s.notifier.NotifyNewMail(ctx, account.ID, msg)
	}
	return nil
}

var errDropped = errors.New("mail dropped")

func (s *IngestService) drop(reason string) {
	s.metrics.MessagesDropped.WithLabelValues(reason).Inc()
}

func (s *IngestService) buildMessage(account *domain.Account, addr string, parsed *ParsedMail, now time.Time) *domain.Message {
	msg := &domain.Message{
		ID:              uuid.New().String(),
		AccountID:       account.ID,
		SenderName:      parsed.From.Name,
		SenderAddress:   parsed.From.Address,
		ReceiverName:    parsed.DisplayName(addr),
		ReceiverAddress: addr,
		ReplyTo:         joinAddresses(parsed.ReplyTo),
		CC:              joinAddresses(parsed.Cc),
		BCC:             joinAddresses(parsed.Bcc),
		Subject:         parsed.Subject,
		Date:            now,
		Text:            parsed.Text,
		Read:            false,
	}
	if parsed.HTML != "" {
		msg.HTML = s.SanitizeHTML(parsed.HTML)
	}
	return msg
}

// storeBlobs 写入附件内容。任何一个失败时删除已写入的部分。
func (s *IngestService) storeBlobs(ctx context.Context, messageID string, parts []MailPart) ([]domain.Attachment, error) {
	attachments := make([]domain.Attachment, 0, len(parts))
	for _, part := range parts {
		path := fmt.Sprintf("attachments/%s/%s", messageID, strings.ReplaceAll(uuid.New().String(), "-", ""))
		if err := s.blobs.Put(ctx, path, part.Data, part.ContentType); err != nil {
			s.removeBlobs(ctx, attachments)
			return nil, fmt.Errorf("put blob: %w", err)
		}

		attachments = append(attachments, domain.Attachment{
			ID:          uuid.New().String(),
			MessageID:   messageID,
			Filename:    filesystem.SanitizeFilename(part.Filename),
			ContentType: part.ContentType,
			Size:        int64(len(part.Data)),
			ContentID:   part.ContentID,
			StoragePath: path,
		})
		s.metrics.AttachmentSize.Observe(float64(len(part.Data)))
	}
	return attachments, nil
}

func (s *IngestService) removeBlobs(ctx context.Context, attachments []domain.Attachment) {
	for _, att := range attachments {
		if err := s.blobs.Delete(ctx, att.StoragePath); err != nil && !errors.Is(err, storage.ErrBlobNotFound) {
			s.log.Warn("failed to remove orphan blob", zap.String("path", att.StoragePath), zap.Error(err))
		}
	}
}

// DeliverBytes 是 Deliver 的便捷形式
func (s *IngestService) DeliverBytes(ctx context.Context, recipients []string, raw []byte, source string) (int, error) {
	return s.Deliver(ctx, recipients, bytes.NewReader(raw), source)
}
