package service

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"tethbox/backend/internal/domain"
	"tethbox/backend/internal/monitoring"
	"tethbox/backend/internal/storage"
)

// InboxService 提供收件箱、邮件与附件的读取。
type InboxService struct {
	accounts *AccountService
	gate     *AccessGate
	store    storage.Store
	blobs    storage.BlobStore
	metrics  *monitoring.Metrics
	log      *zap.Logger
}

// NewInboxService 创建收件箱服务
func NewInboxService(accounts *AccountService, gate *AccessGate, store storage.Store, blobs storage.BlobStore, metrics *monitoring.Metrics, log *zap.Logger) *InboxService {
	return &InboxService{
		accounts: accounts,
		gate:     gate,
		store:    store,
		blobs:    blobs,
		metrics:  metrics,
		log:      log,
	}
}

// Inbox 返回会话账户及其邮件，按接收时间排序。没有有效账户时返回 domain.ErrGone。
func (s *InboxService) Inbox(ctx context.Context, sess Session, order storage.SortOrder) (*domain.Account, []domain.Message, error) {
	account, err := s.accounts.Resolve(ctx, sess)
	if err != nil {
		return nil, nil, err
	}

	messages, err := s.store.ListMessages(ctx, account.ID, order)
	if err != nil {
		return nil, nil, fmt.Errorf("list messages: %w", err)
	}
	return account, messages, nil
}

// ReadMessage 返回完整邮件及其附件，并将邮件标记为已读。
func (s *InboxService) ReadMessage(ctx context.Context, sess Session, key string) (*domain.Message, []domain.Attachment, error) {
	msg, err := s.gate.Message(ctx, sess, key)
	if err != nil {
		return nil, nil, err
	}

	attachments, err := s.store.ListAttachments(ctx, msg.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("list attachments: %w", err)
	}

	if !msg.Read {
		if err := s.store.MarkMessageRead(ctx, msg.ID); err != nil {
			return nil, nil, fmt.Errorf("mark message read: %w", err)
		}
		msg.Read = true
		s.metrics.MessagesRead.Inc()
	}
	return msg, attachments, nil
}

// OpenAttachment 打开会话账户拥有的附件内容，调用方负责关闭 reader。
func (s *InboxService) OpenAttachment(ctx context.Context, sess Session, key string) (*domain.Attachment, io.ReadCloser, int64, error) {
	att, _, err := s.gate.Attachment(ctx, sess, key)
	if err != nil {
		return nil, nil, 0, err
	}

	rc, size, err := s.blobs.Open(ctx, att.StoragePath)
	if err != nil {
		if errors.Is(err, storage.ErrBlobNotFound) {
			s.log.Warn("attachment blob missing", zap.String("attachment_id", att.ID), zap.String("path", att.StoragePath))
			return nil, nil, 0, domain.ErrNotFound
		}
		return nil, nil, 0, fmt.Errorf("open attachment: %w", err)
	}
	return att, rc, size, nil
}
