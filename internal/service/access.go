package service

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"tethbox/backend/internal/domain"
	"tethbox/backend/internal/storage"
)

// AccessGate 校验会话账户是否为邮件或附件的所有者。
//
// 键无法解析或实体不存在时返回 domain.ErrNotFound，且先于所有权比较；
// 会话没有有效账户或账户不是所有者时返回 domain.ErrForbidden。
type AccessGate struct {
	accounts *AccountService
	store    storage.Store
}

// NewAccessGate 创建访问控制
func NewAccessGate(accounts *AccountService, store storage.Store) *AccessGate {
	return &AccessGate{accounts: accounts, store: store}
}

// Message 返回会话账户拥有的邮件
func (g *AccessGate) Message(ctx context.Context, sess Session, key string) (*domain.Message, error) {
	if _, err := uuid.Parse(key); err != nil {
		return nil, domain.ErrNotFound
	}

	msg, err := g.store.GetMessage(ctx, key)
	if err != nil {
		if errors.Is(err, storage.ErrMessageNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}

	if err := g.checkOwner(ctx, sess, msg.AccountID); err != nil {
		return nil, err
	}
	return msg, nil
}

// Attachment 返回会话账户拥有的附件及其所属邮件
func (g *AccessGate) Attachment(ctx context.Context, sess Session, key string) (*domain.Attachment, *domain.Message, error) {
	if _, err := uuid.Parse(key); err != nil {
		return nil, nil, domain.ErrNotFound
	}

	att, err := g.store.GetAttachment(ctx, key)
	if err != nil {
		if errors.Is(err, storage.ErrAttachmentNotFound) {
			return nil, nil, domain.ErrNotFound
		}
		return nil, nil, err
	}

	msg, err := g.store.GetMessage(ctx, att.MessageID)
	if err != nil {
		if errors.Is(err, storage.ErrMessageNotFound) {
			return nil, nil, domain.ErrNotFound
		}
		return nil, nil, err
	}

	if err := g.checkOwner(ctx, sess, msg.AccountID); err != nil {
		return nil, nil, err
	}
	return att, msg, nil
}

func (g *AccessGate) checkOwner(ctx context.Context, sess Session, ownerID int64) error {
	account, err := g.accounts.Resolve(ctx, sess)
	if err != nil {
		if errors.Is(err, domain.ErrGone) {
			return domain.ErrForbidden
		}
		return err
	}
	if account.ID != ownerID {
		return domain.ErrForbidden
	}
	return nil
}
