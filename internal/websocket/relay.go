package websocket

import (
	"context"

	"go.uber.org/zap"

	"tethbox/backend/internal/domain"
)

// Publisher 把新邮件事件发布给所有实例
type Publisher interface {
	PublishNewMail(ctx context.Context, accountID int64, payload []byte) error
}

// Relay 通过发布订阅通道转发新邮件通知，多实例部署时使用。
//
// 各实例订阅同一通道后调用 Hub.Broadcast 推送给本地客户端。
type Relay struct {
	publisher Publisher
	log       *zap.Logger
}

// NewRelay 创建通知转发器
func NewRelay(publisher Publisher, log *zap.Logger) *Relay {
	return &Relay{publisher: publisher, log: log}
}

// NotifyNewMail 发布新邮件事件，失败只记录日志
func (r *Relay) NotifyNewMail(ctx context.Context, accountID int64, msg *domain.Message) {
	payload, err := EncodeNewMail(msg)
	if err != nil {
		r.log.Error("failed to marshal new mail data", zap.Error(err))
		return
	}
	if err := r.publisher.PublishNewMail(ctx, accountID, payload); err != nil {
		r.log.Warn("failed to publish new mail event", zap.Int64("account_id", accountID), zap.Error(err))
	}
}
