package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"tethbox/backend/internal/domain"
	"tethbox/backend/internal/mailer"
	"tethbox/backend/internal/monitoring"
	"tethbox/backend/internal/pool"
)

// ErrForwardUnavailable 转发未启用或发送队列已满
var ErrForwardUnavailable = errors.New("forwarding unavailable")

const forwardTimeout = 30 * time.Second

// MailSender 发送一封邮件
type MailSender interface {
	Send(ctx context.Context, m *mailer.Mail) error
}

// ForwardService 把会话账户拥有的邮件转发到外部地址，发送在协程池中异步完成。
type ForwardService struct {
	gate      *AccessGate
	sender    MailSender
	pool      *pool.WorkerPool
	from      string
	validator *domain.EmailValidator
	metrics   *monitoring.Metrics
	log       *zap.Logger
}

// NewForwardService 创建转发服务。sender 或 workers 为 nil 时所有转发请求返回 ErrForwardUnavailable。
func NewForwardService(gate *AccessGate, sender MailSender, workers *pool.WorkerPool, from string, metrics *monitoring.Metrics, log *zap.Logger) *ForwardService {
	return &ForwardService{
		gate:      gate,
		sender:    sender,
		pool:      workers,
		from:      from,
		validator: domain.NewEmailValidator(),
		metrics:   metrics,
		log:       log,
	}
}

// Forward 校验目标地址与所有权后提交发送任务，不等待发送结果。
func (s *ForwardService) Forward(ctx context.Context, sess Session, key, address string) error {
	address = strings.TrimSpace(address)
	if err := s.validator.ValidateEmail(address); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	msg, err := s.gate.Message(ctx, sess, key)
	if err != nil {
		return err
	}

	if s.sender == nil || s.pool == nil {
		return ErrForwardUnavailable
	}

	out := BuildForward(msg, s.from, address)
	err = s.pool.TrySubmit(func(ctx context.Context) {
		sendCtx, cancel := context.WithTimeout(ctx, forwardTimeout)
		defer cancel()

		if err := s.sender.Send(sendCtx, out); err != nil {
			s.metrics.MessagesForwarded.WithLabelValues("failed").Inc()
			s.log.Error("failed to forward message",
				zap.String("message_id", msg.ID),
				zap.String("to", address),
				zap.Error(err))
			return
		}
		s.metrics.MessagesForwarded.WithLabelValues("sent").Inc()
	})
	if err != nil {
		s.metrics.MessagesForwarded.WithLabelValues("rejected").Inc()
		s.log.Warn("forward queue rejected task", zap.String("message_id", msg.ID), zap.Error(err))
		return ErrForwardUnavailable
	}
	return nil
}

// BuildForward 构造转发邮件：主题加 "Fwd: " 前缀，回复地址为原发件人。
func BuildForward(msg *domain.Message, from, to string) *mailer.Mail {
	return &mailer.Mail{
		From:    from,
		To:      to,
		ReplyTo: msg.Sender(),
		Subject: "Fwd: " + msg.Subject,
		Text:    msg.Text,
		HTML:    msg.HTML,
	}
}
