package redis

import (
	"context"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

const newMailChannelPrefix = keyspace + "new_mail:"

// MailEvents 通过 Redis 发布订阅在多个实例间传递新邮件通知
type MailEvents struct {
	client *Client
}

// NewMailEvents 创建新邮件事件通道
func NewMailEvents(client *Client) *MailEvents {
	return &MailEvents{client: client}
}

// PublishNewMail 发布新邮件通知
func (e *MailEvents) PublishNewMail(ctx context.Context, accountID int64, payload []byte) error {
	channel := newMailChannelPrefix + strconv.FormatInt(accountID, 10)
	return e.client.rdb.Publish(ctx, channel, payload).Err()
}

// SubscribeNewMail 订阅所有账户的新邮件通知，阻塞直到 ctx 结束
func (e *MailEvents) SubscribeNewMail(ctx context.Context, handle func(accountID int64, payload []byte)) error {
	pubsub := e.client.rdb.PSubscribe(ctx, newMailChannelPrefix+"*")
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			accountID, err := strconv.ParseInt(strings.TrimPrefix(msg.Channel, newMailChannelPrefix), 10, 64)
			if err != nil {
				e.client.log.Warn("ignoring malformed new mail channel", zap.String("channel", msg.Channel))
				continue
			}
			handle(accountID, []byte(msg.Payload))
		}
	}
}
