package smtp

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"

	gosmtp "github.com/emersion/go-smtp"
	"go.uber.org/zap"

	"tethbox/backend/internal/domain"
	"tethbox/backend/internal/monitoring"
)

// Deliverer 接收完整邮件并投递给收件人
type Deliverer interface {
	Deliver(ctx context.Context, recipients []string, raw io.Reader, source string) (int, error)
}

// Backend 实现 go-smtp 的 Backend 接口。
//
// 只接收发往本服务域名的邮件，不做中继。收件账户是否存在在投递时判断，
// 不存在或已失效的账户静默丢弃，不在 SMTP 会话中暴露。
type Backend struct {
	ctx           context.Context
	ingest        Deliverer
	domain        string
	maxBytes      int64
	maxRecipients int
	limiter       *ConnectionLimiter
	metrics       *monitoring.Metrics
	log           *zap.Logger
}

// NewBackend 创建 SMTP Backend。ctx 结束后正在进行的投递会被取消。
func NewBackend(ctx context.Context, ingest Deliverer, mailDomain string, maxBytes int64, maxRecipients int, limiter *ConnectionLimiter, metrics *monitoring.Metrics, log *zap.Logger) *Backend {
	return &Backend{
		ctx:           ctx,
		ingest:        ingest,
		domain:        strings.ToLower(mailDomain),
		maxBytes:      maxBytes,
		maxRecipients: maxRecipients,
		limiter:       limiter,
		metrics:       metrics,
		log:           log,
	}
}

// NewSession 创建新的 SMTP 会话。
func (b *Backend) NewSession(c *gosmtp.Conn) (gosmtp.Session, error) {
	remote := ""
	if c != nil && c.Conn() != nil {
		remote = c.Conn().RemoteAddr().String()
	}

	if b.limiter != nil {
		if ok, reason := b.limiter.Acquire(); !ok {
			b.metrics.SMTPRejected.WithLabelValues(reason).Inc()
			b.log.Warn("smtp connection rejected", zap.String("remote", remote), zap.String("reason", reason))
			return nil, &gosmtp.SMTPError{
				Code:         421,
				EnhancedCode: gosmtp.EnhancedCode{4, 7, 0},
				Message:      "too many connections, try again later",
			}
		}
	}

	b.metrics.SMTPConnections.Inc()
	return &session{backend: b, remote: remote}, nil
}

type session struct {
	backend    *Backend
	remote     string
	from       string
	recipients []string
	closed     bool
}

// Mail 处理 MAIL 命令。
func (s *session) Mail(from string, _ *gosmtp.MailOptions) error {
	s.from = from
	return nil
}

// Rcpt 处理 RCPT 命令。
//
// 只接受本服务域名下的地址，其余一律 550。
func (s *session) Rcpt(to string, _ *gosmtp.RcptOptions) error {
	addr := domain.NormalizeAddress(to)

	at := strings.LastIndex(addr, "@")
	if at <= 0 || at == len(addr)-1 {
		s.backend.metrics.SMTPRejected.WithLabelValues("invalid_recipient").Inc()
		return &gosmtp.SMTPError{
			Code:         501,
			EnhancedCode: gosmtp.EnhancedCode{5, 1, 3},
			Message:      "invalid recipient address",
		}
	}

	if addr[at+1:] != s.backend.domain {
		s.backend.metrics.SMTPRejected.WithLabelValues("relay_denied").Inc()
		return &gosmtp.SMTPError{
			Code:         550,
			EnhancedCode: gosmtp.EnhancedCode{5, 7, 1},
			Message:      "relay access denied",
		}
	}

	if s.backend.maxRecipients > 0 && len(s.recipients) >= s.backend.maxRecipients {
		s.backend.metrics.SMTPRejected.WithLabelValues("too_many_recipients").Inc()
		return &gosmtp.SMTPError{
			Code:         452,
			EnhancedCode: gosmtp.EnhancedCode{4, 5, 3},
			Message:      "too many recipients",
		}
	}

	s.recipients = append(s.recipients, addr)
	return nil
}

// Data 处理邮件内容。
func (s *session) Data(r io.Reader) error {
	if len(s.recipients) == 0 {
		return &gosmtp.SMTPError{
			Code:         554,
			EnhancedCode: gosmtp.EnhancedCode{5, 5, 1},
			Message:      "no valid recipients",
		}
	}

	raw, err := readLimited(r, s.backend.maxBytes)
	if err != nil {
		if errors.Is(err, errMessageTooLarge) {
			s.backend.metrics.SMTPRejected.WithLabelValues("message_too_large").Inc()
			return gosmtp.ErrDataTooLarge
		}
		return err
	}

	stored, err := s.backend.ingest.Deliver(s.backend.ctx, s.recipients, bytes.NewReader(raw), "smtp")
	if err != nil {
		// 发件人不可信，解析失败只记录，不回报
		s.backend.log.Warn("failed to parse inbound mail",
			zap.String("remote", s.remote),
			zap.String("from", s.from),
			zap.Error(err))
		return nil
	}

	s.backend.log.Debug("smtp data accepted",
		zap.String("remote", s.remote),
		zap.Int("recipients", len(s.recipients)),
		zap.Int("stored", stored),
		zap.Int("bytes", len(raw)))
	return nil
}

// Reset 重置状态。
func (s *session) Reset() {
	s.from = ""
	s.recipients = nil
}

// Logout 会话结束。
func (s *session) Logout() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.backend.metrics.SMTPConnections.Dec()
	if s.backend.limiter != nil {
		s.backend.limiter.Release()
	}
	return nil
}

var errMessageTooLarge = errors.New("message too large")

func readLimited(r io.Reader, limit int64) ([]byte, error) {
	if limit <= 0 {
		return io.ReadAll(r)
	}
	raw, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(raw)) > limit {
		return nil, errMessageTooLarge
	}
	return raw, nil
}
