package mailer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"go.uber.org/zap"

	"tethbox/backend/internal/config"
	"tethbox/backend/internal/domain"
)

// Mail 一封待发送的邮件
type Mail struct {
	From    string
	To      string
	ReplyTo string // "Name <addr>" 或裸地址
	Subject string
	Text    string
	HTML    string
}

// Compose 把邮件编码为 RFC 5322 格式。正文为 multipart/alternative。
func Compose(w io.Writer, m *Mail) error {
	var h mail.Header
	h.SetDate(time.Now())
	h.SetSubject(m.Subject)
	h.SetAddressList("From", []*mail.Address{{Address: m.From}})
	h.SetAddressList("To", []*mail.Address{{Address: m.To}})
	if m.ReplyTo != "" {
		name, addr := domain.ParseAddressHeader(m.ReplyTo)
		h.SetAddressList("Reply-To", []*mail.Address{{Name: name, Address: addr}})
	}
	if err := h.GenerateMessageID(); err != nil {
		return fmt.Errorf("generate message id: %w", err)
	}

	mw, err := mail.CreateWriter(w, h)
	if err != nil {
		return fmt.Errorf("create writer: %w", err)
	}

	tw, err := mw.CreateInline()
	if err != nil {
		return fmt.Errorf("create inline: %w", err)
	}
	if err := writeBody(tw, "text/plain", m.Text); err != nil {
		return err
	}
	if m.HTML != "" {
		if err := writeBody(tw, "text/html", m.HTML); err != nil {
			return err
		}
	}
	if err := tw.Close(); err != nil {
		return fmt.Errorf("close inline: %w", err)
	}
	return mw.Close()
}

func writeBody(tw *mail.InlineWriter, contentType, body string) error {
	var h mail.InlineHeader
	h.SetContentType(contentType, map[string]string{"charset": "utf-8"})
	h.Set("Content-Transfer-Encoding", "quoted-printable")

	pw, err := tw.CreatePart(h)
	if err != nil {
		return fmt.Errorf("create %s part: %w", contentType, err)
	}
	if _, err := io.WriteString(pw, body); err != nil {
		pw.Close()
		return fmt.Errorf("write %s part: %w", contentType, err)
	}
	return pw.Close()
}

type sendFunc func(addr string, a sasl.Client, from string, to []string, r io.Reader) error

// 出站连接的 TLS 模式
const (
	TLSAuto     = "auto"     // 服务器声明 STARTTLS 时升级，否则明文
	TLSStartTLS = "starttls" // 必须 STARTTLS
	TLSImplicit = "tls"      // 直接建立 TLS 连接（465 端口）
	TLSNone     = "none"
)

// SMTPSender 通过上游 SMTP 中继发送邮件
type SMTPSender struct {
	addr string
	auth sasl.Client
	log  *zap.Logger
	send sendFunc
}

// NewSMTPSender 创建发送器。未配置用户名时不做认证。
func NewSMTPSender(cfg config.ForwardConfig, log *zap.Logger) (*SMTPSender, error) {
	if cfg.SMTPAddr == "" {
		return nil, errors.New("forward smtp address is required")
	}
	mode := cfg.TLS
	if mode == "" {
		mode = TLSAuto
	}
	switch mode {
	case TLSAuto, TLSStartTLS, TLSImplicit, TLSNone:
	default:
		return nil, fmt.Errorf("unsupported forward tls mode %q", cfg.TLS)
	}

	var auth sasl.Client
	if cfg.Username != "" {
		auth = sasl.NewPlainClient("", cfg.Username, cfg.Password)
	}
	return &SMTPSender{
		addr: cfg.SMTPAddr,
		auth: auth,
		log:  log,
		send: relaySender(mode),
	}, nil
}

// dialRelay 按 TLS 模式连接中继
func dialRelay(addr, mode string) (*smtp.Client, error) {
	switch mode {
	case TLSImplicit:
		return smtp.DialTLS(addr, nil)
	case TLSStartTLS:
		return smtp.DialStartTLS(addr, nil)
	case TLSNone:
		return smtp.Dial(addr)
	}

	c, err := smtp.Dial(addr)
	if err != nil {
		return nil, err
	}
	if ok, _ := c.Extension("STARTTLS"); !ok {
		return c, nil
	}
	// 客户端无法在已建立的连接上升级，重新连接并执行 STARTTLS
	_ = c.Quit()
	return smtp.DialStartTLS(addr, nil)
}

func relaySender(mode string) sendFunc {
	return func(addr string, a sasl.Client, from string, to []string, r io.Reader) error {
		c, err := dialRelay(addr, mode)
		if err != nil {
			return err
		}
		defer c.Close()

		if a != nil {
			if ok, _ := c.Extension("AUTH"); !ok {
				return errors.New("smtp: server doesn't support AUTH")
			}
			if err := c.Auth(a); err != nil {
				return err
			}
		}
		if err := c.SendMail(from, to, r); err != nil {
			return err
		}
		return c.Quit()
	}
}

// Send 编码并发送邮件
func (s *SMTPSender) Send(ctx context.Context, m *Mail) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := Compose(&buf, m); err != nil {
		return fmt.Errorf("compose: %w", err)
	}

	if err := s.send(s.addr, s.auth, m.From, []string{m.To}, &buf); err != nil {
		return fmt.Errorf("send mail via %s: %w", s.addr, err)
	}

	s.log.Info("mail sent", zap.String("to", m.To), zap.String("relay", s.addr))
	return nil
}
