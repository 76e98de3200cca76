package smtp

import (
	"context"
	"errors"
	"net"
	"time"

	gosmtp "github.com/emersion/go-smtp"
	"go.uber.org/zap"

	"tethbox/backend/internal/config"
)

// Server 入站 SMTP 服务器
type Server struct {
	server *gosmtp.Server
	log    *zap.Logger
}

// NewServer 按配置创建 SMTP 服务器
func NewServer(backend *Backend, cfg config.SMTPConfig, log *zap.Logger) *Server {
	s := gosmtp.NewServer(backend)
	s.Addr = cfg.BindAddr
	s.Domain = cfg.Domain
	s.ReadTimeout = 30 * time.Second
	s.WriteTimeout = 30 * time.Second
	s.MaxMessageBytes = cfg.MaxMessageBytes
	s.MaxRecipients = cfg.MaxRecipients
	s.AllowInsecureAuth = false

	return &Server{server: s, log: log}
}

// Serve 在给定的监听器上接收连接，直到 ctx 结束。
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("smtp server listening", zap.String("address", l.Addr().String()), zap.String("domain", s.server.Domain))
		errCh <- s.server.Serve(l)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, gosmtp.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		s.log.Warn("smtp server shutdown", zap.Error(err))
		return s.server.Close()
	}
	return nil
}

// ListenAndServe 监听配置的地址
func (s *Server) ListenAndServe(ctx context.Context) error {
	l, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, l)
}
