package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"tethbox/backend/internal/bootstrap"
	"tethbox/backend/internal/config"
	"tethbox/backend/internal/health"
	"tethbox/backend/internal/logger"
	"tethbox/backend/internal/mailer"
	"tethbox/backend/internal/monitoring"
	"tethbox/backend/internal/pool"
	"tethbox/backend/internal/service"
	"tethbox/backend/internal/session"
	"tethbox/backend/internal/smtp"
	"tethbox/backend/internal/storage/redis"
	httptransport "tethbox/backend/internal/transport/http"
	"tethbox/backend/internal/websocket"
)

const version = "1.0.0"

// main 启动同时包含 HTTP API、SMTP 收信与过期清理的综合服务。
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	// 设置 Gin 模式（基于开发环境标志）
	if cfg.Log.Development {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	log, err := logger.New(logger.FromConfig(cfg.Log))
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer log.Sync()

	log.Info("starting tethbox server",
		zap.String("version", version),
		zap.String("domain", cfg.Account.Domain),
		zap.Duration("account_ttl", cfg.Account.TTL),
		zap.String("log_level", cfg.Log.Level),
	)

	if err := run(cfg, log); err != nil {
		log.Fatal("server error", zap.Error(err))
	}
	log.Info("server exited cleanly")
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stores, err := bootstrap.OpenStorage(cfg, log)
	if err != nil {
		return err
	}
	defer stores.Close(log)

	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	metrics := monitoring.NewMetrics(reg)

	checker := health.NewHealthChecker(log.Named("health"))
	checker.AddComponent("store", stores.Store)
	checker.AddComponent("blobs", stores.Blobs)
	if stores.Redis != nil {
		checker.AddPinger("redis", stores.Redis)
	}

	hub := websocket.NewHub(cfg.CORS.AllowedOrigins, metrics, log.Named("websocket"))

	// 多实例部署时经 Redis 广播新邮件通知，每个实例再推送给本地连接
	var notifier service.Notifier = hub
	var events *redis.MailEvents
	if stores.Redis != nil {
		events = redis.NewMailEvents(stores.Redis)
		notifier = websocket.NewRelay(events, log.Named("websocket"))
	}

	accounts := service.NewAccountService(stores.Store, stores.Limiter, cfg.Account, metrics, log.Named("account"))
	gate := service.NewAccessGate(accounts, stores.Store)
	inbox := service.NewInboxService(accounts, gate, stores.Store, stores.Blobs, metrics, log.Named("inbox"))
	ingest := service.NewIngestService(stores.Store, stores.Blobs, notifier, cfg.Account.Domain, metrics, log.Named("ingest"))
	sweeper := service.NewSweeper(stores.Store, stores.Blobs, cfg.Sweep, metrics, log.Named("sweeper"))

	// 转发：未启用时 sender 为空，接口返回 503
	var (
		sender  service.MailSender
		workers *pool.WorkerPool
	)
	if cfg.Forward.Enabled {
		smtpSender, err := mailer.NewSMTPSender(cfg.Forward, log.Named("forward"))
		if err != nil {
			return err
		}
		sender = smtpSender
		workers = pool.NewWorkerPool(cfg.Forward.Workers, cfg.Forward.QueueSize, log.Named("forward"))
		workers.OnPanic(metrics.PanicsTotal.Inc)
	}
	forward := service.NewForwardService(gate, sender, workers, cfg.Forward.From, metrics, log.Named("forward"))

	sessions := session.NewManager(
		stores.SessionStore(cfg.Session),
		session.NewTokenCodec(cfg.Session.Secret, "tethbox", cfg.Session.MaxAge),
		session.Options{
			CookieName: cfg.Session.CookieName,
			MaxAge:     cfg.Session.MaxAge,
			Secure:     cfg.Session.Secure,
		},
		log.Named("session"),
	)

	router, err := httptransport.NewRouter(httptransport.RouterDependencies{
		Config:         cfg,
		Sessions:       sessions,
		AccountService: accounts,
		InboxService:   inbox,
		ForwardService: forward,
		IngestService:  ingest,
		Sweeper:        sweeper,
		WebSocketHub:   hub,
		Health:         checker,
		Metrics:        metrics,
		Logger:         log.Named("http"),
	})
	if err != nil {
		return fmt.Errorf("failed to build router: %w", err)
	}

	httpAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	httpServer := &http.Server{
		Addr:              httpAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	group, groupCtx := errgroup.WithContext(ctx)

	// HTTP 服务器 goroutine
	group.Go(func() error {
		log.Info("starting HTTP server", zap.String("address", httpAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	// SMTP 服务器 goroutine
	if cfg.SMTP.Enabled {
		limiter := smtp.NewConnectionLimiter(cfg.SMTP.MaxConns, cfg.SMTP.ConnRate)
		backend := smtp.NewBackend(groupCtx, ingest, cfg.Account.Domain, cfg.SMTP.MaxMessageBytes, cfg.SMTP.MaxRecipients, limiter, metrics, log.Named("smtp"))
		smtpServer := smtp.NewServer(backend, cfg.SMTP, log.Named("smtp"))
		group.Go(func() error {
			if err := smtpServer.ListenAndServe(groupCtx); err != nil {
				return fmt.Errorf("smtp server: %w", err)
			}
			return nil
		})
	}

	// 定时清理过期账户 goroutine
	if cfg.Sweep.Enabled {
		group.Go(func() error {
			return sweeper.Run(groupCtx, cfg.Sweep.Interval)
		})
	}

	// WebSocket Hub goroutine
	group.Go(func() error {
		hub.Run(groupCtx)
		return nil
	})

	if events != nil {
		group.Go(func() error {
			log.Info("subscribing to new mail events")
			return events.SubscribeNewMail(groupCtx, hub.Broadcast)
		})
	}

	if workers != nil {
		workers.Start(groupCtx)
	}

	// 优雅关闭 goroutine
	group.Go(func() error {
		<-groupCtx.Done()
		log.Info("shutdown signal received, gracefully shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP server shutdown error", zap.Error(err))
		}
		if workers != nil {
			workers.Stop()
		}

		log.Info("servers stopped")
		return nil
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
