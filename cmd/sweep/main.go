package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"tethbox/backend/internal/bootstrap"
	"tethbox/backend/internal/config"
	"tethbox/backend/internal/logger"
	"tethbox/backend/internal/monitoring"
	"tethbox/backend/internal/service"
)

// main 执行一次过期账户清理后退出，供外部定时任务调用。
func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.FromConfig(cfg.Log))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if cfg.Database.Type == "" {
		// 内存存储只存在于服务进程内，单独运行没有可清理的数据
		log.Fatal("sweep requires a database, set database.type")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stores, err := bootstrap.OpenStorage(cfg, log)
	if err != nil {
		log.Fatal("failed to open storage", zap.Error(err))
	}
	defer stores.Close(log)

	metrics := monitoring.NewMetrics(prometheus.NewRegistry())
	sweeper := service.NewSweeper(stores.Store, stores.Blobs, cfg.Sweep, metrics, log.Named("sweeper"))

	result, err := sweeper.Sweep(ctx)
	if err != nil {
		log.Error("sweep failed", zap.Error(err))
		os.Exit(1)
	}
	log.Info("sweep finished",
		zap.Int("cleared", result.Cleared),
		zap.Int("failed", result.Failed),
	)
}
