// Package bootstrap 按配置组装各命令共用的存储资源。
package bootstrap

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"tethbox/backend/internal/cache"
	"tethbox/backend/internal/config"
	"tethbox/backend/internal/session"
	"tethbox/backend/internal/storage"
	"tethbox/backend/internal/storage/filesystem"
	"tethbox/backend/internal/storage/hybrid"
	"tethbox/backend/internal/storage/memory"
	"tethbox/backend/internal/storage/redis"
	sqlstore "tethbox/backend/internal/storage/sql"
)

const (
	accountCacheTTL = 5 * time.Minute
	maxLocalEntries = 100000
)

// Storage 进程共享的存储资源
type Storage struct {
	Store   storage.Store
	Blobs   *filesystem.Store
	Redis   *redis.Client // 未配置 Redis 时为 nil
	Limiter storage.RateLimitRepository

	local *cache.LocalCache
}

// OpenStorage 根据配置打开元数据存储、附件存储与可选的 Redis
//
// database.type 为空时使用内存存储；配置了 Redis 时 SQL 存储前加一层账户缓存，
// 创建限流计数也放在 Redis 中，否则使用进程内计数。
func OpenStorage(cfg *config.Config, log *zap.Logger) (*Storage, error) {
	s := &Storage{}

	if cfg.Redis.Address != "" {
		client, err := redis.New(cfg.Redis, log.Named("redis"))
		if err != nil {
			return nil, err
		}
		s.Redis = client
	}

	switch {
	case cfg.Database.Type == "":
		mem := memory.NewStore()
		s.Store = mem
		s.Limiter = mem
		log.Info("using memory storage (development mode)")
	default:
		if cfg.Database.DSN == "" {
			s.Close(log)
			return nil, fmt.Errorf("database.dsn is required for database type %q", cfg.Database.Type)
		}
		db, err := sqlstore.NewStore(
			cfg.Database.Type,
			cfg.Database.DSN,
			cfg.Database.MaxOpenConns,
			cfg.Database.MaxIdleConns,
			cfg.Database.ConnMaxLifetime,
		)
		if err != nil {
			s.Close(log)
			return nil, fmt.Errorf("failed to initialize database storage: %w", err)
		}
		s.Store = db
		if s.Redis != nil {
			s.Store = hybrid.NewStore(db, redis.NewAccountCache(s.Redis), accountCacheTTL, log.Named("hybrid"))
		}
		log.Info("using database storage",
			zap.String("type", cfg.Database.Type),
			zap.Bool("account_cache", s.Redis != nil))
	}

	if s.Limiter == nil {
		if s.Redis != nil {
			s.Limiter = s.Redis
		} else {
			s.local = cache.NewLocalCache(maxLocalEntries, time.Hour)
			s.Limiter = s.local
		}
	}

	blobs, err := filesystem.NewStore(cfg.Storage.Path)
	if err != nil {
		s.Close(log)
		return nil, fmt.Errorf("failed to initialize attachment storage: %w", err)
	}
	s.Blobs = blobs
	log.Info("attachment storage initialized", zap.String("path", blobs.BasePath()))

	return s, nil
}

// SessionStore 返回会话后端：有 Redis 时共享存储，否则保存在进程内
func (s *Storage) SessionStore(cfg config.SessionConfig) session.Store {
	if s.Redis != nil {
		return redis.NewSessionStore(s.Redis)
	}
	return session.NewMemoryStore(maxLocalEntries, cfg.MaxAge)
}

// Close 释放全部资源
func (s *Storage) Close(log *zap.Logger) {
	if s.Store != nil {
		if err := s.Store.Close(); err != nil {
			log.Warn("failed to close store", zap.Error(err))
		}
	}
	if s.Redis != nil {
		_ = s.Redis.Close()
	}
	if s.local != nil {
		s.local.Close()
	}
}
