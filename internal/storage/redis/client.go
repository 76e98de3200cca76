// Package redis 提供账户缓存、会话、限流计数与新邮件事件的 Redis 实现。
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"tethbox/backend/internal/config"
)

// keyspace 所有键与频道的公共前缀，便于与其他应用共用同一个 Redis
const keyspace = "tethbox:"

const (
	connectTimeout = 5 * time.Second
	commandTimeout = 3 * time.Second
)

// Client 持有连接池，供本包各个存储共享
type Client struct {
	rdb *goredis.Client
	log *zap.Logger
}

// New 建立连接池并确认 Redis 可达
func New(cfg config.RedisConfig, log *zap.Logger) (*Client, error) {
	if cfg.Address == "" {
		return nil, errors.New("redis address is required")
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  connectTimeout,
		ReadTimeout:  commandTimeout,
		WriteTimeout: commandTimeout,
		MinIdleConns: 2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Address, err)
	}

	log.Info("redis connected", zap.String("address", cfg.Address), zap.Int("db", cfg.DB))
	return &Client{rdb: rdb, log: log}, nil
}

// Client 返回底层客户端，仅测试清理数据时使用
func (c *Client) Client() *goredis.Client {
	return c.rdb
}

func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping 供就绪检查使用
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func rateLimitKey(key string) string {
	return keyspace + "ratelimit:" + key
}

// IncrementRateLimit 固定窗口计数：窗口从第一次计数开始，到期后整体重置
func (c *Client) IncrementRateLimit(ctx context.Context, key string, window time.Duration) (int64, error) {
	key = rateLimitKey(key)
	pipe := c.rdb.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("rate limit counter %s: %w", key, err)
	}
	return incr.Val(), nil
}
