package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"tethbox/backend/internal/domain"
)

// ErrCacheMiss 缓存中没有该条目
var ErrCacheMiss = errors.New("cache miss")

// AccountCache 在 Redis 中缓存账户记录
type AccountCache struct {
	client *Client
}

// NewAccountCache 创建账户缓存
func NewAccountCache(client *Client) *AccountCache {
	return &AccountCache{client: client}
}

func accountKey(id int64) string {
	return fmt.Sprintf("%saccount:%d", keyspace, id)
}

// Get 获取缓存的账户
func (c *AccountCache) Get(ctx context.Context, id int64) (*domain.Account, error) {
	data, err := c.client.rdb.Get(ctx, accountKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, err
	}

	var account domain.Account
	if err := json.Unmarshal(data, &account); err != nil {
		return nil, err
	}
	return &account, nil
}

// Set 缓存账户
func (c *AccountCache) Set(ctx context.Context, account *domain.Account, ttl time.Duration) error {
	data, err := json.Marshal(account)
	if err != nil {
		return err
	}
	return c.client.rdb.Set(ctx, accountKey(account.ID), data, ttl).Err()
}

// Delete 删除缓存的账户
func (c *AccountCache) Delete(ctx context.Context, id int64) error {
	return c.client.rdb.Del(ctx, accountKey(id)).Err()
}
