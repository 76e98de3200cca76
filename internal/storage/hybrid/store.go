package hybrid

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"tethbox/backend/internal/domain"
	"tethbox/backend/internal/storage"
)

// AccountCache 账户缓存，Redis 实现见 storage/redis.AccountCache
type AccountCache interface {
	Get(ctx context.Context, id int64) (*domain.Account, error)
	Set(ctx context.Context, account *domain.Account, ttl time.Duration) error
	Delete(ctx context.Context, id int64) error
}

// Store 混合存储实现，结合 SQL 数据库和 Redis 账户缓存
//
// 除账户读写之外的操作直接委托给数据库。
type Store struct {
	storage.Store
	cache    AccountCache
	cacheTTL time.Duration
	log      *zap.Logger

	// writes 每次账户写入后递增，回填前据此判断读取期间是否发生过写入
	writes atomic.Uint64
}

// NewStore 创建混合存储实例
func NewStore(db storage.Store, cache AccountCache, cacheTTL time.Duration, log *zap.Logger) *Store {
	return &Store{
		Store:    db,
		cache:    cache,
		cacheTTL: cacheTTL,
		log:      log,
	}
}

// GetAccount 先查缓存，未命中时读取数据库并回填
//
// 回填的 TTL 不超过账户剩余有效期；读取期间本实例有账户写入时不回填。
func (s *Store) GetAccount(ctx context.Context, id int64) (*domain.Account, error) {
	if account, err := s.cache.Get(ctx, id); err == nil {
		if account.Cleared {
			return nil, storage.ErrAccountNotFound
		}
		return account, nil
	}

	gen := s.writes.Load()
	account, err := s.Store.GetAccount(ctx, id)
	if err != nil {
		return nil, err
	}

	if s.writes.Load() != gen {
		return account, nil
	}
	ttl := s.fillTTL(account, time.Now())
	if ttl <= 0 {
		return account, nil
	}
	if err := s.cache.Set(ctx, account, ttl); err != nil {
		s.log.Warn("failed to cache account", zap.Int64("account_id", id), zap.Error(err))
	}
	return account, nil
}

func (s *Store) fillTTL(account *domain.Account, now time.Time) time.Duration {
	ttl := s.cacheTTL
	if remaining := account.ValidUntil.Sub(now); remaining < ttl {
		ttl = remaining
	}
	return ttl
}

// SaveAccount 写入数据库后使缓存失效
func (s *Store) SaveAccount(ctx context.Context, account *domain.Account) error {
	s.writes.Add(1)
	if err := s.Store.SaveAccount(ctx, account); err != nil {
		return err
	}
	s.invalidate(ctx, account.ID)
	return nil
}

// MarkAccountCleared 写入数据库后使缓存失效
func (s *Store) MarkAccountCleared(ctx context.Context, id int64) error {
	s.writes.Add(1)
	if err := s.Store.MarkAccountCleared(ctx, id); err != nil {
		return err
	}
	s.invalidate(ctx, id)
	return nil
}

func (s *Store) invalidate(ctx context.Context, id int64) {
	if err := s.cache.Delete(ctx, id); err != nil {
		s.log.Warn("failed to invalidate cached account", zap.Int64("account_id", id), zap.Error(err))
	}
}
