package cache

import (
	"context"
	"sync"
	"time"
)

// LocalCache 本地内存缓存，未配置 Redis 时保存会话数据
//
// 特点：
// - 支持 TTL 过期
// - 后台定期清理过期条目
// - 超过容量时淘汰最早过期的条目
type LocalCache struct {
	mu      sync.RWMutex
	data    map[string]cacheEntry
	maxSize int
	ttl     time.Duration

	stop     chan struct{}
	stopOnce sync.Once
}

type cacheEntry struct {
	value     interface{}
	expiresAt time.Time
}

// NewLocalCache 创建本地缓存
//
// 参数:
//   - maxSize: 最大缓存条目数，<= 0 表示不限制
//   - ttl: 默认过期时间
func NewLocalCache(maxSize int, ttl time.Duration) *LocalCache {
	c := &LocalCache{
		data:    make(map[string]cacheEntry),
		maxSize: maxSize,
		ttl:     ttl,
		stop:    make(chan struct{}),
	}

	go c.cleanupLoop(time.Minute)

	return c
}

// Get 获取缓存值
func (c *LocalCache) Get(key string) (interface{}, bool) {
	c.mu.RLock()
	entry, ok := c.data[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}

	if time.Now().After(entry.expiresAt) {
		c.Delete(key)
		return nil, false
	}
	return entry.value, true
}

// Set 设置缓存值，ttl 为 0 时使用默认过期时间
func (c *LocalCache) Set(key string, value interface{}, ttl time.Duration) {
	if ttl == 0 {
		ttl = c.ttl
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.data[key]; !exists && c.maxSize > 0 && len(c.data) >= c.maxSize {
		c.evictLocked(time.Now())
	}
	c.data[key] = cacheEntry{value: value, expiresAt: time.Now().Add(ttl)}
}

// IncrementRateLimit 固定窗口计数，窗口从第一次计数开始
//
// 未配置 Redis 时作为账户创建限流的计数器。
func (c *LocalCache) IncrementRateLimit(_ context.Context, key string, window time.Duration) (int64, error) {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.data[key]
	if !ok || now.After(entry.expiresAt) {
		if !ok && c.maxSize > 0 && len(c.data) >= c.maxSize {
			c.evictLocked(now)
		}
		c.data[key] = cacheEntry{value: int64(1), expiresAt: now.Add(window)}
		return 1, nil
	}

	count, _ := entry.value.(int64)
	count++
	entry.value = count
	c.data[key] = entry
	return count, nil
}

// Delete 删除缓存值
func (c *LocalCache) Delete(key string) {
	c.mu.Lock()
	delete(c.data, key)
	c.mu.Unlock()
}

// Len 返回当前条目数（包含尚未清理的过期条目）
func (c *LocalCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data)
}

// Clear 清空所有缓存
func (c *LocalCache) Clear() {
	c.mu.Lock()
	c.data = make(map[string]cacheEntry)
	c.mu.Unlock()
}

// Close 停止后台清理
func (c *LocalCache) Close() {
	c.stopOnce.Do(func() { close(c.stop) })
}

// evictLocked 先清理过期条目，仍然满时淘汰最早过期的一个
func (c *LocalCache) evictLocked(now time.Time) {
	var (
		oldestKey string
		oldestAt  time.Time
	)
	for key, entry := range c.data {
		if now.After(entry.expiresAt) {
			delete(c.data, key)
			continue
		}
		if oldestKey == "" || entry.expiresAt.Before(oldestAt) {
			oldestKey, oldestAt = key, entry.expiresAt
		}
	}
	if len(c.data) >= c.maxSize && oldestKey != "" {
		delete(c.data, oldestKey)
	}
}

// cleanupLoop 定期清理过期条目
func (c *LocalCache) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			now := time.Now()
			c.mu.Lock()
			for key, entry := range c.data {
				if now.After(entry.expiresAt) {
					delete(c.data, key)
				}
			}
			c.mu.Unlock()
		}
	}
}
