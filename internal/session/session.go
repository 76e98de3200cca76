package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"tethbox/backend/internal/cache"
)

// ErrNotFound 会话数据不存在或已过期
var ErrNotFound = errors.New("session not found")

// Data 是持久化的会话内容。AccountID 为 0 表示未绑定账户。
type Data struct {
	AccountID int64 `json:"account_id,omitempty"`
}

// Store 定义会话数据的持久化后端
type Store interface {
	Load(ctx context.Context, id string) (*Data, error)
	Save(ctx context.Context, id string, data *Data, ttl time.Duration) error
	Delete(ctx context.Context, id string) error
}

// Session 是单个请求持有的会话，由中间件在响应写出前保存
type Session struct {
	mu    sync.Mutex
	id    string
	data  Data
	dirty bool
}

func newSession(id string, data Data) *Session {
	return &Session{id: id, data: data}
}

// ID 返回会话标识
func (s *Session) ID() string {
	return s.id
}

// AccountID 返回当前绑定的账户
func (s *Session) AccountID() (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.AccountID, s.data.AccountID != 0
}

// SetAccountID 绑定账户并标记会话需要保存
func (s *Session) SetAccountID(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.AccountID = id
	s.dirty = true
}

// takeDirty 返回待保存的数据并清除脏标记
func (s *Session) takeDirty() (Data, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.dirty {
		return Data{}, false
	}
	s.dirty = false
	return s.data, true
}

// MemoryStore 基于本地缓存的会话存储，只适用于单实例部署
type MemoryStore struct {
	cache *cache.LocalCache
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore 创建内存会话存储
func NewMemoryStore(maxSessions int, ttl time.Duration) *MemoryStore {
	return &MemoryStore{cache: cache.NewLocalCache(maxSessions, ttl)}
}

// Load 读取会话数据
func (m *MemoryStore) Load(_ context.Context, id string) (*Data, error) {
	v, ok := m.cache.Get(id)
	if !ok {
		return nil, ErrNotFound
	}
	data := v.(Data)
	return &data, nil
}

// Save 保存会话数据
func (m *MemoryStore) Save(_ context.Context, id string, data *Data, ttl time.Duration) error {
	m.cache.Set(id, *data, ttl)
	return nil
}

// Delete 删除会话数据
func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.cache.Delete(id)
	return nil
}

// Close 停止后台清理
func (m *MemoryStore) Close() {
	m.cache.Close()
}
