package redis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"tethbox/backend/internal/session"
)

// SessionStore 使用 Redis 保存会话数据，适用于多实例部署
type SessionStore struct {
	client *Client
}

var _ session.Store = (*SessionStore)(nil)

// NewSessionStore 创建 Redis 会话存储
func NewSessionStore(client *Client) *SessionStore {
	return &SessionStore{client: client}
}

func sessionKey(id string) string {
	return keyspace + "session:" + id
}

// Load 读取会话数据
func (s *SessionStore) Load(ctx context.Context, id string) (*session.Data, error) {
	raw, err := s.client.rdb.Get(ctx, sessionKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, session.ErrNotFound
		}
		return nil, err
	}

	var data session.Data
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, err
	}
	return &data, nil
}

// Save 保存会话数据
func (s *SessionStore) Save(ctx context.Context, id string, data *session.Data, ttl time.Duration) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return s.client.rdb.Set(ctx, sessionKey(id), raw, ttl).Err()
}

// Delete 删除会话数据
func (s *SessionStore) Delete(ctx context.Context, id string) error {
	return s.client.rdb.Del(ctx, sessionKey(id)).Err()
}
