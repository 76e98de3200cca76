package bootstrap

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"tethbox/backend/internal/config"
	"tethbox/backend/internal/session"
	"tethbox/backend/internal/storage/memory"
	sqlstore "tethbox/backend/internal/storage/sql"
)

func TestOpenStorage_Memory(t *testing.T) {
	cfg := &config.Config{Storage: config.StorageConfig{Path: t.TempDir()}}

	s, err := OpenStorage(cfg, zap.NewNop())
	require.NoError(t, err)
	defer s.Close(zap.NewNop())

	assert.IsType(t, &memory.Store{}, s.Store)
	assert.Nil(t, s.Redis)
	assert.Same(t, s.Store, s.Limiter)
	assert.NoError(t, s.Blobs.Health())
	assert.IsType(t, &session.MemoryStore{}, s.SessionStore(config.SessionConfig{MaxAge: time.Hour}))
}

func TestOpenStorage_SQLite(t *testing.T) {
	dir := t.TempDir()
	cfg := &config.Config{
		Database: config.DatabaseConfig{Type: "sqlite", DSN: filepath.Join(dir, "tethbox.db")},
		Storage:  config.StorageConfig{Path: filepath.Join(dir, "blobs")},
	}

	s, err := OpenStorage(cfg, zap.NewNop())
	require.NoError(t, err)
	defer s.Close(zap.NewNop())

	assert.IsType(t, &sqlstore.Store{}, s.Store)

	// 没有 Redis 时使用进程内限流计数
	n, err := s.Limiter.IncrementRateLimit(context.Background(), "create:127.0.0.1", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestOpenStorage_RequiresDSN(t *testing.T) {
	cfg := &config.Config{
		Database: config.DatabaseConfig{Type: "mysql"},
		Storage:  config.StorageConfig{Path: t.TempDir()},
	}
	_, err := OpenStorage(cfg, zap.NewNop())
	assert.Error(t, err)
}
