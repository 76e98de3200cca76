package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalCache_SetGetDelete(t *testing.T) {
	c := NewLocalCache(10, time.Minute)
	defer c.Close()

	c.Set("a", 1, 0)
	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	c.Delete("a")
	_, ok = c.Get("a")
	assert.False(t, ok)
}

func TestLocalCache_Expiry(t *testing.T) {
	c := NewLocalCache(10, time.Minute)
	defer c.Close()

	c.Set("short", "x", time.Millisecond)
	time.Sleep(5 * time.Millisecond)

	_, ok := c.Get("short")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestLocalCache_EvictsWhenFull(t *testing.T) {
	c := NewLocalCache(2, time.Minute)
	defer c.Close()

	c.Set("first", 1, time.Minute)
	c.Set("second", 2, time.Hour)
	c.Set("third", 3, time.Hour)

	assert.Equal(t, 2, c.Len())
	_, ok := c.Get("first")
	assert.False(t, ok, "最早过期的条目应被淘汰")
	_, ok = c.Get("third")
	assert.True(t, ok)

	// 覆盖已有 key 不触发淘汰
	c.Set("third", 33, time.Hour)
	assert.Equal(t, 2, c.Len())
}

func TestLocalCache_Clear(t *testing.T) {
	c := NewLocalCache(0, time.Minute)
	defer c.Close()

	c.Set("a", 1, 0)
	c.Set("b", 2, 0)
	c.Clear()
	assert.Equal(t, 0, c.Len())

	// 重复关闭是安全的
	c.Close()
}

func TestLocalCache_IncrementRateLimit(t *testing.T) {
	c := NewLocalCache(10, time.Minute)
	defer c.Close()
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		got, err := c.IncrementRateLimit(ctx, "create:1.2.3.4", 50*time.Millisecond)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	// 不同的键独立计数
	got, err := c.IncrementRateLimit(ctx, "create:5.6.7.8", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got)

	// 窗口结束后重新计数
	time.Sleep(80 * time.Millisecond)
	got, err = c.IncrementRateLimit(ctx, "create:1.2.3.4", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got)
}
