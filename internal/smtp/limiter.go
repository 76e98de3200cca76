package smtp

import (
	"sync"

	"golang.org/x/time/rate"
)

// ConnectionLimiter SMTP 连接限流器
//
// 同时限制并发连接数和每秒新建连接数。
type ConnectionLimiter struct {
	maxConns int
	current  int
	mu       sync.Mutex
	rate     *rate.Limiter
}

// NewConnectionLimiter 创建连接限流器
//
// 参数:
//   - maxConns: 最大并发连接数，<= 0 表示不限制
//   - perSecond: 每秒最大新建连接数，<= 0 表示不限制
func NewConnectionLimiter(maxConns int, perSecond float64) *ConnectionLimiter {
	limit := rate.Inf
	burst := 0
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
		burst = int(perSecond)
		if burst < 1 {
			burst = 1
		}
	}
	return &ConnectionLimiter{
		maxConns: maxConns,
		rate:     rate.NewLimiter(limit, burst),
	}
}

// Acquire 获取连接许可，失败时返回拒绝原因
func (l *ConnectionLimiter) Acquire() (ok bool, reason string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.maxConns > 0 && l.current >= l.maxConns {
		return false, "max_connections"
	}
	if !l.rate.Allow() {
		return false, "connection_rate"
	}

	l.current++
	return true, ""
}

// Release 释放连接
func (l *ConnectionLimiter) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.current > 0 {
		l.current--
	}
}

// Current 当前连接数
func (l *ConnectionLimiter) Current() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current
}
