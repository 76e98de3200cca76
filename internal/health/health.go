package health

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/heptiolabs/healthcheck"
	"go.uber.org/zap"
)

const checkTimeout = 3 * time.Second

// Pinger 可探测连通性的外部依赖，例如 Redis
type Pinger interface {
	Ping(ctx context.Context) error
}

// Component 提供 Health 方法的组件，例如元数据存储与附件存储
type Component interface {
	Health() error
}

// HealthChecker 健康检查器
type HealthChecker struct {
	health healthcheck.Handler
	checks map[string]healthcheck.Check
	logger *zap.Logger
}

// NewHealthChecker 创建健康检查器。进程存活检查总是注册，依赖检查只影响就绪状态。
func NewHealthChecker(logger *zap.Logger) *HealthChecker {
	hc := &HealthChecker{
		health: healthcheck.NewHandler(),
		checks: make(map[string]healthcheck.Check),
		logger: logger,
	}
	hc.health.AddLivenessCheck("goroutines", healthcheck.GoroutineCountCheck(10000))
	return hc
}

// AddComponent 注册组件就绪检查
func (hc *HealthChecker) AddComponent(name string, c Component) {
	hc.addReadiness(name, func() error { return c.Health() })
}

// AddPinger 注册依赖连通性检查
func (hc *HealthChecker) AddPinger(name string, p Pinger) {
	hc.addReadiness(name, func() error {
		ctx, cancel := context.WithTimeout(context.Background(), checkTimeout)
		defer cancel()
		return p.Ping(ctx)
	})
}

func (hc *HealthChecker) addReadiness(name string, check healthcheck.Check) {
	check = healthcheck.Timeout(check, checkTimeout)
	hc.checks[name] = check
	hc.health.AddReadinessCheck(name, check)
}

// LiveHandler 存活探针
func (hc *HealthChecker) LiveHandler() http.Handler {
	return http.HandlerFunc(hc.health.LiveEndpoint)
}

// ReadyHandler 就绪探针，失败时返回 503
func (hc *HealthChecker) ReadyHandler() http.Handler {
	return http.HandlerFunc(hc.health.ReadyEndpoint)
}

// CheckHealth 执行全部就绪检查并返回每项结果，以及整体是否健康
func (hc *HealthChecker) CheckHealth() (map[string]string, bool) {
	results := make(map[string]string, len(hc.checks)+1)
	healthy := true

	for name, check := range hc.checks {
		if err := check(); err != nil {
			results[name] = fmt.Sprintf("ERROR: %v", err)
			healthy = false
			hc.logger.Warn("health check failed", zap.String("check", name), zap.Error(err))
			continue
		}
		results[name] = "OK"
	}

	results["timestamp"] = time.Now().Format(time.RFC3339)
	return results, healthy
}
