package httptransport

import (
	"net/http"
	"time"

	gincors "github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"tethbox/backend/internal/config"
	"tethbox/backend/internal/health"
	"tethbox/backend/internal/middleware"
	"tethbox/backend/internal/monitoring"
	"tethbox/backend/internal/service"
	"tethbox/backend/internal/session"
	"tethbox/backend/internal/websocket"
)

// Handler 聚合所有 HTTP 处理逻辑。
type Handler struct {
	accounts *service.AccountService
	inbox    *service.InboxService
	forward  *service.ForwardService
	ingest   *service.IngestService
	sweeper  *service.Sweeper
	hub      *websocket.Hub
	health   *health.HealthChecker
	log      *zap.Logger
}

// RouterDependencies 路由器依赖项
type RouterDependencies struct {
	Config         *config.Config
	Sessions       *session.Manager
	AccountService *service.AccountService
	InboxService   *service.InboxService
	ForwardService *service.ForwardService
	IngestService  *service.IngestService
	Sweeper        *service.Sweeper
	WebSocketHub   *websocket.Hub
	Health         *health.HealthChecker
	Metrics        *monitoring.Metrics
	Logger         *zap.Logger
}

// NewRouter 创建并返回 Gin 路由实例。
func NewRouter(deps RouterDependencies) (*gin.Engine, error) {
	router := gin.New()
	if err := router.SetTrustedProxies(deps.Config.Server.TrustedProxies); err != nil {
		return nil, err
	}

	monitor := middleware.NewMonitoringMiddleware(deps.Metrics, deps.Logger)
	router.Use(monitor.PanicRecovery())
	router.Use(middleware.RequestLogger(deps.Logger))
	router.Use(monitor.HTTPMetrics())
	router.Use(middleware.SecurityHeaders())

	corsConfig := gincors.Config{
		AllowOrigins:     deps.Config.CORS.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept"},
		ExposeHeaders:    []string{"Content-Length", "Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}

	// 如果允许所有来源，则需清空凭证支持。
	for _, origin := range corsConfig.AllowOrigins {
		if origin == "*" {
			corsConfig.AllowCredentials = false
			break
		}
	}
	router.Use(gincors.New(corsConfig))

	handler := &Handler{
		accounts: deps.AccountService,
		inbox:    deps.InboxService,
		forward:  deps.ForwardService,
		ingest:   deps.IngestService,
		sweeper:  deps.Sweeper,
		hub:      deps.WebSocketHub,
		health:   deps.Health,
		log:      deps.Logger,
	}

	// ========== 运维端点 ==========
	router.GET("/health", handler.healthSummary)
	router.GET("/health/live", gin.WrapH(deps.Health.LiveHandler()))
	router.GET("/health/ready", gin.WrapH(deps.Health.ReadyHandler()))
	router.GET("/metrics", gin.WrapH(deps.Metrics.HTTPHandler()))

	// ========== 内部端点（本机或令牌） ==========
	router.GET("/_cron/clearAccounts",
		middleware.InternalAuth(middleware.CronTokenHeader, deps.Config.Sweep.Token, deps.Logger),
		handler.clearAccounts)

	mailLimit := deps.Config.SMTP.MaxMessageBytes
	if mailLimit <= 0 {
		mailLimit = middleware.DefaultMailLimit
	}
	router.POST("/_inbound/mail/:address",
		middleware.InternalAuth(middleware.InboundTokenHeader, deps.Config.Inbound.Token, deps.Logger),
		middleware.BodySizeLimit(mailLimit),
		handler.inboundMail)

	// ========== 会话端点 ==========
	user := router.Group("")
	user.Use(deps.Sessions.Middleware())
	user.Use(middleware.BodySizeLimit(middleware.SmallBodyLimit))
	{
		user.GET("/init", handler.initAccount)
		user.GET("/newAccount", handler.newAccount)
		user.GET("/resetTimer", handler.resetTimer)

		user.GET("/inbox", handler.listInbox)
		user.GET("/message/:key", handler.getMessage)
		user.POST("/message/:key/forward", handler.forwardMessage)
		user.GET("/attachment/:key", handler.downloadAttachment)

		if deps.WebSocketHub != nil {
			user.GET("/ws", handler.serveWebSocket)
		}
	}

	router.NoRoute(func(c *gin.Context) {
		Error(c, http.StatusNotFound, "接口不存在")
	})

	return router, nil
}
