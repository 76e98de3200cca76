package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 监控指标
type Metrics struct {
	// HTTP 请求指标
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// 账户指标
	AccountsCreated prometheus.Counter
	AccountsRenewed prometheus.Counter
	AccountsClosed  prometheus.Counter
	AccountsCleared prometheus.Counter

	// 邮件指标
	MessagesReceived  *prometheus.CounterVec // source: smtp, http
	MessagesDropped   *prometheus.CounterVec // reason
	MessagesRead      prometheus.Counter
	MessagesForwarded *prometheus.CounterVec // result
	AttachmentSize    prometheus.Histogram
	IngestDuration    prometheus.Histogram

	// 清理指标
	SweepDuration    prometheus.Histogram
	SweepAccounts    *prometheus.CounterVec // result: cleared, failed
	BlobDeleteErrors prometheus.Counter

	// SMTP 与 WebSocket
	SMTPConnections  prometheus.Gauge
	SMTPRejected     *prometheus.CounterVec // reason
	WebSocketClients prometheus.Gauge

	// 错误与限流
	PanicsTotal     prometheus.Counter
	RateLimitBlocks *prometheus.CounterVec // limit_type

	registry prometheus.Gatherer
}

// NewMetrics 在给定的注册表上创建监控指标
//
// reg 为 nil 时使用独立注册表，便于测试重复创建。
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)

	return &Metrics{
		HTTPRequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tethbox_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),
		HTTPRequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tethbox_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),

		AccountsCreated: f.NewCounter(prometheus.CounterOpts{
			Name: "tethbox_accounts_created_total",
			Help: "Total number of accounts created",
		}),
		AccountsRenewed: f.NewCounter(prometheus.CounterOpts{
			Name: "tethbox_accounts_renewed_total",
			Help: "Total number of account timer resets",
		}),
		AccountsClosed: f.NewCounter(prometheus.CounterOpts{
			Name: "tethbox_accounts_closed_total",
			Help: "Total number of accounts closed by their session",
		}),
		AccountsCleared: f.NewCounter(prometheus.CounterOpts{
			Name: "tethbox_accounts_cleared_total",
			Help: "Total number of expired accounts cleared by the sweeper",
		}),

		MessagesReceived: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tethbox_messages_received_total",
			Help: "Total number of messages stored",
		}, []string{"source"}),
		MessagesDropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tethbox_messages_dropped_total",
			Help: "Total number of inbound messages dropped",
		}, []string{"reason"}),
		MessagesRead: f.NewCounter(prometheus.CounterOpts{
			Name: "tethbox_messages_read_total",
			Help: "Total number of full message reads",
		}),
		MessagesForwarded: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tethbox_messages_forwarded_total",
			Help: "Total number of forwarding attempts",
		}, []string{"result"}),
		AttachmentSize: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "tethbox_attachment_size_bytes",
			Help:    "Size of stored attachments in bytes",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 8),
		}),
		IngestDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "tethbox_ingest_duration_seconds",
			Help:    "Time spent ingesting one inbound message",
			Buckets: prometheus.DefBuckets,
		}),

		SweepDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "tethbox_sweep_duration_seconds",
			Help:    "Duration of one expiry sweep run",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
		}),
		SweepAccounts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tethbox_sweep_accounts_total",
			Help: "Accounts processed by the sweeper",
		}, []string{"result"}),
		BlobDeleteErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "tethbox_blob_delete_errors_total",
			Help: "Attachment blobs that could not be deleted",
		}),

		SMTPConnections: f.NewGauge(prometheus.GaugeOpts{
			Name: "tethbox_smtp_connections",
			Help: "Number of open SMTP sessions",
		}),
		SMTPRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tethbox_smtp_rejected_total",
			Help: "SMTP commands rejected",
		}, []string{"reason"}),
		WebSocketClients: f.NewGauge(prometheus.GaugeOpts{
			Name: "tethbox_websocket_clients",
			Help: "Number of connected WebSocket clients",
		}),

		PanicsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "tethbox_panics_total",
			Help: "Total number of recovered panics",
		}),
		RateLimitBlocks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tethbox_rate_limit_blocks_total",
			Help: "Requests rejected by rate limiting",
		}, []string{"limit_type"}),

		registry: reg,
	}
}

// RecordHTTPRequest 记录 HTTP 请求
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordRateLimitBlock 记录被限流拒绝的请求
func (m *Metrics) RecordRateLimitBlock(limitType string) {
	m.RateLimitBlocks.WithLabelValues(limitType).Inc()
}

// HTTPHandler 返回 /metrics 处理器
func (m *Metrics) HTTPHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
