// Package metrics 提供订单结算服务的 Prometheus 指标
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 指标集合
type Metrics struct {
	registry *prometheus.Registry

	// HTTP 请求计数与耗时
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// 订单生命周期操作结果，按操作与结果分类
	OrderOpsTotal *prometheus.CounterVec
	// 账本记账结果，按腿类型与结果分类
	PostingsTotal *prometheus.CounterVec
	// 账本调用耗时
	LedgerCallDuration *prometheus.HistogramVec
	// 当前未决（结果未知）的记账条数
	PendingPostings prometheus.Gauge
	// 通知投递失败次数
	NotificationFailures prometheus.Counter
}

// New 创建指标实例并注册到独立的 Registry
func New(serviceName string) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fx",
			Subsystem: serviceName,
			Name:      "http_requests_total",
			Help:      "Total HTTP requests",
		}, []string{"method", "path", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "fx",
			Subsystem: serviceName,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
		OrderOpsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fx",
			Subsystem: serviceName,
			Name:      "order_operations_total",
			Help:      "Order lifecycle operations by outcome",
		}, []string{"op", "result"}),
		PostingsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fx",
			Subsystem: serviceName,
			Name:      "ledger_postings_total",
			Help:      "Ledger postings by leg and outcome",
		}, []string{"leg", "result"}),
		LedgerCallDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "fx",
			Subsystem: serviceName,
			Name:      "ledger_call_duration_seconds",
			Help:      "Ledger RPC duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		PendingPostings: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "fx",
			Subsystem: serviceName,
			Name:      "ledger_postings_pending",
			Help:      "Postings whose ledger outcome is still unknown",
		}),
		NotificationFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fx",
			Subsystem: serviceName,
			Name:      "notification_failures_total",
			Help:      "Notification enqueue failures",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.OrderOpsTotal,
		m.PostingsTotal,
		m.LedgerCallDuration,
		m.PendingPostings,
		m.NotificationFailures,
	)
	return m
}

// Registry 返回底层 Registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler 返回 /metrics 暴露端点
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// GinMiddleware 记录 HTTP 请求指标
func (m *Metrics) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		m.HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
		m.HTTPRequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

// RecordOrderOp 记录订单操作结果
func (m *Metrics) RecordOrderOp(op, result string) {
	if m == nil {
		return
	}
	m.OrderOpsTotal.WithLabelValues(op, result).Inc()
}

// RecordPosting 记录一次记账结果
func (m *Metrics) RecordPosting(leg, result string) {
	if m == nil {
		return
	}
	m.PostingsTotal.WithLabelValues(leg, result).Inc()
}

// ObserveLedgerCall 记录一次账本调用耗时
func (m *Metrics) ObserveLedgerCall(method string, d time.Duration) {
	if m == nil {
		return
	}
	m.LedgerCallDuration.WithLabelValues(method).Observe(d.Seconds())
}

// SetPendingPostings 更新未决记账数
func (m *Metrics) SetPendingPostings(n int) {
	if m == nil {
		return
	}
	m.PendingPostings.Set(float64(n))
}

// RecordNotificationFailure 记录通知投递失败
func (m *Metrics) RecordNotificationFailure() {
	if m == nil {
		return
	}
	m.NotificationFailures.Inc()
}
