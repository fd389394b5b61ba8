package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// 轮询指标
	pollCyclesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fundguard_poll_cycles_total",
			Help: "Total number of completed poll cycles",
		},
	)

	pollCycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fundguard_poll_cycle_duration_seconds",
			Help:    "Poll cycle duration in seconds",
			Buckets: []float64{0.5, 1, 5, 10, 30, 60, 120, 240},
		},
	)

	pollAccountErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fundguard_poll_account_errors_total",
			Help: "Total number of per-account poll errors",
		},
		[]string{"stage"},
	)

	// 券商 API 指标
	brokerRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fundguard_broker_requests_total",
			Help: "Total number of broker API requests",
		},
		[]string{"endpoint", "status"},
	)

	brokerRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fundguard_broker_request_duration_seconds",
			Help:    "Broker API request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15, 30, 60},
		},
		[]string{"endpoint"},
	)

	// 回撤与状态指标
	accountFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fundguard_account_failures_total",
			Help: "Total number of accounts marked failed",
		},
		[]string{"limit"},
	)

	monitoringTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fundguard_monitoring_transitions_total",
			Help: "Total number of monitoring state transitions",
		},
		[]string{"to"},
	)

	usagePercent = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fundguard_usage_percent",
			Help: "Latest drawdown usage percent per account",
		},
		[]string{"account", "limit"},
	)

	// 实时推送指标
	liveSubscriptions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fundguard_live_subscriptions",
			Help: "Number of accounts subscribed to the live feed",
		},
	)

	liveFeedConnected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fundguard_live_feed_connected",
			Help: "Live feed connection status (1=connected, 0=disconnected)",
		},
	)

	liveFeedReconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fundguard_live_feed_reconnects_total",
			Help: "Total number of live feed reconnect attempts",
		},
	)

	liveEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fundguard_live_events_total",
			Help: "Total number of live feed events",
		},
		[]string{"type", "routed"},
	)

	// 日重置指标
	dailyResetsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fundguard_daily_resets_total",
			Help: "Total number of per-account daily resets",
		},
		[]string{"result"},
	)

	// 进程资源
	processCPUPercent = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fundguard_process_cpu_percent",
			Help: "Process CPU usage percent",
		},
	)

	processMemoryMB = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fundguard_process_memory_mb",
			Help: "Process resident memory in MB",
		},
	)

	resourceAlertsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fundguard_resource_alerts_total",
			Help: "Total number of process resource alerts raised by the watchdog",
		},
		[]string{"resource"},
	)
)

// PrometheusMetrics Prometheus 指标收集器
type PrometheusMetrics struct{}

// NewPrometheusMetrics 创建 Prometheus 指标收集器
func NewPrometheusMetrics() *PrometheusMetrics {
	return &PrometheusMetrics{}
}

// RecordPollCycle 记录一次完整轮询
func (pm *PrometheusMetrics) RecordPollCycle(duration time.Duration) {
	pollCyclesTotal.Inc()
	pollCycleDuration.Observe(duration.Seconds())
}

// RecordPollError 记录单账户轮询失败，stage 为失败所在步骤
func (pm *PrometheusMetrics) RecordPollError(stage string) {
	pollAccountErrors.WithLabelValues(stage).Inc()
}

// RecordBrokerRequest 记录券商 API 调用
func (pm *PrometheusMetrics) RecordBrokerRequest(endpoint, status string, duration time.Duration) {
	brokerRequestsTotal.WithLabelValues(endpoint, status).Inc()
	brokerRequestDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// RecordAccountFailure 记录账户爆仓（daily / max）
func (pm *PrometheusMetrics) RecordAccountFailure(limit string) {
	accountFailuresTotal.WithLabelValues(limit).Inc()
}

// RecordMonitoringTransition 记录监控状态切换
func (pm *PrometheusMetrics) RecordMonitoringTransition(to string) {
	monitoringTransitions.WithLabelValues(to).Inc()
}

// SetUsage 更新账户回撤使用率
func (pm *PrometheusMetrics) SetUsage(account string, daily, max float64) {
	usagePercent.WithLabelValues(account, "daily").Set(daily)
	usagePercent.WithLabelValues(account, "max").Set(max)
}

// DeleteUsage 删除账户使用率序列（账户失败后不再监控）
func (pm *PrometheusMetrics) DeleteUsage(account string) {
	usagePercent.DeleteLabelValues(account, "daily")
	usagePercent.DeleteLabelValues(account, "max")
}

// SetLiveSubscriptions 更新实时订阅数量
func (pm *PrometheusMetrics) SetLiveSubscriptions(n int) {
	liveSubscriptions.Set(float64(n))
}

// SetLiveFeedStatus 设置实时推送连接状态
func (pm *PrometheusMetrics) SetLiveFeedStatus(connected bool) {
	if connected {
		liveFeedConnected.Set(1)
	} else {
		liveFeedConnected.Set(0)
	}
}

// RecordLiveFeedReconnect 记录重连
func (pm *PrometheusMetrics) RecordLiveFeedReconnect() {
	liveFeedReconnects.Inc()
}

// RecordLiveEvent 记录实时事件及其是否被路由到账户
func (pm *PrometheusMetrics) RecordLiveEvent(eventType string, routed bool) {
	r := "false"
	if routed {
		r = "true"
	}
	liveEventsTotal.WithLabelValues(eventType, r).Inc()
}

// RecordDailyReset 记录日重置结果: ok, fallback, skipped, error
func (pm *PrometheusMetrics) RecordDailyReset(result string) {
	dailyResetsTotal.WithLabelValues(result).Inc()
}

// SetProcessResources 更新进程资源占用
func (pm *PrometheusMetrics) SetProcessResources(cpuPercent, memoryMB float64) {
	processCPUPercent.Set(cpuPercent)
	processMemoryMB.Set(memoryMB)
}

// RecordResourceAlert 记录一次资源告警
func (pm *PrometheusMetrics) RecordResourceAlert(resource string) {
	resourceAlertsTotal.WithLabelValues(resource).Inc()
}

// 全局实例
var globalPrometheusMetrics *PrometheusMetrics

// GetPrometheusMetrics 获取全局 Prometheus 指标收集器
func GetPrometheusMetrics() *PrometheusMetrics {
	once.Do(func() {
		globalPrometheusMetrics = NewPrometheusMetrics()
	})
	return globalPrometheusMetrics
}
