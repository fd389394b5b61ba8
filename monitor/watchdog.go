// Package monitor 进程资源看门狗：基于系统指标采样检查阈值并发布告警事件。
package monitor

import (
	"runtime/debug"
	"sync"
	"time"

	"fundguard/event"
	"fundguard/logger"
	"fundguard/metrics"
)

// Watchdog 系统资源监控看门狗
// 由 metrics.SystemMetricsCollector 的采样回调驱动，不单独起采样协程
type Watchdog struct {
	checker   *ThresholdChecker
	publisher event.Publisher
	pm        *metrics.PrometheusMetrics
	window    time.Duration
	cooldown  time.Duration

	// 内存越限时归还空闲内存给操作系统
	freeMemory func()

	mu                   sync.Mutex
	lastNotificationTime map[string]time.Time
	historyCache         []*metrics.SystemMetrics
}

// NewWatchdog 创建看门狗实例，publisher 可为 nil
func NewWatchdog(th Thresholds, cooldown time.Duration, publisher event.Publisher) *Watchdog {
	if cooldown <= 0 {
		cooldown = 30 * time.Minute
	}
	if th.Window <= 0 {
		th.Window = 5 * time.Minute
	}
	return &Watchdog{
		checker:              NewThresholdChecker(th),
		publisher:            publisher,
		pm:                   metrics.GetPrometheusMetrics(),
		window:               th.Window,
		cooldown:             cooldown,
		freeMemory:           debug.FreeOSMemory,
		lastNotificationTime: make(map[string]time.Time),
	}
}

// Attach 挂到系统指标采集器上
func (w *Watchdog) Attach(collector *metrics.SystemMetricsCollector) {
	collector.OnSample(func(m *metrics.SystemMetrics) { w.Observe(m) })
	logger.Info("✅ 看门狗监控已启动 (冷却: %v, 增长窗口: %v)", w.cooldown, w.window)
}

// Observe 处理一次采样并返回本次发出的告警
func (w *Watchdog) Observe(current *metrics.SystemMetrics) []Breach {
	w.mu.Lock()
	history := make([]*metrics.SystemMetrics, len(w.historyCache))
	copy(history, w.historyCache)
	w.updateHistoryCache(current)

	breaches := w.checker.CheckFixedThreshold(current)
	if b, ok := w.checker.CheckMemoryGrowth(current, history); ok {
		breaches = append(breaches, b)
	}

	var alerts []Breach
	for _, b := range breaches {
		if w.shouldNotify(b.Resource, current.Timestamp) {
			w.lastNotificationTime[b.Resource] = current.Timestamp
			alerts = append(alerts, b)
		}
	}
	w.mu.Unlock()

	releaseMemory := false
	for _, b := range alerts {
		w.sendNotification(current, b)
		if b.Resource == ResourceMemory || b.Resource == ResourceMemoryGrowth {
			releaseMemory = true
		}
	}
	if releaseMemory && w.freeMemory != nil {
		w.freeMemory()
		logger.Info("🧹 [内存管理] 已触发 GC 并归还空闲内存")
	}
	return alerts
}

// updateHistoryCache 只保留增长窗口内的采样，调用方持有 mu
func (w *Watchdog) updateHistoryCache(current *metrics.SystemMetrics) {
	cutoff := current.Timestamp.Add(-w.window)
	kept := w.historyCache[:0]
	for _, m := range w.historyCache {
		if m.Timestamp.After(cutoff) {
			kept = append(kept, m)
		}
	}
	w.historyCache = append(kept, current)
}

// shouldNotify 冷却期内同一资源只告警一次，调用方持有 mu
func (w *Watchdog) shouldNotify(key string, now time.Time) bool {
	last, ok := w.lastNotificationTime[key]
	if !ok {
		return true
	}
	return now.Sub(last) >= w.cooldown
}

func (w *Watchdog) sendNotification(current *metrics.SystemMetrics, b Breach) {
	if b.Resource == ResourceMemoryGrowth {
		logger.Warn("🚨 [系统监控告警] 内存在 %v 内上涨 %.2f MB (从 %.2f MB 到 %.2f MB)",
			w.window, b.Value, b.Baseline, current.MemoryMB)
	} else {
		logger.Warn("🚨 [系统监控告警] %s 超过阈值: %.2f (阈值: %.2f)", b.Resource, b.Value, b.Threshold)
	}
	logger.Info("📊 当前系统状态: CPU=%.2f%%, 内存=%.2f MB, Goroutines=%d",
		current.CPUPercent, current.MemoryMB, current.Goroutines)

	w.pm.RecordResourceAlert(b.Resource)
	if w.publisher == nil {
		return
	}
	w.publisher.Publish(&event.Event{
		Type:      event.EventTypeResourceAlert,
		Timestamp: current.Timestamp,
		Data: map[string]interface{}{
			"resource":   b.Resource,
			"value":      b.Value,
			"threshold":  b.Threshold,
			"process_id": current.ProcessID,
		},
	})
}
