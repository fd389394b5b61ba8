package monitor

import (
	"time"

	"fundguard/metrics"
)

// 告警资源
const (
	ResourceCPU          = "cpu"
	ResourceMemory       = "memory"
	ResourceGoroutines   = "goroutines"
	ResourceMemoryGrowth = "memory_growth"
)

// Thresholds 进程资源告警阈值，零值表示不检查该项
type Thresholds struct {
	CPUPercent     float64
	MemoryMB       float64
	Goroutines     int
	MemoryGrowthMB float64
	Window         time.Duration
}

// Breach 一次越限
type Breach struct {
	Resource  string
	Value     float64
	Threshold float64
	Baseline  float64 // 仅增长类告警：窗口内最早的采样值
}

// ThresholdChecker 阈值检查器
type ThresholdChecker struct {
	th Thresholds
}

// NewThresholdChecker 创建阈值检查器
func NewThresholdChecker(th Thresholds) *ThresholdChecker {
	return &ThresholdChecker{th: th}
}

// CheckFixedThreshold 检查固定阈值
func (tc *ThresholdChecker) CheckFixedThreshold(m *metrics.SystemMetrics) []Breach {
	var out []Breach
	if tc.th.CPUPercent > 0 && m.CPUPercent >= tc.th.CPUPercent {
		out = append(out, Breach{Resource: ResourceCPU, Value: m.CPUPercent, Threshold: tc.th.CPUPercent})
	}
	if tc.th.MemoryMB > 0 && m.MemoryMB >= tc.th.MemoryMB {
		out = append(out, Breach{Resource: ResourceMemory, Value: m.MemoryMB, Threshold: tc.th.MemoryMB})
	}
	if tc.th.Goroutines > 0 && m.Goroutines >= tc.th.Goroutines {
		out = append(out, Breach{Resource: ResourceGoroutines, Value: float64(m.Goroutines), Threshold: float64(tc.th.Goroutines)})
	}
	return out
}

// CheckMemoryGrowth 检查窗口内的内存增长量（MB）
func (tc *ThresholdChecker) CheckMemoryGrowth(current *metrics.SystemMetrics, history []*metrics.SystemMetrics) (Breach, bool) {
	if tc.th.MemoryGrowthMB <= 0 || tc.th.Window <= 0 {
		return Breach{}, false
	}

	oldest := findOldestInWindow(history, current.Timestamp, tc.th.Window)
	if oldest == nil {
		return Breach{}, false
	}

	change := current.MemoryMB - oldest.MemoryMB
	if change < tc.th.MemoryGrowthMB {
		return Breach{}, false
	}
	return Breach{
		Resource:  ResourceMemoryGrowth,
		Value:     change,
		Threshold: tc.th.MemoryGrowthMB,
		Baseline:  oldest.MemoryMB,
	}, true
}

// findOldestInWindow 找到 (now-window, now) 内最早的采样点
func findOldestInWindow(history []*metrics.SystemMetrics, now time.Time, window time.Duration) *metrics.SystemMetrics {
	windowStart := now.Add(-window)
	var oldest *metrics.SystemMetrics
	for _, m := range history {
		if m.Timestamp.After(windowStart) && m.Timestamp.Before(now) {
			if oldest == nil || m.Timestamp.Before(oldest.Timestamp) {
				oldest = m
			}
		}
	}
	return oldest
}
