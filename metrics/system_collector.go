package metrics

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/process"

	"fundguard/logger"
)

// SystemMetrics 进程资源快照
type SystemMetrics struct {
	Timestamp  time.Time `json:"timestamp"`
	CPUPercent float64   `json:"cpu_percent"`
	MemoryMB   float64   `json:"memory_mb"`
	Goroutines int       `json:"goroutines"`
	ProcessID  int       `json:"process_id"`
}

// CollectSystemMetrics 采集当前进程的 CPU 与内存占用
func CollectSystemMetrics() (*SystemMetrics, error) {
	pid := os.Getpid()
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return nil, fmt.Errorf("获取进程失败: %w", err)
	}

	cpuPercent, err := p.CPUPercent()
	if err != nil {
		// 退回系统 CPU 使用率
		percentages, sysErr := cpu.Percent(0, false)
		if sysErr != nil || len(percentages) == 0 {
			return nil, fmt.Errorf("获取CPU占用率失败: %w", err)
		}
		cpuPercent = percentages[0]
	}

	memInfo, err := p.MemoryInfo()
	if err != nil {
		return nil, fmt.Errorf("获取内存信息失败: %w", err)
	}

	return &SystemMetrics{
		Timestamp:  time.Now(),
		CPUPercent: cpuPercent,
		MemoryMB:   float64(memInfo.RSS) / 1024 / 1024,
		Goroutines: runtime.NumGoroutine(),
		ProcessID:  pid,
	}, nil
}

// SystemMetricsCollector 周期性采集进程资源并写入 Prometheus
type SystemMetricsCollector struct {
	pm       *PrometheusMetrics
	interval time.Duration
	cancel   context.CancelFunc
	hooks    []func(*SystemMetrics)
}

// NewSystemMetricsCollector 创建系统指标采集器
func NewSystemMetricsCollector(interval time.Duration) *SystemMetricsCollector {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &SystemMetricsCollector{
		pm:       GetPrometheusMetrics(),
		interval: interval,
	}
}

// OnSample 注册采样回调，需在 Start 之前调用
func (smc *SystemMetricsCollector) OnSample(fn func(*SystemMetrics)) {
	smc.hooks = append(smc.hooks, fn)
}

// Start 启动采集
func (smc *SystemMetricsCollector) Start(ctx context.Context) {
	ctx, smc.cancel = context.WithCancel(ctx)
	go smc.collectLoop(ctx)
}

// Stop 停止采集
func (smc *SystemMetricsCollector) Stop() {
	if smc.cancel != nil {
		smc.cancel()
	}
}

func (smc *SystemMetricsCollector) collectLoop(ctx context.Context) {
	ticker := time.NewTicker(smc.interval)
	defer ticker.Stop()

	smc.collect()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			smc.collect()
		}
	}
}

func (smc *SystemMetricsCollector) collect() {
	m, err := CollectSystemMetrics()
	if err != nil {
		logger.Debug("⚠️ 采集进程资源失败: %v", err)
		return
	}
	smc.pm.SetProcessResources(m.CPUPercent, m.MemoryMB)
	for _, fn := range smc.hooks {
		fn(m)
	}
}
