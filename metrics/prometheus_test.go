package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestUsageGaugeLifecycle(t *testing.T) {
	pm := GetPrometheusMetrics()

	pm.SetUsage("42", 91.5, 40)
	if got := testutil.ToFloat64(usagePercent.WithLabelValues("42", "daily")); got != 91.5 {
		t.Errorf("日使用率期望 91.5, 得到 %v", got)
	}
	if got := testutil.ToFloat64(usagePercent.WithLabelValues("42", "max")); got != 40 {
		t.Errorf("总使用率期望 40, 得到 %v", got)
	}

	pm.DeleteUsage("42")
	if n := testutil.CollectAndCount(usagePercent); n != 0 {
		t.Errorf("删除后不应再有使用率序列, 得到 %d", n)
	}
}

func TestCountersIncrement(t *testing.T) {
	pm := GetPrometheusMetrics()

	before := testutil.ToFloat64(accountFailuresTotal.WithLabelValues("daily"))
	pm.RecordAccountFailure("daily")
	if got := testutil.ToFloat64(accountFailuresTotal.WithLabelValues("daily")); got != before+1 {
		t.Errorf("失败计数应加一: %v -> %v", before, got)
	}

	pm.RecordLiveEvent("EquityUpdate", false)
	if got := testutil.ToFloat64(liveEventsTotal.WithLabelValues("EquityUpdate", "false")); got < 1 {
		t.Errorf("未路由事件应被计数, 得到 %v", got)
	}

	pm.SetLiveFeedStatus(true)
	if got := testutil.ToFloat64(liveFeedConnected); got != 1 {
		t.Errorf("连接状态应为 1, 得到 %v", got)
	}
	pm.SetLiveFeedStatus(false)
	if got := testutil.ToFloat64(liveFeedConnected); got != 0 {
		t.Errorf("连接状态应为 0, 得到 %v", got)
	}
}

func TestSystemCollectorStartStop(t *testing.T) {
	c := NewSystemMetricsCollector(10 * time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c.Start(ctx)
	time.Sleep(30 * time.Millisecond)
	c.Stop()

	if m, err := CollectSystemMetrics(); err == nil && m.ProcessID == 0 {
		t.Error("进程ID不应为 0")
	}
	t.Log("✅ 系统指标采集器测试通过")
}
