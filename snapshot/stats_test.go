package snapshot

import (
	"testing"
	"time"

	"fundguard/database"
)

func trade(profit, lots float64, open time.Time) *database.Order {
	closed := open.Add(time.Hour)
	return &database.Order{Type: "buy", Profit: profit, Volume: lots, TimeOpen: open, TimeClose: &closed}
}

func TestComputeStats(t *testing.T) {
	open := time.Date(2025, 6, 2, 8, 0, 0, 0, time.UTC)
	stats := ComputeStats([]*database.Order{
		trade(100, 1, open),
		trade(-50, 0.5, open),
		trade(30, 0.25, open),
		trade(-15, 0.25, open),
	})

	if stats.WinRate != 50 || stats.LossRate != 50 {
		t.Errorf("胜率/败率错误: %v / %v", stats.WinRate, stats.LossRate)
	}
	if stats.GrossProfit != 130 || stats.GrossLoss != 65 {
		t.Errorf("毛利/毛损错误: %v / %v", stats.GrossProfit, stats.GrossLoss)
	}
	if stats.ProfitFactor == nil || *stats.ProfitFactor != 2 {
		t.Errorf("盈利因子错误: %v", stats.ProfitFactor)
	}
	if stats.BestTrade != 100 || stats.WorstTrade != -50 {
		t.Errorf("最佳/最差交易错误: %v / %v", stats.BestTrade, stats.WorstTrade)
	}
	if stats.TotalLots != 2 {
		t.Errorf("总手数错误: %v", stats.TotalLots)
	}
	if stats.TradesCount != 4 || stats.TradingDays != 1 {
		t.Errorf("交易数/交易日错误: %d / %d", stats.TradesCount, stats.TradingDays)
	}
}

func TestComputeStatsProfitFactorNilWithoutLosses(t *testing.T) {
	open := time.Date(2025, 6, 2, 8, 0, 0, 0, time.UTC)
	stats := ComputeStats([]*database.Order{trade(10, 1, open), trade(0, 1, open)})
	if stats.ProfitFactor != nil {
		t.Errorf("无亏损时盈利因子应为 nil, 得到 %v", *stats.ProfitFactor)
	}
	if stats.WinRate != 50 {
		t.Errorf("零盈亏交易不计入盈利: %v", stats.WinRate)
	}
}

func TestComputeStatsTradingDaysUseTradingCalendar(t *testing.T) {
	// 同一个 UTC 日，但 22:30 UTC 在德黑兰已是次日 02:00，越过 01:30 的交易日起点
	stats := ComputeStats([]*database.Order{
		trade(1, 1, time.Date(2025, 6, 2, 19, 0, 0, 0, time.UTC)),
		trade(1, 1, time.Date(2025, 6, 2, 22, 30, 0, 0, time.UTC)),
	})
	if stats.TradingDays != 2 {
		t.Errorf("交易日应按交易日历时区计算: 期望 2, 得到 %d", stats.TradingDays)
	}
}

func TestComputeStatsTradeBeforeResetBelongsToPreviousDay(t *testing.T) {
	// 22:30 与次日 00:30 德黑兰都在同一交易日（01:30 开始）
	stats := ComputeStats([]*database.Order{
		trade(1, 1, time.Date(2025, 6, 2, 19, 0, 0, 0, time.UTC)),
		trade(1, 1, time.Date(2025, 6, 2, 21, 0, 0, 0, time.UTC)),
	})
	if stats.TradingDays != 1 {
		t.Errorf("重置前的交易应归入前一交易日: 期望 1, 得到 %d", stats.TradingDays)
	}
}

func TestComputeStatsEmpty(t *testing.T) {
	stats := ComputeStats(nil)
	if stats.TradesCount != 0 || stats.ProfitFactor != nil || stats.WinRate != 0 {
		t.Errorf("空交易统计应为零值: %+v", stats)
	}
}

func TestBalanceChangePercent(t *testing.T) {
	if got := BalanceChangePercent(10500, 10000); got != 5 {
		t.Errorf("期望 5, 得到 %v", got)
	}
	if got := BalanceChangePercent(10500, 0); got != 0 {
		t.Errorf("初始余额为 0 时应返回 0, 得到 %v", got)
	}
}
