package snapshot

import (
	"github.com/shopspring/decimal"

	"fundguard/database"
	"fundguard/utils"
)

// TradeTypes 参与交易统计的订单类型（入库时已归一为小写）
var TradeTypes = []string{"buy", "sell"}

// Stats 交易统计
type Stats struct {
	WinRate      float64
	LossRate     float64
	ProfitFactor *float64 // 无亏损交易时为 nil
	BestTrade    float64
	WorstTrade   float64
	GrossProfit  float64
	GrossLoss    float64
	TradingDays  int
	TotalLots    float64
	TradesCount  int
}

// ComputeStats 统计已平仓的非入金交易，交易日按交易日历时区的开仓日期去重
func ComputeStats(trades []*database.Order) Stats {
	var stats Stats
	if len(trades) == 0 {
		return stats
	}

	var (
		grossProfit = decimal.Zero
		grossLoss   = decimal.Zero
		lots        = decimal.Zero
		wins        int
		best        = decimal.NewFromFloat(trades[0].Profit)
		worst       = best
		days        = make(map[string]struct{})
	)

	for _, t := range trades {
		profit := decimal.NewFromFloat(t.Profit)
		switch {
		case profit.IsPositive():
			wins++
			grossProfit = grossProfit.Add(profit)
		case profit.IsNegative():
			grossLoss = grossLoss.Add(profit.Abs())
		}
		if profit.GreaterThan(best) {
			best = profit
		}
		if profit.LessThan(worst) {
			worst = profit
		}
		lots = lots.Add(decimal.NewFromFloat(t.Volume))
		days[utils.TradingDate(t.TimeOpen)] = struct{}{}
	}

	total := decimal.NewFromInt(int64(len(trades)))
	winRate := decimal.NewFromInt(int64(wins)).Div(total).Mul(decimal.NewFromInt(100))

	stats.WinRate = winRate.InexactFloat64()
	stats.LossRate = decimal.NewFromInt(100).Sub(winRate).InexactFloat64()
	stats.GrossProfit = grossProfit.InexactFloat64()
	stats.GrossLoss = grossLoss.InexactFloat64()
	stats.BestTrade = best.InexactFloat64()
	stats.WorstTrade = worst.InexactFloat64()
	stats.TotalLots = lots.InexactFloat64()
	stats.TradesCount = len(trades)
	stats.TradingDays = len(days)

	if grossLoss.IsPositive() {
		pf := grossProfit.Div(grossLoss).InexactFloat64()
		stats.ProfitFactor = &pf
	}
	return stats
}

// BalanceChangePercent (当前余额 - 初始余额) / 初始余额 × 100，初始余额为 0 时返回 0
func BalanceChangePercent(current, initial float64) float64 {
	if initial <= 0 {
		return 0
	}
	c := decimal.NewFromFloat(current)
	i := decimal.NewFromFloat(initial)
	return c.Sub(i).Div(i).Mul(decimal.NewFromInt(100)).InexactFloat64()
}
