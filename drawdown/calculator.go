// Package drawdown 回撤计算：峰值、基线、限额、突破阈值与使用率，纯函数无 I/O。
package drawdown

import "math"

// Limits 计划的回撤参数
type Limits struct {
	DailyLimitPercent    float64
	MaxLimitPercent      float64
	DailyLimitIsFloating bool // 日回撤基线跟随当日峰值
	MaxLimitIsFloating   bool // 总回撤基线跟随历史峰值
}

// Input 一次计算所需的权益数据
// StoredDailyPeak / StoredAllTimePeak 为持久化的峰值，nil 表示尚无记录
type Input struct {
	CurrentEquity     float64
	StartingEquity    float64
	DailyStartEquity  float64
	StoredDailyPeak   *float64
	StoredAllTimePeak *float64
}

// Metrics 回撤计算结果
type Metrics struct {
	DailyPeakEquity     float64
	AllTimePeakEquity   float64
	BaselineDailyEquity float64
	BaselineMaxEquity   float64

	DailyLimitAmount  float64
	DailyBreachEquity float64
	DailyUsedAmount   float64
	DailyUsagePercent float64

	MaxLimitAmount  float64
	MaxBreachEquity float64
	MaxUsedAmount   float64
	MaxUsagePercent float64
}

// Compute 计算回撤指标
// 调用方必须传入最新的持久化峰值，本函数不读取存储
func Compute(limits Limits, in Input) Metrics {
	var m Metrics

	m.DailyPeakEquity = in.DailyStartEquity
	if limits.DailyLimitIsFloating {
		m.DailyPeakEquity = maxOf(in.DailyStartEquity, in.StoredDailyPeak, in.CurrentEquity)
	}
	m.AllTimePeakEquity = in.StartingEquity
	if limits.MaxLimitIsFloating {
		m.AllTimePeakEquity = maxOf(in.StartingEquity, in.StoredAllTimePeak, in.CurrentEquity)
	}

	m.BaselineDailyEquity = in.DailyStartEquity
	if limits.DailyLimitIsFloating {
		m.BaselineDailyEquity = m.DailyPeakEquity
	}
	m.BaselineMaxEquity = in.StartingEquity
	if limits.MaxLimitIsFloating {
		m.BaselineMaxEquity = m.AllTimePeakEquity
	}

	m.DailyLimitAmount, m.DailyBreachEquity, m.DailyUsedAmount, m.DailyUsagePercent =
		limitFor(m.BaselineDailyEquity, limits.DailyLimitPercent, in.CurrentEquity)
	m.MaxLimitAmount, m.MaxBreachEquity, m.MaxUsedAmount, m.MaxUsagePercent =
		limitFor(m.BaselineMaxEquity, limits.MaxLimitPercent, in.CurrentEquity)

	return m
}

// limitFor 计算单个限额的金额、突破权益、已用金额、使用率
func limitFor(baseline, percent, equity float64) (limit, breach, used, usage float64) {
	limit = baseline * percent / 100
	breach = baseline - limit
	used = math.Max(0, baseline-equity)
	if limit != 0 {
		usage = used / limit * 100
	}
	return
}

func maxOf(base float64, stored *float64, current float64) float64 {
	v := math.Max(base, current)
	if stored != nil {
		v = math.Max(v, *stored)
	}
	return v
}

// DailyViolation 日回撤突破（触及阈值即视为突破）
func DailyViolation(equity, dailyBreachEquity float64) bool {
	return equity <= dailyBreachEquity
}

// MaxViolation 总回撤突破（触及阈值即视为突破）
func MaxViolation(equity, maxBreachEquity float64) bool {
	return equity <= maxBreachEquity
}
