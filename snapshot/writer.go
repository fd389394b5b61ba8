package snapshot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"fundguard/database"
	"fundguard/drawdown"
	"fundguard/logger"
	"fundguard/utils"
)

// ErrAccountFailed 账户已爆仓，不再计算
var ErrAccountFailed = errors.New("账户已失败，跳过指标计算")

const (
	SourcePoll = "poll"
	SourceLive = "live"
)

// Observation 一次权益观测（来自轮询或实时推送）
type Observation struct {
	Equity  float64
	Balance float64 // 0 表示未知，沿用上一条快照
	Source  string
	At      time.Time
}

// Result 计算结果，供规则引擎使用
type Result struct {
	Account  *database.Account
	Plan     *database.Plan
	Metrics  drawdown.Metrics
	Snapshot *database.MetricsSnapshot
}

// Writer 指标快照写入器
type Writer struct {
	db database.Database
}

// NewWriter 创建写入器
func NewWriter(db database.Database) *Writer {
	return &Writer{db: db}
}

// ComputeAndStore 计算回撤与交易统计，更新浮动峰值，并追加一条快照
func (w *Writer) ComputeAndStore(ctx context.Context, accountID int64, obs Observation) (*Result, error) {
	if obs.At.IsZero() {
		obs.At = utils.NowUTC()
	}

	account, err := w.db.GetAccount(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("读取账户 %d 失败: %w", accountID, err)
	}
	if account.IsFailed {
		return nil, ErrAccountFailed
	}

	plan, err := w.db.GetPlan(ctx, account.PlanID)
	if err != nil {
		return nil, fmt.Errorf("读取账户 %d 的计划 %d 失败: %w", accountID, account.PlanID, err)
	}

	today := utils.TradingDate(obs.At)

	dailyStart, err := w.dailyStartEquity(ctx, account, today)
	if err != nil {
		return nil, err
	}

	dailyPeak, err := w.storedPeak(ctx, accountID, database.PeakDaily, today)
	if err != nil {
		return nil, err
	}
	allTimePeak, err := w.storedPeak(ctx, accountID, database.PeakAllTime, "")
	if err != nil {
		return nil, err
	}

	limits := plan.Limits()
	m := drawdown.Compute(limits, drawdown.Input{
		CurrentEquity:     obs.Equity,
		StartingEquity:    account.StartingEquity,
		DailyStartEquity:  dailyStart,
		StoredDailyPeak:   dailyPeak,
		StoredAllTimePeak: allTimePeak,
	})

	if limits.DailyLimitIsFloating && (dailyPeak == nil || m.DailyPeakEquity > *dailyPeak) {
		if err := w.db.UpdatePeak(ctx, accountID, database.PeakDaily, today, m.DailyPeakEquity, obs.At); err != nil {
			return nil, fmt.Errorf("更新日峰值失败: %w", err)
		}
	}
	if limits.MaxLimitIsFloating && (allTimePeak == nil || m.AllTimePeakEquity > *allTimePeak) {
		if err := w.db.UpdatePeak(ctx, accountID, database.PeakAllTime, "", m.AllTimePeakEquity, obs.At); err != nil {
			return nil, fmt.Errorf("更新历史峰值失败: %w", err)
		}
	}

	trades, err := w.db.ListOrders(ctx, &database.OrderFilter{
		AccountID:       accountID,
		Types:           TradeTypes,
		ClosedOnly:      true,
		ExcludeDeposits: true,
	})
	if err != nil {
		return nil, fmt.Errorf("读取交易记录失败: %w", err)
	}
	stats := ComputeStats(trades)

	initialBalance, err := w.db.DemoDepositTotal(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("读取初始余额失败: %w", err)
	}

	balance := obs.Balance
	if balance == 0 {
		if latest, err := w.db.GetLatestMetrics(ctx, accountID); err == nil {
			balance = latest.CurrentBalance
		}
	}

	snap := &database.MetricsSnapshot{
		AccountID:            accountID,
		ComputedAt:           obs.At,
		Source:               obs.Source,
		InitialBalance:       initialBalance,
		CurrentBalance:       balance,
		CurrentEquity:        obs.Equity,
		BalanceChangePercent: BalanceChangePercent(balance, initialBalance),
		StartingEquity:       account.StartingEquity,
		DailyStartEquity:     dailyStart,
		BaselineDailyEquity:  m.BaselineDailyEquity,
		DailyPeakEquity:      m.DailyPeakEquity,
		BaselineMaxEquity:    m.BaselineMaxEquity,
		AllTimePeakEquity:    m.AllTimePeakEquity,
		DailyLimitAmount:     m.DailyLimitAmount,
		DailyBreachEquity:    m.DailyBreachEquity,
		DailyUsedAmount:      m.DailyUsedAmount,
		DailyUsagePercent:    m.DailyUsagePercent,
		MaxLimitAmount:       m.MaxLimitAmount,
		MaxBreachEquity:      m.MaxBreachEquity,
		MaxUsedAmount:        m.MaxUsedAmount,
		MaxUsagePercent:      m.MaxUsagePercent,
		WinRate:              stats.WinRate,
		LossRate:             stats.LossRate,
		ProfitFactor:         stats.ProfitFactor,
		BestTrade:            stats.BestTrade,
		WorstTrade:           stats.WorstTrade,
		GrossProfit:          stats.GrossProfit,
		GrossLoss:            stats.GrossLoss,
		TradingDays:          stats.TradingDays,
		TotalLots:            stats.TotalLots,
		TradesCount:          stats.TradesCount,
	}
	if err := w.db.SaveMetrics(ctx, snap); err != nil {
		return nil, fmt.Errorf("保存指标快照失败: %w", err)
	}

	logger.Debug("[snapshot] 账户 %d (%s): 权益 %.2f, 日使用率 %.2f%%, 总使用率 %.2f%%",
		accountID, obs.Source, obs.Equity, m.DailyUsagePercent, m.MaxUsagePercent)

	return &Result{
		Account:  account,
		Plan:     plan,
		Metrics:  m,
		Snapshot: snap,
	}, nil
}

// dailyStartEquity 日初权益：日重置写入值 → 当日快照 → 最近一次快照 → 初始权益
func (w *Writer) dailyStartEquity(ctx context.Context, account *database.Account, today string) (float64, error) {
	if account.DailyStartEquity > 0 {
		return account.DailyStartEquity, nil
	}

	snap, err := w.db.GetDailySnapshot(ctx, account.ID, today)
	if err == nil {
		return snap.Equity, nil
	}
	if !errors.Is(err, database.ErrNotFound) {
		return 0, fmt.Errorf("读取当日快照失败: %w", err)
	}

	snap, err = w.db.GetLatestSnapshotBefore(ctx, account.ID, today)
	if err == nil {
		return snap.Equity, nil
	}
	if !errors.Is(err, database.ErrNotFound) {
		return 0, fmt.Errorf("读取历史快照失败: %w", err)
	}

	return account.StartingEquity, nil
}

func (w *Writer) storedPeak(ctx context.Context, accountID int64, kind database.PeakKind, tradingDate string) (*float64, error) {
	peak, err := w.db.GetPeak(ctx, accountID, kind, tradingDate)
	if errors.Is(err, database.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("读取%s失败: %w", kind, err)
	}
	return &peak.Equity, nil
}
