package snapshot

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"fundguard/database"
	"fundguard/drawdown"
)

func newTestDB(t *testing.T) *database.GormDatabase {
	t.Helper()
	db, err := database.NewGormDatabase(&database.DBConfig{
		Type:         "sqlite",
		DSN:          filepath.Join(t.TempDir(), "snapshot.db"),
		MaxOpenConns: 1,
	})
	if err != nil {
		t.Fatalf("创建测试数据库失败: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func seedAccount(t *testing.T, db *database.GormDatabase, plan *database.Plan, account *database.Account) *database.Account {
	t.Helper()
	ctx := context.Background()
	if err := db.CreatePlan(ctx, plan); err != nil {
		t.Fatalf("创建计划失败: %v", err)
	}
	account.PlanID = plan.ID
	if account.Login == "" {
		account.Login = "1001"
		account.Server = "Demo-Server"
	}
	if err := db.CreateAccount(ctx, account); err != nil {
		t.Fatalf("创建账户失败: %v", err)
	}
	return account
}

func TestComputeAndStoreFixedDaily(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	account := seedAccount(t, db,
		&database.Plan{Name: "fixed", DailyLimitPercent: 5, MaxLimitPercent: 10},
		&database.Account{StartingEquity: 10000, DailyStartEquity: 10000},
	)
	w := NewWriter(db)

	res, err := w.ComputeAndStore(ctx, account.ID, Observation{Equity: 9600, Balance: 10000, Source: SourcePoll})
	if err != nil {
		t.Fatalf("计算失败: %v", err)
	}
	if res.Metrics.DailyBreachEquity != 9500 {
		t.Errorf("日突破阈值错误: 期望 9500, 得到 %v", res.Metrics.DailyBreachEquity)
	}
	if res.Metrics.DailyUsagePercent != 80 {
		t.Errorf("日使用率错误: 期望 80, 得到 %v", res.Metrics.DailyUsagePercent)
	}

	latest, err := db.GetLatestMetrics(ctx, account.ID)
	if err != nil {
		t.Fatalf("读取快照失败: %v", err)
	}
	if latest.CurrentEquity != 9600 || latest.Source != SourcePoll {
		t.Errorf("快照内容错误: %+v", latest)
	}

	// 固定限额不写峰值
	if _, err := db.GetPeak(ctx, account.ID, database.PeakDaily, latest.ComputedAt.Format("2006-01-02")); !errors.Is(err, database.ErrNotFound) {
		t.Errorf("固定限额不应写入日峰值: %v", err)
	}
}

func TestComputeAndStoreFloatingMaxTracksPeak(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	account := seedAccount(t, db,
		&database.Plan{Name: "floating", DailyLimitPercent: 50, MaxLimitPercent: 10, MaxLimitIsFloating: true},
		&database.Account{StartingEquity: 10000, DailyStartEquity: 10000},
	)
	w := NewWriter(db)
	at := time.Date(2025, 6, 10, 8, 0, 0, 0, time.UTC)

	if _, err := w.ComputeAndStore(ctx, account.ID, Observation{Equity: 12000, Source: SourcePoll, At: at}); err != nil {
		t.Fatalf("计算失败: %v", err)
	}
	peak, err := db.GetPeak(ctx, account.ID, database.PeakAllTime, "")
	if err != nil {
		t.Fatalf("历史峰值应已写入: %v", err)
	}
	if peak.Equity != 12000 {
		t.Errorf("历史峰值错误: 期望 12000, 得到 %v", peak.Equity)
	}

	res, err := w.ComputeAndStore(ctx, account.ID, Observation{Equity: 10700, Source: SourceLive, At: at.Add(time.Minute)})
	if err != nil {
		t.Fatalf("计算失败: %v", err)
	}
	if res.Metrics.MaxBreachEquity != 10800 {
		t.Errorf("总突破阈值错误: 期望 10800, 得到 %v", res.Metrics.MaxBreachEquity)
	}
	if res.Metrics.CheckViolation(10700) != drawdown.ViolationMax {
		t.Error("10700 ≤ 10800 应判定为总回撤突破")
	}

	peak, _ = db.GetPeak(ctx, account.ID, database.PeakAllTime, "")
	if peak.Equity != 12000 {
		t.Errorf("权益回落后峰值不应下降: %v", peak.Equity)
	}
}

func TestDailyStartEquityFallbackChain(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	account := seedAccount(t, db,
		&database.Plan{Name: "fixed", DailyLimitPercent: 5, MaxLimitPercent: 10},
		&database.Account{StartingEquity: 10000},
	)
	w := NewWriter(db)
	at := time.Date(2025, 6, 10, 8, 0, 0, 0, time.UTC)

	res, err := w.ComputeAndStore(ctx, account.ID, Observation{Equity: 10000, At: at})
	if err != nil {
		t.Fatalf("计算失败: %v", err)
	}
	if res.Snapshot.DailyStartEquity != 10000 {
		t.Errorf("无快照时应回退到初始权益: %v", res.Snapshot.DailyStartEquity)
	}

	db.SaveDailySnapshot(ctx, &database.AccountSnapshot{AccountID: account.ID, SnapshotDate: "2025-06-08", Equity: 9000, SnapshotTime: at})
	res, _ = w.ComputeAndStore(ctx, account.ID, Observation{Equity: 10000, At: at})
	if res.Snapshot.DailyStartEquity != 9000 {
		t.Errorf("应使用最近的历史快照: %v", res.Snapshot.DailyStartEquity)
	}

	db.SaveDailySnapshot(ctx, &database.AccountSnapshot{AccountID: account.ID, SnapshotDate: "2025-06-10", Equity: 9200, SnapshotTime: at})
	res, _ = w.ComputeAndStore(ctx, account.ID, Observation{Equity: 10000, At: at})
	if res.Snapshot.DailyStartEquity != 9200 {
		t.Errorf("应使用当日快照: %v", res.Snapshot.DailyStartEquity)
	}

	db.ApplyDailyReset(ctx, account.ID, &database.DailyReset{DailyStartEquity: 9900, ResetAt: at})
	res, _ = w.ComputeAndStore(ctx, account.ID, Observation{Equity: 10000, At: at})
	if res.Snapshot.DailyStartEquity != 9900 {
		t.Errorf("日重置写入的值优先: %v", res.Snapshot.DailyStartEquity)
	}
}

func TestComputeAndStoreSkipsFailedAccount(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	account := seedAccount(t, db,
		&database.Plan{Name: "fixed", DailyLimitPercent: 5, MaxLimitPercent: 10},
		&database.Account{StartingEquity: 10000},
	)
	if _, err := db.MarkFailed(ctx, account.ID, "test", time.Now()); err != nil {
		t.Fatalf("标记失败出错: %v", err)
	}

	_, err := NewWriter(db).ComputeAndStore(ctx, account.ID, Observation{Equity: 9000})
	if !errors.Is(err, ErrAccountFailed) {
		t.Errorf("期望 ErrAccountFailed, 得到 %v", err)
	}
}

func TestComputeAndStoreStatsAndInitialBalance(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	account := seedAccount(t, db,
		&database.Plan{Name: "fixed", DailyLimitPercent: 5, MaxLimitPercent: 10},
		&database.Account{StartingEquity: 10000},
	)

	open := time.Date(2025, 6, 2, 8, 0, 0, 0, time.UTC)
	closed := open.Add(time.Hour)
	orders := func() []*database.Order {
		return []*database.Order{
			{AccountID: account.ID, OrderID: 1, Type: "Balance", Profit: 10000, TimeOpen: open, Comment: "Demo deposit", IsDemoDeposit: true},
			{AccountID: account.ID, OrderID: 2, Type: "buy", Profit: 100, Volume: 1, TimeOpen: open, TimeClose: &closed},
			{AccountID: account.ID, OrderID: 3, Type: "sell", Profit: -50, Volume: 0.5, TimeOpen: open, TimeClose: &closed},
			{AccountID: account.ID, OrderID: 4, Type: "buy", Profit: 20, Volume: 1, TimeOpen: open},
		}
	}
	if err := db.UpsertOrders(ctx, orders()); err != nil {
		t.Fatalf("写入订单失败: %v", err)
	}
	// 重复拉取不影响统计
	if err := db.UpsertOrders(ctx, orders()); err != nil {
		t.Fatalf("重复写入订单失败: %v", err)
	}

	res, err := NewWriter(db).ComputeAndStore(ctx, account.ID, Observation{Equity: 10050, Balance: 10050})
	if err != nil {
		t.Fatalf("计算失败: %v", err)
	}
	s := res.Snapshot
	if s.TradesCount != 2 {
		t.Errorf("只统计已平仓买卖单: 期望 2, 得到 %d", s.TradesCount)
	}
	if s.InitialBalance != 10000 {
		t.Errorf("初始余额错误: %v", s.InitialBalance)
	}
	if s.BalanceChangePercent != 0.5 {
		t.Errorf("余额变化百分比错误: %v", s.BalanceChangePercent)
	}
	if s.ProfitFactor == nil || *s.ProfitFactor != 2 {
		t.Errorf("盈利因子错误: %v", s.ProfitFactor)
	}
}

func TestFloatingDailyPeakBeforeResetStaysInPreviousDay(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	account := seedAccount(t, db,
		&database.Plan{Name: "floating-daily", DailyLimitPercent: 5, MaxLimitPercent: 10, DailyLimitIsFloating: true},
		&database.Account{StartingEquity: 10000, DailyStartEquity: 10000},
	)
	w := NewWriter(db)

	// 00:30 德黑兰，仍属于上一交易日
	beforeReset := time.Date(2025, 6, 1, 21, 0, 0, 0, time.UTC)
	if _, err := w.ComputeAndStore(ctx, account.ID, Observation{Equity: 11000, Source: SourceLive, At: beforeReset}); err != nil {
		t.Fatalf("计算失败: %v", err)
	}

	// 01:30 日重置
	resetAt := time.Date(2025, 6, 1, 22, 0, 0, 0, time.UTC)
	if _, err := db.ApplyDailyReset(ctx, account.ID, &database.DailyReset{
		DailyStartEquity:  10500,
		DailyLimitAmount:  525,
		DailyBreachEquity: 9975,
		ResetAt:           resetAt,
	}); err != nil {
		t.Fatalf("日重置失败: %v", err)
	}

	// 02:00 德黑兰
	res, err := w.ComputeAndStore(ctx, account.ID, Observation{Equity: 10440, Source: SourcePoll, At: resetAt.Add(30 * time.Minute)})
	if err != nil {
		t.Fatalf("计算失败: %v", err)
	}
	if res.Metrics.BaselineDailyEquity != 10500 {
		t.Errorf("重置后日基线应为新的日初权益 10500, 得到 %.2f", res.Metrics.BaselineDailyEquity)
	}
	if res.Metrics.DailyBreachEquity != 9975 {
		t.Errorf("日突破阈值应为 9975, 得到 %.2f", res.Metrics.DailyBreachEquity)
	}
	if v := res.Metrics.CheckViolation(10440); v != drawdown.ViolationNone {
		t.Errorf("新交易日内权益 10440 不应突破, 得到 %s", v)
	}

	prev, err := db.GetPeak(ctx, account.ID, database.PeakDaily, "2025-06-01")
	if err != nil || prev.Equity != 11000 {
		t.Errorf("00:30 的峰值应记在上一交易日: %+v (%v)", prev, err)
	}
	t.Log("✅ 日峰值交易日边界测试通过")
}
