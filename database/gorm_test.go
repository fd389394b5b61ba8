package database

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"fundguard/drawdown"
)

func newTestDB(t *testing.T) *GormDatabase {
	t.Helper()
	db, err := NewGormDatabase(&DBConfig{
		Type:         "sqlite",
		DSN:          filepath.Join(t.TempDir(), "test.db"),
		MaxOpenConns: 1,
	})
	if err != nil {
		t.Fatalf("创建测试数据库失败: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func createTestAccount(t *testing.T, db *GormDatabase) *Account {
	t.Helper()
	ctx := context.Background()

	plan := &Plan{Name: "test", DailyLimitPercent: 5, MaxLimitPercent: 10}
	if err := db.CreatePlan(ctx, plan); err != nil {
		t.Fatalf("创建计划失败: %v", err)
	}
	account := &Account{Login: "1001", Server: "Demo-Server", PlanID: plan.ID, StartingEquity: 10000}
	if err := db.CreateAccount(ctx, account); err != nil {
		t.Fatalf("创建账户失败: %v", err)
	}
	return account
}

func permutations(values []float64) [][]float64 {
	if len(values) <= 1 {
		return [][]float64{append([]float64(nil), values...)}
	}
	var result [][]float64
	for i := range values {
		rest := make([]float64, 0, len(values)-1)
		rest = append(rest, values[:i]...)
		rest = append(rest, values[i+1:]...)
		for _, p := range permutations(rest) {
			result = append(result, append([]float64{values[i]}, p...))
		}
	}
	return result
}

func TestUpdatePeakAnyOrderKeepsMax(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	for i, order := range permutations([]float64{5, 3, 9, 7}) {
		accountID := int64(1000 + i)
		for _, v := range order {
			if err := db.UpdatePeak(ctx, accountID, PeakAllTime, "", v, now); err != nil {
				t.Fatalf("更新峰值失败: %v", err)
			}
		}
		peak, err := db.GetPeak(ctx, accountID, PeakAllTime, "")
		if err != nil {
			t.Fatalf("读取峰值失败: %v", err)
		}
		if peak.Equity != 9 {
			t.Errorf("顺序 %v: 期望峰值 9, 得到 %.0f", order, peak.Equity)
		}
	}
}

func TestUpdatePeakConcurrent(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	var wg sync.WaitGroup
	for round := 0; round < 5; round++ {
		for _, v := range []float64{5, 3, 9, 7} {
			wg.Add(1)
			go func(v float64) {
				defer wg.Done()
				if err := db.UpdatePeak(ctx, 1, PeakDaily, "2025-06-01", v, now); err != nil {
					t.Errorf("并发更新峰值失败: %v", err)
				}
			}(v)
		}
	}
	wg.Wait()

	peak, err := db.GetPeak(ctx, 1, PeakDaily, "2025-06-01")
	if err != nil {
		t.Fatalf("读取峰值失败: %v", err)
	}
	if peak.Equity != 9 {
		t.Errorf("并发写入后期望峰值 9, 得到 %.0f", peak.Equity)
	}
}

func TestUpdatePeakRecordedAtOnlyOnIncrease(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	t1 := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Minute)
	t3 := t2.Add(time.Minute)

	db.UpdatePeak(ctx, 1, PeakAllTime, "", 100, t1)
	db.UpdatePeak(ctx, 1, PeakAllTime, "", 80, t2)

	peak, _ := db.GetPeak(ctx, 1, PeakAllTime, "")
	if !peak.RecordedAt.Equal(t1) {
		t.Errorf("峰值未提高时 recorded_at 不应变化, 期望 %v 得到 %v", t1, peak.RecordedAt)
	}

	db.UpdatePeak(ctx, 1, PeakAllTime, "", 120, t3)
	peak, _ = db.GetPeak(ctx, 1, PeakAllTime, "")
	if peak.Equity != 120 || !peak.RecordedAt.Equal(t3) {
		t.Errorf("峰值提高后应为 120@%v, 得到 %.0f@%v", t3, peak.Equity, peak.RecordedAt)
	}
}

func TestDailyPeakScopedByTradingDate(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	db.UpdatePeak(ctx, 1, PeakDaily, "2025-06-01", 11000, now)
	db.UpdatePeak(ctx, 1, PeakDaily, "2025-06-02", 10200, now)
	// 历史峰值忽略交易日
	db.UpdatePeak(ctx, 1, PeakAllTime, "2025-06-01", 11000, now)
	db.UpdatePeak(ctx, 1, PeakAllTime, "2025-06-02", 10500, now)

	day1, _ := db.GetPeak(ctx, 1, PeakDaily, "2025-06-01")
	day2, _ := db.GetPeak(ctx, 1, PeakDaily, "2025-06-02")
	if day1.Equity != 11000 || day2.Equity != 10200 {
		t.Errorf("日峰值应按交易日分区: %.0f / %.0f", day1.Equity, day2.Equity)
	}

	allTime, err := db.GetPeak(ctx, 1, PeakAllTime, "")
	if err != nil {
		t.Fatalf("读取历史峰值失败: %v", err)
	}
	if allTime.Equity != 11000 {
		t.Errorf("历史峰值期望 11000, 得到 %.0f", allTime.Equity)
	}

	if _, err := db.GetPeak(ctx, 1, PeakDaily, "2025-06-03"); !errors.Is(err, ErrNotFound) {
		t.Errorf("不存在的峰值应返回 ErrNotFound, 得到 %v", err)
	}
}

func TestMarkFailedFirstWriterWins(t *testing.T) {
	db := newTestDB(t)
	account := createTestAccount(t, db)
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []string
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			reason := fmt.Sprintf("reason-%d", i)
			ok, err := db.MarkFailed(ctx, account.ID, reason, time.Now().UTC())
			if err != nil {
				t.Errorf("标记失败出错: %v", err)
				return
			}
			if ok {
				mu.Lock()
				winners = append(winners, reason)
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	if len(winners) != 1 {
		t.Fatalf("应只有一个写入者生效, 得到 %d", len(winners))
	}

	stored, _ := db.GetAccount(ctx, account.ID)
	if !stored.IsFailed || stored.FailureReason != winners[0] {
		t.Errorf("失败原因应为 %s, 得到 %s", winners[0], stored.FailureReason)
	}

	ok, _ := db.MarkFailed(ctx, account.ID, "late", time.Now().UTC())
	if ok {
		t.Error("已失败账户不应再次被标记")
	}
}

func TestStateWritesIgnoredAfterFailure(t *testing.T) {
	db := newTestDB(t)
	account := createTestAccount(t, db)
	ctx := context.Background()

	ok, err := db.SetMonitoringState(ctx, account.ID, drawdown.StateNormal, drawdown.StateLive)
	if err != nil || !ok {
		t.Fatalf("normal -> live 应成功: %v", err)
	}
	ok, _ = db.SetMonitoringState(ctx, account.ID, drawdown.StateNormal, drawdown.StateLive)
	if ok {
		t.Error("当前状态不匹配时不应更新")
	}

	db.MarkFailed(ctx, account.ID, "daily", time.Now().UTC())

	stored, _ := db.GetAccount(ctx, account.ID)
	if stored.MonitoringState != drawdown.StateNormal {
		t.Errorf("失败时监控状态应复位为 normal, 得到 %s", stored.MonitoringState)
	}

	ok, _ = db.SetMonitoringState(ctx, account.ID, drawdown.StateNormal, drawdown.StateLive)
	if ok {
		t.Error("失败账户不应再切换监控状态")
	}
	ok, _ = db.ApplyDailyReset(ctx, account.ID, &DailyReset{DailyStartEquity: 1})
	if ok {
		t.Error("失败账户不应执行日重置")
	}
}

func TestAccountLoginServerUnique(t *testing.T) {
	db := newTestDB(t)
	account := createTestAccount(t, db)

	dup := &Account{Login: account.Login, Server: account.Server, PlanID: account.PlanID}
	if err := db.CreateAccount(context.Background(), dup); err == nil {
		t.Error("重复的 (login, server) 应报错")
	}
}

func TestSaveSessionCapturesStartingEquityOnce(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	plan := &Plan{Name: "p", DailyLimitPercent: 5, MaxLimitPercent: 10}
	db.CreatePlan(ctx, plan)
	account := &Account{Login: "2002", Server: "srv", PlanID: plan.ID}
	db.CreateAccount(ctx, account)

	now := time.Now().UTC()
	db.SaveSession(ctx, account.ID, &SessionUpdate{SessionID: "s1", ExpiresAt: now.Add(time.Hour), ValidatedAt: now, StartingEquity: 5000})
	db.SaveSession(ctx, account.ID, &SessionUpdate{SessionID: "s2", ExpiresAt: now.Add(time.Hour), ValidatedAt: now, StartingEquity: 7000})

	stored, _ := db.GetAccount(ctx, account.ID)
	if stored.StartingEquity != 5000 {
		t.Errorf("初始权益只在首次连接时记录, 期望 5000 得到 %.0f", stored.StartingEquity)
	}
	if stored.SessionID != "s2" || stored.ConnectionState != ConnectionConnected {
		t.Errorf("会话应更新为 s2/connected, 得到 %s/%s", stored.SessionID, stored.ConnectionState)
	}

	db.MarkConnectionError(ctx, account.ID)
	stored, _ = db.GetAccount(ctx, account.ID)
	if stored.ConnectionState != ConnectionError || stored.SessionID != "" || stored.IsFailed {
		t.Errorf("连接错误应清除会话且不标记失败: %+v", stored)
	}
}

func TestUpsertOrdersIdempotent(t *testing.T) {
	db := newTestDB(t)
	account := createTestAccount(t, db)
	ctx := context.Background()

	closeTime := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	order := func(profit float64) *Order {
		return &Order{
			AccountID: account.ID,
			OrderID:   555,
			Type:      "buy",
			Symbol:    "EURUSD",
			Volume:    1,
			Profit:    profit,
			TimeOpen:  closeTime.Add(-time.Hour),
			TimeClose: &closeTime,
		}
	}

	if err := db.UpsertOrders(ctx, []*Order{order(10)}); err != nil {
		t.Fatalf("写入订单失败: %v", err)
	}
	if err := db.UpsertOrders(ctx, []*Order{order(12)}); err != nil {
		t.Fatalf("重复写入订单失败: %v", err)
	}

	orders, err := db.ListOrders(ctx, &OrderFilter{AccountID: account.ID})
	if err != nil {
		t.Fatalf("查询订单失败: %v", err)
	}
	if len(orders) != 1 {
		t.Fatalf("重复订单不应产生多行, 得到 %d", len(orders))
	}
	if orders[0].Profit != 12 {
		t.Errorf("重复写入应合并为最新数据, 得到 %.0f", orders[0].Profit)
	}

	latest, _ := db.LatestOrderCloseTime(ctx, account.ID)
	if latest == nil || !latest.Equal(closeTime) {
		t.Errorf("最新平仓时间错误: %v", latest)
	}
}

func TestDemoDepositTotal(t *testing.T) {
	db := newTestDB(t)
	account := createTestAccount(t, db)
	ctx := context.Background()
	now := time.Now().UTC()

	db.UpsertOrders(ctx, []*Order{
		{AccountID: account.ID, OrderID: 1, Type: "Balance", Profit: 10000, IsDemoDeposit: true, TimeOpen: now, TimeClose: &now},
		{AccountID: account.ID, OrderID: 2, Type: "Balance", Profit: 5000, IsDemoDeposit: true, TimeOpen: now, TimeClose: &now},
		{AccountID: account.ID, OrderID: 3, Type: "Balance", Profit: -200, TimeOpen: now, TimeClose: &now},
		{AccountID: account.ID, OrderID: 4, Type: "buy", Profit: 50, TimeOpen: now, TimeClose: &now},
	})

	total, err := db.DemoDepositTotal(ctx, account.ID)
	if err != nil {
		t.Fatalf("计算初始余额失败: %v", err)
	}
	if total != 15000 {
		t.Errorf("初始余额期望 15000, 得到 %.0f", total)
	}

	trades, _ := db.ListOrders(ctx, &OrderFilter{AccountID: account.ID, Types: []string{"buy", "sell"}, ExcludeDeposits: true, ClosedOnly: true})
	if len(trades) != 1 {
		t.Errorf("应只有一笔交易, 得到 %d", len(trades))
	}
}

func TestDailySnapshotWrittenOnce(t *testing.T) {
	db := newTestDB(t)
	account := createTestAccount(t, db)
	ctx := context.Background()

	created, err := db.SaveDailySnapshot(ctx, &AccountSnapshot{AccountID: account.ID, SnapshotDate: "2025-06-02", Equity: 10100, Balance: 10000})
	if err != nil || !created {
		t.Fatalf("首次写入日快照应成功: %v", err)
	}
	created, err = db.SaveDailySnapshot(ctx, &AccountSnapshot{AccountID: account.ID, SnapshotDate: "2025-06-02", Equity: 9000, Balance: 9000})
	if err != nil {
		t.Fatalf("重复写入日快照出错: %v", err)
	}
	if created {
		t.Error("当日已存在快照时不应再写入")
	}

	snap, _ := db.GetDailySnapshot(ctx, account.ID, "2025-06-02")
	if snap.Equity != 10100 {
		t.Errorf("日快照不应被覆盖, 得到 %.0f", snap.Equity)
	}

	db.SaveDailySnapshot(ctx, &AccountSnapshot{AccountID: account.ID, SnapshotDate: "2025-05-30", Equity: 9900})
	before, err := db.GetLatestSnapshotBefore(ctx, account.ID, "2025-06-03")
	if err != nil || before.SnapshotDate != "2025-06-02" {
		t.Errorf("最近快照应为 2025-06-02, 得到 %+v (%v)", before, err)
	}
}

func TestGetLatestMetrics(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	if _, err := db.GetLatestMetrics(ctx, 1); !errors.Is(err, ErrNotFound) {
		t.Errorf("无快照时应返回 ErrNotFound, 得到 %v", err)
	}

	db.SaveMetrics(ctx, &MetricsSnapshot{AccountID: 1, ComputedAt: base, CurrentEquity: 100})
	db.SaveMetrics(ctx, &MetricsSnapshot{AccountID: 1, ComputedAt: base.Add(time.Minute), CurrentEquity: 200})
	db.SaveMetrics(ctx, &MetricsSnapshot{AccountID: 2, ComputedAt: base.Add(time.Hour), CurrentEquity: 300})

	latest, err := db.GetLatestMetrics(ctx, 1)
	if err != nil {
		t.Fatalf("读取最新快照失败: %v", err)
	}
	if latest.CurrentEquity != 200 {
		t.Errorf("最新快照权益期望 200, 得到 %.0f", latest.CurrentEquity)
	}
}
