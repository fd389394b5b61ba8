package worker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"fundguard/broker"
	"fundguard/database"
	"fundguard/event"
	"fundguard/lock"
	"fundguard/logger"
	"fundguard/metrics"
	"fundguard/utils"

	"github.com/robfig/cron/v3"
)

// startupCatchUp 距下一次重置超过该时长说明刚错过本日重置
const startupCatchUp = 23 * time.Hour

// ResetResult 一次日重置的统计
type ResetResult struct {
	Accounts int
	Updated  int
	Fallback int // 券商查询失败、沿用存储值的账户数
	Errors   int
	Skipped  bool
}

// DailyResetter 日重置调度器
type DailyResetter struct {
	db        database.Database
	client    broker.Client
	lock      lock.DistributedLock
	publisher event.Publisher
	pm        *metrics.PrometheusMetrics

	schedule cron.Schedule
	lockTTL  time.Duration
	timeout  time.Duration
	now      func() time.Time

	running atomic.Bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewDailyResetter 创建日重置调度器，重置时刻为交易时区的 hour:minute
func NewDailyResetter(db database.Database, client broker.Client, l lock.DistributedLock,
	publisher event.Publisher, hour, minute int, lockTTL time.Duration) (*DailyResetter, error) {
	schedule, err := cron.ParseStandard(fmt.Sprintf("%d %d * * *", minute, hour))
	if err != nil {
		return nil, fmt.Errorf("解析日重置时间 %02d:%02d 失败: %w", hour, minute, err)
	}
	if l == nil {
		l = lock.NewNopLock()
	}
	return &DailyResetter{
		db:        db,
		client:    client,
		lock:      l,
		publisher: publisher,
		pm:        metrics.GetPrometheusMetrics(),
		schedule:  schedule,
		lockTTL:   lockTTL,
		timeout:   30 * time.Second,
		now:       utils.NowUTC,
		stopCh:    make(chan struct{}),
	}, nil
}

// Next 下一次重置时刻（交易时区）
func (r *DailyResetter) Next(now time.Time) time.Time {
	return r.schedule.Next(utils.ToConfiguredTimezone(now))
}

// ShouldRunOnStartup 启动时若刚错过重置时刻则立即补做
func (r *DailyResetter) ShouldRunOnStartup(now time.Time) bool {
	return r.Next(now).Sub(now) > startupCatchUp
}

// Start 启动调度
func (r *DailyResetter) Start(ctx context.Context) {
	if !r.running.CompareAndSwap(false, true) {
		return
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		if r.ShouldRunOnStartup(r.now()) {
			logger.Info("🔄 已过今日重置时刻，立即执行日重置")
			r.runLogged(ctx)
		}

		for {
			next := r.Next(r.now())
			wait := time.Until(next)
			logger.Info("⏰ 下一次日重置: %s (%v 后)", next.Format("2006-01-02 15:04:05 MST"), wait.Round(time.Minute))

			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-r.stopCh:
				timer.Stop()
				return
			case <-timer.C:
				r.runLogged(ctx)
			}
		}
	}()
}

// Stop 停止调度
func (r *DailyResetter) Stop() {
	if !r.running.CompareAndSwap(true, false) {
		return
	}
	close(r.stopCh)
	r.wg.Wait()
	logger.Info("⏹️ 日重置调度器已停止")
}

func (r *DailyResetter) runLogged(ctx context.Context) {
	res, err := r.RunOnce(ctx)
	if err != nil {
		logger.Error("❌ 日重置失败: %v", err)
		return
	}
	if res.Skipped {
		return
	}
	logger.Info("✅ 日重置完成: %d 个账户，更新 %d，沿用存储值 %d，错误 %d",
		res.Accounts, res.Updated, res.Fallback, res.Errors)
}

// RunOnce 对所有已连接且未失败的账户刷新日起始余额与日限额
func (r *DailyResetter) RunOnce(ctx context.Context) (*ResetResult, error) {
	res := &ResetResult{}

	ran, err := lock.RunExclusive(ctx, r.lock, lock.KeyDailyReset, r.lockTTL, func(ctx context.Context) error {
		accounts, err := r.db.ListAccounts(ctx, &database.AccountFilter{
			ConnectionStates: []database.ConnectionState{database.ConnectionConnected},
		})
		if err != nil {
			return fmt.Errorf("读取账户列表失败: %w", err)
		}
		res.Accounts = len(accounts)

		now := r.now()
		for _, account := range accounts {
			fallback, err := r.resetAccount(ctx, account, now)
			switch {
			case err != nil:
				res.Errors++
				r.pm.RecordDailyReset("error")
				logger.Error("❌ [账户 %d] 日重置失败: %v", account.ID, err)
			case fallback:
				res.Updated++
				res.Fallback++
				r.pm.RecordDailyReset("fallback")
			default:
				res.Updated++
				r.pm.RecordDailyReset("ok")
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !ran {
		logger.Info("ℹ️ 其他实例正在执行日重置，跳过")
		res.Skipped = true
		return res, nil
	}

	if r.publisher != nil {
		r.publisher.Publish(&event.Event{
			Type:      event.EventTypeDailyResetDone,
			Timestamp: utils.NowUTC(),
			Data: map[string]interface{}{
				"accounts": res.Accounts,
				"updated":  res.Updated,
				"fallback": res.Fallback,
				"errors":   res.Errors,
			},
		})
	}
	return res, nil
}

// resetAccount 返回是否沿用了存储的余额
func (r *DailyResetter) resetAccount(ctx context.Context, account *database.Account, now time.Time) (bool, error) {
	plan, err := r.db.GetPlan(ctx, account.PlanID)
	if err != nil {
		return false, fmt.Errorf("读取计划失败: %w", err)
	}

	summary, fallback := r.currentSummary(ctx, account)
	balance := summary.Balance
	if balance <= 0 {
		return false, fmt.Errorf("无可用余额")
	}

	limit := balance * plan.DailyLimitPercent / 100
	applied, err := r.db.ApplyDailyReset(ctx, account.ID, &database.DailyReset{
		DailyStartEquity:  balance,
		DailyLimitAmount:  limit,
		DailyBreachEquity: balance - limit,
		ResetAt:           now,
	})
	if err != nil {
		return false, fmt.Errorf("写入日重置失败: %w", err)
	}
	if !applied {
		logger.Debug("[账户 %d] 已失败，跳过日重置", account.ID)
		return fallback, nil
	}

	logger.Info("🔄 [账户 %d] 日起始余额 %.2f，日限额 %.2f，突破阈值 %.2f",
		account.ID, balance, limit, balance-limit)

	// 沿用存储值时没有新的券商读数，不写快照
	if !fallback {
		if _, err := r.db.SaveDailySnapshot(ctx, &database.AccountSnapshot{
			AccountID:    account.ID,
			SnapshotDate: utils.TradingDate(now),
			Equity:       summary.Equity,
			Balance:      summary.Balance,
			SnapshotTime: now,
		}); err != nil {
			logger.Warn("⚠️ [账户 %d] 写入日快照失败: %v", account.ID, err)
		}
	}
	return fallback, nil
}

// currentSummary 查询券商余额，失败时沿用存储的日初权益
func (r *DailyResetter) currentSummary(ctx context.Context, account *database.Account) (*broker.AccountSummary, bool) {
	stored := account.DailyStartEquity
	if stored <= 0 {
		stored = account.StartingEquity
	}

	if account.SessionID == "" {
		return &broker.AccountSummary{Balance: stored, Equity: stored}, true
	}

	reqCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	summary, err := r.client.AccountSummary(reqCtx, account.SessionID)
	if err != nil {
		logger.Warn("⚠️ [账户 %d] 获取余额失败，沿用存储值 %.2f: %v", account.ID, stored, err)
		return &broker.AccountSummary{Balance: stored, Equity: stored}, true
	}
	return summary, false
}
