// Package worker 后台任务：轮询、实时监控与日重置。
package worker

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"fundguard/broker"
	"fundguard/config"
	"fundguard/database"
	"fundguard/engine"
	"fundguard/event"
	"fundguard/lock"
	"fundguard/logger"
	"fundguard/metrics"
	"fundguard/snapshot"
	"fundguard/utils"

	"golang.org/x/sync/errgroup"
)

// Decrypter 解密存储的投资者密码
type Decrypter interface {
	Decrypt(ciphertext string) (string, error)
}

// PollConfig 轮询参数
type PollConfig struct {
	Interval          time.Duration
	Concurrency       int
	ConnectRetries    int
	ConnectRetryDelay time.Duration
	SessionTTL        time.Duration
	SessionRevalidate time.Duration
	HistoryStart      time.Time
	ResetHour         int
	ResetMinute       int
	ResetWindow       time.Duration
	LockTTL           time.Duration
}

// NewPollConfig 从全局配置构建轮询参数
func NewPollConfig(cfg *config.Config) (PollConfig, error) {
	loc, err := time.LoadLocation(cfg.Broker.HistoryTimezone)
	if err != nil {
		return PollConfig{}, fmt.Errorf("加载券商时区 %s 失败: %w", cfg.Broker.HistoryTimezone, err)
	}
	start, err := time.ParseInLocation("2006-01-02", cfg.Broker.HistoryStart, loc)
	if err != nil {
		return PollConfig{}, fmt.Errorf("解析 broker.history_start 失败: %w", err)
	}

	return PollConfig{
		Interval:          cfg.PollInterval(),
		Concurrency:       cfg.Poll.Concurrency,
		ConnectRetries:    cfg.Poll.ConnectRetries,
		ConnectRetryDelay: time.Duration(cfg.Poll.ConnectRetryDelay) * time.Millisecond,
		SessionTTL:        time.Duration(cfg.Broker.SessionTTL) * time.Minute,
		SessionRevalidate: time.Duration(cfg.Broker.SessionRevalidate) * time.Minute,
		HistoryStart:      start.UTC(),
		ResetHour:         cfg.DailyReset.Hour,
		ResetMinute:       cfg.DailyReset.Minute,
		ResetWindow:       time.Duration(cfg.DailyReset.WindowMinutes) * time.Minute,
		LockTTL:           lock.TTL(cfg),
	}, nil
}

// CycleResult 一次轮询周期的统计
type CycleResult struct {
	Accounts int
	Errors   int
	Failed   int
	Skipped  bool // 其他实例或上一周期仍在执行
	Duration time.Duration
}

// Poller 轮询工作器
type Poller struct {
	cfg       PollConfig
	db        database.Database
	client    broker.Client
	cipher    Decrypter
	engine    *engine.Engine
	lock      lock.DistributedLock
	publisher event.Publisher
	pm        *metrics.PrometheusMetrics

	cycleMu sync.Mutex
	now     func() time.Time

	running atomic.Bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewPoller 创建轮询工作器
func NewPoller(cfg PollConfig, db database.Database, client broker.Client, cipher Decrypter,
	eng *engine.Engine, l lock.DistributedLock, publisher event.Publisher) *Poller {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 5
	}
	if cfg.ConnectRetries <= 0 {
		cfg.ConnectRetries = 3
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 24 * time.Hour
	}
	if cfg.SessionRevalidate <= 0 {
		cfg.SessionRevalidate = time.Hour
	}
	if l == nil {
		l = lock.NewNopLock()
	}
	return &Poller{
		cfg:       cfg,
		db:        db,
		client:    client,
		cipher:    cipher,
		engine:    eng,
		lock:      l,
		publisher: publisher,
		pm:        metrics.GetPrometheusMetrics(),
		now:       utils.NowUTC,
		stopCh:    make(chan struct{}),
	}
}

// Start 立即执行一次，然后按间隔轮询
func (p *Poller) Start(ctx context.Context) {
	if !p.running.CompareAndSwap(false, true) {
		return
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		ticker := time.NewTicker(p.cfg.Interval)
		defer ticker.Stop()

		logger.Info("✅ 轮询工作器已启动，间隔 %v，并发 %d", p.cfg.Interval, p.cfg.Concurrency)
		p.runLogged(ctx)

		for {
			select {
			case <-ctx.Done():
				return
			case <-p.stopCh:
				return
			case <-ticker.C:
				p.runLogged(ctx)
			}
		}
	}()
}

// Stop 停止轮询并等待当前周期结束
func (p *Poller) Stop() {
	if !p.running.CompareAndSwap(true, false) {
		return
	}
	close(p.stopCh)
	p.wg.Wait()
	logger.Info("⏹️ 轮询工作器已停止")
}

func (p *Poller) runLogged(ctx context.Context) {
	res, err := p.RunCycle(ctx)
	if err != nil {
		logger.Error("❌ 轮询周期失败: %v", err)
		return
	}
	if res.Skipped {
		return
	}
	logger.Info("🔄 轮询周期完成: %d 个账户，%d 个错误，%d 个失败，耗时 %v",
		res.Accounts, res.Errors, res.Failed, res.Duration.Round(time.Millisecond))
}

// RunCycle 处理所有未失败账户，单个账户出错不影响其他账户
func (p *Poller) RunCycle(ctx context.Context) (*CycleResult, error) {
	res := &CycleResult{}

	if !p.cycleMu.TryLock() {
		logger.Warn("⚠️ 上一轮询周期尚未结束，跳过")
		res.Skipped = true
		return res, nil
	}
	defer p.cycleMu.Unlock()

	start := time.Now()
	ran, err := lock.RunExclusive(ctx, p.lock, lock.KeyPollCycle, p.cfg.LockTTL, func(ctx context.Context) error {
		accounts, err := p.db.ListAccounts(ctx, &database.AccountFilter{})
		if err != nil {
			return fmt.Errorf("读取账户列表失败: %w", err)
		}
		res.Accounts = len(accounts)

		var errCount, failCount atomic.Int32
		var g errgroup.Group
		g.SetLimit(p.cfg.Concurrency)

		for _, account := range accounts {
			account := account
			g.Go(func() error {
				failed, err := p.PollAccount(ctx, account)
				if err != nil {
					errCount.Add(1)
					logger.Error("❌ [账户 %d] 轮询失败: %v", account.ID, err)
				}
				if failed {
					failCount.Add(1)
				}
				return nil
			})
		}
		g.Wait()

		res.Errors = int(errCount.Load())
		res.Failed = int(failCount.Load())
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !ran {
		logger.Info("ℹ️ 其他实例正在执行轮询，跳过本周期")
		res.Skipped = true
		return res, nil
	}

	res.Duration = time.Since(start)
	p.pm.RecordPollCycle(res.Duration)
	return res, nil
}

// PollAccount 单个账户的轮询流程，返回本次是否使账户失败
func (p *Poller) PollAccount(ctx context.Context, account *database.Account) (bool, error) {
	now := p.now()

	sessionID, summary, err := p.ensureSession(ctx, account, now)
	if err != nil {
		return false, err
	}

	if err := p.db.TouchSession(ctx, account.ID, now); err != nil {
		p.pm.RecordPollError("store")
		return false, fmt.Errorf("更新会话时间失败: %w", err)
	}

	if err := p.syncOrders(ctx, account, sessionID, now); err != nil {
		return false, err
	}

	if utils.InResetWindow(now, p.cfg.ResetHour, p.cfg.ResetMinute, p.cfg.ResetWindow) {
		created, err := p.db.SaveDailySnapshot(ctx, &database.AccountSnapshot{
			AccountID:    account.ID,
			SnapshotDate: utils.TradingDate(now),
			Equity:       summary.Equity,
			Balance:      summary.Balance,
			SnapshotTime: now,
		})
		if err != nil {
			p.pm.RecordPollError("snapshot")
			return false, fmt.Errorf("写入日快照失败: %w", err)
		}
		if created {
			logger.Info("📸 [账户 %d] 已记录 %s 日快照，权益 %.2f", account.ID, utils.TradingDate(now), summary.Equity)
		}
	}

	out, err := p.engine.Observe(ctx, account.ID, snapshot.Observation{
		Equity:  summary.Equity,
		Balance: summary.Balance,
		Source:  snapshot.SourcePoll,
		At:      now,
	})
	if err != nil {
		if engine.IsSkippable(err) {
			return false, nil
		}
		p.pm.RecordPollError("metrics")
		return false, fmt.Errorf("计算指标失败: %w", err)
	}
	return out.Failed, nil
}

// ensureSession 校验或重建券商会话并返回账户概况
// 会话过期错误触发一次重连，不做普通重试
func (p *Poller) ensureSession(ctx context.Context, account *database.Account, now time.Time) (string, *broker.AccountSummary, error) {
	sessionID := account.SessionID
	if broker.SessionValid(sessionID, account.SessionExpiresAt, account.SessionLastValidated, now, p.cfg.SessionRevalidate) {
		summary, err := p.summary(ctx, sessionID)
		if err == nil {
			return sessionID, summary, nil
		}
		if !broker.IsSessionExpired(err) {
			p.pm.RecordPollError("summary")
			return "", nil, fmt.Errorf("获取账户概况失败: %w", err)
		}
		logger.Warn("⚠️ [账户 %d] 会话已过期，重新连接", account.ID)
	}

	sessionID, err := p.connect(ctx, account)
	if err != nil {
		return "", nil, err
	}

	summary, err := p.summary(ctx, sessionID)
	if err != nil {
		p.pm.RecordPollError("summary")
		if broker.IsSessionExpired(err) {
			p.markConnectionError(ctx, account, err)
		}
		return "", nil, fmt.Errorf("获取账户概况失败: %w", err)
	}

	update := &database.SessionUpdate{
		SessionID:   sessionID,
		ExpiresAt:   now.Add(p.cfg.SessionTTL),
		ValidatedAt: now,
	}
	if account.StartingEquity == 0 && summary.Equity > 0 {
		update.StartingEquity = summary.Equity
	}
	if err := p.db.SaveSession(ctx, account.ID, update); err != nil {
		p.pm.RecordPollError("store")
		return "", nil, fmt.Errorf("保存会话失败: %w", err)
	}
	account.SessionID = sessionID

	return sessionID, summary, nil
}

func (p *Poller) connect(ctx context.Context, account *database.Account) (string, error) {
	password, err := p.cipher.Decrypt(account.InvestorPasswordEncrypted)
	if err != nil {
		p.pm.RecordPollError("decrypt")
		return "", fmt.Errorf("解密投资者密码失败: %w", err)
	}

	logger.Info("🔄 [账户 %d] 连接券商 (%s@%s)", account.ID, account.Login, account.Server)

	sessionID, err := broker.DoWithResult(ctx, func() (string, error) {
		return p.client.Connect(ctx, account.Login, password, account.Server)
	}, broker.RetryConfig{
		MaxRetries:   p.cfg.ConnectRetries,
		InitialDelay: p.cfg.ConnectRetryDelay,
		MaxDelay:     30 * time.Second,
		Multiplier:   2,
		OnRetry: func(attempt int, err error, delay time.Duration) {
			logger.Warn("⚠️ [账户 %d] 第 %d 次连接失败: %v，%v 后重试", account.ID, attempt, err, delay)
		},
	})
	if err != nil {
		p.pm.RecordPollError("connect")
		p.markConnectionError(ctx, account, err)
		return "", fmt.Errorf("连接券商失败: %w", err)
	}

	logger.Info("✅ [账户 %d] 已连接，会话 %s...", account.ID, shortID(sessionID))
	return sessionID, nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func (p *Poller) summary(ctx context.Context, sessionID string) (*broker.AccountSummary, error) {
	cfg := broker.DefaultRetryConfig()
	cfg.MaxRetries = 2
	return broker.DoWithResult(ctx, func() (*broker.AccountSummary, error) {
		return p.client.AccountSummary(ctx, sessionID)
	}, cfg)
}

func (p *Poller) markConnectionError(ctx context.Context, account *database.Account, cause error) {
	if err := p.db.MarkConnectionError(ctx, account.ID); err != nil {
		logger.Error("❌ [账户 %d] 标记连接错误失败: %v", account.ID, err)
	}
	if p.publisher == nil {
		return
	}
	p.publisher.Publish(&event.Event{
		Type:      event.EventTypeConnectionError,
		Timestamp: utils.NowUTC(),
		Data: map[string]interface{}{
			"account_id": account.ID,
			"login":      account.Login,
			"server":     account.Server,
			"error":      cause.Error(),
		},
	})
}

// fetchWindow 增量拉取的起点：最近平仓时间 + 1s，否则账户创建时间与历史起点中较晚者
func (p *Poller) fetchWindow(ctx context.Context, account *database.Account) (time.Time, error) {
	latest, err := p.db.LatestOrderCloseTime(ctx, account.ID)
	if err != nil {
		return time.Time{}, err
	}
	if latest != nil {
		return latest.Add(time.Second), nil
	}
	if account.CreatedAt.After(p.cfg.HistoryStart) {
		return account.CreatedAt, nil
	}
	return p.cfg.HistoryStart, nil
}

func (p *Poller) syncOrders(ctx context.Context, account *database.Account, sessionID string, now time.Time) error {
	from, err := p.fetchWindow(ctx, account)
	if err != nil {
		p.pm.RecordPollError("store")
		return fmt.Errorf("计算订单拉取起点失败: %w", err)
	}

	cfg := broker.DefaultRetryConfig()
	cfg.MaxRetries = 2
	orders, err := broker.DoWithResult(ctx, func() ([]*broker.Order, error) {
		return p.client.OrderHistory(ctx, sessionID, from, now)
	}, cfg)
	if err != nil {
		p.pm.RecordPollError("orders")
		if broker.IsSessionExpired(err) {
			p.markConnectionError(ctx, account, err)
		}
		return fmt.Errorf("拉取订单失败: %w", err)
	}

	if len(orders) > 0 {
		rows := make([]*database.Order, 0, len(orders))
		for _, o := range orders {
			rows = append(rows, ToStoredOrder(account, o))
		}
		if err := p.db.UpsertOrders(ctx, rows); err != nil {
			p.pm.RecordPollError("store")
			return fmt.Errorf("保存订单失败: %w", err)
		}
		logger.Debug("[账户 %d] 已处理 %d 条订单 (%s ~ %s)", account.ID, len(rows),
			from.Format(time.RFC3339), now.Format(time.RFC3339))
	}

	if err := p.db.SetOrdersFetchedAt(ctx, account.ID, now); err != nil {
		p.pm.RecordPollError("store")
		return fmt.Errorf("更新订单拉取时间失败: %w", err)
	}
	return nil
}

// IsDemoDeposit 演示入金：Balance 类型、正收益、备注含 "demo deposit"
func IsDemoDeposit(orderType string, profit float64, comment string) bool {
	return orderType == "Balance" && profit > 0 && strings.Contains(strings.ToLower(comment), "demo deposit")
}

// ToStoredOrder 券商订单转存储模型，买卖方向统一为小写
func ToStoredOrder(account *database.Account, o *broker.Order) *database.Order {
	typ := o.Type
	switch {
	case strings.EqualFold(typ, "buy"):
		typ = "buy"
	case strings.EqualFold(typ, "sell"):
		typ = "sell"
	}

	row := &database.Order{
		AccountID:     account.ID,
		OrderID:       o.OrderID,
		PlanID:        account.PlanID,
		Symbol:        o.Symbol,
		Type:          typ,
		Volume:        o.Volume,
		PriceOpen:     o.PriceOpen,
		Profit:        o.Profit,
		Swap:          o.Swap,
		Commission:    o.Commission,
		TimeOpen:      o.TimeOpen,
		TimeClose:     o.TimeClose,
		Comment:       o.Comment,
		IsDemoDeposit: IsDemoDeposit(o.Type, o.Profit, o.Comment),
		RawData:       string(o.Raw),
	}
	if o.PriceClose != nil {
		row.PriceClose = *o.PriceClose
	}
	return row
}
