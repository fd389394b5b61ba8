package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"fundguard/broker"
	"fundguard/database"
	"fundguard/drawdown"
	"fundguard/engine"
	"fundguard/livefeed"
	"fundguard/logger"
	"fundguard/snapshot"
)

// LiveFeed 实时推送订阅管理
type LiveFeed interface {
	Events() <-chan *livefeed.Event
	Subscribe(ctx context.Context, sub livefeed.Subscription) error
	Unsubscribe(ctx context.Context, accountID int64) error
	SubscribedIDs() []int64
}

// LiveMonitor 消费实时推送事件，走与轮询相同的评估路径
type LiveMonitor struct {
	feed           LiveFeed
	db             database.Database
	client         broker.Client
	engine         *engine.Engine
	resyncInterval time.Duration
	requestTimeout time.Duration

	running atomic.Bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewLiveMonitor 创建实时监控
func NewLiveMonitor(feed LiveFeed, db database.Database, client broker.Client, eng *engine.Engine, resyncInterval time.Duration) *LiveMonitor {
	if resyncInterval <= 0 {
		resyncInterval = time.Minute
	}
	return &LiveMonitor{
		feed:           feed,
		db:             db,
		client:         client,
		engine:         eng,
		resyncInterval: resyncInterval,
		requestTimeout: 30 * time.Second,
		stopCh:         make(chan struct{}),
	}
}

// Start 订阅已处于 live 的账户并开始消费事件
func (lm *LiveMonitor) Start(ctx context.Context) {
	if !lm.running.CompareAndSwap(false, true) {
		return
	}

	if err := lm.Resync(ctx); err != nil {
		logger.Warn("⚠️ 启动时同步实时订阅失败: %v", err)
	}

	lm.wg.Add(2)
	go lm.consume(ctx)
	go lm.resyncLoop(ctx)
	logger.Info("✅ 实时监控已启动，同步间隔 %v", lm.resyncInterval)
}

// Stop 停止实时监控
func (lm *LiveMonitor) Stop() {
	if !lm.running.CompareAndSwap(true, false) {
		return
	}
	close(lm.stopCh)
	lm.wg.Wait()
	logger.Info("⏹️ 实时监控已停止")
}

func (lm *LiveMonitor) consume(ctx context.Context) {
	defer lm.wg.Done()
	events := lm.feed.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case <-lm.stopCh:
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			lm.HandleEvent(ctx, evt)
		}
	}
}

func (lm *LiveMonitor) resyncLoop(ctx context.Context) {
	defer lm.wg.Done()
	ticker := time.NewTicker(lm.resyncInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-lm.stopCh:
			return
		case <-ticker.C:
			if err := lm.Resync(ctx); err != nil {
				logger.Warn("⚠️ 同步实时订阅失败: %v", err)
			}
		}
	}
}

// HandleEvent 处理一条已路由的推送事件
// 事件未携带净值时向券商查询最新概况
func (lm *LiveMonitor) HandleEvent(ctx context.Context, evt *livefeed.Event) {
	obs := snapshot.Observation{
		Source: snapshot.SourceLive,
		At:     evt.ReceivedAt,
	}

	if evt.Equity != nil {
		obs.Equity = *evt.Equity
		if evt.Balance != nil {
			obs.Balance = *evt.Balance
		}
	} else {
		summary, err := lm.fetchSummary(ctx, evt.AccountID)
		if err != nil {
			logger.Warn("⚠️ [账户 %d] %s 事件未携带净值，查询概况失败: %v", evt.AccountID, evt.Type, err)
			return
		}
		if summary == nil {
			return
		}
		obs.Equity = summary.Equity
		obs.Balance = summary.Balance
	}

	out, err := lm.engine.Observe(ctx, evt.AccountID, obs)
	if err != nil {
		if engine.IsSkippable(err) {
			// 失败后仍可能收到一条延迟事件
			logger.Debug("[账户 %d] 已失败，忽略实时事件", evt.AccountID)
			lm.feed.Unsubscribe(ctx, evt.AccountID)
			return
		}
		logger.Error("❌ [账户 %d] 处理实时事件失败: %v", evt.AccountID, err)
		return
	}
	if out.Failed {
		logger.Warn("⚠️ [账户 %d] 实时监控检测到突破", evt.AccountID)
	}
}

func (lm *LiveMonitor) fetchSummary(ctx context.Context, accountID int64) (*broker.AccountSummary, error) {
	account, err := lm.db.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if account.IsFailed || account.SessionID == "" {
		return nil, nil
	}

	reqCtx, cancel := context.WithTimeout(ctx, lm.requestTimeout)
	defer cancel()
	return lm.client.AccountSummary(reqCtx, account.SessionID)
}

// Resync 订阅存储中处于 live 但未登记的账户，移除已失败或回到 normal 的账户
func (lm *LiveMonitor) Resync(ctx context.Context) error {
	accounts, err := lm.db.ListAccounts(ctx, &database.AccountFilter{
		MonitoringState: drawdown.StateLive,
	})
	if err != nil {
		return err
	}

	wanted := make(map[int64]struct{}, len(accounts))
	subscribed := make(map[int64]struct{})
	for _, id := range lm.feed.SubscribedIDs() {
		subscribed[id] = struct{}{}
	}

	added := 0
	for _, account := range accounts {
		wanted[account.ID] = struct{}{}
		if _, ok := subscribed[account.ID]; ok {
			continue
		}
		if account.SessionID == "" {
			logger.Debug("[账户 %d] 无有效会话，等待轮询重连后再订阅", account.ID)
			continue
		}
		err := lm.feed.Subscribe(ctx, livefeed.Subscription{
			AccountID: account.ID,
			Login:     account.Login,
			Server:    account.Server,
			SessionID: account.SessionID,
		})
		if err != nil {
			logger.Warn("⚠️ [账户 %d] 恢复实时订阅失败: %v", account.ID, err)
			continue
		}
		added++
	}

	removed := 0
	for id := range subscribed {
		if _, ok := wanted[id]; ok {
			continue
		}
		lm.feed.Unsubscribe(ctx, id)
		removed++
	}

	if added > 0 || removed > 0 {
		logger.Info("🔄 实时订阅已同步：新增 %d，移除 %d", added, removed)
	}
	return nil
}
