// Package engine 规则引擎：轮询与实时推送共用同一条评估路径。
package engine

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"fundguard/database"
	"fundguard/drawdown"
	"fundguard/event"
	"fundguard/i18n"
	"fundguard/livefeed"
	"fundguard/logger"
	"fundguard/metrics"
	"fundguard/snapshot"
	"fundguard/utils"
)

// Subscriber 实时推送订阅接口
type Subscriber interface {
	Subscribe(ctx context.Context, sub livefeed.Subscription) error
	Unsubscribe(ctx context.Context, accountID int64) error
}

// Outcome 一次评估的结果
type Outcome struct {
	Result       *snapshot.Result
	Violation    drawdown.Violation
	Failed       bool // 本次评估使账户失败
	From         drawdown.MonitoringState
	To           drawdown.MonitoringState
	Transitioned bool
}

// Engine 规则引擎
type Engine struct {
	db        database.Database
	writer    *snapshot.Writer
	feed      Subscriber
	publisher event.Publisher
	pm        *metrics.PrometheusMetrics

	locksMu sync.Mutex
	locks   map[int64]*sync.Mutex
}

// NewEngine 创建规则引擎，feed 与 publisher 可为 nil
func NewEngine(db database.Database, feed Subscriber, publisher event.Publisher) *Engine {
	return &Engine{
		db:        db,
		writer:    snapshot.NewWriter(db),
		feed:      feed,
		publisher: publisher,
		pm:        metrics.GetPrometheusMetrics(),
		locks:     make(map[int64]*sync.Mutex),
	}
}

func (e *Engine) accountLock(id int64) *sync.Mutex {
	e.locksMu.Lock()
	defer e.locksMu.Unlock()
	mu, ok := e.locks[id]
	if !ok {
		mu = &sync.Mutex{}
		e.locks[id] = mu
	}
	return mu
}

// releaseLock 账户进入终态后移除其串行锁
func (e *Engine) releaseLock(id int64) {
	e.locksMu.Lock()
	delete(e.locks, id)
	e.locksMu.Unlock()
}

// Observe 写入快照并评估规则
// 同一账户的观测串行处理；已失败账户返回 snapshot.ErrAccountFailed
func (e *Engine) Observe(ctx context.Context, accountID int64, obs snapshot.Observation) (*Outcome, error) {
	mu := e.accountLock(accountID)
	mu.Lock()
	defer mu.Unlock()

	if obs.At.IsZero() {
		obs.At = utils.NowUTC()
	}

	res, err := e.writer.ComputeAndStore(ctx, accountID, obs)
	if err != nil {
		if errors.Is(err, snapshot.ErrAccountFailed) {
			e.releaseLock(accountID)
		}
		return nil, err
	}
	return e.Evaluate(ctx, res, obs.Equity, obs.At)
}

// Evaluate 按快照结果执行失败判定与监控状态迁移
func (e *Engine) Evaluate(ctx context.Context, res *snapshot.Result, equity float64, at time.Time) (*Outcome, error) {
	account := res.Account
	out := &Outcome{
		Result: res,
		From:   account.MonitoringState,
		To:     account.MonitoringState,
	}
	label := strconv.FormatInt(account.ID, 10)

	out.Violation = res.Metrics.CheckViolation(equity)
	if out.Violation != drawdown.ViolationNone {
		reason := FailureReason(out.Violation, at)
		applied, err := e.db.MarkFailed(ctx, account.ID, reason, at)
		if err != nil {
			return nil, fmt.Errorf("标记账户 %d 失败状态出错: %w", account.ID, err)
		}
		e.releaseLock(account.ID)
		if !applied {
			// 并发路径已先行标记
			logger.Debug("账户 %d 已被标记为失败，跳过", account.ID)
			return out, nil
		}

		out.Failed = true
		out.To = drawdown.StateNormal
		out.Transitioned = out.From != out.To

		e.unsubscribe(ctx, account.ID)
		e.pm.RecordAccountFailure(string(out.Violation))
		e.pm.DeleteUsage(label)

		logger.Error("🚨 账户 %d (%s@%s) 突破%s回撤限额，权益 %.2f：%s",
			account.ID, account.Login, account.Server, violationName(out.Violation), equity, reason)
		e.publish(event.EventTypeAccountFailed, account, map[string]interface{}{
			"reason":    reason,
			"violation": string(out.Violation),
			"equity":    equity,
		})
		return out, nil
	}

	e.pm.SetUsage(label, res.Metrics.DailyUsagePercent, res.Metrics.MaxUsagePercent)

	current := account.MonitoringState
	if current == "" {
		current = drawdown.StateNormal
	}
	next := drawdown.NextState(current, res.Metrics.DailyUsagePercent, res.Metrics.MaxUsagePercent)
	if next == current {
		return out, nil
	}

	applied, err := e.db.SetMonitoringState(ctx, account.ID, current, next)
	if err != nil {
		return nil, fmt.Errorf("更新账户 %d 监控状态出错: %w", account.ID, err)
	}
	if !applied {
		logger.Debug("账户 %d 监控状态已变化，跳过迁移 %s -> %s", account.ID, current, next)
		return out, nil
	}

	out.From = current
	out.To = next
	out.Transitioned = true
	e.pm.RecordMonitoringTransition(string(next))

	data := map[string]interface{}{
		"daily_usage": res.Metrics.DailyUsagePercent,
		"max_usage":   res.Metrics.MaxUsagePercent,
	}

	if next == drawdown.StateLive {
		logger.Warn("⚠️ 账户 %d 进入实时监控（日 %.2f%%，总 %.2f%%）",
			account.ID, res.Metrics.DailyUsagePercent, res.Metrics.MaxUsagePercent)
		e.subscribe(ctx, account)
		e.publish(event.EventTypeLiveEntered, account, data)
	} else {
		logger.Info("✅ 账户 %d 退出实时监控（日 %.2f%%，总 %.2f%%）",
			account.ID, res.Metrics.DailyUsagePercent, res.Metrics.MaxUsagePercent)
		e.unsubscribe(ctx, account.ID)
		e.publish(event.EventTypeLiveExited, account, data)
	}
	return out, nil
}

func (e *Engine) subscribe(ctx context.Context, account *database.Account) {
	if e.feed == nil {
		return
	}
	sub := livefeed.Subscription{
		AccountID: account.ID,
		Login:     account.Login,
		Server:    account.Server,
		SessionID: account.SessionID,
	}
	if err := e.feed.Subscribe(ctx, sub); err != nil {
		// 重新同步流程会再次尝试
		logger.Warn("⚠️ 账户 %d 订阅实时推送失败: %v", account.ID, err)
	}
}

func (e *Engine) unsubscribe(ctx context.Context, accountID int64) {
	if e.feed == nil {
		return
	}
	if err := e.feed.Unsubscribe(ctx, accountID); err != nil {
		logger.Warn("⚠️ 账户 %d 退订实时推送失败: %v", accountID, err)
	}
}

func (e *Engine) publish(t event.EventType, account *database.Account, data map[string]interface{}) {
	if e.publisher == nil {
		return
	}
	data["account_id"] = account.ID
	data["login"] = account.Login
	data["server"] = account.Server
	e.publisher.Publish(&event.Event{
		Type:      t,
		Timestamp: utils.NowUTC(),
		Data:      data,
	})
}

// FailureReason 生成失败原因文本，日期与时间按交易时区
func FailureReason(v drawdown.Violation, at time.Time) string {
	local := utils.ToConfiguredTimezone(at)
	data := map[string]interface{}{
		"Date": local.Format("2006-01-02"),
		"Time": local.Format("15:04:05"),
	}
	if v == drawdown.ViolationMax {
		return i18n.T("failure_reason_max", data)
	}
	return i18n.T("failure_reason_daily", data)
}

func violationName(v drawdown.Violation) string {
	if v == drawdown.ViolationMax {
		return "总"
	}
	return "日"
}

// IsSkippable 已失败账户的观测直接忽略
func IsSkippable(err error) bool {
	return errors.Is(err, snapshot.ErrAccountFailed)
}
