package database

import (
	"context"
	"errors"
	"time"

	"fundguard/drawdown"
)

// ErrNotFound 记录不存在
var ErrNotFound = errors.New("record not found")

// Database 数据库接口
type Database interface {
	// 计划
	CreatePlan(ctx context.Context, plan *Plan) error
	GetPlan(ctx context.Context, id int64) (*Plan, error)

	// 账户
	CreateAccount(ctx context.Context, account *Account) error
	GetAccount(ctx context.Context, id int64) (*Account, error)
	GetAccountByLogin(ctx context.Context, login, server string) (*Account, error)
	ListAccounts(ctx context.Context, filter *AccountFilter) ([]*Account, error)

	// 会话与连接状态
	SaveSession(ctx context.Context, id int64, session *SessionUpdate) error
	TouchSession(ctx context.Context, id int64, at time.Time) error
	MarkConnectionError(ctx context.Context, id int64) error
	SetOrdersFetchedAt(ctx context.Context, id int64, at time.Time) error

	// 状态机（均以 is_failed = false 为条件，返回是否生效）
	MarkFailed(ctx context.Context, id int64, reason string, at time.Time) (bool, error)
	SetMonitoringState(ctx context.Context, id int64, from, to drawdown.MonitoringState) (bool, error)
	ApplyDailyReset(ctx context.Context, id int64, reset *DailyReset) (bool, error)

	// 权益峰值（原子取最大值）
	UpdatePeak(ctx context.Context, accountID int64, kind PeakKind, tradingDate string, equity float64, at time.Time) error
	GetPeak(ctx context.Context, accountID int64, kind PeakKind, tradingDate string) (*EquityPeak, error)

	// 指标快照
	SaveMetrics(ctx context.Context, snapshot *MetricsSnapshot) error
	GetLatestMetrics(ctx context.Context, accountID int64) (*MetricsSnapshot, error)

	// 订单
	UpsertOrders(ctx context.Context, orders []*Order) error
	ListOrders(ctx context.Context, filter *OrderFilter) ([]*Order, error)
	LatestOrderCloseTime(ctx context.Context, accountID int64) (*time.Time, error)
	DemoDepositTotal(ctx context.Context, accountID int64) (float64, error)

	// 日快照
	SaveDailySnapshot(ctx context.Context, snapshot *AccountSnapshot) (bool, error)
	GetDailySnapshot(ctx context.Context, accountID int64, date string) (*AccountSnapshot, error)
	GetLatestSnapshotBefore(ctx context.Context, accountID int64, date string) (*AccountSnapshot, error)

	// 健康检查
	Ping(ctx context.Context) error

	// 关闭连接
	Close() error
}

// SessionUpdate 新建券商会话后写入的字段
type SessionUpdate struct {
	SessionID      string
	ExpiresAt      time.Time
	ValidatedAt    time.Time
	StartingEquity float64 // 仅当账户尚未记录初始权益时写入
}

// DailyReset 日重置写入的基线字段
type DailyReset struct {
	DailyStartEquity  float64
	DailyLimitAmount  float64
	DailyBreachEquity float64
	ResetAt           time.Time
}

// 过滤器

// AccountFilter 账户过滤器
type AccountFilter struct {
	IncludeFailed    bool
	MonitoringState  drawdown.MonitoringState
	ConnectionStates []ConnectionState
	Limit            int
	Offset           int
}

// OrderFilter 订单过滤器
type OrderFilter struct {
	AccountID       int64
	Types           []string
	ClosedOnly      bool
	ExcludeDeposits bool
	StartTime       *time.Time
	EndTime         *time.Time
	Limit           int
	Offset          int
}
