package database

import (
	"time"

	"fundguard/drawdown"
)

// ConnectionState 券商连接状态
type ConnectionState string

const (
	ConnectionConnected    ConnectionState = "connected"
	ConnectionDisconnected ConnectionState = "disconnected"
	ConnectionError        ConnectionState = "error"
)

// PeakKind 峰值类型
type PeakKind string

const (
	PeakDaily   PeakKind = "daily_peak"
	PeakAllTime PeakKind = "all_time_peak"
)

// Plan 考核计划
type Plan struct {
	ID                   int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Name                 string    `gorm:"size:100;not null" json:"name"`
	DailyLimitPercent    float64   `gorm:"not null" json:"daily_limit_percent"`
	MaxLimitPercent      float64   `gorm:"not null" json:"max_limit_percent"`
	DailyLimitIsFloating bool      `gorm:"not null;default:false" json:"daily_limit_is_floating"`
	MaxLimitIsFloating   bool      `gorm:"not null;default:false" json:"max_limit_is_floating"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// Limits 转换为回撤计算参数
func (p *Plan) Limits() drawdown.Limits {
	return drawdown.Limits{
		DailyLimitPercent:    p.DailyLimitPercent,
		MaxLimitPercent:      p.MaxLimitPercent,
		DailyLimitIsFloating: p.DailyLimitIsFloating,
		MaxLimitIsFloating:   p.MaxLimitIsFloating,
	}
}

// Account 被监控的资金账户，(login, server) 唯一
type Account struct {
	ID                        int64                    `gorm:"primaryKey;autoIncrement" json:"id"`
	Login                     string                   `gorm:"uniqueIndex:idx_login_server;size:64;not null" json:"login"`
	Server                    string                   `gorm:"uniqueIndex:idx_login_server;size:128;not null" json:"server"`
	PlanID                    int64                    `gorm:"index;not null" json:"plan_id"`
	InvestorPasswordEncrypted string                   `gorm:"size:512" json:"-"`
	StartingEquity            float64                  `gorm:"not null;default:0" json:"starting_equity"`
	DailyStartEquity          float64                  `gorm:"not null;default:0" json:"daily_start_equity"`
	DailyLimitAmount          float64                  `json:"daily_limit_amount"`
	DailyBreachEquity         float64                  `json:"daily_breach_equity"`
	DailyResetAt              *time.Time               `json:"daily_reset_at"`
	MonitoringState           drawdown.MonitoringState `gorm:"size:10;not null;default:normal;index" json:"monitoring_state"`
	IsFailed                  bool                     `gorm:"not null;default:false;index" json:"is_failed"`
	FailureReason             string                   `gorm:"size:500" json:"failure_reason"`
	FailedAt                  *time.Time               `json:"failed_at"`
	ConnectionState           ConnectionState          `gorm:"size:20;not null;default:disconnected" json:"connection_state"`
	SessionID                 string                   `gorm:"size:64" json:"-"`
	SessionExpiresAt          *time.Time               `json:"-"`
	SessionLastValidated      *time.Time               `json:"-"`
	LastSeen                  *time.Time               `json:"last_seen"`
	LastOrdersFetchedAt       *time.Time               `json:"last_orders_fetched_at"`
	CreatedAt                 time.Time                `json:"created_at"`
	UpdatedAt                 time.Time                `json:"updated_at"`
}

// EquityPeak 权益峰值
// 日峰值按 (账户, 交易日) 唯一；历史峰值的 TradingDate 为空串，按账户唯一
type EquityPeak struct {
	ID          int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	AccountID   int64     `gorm:"uniqueIndex:idx_peak_scope;not null" json:"account_id"`
	PeakKind    PeakKind  `gorm:"uniqueIndex:idx_peak_scope;size:20;not null" json:"peak_kind"`
	TradingDate string    `gorm:"uniqueIndex:idx_peak_scope;size:10;not null" json:"trading_date"`
	Equity      float64   `gorm:"not null" json:"equity"`
	RecordedAt  time.Time `gorm:"not null" json:"recorded_at"`
}

// MetricsSnapshot 指标快照，只追加不修改
type MetricsSnapshot struct {
	ID         int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	AccountID  int64     `gorm:"index:idx_metrics_account_time;not null" json:"account_id"`
	ComputedAt time.Time `gorm:"index:idx_metrics_account_time;not null" json:"computed_at"`
	Source     string    `gorm:"size:10" json:"source"` // poll, live

	InitialBalance       float64 `json:"initial_balance"`
	CurrentBalance       float64 `json:"current_balance"`
	CurrentEquity        float64 `json:"current_equity"`
	BalanceChangePercent float64 `json:"balance_change_percent"`

	StartingEquity      float64 `json:"starting_equity"`
	DailyStartEquity    float64 `json:"daily_start_equity"`
	BaselineDailyEquity float64 `json:"baseline_daily_equity"`
	DailyPeakEquity     float64 `json:"daily_peak_equity"`
	BaselineMaxEquity   float64 `json:"baseline_max_equity"`
	AllTimePeakEquity   float64 `json:"all_time_peak_equity"`

	DailyLimitAmount  float64 `json:"daily_limit_amount"`
	DailyBreachEquity float64 `json:"daily_breach_equity"`
	DailyUsedAmount   float64 `json:"daily_used_amount"`
	DailyUsagePercent float64 `json:"daily_usage_percent_of_limit"`
	MaxLimitAmount    float64 `json:"max_limit_amount"`
	MaxBreachEquity   float64 `json:"max_breach_equity"`
	MaxUsedAmount     float64 `json:"max_used_amount"`
	MaxUsagePercent   float64 `json:"max_usage_percent_of_limit"`

	WinRate      float64  `json:"win_rate"`
	LossRate     float64  `json:"loss_rate"`
	ProfitFactor *float64 `json:"profit_factor"` // 无亏损交易时为 null
	BestTrade    float64  `json:"best_trade"`
	WorstTrade   float64  `json:"worst_trade"`
	GrossProfit  float64  `json:"gross_profit"`
	GrossLoss    float64  `json:"gross_loss"`
	TradingDays  int      `json:"trading_days"`
	TotalLots    float64  `json:"total_lots"`
	TradesCount  int      `json:"trades_count"`
}

// TableName 指定表名
func (MetricsSnapshot) TableName() string {
	return "account_metrics"
}

// Order 券商订单/入金记录，(account_id, order_id) 唯一
type Order struct {
	ID            int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	AccountID     int64      `gorm:"uniqueIndex:idx_account_order;not null" json:"account_id"`
	OrderID       int64      `gorm:"uniqueIndex:idx_account_order;not null" json:"order_id"`
	PlanID        int64      `json:"plan_id"`
	Symbol        string     `gorm:"size:32" json:"symbol"`
	Type          string     `gorm:"size:20;index" json:"type"` // buy, sell, Balance ...
	Volume        float64    `json:"volume"`
	PriceOpen     float64    `json:"price_open"`
	PriceClose    float64    `json:"price_close"`
	Profit        float64    `json:"profit"`
	Swap          float64    `json:"swap"`
	Commission    float64    `json:"commission"`
	TimeOpen      time.Time  `json:"time_open"`
	TimeClose     *time.Time `gorm:"index" json:"time_close"`
	Comment       string     `gorm:"size:255" json:"comment"`
	IsDemoDeposit bool       `gorm:"not null;index" json:"is_demo_deposit"`
	RawData       string     `gorm:"type:text" json:"raw_data,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// AccountSnapshot 每个交易日的余额/权益快照，(account_id, snapshot_date) 唯一
type AccountSnapshot struct {
	ID           int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	AccountID    int64     `gorm:"uniqueIndex:idx_account_snapshot_date;not null" json:"account_id"`
	SnapshotDate string    `gorm:"uniqueIndex:idx_account_snapshot_date;size:10;not null" json:"snapshot_date"`
	Equity       float64   `json:"equity"`
	Balance      float64   `json:"balance"`
	SnapshotTime time.Time `json:"snapshot_time"`
}
