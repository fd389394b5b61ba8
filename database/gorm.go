package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"fundguard/drawdown"
)

// GormDatabase GORM 数据库实现
type GormDatabase struct {
	db *gorm.DB
}

// DBConfig 数据库配置
type DBConfig struct {
	Type            string        // sqlite, postgres, mysql
	DSN             string        // 数据源名称
	MaxOpenConns    int           // 最大打开连接数
	MaxIdleConns    int           // 最大空闲连接数
	ConnMaxLifetime time.Duration // 连接最大生命周期
	LogLevel        string        // 日志级别: silent, error, warn, info
}

// NewGormDatabase 创建 GORM 数据库实例
func NewGormDatabase(config *DBConfig) (*GormDatabase, error) {
	var dialector gorm.Dialector

	switch config.Type {
	case "sqlite":
		dialector = sqlite.Open(config.DSN)
	case "postgres", "postgresql":
		dialector = postgres.Open(config.DSN)
	case "mysql":
		dialector = mysql.Open(config.DSN)
	default:
		return nil, fmt.Errorf("unsupported database type: %s", config.Type)
	}

	logLevel := logger.Silent
	switch config.LogLevel {
	case "error":
		logLevel = logger.Error
	case "warn":
		logLevel = logger.Warn
	case "info":
		logLevel = logger.Info
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logLevel),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}

	if config.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(config.MaxOpenConns)
	}
	if config.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(config.MaxIdleConns)
	}
	if config.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(config.ConnMaxLifetime)
	}

	if err := db.AutoMigrate(
		&Plan{},
		&Account{},
		&EquityPeak{},
		&MetricsSnapshot{},
		&Order{},
		&AccountSnapshot{},
	); err != nil {
		return nil, fmt.Errorf("failed to auto migrate: %w", err)
	}

	return &GormDatabase{db: db}, nil
}

// notFound 将 gorm 的记录不存在错误转换为 ErrNotFound
func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

// CreatePlan 创建计划
func (g *GormDatabase) CreatePlan(ctx context.Context, plan *Plan) error {
	return g.db.WithContext(ctx).Create(plan).Error
}

// GetPlan 获取计划
func (g *GormDatabase) GetPlan(ctx context.Context, id int64) (*Plan, error) {
	var plan Plan
	if err := g.db.WithContext(ctx).First(&plan, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &plan, nil
}

// CreateAccount 创建账户
func (g *GormDatabase) CreateAccount(ctx context.Context, account *Account) error {
	if account.MonitoringState == "" {
		account.MonitoringState = drawdown.StateNormal
	}
	if account.ConnectionState == "" {
		account.ConnectionState = ConnectionDisconnected
	}
	return g.db.WithContext(ctx).Create(account).Error
}

// GetAccount 获取账户
func (g *GormDatabase) GetAccount(ctx context.Context, id int64) (*Account, error) {
	var account Account
	if err := g.db.WithContext(ctx).First(&account, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &account, nil
}

// GetAccountByLogin 按 (login, server) 获取账户
func (g *GormDatabase) GetAccountByLogin(ctx context.Context, login, server string) (*Account, error) {
	var account Account
	err := g.db.WithContext(ctx).
		Where("login = ? AND server = ?", login, server).
		First(&account).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &account, nil
}

// ListAccounts 查询账户
func (g *GormDatabase) ListAccounts(ctx context.Context, filter *AccountFilter) ([]*Account, error) {
	query := g.db.WithContext(ctx).Model(&Account{})

	if filter != nil {
		if !filter.IncludeFailed {
			query = query.Where("is_failed = ?", false)
		}
		if filter.MonitoringState != "" {
			query = query.Where("monitoring_state = ?", filter.MonitoringState)
		}
		if len(filter.ConnectionStates) > 0 {
			query = query.Where("connection_state IN ?", filter.ConnectionStates)
		}
		if filter.Limit > 0 {
			query = query.Limit(filter.Limit)
		}
		if filter.Offset > 0 {
			query = query.Offset(filter.Offset)
		}
	}

	var accounts []*Account
	if err := query.Order("id ASC").Find(&accounts).Error; err != nil {
		return nil, err
	}
	return accounts, nil
}

// SaveSession 保存新会话并将连接状态置为 connected
func (g *GormDatabase) SaveSession(ctx context.Context, id int64, session *SessionUpdate) error {
	return g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Model(&Account{}).Where("id = ?", id).Updates(map[string]interface{}{
			"session_id":             session.SessionID,
			"session_expires_at":     session.ExpiresAt,
			"session_last_validated": session.ValidatedAt,
			"connection_state":       ConnectionConnected,
		}).Error
		if err != nil {
			return err
		}

		if session.StartingEquity <= 0 {
			return nil
		}
		// 首次连接时记录初始权益
		return tx.Model(&Account{}).
			Where("id = ? AND starting_equity = ?", id, 0).
			Update("starting_equity", session.StartingEquity).Error
	})
}

// TouchSession 记录会话校验时间
func (g *GormDatabase) TouchSession(ctx context.Context, id int64, at time.Time) error {
	return g.db.WithContext(ctx).Model(&Account{}).Where("id = ?", id).Updates(map[string]interface{}{
		"last_seen":              at,
		"session_last_validated": at,
	}).Error
}

// MarkConnectionError 标记连接错误并清除会话（不会标记失败）
func (g *GormDatabase) MarkConnectionError(ctx context.Context, id int64) error {
	return g.db.WithContext(ctx).Model(&Account{}).Where("id = ?", id).Updates(map[string]interface{}{
		"connection_state":   ConnectionError,
		"session_id":         "",
		"session_expires_at": nil,
	}).Error
}

// SetOrdersFetchedAt 记录最近一次拉取订单时间
func (g *GormDatabase) SetOrdersFetchedAt(ctx context.Context, id int64, at time.Time) error {
	return g.db.WithContext(ctx).Model(&Account{}).Where("id = ?", id).
		Update("last_orders_fetched_at", at).Error
}

// MarkFailed 标记账户失败
// 条件更新 is_failed = false，并发重复检测时只有第一个写入者生效
func (g *GormDatabase) MarkFailed(ctx context.Context, id int64, reason string, at time.Time) (bool, error) {
	result := g.db.WithContext(ctx).Model(&Account{}).
		Where("id = ? AND is_failed = ?", id, false).
		Updates(map[string]interface{}{
			"is_failed":        true,
			"failure_reason":   reason,
			"failed_at":        at,
			"monitoring_state": drawdown.StateNormal,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// SetMonitoringState 切换监控状态，仅当账户未失败且当前状态为 from 时生效
func (g *GormDatabase) SetMonitoringState(ctx context.Context, id int64, from, to drawdown.MonitoringState) (bool, error) {
	result := g.db.WithContext(ctx).Model(&Account{}).
		Where("id = ? AND is_failed = ? AND monitoring_state = ?", id, false, from).
		Update("monitoring_state", to)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// ApplyDailyReset 写入新的日基线
func (g *GormDatabase) ApplyDailyReset(ctx context.Context, id int64, reset *DailyReset) (bool, error) {
	result := g.db.WithContext(ctx).Model(&Account{}).
		Where("id = ? AND is_failed = ?", id, false).
		Updates(map[string]interface{}{
			"daily_start_equity":  reset.DailyStartEquity,
			"daily_limit_amount":  reset.DailyLimitAmount,
			"daily_breach_equity": reset.DailyBreachEquity,
			"daily_reset_at":      reset.ResetAt,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// Ping 健康检查
func (g *GormDatabase) Ping(ctx context.Context) error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close 关闭连接
func (g *GormDatabase) Close() error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
