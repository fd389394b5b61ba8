package database

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// UpdatePeak 原子更新权益峰值：不存在则插入，存在则取 max(已有, 新值)
// recorded_at 只在新值真正抬高峰值时更新。日峰值按交易日分区，历史峰值 tradingDate 传空串
func (g *GormDatabase) UpdatePeak(ctx context.Context, accountID int64, kind PeakKind, tradingDate string, equity float64, at time.Time) error {
	if kind == PeakAllTime {
		tradingDate = ""
	}

	peak := &EquityPeak{
		AccountID:   accountID,
		PeakKind:    kind,
		TradingDate: tradingDate,
		Equity:      equity,
		RecordedAt:  at,
	}

	return g.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "account_id"},
			{Name: "peak_kind"},
			{Name: "trading_date"},
		},
		DoUpdates: g.maxUpsertAssignments(),
	}).Create(peak).Error
}

// maxUpsertAssignments 按方言生成取最大值的赋值语句
// MySQL 的赋值按从左到右求值且能看到已更新的列，因此 recorded_at 必须先于 equity
func (g *GormDatabase) maxUpsertAssignments() clause.Set {
	switch g.db.Dialector.Name() {
	case "mysql":
		return clause.Set{
			{Column: clause.Column{Name: "recorded_at"}, Value: gorm.Expr("IF(VALUES(equity) > equity, VALUES(recorded_at), recorded_at)")},
			{Column: clause.Column{Name: "equity"}, Value: gorm.Expr("GREATEST(equity, VALUES(equity))")},
		}
	case "sqlite":
		return clause.Set{
			{Column: clause.Column{Name: "recorded_at"}, Value: gorm.Expr("CASE WHEN excluded.equity > equity_peaks.equity THEN excluded.recorded_at ELSE equity_peaks.recorded_at END")},
			{Column: clause.Column{Name: "equity"}, Value: gorm.Expr("MAX(equity_peaks.equity, excluded.equity)")},
		}
	default:
		return clause.Set{
			{Column: clause.Column{Name: "recorded_at"}, Value: gorm.Expr("CASE WHEN excluded.equity > equity_peaks.equity THEN excluded.recorded_at ELSE equity_peaks.recorded_at END")},
			{Column: clause.Column{Name: "equity"}, Value: gorm.Expr("GREATEST(equity_peaks.equity, excluded.equity)")},
		}
	}
}

// GetPeak 获取权益峰值，不存在返回 ErrNotFound
func (g *GormDatabase) GetPeak(ctx context.Context, accountID int64, kind PeakKind, tradingDate string) (*EquityPeak, error) {
	if kind == PeakAllTime {
		tradingDate = ""
	}

	var peak EquityPeak
	err := g.db.WithContext(ctx).
		Where("account_id = ? AND peak_kind = ? AND trading_date = ?", accountID, kind, tradingDate).
		First(&peak).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &peak, nil
}
