package database

import (
	"context"

	"gorm.io/gorm/clause"
)

// SaveMetrics 追加一条指标快照
func (g *GormDatabase) SaveMetrics(ctx context.Context, snapshot *MetricsSnapshot) error {
	return g.db.WithContext(ctx).Create(snapshot).Error
}

// GetLatestMetrics 获取账户最新的指标快照
func (g *GormDatabase) GetLatestMetrics(ctx context.Context, accountID int64) (*MetricsSnapshot, error) {
	var snapshot MetricsSnapshot
	err := g.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("computed_at DESC").
		Order("id DESC").
		First(&snapshot).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &snapshot, nil
}

// SaveDailySnapshot 写入日快照，当日已存在则不覆盖，返回是否新写入
func (g *GormDatabase) SaveDailySnapshot(ctx context.Context, snapshot *AccountSnapshot) (bool, error) {
	result := g.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "account_id"}, {Name: "snapshot_date"}},
			DoNothing: true,
		}).
		Create(snapshot)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// GetDailySnapshot 获取指定交易日的快照
func (g *GormDatabase) GetDailySnapshot(ctx context.Context, accountID int64, date string) (*AccountSnapshot, error) {
	var snapshot AccountSnapshot
	err := g.db.WithContext(ctx).
		Where("account_id = ? AND snapshot_date = ?", accountID, date).
		First(&snapshot).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &snapshot, nil
}

// GetLatestSnapshotBefore 获取指定交易日之前最近的快照
func (g *GormDatabase) GetLatestSnapshotBefore(ctx context.Context, accountID int64, date string) (*AccountSnapshot, error) {
	var snapshot AccountSnapshot
	err := g.db.WithContext(ctx).
		Where("account_id = ? AND snapshot_date < ?", accountID, date).
		Order("snapshot_date DESC").
		First(&snapshot).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &snapshot, nil
}
