package database

import (
	"context"
	"time"

	"gorm.io/gorm/clause"
)

// UpsertOrders 按 (account_id, order_id) 幂等写入订单
func (g *GormDatabase) UpsertOrders(ctx context.Context, orders []*Order) error {
	if len(orders) == 0 {
		return nil
	}

	return g.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "account_id"}, {Name: "order_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"plan_id", "symbol", "type", "volume", "price_open", "price_close",
			"profit", "swap", "commission", "time_open", "time_close",
			"comment", "is_demo_deposit", "raw_data", "updated_at",
		}),
	}).CreateInBatches(orders, 100).Error
}

// ListOrders 查询订单
func (g *GormDatabase) ListOrders(ctx context.Context, filter *OrderFilter) ([]*Order, error) {
	query := g.db.WithContext(ctx).Model(&Order{}).Where("account_id = ?", filter.AccountID)

	if len(filter.Types) > 0 {
		query = query.Where("type IN ?", filter.Types)
	}
	if filter.ClosedOnly {
		query = query.Where("time_close IS NOT NULL")
	}
	if filter.ExcludeDeposits {
		query = query.Where("is_demo_deposit = ?", false)
	}
	if filter.StartTime != nil {
		query = query.Where("time_open >= ?", filter.StartTime)
	}
	if filter.EndTime != nil {
		query = query.Where("time_open <= ?", filter.EndTime)
	}

	query = query.Order("time_open DESC").Order("order_id DESC")

	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}

	var orders []*Order
	if err := query.Find(&orders).Error; err != nil {
		return nil, err
	}
	return orders, nil
}

// LatestOrderCloseTime 最新一笔已平仓订单的平仓时间，无订单时返回 nil
func (g *GormDatabase) LatestOrderCloseTime(ctx context.Context, accountID int64) (*time.Time, error) {
	var order Order
	err := g.db.WithContext(ctx).
		Where("account_id = ? AND time_close IS NOT NULL", accountID).
		Order("time_close DESC").
		Limit(1).
		Find(&order).Error
	if err != nil {
		return nil, err
	}
	if order.ID == 0 || order.TimeClose == nil {
		return nil, nil
	}
	return order.TimeClose, nil
}

// DemoDepositTotal 模拟入金总额（即初始余额）
func (g *GormDatabase) DemoDepositTotal(ctx context.Context, accountID int64) (float64, error) {
	var total float64
	err := g.db.WithContext(ctx).Model(&Order{}).
		Where("account_id = ? AND is_demo_deposit = ? AND profit > ?", accountID, true, 0).
		Select("COALESCE(SUM(profit), 0)").
		Scan(&total).Error
	return total, err
}
