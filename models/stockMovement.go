package models

import (
	"context"
	"errors"
	"time"

	"github.com/stilva/shop_backend/config"
	"gorm.io/gorm"
)

// StockMovement is one append-only ledger row. Rows are never updated or
// deleted; reserved/available quantities are derived by aggregation.
type StockMovement struct {
	ID        int            `gorm:"primary_key" json:"id"`
	ProductId int            `gorm:"index;not null" json:"product_id"`
	Qty       int            `gorm:"not null" json:"qty"`
	Type      MovementType   `gorm:"type:enum('in','out','reserve','release','adjust');not null;index" json:"type"`
	Reason    MovementReason `gorm:"type:enum('purchase','order','writeoff','manual','production');not null" json:"reason"`
	OrderId   *int           `gorm:"index" json:"order_id"`
	DocId     *int           `gorm:"index" json:"doc_id"`
	Comment   string         `gorm:"type:text" json:"comment"`
	Actor     string         `gorm:"size:100" json:"actor"`
	CreatedAt time.Time      `gorm:"autoCreateTime;index" json:"created_at"`
}

type NewStockMovement struct {
	ProductId int            `json:"product_id" binding:"required"`
	Qty       int            `json:"qty" binding:"required"`
	Type      MovementType   `json:"type" binding:"required"`
	Reason    MovementReason `json:"reason" binding:"required"`
	OrderId   *int           `json:"order_id"`
	DocId     *int           `json:"doc_id"`
	Comment   string         `json:"comment"`
	Actor     string         `json:"actor"`
}

// RecordMovement appends one immutable row. Qty is always a positive
// magnitude; direction is carried by Type. Callers own directional
// correctness (e.g. never reserve beyond available).
func RecordMovement(tx *gorm.DB, m *NewStockMovement) (*StockMovement, error) {
	if m.Qty <= 0 {
		return nil, errors.New("movement qty must be positive")
	}
	if !m.Type.Valid() {
		return nil, errors.New("invalid movement type")
	}
	if !m.Reason.Valid() {
		return nil, errors.New("invalid movement reason")
	}
	row := StockMovement{
		ProductId: m.ProductId,
		Qty:       m.Qty,
		Type:      m.Type,
		Reason:    m.Reason,
		OrderId:   m.OrderId,
		DocId:     m.DocId,
		Comment:   m.Comment,
		Actor:     m.Actor,
	}
	if err := tx.Create(&row).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

type reservedRow struct {
	ProductId int
	Reserved  int
}

// ReservedByProduct returns SUM(reserve) - SUM(release) per product.
// Omitting productIds aggregates over all products (expensive at scale;
// used sparingly by list views).
func ReservedByProduct(tx *gorm.DB, productIds []int) (map[int]int, error) {
	rows := make([]reservedRow, 0)
	q := tx.Model(&StockMovement{}).
		Select("product_id, SUM(CASE WHEN type = 'reserve' THEN qty WHEN type = 'release' THEN -qty ELSE 0 END) AS reserved").
		Group("product_id")
	if len(productIds) > 0 {
		q = q.Where("product_id IN ?", productIds)
	}
	if err := q.Scan(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[int]int, len(rows))
	for _, r := range rows {
		out[r.ProductId] = r.Reserved
	}
	return out, nil
}

// ReservedByOrder returns the net reserved quantity per product for one order.
func ReservedByOrder(tx *gorm.DB, orderId int) (map[int]int, error) {
	rows := make([]reservedRow, 0)
	err := tx.Model(&StockMovement{}).
		Select("product_id, SUM(CASE WHEN type = 'reserve' THEN qty WHEN type = 'release' THEN -qty ELSE 0 END) AS reserved").
		Where("order_id = ?", orderId).
		Group("product_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[int]int, len(rows))
	for _, r := range rows {
		out[r.ProductId] = r.Reserved
	}
	return out, nil
}

type onOrderRow struct {
	ProductId int
	OnOrder   int
}

// OnOrderByProduct sums qty - qty_done over open production rows. With
// activeOrdersOnly, rows joined to an order count only while the order is in
// an active status; untied rows always count.
func OnOrderByProduct(tx *gorm.DB, productIds []int, activeOrdersOnly bool) (map[int]int, error) {
	rows := make([]onOrderRow, 0)
	q := tx.Model(&ProductionOrder{}).
		Select("production_orders.product_id, SUM(production_orders.qty - production_orders.qty_done) AS on_order").
		Where("production_orders.status = ?", ProductionStatusOpen).
		Group("production_orders.product_id")
	if len(productIds) > 0 {
		q = q.Where("production_orders.product_id IN ?", productIds)
	}
	if activeOrdersOnly {
		q = q.Joins("LEFT JOIN orders ON orders.id = production_orders.order_id").
			Where("production_orders.order_id IS NULL OR orders.status IN ?", activeOrderStatuses())
	}
	if err := q.Scan(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[int]int, len(rows))
	for _, r := range rows {
		out[r.ProductId] = r.OnOrder
	}
	return out, nil
}

func activeOrderStatuses() []OrderStatus {
	return []OrderStatus{OrderStatusNew, OrderStatusInProgress, OrderStatusCriticalWait, OrderStatusHandedToDelivery}
}

// GetStockMovements lists ledger rows, newest first, optionally filtered.
func GetStockMovements(ctx context.Context, productId *int, orderId *int, limit int) ([]*StockMovement, error) {
	db := config.GetDB()
	q := db.WithContext(ctx).Model(&StockMovement{}).Order("id DESC")
	if productId != nil {
		q = q.Where("product_id = ?", *productId)
	}
	if orderId != nil {
		q = q.Where("order_id = ?", *orderId)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []*StockMovement
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// NetFulfilledByProduct computes SUM(out) - SUM(in) per product for one
// order's reason=order movements. Used by the Completed -> non-Completed
// unwind to put fulfilled stock back.
func NetFulfilledByProduct(tx *gorm.DB, orderId int) (map[int]int, error) {
	rows := make([]reservedRow, 0)
	err := tx.Model(&StockMovement{}).
		Select("product_id, SUM(CASE WHEN type = 'out' THEN qty WHEN type = 'in' THEN -qty ELSE 0 END) AS reserved").
		Where("order_id = ? AND reason = ?", orderId, MovementReasonOrder).
		Group("product_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[int]int, len(rows))
	for _, r := range rows {
		out[r.ProductId] = r.Reserved
	}
	return out, nil
}
