package models

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stilva/shop_backend/config"
	"gorm.io/gorm"
)

// CashflowEntry records order money once an order completes. Entries are
// never deleted; an unwound completion voids the entry instead.
type CashflowEntry struct {
	ID        int             `gorm:"primary_key" json:"id"`
	OrderId   int             `gorm:"index;not null" json:"order_id"`
	Kind      CashflowKind    `gorm:"type:enum('income','refund');not null" json:"kind"`
	Amount    decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"amount"`
	Status    CashflowStatus  `gorm:"type:enum('posted','void');not null;default:'posted';index" json:"status"`
	Comment   string          `gorm:"size:255" json:"comment"`
	CreatedAt time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// PostOrderIncome posts the order total as income. Idempotent: an existing
// posted income entry for the order is left alone.
func PostOrderIncome(tx *gorm.DB, order *Order) error {
	var count int64
	err := tx.Model(&CashflowEntry{}).
		Where("order_id = ? AND kind = ? AND status = ?", order.ID, CashflowKindIncome, CashflowStatusPosted).
		Count(&count).Error
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	entry := CashflowEntry{
		OrderId: order.ID,
		Kind:    CashflowKindIncome,
		Amount:  order.Total,
		Status:  CashflowStatusPosted,
		Comment: "order completed",
	}
	return tx.Create(&entry).Error
}

// VoidOrderIncome voids any posted income for the order.
func VoidOrderIncome(tx *gorm.DB, orderId int) error {
	return tx.Model(&CashflowEntry{}).
		Where("order_id = ? AND kind = ? AND status = ?", orderId, CashflowKindIncome, CashflowStatusPosted).
		Updates(map[string]interface{}{
			"status":  CashflowStatusVoid,
			"comment": "order completion unwound",
		}).Error
}

func GetCashflowEntries(ctx context.Context, orderId *int) ([]*CashflowEntry, error) {
	db := config.GetDB()
	dbCtx := db.WithContext(ctx).Order("id DESC")
	if orderId != nil {
		dbCtx = dbCtx.Where("order_id = ?", *orderId)
	}
	var entries []*CashflowEntry
	if err := dbCtx.Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}
