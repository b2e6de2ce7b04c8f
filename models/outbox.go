package models

import (
	"encoding/json"
	"time"

	"github.com/stilva/shop_backend/utils"
	"gorm.io/gorm"
)

// OutboxRecord is written in the same transaction as the business change and
// worked off after commit by the dispatcher. Two kinds exist: stock
// reconciliation for an order status change, and the order-created
// notification published to Pub/Sub.
type OutboxRecord struct {
	ID            int        `gorm:"primary_key;index:idx_outbox_dispatch,priority:3" json:"id"`
	Kind          string     `gorm:"size:40;not null;index" json:"kind"`
	OrderId       int        `gorm:"index;not null" json:"order_id"`
	Payload       []byte     `gorm:"type:blob" json:"payload"`
	Status        string     `gorm:"size:20;not null;default:'PENDING';index:idx_outbox_dispatch,priority:1" json:"status"` // PENDING|PROCESSING|SENT|FAILED|DEAD
	Attempts      int        `gorm:"not null;default:0" json:"attempts"`
	NextAttemptAt *time.Time `gorm:"index;index:idx_outbox_dispatch,priority:2" json:"next_attempt_at"`
	LockedAt      *time.Time `gorm:"index" json:"locked_at"`
	LockedBy      *string    `gorm:"size:100" json:"locked_by"`
	LastError     *string    `gorm:"type:text" json:"last_error"`
	SentAt        *time.Time `gorm:"index" json:"sent_at"`
	CorrelationId string     `gorm:"size:64;index" json:"correlation_id"`
	CreatedAt     time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// OrderStatusSyncPayload is the payload for order_status_sync records.
type OrderStatusSyncPayload struct {
	OrderId int         `json:"order_id"`
	Prev    OrderStatus `json:"prev"`
	New     OrderStatus `json:"new"`
}

// OrderCreatedPayload is the payload for order_created records.
type OrderCreatedPayload struct {
	OrderId      int    `json:"order_id"`
	CustomerName string `json:"customer_name"`
	Phone        string `json:"phone"`
	Total        string `json:"total"`
}

func enqueueOutbox(tx *gorm.DB, kind string, orderId int, payload interface{}) (*OutboxRecord, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	correlationId, _ := utils.GetCorrelationIdFromContext(tx.Statement.Context)
	record := OutboxRecord{
		Kind:          kind,
		OrderId:       orderId,
		Payload:       body,
		Status:        OutboxStatusPending,
		CorrelationId: correlationId,
	}
	if err := tx.Create(&record).Error; err != nil {
		return nil, err
	}
	return &record, nil
}

func EnqueueOrderStatusSync(tx *gorm.DB, orderId int, prev OrderStatus, next OrderStatus) (*OutboxRecord, error) {
	return enqueueOutbox(tx, OutboxKindOrderStatusSync, orderId, &OrderStatusSyncPayload{
		OrderId: orderId,
		Prev:    prev,
		New:     next,
	})
}

func EnqueueOrderCreated(tx *gorm.DB, order *Order) (*OutboxRecord, error) {
	return enqueueOutbox(tx, OutboxKindOrderCreated, order.ID, &OrderCreatedPayload{
		OrderId:      order.ID,
		CustomerName: order.CustomerName,
		Phone:        order.Phone,
		Total:        order.Total.String(),
	})
}
