package models

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stilva/shop_backend/config"
	"github.com/stilva/shop_backend/utils"
	"gorm.io/gorm"
)

type Order struct {
	ID           int             `gorm:"primary_key" json:"id"`
	CustomerName string          `gorm:"size:255;not null" json:"customer_name"`
	Phone        string          `gorm:"size:50" json:"phone"`
	Email        string          `gorm:"size:255" json:"email"`
	Note         string          `gorm:"type:text" json:"note"`
	CancelReason string          `gorm:"type:text" json:"cancel_reason"`
	Total        decimal.Decimal `gorm:"type:decimal(20,2);default:0" json:"total"`
	Status       OrderStatus     `gorm:"type:enum('New','InProgress','CriticalWait','HandedToDelivery','Completed','Cancelled');not null;default:'New';index" json:"status"`
	Items        []OrderItem     `gorm:"foreignKey:OrderId" json:"items,omitempty"`
	CreatedAt    time.Time       `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt    time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// OrderItem lines are immutable once the order is created; replanning always
// works against the original item list.
type OrderItem struct {
	ID        int             `gorm:"primary_key" json:"id"`
	OrderId   int             `gorm:"index;not null" json:"order_id"`
	ProductId *int            `gorm:"index" json:"product_id"`
	Name      string          `gorm:"size:255;not null" json:"name"`
	Price     decimal.Decimal `gorm:"type:decimal(20,2);default:0" json:"price"`
	Qty       int             `gorm:"not null;default:1" json:"qty"`
}

type NewOrder struct {
	CustomerName string          `json:"customer_name" binding:"required"`
	Phone        string          `json:"phone"`
	Email        string          `json:"email"`
	Note         string          `json:"note"`
	Total        decimal.Decimal `json:"total"`
	Items        []NewOrderItem  `json:"items" binding:"required,min=1,dive"`
}

type NewOrderItem struct {
	ProductId *int            `json:"id"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Qty       int             `json:"qty"`
}

// OrderPatch carries partial updates; status changes go through the
// dedicated status endpoint, never through here.
type OrderPatch struct {
	CustomerName *string          `json:"customer_name"`
	Phone        *string          `json:"phone"`
	Email        *string          `json:"email"`
	Note         *string          `json:"note"`
	CancelReason *string          `json:"cancel_reason"`
	Total        *decimal.Decimal `json:"total"`
}

func (input *NewOrder) validate(ctx context.Context) error {
	if strings.TrimSpace(input.CustomerName) == "" {
		return errors.New("customer name is required")
	}
	if strings.TrimSpace(input.Phone) != "" {
		if err := utils.ValidatePhoneNumber(input.Phone, utils.CountryCode); err != nil {
			return errors.New("invalid phone number")
		}
	}
	for _, item := range input.Items {
		if item.Qty <= 0 {
			return errors.New("item qty must be positive")
		}
		if item.ProductId != nil {
			if err := utils.ValidateResourceId[Product](ctx, *item.ProductId); err != nil {
				return errors.New("product not found")
			}
		}
	}
	return nil
}

func CreateOrder(ctx context.Context, input *NewOrder) (*Order, error) {

	if err := input.validate(ctx); err != nil {
		return nil, err
	}

	order := Order{
		CustomerName: input.CustomerName,
		Phone:        input.Phone,
		Email:        input.Email,
		Note:         input.Note,
		Total:        input.Total,
		Status:       OrderStatusNew,
	}
	for _, item := range input.Items {
		name := item.Name
		if name == "" {
			name = "Item"
		}
		order.Items = append(order.Items, OrderItem{
			ProductId: item.ProductId,
			Name:      name,
			Price:     item.Price,
			Qty:       item.Qty,
		})
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func UpdateOrder(ctx context.Context, id int, patch *OrderPatch) (*Order, error) {

	order, err := utils.FetchModel[Order](ctx, id)
	if err != nil {
		return nil, err
	}

	updates := map[string]interface{}{}
	if patch.CustomerName != nil {
		updates["customer_name"] = *patch.CustomerName
	}
	if patch.Phone != nil {
		updates["phone"] = *patch.Phone
	}
	if patch.Email != nil {
		updates["email"] = *patch.Email
	}
	if patch.Note != nil {
		updates["note"] = *patch.Note
	}
	if patch.CancelReason != nil {
		updates["cancel_reason"] = *patch.CancelReason
	}
	if patch.Total != nil {
		updates["total"] = *patch.Total
	}
	if len(updates) == 0 {
		return nil, errors.New("no fields")
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Model(order).Updates(updates).Error; err != nil {
		return nil, err
	}
	return order, nil
}

// UpdateOrderStatus persists the new status and returns the previous one.
// Reconciliation is NOT performed here; the caller enqueues it so that the
// status change itself always succeeds (see workflow.SyncOrderStatus).
func UpdateOrderStatus(ctx context.Context, id int, status OrderStatus) (*Order, OrderStatus, error) {

	if !status.Valid() {
		return nil, "", errors.New("invalid status")
	}

	order, err := utils.FetchModel[Order](ctx, id)
	if err != nil {
		return nil, "", err
	}
	prev := order.Status

	db := config.GetDB()
	if err := db.WithContext(ctx).Model(order).Update("status", status).Error; err != nil {
		return nil, "", err
	}
	order.Status = status
	return order, prev, nil
}

func GetOrder(ctx context.Context, id int) (*Order, error) {
	return utils.FetchModel[Order](ctx, id, "Items")
}

// GetOrderTx fetches an order inside an existing transaction.
func GetOrderTx(tx *gorm.DB, id int) (*Order, error) {
	var order Order
	if err := tx.Preload("Items").First(&order, id).Error; err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	return &order, nil
}

func GetOrders(ctx context.Context, status *OrderStatus) ([]*Order, error) {
	db := config.GetDB()
	q := db.WithContext(ctx).Model(&Order{}).Order("id DESC")
	if status != nil {
		q = q.Where("status = ?", *status)
	}
	var orders []*Order
	if err := q.Find(&orders).Error; err != nil {
		return nil, err
	}
	return orders, nil
}

// DeleteOrderTx removes the order and its items. Callers must release
// reservations and cancel open production first (workflow.DeleteOrder).
func DeleteOrderTx(tx *gorm.DB, id int) error {
	if err := tx.Where("order_id = ?", id).Delete(&OrderItem{}).Error; err != nil {
		return err
	}
	return tx.Delete(&Order{}, id).Error
}

// GetOrderItemsByProduct aggregates the order's line quantities per product,
// skipping ad hoc lines with no product reference. Two lines of the same
// product fold together so reservation planning cannot double book.
func GetOrderItemsByProduct(tx *gorm.DB, orderId int) (map[int]int, error) {
	var items []OrderItem
	if err := tx.Where("order_id = ? AND product_id IS NOT NULL", orderId).Find(&items).Error; err != nil {
		return nil, err
	}
	out := make(map[int]int, len(items))
	for _, item := range items {
		out[*item.ProductId] += item.Qty
	}
	return out, nil
}
