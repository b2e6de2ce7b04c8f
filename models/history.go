package models

import (
	"context"
	"encoding/json"
	"time"

	"github.com/stilva/shop_backend/config"
	"github.com/stilva/shop_backend/utils"
	"gorm.io/gorm"
)

type History struct {
	ID            int       `gorm:"primary_key" json:"id"`
	ActionType    string    `gorm:"size:20;not null" json:"action_type"`
	Before        string    `gorm:"type:text" json:"before"`
	After         string    `gorm:"type:text" json:"after"`
	Description   string    `gorm:"type:text;not null" json:"description"`
	ReferenceID   int       `gorm:"index" json:"reference_id"`
	ReferenceType string    `gorm:"size:255" json:"reference_type"`
	Actor         string    `gorm:"size:100" json:"actor"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func createHistory(tx *gorm.DB,
	actionType string,
	referenceId int,
	referenceType string,
	before interface{},
	after interface{},
	description string) error {

	var history History

	b, _ := json.Marshal(before)
	a, _ := json.Marshal(after)

	ctx := tx.Statement.Context
	actor, _ := utils.GetActorFromContext(ctx)

	history.ActionType = actionType
	history.Before = string(b)
	history.After = string(a)
	history.Description = description
	history.ReferenceID = referenceId
	history.ReferenceType = referenceType
	history.Actor = actor

	return tx.Create(&history).Error
}

func SaveHistoryCreate(tx *gorm.DB, id int, referenceType string, obj interface{}, description string) error {
	return createHistory(tx, "CREATE", id, referenceType, nil, obj, description)
}

func SaveHistoryUpdate(tx *gorm.DB, id int, referenceType string, before interface{}, after interface{}, description string) error {
	return createHistory(tx, "UPDATE", id, referenceType, before, after, description)
}

func SaveHistoryDelete(tx *gorm.DB, id int, referenceType string, obj interface{}, description string) error {
	return createHistory(tx, "DELETE", id, referenceType, obj, nil, description)
}

// SaveHistoryStatusChange keeps order status transitions auditable; the
// reconciliation dispatcher reads these rows only for debugging.
func SaveHistoryStatusChange(tx *gorm.DB, orderId int, prev OrderStatus, next OrderStatus) error {
	return createHistory(tx, "STATUS", orderId, "orders", prev, next, "Order status changed")
}

func GetHistories(ctx context.Context, referenceType string, referenceId int) ([]*History, error) {
	db := config.GetDB()
	var histories []*History
	err := db.WithContext(ctx).
		Where("reference_type = ? AND reference_id = ?", referenceType, referenceId).
		Order("id DESC").
		Find(&histories).Error
	if err != nil {
		return nil, err
	}
	return histories, nil
}
