package workflow

import (
	"errors"
	"sort"

	"github.com/sirupsen/logrus"
	"github.com/stilva/shop_backend/models"
	"github.com/stilva/shop_backend/utils"
	"gorm.io/gorm"
)

type NewIncomingReceipt struct {
	Lines   []NewIncomingLine `json:"lines" binding:"required,min=1,dive"`
	DocId   *int              `json:"doc_id"`
	Comment string            `json:"comment"`
}

type NewIncomingLine struct {
	ProductId int `json:"product_id" binding:"required"`
	Qty       int `json:"qty" binding:"required"`
}

type NewStockAdjustment struct {
	ProductId int    `json:"product_id" binding:"required"`
	Delta     int    `json:"delta" binding:"required"`
	Comment   string `json:"comment"`
}

// allocateReceipt spreads a received quantity over outstanding production
// amounts, oldest first. Pure; returns per-row applied amounts.
func allocateReceipt(outstanding []int, received int) []int {
	applied := make([]int, len(outstanding))
	for i, out := range outstanding {
		if received <= 0 {
			break
		}
		take := out
		if take > received {
			take = received
		}
		if take < 0 {
			take = 0
		}
		applied[i] = take
		received -= take
	}
	return applied
}

// ApplyProductionOnIncoming consumes the product's open production rows FIFO
// by row id: each received unit advances qty_done on the oldest row first; a
// fully covered row closes with its stock stage done. No stock side effects
// here, the receipt already counted the units in. Returns order ids whose
// rows were touched so the caller can rebalance them.
func ApplyProductionOnIncoming(tx *gorm.DB, productId int, receivedQty int) ([]int, error) {
	if receivedQty <= 0 {
		return nil, nil
	}

	var rows []*models.ProductionOrder
	err := tx.Where("product_id = ? AND status = ?", productId, models.ProductionStatusOpen).
		Order("id ASC").Find(&rows).Error
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}

	outstanding := make([]int, len(rows))
	for i, row := range rows {
		outstanding[i] = row.Qty - row.QtyDone
	}
	applied := allocateReceipt(outstanding, receivedQty)

	orderIds := make([]int, 0)
	prodNos := make(map[string]bool)
	for i, row := range rows {
		if applied[i] == 0 {
			continue
		}
		row.QtyDone += applied[i]
		updates := map[string]interface{}{"qty_done": row.QtyDone}
		if row.QtyDone >= row.Qty {
			updates["status"] = models.ProductionStatusClosed
			updates["prod_state"] = models.ProdStateClosed
			updates["stage_stock"] = models.StageDone
		}
		if err := tx.Model(&models.ProductionOrder{}).Where("id = ?", row.ID).Updates(updates).Error; err != nil {
			return nil, err
		}
		if row.OrderId != nil {
			orderIds = append(orderIds, *row.OrderId)
		}
		if row.ProdNo != nil {
			prodNos[*row.ProdNo] = true
		}
	}

	for no := range prodNos {
		if err := models.RefreshJobMirror(tx, no); err != nil {
			return nil, err
		}
	}
	return utils.UniqueSlice(orderIds), nil
}

// ReceiveIncoming books an incoming-goods document: per line an `in`
// movement and a stock increment, then FIFO consumption of open production
// for the same product, then a reservation rebalance for every order whose
// production rows moved.
func ReceiveIncoming(tx *gorm.DB, logger *logrus.Logger, input *NewIncomingReceipt) error {

	actor, _ := utils.GetActorFromContext(tx.Statement.Context)

	touchedOrders := make(map[int]bool)
	productIds := make([]int, 0, len(input.Lines))
	for _, line := range input.Lines {
		if line.Qty <= 0 {
			return errors.New("line qty must be positive")
		}
		var count int64
		if err := tx.Model(&models.Product{}).Where("id = ?", line.ProductId).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return utils.ErrorRecordNotFound
		}

		if err := tx.Model(&models.Product{}).Where("id = ?", line.ProductId).
			Update("stock_qty", gorm.Expr("stock_qty + ?", line.Qty)).Error; err != nil {
			return err
		}
		if _, err := models.RecordMovement(tx, &models.NewStockMovement{
			ProductId: line.ProductId,
			Qty:       line.Qty,
			Type:      models.MovementTypeIn,
			Reason:    models.MovementReasonPurchase,
			DocId:     input.DocId,
			Comment:   input.Comment,
			Actor:     actor,
		}); err != nil {
			return err
		}

		orderIds, err := ApplyProductionOnIncoming(tx, line.ProductId, line.Qty)
		if err != nil {
			return err
		}
		for _, id := range orderIds {
			touchedOrders[id] = true
		}
		productIds = append(productIds, line.ProductId)
	}

	orderIds := make([]int, 0, len(touchedOrders))
	for id := range touchedOrders {
		orderIds = append(orderIds, id)
	}
	sort.Ints(orderIds)
	for _, orderId := range orderIds {
		order, err := models.GetOrderTx(tx, orderId)
		if err != nil {
			continue
		}
		if order.Status.IsActiveWork() {
			if err := ApplyReservation(tx, logger, orderId); err != nil {
				return err
			}
		}
	}

	models.InvalidateAvailabilityCache(productIds...)
	return nil
}

// AdjustStock books a manual correction. The movement keeps the magnitude;
// direction lives in the delta applied to stock_qty, clamped at zero.
func AdjustStock(tx *gorm.DB, logger *logrus.Logger, input *NewStockAdjustment) error {
	if input.Delta == 0 {
		return errors.New("delta must be non-zero")
	}

	var product models.Product
	if err := tx.First(&product, input.ProductId).Error; err != nil {
		return utils.ErrorRecordNotFound
	}

	newQty := product.StockQty + input.Delta
	if newQty < 0 {
		newQty = 0
	}
	if err := tx.Model(&models.Product{}).Where("id = ?", product.ID).
		Update("stock_qty", newQty).Error; err != nil {
		return err
	}

	qty := input.Delta
	comment := input.Comment
	if qty < 0 {
		qty = -qty
		if comment == "" {
			comment = "manual decrease"
		}
	} else if comment == "" {
		comment = "manual increase"
	}
	actor, _ := utils.GetActorFromContext(tx.Statement.Context)
	if _, err := models.RecordMovement(tx, &models.NewStockMovement{
		ProductId: product.ID,
		Qty:       qty,
		Type:      models.MovementTypeAdjust,
		Reason:    models.MovementReasonManual,
		Comment:   comment,
		Actor:     actor,
	}); err != nil {
		return err
	}

	if err := models.SaveHistoryUpdate(tx, product.ID, "products",
		map[string]int{"stock_qty": product.StockQty},
		map[string]int{"stock_qty": newQty},
		"Manual stock adjustment"); err != nil {
		return err
	}

	models.InvalidateAvailabilityCache(product.ID)
	return nil
}
