package workflow

import (
	"github.com/sirupsen/logrus"
	"github.com/stilva/shop_backend/models"
	"github.com/stilva/shop_backend/utils"
	"gorm.io/gorm"
)

// CompleteProductionItem finishes one production row's stock stage. The
// outstanding quantity is received into stock; if the row belongs to an
// order in an active status the order is rebalanced, since the new stock may
// resolve its shortage.
func CompleteProductionItem(tx *gorm.DB, logger *logrus.Logger, rowId int) (*models.ProductionOrder, error) {

	var row models.ProductionOrder
	if err := tx.First(&row, rowId).Error; err != nil {
		return nil, err
	}

	if err := models.MarkProductionStockDone(tx, &row, actorFromTx(tx)); err != nil {
		return nil, err
	}
	models.InvalidateAvailabilityCache(row.ProductId)

	if row.OrderId != nil {
		order, err := models.GetOrderTx(tx, *row.OrderId)
		if err == nil && order.Status.IsActiveWork() {
			if err := ApplyReservation(tx, logger, order.ID); err != nil {
				return nil, err
			}
		}
	}
	return &row, nil
}

// SetJobState applies a state to every row of a job. No reservation
// rebalance here: cancelling an auto job is an explicit operator override
// and a rebalance would immediately recreate the demand.
func SetJobState(tx *gorm.DB, logger *logrus.Logger, prodNo string, state models.ProdState) error {
	return models.TouchRowsState(tx, prodNo, state)
}

// RefreshJobFromOrder recomputes the order's shortage and syncs its auto
// production rows to it, without touching reservations. The shortage must
// come from the planner, not the display projection: for an mto line the
// planner routes the full quantity to production regardless of stock on
// hand. Backs the from-order endpoint so operators can force a refresh.
func RefreshJobFromOrder(tx *gorm.DB, logger *logrus.Logger, orderId int) error {
	return PlanOrder(tx, logger, orderId)
}

func actorFromTx(tx *gorm.DB) string {
	ctx := tx.Statement.Context
	if ctx == nil {
		return ""
	}
	actor, _ := utils.GetActorFromContext(ctx)
	return actor
}
