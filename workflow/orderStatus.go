package workflow

import (
	"sort"

	"github.com/sirupsen/logrus"
	"github.com/stilva/shop_backend/models"
	"github.com/stilva/shop_backend/utils"
	"gorm.io/gorm"
)

// SyncOrderStatus maps an order status transition to the reservation,
// fulfillment and production side effects. The caller decides the failure
// policy: the HTTP handler runs this best-effort and falls back to the
// outbox dispatcher, which retries until the order's stock picture is
// consistent again.
//
// Closed production rows are not reopened when a completion is unwound; a
// later ApplyReservation recreates demand if the order is genuinely still
// short.
func SyncOrderStatus(tx *gorm.DB, logger *logrus.Logger, orderId int, prev models.OrderStatus, next models.OrderStatus) error {

	// unwind first, then evaluate the new status on clean state
	if prev == models.OrderStatusCompleted && next != models.OrderStatusCompleted {
		if err := unfulfillOrder(tx, orderId); err != nil {
			return err
		}
	}

	switch {
	case next == models.OrderStatusCompleted:
		if err := ApplyReservation(tx, logger, orderId); err != nil {
			return err
		}
		return fulfillOrder(tx, orderId)

	case next.IsActiveWork():
		return ApplyReservation(tx, logger, orderId)

	case next == models.OrderStatusNew:
		if err := ReleaseAllReservations(tx, logger, orderId); err != nil {
			return err
		}
		return PlanOrder(tx, logger, orderId)

	default:
		// terminal statuses: drop the claim and the demand
		if err := ReleaseAllReservations(tx, logger, orderId); err != nil {
			return err
		}
		return models.CancelOpenRowsForOrder(tx, orderId)
	}
}

// fulfillOrder converts the order's reservation into a physical deduction:
// an `out` movement and stock decrement per product, a `release` zeroing the
// reservation, and the order's open production rows closed as fulfilled.
func fulfillOrder(tx *gorm.DB, orderId int) error {

	held, err := models.ReservedByOrder(tx, orderId)
	if err != nil {
		return err
	}
	actor, _ := utils.GetActorFromContext(tx.Statement.Context)

	productIds := make([]int, 0, len(held))
	for pid := range held {
		productIds = append(productIds, pid)
	}
	sort.Ints(productIds)

	for _, pid := range productIds {
		qty := held[pid]
		if qty <= 0 {
			continue
		}
		if err := tx.Model(&models.Product{}).Where("id = ?", pid).
			Update("stock_qty", gorm.Expr("stock_qty - ?", qty)).Error; err != nil {
			return err
		}
		if _, err := models.RecordMovement(tx, &models.NewStockMovement{
			ProductId: pid,
			Qty:       qty,
			Type:      models.MovementTypeOut,
			Reason:    models.MovementReasonOrder,
			OrderId:   &orderId,
			Comment:   "order fulfilled",
			Actor:     actor,
		}); err != nil {
			return err
		}
		if _, err := models.RecordMovement(tx, &models.NewStockMovement{
			ProductId: pid,
			Qty:       qty,
			Type:      models.MovementTypeRelease,
			Reason:    models.MovementReasonOrder,
			OrderId:   &orderId,
			Comment:   "order fulfilled",
			Actor:     actor,
		}); err != nil {
			return err
		}
	}

	if err := models.CloseOpenRowsForOrder(tx, orderId); err != nil {
		return err
	}

	models.InvalidateAvailabilityCache(productIds...)
	return nil
}

// unfulfillOrder reverses a completion: whatever the order netted out of
// stock (out minus in, reason=order) goes back, with an `in` movement so the
// round trip is visible in the ledger.
func unfulfillOrder(tx *gorm.DB, orderId int) error {

	net, err := models.NetFulfilledByProduct(tx, orderId)
	if err != nil {
		return err
	}
	actor, _ := utils.GetActorFromContext(tx.Statement.Context)

	productIds := make([]int, 0, len(net))
	for pid := range net {
		productIds = append(productIds, pid)
	}
	sort.Ints(productIds)

	for _, pid := range productIds {
		qty := net[pid]
		if qty <= 0 {
			continue
		}
		if err := tx.Model(&models.Product{}).Where("id = ?", pid).
			Update("stock_qty", gorm.Expr("stock_qty + ?", qty)).Error; err != nil {
			return err
		}
		if _, err := models.RecordMovement(tx, &models.NewStockMovement{
			ProductId: pid,
			Qty:       qty,
			Type:      models.MovementTypeIn,
			Reason:    models.MovementReasonOrder,
			OrderId:   &orderId,
			Comment:   "fulfillment reversed",
			Actor:     actor,
		}); err != nil {
			return err
		}
	}

	models.InvalidateAvailabilityCache(productIds...)
	return nil
}

// CfSyncOrder keeps the cashflow ledger in step with the order status:
// income is posted on completion and voided on any other status. Runs at the
// same call sites as SyncOrderStatus but is independent of it.
func CfSyncOrder(tx *gorm.DB, logger *logrus.Logger, orderId int, next models.OrderStatus) error {
	if next == models.OrderStatusCompleted {
		order, err := models.GetOrderTx(tx, orderId)
		if err != nil {
			return err
		}
		return models.PostOrderIncome(tx, order)
	}
	return models.VoidOrderIncome(tx, orderId)
}
