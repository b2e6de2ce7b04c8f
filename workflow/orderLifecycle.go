package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stilva/shop_backend/config"
	"github.com/stilva/shop_backend/models"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"
)

var tracer = otel.Tracer("shop-backend")

// PlaceOrder creates an order, makes its projected shortage visible as
// production demand, and queues the new-order notification. The order is
// committed first; planning runs in a follow-up transaction so a planner
// failure never loses the order.
func PlaceOrder(ctx context.Context, logger *logrus.Logger, input *models.NewOrder) (*models.Order, error) {

	order, err := models.CreateOrder(ctx, input)
	if err != nil {
		return nil, err
	}

	db := config.GetDB()
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := PlanOrder(tx, logger, order.ID); err != nil {
			return err
		}
		if _, err := models.EnqueueOrderCreated(tx, order); err != nil {
			return err
		}
		return models.SaveHistoryCreate(tx, order.ID, "orders", order, "Order created")
	})
	if err != nil {
		config.LogError(logger, "PlaceOrder", "post-create planning", order.ID, err)
	}
	return order, nil
}

// ChangeOrderStatus persists the transition, then reconciles stock,
// production and cashflow. The status write always wins: reconciliation
// failures are logged and left to the outbox dispatcher to retry, so a
// stock bug cannot block the order flow.
func ChangeOrderStatus(ctx context.Context, logger *logrus.Logger, orderId int, next models.OrderStatus) (*models.Order, error) {

	order, prev, err := models.UpdateOrderStatus(ctx, orderId, next)
	if err != nil {
		return nil, err
	}
	if prev == next {
		return order, nil
	}

	db := config.GetDB()
	var record *models.OutboxRecord
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if record, err = models.EnqueueOrderStatusSync(tx, orderId, prev, next); err != nil {
			return err
		}
		return models.SaveHistoryStatusChange(tx, orderId, prev, next)
	})
	if err != nil {
		config.LogError(logger, "ChangeOrderStatus", "enqueue reconciliation", orderId, err)
		return order, nil
	}

	if !config.InlineStockSync() {
		return order, nil
	}

	// inline best effort; the pending outbox record covers a failure here
	ctx, span := tracer.Start(ctx, "order.status.sync")
	span.SetAttributes(
		attribute.Int("order.id", orderId),
		attribute.String("order.status.prev", string(prev)),
		attribute.String("order.status.new", string(next)),
	)
	defer span.End()

	productIds := lockTargets(ctx, orderId)
	release := AcquireProductLocks(ctx, logger, productIds)
	defer release()

	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := SyncOrderStatus(tx, logger, orderId, prev, next); err != nil {
			return err
		}
		if err := CfSyncOrder(tx, logger, orderId, next); err != nil {
			return err
		}
		now := time.Now().UTC()
		return tx.Model(&models.OutboxRecord{}).
			Where("id = ? AND status = ?", record.ID, models.OutboxStatusPending).
			Updates(map[string]interface{}{
				"status":  models.OutboxStatusSent,
				"sent_at": now,
			}).Error
	})
	if err != nil {
		config.LogError(logger, "ChangeOrderStatus",
			fmt.Sprintf("inline reconciliation %s -> %s", prev, next), orderId, err)
	}
	return order, nil
}

// DeleteOrder releases the order's reservations, cancels its open
// production and removes the order, all in one transaction.
func DeleteOrder(ctx context.Context, logger *logrus.Logger, orderId int) error {

	order, err := models.GetOrder(ctx, orderId)
	if err != nil {
		return err
	}

	productIds := lockTargets(ctx, orderId)
	release := AcquireProductLocks(ctx, logger, productIds)
	defer release()

	db := config.GetDB()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := ReleaseAllReservations(tx, logger, orderId); err != nil {
			return err
		}
		if err := models.CancelOpenRowsForOrder(tx, orderId); err != nil {
			return err
		}
		if err := models.DeleteOrderTx(tx, orderId); err != nil {
			return err
		}
		return models.SaveHistoryDelete(tx, orderId, "orders", order, "Order deleted")
	})
}

func lockTargets(ctx context.Context, orderId int) []int {
	db := config.GetDB()
	requested, err := models.GetOrderItemsByProduct(db.WithContext(ctx), orderId)
	if err != nil {
		return nil
	}
	productIds := make([]int, 0, len(requested))
	for pid := range requested {
		productIds = append(productIds, pid)
	}
	return productIds
}
