package workflow

import (
	"sort"

	"github.com/sirupsen/logrus"
	"github.com/stilva/shop_backend/models"
	"github.com/stilva/shop_backend/utils"
	"gorm.io/gorm"
)

// linePlan is the outcome of planning one order line against a snapshot.
type linePlan struct {
	Desired int // reservation the line should hold after reconciliation
	Delta   int // movement to issue: >0 reserve, <0 release, 0 nothing
	Missing int // shortage routed to production
}

// planLine reconciles one line against a per-product snapshot. Pure; the
// snapshot must have been taken once for the whole call so two lines of the
// same product cannot double-book the same stock.
func planLine(lineQty int, stockQty int, reservedOther int, currentOwn int, mode models.SupplyMode) linePlan {
	if reservedOther < 0 {
		reservedOther = 0
	}
	availableForOrder := stockQty - reservedOther
	if availableForOrder < 0 {
		availableForOrder = 0
	}

	desired := 0
	if mode != models.SupplyModeMTO {
		desired = lineQty
		if desired > availableForOrder {
			desired = availableForOrder
		}
	}

	return linePlan{
		Desired: desired,
		Delta:   desired - currentOwn,
		Missing: lineQty - desired,
	}
}

type reservationSnapshot struct {
	Requested     map[int]int
	ReservedTotal map[int]int
	ReservedOwn   map[int]int
	Products      map[int]*models.Product
	ProductIds    []int // sorted
}

// snapshotOrder reads everything the planner needs in one pass.
func snapshotOrder(tx *gorm.DB, orderId int) (*reservationSnapshot, error) {
	requested, err := models.GetOrderItemsByProduct(tx, orderId)
	if err != nil {
		return nil, err
	}
	productIds := make([]int, 0, len(requested))
	for pid := range requested {
		productIds = append(productIds, pid)
	}
	sort.Ints(productIds)

	snap := &reservationSnapshot{
		Requested:  requested,
		Products:   make(map[int]*models.Product, len(productIds)),
		ProductIds: productIds,
	}
	if len(productIds) == 0 {
		snap.ReservedTotal = map[int]int{}
		snap.ReservedOwn = map[int]int{}
		return snap, nil
	}

	if snap.ReservedTotal, err = models.ReservedByProduct(tx, productIds); err != nil {
		return nil, err
	}
	if snap.ReservedOwn, err = models.ReservedByOrder(tx, orderId); err != nil {
		return nil, err
	}
	var products []*models.Product
	if err := tx.Where("id IN ?", productIds).Find(&products).Error; err != nil {
		return nil, err
	}
	for _, p := range products {
		snap.Products[p.ID] = p
	}
	return snap, nil
}

// ApplyReservation reconciles the order's reservations with its item list:
// compute the desired reservation per product from a one-shot snapshot, diff
// against the current reservation, emit reserve/release movements for the
// difference, and route any shortage into the order's production rows.
// Recompute-and-diff keeps the call idempotent: a second call with unchanged
// inputs writes nothing.
func ApplyReservation(tx *gorm.DB, logger *logrus.Logger, orderId int) error {

	snap, err := snapshotOrder(tx, orderId)
	if err != nil {
		return err
	}
	actor, _ := utils.GetActorFromContext(tx.Statement.Context)

	shortage := make(map[int]int, len(snap.ProductIds))
	for _, pid := range snap.ProductIds {
		product, ok := snap.Products[pid]
		if !ok {
			// line references a deleted product; nothing to reserve,
			// nothing to produce
			continue
		}

		currentOwn := snap.ReservedOwn[pid]
		plan := planLine(
			snap.Requested[pid],
			product.StockQty,
			snap.ReservedTotal[pid]-currentOwn,
			currentOwn,
			product.SupplyMode,
		)

		if plan.Delta > 0 {
			if _, err := models.RecordMovement(tx, &models.NewStockMovement{
				ProductId: pid,
				Qty:       plan.Delta,
				Type:      models.MovementTypeReserve,
				Reason:    models.MovementReasonOrder,
				OrderId:   &orderId,
				Comment:   "reservation reconciled",
				Actor:     actor,
			}); err != nil {
				return err
			}
		} else if plan.Delta < 0 {
			if _, err := models.RecordMovement(tx, &models.NewStockMovement{
				ProductId: pid,
				Qty:       -plan.Delta,
				Type:      models.MovementTypeRelease,
				Reason:    models.MovementReasonOrder,
				OrderId:   &orderId,
				Comment:   "reservation reconciled",
				Actor:     actor,
			}); err != nil {
				return err
			}
		}

		if plan.Missing > 0 {
			shortage[pid] = plan.Missing
		}
	}

	if err := models.SyncOrderShortage(tx, orderId, shortage); err != nil {
		return err
	}

	models.InvalidateAvailabilityCache(snap.ProductIds...)
	return nil
}

// PlanOrder is the read-mostly sibling used at order creation: the order is
// not reserving yet, so no movements are written, but production rows are
// opened/updated/cancelled to make the projected shortage visible.
func PlanOrder(tx *gorm.DB, logger *logrus.Logger, orderId int) error {

	snap, err := snapshotOrder(tx, orderId)
	if err != nil {
		return err
	}

	shortage := make(map[int]int, len(snap.ProductIds))
	for _, pid := range snap.ProductIds {
		product, ok := snap.Products[pid]
		if !ok {
			continue
		}
		currentOwn := snap.ReservedOwn[pid]
		plan := planLine(
			snap.Requested[pid],
			product.StockQty,
			snap.ReservedTotal[pid]-currentOwn,
			currentOwn,
			product.SupplyMode,
		)
		if plan.Missing > 0 {
			shortage[pid] = plan.Missing
		}
	}

	return models.SyncOrderShortage(tx, orderId, shortage)
}

// ReleaseAllReservations zeroes the order's reservation by recording release
// movements for whatever is currently held.
func ReleaseAllReservations(tx *gorm.DB, logger *logrus.Logger, orderId int) error {

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
		if _, err := models.RecordMovement(tx, &models.NewStockMovement{
			ProductId: pid,
			Qty:       qty,
			Type:      models.MovementTypeRelease,
			Reason:    models.MovementReasonOrder,
			OrderId:   &orderId,
			Comment:   "reservation released",
			Actor:     actor,
		}); err != nil {
			return err
		}
	}

	models.InvalidateAvailabilityCache(productIds...)
	return nil
}
