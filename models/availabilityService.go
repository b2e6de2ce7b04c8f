package models

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/stilva/shop_backend/config"
	"gorm.io/gorm"
)

// ProductAvailability is the derived picture for one product. Nothing here
// is stored; reserved and on_order are re-aggregated from the ledger and the
// open production rows on every read.
type ProductAvailability struct {
	ProductId int `json:"product_id"`
	StockQty  int `json:"stock_qty"`
	Reserved  int `json:"reserved"`
	Available int `json:"available"`
	OnOrder   int `json:"on_order"`
}

// OrderLineAvailability extends the picture with order-local figures: what
// other orders hold, what this order may still draw, and what is missing.
type OrderLineAvailability struct {
	ProductAvailability
	Requested         int `json:"requested"`
	ReservedByOrder   int `json:"reserved_by_order"`
	ReservedOther     int `json:"reserved_other"`
	AvailableForOrder int `json:"available_for_order"`
	Shortage          int `json:"shortage"`
}

func availabilityCacheEnabled() bool {
	v := strings.TrimSpace(os.Getenv("ENABLE_AVAILABILITY_CACHE"))
	return v == "1" || strings.EqualFold(v, "true") || strings.EqualFold(v, "yes") || strings.EqualFold(v, "on")
}

func availabilityCacheTTL() time.Duration {
	// Env: AVAILABILITY_CACHE_TTL_SECONDS (default 30s)
	ttl := 30
	if v := strings.TrimSpace(os.Getenv("AVAILABILITY_CACHE_TTL_SECONDS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			ttl = n
		}
	}
	return time.Duration(ttl) * time.Second
}

func availabilityCacheKey(productId int) string {
	return fmt.Sprintf("availability:product:%d", productId)
}

// InvalidateAvailabilityCache drops cached availability for the given
// products. Best effort; a miss just means a recompute on the next read.
func InvalidateAvailabilityCache(productIds ...int) {
	keys := make([]string, 0, len(productIds))
	for _, pid := range productIds {
		keys = append(keys, availabilityCacheKey(pid))
	}
	if len(keys) == 0 {
		return
	}
	_ = config.RemoveRedisKey(keys...)
}

// AvailabilityByProduct computes availability for a set of products in one
// round of aggregate queries.
func AvailabilityByProduct(tx *gorm.DB, productIds []int) (map[int]*ProductAvailability, error) {
	result := make(map[int]*ProductAvailability, len(productIds))
	if len(productIds) == 0 {
		return result, nil
	}

	var products []*Product
	if err := tx.Where("id IN ?", productIds).Find(&products).Error; err != nil {
		return nil, err
	}
	reserved, err := ReservedByProduct(tx, productIds)
	if err != nil {
		return nil, err
	}
	onOrder, err := OnOrderByProduct(tx, productIds, true)
	if err != nil {
		return nil, err
	}

	for _, p := range products {
		available := p.StockQty - reserved[p.ID]
		if available < 0 {
			// stock may have been adjusted below the held reservations
			available = 0
		}
		result[p.ID] = &ProductAvailability{
			ProductId: p.ID,
			StockQty:  p.StockQty,
			Reserved:  reserved[p.ID],
			Available: available,
			OnOrder:   onOrder[p.ID],
		}
	}
	return result, nil
}

// GetProductAvailability serves one product's availability, through the
// redis cache when enabled.
func GetProductAvailability(ctx context.Context, productId int) (*ProductAvailability, error) {

	cacheOn := availabilityCacheEnabled()
	if cacheOn {
		var cached ProductAvailability
		if hit, err := config.GetRedisObject(availabilityCacheKey(productId), &cached); err == nil && hit {
			return &cached, nil
		}
	}

	db := config.GetDB()
	byProduct, err := AvailabilityByProduct(db.WithContext(ctx), []int{productId})
	if err != nil {
		return nil, err
	}
	av, ok := byProduct[productId]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}

	if cacheOn {
		_ = config.SetRedisObject(availabilityCacheKey(productId), av, availabilityCacheTTL())
	}
	return av, nil
}

// OrderAvailability builds the per-line picture for one order. The order's
// own reservation is carved out of "reserved by others", so an order never
// competes with itself.
func OrderAvailability(tx *gorm.DB, orderId int) (map[int]*OrderLineAvailability, error) {

	requested, err := GetOrderItemsByProduct(tx, orderId)
	if err != nil {
		return nil, err
	}
	productIds := make([]int, 0, len(requested))
	for pid := range requested {
		productIds = append(productIds, pid)
	}
	if len(productIds) == 0 {
		return map[int]*OrderLineAvailability{}, nil
	}

	general, err := AvailabilityByProduct(tx, productIds)
	if err != nil {
		return nil, err
	}
	byOrder, err := ReservedByOrder(tx, orderId)
	if err != nil {
		return nil, err
	}

	result := make(map[int]*OrderLineAvailability, len(productIds))
	for pid, qty := range requested {
		base, ok := general[pid]
		if !ok {
			// ad hoc line or deleted product; nothing to draw from
			result[pid] = &OrderLineAvailability{
				ProductAvailability: ProductAvailability{ProductId: pid},
				Requested:           qty,
				Shortage:            qty,
			}
			continue
		}
		mine := byOrder[pid]
		reservedOther := base.Reserved - mine
		availableForOrder := base.StockQty - reservedOther
		if availableForOrder < 0 {
			availableForOrder = 0
		}
		shortage := qty - availableForOrder
		if shortage < 0 {
			shortage = 0
		}
		result[pid] = &OrderLineAvailability{
			ProductAvailability: *base,
			Requested:           qty,
			ReservedByOrder:     mine,
			ReservedOther:       reservedOther,
			AvailableForOrder:   availableForOrder,
			Shortage:            shortage,
		}
	}
	return result, nil
}
