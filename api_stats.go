package main

import (
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stilva/shop_backend/config"
	"github.com/stilva/shop_backend/models"
	"gorm.io/gorm"
)

type salesPoint struct {
	Date string          `json:"date"`
	Sum  decimal.Decimal `json:"sum"`
}

type salesReport struct {
	Rows  []salesPoint    `json:"rows"`
	Total decimal.Decimal `json:"total"`
}

// statsSalesHandler aggregates daily order revenue. With a product filter
// the sum is over that product's line totals; otherwise over order totals.
func statsSalesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		db := config.GetDB()
		dbCtx := db.WithContext(c.Request.Context())

		applyRange := func(q *gorm.DB, column string) *gorm.DB {
			if from := c.Query("from"); from != "" {
				q = q.Where(column+" >= ?", from+" 00:00:00")
			}
			if to := c.Query("to"); to != "" {
				q = q.Where(column+" <= ?", to+" 23:59:59")
			}
			return q
		}

		type row struct {
			D   string
			Sum decimal.Decimal
		}
		var rows []row

		if productId := c.Query("productId"); productId != "" {
			q := dbCtx.Model(&models.OrderItem{}).
				Joins("JOIN orders o ON o.id = order_items.order_id").
				Select("DATE(o.created_at) AS d, SUM(order_items.price * order_items.qty) AS sum")
			q = applyRange(q, "o.created_at")
			if status := c.Query("status"); status != "" {
				q = q.Where("o.status = ?", status)
			}
			// the storefront sometimes sends the product name instead of
			// the id for ad hoc lines
			if pid, err := strconv.Atoi(productId); err == nil {
				q = q.Where("order_items.product_id = ? OR order_items.name = ?", pid, productId)
			} else {
				q = q.Where("order_items.name = ?", productId)
			}
			if err := q.Group("d").Order("d ASC").Scan(&rows).Error; err != nil {
				respondError(c, err)
				return
			}
		} else {
			q := dbCtx.Model(&models.Order{}).
				Select("DATE(created_at) AS d, SUM(total) AS sum")
			q = applyRange(q, "created_at")
			if status := c.Query("status"); status != "" {
				q = q.Where("status = ?", status)
			}
			if err := q.Group("d").Order("d ASC").Scan(&rows).Error; err != nil {
				respondError(c, err)
				return
			}
		}

		report := salesReport{Rows: make([]salesPoint, 0, len(rows)), Total: decimal.Zero}
		for _, r := range rows {
			report.Rows = append(report.Rows, salesPoint{Date: r.D, Sum: r.Sum.Round(2)})
			report.Total = report.Total.Add(r.Sum)
		}
		report.Total = report.Total.Round(2)
		c.JSON(http.StatusOK, report)
	}
}

type repeatCustomer struct {
	Key    string          `json:"key"`
	Orders int             `json:"orders"`
	Total  decimal.Decimal `json:"total"`
}

// statsCustomersHandler groups orders by (phone, email, name) and reports
// repeat customers with at least min_orders orders.
func statsCustomersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		minOrders := 2
		if v := c.Query("min_orders"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				minOrders = n
			}
		}

		db := config.GetDB()
		q := db.WithContext(c.Request.Context()).Model(&models.Order{})
		if from := c.Query("from"); from != "" {
			q = q.Where("created_at >= ?", from+" 00:00:00")
		}
		if to := c.Query("to"); to != "" {
			q = q.Where("created_at <= ?", to+" 23:59:59")
		}
		var orders []*models.Order
		if err := q.Find(&orders).Error; err != nil {
			respondError(c, err)
			return
		}

		grouped := make(map[string]*repeatCustomer)
		for _, o := range orders {
			key := strings.TrimSpace(o.Phone + o.Email + o.CustomerName)
			if key == "" {
				continue
			}
			entry, ok := grouped[key]
			if !ok {
				entry = &repeatCustomer{Key: key}
				grouped[key] = entry
			}
			entry.Orders++
			entry.Total = entry.Total.Add(o.Total)
		}

		result := make([]*repeatCustomer, 0, len(grouped))
		for _, entry := range grouped {
			if entry.Orders >= minOrders {
				entry.Total = entry.Total.Round(2)
				result = append(result, entry)
			}
		}
		sort.Slice(result, func(i, j int) bool {
			if result[i].Orders != result[j].Orders {
				return result[i].Orders > result[j].Orders
			}
			return result[i].Key < result[j].Key
		})
		c.JSON(http.StatusOK, result)
	}
}
