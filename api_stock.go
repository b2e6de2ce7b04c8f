package main

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/stilva/shop_backend/config"
	"github.com/stilva/shop_backend/models"
	"github.com/stilva/shop_backend/workflow"
	"gorm.io/gorm"
)

func stockHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		products, err := models.GetProducts(c.Request.Context(), false)
		if err != nil {
			respondError(c, err)
			return
		}
		views, err := decorateProducts(c, products)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, views)
	}
}

func incomingHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input workflow.NewIncomingReceipt
		if err := c.ShouldBindJSON(&input); err != nil {
			respondBadRequest(c, err)
			return
		}

		logger := config.GetLogger()
		productIds := make([]int, 0, len(input.Lines))
		for _, line := range input.Lines {
			productIds = append(productIds, line.ProductId)
		}
		release := workflow.AcquireProductLocks(c.Request.Context(), logger, productIds)
		defer release()

		db := config.GetDB()
		err := db.WithContext(c.Request.Context()).Transaction(func(tx *gorm.DB) error {
			return workflow.ReceiveIncoming(tx, logger, &input)
		})
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"ok": true})
	}
}

func adjustHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input workflow.NewStockAdjustment
		if err := c.ShouldBindJSON(&input); err != nil {
			respondBadRequest(c, err)
			return
		}

		logger := config.GetLogger()
		release := workflow.AcquireProductLocks(c.Request.Context(), logger, []int{input.ProductId})
		defer release()

		db := config.GetDB()
		err := db.WithContext(c.Request.Context()).Transaction(func(tx *gorm.DB) error {
			return workflow.AdjustStock(tx, logger, &input)
		})
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"ok": true})
	}
}

func movementsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var productId, orderId *int
		if v := c.Query("product_id"); v != "" {
			id, err := strconv.Atoi(v)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "bad_product_id"})
				return
			}
			productId = &id
		}
		if v := c.Query("order_id"); v != "" {
			id, err := strconv.Atoi(v)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "bad_order_id"})
				return
			}
			orderId = &id
		}
		limit := 200
		if v := c.Query("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
				limit = n
			}
		}

		movements, err := models.GetStockMovements(c.Request.Context(), productId, orderId, limit)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, movements)
	}
}

func cashflowHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var orderId *int
		if v := c.Query("order_id"); v != "" {
			id, err := strconv.Atoi(v)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "bad_order_id"})
				return
			}
			orderId = &id
		}
		entries, err := models.GetCashflowEntries(c.Request.Context(), orderId)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, entries)
	}
}
