package main

import (
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"
	"github.com/stilva/shop_backend/config"
	"github.com/stilva/shop_backend/models"
	"github.com/stilva/shop_backend/workflow"
)

// orderView decorates an order with the per-line shortage picture.
type orderView struct {
	*models.Order
	Lines []*models.OrderLineAvailability `json:"lines"`
}

func listOrdersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var statusFilter *models.OrderStatus
		if s := c.Query("status"); s != "" {
			status := models.OrderStatus(s)
			if !status.Valid() {
				c.JSON(http.StatusBadRequest, gin.H{"error": "bad_status"})
				return
			}
			statusFilter = &status
		}
		orders, err := models.GetOrders(c.Request.Context(), statusFilter)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, orders)
	}
}

func getOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := idParam(c, "id")
		if !ok {
			return
		}
		order, err := models.GetOrder(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}

		db := config.GetDB()
		lineMap, err := models.OrderAvailability(db.WithContext(c.Request.Context()), id)
		if err != nil {
			respondError(c, err)
			return
		}
		lines := make([]*models.OrderLineAvailability, 0, len(lineMap))
		for _, line := range lineMap {
			lines = append(lines, line)
		}
		sort.Slice(lines, func(i, j int) bool { return lines[i].ProductId < lines[j].ProductId })

		c.JSON(http.StatusOK, &orderView{Order: order, Lines: lines})
	}
}

func createOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewOrder
		if err := c.ShouldBindJSON(&input); err != nil {
			respondBadRequest(c, err)
			return
		}
		logger := config.GetLogger()
		order, err := workflow.PlaceOrder(c.Request.Context(), logger, &input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"id": order.ID})
	}
}

func updateOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := idParam(c, "id")
		if !ok {
			return
		}
		var patch models.OrderPatch
		if err := c.ShouldBindJSON(&patch); err != nil {
			respondBadRequest(c, err)
			return
		}
		order, err := models.UpdateOrder(c.Request.Context(), id, &patch)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, order)
	}
}

type orderStatusRequest struct {
	Status models.OrderStatus `json:"status" binding:"required"`
}

func updateOrderStatusHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := idParam(c, "id")
		if !ok {
			return
		}
		var req orderStatusRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondBadRequest(c, err)
			return
		}
		if !req.Status.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "bad_status"})
			return
		}

		logger := config.GetLogger()
		order, err := workflow.ChangeOrderStatus(c.Request.Context(), logger, id, req.Status)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, order)
	}
}

func deleteOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := idParam(c, "id")
		if !ok {
			return
		}
		logger := config.GetLogger()
		if err := workflow.DeleteOrder(c.Request.Context(), logger, id); err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"ok": true})
	}
}

func orderHistoryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := idParam(c, "id")
		if !ok {
			return
		}
		histories, err := models.GetHistories(c.Request.Context(), "orders", id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, histories)
	}
}
