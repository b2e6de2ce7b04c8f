package main

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/stilva/shop_backend/config"
	"github.com/stilva/shop_backend/models"
	"github.com/stilva/shop_backend/workflow"
	"gorm.io/gorm"
)

func listProductionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var stateFilter *models.ProdState
		if s := c.Query("state"); s != "" {
			state := models.ProdState(s)
			if !state.Valid() {
				c.JSON(http.StatusBadRequest, gin.H{"error": "bad_state"})
				return
			}
			stateFilter = &state
		}
		jobs, err := models.GetProductionJobs(c.Request.Context(), stateFilter)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, jobs)
	}
}

func getProductionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		prodNo := c.Param("prodNo")
		job, err := models.GetProductionJob(c.Request.Context(), prodNo)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, job)
	}
}

func createProductionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewProductionJob
		if err := c.ShouldBindJSON(&input); err != nil {
			respondBadRequest(c, err)
			return
		}
		job, err := models.CreateProductionJob(c.Request.Context(), &input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, job)
	}
}

type productionStateRequest struct {
	State models.ProdState `json:"state" binding:"required"`
}

func setProductionStateHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		prodNo := c.Param("prodNo")
		var req productionStateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondBadRequest(c, err)
			return
		}
		if !req.State.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "bad_state"})
			return
		}

		logger := config.GetLogger()
		db := config.GetDB()
		err := db.WithContext(c.Request.Context()).Transaction(func(tx *gorm.DB) error {
			return workflow.SetJobState(tx, logger, prodNo, req.State)
		})
		if err != nil {
			respondError(c, err)
			return
		}
		job, err := models.GetProductionJob(c.Request.Context(), prodNo)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, job)
	}
}

type productionFromOrderRequest struct {
	OrderId int `json:"order_id" binding:"required"`
}

func productionFromOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req productionFromOrderRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondBadRequest(c, err)
			return
		}
		if _, err := models.GetOrder(c.Request.Context(), req.OrderId); err != nil {
			respondError(c, err)
			return
		}

		logger := config.GetLogger()
		db := config.GetDB()
		err := db.WithContext(c.Request.Context()).Transaction(func(tx *gorm.DB) error {
			return workflow.RefreshJobFromOrder(tx, logger, req.OrderId)
		})
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"ok": true})
	}
}

func updateProductionRowHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := idParam(c, "id")
		if !ok {
			return
		}
		var patch models.ProductionRowPatch
		if err := c.ShouldBindJSON(&patch); err != nil {
			respondBadRequest(c, err)
			return
		}
		row, err := models.UpdateProductionRow(c.Request.Context(), id, &patch)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, row)
	}
}

func productionStockDoneHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := idParam(c, "id")
		if !ok {
			return
		}

		logger := config.GetLogger()
		db := config.GetDB()
		var row *models.ProductionOrder
		err := db.WithContext(c.Request.Context()).Transaction(func(tx *gorm.DB) error {
			var err error
			row, err = workflow.CompleteProductionItem(tx, logger, id)
			return err
		})
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, row)
	}
}
