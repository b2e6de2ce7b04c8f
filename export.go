package main

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stilva/shop_backend/models"
	"github.com/stilva/shop_backend/utils"
	"github.com/xuri/excelize/v2"
)

// movementsExportHandler streams the movement ledger as an XLSX workbook,
// with the same product/order filters as the JSON endpoint.
func movementsExportHandler() gin.HandlerFunc {
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

		movements, err := models.GetStockMovements(c.Request.Context(), productId, orderId, 10000)
		if err != nil {
			respondError(c, err)
			return
		}

		products, err := models.GetProducts(c.Request.Context(), false)
		if err != nil {
			respondError(c, err)
			return
		}
		productNames := make(map[int]string, len(products))
		for _, p := range products {
			productNames[p.ID] = p.Name
		}

		f := excelize.NewFile()
		if _, err := f.NewSheet("Sheet1"); err != nil {
			respondError(c, err)
			return
		}

		f.SetCellValue("Sheet1", "A1", "Id")
		f.SetCellValue("Sheet1", "B1", "Product")
		f.SetCellValue("Sheet1", "C1", "Type")
		f.SetCellValue("Sheet1", "D1", "Reason")
		f.SetCellValue("Sheet1", "E1", "Qty")
		f.SetCellValue("Sheet1", "F1", "OrderId")
		f.SetCellValue("Sheet1", "G1", "DocId")
		f.SetCellValue("Sheet1", "H1", "Comment")
		f.SetCellValue("Sheet1", "I1", "Actor")
		f.SetCellValue("Sheet1", "J1", "CreatedAt")

		for i, m := range movements {
			row := fmt.Sprint(i + 2)
			name := productNames[m.ProductId]
			if name == "" {
				name = fmt.Sprintf("#%d", m.ProductId)
			}
			f.SetCellValue("Sheet1", "A"+row, m.ID)
			f.SetCellValue("Sheet1", "B"+row, name)
			f.SetCellValue("Sheet1", "C"+row, string(m.Type))
			f.SetCellValue("Sheet1", "D"+row, string(m.Reason))
			f.SetCellValue("Sheet1", "E"+row, m.Qty)
			f.SetCellValue("Sheet1", "F"+row, utils.DereferencePtr(m.OrderId))
			f.SetCellValue("Sheet1", "G"+row, utils.DereferencePtr(m.DocId))
			f.SetCellValue("Sheet1", "H"+row, m.Comment)
			f.SetCellValue("Sheet1", "I"+row, m.Actor)
			f.SetCellValue("Sheet1", "J"+row, m.CreatedAt.Format(time.RFC3339))
		}

		filename := "stock_movements_" + time.Now().UTC().Format("2006-01-02") + ".xlsx"
		c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		c.Header("Content-Disposition", "attachment; filename="+filename)
		if err := f.Write(c.Writer); err != nil {
			_ = c.Error(err)
		}
	}
}
