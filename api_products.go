package main

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/stilva/shop_backend/config"
	"github.com/stilva/shop_backend/models"
)

// productView decorates a product with the derived availability figures so
// the admin list never shows a stale stock picture.
type productView struct {
	*models.Product
	ReservedQty  int `json:"reserved_qty"`
	AvailableQty int `json:"available_qty"`
	OnOrderQty   int `json:"on_order_qty"`
}

func decorateProducts(c *gin.Context, products []*models.Product) ([]*productView, error) {
	ids := make([]int, 0, len(products))
	for _, p := range products {
		ids = append(ids, p.ID)
	}
	db := config.GetDB()
	availability, err := models.AvailabilityByProduct(db.WithContext(c.Request.Context()), ids)
	if err != nil {
		return nil, err
	}

	views := make([]*productView, 0, len(products))
	for _, p := range products {
		view := &productView{Product: p}
		if av, ok := availability[p.ID]; ok {
			view.ReservedQty = av.Reserved
			view.AvailableQty = av.Available
			view.OnOrderQty = av.OnOrder
		}
		views = append(views, view)
	}
	return views, nil
}

func listProductsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		published := c.Query("published")
		publishedOnly := published == "true" || published == "1"

		products, err := models.GetProducts(c.Request.Context(), publishedOnly)
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

func getProductHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := idParam(c, "id")
		if !ok {
			return
		}
		product, err := models.GetProduct(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		availability, err := models.GetProductAvailability(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, &productView{
			Product:      product,
			ReservedQty:  availability.Reserved,
			AvailableQty: availability.Available,
			OnOrderQty:   availability.OnOrder,
		})
	}
}

func createProductHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewProduct
		if err := c.ShouldBindJSON(&input); err != nil {
			respondBadRequest(c, err)
			return
		}
		product, err := models.CreateProduct(c.Request.Context(), &input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, product)
	}
}

func updateProductHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := idParam(c, "id")
		if !ok {
			return
		}
		var patch models.ProductPatch
		if err := c.ShouldBindJSON(&patch); err != nil {
			respondBadRequest(c, err)
			return
		}
		product, err := models.UpdateProduct(c.Request.Context(), id, &patch)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, product)
	}
}

func deleteProductHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := idParam(c, "id")
		if !ok {
			return
		}
		if _, err := models.DeleteProduct(c.Request.Context(), id); err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"ok": true})
	}
}
