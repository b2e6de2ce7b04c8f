package models

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stilva/shop_backend/config"
	"github.com/stilva/shop_backend/utils"
)

type Product struct {
	ID             int             `gorm:"primary_key" json:"id"`
	Name           string          `gorm:"size:255;not null" json:"name"`
	Price          decimal.Decimal `gorm:"type:decimal(20,2);default:0" json:"price"`
	Published      *bool           `gorm:"not null;default:false" json:"published"`
	ImageUrl       string          `gorm:"size:512" json:"image_url"`
	Shelves        int             `gorm:"default:0" json:"shelves"`
	Material       string          `gorm:"size:100" json:"material"`
	Construction   string          `gorm:"size:100" json:"construction"`
	Perforation    string          `gorm:"size:100" json:"perforation"`
	ShelfThickness string          `gorm:"size:100" json:"shelf_thickness"`
	Description    string          `gorm:"type:text" json:"description"`
	LeadTimeDays   int             `gorm:"default:0" json:"lead_time_days"`
	StockQty       int             `gorm:"not null;default:0" json:"stock_qty"`
	SupplyMode     SupplyMode      `gorm:"type:enum('stock','mto','mixed');default:'stock'" json:"supply_mode"`
	CreatedAt      time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewProduct struct {
	Name           string          `json:"name" binding:"required"`
	Price          decimal.Decimal `json:"price"`
	Published      *bool           `json:"published"`
	ImageUrl       string          `json:"image_url"`
	Shelves        int             `json:"shelves"`
	Material       string          `json:"material"`
	Construction   string          `json:"construction"`
	Perforation    string          `json:"perforation"`
	ShelfThickness string          `json:"shelf_thickness"`
	Description    string          `json:"description"`
	LeadTimeDays   int             `json:"lead_time_days"`
	StockQty       int             `json:"stock_qty"`
	SupplyMode     SupplyMode      `json:"supply_mode"`
}

// ProductPatch carries partial updates: nil means "leave unchanged".
// StockQty is deliberately absent; stock is mutated only through the ledger
// paths (receipt, fulfillment, adjustment, production completion).
type ProductPatch struct {
	Name           *string          `json:"name"`
	Price          *decimal.Decimal `json:"price"`
	Published      *bool            `json:"published"`
	ImageUrl       *string          `json:"image_url"`
	Shelves        *int             `json:"shelves"`
	Material       *string          `json:"material"`
	Construction   *string          `json:"construction"`
	Perforation    *string          `json:"perforation"`
	ShelfThickness *string          `json:"shelf_thickness"`
	Description    *string          `json:"description"`
	LeadTimeDays   *int             `json:"lead_time_days"`
	SupplyMode     *SupplyMode      `json:"supply_mode"`
}

func CreateProduct(ctx context.Context, input *NewProduct) (*Product, error) {

	if input.SupplyMode == "" {
		input.SupplyMode = SupplyModeStock
	}
	if !input.SupplyMode.Valid() {
		return nil, errors.New("invalid supply mode")
	}
	if input.StockQty < 0 {
		return nil, errors.New("stock qty cannot be negative")
	}

	published := input.Published
	if published == nil {
		published = utils.NewFalse()
	}

	product := Product{
		Name:           input.Name,
		Price:          input.Price,
		Published:      published,
		ImageUrl:       input.ImageUrl,
		Shelves:        input.Shelves,
		Material:       input.Material,
		Construction:   input.Construction,
		Perforation:    input.Perforation,
		ShelfThickness: input.ShelfThickness,
		Description:    input.Description,
		LeadTimeDays:   input.LeadTimeDays,
		StockQty:       input.StockQty,
		SupplyMode:     input.SupplyMode,
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&product).Error; err != nil {
		return nil, err
	}
	return &product, nil
}

func UpdateProduct(ctx context.Context, id int, patch *ProductPatch) (*Product, error) {

	product, err := utils.FetchModel[Product](ctx, id)
	if err != nil {
		return nil, err
	}

	updates := map[string]interface{}{}
	if patch.Name != nil {
		updates["name"] = *patch.Name
	}
	if patch.Price != nil {
		updates["price"] = *patch.Price
	}
	if patch.Published != nil {
		updates["published"] = *patch.Published
	}
	if patch.ImageUrl != nil {
		updates["image_url"] = *patch.ImageUrl
	}
	if patch.Shelves != nil {
		updates["shelves"] = *patch.Shelves
	}
	if patch.Material != nil {
		updates["material"] = *patch.Material
	}
	if patch.Construction != nil {
		updates["construction"] = *patch.Construction
	}
	if patch.Perforation != nil {
		updates["perforation"] = *patch.Perforation
	}
	if patch.ShelfThickness != nil {
		updates["shelf_thickness"] = *patch.ShelfThickness
	}
	if patch.Description != nil {
		updates["description"] = *patch.Description
	}
	if patch.LeadTimeDays != nil {
		updates["lead_time_days"] = *patch.LeadTimeDays
	}
	if patch.SupplyMode != nil {
		if !patch.SupplyMode.Valid() {
			return nil, errors.New("invalid supply mode")
		}
		updates["supply_mode"] = *patch.SupplyMode
	}
	if len(updates) == 0 {
		return nil, errors.New("no fields")
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Model(product).Updates(updates).Error; err != nil {
		return nil, err
	}
	return product, nil
}

func DeleteProduct(ctx context.Context, id int) (*Product, error) {

	product, err := utils.FetchModel[Product](ctx, id)
	if err != nil {
		return nil, err
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Delete(product).Error; err != nil {
		return nil, err
	}
	return product, nil
}

func GetProduct(ctx context.Context, id int) (*Product, error) {
	return utils.FetchModel[Product](ctx, id)
}

func GetProducts(ctx context.Context, publishedOnly bool) ([]*Product, error) {
	db := config.GetDB()
	q := db.WithContext(ctx).Model(&Product{}).Order("id ASC")
	if publishedOnly {
		q = q.Where("published = ?", true)
	}
	var products []*Product
	if err := q.Find(&products).Error; err != nil {
		return nil, err
	}
	return products, nil
}
