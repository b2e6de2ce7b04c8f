package models

import (
	"log"

	"github.com/stilva/shop_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&Product{},
		&StockMovement{},
		&Order{}, &OrderItem{},
		&ProductionOrder{},
		&CashflowEntry{},
		&History{},
		&OutboxRecord{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
