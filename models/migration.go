package models

import (
	"gorm.io/gorm"
)

// AllModels lists every table owned by this service, in creation order.
func AllModels() []interface{} {
	return []interface{}{
		&Material{}, &InventoryRecord{},
		&ProductConfiguration{}, &ConfigurationLocation{}, &ConfigurationFrameStyle{}, &ConfigurationSize{}, &ConfigurationLayer{},
		&Reservation{}, &ReservationDetail{},
		&LowStockAlert{},
		&History{},
	}
}

func MigrateTable(db *gorm.DB) error {
	return db.AutoMigrate(AllModels()...)
}
