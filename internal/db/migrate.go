package db

import (
	"fmt"

	"github.com/zulandar/closeout/internal/models"
	"gorm.io/gorm"
)

// AllModels returns every GORM model managed by closeout.
func AllModels() []interface{} {
	return []interface{}{
		&models.Ticket{},
		&models.OracleCall{},
	}
}

// AutoMigrate creates or updates all tables.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	return nil
}
