package db

import (
	"hedgeguard/internal/models"
)

func AutoMigrate(db *DB) error {
	if db == nil || db.Gorm == nil || db.SQL == nil {
		return nil
	}

	return db.Gorm.AutoMigrate(
		&models.HedgePosition{},
		&models.AutoHedgeConfig{},
		&models.AutoRebalanceConfig{},
		&models.RebalanceAssessment{},
		&models.MonitorReport{},
		&models.SystemSetting{},
	)
}
