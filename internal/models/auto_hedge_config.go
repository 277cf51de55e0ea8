package models

import (
	"time"

	"gorm.io/datatypes"
)

// AutoHedgeConfig holds the per-portfolio policy for risk-triggered hedging.
// Exactly one row per portfolio; saves are upserts. Disabling keeps the row
// (soft-disable), deleting removes it.
type AutoHedgeConfig struct {
	ID          uint64 `gorm:"primaryKey;autoIncrement"`
	PortfolioID string `gorm:"type:varchar(64);not null;uniqueIndex"`
	OwnerWallet string `gorm:"type:varchar(64);not null;index"`

	Enabled       bool   `gorm:"not null;default:false;index"`
	RiskThreshold int    `gorm:"not null;default:7"`
	MaxLeverage   int    `gorm:"not null;default:10"`
	HedgeAsset    string `gorm:"type:varchar(20);not null;default:'BTC'"`

	// JSON array of allowed asset symbols; empty means unrestricted.
	AllowedAssets datatypes.JSON `gorm:"type:jsonb"`

	LastError       string     `gorm:"type:text"`
	LastTriggeredAt *time.Time `gorm:"type:timestamptz"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (AutoHedgeConfig) TableName() string {
	return "auto_hedge_configs"
}
