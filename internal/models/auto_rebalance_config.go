package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

const (
	RebalanceFrequencyHourly  = "hourly"
	RebalanceFrequencyDaily   = "daily"
	RebalanceFrequencyWeekly  = "weekly"
	RebalanceFrequencyMonthly = "monthly"
)

// RebalanceFrequencyWindow maps a frequency label to the minimum gap between
// two executed rebalances.
func RebalanceFrequencyWindow(frequency string) time.Duration {
	switch frequency {
	case RebalanceFrequencyHourly:
		return time.Hour
	case RebalanceFrequencyWeekly:
		return 7 * 24 * time.Hour
	case RebalanceFrequencyMonthly:
		return 30 * 24 * time.Hour
	default:
		return 24 * time.Hour
	}
}

type AutoRebalanceConfig struct {
	ID          uint64 `gorm:"primaryKey;autoIncrement"`
	PortfolioID string `gorm:"type:varchar(64);not null;uniqueIndex"`
	OwnerWallet string `gorm:"type:varchar(64);not null;index"`

	Enabled           bool            `gorm:"not null;default:false;index"`
	DriftThresholdPct decimal.Decimal `gorm:"type:numeric(10,4);not null;default:5"`
	Frequency         string          `gorm:"type:varchar(10);not null;default:'daily'"`

	AutoApprovalEnabled      bool            `gorm:"not null;default:false"`
	AutoApprovalValueCeiling decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0"`

	// JSON map of asset symbol to target percent; must sum to 100 +-0.1.
	TargetAllocations datatypes.JSON `gorm:"type:jsonb;not null"`

	LastRebalancedAt *time.Time `gorm:"type:timestamptz"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (AutoRebalanceConfig) TableName() string {
	return "auto_rebalance_configs"
}
