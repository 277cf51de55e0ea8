package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// MonitorReport aggregates one safety-net pass over all active hedges.
type MonitorReport struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"`

	Checked         int `gorm:"not null;default:0"`
	EmergencyCloses int `gorm:"not null;default:0"`
	StopLossCloses  int `gorm:"not null;default:0"`
	TakeProfits     int `gorm:"not null;default:0"`
	TrailingStops   int `gorm:"not null;default:0"`
	FailedCloses    int `gorm:"not null;default:0"`
	Healthy         int `gorm:"not null;default:0"`
	Critical        int `gorm:"not null;default:0"`

	TotalUnrealizedPnL decimal.Decimal `gorm:"column:total_unrealized_pnl;type:numeric(30,10);not null;default:0"`

	StartedAt  time.Time `gorm:"type:timestamptz;not null"`
	DurationMs int64     `gorm:"not null;default:0"`
	CreatedAt  time.Time `gorm:"type:timestamptz;autoCreateTime;index"`
}

func (MonitorReport) TableName() string {
	return "monitor_reports"
}
