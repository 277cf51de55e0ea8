package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// HedgePosition statuses. Pending positions await on-chain confirmation;
// closed, liquidated and cancelled are terminal.
const (
	HedgeStatusPending    = "pending"
	HedgeStatusActive     = "active"
	HedgeStatusClosed     = "closed"
	HedgeStatusLiquidated = "liquidated"
	HedgeStatusCancelled  = "cancelled"
)

const (
	SideLong  = "LONG"
	SideShort = "SHORT"
)

type HedgePosition struct {
	ID             string `gorm:"type:varchar(64);primaryKey"`
	CommitmentHash string `gorm:"type:varchar(130);index"`
	Nullifier      string `gorm:"type:varchar(130);uniqueIndex"`
	OwnerWallet    string `gorm:"type:varchar(64);not null;index"`
	PortfolioID    string `gorm:"type:varchar(64);not null;index"`

	Asset string `gorm:"type:varchar(20);not null"`
	Side  string `gorm:"type:varchar(5);not null"`

	NotionalValue    decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0"`
	CollateralAmount decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0"`
	Leverage         int             `gorm:"not null;default:1"`

	EntryPrice       decimal.Decimal `gorm:"type:numeric(20,10);not null;default:0"`
	CurrentPrice     decimal.Decimal `gorm:"type:numeric(20,10);not null;default:0"`
	UnrealizedPnL    decimal.Decimal `gorm:"column:unrealized_pnl;type:numeric(30,10);not null;default:0"`
	UnrealizedPnLPct decimal.Decimal `gorm:"column:unrealized_pnl_pct;type:numeric(20,10);not null;default:0"`
	RealizedPnL      decimal.Decimal `gorm:"column:realized_pnl;type:numeric(30,10);not null;default:0"`

	StopLoss             *decimal.Decimal `gorm:"type:numeric(20,10)"`
	TakeProfit           *decimal.Decimal `gorm:"type:numeric(20,10)"`
	TrailingStopDistance *decimal.Decimal `gorm:"type:numeric(20,10)"`

	Status      string     `gorm:"type:varchar(20);not null;default:'pending';index"`
	CloseReason string     `gorm:"type:varchar(40)"`
	OpenedAt    time.Time  `gorm:"type:timestamptz;not null"`
	ClosedAt    *time.Time `gorm:"type:timestamptz"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime;index"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (HedgePosition) TableName() string {
	return "hedge_positions"
}

// IsTerminal reports whether the position can no longer change.
func (p *HedgePosition) IsTerminal() bool {
	switch p.Status {
	case HedgeStatusClosed, HedgeStatusLiquidated, HedgeStatusCancelled:
		return true
	}
	return false
}

// Direction is +1 for LONG and -1 for SHORT.
func (p *HedgePosition) Direction() int64 {
	if p.Side == SideShort {
		return -1
	}
	return 1
}
