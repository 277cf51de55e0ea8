// Package oracle declares the read-side collaborators the controllers depend
// on: risk scoring, portfolio valuation and the price feed. All are external
// systems; the engine specifies only their contracts.
package oracle

import (
	"context"

	"github.com/shopspring/decimal"
)

// Risk levels reported by the scoring oracle.
const (
	RiskLow    = "low"
	RiskMedium = "medium"
	RiskHigh   = "high"
)

// RiskAssessment is an ephemeral snapshot, one per controller tick per
// portfolio.
type RiskAssessment struct {
	PortfolioID       string
	RiskScore         int // 0-100
	OverallRisk       string
	RecommendedAction string
}

// RiskScoringOracle may be unavailable; callers must treat absence as "no
// action this tick", never as zero risk.
type RiskScoringOracle interface {
	Assess(ctx context.Context, portfolioID string) (*RiskAssessment, error)
}

// AllocationValuationService reports live portfolio composition.
// CurrentAllocation returns the held value per asset in quote units, not
// percentages; callers derive percentages against TotalValue so both numbers
// come from the same valuation snapshot.
type AllocationValuationService interface {
	CurrentAllocation(ctx context.Context, portfolioID string) (map[string]decimal.Decimal, error)
	TotalValue(ctx context.Context, portfolioID string) (decimal.Decimal, error)
}

// PriceFeed has its own freshness guarantees; the monitor only compares
// consecutive ticks.
type PriceFeed interface {
	CurrentPrice(ctx context.Context, asset string) (decimal.Decimal, error)
}
