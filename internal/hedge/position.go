package hedge

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"hedgeguard/internal/models"
)

// OpenRequest describes a hedge to be opened on behalf of a portfolio.
type OpenRequest struct {
	PortfolioID      string
	OwnerWallet      string
	Asset            string
	Side             string
	CollateralAmount decimal.Decimal
	Leverage         int

	StopLoss             *decimal.Decimal
	TakeProfit           *decimal.Decimal
	TrailingStopDistance *decimal.Decimal
}

// Policy is the portfolio-level constraint set an open request is validated
// against.
type Policy struct {
	MaxLeverage   int
	AllowedAssets []string
}

// Allows reports whether the policy admits the asset. An empty allow-list is
// unrestricted.
func (p Policy) Allows(asset string) bool {
	if len(p.AllowedAssets) == 0 {
		return true
	}
	for _, a := range p.AllowedAssets {
		if strings.EqualFold(a, asset) {
			return true
		}
	}
	return false
}

// Validate checks an open request against the portfolio policy.
func (r OpenRequest) Validate(policy Policy) error {
	if strings.TrimSpace(r.PortfolioID) == "" {
		return &ValidationError{Field: "portfolio_id", Reason: "required"}
	}
	if strings.TrimSpace(r.Asset) == "" {
		return &ValidationError{Field: "asset", Reason: "required"}
	}
	if r.Side != models.SideLong && r.Side != models.SideShort {
		return &ValidationError{Field: "side", Reason: "must be LONG or SHORT"}
	}
	if r.CollateralAmount.LessThanOrEqual(decimal.Zero) {
		return &ValidationError{Field: "collateral_amount", Reason: "must be positive"}
	}
	if r.Leverage < 1 {
		return &ValidationError{Field: "leverage", Reason: "must be at least 1"}
	}
	if policy.MaxLeverage > 0 && r.Leverage > policy.MaxLeverage {
		return &ValidationError{Field: "leverage", Reason: "exceeds portfolio maximum"}
	}
	if !policy.Allows(r.Asset) {
		return &ValidationError{Field: "asset", Reason: "not in allowed set"}
	}
	return nil
}

// NewPosition builds a pending position from a validated request. The entry
// price is fixed on executor confirmation, not here.
func NewPosition(id string, r OpenRequest, now time.Time) *models.HedgePosition {
	return &models.HedgePosition{
		ID:                   id,
		OwnerWallet:          r.OwnerWallet,
		PortfolioID:          r.PortfolioID,
		Asset:                strings.ToUpper(strings.TrimSpace(r.Asset)),
		Side:                 r.Side,
		CollateralAmount:     r.CollateralAmount,
		NotionalValue:        r.CollateralAmount.Mul(decimal.NewFromInt(int64(r.Leverage))),
		Leverage:             r.Leverage,
		StopLoss:             r.StopLoss,
		TakeProfit:           r.TakeProfit,
		TrailingStopDistance: r.TrailingStopDistance,
		Status:               models.HedgeStatusPending,
		OpenedAt:             now,
	}
}

// Activate moves a pending position to active with its confirmed entry price.
func Activate(p *models.HedgePosition, entryPrice decimal.Decimal) error {
	if !CanTransition(p.Status, models.HedgeStatusActive) {
		return &InvalidStateError{HedgeID: p.ID, From: p.Status, Op: "activate"}
	}
	p.Status = models.HedgeStatusActive
	p.EntryPrice = entryPrice
	p.CurrentPrice = entryPrice
	return nil
}

// Refresh recomputes unrealized PnL from a fresh price. Valid only while
// active.
//
//	pnl    = direction * (price - entry) / entry * notional
//	pnlPct = direction * (price - entry) / entry * leverage * 100
func Refresh(p *models.HedgePosition, currentPrice decimal.Decimal) error {
	if p.Status != models.HedgeStatusActive {
		return &InvalidStateError{HedgeID: p.ID, From: p.Status, Op: "refresh"}
	}
	if currentPrice.LessThanOrEqual(decimal.Zero) || p.EntryPrice.LessThanOrEqual(decimal.Zero) {
		return &ValidationError{Field: "current_price", Reason: "must be positive"}
	}
	direction := decimal.NewFromInt(p.Direction())
	move := currentPrice.Sub(p.EntryPrice).Div(p.EntryPrice)
	p.CurrentPrice = currentPrice
	p.UnrealizedPnL = direction.Mul(move).Mul(p.NotionalValue)
	p.UnrealizedPnLPct = direction.Mul(move).
		Mul(decimal.NewFromInt(int64(p.Leverage))).
		Mul(decimal.NewFromInt(100))
	return nil
}

// Close terminates an active position. Liquidated marks a close forced by a
// margin or solvency failure upstream; anything else is a normal close.
func Close(p *models.HedgePosition, reason string, realizedPnL decimal.Decimal, liquidated bool, now time.Time) error {
	target := models.HedgeStatusClosed
	if liquidated {
		target = models.HedgeStatusLiquidated
	}
	if !CanTransition(p.Status, target) {
		return &InvalidStateError{HedgeID: p.ID, From: p.Status, Op: "close"}
	}
	p.Status = target
	p.CloseReason = reason
	p.RealizedPnL = realizedPnL
	p.UnrealizedPnL = decimal.Zero
	p.UnrealizedPnLPct = decimal.Zero
	closedAt := now
	p.ClosedAt = &closedAt
	return nil
}

// Cancel aborts a pending position that never confirmed.
func Cancel(p *models.HedgePosition, reason string, now time.Time) error {
	if !CanTransition(p.Status, models.HedgeStatusCancelled) {
		return &InvalidStateError{HedgeID: p.ID, From: p.Status, Op: "cancel"}
	}
	p.Status = models.HedgeStatusCancelled
	p.CloseReason = reason
	closedAt := now
	p.ClosedAt = &closedAt
	return nil
}
