// Package executor abstracts the on-chain settlement layer that opens and
// closes hedges. The engine trusts it as an opaque position executor; every
// request carries an idempotency key so a retried open or close cannot
// double-execute on the underlying settlement contract.
package executor

import (
	"context"

	"github.com/shopspring/decimal"
)

type OpenOrder struct {
	RequestID   string
	PortfolioID string
	OwnerWallet string
	Asset       string
	Side        string
	Collateral  decimal.Decimal
	Leverage    int
}

type OpenResult struct {
	HedgeID        string
	CommitmentHash string
	Nullifier      string
	EntryPrice     decimal.Decimal
	Confirmed      bool
}

type CloseOrder struct {
	RequestID string
	HedgeID   string
	Reason    string
}

type CloseResult struct {
	RealizedPnL decimal.Decimal
	Confirmed   bool
}

// PositionExecutor opens and closes hedges on the settlement layer. Both
// operations must be idempotent with respect to RequestID.
type PositionExecutor interface {
	Open(ctx context.Context, order OpenOrder) (OpenResult, error)
	Close(ctx context.Context, order CloseOrder) (CloseResult, error)
}

// TradeLeg is one movement of a rebalance: buy or sell AmountPct of the
// portfolio's total value in Asset.
type TradeLeg struct {
	Asset     string
	Action    string
	AmountPct decimal.Decimal
}

type RebalanceOrder struct {
	RequestID   string
	PortfolioID string
	Legs        []TradeLeg
}

type RebalanceResult struct {
	Confirmed bool
}

// RebalanceExecutor submits a rebalance trade list to the settlement layer as
// one atomic batch, idempotent with respect to RequestID.
type RebalanceExecutor interface {
	Rebalance(ctx context.Context, order RebalanceOrder) (RebalanceResult, error)
}
