package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"hedgeguard/internal/executor"
	"hedgeguard/internal/hedge"
	"hedgeguard/internal/models"
	"hedgeguard/internal/repository"
)

// HedgeService owns the hedge lifecycle: open through the executor, activate
// on confirmation, close or cancel. The position id doubles as the executor
// idempotency key, so a retried open can never double-execute.
type HedgeService struct {
	Repo     repository.Repository
	Executor executor.PositionExecutor
	Logger   *zap.Logger
}

func (s *HedgeService) Open(ctx context.Context, req hedge.OpenRequest, policy hedge.Policy) (*models.HedgePosition, error) {
	if s == nil || s.Repo == nil || s.Executor == nil {
		return nil, nil
	}
	if err := req.Validate(policy); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	p := hedge.NewPosition(uuid.NewString(), req, now)
	if err := s.Repo.InsertHedgePosition(ctx, p); err != nil {
		return nil, err
	}

	result, err := s.Executor.Open(ctx, executor.OpenOrder{
		RequestID:   p.ID,
		PortfolioID: p.PortfolioID,
		OwnerWallet: p.OwnerWallet,
		Asset:       p.Asset,
		Side:        p.Side,
		Collateral:  p.CollateralAmount,
		Leverage:    p.Leverage,
	})
	if err != nil {
		if _, cancelErr := s.Repo.CancelPendingHedgePosition(ctx, p.ID, "executor_failed", time.Now().UTC()); cancelErr != nil && s.Logger != nil {
			s.Logger.Error("cancel after failed open",
				zap.String("hedge_id", p.ID),
				zap.Error(cancelErr),
			)
		}
		return nil, &hedge.ExecutorFailure{RequestID: p.ID, Cause: err}
	}
	if !result.Confirmed {
		// Stays pending; the monitor cancels it if confirmation never lands.
		return p, nil
	}

	if err := s.Repo.ActivateHedgePosition(ctx, p.ID, result.CommitmentHash, result.Nullifier, result.EntryPrice); err != nil {
		return nil, err
	}
	if err := hedge.Activate(p, result.EntryPrice); err != nil {
		return nil, err
	}
	p.CommitmentHash = result.CommitmentHash
	p.Nullifier = result.Nullifier
	if s.Logger != nil {
		s.Logger.Info("hedge opened",
			zap.String("hedge_id", p.ID),
			zap.String("portfolio_id", p.PortfolioID),
			zap.String("asset", p.Asset),
			zap.String("side", p.Side),
			zap.String("entry_price", result.EntryPrice.String()),
		)
	}
	return p, nil
}

// Close terminates a hedge. An active hedge is closed through the executor; a
// pending hedge is cancelled locally without touching the settlement layer.
func (s *HedgeService) Close(ctx context.Context, id, reason string) (*models.HedgePosition, error) {
	if s == nil || s.Repo == nil {
		return nil, nil
	}
	p, err := s.Repo.GetHedgePositionByID(ctx, id)
	if err != nil || p == nil {
		return nil, err
	}
	switch p.Status {
	case models.HedgeStatusPending:
		now := time.Now().UTC()
		rows, err := s.Repo.CancelPendingHedgePosition(ctx, p.ID, reason, now)
		if err != nil {
			return nil, err
		}
		if rows > 0 {
			_ = hedge.Cancel(p, reason, now)
		}
		return p, nil
	case models.HedgeStatusActive:
	default:
		return nil, &hedge.InvalidStateError{HedgeID: p.ID, From: p.Status, Op: "close"}
	}
	return s.closeActive(ctx, p, reason, false)
}

func (s *HedgeService) closeActive(ctx context.Context, p *models.HedgePosition, reason string, liquidated bool) (*models.HedgePosition, error) {
	if s.Executor == nil {
		return nil, &hedge.ExecutorFailure{RequestID: p.ID}
	}
	// The hedge id is the close request id, like the open path: a close that
	// failed last tick retries under the same id, so a submission that actually
	// landed cannot execute twice on the settlement layer.
	result, err := s.Executor.Close(ctx, executor.CloseOrder{
		RequestID: p.ID,
		HedgeID:   p.ID,
		Reason:    reason,
	})
	if err != nil {
		return nil, &hedge.ExecutorFailure{RequestID: p.ID, Cause: err}
	}
	status := models.HedgeStatusClosed
	if liquidated {
		status = models.HedgeStatusLiquidated
	}
	now := time.Now().UTC()
	rows, err := s.Repo.CloseHedgePosition(ctx, p.ID, status, reason, result.RealizedPnL, now)
	if err != nil {
		return nil, err
	}
	if rows == 0 {
		// Lost the race: another closer already terminated the row.
		return s.Repo.GetHedgePositionByID(ctx, p.ID)
	}
	_ = hedge.Close(p, reason, result.RealizedPnL, liquidated, now)
	if s.Logger != nil {
		s.Logger.Info("hedge closed",
			zap.String("hedge_id", p.ID),
			zap.String("reason", reason),
			zap.String("realized_pnl", result.RealizedPnL.String()),
			zap.Bool("liquidated", liquidated),
		)
	}
	return p, nil
}

// CancelStalePending cancels pending hedges whose confirmation never arrived
// within timeout. Returns the number cancelled.
func (s *HedgeService) CancelStalePending(ctx context.Context, timeout time.Duration) (int, error) {
	if s == nil || s.Repo == nil || timeout <= 0 {
		return 0, nil
	}
	status := models.HedgeStatusPending
	items, err := s.Repo.ListHedgePositions(ctx, repository.ListHedgePositionsParams{
		Status: &status,
		Limit:  500,
	})
	if err != nil {
		return 0, err
	}
	cutoff := time.Now().UTC().Add(-timeout)
	cancelled := 0
	for _, p := range items {
		if p.OpenedAt.After(cutoff) {
			continue
		}
		rows, err := s.Repo.CancelPendingHedgePosition(ctx, p.ID, "confirmation_timeout", time.Now().UTC())
		if err != nil {
			return cancelled, err
		}
		if rows > 0 {
			cancelled++
			if s.Logger != nil {
				s.Logger.Warn("stale pending hedge cancelled",
					zap.String("hedge_id", p.ID),
					zap.Time("opened_at", p.OpenedAt),
				)
			}
		}
	}
	return cancelled, nil
}

func (s *HedgeService) Summary(ctx context.Context) (repository.HedgeSummary, error) {
	if s == nil || s.Repo == nil {
		return repository.HedgeSummary{}, nil
	}
	return s.Repo.HedgePositionsSummary(ctx)
}

// ActiveExposure is the summed notional of active hedges for one portfolio.
func (s *HedgeService) ActiveExposure(ctx context.Context, portfolioID string) (decimal.Decimal, int, error) {
	if s == nil || s.Repo == nil {
		return decimal.Zero, 0, nil
	}
	status := models.HedgeStatusActive
	items, err := s.Repo.ListHedgePositions(ctx, repository.ListHedgePositionsParams{
		Status:      &status,
		PortfolioID: &portfolioID,
		Limit:       500,
	})
	if err != nil {
		return decimal.Zero, 0, err
	}
	total := decimal.Zero
	for _, p := range items {
		total = total.Add(p.NotionalValue)
	}
	return total, len(items), nil
}
