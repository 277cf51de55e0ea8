package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"hedgeguard/internal/config"
	"hedgeguard/internal/executor"
	"hedgeguard/internal/hedge"
	"hedgeguard/internal/models"
	"hedgeguard/internal/oracle"
	"hedgeguard/internal/repository"
)

// AutoRebalanceService compares live allocations against per-portfolio
// targets and rebalances when drift exceeds the configured threshold. Every
// evaluation writes an assessment row, including the ones that decide to do
// nothing, so the audit trail shows what the engine saw.
type AutoRebalanceService struct {
	Repo      repository.Repository
	Valuation oracle.AllocationValuationService
	Executor  executor.RebalanceExecutor
	Logger    *zap.Logger
	Flags     *SystemSettingsService
	Config    config.AutoRebalanceConfig

	guard *entityGuard
}

func NewAutoRebalanceService(repo repository.Repository, valuation oracle.AllocationValuationService, exec executor.RebalanceExecutor, logger *zap.Logger, flags *SystemSettingsService, cfg config.AutoRebalanceConfig) *AutoRebalanceService {
	return &AutoRebalanceService{
		Repo:      repo,
		Valuation: valuation,
		Executor:  exec,
		Logger:    logger,
		Flags:     flags,
		Config:    cfg,
		guard:     newEntityGuard(),
	}
}

func (s *AutoRebalanceService) Run(ctx context.Context, interval time.Duration) error {
	if s == nil || s.Repo == nil {
		return nil
	}
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil && s.Logger != nil {
			s.Logger.Warn("auto rebalance scan failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}

func (s *AutoRebalanceService) RunOnce(ctx context.Context) error {
	if s == nil || s.Repo == nil {
		return nil
	}
	if s.Flags != nil && !s.Flags.IsEnabled(ctx, FeatureAutoRebalance, false) {
		return nil
	}
	configs, err := s.Repo.ListEnabledAutoRebalanceConfigs(ctx)
	if err != nil || len(configs) == 0 {
		return err
	}
	for i := range configs {
		cfg := &configs[i]
		if _, err := s.AssessPortfolio(ctx, cfg); err != nil && s.Logger != nil {
			s.Logger.Warn("rebalance assessment failed",
				zap.String("portfolio_id", cfg.PortfolioID),
				zap.Error(err),
			)
		}
	}
	return nil
}

// TriggerNow assesses one portfolio immediately.
func (s *AutoRebalanceService) TriggerNow(ctx context.Context, portfolioID string) (*models.RebalanceAssessment, error) {
	if s == nil || s.Repo == nil {
		return nil, nil
	}
	cfg, err := s.Repo.GetAutoRebalanceConfig(ctx, portfolioID)
	if err != nil || cfg == nil {
		return nil, err
	}
	if !cfg.Enabled {
		return nil, &hedge.ValidationError{Field: "portfolio_id", Reason: "auto rebalance disabled"}
	}
	return s.AssessPortfolio(ctx, cfg)
}

// ProposedTrade is one leg of a rebalance plan. AmountPct is the share of
// total portfolio value to move.
type ProposedTrade struct {
	Asset     string          `json:"asset"`
	Action    string          `json:"action"`
	AmountPct decimal.Decimal `json:"amount_pct"`
}

func (s *AutoRebalanceService) AssessPortfolio(ctx context.Context, cfg *models.AutoRebalanceConfig) (*models.RebalanceAssessment, error) {
	if s.Valuation == nil {
		return nil, fmt.Errorf("valuation service not configured")
	}
	if !s.guard.TryAcquire(cfg.PortfolioID) {
		return nil, nil
	}
	defer s.guard.Release(cfg.PortfolioID)

	targets, err := decodeTargets(cfg.TargetAllocations)
	if err != nil {
		return nil, err
	}
	allocation, err := s.Valuation.CurrentAllocation(ctx, cfg.PortfolioID)
	if err != nil {
		return nil, err
	}
	totalValue, err := s.Valuation.TotalValue(ctx, cfg.PortfolioID)
	if err != nil {
		return nil, err
	}
	if totalValue.LessThanOrEqual(decimal.Zero) {
		return s.persist(ctx, cfg, decimal.Zero, totalValue, nil, nil,
			models.AssessmentSkipped, "portfolio has no value")
	}

	drifts, maxAbs := computeDrifts(allocation, targets, totalValue)

	// Drift must strictly exceed the threshold; sitting exactly on it is
	// considered in balance.
	if !maxAbs.GreaterThan(cfg.DriftThresholdPct) {
		return s.persist(ctx, cfg, maxAbs, totalValue, drifts, nil,
			models.AssessmentNoAction, "drift within threshold")
	}

	trades := planTrades(drifts)

	if cfg.LastRebalancedAt != nil {
		window := models.RebalanceFrequencyWindow(cfg.Frequency)
		if elapsed := time.Now().UTC().Sub(cfg.LastRebalancedAt.UTC()); elapsed < window {
			return s.persist(ctx, cfg, maxAbs, totalValue, drifts, trades,
				models.AssessmentSkipped, "frequency window not elapsed")
		}
	}

	if !cfg.AutoApprovalEnabled {
		return s.persist(ctx, cfg, maxAbs, totalValue, drifts, trades,
			models.AssessmentRequiresApproval, "auto approval disabled")
	}
	if cfg.AutoApprovalValueCeiling.GreaterThan(decimal.Zero) &&
		totalValue.GreaterThan(cfg.AutoApprovalValueCeiling) {
		return s.persist(ctx, cfg, maxAbs, totalValue, drifts, trades,
			models.AssessmentRequiresApproval, "portfolio value above approval ceiling")
	}

	if s.Executor == nil {
		return s.persist(ctx, cfg, maxAbs, totalValue, drifts, trades,
			models.AssessmentFailed, "rebalance executor not configured")
	}
	result, err := s.Executor.Rebalance(ctx, executor.RebalanceOrder{
		RequestID:   uuid.NewString(),
		PortfolioID: cfg.PortfolioID,
		Legs:        tradeLegs(trades),
	})
	if err != nil || !result.Confirmed {
		if s.Logger != nil {
			s.Logger.Error("rebalance execution failed",
				zap.String("portfolio_id", cfg.PortfolioID),
				zap.Bool("confirmed", result.Confirmed),
				zap.Error(err),
			)
		}
		// The portfolio is not marked rebalanced; the next tick re-evaluates.
		return s.persist(ctx, cfg, maxAbs, totalValue, drifts, trades,
			models.AssessmentFailed, "rebalance execution failed")
	}

	if err := s.Repo.MarkRebalanced(ctx, cfg.PortfolioID, time.Now().UTC()); err != nil {
		return nil, err
	}
	if s.Logger != nil {
		s.Logger.Info("rebalance executed",
			zap.String("portfolio_id", cfg.PortfolioID),
			zap.String("max_drift_pct", maxAbs.String()),
			zap.String("total_value", totalValue.String()),
			zap.Int("trades", len(trades)),
		)
	}
	return s.persist(ctx, cfg, maxAbs, totalValue, drifts, trades,
		models.AssessmentExecuted, "")
}

func tradeLegs(trades []ProposedTrade) []executor.TradeLeg {
	legs := make([]executor.TradeLeg, 0, len(trades))
	for _, trade := range trades {
		legs = append(legs, executor.TradeLeg{
			Asset:     trade.Asset,
			Action:    trade.Action,
			AmountPct: trade.AmountPct,
		})
	}
	return legs
}

func (s *AutoRebalanceService) persist(ctx context.Context, cfg *models.AutoRebalanceConfig, maxAbs, totalValue decimal.Decimal, drifts map[string]decimal.Decimal, trades []ProposedTrade, status, reason string) (*models.RebalanceAssessment, error) {
	item := &models.RebalanceAssessment{
		PortfolioID:    cfg.PortfolioID,
		MaxAbsDriftPct: maxAbs,
		TotalValue:     totalValue,
		Status:         status,
		Reason:         reason,
	}
	if len(drifts) > 0 {
		raw, _ := json.Marshal(drifts)
		item.Drifts = datatypes.JSON(raw)
	}
	if len(trades) > 0 {
		raw, _ := json.Marshal(trades)
		item.Trades = datatypes.JSON(raw)
	}
	if err := s.Repo.InsertRebalanceAssessment(ctx, item); err != nil {
		return nil, err
	}
	return item, nil
}

// ValidateTargets checks that target allocations are a non-empty asset->pct
// map summing to 100 within 0.1.
func ValidateTargets(raw datatypes.JSON) error {
	targets, err := decodeTargets(raw)
	if err != nil {
		return err
	}
	if len(targets) == 0 {
		return &hedge.ValidationError{Field: "target_allocations", Reason: "required"}
	}
	sum := decimal.Zero
	for asset, pct := range targets {
		if pct.LessThan(decimal.Zero) {
			return &hedge.ValidationError{Field: "target_allocations", Reason: "negative target for " + asset}
		}
		sum = sum.Add(pct)
	}
	tolerance := decimal.NewFromFloat(0.1)
	if sum.Sub(decimal.NewFromInt(100)).Abs().GreaterThan(tolerance) {
		return &hedge.ValidationError{Field: "target_allocations", Reason: "targets must sum to 100"}
	}
	return nil
}

func decodeTargets(raw datatypes.JSON) (map[string]decimal.Decimal, error) {
	if len(raw) == 0 {
		return nil, &hedge.ValidationError{Field: "target_allocations", Reason: "required"}
	}
	var targets map[string]decimal.Decimal
	if err := json.Unmarshal(raw, &targets); err != nil {
		return nil, &hedge.ValidationError{Field: "target_allocations", Reason: "invalid json"}
	}
	return targets, nil
}

// computeDrifts returns signed drift per asset (current pct minus target pct)
// over the union of held and targeted assets, plus the largest absolute drift.
func computeDrifts(allocation map[string]decimal.Decimal, targets map[string]decimal.Decimal, totalValue decimal.Decimal) (map[string]decimal.Decimal, decimal.Decimal) {
	assets := map[string]struct{}{}
	for asset := range allocation {
		assets[asset] = struct{}{}
	}
	for asset := range targets {
		assets[asset] = struct{}{}
	}

	hundred := decimal.NewFromInt(100)
	drifts := make(map[string]decimal.Decimal, len(assets))
	maxAbs := decimal.Zero
	for asset := range assets {
		currentPct := decimal.Zero
		if value, ok := allocation[asset]; ok && totalValue.GreaterThan(decimal.Zero) {
			currentPct = value.Div(totalValue).Mul(hundred)
		}
		drift := currentPct.Sub(targets[asset])
		drifts[asset] = drift
		if abs := drift.Abs(); abs.GreaterThan(maxAbs) {
			maxAbs = abs
		}
	}
	return drifts, maxAbs
}

// planTrades proposes one leg per drifted asset: sell the overweight, buy the
// underweight. Legs are ordered sells first so proceeds fund the buys.
func planTrades(drifts map[string]decimal.Decimal) []ProposedTrade {
	trades := make([]ProposedTrade, 0, len(drifts))
	for asset, drift := range drifts {
		if drift.IsZero() {
			continue
		}
		action := "buy"
		if drift.GreaterThan(decimal.Zero) {
			action = "sell"
		}
		trades = append(trades, ProposedTrade{
			Asset:     asset,
			Action:    action,
			AmountPct: drift.Abs(),
		})
	}
	sort.Slice(trades, func(i, j int) bool {
		if trades[i].Action != trades[j].Action {
			return trades[i].Action == "sell"
		}
		return trades[i].Asset < trades[j].Asset
	})
	return trades
}
