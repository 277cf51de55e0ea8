package service

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"hedgeguard/internal/config"
	"hedgeguard/internal/hedge"
	"hedgeguard/internal/models"
	"hedgeguard/internal/oracle"
	"hedgeguard/internal/repository"
)

// AutoHedgeService scans enabled portfolio configs each tick, asks the risk
// oracle for a score and opens a protective hedge when the score crosses the
// configured threshold. One portfolio failing never stops the scan; the error
// is recorded on that portfolio's config row and the loop moves on.
type AutoHedgeService struct {
	Repo      repository.Repository
	Oracle    oracle.RiskScoringOracle
	Positions *HedgeService
	Logger    *zap.Logger
	Flags     *SystemSettingsService
	Config    config.AutoHedgeConfig

	guard *entityGuard
}

func NewAutoHedgeService(repo repository.Repository, scorer oracle.RiskScoringOracle, positions *HedgeService, logger *zap.Logger, flags *SystemSettingsService, cfg config.AutoHedgeConfig) *AutoHedgeService {
	return &AutoHedgeService{
		Repo:      repo,
		Oracle:    scorer,
		Positions: positions,
		Logger:    logger,
		Flags:     flags,
		Config:    cfg,
		guard:     newEntityGuard(),
	}
}

func (s *AutoHedgeService) Run(ctx context.Context, interval time.Duration) error {
	if s == nil || s.Repo == nil {
		return nil
	}
	if interval <= 0 {
		interval = time.Minute
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil && s.Logger != nil {
			s.Logger.Warn("auto hedge scan failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}

func (s *AutoHedgeService) RunOnce(ctx context.Context) error {
	if s == nil || s.Repo == nil {
		return nil
	}
	if s.Flags != nil && !s.Flags.IsEnabled(ctx, FeatureAutoHedge, false) {
		return nil
	}
	configs, err := s.Repo.ListEnabledAutoHedgeConfigs(ctx)
	if err != nil || len(configs) == 0 {
		return err
	}
	for i := range configs {
		cfg := &configs[i]
		if _, err := s.evaluatePortfolio(ctx, cfg); err != nil {
			if s.Logger != nil {
				s.Logger.Warn("auto hedge evaluation failed",
					zap.String("portfolio_id", cfg.PortfolioID),
					zap.Error(err),
				)
			}
			_ = s.Repo.RecordAutoHedgeError(ctx, cfg.PortfolioID, err.Error())
		}
	}
	return nil
}

// TriggerStatus is what a manual trigger reports back to the caller.
type TriggerStatus struct {
	PortfolioID string `json:"portfolio_id"`
	Outcome     string `json:"outcome"`
	RiskScore   int    `json:"risk_score,omitempty"`
	HedgeID     string `json:"hedge_id,omitempty"`
}

// TriggerNow evaluates a single portfolio immediately, outside the scan tick.
func (s *AutoHedgeService) TriggerNow(ctx context.Context, portfolioID string) (*TriggerStatus, error) {
	if s == nil || s.Repo == nil {
		return nil, nil
	}
	cfg, err := s.Repo.GetAutoHedgeConfig(ctx, portfolioID)
	if err != nil || cfg == nil {
		return nil, err
	}
	if !cfg.Enabled {
		return &TriggerStatus{PortfolioID: portfolioID, Outcome: "disabled"}, nil
	}
	status, err := s.evaluatePortfolio(ctx, cfg)
	if err != nil {
		_ = s.Repo.RecordAutoHedgeError(ctx, cfg.PortfolioID, err.Error())
		return nil, err
	}
	return status, nil
}

func (s *AutoHedgeService) evaluatePortfolio(ctx context.Context, cfg *models.AutoHedgeConfig) (*TriggerStatus, error) {
	if !s.guard.TryAcquire(cfg.PortfolioID) {
		return &TriggerStatus{PortfolioID: cfg.PortfolioID, Outcome: "in_progress"}, nil
	}
	defer s.guard.Release(cfg.PortfolioID)

	assessment, err := s.assess(ctx, cfg.PortfolioID)
	if err != nil {
		return nil, err
	}
	if assessment == nil {
		// Oracle unavailable is not zero risk; do nothing this tick.
		return &TriggerStatus{PortfolioID: cfg.PortfolioID, Outcome: "oracle_unavailable"}, nil
	}

	// Config thresholds are 1-10; oracle scores are 0-100.
	threshold := cfg.RiskThreshold * 10
	if assessment.RiskScore < threshold {
		return &TriggerStatus{
			PortfolioID: cfg.PortfolioID,
			Outcome:     "below_threshold",
			RiskScore:   assessment.RiskScore,
		}, nil
	}

	// Never stack hedges on a portfolio that is already protected.
	_, active, err := s.Positions.ActiveExposure(ctx, cfg.PortfolioID)
	if err != nil {
		return nil, err
	}
	if active > 0 {
		return &TriggerStatus{
			PortfolioID: cfg.PortfolioID,
			Outcome:     "already_hedged",
			RiskScore:   assessment.RiskScore,
		}, nil
	}

	req := hedge.OpenRequest{
		PortfolioID:      cfg.PortfolioID,
		OwnerWallet:      cfg.OwnerWallet,
		Asset:            s.hedgeAsset(cfg),
		Side:             s.hedgeSide(),
		CollateralAmount: s.collateralFor(assessment.RiskScore, threshold),
		Leverage:         s.leverageFor(cfg),
	}
	policy := hedge.Policy{
		MaxLeverage:   cfg.MaxLeverage,
		AllowedAssets: allowedAssets(cfg.AllowedAssets),
	}
	p, err := s.Positions.Open(ctx, req, policy)
	if err != nil {
		return nil, err
	}
	if err := s.Repo.TouchAutoHedgeTriggered(ctx, cfg.PortfolioID, time.Now().UTC()); err != nil {
		return nil, err
	}
	if s.Logger != nil {
		s.Logger.Info("auto hedge opened",
			zap.String("portfolio_id", cfg.PortfolioID),
			zap.Int("risk_score", assessment.RiskScore),
			zap.String("hedge_id", p.ID),
			zap.String("collateral", req.CollateralAmount.String()),
		)
	}
	return &TriggerStatus{
		PortfolioID: cfg.PortfolioID,
		Outcome:     "hedged",
		RiskScore:   assessment.RiskScore,
		HedgeID:     p.ID,
	}, nil
}

func (s *AutoHedgeService) assess(ctx context.Context, portfolioID string) (*oracle.RiskAssessment, error) {
	if s.Oracle == nil {
		return nil, nil
	}
	timeout := s.Config.OracleTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return s.Oracle.Assess(ctx, portfolioID)
}

// collateralFor scales collateral linearly with how far the score sits above
// the threshold: exactly at threshold opens the base size, a score of 100
// opens double.
func (s *AutoHedgeService) collateralFor(score, threshold int) decimal.Decimal {
	base := decimal.NewFromFloat(s.Config.BaseCollateral)
	if base.LessThanOrEqual(decimal.Zero) {
		base = decimal.NewFromInt(1000)
	}
	headroom := 100 - threshold
	if headroom <= 0 || score <= threshold {
		return base
	}
	excess := score - threshold
	if excess > headroom {
		excess = headroom
	}
	scale := decimal.NewFromInt(1).Add(
		decimal.NewFromInt(int64(excess)).Div(decimal.NewFromInt(int64(headroom))),
	)
	return base.Mul(scale)
}

func (s *AutoHedgeService) leverageFor(cfg *models.AutoHedgeConfig) int {
	leverage := s.Config.DefaultMaxLev
	if leverage < 1 {
		leverage = 1
	}
	if cfg.MaxLeverage > 0 && leverage > cfg.MaxLeverage {
		leverage = cfg.MaxLeverage
	}
	return leverage
}

func (s *AutoHedgeService) hedgeAsset(cfg *models.AutoHedgeConfig) string {
	asset := strings.ToUpper(strings.TrimSpace(cfg.HedgeAsset))
	if asset == "" {
		asset = "BTC"
	}
	return asset
}

func (s *AutoHedgeService) hedgeSide() string {
	side := strings.ToUpper(strings.TrimSpace(s.Config.DefaultHedgeSide))
	if side != models.SideLong && side != models.SideShort {
		side = models.SideShort
	}
	return side
}

func allowedAssets(raw []byte) []string {
	if len(raw) == 0 {
		return nil
	}
	var assets []string
	if err := json.Unmarshal(raw, &assets); err != nil {
		return nil
	}
	return assets
}
