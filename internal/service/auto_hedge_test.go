package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"hedgeguard/internal/config"
	"hedgeguard/internal/executor"
	"hedgeguard/internal/models"
	"hedgeguard/internal/oracle"
	"hedgeguard/internal/repository"
)

type autoHedgeRepo struct {
	*lifecycleRepo
	configs    []models.AutoHedgeConfig
	mu         sync.Mutex
	lastErrors map[string]string
	triggered  map[string]time.Time
}

func newAutoHedgeRepo(configs ...models.AutoHedgeConfig) *autoHedgeRepo {
	return &autoHedgeRepo{
		lifecycleRepo: newLifecycleRepo(),
		configs:       configs,
		lastErrors:    map[string]string{},
		triggered:     map[string]time.Time{},
	}
}

func (r *autoHedgeRepo) ListEnabledAutoHedgeConfigs(ctx context.Context) ([]models.AutoHedgeConfig, error) {
	var out []models.AutoHedgeConfig
	for _, c := range r.configs {
		if c.Enabled {
			out = append(out, c)
		}
	}
	return out, nil
}

func (r *autoHedgeRepo) GetAutoHedgeConfig(ctx context.Context, portfolioID string) (*models.AutoHedgeConfig, error) {
	for i := range r.configs {
		if r.configs[i].PortfolioID == portfolioID {
			c := r.configs[i]
			return &c, nil
		}
	}
	return nil, nil
}

func (r *autoHedgeRepo) RecordAutoHedgeError(ctx context.Context, portfolioID string, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastErrors[portfolioID] = message
	return nil
}

func (r *autoHedgeRepo) TouchAutoHedgeTriggered(ctx context.Context, portfolioID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.triggered[portfolioID] = at
	return nil
}

type stubOracle struct {
	scores map[string]int
	errs   map[string]error
	absent bool
}

func (o *stubOracle) Assess(ctx context.Context, portfolioID string) (*oracle.RiskAssessment, error) {
	if err, ok := o.errs[portfolioID]; ok {
		return nil, err
	}
	if o.absent {
		return nil, nil
	}
	return &oracle.RiskAssessment{
		PortfolioID: portfolioID,
		RiskScore:   o.scores[portfolioID],
		OverallRisk: oracle.RiskHigh,
	}, nil
}

func enabledConfig(portfolioID string) models.AutoHedgeConfig {
	return models.AutoHedgeConfig{
		PortfolioID:   portfolioID,
		OwnerWallet:   "0xabc",
		Enabled:       true,
		RiskThreshold: 7,
		MaxLeverage:   5,
		HedgeAsset:    "BTC",
	}
}

func autoHedgeConfig() config.AutoHedgeConfig {
	return config.AutoHedgeConfig{
		DefaultMaxLev:    10,
		BaseCollateral:   1000,
		DefaultHedgeSide: "SHORT",
	}
}

func newTestAutoHedge(repo *autoHedgeRepo, scorer oracle.RiskScoringOracle, exec executor.PositionExecutor) *AutoHedgeService {
	positions := &HedgeService{Repo: repo, Executor: exec}
	return NewAutoHedgeService(repo, scorer, positions, nil, nil, autoHedgeConfig())
}

func confirmedOpen() *stubExecutor {
	return &stubExecutor{openResult: executor.OpenResult{
		EntryPrice: decimal.NewFromInt(96000),
		Confirmed:  true,
	}}
}

func TestAutoHedgeOpensAboveThreshold(t *testing.T) {
	repo := newAutoHedgeRepo(enabledConfig("pf-1"))
	exec := confirmedOpen()
	svc := newTestAutoHedge(repo, &stubOracle{scores: map[string]int{"pf-1": 78}}, exec)

	if err := svc.RunOnce(context.Background()); err != nil {
		t.Fatalf("err=%v", err)
	}
	if len(repo.inserted) != 1 {
		t.Fatalf("inserted=%d want 1", len(repo.inserted))
	}
	p := repo.inserted[0]
	if p.Side != models.SideShort || p.Asset != "BTC" {
		t.Fatalf("side=%s asset=%s", p.Side, p.Asset)
	}
	// Threshold 7 maps to score 70; default leverage 10 capped to 5.
	if p.Leverage != 5 {
		t.Fatalf("leverage=%d want 5", p.Leverage)
	}
	if _, ok := repo.triggered["pf-1"]; !ok {
		t.Fatalf("last_triggered_at not touched")
	}
}

func TestAutoHedgeSkipsBelowThreshold(t *testing.T) {
	repo := newAutoHedgeRepo(enabledConfig("pf-1"))
	exec := confirmedOpen()
	// Score 40 against a threshold of 7 (=70) stays untouched.
	svc := newTestAutoHedge(repo, &stubOracle{scores: map[string]int{"pf-1": 40}}, exec)

	if err := svc.RunOnce(context.Background()); err != nil {
		t.Fatalf("err=%v", err)
	}
	if len(repo.inserted) != 0 || len(exec.opens) != 0 {
		t.Fatalf("no hedge expected below threshold")
	}
}

func TestAutoHedgeThresholdBoundary(t *testing.T) {
	repo := newAutoHedgeRepo(enabledConfig("pf-1"))
	exec := confirmedOpen()
	// Exactly at the mapped threshold the hedge opens.
	svc := newTestAutoHedge(repo, &stubOracle{scores: map[string]int{"pf-1": 70}}, exec)

	if err := svc.RunOnce(context.Background()); err != nil {
		t.Fatalf("err=%v", err)
	}
	if len(repo.inserted) != 1 {
		t.Fatalf("inserted=%d want 1 at boundary", len(repo.inserted))
	}
}

func TestAutoHedgeOracleUnavailableIsNotZeroRisk(t *testing.T) {
	repo := newAutoHedgeRepo(enabledConfig("pf-1"))
	exec := confirmedOpen()
	svc := newTestAutoHedge(repo, &stubOracle{absent: true}, exec)

	if err := svc.RunOnce(context.Background()); err != nil {
		t.Fatalf("err=%v", err)
	}
	if len(repo.inserted) != 0 {
		t.Fatalf("absent oracle must not open hedges")
	}
	if len(repo.lastErrors) != 0 {
		t.Fatalf("absent oracle is not an error: %v", repo.lastErrors)
	}
}

func TestAutoHedgeNeverStacks(t *testing.T) {
	repo := newAutoHedgeRepo(enabledConfig("pf-1"))
	repo.positions = []models.HedgePosition{{
		ID:          "existing",
		PortfolioID: "pf-1",
		Status:      models.HedgeStatusActive,
	}}
	exec := confirmedOpen()
	svc := newTestAutoHedge(repo, &stubOracle{scores: map[string]int{"pf-1": 90}}, exec)

	if err := svc.RunOnce(context.Background()); err != nil {
		t.Fatalf("err=%v", err)
	}
	if len(repo.inserted) != 0 {
		t.Fatalf("must not stack a second hedge on a protected portfolio")
	}
}

func TestAutoHedgeIsolatesFailingPortfolio(t *testing.T) {
	repo := newAutoHedgeRepo(enabledConfig("pf-bad"), enabledConfig("pf-good"))
	exec := confirmedOpen()
	scorer := &stubOracle{
		scores: map[string]int{"pf-good": 85},
		errs:   map[string]error{"pf-bad": errors.New("scorer offline")},
	}
	svc := newTestAutoHedge(repo, scorer, exec)

	if err := svc.RunOnce(context.Background()); err != nil {
		t.Fatalf("err=%v", err)
	}
	if repo.lastErrors["pf-bad"] == "" {
		t.Fatalf("failure must be recorded on the failing config")
	}
	if len(repo.inserted) != 1 || repo.inserted[0].PortfolioID != "pf-good" {
		t.Fatalf("healthy portfolio must still be hedged: %v", repo.inserted)
	}
}

func TestAutoHedgeTriggerNowDisabledConfig(t *testing.T) {
	cfg := enabledConfig("pf-1")
	cfg.Enabled = false
	repo := newAutoHedgeRepo(cfg)
	svc := newTestAutoHedge(repo, &stubOracle{scores: map[string]int{"pf-1": 90}}, confirmedOpen())

	status, err := svc.TriggerNow(context.Background(), "pf-1")
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if status == nil || status.Outcome != "disabled" {
		t.Fatalf("status=%+v want disabled", status)
	}
}

func TestAutoHedgeTriggerNowUnknownPortfolio(t *testing.T) {
	repo := newAutoHedgeRepo()
	svc := newTestAutoHedge(repo, &stubOracle{}, confirmedOpen())

	status, err := svc.TriggerNow(context.Background(), "missing")
	if err != nil || status != nil {
		t.Fatalf("status=%v err=%v want nil, nil", status, err)
	}
}

func TestCollateralScalesWithExcessRisk(t *testing.T) {
	svc := &AutoHedgeService{Config: autoHedgeConfig()}
	cases := []struct {
		score, threshold int
		want             int64
	}{
		{70, 70, 1000},
		{85, 70, 1500},
		{100, 70, 2000},
		{60, 70, 1000},
	}
	for _, tc := range cases {
		got := svc.collateralFor(tc.score, tc.threshold)
		if !got.Equal(decimal.NewFromInt(tc.want)) {
			t.Fatalf("collateralFor(%d, %d)=%s want %d", tc.score, tc.threshold, got, tc.want)
		}
	}
}

var _ repository.Repository = (*autoHedgeRepo)(nil)
