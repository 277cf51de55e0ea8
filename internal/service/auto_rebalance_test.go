package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"

	"hedgeguard/internal/config"
	"hedgeguard/internal/executor"
	"hedgeguard/internal/models"
	"hedgeguard/internal/repository"
)

type rebalanceRepo struct {
	repository.Repository
	mu          sync.Mutex
	configs     []models.AutoRebalanceConfig
	assessments []*models.RebalanceAssessment
	rebalanced  map[string]time.Time
}

func newRebalanceRepo(configs ...models.AutoRebalanceConfig) *rebalanceRepo {
	return &rebalanceRepo{configs: configs, rebalanced: map[string]time.Time{}}
}

func (r *rebalanceRepo) ListEnabledAutoRebalanceConfigs(ctx context.Context) ([]models.AutoRebalanceConfig, error) {
	var out []models.AutoRebalanceConfig
	for _, c := range r.configs {
		if c.Enabled {
			out = append(out, c)
		}
	}
	return out, nil
}

func (r *rebalanceRepo) GetAutoRebalanceConfig(ctx context.Context, portfolioID string) (*models.AutoRebalanceConfig, error) {
	for i := range r.configs {
		if r.configs[i].PortfolioID == portfolioID {
			c := r.configs[i]
			return &c, nil
		}
	}
	return nil, nil
}

func (r *rebalanceRepo) InsertRebalanceAssessment(ctx context.Context, item *models.RebalanceAssessment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.assessments = append(r.assessments, item)
	return nil
}

func (r *rebalanceRepo) MarkRebalanced(ctx context.Context, portfolioID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rebalanced[portfolioID] = at
	return nil
}

type stubRebalanceExecutor struct {
	mu     sync.Mutex
	result executor.RebalanceResult
	err    error
	orders []executor.RebalanceOrder
}

func (e *stubRebalanceExecutor) Rebalance(ctx context.Context, order executor.RebalanceOrder) (executor.RebalanceResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.orders = append(e.orders, order)
	return e.result, e.err
}

func (e *stubRebalanceExecutor) orderCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.orders)
}

func confirmedRebalance() *stubRebalanceExecutor {
	return &stubRebalanceExecutor{result: executor.RebalanceResult{Confirmed: true}}
}

type stubValuation struct {
	allocation map[string]decimal.Decimal
	total      decimal.Decimal
}

func (v *stubValuation) CurrentAllocation(ctx context.Context, portfolioID string) (map[string]decimal.Decimal, error) {
	return v.allocation, nil
}

func (v *stubValuation) TotalValue(ctx context.Context, portfolioID string) (decimal.Decimal, error) {
	return v.total, nil
}

func targetsJSON(t *testing.T, targets map[string]float64) datatypes.JSON {
	t.Helper()
	raw, err := json.Marshal(targets)
	if err != nil {
		t.Fatalf("marshal targets: %v", err)
	}
	return datatypes.JSON(raw)
}

func rebalanceConfig(t *testing.T) models.AutoRebalanceConfig {
	return models.AutoRebalanceConfig{
		PortfolioID:         "pf-1",
		OwnerWallet:         "0xabc",
		Enabled:             true,
		DriftThresholdPct:   decimal.NewFromInt(5),
		Frequency:           models.RebalanceFrequencyDaily,
		AutoApprovalEnabled: true,
		TargetAllocations:   targetsJSON(t, map[string]float64{"BTC": 60, "ETH": 40}),
	}
}

func newTestRebalance(repo *rebalanceRepo, valuation *stubValuation, exec *stubRebalanceExecutor) *AutoRebalanceService {
	return NewAutoRebalanceService(repo, valuation, exec, nil, nil, config.AutoRebalanceConfig{})
}

// 70/30 against a 60/40 target is a 10 point drift on both legs.
func driftedValuation() *stubValuation {
	return &stubValuation{
		allocation: map[string]decimal.Decimal{
			"BTC": decimal.NewFromInt(70000),
			"ETH": decimal.NewFromInt(30000),
		},
		total: decimal.NewFromInt(100000),
	}
}

func TestRebalanceExecutesAboveThreshold(t *testing.T) {
	repo := newRebalanceRepo()
	exec := confirmedRebalance()
	svc := newTestRebalance(repo, driftedValuation(), exec)
	cfg := rebalanceConfig(t)

	a, err := svc.AssessPortfolio(context.Background(), &cfg)
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if a.Status != models.AssessmentExecuted {
		t.Fatalf("status=%s want executed", a.Status)
	}
	if !a.MaxAbsDriftPct.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("max drift=%s want 10", a.MaxAbsDriftPct)
	}
	if _, ok := repo.rebalanced["pf-1"]; !ok {
		t.Fatalf("last_rebalanced_at not set")
	}

	if exec.orderCount() != 1 {
		t.Fatalf("orders=%d want 1", exec.orderCount())
	}
	order := exec.orders[0]
	if order.PortfolioID != "pf-1" || order.RequestID == "" {
		t.Fatalf("order=%+v", order)
	}
	if len(order.Legs) != 2 || order.Legs[0].Action != "sell" || order.Legs[0].Asset != "BTC" {
		t.Fatalf("sells must come first: %+v", order.Legs)
	}
	if order.Legs[1].Action != "buy" || order.Legs[1].Asset != "ETH" {
		t.Fatalf("legs=%+v", order.Legs)
	}

	var trades []ProposedTrade
	if err := json.Unmarshal(a.Trades, &trades); err != nil {
		t.Fatalf("trades=%s: %v", a.Trades, err)
	}
	if len(trades) != 2 {
		t.Fatalf("trades=%+v", trades)
	}
}

func TestRebalanceFailedExecutionDoesNotMarkRebalanced(t *testing.T) {
	cases := []struct {
		name string
		exec *stubRebalanceExecutor
	}{
		{"executor error", &stubRebalanceExecutor{err: errors.New("gateway down")}},
		{"unconfirmed", &stubRebalanceExecutor{result: executor.RebalanceResult{Confirmed: false}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			repo := newRebalanceRepo()
			svc := newTestRebalance(repo, driftedValuation(), tc.exec)
			cfg := rebalanceConfig(t)

			a, err := svc.AssessPortfolio(context.Background(), &cfg)
			if err != nil {
				t.Fatalf("err=%v", err)
			}
			if a.Status != models.AssessmentFailed {
				t.Fatalf("status=%s want failed", a.Status)
			}
			if tc.exec.orderCount() != 1 {
				t.Fatalf("orders=%d want 1", tc.exec.orderCount())
			}
			if len(repo.rebalanced) != 0 {
				t.Fatalf("failed execution must not mark rebalanced")
			}
			if len(repo.assessments) != 1 {
				t.Fatalf("failed execution must still leave an audit row")
			}
		})
	}
}

func TestRebalanceDriftExactlyAtThresholdHolds(t *testing.T) {
	repo := newRebalanceRepo()
	exec := confirmedRebalance()
	// 65/35 against 60/40 drifts exactly 5 points, the threshold.
	svc := newTestRebalance(repo, &stubValuation{
		allocation: map[string]decimal.Decimal{
			"BTC": decimal.NewFromInt(65000),
			"ETH": decimal.NewFromInt(35000),
		},
		total: decimal.NewFromInt(100000),
	}, exec)
	cfg := rebalanceConfig(t)

	a, err := svc.AssessPortfolio(context.Background(), &cfg)
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if a.Status != models.AssessmentNoAction {
		t.Fatalf("status=%s want no_action", a.Status)
	}
	if len(repo.rebalanced) != 0 || exec.orderCount() != 0 {
		t.Fatalf("no rebalance expected at the boundary")
	}
}

func TestRebalanceFrequencyGatePersistsAssessment(t *testing.T) {
	repo := newRebalanceRepo()
	exec := confirmedRebalance()
	svc := newTestRebalance(repo, driftedValuation(), exec)
	cfg := rebalanceConfig(t)
	last := time.Now().UTC().Add(-time.Hour)
	cfg.LastRebalancedAt = &last

	a, err := svc.AssessPortfolio(context.Background(), &cfg)
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if a.Status != models.AssessmentSkipped || a.Reason != "frequency window not elapsed" {
		t.Fatalf("status=%s reason=%q", a.Status, a.Reason)
	}
	if len(repo.assessments) != 1 {
		t.Fatalf("gated evaluation must still leave an audit row")
	}
	if len(repo.rebalanced) != 0 || exec.orderCount() != 0 {
		t.Fatalf("gated evaluation must not trade")
	}
}

func TestRebalanceFrequencyWindowElapsed(t *testing.T) {
	repo := newRebalanceRepo()
	svc := newTestRebalance(repo, driftedValuation(), confirmedRebalance())
	cfg := rebalanceConfig(t)
	last := time.Now().UTC().Add(-25 * time.Hour)
	cfg.LastRebalancedAt = &last

	a, err := svc.AssessPortfolio(context.Background(), &cfg)
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if a.Status != models.AssessmentExecuted {
		t.Fatalf("status=%s want executed after window", a.Status)
	}
}

func TestRebalanceRequiresApprovalWhenAutoApprovalOff(t *testing.T) {
	repo := newRebalanceRepo()
	exec := confirmedRebalance()
	svc := newTestRebalance(repo, driftedValuation(), exec)
	cfg := rebalanceConfig(t)
	cfg.AutoApprovalEnabled = false

	a, err := svc.AssessPortfolio(context.Background(), &cfg)
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if a.Status != models.AssessmentRequiresApproval {
		t.Fatalf("status=%s want requires_approval", a.Status)
	}
	if len(repo.rebalanced) != 0 || exec.orderCount() != 0 {
		t.Fatalf("approval-gated evaluation must not trade")
	}
}

func TestRebalanceRequiresApprovalAboveValueCeiling(t *testing.T) {
	repo := newRebalanceRepo()
	exec := confirmedRebalance()
	svc := newTestRebalance(repo, &stubValuation{
		allocation: map[string]decimal.Decimal{
			"BTC": decimal.NewFromInt(175_000_000),
			"ETH": decimal.NewFromInt(75_000_000),
		},
		total: decimal.NewFromInt(250_000_000),
	}, exec)
	cfg := rebalanceConfig(t)
	cfg.AutoApprovalValueCeiling = decimal.NewFromInt(200_000_000)

	a, err := svc.AssessPortfolio(context.Background(), &cfg)
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if a.Status != models.AssessmentRequiresApproval || a.Reason != "portfolio value above approval ceiling" {
		t.Fatalf("status=%s reason=%q", a.Status, a.Reason)
	}
	if len(repo.rebalanced) != 0 || exec.orderCount() != 0 {
		t.Fatalf("ceiling-gated evaluation must not trade")
	}
}

func TestRebalanceSkipsEmptyPortfolio(t *testing.T) {
	repo := newRebalanceRepo()
	svc := newTestRebalance(repo, &stubValuation{total: decimal.Zero}, confirmedRebalance())
	cfg := rebalanceConfig(t)

	a, err := svc.AssessPortfolio(context.Background(), &cfg)
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if a.Status != models.AssessmentSkipped || a.Reason != "portfolio has no value" {
		t.Fatalf("status=%s reason=%q", a.Status, a.Reason)
	}
}

func TestComputeDriftsCoversUnionOfAssets(t *testing.T) {
	allocation := map[string]decimal.Decimal{
		"BTC": decimal.NewFromInt(80000),
		"SOL": decimal.NewFromInt(20000),
	}
	targets := map[string]decimal.Decimal{
		"BTC": decimal.NewFromInt(60),
		"ETH": decimal.NewFromInt(40),
	}
	drifts, maxAbs := computeDrifts(allocation, targets, decimal.NewFromInt(100000))

	if len(drifts) != 3 {
		t.Fatalf("drifts=%v want BTC, ETH and SOL", drifts)
	}
	// ETH is targeted but not held: drift -40 dominates.
	if !drifts["ETH"].Equal(decimal.NewFromInt(-40)) {
		t.Fatalf("ETH drift=%s want -40", drifts["ETH"])
	}
	// SOL is held but not targeted: all of it is overweight.
	if !drifts["SOL"].Equal(decimal.NewFromInt(20)) {
		t.Fatalf("SOL drift=%s want 20", drifts["SOL"])
	}
	if !maxAbs.Equal(decimal.NewFromInt(40)) {
		t.Fatalf("maxAbs=%s want 40", maxAbs)
	}
}

func TestValidateTargets(t *testing.T) {
	cases := []struct {
		name    string
		targets map[string]float64
		wantErr bool
	}{
		{"sums to 100", map[string]float64{"BTC": 60, "ETH": 40}, false},
		{"within tolerance", map[string]float64{"BTC": 60.05, "ETH": 40}, false},
		{"sum too low", map[string]float64{"BTC": 60, "ETH": 30}, true},
		{"negative target", map[string]float64{"BTC": 110, "ETH": -10}, true},
		{"empty", map[string]float64{}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateTargets(targetsJSON(t, tc.targets))
			if (err != nil) != tc.wantErr {
				t.Fatalf("err=%v wantErr=%v", err, tc.wantErr)
			}
		})
	}
}

var _ repository.Repository = (*rebalanceRepo)(nil)
