package service

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"hedgeguard/internal/config"
	"hedgeguard/internal/hedge"
	"hedgeguard/internal/models"
	"hedgeguard/internal/oracle"
	"hedgeguard/internal/repository"
)

// Close reasons written by the monitor.
const (
	CloseReasonEmergency    = "emergency_volatility"
	CloseReasonStopLoss     = "stop_loss"
	CloseReasonTakeProfit   = "take_profit"
	CloseReasonTrailingStop = "trailing_stop"
)

// MonitorService is the safety net over active hedges. Each pass fetches one
// price per distinct asset, then evaluates every hedge against its exit rules
// in strict order: emergency volatility, stop loss, take profit, trailing
// stop. The first rule that fires closes the hedge; later rules are not
// consulted. A failed close leaves the hedge active for the next pass.
type MonitorService struct {
	Repo      repository.Repository
	Positions *HedgeService
	Prices    oracle.PriceFeed
	Logger    *zap.Logger
	Flags     *SystemSettingsService
	Config    config.MonitorConfig

	mu sync.Mutex
	// peak favorable price per active hedge, kept until the hedge terminates
	peaks map[string]decimal.Decimal
	// last observed price per asset, for tick-over-tick move detection
	lastPrice map[string]decimal.Decimal

	// at most one in-flight evaluation per hedge id, across overlapping
	// passes (cron and the manual trigger can run concurrently)
	guard *entityGuard
}

func NewMonitorService(repo repository.Repository, positions *HedgeService, prices oracle.PriceFeed, logger *zap.Logger, flags *SystemSettingsService, cfg config.MonitorConfig) *MonitorService {
	return &MonitorService{
		Repo:      repo,
		Positions: positions,
		Prices:    prices,
		Logger:    logger,
		Flags:     flags,
		Config:    cfg,
		peaks:     map[string]decimal.Decimal{},
		lastPrice: map[string]decimal.Decimal{},
		guard:     newEntityGuard(),
	}
}

func (m *MonitorService) Run(ctx context.Context, interval time.Duration) error {
	if m == nil || m.Repo == nil {
		return nil
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		if _, err := m.RunOnce(ctx); err != nil && m.Logger != nil {
			m.Logger.Warn("monitor pass failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}

func (m *MonitorService) RunOnce(ctx context.Context) (*models.MonitorReport, error) {
	if m == nil || m.Repo == nil {
		return nil, nil
	}
	if m.Flags != nil && !m.Flags.IsEnabled(ctx, FeaturePositionMonitor, false) {
		return nil, nil
	}
	started := time.Now().UTC()

	if m.Positions != nil {
		if _, err := m.Positions.CancelStalePending(ctx, m.Config.PendingTimeout); err != nil && m.Logger != nil {
			m.Logger.Warn("stale pending sweep failed", zap.Error(err))
		}
	}

	items, err := m.Repo.ListActiveHedgePositions(ctx)
	if err != nil {
		return nil, err
	}
	report := &models.MonitorReport{
		Checked:   len(items),
		StartedAt: started,
	}
	if len(items) == 0 {
		report.DurationMs = time.Since(started).Milliseconds()
		return report, m.Repo.InsertMonitorReport(ctx, report)
	}

	prices := m.fetchPrices(ctx, items)

	var (
		reportMu sync.Mutex
		totalPnL = decimal.Zero
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.workerLimit())
	for i := range items {
		p := items[i]
		price, ok := prices[p.Asset]
		if !ok {
			// No price this pass; the hedge is re-examined next tick.
			continue
		}
		g.Go(func() error {
			outcome := m.checkPosition(gctx, &p, price)
			reportMu.Lock()
			defer reportMu.Unlock()
			switch outcome.closedReason {
			case CloseReasonEmergency:
				report.EmergencyCloses++
			case CloseReasonStopLoss:
				report.StopLossCloses++
			case CloseReasonTakeProfit:
				report.TakeProfits++
			case CloseReasonTrailingStop:
				report.TrailingStops++
			}
			if outcome.closeFailed {
				report.FailedCloses++
			}
			if outcome.closedReason == "" && !outcome.closeFailed {
				totalPnL = totalPnL.Add(outcome.unrealizedPnL)
				if outcome.critical {
					report.Critical++
				} else if outcome.healthy {
					report.Healthy++
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	m.rememberPrices(prices)
	m.dropTerminalPeaks(ctx)

	report.TotalUnrealizedPnL = totalPnL
	report.DurationMs = time.Since(started).Milliseconds()
	if err := m.Repo.InsertMonitorReport(ctx, report); err != nil {
		return nil, err
	}
	if m.Logger != nil {
		m.Logger.Info("monitor pass complete",
			zap.Int("checked", report.Checked),
			zap.Int("emergency", report.EmergencyCloses),
			zap.Int("stop_loss", report.StopLossCloses),
			zap.Int("take_profit", report.TakeProfits),
			zap.Int("trailing_stop", report.TrailingStops),
			zap.Int("failed_closes", report.FailedCloses),
			zap.Int64("duration_ms", report.DurationMs),
		)
	}
	return report, nil
}

type checkOutcome struct {
	closedReason  string
	closeFailed   bool
	healthy       bool
	critical      bool
	unrealizedPnL decimal.Decimal
}

func (m *MonitorService) checkPosition(ctx context.Context, p *models.HedgePosition, price decimal.Decimal) checkOutcome {
	if !m.guard.TryAcquire(p.ID) {
		// Another pass is already working this hedge; it is re-examined next
		// tick.
		return checkOutcome{}
	}
	defer m.guard.Release(p.ID)

	// Re-read under the guard: a concurrent pass may have closed the hedge
	// between the listing and now. A terminal row is never touched again.
	current, err := m.Repo.GetHedgePositionByID(ctx, p.ID)
	if err != nil || current == nil || current.Status != models.HedgeStatusActive {
		return checkOutcome{}
	}
	p = current

	if reason := m.exitReason(p, price); reason != "" {
		if _, err := m.Positions.closeActive(ctx, p, reason, false); err != nil {
			if m.Logger != nil {
				m.Logger.Error("monitor close failed",
					zap.String("hedge_id", p.ID),
					zap.String("reason", reason),
					zap.Error(err),
				)
			}
			return checkOutcome{closeFailed: true}
		}
		return checkOutcome{closedReason: reason}
	}

	if err := hedge.Refresh(p, price); err != nil {
		if m.Logger != nil {
			m.Logger.Warn("price refresh failed",
				zap.String("hedge_id", p.ID),
				zap.Error(err),
			)
		}
		return checkOutcome{closeFailed: false}
	}
	if err := m.Repo.UpdateHedgePrice(ctx, p.ID, p.CurrentPrice, p.UnrealizedPnL, p.UnrealizedPnLPct); err != nil && m.Logger != nil {
		m.Logger.Warn("price persist failed",
			zap.String("hedge_id", p.ID),
			zap.Error(err),
		)
	}
	return checkOutcome{
		healthy:       p.UnrealizedPnLPct.GreaterThan(decimal.Zero),
		critical:      p.UnrealizedPnLPct.LessThan(decimal.NewFromFloat(m.Config.CriticalPnLPct)),
		unrealizedPnL: p.UnrealizedPnL,
	}
}

// exitReason applies the exit rules in precedence order and returns the first
// that fires, or "" when the hedge should stay open.
func (m *MonitorService) exitReason(p *models.HedgePosition, price decimal.Decimal) string {
	if price.LessThanOrEqual(decimal.Zero) || p.EntryPrice.LessThanOrEqual(decimal.Zero) {
		return ""
	}
	hundred := decimal.NewFromInt(100)
	direction := decimal.NewFromInt(p.Direction())
	movePct := price.Sub(p.EntryPrice).Div(p.EntryPrice).Mul(hundred)
	favorablePct := direction.Mul(movePct)

	if m.emergencyMove(p.Asset, price) {
		return CloseReasonEmergency
	}
	if m.stopLossHit(p, price, favorablePct) {
		return CloseReasonStopLoss
	}
	if m.takeProfitHit(p, price, favorablePct) {
		return CloseReasonTakeProfit
	}
	if m.trailingStopHit(p, price, favorablePct) {
		return CloseReasonTrailingStop
	}
	return ""
}

// emergencyMove reports whether the asset moved more than the emergency
// threshold since the previous pass, in either direction.
func (m *MonitorService) emergencyMove(asset string, price decimal.Decimal) bool {
	if m.Config.EmergencyMovePct <= 0 {
		return false
	}
	m.mu.Lock()
	prev, ok := m.lastPrice[asset]
	m.mu.Unlock()
	if !ok || prev.LessThanOrEqual(decimal.Zero) {
		return false
	}
	movePct := price.Sub(prev).Div(prev).Mul(decimal.NewFromInt(100)).Abs()
	return movePct.GreaterThan(decimal.NewFromFloat(m.Config.EmergencyMovePct))
}

// stopLossHit prefers the hedge's explicit stop price; without one it falls
// back to the engine-wide adverse-move percentage. Both compare the raw price
// move, not the leveraged PnL.
func (m *MonitorService) stopLossHit(p *models.HedgePosition, price, favorablePct decimal.Decimal) bool {
	if p.StopLoss != nil && p.StopLoss.GreaterThan(decimal.Zero) {
		if p.Side == models.SideShort {
			return price.GreaterThanOrEqual(*p.StopLoss)
		}
		return price.LessThanOrEqual(*p.StopLoss)
	}
	if m.Config.StopLossPct <= 0 {
		return false
	}
	return favorablePct.LessThanOrEqual(decimal.NewFromFloat(-m.Config.StopLossPct))
}

func (m *MonitorService) takeProfitHit(p *models.HedgePosition, price, favorablePct decimal.Decimal) bool {
	if p.TakeProfit != nil && p.TakeProfit.GreaterThan(decimal.Zero) {
		if p.Side == models.SideShort {
			return price.LessThanOrEqual(*p.TakeProfit)
		}
		return price.GreaterThanOrEqual(*p.TakeProfit)
	}
	if m.Config.TakeProfitPct <= 0 {
		return false
	}
	return favorablePct.GreaterThanOrEqual(decimal.NewFromFloat(m.Config.TakeProfitPct))
}

// trailingStopHit arms once the leverage-scaled unrealized pnl at the peak
// reaches the activation threshold, then fires when price retreats from the
// peak by the trailing distance. The peak never moves backwards.
func (m *MonitorService) trailingStopHit(p *models.HedgePosition, price, favorablePct decimal.Decimal) bool {
	distance := decimal.NewFromFloat(m.Config.TrailingDistancePct)
	if p.TrailingStopDistance != nil && p.TrailingStopDistance.GreaterThan(decimal.Zero) {
		distance = *p.TrailingStopDistance
	}
	if distance.LessThanOrEqual(decimal.Zero) {
		return false
	}

	m.mu.Lock()
	peak, ok := m.peaks[p.ID]
	if !ok {
		peak = p.EntryPrice
	}
	if p.Side == models.SideShort {
		if price.LessThan(peak) {
			peak = price
		}
	} else {
		if price.GreaterThan(peak) {
			peak = price
		}
	}
	m.peaks[p.ID] = peak
	m.mu.Unlock()

	leverage := int64(p.Leverage)
	if leverage < 1 {
		leverage = 1
	}
	hundred := decimal.NewFromInt(100)
	direction := decimal.NewFromInt(p.Direction())
	peakPnLPct := direction.Mul(peak.Sub(p.EntryPrice).Div(p.EntryPrice)).
		Mul(hundred).Mul(decimal.NewFromInt(leverage))
	if peakPnLPct.LessThan(decimal.NewFromFloat(m.Config.TrailingActivationPct)) {
		return false
	}

	var retreatPct decimal.Decimal
	if p.Side == models.SideShort {
		retreatPct = price.Sub(peak).Div(peak).Mul(hundred)
	} else {
		retreatPct = peak.Sub(price).Div(peak).Mul(hundred)
	}
	return retreatPct.GreaterThanOrEqual(distance)
}

// fetchPrices resolves one price per distinct asset, concurrently. Assets
// whose feed call fails are absent from the result and their hedges are
// skipped this pass.
func (m *MonitorService) fetchPrices(ctx context.Context, items []models.HedgePosition) map[string]decimal.Decimal {
	assets := make([]string, 0, len(items))
	seen := map[string]struct{}{}
	for _, p := range items {
		if _, ok := seen[p.Asset]; ok {
			continue
		}
		seen[p.Asset] = struct{}{}
		assets = append(assets, p.Asset)
	}

	prices := make(map[string]decimal.Decimal, len(assets))
	if m.Prices == nil {
		return prices
	}
	var pricesMu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.workerLimit())
	for _, asset := range assets {
		asset := asset
		g.Go(func() error {
			price, err := m.Prices.CurrentPrice(gctx, asset)
			if err != nil {
				if m.Logger != nil {
					m.Logger.Warn("price fetch failed",
						zap.String("asset", asset),
						zap.Error(err),
					)
				}
				return nil
			}
			pricesMu.Lock()
			prices[asset] = price
			pricesMu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return prices
}

func (m *MonitorService) rememberPrices(prices map[string]decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for asset, price := range prices {
		m.lastPrice[asset] = price
	}
}

// dropTerminalPeaks forgets peaks for hedges that are no longer active so the
// table cannot grow without bound.
func (m *MonitorService) dropTerminalPeaks(ctx context.Context) {
	items, err := m.Repo.ListActiveHedgePositions(ctx)
	if err != nil {
		return
	}
	active := make(map[string]struct{}, len(items))
	for _, p := range items {
		active[p.ID] = struct{}{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for id := range m.peaks {
		if _, ok := active[id]; !ok {
			delete(m.peaks, id)
		}
	}
}

func (m *MonitorService) workerLimit() int {
	if m.Config.MaxWorkers > 0 {
		return m.Config.MaxWorkers
	}
	return 8
}
