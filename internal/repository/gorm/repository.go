package gormrepository

import (
	"strings"
	"time"

	"context"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"hedgeguard/internal/models"
	"hedgeguard/internal/repository"
)

type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// --- Hedge positions --------------------------------------------------------

func (s *Store) InsertHedgePosition(ctx context.Context, item *models.HedgePosition) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) GetHedgePositionByID(ctx context.Context, id string) (*models.HedgePosition, error) {
	if s == nil || s.db == nil || strings.TrimSpace(id) == "" {
		return nil, nil
	}
	var item models.HedgePosition
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&item).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListActiveHedgePositions(ctx context.Context) ([]models.HedgePosition, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.HedgePosition
	if err := s.db.WithContext(ctx).Model(&models.HedgePosition{}).
		Where("status = ?", models.HedgeStatusActive).
		Order("opened_at asc").
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) ListHedgePositions(ctx context.Context, params repository.ListHedgePositionsParams) ([]models.HedgePosition, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.hedgeQuery(ctx, params)
	query = applyOrder(query, params.OrderBy, params.Asc, "opened_at")
	limit := normalizeLimit(params.Limit, 100)
	offset := normalizeOffset(params.Offset)
	var items []models.HedgePosition
	if err := query.Limit(limit).Offset(offset).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CountHedgePositions(ctx context.Context, params repository.ListHedgePositionsParams) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	var total int64
	if err := s.hedgeQuery(ctx, params).Count(&total).Error; err != nil {
		return 0, err
	}
	return total, nil
}

func (s *Store) hedgeQuery(ctx context.Context, params repository.ListHedgePositionsParams) *gorm.DB {
	query := s.db.WithContext(ctx).Model(&models.HedgePosition{})
	if params.Status != nil && strings.TrimSpace(*params.Status) != "" {
		query = query.Where("status = ?", strings.TrimSpace(*params.Status))
	}
	if params.PortfolioID != nil && strings.TrimSpace(*params.PortfolioID) != "" {
		query = query.Where("portfolio_id = ?", strings.TrimSpace(*params.PortfolioID))
	}
	if params.Asset != nil && strings.TrimSpace(*params.Asset) != "" {
		query = query.Where("asset = ?", strings.ToUpper(strings.TrimSpace(*params.Asset)))
	}
	return query
}

func (s *Store) ActivateHedgePosition(ctx context.Context, id, commitmentHash, nullifier string, entryPrice decimal.Decimal) error {
	if s == nil || s.db == nil || strings.TrimSpace(id) == "" {
		return nil
	}
	return s.db.WithContext(ctx).Model(&models.HedgePosition{}).
		Where("id = ? AND status = ?", id, models.HedgeStatusPending).
		Updates(map[string]any{
			"status":          models.HedgeStatusActive,
			"commitment_hash": commitmentHash,
			"nullifier":       nullifier,
			"entry_price":     entryPrice,
			"current_price":   entryPrice,
			"updated_at":      time.Now().UTC(),
		}).Error
}

func (s *Store) UpdateHedgePrice(ctx context.Context, id string, price, pnl, pnlPct decimal.Decimal) error {
	if s == nil || s.db == nil || strings.TrimSpace(id) == "" {
		return nil
	}
	return s.db.WithContext(ctx).Model(&models.HedgePosition{}).
		Where("id = ? AND status = ?", id, models.HedgeStatusActive).
		Updates(map[string]any{
			"current_price":      price,
			"unrealized_pnl":     pnl,
			"unrealized_pnl_pct": pnlPct,
			"updated_at":         time.Now().UTC(),
		}).Error
}

func (s *Store) CloseHedgePosition(ctx context.Context, id, status, reason string, realizedPnL decimal.Decimal, closedAt time.Time) (int64, error) {
	if s == nil || s.db == nil || strings.TrimSpace(id) == "" {
		return 0, nil
	}
	if status != models.HedgeStatusClosed && status != models.HedgeStatusLiquidated {
		return 0, nil
	}
	if closedAt.IsZero() {
		closedAt = time.Now().UTC()
	}
	// The status guard keeps terminal rows immutable even under races.
	result := s.db.WithContext(ctx).Model(&models.HedgePosition{}).
		Where("id = ? AND status = ?", id, models.HedgeStatusActive).
		Updates(map[string]any{
			"status":             status,
			"close_reason":       reason,
			"realized_pnl":       realizedPnL,
			"unrealized_pnl":     decimal.Zero,
			"unrealized_pnl_pct": decimal.Zero,
			"closed_at":          &closedAt,
			"updated_at":         time.Now().UTC(),
		})
	return result.RowsAffected, result.Error
}

func (s *Store) CancelPendingHedgePosition(ctx context.Context, id, reason string, closedAt time.Time) (int64, error) {
	if s == nil || s.db == nil || strings.TrimSpace(id) == "" {
		return 0, nil
	}
	if closedAt.IsZero() {
		closedAt = time.Now().UTC()
	}
	result := s.db.WithContext(ctx).Model(&models.HedgePosition{}).
		Where("id = ? AND status = ?", id, models.HedgeStatusPending).
		Updates(map[string]any{
			"status":       models.HedgeStatusCancelled,
			"close_reason": reason,
			"closed_at":    &closedAt,
			"updated_at":   time.Now().UTC(),
		})
	return result.RowsAffected, result.Error
}

func (s *Store) HedgePositionsSummary(ctx context.Context) (repository.HedgeSummary, error) {
	var out repository.HedgeSummary
	if s == nil || s.db == nil {
		return out, nil
	}
	row := s.db.WithContext(ctx).Model(&models.HedgePosition{}).
		Select(`
			COUNT(*) FILTER (WHERE status = 'active') AS total_active,
			COUNT(*) FILTER (WHERE status = 'pending') AS total_pending,
			COALESCE(SUM(notional_value) FILTER (WHERE status = 'active'), 0) AS total_notional,
			COALESCE(SUM(collateral_amount) FILTER (WHERE status = 'active'), 0) AS total_collateral,
			COALESCE(SUM(unrealized_pnl) FILTER (WHERE status = 'active'), 0) AS unrealized_pnl,
			COALESCE(SUM(realized_pnl), 0) AS realized_pnl,
			COUNT(*) FILTER (WHERE status = 'liquidated') AS liquidated_all_time`).
		Row()
	err := row.Scan(
		&out.TotalActive,
		&out.TotalPending,
		&out.TotalNotional,
		&out.TotalCollateral,
		&out.UnrealizedPnL,
		&out.RealizedPnL,
		&out.LiquidatedAllTime,
	)
	return out, err
}

// --- Auto-hedge configs -----------------------------------------------------

func (s *Store) UpsertAutoHedgeConfig(ctx context.Context, item *models.AutoHedgeConfig) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	item.PortfolioID = strings.TrimSpace(item.PortfolioID)
	if item.PortfolioID == "" {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "portfolio_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"owner_wallet",
			"enabled",
			"risk_threshold",
			"max_leverage",
			"hedge_asset",
			"allowed_assets",
			"updated_at",
		}),
	}).Create(item).Error
}

func (s *Store) GetAutoHedgeConfig(ctx context.Context, portfolioID string) (*models.AutoHedgeConfig, error) {
	if s == nil || s.db == nil || strings.TrimSpace(portfolioID) == "" {
		return nil, nil
	}
	var item models.AutoHedgeConfig
	err := s.db.WithContext(ctx).Where("portfolio_id = ?", strings.TrimSpace(portfolioID)).First(&item).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListEnabledAutoHedgeConfigs(ctx context.Context) ([]models.AutoHedgeConfig, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.AutoHedgeConfig
	if err := s.db.WithContext(ctx).Model(&models.AutoHedgeConfig{}).
		Where("enabled = ?", true).
		Order("portfolio_id asc").
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) ListAutoHedgeConfigs(ctx context.Context, params repository.ListConfigsParams) ([]models.AutoHedgeConfig, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Model(&models.AutoHedgeConfig{})
	if params.Enabled != nil {
		query = query.Where("enabled = ?", *params.Enabled)
	}
	if params.OwnerWallet != nil && strings.TrimSpace(*params.OwnerWallet) != "" {
		query = query.Where("owner_wallet = ?", strings.TrimSpace(*params.OwnerWallet))
	}
	limit := normalizeLimit(params.Limit, 100)
	offset := normalizeOffset(params.Offset)
	var items []models.AutoHedgeConfig
	if err := query.Order("portfolio_id asc").Limit(limit).Offset(offset).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) SetAutoHedgeEnabled(ctx context.Context, portfolioID string, enabled bool) error {
	if s == nil || s.db == nil || strings.TrimSpace(portfolioID) == "" {
		return nil
	}
	return s.db.WithContext(ctx).Model(&models.AutoHedgeConfig{}).
		Where("portfolio_id = ?", strings.TrimSpace(portfolioID)).
		Updates(map[string]any{
			"enabled":    enabled,
			"updated_at": time.Now().UTC(),
		}).Error
}

func (s *Store) DeleteAutoHedgeConfig(ctx context.Context, portfolioID string) error {
	if s == nil || s.db == nil || strings.TrimSpace(portfolioID) == "" {
		return nil
	}
	return s.db.WithContext(ctx).
		Where("portfolio_id = ?", strings.TrimSpace(portfolioID)).
		Delete(&models.AutoHedgeConfig{}).Error
}

func (s *Store) RecordAutoHedgeError(ctx context.Context, portfolioID string, message string) error {
	if s == nil || s.db == nil || strings.TrimSpace(portfolioID) == "" {
		return nil
	}
	return s.db.WithContext(ctx).Model(&models.AutoHedgeConfig{}).
		Where("portfolio_id = ?", strings.TrimSpace(portfolioID)).
		Updates(map[string]any{
			"last_error": message,
			"updated_at": time.Now().UTC(),
		}).Error
}

func (s *Store) TouchAutoHedgeTriggered(ctx context.Context, portfolioID string, at time.Time) error {
	if s == nil || s.db == nil || strings.TrimSpace(portfolioID) == "" {
		return nil
	}
	if at.IsZero() {
		at = time.Now().UTC()
	}
	return s.db.WithContext(ctx).Model(&models.AutoHedgeConfig{}).
		Where("portfolio_id = ?", strings.TrimSpace(portfolioID)).
		Updates(map[string]any{
			"last_triggered_at": &at,
			"last_error":        "",
			"updated_at":        time.Now().UTC(),
		}).Error
}

// --- Auto-rebalance configs -------------------------------------------------

func (s *Store) UpsertAutoRebalanceConfig(ctx context.Context, item *models.AutoRebalanceConfig) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	item.PortfolioID = strings.TrimSpace(item.PortfolioID)
	if item.PortfolioID == "" {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "portfolio_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"owner_wallet",
			"enabled",
			"drift_threshold_pct",
			"frequency",
			"auto_approval_enabled",
			"auto_approval_value_ceiling",
			"target_allocations",
			"updated_at",
		}),
	}).Create(item).Error
}

func (s *Store) GetAutoRebalanceConfig(ctx context.Context, portfolioID string) (*models.AutoRebalanceConfig, error) {
	if s == nil || s.db == nil || strings.TrimSpace(portfolioID) == "" {
		return nil, nil
	}
	var item models.AutoRebalanceConfig
	err := s.db.WithContext(ctx).Where("portfolio_id = ?", strings.TrimSpace(portfolioID)).First(&item).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListEnabledAutoRebalanceConfigs(ctx context.Context) ([]models.AutoRebalanceConfig, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.AutoRebalanceConfig
	if err := s.db.WithContext(ctx).Model(&models.AutoRebalanceConfig{}).
		Where("enabled = ?", true).
		Order("portfolio_id asc").
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) ListAutoRebalanceConfigs(ctx context.Context, params repository.ListConfigsParams) ([]models.AutoRebalanceConfig, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Model(&models.AutoRebalanceConfig{})
	if params.Enabled != nil {
		query = query.Where("enabled = ?", *params.Enabled)
	}
	if params.OwnerWallet != nil && strings.TrimSpace(*params.OwnerWallet) != "" {
		query = query.Where("owner_wallet = ?", strings.TrimSpace(*params.OwnerWallet))
	}
	limit := normalizeLimit(params.Limit, 100)
	offset := normalizeOffset(params.Offset)
	var items []models.AutoRebalanceConfig
	if err := query.Order("portfolio_id asc").Limit(limit).Offset(offset).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) SetAutoRebalanceEnabled(ctx context.Context, portfolioID string, enabled bool) error {
	if s == nil || s.db == nil || strings.TrimSpace(portfolioID) == "" {
		return nil
	}
	return s.db.WithContext(ctx).Model(&models.AutoRebalanceConfig{}).
		Where("portfolio_id = ?", strings.TrimSpace(portfolioID)).
		Updates(map[string]any{
			"enabled":    enabled,
			"updated_at": time.Now().UTC(),
		}).Error
}

func (s *Store) DeleteAutoRebalanceConfig(ctx context.Context, portfolioID string) error {
	if s == nil || s.db == nil || strings.TrimSpace(portfolioID) == "" {
		return nil
	}
	return s.db.WithContext(ctx).
		Where("portfolio_id = ?", strings.TrimSpace(portfolioID)).
		Delete(&models.AutoRebalanceConfig{}).Error
}

func (s *Store) MarkRebalanced(ctx context.Context, portfolioID string, at time.Time) error {
	if s == nil || s.db == nil || strings.TrimSpace(portfolioID) == "" {
		return nil
	}
	if at.IsZero() {
		at = time.Now().UTC()
	}
	return s.db.WithContext(ctx).Model(&models.AutoRebalanceConfig{}).
		Where("portfolio_id = ?", strings.TrimSpace(portfolioID)).
		Updates(map[string]any{
			"last_rebalanced_at": &at,
			"updated_at":         time.Now().UTC(),
		}).Error
}

// --- Rebalance assessments --------------------------------------------------

func (s *Store) InsertRebalanceAssessment(ctx context.Context, item *models.RebalanceAssessment) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) ListRebalanceAssessments(ctx context.Context, params repository.ListAssessmentsParams) ([]models.RebalanceAssessment, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Model(&models.RebalanceAssessment{})
	if params.PortfolioID != nil && strings.TrimSpace(*params.PortfolioID) != "" {
		query = query.Where("portfolio_id = ?", strings.TrimSpace(*params.PortfolioID))
	}
	if params.Status != nil && strings.TrimSpace(*params.Status) != "" {
		query = query.Where("status = ?", strings.TrimSpace(*params.Status))
	}
	if params.Since != nil && !params.Since.IsZero() {
		query = query.Where("created_at >= ?", *params.Since)
	}
	limit := normalizeLimit(params.Limit, 100)
	offset := normalizeOffset(params.Offset)
	var items []models.RebalanceAssessment
	if err := query.Order("created_at desc").Limit(limit).Offset(offset).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) LatestRebalanceAssessment(ctx context.Context, portfolioID string) (*models.RebalanceAssessment, error) {
	if s == nil || s.db == nil || strings.TrimSpace(portfolioID) == "" {
		return nil, nil
	}
	var item models.RebalanceAssessment
	err := s.db.WithContext(ctx).
		Where("portfolio_id = ?", strings.TrimSpace(portfolioID)).
		Order("created_at desc").
		First(&item).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// --- Monitor reports --------------------------------------------------------

func (s *Store) InsertMonitorReport(ctx context.Context, item *models.MonitorReport) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) ListMonitorReports(ctx context.Context, limit, offset int) ([]models.MonitorReport, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.MonitorReport
	if err := s.db.WithContext(ctx).Model(&models.MonitorReport{}).
		Order("created_at desc").
		Limit(normalizeLimit(limit, 50)).
		Offset(normalizeOffset(offset)).
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// --- System settings --------------------------------------------------------

func (s *Store) UpsertSystemSetting(ctx context.Context, item *models.SystemSetting) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	item.Key = strings.TrimSpace(item.Key)
	if item.Key == "" {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"value",
			"description",
			"updated_at",
		}),
	}).Create(item).Error
}

func (s *Store) GetSystemSettingByKey(ctx context.Context, key string) (*models.SystemSetting, error) {
	if s == nil || s.db == nil || strings.TrimSpace(key) == "" {
		return nil, nil
	}
	var item models.SystemSetting
	err := s.db.WithContext(ctx).Where("key = ?", strings.TrimSpace(key)).First(&item).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListSystemSettings(ctx context.Context, limit, offset int) ([]models.SystemSetting, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.SystemSetting
	if err := s.db.WithContext(ctx).Model(&models.SystemSetting{}).
		Order("key asc").
		Limit(normalizeLimit(limit, 200)).
		Offset(normalizeOffset(offset)).
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// --- helpers ----------------------------------------------------------------

func applyOrder(query *gorm.DB, orderBy string, asc *bool, fallback string) *gorm.DB {
	column := strings.TrimSpace(orderBy)
	if column == "" {
		column = fallback
	}
	direction := "desc"
	if asc != nil && *asc {
		direction = "asc"
	}
	return query.Order(column + " " + direction)
}

func normalizeLimit(limit, fallback int) int {
	if limit <= 0 {
		return fallback
	}
	if limit > 500 {
		return 500
	}
	return limit
}

func normalizeOffset(offset int) int {
	if offset < 0 {
		return 0
	}
	return offset
}
