// Package repository is the persistence contract consumed by the controllers
// and the monitor. save operations on configs are upserts keyed by portfolio
// id; disabling a config is a soft-delete distinct from hard removal.
package repository

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"hedgeguard/internal/models"
)

type Repository interface {
	// Hedge positions.
	InsertHedgePosition(ctx context.Context, item *models.HedgePosition) error
	GetHedgePositionByID(ctx context.Context, id string) (*models.HedgePosition, error)
	ListActiveHedgePositions(ctx context.Context) ([]models.HedgePosition, error)
	ListHedgePositions(ctx context.Context, params ListHedgePositionsParams) ([]models.HedgePosition, error)
	CountHedgePositions(ctx context.Context, params ListHedgePositionsParams) (int64, error)
	ActivateHedgePosition(ctx context.Context, id, commitmentHash, nullifier string, entryPrice decimal.Decimal) error
	UpdateHedgePrice(ctx context.Context, id string, price, pnl, pnlPct decimal.Decimal) error
	// CloseHedgePosition transitions active -> closed/liquidated; the WHERE
	// guard makes terminal statuses immutable at the SQL layer too. Returns
	// the number of rows updated (0 means the hedge was not active).
	CloseHedgePosition(ctx context.Context, id, status, reason string, realizedPnL decimal.Decimal, closedAt time.Time) (int64, error)
	CancelPendingHedgePosition(ctx context.Context, id, reason string, closedAt time.Time) (int64, error)
	HedgePositionsSummary(ctx context.Context) (HedgeSummary, error)

	// Auto-hedge configs (one live row per portfolio id).
	UpsertAutoHedgeConfig(ctx context.Context, item *models.AutoHedgeConfig) error
	GetAutoHedgeConfig(ctx context.Context, portfolioID string) (*models.AutoHedgeConfig, error)
	ListEnabledAutoHedgeConfigs(ctx context.Context) ([]models.AutoHedgeConfig, error)
	ListAutoHedgeConfigs(ctx context.Context, params ListConfigsParams) ([]models.AutoHedgeConfig, error)
	SetAutoHedgeEnabled(ctx context.Context, portfolioID string, enabled bool) error
	DeleteAutoHedgeConfig(ctx context.Context, portfolioID string) error
	RecordAutoHedgeError(ctx context.Context, portfolioID string, message string) error
	TouchAutoHedgeTriggered(ctx context.Context, portfolioID string, at time.Time) error

	// Auto-rebalance configs.
	UpsertAutoRebalanceConfig(ctx context.Context, item *models.AutoRebalanceConfig) error
	GetAutoRebalanceConfig(ctx context.Context, portfolioID string) (*models.AutoRebalanceConfig, error)
	ListEnabledAutoRebalanceConfigs(ctx context.Context) ([]models.AutoRebalanceConfig, error)
	ListAutoRebalanceConfigs(ctx context.Context, params ListConfigsParams) ([]models.AutoRebalanceConfig, error)
	SetAutoRebalanceEnabled(ctx context.Context, portfolioID string, enabled bool) error
	DeleteAutoRebalanceConfig(ctx context.Context, portfolioID string) error
	MarkRebalanced(ctx context.Context, portfolioID string, at time.Time) error

	// Rebalance assessments.
	InsertRebalanceAssessment(ctx context.Context, item *models.RebalanceAssessment) error
	ListRebalanceAssessments(ctx context.Context, params ListAssessmentsParams) ([]models.RebalanceAssessment, error)
	LatestRebalanceAssessment(ctx context.Context, portfolioID string) (*models.RebalanceAssessment, error)

	// Monitor reports.
	InsertMonitorReport(ctx context.Context, item *models.MonitorReport) error
	ListMonitorReports(ctx context.Context, limit, offset int) ([]models.MonitorReport, error)

	// System settings (feature switches).
	UpsertSystemSetting(ctx context.Context, item *models.SystemSetting) error
	GetSystemSettingByKey(ctx context.Context, key string) (*models.SystemSetting, error)
	ListSystemSettings(ctx context.Context, limit, offset int) ([]models.SystemSetting, error)
}

type ListHedgePositionsParams struct {
	Limit       int
	Offset      int
	Status      *string
	PortfolioID *string
	Asset       *string
	OrderBy     string
	Asc         *bool
}

type ListConfigsParams struct {
	Limit       int
	Offset      int
	Enabled     *bool
	OwnerWallet *string
}

type ListAssessmentsParams struct {
	Limit       int
	Offset      int
	PortfolioID *string
	Status      *string
	Since       *time.Time
}

type HedgeSummary struct {
	TotalActive       int64
	TotalPending      int64
	TotalNotional     float64
	TotalCollateral   float64
	UnrealizedPnL     float64
	RealizedPnL       float64
	LiquidatedAllTime int64
}
