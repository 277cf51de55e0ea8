package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// RebalanceAssessment statuses.
const (
	AssessmentNoAction         = "no_action"
	AssessmentExecuted         = "executed"
	AssessmentRequiresApproval = "requires_approval"
	AssessmentSkipped          = "skipped"
	AssessmentFailed           = "failed"
)

// RebalanceAssessment records one drift evaluation for a portfolio. An
// assessment is written even when frequency gating or the approval ceiling
// prevents execution, so operators can see what the engine would have done.
type RebalanceAssessment struct {
	ID          uint64 `gorm:"primaryKey;autoIncrement"`
	PortfolioID string `gorm:"type:varchar(64);not null;index"`

	MaxAbsDriftPct decimal.Decimal `gorm:"type:numeric(10,4);not null;default:0"`
	TotalValue     decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0"`

	// JSON map asset -> signed drift percent.
	Drifts datatypes.JSON `gorm:"type:jsonb"`
	// JSON array of proposed trades ({asset, action, amount_pct}).
	Trades datatypes.JSON `gorm:"type:jsonb"`

	Status string `gorm:"type:varchar(20);not null;index"`
	Reason string `gorm:"type:varchar(120)"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime;index"`
}

func (RebalanceAssessment) TableName() string {
	return "rebalance_assessments"
}
