package hedge

import (
	"hedgeguard/internal/models"
)

// ValidTransitions defines the allowed hedge lifecycle moves. Terminal
// statuses have no outgoing edges.
var ValidTransitions = map[string][]string{
	models.HedgeStatusPending: {models.HedgeStatusActive, models.HedgeStatusCancelled},
	models.HedgeStatusActive:  {models.HedgeStatusClosed, models.HedgeStatusLiquidated},
}

// CanTransition reports whether moving from one status to another is allowed.
func CanTransition(from, to string) bool {
	allowed, ok := ValidTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// StatusInfo returns a short operator-facing description of a status.
func StatusInfo(s string) string {
	switch s {
	case models.HedgeStatusPending:
		return "awaiting on-chain confirmation"
	case models.HedgeStatusActive:
		return "open and monitored"
	case models.HedgeStatusClosed:
		return "closed"
	case models.HedgeStatusLiquidated:
		return "liquidated by the settlement layer"
	case models.HedgeStatusCancelled:
		return "cancelled before confirmation"
	default:
		return "unknown status"
	}
}
