package settlement

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"hedgeguard/internal/chain"
	"hedgeguard/internal/oracle"
)

// The read services below route every gateway call through the shared
// accessor so oracle reads respect the same concurrency bound as executor
// writes, and repeated reads within the TTL are served from cache.

type PriceService struct {
	Client   *Client
	Accessor *chain.Accessor
}

func (s *PriceService) CurrentPrice(ctx context.Context, asset string) (decimal.Decimal, error) {
	v, err := s.Accessor.Call(ctx, "price:"+asset, 0, func(ctx context.Context) (any, error) {
		return s.Client.GetPrice(ctx, asset)
	})
	if err != nil {
		return decimal.Decimal{}, err
	}
	price, ok := v.(decimal.Decimal)
	if !ok {
		return decimal.Decimal{}, fmt.Errorf("unexpected price type %T", v)
	}
	return price, nil
}

type RiskService struct {
	Client   *Client
	Accessor *chain.Accessor
}

func (s *RiskService) Assess(ctx context.Context, portfolioID string) (*oracle.RiskAssessment, error) {
	v, err := s.Accessor.Call(ctx, "risk:"+portfolioID, 0, func(ctx context.Context) (any, error) {
		return s.Client.GetRiskAssessment(ctx, portfolioID)
	})
	if err != nil {
		return nil, err
	}
	resp, ok := v.(*riskResponse)
	if !ok {
		return nil, fmt.Errorf("unexpected risk type %T", v)
	}
	if resp == nil {
		return nil, nil
	}
	return &oracle.RiskAssessment{
		PortfolioID:       resp.PortfolioID,
		RiskScore:         resp.RiskScore,
		OverallRisk:       resp.OverallRisk,
		RecommendedAction: resp.RecommendedAction,
	}, nil
}

type ValuationService struct {
	Client   *Client
	Accessor *chain.Accessor
}

func (s *ValuationService) CurrentAllocation(ctx context.Context, portfolioID string) (map[string]decimal.Decimal, error) {
	resp, err := s.allocation(ctx, portfolioID)
	if err != nil {
		return nil, err
	}
	return resp.Allocations, nil
}

func (s *ValuationService) TotalValue(ctx context.Context, portfolioID string) (decimal.Decimal, error) {
	resp, err := s.allocation(ctx, portfolioID)
	if err != nil {
		return decimal.Decimal{}, err
	}
	return resp.TotalValue, nil
}

func (s *ValuationService) allocation(ctx context.Context, portfolioID string) (*allocationResponse, error) {
	v, err := s.Accessor.Call(ctx, "alloc:"+portfolioID, 0, func(ctx context.Context) (any, error) {
		return s.Client.GetAllocation(ctx, portfolioID)
	})
	if err != nil {
		return nil, err
	}
	resp, ok := v.(*allocationResponse)
	if !ok || resp == nil {
		return nil, fmt.Errorf("unexpected allocation type %T", v)
	}
	return resp, nil
}
