// Package settlement is the HTTP client for the settlement gateway: hedge
// execution, risk scoring, portfolio valuation and prices. Everything the
// engine knows about the chain arrives through this surface.
package settlement

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"

	"hedgeguard/internal/chain"
	"hedgeguard/internal/executor"
)

type Client struct {
	host       string
	httpClient *http.Client
}

type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (%d): %s", e.Status, e.Body)
}

func NewClient(httpClient *http.Client, host string) *Client {
	host = strings.TrimRight(host, "/")
	return &Client{
		host:       host,
		httpClient: httpClient,
	}
}

func (c *Client) doRequest(ctx context.Context, method, path string, query url.Values, payload any) ([]byte, error) {
	fullURL := c.host + path
	if len(query) > 0 {
		fullURL = fullURL + "?" + query.Encode()
	}
	var reqBody io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		reqBody = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, fullURL, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	switch {
	case resp.StatusCode == http.StatusOK:
		return body, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("%w: %s", chain.ErrRateLimited, strings.TrimSpace(string(body)))
	case resp.StatusCode >= http.StatusInternalServerError:
		return nil, fmt.Errorf("%w (%d): %s", chain.ErrServerError, resp.StatusCode, strings.TrimSpace(string(body)))
	default:
		return nil, &APIError{Status: resp.StatusCode, Body: string(body)}
	}
}

type openPayload struct {
	RequestID   string `json:"request_id"`
	PortfolioID string `json:"portfolio_id"`
	OwnerWallet string `json:"owner_wallet"`
	Asset       string `json:"asset"`
	Side        string `json:"side"`
	Collateral  string `json:"collateral"`
	Leverage    int    `json:"leverage"`
}

type openResponse struct {
	HedgeID        string          `json:"hedge_id"`
	CommitmentHash string          `json:"commitment_hash"`
	Nullifier      string          `json:"nullifier"`
	EntryPrice     decimal.Decimal `json:"entry_price"`
	Confirmed      bool            `json:"confirmed"`
}

func (c *Client) SubmitOpen(ctx context.Context, order executor.OpenOrder) (executor.OpenResult, error) {
	body, err := c.doRequest(ctx, http.MethodPost, "/v1/hedges/open", nil, openPayload{
		RequestID:   order.RequestID,
		PortfolioID: order.PortfolioID,
		OwnerWallet: order.OwnerWallet,
		Asset:       order.Asset,
		Side:        order.Side,
		Collateral:  order.Collateral.String(),
		Leverage:    order.Leverage,
	})
	if err != nil {
		return executor.OpenResult{}, err
	}
	var out openResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return executor.OpenResult{}, fmt.Errorf("failed to decode open response: %w", err)
	}
	return executor.OpenResult{
		HedgeID:        out.HedgeID,
		CommitmentHash: out.CommitmentHash,
		Nullifier:      out.Nullifier,
		EntryPrice:     out.EntryPrice,
		Confirmed:      out.Confirmed,
	}, nil
}

type closePayload struct {
	RequestID string `json:"request_id"`
	HedgeID   string `json:"hedge_id"`
	Reason    string `json:"reason"`
}

type closeResponse struct {
	RealizedPnL decimal.Decimal `json:"realized_pnl"`
	Confirmed   bool            `json:"confirmed"`
}

func (c *Client) SubmitClose(ctx context.Context, order executor.CloseOrder) (executor.CloseResult, error) {
	body, err := c.doRequest(ctx, http.MethodPost, "/v1/hedges/close", nil, closePayload{
		RequestID: order.RequestID,
		HedgeID:   order.HedgeID,
		Reason:    order.Reason,
	})
	if err != nil {
		return executor.CloseResult{}, err
	}
	var out closeResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return executor.CloseResult{}, fmt.Errorf("failed to decode close response: %w", err)
	}
	return executor.CloseResult{
		RealizedPnL: out.RealizedPnL,
		Confirmed:   out.Confirmed,
	}, nil
}

type rebalanceLegPayload struct {
	Asset     string `json:"asset"`
	Action    string `json:"action"`
	AmountPct string `json:"amount_pct"`
}

type rebalancePayload struct {
	RequestID   string                `json:"request_id"`
	PortfolioID string                `json:"portfolio_id"`
	Legs        []rebalanceLegPayload `json:"legs"`
}

type rebalanceResponse struct {
	Confirmed bool `json:"confirmed"`
}

func (c *Client) SubmitRebalance(ctx context.Context, order executor.RebalanceOrder) (executor.RebalanceResult, error) {
	legs := make([]rebalanceLegPayload, 0, len(order.Legs))
	for _, leg := range order.Legs {
		legs = append(legs, rebalanceLegPayload{
			Asset:     leg.Asset,
			Action:    leg.Action,
			AmountPct: leg.AmountPct.String(),
		})
	}
	body, err := c.doRequest(ctx, http.MethodPost, "/v1/portfolios/rebalance", nil, rebalancePayload{
		RequestID:   order.RequestID,
		PortfolioID: order.PortfolioID,
		Legs:        legs,
	})
	if err != nil {
		return executor.RebalanceResult{}, err
	}
	var out rebalanceResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return executor.RebalanceResult{}, fmt.Errorf("failed to decode rebalance response: %w", err)
	}
	return executor.RebalanceResult{Confirmed: out.Confirmed}, nil
}

func (c *Client) GetPrice(ctx context.Context, asset string) (decimal.Decimal, error) {
	if asset == "" {
		return decimal.Decimal{}, fmt.Errorf("asset is required")
	}
	query := url.Values{}
	query.Set("asset", asset)
	body, err := c.doRequest(ctx, http.MethodGet, "/v1/prices", query, nil)
	if err != nil {
		return decimal.Decimal{}, err
	}
	var out struct {
		Price decimal.Decimal `json:"price"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return decimal.Decimal{}, fmt.Errorf("failed to decode price response: %w", err)
	}
	return out.Price, nil
}

type riskResponse struct {
	PortfolioID       string `json:"portfolio_id"`
	RiskScore         int    `json:"risk_score"`
	OverallRisk       string `json:"overall_risk"`
	RecommendedAction string `json:"recommended_action"`
}

// GetRiskAssessment returns nil without error when the scorer has no view of
// the portfolio yet.
func (c *Client) GetRiskAssessment(ctx context.Context, portfolioID string) (*riskResponse, error) {
	if portfolioID == "" {
		return nil, fmt.Errorf("portfolio_id is required")
	}
	body, err := c.doRequest(ctx, http.MethodGet, "/v1/risk/"+url.PathEscape(portfolioID), nil, nil)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
			return nil, nil
		}
		return nil, err
	}
	var out riskResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("failed to decode risk response: %w", err)
	}
	return &out, nil
}

type allocationResponse struct {
	Allocations map[string]decimal.Decimal `json:"allocations"`
	TotalValue  decimal.Decimal            `json:"total_value"`
}

func (c *Client) GetAllocation(ctx context.Context, portfolioID string) (*allocationResponse, error) {
	if portfolioID == "" {
		return nil, fmt.Errorf("portfolio_id is required")
	}
	body, err := c.doRequest(ctx, http.MethodGet, "/v1/portfolios/"+url.PathEscape(portfolioID)+"/allocation", nil, nil)
	if err != nil {
		return nil, err
	}
	var out allocationResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("failed to decode allocation response: %w", err)
	}
	return &out, nil
}
