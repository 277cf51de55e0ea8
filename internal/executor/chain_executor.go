package executor

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"hedgeguard/internal/chain"
	"hedgeguard/internal/config"
)

// SettlementClient is the raw wire client for the settlement contract. It is
// implemented outside this core; the engine only depends on this surface.
type SettlementClient interface {
	SubmitOpen(ctx context.Context, order OpenOrder) (OpenResult, error)
	SubmitClose(ctx context.Context, order CloseOrder) (CloseResult, error)
	SubmitRebalance(ctx context.Context, order RebalanceOrder) (RebalanceResult, error)
}

// ChainExecutor routes executor traffic through the rate-limited accessor so
// settlement writes share the same concurrency bound and retry policy as
// reads. Writes never consult the cache.
type ChainExecutor struct {
	Accessor *chain.Accessor
	Client   SettlementClient
	Logger   *zap.Logger
	Config   config.ExecutorConfig
}

func (e *ChainExecutor) Open(ctx context.Context, order OpenOrder) (OpenResult, error) {
	if e == nil || e.Accessor == nil || e.Client == nil {
		return OpenResult{}, fmt.Errorf("executor not configured")
	}
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	v, err := e.Accessor.Call(ctx, "", 0, func(ctx context.Context) (any, error) {
		return e.Client.SubmitOpen(ctx, order)
	})
	if err != nil {
		return OpenResult{}, err
	}
	result, ok := v.(OpenResult)
	if !ok {
		return OpenResult{}, fmt.Errorf("unexpected open result type %T", v)
	}
	if e.Logger != nil {
		e.Logger.Info("executor open submitted",
			zap.String("request_id", order.RequestID),
			zap.String("portfolio_id", order.PortfolioID),
			zap.String("asset", order.Asset),
			zap.String("side", order.Side),
			zap.Bool("confirmed", result.Confirmed),
		)
	}
	return result, nil
}

func (e *ChainExecutor) Close(ctx context.Context, order CloseOrder) (CloseResult, error) {
	if e == nil || e.Accessor == nil || e.Client == nil {
		return CloseResult{}, fmt.Errorf("executor not configured")
	}
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	v, err := e.Accessor.Call(ctx, "", 0, func(ctx context.Context) (any, error) {
		return e.Client.SubmitClose(ctx, order)
	})
	if err != nil {
		return CloseResult{}, err
	}
	result, ok := v.(CloseResult)
	if !ok {
		return CloseResult{}, fmt.Errorf("unexpected close result type %T", v)
	}
	if e.Logger != nil {
		e.Logger.Info("executor close submitted",
			zap.String("request_id", order.RequestID),
			zap.String("hedge_id", order.HedgeID),
			zap.String("reason", order.Reason),
			zap.Bool("confirmed", result.Confirmed),
		)
	}
	return result, nil
}

func (e *ChainExecutor) Rebalance(ctx context.Context, order RebalanceOrder) (RebalanceResult, error) {
	if e == nil || e.Accessor == nil || e.Client == nil {
		return RebalanceResult{}, fmt.Errorf("executor not configured")
	}
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	v, err := e.Accessor.Call(ctx, "", 0, func(ctx context.Context) (any, error) {
		return e.Client.SubmitRebalance(ctx, order)
	})
	if err != nil {
		return RebalanceResult{}, err
	}
	result, ok := v.(RebalanceResult)
	if !ok {
		return RebalanceResult{}, fmt.Errorf("unexpected rebalance result type %T", v)
	}
	if e.Logger != nil {
		e.Logger.Info("executor rebalance submitted",
			zap.String("request_id", order.RequestID),
			zap.String("portfolio_id", order.PortfolioID),
			zap.Int("legs", len(order.Legs)),
			zap.Bool("confirmed", result.Confirmed),
		)
	}
	return result, nil
}

func (e *ChainExecutor) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := e.Config.CallTimeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return context.WithTimeout(ctx, timeout)
}
