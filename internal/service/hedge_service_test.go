package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"hedgeguard/internal/executor"
	"hedgeguard/internal/hedge"
	"hedgeguard/internal/models"
	"hedgeguard/internal/repository"
)

type stubExecutor struct {
	mu          sync.Mutex
	openResult  executor.OpenResult
	openErr     error
	closeResult executor.CloseResult
	closeErr    error
	opens       []executor.OpenOrder
	closes      []executor.CloseOrder
}

func (e *stubExecutor) Open(ctx context.Context, order executor.OpenOrder) (executor.OpenResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.opens = append(e.opens, order)
	return e.openResult, e.openErr
}

func (e *stubExecutor) Close(ctx context.Context, order executor.CloseOrder) (executor.CloseResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closes = append(e.closes, order)
	return e.closeResult, e.closeErr
}

func (e *stubExecutor) closeCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.closes)
}

type lifecycleRepo struct {
	repository.Repository
	mu        sync.Mutex
	inserted  []*models.HedgePosition
	activated map[string]decimal.Decimal
	cancelled map[string]string
	closed    map[string]string
	closeRows int64
	byID      map[string]*models.HedgePosition
	positions []models.HedgePosition
}

func newLifecycleRepo() *lifecycleRepo {
	return &lifecycleRepo{
		activated: map[string]decimal.Decimal{},
		cancelled: map[string]string{},
		closed:    map[string]string{},
		closeRows: 1,
		byID:      map[string]*models.HedgePosition{},
	}
}

func (r *lifecycleRepo) InsertHedgePosition(ctx context.Context, item *models.HedgePosition) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inserted = append(r.inserted, item)
	return nil
}

func (r *lifecycleRepo) ActivateHedgePosition(ctx context.Context, id, commitmentHash, nullifier string, entryPrice decimal.Decimal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.activated[id] = entryPrice
	return nil
}

func (r *lifecycleRepo) CancelPendingHedgePosition(ctx context.Context, id, reason string, closedAt time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancelled[id] = reason
	return 1, nil
}

func (r *lifecycleRepo) CloseHedgePosition(ctx context.Context, id, status, reason string, realizedPnL decimal.Decimal, closedAt time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closeRows > 0 {
		r.closed[id] = reason
	}
	return r.closeRows, nil
}

func (r *lifecycleRepo) GetHedgePositionByID(ctx context.Context, id string) (*models.HedgePosition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byID[id], nil
}

func (r *lifecycleRepo) ListHedgePositions(ctx context.Context, params repository.ListHedgePositionsParams) ([]models.HedgePosition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.HedgePosition
	for _, p := range r.positions {
		if params.Status != nil && p.Status != *params.Status {
			continue
		}
		if params.PortfolioID != nil && p.PortfolioID != *params.PortfolioID {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func testOpenRequest() hedge.OpenRequest {
	return hedge.OpenRequest{
		PortfolioID:      "pf-1",
		OwnerWallet:      "0xabc",
		Asset:            "BTC",
		Side:             models.SideShort,
		CollateralAmount: decimal.NewFromInt(1000),
		Leverage:         3,
	}
}

func TestOpenConfirmedActivates(t *testing.T) {
	repo := newLifecycleRepo()
	exec := &stubExecutor{openResult: executor.OpenResult{
		CommitmentHash: "0xc",
		Nullifier:      "0xn",
		EntryPrice:     decimal.NewFromInt(96000),
		Confirmed:      true,
	}}
	svc := &HedgeService{Repo: repo, Executor: exec}

	p, err := svc.Open(context.Background(), testOpenRequest(), hedge.Policy{})
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if p.Status != models.HedgeStatusActive {
		t.Fatalf("status=%s want active", p.Status)
	}
	if len(repo.inserted) != 1 {
		t.Fatalf("inserted=%d want 1", len(repo.inserted))
	}
	if entry, ok := repo.activated[p.ID]; !ok || !entry.Equal(decimal.NewFromInt(96000)) {
		t.Fatalf("activation not persisted: %v", repo.activated)
	}
	if len(exec.opens) != 1 || exec.opens[0].RequestID != p.ID {
		t.Fatalf("executor request id must equal position id")
	}
}

func TestOpenExecutorFailureCancelsPending(t *testing.T) {
	repo := newLifecycleRepo()
	exec := &stubExecutor{openErr: errors.New("gateway down")}
	svc := &HedgeService{Repo: repo, Executor: exec}

	_, err := svc.Open(context.Background(), testOpenRequest(), hedge.Policy{})
	var execErr *hedge.ExecutorFailure
	if !errors.As(err, &execErr) {
		t.Fatalf("err=%v want ExecutorFailure", err)
	}
	if len(repo.inserted) != 1 {
		t.Fatalf("inserted=%d want 1", len(repo.inserted))
	}
	id := repo.inserted[0].ID
	if repo.cancelled[id] != "executor_failed" {
		t.Fatalf("cancelled=%v want executor_failed for %s", repo.cancelled, id)
	}
}

func TestOpenUnconfirmedStaysPending(t *testing.T) {
	repo := newLifecycleRepo()
	exec := &stubExecutor{openResult: executor.OpenResult{Confirmed: false}}
	svc := &HedgeService{Repo: repo, Executor: exec}

	p, err := svc.Open(context.Background(), testOpenRequest(), hedge.Policy{})
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if p.Status != models.HedgeStatusPending {
		t.Fatalf("status=%s want pending", p.Status)
	}
	if len(repo.activated) != 0 {
		t.Fatalf("unconfirmed open must not activate")
	}
}

func TestOpenRejectsPolicyViolationBeforeExecutor(t *testing.T) {
	repo := newLifecycleRepo()
	exec := &stubExecutor{}
	svc := &HedgeService{Repo: repo, Executor: exec}

	req := testOpenRequest()
	req.Leverage = 50
	_, err := svc.Open(context.Background(), req, hedge.Policy{MaxLeverage: 10})
	var vErr *hedge.ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("err=%v want ValidationError", err)
	}
	if len(repo.inserted) != 0 || len(exec.opens) != 0 {
		t.Fatalf("rejected request must not reach storage or executor")
	}
}

func TestCloseActiveHedge(t *testing.T) {
	repo := newLifecycleRepo()
	repo.byID["h-1"] = &models.HedgePosition{
		ID:            "h-1",
		Status:        models.HedgeStatusActive,
		Side:          models.SideShort,
		EntryPrice:    decimal.NewFromInt(96000),
		NotionalValue: decimal.NewFromInt(3000),
		Leverage:      3,
	}
	exec := &stubExecutor{closeResult: executor.CloseResult{
		RealizedPnL: decimal.NewFromInt(120),
		Confirmed:   true,
	}}
	svc := &HedgeService{Repo: repo, Executor: exec}

	p, err := svc.Close(context.Background(), "h-1", "manual")
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if p.Status != models.HedgeStatusClosed {
		t.Fatalf("status=%s want closed", p.Status)
	}
	if repo.closed["h-1"] != "manual" {
		t.Fatalf("closed=%v", repo.closed)
	}
	if !p.RealizedPnL.Equal(decimal.NewFromInt(120)) {
		t.Fatalf("realized=%s want 120", p.RealizedPnL)
	}
	// The hedge id is the close request id, so a retried close after a
	// gateway timeout dedupes instead of submitting twice.
	if len(exec.closes) != 1 || exec.closes[0].RequestID != "h-1" {
		t.Fatalf("close request id must equal hedge id: %+v", exec.closes)
	}
}

func TestClosePendingCancelsWithoutExecutor(t *testing.T) {
	repo := newLifecycleRepo()
	repo.byID["h-1"] = &models.HedgePosition{ID: "h-1", Status: models.HedgeStatusPending}
	exec := &stubExecutor{}
	svc := &HedgeService{Repo: repo, Executor: exec}

	p, err := svc.Close(context.Background(), "h-1", "operator_abort")
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if p.Status != models.HedgeStatusCancelled {
		t.Fatalf("status=%s want cancelled", p.Status)
	}
	if exec.closeCount() != 0 {
		t.Fatalf("pending close must not hit the executor")
	}
}

func TestCloseTerminalHedgeRejected(t *testing.T) {
	repo := newLifecycleRepo()
	repo.byID["h-1"] = &models.HedgePosition{ID: "h-1", Status: models.HedgeStatusClosed}
	svc := &HedgeService{Repo: repo, Executor: &stubExecutor{}}

	_, err := svc.Close(context.Background(), "h-1", "again")
	var stateErr *hedge.InvalidStateError
	if !errors.As(err, &stateErr) {
		t.Fatalf("err=%v want InvalidStateError", err)
	}
}

func TestCloseRaceReturnsCurrentRow(t *testing.T) {
	repo := newLifecycleRepo()
	repo.closeRows = 0
	repo.byID["h-1"] = &models.HedgePosition{ID: "h-1", Status: models.HedgeStatusActive}
	svc := &HedgeService{Repo: repo, Executor: &stubExecutor{}}

	// Another closer wins between the executor call and the update; the row
	// comes back as-is rather than erroring.
	p, err := svc.Close(context.Background(), "h-1", "manual")
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if p == nil {
		t.Fatalf("expected current row")
	}
}

func TestCancelStalePending(t *testing.T) {
	repo := newLifecycleRepo()
	now := time.Now().UTC()
	repo.positions = []models.HedgePosition{
		{ID: "old", Status: models.HedgeStatusPending, OpenedAt: now.Add(-20 * time.Minute)},
		{ID: "fresh", Status: models.HedgeStatusPending, OpenedAt: now.Add(-1 * time.Minute)},
	}
	svc := &HedgeService{Repo: repo, Executor: &stubExecutor{}}

	n, err := svc.CancelStalePending(context.Background(), 10*time.Minute)
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if n != 1 {
		t.Fatalf("cancelled=%d want 1", n)
	}
	if repo.cancelled["old"] != "confirmation_timeout" {
		t.Fatalf("cancelled=%v", repo.cancelled)
	}
	if _, ok := repo.cancelled["fresh"]; ok {
		t.Fatalf("fresh pending must not be cancelled")
	}
}
