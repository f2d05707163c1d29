package recon

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type memoryRepo struct {
	stock       []StockLine
	meta        []ProductMeta
	purchases   map[int64][]PurchaseLine
	runs        map[int64]*Run
	reports     map[int64]Report
	nextID      int64
	failOnStock bool
	activeBatch map[int64]struct{}
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		purchases:   make(map[int64][]PurchaseLine),
		runs:        make(map[int64]*Run),
		reports:     make(map[int64]Report),
		activeBatch: make(map[int64]struct{}),
	}
}

func (r *memoryRepo) ListDuplicateLotKeys(ctx context.Context, keys []LotKey) ([]LotKey, error) {
	count := make(map[LotKey]int)
	for _, s := range r.stock {
		count[s.Key()]++
	}
	var out []LotKey
	for _, k := range keys {
		if count[k] > 1 {
			out = append(out, k)
		}
	}
	return out, nil
}

func (r *memoryRepo) FetchStockLines(ctx context.Context, keys []LotKey) ([]StockLine, error) {
	if r.failOnStock {
		return nil, errors.New("ledger unavailable")
	}
	want := make(map[LotKey]struct{}, len(keys))
	for _, k := range keys {
		want[k] = struct{}{}
	}
	var out []StockLine
	for _, s := range r.stock {
		if _, ok := want[s.Key()]; ok {
			out = append(out, s)
		}
	}
	return out, nil
}

func (r *memoryRepo) FetchProductMeta(ctx context.Context, productIDs []int64) ([]ProductMeta, error) {
	want := make(map[int64]struct{}, len(productIDs))
	for _, id := range productIDs {
		want[id] = struct{}{}
	}
	var out []ProductMeta
	for _, m := range r.meta {
		if _, ok := want[m.ProductID]; ok {
			out = append(out, m)
		}
	}
	return out, nil
}

func (r *memoryRepo) FetchPurchaseLines(ctx context.Context, purchaseID int64) ([]PurchaseLine, error) {
	return r.purchases[purchaseID], nil
}

func (r *memoryRepo) InsertRun(ctx context.Context, input TriggerRunInput, batchRef string) (Run, error) {
	if _, ok := r.activeBatch[input.PurchaseID]; ok {
		return Run{}, ErrRunExists
	}
	r.activeBatch[input.PurchaseID] = struct{}{}
	r.nextID++
	run := Run{ID: r.nextID, PurchaseID: input.PurchaseID, BatchRef: batchRef, Status: RunPending, RequestedBy: input.ActorID, UpdatedAt: time.Now()}
	r.runs[run.ID] = &run
	return run, nil
}

func (r *memoryRepo) GetRun(ctx context.Context, id int64) (Run, error) {
	run, ok := r.runs[id]
	if !ok {
		return Run{}, ErrRunNotFound
	}
	return *run, nil
}

func (r *memoryRepo) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	out := make([]Run, 0, len(r.runs))
	for _, run := range r.runs {
		out = append(out, *run)
	}
	return out, nil
}

func (r *memoryRepo) ListStaleRuns(ctx context.Context, cutoff time.Time) ([]Run, error) {
	var out []Run
	for _, run := range r.runs {
		if run.Status != RunPending && run.Status != RunInProgress {
			continue
		}
		if run.UpdatedAt.Before(cutoff) {
			out = append(out, *run)
		}
	}
	return out, nil
}

func (r *memoryRepo) UpdateStatus(ctx context.Context, id int64, status RunStatus, errMsg string) error {
	run, ok := r.runs[id]
	if !ok {
		return ErrRunNotFound
	}
	run.Status = status
	run.Error = errMsg
	return nil
}

func (r *memoryRepo) CompleteRun(ctx context.Context, id int64, report Report) error {
	run, ok := r.runs[id]
	if !ok {
		return ErrRunNotFound
	}
	run.Status = RunReady
	run.Error = ""
	r.reports[id] = report
	return nil
}

func (r *memoryRepo) LoadReport(ctx context.Context, id int64) (Report, error) {
	report, ok := r.reports[id]
	if !ok {
		return Report{}, ErrReportNotReady
	}
	return report, nil
}

func seedBatch(repo *memoryRepo) {
	repo.stock = []StockLine{
		{ProductID: 46, PurchasePrice: decimal.NewFromInt(10), Quantity: 1, Subquantity: 200},
		{ProductID: 46, PurchasePrice: decimal.NewFromInt(10), Quantity: 1, Subquantity: 299},
		{ProductID: 45, PurchasePrice: decimal.NewFromInt(10), Quantity: 10},
	}
	repo.meta = []ProductMeta{
		{ProductID: 46, ProductName: "rice", PurchasePrice: decimal.NewFromInt(10), ConversionFactor: factorOf(1000)},
		{ProductID: 45, ProductName: "new-1", PurchasePrice: decimal.NewFromInt(10)},
	}
	repo.purchases[1029] = []PurchaseLine{
		{PurchaseID: 1029, ProductID: 46, ProductName: "rice", PurchasePrice: decimal.NewFromInt(10), Quantity: 2, SubQuantity: 499, ConversionFactor: factorOf(1000)},
		{PurchaseID: 1029, ProductID: 45, ProductName: "new-1", PurchasePrice: decimal.NewFromInt(10), Quantity: 10},
	}
}

func TestServiceTriggerAndProcessRun(t *testing.T) {
	repo := newMemoryRepo()
	seedBatch(repo)
	svc := NewService(repo, nil, nil, nil)
	ctx := context.Background()

	run, err := svc.TriggerRun(ctx, TriggerRunInput{PurchaseID: 1029, ActorID: 7})
	require.NoError(t, err)
	require.Equal(t, RunPending, run.Status)
	require.NotEmpty(t, run.BatchRef)

	require.NoError(t, svc.ProcessRun(ctx, run.ID))

	got, err := svc.GetRun(ctx, run.ID)
	require.NoError(t, err)
	require.Equal(t, RunReady, got.Status)

	report, err := svc.GetReport(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, report.Rows, 2)
	// Two ledger lines for product 46 merge to 2kg 499g = 2499g, matching
	// the purchase side exactly.
	require.Equal(t, RowOK, report.Rows[0].Status)
	require.Equal(t, int64(2499), report.Rows[0].StockTotal)
	require.Equal(t, RowOK, report.Rows[1].Status)
	require.Equal(t, 1, report.DuplicateLots)
	require.True(t, report.Clean())
}

func TestServiceTriggerRunValidates(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil, nil, nil)
	_, err := svc.TriggerRun(context.Background(), TriggerRunInput{PurchaseID: 0, ActorID: 1})
	require.Error(t, err)
	_, err = svc.TriggerRun(context.Background(), TriggerRunInput{PurchaseID: 1, ActorID: 0})
	require.Error(t, err)
}

func TestServiceTriggerRunDuplicateBatch(t *testing.T) {
	repo := newMemoryRepo()
	seedBatch(repo)
	svc := NewService(repo, nil, nil, nil)
	ctx := context.Background()

	_, err := svc.TriggerRun(ctx, TriggerRunInput{PurchaseID: 1029, ActorID: 7})
	require.NoError(t, err)
	_, err = svc.TriggerRun(ctx, TriggerRunInput{PurchaseID: 1029, ActorID: 7})
	require.ErrorIs(t, err, ErrRunExists)
}

func TestServiceProcessRunFailure(t *testing.T) {
	repo := newMemoryRepo()
	seedBatch(repo)
	repo.failOnStock = true
	svc := NewService(repo, nil, nil, nil)
	ctx := context.Background()

	run, err := svc.TriggerRun(ctx, TriggerRunInput{PurchaseID: 1029, ActorID: 7})
	require.NoError(t, err)
	require.Error(t, svc.ProcessRun(ctx, run.ID))

	got, err := svc.GetRun(ctx, run.ID)
	require.NoError(t, err)
	require.Equal(t, RunFailed, got.Status)
	require.Contains(t, got.Error, "ledger unavailable")
}

func TestServiceGetReportNotReady(t *testing.T) {
	repo := newMemoryRepo()
	seedBatch(repo)
	svc := NewService(repo, nil, nil, nil)
	ctx := context.Background()

	run, err := svc.TriggerRun(ctx, TriggerRunInput{PurchaseID: 1029, ActorID: 7})
	require.NoError(t, err)

	_, err = svc.GetReport(ctx, run.ID)
	require.ErrorIs(t, err, ErrReportNotReady)
}

func TestServiceSweepStale(t *testing.T) {
	repo := newMemoryRepo()
	seedBatch(repo)
	svc := NewService(repo, nil, nil, nil)
	ctx := context.Background()

	pending, err := svc.TriggerRun(ctx, TriggerRunInput{PurchaseID: 1029, ActorID: 7})
	require.NoError(t, err)
	stuck, err := svc.TriggerRun(ctx, TriggerRunInput{PurchaseID: 2040, ActorID: 7})
	require.NoError(t, err)
	fresh, err := svc.TriggerRun(ctx, TriggerRunInput{PurchaseID: 3051, ActorID: 7})
	require.NoError(t, err)

	past := time.Now().Add(-time.Hour)
	repo.runs[pending.ID].UpdatedAt = past
	repo.runs[stuck.ID].Status = RunInProgress
	repo.runs[stuck.ID].UpdatedAt = past

	requeue, err := svc.SweepStale(ctx, 30*time.Minute)
	require.NoError(t, err)
	require.Len(t, requeue, 1)
	require.Equal(t, pending.ID, requeue[0].ID)

	got, err := svc.GetRun(ctx, stuck.ID)
	require.NoError(t, err)
	require.Equal(t, RunFailed, got.Status)
	require.Contains(t, got.Error, "stalled")

	got, err = svc.GetRun(ctx, fresh.ID)
	require.NoError(t, err)
	require.Equal(t, RunPending, got.Status)
}

func TestServiceDuplicateLots(t *testing.T) {
	repo := newMemoryRepo()
	seedBatch(repo)
	svc := NewService(repo, nil, nil, nil)

	lots, err := svc.DuplicateLots(context.Background(), 1029)
	require.NoError(t, err)
	require.Len(t, lots, 1)
	require.Equal(t, int64(46), lots[0].ProductID)
}
