package recon

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/stockrecon/internal/shared"
)

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	ListDuplicateLotKeys(ctx context.Context, keys []LotKey) ([]LotKey, error)
	FetchStockLines(ctx context.Context, keys []LotKey) ([]StockLine, error)
	FetchProductMeta(ctx context.Context, productIDs []int64) ([]ProductMeta, error)
	FetchPurchaseLines(ctx context.Context, purchaseID int64) ([]PurchaseLine, error)
	InsertRun(ctx context.Context, input TriggerRunInput, batchRef string) (Run, error)
	GetRun(ctx context.Context, id int64) (Run, error)
	ListRuns(ctx context.Context, limit int) ([]Run, error)
	ListStaleRuns(ctx context.Context, cutoff time.Time) ([]Run, error)
	UpdateStatus(ctx context.Context, id int64, status RunStatus, errMsg string) error
	CompleteRun(ctx context.Context, id int64, report Report) error
	LoadReport(ctx context.Context, id int64) (Report, error)
}

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// IdempotencyPort guards against concurrent runs over one batch.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// Service coordinates reconciliation runs: triggering, processing and
// report reads.
type Service struct {
	repo        RepositoryPort
	audit       AuditPort
	idempotency IdempotencyPort
	cache       *Cache
	now         func() time.Time
}

// NewService builds the service. Audit, idempotency and cache are
// optional; a nil value disables the concern.
func NewService(repo RepositoryPort, audit AuditPort, idem IdempotencyPort, cache *Cache) *Service {
	return &Service{repo: repo, audit: audit, idempotency: idem, cache: cache, now: time.Now}
}

func idempotencyKey(purchaseID int64) string {
	return fmt.Sprintf("recon:purchase:%d", purchaseID)
}

// TriggerRun validates the request and inserts a pending run.
func (s *Service) TriggerRun(ctx context.Context, input TriggerRunInput) (Run, error) {
	if err := input.Validate(); err != nil {
		return Run{}, err
	}
	insertedKey := false
	if s.idempotency != nil {
		if err := s.idempotency.CheckAndInsert(ctx, idempotencyKey(input.PurchaseID), "recon"); err != nil {
			return Run{}, err
		}
		insertedKey = true
	}
	run, err := s.repo.InsertRun(ctx, input, uuid.NewString())
	if err != nil {
		if insertedKey {
			_ = s.idempotency.Delete(ctx, idempotencyKey(input.PurchaseID))
		}
		return Run{}, err
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  input.ActorID,
			Action:   "recon:trigger",
			Entity:   "recon_run",
			EntityID: run.BatchRef,
			Meta: map[string]any{
				"run_id":      run.ID,
				"purchase_id": input.PurchaseID,
			},
		})
	}
	return run, nil
}

// GetRun returns run metadata by id.
func (s *Service) GetRun(ctx context.Context, id int64) (Run, error) {
	return s.repo.GetRun(ctx, id)
}

// ListRuns returns the latest runs.
func (s *Service) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	return s.repo.ListRuns(ctx, limit)
}

// GetReport returns the generated report of a READY run, serving cached
// payloads when possible.
func (s *Service) GetReport(ctx context.Context, id int64) (Report, error) {
	run, err := s.repo.GetRun(ctx, id)
	if err != nil {
		return Report{}, err
	}
	if run.Status != RunReady {
		return Report{}, ErrReportNotReady
	}
	return s.cache.FetchReport(ctx, id, func(ctx context.Context) (Report, error) {
		return s.repo.LoadReport(ctx, id)
	})
}

// DuplicateLots reports which lots of a purchase batch hold duplicate
// ledger lines and would be merged by a run. Diagnostic; the run itself
// aggregates regardless.
func (s *Service) DuplicateLots(ctx context.Context, purchaseID int64) ([]LotKey, error) {
	purchase, err := s.repo.FetchPurchaseLines(ctx, purchaseID)
	if err != nil {
		return nil, err
	}
	return s.repo.ListDuplicateLotKeys(ctx, purchaseKeys(purchase))
}

func purchaseKeys(purchase []PurchaseLine) []LotKey {
	seen := make(map[LotKey]struct{}, len(purchase))
	keys := make([]LotKey, 0, len(purchase))
	for _, line := range purchase {
		key := line.Key()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		keys = append(keys, key)
	}
	return keys
}

// ExportRows renders report rows as CSV records with a header row.
func ExportRows(rows []ReportRow) [][]string {
	out := make([][]string, 0, len(rows)+1)
	header := []string{"Product", "Name", "Price", "Purchase Total", "Stock Total", "Status", "Recalculated"}
	out = append(out, header)
	for _, row := range rows {
		out = append(out, []string{
			strconv.FormatInt(row.ProductID, 10),
			row.ProductName,
			row.PurchasePrice.StringFixed(2),
			strconv.FormatInt(row.PurchaseTotal, 10),
			strconv.FormatInt(row.StockTotal, 10),
			string(row.Status),
			fmt.Sprintf("%t", row.QuantityCalculated),
		})
	}
	return out
}

func productIDs(purchase []PurchaseLine) []int64 {
	seen := make(map[int64]struct{}, len(purchase))
	ids := make([]int64, 0, len(purchase))
	for _, line := range purchase {
		if _, ok := seen[line.ProductID]; ok {
			continue
		}
		seen[line.ProductID] = struct{}{}
		ids = append(ids, line.ProductID)
	}
	return ids
}

// ProcessRun executes the reconciliation pipeline for a pending run and
// persists the report. Ledger lines and catalog metadata are independent
// datasets and load concurrently.
func (s *Service) ProcessRun(ctx context.Context, runID int64) error {
	run, err := s.repo.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if err := s.repo.UpdateStatus(ctx, run.ID, RunInProgress, ""); err != nil {
		return err
	}

	purchase, err := s.repo.FetchPurchaseLines(ctx, run.PurchaseID)
	if err != nil {
		return s.failRun(ctx, run, err)
	}

	keys := purchaseKeys(purchase)
	var lines []StockLine
	var meta []ProductMeta
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		lines, err = s.repo.FetchStockLines(gctx, keys)
		return err
	})
	g.Go(func() error {
		var err error
		meta, err = s.repo.FetchProductMeta(gctx, productIDs(purchase))
		return err
	})
	if err := g.Wait(); err != nil {
		return s.failRun(ctx, run, err)
	}

	report := Reconcile(lines, meta, purchase)
	if err := s.repo.CompleteRun(ctx, run.ID, report); err != nil {
		return s.failRun(ctx, run, err)
	}
	// Stale cache entries expire by TTL, so a failed bump is not fatal.
	_ = s.cache.Invalidate(ctx)
	if s.idempotency != nil {
		_ = s.idempotency.Delete(ctx, idempotencyKey(run.PurchaseID))
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  run.RequestedBy,
			Action:   "recon:complete",
			Entity:   "recon_run",
			EntityID: run.BatchRef,
			Meta: map[string]any{
				"run_id":     run.ID,
				"mismatches": report.MismatchCount,
				"missing":    report.MissingCount,
			},
		})
	}
	return nil
}

// SweepStale inspects runs that sat untouched past the cutoff. Stuck
// IN_PROGRESS runs are failed and their batch lock released; PENDING
// runs that never reached a worker are returned for re-enqueueing.
func (s *Service) SweepStale(ctx context.Context, olderThan time.Duration) ([]Run, error) {
	runs, err := s.repo.ListStaleRuns(ctx, s.now().Add(-olderThan))
	if err != nil {
		return nil, err
	}
	var requeue []Run
	for _, run := range runs {
		switch run.Status {
		case RunPending:
			requeue = append(requeue, run)
		case RunInProgress:
			_ = s.failRun(ctx, run, errors.New("recon: run stalled"))
		}
	}
	return requeue, nil
}

func (s *Service) failRun(ctx context.Context, run Run, cause error) error {
	_ = s.repo.UpdateStatus(ctx, run.ID, RunFailed, cause.Error())
	if s.idempotency != nil {
		_ = s.idempotency.Delete(ctx, idempotencyKey(run.PurchaseID))
	}
	return cause
}
