package recon

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockrecon/internal/platform/db"
)

// Repository loads reconciliation inputs from the ledger and catalog
// tables and persists runs with their reports.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repo.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func lotKeyArrays(keys []LotKey) ([]int64, []decimal.Decimal) {
	ids := make([]int64, len(keys))
	prices := make([]decimal.Decimal, len(keys))
	for i, k := range keys {
		ids[i] = k.ProductID
		prices[i] = decimal.RequireFromString(k.Price)
	}
	return ids, prices
}

// ListDuplicateLotKeys returns the lots among keys that hold more than
// one ledger line and therefore need aggregation.
func (r *Repository) ListDuplicateLotKeys(ctx context.Context, keys []LotKey) ([]LotKey, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	ids, prices := lotKeyArrays(keys)
	rows, err := r.pool.Query(ctx, `
		SELECT product_id, purchase_price
		FROM purchase_price_stocks
		WHERE (product_id, purchase_price) IN (
			SELECT * FROM unnest($1::bigint[], $2::numeric[])
		)
		GROUP BY product_id, purchase_price
		HAVING COUNT(*) > 1`, ids, prices)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []LotKey
	for rows.Next() {
		var productID int64
		var price decimal.Decimal
		if err := rows.Scan(&productID, &price); err != nil {
			return nil, err
		}
		out = append(out, NewLotKey(productID, price))
	}
	return out, rows.Err()
}

// FetchStockLines loads every ledger line for the requested lots, in
// insertion order. Lines come back raw; aggregation and conversion
// enrichment happen in the engine.
func (r *Repository) FetchStockLines(ctx context.Context, keys []LotKey) ([]StockLine, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	ids, prices := lotKeyArrays(keys)
	rows, err := r.pool.Query(ctx, `
		SELECT product_id, purchase_price, quantity, subquantity
		FROM purchase_price_stocks
		WHERE (product_id, purchase_price) IN (
			SELECT * FROM unnest($1::bigint[], $2::numeric[])
		)
		ORDER BY id`, ids, prices)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []StockLine
	for rows.Next() {
		var line StockLine
		if err := rows.Scan(&line.ProductID, &line.PurchasePrice, &line.Quantity, &line.Subquantity); err != nil {
			return nil, err
		}
		out = append(out, line)
	}
	return out, rows.Err()
}

// FetchProductMeta loads conversion and pricing metadata for the given
// products. Products without a unit relation come back with a nil
// conversion factor.
func (r *Repository) FetchProductMeta(ctx context.Context, productIDs []int64) ([]ProductMeta, error) {
	if len(productIDs) == 0 {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx, `
		SELECT p.id, p.name, p.purchase_price, p.previous_purchase_price, u.related_by
		FROM products p
		LEFT JOIN units u ON p.unit_id = u.id
		WHERE p.id = ANY($1)
		ORDER BY p.id`, productIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ProductMeta
	for rows.Next() {
		var m ProductMeta
		if err := rows.Scan(&m.ProductID, &m.ProductName, &m.PurchasePrice, &m.PreviousPurchasePrice, &m.ConversionFactor); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// FetchPurchaseLines loads the front-end purchase lines of one purchase
// batch. The unit join attaches each product's conversion factor so both
// comparison sides normalize with the same catalog data.
func (r *Repository) FetchPurchaseLines(ctx context.Context, purchaseID int64) ([]PurchaseLine, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT pl.purchase_id, pl.purchase_return_id, pl.product_id, p.name,
		       pl.purchase_price, pl.sale_price, pl.quantity, pl.sub_quantity,
		       pl.returned_quantity, pl.returned_sub_quantity,
		       pl.main_unit, pl.sub_unit, u.related_by
		FROM purchase_lines pl
		JOIN products p ON pl.product_id = p.id
		LEFT JOIN units u ON p.unit_id = u.id
		WHERE pl.purchase_id = $1
		ORDER BY pl.id`, purchaseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PurchaseLine
	for rows.Next() {
		var line PurchaseLine
		var subUnit *string
		if err := rows.Scan(
			&line.PurchaseID, &line.PurchaseReturnID, &line.ProductID, &line.ProductName,
			&line.PurchasePrice, &line.SalePrice, &line.Quantity, &line.SubQuantity,
			&line.ReturnedQuantity, &line.ReturnedSubQuantity,
			&line.MainUnit, &subUnit, &line.ConversionFactor,
		); err != nil {
			return nil, err
		}
		if subUnit != nil {
			line.SubUnit = *subUnit
		}
		out = append(out, line)
	}
	return out, rows.Err()
}

// FetchBaselines loads originally purchased totals per product across
// all of a product's purchase history.
func (r *Repository) FetchBaselines(ctx context.Context, productIDs []int64) ([]PurchaseBaseline, error) {
	if len(productIDs) == 0 {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx, `
		SELECT product_id, COALESCE(SUM(quantity), 0), COALESCE(SUM(sub_quantity), 0)
		FROM purchase_lines
		WHERE product_id = ANY($1)
		GROUP BY product_id
		ORDER BY product_id`, productIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PurchaseBaseline
	for rows.Next() {
		var b PurchaseBaseline
		if err := rows.Scan(&b.ProductID, &b.TotalQuantity, &b.TotalSubQuantity); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// InsertRun stores a new pending run. A purchase batch may only carry one
// active run at a time; violating that maps to ErrRunExists.
func (r *Repository) InsertRun(ctx context.Context, input TriggerRunInput, batchRef string) (Run, error) {
	var run Run
	err := r.pool.QueryRow(ctx, `
		INSERT INTO recon_runs (purchase_id, batch_ref, status, requested_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		RETURNING id, purchase_id, batch_ref, status, error, requested_by, generated_at, created_at, updated_at`,
		input.PurchaseID, batchRef, RunPending, input.ActorID,
	).Scan(&run.ID, &run.PurchaseID, &run.BatchRef, &run.Status, &run.Error, &run.RequestedBy, &run.GeneratedAt, &run.CreatedAt, &run.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Run{}, ErrRunExists
		}
		return Run{}, err
	}
	return run, nil
}

// GetRun fetches run metadata by id.
func (r *Repository) GetRun(ctx context.Context, id int64) (Run, error) {
	var run Run
	err := r.pool.QueryRow(ctx, `
		SELECT id, purchase_id, batch_ref, status, error, requested_by, generated_at, created_at, updated_at
		FROM recon_runs WHERE id = $1`, id,
	).Scan(&run.ID, &run.PurchaseID, &run.BatchRef, &run.Status, &run.Error, &run.RequestedBy, &run.GeneratedAt, &run.CreatedAt, &run.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Run{}, ErrRunNotFound
		}
		return Run{}, err
	}
	return run, nil
}

// ListRuns returns the latest runs, newest first.
func (r *Repository) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, purchase_id, batch_ref, status, error, requested_by, generated_at, created_at, updated_at
		FROM recon_runs ORDER BY id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var run Run
		if err := rows.Scan(&run.ID, &run.PurchaseID, &run.BatchRef, &run.Status, &run.Error, &run.RequestedBy, &run.GeneratedAt, &run.CreatedAt, &run.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

// ListStaleRuns returns runs still PENDING or IN_PROGRESS whose last
// update predates the cutoff.
func (r *Repository) ListStaleRuns(ctx context.Context, cutoff time.Time) ([]Run, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, purchase_id, batch_ref, status, error, requested_by, generated_at, created_at, updated_at
		FROM recon_runs
		WHERE status = ANY($1) AND updated_at < $2
		ORDER BY id`, []string{string(RunPending), string(RunInProgress)}, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var run Run
		if err := rows.Scan(&run.ID, &run.PurchaseID, &run.BatchRef, &run.Status, &run.Error, &run.RequestedBy, &run.GeneratedAt, &run.CreatedAt, &run.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

// UpdateStatus transitions a run and records the failure reason when any.
func (r *Repository) UpdateStatus(ctx context.Context, id int64, status RunStatus, errMsg string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE recon_runs SET status = $2, error = $3, updated_at = NOW() WHERE id = $1`,
		id, status, errMsg)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrRunNotFound
	}
	return nil
}

// CompleteRun stores the generated report and flips the run to READY in
// one transaction, so readers never observe a READY run without payload.
func (r *Repository) CompleteRun(ctx context.Context, id int64, report Report) error {
	payload, err := json.Marshal(report)
	if err != nil {
		return err
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE recon_runs SET payload = $2, generated_at = $3, updated_at = NOW() WHERE id = $1`,
			id, payload, time.Now().UTC())
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrRunNotFound
		}
		_, err = tx.Exec(ctx, `
			UPDATE recon_runs SET status = $2, error = '' WHERE id = $1`, id, RunReady)
		return err
	})
}

// LoadReport returns a previously generated report.
func (r *Repository) LoadReport(ctx context.Context, id int64) (Report, error) {
	var payload []byte
	err := r.pool.QueryRow(ctx, `SELECT payload FROM recon_runs WHERE id = $1`, id).Scan(&payload)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Report{}, ErrRunNotFound
		}
		return Report{}, err
	}
	if len(payload) == 0 {
		return Report{}, ErrReportNotReady
	}
	var report Report
	if err := json.Unmarshal(payload, &report); err != nil {
		return Report{}, err
	}
	return report, nil
}
