package recon

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// LotKey identifies a stock lot. The same product held at different
// historical purchase prices counts as distinct lots, so the key is the
// pair, never the product id alone.
type LotKey struct {
	ProductID int64
	Price     string
}

// NewLotKey builds a key with the purchase price in canonical form, so
// decimal representations that are numerically equal map to one lot.
func NewLotKey(productID int64, price decimal.Decimal) LotKey {
	return LotKey{ProductID: productID, Price: price.StringFixed(4)}
}

// StockLine is one ledger entry of the purchase-price-wise stock table.
type StockLine struct {
	ProductID        int64
	PurchasePrice    decimal.Decimal
	Quantity         int64
	Subquantity      int64
	ConversionFactor *int64
	// QuantityCalculated marks lines whose product changed purchase price
	// between lots; set by FlagPriceChanges.
	QuantityCalculated bool
}

// Key returns the lot key of the line.
func (l StockLine) Key() LotKey {
	return NewLotKey(l.ProductID, l.PurchasePrice)
}

// ProductMeta carries unit-conversion and pricing metadata from the
// product catalog. ConversionFactor is the number of sub-units per whole
// unit (1000 gm per kg); nil means the product has no sub-unit.
type ProductMeta struct {
	ProductID             int64
	ProductName           string
	PurchasePrice         decimal.Decimal
	PreviousPurchasePrice *decimal.Decimal
	ConversionFactor      *int64
}

// Key returns the lot key of the metadata entry.
func (m ProductMeta) Key() LotKey {
	return NewLotKey(m.ProductID, m.PurchasePrice)
}

// PurchaseLine is a purchase or purchase-return line item entered on the
// front end.
type PurchaseLine struct {
	PurchaseID          int64
	PurchaseReturnID    *int64
	ProductID           int64
	ProductName         string
	PurchasePrice       decimal.Decimal
	SalePrice           decimal.Decimal
	Quantity            int64
	SubQuantity         int64
	ReturnedQuantity    int64
	ReturnedSubQuantity int64
	MainUnit            string
	SubUnit             string
	ConversionFactor    *int64
	// Baseline totals attached by EnrichBaseline; zero when the product
	// has no purchase history.
	BaselineQuantity    int64
	BaselineSubQuantity int64
}

// Key returns the lot key of the line.
func (p PurchaseLine) Key() LotKey {
	return NewLotKey(p.ProductID, p.PurchasePrice)
}

// PurchaseBaseline summarises originally purchased totals per product.
type PurchaseBaseline struct {
	ProductID        int64
	TotalQuantity    int64
	TotalSubQuantity int64
}

// NotFoundError reports a purchase-side product with no counterpart in
// the stock data.
type NotFoundError struct {
	ProductID int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("recon: product %d not found in stock data", e.ProductID)
}

// MismatchError reports disagreeing normalized totals for one product.
type MismatchError struct {
	ProductID     int64
	PurchaseTotal int64
	StockTotal    int64
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("recon: quantity mismatch for product %d: purchase total %d, stock total %d", e.ProductID, e.PurchaseTotal, e.StockTotal)
}

// RunStatus enumerates the reconciliation run lifecycle.
type RunStatus string

const (
	// RunPending indicates the run is queued.
	RunPending RunStatus = "PENDING"
	// RunInProgress indicates the worker is processing the run.
	RunInProgress RunStatus = "IN_PROGRESS"
	// RunReady indicates the report is available.
	RunReady RunStatus = "READY"
	// RunFailed indicates processing stopped on an error.
	RunFailed RunStatus = "FAILED"
)

// Run stores metadata for one reconciliation execution.
type Run struct {
	ID          int64
	PurchaseID  int64
	BatchRef    string
	Status      RunStatus
	Error       string
	RequestedBy int64
	GeneratedAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// RowStatus labels a single report row.
type RowStatus string

const (
	// RowOK means both sides agree.
	RowOK RowStatus = "OK"
	// RowMismatch means normalized totals differ.
	RowMismatch RowStatus = "MISMATCH"
	// RowMissing means the stock side has no lot for the product.
	RowMissing RowStatus = "MISSING"
)

// ReportRow is the per-product outcome of a reconciliation run.
type ReportRow struct {
	ProductID          int64           `json:"product_id"`
	ProductName        string          `json:"product_name,omitempty"`
	PurchasePrice      decimal.Decimal `json:"purchase_price"`
	PurchaseTotal      int64           `json:"purchase_total"`
	StockTotal         int64           `json:"stock_total"`
	Status             RowStatus       `json:"status"`
	QuantityCalculated bool            `json:"quantity_calculated,omitempty"`
}

// Report is the full outcome of a reconciliation run.
type Report struct {
	Rows          []ReportRow `json:"rows"`
	LineCount     int         `json:"line_count"`
	LotCount      int         `json:"lot_count"`
	DuplicateLots int         `json:"duplicate_lots"`
	MismatchCount int         `json:"mismatch_count"`
	MissingCount  int         `json:"missing_count"`
}

// Clean reports whether the run found no discrepancies.
func (r Report) Clean() bool {
	return r.MismatchCount == 0 && r.MissingCount == 0
}

// TriggerRunInput captures a request to reconcile one purchase batch.
type TriggerRunInput struct {
	PurchaseID int64
	ActorID    int64
}

// Validate ensures correctness.
func (in TriggerRunInput) Validate() error {
	if in.PurchaseID == 0 {
		return errors.New("recon: purchase required")
	}
	if in.ActorID == 0 {
		return errors.New("recon: actor required")
	}
	return nil
}

var (
	// ErrRunNotFound occurs when a run id is unknown.
	ErrRunNotFound = errors.New("recon: run not found")
	// ErrRunExists occurs when a batch already has an active run.
	ErrRunExists = errors.New("recon: run already exists for batch")
	// ErrReportNotReady occurs when a report is requested before READY.
	ErrReportNotReady = errors.New("recon: report not ready")
)
