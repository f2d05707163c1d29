package recon

// Reconcile runs the full pipeline over one purchase batch: aggregate
// duplicate ledger lines, enrich with conversion factors, flag
// price-change lots, then compare normalized totals per purchase line.
// All inputs are read-only; the report is built on fresh collections.
func Reconcile(lines []StockLine, meta []ProductMeta, purchase []PurchaseLine) Report {
	seen := make(map[LotKey]int, len(lines))
	for _, line := range lines {
		seen[line.Key()]++
	}
	duplicates := 0
	for _, n := range seen {
		if n > 1 {
			duplicates++
		}
	}

	stock := AggregateLines(lines)
	stock = EnrichConversion(stock, meta)
	stock = FlagPriceChanges(stock, meta)

	idx := indexStock(stock)
	rows := make([]ReportRow, 0, len(purchase))
	mismatches, missing := 0, 0
	for _, line := range purchase {
		row := ReportRow{
			ProductID:     line.ProductID,
			ProductName:   line.ProductName,
			PurchasePrice: line.PurchasePrice,
			PurchaseTotal: NormalizeQuantity(line.Quantity, line.SubQuantity, line.ConversionFactor),
		}
		s, ok := idx.lookup(line)
		switch {
		case !ok:
			row.Status = RowMissing
			missing++
		default:
			row.StockTotal = NormalizeQuantity(s.Quantity, s.Subquantity, s.ConversionFactor)
			row.QuantityCalculated = s.QuantityCalculated
			if row.PurchaseTotal == row.StockTotal {
				row.Status = RowOK
			} else {
				row.Status = RowMismatch
				mismatches++
			}
		}
		rows = append(rows, row)
	}

	return Report{
		Rows:          rows,
		LineCount:     len(lines),
		LotCount:      len(stock),
		DuplicateLots: duplicates,
		MismatchCount: mismatches,
		MissingCount:  missing,
	}
}
