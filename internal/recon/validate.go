package recon

// stockIndex supports the validator's lookup rules: match by compound lot
// key when the stock side holds several lots of a product, otherwise by
// product id alone.
type stockIndex struct {
	byLot     map[LotKey]StockLine
	byProduct map[int64]StockLine
	lotCount  map[int64]int
}

func indexStock(stock []StockLine) stockIndex {
	idx := stockIndex{
		byLot:     make(map[LotKey]StockLine, len(stock)),
		byProduct: make(map[int64]StockLine, len(stock)),
		lotCount:  make(map[int64]int, len(stock)),
	}
	for _, s := range stock {
		key := s.Key()
		if _, ok := idx.byLot[key]; ok {
			continue
		}
		idx.byLot[key] = s
		idx.lotCount[s.ProductID]++
		if _, ok := idx.byProduct[s.ProductID]; !ok {
			idx.byProduct[s.ProductID] = s
		}
	}
	return idx
}

func (idx stockIndex) lookup(line PurchaseLine) (StockLine, bool) {
	if idx.lotCount[line.ProductID] > 1 {
		s, ok := idx.byLot[line.Key()]
		return s, ok
	}
	s, ok := idx.byProduct[line.ProductID]
	return s, ok
}

// ValidateQuantities checks every purchase line against the stock data
// and fails fast on the first discrepancy, scanning the purchase side in
// order. Each side is normalized with its own conversion factor. Lots
// present only in the stock data are not an error: the ledger may keep
// closed-out lots the purchase view no longer lists.
func ValidateQuantities(purchase []PurchaseLine, stock []StockLine) error {
	idx := indexStock(stock)
	for _, line := range purchase {
		s, ok := idx.lookup(line)
		if !ok {
			return &NotFoundError{ProductID: line.ProductID}
		}
		purchaseTotal := NormalizeQuantity(line.Quantity, line.SubQuantity, line.ConversionFactor)
		stockTotal := NormalizeQuantity(s.Quantity, s.Subquantity, s.ConversionFactor)
		if purchaseTotal != stockTotal {
			return &MismatchError{
				ProductID:     line.ProductID,
				PurchaseTotal: purchaseTotal,
				StockTotal:    stockTotal,
			}
		}
	}
	return nil
}

// ValidateQuantitiesAll is the collect-all variant: it accumulates every
// discrepancy instead of stopping at the first one. An empty result means
// the sources agree.
func ValidateQuantitiesAll(purchase []PurchaseLine, stock []StockLine) []error {
	idx := indexStock(stock)
	var errs []error
	for _, line := range purchase {
		s, ok := idx.lookup(line)
		if !ok {
			errs = append(errs, &NotFoundError{ProductID: line.ProductID})
			continue
		}
		purchaseTotal := NormalizeQuantity(line.Quantity, line.SubQuantity, line.ConversionFactor)
		stockTotal := NormalizeQuantity(s.Quantity, s.Subquantity, s.ConversionFactor)
		if purchaseTotal != stockTotal {
			errs = append(errs, &MismatchError{
				ProductID:     line.ProductID,
				PurchaseTotal: purchaseTotal,
				StockTotal:    stockTotal,
			})
		}
	}
	return errs
}
