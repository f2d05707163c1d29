package recon

// FlagPriceChanges marks stock lines of products whose purchase price
// changed between lots. A line is flagged when the catalog records a
// previous purchase price different from the current one and both prices
// exist as lots in the stock data; the current-price lot then carries
// quantities recomputed from two price generations and readers of the
// report should treat its totals as derived rather than entered.
func FlagPriceChanges(lines []StockLine, meta []ProductMeta) []StockLine {
	lots := make(map[LotKey]struct{}, len(lines))
	for _, line := range lines {
		lots[line.Key()] = struct{}{}
	}

	flagged := make(map[LotKey]struct{})
	for _, m := range meta {
		if m.PreviousPurchasePrice == nil || m.PurchasePrice.Equal(*m.PreviousPurchasePrice) {
			continue
		}
		current := m.Key()
		previous := NewLotKey(m.ProductID, *m.PreviousPurchasePrice)
		if _, ok := lots[current]; !ok {
			continue
		}
		if _, ok := lots[previous]; !ok {
			continue
		}
		flagged[current] = struct{}{}
	}

	out := make([]StockLine, len(lines))
	for i, line := range lines {
		if _, ok := flagged[line.Key()]; ok {
			line.QuantityCalculated = true
		}
		out[i] = line
	}
	return out
}
