package recon

// metaIndex maps lot keys to the first matching catalog entry.
func metaIndex(meta []ProductMeta) map[LotKey]ProductMeta {
	index := make(map[LotKey]ProductMeta, len(meta))
	for _, m := range meta {
		key := m.Key()
		if _, ok := index[key]; !ok {
			index[key] = m
		}
	}
	return index
}

// EnrichConversion attaches the conversion factor from the matching
// catalog entry to each stock line. Lines with no catalog match keep a
// nil factor and are never dropped; deciding whether that is an error is
// the caller's business.
func EnrichConversion(lines []StockLine, meta []ProductMeta) []StockLine {
	index := metaIndex(meta)
	out := make([]StockLine, len(lines))
	for i, line := range lines {
		if m, ok := index[line.Key()]; ok {
			line.ConversionFactor = m.ConversionFactor
		} else {
			line.ConversionFactor = nil
		}
		out[i] = line
	}
	return out
}

// EnrichConversionStrict is the filtering variant: stock lines with no
// catalog match are removed, so downstream only sees lots proven to exist
// in both datasets.
func EnrichConversionStrict(lines []StockLine, meta []ProductMeta) []StockLine {
	index := metaIndex(meta)
	out := make([]StockLine, 0, len(lines))
	for _, line := range lines {
		m, ok := index[line.Key()]
		if !ok {
			continue
		}
		line.ConversionFactor = m.ConversionFactor
		out = append(out, line)
	}
	return out
}

// EnrichBaseline attaches originally purchased totals to purchase lines,
// matched by product id. Lines with no baseline default to zero totals;
// the enrichment is advisory and never drops a line.
func EnrichBaseline(lines []PurchaseLine, baselines []PurchaseBaseline) []PurchaseLine {
	index := make(map[int64]PurchaseBaseline, len(baselines))
	for _, b := range baselines {
		if _, ok := index[b.ProductID]; !ok {
			index[b.ProductID] = b
		}
	}
	out := make([]PurchaseLine, len(lines))
	for i, line := range lines {
		if b, ok := index[line.ProductID]; ok {
			line.BaselineQuantity = b.TotalQuantity
			line.BaselineSubQuantity = b.TotalSubQuantity
		} else {
			line.BaselineQuantity = 0
			line.BaselineSubQuantity = 0
		}
		out[i] = line
	}
	return out
}

// ExcludeSettled removes purchase lines whose product already appears in
// the settled stock set. Used on return batches to skip lines the ledger
// has already absorbed.
func ExcludeSettled(lines []PurchaseLine, settled []StockLine) []PurchaseLine {
	ids := make(map[int64]struct{}, len(settled))
	for _, s := range settled {
		ids[s.ProductID] = struct{}{}
	}
	out := make([]PurchaseLine, 0, len(lines))
	for _, line := range lines {
		if _, ok := ids[line.ProductID]; ok {
			continue
		}
		out = append(out, line)
	}
	return out
}
