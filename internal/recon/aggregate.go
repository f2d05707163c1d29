package recon

// AggregateLines merges stock lines sharing a lot into one line with
// summed quantities. Sub-unit sums are raw; carry into whole units is the
// normalizer's job, so the aggregator needs no conversion factor. Output
// keeps the first-seen order of distinct lots and the input is never
// modified.
func AggregateLines(lines []StockLine) []StockLine {
	index := make(map[LotKey]int, len(lines))
	out := make([]StockLine, 0, len(lines))
	for _, line := range lines {
		key := line.Key()
		if i, ok := index[key]; ok {
			out[i].Quantity += line.Quantity
			out[i].Subquantity += line.Subquantity
			continue
		}
		index[key] = len(out)
		out = append(out, line)
	}
	return out
}
