package recon

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func sampleLines() []StockLine {
	return []StockLine{
		{ProductID: 29, Quantity: 5, Subquantity: 0, PurchasePrice: decimal.NewFromInt(20)},
		{ProductID: 29, Quantity: 5, Subquantity: 0, PurchasePrice: decimal.NewFromInt(20)},
		{ProductID: 30, Quantity: 10, Subquantity: 0, PurchasePrice: decimal.NewFromInt(30)},
		{ProductID: 30, Quantity: 5, Subquantity: 0, PurchasePrice: decimal.NewFromInt(30)},
		{ProductID: 25, Quantity: 5, Subquantity: 500, PurchasePrice: decimal.NewFromInt(10)},
	}
}

func TestAggregateLines(t *testing.T) {
	out := AggregateLines(sampleLines())
	require.Len(t, out, 3)

	require.Equal(t, int64(29), out[0].ProductID)
	require.Equal(t, int64(10), out[0].Quantity)
	require.Equal(t, int64(30), out[1].ProductID)
	require.Equal(t, int64(15), out[1].Quantity)
	require.Equal(t, int64(25), out[2].ProductID)
	require.Equal(t, int64(5), out[2].Quantity)
	require.Equal(t, int64(500), out[2].Subquantity)
}

func TestAggregateLinesSubquantityRawSum(t *testing.T) {
	// Sub-unit sums may exceed any conversion factor; carrying is the
	// normalizer's responsibility, not the aggregator's.
	lines := []StockLine{
		{ProductID: 46, Quantity: 1, Subquantity: 800, PurchasePrice: decimal.NewFromInt(10)},
		{ProductID: 46, Quantity: 1, Subquantity: 900, PurchasePrice: decimal.NewFromInt(10)},
	}
	out := AggregateLines(lines)
	require.Len(t, out, 1)
	require.Equal(t, int64(2), out[0].Quantity)
	require.Equal(t, int64(1700), out[0].Subquantity)
}

func TestAggregateLinesKeepsLotsDistinct(t *testing.T) {
	lines := []StockLine{
		{ProductID: 29, Quantity: 5, PurchasePrice: decimal.NewFromInt(20)},
		{ProductID: 29, Quantity: 3, PurchasePrice: decimal.NewFromInt(15)},
	}
	out := AggregateLines(lines)
	require.Len(t, out, 2)
}

func TestAggregateLinesEquivalentPriceRepresentations(t *testing.T) {
	lines := []StockLine{
		{ProductID: 29, Quantity: 5, PurchasePrice: decimal.NewFromInt(20)},
		{ProductID: 29, Quantity: 3, PurchasePrice: decimal.RequireFromString("20.00")},
	}
	out := AggregateLines(lines)
	require.Len(t, out, 1)
	require.Equal(t, int64(8), out[0].Quantity)
}

func TestAggregateLinesIdempotent(t *testing.T) {
	once := AggregateLines(sampleLines())
	twice := AggregateLines(once)
	require.Equal(t, once, twice)
}

func TestAggregateLinesOrderIndependentTotals(t *testing.T) {
	lines := sampleLines()
	reversed := make([]StockLine, len(lines))
	for i, line := range lines {
		reversed[len(lines)-1-i] = line
	}

	totals := func(out []StockLine) map[LotKey][2]int64 {
		m := make(map[LotKey][2]int64, len(out))
		for _, line := range out {
			m[line.Key()] = [2]int64{line.Quantity, line.Subquantity}
		}
		return m
	}
	require.Equal(t, totals(AggregateLines(lines)), totals(AggregateLines(reversed)))
}

func TestAggregateLinesEmpty(t *testing.T) {
	require.Empty(t, AggregateLines(nil))
}
