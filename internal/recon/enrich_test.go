package recon

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func sampleMeta() []ProductMeta {
	prev29 := decimal.NewFromInt(15)
	prev25 := decimal.NewFromInt(10)
	return []ProductMeta{
		{
			ProductID:             29,
			ProductName:           "new-11",
			PurchasePrice:         decimal.NewFromInt(20),
			PreviousPurchasePrice: &prev29,
			ConversionFactor:      factorOf(1000),
		},
		{
			ProductID:             25,
			ProductName:           "new-11",
			PurchasePrice:         decimal.NewFromInt(10),
			PreviousPurchasePrice: &prev25,
			ConversionFactor:      factorOf(5),
		},
	}
}

func TestEnrichConversion(t *testing.T) {
	out := EnrichConversion(AggregateLines(sampleLines()), sampleMeta())
	require.Len(t, out, 3)

	require.NotNil(t, out[0].ConversionFactor)
	require.Equal(t, int64(1000), *out[0].ConversionFactor)

	// Product 30 has no catalog entry: kept, with no factor attached.
	require.Equal(t, int64(30), out[1].ProductID)
	require.Nil(t, out[1].ConversionFactor)

	require.NotNil(t, out[2].ConversionFactor)
	require.Equal(t, int64(5), *out[2].ConversionFactor)
}

func TestEnrichConversionStrict(t *testing.T) {
	in := AggregateLines(sampleLines())
	out := EnrichConversionStrict(in, sampleMeta())

	require.Len(t, out, 2)
	require.LessOrEqual(t, len(out), len(in))
	for _, line := range out {
		require.NotEqual(t, int64(30), line.ProductID)
	}
}

func TestEnrichConversionFirstMetaEntryWins(t *testing.T) {
	meta := []ProductMeta{
		{ProductID: 29, PurchasePrice: decimal.NewFromInt(20), ConversionFactor: factorOf(1000)},
		{ProductID: 29, PurchasePrice: decimal.NewFromInt(20), ConversionFactor: factorOf(500)},
	}
	out := EnrichConversion([]StockLine{{ProductID: 29, PurchasePrice: decimal.NewFromInt(20)}}, meta)
	require.Equal(t, int64(1000), *out[0].ConversionFactor)
}

func TestEnrichBaseline(t *testing.T) {
	lines := []PurchaseLine{
		{PurchaseID: 101, ProductID: 1, Quantity: 10, SubQuantity: 2},
		{PurchaseID: 102, ProductID: 2, Quantity: 5, SubQuantity: 1},
		{PurchaseID: 103, ProductID: 3, Quantity: 8, SubQuantity: 3},
	}
	baselines := []PurchaseBaseline{
		{ProductID: 1, TotalQuantity: 20, TotalSubQuantity: 4},
		{ProductID: 3, TotalQuantity: 15, TotalSubQuantity: 5},
	}

	out := EnrichBaseline(lines, baselines)
	require.Len(t, out, 3)
	require.Equal(t, int64(20), out[0].BaselineQuantity)
	require.Equal(t, int64(4), out[0].BaselineSubQuantity)
	// No history: defaults to zero, line is kept.
	require.Equal(t, int64(0), out[1].BaselineQuantity)
	require.Equal(t, int64(0), out[1].BaselineSubQuantity)
	require.Equal(t, int64(15), out[2].BaselineQuantity)
	require.Equal(t, int64(5), out[2].BaselineSubQuantity)
}

func TestExcludeSettled(t *testing.T) {
	returnID := int64(333)
	lines := []PurchaseLine{
		{PurchaseID: 1057, PurchaseReturnID: &returnID, ProductID: 45, ReturnedQuantity: 1},
		{PurchaseID: 1057, PurchaseReturnID: &returnID, ProductID: 46, ReturnedQuantity: 5, ReturnedSubQuantity: 500},
	}
	settled := []StockLine{
		{ProductID: 45, Quantity: 4, PurchasePrice: decimal.NewFromInt(10)},
	}

	out := ExcludeSettled(lines, settled)
	require.Len(t, out, 1)
	require.Equal(t, int64(46), out[0].ProductID)
}
