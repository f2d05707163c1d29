package recon

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestValidateQuantitiesMatch(t *testing.T) {
	purchase := []PurchaseLine{
		{ProductID: 45, PurchasePrice: decimal.NewFromInt(10), Quantity: 10, SubQuantity: 0, MainUnit: "pc"},
	}
	stock := []StockLine{
		{ProductID: 45, PurchasePrice: decimal.NewFromInt(10), Quantity: 10, Subquantity: 0},
	}
	require.NoError(t, ValidateQuantities(purchase, stock))
}

func TestValidateQuantitiesMismatch(t *testing.T) {
	purchase := []PurchaseLine{
		{ProductID: 46, PurchasePrice: decimal.NewFromInt(10), Quantity: 2, SubQuantity: 499, MainUnit: "kg", SubUnit: "gm", ConversionFactor: factorOf(1000)},
	}
	stock := []StockLine{
		{ProductID: 46, PurchasePrice: decimal.NewFromInt(10), Quantity: 2, Subquantity: 500, ConversionFactor: factorOf(1000)},
	}

	err := ValidateQuantities(purchase, stock)
	require.Error(t, err)

	var mismatch *MismatchError
	require.ErrorAs(t, err, &mismatch)
	require.Equal(t, int64(46), mismatch.ProductID)
	require.Equal(t, int64(2499), mismatch.PurchaseTotal)
	require.Equal(t, int64(2500), mismatch.StockTotal)
}

func TestValidateQuantitiesNotFound(t *testing.T) {
	purchase := []PurchaseLine{
		{ProductID: 99, PurchasePrice: decimal.NewFromInt(10), Quantity: 1},
	}
	stock := []StockLine{
		{ProductID: 45, PurchasePrice: decimal.NewFromInt(10), Quantity: 10},
	}

	err := ValidateQuantities(purchase, stock)
	var notFound *NotFoundError
	require.ErrorAs(t, err, &notFound)
	require.Equal(t, int64(99), notFound.ProductID)
}

func TestValidateQuantitiesFailFast(t *testing.T) {
	purchase := []PurchaseLine{
		{ProductID: 1, PurchasePrice: decimal.NewFromInt(10), Quantity: 5},
		{ProductID: 2, PurchasePrice: decimal.NewFromInt(10), Quantity: 5},
	}
	stock := []StockLine{
		{ProductID: 1, PurchasePrice: decimal.NewFromInt(10), Quantity: 4},
		{ProductID: 2, PurchasePrice: decimal.NewFromInt(10), Quantity: 3},
	}

	err := ValidateQuantities(purchase, stock)
	var mismatch *MismatchError
	require.ErrorAs(t, err, &mismatch)
	require.Equal(t, int64(1), mismatch.ProductID)
}

func TestValidateQuantitiesStockOnlyLotsAllowed(t *testing.T) {
	// Asymmetric containment: the ledger may keep closed-out lots the
	// purchase view no longer lists.
	purchase := []PurchaseLine{
		{ProductID: 45, PurchasePrice: decimal.NewFromInt(10), Quantity: 10},
	}
	stock := []StockLine{
		{ProductID: 45, PurchasePrice: decimal.NewFromInt(10), Quantity: 10},
		{ProductID: 77, PurchasePrice: decimal.NewFromInt(5), Quantity: 0},
	}
	require.NoError(t, ValidateQuantities(purchase, stock))
}

func TestValidateQuantitiesCompoundKeyDisambiguation(t *testing.T) {
	purchase := []PurchaseLine{
		{ProductID: 29, PurchasePrice: decimal.NewFromInt(20), Quantity: 10},
	}
	stock := []StockLine{
		{ProductID: 29, PurchasePrice: decimal.NewFromInt(15), Quantity: 99},
		{ProductID: 29, PurchasePrice: decimal.NewFromInt(20), Quantity: 10},
	}
	require.NoError(t, ValidateQuantities(purchase, stock))
}

func TestValidateQuantitiesAll(t *testing.T) {
	purchase := []PurchaseLine{
		{ProductID: 1, PurchasePrice: decimal.NewFromInt(10), Quantity: 5},
		{ProductID: 2, PurchasePrice: decimal.NewFromInt(10), Quantity: 5},
		{ProductID: 3, PurchasePrice: decimal.NewFromInt(10), Quantity: 5},
	}
	stock := []StockLine{
		{ProductID: 1, PurchasePrice: decimal.NewFromInt(10), Quantity: 4},
		{ProductID: 3, PurchasePrice: decimal.NewFromInt(10), Quantity: 5},
	}

	errs := ValidateQuantitiesAll(purchase, stock)
	require.Len(t, errs, 2)

	var mismatch *MismatchError
	require.ErrorAs(t, errs[0], &mismatch)
	var notFound *NotFoundError
	require.ErrorAs(t, errs[1], &notFound)
	require.Equal(t, int64(2), notFound.ProductID)

	require.Empty(t, ValidateQuantitiesAll(purchase[2:], stock))
}
