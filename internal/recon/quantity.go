package recon

// Quantity arithmetic for two-tier units. Every comparison in the engine
// goes through NormalizeQuantity so both sides of a reconciliation use
// identical conversion logic; nothing else in the package does this math
// inline.

// NormalizeQuantity flattens a (whole-unit, sub-unit) pair into a single
// sub-unit total. A nil or non-positive factor means the product has no
// sub-unit dimension and the whole-unit count passes through unchanged.
func NormalizeQuantity(quantity, subquantity int64, factor *int64) int64 {
	f, ok := factorValue(factor)
	if !ok {
		return quantity
	}
	return quantity*f + subquantity
}

// CombineQuantities adds two pairs component-wise, then carries sub-unit
// overflow into whole units when a conversion factor is present. Without
// a factor the sub-unit sum is kept as-is; there is no carry dimension.
func CombineQuantities(quantityA, subA, quantityB, subB int64, factor *int64) (int64, int64) {
	quantity := quantityA + quantityB
	sub := subA + subB
	f, ok := factorValue(factor)
	if !ok {
		return quantity, sub
	}
	return quantity + sub/f, sub % f
}

func factorValue(factor *int64) (int64, bool) {
	if factor == nil || *factor <= 0 {
		return 0, false
	}
	return *factor, true
}
