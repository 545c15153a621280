// Package pricing implements the logarithmic market scoring rule (LMSR)
// used to price trades against the AMM.
//
// All functions are pure: they operate on (yesShares, noShares, liquidityB)
// and hold no state. Share pools and the liquidity parameter are plain
// floats; the executor converts the resulting cost to Money at the boundary.
package pricing

import "math"

// Cost is the LMSR cost function:
//
//	C(q_y, q_n) = b · (m + log(e^{q_y/b − m} + e^{q_n/b − m}))
//
// where m = max(q_y, q_n)/b. Subtracting m before exponentiating keeps the
// exponents ≤ 0, so exp never overflows for large pools. Do not remove it.
func Cost(yesShares, noShares, liquidityB float64) float64 {
	m := math.Max(yesShares, noShares) / liquidityB
	sum := math.Exp(yesShares/liquidityB-m) + math.Exp(noShares/liquidityB-m)
	return liquidityB * (m + math.Log(sum))
}

// Price is the instantaneous YES price implied by the pools:
//
//	p = e^{q_y/b − m} / (e^{q_y/b − m} + e^{q_n/b − m})
//
// Strictly inside (0, 1) for any finite pools with liquidityB > 0.
func Price(yesShares, noShares, liquidityB float64) float64 {
	m := math.Max(yesShares, noShares) / liquidityB
	expYes := math.Exp(yesShares/liquidityB - m)
	expNo := math.Exp(noShares/liquidityB - m)
	return expYes / (expYes + expNo)
}

// ComputeCost returns the amount a buyer pays to add deltaShares of the
// given outcome to the pool: C(after) − C(before). The result is clamped at
// zero, which folds away the tiny negative residue float subtraction can
// produce when deltaShares is zero or the pools are very large.
func ComputeCost(yesShares, noShares float64, buyYes bool, deltaShares float64, liquidityB float64) float64 {
	before := Cost(yesShares, noShares, liquidityB)
	var after float64
	if buyYes {
		after = Cost(yesShares+deltaShares, noShares, liquidityB)
	} else {
		after = Cost(yesShares, noShares+deltaShares, liquidityB)
	}
	cost := after - before
	if cost < 0 {
		return 0
	}
	return cost
}
