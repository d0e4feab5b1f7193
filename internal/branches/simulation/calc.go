// internal/branches/simulation/calc.go
package simulation

import "math"

// monthlyRate converts an annual percentage rate to a monthly fraction.
func monthlyRate(annualRatePct float64) float64 {
	return annualRatePct / 12.0 / 100.0
}

// emi computes the fixed monthly installment for a reducing-balance loan:
// P*r*(1+r)^n / ((1+r)^n - 1). A zero rate degenerates to straight division.
func emi(principal, annualRatePct float64, tenureMonths int) float64 {
	if tenureMonths <= 0 {
		return 0
	}
	r := monthlyRate(annualRatePct)
	if r == 0 {
		return round2(principal / float64(tenureMonths))
	}
	factor := math.Pow(1+r, float64(tenureMonths))
	return round2(principal * r * factor / (factor - 1))
}

// remainingTenure solves for the number of months needed to repay principal
// at the given installment: n = -log(1 - P*r/E) / log(1+r), rounded up.
func remainingTenure(principal, annualRatePct, installment float64) (int, bool) {
	r := monthlyRate(annualRatePct)
	if r == 0 {
		if installment <= 0 {
			return 0, false
		}
		return int(math.Ceil(principal / installment)), true
	}
	// The installment must at least cover interest or the loan never closes.
	if installment <= principal*r {
		return 0, false
	}
	n := -math.Log(1-principal*r/installment) / math.Log(1+r)
	return int(math.Ceil(n)), true
}

func round2(x float64) float64 {
	return math.Round(x*100) / 100
}
