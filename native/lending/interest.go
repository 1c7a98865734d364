package lending

import "math/big"

// InterestModel is a kinked curve mapping pool utilisation to an annual borrow
// rate. Rates are fractions per year: 0.05 is five percent.
type InterestModel struct {
	BaseRate *big.Rat
	// Slope1 applies up to Kink, Slope2 to the utilisation above it.
	Slope1 *big.Rat
	Slope2 *big.Rat
	Kink   *big.Rat
}

// NewInterestModel builds a model from the decimal values used in genesis
// files. Non-finite inputs read as zero.
func NewInterestModel(baseRate, slope1, slope2, kink float64) *InterestModel {
	return &InterestModel{
		BaseRate: ratOf(baseRate),
		Slope1:   ratOf(slope1),
		Slope2:   ratOf(slope2),
		Kink:     ratOf(kink),
	}
}

// Clone returns a deep copy; engines keep their own model.
func (m *InterestModel) Clone() *InterestModel {
	if m == nil {
		return nil
	}
	return &InterestModel{
		BaseRate: cloneRat(m.BaseRate),
		Slope1:   cloneRat(m.Slope1),
		Slope2:   cloneRat(m.Slope2),
		Kink:     cloneRat(m.Kink),
	}
}

// BorrowRate is the annual rate charged on debt in a pool holding cash with
// borrows outstanding. A nil model charges nothing.
func (m *InterestModel) BorrowRate(cash, borrows *big.Int) *big.Rat {
	if m == nil {
		return new(big.Rat)
	}
	u := utilisation(cash, borrows)
	rate := cloneRat(m.BaseRate)
	kink := cloneRat(m.Kink)
	if kink.Sign() == 0 || u.Cmp(kink) <= 0 {
		return rate.Add(rate, new(big.Rat).Mul(cloneRat(m.Slope1), u))
	}
	rate.Add(rate, new(big.Rat).Mul(cloneRat(m.Slope1), kink))
	return rate.Add(rate, new(big.Rat).Mul(cloneRat(m.Slope2), new(big.Rat).Sub(u, kink)))
}

// SupplyRate is the annual yield on pool shares. Pools keep no reserve, so
// lenders receive all interest and the yield is the borrow rate scaled by
// utilisation.
func (m *InterestModel) SupplyRate(cash, borrows *big.Int) *big.Rat {
	return new(big.Rat).Mul(m.BorrowRate(cash, borrows), utilisation(cash, borrows))
}

// utilisation is borrows / (cash + borrows); a pool without debt is idle.
func utilisation(cash, borrows *big.Int) *big.Rat {
	if borrows == nil || borrows.Sign() <= 0 {
		return new(big.Rat)
	}
	total := new(big.Int).Set(borrows)
	if cash != nil && cash.Sign() > 0 {
		total.Add(total, cash)
	}
	return new(big.Rat).SetFrac(borrows, total)
}

func ratOf(v float64) *big.Rat {
	r := new(big.Rat)
	if r.SetFloat64(v) == nil {
		return new(big.Rat)
	}
	return r
}

func cloneRat(r *big.Rat) *big.Rat {
	if r == nil {
		return new(big.Rat)
	}
	return new(big.Rat).Set(r)
}
