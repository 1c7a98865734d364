package lending

import "math/big"

var (
	basisPoints = big.NewInt(10_000)
	ray         = mustBigInt("1000000000000000000000000000") // 1e27 precision
	halfRay     = new(big.Int).Rsh(ray, 1)
)

const secondsPerYear = 31_536_000

func mustBigInt(value string) *big.Int {
	v, ok := new(big.Int).SetString(value, 10)
	if !ok {
		panic("invalid big integer constant")
	}
	return v
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

func rayMul(a, b *big.Int) *big.Int {
	if a == nil || b == nil {
		return big.NewInt(0)
	}
	product := new(big.Int).Mul(a, b)
	product.Add(product, halfRay)
	product.Quo(product, ray)
	return product
}

func ratToRay(r *big.Rat) *big.Int {
	if r == nil {
		return new(big.Int).Set(ray)
	}
	scaled := new(big.Rat).Mul(r, new(big.Rat).SetInt(ray))
	num := scaled.Num()
	den := scaled.Denom()
	result := new(big.Int).Quo(new(big.Int).Add(num, halfUp(den)), den)
	if result.Sign() == 0 {
		return new(big.Int).Set(ray)
	}
	return result
}

// rateFactor returns 1 + rate*elapsed/year in ray (simple interest per
// accrual window).
func rateFactor(rate *big.Rat, elapsed uint64) *big.Int {
	if rate == nil || rate.Sign() == 0 || elapsed == 0 {
		return new(big.Int).Set(ray)
	}
	perWindow := new(big.Rat).Set(rate)
	perWindow.Quo(perWindow, new(big.Rat).SetUint64(secondsPerYear))
	perWindow.Mul(perWindow, new(big.Rat).SetUint64(elapsed))
	factor := new(big.Rat).Add(big.NewRat(1, 1), perWindow)
	return ratToRay(factor)
}

// scaledDebtFromAmount rounds up so a borrower is never recorded as owing less
// than was lent.
func scaledDebtFromAmount(amount, index *big.Int) *big.Int {
	if amount == nil || amount.Sign() <= 0 || index == nil || index.Sign() == 0 {
		return big.NewInt(0)
	}
	return ceilDiv(new(big.Int).Mul(amount, ray), index)
}

// scaledRepayFromAmount rounds down so a partial repayment never clears more
// debt than it pays for.
func scaledRepayFromAmount(amount, index *big.Int) *big.Int {
	if amount == nil || amount.Sign() <= 0 || index == nil || index.Sign() == 0 {
		return big.NewInt(0)
	}
	return new(big.Int).Quo(new(big.Int).Mul(amount, ray), index)
}

// debtFromScaled rounds up in the pool's favour.
func debtFromScaled(scaled, index *big.Int) *big.Int {
	if scaled == nil || scaled.Sign() == 0 || index == nil || index.Sign() == 0 {
		return big.NewInt(0)
	}
	return ceilDiv(new(big.Int).Mul(scaled, index), ray)
}

func ceilDiv(num, den *big.Int) *big.Int {
	q, r := new(big.Int).QuoRem(num, den, new(big.Int))
	if r.Sign() > 0 {
		q.Add(q, big.NewInt(1))
	}
	return q
}

// halfUp returns x/2 rounded down, the offset that makes an integer division
// by x round half up. Exact quotients (x == 1) are left untouched.
func halfUp(x *big.Int) *big.Int {
	if x == nil || x.Sign() <= 0 {
		return big.NewInt(0)
	}
	return new(big.Int).Rsh(x, 1)
}

func minBig(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return a
	}
	return b
}
