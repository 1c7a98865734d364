package amm

import (
	"math/big"

	"github.com/holiman/uint256"
)

func toU256(v *big.Int) (*uint256.Int, error) {
	if v == nil {
		return new(uint256.Int), nil
	}
	if v.Sign() < 0 {
		return nil, ErrOverflow
	}
	out, overflow := uint256.FromBig(v)
	if overflow {
		return nil, ErrOverflow
	}
	return out, nil
}

// mulDiv returns x*y/d rounded down with a 512-bit intermediate.
func mulDiv(x, y, d *big.Int) (*big.Int, error) {
	ux, err := toU256(x)
	if err != nil {
		return nil, err
	}
	uy, err := toU256(y)
	if err != nil {
		return nil, err
	}
	ud, err := toU256(d)
	if err != nil {
		return nil, err
	}
	if ud.IsZero() {
		return nil, ErrInsufficientLiquidity
	}
	out, overflow := new(uint256.Int).MulDivOverflow(ux, uy, ud)
	if overflow {
		return nil, ErrOverflow
	}
	return out.ToBig(), nil
}

// Quote returns the amount of B with the same value as amountA at the given
// reserves.
func Quote(amountA, reserveA, reserveB *big.Int) (*big.Int, error) {
	if amountA == nil || amountA.Sign() <= 0 {
		return nil, ErrInsufficientAmount
	}
	if reserveA == nil || reserveB == nil || reserveA.Sign() <= 0 || reserveB.Sign() <= 0 {
		return nil, ErrInsufficientLiquidity
	}
	return mulDiv(amountA, reserveB, reserveA)
}

// AmountOut returns the output of a swap after the pair fee.
func AmountOut(amountIn, reserveIn, reserveOut *big.Int) (*big.Int, error) {
	if amountIn == nil || amountIn.Sign() <= 0 {
		return nil, ErrInsufficientInputAmount
	}
	if reserveIn == nil || reserveOut == nil || reserveIn.Sign() <= 0 || reserveOut.Sign() <= 0 {
		return nil, ErrInsufficientLiquidity
	}
	in, err := toU256(amountIn)
	if err != nil {
		return nil, err
	}
	rIn, err := toU256(reserveIn)
	if err != nil {
		return nil, err
	}
	rOut, err := toU256(reserveOut)
	if err != nil {
		return nil, err
	}
	inWithFee, overflow := new(uint256.Int).MulOverflow(in, uint256.NewInt(10_000-FeeBps))
	if overflow {
		return nil, ErrOverflow
	}
	numerator, overflow := new(uint256.Int).MulOverflow(inWithFee, rOut)
	if overflow {
		return nil, ErrOverflow
	}
	denominator, overflow := new(uint256.Int).MulOverflow(rIn, uint256.NewInt(10_000))
	if overflow {
		return nil, ErrOverflow
	}
	if _, overflow = denominator.AddOverflow(denominator, inWithFee); overflow {
		return nil, ErrOverflow
	}
	return new(uint256.Int).Div(numerator, denominator).ToBig(), nil
}

// initialLiquidity returns sqrt(amount0*amount1).
func initialLiquidity(amount0, amount1 *big.Int) (*big.Int, error) {
	a, err := toU256(amount0)
	if err != nil {
		return nil, err
	}
	b, err := toU256(amount1)
	if err != nil {
		return nil, err
	}
	product, overflow := new(uint256.Int).MulOverflow(a, b)
	if overflow {
		return nil, ErrOverflow
	}
	return new(uint256.Int).Sqrt(product).ToBig(), nil
}

func minBig(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return a
	}
	return b
}
