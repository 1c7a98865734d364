package collateral

import (
	"fmt"
	"math/big"

	"lpvault/core/state"
	"lpvault/crypto"
)

// Valuation is an account's position priced in units of asset B.
type Valuation struct {
	Shares          *big.Int
	LP              *big.Int
	DebtA           *big.Int
	DebtB           *big.Int
	CollateralValue *big.Int
	DebtValue       *big.Int
	Surplus         *big.Int
	Shortfall       *big.Int
}

// Healthy reports whether the debt is within the loan-to-value ceiling.
func (val *Valuation) Healthy() bool { return val.Shortfall.Sign() == 0 }

// AccountLiquidity returns the borrowing capacity left (surplus) or missing
// (shortfall) for account, in units of asset B.
func (v *Vault) AccountLiquidity(account crypto.Address) (*big.Int, *big.Int, error) {
	val, err := v.Valuation(account)
	if err != nil {
		return nil, nil, err
	}
	return val.Surplus, val.Shortfall, nil
}

// Valuation prices the account's collateral and debt using pair reserves. The
// LP is worth twice its share of reserve B; debt in A converts at the reserve
// ratio, rounded up.
func (v *Vault) Valuation(account crypto.Address) (*Valuation, error) {
	return v.valuation(account, "", nil)
}

func (v *Vault) valuation(account crypto.Address, asset string, projected *big.Int) (*Valuation, error) {
	if err := v.ready(); err != nil {
		return nil, err
	}
	if v.debtA == nil || v.debtB == nil {
		return nil, errNilState
	}
	shares, err := v.BalanceOf(account)
	if err != nil {
		return nil, err
	}
	lp, err := v.LPForShares(shares)
	if err != nil {
		return nil, err
	}
	debtA, err := v.debtA.DebtOf(account)
	if err != nil {
		return nil, err
	}
	debtB, err := v.debtB.DebtOf(account)
	if err != nil {
		return nil, err
	}
	switch state.NormalizeSymbol(asset) {
	case "":
	case v.cfg.AssetA:
		debtA = projected
	case v.cfg.AssetB:
		debtB = projected
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownAsset, asset)
	}
	reserveA, reserveB, err := v.pool.Reserves()
	if err != nil {
		return nil, err
	}
	totalLP, err := v.pool.TotalLiquidity()
	if err != nil {
		return nil, err
	}

	collateralValue := big.NewInt(0)
	if totalLP.Sign() > 0 {
		collateralValue = new(big.Int).Mul(lp, reserveB)
		collateralValue.Mul(collateralValue, big.NewInt(2))
		collateralValue.Quo(collateralValue, totalLP)
	}
	debtValue := new(big.Int).Set(debtB)
	if debtA.Sign() > 0 {
		if reserveA.Sign() == 0 {
			return nil, fmt.Errorf("%w: pair has no %s reserve to price debt", ErrInsufficientLiquidity, v.cfg.AssetA)
		}
		converted := new(big.Int).Mul(debtA, reserveB)
		rem := new(big.Int)
		converted.QuoRem(converted, reserveA, rem)
		if rem.Sign() > 0 {
			converted.Add(converted, big.NewInt(1))
		}
		debtValue.Add(debtValue, converted)
	}

	capacity := new(big.Int).Mul(collateralValue, new(big.Int).SetUint64(v.cfg.MaxLTVBps))
	used := new(big.Int).Mul(debtValue, basisPoints)
	val := &Valuation{
		Shares:          shares,
		LP:              lp,
		DebtA:           new(big.Int).Set(debtA),
		DebtB:           new(big.Int).Set(debtB),
		CollateralValue: collateralValue,
		DebtValue:       debtValue,
		Surplus:         big.NewInt(0),
		Shortfall:       big.NewInt(0),
	}
	if used.Cmp(capacity) <= 0 {
		val.Surplus = capacity.Sub(capacity, used).Quo(capacity, basisPoints)
	} else {
		val.Shortfall = used.Sub(used, capacity)
		rem := new(big.Int)
		val.Shortfall.QuoRem(val.Shortfall, basisPoints, rem)
		if rem.Sign() > 0 {
			val.Shortfall.Add(val.Shortfall, big.NewInt(1))
		}
	}
	return val, nil
}

func (v *Vault) requireHealthy(account crypto.Address) error {
	val, err := v.Valuation(account)
	if err != nil {
		return err
	}
	if !val.Healthy() {
		return fmt.Errorf("%w: shortfall %s %s", ErrInsufficientLiquidity, val.Shortfall, v.cfg.AssetB)
	}
	return nil
}

// CanBorrow reports whether borrower stays healthy carrying debt in asset. It
// is the check lending pools run after every borrow.
func (v *Vault) CanBorrow(borrower crypto.Address, asset string, debt *big.Int) (bool, error) {
	if debt == nil {
		debt = big.NewInt(0)
	}
	val, err := v.valuation(borrower, asset, debt)
	if err != nil {
		return false, err
	}
	return val.Healthy(), nil
}
