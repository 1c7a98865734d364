package lending

import "math/big"

// BorrowCaps captures the throttles applied to a pool to limit borrow growth.
type BorrowCaps struct {
	// Total constrains the aggregate outstanding debt. Zero disables the cap.
	Total *big.Int
	// UtilisationBps bounds borrows relative to pool liquidity. Zero disables
	// the bound.
	UtilisationBps uint64
}

// Clone returns a deep copy of the borrow caps structure.
func (c BorrowCaps) Clone() BorrowCaps {
	clone := BorrowCaps{UtilisationBps: c.UtilisationBps}
	if c.Total != nil {
		clone.Total = new(big.Int).Set(c.Total)
	}
	return clone
}

func (c BorrowCaps) check(totalBorrows, cash *big.Int) error {
	if c.Total != nil && c.Total.Sign() > 0 && totalBorrows.Cmp(c.Total) > 0 {
		return errBorrowCapExceeded
	}
	if c.UtilisationBps == 0 {
		return nil
	}
	liquidity := new(big.Int).Add(totalBorrows, cash)
	if liquidity.Sign() == 0 {
		return nil
	}
	limit := new(big.Int).Mul(liquidity, new(big.Int).SetUint64(c.UtilisationBps))
	if new(big.Int).Mul(totalBorrows, basisPoints).Cmp(limit) > 0 {
		return errBorrowCapExceeded
	}
	return nil
}
