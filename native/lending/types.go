package lending

import (
	"math/big"
)

// Market captures the global accounting state of one lending pool. Cash is not
// stored; it is the pool account's token balance.
type Market struct {
	// Asset is the underlying token symbol lent by the pool.
	Asset string
	// TotalShares is the outstanding supply of lender shares.
	TotalShares *big.Int
	// TotalScaledBorrows is the sum of every borrower's scaled debt.
	TotalScaledBorrows *big.Int
	// BorrowIndex converts scaled debt into current debt, expressed in ray.
	BorrowIndex *big.Int
	// LastAccrual is the unix timestamp the index was last refreshed at.
	LastAccrual uint64
}

func (m *Market) ensureDefaults() {
	if m.TotalShares == nil {
		m.TotalShares = big.NewInt(0)
	}
	if m.TotalScaledBorrows == nil {
		m.TotalScaledBorrows = big.NewInt(0)
	}
	if m.BorrowIndex == nil || m.BorrowIndex.Sign() == 0 {
		m.BorrowIndex = new(big.Int).Set(ray)
	}
}

// TotalBorrows returns the current debt owed to the pool.
func (m *Market) TotalBorrows() *big.Int {
	return debtFromScaled(m.TotalScaledBorrows, m.BorrowIndex)
}

// BorrowerAccount maintains the debt of an individual borrower.
type BorrowerAccount struct {
	// ScaledDebt is the debt divided by the borrow index at the time it was
	// taken, so interest accrues without touching every account.
	ScaledDebt *big.Int
}

// Snapshot is a read-only summary of a pool.
type Snapshot struct {
	Asset        string
	Cash         *big.Int
	TotalBorrows *big.Int
	TotalShares  *big.Int
	BorrowIndex  *big.Int
	// BorrowRate and SupplyRate are annual fractions at the current
	// utilisation.
	BorrowRate *big.Rat
	SupplyRate *big.Rat
}
