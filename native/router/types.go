package router

import (
	"fmt"
	"math/big"
	"strings"

	"lpvault/core/state"
	"lpvault/crypto"
	"lpvault/native/lending"
	"lpvault/native/permit"
)

// Market binds a pair, its collateral vault and the two lending pools the
// router orchestrates. AssetA and AssetB are in caller order, which need not
// match the pair's storage order.
type Market struct {
	ID     string
	AssetA string
	AssetB string
	// LP is the pair's liquidity token symbol.
	LP string
	// Share is the collateral vault's share token symbol.
	Share     string
	MaxLTVBps uint64

	InterestA *lending.InterestModel
	InterestB *lending.InterestModel
	CapsA     lending.BorrowCaps
	CapsB     lending.BorrowCaps
}

func (m Market) normalize() Market {
	m.ID = strings.ToLower(strings.TrimSpace(m.ID))
	m.AssetA = state.NormalizeSymbol(m.AssetA)
	m.AssetB = state.NormalizeSymbol(m.AssetB)
	m.LP = state.NormalizeSymbol(m.LP)
	m.Share = state.NormalizeSymbol(m.Share)
	return m
}

func (m Market) validate() error {
	switch {
	case m.ID == "":
		return fmt.Errorf("router: market id required")
	case m.AssetA == "" || m.AssetB == "":
		return fmt.Errorf("router: market %s requires both assets", m.ID)
	case m.AssetA == m.AssetB:
		return fmt.Errorf("router: market %s assets must differ", m.ID)
	case m.LP == "" || m.Share == "":
		return fmt.Errorf("router: market %s requires LP and share symbols", m.ID)
	}
	return nil
}

// Asset returns the symbol of side.
func (m Market) Asset(side Side) string {
	if side == SideB {
		return m.AssetB
	}
	return m.AssetA
}

// Config carries the router-wide settings.
type Config struct {
	ChainID uint64
	// NativeSymbol is the chain currency; WrappedSymbol its fungible wrapper.
	// Refunds in the wrapped token are paid out as native currency.
	NativeSymbol  string
	WrappedSymbol string
}

// LeverageRequest borrows both assets against the borrower and turns them into
// LP collateral.
type LeverageRequest struct {
	Market         string
	Borrower       crypto.Address
	AmountADesired *big.Int
	AmountBDesired *big.Int
	AmountAMin     *big.Int
	AmountBMin     *big.Int
	MinLP          *big.Int
	// PermitA and PermitB are optional borrow permits naming the router as
	// spender. Without them a standing borrow allowance is required.
	PermitA  *permit.Permit
	PermitB  *permit.Permit
	Deadline uint64
}

// LeverageResult reports what a leverage call did.
type LeverageResult struct {
	BorrowedA *big.Int
	BorrowedB *big.Int
	LP        *big.Int
	// Shares is the collateral-share delta; CollateralShares the borrower's
	// balance afterwards.
	Shares           *big.Int
	CollateralShares *big.Int
}

// DeleverageRequest redeems collateral shares and repays debt with the
// proceeds.
type DeleverageRequest struct {
	Market     string
	Borrower   crypto.Address
	Shares     *big.Int
	AmountAMin *big.Int
	AmountBMin *big.Int
	// Permit is an optional share permit naming the router as spender.
	Permit   *permit.Permit
	Deadline uint64
}

// DeleverageResult is the reconciliation of one deleverage call.
type DeleverageResult struct {
	LP      *big.Int
	AmountA *big.Int
	AmountB *big.Int
	RepaidA *big.Int
	RepaidB *big.Int
	RefundA *big.Int
	RefundB *big.Int
}

// MintCollateralRequest deposits LP held by Payer as collateral for Borrower.
type MintCollateralRequest struct {
	Market   string
	Borrower crypto.Address
	Payer    crypto.Address
	LP       *big.Int
	// Permit is an optional LP token permit naming the router as spender.
	Permit   *permit.Permit
	Deadline uint64
}

// SupplyRequest lends one side of a market. With Native set the side must be
// the wrapped native asset and the lender's native currency is wrapped first.
type SupplyRequest struct {
	Market   string
	Lender   crypto.Address
	Side     Side
	Amount   *big.Int
	Native   bool
	Deadline uint64
}

// RepayRequest repays one side of a borrower's debt directly.
type RepayRequest struct {
	Market   string
	Payer    crypto.Address
	Borrower crypto.Address
	Side     Side
	Amount   *big.Int
	Deadline uint64
}

// RepayResult splits a repayment into what reduced the debt and what was left
// with the payer.
type RepayResult struct {
	Repaid *big.Int
	Refund *big.Int
}

// Position is the borrower's state in one market, valued in asset B.
type Position struct {
	Market          string
	Borrower        crypto.Address
	Shares          *big.Int
	LP              *big.Int
	DebtA           *big.Int
	DebtB           *big.Int
	CollateralValue *big.Int
	DebtValue       *big.Int
	Surplus         *big.Int
	Shortfall       *big.Int
}

// PoolState is one side's lending pool as lenders see it.
type PoolState struct {
	Side   Side
	PoolID string
	lending.Snapshot
}

// PermitDomains lists the signing domains clients need for a market.
type PermitDomains struct {
	BorrowA permit.Domain
	BorrowB permit.Domain
	Share   permit.Domain
	LP      permit.Domain
}

func amountOrZero(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
