package router

import (
	"context"
	"fmt"
	"math/big"

	"lpvault/core/events"
)

// Leverage borrows both assets on behalf of the borrower, adds them to the
// pair and deposits the minted LP as the borrower's collateral. Borrow amounts
// are trimmed to the pair's ratio so the router keeps no unmatched dust. Each
// lending pool checks the borrower's health only after the nested steps have
// posted the new collateral.
func (r *Router) Leverage(ctx context.Context, req LeverageRequest) (*LeverageResult, error) {
	var result *LeverageResult
	_, err := r.execute(ctx, "leverage", req.Market, req.Borrower, func(b *binding) error {
		if err := b.checkDeadline(req.Deadline); err != nil {
			return err
		}
		if err := b.applyBorrowPermit(b.lendA, req.PermitA, req.Borrower); err != nil {
			return err
		}
		if err := b.applyBorrowPermit(b.lendB, req.PermitB, req.Borrower); err != nil {
			return err
		}
		amountA, amountB, err := b.pool.OptimalAmounts(
			amountOrZero(req.AmountADesired),
			amountOrZero(req.AmountBDesired),
			amountOrZero(req.AmountAMin),
			amountOrZero(req.AmountBMin),
		)
		if err != nil {
			return err
		}
		res, err := b.leverage(req, amountA, amountB)
		if err != nil {
			return err
		}
		balance, err := b.vault.BalanceOf(req.Borrower)
		if err != nil {
			return err
		}
		res.CollateralShares = balance
		b.tx.Emit(events.RouterLeverage{
			Market:    b.market.ID,
			Borrower:  req.Borrower,
			BorrowedA: res.BorrowedA,
			BorrowedB: res.BorrowedB,
			LP:        res.LP,
			Shares:    res.Shares,
		})
		result = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (b *binding) leverage(req LeverageRequest, amountA, amountB *big.Int) (*LeverageResult, error) {
	router := Address()
	minLP := amountOrZero(req.MinLP)
	res := &LeverageResult{BorrowedA: amountA, BorrowedB: amountB}
	err := b.lendA.Borrow(router, req.Borrower, router, amountA, func(*big.Int) error {
		return b.lendB.Borrow(router, req.Borrower, router, amountB, func(*big.Int) error {
			lp, err := b.pool.AddLiquidity(router, amountA, amountB, router)
			if err != nil {
				return err
			}
			if lp.Cmp(minLP) < 0 {
				return slippageError(SideLP, b.market.LP, fmt.Errorf("minted %s LP, minimum %s", lp, minLP))
			}
			shares, err := b.vault.Mint(router, lp, req.Borrower)
			if err != nil {
				return err
			}
			res.LP = lp
			res.Shares = shares
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}
