package router

import (
	"context"
	"fmt"
	"math/big"

	"lpvault/core/events"
	"lpvault/native/collateral"
)

// Deleverage redeems collateral shares through the router, removes exactly the
// redeemed LP from the pair and repays each asset's debt from its own
// proceeds. Surplus of either asset is refunded to the borrower. The vault
// checks the borrower's health once repayment is done.
func (r *Router) Deleverage(ctx context.Context, req DeleverageRequest) (*DeleverageResult, error) {
	var result *DeleverageResult
	_, err := r.execute(ctx, "deleverage", req.Market, req.Borrower, func(b *binding) error {
		if err := b.checkDeadline(req.Deadline); err != nil {
			return err
		}
		if req.Shares == nil || req.Shares.Sign() <= 0 {
			return &Error{Kind: KindZeroAmount, Reason: ReasonRedeemZero}
		}
		if err := b.applySharePermit(req.Permit, req.Borrower); err != nil {
			return err
		}
		if err := b.requireShareAllowance(req); err != nil {
			return err
		}

		res := &DeleverageResult{}
		router := Address()
		lp, err := b.vault.FlashRedeem(router, req.Borrower, req.Shares, router, func(lp *big.Int) error {
			return b.unwind(req, lp, res)
		})
		if err != nil {
			return err
		}
		res.LP = lp
		b.tx.Emit(events.RouterDeleverage{
			Market:   b.market.ID,
			Borrower: req.Borrower,
			Shares:   new(big.Int).Set(req.Shares),
			LP:       res.LP,
			AmountA:  res.AmountA,
			AmountB:  res.AmountB,
			RepaidA:  res.RepaidA,
			RepaidB:  res.RepaidB,
			RefundA:  res.RefundA,
			RefundB:  res.RefundB,
		})
		result = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (b *binding) requireShareAllowance(req DeleverageRequest) error {
	allowance, err := b.vault.Allowance(req.Borrower, Address())
	if err != nil {
		return err
	}
	if allowance.Cmp(req.Shares) < 0 {
		return authorizationError(ReasonTransferNotAllowed,
			fmt.Errorf("%w: router allowance %s below %s shares", collateral.ErrTransferNotAllowed, allowance, req.Shares))
	}
	return nil
}

// unwind runs inside the vault redemption: the LP has reached the router and
// the borrower's health is checked once it returns.
func (b *binding) unwind(req DeleverageRequest, lp *big.Int, res *DeleverageResult) error {
	router := Address()
	amountA, amountB, err := b.pool.RemoveLiquidity(router, lp, router)
	if err != nil {
		return err
	}
	if minA := amountOrZero(req.AmountAMin); amountA.Cmp(minA) < 0 {
		return slippageError(SideA, b.market.AssetA, fmt.Errorf("received %s %s, minimum %s", amountA, b.market.AssetA, minA))
	}
	if minB := amountOrZero(req.AmountBMin); amountB.Cmp(minB) < 0 {
		return slippageError(SideB, b.market.AssetB, fmt.Errorf("received %s %s, minimum %s", amountB, b.market.AssetB, minB))
	}
	res.AmountA, res.AmountB = amountA, amountB
	if res.RepaidA, res.RefundA, err = b.settle(SideA, req.Borrower, amountA); err != nil {
		return err
	}
	if res.RepaidB, res.RefundB, err = b.settle(SideB, req.Borrower, amountB); err != nil {
		return err
	}
	return nil
}
