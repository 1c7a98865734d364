package router

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"lpvault/core"
	"lpvault/core/events"
	"lpvault/core/state"
	"lpvault/crypto"
	"lpvault/native/token"
)

// ParseSide accepts "a"/"b" in any case.
func ParseSide(raw string) (Side, error) {
	switch Side(strings.ToUpper(strings.TrimSpace(raw))) {
	case SideA:
		return SideA, nil
	case SideB:
		return SideB, nil
	}
	return "", fmt.Errorf("router: unknown side %q", raw)
}

func requirePositive(amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return &Error{Kind: KindZeroAmount, Reason: ReasonZeroAmount}
	}
	return nil
}

// MintCollateral moves LP from the payer into the vault as collateral for the
// borrower. Payers other than the router's caller authorise the router with
// an LP allowance or permit.
func (r *Router) MintCollateral(ctx context.Context, req MintCollateralRequest) (*big.Int, error) {
	var minted *big.Int
	_, err := r.execute(ctx, "mint_collateral", req.Market, req.Borrower, func(b *binding) error {
		if err := b.checkDeadline(req.Deadline); err != nil {
			return err
		}
		if err := requirePositive(req.LP); err != nil {
			return err
		}
		if err := b.applyLPPermit(req.Permit, req.Payer); err != nil {
			return err
		}
		router := Address()
		if err := b.spendTokenAllowance(req.Payer, b.market.LP, req.LP); err != nil {
			return err
		}
		if err := b.tokens.Transfer(req.Payer, router, b.market.LP, req.LP); err != nil {
			return err
		}
		shares, err := b.vault.Mint(router, req.LP, req.Borrower)
		if err != nil {
			return err
		}
		b.tx.Emit(events.RouterCollateralMinted{
			Market:   b.market.ID,
			Borrower: req.Borrower,
			Payer:    req.Payer,
			LP:       new(big.Int).Set(req.LP),
			Shares:   shares,
		})
		minted = shares
		return nil
	})
	if err != nil {
		return nil, err
	}
	return minted, nil
}

// Supply lends amount of one side's asset from the lender to the market's
// pool and returns the pool shares minted. The lender's token allowance to the
// router is spent; native supplies spend the native allowance and wrap it.
func (r *Router) Supply(ctx context.Context, req SupplyRequest) (*big.Int, error) {
	op := "supply"
	if req.Native {
		op = "supply_native"
		market, err := r.Market(req.Market)
		if err != nil {
			return nil, err
		}
		if r.cfg.WrappedSymbol == "" || state.NormalizeSymbol(market.Asset(req.Side)) != r.cfg.WrappedSymbol {
			return nil, fmt.Errorf("%w: market %s side %s holds %s", ErrNotNative, market.ID, req.Side, market.Asset(req.Side))
		}
	}
	var shares *big.Int
	_, err := r.execute(ctx, op, req.Market, req.Lender, func(b *binding) error {
		if err := b.checkDeadline(req.Deadline); err != nil {
			return err
		}
		if err := requirePositive(req.Amount); err != nil {
			return err
		}
		if req.Native {
			if err := b.spendTokenAllowance(req.Lender, b.wrapper.Native(), req.Amount); err != nil {
				return err
			}
			if err := b.wrapper.Wrap(req.Lender, req.Amount); err != nil {
				return err
			}
		} else if err := b.spendTokenAllowance(req.Lender, b.market.Asset(req.Side), req.Amount); err != nil {
			return err
		}
		minted, err := b.lendingPool(req.Side).Supply(req.Lender, req.Amount)
		if err != nil {
			return err
		}
		shares = minted
		return nil
	})
	if err != nil {
		return nil, err
	}
	return shares, nil
}

// Repay reduces the borrower's debt on one side. Only the outstanding debt is
// taken from the payer, within its token allowance to the router; the rest is
// reported as refund.
func (r *Router) Repay(ctx context.Context, req RepayRequest) (*RepayResult, error) {
	var result *RepayResult
	_, err := r.execute(ctx, "repay", req.Market, req.Borrower, func(b *binding) error {
		if err := b.checkDeadline(req.Deadline); err != nil {
			return err
		}
		if err := requirePositive(req.Amount); err != nil {
			return err
		}
		pool := b.lendingPool(req.Side)
		debt, err := pool.DebtOf(req.Borrower)
		if err != nil {
			return err
		}
		due := new(big.Int).Set(req.Amount)
		if debt.Cmp(due) < 0 {
			due.Set(debt)
		}
		if err := b.spendTokenAllowance(req.Payer, b.market.Asset(req.Side), due); err != nil {
			return err
		}
		repaid, refund, err := pool.Repay(req.Payer, req.Borrower, req.Amount)
		if err != nil {
			return err
		}
		result = &RepayResult{Repaid: repaid, Refund: refund}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// spendTokenAllowance consumes owner's allowance of symbol to the router.
func (b *binding) spendTokenAllowance(owner crypto.Address, symbol string, amount *big.Int) error {
	if err := b.tokens.SpendAllowance(owner, Address(), symbol, amount); err != nil {
		if errors.Is(err, token.ErrTransferNotAllowed) {
			return authorizationError(ReasonTransferNotAllowed, err)
		}
		return err
	}
	return nil
}

// Position reports the borrower's collateral, debts and health in a market.
func (r *Router) Position(ctx context.Context, marketID string, borrower crypto.Address) (*Position, error) {
	market, err := r.Market(marketID)
	if err != nil {
		return nil, err
	}
	var pos *Position
	err = r.ledger.View(ctx, func(tx *core.Tx) error {
		b, err := r.bind(tx, market)
		if err != nil {
			return err
		}
		val, err := b.vault.Valuation(borrower)
		if err != nil {
			return err
		}
		pos = &Position{
			Market:          market.ID,
			Borrower:        borrower,
			Shares:          val.Shares,
			LP:              val.LP,
			DebtA:           val.DebtA,
			DebtB:           val.DebtB,
			CollateralValue: val.CollateralValue,
			DebtValue:       val.DebtValue,
			Surplus:         val.Surplus,
			Shortfall:       val.Shortfall,
		}
		return nil
	})
	if err != nil {
		return nil, classify(err, market)
	}
	return pos, nil
}

// Pools reports both lending pools of a market with interest accrued to now.
func (r *Router) Pools(ctx context.Context, marketID string) ([]PoolState, error) {
	market, err := r.Market(marketID)
	if err != nil {
		return nil, err
	}
	var pools []PoolState
	err = r.ledger.View(ctx, func(tx *core.Tx) error {
		b, err := r.bind(tx, market)
		if err != nil {
			return err
		}
		for _, side := range []Side{SideA, SideB} {
			snap, err := b.lendingPool(side).Snapshot()
			if err != nil {
				return err
			}
			pools = append(pools, PoolState{Side: side, PoolID: PoolID(market, side), Snapshot: *snap})
		}
		return nil
	})
	if err != nil {
		return nil, classify(err, market)
	}
	return pools, nil
}
