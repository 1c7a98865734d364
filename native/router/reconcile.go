package router

import (
	"fmt"
	"math/big"

	"lpvault/crypto"
)

// settle repays up to amount of side's asset, held by the router, towards the
// borrower's debt and refunds the rest to the borrower. Sides never cover each
// other's debt.
func (b *binding) settle(side Side, borrower crypto.Address, amount *big.Int) (*big.Int, *big.Int, error) {
	repaid, refund, err := b.lendingPool(side).Repay(Address(), borrower, amount)
	if err != nil {
		return nil, nil, err
	}
	if err := b.refund(b.market.Asset(side), borrower, refund); err != nil {
		return nil, nil, err
	}
	return repaid, refund, nil
}

// refund pays amount of asset from the router to recipient. The wrapped
// native token is unwrapped and paid as native currency.
func (b *binding) refund(asset string, recipient crypto.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if b.wrapper.IsWrapped(asset) {
		return b.wrapper.Unwrap(Address(), amount, recipient)
	}
	return b.tokens.Transfer(Address(), recipient, asset, amount)
}

// custodySymbols lists every asset the router may touch within a market.
func (b *binding) custodySymbols() []string {
	symbols := []string{b.market.AssetA, b.market.AssetB, b.market.LP, b.market.Share}
	if b.wrapper != nil {
		symbols = append(symbols, b.wrapper.Native(), b.wrapper.Wrapped())
	}
	return symbols
}

// checkCustody fails the operation when the router would keep any balance.
func (b *binding) checkCustody() error {
	router := Address()
	for _, symbol := range b.custodySymbols() {
		balance, err := b.tx.State.Balance(router, symbol)
		if err != nil {
			return err
		}
		if balance.Sign() != 0 {
			return internalError(ReasonCustody, fmt.Errorf("router would retain %s %s", balance, symbol))
		}
	}
	return nil
}
