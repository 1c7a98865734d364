package events

import (
	"math/big"
	"strings"

	"lpvault/core/types"
	"lpvault/crypto"
)

const (
	// TypeRouterLeverage is emitted after a leverage operation commits.
	TypeRouterLeverage = "router.leverage"
	// TypeRouterDeleverage is emitted after a deleverage operation commits.
	TypeRouterDeleverage = "router.deleverage"
	// TypeRouterCollateralMinted is emitted when LP is deposited as collateral
	// through the router.
	TypeRouterCollateralMinted = "router.collateral_minted"
)

type RouterLeverage struct {
	Market    string
	Borrower  crypto.Address
	BorrowedA *big.Int
	BorrowedB *big.Int
	LP        *big.Int
	Shares    *big.Int
}

func (RouterLeverage) EventType() string { return TypeRouterLeverage }

func (e RouterLeverage) Event() *types.Event {
	return &types.Event{
		Type: TypeRouterLeverage,
		Attributes: map[string]string{
			"market":    strings.TrimSpace(e.Market),
			"borrower":  e.Borrower.String(),
			"borrowedA": amountString(e.BorrowedA),
			"borrowedB": amountString(e.BorrowedB),
			"lp":        amountString(e.LP),
			"shares":    amountString(e.Shares),
		},
	}
}

type RouterDeleverage struct {
	Market   string
	Borrower crypto.Address
	Shares   *big.Int
	LP       *big.Int
	AmountA  *big.Int
	AmountB  *big.Int
	RepaidA  *big.Int
	RepaidB  *big.Int
	RefundA  *big.Int
	RefundB  *big.Int
}

func (RouterDeleverage) EventType() string { return TypeRouterDeleverage }

func (e RouterDeleverage) Event() *types.Event {
	return &types.Event{
		Type: TypeRouterDeleverage,
		Attributes: map[string]string{
			"market":   strings.TrimSpace(e.Market),
			"borrower": e.Borrower.String(),
			"shares":   amountString(e.Shares),
			"lp":       amountString(e.LP),
			"amountA":  amountString(e.AmountA),
			"amountB":  amountString(e.AmountB),
			"repaidA":  amountString(e.RepaidA),
			"repaidB":  amountString(e.RepaidB),
			"refundA":  amountString(e.RefundA),
			"refundB":  amountString(e.RefundB),
		},
	}
}

type RouterCollateralMinted struct {
	Market   string
	Borrower crypto.Address
	Payer    crypto.Address
	LP       *big.Int
	Shares   *big.Int
}

func (RouterCollateralMinted) EventType() string { return TypeRouterCollateralMinted }

func (e RouterCollateralMinted) Event() *types.Event {
	return &types.Event{
		Type: TypeRouterCollateralMinted,
		Attributes: map[string]string{
			"market":   strings.TrimSpace(e.Market),
			"borrower": e.Borrower.String(),
			"payer":    e.Payer.String(),
			"lp":       amountString(e.LP),
			"shares":   amountString(e.Shares),
		},
	}
}
