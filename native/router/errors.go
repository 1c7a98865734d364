package router

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"lpvault/core"
	"lpvault/native/amm"
	"lpvault/native/collateral"
	nativecommon "lpvault/native/common"
	"lpvault/native/lending"
	"lpvault/native/permit"
)

// Kind classifies router failures so callers can tell a loose bound from a
// broken authorization or a failing collaborator.
type Kind string

const (
	KindAuthorization Kind = "authorization"
	KindZeroAmount    Kind = "zero_amount"
	KindSlippage      Kind = "slippage"
	KindUpstream      Kind = "upstream"
	KindExpired       Kind = "expired"
	KindInternal      Kind = "internal"
)

// Side names the leg of a market an error refers to.
type Side string

const (
	SideA  Side = "A"
	SideB  Side = "B"
	SideLP Side = "LP"
)

// Reasons carried by router errors.
const (
	ReasonRedeemZero         = "REDEEM_ZERO"
	ReasonZeroAmount         = "ZERO_AMOUNT"
	ReasonTransferNotAllowed = "TRANSFER_NOT_ALLOWED"
	ReasonBorrowNotAllowed   = "BORROW_NOT_ALLOWED"
	ReasonInvalidPermit      = "INVALID_PERMIT"
	ReasonPermitSpender      = "PERMIT_SPENDER_MISMATCH"
	ReasonInsufficientA      = "INSUFFICIENT_A_AMOUNT"
	ReasonInsufficientB      = "INSUFFICIENT_B_AMOUNT"
	ReasonInsufficientLP     = "INSUFFICIENT_LP_AMOUNT"
	ReasonExpired            = "EXPIRED"
	ReasonCustody            = "ROUTER_CUSTODY"
	ReasonUnknownMarket      = "UNKNOWN_MARKET"
	ReasonPaused             = "MODULE_PAUSED"
)

var (
	ErrAuthorization = errors.New("router: authorization failed")
	ErrZeroAmount    = errors.New("router: zero amount")
	ErrSlippage      = errors.New("router: slippage bound violated")
	ErrUpstream      = errors.New("router: upstream failure")
	ErrExpired       = errors.New("router: request expired")
	ErrInternal      = errors.New("router: internal error")

	// ErrInsufficientA matches slippage failures on asset A.
	ErrInsufficientA = errors.New("router: insufficient A amount")
	// ErrInsufficientB matches slippage failures on asset B.
	ErrInsufficientB = errors.New("router: insufficient B amount")
	// ErrInsufficientLP matches slippage failures on the LP yield.
	ErrInsufficientLP = errors.New("router: insufficient LP amount")
)

// Error is the single failure signal returned by router operations. Asset
// holds the symbol of the side that fell short, independent of pair order.
type Error struct {
	Kind   Kind
	Side   Side
	Asset  string
	Reason string
	Err    error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("router: ")
	b.WriteString(string(e.Kind))
	if e.Reason != "" {
		b.WriteString(": ")
		b.WriteString(e.Reason)
	}
	if e.Asset != "" {
		fmt.Fprintf(&b, " (%s)", e.Asset)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the kind sentinels and, for slippage, the side sentinels.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrAuthorization:
		return e.Kind == KindAuthorization
	case ErrZeroAmount:
		return e.Kind == KindZeroAmount
	case ErrSlippage:
		return e.Kind == KindSlippage
	case ErrUpstream:
		return e.Kind == KindUpstream
	case ErrExpired:
		return e.Kind == KindExpired
	case ErrInternal:
		return e.Kind == KindInternal
	case ErrInsufficientA:
		return e.Kind == KindSlippage && e.Side == SideA
	case ErrInsufficientB:
		return e.Kind == KindSlippage && e.Side == SideB
	case ErrInsufficientLP:
		return e.Kind == KindSlippage && e.Side == SideLP
	}
	return false
}

func authorizationError(reason string, err error) *Error {
	return &Error{Kind: KindAuthorization, Reason: reason, Err: err}
}

func slippageError(side Side, asset string, err error) *Error {
	reason := ReasonInsufficientLP
	switch side {
	case SideA:
		reason = ReasonInsufficientA
	case SideB:
		reason = ReasonInsufficientB
	}
	return &Error{Kind: KindSlippage, Side: side, Asset: asset, Reason: reason, Err: err}
}

func internalError(reason string, err error) *Error {
	return &Error{Kind: KindInternal, Reason: reason, Err: err}
}

// classify maps a failure into the router taxonomy. Errors already raised by
// the router pass through untouched; collaborator errors keep their chain.
func classify(err error, m Market) error {
	if err == nil {
		return nil
	}
	var routerErr *Error
	if errors.As(err, &routerErr) {
		return routerErr
	}
	switch {
	case errors.Is(err, permit.ErrPermitExpired),
		errors.Is(err, permit.ErrPermitSignature),
		errors.Is(err, permit.ErrPermitMalformed):
		return authorizationError(ReasonInvalidPermit, err)
	case errors.Is(err, collateral.ErrTransferNotAllowed):
		return authorizationError(ReasonTransferNotAllowed, err)
	case errors.Is(err, lending.ErrBorrowNotAllowed):
		return authorizationError(ReasonBorrowNotAllowed, err)
	case errors.Is(err, amm.ErrInsufficientAAmount):
		return slippageError(SideA, m.AssetA, err)
	case errors.Is(err, amm.ErrInsufficientBAmount):
		return slippageError(SideB, m.AssetB, err)
	case errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, core.ErrLedgerClosed):
		return internalError("", err)
	case errors.Is(err, nativecommon.ErrModulePaused):
		return &Error{Kind: KindUpstream, Reason: ReasonPaused, Err: err}
	}
	return &Error{Kind: KindUpstream, Err: err}
}

// KindOf returns the router kind of err, or an empty kind for nil and foreign
// errors.
func KindOf(err error) Kind {
	var routerErr *Error
	if errors.As(err, &routerErr) {
		return routerErr.Kind
	}
	return ""
}
