package token

import (
	"errors"
	"fmt"
	"math/big"

	"lpvault/core/events"
	"lpvault/core/state"
	"lpvault/crypto"
)

var (
	errNilState = errors.New("token engine: state not configured")

	// ErrUnknownToken is returned for symbols that were never registered.
	ErrUnknownToken = errors.New("token engine: unknown token")
	// ErrInsufficientBalance is returned when the sender cannot cover a debit.
	ErrInsufficientBalance = errors.New("token engine: insufficient balance")
	// ErrTransferNotAllowed is returned when a spender's allowance is short.
	ErrTransferNotAllowed = errors.New("token engine: transfer not allowed")
	// ErrInvalidAmount is returned for negative amounts.
	ErrInvalidAmount = errors.New("token engine: invalid amount")
)

// MaxAllowance is the sentinel allowance that is never decremented by spends.
var MaxAllowance = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

type engineState interface {
	TokenExists(symbol string) bool
	Balance(addr crypto.Address, symbol string) (*big.Int, error)
	SetBalance(addr crypto.Address, symbol string, amount *big.Int) error
	Allowance(owner, spender crypto.Address, symbol string) (*big.Int, error)
	SetAllowance(owner, spender crypto.Address, symbol string, amount *big.Int) error
	TokenSupply(symbol string) (*big.Int, error)
	AdjustTokenSupply(symbol string, delta *big.Int) (*big.Int, error)
}

// Engine moves fungible balances between accounts. All amounts are in the
// token's smallest unit.
type Engine struct {
	state   engineState
	emitter events.Emitter
}

// NewEngine creates a token engine with a no-op emitter.
func NewEngine() *Engine {
	return &Engine{emitter: events.NoopEmitter{}}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(st engineState) { e.state = st }

// SetEmitter configures the event emitter used by the engine. Passing nil resets
// the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

func (e *Engine) resolve(symbol string) (string, error) {
	if e == nil || e.state == nil {
		return "", errNilState
	}
	normalized := state.NormalizeSymbol(symbol)
	if normalized == "" || !e.state.TokenExists(normalized) {
		return "", fmt.Errorf("%w: %q", ErrUnknownToken, symbol)
	}
	return normalized, nil
}

// BalanceOf returns the balance addr holds of symbol.
func (e *Engine) BalanceOf(addr crypto.Address, symbol string) (*big.Int, error) {
	normalized, err := e.resolve(symbol)
	if err != nil {
		return nil, err
	}
	return e.state.Balance(addr, normalized)
}

// Transfer moves amount of symbol from one account to another.
func (e *Engine) Transfer(from, to crypto.Address, symbol string, amount *big.Int) error {
	normalized, err := e.resolve(symbol)
	if err != nil {
		return err
	}
	amt := cloneBigInt(amount)
	if amt.Sign() < 0 {
		return ErrInvalidAmount
	}
	fromBal, err := e.state.Balance(from, normalized)
	if err != nil {
		return err
	}
	if fromBal.Cmp(amt) < 0 {
		return fmt.Errorf("%w: %s has %s %s, needs %s", ErrInsufficientBalance, from, fromBal, normalized, amt)
	}
	if amt.Sign() == 0 || from.Equal(to) {
		return nil
	}
	toBal, err := e.state.Balance(to, normalized)
	if err != nil {
		return err
	}
	if err := e.state.SetBalance(from, normalized, new(big.Int).Sub(fromBal, amt)); err != nil {
		return err
	}
	return e.state.SetBalance(to, normalized, new(big.Int).Add(toBal, amt))
}

// TransferFrom moves amount of symbol from owner to recipient on behalf of
// spender, consuming the owner's allowance to spender.
func (e *Engine) TransferFrom(spender, owner, to crypto.Address, symbol string, amount *big.Int) error {
	if err := e.SpendAllowance(owner, spender, symbol, amount); err != nil {
		return err
	}
	return e.Transfer(owner, to, symbol, amount)
}

// SpendAllowance decrements the owner's allowance to spender. Spending from
// one's own account needs no allowance and a maximum allowance is never
// decremented.
func (e *Engine) SpendAllowance(owner, spender crypto.Address, symbol string, amount *big.Int) error {
	normalized, err := e.resolve(symbol)
	if err != nil {
		return err
	}
	amt := cloneBigInt(amount)
	if amt.Sign() < 0 {
		return ErrInvalidAmount
	}
	if owner.Equal(spender) || amt.Sign() == 0 {
		return nil
	}
	current, err := e.state.Allowance(owner, spender, normalized)
	if err != nil {
		return err
	}
	if current.Cmp(amt) < 0 {
		return fmt.Errorf("%w: allowance %s below %s", ErrTransferNotAllowed, current, amt)
	}
	if current.Cmp(MaxAllowance) == 0 {
		return nil
	}
	return e.state.SetAllowance(owner, spender, normalized, new(big.Int).Sub(current, amt))
}

// Approve sets the amount spender may move on behalf of owner.
func (e *Engine) Approve(owner, spender crypto.Address, symbol string, amount *big.Int) error {
	normalized, err := e.resolve(symbol)
	if err != nil {
		return err
	}
	amt := cloneBigInt(amount)
	if amt.Sign() < 0 || amt.Cmp(MaxAllowance) > 0 {
		return ErrInvalidAmount
	}
	return e.state.SetAllowance(owner, spender, normalized, amt)
}

// Allowance returns the amount spender may still move for owner.
func (e *Engine) Allowance(owner, spender crypto.Address, symbol string) (*big.Int, error) {
	normalized, err := e.resolve(symbol)
	if err != nil {
		return nil, err
	}
	return e.state.Allowance(owner, spender, normalized)
}

// Mint credits newly issued tokens to the recipient.
func (e *Engine) Mint(to crypto.Address, symbol string, amount *big.Int) error {
	normalized, err := e.resolve(symbol)
	if err != nil {
		return err
	}
	amt := cloneBigInt(amount)
	if amt.Sign() < 0 {
		return ErrInvalidAmount
	}
	if amt.Sign() == 0 {
		return nil
	}
	bal, err := e.state.Balance(to, normalized)
	if err != nil {
		return err
	}
	if err := e.state.SetBalance(to, normalized, new(big.Int).Add(bal, amt)); err != nil {
		return err
	}
	total, err := e.state.AdjustTokenSupply(normalized, amt)
	if err != nil {
		return err
	}
	e.emitter.Emit(events.TokenSupply{Token: normalized, Account: to, Total: total, Delta: amt})
	return nil
}

// Burn destroys amount of symbol held by from.
func (e *Engine) Burn(from crypto.Address, symbol string, amount *big.Int) error {
	normalized, err := e.resolve(symbol)
	if err != nil {
		return err
	}
	amt := cloneBigInt(amount)
	if amt.Sign() < 0 {
		return ErrInvalidAmount
	}
	if amt.Sign() == 0 {
		return nil
	}
	bal, err := e.state.Balance(from, normalized)
	if err != nil {
		return err
	}
	if bal.Cmp(amt) < 0 {
		return fmt.Errorf("%w: burn %s of %s", ErrInsufficientBalance, amt, bal)
	}
	if err := e.state.SetBalance(from, normalized, new(big.Int).Sub(bal, amt)); err != nil {
		return err
	}
	total, err := e.state.AdjustTokenSupply(normalized, new(big.Int).Neg(amt))
	if err != nil {
		return err
	}
	e.emitter.Emit(events.TokenSupply{Token: normalized, Account: from, Total: total, Delta: new(big.Int).Neg(amt)})
	return nil
}

// TotalSupply returns the outstanding supply of symbol.
func (e *Engine) TotalSupply(symbol string) (*big.Int, error) {
	normalized, err := e.resolve(symbol)
	if err != nil {
		return nil, err
	}
	return e.state.TokenSupply(normalized)
}
