package token

import (
	"fmt"
	"math/big"

	"lpvault/core/state"
	"lpvault/crypto"
)

// Wrapper converts the native currency into a fungible wrapped token and back.
// Native funds backing the wrapped supply sit in the wrapper's module account.
type Wrapper struct {
	tokens  *Engine
	native  string
	wrapped string
	reserve crypto.Address
}

// NewWrapper binds a wrapper for the given native and wrapped symbols.
func NewWrapper(tokens *Engine, native, wrapped string) *Wrapper {
	wrapped = state.NormalizeSymbol(wrapped)
	return &Wrapper{
		tokens:  tokens,
		native:  state.NormalizeSymbol(native),
		wrapped: wrapped,
		reserve: crypto.ModuleAddress("wrapper/" + wrapped),
	}
}

// Native returns the native currency symbol.
func (w *Wrapper) Native() string { return w.native }

// Wrapped returns the wrapped token symbol.
func (w *Wrapper) Wrapped() string { return w.wrapped }

// Reserve returns the module account holding the native backing.
func (w *Wrapper) Reserve() crypto.Address { return w.reserve }

// IsWrapped reports whether symbol is the wrapped token handled by w.
func (w *Wrapper) IsWrapped(symbol string) bool {
	return w != nil && w.wrapped != "" && state.NormalizeSymbol(symbol) == w.wrapped
}

// Wrap moves amount of native currency from holder into the reserve and mints
// the same amount of the wrapped token to holder.
func (w *Wrapper) Wrap(holder crypto.Address, amount *big.Int) error {
	if w == nil || w.tokens == nil {
		return errNilState
	}
	if err := w.tokens.Transfer(holder, w.reserve, w.native, amount); err != nil {
		return fmt.Errorf("wrap: %w", err)
	}
	return w.tokens.Mint(holder, w.wrapped, amount)
}

// Unwrap burns amount of the wrapped token held by holder and pays the native
// currency out of the reserve to recipient.
func (w *Wrapper) Unwrap(holder crypto.Address, amount *big.Int, recipient crypto.Address) error {
	if w == nil || w.tokens == nil {
		return errNilState
	}
	if err := w.tokens.Burn(holder, w.wrapped, amount); err != nil {
		return fmt.Errorf("unwrap: %w", err)
	}
	return w.tokens.Transfer(w.reserve, recipient, w.native, amount)
}
