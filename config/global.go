package config

import (
	"fmt"
	"math/big"
	"strings"
	"time"
)

func parseUintAmount(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", value)
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("amount must not be negative")
	}
	return amount, nil
}

func cloneAmount(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

// GenesisTimestamp returns the parsed genesis time, zero when unset.
func (g *Genesis) GenesisTimestamp() time.Time { return g.genesisTimestamp }

// Value returns the parsed balance amount.
func (b BalanceSpec) Value() *big.Int { return cloneAmount(b.amount) }

// Amounts returns the parsed initial reserves.
func (p PairSpec) Amounts() (*big.Int, *big.Int) {
	return cloneAmount(p.amountA), cloneAmount(p.amountB)
}

// Seeded reports whether the pair is created with reserves.
func (p PairSpec) Seeded() bool {
	return p.amountA != nil && p.amountA.Sign() > 0
}

// Value returns the parsed total debt cap, zero when uncapped.
func (c CapsSpec) Value() *big.Int { return cloneAmount(c.total) }

// Value returns the parsed supply amount.
func (s SupplySpec) Value() *big.Int { return cloneAmount(s.amount) }

// Value returns the parsed allowance and whether it is the maximum.
func (a AllowanceSpec) Value() (*big.Int, bool) { return cloneAmount(a.amount), a.max }
