package state

import (
	"errors"
	"fmt"
	"math/big"
)

// ErrSupplyUnderflow is returned when a burn would take a token's circulating
// supply below zero.
var ErrSupplyUnderflow = errors.New("state: supply underflow")

// SupplyRecord tracks the circulating amount of a token together with the
// cumulative amounts minted and burned. Total always equals Minted - Burned.
type SupplyRecord struct {
	Total  *big.Int
	Minted *big.Int
	Burned *big.Int
}

func supplyKey(symbol string) []byte {
	return []byte("supply/" + symbol)
}

// SupplyOf loads the supply record for a token. Tokens that were never minted
// report zeroes.
func (m *Manager) SupplyOf(symbol string) (*SupplyRecord, error) {
	if m == nil {
		return nil, fmt.Errorf("state manager unavailable")
	}
	symbol = NormalizeSymbol(symbol)
	if symbol == "" {
		return nil, fmt.Errorf("token symbol required")
	}
	rec := new(SupplyRecord)
	if _, err := m.KVGet(supplyKey(symbol), rec); err != nil {
		return nil, fmt.Errorf("supply %s: %w", symbol, err)
	}
	for _, v := range []**big.Int{&rec.Total, &rec.Minted, &rec.Burned} {
		if *v == nil {
			*v = new(big.Int)
		}
	}
	return rec, nil
}

// TokenSupply returns the circulating supply of a token.
func (m *Manager) TokenSupply(symbol string) (*big.Int, error) {
	rec, err := m.SupplyOf(symbol)
	if err != nil {
		return nil, err
	}
	return rec.Total, nil
}

// AdjustTokenSupply applies a mint (positive delta) or burn (negative delta)
// and returns the new circulating supply. Nothing is written on underflow.
func (m *Manager) AdjustTokenSupply(symbol string, delta *big.Int) (*big.Int, error) {
	rec, err := m.SupplyOf(symbol)
	if err != nil {
		return nil, err
	}
	if delta == nil || delta.Sign() == 0 {
		return rec.Total, nil
	}
	total := new(big.Int).Add(rec.Total, delta)
	if total.Sign() < 0 {
		return nil, fmt.Errorf("%w: %s has %s, delta %s", ErrSupplyUnderflow, NormalizeSymbol(symbol), rec.Total, delta)
	}
	rec.Total = total
	if delta.Sign() > 0 {
		rec.Minted.Add(rec.Minted, delta)
	} else {
		rec.Burned.Sub(rec.Burned, delta)
	}
	if err := m.KVPut(supplyKey(NormalizeSymbol(symbol)), rec); err != nil {
		return nil, err
	}
	return total, nil
}
