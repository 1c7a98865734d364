package events

import (
	"math/big"

	"lpvault/core/types"
	"lpvault/crypto"
)

// TypeTokenSupply is emitted when a mint or burn changes a token's total
// supply: pair liquidity, vault shares, pool deposits and wrapped native
// currency all report through it.
const TypeTokenSupply = "token.supply"

// Supply change reasons.
const (
	SupplyReasonMint = "mint"
	SupplyReasonBurn = "burn"
)

// TokenSupply records a signed change of Token's supply at Account. Total is
// the supply after the change.
type TokenSupply struct {
	Token   string
	Account crypto.Address
	Total   *big.Int
	Delta   *big.Int
}

func (TokenSupply) EventType() string { return TypeTokenSupply }

// Reason derives mint or burn from the sign of Delta.
func (e TokenSupply) Reason() string {
	if e.Delta != nil && e.Delta.Sign() < 0 {
		return SupplyReasonBurn
	}
	return SupplyReasonMint
}

func (e TokenSupply) Event() *types.Event {
	attrs := map[string]string{
		"token":  normalizeAsset(e.Token),
		"total":  amountString(e.Total),
		"delta":  amountString(e.Delta),
		"reason": e.Reason(),
	}
	if !e.Account.IsZero() {
		attrs["account"] = e.Account.String()
	}
	return &types.Event{Type: TypeTokenSupply, Attributes: attrs}
}
