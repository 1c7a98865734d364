package config

import (
	"fmt"
	"strings"

	"github.com/btcsuite/btcutil/bech32"

	"lpvault/crypto"
)

// ParseAccount decodes a bech32 account address. Only the account prefix is
// accepted; module accounts cannot be funded or named in genesis.
func ParseAccount(addr string) (crypto.Address, error) {
	hrp, data, err := bech32.Decode(strings.TrimSpace(addr))
	if err != nil {
		return crypto.Address{}, fmt.Errorf("decode bech32 account: %w", err)
	}
	if hrp != string(crypto.AccountPrefix) {
		return crypto.Address{}, fmt.Errorf("decode bech32 account: unsupported hrp %q", hrp)
	}
	decoded, err := bech32.ConvertBits(data, 5, 8, false)
	if err != nil {
		return crypto.Address{}, fmt.Errorf("decode bech32 account: %w", err)
	}
	if len(decoded) != 20 {
		return crypto.Address{}, fmt.Errorf("decode bech32 account: invalid address length %d", len(decoded))
	}
	return crypto.NewAddress(crypto.AccountPrefix, decoded), nil
}
