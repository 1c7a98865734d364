package config

import (
	"math/big"
	"time"
)

// Genesis describes the initial ledger: registered tokens, funded accounts,
// seeded pairs and the markets the router serves.
type Genesis struct {
	ChainID       uint64 `toml:"ChainID"`
	NativeSymbol  string `toml:"NativeSymbol"`
	WrappedSymbol string `toml:"WrappedSymbol"`
	GenesisTime   string `toml:"GenesisTime"`

	Tokens   []TokenSpec   `toml:"Tokens"`
	Balances []BalanceSpec `toml:"Balances"`
	Pairs    []PairSpec    `toml:"Pairs"`
	Markets  []MarketSpec  `toml:"Markets"`
	Supplies []SupplySpec  `toml:"Supplies"`

	// Allowances pre-approve the router to move owner funds for supply,
	// repay and collateral deposits.
	Allowances []AllowanceSpec `toml:"Allowances"`

	genesisTimestamp time.Time
}

type TokenSpec struct {
	Symbol   string `toml:"Symbol"`
	Name     string `toml:"Name"`
	Decimals uint8  `toml:"Decimals"`
}

// BalanceSpec credits Amount of Symbol to Address. Balances in the wrapped
// token are minted as native currency and wrapped so the reserve stays backed.
type BalanceSpec struct {
	Address string `toml:"Address"`
	Symbol  string `toml:"Symbol"`
	Amount  string `toml:"Amount"`

	amount *big.Int
}

// PairSpec creates a constant-product pair. When amounts are set the provider
// deposits them as the initial reserves.
type PairSpec struct {
	AssetA   string `toml:"AssetA"`
	AssetB   string `toml:"AssetB"`
	LP       string `toml:"LP"`
	Provider string `toml:"Provider"`
	AmountA  string `toml:"AmountA"`
	AmountB  string `toml:"AmountB"`

	amountA *big.Int
	amountB *big.Int
}

type InterestSpec struct {
	BaseRate float64 `toml:"BaseRate"`
	Slope1   float64 `toml:"Slope1"`
	Slope2   float64 `toml:"Slope2"`
	Kink     float64 `toml:"Kink"`
}

type CapsSpec struct {
	Total          string `toml:"Total"`
	UtilisationBps uint64 `toml:"UtilisationBps"`

	total *big.Int
}

type MarketSpec struct {
	ID        string        `toml:"ID"`
	AssetA    string        `toml:"AssetA"`
	AssetB    string        `toml:"AssetB"`
	LP        string        `toml:"LP"`
	Share     string        `toml:"Share"`
	MaxLTVBps uint64        `toml:"MaxLTVBps"`
	InterestA *InterestSpec `toml:"InterestA,omitempty"`
	InterestB *InterestSpec `toml:"InterestB,omitempty"`
	CapsA     CapsSpec      `toml:"CapsA"`
	CapsB     CapsSpec      `toml:"CapsB"`
}

// SupplySpec deposits lender funds into one side of a market's lending pools.
type SupplySpec struct {
	Market string `toml:"Market"`
	Side   string `toml:"Side"`
	Lender string `toml:"Lender"`
	Amount string `toml:"Amount"`

	amount *big.Int
}

// AllowanceSpec grants the router an allowance over Owner's Symbol balance.
// Amount "max" grants the non-decreasing maximum allowance.
type AllowanceSpec struct {
	Owner  string `toml:"Owner"`
	Symbol string `toml:"Symbol"`
	Amount string `toml:"Amount"`

	amount *big.Int
	max    bool
}
