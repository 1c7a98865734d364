package amm

import (
	"errors"
	"math/big"

	"lpvault/native/common"
)

const (
	moduleName = common.ModuleAMM

	// MinimumLiquidity is locked forever on the first deposit into a pair.
	MinimumLiquidity = 1000
	// FeeBps is the swap fee charged on the input amount.
	FeeBps = 30
)

var (
	errNilState = errors.New("amm: state not configured")

	ErrUnknownPair                 = errors.New("amm: unknown pair")
	ErrPairExists                  = errors.New("amm: pair already exists")
	ErrIdenticalAssets             = errors.New("amm: identical assets")
	ErrUnknownAsset                = errors.New("amm: asset not in pair")
	ErrInsufficientAmount          = errors.New("amm: insufficient amount")
	ErrInsufficientAAmount         = errors.New("amm: insufficient A amount")
	ErrInsufficientBAmount         = errors.New("amm: insufficient B amount")
	ErrInsufficientLiquidity       = errors.New("amm: insufficient liquidity")
	ErrInsufficientLiquidityMinted = errors.New("amm: insufficient liquidity minted")
	ErrInsufficientLiquidityBurned = errors.New("amm: insufficient liquidity burned")
	ErrInsufficientInputAmount     = errors.New("amm: insufficient input amount")
	ErrInsufficientOutput          = errors.New("amm: insufficient output amount")
	ErrOverflow                    = errors.New("amm: arithmetic overflow")
)

// Pair is the persisted record of a constant-product pair. Token0 sorts before
// Token1 and the reserves follow that order.
type Pair struct {
	LP       string
	Token0   string
	Token1   string
	Reserve0 *big.Int
	Reserve1 *big.Int
}

func (p *Pair) ensureDefaults() {
	if p.Reserve0 == nil {
		p.Reserve0 = big.NewInt(0)
	}
	if p.Reserve1 == nil {
		p.Reserve1 = big.NewInt(0)
	}
}
