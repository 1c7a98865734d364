package amm

import (
	"fmt"
	"math/big"

	"lpvault/core/state"
	"lpvault/crypto"
	"lpvault/native/common"
	"lpvault/native/token"
)

type engineState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	TokenExists(symbol string) bool
}

// Engine manages constant-product pairs. Pair funds sit in a module account per
// pair and LP tokens are ordinary fungible tokens.
type Engine struct {
	state  engineState
	tokens *token.Engine
	pauses common.PauseView
}

// NewEngine creates an AMM engine moving funds through tokens.
func NewEngine(tokens *token.Engine) *Engine {
	return &Engine{tokens: tokens}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(st engineState) { e.state = st }

// SetPauses wires the pause view consulted before mutations.
func (e *Engine) SetPauses(p common.PauseView) { e.pauses = p }

// PairAddress returns the module account holding the reserves of lp.
func PairAddress(lp string) crypto.Address {
	return crypto.ModuleAddress("amm/" + state.NormalizeSymbol(lp))
}

// LockedLiquidityAddress receives the minimum liquidity burned on bootstrap.
func LockedLiquidityAddress() crypto.Address {
	return crypto.ModuleAddress("amm/locked")
}

func pairKey(lp string) []byte {
	return []byte("amm/pair/" + state.NormalizeSymbol(lp))
}

// SortAssets returns the canonical storage order of two symbols.
func SortAssets(a, b string) (string, string) {
	a, b = state.NormalizeSymbol(a), state.NormalizeSymbol(b)
	if b < a {
		return b, a
	}
	return a, b
}

// CreatePair registers an empty pair. The LP token symbol must already be
// registered with the token engine.
func (e *Engine) CreatePair(assetA, assetB, lp string) (*Pair, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	token0, token1 := SortAssets(assetA, assetB)
	if token0 == token1 {
		return nil, ErrIdenticalAssets
	}
	lp = state.NormalizeSymbol(lp)
	for _, symbol := range []string{token0, token1, lp} {
		if !e.state.TokenExists(symbol) {
			return nil, fmt.Errorf("%w: %s", token.ErrUnknownToken, symbol)
		}
	}
	existing := new(Pair)
	ok, err := e.state.KVGet(pairKey(lp), existing)
	if err != nil {
		return nil, err
	}
	if ok {
		return nil, ErrPairExists
	}
	pair := &Pair{LP: lp, Token0: token0, Token1: token1}
	pair.ensureDefaults()
	if err := e.state.KVPut(pairKey(lp), pair); err != nil {
		return nil, err
	}
	return pair, nil
}

// Pair loads the pair record for lp.
func (e *Engine) Pair(lp string) (*Pair, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	pair := new(Pair)
	ok, err := e.state.KVGet(pairKey(lp), pair)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPair, lp)
	}
	pair.ensureDefaults()
	return pair, nil
}

func (e *Engine) storePair(pair *Pair) error {
	return e.state.KVPut(pairKey(pair.LP), pair)
}

// Pool returns a view of the pair oriented so that assetA comes first. The
// orientation only affects argument and result order, never storage.
func (e *Engine) Pool(lp, assetA, assetB string) (*Pool, error) {
	pair, err := e.Pair(lp)
	if err != nil {
		return nil, err
	}
	a, b := state.NormalizeSymbol(assetA), state.NormalizeSymbol(assetB)
	switch {
	case a == pair.Token0 && b == pair.Token1:
		return &Pool{engine: e, lp: pair.LP, assetA: a, assetB: b}, nil
	case a == pair.Token1 && b == pair.Token0:
		return &Pool{engine: e, lp: pair.LP, assetA: a, assetB: b, flipped: true}, nil
	default:
		return nil, fmt.Errorf("%w: %s/%s for %s", ErrUnknownAsset, assetA, assetB, pair.LP)
	}
}

func (e *Engine) guard() error {
	return common.Guard(e.pauses, moduleName)
}

// Pool is a pair seen from the caller's asset order.
type Pool struct {
	engine  *Engine
	lp      string
	assetA  string
	assetB  string
	flipped bool
}

// LP returns the LP token symbol of the pool.
func (p *Pool) LP() string { return p.lp }

// Address returns the account holding the pool reserves.
func (p *Pool) Address() crypto.Address { return PairAddress(p.lp) }

func (p *Pool) orient(x0, x1 *big.Int) (*big.Int, *big.Int) {
	if p.flipped {
		return x1, x0
	}
	return x0, x1
}

// Reserves returns the reserves in caller order.
func (p *Pool) Reserves() (*big.Int, *big.Int, error) {
	pair, err := p.engine.Pair(p.lp)
	if err != nil {
		return nil, nil, err
	}
	ra, rb := p.orient(pair.Reserve0, pair.Reserve1)
	return new(big.Int).Set(ra), new(big.Int).Set(rb), nil
}

// TotalLiquidity returns the outstanding LP supply including locked liquidity.
func (p *Pool) TotalLiquidity() (*big.Int, error) {
	return p.engine.tokens.TotalSupply(p.lp)
}

// OptimalAmounts returns the largest deposit not exceeding the desired amounts
// that matches the current reserve ratio. An empty pool accepts the desired
// amounts as is.
func (p *Pool) OptimalAmounts(amountADesired, amountBDesired, amountAMin, amountBMin *big.Int) (*big.Int, *big.Int, error) {
	reserveA, reserveB, err := p.Reserves()
	if err != nil {
		return nil, nil, err
	}
	if amountAMin == nil {
		amountAMin = big.NewInt(0)
	}
	if amountBMin == nil {
		amountBMin = big.NewInt(0)
	}
	if reserveA.Sign() == 0 && reserveB.Sign() == 0 {
		return new(big.Int).Set(amountADesired), new(big.Int).Set(amountBDesired), nil
	}
	amountBOptimal, err := Quote(amountADesired, reserveA, reserveB)
	if err != nil {
		return nil, nil, err
	}
	if amountBOptimal.Cmp(amountBDesired) <= 0 {
		if amountBOptimal.Cmp(amountBMin) < 0 {
			return nil, nil, ErrInsufficientBAmount
		}
		return new(big.Int).Set(amountADesired), amountBOptimal, nil
	}
	amountAOptimal, err := Quote(amountBDesired, reserveB, reserveA)
	if err != nil {
		return nil, nil, err
	}
	if amountAOptimal.Cmp(amountADesired) > 0 {
		return nil, nil, ErrInsufficientAAmount
	}
	if amountAOptimal.Cmp(amountAMin) < 0 {
		return nil, nil, ErrInsufficientAAmount
	}
	return amountAOptimal, new(big.Int).Set(amountBDesired), nil
}

// AddLiquidity pulls amountA and amountB from provider and mints LP to
// recipient. Amounts off the reserve ratio are accepted and the surplus
// accrues to existing liquidity providers.
func (p *Pool) AddLiquidity(provider crypto.Address, amountA, amountB *big.Int, recipient crypto.Address) (*big.Int, error) {
	e := p.engine
	if err := e.guard(); err != nil {
		return nil, err
	}
	if amountA == nil || amountB == nil || amountA.Sign() < 0 || amountB.Sign() < 0 {
		return nil, ErrInsufficientAmount
	}
	pair, err := e.Pair(p.lp)
	if err != nil {
		return nil, err
	}
	amount0, amount1 := p.orient(amountA, amountB)
	totalSupply, err := e.tokens.TotalSupply(pair.LP)
	if err != nil {
		return nil, err
	}

	var liquidity *big.Int
	if totalSupply.Sign() == 0 {
		root, err := initialLiquidity(amount0, amount1)
		if err != nil {
			return nil, err
		}
		liquidity = root.Sub(root, big.NewInt(MinimumLiquidity))
		if liquidity.Sign() <= 0 {
			return nil, ErrInsufficientLiquidityMinted
		}
		if err := e.tokens.Mint(LockedLiquidityAddress(), pair.LP, big.NewInt(MinimumLiquidity)); err != nil {
			return nil, err
		}
	} else {
		l0, err := mulDiv(amount0, totalSupply, pair.Reserve0)
		if err != nil {
			return nil, err
		}
		l1, err := mulDiv(amount1, totalSupply, pair.Reserve1)
		if err != nil {
			return nil, err
		}
		liquidity = minBig(l0, l1)
		if liquidity.Sign() <= 0 {
			return nil, ErrInsufficientLiquidityMinted
		}
	}

	pairAddr := PairAddress(pair.LP)
	if err := e.tokens.Transfer(provider, pairAddr, pair.Token0, amount0); err != nil {
		return nil, err
	}
	if err := e.tokens.Transfer(provider, pairAddr, pair.Token1, amount1); err != nil {
		return nil, err
	}
	if err := e.tokens.Mint(recipient, pair.LP, liquidity); err != nil {
		return nil, err
	}
	pair.Reserve0 = new(big.Int).Add(pair.Reserve0, amount0)
	pair.Reserve1 = new(big.Int).Add(pair.Reserve1, amount1)
	if err := e.storePair(pair); err != nil {
		return nil, err
	}
	return liquidity, nil
}

// RemoveLiquidity burns liquidity LP tokens held by holder and pays the
// proportional share of both reserves to recipient, returned in caller order.
func (p *Pool) RemoveLiquidity(holder crypto.Address, liquidity *big.Int, recipient crypto.Address) (*big.Int, *big.Int, error) {
	e := p.engine
	if err := e.guard(); err != nil {
		return nil, nil, err
	}
	if liquidity == nil || liquidity.Sign() <= 0 {
		return nil, nil, ErrInsufficientLiquidityBurned
	}
	pair, err := e.Pair(p.lp)
	if err != nil {
		return nil, nil, err
	}
	totalSupply, err := e.tokens.TotalSupply(pair.LP)
	if err != nil {
		return nil, nil, err
	}
	if totalSupply.Sign() == 0 {
		return nil, nil, ErrInsufficientLiquidity
	}
	amount0, err := mulDiv(liquidity, pair.Reserve0, totalSupply)
	if err != nil {
		return nil, nil, err
	}
	amount1, err := mulDiv(liquidity, pair.Reserve1, totalSupply)
	if err != nil {
		return nil, nil, err
	}
	if amount0.Sign() == 0 || amount1.Sign() == 0 {
		return nil, nil, ErrInsufficientLiquidityBurned
	}
	if err := e.tokens.Burn(holder, pair.LP, liquidity); err != nil {
		return nil, nil, err
	}
	pairAddr := PairAddress(pair.LP)
	if err := e.tokens.Transfer(pairAddr, recipient, pair.Token0, amount0); err != nil {
		return nil, nil, err
	}
	if err := e.tokens.Transfer(pairAddr, recipient, pair.Token1, amount1); err != nil {
		return nil, nil, err
	}
	pair.Reserve0 = new(big.Int).Sub(pair.Reserve0, amount0)
	pair.Reserve1 = new(big.Int).Sub(pair.Reserve1, amount1)
	if err := e.storePair(pair); err != nil {
		return nil, nil, err
	}
	amountA, amountB := p.orient(amount0, amount1)
	return amountA, amountB, nil
}

// Swap sells amountIn of tokenIn from trader and pays the other asset to
// recipient. The output must reach minOut.
func (p *Pool) Swap(trader crypto.Address, tokenIn string, amountIn, minOut *big.Int, recipient crypto.Address) (*big.Int, error) {
	e := p.engine
	if err := e.guard(); err != nil {
		return nil, err
	}
	pair, err := e.Pair(p.lp)
	if err != nil {
		return nil, err
	}
	tokenIn = state.NormalizeSymbol(tokenIn)
	var tokenOut string
	var reserveIn, reserveOut *big.Int
	switch tokenIn {
	case pair.Token0:
		tokenOut, reserveIn, reserveOut = pair.Token1, pair.Reserve0, pair.Reserve1
	case pair.Token1:
		tokenOut, reserveIn, reserveOut = pair.Token0, pair.Reserve1, pair.Reserve0
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownAsset, tokenIn)
	}
	amountOut, err := AmountOut(amountIn, reserveIn, reserveOut)
	if err != nil {
		return nil, err
	}
	if minOut != nil && amountOut.Cmp(minOut) < 0 {
		return nil, fmt.Errorf("%w: got %s want %s", ErrInsufficientOutput, amountOut, minOut)
	}
	if amountOut.Cmp(reserveOut) >= 0 {
		return nil, ErrInsufficientLiquidity
	}
	pairAddr := PairAddress(pair.LP)
	if err := e.tokens.Transfer(trader, pairAddr, tokenIn, amountIn); err != nil {
		return nil, err
	}
	if err := e.tokens.Transfer(pairAddr, recipient, tokenOut, amountOut); err != nil {
		return nil, err
	}
	newIn := new(big.Int).Add(reserveIn, amountIn)
	newOut := new(big.Int).Sub(reserveOut, amountOut)
	if tokenIn == pair.Token0 {
		pair.Reserve0, pair.Reserve1 = newIn, newOut
	} else {
		pair.Reserve0, pair.Reserve1 = newOut, newIn
	}
	if err := e.storePair(pair); err != nil {
		return nil, err
	}
	return amountOut, nil
}
