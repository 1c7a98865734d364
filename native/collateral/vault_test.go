package collateral

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"lpvault/core/state"
	"lpvault/crypto"
	"lpvault/native/amm"
	nativecommon "lpvault/native/common"
	"lpvault/native/lending"
	"lpvault/native/permit"
	"lpvault/native/token"
	"lpvault/storage"
)

func makeAddress(b byte) crypto.Address {
	raw := make([]byte, 20)
	raw[0] = 0xcc
	raw[19] = b
	return crypto.NewAddress(crypto.AccountPrefix, raw)
}

type testEnv struct {
	mgr    *state.Manager
	tokens *token.Engine
	poolA  *lending.Engine
	poolB  *lending.Engine
	vault  *Vault
}

// newTestEnv builds a UNI/WETH pair holding 1e6 of each asset, two lending
// pools with 5e6 cash each and a vault wired as their collateral checker. The
// borrower owns the 999,000 LP minted by the initial deposit.
func newTestEnv(t *testing.T, borrower crypto.Address) *testEnv {
	t.Helper()
	db, err := storage.NewMemDB()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	mgr := state.NewManager(db)
	for _, symbol := range []string{"UNI", "WETH", "UNI-WETH-LP", "UNI-WETH-C"} {
		require.NoError(t, mgr.RegisterToken(state.TokenMetadata{Symbol: symbol, Decimals: 18}))
	}
	tokens := token.NewEngine()
	tokens.SetState(mgr)

	dex := amm.NewEngine(tokens)
	dex.SetState(mgr)
	_, err = dex.CreatePair("UNI", "WETH", "UNI-WETH-LP")
	require.NoError(t, err)
	pool, err := dex.Pool("UNI-WETH-LP", "UNI", "WETH")
	require.NoError(t, err)
	require.NoError(t, tokens.Mint(borrower, "UNI", big.NewInt(1_000_000)))
	require.NoError(t, tokens.Mint(borrower, "WETH", big.NewInt(1_000_000)))
	lp, err := pool.AddLiquidity(borrower, big.NewInt(1_000_000), big.NewInt(1_000_000), borrower)
	require.NoError(t, err)
	require.Equal(t, int64(999_000), lp.Int64())

	vault := NewVault(Config{ShareSymbol: "uni-weth-c", AssetA: "uni", AssetB: "weth"}, tokens, pool)
	vault.SetPermits(permit.NewVerifier(mgr), 1)

	lender := makeAddress(0xee)
	pools := make([]*lending.Engine, 0, 2)
	for _, asset := range []string{"UNI", "WETH"} {
		engine := lending.NewEngine(asset, tokens)
		engine.SetState(mgr)
		engine.SetCollateralChecker(vault)
		require.NoError(t, tokens.Mint(lender, asset, big.NewInt(5_000_000)))
		_, err := engine.Supply(lender, big.NewInt(5_000_000))
		require.NoError(t, err)
		pools = append(pools, engine)
	}
	vault.SetDebtSources(pools[0], pools[1])
	return &testEnv{mgr: mgr, tokens: tokens, poolA: pools[0], poolB: pools[1], vault: vault}
}

func (env *testEnv) balance(t *testing.T, addr crypto.Address, symbol string) int64 {
	t.Helper()
	bal, err := env.tokens.BalanceOf(addr, symbol)
	require.NoError(t, err)
	return bal.Int64()
}

func TestMintIssuesSharesAtExchangeRate(t *testing.T) {
	borrower := makeAddress(1)
	env := newTestEnv(t, borrower)

	shares, err := env.vault.Mint(borrower, big.NewInt(500_000), borrower)
	require.NoError(t, err)
	require.Equal(t, int64(500_000), shares.Int64())

	other := makeAddress(2)
	shares, err = env.vault.Mint(borrower, big.NewInt(499_000), other)
	require.NoError(t, err)
	require.Equal(t, int64(499_000), shares.Int64())
	require.Equal(t, int64(499_000), env.balance(t, other, "UNI-WETH-C"))
	require.Equal(t, int64(999_000), env.balance(t, env.vault.Address(), "UNI-WETH-LP"))
	require.Equal(t, int64(0), env.balance(t, borrower, "UNI-WETH-LP"))

	_, err = env.vault.Mint(borrower, big.NewInt(1), borrower)
	require.ErrorIs(t, err, token.ErrInsufficientBalance)
}

func TestBorrowBoundedByLoanToValue(t *testing.T) {
	borrower := makeAddress(1)
	env := newTestEnv(t, borrower)
	_, err := env.vault.Mint(borrower, big.NewInt(999_000), borrower)
	require.NoError(t, err)

	val, err := env.vault.Valuation(borrower)
	require.NoError(t, err)
	require.Equal(t, int64(1_998_000), val.CollateralValue.Int64())

	require.NoError(t, env.poolB.Borrow(borrower, borrower, borrower, big.NewInt(1_000_000), nil))
	surplus, shortfall, err := env.vault.AccountLiquidity(borrower)
	require.NoError(t, err)
	require.Equal(t, int64(798_200), surplus.Int64())
	require.Zero(t, shortfall.Sign())

	ok, err := env.vault.CanBorrow(borrower, "UNI", big.NewInt(798_200))
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = env.vault.CanBorrow(borrower, "UNI", big.NewInt(798_201))
	require.NoError(t, err)
	require.False(t, ok)

	err = env.poolA.Borrow(borrower, borrower, borrower, big.NewInt(800_000), nil)
	require.ErrorIs(t, err, lending.ErrInsufficientLiquidity)
}

func TestCanBorrowRejectsUnknownAsset(t *testing.T) {
	borrower := makeAddress(1)
	env := newTestEnv(t, borrower)
	_, err := env.vault.CanBorrow(borrower, "DAI", big.NewInt(1))
	require.ErrorIs(t, err, ErrUnknownAsset)
}

func TestFlashRedeemChecksHealthAfterCallback(t *testing.T) {
	borrower := makeAddress(1)
	env := newTestEnv(t, borrower)
	_, err := env.vault.Mint(borrower, big.NewInt(999_000), borrower)
	require.NoError(t, err)
	require.NoError(t, env.poolB.Borrow(borrower, borrower, borrower, big.NewInt(1_000_000), nil))

	var paid int64
	lp, err := env.vault.FlashRedeem(borrower, borrower, big.NewInt(999_000), borrower, func(lp *big.Int) error {
		paid = lp.Int64()
		_, _, err := env.poolB.Repay(borrower, borrower, big.NewInt(1_000_000))
		return err
	})
	require.NoError(t, err)
	require.Equal(t, int64(999_000), lp.Int64())
	require.Equal(t, int64(999_000), paid)
	require.Equal(t, int64(999_000), env.balance(t, borrower, "UNI-WETH-LP"))
	require.Equal(t, int64(0), env.balance(t, borrower, "UNI-WETH-C"))
}

func TestFlashRedeemWithoutRepayFails(t *testing.T) {
	borrower := makeAddress(1)
	env := newTestEnv(t, borrower)
	_, err := env.vault.Mint(borrower, big.NewInt(999_000), borrower)
	require.NoError(t, err)
	require.NoError(t, env.poolB.Borrow(borrower, borrower, borrower, big.NewInt(1_000_000), nil))

	_, err = env.vault.FlashRedeem(borrower, borrower, big.NewInt(999_000), borrower, nil)
	require.ErrorIs(t, err, ErrInsufficientLiquidity)
}

func TestFlashRedeemSpendsAllowance(t *testing.T) {
	borrower := makeAddress(1)
	router := crypto.ModuleAddress("router")
	env := newTestEnv(t, borrower)
	_, err := env.vault.Mint(borrower, big.NewInt(999_000), borrower)
	require.NoError(t, err)

	_, err = env.vault.FlashRedeem(router, borrower, big.NewInt(1_000), router, nil)
	require.ErrorIs(t, err, ErrTransferNotAllowed)

	require.NoError(t, env.vault.Approve(borrower, router, big.NewInt(1_000)))
	_, err = env.vault.FlashRedeem(router, borrower, big.NewInt(1_001), router, nil)
	require.ErrorIs(t, err, ErrTransferNotAllowed)

	lp, err := env.vault.FlashRedeem(router, borrower, big.NewInt(1_000), router, nil)
	require.NoError(t, err)
	require.Equal(t, int64(1_000), lp.Int64())
	allowance, err := env.vault.Allowance(borrower, router)
	require.NoError(t, err)
	require.Zero(t, allowance.Sign())

	require.NoError(t, env.vault.Approve(borrower, router, token.MaxAllowance))
	_, err = env.vault.FlashRedeem(router, borrower, big.NewInt(998_001), router, nil)
	require.ErrorIs(t, err, ErrInsufficientCollateral)
}

func TestTransferKeepsSenderHealthy(t *testing.T) {
	borrower := makeAddress(1)
	other := makeAddress(2)
	env := newTestEnv(t, borrower)
	_, err := env.vault.Mint(borrower, big.NewInt(999_000), borrower)
	require.NoError(t, err)
	require.NoError(t, env.poolB.Borrow(borrower, borrower, borrower, big.NewInt(1_000_000), nil))

	require.NoError(t, env.vault.Transfer(borrower, other, big.NewInt(100_000)))
	require.Equal(t, int64(100_000), env.balance(t, other, "UNI-WETH-C"))

	err = env.vault.TransferFrom(other, borrower, other, big.NewInt(1))
	require.ErrorIs(t, err, ErrTransferNotAllowed)

	err = env.vault.Transfer(borrower, other, big.NewInt(400_000))
	require.ErrorIs(t, err, ErrInsufficientLiquidity)
}

func TestApplyPermitSetsShareAllowance(t *testing.T) {
	borrower := makeAddress(1)
	env := newTestEnv(t, borrower)
	key, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	signer := permit.NewSigner(key)
	router := crypto.ModuleAddress("router")
	now := time.Unix(1_700_000_000, 0)

	signed, err := signer.Sign(permit.KindPermit, env.vault.PermitDomain(), permit.Permit{
		Spender:  router,
		Value:    big.NewInt(42),
		Deadline: uint64(now.Unix()) + 60,
	}, 0)
	require.NoError(t, err)
	require.NoError(t, env.vault.ApplyPermit(signed, now))
	allowance, err := env.vault.Allowance(signer.Address(), router)
	require.NoError(t, err)
	require.Equal(t, int64(42), allowance.Int64())

	err = env.vault.ApplyPermit(signed, now)
	require.True(t, errors.Is(err, permit.ErrPermitSignature))

	late, err := signer.Sign(permit.KindPermit, env.vault.PermitDomain(), permit.Permit{
		Spender:  router,
		Value:    big.NewInt(1),
		Deadline: uint64(now.Unix()) - 1,
	}, 1)
	require.NoError(t, err)
	require.ErrorIs(t, env.vault.ApplyPermit(late, now), permit.ErrPermitExpired)
}

func TestPausedVaultRejectsMint(t *testing.T) {
	borrower := makeAddress(1)
	env := newTestEnv(t, borrower)
	env.vault.SetPauses(env.mgr)
	require.NoError(t, env.mgr.SetModulePaused(nativecommon.ModuleCollateral, true))
	_, err := env.vault.Mint(borrower, big.NewInt(1_000), borrower)
	require.ErrorIs(t, err, nativecommon.ErrModulePaused)
}
