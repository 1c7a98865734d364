package genesis

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"lpvault/config"
	"lpvault/core"
	"lpvault/crypto"
	"lpvault/native/lending"
	"lpvault/native/router"
	"lpvault/native/token"
	"lpvault/storage"
)

var (
	provider = crypto.NewAddress(crypto.AccountPrefix, bytes.Repeat([]byte{0x01}, 20))
	lender   = crypto.NewAddress(crypto.AccountPrefix, bytes.Repeat([]byte{0x02}, 20))
)

func testGenesis(t *testing.T) *config.Genesis {
	t.Helper()
	g := &config.Genesis{
		ChainID:       5,
		NativeSymbol:  "ETH",
		WrappedSymbol: "WETH",
		Tokens:        []config.TokenSpec{{Symbol: "UNI", Name: "Uniswap", Decimals: 18}},
		Balances: []config.BalanceSpec{
			{Address: provider.String(), Symbol: "UNI", Amount: "4000000"},
			{Address: provider.String(), Symbol: "WETH", Amount: "1000000"},
			{Address: lender.String(), Symbol: "UNI", Amount: "100000000"},
			{Address: lender.String(), Symbol: "WETH", Amount: "50000000"},
			{Address: lender.String(), Symbol: "ETH", Amount: "7"},
		},
		Pairs: []config.PairSpec{{
			AssetA: "UNI", AssetB: "WETH", LP: "UNI-WETH-LP",
			Provider: provider.String(), AmountA: "4000000", AmountB: "1000000",
		}},
		Markets: []config.MarketSpec{{
			ID: "uni-weth", AssetA: "UNI", AssetB: "WETH", LP: "UNI-WETH-LP", Share: "UNI-WETH-C",
			InterestA: &config.InterestSpec{BaseRate: 0.02, Slope1: 0.1, Slope2: 0.5, Kink: 0.8},
			CapsB:     config.CapsSpec{Total: "25000000"},
		}},
		Supplies: []config.SupplySpec{
			{Market: "uni-weth", Side: "A", Lender: lender.String(), Amount: "100000000"},
			{Market: "uni-weth", Side: "B", Lender: lender.String(), Amount: "50000000"},
		},
		Allowances: []config.AllowanceSpec{
			{Owner: provider.String(), Symbol: "UNI-WETH-LP", Amount: "max"},
			{Owner: lender.String(), Symbol: "eth", Amount: "5"},
		},
	}
	require.NoError(t, g.Validate())
	return g
}

func newLedger(t *testing.T) *core.Ledger {
	t.Helper()
	db, err := storage.NewMemDB()
	require.NoError(t, err)
	ledger := core.NewLedger(db, nil)
	t.Cleanup(func() { ledger.Close() })
	return ledger
}

func TestApplySeedsLedger(t *testing.T) {
	ctx := context.Background()
	ledger := newLedger(t)
	g := testGenesis(t)

	seeded, err := Initialised(ctx, ledger)
	require.NoError(t, err)
	require.False(t, seeded)
	require.NoError(t, Apply(ctx, ledger, g))

	markets := Markets(g)
	require.Len(t, markets, 1)
	require.Nil(t, markets[0].InterestB)
	require.Equal(t, int64(25_000_000), markets[0].CapsB.Total.Int64())
	require.Nil(t, markets[0].CapsA.Total)

	require.NoError(t, ledger.View(ctx, func(tx *core.Tx) error {
		meta, err := tx.State.Token("ETH")
		require.NoError(t, err)
		require.True(t, meta.Native)
		for _, symbol := range []string{"UNI", "WETH", "UNI-WETH-LP", "UNI-WETH-C"} {
			require.True(t, tx.State.TokenExists(symbol), symbol)
		}

		lp, err := tx.State.Balance(provider, "UNI-WETH-LP")
		require.NoError(t, err)
		require.Equal(t, int64(1_999_000), lp.Int64())

		tokens := token.NewEngine()
		tokens.SetState(tx.State)
		wrapper := token.NewWrapper(tokens, "ETH", "WETH")
		reserve, err := tx.State.Balance(wrapper.Reserve(), "ETH")
		require.NoError(t, err)
		require.Equal(t, int64(51_000_000), reserve.Int64())
		eth, err := tx.State.Balance(lender, "ETH")
		require.NoError(t, err)
		require.Equal(t, int64(7), eth.Int64())

		lpAllowance, err := tx.State.Allowance(provider, router.Address(), "UNI-WETH-LP")
		require.NoError(t, err)
		require.Equal(t, 0, lpAllowance.Cmp(token.MaxAllowance))
		ethAllowance, err := tx.State.Allowance(lender, router.Address(), "ETH")
		require.NoError(t, err)
		require.Equal(t, int64(5), ethAllowance.Int64())

		for side, want := range map[router.Side]int64{router.SideA: 100_000_000, router.SideB: 50_000_000} {
			pool := lending.NewEngine(markets[0].Asset(side), tokens)
			pool.SetPoolID(router.PoolID(markets[0], side))
			pool.SetState(tx.State)
			shares, err := pool.SharesOf(lender)
			require.NoError(t, err)
			require.Equal(t, want, shares.Int64())
			cash, err := tx.State.Balance(pool.Address(), markets[0].Asset(side))
			require.NoError(t, err)
			require.Equal(t, want, cash.Int64())
		}
		return nil
	}))

	seeded, err = Initialised(ctx, ledger)
	require.NoError(t, err)
	require.True(t, seeded)
	require.ErrorIs(t, Apply(ctx, ledger, g), ErrAlreadyInitialised)
}

func TestApplyRollsBackOnFailure(t *testing.T) {
	ctx := context.Background()
	ledger := newLedger(t)
	g := testGenesis(t)
	g.Supplies[0].Amount = "200000000"
	require.NoError(t, g.Validate())

	require.Error(t, Apply(ctx, ledger, g))
	seeded, err := Initialised(ctx, ledger)
	require.NoError(t, err)
	require.False(t, seeded)
}

func TestRouterServesGenesisMarkets(t *testing.T) {
	ctx := context.Background()
	ledger := newLedger(t)
	g := testGenesis(t)
	require.NoError(t, Apply(ctx, ledger, g))

	r, err := router.New(ledger, RouterConfig(g), Markets(g))
	require.NoError(t, err)
	require.Equal(t, uint64(5), r.Config().ChainID)

	pos, err := r.Position(ctx, "uni-weth", provider)
	require.NoError(t, err)
	require.Zero(t, pos.Shares.Sign())
	require.Zero(t, pos.DebtA.Sign())
	require.Zero(t, pos.DebtB.Sign())
}
