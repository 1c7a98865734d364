package router

import (
	"context"
	"io"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"lpvault/core"
	"lpvault/core/events"
	"lpvault/core/state"
	"lpvault/crypto"
	"lpvault/native/amm"
	"lpvault/native/permit"
	"lpvault/native/token"
	"lpvault/storage"
)

const (
	testMarket        = "uni-weth"
	testFlippedMarket = "weth-uni"
)

type recorder struct {
	events []events.Event
}

func (r *recorder) Emit(evt events.Event) { r.events = append(r.events, evt) }

func (r *recorder) types() []string {
	out := make([]string, 0, len(r.events))
	for _, evt := range r.events {
		out = append(out, evt.EventType())
	}
	return out
}

// fixture is a UNI/WETH pair holding 4.4M UNI and 1.1M WETH (2.2M LP), two
// markets over it and lending pools for the main market with 100M of each
// asset. The borrower holds 200,000 collateral shares and no debt; the
// provider holds 1,999,000 LP.
type fixture struct {
	ctx      context.Context
	ledger   *core.Ledger
	router   *Router
	events   *recorder
	now      time.Time
	signer   *permit.Signer
	borrower crypto.Address
	provider crypto.Address
	lender   crypto.Address
}

func testAddress(b byte) crypto.Address {
	raw := make([]byte, 20)
	raw[0] = 0xaa
	raw[19] = b
	return crypto.NewAddress(crypto.AccountPrefix, raw)
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := storage.NewMemDB()
	require.NoError(t, err)
	rec := &recorder{}
	ledger := core.NewLedger(db, rec)
	t.Cleanup(func() { ledger.Close() })
	now := time.Unix(1_700_000_000, 0).UTC()
	ledger.SetClock(func() time.Time { return now })

	key, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	signer := permit.NewSigner(key)

	markets := []Market{
		{ID: testMarket, AssetA: "UNI", AssetB: "WETH", LP: "UNI-WETH-LP", Share: "UNI-WETH-C"},
		{ID: testFlippedMarket, AssetA: "WETH", AssetB: "UNI", LP: "UNI-WETH-LP", Share: "WETH-UNI-C"},
	}
	r, err := New(ledger, Config{ChainID: 1, NativeSymbol: "ETH", WrappedSymbol: "WETH"}, markets)
	require.NoError(t, err)
	r.SetLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))

	f := &fixture{
		ctx:      context.Background(),
		ledger:   ledger,
		router:   r,
		events:   rec,
		now:      now,
		signer:   signer,
		borrower: signer.Address(),
		provider: testAddress(1),
		lender:   testAddress(2),
	}
	f.seed(t)
	rec.events = nil
	return f
}

func (f *fixture) seed(t *testing.T) {
	t.Helper()
	f.exec(t, testMarket, func(tx *core.Tx, b *binding) error {
		for _, meta := range []state.TokenMetadata{
			{Symbol: "WETH-UNI-C", Decimals: 18},
		} {
			if err := tx.State.RegisterToken(meta); err != nil {
				return err
			}
		}
		mint := func(addr crypto.Address, symbol string, amount int64) {
			require.NoError(t, b.tokens.Mint(addr, symbol, big.NewInt(amount)))
		}
		wrap := func(addr crypto.Address, amount int64) {
			mint(addr, "ETH", amount)
			require.NoError(t, b.wrapper.Wrap(addr, big.NewInt(amount)))
		}

		mint(f.provider, "UNI", 4_000_000)
		wrap(f.provider, 1_000_000)
		lp, err := b.pool.AddLiquidity(f.provider, big.NewInt(4_000_000), big.NewInt(1_000_000), f.provider)
		require.NoError(t, err)
		require.Equal(t, int64(1_999_000), lp.Int64())

		mint(f.lender, "UNI", 100_000_000)
		_, err = b.lendA.Supply(f.lender, big.NewInt(100_000_000))
		require.NoError(t, err)
		wrap(f.lender, 100_000_000)
		_, err = b.lendB.Supply(f.lender, big.NewInt(100_000_000))
		require.NoError(t, err)

		mint(f.borrower, "UNI", 400_000)
		wrap(f.borrower, 100_000)
		lp, err = b.pool.AddLiquidity(f.borrower, big.NewInt(400_000), big.NewInt(100_000), f.borrower)
		require.NoError(t, err)
		require.Equal(t, int64(200_000), lp.Int64())
		_, err = b.vault.Mint(f.borrower, lp, f.borrower)
		return err
	})
}

// exec runs fn against the engines of market in one committed transaction.
// Tokens and the pair are created on first use.
func (f *fixture) exec(t *testing.T, market string, fn func(*core.Tx, *binding) error) {
	t.Helper()
	m, err := f.router.Market(market)
	require.NoError(t, err)
	_, err = f.ledger.Execute(f.ctx, func(tx *core.Tx) error {
		if !tx.State.TokenExists(m.LP) {
			for _, meta := range []state.TokenMetadata{
				{Symbol: "ETH", Decimals: 18, Native: true},
				{Symbol: "UNI", Decimals: 18},
				{Symbol: "WETH", Decimals: 18},
				{Symbol: "UNI-WETH-LP", Decimals: 18},
				{Symbol: "UNI-WETH-C", Decimals: 18},
			} {
				if err := tx.State.RegisterToken(meta); err != nil {
					return err
				}
			}
			tokens := token.NewEngine()
			tokens.SetState(tx.State)
			dex := amm.NewEngine(tokens)
			dex.SetState(tx.State)
			if _, err := dex.CreatePair("WETH", "UNI", "UNI-WETH-LP"); err != nil {
				return err
			}
		}
		b, err := f.router.bind(tx, m)
		if err != nil {
			return err
		}
		return fn(tx, b)
	})
	require.NoError(t, err)
}

func (f *fixture) view(t *testing.T, market string, fn func(*binding)) {
	t.Helper()
	m, err := f.router.Market(market)
	require.NoError(t, err)
	require.NoError(t, f.ledger.View(f.ctx, func(tx *core.Tx) error {
		b, err := f.router.bind(tx, m)
		if err != nil {
			return err
		}
		fn(b)
		return nil
	}))
}

func (f *fixture) balance(t *testing.T, addr crypto.Address, symbol string) int64 {
	t.Helper()
	var out int64
	f.view(t, testMarket, func(b *binding) {
		bal, err := b.tx.State.Balance(addr, symbol)
		require.NoError(t, err)
		out = bal.Int64()
	})
	return out
}

func (f *fixture) position(t *testing.T, market string, addr crypto.Address) *Position {
	t.Helper()
	pos, err := f.router.Position(f.ctx, market, addr)
	require.NoError(t, err)
	return pos
}

func (f *fixture) deadline() uint64 { return uint64(f.now.Unix()) + 60 }

func (f *fixture) approveBorrows(t *testing.T) {
	t.Helper()
	f.exec(t, testMarket, func(_ *core.Tx, b *binding) error {
		if err := b.lendA.BorrowApprove(f.borrower, Address(), token.MaxAllowance); err != nil {
			return err
		}
		return b.lendB.BorrowApprove(f.borrower, Address(), token.MaxAllowance)
	})
}

func (f *fixture) approveShares(t *testing.T, market string, owner crypto.Address, amount int64) {
	t.Helper()
	f.exec(t, market, func(_ *core.Tx, b *binding) error {
		return b.vault.Approve(owner, Address(), big.NewInt(amount))
	})
}

func (f *fixture) sign(t *testing.T, kind permit.Kind, domain permit.Domain, p permit.Permit) *permit.Permit {
	t.Helper()
	var nonce uint64
	f.view(t, testMarket, func(b *binding) {
		var err error
		nonce, err = b.permits.Nonce(f.signer.Address(), domain)
		require.NoError(t, err)
	})
	if p.Spender.IsZero() {
		p.Spender = Address()
	}
	if p.Deadline == 0 {
		p.Deadline = f.deadline()
	}
	signed, err := f.signer.Sign(kind, domain, p, nonce)
	require.NoError(t, err)
	return &signed
}

func (f *fixture) domains(t *testing.T, market string) PermitDomains {
	t.Helper()
	domains, err := f.router.PermitDomains(market)
	require.NoError(t, err)
	return domains
}

func (f *fixture) leverage(t *testing.T, amountA, amountB int64) *LeverageResult {
	t.Helper()
	res, err := f.router.Leverage(f.ctx, LeverageRequest{
		Market:         testMarket,
		Borrower:       f.borrower,
		AmountADesired: big.NewInt(amountA),
		AmountBDesired: big.NewInt(amountB),
		Deadline:       f.deadline(),
	})
	require.NoError(t, err)
	return res
}

func (f *fixture) requireNoCustody(t *testing.T) {
	t.Helper()
	for _, symbol := range []string{"UNI", "WETH", "ETH", "UNI-WETH-LP", "UNI-WETH-C", "WETH-UNI-C"} {
		require.Zero(t, f.balance(t, Address(), symbol), "router holds %s", symbol)
	}
}
