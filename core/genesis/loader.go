package genesis

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"lpvault/config"
	"lpvault/core"
	"lpvault/core/state"
	"lpvault/native/amm"
	"lpvault/native/lending"
	"lpvault/native/router"
	"lpvault/native/token"
)

// ErrAlreadyInitialised is returned when genesis is applied to a ledger that
// already holds registered tokens.
var ErrAlreadyInitialised = errors.New("genesis: ledger already initialised")

// Initialised reports whether the ledger has been seeded.
func Initialised(ctx context.Context, ledger *core.Ledger) (bool, error) {
	var seeded bool
	err := ledger.View(ctx, func(tx *core.Tx) error {
		list, err := tx.State.TokenList()
		if err != nil {
			return err
		}
		seeded = len(list) > 0
		return nil
	})
	return seeded, err
}

// Apply seeds an empty ledger from g in a single transaction: tokens, then
// balances, then pairs with their initial reserves, then lending pool supply
// and finally the router allowances.
func Apply(ctx context.Context, ledger *core.Ledger, g *config.Genesis) error {
	if ledger == nil {
		return fmt.Errorf("genesis: ledger must not be nil")
	}
	if g == nil {
		return fmt.Errorf("genesis: spec must not be nil")
	}
	markets := make(map[string]router.Market, len(g.Markets))
	for _, m := range Markets(g) {
		markets[m.ID] = m
	}
	_, err := ledger.Execute(ctx, func(tx *core.Tx) error {
		list, err := tx.State.TokenList()
		if err != nil {
			return err
		}
		if len(list) > 0 {
			return ErrAlreadyInitialised
		}
		tokens := token.NewEngine()
		tokens.SetState(tx.State)
		tokens.SetEmitter(tx)

		// 1) Tokens, then the LP and share tokens implied by pairs and markets
		for _, meta := range tokenMetadata(g) {
			if err := tx.State.RegisterToken(meta); err != nil {
				return fmt.Errorf("register token %q: %w", meta.Symbol, err)
			}
		}

		// 2) Balances (outer: addresses sorted; inner: symbols sorted)
		if err := applyBalances(g, tokens); err != nil {
			return err
		}

		// 3) Pairs
		dex := amm.NewEngine(tokens)
		dex.SetState(tx.State)
		for _, p := range g.Pairs {
			if _, err := dex.CreatePair(p.AssetA, p.AssetB, p.LP); err != nil {
				return fmt.Errorf("pair %s: %w", p.LP, err)
			}
			if !p.Seeded() {
				continue
			}
			provider, err := config.ParseAccount(p.Provider)
			if err != nil {
				return fmt.Errorf("pair %s: %w", p.LP, err)
			}
			pool, err := dex.Pool(p.LP, p.AssetA, p.AssetB)
			if err != nil {
				return fmt.Errorf("pair %s: %w", p.LP, err)
			}
			amountA, amountB := p.Amounts()
			if _, err := pool.AddLiquidity(provider, amountA, amountB, provider); err != nil {
				return fmt.Errorf("pair %s: seed reserves: %w", p.LP, err)
			}
		}

		// 4) Lending supply
		for i, s := range g.Supplies {
			m, ok := markets[s.Market]
			if !ok {
				return fmt.Errorf("supply[%d]: unknown market %q", i, s.Market)
			}
			side, err := router.ParseSide(s.Side)
			if err != nil {
				return fmt.Errorf("supply[%d]: %w", i, err)
			}
			lender, err := config.ParseAccount(s.Lender)
			if err != nil {
				return fmt.Errorf("supply[%d]: %w", i, err)
			}
			pool := lending.NewEngine(m.Asset(side), tokens)
			pool.SetPoolID(router.PoolID(m, side))
			pool.SetState(tx.State)
			pool.SetNow(tx.Now())
			if _, err := pool.Supply(lender, s.Value()); err != nil {
				return fmt.Errorf("supply[%d]: %w", i, err)
			}
		}

		// 5) Router allowances
		for i, a := range g.Allowances {
			owner, err := config.ParseAccount(a.Owner)
			if err != nil {
				return fmt.Errorf("allowance[%d]: %w", i, err)
			}
			amount, unlimited := a.Value()
			if unlimited {
				amount = token.MaxAllowance
			}
			if err := tokens.Approve(owner, router.Address(), a.Symbol, amount); err != nil {
				return fmt.Errorf("allowance[%d]: %w", i, err)
			}
		}
		return nil
	})
	return err
}

func tokenMetadata(g *config.Genesis) []state.TokenMetadata {
	out := make([]state.TokenMetadata, 0, len(g.Tokens)+len(g.Pairs)+len(g.Markets))
	for _, t := range g.Tokens {
		out = append(out, state.TokenMetadata{
			Symbol:   t.Symbol,
			Name:     t.Name,
			Decimals: t.Decimals,
			Native:   t.Symbol == g.NativeSymbol,
		})
	}
	for _, p := range g.Pairs {
		out = append(out, state.TokenMetadata{Symbol: p.LP, Name: p.AssetA + "/" + p.AssetB + " liquidity", Decimals: 18})
	}
	for _, m := range g.Markets {
		out = append(out, state.TokenMetadata{Symbol: m.Share, Name: m.ID + " collateral", Decimals: 18})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

func applyBalances(g *config.Genesis, tokens *token.Engine) error {
	balances := append([]config.BalanceSpec(nil), g.Balances...)
	sort.SliceStable(balances, func(i, j int) bool {
		if balances[i].Address != balances[j].Address {
			return balances[i].Address < balances[j].Address
		}
		return balances[i].Symbol < balances[j].Symbol
	})
	var wrapper *token.Wrapper
	if g.WrappedSymbol != "" {
		wrapper = token.NewWrapper(tokens, g.NativeSymbol, g.WrappedSymbol)
	}
	for _, b := range balances {
		addr, err := config.ParseAccount(b.Address)
		if err != nil {
			return fmt.Errorf("balance %s: %w", b.Address, err)
		}
		amount := b.Value()
		if !wrapper.IsWrapped(b.Symbol) {
			if err := tokens.Mint(addr, b.Symbol, amount); err != nil {
				return fmt.Errorf("balance %s %s: %w", b.Address, b.Symbol, err)
			}
			continue
		}
		if err := tokens.Mint(addr, g.NativeSymbol, amount); err != nil {
			return fmt.Errorf("balance %s %s: %w", b.Address, b.Symbol, err)
		}
		if err := wrapper.Wrap(addr, amount); err != nil {
			return fmt.Errorf("balance %s %s: %w", b.Address, b.Symbol, err)
		}
	}
	return nil
}
