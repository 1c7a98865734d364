package config

import (
	"fmt"
	"strings"
	"time"

	"lpvault/core/state"
)

// MaxBps is the basis point denominator; ratios above it are rejected.
const MaxBps = 10_000

// Validate normalises symbols and identifiers in place, parses amounts and
// checks cross references between sections.
func (g *Genesis) Validate() error {
	g.genesisTimestamp = time.Time{}
	if ts := strings.TrimSpace(g.GenesisTime); ts != "" {
		parsed, err := time.Parse(time.RFC3339, ts)
		if err != nil {
			return fmt.Errorf("genesisTime: %w", err)
		}
		g.genesisTimestamp = parsed.UTC()
	}

	g.NativeSymbol = state.NormalizeSymbol(g.NativeSymbol)
	g.WrappedSymbol = state.NormalizeSymbol(g.WrappedSymbol)
	if (g.NativeSymbol == "") != (g.WrappedSymbol == "") {
		return fmt.Errorf("native and wrapped symbols must be set together")
	}
	if g.NativeSymbol != "" && g.NativeSymbol == g.WrappedSymbol {
		return fmt.Errorf("wrapped symbol must differ from native symbol")
	}

	tokens := make(map[string]struct{}, len(g.Tokens))
	for i := range g.Tokens {
		t := &g.Tokens[i]
		t.Symbol = state.NormalizeSymbol(t.Symbol)
		if t.Symbol == "" {
			return fmt.Errorf("token[%d]: symbol must be provided", i)
		}
		if _, dup := tokens[t.Symbol]; dup {
			return fmt.Errorf("token[%d]: duplicate symbol %q", i, t.Symbol)
		}
		tokens[t.Symbol] = struct{}{}
	}
	for _, symbol := range []string{g.NativeSymbol, g.WrappedSymbol} {
		if symbol == "" {
			continue
		}
		if _, ok := tokens[symbol]; !ok {
			g.Tokens = append(g.Tokens, TokenSpec{Symbol: symbol, Decimals: 18})
			tokens[symbol] = struct{}{}
		}
	}

	pairs := make(map[string]*PairSpec, len(g.Pairs))
	for i := range g.Pairs {
		p := &g.Pairs[i]
		if err := p.validate(tokens); err != nil {
			return fmt.Errorf("pair[%d]: %w", i, err)
		}
		if _, dup := tokens[p.LP]; dup {
			return fmt.Errorf("pair[%d]: LP symbol %q already in use", i, p.LP)
		}
		tokens[p.LP] = struct{}{}
		pairs[p.LP] = p
	}

	markets := make(map[string]struct{}, len(g.Markets))
	for i := range g.Markets {
		m := &g.Markets[i]
		if err := m.validate(pairs); err != nil {
			return fmt.Errorf("market[%d]: %w", i, err)
		}
		if _, dup := markets[m.ID]; dup {
			return fmt.Errorf("market[%d]: duplicate id %q", i, m.ID)
		}
		if _, dup := tokens[m.Share]; dup {
			return fmt.Errorf("market[%d]: share symbol %q already in use", i, m.Share)
		}
		markets[m.ID] = struct{}{}
		tokens[m.Share] = struct{}{}
	}

	for i := range g.Balances {
		b := &g.Balances[i]
		if _, err := ParseAccount(b.Address); err != nil {
			return fmt.Errorf("balance[%d]: %w", i, err)
		}
		b.Symbol = state.NormalizeSymbol(b.Symbol)
		if _, ok := tokens[b.Symbol]; !ok {
			return fmt.Errorf("balance[%d]: undefined token %q", i, b.Symbol)
		}
		amount, err := parseUintAmount(b.Amount)
		if err != nil {
			return fmt.Errorf("balance[%d]: %w", i, err)
		}
		b.amount = amount
	}

	for i := range g.Supplies {
		s := &g.Supplies[i]
		s.Market = strings.ToLower(strings.TrimSpace(s.Market))
		if _, ok := markets[s.Market]; !ok {
			return fmt.Errorf("supply[%d]: unknown market %q", i, s.Market)
		}
		s.Side = strings.ToUpper(strings.TrimSpace(s.Side))
		if s.Side != "A" && s.Side != "B" {
			return fmt.Errorf("supply[%d]: side must be A or B", i)
		}
		if _, err := ParseAccount(s.Lender); err != nil {
			return fmt.Errorf("supply[%d]: %w", i, err)
		}
		amount, err := parseUintAmount(s.Amount)
		if err != nil {
			return fmt.Errorf("supply[%d]: %w", i, err)
		}
		if amount.Sign() == 0 {
			return fmt.Errorf("supply[%d]: amount must be positive", i)
		}
		s.amount = amount
	}

	for i := range g.Allowances {
		a := &g.Allowances[i]
		if _, err := ParseAccount(a.Owner); err != nil {
			return fmt.Errorf("allowance[%d]: %w", i, err)
		}
		a.Symbol = state.NormalizeSymbol(a.Symbol)
		if _, ok := tokens[a.Symbol]; !ok {
			return fmt.Errorf("allowance[%d]: undefined token %q", i, a.Symbol)
		}
		a.max = strings.EqualFold(strings.TrimSpace(a.Amount), "max")
		if a.max {
			a.amount = nil
			continue
		}
		amount, err := parseUintAmount(a.Amount)
		if err != nil {
			return fmt.Errorf("allowance[%d]: %w", i, err)
		}
		a.amount = amount
	}
	return nil
}

func (p *PairSpec) validate(tokens map[string]struct{}) error {
	p.AssetA = state.NormalizeSymbol(p.AssetA)
	p.AssetB = state.NormalizeSymbol(p.AssetB)
	p.LP = state.NormalizeSymbol(p.LP)
	if p.LP == "" {
		return fmt.Errorf("LP symbol must be provided")
	}
	if p.AssetA == p.AssetB {
		return fmt.Errorf("assets must differ")
	}
	for _, symbol := range []string{p.AssetA, p.AssetB} {
		if _, ok := tokens[symbol]; !ok {
			return fmt.Errorf("undefined token %q", symbol)
		}
	}
	amountA, err := parseUintAmount(p.AmountA)
	if err != nil {
		return fmt.Errorf("amountA: %w", err)
	}
	amountB, err := parseUintAmount(p.AmountB)
	if err != nil {
		return fmt.Errorf("amountB: %w", err)
	}
	if amountA.Sign() != amountB.Sign() {
		return fmt.Errorf("initial reserves must both be set or both be zero")
	}
	if amountA.Sign() > 0 {
		if _, err := ParseAccount(p.Provider); err != nil {
			return fmt.Errorf("provider: %w", err)
		}
	}
	p.amountA, p.amountB = amountA, amountB
	return nil
}

func (m *MarketSpec) validate(pairs map[string]*PairSpec) error {
	m.ID = strings.ToLower(strings.TrimSpace(m.ID))
	m.AssetA = state.NormalizeSymbol(m.AssetA)
	m.AssetB = state.NormalizeSymbol(m.AssetB)
	m.LP = state.NormalizeSymbol(m.LP)
	m.Share = state.NormalizeSymbol(m.Share)
	if m.ID == "" {
		return fmt.Errorf("id must be provided")
	}
	if m.Share == "" {
		return fmt.Errorf("share symbol must be provided")
	}
	pair, ok := pairs[m.LP]
	if !ok {
		return fmt.Errorf("unknown pair %q", m.LP)
	}
	sameOrder := m.AssetA == pair.AssetA && m.AssetB == pair.AssetB
	flipped := m.AssetA == pair.AssetB && m.AssetB == pair.AssetA
	if !sameOrder && !flipped {
		return fmt.Errorf("assets %s/%s do not match pair %s", m.AssetA, m.AssetB, m.LP)
	}
	if m.MaxLTVBps > MaxBps {
		return fmt.Errorf("maxLTVBps must be <= %d", MaxBps)
	}
	for side, model := range map[string]*InterestSpec{"A": m.InterestA, "B": m.InterestB} {
		if err := model.validate(); err != nil {
			return fmt.Errorf("interest%s: %w", side, err)
		}
	}
	for side, caps := range map[string]*CapsSpec{"A": &m.CapsA, "B": &m.CapsB} {
		if caps.UtilisationBps > MaxBps {
			return fmt.Errorf("caps%s: utilisationBps must be <= %d", side, MaxBps)
		}
		total, err := parseUintAmount(caps.Total)
		if err != nil {
			return fmt.Errorf("caps%s: %w", side, err)
		}
		caps.total = total
	}
	return nil
}

func (i *InterestSpec) validate() error {
	if i == nil {
		return nil
	}
	if i.BaseRate < 0 || i.Slope1 < 0 || i.Slope2 < 0 {
		return fmt.Errorf("rates must not be negative")
	}
	if i.Kink < 0 || i.Kink > 1 {
		return fmt.Errorf("kink must be within [0, 1]")
	}
	return nil
}
