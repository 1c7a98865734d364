package genesis

import (
	"lpvault/config"
	"lpvault/native/lending"
	"lpvault/native/router"
)

// RouterConfig returns the router settings carried by g.
func RouterConfig(g *config.Genesis) router.Config {
	return router.Config{
		ChainID:       g.ChainID,
		NativeSymbol:  g.NativeSymbol,
		WrappedSymbol: g.WrappedSymbol,
	}
}

// Markets converts the genesis market sections into router markets.
func Markets(g *config.Genesis) []router.Market {
	out := make([]router.Market, 0, len(g.Markets))
	for _, m := range g.Markets {
		out = append(out, router.Market{
			ID:        m.ID,
			AssetA:    m.AssetA,
			AssetB:    m.AssetB,
			LP:        m.LP,
			Share:     m.Share,
			MaxLTVBps: m.MaxLTVBps,
			InterestA: interestModel(m.InterestA),
			InterestB: interestModel(m.InterestB),
			CapsA:     borrowCaps(m.CapsA),
			CapsB:     borrowCaps(m.CapsB),
		})
	}
	return out
}

func interestModel(spec *config.InterestSpec) *lending.InterestModel {
	if spec == nil {
		return nil
	}
	return lending.NewInterestModel(spec.BaseRate, spec.Slope1, spec.Slope2, spec.Kink)
}

func borrowCaps(spec config.CapsSpec) lending.BorrowCaps {
	caps := lending.BorrowCaps{UtilisationBps: spec.UtilisationBps}
	if total := spec.Value(); total.Sign() > 0 {
		caps.Total = total
	}
	return caps
}
