package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"lpvault/crypto"
)

var (
	testProvider = crypto.NewAddress(crypto.AccountPrefix, bytes.Repeat([]byte{0x01}, 20)).String()
	testLender   = crypto.NewAddress(crypto.AccountPrefix, bytes.Repeat([]byte{0x02}, 20)).String()
)

func sampleGenesis() string {
	return fmt.Sprintf(`ChainID = 7
NativeSymbol = "eth"
WrappedSymbol = "weth"
GenesisTime = "2024-01-01T00:00:00Z"

[[Tokens]]
Symbol = "uni"
Name = "Uniswap"
Decimals = 18

[[Balances]]
Address = "%[1]s"
Symbol = "UNI"
Amount = "4000000"

[[Balances]]
Address = "%[1]s"
Symbol = "WETH"
Amount = "1000000"

[[Balances]]
Address = "%[2]s"
Symbol = "UNI"
Amount = "100000000"

[[Pairs]]
AssetA = "UNI"
AssetB = "WETH"
LP = "uni-weth-lp"
Provider = "%[1]s"
AmountA = "4000000"
AmountB = "1000000"

[[Markets]]
ID = "UNI-WETH"
AssetA = "UNI"
AssetB = "WETH"
LP = "UNI-WETH-LP"
Share = "UNI-WETH-C"
MaxLTVBps = 8500

[Markets.InterestA]
BaseRate = 0.02
Slope1 = 0.1
Slope2 = 0.5
Kink = 0.8

[Markets.CapsB]
Total = "500000"
UtilisationBps = 9000

[[Supplies]]
Market = "uni-weth"
Side = "a"
Lender = "%[2]s"
Amount = "100000000"

[[Allowances]]
Owner = "%[1]s"
Symbol = "uni-weth-lp"
Amount = "max"
`, testProvider, testLender)
}

func writeGenesis(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "genesis.toml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadGenesisNormalises(t *testing.T) {
	g, err := LoadGenesis(writeGenesis(t, sampleGenesis()))
	require.NoError(t, err)

	require.Equal(t, uint64(7), g.ChainID)
	require.Equal(t, "ETH", g.NativeSymbol)
	require.Equal(t, "WETH", g.WrappedSymbol)
	require.Equal(t, int64(1_704_067_200), g.GenesisTimestamp().Unix())

	symbols := make([]string, 0, len(g.Tokens))
	for _, tok := range g.Tokens {
		symbols = append(symbols, tok.Symbol)
	}
	require.Equal(t, []string{"UNI", "ETH", "WETH"}, symbols)

	require.Len(t, g.Pairs, 1)
	require.Equal(t, "UNI-WETH-LP", g.Pairs[0].LP)
	require.True(t, g.Pairs[0].Seeded())
	amountA, amountB := g.Pairs[0].Amounts()
	require.Equal(t, int64(4_000_000), amountA.Int64())
	require.Equal(t, int64(1_000_000), amountB.Int64())

	require.Len(t, g.Markets, 1)
	m := g.Markets[0]
	require.Equal(t, "uni-weth", m.ID)
	require.Equal(t, uint64(8500), m.MaxLTVBps)
	require.NotNil(t, m.InterestA)
	require.Nil(t, m.InterestB)
	require.Zero(t, m.CapsA.Value().Sign())
	require.Equal(t, int64(500_000), m.CapsB.Value().Int64())

	require.Equal(t, int64(1_000_000), g.Balances[1].Value().Int64())
	require.Equal(t, "A", g.Supplies[0].Side)
	require.Equal(t, int64(100_000_000), g.Supplies[0].Value().Int64())

	require.Equal(t, "UNI-WETH-LP", g.Allowances[0].Symbol)
	_, unlimited := g.Allowances[0].Value()
	require.True(t, unlimited)
}

func TestLoadGenesisRejectsInvalidSections(t *testing.T) {
	cases := map[string]struct {
		old, new string
		want     string
	}{
		"unknown balance token": {`Symbol = "UNI"
Amount = "4000000"`, `Symbol = "DAI"
Amount = "4000000"`, "undefined token"},
		"negative amount":   {`Amount = "4000000"`, `Amount = "-4"`, "must not be negative"},
		"market pair":       {`LP = "UNI-WETH-LP"`, `LP = "DAI-WETH-LP"`, "unknown pair"},
		"ltv":               {`MaxLTVBps = 8500`, `MaxLTVBps = 10001`, "maxLTVBps"},
		"kink":              {`Kink = 0.8`, `Kink = 1.5`, "kink"},
		"supply side":       {`Side = "a"`, `Side = "c"`, "side must be A or B"},
		"supply market":     {`Market = "uni-weth"`, `Market = "dai-weth"`, "unknown market"},
		"one-sided reserve": {`AmountB = "1000000"`, `AmountB = "0"`, "both be set"},
		"unknown field":     {`ChainID = 7`, "ChainID = 7\nBogus = 1", "unknown field"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			contents := strings.Replace(sampleGenesis(), tc.old, tc.new, 1)
			require.NotEqual(t, sampleGenesis(), contents)
			_, err := LoadGenesis(writeGenesis(t, contents))
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestLoadGenesisRejectsModuleAccounts(t *testing.T) {
	module := crypto.ModuleAddress("router").String()
	contents := strings.Replace(sampleGenesis(), testLender, module, 1)
	_, err := LoadGenesis(writeGenesis(t, contents))
	require.Error(t, err)
	require.Contains(t, err.Error(), "unsupported hrp")
}

func TestSaveGenesisRoundTrip(t *testing.T) {
	g, err := LoadGenesis(writeGenesis(t, sampleGenesis()))
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "nested", "genesis.toml")
	require.NoError(t, SaveGenesis(path, g))
	reloaded, err := LoadGenesis(path)
	require.NoError(t, err)
	require.Equal(t, g.Markets[0].ID, reloaded.Markets[0].ID)
	require.Equal(t, g.Supplies[0].Value().Int64(), reloaded.Supplies[0].Value().Int64())
	require.Len(t, reloaded.Tokens, 3)
}

func TestParseAccount(t *testing.T) {
	addr, err := ParseAccount(testProvider)
	require.NoError(t, err)
	require.Equal(t, testProvider, addr.String())

	_, err = ParseAccount("lpv1notanaddress")
	require.Error(t, err)
}
