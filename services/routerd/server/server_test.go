package server

import (
	"bytes"
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"lpvault/config"
	"lpvault/core"
	"lpvault/core/genesis"
	"lpvault/crypto"
	"lpvault/native/permit"
	"lpvault/native/router"
	"lpvault/services/routerd/archive"
	"lpvault/storage"
)

const testSecret = "0123456789abcdef0123456789abcdef"

var (
	provider = crypto.NewAddress(crypto.AccountPrefix, bytes.Repeat([]byte{0x01}, 20))
	lender   = crypto.NewAddress(crypto.AccountPrefix, bytes.Repeat([]byte{0x02}, 20))
)

type fixture struct {
	handler http.Handler
	archive *archive.Archive
	router  *router.Router
}

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
			{Address: lender.String(), Symbol: "UNI", Amount: "200000000"},
			{Address: lender.String(), Symbol: "WETH", Amount: "50000000"},
		},
		Pairs: []config.PairSpec{{
			AssetA: "UNI", AssetB: "WETH", LP: "UNI-WETH-LP",
			Provider: provider.String(), AmountA: "4000000", AmountB: "1000000",
		}},
		Markets: []config.MarketSpec{{
			ID: "uni-weth", AssetA: "UNI", AssetB: "WETH", LP: "UNI-WETH-LP", Share: "UNI-WETH-C",
			MaxLTVBps: 8000,
		}},
		Supplies: []config.SupplySpec{
			{Market: "uni-weth", Side: "A", Lender: lender.String(), Amount: "100000000"},
			{Market: "uni-weth", Side: "B", Lender: lender.String(), Amount: "50000000"},
		},
		Allowances: []config.AllowanceSpec{
			{Owner: provider.String(), Symbol: "UNI-WETH-LP", Amount: "max"},
			{Owner: lender.String(), Symbol: "UNI", Amount: "max"},
		},
	}
	require.NoError(t, g.Validate())
	return g
}

func newFixture(t *testing.T, limit RateLimit) *fixture {
	t.Helper()
	ctx := context.Background()
	receipts, err := archive.Open(filepath.Join(t.TempDir(), "receipts.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = receipts.Close() })

	db, err := storage.NewMemDB()
	require.NoError(t, err)
	ledger := core.NewLedger(db, receipts)
	t.Cleanup(func() { ledger.Close() })

	g := testGenesis(t)
	require.NoError(t, genesis.Apply(ctx, ledger, g))
	r, err := router.New(ledger, genesis.RouterConfig(g), genesis.Markets(g))
	require.NoError(t, err)

	srv, err := New(Config{
		Router:    r,
		Receipts:  receipts,
		Auth:      AuthConfig{HMACSecret: testSecret, Issuer: "lpvault-ops"},
		RateLimit: limit,
	})
	require.NoError(t, err)
	return &fixture{handler: srv.Handler(), archive: receipts, router: r}
}

func (f *fixture) do(t *testing.T, method, path string, body interface{}, token string) *httptest.ResponseRecorder {
	t.Helper()
	var payload bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&payload).Encode(body))
	}
	req := httptest.NewRequest(method, path, &payload)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out))
}

func signToken(t *testing.T, scope string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   "ops@lpvault",
		"iss":   "lpvault-ops",
		"scope": scope,
		"exp":   time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func deadline() uint64 {
	return uint64(time.Now().Add(time.Hour).Unix())
}

func TestHealthzAssignsOperationID(t *testing.T) {
	f := newFixture(t, RateLimit{})
	rec := f.do(t, http.MethodGet, "/healthz", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, rec.Header().Get(HeaderOperationID))
}

func TestMarketsListsPermitDomains(t *testing.T) {
	f := newFixture(t, RateLimit{})
	rec := f.do(t, http.MethodGet, "/v1/markets", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Markets []marketResponse `json:"markets"`
	}
	decodeResponse(t, rec, &resp)
	require.Len(t, resp.Markets, 1)
	m := resp.Markets[0]
	require.Equal(t, "uni-weth", m.ID)
	require.Equal(t, uint64(8000), m.MaxLTVBps)
	require.Equal(t, router.Address().String(), m.Router)
	for _, key := range []string{"borrowA", "borrowB", "share", "lp"} {
		require.Contains(t, m.Domains, key)
		require.Equal(t, uint64(5), m.Domains[key].ChainID)
	}

	rec = f.do(t, http.MethodGet, "/v1/permits/uni-weth/borrowB/"+provider.String(), nil, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var nonce nonceResponse
	decodeResponse(t, rec, &nonce)
	require.Equal(t, "BorrowPermit", nonce.Kind)
	require.Equal(t, uint64(0), nonce.Nonce)
	require.Equal(t, m.Domains["borrowB"], nonce.Domain)

	rec = f.do(t, http.MethodGet, "/v1/permits/uni-weth/vault/"+provider.String(), nil, "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSupplyMapsErrors(t *testing.T) {
	f := newFixture(t, RateLimit{})

	rec := f.do(t, http.MethodPost, "/v1/supply", supplyBody{
		Market: "uni-weth", Lender: lender.String(), Side: "a", Amount: "1000", Deadline: deadline(),
	}, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var ok map[string]string
	decodeResponse(t, rec, &ok)
	require.Equal(t, "1000", ok["shares"])
	require.Equal(t, rec.Header().Get(HeaderOperationID), ok["operationId"])

	cases := map[string]struct {
		body   interface{}
		status int
		kind   string
		reason string
	}{
		"zero amount": {
			body:   supplyBody{Market: "uni-weth", Lender: lender.String(), Side: "A", Amount: "0", Deadline: deadline()},
			status: http.StatusUnprocessableEntity, kind: "zero_amount", reason: router.ReasonZeroAmount,
		},
		"expired": {
			body:   supplyBody{Market: "uni-weth", Lender: lender.String(), Side: "A", Amount: "10", Deadline: 1},
			status: http.StatusRequestTimeout, kind: "expired", reason: router.ReasonExpired,
		},
		"no allowance": {
			body:   supplyBody{Market: "uni-weth", Lender: provider.String(), Side: "A", Amount: "10", Deadline: deadline()},
			status: http.StatusForbidden, kind: "authorization", reason: router.ReasonTransferNotAllowed,
		},
		"unknown market": {
			body:   supplyBody{Market: "dai-weth", Lender: lender.String(), Side: "A", Amount: "10", Deadline: deadline()},
			status: http.StatusNotFound, kind: "not_found", reason: router.ReasonUnknownMarket,
		},
		"bad side": {
			body:   supplyBody{Market: "uni-weth", Lender: lender.String(), Side: "C", Amount: "10", Deadline: deadline()},
			status: http.StatusBadRequest, kind: "bad_request",
		},
		"native on token side": {
			body:   supplyBody{Market: "uni-weth", Lender: lender.String(), Side: "A", Amount: "10", Native: true, Deadline: deadline()},
			status: http.StatusBadRequest, kind: "bad_request",
		},
		"unknown field": {
			body:   map[string]string{"market": "uni-weth", "bogus": "1"},
			status: http.StatusBadRequest, kind: "bad_request",
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, "/v1/supply", tc.body, "")
			require.Equal(t, tc.status, rec.Code, rec.Body.String())
			var resp errorResponse
			decodeResponse(t, rec, &resp)
			require.Equal(t, tc.kind, resp.Error.Kind)
			require.Equal(t, tc.reason, resp.Error.Reason)
			require.NotEmpty(t, resp.OperationID)
		})
	}
}

func signedPermit(t *testing.T, signer *permit.Signer, kind permit.Kind, domain permit.Domain, value int64) *permitBody {
	t.Helper()
	signed, err := signer.Sign(kind, domain, permit.Permit{
		Spender:  router.Address(),
		Value:    big.NewInt(value),
		Deadline: deadline(),
	}, 0)
	require.NoError(t, err)
	return &permitBody{
		Owner:     signed.Owner.String(),
		Spender:   signed.Spender.String(),
		Value:     signed.Value.String(),
		Deadline:  signed.Deadline,
		Signature: hexutil.Encode(signed.Signature),
	}
}

func requireFailure(t *testing.T, rec *httptest.ResponseRecorder, status int, kind, reason string) errorResponse {
	t.Helper()
	require.Equal(t, status, rec.Code, rec.Body.String())
	var resp errorResponse
	decodeResponse(t, rec, &resp)
	require.Equal(t, kind, resp.Error.Kind)
	require.Equal(t, reason, resp.Error.Reason)
	return resp
}

func TestLeverageAndDeleverage(t *testing.T) {
	f := newFixture(t, RateLimit{})
	key, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	signer := permit.NewSigner(key)
	borrower := signer.Address()
	domains, err := f.router.PermitDomains("uni-weth")
	require.NoError(t, err)

	rec := f.do(t, http.MethodPost, "/v1/collateral/mint", mintBody{
		Market: "uni-weth", Borrower: borrower.String(), Payer: provider.String(), LP: "200000", Deadline: deadline(),
	}, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	lever := leverageBody{
		Market:         "uni-weth",
		Borrower:       borrower.String(),
		AmountADesired: "400000",
		AmountBDesired: "100000",
		MinLP:          "200000",
		Deadline:       deadline(),
	}
	rec = f.do(t, http.MethodPost, "/v1/leverage", lever, "")
	requireFailure(t, rec, http.StatusForbidden, "authorization", router.ReasonBorrowNotAllowed)

	lever.PermitA = signedPermit(t, signer, permit.KindBorrow, domains.BorrowA, 400_000)
	lever.PermitB = signedPermit(t, signer, permit.KindBorrow, domains.BorrowB, 100_000)
	broken := *lever.PermitB
	broken.Signature = "0xzz"
	badSig := lever
	badSig.PermitB = &broken
	rec = f.do(t, http.MethodPost, "/v1/leverage", badSig, "")
	requireFailure(t, rec, http.StatusBadRequest, "bad_request", "")

	rec = f.do(t, http.MethodPost, "/v1/leverage", lever, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var levered leverageResponse
	decodeResponse(t, rec, &levered)
	require.Equal(t, "400000", levered.BorrowedA)
	require.Equal(t, "100000", levered.BorrowedB)
	require.Equal(t, "200000", levered.LP)
	require.Equal(t, "200000", levered.Shares)
	require.Equal(t, "400000", levered.CollateralShares)

	rec = f.do(t, http.MethodGet, "/v1/markets/uni-weth/pools", nil, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var pools struct {
		Pools []poolResponse `json:"pools"`
	}
	decodeResponse(t, rec, &pools)
	require.Len(t, pools.Pools, 2)
	require.Equal(t, "uni-weth/UNI", pools.Pools[0].PoolID)
	require.Equal(t, "99600000", pools.Pools[0].Cash)
	require.Equal(t, "400000", pools.Pools[0].Borrows)
	require.Equal(t, "0.000000", pools.Pools[0].BorrowRate)
	require.Equal(t, "100000", pools.Pools[1].Borrows)

	unwind := deleverageBody{Market: "uni-weth", Borrower: borrower.String(), Shares: "0", Deadline: deadline()}
	rec = f.do(t, http.MethodPost, "/v1/deleverage", unwind, "")
	requireFailure(t, rec, http.StatusUnprocessableEntity, "zero_amount", router.ReasonRedeemZero)

	unwind.Shares = "200000"
	rec = f.do(t, http.MethodPost, "/v1/deleverage", unwind, "")
	requireFailure(t, rec, http.StatusForbidden, "authorization", router.ReasonTransferNotAllowed)

	unwind.Permit = signedPermit(t, signer, permit.KindPermit, domains.Share, 200_000)
	unwind.AmountAMin = "400001"
	rec = f.do(t, http.MethodPost, "/v1/deleverage", unwind, "")
	failure := requireFailure(t, rec, http.StatusUnprocessableEntity, "slippage", router.ReasonInsufficientA)
	require.Equal(t, "A", failure.Error.Side)
	require.Equal(t, "UNI", failure.Error.Asset)

	unwind.AmountAMin = "400000"
	unwind.AmountBMin = "100000"
	rec = f.do(t, http.MethodPost, "/v1/deleverage", unwind, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var unwound deleverageResponse
	decodeResponse(t, rec, &unwound)
	require.Equal(t, "200000", unwound.LP)
	require.Equal(t, "400000", unwound.RepaidA)
	require.Equal(t, "100000", unwound.RepaidB)
	require.Equal(t, "0", unwound.RefundA)
	require.Equal(t, "0", unwound.RefundB)

	rec = f.do(t, http.MethodGet, "/v1/positions/uni-weth/"+borrower.String(), nil, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var pos positionResponse
	decodeResponse(t, rec, &pos)
	require.Equal(t, "200000", pos.Shares)
	require.Equal(t, "0", pos.DebtA)
	require.Equal(t, "0", pos.DebtB)
}

func TestMintCollateralArchivesReceipt(t *testing.T) {
	f := newFixture(t, RateLimit{})

	rec := f.do(t, http.MethodPost, "/v1/collateral/mint", mintBody{
		Market: "uni-weth", Borrower: provider.String(), Payer: provider.String(), LP: "1000", Deadline: deadline(),
	}, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodGet, "/v1/positions/uni-weth/"+provider.String(), nil, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var pos positionResponse
	decodeResponse(t, rec, &pos)
	require.Equal(t, "1000", pos.LP)
	require.Equal(t, "0", pos.DebtA)
	require.Equal(t, "0", pos.Shortfall)

	rec = f.do(t, http.MethodGet, "/v1/receipts/"+provider.String()+"?limit=10", nil, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var receipts struct {
		Receipts []receiptResponse `json:"receipts"`
	}
	decodeResponse(t, rec, &receipts)
	require.Len(t, receipts.Receipts, 1)
	require.Equal(t, "router.collateral_minted", receipts.Receipts[0].Type)
	require.Equal(t, "uni-weth", receipts.Receipts[0].Market)
	require.Equal(t, "1000", receipts.Receipts[0].Attributes["lp"])

	rec = f.do(t, http.MethodGet, "/v1/receipts/"+provider.String()+"?limit=-1", nil, "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminPauseRequiresScope(t *testing.T) {
	f := newFixture(t, RateLimit{})
	pause := pauseBody{Module: "router", Paused: true}

	rec := f.do(t, http.MethodPost, "/v1/admin/pause", pause, "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, http.MethodPost, "/v1/admin/pause", pause, "not-a-jwt")
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, http.MethodPost, "/v1/admin/pause", pause, signToken(t, "router:read"))
	require.Equal(t, http.StatusForbidden, rec.Code)

	admin := signToken(t, ScopeAdmin)
	rec = f.do(t, http.MethodPost, "/v1/admin/pause", pauseBody{Module: "swap", Paused: true}, admin)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/v1/admin/pause", pause, admin)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var state struct {
		Modules map[string]bool `json:"modules"`
	}
	decodeResponse(t, rec, &state)
	require.True(t, state.Modules["router"])

	rec = f.do(t, http.MethodPost, "/v1/supply", supplyBody{
		Market: "uni-weth", Lender: lender.String(), Side: "A", Amount: "10", Deadline: deadline(),
	}, "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code, rec.Body.String())
	var failure errorResponse
	decodeResponse(t, rec, &failure)
	require.Equal(t, router.ReasonPaused, failure.Error.Reason)

	rec = f.do(t, http.MethodPost, "/v1/admin/pause", pauseBody{Module: "router"}, admin)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = f.do(t, http.MethodGet, "/v1/admin/pause", nil, admin)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeResponse(t, rec, &state)
	require.False(t, state.Modules["router"])
}

func TestRateLimiterThrottlesClients(t *testing.T) {
	f := newFixture(t, RateLimit{RequestsPerMinute: 1, Burst: 1})

	rec := f.do(t, http.MethodGet, "/v1/markets", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	rec = f.do(t, http.MethodGet, "/v1/markets", nil, "")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	var resp errorResponse
	decodeResponse(t, rec, &resp)
	require.Equal(t, "rate_limited", resp.Error.Kind)

	rec = f.do(t, http.MethodGet, "/healthz", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestExtractScopes(t *testing.T) {
	claims := jwt.MapClaims{
		"scope": "router:admin router:read",
		"roles": []interface{}{"a", 7, "b"},
	}
	require.Equal(t, []string{"router:admin", "router:read"}, extractScopes(claims, "scope"))
	require.Equal(t, []string{"a", "b"}, extractScopes(claims, "roles"))
	require.Nil(t, extractScopes(claims, "missing"))
	require.True(t, hasScopes([]string{"x", "y"}, []string{"y"}))
	require.False(t, hasScopes(nil, []string{ScopeAdmin}))
	require.Equal(t, "abc", extractBearer("bearer abc"))
	require.Empty(t, extractBearer("Basic abc"))
	require.True(t, strings.HasPrefix(signToken(t, ScopeAdmin), "ey"))
}
