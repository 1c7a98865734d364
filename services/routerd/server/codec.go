package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"lpvault/crypto"
	"lpvault/native/permit"
	"lpvault/native/router"
)

const maxBodyBytes = 1 << 20

// requestError marks malformed input. It maps to 400.
type requestError struct {
	field string
	err   error
}

func (e *requestError) Error() string {
	if e.field == "" {
		return e.err.Error()
	}
	return e.field + ": " + e.err.Error()
}

func (e *requestError) Unwrap() error { return e.err }

func badRequest(field string, err error) error {
	return &requestError{field: field, err: err}
}

func decodeBody(r *http.Request, out interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return badRequest("", fmt.Errorf("invalid payload: %w", err))
	}
	return nil
}

func parseAddress(field, raw string) (crypto.Address, error) {
	if strings.TrimSpace(raw) == "" {
		return crypto.Address{}, badRequest(field, errors.New("address required"))
	}
	addr, err := crypto.DecodeAddress(raw)
	if err != nil {
		return crypto.Address{}, badRequest(field, err)
	}
	return addr, nil
}

// parseAmount reads a base-10 integer. Empty values are nil so optional bounds
// stay unset.
func parseAmount(field, raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, nil
	}
	v, ok := new(big.Int).SetString(trimmed, 10)
	if !ok || v.Sign() < 0 {
		return nil, badRequest(field, fmt.Errorf("invalid amount %q", raw))
	}
	return v, nil
}

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

type permitBody struct {
	Owner      string `json:"owner"`
	Spender    string `json:"spender"`
	Value      string `json:"value"`
	ApproveMax bool   `json:"approveMax"`
	Deadline   uint64 `json:"deadline"`
	Signature  string `json:"signature"`
}

func (p *permitBody) decode(field string) (*permit.Permit, error) {
	if p == nil {
		return nil, nil
	}
	owner, err := parseAddress(field+".owner", p.Owner)
	if err != nil {
		return nil, err
	}
	spender, err := parseAddress(field+".spender", p.Spender)
	if err != nil {
		return nil, err
	}
	value, err := parseAmount(field+".value", p.Value)
	if err != nil {
		return nil, err
	}
	sig, err := hexutil.Decode(strings.TrimSpace(p.Signature))
	if err != nil {
		return nil, badRequest(field+".signature", err)
	}
	return &permit.Permit{
		Owner:      owner,
		Spender:    spender,
		Value:      value,
		ApproveMax: p.ApproveMax,
		Deadline:   p.Deadline,
		Signature:  sig,
	}, nil
}

type leverageBody struct {
	Market         string      `json:"market"`
	Borrower       string      `json:"borrower"`
	AmountADesired string      `json:"amountADesired"`
	AmountBDesired string      `json:"amountBDesired"`
	AmountAMin     string      `json:"amountAMin"`
	AmountBMin     string      `json:"amountBMin"`
	MinLP          string      `json:"minLP"`
	PermitA        *permitBody `json:"permitA"`
	PermitB        *permitBody `json:"permitB"`
	Deadline       uint64      `json:"deadline"`
}

func (b leverageBody) request() (router.LeverageRequest, error) {
	req := router.LeverageRequest{Market: b.Market, Deadline: b.Deadline}
	var err error
	if req.Borrower, err = parseAddress("borrower", b.Borrower); err != nil {
		return req, err
	}
	amounts := []struct {
		field string
		raw   string
		dst   **big.Int
	}{
		{"amountADesired", b.AmountADesired, &req.AmountADesired},
		{"amountBDesired", b.AmountBDesired, &req.AmountBDesired},
		{"amountAMin", b.AmountAMin, &req.AmountAMin},
		{"amountBMin", b.AmountBMin, &req.AmountBMin},
		{"minLP", b.MinLP, &req.MinLP},
	}
	for _, a := range amounts {
		if *a.dst, err = parseAmount(a.field, a.raw); err != nil {
			return req, err
		}
	}
	if req.PermitA, err = b.PermitA.decode("permitA"); err != nil {
		return req, err
	}
	if req.PermitB, err = b.PermitB.decode("permitB"); err != nil {
		return req, err
	}
	return req, nil
}

type leverageResponse struct {
	OperationID      string `json:"operationId"`
	BorrowedA        string `json:"borrowedA"`
	BorrowedB        string `json:"borrowedB"`
	LP               string `json:"lp"`
	Shares           string `json:"shares"`
	CollateralShares string `json:"collateralShares"`
}

type deleverageBody struct {
	Market     string      `json:"market"`
	Borrower   string      `json:"borrower"`
	Shares     string      `json:"shares"`
	AmountAMin string      `json:"amountAMin"`
	AmountBMin string      `json:"amountBMin"`
	Permit     *permitBody `json:"permit"`
	Deadline   uint64      `json:"deadline"`
}

func (b deleverageBody) request() (router.DeleverageRequest, error) {
	req := router.DeleverageRequest{Market: b.Market, Deadline: b.Deadline}
	var err error
	if req.Borrower, err = parseAddress("borrower", b.Borrower); err != nil {
		return req, err
	}
	if req.Shares, err = parseAmount("shares", b.Shares); err != nil {
		return req, err
	}
	if req.AmountAMin, err = parseAmount("amountAMin", b.AmountAMin); err != nil {
		return req, err
	}
	if req.AmountBMin, err = parseAmount("amountBMin", b.AmountBMin); err != nil {
		return req, err
	}
	if req.Permit, err = b.Permit.decode("permit"); err != nil {
		return req, err
	}
	return req, nil
}

type deleverageResponse struct {
	OperationID string `json:"operationId"`
	LP          string `json:"lp"`
	AmountA     string `json:"amountA"`
	AmountB     string `json:"amountB"`
	RepaidA     string `json:"repaidA"`
	RepaidB     string `json:"repaidB"`
	RefundA     string `json:"refundA"`
	RefundB     string `json:"refundB"`
}

type mintBody struct {
	Market   string      `json:"market"`
	Borrower string      `json:"borrower"`
	Payer    string      `json:"payer"`
	LP       string      `json:"lp"`
	Permit   *permitBody `json:"permit"`
	Deadline uint64      `json:"deadline"`
}

func (b mintBody) request() (router.MintCollateralRequest, error) {
	req := router.MintCollateralRequest{Market: b.Market, Deadline: b.Deadline}
	var err error
	if req.Borrower, err = parseAddress("borrower", b.Borrower); err != nil {
		return req, err
	}
	if req.Payer, err = parseAddress("payer", b.Payer); err != nil {
		return req, err
	}
	if req.LP, err = parseAmount("lp", b.LP); err != nil {
		return req, err
	}
	if req.Permit, err = b.Permit.decode("permit"); err != nil {
		return req, err
	}
	return req, nil
}

type supplyBody struct {
	Market   string `json:"market"`
	Lender   string `json:"lender"`
	Side     string `json:"side"`
	Amount   string `json:"amount"`
	Native   bool   `json:"native"`
	Deadline uint64 `json:"deadline"`
}

func (b supplyBody) request() (router.SupplyRequest, error) {
	req := router.SupplyRequest{Market: b.Market, Native: b.Native, Deadline: b.Deadline}
	var err error
	if req.Lender, err = parseAddress("lender", b.Lender); err != nil {
		return req, err
	}
	if req.Side, err = router.ParseSide(b.Side); err != nil {
		return req, badRequest("side", err)
	}
	if req.Amount, err = parseAmount("amount", b.Amount); err != nil {
		return req, err
	}
	return req, nil
}

type repayBody struct {
	Market   string `json:"market"`
	Payer    string `json:"payer"`
	Borrower string `json:"borrower"`
	Side     string `json:"side"`
	Amount   string `json:"amount"`
	Deadline uint64 `json:"deadline"`
}

func (b repayBody) request() (router.RepayRequest, error) {
	req := router.RepayRequest{Market: b.Market, Deadline: b.Deadline}
	var err error
	if req.Payer, err = parseAddress("payer", b.Payer); err != nil {
		return req, err
	}
	if req.Borrower, err = parseAddress("borrower", b.Borrower); err != nil {
		return req, err
	}
	if req.Side, err = router.ParseSide(b.Side); err != nil {
		return req, badRequest("side", err)
	}
	if req.Amount, err = parseAmount("amount", b.Amount); err != nil {
		return req, err
	}
	return req, nil
}

type positionResponse struct {
	Market          string `json:"market"`
	Borrower        string `json:"borrower"`
	Shares          string `json:"shares"`
	LP              string `json:"lp"`
	DebtA           string `json:"debtA"`
	DebtB           string `json:"debtB"`
	CollateralValue string `json:"collateralValue"`
	DebtValue       string `json:"debtValue"`
	Surplus         string `json:"surplus"`
	Shortfall       string `json:"shortfall"`
}

func newPositionResponse(p *router.Position) positionResponse {
	return positionResponse{
		Market:          p.Market,
		Borrower:        p.Borrower.String(),
		Shares:          formatAmount(p.Shares),
		LP:              formatAmount(p.LP),
		DebtA:           formatAmount(p.DebtA),
		DebtB:           formatAmount(p.DebtB),
		CollateralValue: formatAmount(p.CollateralValue),
		DebtValue:       formatAmount(p.DebtValue),
		Surplus:         formatAmount(p.Surplus),
		Shortfall:       formatAmount(p.Shortfall),
	}
}

// rateDecimals is the precision of annual rates rendered as decimal strings.
const rateDecimals = 6

type poolResponse struct {
	Side        string `json:"side"`
	PoolID      string `json:"poolId"`
	Asset       string `json:"asset"`
	Cash        string `json:"cash"`
	Borrows     string `json:"borrows"`
	Shares      string `json:"shares"`
	BorrowIndex string `json:"borrowIndex"`
	BorrowRate  string `json:"borrowRate"`
	SupplyRate  string `json:"supplyRate"`
}

func formatRate(r *big.Rat) string {
	if r == nil {
		r = new(big.Rat)
	}
	return r.FloatString(rateDecimals)
}

func newPoolResponse(p router.PoolState) poolResponse {
	return poolResponse{
		Side:        string(p.Side),
		PoolID:      p.PoolID,
		Asset:       p.Asset,
		Cash:        formatAmount(p.Cash),
		Borrows:     formatAmount(p.TotalBorrows),
		Shares:      formatAmount(p.TotalShares),
		BorrowIndex: formatAmount(p.BorrowIndex),
		BorrowRate:  formatRate(p.BorrowRate),
		SupplyRate:  formatRate(p.SupplyRate),
	}
}

type domainBody struct {
	Name              string `json:"name"`
	ChainID           uint64 `json:"chainId"`
	VerifyingContract string `json:"verifyingContract"`
}

func newDomainBody(d permit.Domain) domainBody {
	return domainBody{Name: d.Name, ChainID: d.ChainID, VerifyingContract: d.VerifyingContract.String()}
}

type marketResponse struct {
	ID        string                `json:"id"`
	AssetA    string                `json:"assetA"`
	AssetB    string                `json:"assetB"`
	LP        string                `json:"lp"`
	Share     string                `json:"share"`
	MaxLTVBps uint64                `json:"maxLtvBps"`
	Router    string                `json:"router"`
	Domains   map[string]domainBody `json:"domains"`
}

type nonceResponse struct {
	Domain  domainBody `json:"domain"`
	Kind    string     `json:"kind"`
	Owner   string     `json:"owner"`
	Spender string     `json:"spender"`
	Nonce   uint64     `json:"nonce"`
}

type pauseBody struct {
	Module string `json:"module"`
	Paused bool   `json:"paused"`
}

type receiptResponse struct {
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	Market     string            `json:"market"`
	Borrower   string            `json:"borrower"`
	Attributes map[string]string `json:"attributes"`
	CreatedAt  int64             `json:"createdAt"`
}

type errorBody struct {
	Kind    string `json:"kind"`
	Reason  string `json:"reason,omitempty"`
	Side    string `json:"side,omitempty"`
	Asset   string `json:"asset,omitempty"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error       errorBody `json:"error"`
	OperationID string    `json:"operationId,omitempty"`
}
