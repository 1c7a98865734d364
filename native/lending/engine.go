package lending

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"lpvault/core/state"
	"lpvault/crypto"
	nativecommon "lpvault/native/common"
	"lpvault/native/permit"
	"lpvault/native/token"
)

var (
	errNilState          = errors.New("lending engine: state not configured")
	errNilChecker        = errors.New("lending engine: collateral checker not configured")
	errInvalidAmount     = errors.New("lending engine: amount must not be negative")
	errBorrowCapExceeded = errors.New("lending engine: borrow cap exceeded")

	// ErrBorrowNotAllowed is returned when the caller holds no sufficient
	// borrow allowance from the borrower.
	ErrBorrowNotAllowed = errors.New("lending engine: borrow not allowed")
	// ErrInsufficientCash is returned when the pool cannot fund a borrow or
	// redemption.
	ErrInsufficientCash = errors.New("lending engine: insufficient cash")
	// ErrInsufficientLiquidity is returned when the borrower's collateral does
	// not cover their debt after a borrow.
	ErrInsufficientLiquidity = errors.New("lending engine: insufficient liquidity")
	// ErrInsufficientShares is returned when a lender redeems more shares than
	// they hold.
	ErrInsufficientShares = errors.New("lending engine: insufficient shares")
)

const moduleName = nativecommon.ModuleLending

type engineState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVDelete(key []byte) error
}

// CollateralChecker decides whether a borrower may carry debt in a pool. It is
// consulted after a borrow has been recorded.
type CollateralChecker interface {
	CanBorrow(borrower crypto.Address, asset string, debt *big.Int) (bool, error)
}

// BorrowCallback runs after the borrowed funds reach the receiver and before
// the collateral check.
type BorrowCallback func(borrowed *big.Int) error

// Engine runs a single-asset lending pool. Lenders hold shares priced at
// (cash + borrows) / shares; borrowers hold scaled debt.
type Engine struct {
	asset         string
	poolID        string
	state         engineState
	tokens        *token.Engine
	checker       CollateralChecker
	permits       *permit.Verifier
	chainID       uint64
	interestModel *InterestModel
	caps          BorrowCaps
	now           uint64
	pauses        nativecommon.PauseView
}

// NewEngine constructs the pool for asset moving funds through tokens.
func NewEngine(asset string, tokens *token.Engine) *Engine {
	normalized := state.NormalizeSymbol(asset)
	return &Engine{asset: normalized, poolID: normalized, tokens: tokens}
}

// SetPoolID namespaces the pool's accounts and storage. Pools default to the
// asset symbol; markets sharing an asset use distinct ids so their debts stay
// apart.
func (e *Engine) SetPoolID(id string) {
	if e == nil || strings.TrimSpace(id) == "" {
		return
	}
	e.poolID = strings.TrimSpace(id)
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(st engineState) { e.state = st }

func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// SetCollateralChecker configures the solvency check run after borrows.
func (e *Engine) SetCollateralChecker(checker CollateralChecker) {
	if e == nil {
		return
	}
	e.checker = checker
}

// SetPermits configures borrow permit verification.
func (e *Engine) SetPermits(verifier *permit.Verifier, chainID uint64) {
	if e == nil {
		return
	}
	e.permits = verifier
	e.chainID = chainID
}

// SetInterestModel configures the interest rate model used by the engine. A
// nil model disables accrual.
func (e *Engine) SetInterestModel(model *InterestModel) {
	if e == nil {
		return
	}
	e.interestModel = model.Clone()
}

// SetBorrowCaps configures the borrow throttles.
func (e *Engine) SetBorrowCaps(caps BorrowCaps) {
	if e == nil {
		return
	}
	e.caps = caps.Clone()
}

// SetNow records the timestamp used when computing accrual deltas.
func (e *Engine) SetNow(now time.Time) {
	if e == nil || now.Unix() < 0 {
		return
	}
	e.now = uint64(now.Unix())
}

// Asset returns the underlying token symbol.
func (e *Engine) Asset() string { return e.asset }

// PoolID returns the identifier namespacing the pool.
func (e *Engine) PoolID() string { return e.poolID }

// Address returns the pool account holding cash.
func (e *Engine) Address() crypto.Address { return PoolAddress(e.poolID) }

// PoolAddress returns the module account of the pool with the given id.
func PoolAddress(id string) crypto.Address {
	return crypto.ModuleAddress("lending/" + strings.TrimSpace(id))
}

// PermitDomain returns the domain borrow permits for this pool are signed in.
func (e *Engine) PermitDomain() permit.Domain {
	return permit.Domain{Name: e.poolID + " Lending Pool", ChainID: e.chainID, VerifyingContract: e.Address()}
}

func (e *Engine) marketKey() []byte {
	return []byte("lending/market/" + e.poolID)
}

func (e *Engine) borrowerKey(addr crypto.Address) []byte {
	return append([]byte("lending/borrower/"+e.poolID+"/"), addr.Bytes()...)
}

func (e *Engine) sharesKey(addr crypto.Address) []byte {
	return append([]byte("lending/shares/"+e.poolID+"/"), addr.Bytes()...)
}

func (e *Engine) borrowAllowanceKey(owner, spender crypto.Address) []byte {
	key := append([]byte("lending/borrow-allowance/"+e.poolID+"/"), owner.Bytes()...)
	return append(key, spender.Bytes()...)
}

func (e *Engine) ensureMarket() (*Market, error) {
	if e == nil || e.state == nil || e.tokens == nil {
		return nil, errNilState
	}
	market := new(Market)
	ok, err := e.state.KVGet(e.marketKey(), market)
	if err != nil {
		return nil, err
	}
	if !ok {
		market = &Market{Asset: e.asset, LastAccrual: e.now}
	}
	market.ensureDefaults()
	return market, nil
}

func (e *Engine) putMarket(market *Market) error {
	return e.state.KVPut(e.marketKey(), market)
}

func (e *Engine) loadBorrower(addr crypto.Address) (*BorrowerAccount, error) {
	account := new(BorrowerAccount)
	ok, err := e.state.KVGet(e.borrowerKey(addr), account)
	if err != nil {
		return nil, err
	}
	if !ok || account.ScaledDebt == nil {
		account.ScaledDebt = big.NewInt(0)
	}
	return account, nil
}

func (e *Engine) putBorrower(addr crypto.Address, account *BorrowerAccount) error {
	if account.ScaledDebt.Sign() == 0 {
		return e.state.KVDelete(e.borrowerKey(addr))
	}
	return e.state.KVPut(e.borrowerKey(addr), account)
}

func (e *Engine) readBig(key []byte) (*big.Int, error) {
	value := new(big.Int)
	ok, err := e.state.KVGet(key, value)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return value, nil
}

func (e *Engine) writeBig(key []byte, value *big.Int) error {
	if value.Sign() == 0 {
		return e.state.KVDelete(key)
	}
	return e.state.KVPut(key, value)
}

func (e *Engine) cash() (*big.Int, error) {
	return e.tokens.BalanceOf(e.Address(), e.asset)
}

// accrueInterest refreshes the borrow index. Interest is added to debt and so,
// through the exchange rate, to every lender's claim.
func (e *Engine) accrueInterest(market *Market) error {
	if e.now <= market.LastAccrual {
		return nil
	}
	elapsed := e.now - market.LastAccrual
	market.LastAccrual = e.now
	if e.interestModel == nil || market.TotalScaledBorrows.Sign() == 0 {
		return nil
	}
	cash, err := e.cash()
	if err != nil {
		return err
	}
	rate := e.interestModel.BorrowRate(cash, market.TotalBorrows())
	if rate.Sign() == 0 {
		return nil
	}
	market.BorrowIndex = rayMul(market.BorrowIndex, rateFactor(rate, elapsed))
	return nil
}

func (e *Engine) loadAccrued() (*Market, error) {
	market, err := e.ensureMarket()
	if err != nil {
		return nil, err
	}
	if err := e.accrueInterest(market); err != nil {
		return nil, err
	}
	return market, nil
}

// Supply transfers amount of the asset from the lender into the pool and mints
// shares at the current exchange rate. The minted share amount is returned.
func (e *Engine) Supply(lender crypto.Address, amount *big.Int) (*big.Int, error) {
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: supply %v", errInvalidAmount, amount)
	}
	market, err := e.loadAccrued()
	if err != nil {
		return nil, err
	}
	cash, err := e.cash()
	if err != nil {
		return nil, err
	}
	shares := new(big.Int).Set(amount)
	if market.TotalShares.Sign() > 0 {
		underlying := new(big.Int).Add(cash, market.TotalBorrows())
		shares = new(big.Int).Quo(new(big.Int).Mul(amount, market.TotalShares), underlying)
	}
	if shares.Sign() == 0 {
		return nil, fmt.Errorf("%w: supply too small to mint shares", errInvalidAmount)
	}
	if err := e.tokens.Transfer(lender, e.Address(), e.asset, amount); err != nil {
		return nil, err
	}
	held, err := e.readBig(e.sharesKey(lender))
	if err != nil {
		return nil, err
	}
	if err := e.writeBig(e.sharesKey(lender), held.Add(held, shares)); err != nil {
		return nil, err
	}
	market.TotalShares = new(big.Int).Add(market.TotalShares, shares)
	if err := e.putMarket(market); err != nil {
		return nil, err
	}
	return shares, nil
}

// Redeem burns lender shares and pays out the underlying at the current
// exchange rate, rounded down.
func (e *Engine) Redeem(lender crypto.Address, shares *big.Int) (*big.Int, error) {
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if shares == nil || shares.Sign() <= 0 {
		return nil, fmt.Errorf("%w: redeem %v", errInvalidAmount, shares)
	}
	market, err := e.loadAccrued()
	if err != nil {
		return nil, err
	}
	held, err := e.readBig(e.sharesKey(lender))
	if err != nil {
		return nil, err
	}
	if held.Cmp(shares) < 0 {
		return nil, ErrInsufficientShares
	}
	cash, err := e.cash()
	if err != nil {
		return nil, err
	}
	underlying := new(big.Int).Add(cash, market.TotalBorrows())
	amount := new(big.Int).Quo(new(big.Int).Mul(shares, underlying), market.TotalShares)
	if amount.Cmp(cash) > 0 {
		return nil, ErrInsufficientCash
	}
	if err := e.writeBig(e.sharesKey(lender), held.Sub(held, shares)); err != nil {
		return nil, err
	}
	market.TotalShares = new(big.Int).Sub(market.TotalShares, shares)
	if err := e.putMarket(market); err != nil {
		return nil, err
	}
	if err := e.tokens.Transfer(e.Address(), lender, e.asset, amount); err != nil {
		return nil, err
	}
	return amount, nil
}

// SharesOf returns the lender share balance.
func (e *Engine) SharesOf(lender crypto.Address) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	return e.readBig(e.sharesKey(lender))
}

// BorrowApprove lets spender borrow up to amount on behalf of owner.
func (e *Engine) BorrowApprove(owner, spender crypto.Address, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if amount == nil || amount.Sign() < 0 {
		return errInvalidAmount
	}
	return e.writeBig(e.borrowAllowanceKey(owner, spender), new(big.Int).Set(amount))
}

// BorrowAllowance returns how much spender may still borrow for owner.
func (e *Engine) BorrowAllowance(owner, spender crypto.Address) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	return e.readBig(e.borrowAllowanceKey(owner, spender))
}

// BorrowPermit verifies a signed borrow allowance and records it. The permit
// nonce is consumed so the signature cannot be replayed.
func (e *Engine) BorrowPermit(p permit.Permit, now time.Time) error {
	if e == nil || e.permits == nil {
		return errNilState
	}
	if err := e.permits.Consume(permit.KindBorrow, e.PermitDomain(), p, now); err != nil {
		return err
	}
	return e.BorrowApprove(p.Owner, p.Spender, p.Amount())
}

func (e *Engine) spendBorrowAllowance(owner, spender crypto.Address, amount *big.Int) error {
	if owner.Equal(spender) || amount.Sign() == 0 {
		return nil
	}
	allowance, err := e.BorrowAllowance(owner, spender)
	if err != nil {
		return err
	}
	if allowance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: allowance %s below %s", ErrBorrowNotAllowed, allowance, amount)
	}
	if allowance.Cmp(token.MaxAllowance) == 0 {
		return nil
	}
	return e.writeBig(e.borrowAllowanceKey(owner, spender), allowance.Sub(allowance, amount))
}

// Borrow sends amount to receiver and records the debt against borrower. When
// caller differs from borrower the borrower's allowance to caller is spent.
// The callback runs after the funds arrive; the borrower's collateral is
// checked only once it returns, so the callback may post the collateral that
// makes the borrow safe.
func (e *Engine) Borrow(caller, borrower, receiver crypto.Address, amount *big.Int, callback BorrowCallback) error {
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if amount == nil || amount.Sign() < 0 {
		return errInvalidAmount
	}
	if e.checker == nil {
		return errNilChecker
	}
	market, err := e.loadAccrued()
	if err != nil {
		return err
	}
	if err := e.spendBorrowAllowance(borrower, caller, amount); err != nil {
		return err
	}
	if amount.Sign() > 0 {
		cash, err := e.cash()
		if err != nil {
			return err
		}
		if cash.Cmp(amount) < 0 {
			return fmt.Errorf("%w: %s %s available, %s requested", ErrInsufficientCash, cash, e.asset, amount)
		}
		account, err := e.loadBorrower(borrower)
		if err != nil {
			return err
		}
		scaled := scaledDebtFromAmount(amount, market.BorrowIndex)
		account.ScaledDebt = new(big.Int).Add(account.ScaledDebt, scaled)
		market.TotalScaledBorrows = new(big.Int).Add(market.TotalScaledBorrows, scaled)
		if err := e.caps.check(market.TotalBorrows(), new(big.Int).Sub(cash, amount)); err != nil {
			return err
		}
		if err := e.putBorrower(borrower, account); err != nil {
			return err
		}
		if err := e.putMarket(market); err != nil {
			return err
		}
		if err := e.tokens.Transfer(e.Address(), receiver, e.asset, amount); err != nil {
			return err
		}
	} else if err := e.putMarket(market); err != nil {
		return err
	}

	if callback != nil {
		if err := callback(new(big.Int).Set(amount)); err != nil {
			return err
		}
	}

	debt, err := e.DebtOf(borrower)
	if err != nil {
		return err
	}
	ok, err := e.checker.CanBorrow(borrower, e.asset, debt)
	if err != nil {
		return err
	}
	if !ok {
		return ErrInsufficientLiquidity
	}
	return nil
}

// Repay pulls up to amount from payer towards borrower's debt. Only the
// outstanding debt is taken; the remainder is reported as refund and never
// leaves the payer. Paying at least DebtOf clears the debt exactly.
func (e *Engine) Repay(payer, borrower crypto.Address, amount *big.Int) (*big.Int, *big.Int, error) {
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, nil, err
	}
	if amount == nil || amount.Sign() < 0 {
		return nil, nil, errInvalidAmount
	}
	market, err := e.loadAccrued()
	if err != nil {
		return nil, nil, err
	}
	account, err := e.loadBorrower(borrower)
	if err != nil {
		return nil, nil, err
	}
	debt := debtFromScaled(account.ScaledDebt, market.BorrowIndex)
	repaid := minBig(new(big.Int).Set(amount), debt)
	refund := new(big.Int).Sub(amount, repaid)
	if repaid.Sign() == 0 {
		return repaid, refund, e.putMarket(market)
	}

	scaledRepay := account.ScaledDebt
	if repaid.Cmp(debt) < 0 {
		scaledRepay = minBig(scaledRepayFromAmount(repaid, market.BorrowIndex), account.ScaledDebt)
	}
	if err := e.tokens.Transfer(payer, e.Address(), e.asset, repaid); err != nil {
		return nil, nil, err
	}
	market.TotalScaledBorrows = new(big.Int).Sub(market.TotalScaledBorrows, scaledRepay)
	if market.TotalScaledBorrows.Sign() < 0 {
		market.TotalScaledBorrows = big.NewInt(0)
	}
	account.ScaledDebt = new(big.Int).Sub(account.ScaledDebt, scaledRepay)
	if err := e.putBorrower(borrower, account); err != nil {
		return nil, nil, err
	}
	if err := e.putMarket(market); err != nil {
		return nil, nil, err
	}
	return repaid, refund, nil
}

// DebtOf returns the borrower's current debt including accrued interest,
// rounded up.
func (e *Engine) DebtOf(borrower crypto.Address) (*big.Int, error) {
	market, err := e.ensureMarket()
	if err != nil {
		return nil, err
	}
	if err := e.accrueInterest(market); err != nil {
		return nil, err
	}
	account, err := e.loadBorrower(borrower)
	if err != nil {
		return nil, err
	}
	return debtFromScaled(account.ScaledDebt, market.BorrowIndex), nil
}

// Snapshot reports the pool totals with interest accrued to now.
func (e *Engine) Snapshot() (*Snapshot, error) {
	market, err := e.loadAccrued()
	if err != nil {
		return nil, err
	}
	cash, err := e.cash()
	if err != nil {
		return nil, err
	}
	borrows := market.TotalBorrows()
	return &Snapshot{
		Asset:        e.asset,
		Cash:         cash,
		TotalBorrows: borrows,
		TotalShares:  cloneBigInt(market.TotalShares),
		BorrowIndex:  cloneBigInt(market.BorrowIndex),
		BorrowRate:   e.interestModel.BorrowRate(cash, borrows),
		SupplyRate:   e.interestModel.SupplyRate(cash, borrows),
	}, nil
}
