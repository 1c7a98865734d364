package collateral

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"lpvault/core/state"
	"lpvault/crypto"
	nativecommon "lpvault/native/common"
	"lpvault/native/permit"
	"lpvault/native/token"
)

var (
	errNilState     = errors.New("collateral vault: not configured")
	errInvalidShare = errors.New("collateral vault: amount must be positive")

	// ErrTransferNotAllowed is returned when the caller lacks a share
	// allowance from the account.
	ErrTransferNotAllowed = errors.New("collateral vault: transfer not allowed")
	// ErrInsufficientCollateral is returned when an account redeems or
	// transfers more shares than it holds.
	ErrInsufficientCollateral = errors.New("collateral vault: insufficient collateral")
	// ErrInsufficientLiquidity is returned when an operation would leave the
	// account's debt uncovered.
	ErrInsufficientLiquidity = errors.New("collateral vault: insufficient liquidity")
	// ErrUnknownAsset is returned when a health check names an asset the
	// vault does not lend against.
	ErrUnknownAsset = errors.New("collateral vault: unknown asset")
)

// DefaultMaxLTVBps is the loan-to-value ceiling used when none is configured.
const DefaultMaxLTVBps = 9_000

const moduleName = nativecommon.ModuleCollateral

var basisPoints = big.NewInt(10_000)

// DebtSource reports what an account owes in one asset.
type DebtSource interface {
	Asset() string
	DebtOf(account crypto.Address) (*big.Int, error)
}

// Pool is the pair that prices the LP collateral, oriented A/B.
type Pool interface {
	LP() string
	Reserves() (*big.Int, *big.Int, error)
	TotalLiquidity() (*big.Int, error)
}

// Config describes one collateral vault.
type Config struct {
	// ShareSymbol is the token symbol of the vault's collateral shares.
	ShareSymbol string
	AssetA      string
	AssetB      string
	// MaxLTVBps bounds debt value against collateral value.
	MaxLTVBps uint64
}

// RedeemCallback receives the exact LP amount paid out before the account's
// health is checked.
type RedeemCallback func(lp *big.Int) error

// Vault holds LP tokens and tracks collateral shares as fungible tokens.
type Vault struct {
	cfg     Config
	tokens  *token.Engine
	pool    Pool
	debtA   DebtSource
	debtB   DebtSource
	permits *permit.Verifier
	chainID uint64
	pauses  nativecommon.PauseView
}

// NewVault binds a vault to its token engine and pricing pair.
func NewVault(cfg Config, tokens *token.Engine, pool Pool) *Vault {
	cfg.ShareSymbol = state.NormalizeSymbol(cfg.ShareSymbol)
	cfg.AssetA = state.NormalizeSymbol(cfg.AssetA)
	cfg.AssetB = state.NormalizeSymbol(cfg.AssetB)
	if cfg.MaxLTVBps == 0 {
		cfg.MaxLTVBps = DefaultMaxLTVBps
	}
	return &Vault{cfg: cfg, tokens: tokens, pool: pool}
}

// SetDebtSources wires the lending pools for asset A and asset B.
func (v *Vault) SetDebtSources(a, b DebtSource) {
	v.debtA = a
	v.debtB = b
}

// SetPermits configures share permit verification.
func (v *Vault) SetPermits(verifier *permit.Verifier, chainID uint64) {
	v.permits = verifier
	v.chainID = chainID
}

func (v *Vault) SetPauses(p nativecommon.PauseView) { v.pauses = p }

// ShareSymbol returns the collateral share token symbol.
func (v *Vault) ShareSymbol() string { return v.cfg.ShareSymbol }

// Address returns the module account holding the vault's LP.
func (v *Vault) Address() crypto.Address { return VaultAddress(v.cfg.ShareSymbol) }

// VaultAddress returns the module account of the vault issuing share.
func VaultAddress(share string) crypto.Address {
	return crypto.ModuleAddress("collateral/" + state.NormalizeSymbol(share))
}

// PermitDomain returns the domain share permits are signed in.
func (v *Vault) PermitDomain() permit.Domain {
	return permit.Domain{Name: v.cfg.ShareSymbol, ChainID: v.chainID, VerifyingContract: v.Address()}
}

func (v *Vault) ready() error {
	if v == nil || v.tokens == nil || v.pool == nil {
		return errNilState
	}
	return nil
}

func (v *Vault) totals() (lpHeld, totalShares *big.Int, err error) {
	lpHeld, err = v.tokens.BalanceOf(v.Address(), v.pool.LP())
	if err != nil {
		return nil, nil, err
	}
	totalShares, err = v.tokens.TotalSupply(v.cfg.ShareSymbol)
	if err != nil {
		return nil, nil, err
	}
	return lpHeld, totalShares, nil
}

// BalanceOf returns the collateral shares held by account.
func (v *Vault) BalanceOf(account crypto.Address) (*big.Int, error) {
	if err := v.ready(); err != nil {
		return nil, err
	}
	return v.tokens.BalanceOf(account, v.cfg.ShareSymbol)
}

// LPForShares converts shares into the LP they currently redeem for, rounded
// down.
func (v *Vault) LPForShares(shares *big.Int) (*big.Int, error) {
	if err := v.ready(); err != nil {
		return nil, err
	}
	lpHeld, totalShares, err := v.totals()
	if err != nil {
		return nil, err
	}
	if totalShares.Sign() == 0 || shares == nil {
		return big.NewInt(0), nil
	}
	return new(big.Int).Quo(new(big.Int).Mul(shares, lpHeld), totalShares), nil
}

// Mint pulls lp LP tokens from payer and credits the resulting shares to
// borrower. Shares are issued 1:1 while the vault is empty.
func (v *Vault) Mint(payer crypto.Address, lp *big.Int, borrower crypto.Address) (*big.Int, error) {
	if err := v.ready(); err != nil {
		return nil, err
	}
	if err := nativecommon.Guard(v.pauses, moduleName); err != nil {
		return nil, err
	}
	if lp == nil || lp.Sign() <= 0 {
		return nil, errInvalidShare
	}
	lpHeld, totalShares, err := v.totals()
	if err != nil {
		return nil, err
	}
	shares := new(big.Int).Set(lp)
	if totalShares.Sign() > 0 && lpHeld.Sign() > 0 {
		shares = new(big.Int).Quo(new(big.Int).Mul(lp, totalShares), lpHeld)
	}
	if shares.Sign() == 0 {
		return nil, fmt.Errorf("%w: deposit too small", errInvalidShare)
	}
	if err := v.tokens.Transfer(payer, v.Address(), v.pool.LP(), lp); err != nil {
		return nil, err
	}
	if err := v.tokens.Mint(borrower, v.cfg.ShareSymbol, shares); err != nil {
		return nil, err
	}
	return shares, nil
}

func (v *Vault) spendAllowance(account, spender crypto.Address, shares *big.Int) error {
	if err := v.tokens.SpendAllowance(account, spender, v.cfg.ShareSymbol, shares); err != nil {
		if errors.Is(err, token.ErrTransferNotAllowed) {
			return fmt.Errorf("%w: %v", ErrTransferNotAllowed, err)
		}
		return err
	}
	return nil
}

func (v *Vault) requireShares(account crypto.Address, shares *big.Int) error {
	held, err := v.tokens.BalanceOf(account, v.cfg.ShareSymbol)
	if err != nil {
		return err
	}
	if held.Cmp(shares) < 0 {
		return fmt.Errorf("%w: holds %s shares, needs %s", ErrInsufficientCollateral, held, shares)
	}
	return nil
}

// FlashRedeem burns shares from account and pays the LP to recipient. When
// redeemer differs from account the account's share allowance is spent. The
// callback runs before the account's health is checked, so it may repay the
// debt the shares were backing.
func (v *Vault) FlashRedeem(redeemer, account crypto.Address, shares *big.Int, recipient crypto.Address, callback RedeemCallback) (*big.Int, error) {
	if err := v.ready(); err != nil {
		return nil, err
	}
	if err := nativecommon.Guard(v.pauses, moduleName); err != nil {
		return nil, err
	}
	if shares == nil || shares.Sign() <= 0 {
		return nil, errInvalidShare
	}
	if !redeemer.Equal(account) {
		if err := v.spendAllowance(account, redeemer, shares); err != nil {
			return nil, err
		}
	}
	if err := v.requireShares(account, shares); err != nil {
		return nil, err
	}
	lp, err := v.LPForShares(shares)
	if err != nil {
		return nil, err
	}
	if lp.Sign() == 0 {
		return nil, fmt.Errorf("%w: redeems no LP", errInvalidShare)
	}
	if err := v.tokens.Burn(account, v.cfg.ShareSymbol, shares); err != nil {
		return nil, err
	}
	if err := v.tokens.Transfer(v.Address(), recipient, v.pool.LP(), lp); err != nil {
		return nil, err
	}
	if callback != nil {
		if err := callback(new(big.Int).Set(lp)); err != nil {
			return nil, err
		}
	}
	if err := v.requireHealthy(account); err != nil {
		return nil, err
	}
	return lp, nil
}

// Transfer moves shares between accounts. The sender must stay healthy.
func (v *Vault) Transfer(from, to crypto.Address, shares *big.Int) error {
	if err := v.ready(); err != nil {
		return err
	}
	if err := nativecommon.Guard(v.pauses, moduleName); err != nil {
		return err
	}
	if err := v.requireShares(from, shares); err != nil {
		return err
	}
	if err := v.tokens.Transfer(from, to, v.cfg.ShareSymbol, shares); err != nil {
		return err
	}
	return v.requireHealthy(from)
}

// TransferFrom moves shares on behalf of from, spending its allowance.
func (v *Vault) TransferFrom(spender, from, to crypto.Address, shares *big.Int) error {
	if err := v.ready(); err != nil {
		return err
	}
	if err := v.spendAllowance(from, spender, shares); err != nil {
		return err
	}
	return v.Transfer(from, to, shares)
}

// Approve sets the share allowance of spender over owner's collateral.
func (v *Vault) Approve(owner, spender crypto.Address, shares *big.Int) error {
	if err := v.ready(); err != nil {
		return err
	}
	return v.tokens.Approve(owner, spender, v.cfg.ShareSymbol, shares)
}

// Allowance returns the share allowance of spender over owner's collateral.
func (v *Vault) Allowance(owner, spender crypto.Address) (*big.Int, error) {
	if err := v.ready(); err != nil {
		return nil, err
	}
	return v.tokens.Allowance(owner, spender, v.cfg.ShareSymbol)
}

// ApplyPermit verifies a signed share allowance and records it.
func (v *Vault) ApplyPermit(p permit.Permit, now time.Time) error {
	if err := v.ready(); err != nil {
		return err
	}
	if v.permits == nil {
		return errNilState
	}
	if err := v.permits.Consume(permit.KindPermit, v.PermitDomain(), p, now); err != nil {
		return err
	}
	return v.tokens.Approve(p.Owner, p.Spender, v.cfg.ShareSymbol, p.Amount())
}
