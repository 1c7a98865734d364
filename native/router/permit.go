package router

import (
	"context"
	"fmt"
	"strings"

	"lpvault/core"
	"lpvault/crypto"
	"lpvault/native/amm"
	"lpvault/native/lending"
	"lpvault/native/permit"
)

func lpPermitDomain(m Market, chainID uint64) permit.Domain {
	return permit.Domain{Name: m.LP, ChainID: chainID, VerifyingContract: amm.PairAddress(m.LP)}
}

// checkPermitParties rejects permits that do not authorise the router on
// behalf of owner before any signature work is done.
func checkPermitParties(p *permit.Permit, owner crypto.Address) error {
	if !p.Spender.Equal(Address()) {
		return authorizationError(ReasonPermitSpender, fmt.Errorf("permit spender %s is not the router", p.Spender))
	}
	if !p.Owner.Equal(owner) {
		return authorizationError(ReasonInvalidPermit, fmt.Errorf("permit owner %s does not match %s", p.Owner, owner))
	}
	return nil
}

// applyBorrowPermit turns an optional borrow permit into a borrow allowance
// for the router. A missing permit leaves any standing allowance in charge.
func (b *binding) applyBorrowPermit(pool *lending.Engine, p *permit.Permit, borrower crypto.Address) error {
	if p == nil {
		return nil
	}
	if err := checkPermitParties(p, borrower); err != nil {
		return err
	}
	return pool.BorrowPermit(*p, b.tx.Now())
}

// applySharePermit records a collateral share allowance for the router.
func (b *binding) applySharePermit(p *permit.Permit, borrower crypto.Address) error {
	if p == nil {
		return nil
	}
	if err := checkPermitParties(p, borrower); err != nil {
		return err
	}
	return b.vault.ApplyPermit(*p, b.tx.Now())
}

// applyLPPermit records an LP token allowance for the router.
func (b *binding) applyLPPermit(p *permit.Permit, payer crypto.Address) error {
	if p == nil {
		return nil
	}
	if err := checkPermitParties(p, payer); err != nil {
		return err
	}
	if err := b.permits.Consume(permit.KindPermit, lpPermitDomain(b.market, b.chainID), *p, b.tx.Now()); err != nil {
		return err
	}
	return b.tokens.Approve(p.Owner, p.Spender, b.market.LP, p.Amount())
}

// Permit domain names as exposed to clients.
const (
	DomainBorrowA = "borrowA"
	DomainBorrowB = "borrowB"
	DomainShare   = "share"
	DomainLP      = "lp"
)

// Lookup returns the domain registered under name and the struct kind permits
// for it are signed as.
func (d PermitDomains) Lookup(name string) (permit.Domain, permit.Kind, error) {
	switch strings.TrimSpace(name) {
	case DomainBorrowA:
		return d.BorrowA, permit.KindBorrow, nil
	case DomainBorrowB:
		return d.BorrowB, permit.KindBorrow, nil
	case DomainShare:
		return d.Share, permit.KindPermit, nil
	case DomainLP:
		return d.LP, permit.KindPermit, nil
	}
	return permit.Domain{}, "", fmt.Errorf("router: unknown permit domain %q", name)
}

// PermitNonce returns the nonce owner's next permit in domain must be signed
// with.
func (r *Router) PermitNonce(ctx context.Context, domain permit.Domain, owner crypto.Address) (uint64, error) {
	var nonce uint64
	err := r.ledger.View(ctx, func(tx *core.Tx) error {
		n, err := permit.NewVerifier(tx.State).Nonce(owner, domain)
		nonce = n
		return err
	})
	return nonce, err
}
