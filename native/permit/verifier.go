package permit

import (
	"fmt"
	"time"

	"lpvault/crypto"
)

type nonceState interface {
	PermitNonce(owner crypto.Address, domain string) (uint64, error)
	SetPermitNonce(owner crypto.Address, domain string, nonce uint64) error
}

// Verifier checks permits against the owner's current nonce and burns the nonce
// once a permit is used.
type Verifier struct {
	state nonceState
}

// NewVerifier binds a verifier to the nonce store.
func NewVerifier(st nonceState) *Verifier {
	return &Verifier{state: st}
}

// Nonce returns the nonce the next permit for owner in domain must be signed
// with.
func (v *Verifier) Nonce(owner crypto.Address, domain Domain) (uint64, error) {
	return v.state.PermitNonce(owner, domain.Key())
}

// Verify checks the deadline and that the signature recovers to the owner for
// the current nonce. It does not change state.
func (v *Verifier) Verify(kind Kind, domain Domain, p Permit, now time.Time) error {
	_, err := v.verify(kind, domain, p, now)
	return err
}

// Consume verifies the permit and advances the owner's nonce so the same
// signed payload can never be accepted again.
func (v *Verifier) Consume(kind Kind, domain Domain, p Permit, now time.Time) error {
	nonce, err := v.verify(kind, domain, p, now)
	if err != nil {
		return err
	}
	return v.state.SetPermitNonce(p.Owner, domain.Key(), nonce+1)
}

func (v *Verifier) verify(kind Kind, domain Domain, p Permit, now time.Time) (uint64, error) {
	if v == nil || v.state == nil {
		return 0, fmt.Errorf("permit: verifier not configured")
	}
	if p.Expired(now) {
		return 0, ErrPermitExpired
	}
	nonce, err := v.state.PermitNonce(p.Owner, domain.Key())
	if err != nil {
		return 0, err
	}
	digest, err := Digest(kind, domain, p, nonce)
	if err != nil {
		return 0, err
	}
	signer, err := crypto.RecoverAddress(digest, p.Signature)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrPermitSignature, err)
	}
	if !signer.Equal(p.Owner) {
		return 0, ErrPermitSignature
	}
	return nonce, nil
}
