package permit

import (
	"fmt"

	"lpvault/crypto"
)

// Signer produces permit signatures for a single owner key.
type Signer struct {
	key *crypto.PrivateKey
}

// NewSigner wraps a private key.
func NewSigner(key *crypto.PrivateKey) *Signer {
	return &Signer{key: key}
}

// Address returns the owner address of the signing key.
func (s *Signer) Address() crypto.Address {
	return s.key.PubKey().Address()
}

// Sign fills in the owner and signature of p for the given nonce. The returned
// signature uses a 27/28 recovery id.
func (s *Signer) Sign(kind Kind, domain Domain, p Permit, nonce uint64) (Permit, error) {
	if s == nil || s.key == nil {
		return Permit{}, fmt.Errorf("permit: signer key required")
	}
	p.Owner = s.Address()
	digest, err := Digest(kind, domain, p, nonce)
	if err != nil {
		return Permit{}, err
	}
	sig, err := s.key.Sign(digest)
	if err != nil {
		return Permit{}, fmt.Errorf("permit: signing: %w", err)
	}
	if sig[64] < 27 {
		sig[64] += 27
	}
	p.Signature = sig
	return p, nil
}
