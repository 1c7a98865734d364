package permit

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"lpvault/crypto"
)

var (
	// ErrPermitExpired is returned when the permit deadline has passed.
	ErrPermitExpired = errors.New("permit: expired")
	// ErrPermitSignature is returned when the signature does not recover to
	// the owner for the current nonce.
	ErrPermitSignature = errors.New("permit: invalid signature")
	// ErrPermitMalformed is returned for permits missing required fields.
	ErrPermitMalformed = errors.New("permit: malformed")
)

// Kind selects the signed struct type.
type Kind string

const (
	// KindPermit authorises token or collateral share allowances.
	KindPermit Kind = "Permit"
	// KindBorrow authorises borrowing on behalf of the owner.
	KindBorrow Kind = "BorrowPermit"
)

// Version is the domain version shared by every permit domain.
const Version = "1"

var (
	domainTypeHash = ethcrypto.Keccak256(
		[]byte("EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)"),
	)
	permitTypeHash = ethcrypto.Keccak256(
		[]byte("Permit(address owner,address spender,uint256 value,uint256 nonce,uint256 deadline)"),
	)
	borrowPermitTypeHash = ethcrypto.Keccak256(
		[]byte("BorrowPermit(address owner,address spender,uint256 value,uint256 nonce,uint256 deadline)"),
	)
)

// maxValue is 2^256-1, the allowance granted by ApproveMax permits.
var maxValue = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// Domain identifies the module a permit is valid for.
type Domain struct {
	Name              string
	ChainID           uint64
	VerifyingContract crypto.Address
}

// Key scopes nonces: one counter per owner per domain.
func (d Domain) Key() string {
	return strings.TrimSpace(d.Name) + "@" + d.VerifyingContract.String()
}

// Separator returns the EIP-712 domain separator.
func (d Domain) Separator() []byte {
	return ethcrypto.Keccak256(
		domainTypeHash,
		ethcrypto.Keccak256([]byte(strings.TrimSpace(d.Name))),
		ethcrypto.Keccak256([]byte(Version)),
		math.U256Bytes(new(big.Int).SetUint64(d.ChainID)),
		common.LeftPadBytes(d.VerifyingContract.Bytes(), 32),
	)
}

// Permit is an off-chain signed allowance grant.
type Permit struct {
	Owner   crypto.Address
	Spender crypto.Address
	Value   *big.Int
	// ApproveMax grants the maximum allowance regardless of Value.
	ApproveMax bool
	// Deadline is a unix timestamp in seconds.
	Deadline  uint64
	Signature []byte
}

// Amount returns the allowance the permit grants.
func (p Permit) Amount() *big.Int {
	if p.ApproveMax {
		return new(big.Int).Set(maxValue)
	}
	if p.Value == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(p.Value)
}

// Digest returns the EIP-712 hash the owner signs for the given nonce.
func Digest(kind Kind, domain Domain, p Permit, nonce uint64) ([]byte, error) {
	var typeHash []byte
	switch kind {
	case KindPermit:
		typeHash = permitTypeHash
	case KindBorrow:
		typeHash = borrowPermitTypeHash
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrPermitMalformed, kind)
	}
	if p.Owner.IsZero() || p.Spender.IsZero() {
		return nil, fmt.Errorf("%w: owner and spender required", ErrPermitMalformed)
	}
	amount := p.Amount()
	if amount.Sign() < 0 || amount.Cmp(maxValue) > 0 {
		return nil, fmt.Errorf("%w: value out of range", ErrPermitMalformed)
	}
	structHash := ethcrypto.Keccak256(
		typeHash,
		common.LeftPadBytes(p.Owner.Bytes(), 32),
		common.LeftPadBytes(p.Spender.Bytes(), 32),
		math.U256Bytes(amount),
		math.U256Bytes(new(big.Int).SetUint64(nonce)),
		math.U256Bytes(new(big.Int).SetUint64(p.Deadline)),
	)
	return ethcrypto.Keccak256([]byte{0x19, 0x01}, domain.Separator(), structHash), nil
}

// Expired reports whether the deadline has passed at now. Times before the
// Unix epoch are always expired.
func (p Permit) Expired(now time.Time) bool {
	ts := now.Unix()
	return ts < 0 || uint64(ts) > p.Deadline
}
