package state

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"lpvault/crypto"
	"lpvault/storage"
)

// Manager provides typed access to protocol state stored in a key-value
// transaction. Values are RLP encoded and keys are hashed with keccak256.
type Manager struct {
	kv storage.KV
}

// NewManager creates a state manager operating on the provided store, usually
// the transaction opened by the ledger for the current operation.
func NewManager(kv storage.KV) *Manager {
	return &Manager{kv: kv}
}

type TokenMetadata struct {
	Symbol   string
	Name     string
	Decimals uint8
	// Native marks the chain currency. Native balances are never minted by
	// token engines outside genesis.
	Native bool
}

var (
	tokenPrefix     = []byte("token:")
	tokenListKey    = []byte("token-list")
	balancePrefix   = []byte("balance:")
	allowancePrefix = []byte("allowance:")
	noncePrefix     = []byte("permit-nonce:")
	pausePrefix     = []byte("pause:")
)

// NormalizeSymbol returns the canonical upper-case token symbol.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

func tokenMetadataKey(symbol string) []byte {
	buf := make([]byte, len(tokenPrefix)+len(symbol))
	copy(buf, tokenPrefix)
	copy(buf[len(tokenPrefix):], symbol)
	return buf
}

func balanceKey(addr []byte, symbol string) []byte {
	buf := make([]byte, len(balancePrefix)+len(symbol)+1+len(addr))
	copy(buf, balancePrefix)
	copy(buf[len(balancePrefix):], symbol)
	buf[len(balancePrefix)+len(symbol)] = ':'
	copy(buf[len(balancePrefix)+len(symbol)+1:], addr)
	return buf
}

func allowanceKey(owner, spender []byte, symbol string) []byte {
	buf := make([]byte, 0, len(allowancePrefix)+len(symbol)+2+len(owner)+len(spender))
	buf = append(buf, allowancePrefix...)
	buf = append(buf, symbol...)
	buf = append(buf, ':')
	buf = append(buf, owner...)
	buf = append(buf, ':')
	buf = append(buf, spender...)
	return buf
}

func nonceKey(owner []byte, domain string) []byte {
	buf := make([]byte, 0, len(noncePrefix)+len(domain)+1+len(owner))
	buf = append(buf, noncePrefix...)
	buf = append(buf, domain...)
	buf = append(buf, ':')
	buf = append(buf, owner...)
	return buf
}

func kvKey(key []byte) []byte {
	return ethcrypto.Keccak256(key)
}

// KVPut stores the provided value under the supplied key using RLP encoding.
// The key is automatically hashed with keccak256.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	return m.kv.Put(kvKey(key), encoded)
}

// KVGet retrieves the value stored under the supplied key and decodes it into
// the provided destination. The boolean return value indicates whether the key
// existed in state.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	data, err := m.kv.Get(kvKey(key))
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if len(data) == 0 {
		return false, nil
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, err
	}
	return true, nil
}

// KVDelete removes the value stored under key.
func (m *Manager) KVDelete(key []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	return m.kv.Delete(kvKey(key))
}

// RegisterToken stores the metadata for a token and records it in the token
// index. Registering an existing symbol is an error.
func (m *Manager) RegisterToken(meta TokenMetadata) error {
	symbol := NormalizeSymbol(meta.Symbol)
	if symbol == "" {
		return fmt.Errorf("token symbol must not be empty")
	}
	existing, err := m.Token(symbol)
	if err != nil {
		return err
	}
	if existing != nil {
		return fmt.Errorf("token %s already registered", symbol)
	}
	meta.Symbol = symbol
	if err := m.KVPut(tokenMetadataKey(symbol), &meta); err != nil {
		return err
	}
	list, err := m.TokenList()
	if err != nil {
		return err
	}
	list = append(list, symbol)
	return m.KVPut(tokenListKey, list)
}

// Token returns the metadata of a registered token or nil when unknown.
func (m *Manager) Token(symbol string) (*TokenMetadata, error) {
	meta := new(TokenMetadata)
	ok, err := m.KVGet(tokenMetadataKey(NormalizeSymbol(symbol)), meta)
	if err != nil || !ok {
		return nil, err
	}
	return meta, nil
}

// TokenExists reports whether the provided token symbol is registered.
func (m *Manager) TokenExists(symbol string) bool {
	meta, err := m.Token(symbol)
	return err == nil && meta != nil
}

// TokenList returns the registered symbols in registration order.
func (m *Manager) TokenList() ([]string, error) {
	var list []string
	ok, err := m.KVGet(tokenListKey, &list)
	if err != nil {
		return nil, err
	}
	if !ok {
		return []string{}, nil
	}
	return list, nil
}

// SetBalance stores an account balance for the provided token.
func (m *Manager) SetBalance(addr crypto.Address, symbol string, amount *big.Int) error {
	if len(addr.Bytes()) == 0 {
		return fmt.Errorf("address must not be empty")
	}
	if amount == nil {
		amount = big.NewInt(0)
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("negative balance not allowed")
	}
	normalized := NormalizeSymbol(symbol)
	if !m.TokenExists(normalized) {
		return fmt.Errorf("token %s not registered", normalized)
	}
	return m.KVPut(balanceKey(addr.Bytes(), normalized), amount)
}

// Balance retrieves a token balance for the provided account and token.
func (m *Manager) Balance(addr crypto.Address, symbol string) (*big.Int, error) {
	amount := new(big.Int)
	ok, err := m.KVGet(balanceKey(addr.Bytes(), NormalizeSymbol(symbol)), amount)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return amount, nil
}

// SetAllowance records how much of symbol the spender may move on behalf of
// owner.
func (m *Manager) SetAllowance(owner, spender crypto.Address, symbol string, amount *big.Int) error {
	if len(owner.Bytes()) == 0 || len(spender.Bytes()) == 0 {
		return fmt.Errorf("allowance: owner and spender required")
	}
	if amount == nil {
		amount = big.NewInt(0)
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("negative allowance not allowed")
	}
	key := allowanceKey(owner.Bytes(), spender.Bytes(), NormalizeSymbol(symbol))
	if amount.Sign() == 0 {
		return m.KVDelete(key)
	}
	return m.KVPut(key, amount)
}

// Allowance returns the remaining amount spender may move for owner.
func (m *Manager) Allowance(owner, spender crypto.Address, symbol string) (*big.Int, error) {
	amount := new(big.Int)
	ok, err := m.KVGet(allowanceKey(owner.Bytes(), spender.Bytes(), NormalizeSymbol(symbol)), amount)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return amount, nil
}

// PermitNonce returns the next unused permit nonce for owner within domain.
func (m *Manager) PermitNonce(owner crypto.Address, domain string) (uint64, error) {
	var nonce uint64
	if _, err := m.KVGet(nonceKey(owner.Bytes(), strings.TrimSpace(domain)), &nonce); err != nil {
		return 0, err
	}
	return nonce, nil
}

// SetPermitNonce stores the next unused permit nonce for owner within domain.
func (m *Manager) SetPermitNonce(owner crypto.Address, domain string, nonce uint64) error {
	return m.KVPut(nonceKey(owner.Bytes(), strings.TrimSpace(domain)), nonce)
}

func pauseKey(module string) []byte {
	return append(append([]byte(nil), pausePrefix...), strings.ToLower(strings.TrimSpace(module))...)
}

// SetModulePaused toggles the pause switch for a module.
func (m *Manager) SetModulePaused(module string, paused bool) error {
	key := pauseKey(module)
	if !paused {
		return m.KVDelete(key)
	}
	return m.KVPut(key, paused)
}

// ModulePaused reports whether the module has been paused by an operator.
func (m *Manager) ModulePaused(module string) (bool, error) {
	var paused bool
	ok, err := m.KVGet(pauseKey(module), &paused)
	if err != nil {
		return false, err
	}
	return ok && paused, nil
}

// IsPaused implements common.PauseView. Read failures count as paused.
func (m *Manager) IsPaused(module string) bool {
	paused, err := m.ModulePaused(module)
	if err != nil {
		return true
	}
	return paused
}
