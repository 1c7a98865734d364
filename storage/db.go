package storage

import (
	"errors"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	lvlstorage "github.com/syndtr/goleveldb/leveldb/storage"
)

// ErrNotFound is returned when a key is absent from the store.
var ErrNotFound = errors.New("storage: key not found")

// KV is the read/write surface shared by the database and its transactions.
type KV interface {
	Get(key []byte) ([]byte, error)
	Put(key []byte, value []byte) error
	Delete(key []byte) error
}

// Tx is an all-or-nothing batch of writes. Reads observe the transaction's own
// writes. Exactly one of Commit or Discard must be called.
type Tx interface {
	KV
	Commit() error
	Discard()
}

// Database is a generic interface for a transactional key-value store.
type Database interface {
	KV
	Begin() (Tx, error)
	Close() error
}

// LevelDB is a key-value store using LevelDB, either on disk or over
// in-memory storage.
type LevelDB struct {
	db *leveldb.DB
}

// NewLevelDB creates or opens a LevelDB database at the specified path.
func NewLevelDB(path string) (*LevelDB, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, err
	}
	return &LevelDB{db: db}, nil
}

// NewMemDB opens a LevelDB instance backed by memory (for testing).
func NewMemDB() (*LevelDB, error) {
	db, err := leveldb.Open(lvlstorage.NewMemStorage(), nil)
	if err != nil {
		return nil, err
	}
	return &LevelDB{db: db}, nil
}

// Put inserts or updates a key-value pair.
func (ldb *LevelDB) Put(key []byte, value []byte) error {
	return ldb.db.Put(key, value, nil)
}

// Get retrieves a value for a given key.
func (ldb *LevelDB) Get(key []byte) ([]byte, error) {
	value, err := ldb.db.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, ErrNotFound
	}
	return value, err
}

// Delete removes the key if present.
func (ldb *LevelDB) Delete(key []byte) error {
	return ldb.db.Delete(key, nil)
}

// Begin opens a transaction. LevelDB holds its write lock until the
// transaction is committed or discarded, so at most one is open at a time.
func (ldb *LevelDB) Begin() (Tx, error) {
	tr, err := ldb.db.OpenTransaction()
	if err != nil {
		return nil, fmt.Errorf("storage: open transaction: %w", err)
	}
	return &levelTx{tr: tr}, nil
}

// Close closes the database connection.
func (ldb *LevelDB) Close() error {
	return ldb.db.Close()
}

type levelTx struct {
	tr   *leveldb.Transaction
	done bool
}

func (t *levelTx) Get(key []byte) ([]byte, error) {
	value, err := t.tr.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, ErrNotFound
	}
	return value, err
}

func (t *levelTx) Put(key []byte, value []byte) error {
	return t.tr.Put(key, value, nil)
}

func (t *levelTx) Delete(key []byte) error {
	return t.tr.Delete(key, nil)
}

func (t *levelTx) Commit() error {
	if t.done {
		return fmt.Errorf("storage: transaction already closed")
	}
	t.done = true
	return t.tr.Commit()
}

func (t *levelTx) Discard() {
	if t.done {
		return
	}
	t.done = true
	t.tr.Discard()
}
