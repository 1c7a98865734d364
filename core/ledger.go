package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"lpvault/core/events"
	"lpvault/core/state"
	"lpvault/core/types"
	"lpvault/storage"
)

// ErrLedgerClosed is returned once the ledger has been closed.
var ErrLedgerClosed = errors.New("ledger: closed")

// Ledger serialises every state mutation behind a single lock and runs each
// operation inside one storage transaction. An operation either commits all of
// its writes or none of them.
type Ledger struct {
	stateMu sync.Mutex
	db      storage.Database
	emitter events.Emitter
	clock   func() time.Time
	closed  bool
}

// Tx is the execution context handed to a ledger operation.
type Tx struct {
	State  *state.Manager
	now    time.Time
	events []events.Event
}

// Now returns the execution timestamp of the operation. Deadlines are compared
// against this value.
func (tx *Tx) Now() time.Time { return tx.now }

// Emit buffers an event until the operation commits. Tx satisfies
// events.Emitter so engines can be pointed straight at it.
func (tx *Tx) Emit(evt events.Event) {
	if evt == nil {
		return
	}
	tx.events = append(tx.events, evt)
}

// NewLedger wraps db. A nil emitter discards committed events.
func NewLedger(db storage.Database, emitter events.Emitter) *Ledger {
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	return &Ledger{db: db, emitter: emitter, clock: time.Now}
}

// SetClock overrides the time source used for execution timestamps.
func (l *Ledger) SetClock(clock func() time.Time) {
	l.stateMu.Lock()
	defer l.stateMu.Unlock()
	if clock == nil {
		clock = time.Now
	}
	l.clock = clock
}

// SetEmitter replaces the downstream event sink.
func (l *Ledger) SetEmitter(emitter events.Emitter) {
	l.stateMu.Lock()
	defer l.stateMu.Unlock()
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	l.emitter = emitter
}

// Execute runs fn inside a fresh transaction. The transaction is committed when
// fn returns nil and discarded otherwise. Buffered events are forwarded to the
// emitter only after a successful commit and are returned rendered.
func (l *Ledger) Execute(ctx context.Context, fn func(*Tx) error) ([]*types.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.stateMu.Lock()
	defer l.stateMu.Unlock()
	if l.closed {
		return nil, ErrLedgerClosed
	}

	dbtx, err := l.db.Begin()
	if err != nil {
		return nil, err
	}
	committed := false
	defer func() {
		if !committed {
			dbtx.Discard()
		}
	}()
	tx := &Tx{State: state.NewManager(dbtx), now: l.clock().UTC()}
	if err := fn(tx); err != nil {
		return nil, err
	}
	if err := dbtx.Commit(); err != nil {
		return nil, fmt.Errorf("ledger: commit: %w", err)
	}
	committed = true

	rendered := make([]*types.Event, 0, len(tx.events))
	for _, evt := range tx.events {
		l.emitter.Emit(evt)
		rendered = append(rendered, events.Render(evt))
	}
	return rendered, nil
}

// View runs fn over a transaction that is always discarded. Writes made by fn
// are never persisted and events are dropped.
func (l *Ledger) View(ctx context.Context, fn func(*Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.stateMu.Lock()
	defer l.stateMu.Unlock()
	if l.closed {
		return ErrLedgerClosed
	}

	dbtx, err := l.db.Begin()
	if err != nil {
		return err
	}
	defer dbtx.Discard()
	return fn(&Tx{State: state.NewManager(dbtx), now: l.clock().UTC()})
}

// Close closes the underlying database. Operations issued afterwards fail
// with ErrLedgerClosed.
func (l *Ledger) Close() error {
	l.stateMu.Lock()
	defer l.stateMu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	return l.db.Close()
}
