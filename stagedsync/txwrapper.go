package stagedsync

import (
	"context"
	"fmt"

	"github.com/gateway-fm/chainkit/kv"
	"github.com/gateway-fm/chainkit/types"
)

// TxWrapper is the scoped read-write transaction stages run over. It is
// automatically rolled back on any exit path unless Commit is called
// explicitly, and Commit re-opens a fresh transaction so callers can keep
// issuing operations across a commit boundary without noticing the
// underlying transaction changed underneath them.
//
// Cursors obtained from a TxWrapper borrow its current underlying
// transaction; callers must not hold one across a Commit.
type TxWrapper struct {
	db kv.RwDB
	tx kv.RwTx
}

// NewTxWrapper begins a fresh read-write transaction against db.
func NewTxWrapper(ctx context.Context, db kv.RwDB) (*TxWrapper, error) {
	tx, err := db.BeginRw(ctx)
	if err != nil {
		return nil, fmt.Errorf("txwrapper: begin: %w", err)
	}
	return &TxWrapper{db: db, tx: tx}, nil
}

// Tx exposes the live underlying transaction for direct cursor use. The
// result must not be retained across Commit.
func (w *TxWrapper) Tx() kv.RwTx { return w.tx }

// Commit ends the current transaction and immediately begins a new one, so
// subsequent calls keep working against the same logical wrapper.
func (w *TxWrapper) Commit(ctx context.Context) error {
	if err := w.tx.Commit(); err != nil {
		return fmt.Errorf("txwrapper: commit: %w", err)
	}
	tx, err := w.db.BeginRw(ctx)
	if err != nil {
		return fmt.Errorf("txwrapper: reopen after commit: %w", err)
	}
	w.tx = tx
	return nil
}

// Rollback discards the live transaction. Safe to call multiple times and
// safe to defer unconditionally — a prior explicit Commit leaves the
// wrapper holding a fresh, uncommitted transaction that Rollback then
// discards, which is exactly the "rolled back on any exit path" guarantee.
func (w *TxWrapper) Rollback() {
	if w.tx != nil {
		w.tx.Rollback()
	}
}

// GetBlockNumHash returns the canonical header hash for a block number, the
// hash half of the (number, hash) composite key most stages start from.
func (w *TxWrapper) GetBlockNumHash(number uint64) (types.Hash, error) {
	v, err := w.tx.GetOne(kv.CanonicalHeaders, kv.EncodeBlockNumber(number))
	if err != nil {
		return types.Hash{}, err
	}
	if v == nil {
		return types.Hash{}, &DatabaseIntegrityError{Reason: fmt.Sprintf("no canonical header at %d", number)}
	}
	return types.BytesToHash(v), nil
}

// GetBlockBody reads the BlockBodies entry for number, keyed by the
// composite (number, hash) the canonical hash resolves to.
func (w *TxWrapper) GetBlockBody(number uint64) (types.BlockBody, error) {
	hash, err := w.GetBlockNumHash(number)
	if err != nil {
		return types.BlockBody{}, err
	}
	v, err := w.tx.GetOne(kv.BlockBodies, kv.HeaderKey(number, hash))
	if err != nil {
		return types.BlockBody{}, err
	}
	if v == nil {
		return types.BlockBody{}, &DatabaseIntegrityError{Reason: fmt.Sprintf("no block body at %d", number)}
	}
	return decodeBlockBody(v), nil
}

// UnwindByNumber, UnwindByNumHash, and UnwindByWalker forward to the kv
// package's table-shape-agnostic primitives, scoped to this wrapper's
// current transaction.
func (w *TxWrapper) UnwindByNumber(table string, n uint64) error {
	return kv.UnwindByNumber(w.tx, table, n)
}

func (w *TxWrapper) UnwindByNumHash(table string, n uint64) error {
	return kv.UnwindByNumHash(w.tx, table, n)
}

func (w *TxWrapper) UnwindByWalker(indexTable, dataTable string, n uint64, keyToDataKey func([]byte) []byte) error {
	return kv.UnwindByWalker(w.tx, indexTable, dataTable, n, keyToDataKey)
}
