// Package memdb is an in-memory kv.RwDB used by stage tests and other
// harnesses that want the kv.RwDB surface without an mdbx environment. It
// backs each table with a btree.BTreeG ordered by raw key bytes. Read
// transactions snapshot the current set of table trees; write transactions
// mutate copy-on-write clones that only replace the live trees on Commit, so
// Rollback (or a dropped transaction) leaves the tables exactly as they
// were. Sequence counters (IncrementSequence) are not transactional here:
// they advance immediately and a Rollback does not undo them.
package memdb

import (
	"bytes"
	"context"
	"sync"

	"github.com/google/btree"

	"github.com/gateway-fm/chainkit/kv"
)

type entry struct {
	k, v []byte
}

func less(a, b entry) bool { return bytes.Compare(a.k, b.k) < 0 }

// DB is an in-memory kv.RwDB. The zero value is not usable; use New.
type DB struct {
	mu     sync.Mutex // serializes writers; readers never block
	snapMu sync.RWMutex
	tables map[string]*btree.BTreeG[entry]
	seq    map[string]uint64
}

// New creates an empty in-memory database with the given table registry
// pre-created, mirroring the on-disk store's "tables are created once on
// database initialization" lifecycle.
func New(cfg kv.TableCfg) *DB {
	db := &DB{
		tables: make(map[string]*btree.BTreeG[entry]),
		seq:    make(map[string]uint64),
	}
	for name := range cfg {
		db.tables[name] = btree.NewG(32, less)
	}
	return db
}

func (db *DB) ReadOnly() bool   { return false }
func (db *DB) Close()           {}
func (db *DB) PageSize() uint64 { return 4096 }

func (db *DB) AllTables() kv.TableCfg {
	db.snapMu.RLock()
	defer db.snapMu.RUnlock()
	cfg := make(kv.TableCfg, len(db.tables))
	for name := range db.tables {
		cfg[name] = kv.TableCfgItem{Name: name}
	}
	return cfg
}

// snapshot captures the current tree pointers. Because trees are replaced
// wholesale (never mutated after being published), a snapshot is a stable
// view regardless of later writers.
func (db *DB) snapshot() map[string]*btree.BTreeG[entry] {
	db.snapMu.RLock()
	defer db.snapMu.RUnlock()
	out := make(map[string]*btree.BTreeG[entry], len(db.tables))
	for k, v := range db.tables {
		out[k] = v
	}
	return out
}

func (db *DB) publish(dirty map[string]*btree.BTreeG[entry]) {
	db.snapMu.Lock()
	defer db.snapMu.Unlock()
	for name, t := range dirty {
		db.tables[name] = t
	}
}

func (db *DB) View(_ context.Context, f func(tx kv.Tx) error) error {
	tx, err := db.BeginRo(context.Background())
	if err != nil {
		return err
	}
	defer tx.Rollback()
	return f(tx)
}

func (db *DB) Update(_ context.Context, f func(tx kv.RwTx) error) error {
	tx, err := db.BeginRw(context.Background())
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := f(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (db *DB) BeginRo(_ context.Context) (kv.Tx, error) {
	return &tx{db: db, tables: db.snapshot()}, nil
}

func (db *DB) BeginRw(_ context.Context) (kv.RwTx, error) {
	db.mu.Lock()
	return &tx{db: db, tables: db.snapshot(), dirty: make(map[string]*btree.BTreeG[entry]), writable: true}, nil
}

// tx implements both kv.Tx and kv.RwTx. tables holds the base (read) view;
// dirty holds per-table clones that have been mutated this transaction and
// have not yet been published.
type tx struct {
	db       *DB
	tables   map[string]*btree.BTreeG[entry]
	dirty    map[string]*btree.BTreeG[entry]
	writable bool
	done     bool
}

func (t *tx) ID() uint64 { return 0 }

func (t *tx) readTree(table string) (*btree.BTreeG[entry], error) {
	if d, ok := t.dirty[table]; ok {
		return d, nil
	}
	bt, ok := t.tables[table]
	if !ok {
		return nil, kv.ErrUnknownTable
	}
	return bt, nil
}

// writeTree returns the per-transaction mutable clone of table, creating it
// (a cheap structural-sharing Clone) on first write.
func (t *tx) writeTree(table string) (*btree.BTreeG[entry], error) {
	if d, ok := t.dirty[table]; ok {
		return d, nil
	}
	bt, ok := t.tables[table]
	if !ok {
		return nil, kv.ErrUnknownTable
	}
	clone := bt.Clone()
	t.dirty[table] = clone
	return clone, nil
}

func (t *tx) Has(table string, key []byte) (bool, error) {
	v, err := t.GetOne(table, key)
	return v != nil, err
}

func (t *tx) GetOne(table string, key []byte) ([]byte, error) {
	bt, err := t.readTree(table)
	if err != nil {
		return nil, err
	}
	item, ok := bt.Get(entry{k: key})
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), item.v...), nil
}

func (t *tx) ForEach(table string, fromPrefix []byte, walker func(k, v []byte) error) error {
	bt, err := t.readTree(table)
	if err != nil {
		return err
	}
	var outerErr error
	bt.AscendGreaterOrEqual(entry{k: fromPrefix}, func(e entry) bool {
		if outerErr = walker(e.k, e.v); outerErr != nil {
			return false
		}
		return true
	})
	return outerErr
}

func (t *tx) Cursor(table string) (kv.Cursor, error) {
	bt, err := t.readTree(table)
	if err != nil {
		return nil, err
	}
	return &cursor{bt: bt}, nil
}

func (t *tx) RwCursor(table string) (kv.RwCursor, error) {
	bt, err := t.writeTree(table)
	if err != nil {
		return nil, err
	}
	return &cursor{bt: bt, tx: t, table: table}, nil
}

func (t *tx) Put(table string, k, v []byte) error {
	bt, err := t.writeTree(table)
	if err != nil {
		return err
	}
	bt.ReplaceOrInsert(entry{k: append([]byte(nil), k...), v: append([]byte(nil), v...)})
	return nil
}

func (t *tx) Delete(table string, k []byte) error {
	bt, err := t.writeTree(table)
	if err != nil {
		return err
	}
	bt.Delete(entry{k: k})
	return nil
}

func (t *tx) Append(table string, k, v []byte) error {
	bt, err := t.writeTree(table)
	if err != nil {
		return err
	}
	if bt.Len() > 0 {
		if max, ok := bt.Max(); ok && bytes.Compare(k, max.k) <= 0 {
			return errAppendOutOfOrder(table)
		}
	}
	bt.ReplaceOrInsert(entry{k: append([]byte(nil), k...), v: append([]byte(nil), v...)})
	return nil
}

func (t *tx) IncrementSequence(table string, amount uint64) (uint64, error) {
	cur := t.db.seq[table]
	t.db.seq[table] = cur + amount
	return cur, nil
}

func (t *tx) Commit() error {
	if t.done {
		return nil
	}
	t.done = true
	if t.writable {
		t.db.publish(t.dirty)
		t.db.mu.Unlock()
	}
	return nil
}

func (t *tx) Rollback() {
	if t.done {
		return
	}
	t.done = true
	if t.writable {
		t.db.mu.Unlock()
	}
}
