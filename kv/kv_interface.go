/*
   Copyright 2022 Erigon contributors

   Licensed under the Apache License, Version 2.0 (the "License");
   you may not use this file except in compliance with the License.
   You may obtain a copy of the License at

       http://www.apache.org/licenses/LICENSE-2.0

   Unless required by applicable law or agreed to in writing, software
   distributed under the License is distributed on an "AS IS" BASIS,
   WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
   See the License for the specific language governing permissions and
   limitations under the License.
*/

// Package kv defines the typed key/value store abstraction that the staged
// sync pipeline runs over: transactions, cursors and the table registry.
// Implementations live in kv/mdbx (the on-disk embedded store) and
// kv/memdb (an in-memory store used by tests).
package kv

import (
	"context"
	"errors"

	"github.com/VictoriaMetrics/metrics"
)

//Variables Naming:
//  tx  - Database Transaction
//  RoTx - Read-Only Database Transaction
//  RwTx - Read-Write Database Transaction
//  k - key
//  v - value
//  Cursor - low-level api to walk over a table

var (
	ErrUnknownTable = errors.New("unknown table: add it to kv.ChainTables")
	ErrKeyNotFound  = errors.New("key not found")

	DbSize        = metrics.NewCounter(`db_size`)        //nolint
	DbCommitTotal = metrics.GetOrCreateSummary(`db_commit_seconds{phase="total"}`) //nolint
)

// Label identifies which logical database an environment backs, mirroring
// erigon-lib's kv.Label (ChainDB, TxPoolDB, ...). This module only ever opens
// one label, ChainDB, but the type is kept for parity with the upstream
// abstraction and so tooling that inspects multiple environments can reuse it.
type Label uint8

const (
	ChainDB Label = iota
	InMem
)

func (l Label) String() string {
	switch l {
	case ChainDB:
		return "chaindata"
	case InMem:
		return "inMem"
	default:
		return "unknown"
	}
}

// Has indicates whether a key exists in the database.
type Has interface {
	Has(table string, key []byte) (bool, error)
}

// Getter is the read-only point-lookup surface of a transaction.
type Getter interface {
	Has

	// GetOne returns nil, nil if the key is absent. The returned slice must
	// not be retained past the lifetime of the transaction.
	GetOne(table string, key []byte) (val []byte, err error)

	// ForEach iterates table entries with key >= fromPrefix until walker
	// returns an error or the table is exhausted.
	ForEach(table string, fromPrefix []byte, walker func(k, v []byte) error) error
}

// Putter wraps unordered single-entry writes.
type Putter interface {
	Put(table string, k, v []byte) error
}

// Deleter wraps single-entry deletes.
type Deleter interface {
	Delete(table string, k []byte) error
}

type Closer interface {
	Close()
}

// RoDB is the read-only handle to an opened environment.
type RoDB interface {
	Closer
	ReadOnly() bool
	View(ctx context.Context, f func(tx Tx) error) error

	// BeginRo opens a read-only transaction. The caller must Rollback (or
	// Commit, a no-op for read transactions) when done.
	BeginRo(ctx context.Context) (Tx, error)
	AllTables() TableCfg
	PageSize() uint64
}

// TableStat is a single table's size report, the data the `dbstats` CLI
// subcommand (§6) prints.
type TableStat struct {
	Entries       uint64
	BranchPages   uint64
	LeafPages     uint64
	OverflowPages uint64
}

func (s TableStat) Pages() uint64 { return s.BranchPages + s.LeafPages + s.OverflowPages }

// TableStater is satisfied by stores that can report native page-level
// accounting for a table (the on-disk mdbx store). Stores without a native
// notion of pages (kv/memdb) don't implement it; callers fall back to a
// full-table walk to at least report entry counts.
type TableStater interface {
	TableStat(tx Tx, table string) (TableStat, error)
}

// RwDB is the read-write handle to an opened environment. Only one RwTx may
// be open at a time; the implementation enforces this with a single-writer
// lock, matching the underlying engine's own single-writer discipline.
type RwDB interface {
	RoDB

	Update(ctx context.Context, f func(tx RwTx) error) error
	BeginRw(ctx context.Context) (RwTx, error)
}

// Tx is a read-only transaction. It and any cursor opened from it must only
// be used by the goroutine that created it, and must not be used after
// Commit/Rollback: a cursor borrows its transaction and cannot outlive it.
type Tx interface {
	Getter

	// ID returns the identifier of the snapshot this transaction observes.
	ID() uint64

	Cursor(table string) (Cursor, error)

	// Commit ends a read-only transaction (releasing the snapshot). Rollback
	// does the same; both are valid on a read-only Tx.
	Commit() error
	Rollback()
}

// RwTx is a read-write transaction.
type RwTx interface {
	Tx
	Putter
	Deleter

	RwCursor(table string) (RwCursor, error)

	// IncrementSequence returns a monotonically increasing counter scoped to
	// table, starting at 0.
	IncrementSequence(table string, amount uint64) (uint64, error)

	// Append writes k,v as the new last entry of table. The implementation
	// must reject (return an error for) a key that does not sort after the
	// table's current maximum key.
	Append(table string, k, v []byte) error
}

// Cursor walks a table's entries in key order.
//
// If a positioning method returns an error, the returned key must be nil; a
// correct loop looks like:
//
//	for k, v, err := c.First(); k != nil; k, v, err = c.Next() {
//	    if err != nil { return err }
//	    ...
//	}
type Cursor interface {
	First() ([]byte, []byte, error)
	Seek(seek []byte) ([]byte, []byte, error)     // position at first key >= seek
	SeekExact(key []byte) ([]byte, []byte, error) // position at key, or (nil,nil,nil)
	Next() ([]byte, []byte, error)
	Prev() ([]byte, []byte, error)
	Last() ([]byte, []byte, error)
	Current() ([]byte, []byte, error)

	Close()
}

// RwCursor adds write positioning to Cursor.
type RwCursor interface {
	Cursor

	// Put inserts or updates k,v, maintaining table order.
	Put(k, v []byte) error
	// Append appends k,v to the end of the table; fails if k does not sort
	// after the table's current last key. Used for the strictly-ascending
	// writes the headers and senders stages perform (§4.1 "append").
	Append(k, v []byte) error
	Delete(k []byte) error
}
