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

// Package mdbx is the embedded memory-mapped B-tree store backing the
// staged sync pipeline. It wraps torquem-ch/mdbx-go, giving the engine's
// copy-on-write discipline the kv.RoDB/RwDB surface the rest of the module
// programs against.
package mdbx

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/ledgerwatch/log/v3"
	"github.com/torquem-ch/mdbx-go/mdbx"

	"github.com/gateway-fm/chainkit/kv"
)

const defaultPageSize = 4096

// MdbxOpts configures Open using the builder pattern: each setter returns a
// modified copy, so defaults stay readable at the call site.
type MdbxOpts struct {
	path     string
	label    kv.Label
	mapSize  uint64
	readOnly bool
	logger   log.Logger
}

func New(path string, logger log.Logger) MdbxOpts {
	return MdbxOpts{path: path, label: kv.ChainDB, mapSize: 2 << 30, logger: logger}
}

func (opts MdbxOpts) ReadOnly() MdbxOpts       { opts.readOnly = true; return opts }
func (opts MdbxOpts) MapSize(n uint64) MdbxOpts { opts.mapSize = n; return opts }

// Open creates (if needed) and opens the on-disk environment, registering
// every table in kv.ChainTables as an mdbx DBI.
func (opts MdbxOpts) Open() (*MdbxKV, error) {
	if err := os.MkdirAll(opts.path, 0o755); err != nil {
		return nil, fmt.Errorf("mdbx: create datadir: %w", err)
	}
	env, err := mdbx.NewEnv()
	if err != nil {
		return nil, fmt.Errorf("mdbx: new env: %w", err)
	}
	if err := env.SetGeometry(-1, -1, int(opts.mapSize), -1, -1, defaultPageSize); err != nil {
		return nil, fmt.Errorf("mdbx: set geometry: %w", err)
	}
	if err := env.SetOption(mdbx.OptMaxDB, uint64(len(kv.ChainTables))); err != nil {
		return nil, fmt.Errorf("mdbx: set max tables: %w", err)
	}

	flags := mdbx.NoSubdir | mdbx.Coalesce | mdbx.LifoReclaim
	if opts.readOnly {
		flags |= mdbx.Readonly
	}
	if err := env.Open(opts.path, flags, 0o644); err != nil {
		return nil, fmt.Errorf("mdbx: open %s: %w", opts.path, err)
	}

	db := &MdbxKV{env: env, path: opts.path, label: opts.label, readOnly: opts.readOnly, logger: opts.logger}
	if !opts.readOnly {
		if err := db.createTables(); err != nil {
			_ = env.Close()
			return nil, err
		}
	}
	if err := db.openDBIs(); err != nil {
		_ = env.Close()
		return nil, err
	}
	return db, nil
}

// MdbxKV implements kv.RwDB on top of an mdbx.Env. Only one RwTx may be open
// at a time; mdbx itself serializes writers at the environment level, but we
// additionally hold a Go mutex so BeginRw blocks instead of returning mdbx's
// own busy error.
type MdbxKV struct {
	env      *mdbx.Env
	path     string
	label    kv.Label
	readOnly bool
	logger   log.Logger

	writeLock sync.Mutex
	dbis      map[string]mdbx.DBI
}

func (db *MdbxKV) createTables() error {
	return db.env.Update(func(txn *mdbx.Txn) error {
		for name := range kv.ChainTables {
			if _, err := txn.OpenDBI(name, mdbx.Create, nil, nil); err != nil {
				return fmt.Errorf("mdbx: create table %s: %w", name, err)
			}
		}
		return nil
	})
}

func (db *MdbxKV) openDBIs() error {
	db.dbis = make(map[string]mdbx.DBI, len(kv.ChainTables))
	return db.env.View(func(txn *mdbx.Txn) error {
		for name := range kv.ChainTables {
			dbi, err := txn.OpenDBI(name, 0, nil, nil)
			if err != nil {
				return fmt.Errorf("mdbx: open table %s: %w", name, err)
			}
			db.dbis[name] = dbi
		}
		return nil
	})
}

func (db *MdbxKV) dbi(table string) (mdbx.DBI, error) {
	d, ok := db.dbis[table]
	if !ok {
		return 0, kv.ErrUnknownTable
	}
	return d, nil
}

func (db *MdbxKV) ReadOnly() bool       { return db.readOnly }
func (db *MdbxKV) PageSize() uint64     { return defaultPageSize }
func (db *MdbxKV) AllTables() kv.TableCfg { return kv.ChainTables }

func (db *MdbxKV) Close() {
	if db.env != nil {
		_ = db.env.Close()
	}
}

func (db *MdbxKV) View(_ context.Context, f func(tx kv.Tx) error) error {
	mtxn, err := db.env.BeginTxn(nil, mdbx.Readonly)
	if err != nil {
		return fmt.Errorf("mdbx: begin ro txn: %w", err)
	}
	t := &mdbxTx{db: db, txn: mtxn}
	defer t.Rollback()
	return f(t)
}

func (db *MdbxKV) Update(_ context.Context, f func(tx kv.RwTx) error) error {
	db.writeLock.Lock()
	mtxn, err := db.env.BeginTxn(nil, 0)
	if err != nil {
		db.writeLock.Unlock()
		return fmt.Errorf("mdbx: begin rw txn: %w", err)
	}
	// The writable tx's Commit or Rollback releases writeLock.
	t := &mdbxTx{db: db, txn: mtxn, writable: true}
	defer t.Rollback()
	if err := f(t); err != nil {
		return err
	}
	return t.Commit()
}

func (db *MdbxKV) BeginRo(_ context.Context) (kv.Tx, error) {
	mtxn, err := db.env.BeginTxn(nil, mdbx.Readonly)
	if err != nil {
		return nil, fmt.Errorf("mdbx: begin ro txn: %w", err)
	}
	return &mdbxTx{db: db, txn: mtxn}, nil
}

// TableStat satisfies kv.TableStater using mdbx's native per-DBI page
// accounting, backing the `dbstats` CLI subcommand (§6).
func (db *MdbxKV) TableStat(tx kv.Tx, table string) (kv.TableStat, error) {
	t, ok := tx.(*mdbxTx)
	if !ok {
		return kv.TableStat{}, fmt.Errorf("mdbx: TableStat called with a foreign Tx")
	}
	dbi, err := db.dbi(table)
	if err != nil {
		return kv.TableStat{}, err
	}
	st, err := t.txn.StatDBI(dbi)
	if err != nil {
		return kv.TableStat{}, fmt.Errorf("mdbx: stat %s: %w", table, err)
	}
	return kv.TableStat{
		Entries:       st.Entries,
		BranchPages:   st.BranchPages,
		LeafPages:     st.LeafPages,
		OverflowPages: st.OverflowPages,
	}, nil
}

func (db *MdbxKV) BeginRw(_ context.Context) (kv.RwTx, error) {
	db.writeLock.Lock()
	mtxn, err := db.env.BeginTxn(nil, 0)
	if err != nil {
		db.writeLock.Unlock()
		return nil, fmt.Errorf("mdbx: begin rw txn: %w", err)
	}
	return &mdbxTx{db: db, txn: mtxn, writable: true}, nil
}
