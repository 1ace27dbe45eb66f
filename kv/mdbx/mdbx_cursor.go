package mdbx

import (
	"fmt"
	"os"
	"time"

	"github.com/torquem-ch/mdbx-go/mdbx"

	"github.com/gateway-fm/chainkit/kv"
)

// mdbxTx implements kv.Tx and kv.RwTx over a single *mdbx.Txn.
type mdbxTx struct {
	db       *MdbxKV
	txn      *mdbx.Txn
	writable bool
	done     bool
}

func (t *mdbxTx) ID() uint64 { return t.txn.ID() }

func (t *mdbxTx) Has(table string, key []byte) (bool, error) {
	v, err := t.GetOne(table, key)
	if err != nil {
		return false, err
	}
	return v != nil, nil
}

func (t *mdbxTx) GetOne(table string, key []byte) ([]byte, error) {
	dbi, err := t.db.dbi(table)
	if err != nil {
		return nil, err
	}
	v, err := t.txn.Get(dbi, key)
	if mdbx.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("mdbx: get %s: %w", table, err)
	}
	return v, nil
}

func (t *mdbxTx) ForEach(table string, fromPrefix []byte, walker func(k, v []byte) error) error {
	c, err := t.Cursor(table)
	if err != nil {
		return err
	}
	defer c.Close()
	return kv.Walk(c, fromPrefix, func(k, v []byte) (bool, error) {
		if err := walker(k, v); err != nil {
			return false, err
		}
		return true, nil
	})
}

func (t *mdbxTx) Cursor(table string) (kv.Cursor, error) {
	dbi, err := t.db.dbi(table)
	if err != nil {
		return nil, err
	}
	mc, err := t.txn.OpenCursor(dbi)
	if err != nil {
		return nil, fmt.Errorf("mdbx: open cursor %s: %w", table, err)
	}
	return &mdbxCursor{c: mc, table: table}, nil
}

func (t *mdbxTx) RwCursor(table string) (kv.RwCursor, error) {
	c, err := t.Cursor(table)
	if err != nil {
		return nil, err
	}
	return c.(*mdbxCursor), nil
}

func (t *mdbxTx) Put(table string, k, v []byte) error {
	dbi, err := t.db.dbi(table)
	if err != nil {
		return err
	}
	if err := t.txn.Put(dbi, k, v, 0); err != nil {
		return fmt.Errorf("mdbx: put %s: %w", table, err)
	}
	return nil
}

func (t *mdbxTx) Delete(table string, k []byte) error {
	dbi, err := t.db.dbi(table)
	if err != nil {
		return err
	}
	if err := t.txn.Del(dbi, k, nil); err != nil && !mdbx.IsNotFound(err) {
		return fmt.Errorf("mdbx: delete %s: %w", table, err)
	}
	return nil
}

func (t *mdbxTx) Append(table string, k, v []byte) error {
	dbi, err := t.db.dbi(table)
	if err != nil {
		return err
	}
	if err := t.txn.Put(dbi, k, v, mdbx.AppendDup|mdbx.Append); err != nil {
		return fmt.Errorf("mdbx: append %s: %w", table, err)
	}
	return nil
}

func (t *mdbxTx) IncrementSequence(table string, amount uint64) (uint64, error) {
	dbi, err := t.db.dbi(table)
	if err != nil {
		return 0, err
	}
	return t.txn.Sequence(dbi, amount)
}

func (t *mdbxTx) Commit() error {
	if t.done {
		return nil
	}
	t.done = true
	start := time.Now()
	_, err := t.txn.Commit()
	if t.writable {
		kv.DbCommitTotal.Update(time.Since(start).Seconds())
		t.db.writeLock.Unlock()
	}
	if err != nil {
		return fmt.Errorf("mdbx: commit: %w", err)
	}
	if t.writable {
		if fi, statErr := os.Stat(t.db.path); statErr == nil {
			kv.DbSize.Set(uint64(fi.Size()))
		}
	}
	return nil
}

func (t *mdbxTx) Rollback() {
	if t.done {
		return
	}
	t.done = true
	t.txn.Abort()
	if t.writable {
		t.db.writeLock.Unlock()
	}
}

// mdbxCursor implements kv.Cursor and kv.RwCursor over an *mdbx.Cursor.
type mdbxCursor struct {
	c     *mdbx.Cursor
	table string
}

func (c *mdbxCursor) Close() { c.c.Close() }

func (c *mdbxCursor) get(k, v []byte, op mdbx.CursorOp) ([]byte, []byte, error) {
	k, v, err := c.c.Get(k, v, op)
	if mdbx.IsNotFound(err) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("mdbx: cursor %s: %w", c.table, err)
	}
	return k, v, nil
}

func (c *mdbxCursor) First() ([]byte, []byte, error)          { return c.get(nil, nil, mdbx.First) }
func (c *mdbxCursor) Last() ([]byte, []byte, error)            { return c.get(nil, nil, mdbx.Last) }
func (c *mdbxCursor) Next() ([]byte, []byte, error)            { return c.get(nil, nil, mdbx.Next) }
func (c *mdbxCursor) Prev() ([]byte, []byte, error)            { return c.get(nil, nil, mdbx.Prev) }
func (c *mdbxCursor) Current() ([]byte, []byte, error)         { return c.get(nil, nil, mdbx.GetCurrent) }
func (c *mdbxCursor) Seek(seek []byte) ([]byte, []byte, error) { return c.get(seek, nil, mdbx.SetRange) }
func (c *mdbxCursor) SeekExact(key []byte) ([]byte, []byte, error) {
	return c.get(key, nil, mdbx.Set)
}

func (c *mdbxCursor) Put(k, v []byte) error {
	if err := c.c.Put(k, v, 0); err != nil {
		return fmt.Errorf("mdbx: cursor put %s: %w", c.table, err)
	}
	return nil
}

func (c *mdbxCursor) Append(k, v []byte) error {
	if err := c.c.Put(k, v, mdbx.Append); err != nil {
		return fmt.Errorf("mdbx: cursor append %s: %w", c.table, err)
	}
	return nil
}

func (c *mdbxCursor) Delete(k []byte) error {
	if _, _, err := c.get(k, nil, mdbx.Set); err != nil {
		return err
	}
	if err := c.c.Del(0); err != nil && !mdbx.IsNotFound(err) {
		return fmt.Errorf("mdbx: cursor delete %s: %w", c.table, err)
	}
	return nil
}
