package memdb

import (
	"bytes"
	"fmt"

	"github.com/google/btree"
)

func errAppendOutOfOrder(table string) error {
	return fmt.Errorf("memdb: append to table %s: key does not sort after current max", table)
}

// cursor walks a single btree.BTreeG[entry]. Positioning methods re-scan from
// the tree root each call; this is the in-memory analogue of a real cursor's
// page-walk and is adequate for the bounded data volumes stage tests use.
type cursor struct {
	bt    *btree.BTreeG[entry]
	tx    *tx    // nil for read-only cursors
	table string // non-empty for read-write cursors

	cur   entry
	valid bool
	// deleted marks that cur's key has already been removed from bt. Next
	// and Prev must not skip the first match found relative to cur in that
	// case — since cur itself is no longer in the tree, the first match is
	// already the next surviving key, not a re-visit of the current one.
	deleted bool
}

func (c *cursor) Close() {}

func (c *cursor) First() ([]byte, []byte, error) {
	item, ok := c.bt.Min()
	return c.set(item, ok)
}

func (c *cursor) Last() ([]byte, []byte, error) {
	item, ok := c.bt.Max()
	return c.set(item, ok)
}

func (c *cursor) Seek(seek []byte) ([]byte, []byte, error) {
	var found entry
	ok := false
	c.bt.AscendGreaterOrEqual(entry{k: seek}, func(e entry) bool {
		found, ok = e, true
		return false
	})
	return c.set(found, ok)
}

func (c *cursor) SeekExact(key []byte) ([]byte, []byte, error) {
	item, ok := c.bt.Get(entry{k: key})
	if !ok {
		c.valid = false
		return nil, nil, nil
	}
	return c.set(item, true)
}

func (c *cursor) Next() ([]byte, []byte, error) {
	if !c.valid {
		return nil, nil, nil
	}
	var found entry
	ok := false
	skipCur := !c.deleted
	c.bt.AscendGreaterOrEqual(c.cur, func(e entry) bool {
		if skipCur {
			skipCur = false
			return true // skip current position itself
		}
		found, ok = e, true
		return false
	})
	return c.set(found, ok)
}

func (c *cursor) Prev() ([]byte, []byte, error) {
	if !c.valid {
		return nil, nil, nil
	}
	var found entry
	ok := false
	skipCur := !c.deleted
	c.bt.DescendLessOrEqual(c.cur, func(e entry) bool {
		if skipCur {
			skipCur = false
			return true
		}
		found, ok = e, true
		return false
	})
	return c.set(found, ok)
}

func (c *cursor) Current() ([]byte, []byte, error) {
	if !c.valid {
		return nil, nil, nil
	}
	return c.cur.k, c.cur.v, nil
}

func (c *cursor) set(e entry, ok bool) ([]byte, []byte, error) {
	if !ok {
		c.valid = false
		c.deleted = false
		return nil, nil, nil
	}
	c.cur = e
	c.valid = true
	c.deleted = false
	return e.k, e.v, nil
}

func (c *cursor) Put(k, v []byte) error {
	c.bt.ReplaceOrInsert(entry{k: append([]byte(nil), k...), v: append([]byte(nil), v...)})
	return nil
}

func (c *cursor) Append(k, v []byte) error {
	if c.bt.Len() > 0 {
		if max, ok := c.bt.Max(); ok && bytes.Compare(k, max.k) <= 0 {
			return errAppendOutOfOrder(c.table)
		}
	}
	return c.Put(k, v)
}

func (c *cursor) Delete(k []byte) error {
	c.bt.Delete(entry{k: k})
	if c.valid && bytes.Equal(c.cur.k, k) {
		c.deleted = true
	}
	return nil
}
