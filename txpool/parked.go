// Package txpool holds the parked transaction pool's ordering structure:
// transactions that are valid but not yet eligible for inclusion (nonce
// gap, base fee too low) sit here until an external change promotes them.
package txpool

import (
	"github.com/google/btree"
	"github.com/holiman/uint256"

	"github.com/gateway-fm/chainkit/internal/dbg"
	"github.com/gateway-fm/chainkit/types"
)

// TransactionID identifies a pooled transaction. A 32-byte hash is the
// natural identifier for an Ethereum transaction.
type TransactionID = types.Hash

// parkedTx is the record stored in both indexes: by_id keeps it keyed by
// TransactionID, best keeps it ordered by (Priority, SubmissionID).
type parkedTx struct {
	id           TransactionID
	priority     *uint256.Int
	submissionID uint64
	tx           *types.Transaction
}

// less orders the best set: higher priority sorts first; within equal
// priority, the earlier submission (lower SubmissionID) sorts first, so
// FIFO order is preserved among equal-priority transactions.
func less(a, b *parkedTx) bool {
	cmp := a.priority.Cmp(b.priority)
	if cmp != 0 {
		return cmp > 0
	}
	return a.submissionID < b.submissionID
}

// ParkedPool is a bijective dual index: by_id and best always contain
// exactly the same set of transactions. Every mutating method keeps both
// in sync; there is no way to observe one without the other.
type ParkedPool struct {
	submissionID uint64
	byID         map[TransactionID]*parkedTx
	best         *btree.BTreeG[*parkedTx]
}

func NewParkedPool() *ParkedPool {
	return &ParkedPool{
		byID: make(map[TransactionID]*parkedTx),
		best: btree.NewG(32, less),
	}
}

// Len returns the number of parked transactions. by_id and best are kept
// in lockstep so either's size works; len(by_id) is cheaper.
func (p *ParkedPool) Len() int { return len(p.byID) }

// Insert adds tx under id with the given priority, assigning it the next
// submission id. Inserting an id already present is a programming error —
// the caller must remove the existing entry first — and panics rather than
// silently overwriting one of the two indexes and leaving them
// inconsistent.
func (p *ParkedPool) Insert(id TransactionID, priority *uint256.Int, tx *types.Transaction) {
	if _, exists := p.byID[id]; exists {
		panic("txpool: duplicate insertion into parked pool: " + hexString(id))
	}
	entry := &parkedTx{id: id, priority: priority, submissionID: p.submissionID, tx: tx}
	p.submissionID++ // wraps on overflow; pool sizes never approach 2^64
	p.byID[id] = entry
	p.best.ReplaceOrInsert(entry)
	dbg.Assert(p.best.Len() == len(p.byID), "parked pool bijection broken after insert")
}

// Remove deletes id from both indexes, returning the removed transaction
// and true, or (nil, false) if id was not parked.
func (p *ParkedPool) Remove(id TransactionID) (*types.Transaction, bool) {
	entry, ok := p.byID[id]
	if !ok {
		return nil, false
	}
	delete(p.byID, id)
	p.best.Delete(entry)
	dbg.Assert(p.best.Len() == len(p.byID), "parked pool bijection broken after remove")
	return entry.tx, true
}

// Best returns the highest-priority parked transaction (FIFO among ties),
// or (nil, false) if the pool is empty. It does not remove the entry.
func (p *ParkedPool) Best() (TransactionID, *types.Transaction, bool) {
	item, ok := p.best.Min()
	if !ok {
		return TransactionID{}, nil, false
	}
	return item.id, item.tx, true
}

func hexString(h TransactionID) string {
	const hexDigits = "0123456789abcdef"
	out := make([]byte, len(h)*2)
	for i, b := range h {
		out[i*2] = hexDigits[b>>4]
		out[i*2+1] = hexDigits[b&0xf]
	}
	return string(out)
}
