// Package types holds the small set of domain records the staged sync
// pipeline moves between tables. Encoding of these records on the wire or on
// disk is out of scope here; callers are free to choose RLP, protobuf, or
// anything else — this package only fixes the logical shape stages agree on.
package types

import (
	"encoding/binary"

	"github.com/holiman/uint256"
	"golang.org/x/crypto/sha3"
)

// Hash is a 32-byte content identifier, used for block and header hashes.
type Hash [32]byte

func (h Hash) Bytes() []byte { return h[:] }
func (h Hash) IsZero() bool  { return h == (Hash{}) }

func BytesToHash(b []byte) (h Hash) {
	copy(h[32-len(b):], b)
	return h
}

// Header is the logical content of a block header. Only the fields the
// pipeline actually reasons about are modeled: linkage (ParentHash, Number)
// and chain work (Difficulty).
type Header struct {
	ParentHash Hash
	Number     uint64
	Difficulty *uint256.Int
	Extra      []byte // opaque payload, carried through untouched
}

// Hash computes the header's content hash. Real header hashing is RLP over
// every consensus field; this keccak's the fields the pipeline cares about,
// which is sufficient for the parent-linkage checks and table keys this
// package is responsible for.
func (h *Header) Hash() Hash {
	d := sha3.NewLegacyKeccak256()
	d.Write(h.ParentHash[:])
	var numBuf [8]byte
	binary.BigEndian.PutUint64(numBuf[:], h.Number)
	d.Write(numBuf[:])
	if h.Difficulty != nil {
		d.Write(h.Difficulty.Bytes())
	}
	d.Write(h.Extra)
	var out Hash
	d.Sum(out[:0])
	return out
}

// BlockBody indexes the flat Transactions table: the transactions belonging
// to a block occupy [FirstTxIndex, FirstTxIndex+TxCount).
type BlockBody struct {
	FirstTxIndex uint64
	TxCount      uint64
}

func (b BlockBody) LastTxIndex() uint64 {
	if b.TxCount == 0 {
		return b.FirstTxIndex
	}
	return b.FirstTxIndex + b.TxCount - 1
}

// Transaction is the flat record stored in the Transactions table. Signer
// recovery (the Senders stage) derives Sender from Data and V/R/S;
// the recovery function itself is injected by the stage's config so this
// package stays free of curve-specific code.
type Transaction struct {
	Data []byte
	V, R, S *uint256.Int
}

// Address is a recovered transaction signer.
type Address [20]byte

func (a Address) Bytes() []byte { return a[:] }

func BytesToAddress(b []byte) (a Address) {
	copy(a[20-len(b):], b)
	return a
}
