package kv

import (
	"encoding/binary"
)

// NumberLength is the width, in bytes, of a big-endian encoded block number.
const NumberLength = 8

// EncodeBlockNumber encodes n as an 8-byte big-endian key component, so that
// lexicographic byte comparison matches numeric ordering.
func EncodeBlockNumber(n uint64) []byte {
	enc := make([]byte, NumberLength)
	binary.BigEndian.PutUint64(enc, n)
	return enc
}

// DecodeBlockNumber is the inverse of EncodeBlockNumber.
func DecodeBlockNumber(enc []byte) uint64 {
	return binary.BigEndian.Uint64(enc)
}

// HeaderKey builds the (number,hash) composite key used by Headers, HeaderTD
// and BlockBodies: the key sorts primarily by number ascending, and for a
// fixed number, lexicographically by hash (the data model's composite key
// ordering rule).
func HeaderKey(number uint64, hash [32]byte) []byte {
	k := make([]byte, NumberLength+32)
	binary.BigEndian.PutUint64(k, number)
	copy(k[NumberLength:], hash[:])
	return k
}

// SplitHeaderKey decodes a HeaderKey back into its number and hash.
func SplitHeaderKey(k []byte) (number uint64, hash [32]byte) {
	number = binary.BigEndian.Uint64(k[:NumberLength])
	copy(hash[:], k[NumberLength:])
	return
}

// EncodeTxIndex encodes a flat transaction index the same way a block number
// is encoded: both Transactions and TxSenders are keyed by this monotonic
// counter (the Transactions and TxSenders tables share this index space).
func EncodeTxIndex(idx uint64) []byte { return EncodeBlockNumber(idx) }

// DecodeTxIndex is the inverse of EncodeTxIndex.
func DecodeTxIndex(enc []byte) uint64 { return DecodeBlockNumber(enc) }
