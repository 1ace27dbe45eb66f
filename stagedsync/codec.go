package stagedsync

import (
	"encoding/binary"

	"github.com/holiman/uint256"

	"github.com/gateway-fm/chainkit/types"
)

// Record encoding is explicitly out of scope for this design (see the
// purpose-and-scope Non-goals); these helpers exist only so the stages
// below have something concrete to put in and read out of the tables, and
// intentionally use a flat stdlib binary.BigEndian layout rather than a
// real wire format.

func encodeBlockBody(b types.BlockBody) []byte {
	buf := make([]byte, 16)
	binary.BigEndian.PutUint64(buf[:8], b.FirstTxIndex)
	binary.BigEndian.PutUint64(buf[8:], b.TxCount)
	return buf
}

func decodeBlockBody(v []byte) types.BlockBody {
	return types.BlockBody{
		FirstTxIndex: binary.BigEndian.Uint64(v[:8]),
		TxCount:      binary.BigEndian.Uint64(v[8:16]),
	}
}

func encodeHeader(h *types.Header) []byte {
	diff := h.Difficulty
	if diff == nil {
		diff = uint256.NewInt(0)
	}
	db := diff.Bytes32()
	buf := make([]byte, 0, 32+8+32+len(h.Extra))
	buf = append(buf, h.ParentHash[:]...)
	var numBuf [8]byte
	binary.BigEndian.PutUint64(numBuf[:], h.Number)
	buf = append(buf, numBuf[:]...)
	buf = append(buf, db[:]...)
	buf = append(buf, h.Extra...)
	return buf
}

func decodeHeader(v []byte) *types.Header {
	h := &types.Header{}
	h.ParentHash = types.BytesToHash(v[:32])
	h.Number = binary.BigEndian.Uint64(v[32:40])
	h.Difficulty = new(uint256.Int).SetBytes(v[40:72])
	if len(v) > 72 {
		h.Extra = append([]byte(nil), v[72:]...)
	}
	return h
}

func encodeTD(td *uint256.Int) []byte {
	b := td.Bytes32()
	return b[:]
}

func decodeTD(v []byte) *uint256.Int {
	return new(uint256.Int).SetBytes(v)
}

// encodeTransaction/decodeTransaction lay out {len(Data), Data, V, R, S} —
// V/R/S are fixed-width 32-byte big-endian, Data is length-prefixed.
func encodeTransaction(t *types.Transaction) []byte {
	buf := make([]byte, 0, 4+len(t.Data)+96)
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(t.Data)))
	buf = append(buf, lenBuf[:]...)
	buf = append(buf, t.Data...)
	for _, x := range []*uint256.Int{t.V, t.R, t.S} {
		if x == nil {
			x = uint256.NewInt(0)
		}
		b := x.Bytes32()
		buf = append(buf, b[:]...)
	}
	return buf
}

func decodeTransaction(v []byte) *types.Transaction {
	dataLen := binary.BigEndian.Uint32(v[:4])
	off := 4
	data := append([]byte(nil), v[off:off+int(dataLen)]...)
	off += int(dataLen)
	vv := new(uint256.Int).SetBytes(v[off : off+32])
	off += 32
	r := new(uint256.Int).SetBytes(v[off : off+32])
	off += 32
	s := new(uint256.Int).SetBytes(v[off : off+32])
	return &types.Transaction{Data: data, V: vv, R: r, S: s}
}
