package core

import (
	"crypto/sha256"
	"encoding/binary"
)

// H is the canonical hash function used wherever the spec writes H(x): a
// single SHA-256 over the concatenation of its inputs' canonical byte
// encodings.
func H(parts ...[]byte) Hash {
	h := sha256.New()
	for _, p := range parts {
		h.Write(p)
	}
	return HashFromBytes(h.Sum(nil))
}

func u64Bytes(n uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, n)
	return b
}

func u32Bytes(n uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, n)
	return b
}

// consensusHash implements the trust-graph state hash of spec §4.9:
// H(total_edges || total_votes || total_disputes || slashed_votes).
func consensusHash(totalEdges, totalVotes, totalDisputes, slashedVotes uint64) Hash {
	return H(u64Bytes(totalEdges), u64Bytes(totalVotes), u64Bytes(totalDisputes), u64Bytes(slashedVotes))
}
