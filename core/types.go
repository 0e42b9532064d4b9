// Package core implements the CVM/HAT consensus-and-trust core: the
// execution router and virtual machines, the web-of-trust graph and HAT
// score engine, the commit-reveal DAO, the bytecode detector, the coinbase
// gas-fee splitter, the anomaly detector, and the resource manager.
package core

import (
	"bytes"
	"encoding/hex"
	"fmt"
)

// Address is a 160-bit opaque account identifier.
type Address [20]byte

// Hash is a 256-bit cryptographic digest.
type Hash [32]byte

var ZeroAddress = Address{}
var ZeroHash = Hash{}

func (a Address) Bytes() []byte { return a[:] }

func (a Address) Hex() string { return "0x" + hex.EncodeToString(a[:]) }

func (a Address) String() string { return a.Hex() }

func (a Address) IsZero() bool { return a == ZeroAddress }

// Less gives Address a total, canonical ordering used wherever the spec
// requires deterministic iteration over addresses (DAO reward distribution,
// trust-graph state hashing).
func (a Address) Less(other Address) bool { return bytes.Compare(a[:], other[:]) < 0 }

// AddressFromBytes truncates or left-pads b to 20 bytes. Truncation keeps
// the low-order (rightmost) bytes, matching the EVM's truncate_160 used for
// contract address derivation.
func AddressFromBytes(b []byte) Address {
	var a Address
	if len(b) >= 20 {
		copy(a[:], b[len(b)-20:])
	} else {
		copy(a[20-len(b):], b)
	}
	return a
}

func (h Hash) Bytes() []byte { return h[:] }

func (h Hash) Hex() string { return "0x" + hex.EncodeToString(h[:]) }

func (h Hash) String() string { return h.Hex() }

func (h Hash) IsZero() bool { return h == ZeroHash }

// HashFromBytes truncates or zero-pads b to 32 bytes.
func HashFromBytes(b []byte) Hash {
	var h Hash
	if len(b) >= 32 {
		copy(h[:], b[:32])
	} else {
		copy(h[:], b)
	}
	return h
}

// SortAddresses returns a sorted copy of addrs, used for canonical
// (consensus-safe) map iteration per spec §5.
func SortAddresses(addrs []Address) []Address {
	out := make([]Address, len(addrs))
	copy(out, addrs)
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].Less(out[j-1]); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

// clampU32 clamps v into [lo, hi].
func clampU32(v, lo, hi uint32) uint32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func must(cond bool, format string, args ...any) {
	if !cond {
		panic(fmt.Sprintf(format, args...))
	}
}
