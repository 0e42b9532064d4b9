package core

import (
	"github.com/holiman/uint256"
)

// Word is a 256-bit unsigned integer with wrapping arithmetic, the native
// value type of both the operand stack and contract storage (spec §3).
// Division and modulo by zero yield zero rather than erroring, matching the
// spec's "no exceptions" contract for arithmetic opcodes.
type Word struct {
	v uint256.Int
}

// ZeroWord is the additive identity.
var ZeroWord = Word{}

// WordFromUint64 builds a Word from a small unsigned integer.
func WordFromUint64(n uint64) Word {
	var w Word
	w.v.SetUint64(n)
	return w
}

// WordFromBytes interprets b as a big-endian 256-bit unsigned integer,
// wrapping silently if b represents a larger value.
func WordFromBytes(b []byte) Word {
	var w Word
	w.v.SetBytes(b)
	return w
}

// Bytes returns the big-endian 32-byte encoding of w.
func (w Word) Bytes() []byte {
	b := w.v.Bytes32()
	return b[:]
}

func (w Word) Uint64() uint64 { return w.v.Uint64() }

func (w Word) IsZero() bool { return w.v.IsZero() }

func (w Word) Add(o Word) Word {
	var r Word
	r.v.Add(&w.v, &o.v)
	return r
}

func (w Word) Sub(o Word) Word {
	var r Word
	r.v.Sub(&w.v, &o.v)
	return r
}

func (w Word) Mul(o Word) Word {
	var r Word
	r.v.Mul(&w.v, &o.v)
	return r
}

// Div returns w/o, or zero if o is zero.
func (w Word) Div(o Word) Word {
	var r Word
	r.v.Div(&w.v, &o.v)
	return r
}

// Mod returns w%o, or zero if o is zero.
func (w Word) Mod(o Word) Word {
	var r Word
	r.v.Mod(&w.v, &o.v)
	return r
}

func (w Word) And(o Word) Word {
	var r Word
	r.v.And(&w.v, &o.v)
	return r
}

func (w Word) Or(o Word) Word {
	var r Word
	r.v.Or(&w.v, &o.v)
	return r
}

func (w Word) Xor(o Word) Word {
	var r Word
	r.v.Xor(&w.v, &o.v)
	return r
}

func (w Word) Not() Word {
	var r Word
	r.v.Not(&w.v)
	return r
}

func (w Word) Eq(o Word) bool { return w.v.Eq(&o.v) }

func (w Word) Lt(o Word) bool { return w.v.Lt(&o.v) }

func (w Word) Gt(o Word) bool { return w.v.Gt(&o.v) }

func (w Word) Le(o Word) bool { return w.Lt(o) || w.Eq(o) }

func (w Word) Ge(o Word) bool { return w.Gt(o) || w.Eq(o) }

// BoolWord converts a boolean comparison result into the VM's canonical
// 0/1 encoding.
func BoolWord(b bool) Word {
	if b {
		return WordFromUint64(1)
	}
	return ZeroWord
}

func (w Word) String() string { return w.v.Hex() }
