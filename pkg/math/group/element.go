package group

import (
	"encoding/hex"
	"math/big"

	"github.com/cronokirby/saferith"
)

// Element is an integer in [0, p).
type Element struct {
	n       *saferith.Nat
	byteLen int
}

// Big returns a copy of the element as a big.Int.
func (e *Element) Big() *big.Int { return e.n.Big() }

// String returns the base 10 representation used on the wire.
func (e *Element) String() string { return e.n.Big().String() }

// Bytes returns the fixed width big-endian encoding of the element.
func (e *Element) Bytes() []byte {
	return e.n.FillBytes(make([]byte, e.byteLen))
}

// Hex returns the hex encoding of Bytes.
func (e *Element) Hex() string { return hex.EncodeToString(e.Bytes()) }

// Equal compares two elements in constant time.
func (e *Element) Equal(other *Element) bool {
	return e.n.Eq(other.n) == 1
}

// Scalar is a secret exponent in [1, p-1).
//
// Scalars deliberately have no encoding methods, they never leave the process.
type Scalar struct {
	n *saferith.Nat
}

// NewScalar returns the scalar 1 + r, where r must be in [0, p-2).
// The result is announced with the bit length of p, so that every exponentiation takes the same time.
func (g *Group) NewScalar(r *saferith.Nat) (*Scalar, bool) {
	if _, _, lt := r.CmpMod(g.bound); lt != 1 {
		return nil, false
	}
	one := new(saferith.Nat).SetUint64(1)
	return &Scalar{n: new(saferith.Nat).Add(r, one, g.BitLen())}, true
}

// Big returns a copy of the scalar, for tests and arithmetic checks only.
func (s *Scalar) Big() *big.Int { return s.n.Big() }
