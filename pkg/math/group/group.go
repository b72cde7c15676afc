package group

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math/big"

	"github.com/cronokirby/saferith"
	lru "github.com/hashicorp/golang-lru"
)

// mersenne521 is the decimal form of 2^521 - 1.
const mersenne521 = "6864797660130609714981900799081393217269435300143305409394463459185543183397656052122559640661454554977296311391480858037121987999716643812574028291115057151"

var (
	// ErrInvalidModulus is returned when a group is created from something other than an odd prime > 3.
	ErrInvalidModulus = errors.New("group: modulus must be a prime greater than 3")
	// ErrMalformedElement is returned when a string does not encode an integer in [0, p).
	ErrMalformedElement = errors.New("group: malformed group element")
)

// Group is the multiplicative group of integers modulo a fixed prime p.
//
// A Group is immutable once created and may be shared between goroutines and sessions.
// Both parties of a protocol must use groups with the same modulus, otherwise
// every comparison silently fails.
type Group struct {
	// p is the prime modulus.
	p *saferith.Modulus
	// bound = p - 2, scalars are sampled in [0, bound) and shifted by one.
	bound *saferith.Modulus
	// byteLen is the fixed width of serialized elements.
	byteLen int
	// cache optionally memoizes HashToElement.
	cache *lru.Cache
}

var defaultGroup = mustFromDecimal(mersenne521)

// Default returns the group modulo the Mersenne prime 2^521 - 1.
func Default() *Group {
	return defaultGroup
}

// New creates a group for the prime p.
// It returns ErrInvalidModulus if p is not a prime greater than 3.
func New(p *big.Int) (*Group, error) {
	if p == nil || p.Cmp(big.NewInt(3)) <= 0 || !p.ProbablyPrime(20) {
		return nil, ErrInvalidModulus
	}
	bits := p.BitLen()
	pNat := new(saferith.Nat).SetBig(p, bits)
	bound := new(big.Int).Sub(p, big.NewInt(2))
	return &Group{
		p:       saferith.ModulusFromNat(pNat),
		bound:   saferith.ModulusFromNat(new(saferith.Nat).SetBig(bound, bits)),
		byteLen: (bits + 7) / 8,
	}, nil
}

// FromDecimal parses a base 10 modulus and creates the corresponding group.
func FromDecimal(s string) (*Group, error) {
	p, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("group.FromDecimal: %w", ErrInvalidModulus)
	}
	g, err := New(p)
	if err != nil {
		return nil, fmt.Errorf("group.FromDecimal: %w", err)
	}
	return g, nil
}

func mustFromDecimal(s string) *Group {
	g, err := FromDecimal(s)
	if err != nil {
		panic(err)
	}
	return g
}

// WithHashCache returns a copy of g which memoizes up to size results of HashToElement.
// A size <= 0 returns a copy without a cache.
func (g *Group) WithHashCache(size int) (*Group, error) {
	g2 := *g
	g2.cache = nil
	if size <= 0 {
		return &g2, nil
	}
	cache, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("group: hash cache: %w", err)
	}
	g2.cache = cache
	return &g2, nil
}

// Modulus returns a copy of p.
func (g *Group) Modulus() *big.Int { return g.p.Big() }

// BitLen is the bit length of p.
func (g *Group) BitLen() int { return g.p.BitLen() }

// ByteLen is the width in bytes of a serialized element.
func (g *Group) ByteLen() int { return g.byteLen }

// ScalarBound returns p - 2, the number of valid scalars.
func (g *Group) ScalarBound() *saferith.Modulus { return g.bound }

// Equal returns true if both groups use the same modulus.
func (g *Group) Equal(other *Group) bool {
	if g == nil || other == nil {
		return g == other
	}
	return g.p.Nat().Eq(other.p.Nat()) == 1
}

// Name is a short human readable description of the group.
func (g *Group) Name() string {
	if g.Equal(defaultGroup) {
		return "modp-2^521-1"
	}
	return fmt.Sprintf("modp-%dbit", g.BitLen())
}

// String implements fmt.Stringer.
func (g *Group) String() string { return g.Name() }

// WriteTo implements io.WriterTo, and writes the length-prefixed modulus.
func (g *Group) WriteTo(w io.Writer) (int64, error) {
	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(g.byteLen))
	n0, err := w.Write(prefix[:])
	if err != nil {
		return int64(n0), err
	}
	n1, err := w.Write(g.p.Nat().FillBytes(make([]byte, g.byteLen)))
	return int64(n0 + n1), err
}

// Domain implements hash.Domained.
func (*Group) Domain() string { return "Group Modulus" }

// Exp returns xˢ (mod p).
//
// The exponentiation runs in time independent of the value of s.
func (g *Group) Exp(x *Element, s *Scalar) *Element {
	return &Element{
		n:       new(saferith.Nat).Exp(x.n, s.n, g.p),
		byteLen: g.byteLen,
	}
}

// NewElement reduces n modulo p and returns it as an element.
func (g *Group) NewElement(n *big.Int) *Element {
	v := new(big.Int).Mod(n, g.p.Big())
	return &Element{
		n:       new(saferith.Nat).SetBig(v, g.BitLen()),
		byteLen: g.byteLen,
	}
}

// ParseElement reads a base 10 element.
//
// Only digits are accepted, and the value must lie in [0, p).
func (g *Group) ParseElement(s string) (*Element, error) {
	if s == "" {
		return nil, fmt.Errorf("%w: empty string", ErrMalformedElement)
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return nil, fmt.Errorf("%w: %q is not a base 10 integer", ErrMalformedElement, truncate(s))
		}
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("%w: %q is not a base 10 integer", ErrMalformedElement, truncate(s))
	}
	if v.Cmp(g.p.Big()) >= 0 {
		return nil, fmt.Errorf("%w: value exceeds modulus", ErrMalformedElement)
	}
	return &Element{
		n:       new(saferith.Nat).SetBig(v, g.BitLen()),
		byteLen: g.byteLen,
	}, nil
}

// ParseElementBytes reads a big-endian element of exactly ByteLen bytes.
func (g *Group) ParseElementBytes(b []byte) (*Element, error) {
	if len(b) != g.byteLen {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d", ErrMalformedElement, g.byteLen, len(b))
	}
	n := new(saferith.Nat).SetBytes(b)
	if _, _, lt := n.CmpMod(g.p); lt != 1 {
		return nil, fmt.Errorf("%w: value exceeds modulus", ErrMalformedElement)
	}
	return &Element{n: n.Resize(g.BitLen()), byteLen: g.byteLen}, nil
}

func truncate(s string) string {
	const max = 16
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
