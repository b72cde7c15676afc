package group

import (
	"crypto/sha256"

	"github.com/cronokirby/saferith"
)

// HashToElement maps a set element into the group.
//
// The SHA-256 digest of the UTF-8 bytes of x is read as a big-endian integer and
// reduced modulo p. Equal inputs always produce equal elements, across sessions and parties.
func (g *Group) HashToElement(x string) *Element {
	if g.cache != nil {
		if v, ok := g.cache.Get(x); ok {
			return v.(*Element)
		}
	}
	digest := sha256.Sum256([]byte(x))
	n := new(saferith.Nat).SetBytes(digest[:])
	e := &Element{
		n:       new(saferith.Nat).Mod(n, g.p),
		byteLen: g.byteLen,
	}
	if g.cache != nil {
		g.cache.Add(x, e)
	}
	return e
}
