// Package intersection turns the messages of a blinding exchange into the plaintext intersection.
package intersection

import (
	"errors"
	"fmt"

	"github.com/RoaringBitmap/roaring"
	"github.com/ktopiwo/psi/pkg/blind"
	"github.com/ktopiwo/psi/pkg/math/group"
	"github.com/ktopiwo/psi/pkg/pool"
	"github.com/ktopiwo/psi/pkg/set"
)

// ErrSizeMismatch is returned when the peer did not re-blind exactly our encoding.
var ErrSizeMismatch = errors.New("intersection: re-blinded set does not match own encoding")

// Resolve computes own ∩ peer from this party's point of view.
//
//   - own is this party's set and secret the scalar it blinded own with;
//   - peerDouble is the peer's re-blinding of our BlindedSet, in the same order;
//   - peerBlinded is the peer's own BlindedSet.
//
// Resolve recomputes the encoding of own so that entry i of peerDouble can be attributed
// to the elements that produced entry i. The result is keyed 1:1 by the double blinded
// value. This deliberately differs from joining every matched value with every own
// element, which reports the whole own set as soon as a single element matches.
//
// Elements whose hashes collide are all reported together.
func Resolve(g *group.Group, own *set.Set, secret *group.Scalar, peerDouble blind.DoubleBlindedSet, peerBlinded blind.BlindedSet, pl *pool.Pool) (*set.Set, error) {
	if own.Empty() {
		return set.New(), nil
	}
	b := blind.FromSecret(g, secret, pl)
	enc, err := b.Encode(own)
	if err != nil {
		return nil, fmt.Errorf("intersection.Resolve: %w", err)
	}
	if len(peerDouble) != len(enc.Blinded) {
		return nil, fmt.Errorf("%w: got %d values, encoded %d", ErrSizeMismatch, len(peerDouble), len(enc.Blinded))
	}

	doubles, err := blind.ParseElements(g, peerDouble)
	if err != nil {
		return nil, fmt.Errorf("intersection.Resolve: peer re-blinding: %w", err)
	}
	// H(x)ᵃᵇ -> positions in enc; more than one only if exponentiation by the peer's secret is not injective
	index := make(map[string][]uint32, len(doubles))
	for i, d := range doubles {
		key := d.String()
		index[key] = append(index[key], uint32(i))
	}

	theirs, err := b.ReBlind(peerBlinded)
	if err != nil {
		return nil, fmt.Errorf("intersection.Resolve: peer set: %w", err)
	}
	matched := roaring.New()
	for _, v := range theirs {
		matched.AddMany(index[v])
	}

	var common []string
	it := matched.Iterator()
	for it.HasNext() {
		common = append(common, enc.Origins[it.Next()]...)
	}
	return set.New(common...), nil
}
