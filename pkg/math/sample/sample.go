package sample

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"github.com/cronokirby/saferith"
	"github.com/ktopiwo/psi/internal/params"
	"github.com/ktopiwo/psi/pkg/math/group"
	"lukechampine.com/frand"
)

const maxIterations = 255

var (
	// ErrRandomnessUnavailable is returned when the entropy source fails.
	// Sampling is never retried after a failed read.
	ErrRandomnessUnavailable = errors.New("sample: randomness unavailable")

	ErrMaxIterations = fmt.Errorf("sample: failed to generate after %d iterations", maxIterations)
)

func readBits(rand io.Reader, buf []byte) error {
	if _, err := io.ReadFull(rand, buf); err != nil {
		return fmt.Errorf("%w: %v", ErrRandomnessUnavailable, err)
	}
	return nil
}

// ModN samples an element of ℤₙ.
//
// Candidates are read with the excess high bits masked off, and rejected when ≥ n,
// so the output is uniform and each attempt succeeds with probability > 1/2.
func ModN(rand io.Reader, n *saferith.Modulus) (*saferith.Nat, error) {
	bits := n.BitLen()
	buf := make([]byte, (bits+7)/8)
	mask := byte(0xff >> uint(8*len(buf)-bits))
	out := new(saferith.Nat)
	for i := 0; i < maxIterations; i++ {
		if err := readBits(rand, buf); err != nil {
			return nil, err
		}
		buf[0] &= mask
		out.SetBytes(buf)
		if _, _, lt := out.CmpMod(n); lt == 1 {
			return out.Resize(bits), nil
		}
	}
	return nil, ErrMaxIterations
}

// Scalar returns a uniform exponent in [1, p-1) for the group g.
func Scalar(rand io.Reader, g *group.Group) (*group.Scalar, error) {
	r, err := ModN(rand, g.ScalarBound())
	if err != nil {
		return nil, err
	}
	s, ok := g.NewScalar(r)
	if !ok {
		return nil, ErrMaxIterations
	}
	return s, nil
}

// SessionKey returns params.SessionKeyBytes of fresh randomness.
func SessionKey(rand io.Reader) ([]byte, error) {
	key := make([]byte, params.SessionKeyBytes)
	if err := readBits(rand, key); err != nil {
		return nil, err
	}
	return key, nil
}

// Source returns the entropy source registered under name.
//
// "system" (or "") is the operating system CSPRNG, "frand" is a fast userspace CSPRNG seeded from it.
func Source(name string) (io.Reader, error) {
	switch name {
	case "", "system":
		return rand.Reader, nil
	case "frand":
		return frand.Reader, nil
	default:
		return nil, fmt.Errorf("sample: unknown entropy source %q", name)
	}
}
