// Package blind implements the Diffie-Hellman blinding of private sets.
//
// Each party holds a secret scalar s. Its own elements are hashed into the group
// and raised to s, and the peer's blinded elements are raised to s once more.
// Since (H(x)ᵃ)ᵇ = (H(x)ᵇ)ᵃ, doubly blinded values of common elements coincide,
// while single blinded values reveal nothing about the elements.
package blind

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync/atomic"

	"github.com/hashicorp/go-multierror"
	"github.com/ktopiwo/psi/pkg/math/group"
	"github.com/ktopiwo/psi/pkg/math/sample"
	"github.com/ktopiwo/psi/pkg/pool"
	"github.com/ktopiwo/psi/pkg/set"
)

var (
	// ErrSecretNotInitialized is returned when the secret scalar is not sampled yet.
	ErrSecretNotInitialized = errors.New("blind: secret not initialized")
	// ErrMalformedGroupElement is returned when a received value is not an element of the group.
	ErrMalformedGroupElement = group.ErrMalformedElement
)

// BlindedSet holds the base 10 values H(x)ˢ of one party's elements.
type BlindedSet []string

// DoubleBlindedSet holds a BlindedSet re-blinded by the other party, position by position.
type DoubleBlindedSet []string

// Encoding is a blinded set together with, for each entry, the elements that produced it.
// Origins has more than one element for an entry only when hashes collide.
type Encoding struct {
	Blinded BlindedSet
	Origins [][]string
}

// Blinder holds one party's secret scalar for a single session.
type Blinder struct {
	g  *group.Group
	pl *pool.Pool

	ready  chan struct{}
	secret *group.Scalar
	err    error

	progress func(done, total int)
}

// New samples a fresh secret and returns a ready Blinder.
func New(g *group.Group, rand io.Reader, pl *pool.Pool) (*Blinder, error) {
	b := newBlinder(g, pl)
	b.init(rand)
	if b.err != nil {
		return nil, b.err
	}
	return b, nil
}

// NewAsync returns immediately and samples the secret in the background.
// Until sampling completes, every operation fails with ErrSecretNotInitialized.
// If sampling fails, every operation fails with the sampling error.
func NewAsync(g *group.Group, rand io.Reader, pl *pool.Pool) *Blinder {
	b := newBlinder(g, pl)
	go b.init(rand)
	return b
}

// FromSecret wraps an existing scalar.
func FromSecret(g *group.Group, secret *group.Scalar, pl *pool.Pool) *Blinder {
	b := newBlinder(g, pl)
	b.secret = secret
	close(b.ready)
	return b
}

func newBlinder(g *group.Group, pl *pool.Pool) *Blinder {
	return &Blinder{g: g, pl: pl, ready: make(chan struct{})}
}

func (b *Blinder) init(rand io.Reader) {
	defer close(b.ready)
	s, err := sample.Scalar(rand, b.g)
	if err != nil {
		b.err = fmt.Errorf("blind: sampling secret: %w", err)
		return
	}
	b.secret = s
}

// OnProgress registers f, called after every exponentiation with the number done so far.
// It must be set before the Blinder is used, and f must be safe for concurrent use.
func (b *Blinder) OnProgress(f func(done, total int)) {
	b.progress = f
}

// Group returns the group the Blinder exponentiates in.
func (b *Blinder) Group() *group.Group { return b.g }

// Ready returns true once sampling has finished, successfully or not.
func (b *Blinder) Ready() bool {
	select {
	case <-b.ready:
		return true
	default:
		return false
	}
}

// Wait blocks until the secret is available, sampling failed, or ctx is done.
func (b *Blinder) Wait(ctx context.Context) error {
	select {
	case <-b.ready:
		return b.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Secret returns the scalar, for resolving the intersection at the end of the session.
func (b *Blinder) Secret() (*group.Scalar, error) {
	if !b.Ready() {
		return nil, ErrSecretNotInitialized
	}
	if b.err != nil {
		return nil, b.err
	}
	return b.secret, nil
}

// Encode blinds every element of s.
//
// Entries are ordered by blinded value, which is reproducible from s and the secret but
// independent of the elements themselves. Elements whose hashes collide share one entry.
func (b *Blinder) Encode(s *set.Set) (*Encoding, error) {
	secret, err := b.Secret()
	if err != nil {
		return nil, err
	}
	elements := s.Sorted()
	blinded := make([]*group.Element, len(elements))
	b.parallelize(len(elements), func(i int) {
		blinded[i] = b.g.Exp(b.g.HashToElement(elements[i]), secret)
	})

	order := make([]int, len(elements))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		return bytes.Compare(blinded[order[i]].Bytes(), blinded[order[j]].Bytes()) < 0
	})

	enc := &Encoding{
		Blinded: make(BlindedSet, 0, len(elements)),
		Origins: make([][]string, 0, len(elements)),
	}
	for k, i := range order {
		if k > 0 && blinded[i].Equal(blinded[order[k-1]]) {
			last := len(enc.Origins) - 1
			enc.Origins[last] = append(enc.Origins[last], elements[i])
			continue
		}
		enc.Blinded = append(enc.Blinded, blinded[i].String())
		enc.Origins = append(enc.Origins, []string{elements[i]})
	}
	return enc, nil
}

// EncodeOwnSet returns the blinded values H(x)ˢ of the elements of s.
func (b *Blinder) EncodeOwnSet(s *set.Set) (BlindedSet, error) {
	enc, err := b.Encode(s)
	if err != nil {
		return nil, err
	}
	return enc.Blinded, nil
}

// ReBlind raises every received value to the secret, keeping positions: entry i of the
// result is the re-blinding of entry i of received.
//
// If any entry is not a base 10 integer in [0, p), nothing is computed and the error
// lists every offending position.
func (b *Blinder) ReBlind(received BlindedSet) (DoubleBlindedSet, error) {
	secret, err := b.Secret()
	if err != nil {
		return nil, err
	}
	elements, err := ParseElements(b.g, received)
	if err != nil {
		return nil, err
	}
	return b.exp(elements, secret), nil
}

// ReBlindElements is ReBlind for values that were already parsed.
func (b *Blinder) ReBlindElements(received []*group.Element) (DoubleBlindedSet, error) {
	secret, err := b.Secret()
	if err != nil {
		return nil, err
	}
	return b.exp(received, secret), nil
}

func (b *Blinder) exp(elements []*group.Element, secret *group.Scalar) DoubleBlindedSet {
	out := make(DoubleBlindedSet, len(elements))
	b.parallelize(len(elements), func(i int) {
		out[i] = b.g.Exp(elements[i], secret).String()
	})
	return out
}

func (b *Blinder) parallelize(count int, f func(i int)) {
	if b.progress == nil {
		b.pl.Parallelize(count, f)
		return
	}
	var done int64
	b.pl.Parallelize(count, func(i int) {
		f(i)
		b.progress(int(atomic.AddInt64(&done, 1)), count)
	})
}

// ParseElements decodes a list of base 10 values. Every malformed position is reported.
func ParseElements(g *group.Group, values []string) ([]*group.Element, error) {
	var errs *multierror.Error
	elements := make([]*group.Element, len(values))
	for i, v := range values {
		e, err := g.ParseElement(v)
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("entry %d: %w", i, err))
			continue
		}
		elements[i] = e
	}
	if err := errs.ErrorOrNil(); err != nil {
		return nil, err
	}
	return elements, nil
}
