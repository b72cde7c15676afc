package emptiness

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/hashicorp/go-multierror"
	"github.com/ktopiwo/psi/internal/params"
	"github.com/ktopiwo/psi/pkg/math/group"
	"github.com/ktopiwo/psi/pkg/math/sample"
	"golang.org/x/crypto/hkdf"
)

// SessionKey is the secret of one session. It is never published.
type SessionKey []byte

// String returns the hex encoding of the key.
func (k SessionKey) String() string { return hex.EncodeToString(k) }

// Labeler labels elements under one session key.
type Labeler interface {
	// Label labels one of our own elements.
	Label(x string) string
	// Relabel applies our key to a label produced by the peer.
	Relabel(label string) (string, error)
}

// Scheme turns session keys into Labelers. Both parties must use the same Scheme.
type Scheme interface {
	Name() string
	Labeler(key SessionKey) (Labeler, error)
	// Check returns an error if label could not have been produced by this scheme.
	Check(label string) error
}

// Commutative labels x with hex(H(x)ᵏ), where k is a scalar derived from the session key.
// Relabelling commutes: (H(x)ᵃ)ᵇ = (H(x)ᵇ)ᵃ.
type Commutative struct {
	Group *group.Group
}

func (c Commutative) group() *group.Group {
	if c.Group == nil {
		return group.Default()
	}
	return c.Group
}

// Name implements Scheme.
func (c Commutative) Name() string { return "commutative/" + c.group().Name() }

// Labeler implements Scheme.
func (c Commutative) Labeler(key SessionKey) (Labeler, error) {
	if len(key) == 0 {
		return nil, ErrSessionKeyNotReady
	}
	g := c.group()
	kdf := hkdf.New(sha256.New, key, nil, []byte("psi emptiness "+g.Name()))
	k, err := sample.Scalar(kdf, g)
	if err != nil {
		return nil, fmt.Errorf("emptiness: deriving scalar: %w", err)
	}
	return &commutativeLabeler{g: g, k: k}, nil
}

// Check implements Scheme.
func (c Commutative) Check(label string) error {
	_, err := c.parse(label)
	return err
}

func (c Commutative) parse(label string) (*group.Element, error) {
	b, err := hex.DecodeString(label)
	if err != nil {
		return nil, malformed("label %.16q: %v", label, err)
	}
	e, err := c.group().ParseElementBytes(b)
	if err != nil {
		return nil, malformed("label %.16q: %v", label, err)
	}
	return e, nil
}

type commutativeLabeler struct {
	g *group.Group
	k *group.Scalar
}

func (l *commutativeLabeler) Label(x string) string {
	return l.g.Exp(l.g.HashToElement(x), l.k).Hex()
}

func (l *commutativeLabeler) Relabel(label string) (string, error) {
	e, err := Commutative{Group: l.g}.parse(label)
	if err != nil {
		return "", err
	}
	return l.g.Exp(e, l.k).Hex(), nil
}

// KeyedHash labels x with hex(sha256(key "|" x)).
//
// Two keyed hashes do not commute, so an initiator using this scheme always
// concludes that the intersection is empty. It is kept for interoperability with
// peers that only implement this construction, and must not be relied on.
type KeyedHash struct{}

// Name implements Scheme.
func (KeyedHash) Name() string { return "keyed-sha256" }

// Labeler implements Scheme.
func (KeyedHash) Labeler(key SessionKey) (Labeler, error) {
	if len(key) == 0 {
		return nil, ErrSessionKeyNotReady
	}
	return keyedHashLabeler(key.String()), nil
}

// Check implements Scheme.
func (KeyedHash) Check(label string) error {
	b, err := hex.DecodeString(label)
	if err != nil {
		return malformed("label %.16q: %v", label, err)
	}
	if len(b) != params.DigestBytes {
		return malformed("label %.16q: %d bytes", label, len(b))
	}
	return nil
}

type keyedHashLabeler string

func (k keyedHashLabeler) Label(x string) string {
	sum := sha256.Sum256([]byte(string(k) + "|" + x))
	return hex.EncodeToString(sum[:])
}

func (k keyedHashLabeler) Relabel(label string) (string, error) {
	if err := (KeyedHash{}).Check(label); err != nil {
		return "", err
	}
	return k.Label(label), nil
}

// NewKey reads a fresh session key from rand.
func NewKey(rand io.Reader) (SessionKey, error) {
	key, err := sample.SessionKey(rand)
	if err != nil {
		return nil, err
	}
	return key, nil
}

// SchemeByName returns the scheme selected by a configuration value,
// "commutative" or "keyed-hash".
func SchemeByName(name string, g *group.Group) (Scheme, error) {
	switch name {
	case "", "commutative":
		return Commutative{Group: g}, nil
	case "keyed-hash":
		return KeyedHash{}, nil
	default:
		return nil, fmt.Errorf("emptiness: unknown scheme %q", name)
	}
}

// checkAll reports every label that fails check.
func checkAll(s Scheme, field string, labels []string) error {
	var errs *multierror.Error
	for i, l := range labels {
		if err := s.Check(l); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("%s[%d]: %w", field, i, err))
		}
	}
	return errs.ErrorOrNil()
}
