// Package hash derives session identifiers from a transcript of labelled values.
package hash

import (
	"errors"
	"fmt"
	"io"

	"github.com/ktopiwo/psi/internal/params"
	"github.com/zeebo/blake3"
)

// DigestLengthBytes is the length of Sum.
const DigestLengthBytes = params.SSIDBytes

// ErrNilData is returned when a Labeled value carries no data.
var ErrNilData = errors.New("hash: nil data")

// Hash is a blake3 transcript. Every value is framed with its domain and length,
// so no two different sequences of writes produce the same state.
type Hash struct {
	h *blake3.Hasher
}

// New returns a transcript which already absorbed initial.
// Values that fail to write are skipped; use Write to see the error.
func New(initial ...Domained) *Hash {
	h := &Hash{h: blake3.New()}
	for _, v := range initial {
		_ = frame(h.h, v)
	}
	return h
}

// Write absorbs each value. Strings and byte slices are labelled by their type.
func (h *Hash) Write(values ...interface{}) error {
	for _, v := range values {
		var d Domained
		switch t := v.(type) {
		case []byte:
			d = Labeled{Label: "bytes", Data: t}
		case string:
			d = Labeled{Label: "string", Data: []byte(t)}
		case Domained:
			d = t
		default:
			return fmt.Errorf("hash.Write: unsupported type %T", v)
		}
		if err := frame(h.h, d); err != nil {
			return fmt.Errorf("hash.Write: %s: %w", d.Domain(), err)
		}
	}
	return nil
}

// Digest finalizes a copy of the state and returns its extendable output.
func (h *Hash) Digest() io.Reader {
	return h.h.Digest()
}

// Sum returns the first DigestLengthBytes of Digest.
func (h *Hash) Sum() []byte {
	out := make([]byte, DigestLengthBytes)
	if _, err := io.ReadFull(h.Digest(), out); err != nil {
		panic(fmt.Sprintf("hash.Sum: %v", err))
	}
	return out
}
