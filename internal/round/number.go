package round

import (
	"encoding/binary"
	"io"
)

// Number identifies a round. Round 1 opens a protocol and 0 is its terminal round.
type Number uint16

// WriteTo writes n as two big endian bytes.
func (n Number) WriteTo(w io.Writer) (int64, error) {
	var buf [2]byte
	binary.BigEndian.PutUint16(buf[:], uint16(n))
	k, err := w.Write(buf[:])
	return int64(k), err
}

// Domain implements hash.Domained.
func (Number) Domain() string { return "round number" }
