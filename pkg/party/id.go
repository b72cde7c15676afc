package party

import (
	"io"
)

// ID represents the identifier of a particular party, encoded as a string.
//
// Peers on a shared transport are told apart by their ID, so IDs must be
// unique within one protocol execution.
type ID string

// WriteTo implements io.WriterTo interface.
func (id ID) WriteTo(w io.Writer) (int64, error) {
	if id == "" {
		return 0, io.ErrUnexpectedEOF
	}
	n, err := w.Write([]byte(id))
	return int64(n), err
}

// Domain implements hash.Domained.
func (ID) Domain() string {
	return "ID"
}
