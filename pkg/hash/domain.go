package hash

import (
	"bytes"
	"encoding/binary"
	"io"
)

// Domained is a value which serializes itself under a label unique to its type.
type Domained interface {
	io.WriterTo
	Domain() string
}

// Labeled is raw data written under an explicit label.
type Labeled struct {
	Label string
	Data  []byte
}

// WriteTo implements io.WriterTo. A nil Data is an error, an empty one is not.
func (l Labeled) WriteTo(w io.Writer) (int64, error) {
	if l.Data == nil {
		return 0, ErrNilData
	}
	n, err := w.Write(l.Data)
	return int64(n), err
}

// Domain implements Domained.
func (l Labeled) Domain() string { return l.Label }

// frame writes len(domain) domain len(body) body, lengths as big endian uint32.
func frame(w io.Writer, v Domained) error {
	var body bytes.Buffer
	if _, err := v.WriteTo(&body); err != nil {
		return err
	}
	domain := v.Domain()
	buf := make([]byte, 0, 8+len(domain)+body.Len())
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(domain)))
	buf = append(buf, domain...)
	buf = binary.BigEndian.AppendUint32(buf, uint32(body.Len()))
	buf = append(buf, body.Bytes()...)
	_, err := w.Write(buf)
	return err
}
