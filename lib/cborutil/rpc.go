package cborutil

import (
	"bytes"
	"io"

	"github.com/fxamacker/cbor/v2"
	"github.com/multiformats/go-varint"
	"golang.org/x/xerrors"
)

// Canonical encoding options. Map keys are sorted and indefinite-length
// items are forbidden so that identical values always produce identical
// bytes; record and transaction ids are hashes of this encoding.
var encOptions = cbor.EncOptions{
	Sort:          cbor.SortCanonical,
	ShortestFloat: cbor.ShortestFloatNone,
	Time:          cbor.TimeUnix,
	TimeTag:       cbor.EncTagNone,
	IndefLength:   cbor.IndefLengthForbidden,
	BigIntConvert: cbor.BigIntConvertShortest,
}

// Decoding options bound container sizes and nesting so a malicious peer
// cannot exhaust memory with a tiny header.
var decOptions = cbor.DecOptions{
	MaxArrayElements: 1 << 20,
	MaxMapPairs:      1 << 20,
	MaxNestedLevels:  64,
	IndefLength:      cbor.IndefLengthForbidden,
	DupMapKey:        cbor.DupMapKeyEnforcedAPF,
}

var em, _ = encOptions.EncMode()
var dm, _ = decOptions.DecMode()

// MaxMessageSize bounds one framed message: a chunk plus headroom for
// the envelope around it.
const MaxMessageSize = 2 << 20

// WriteCborRPC frames the canonical encoding of obj onto w behind a
// uvarint byte length.
func WriteCborRPC(w io.Writer, obj interface{}) error {
	data, err := em.Marshal(obj)
	if err != nil {
		return xerrors.Errorf("marshaling cbor rpc: %w", err)
	}

	if _, err := w.Write(varint.ToUvarint(uint64(len(data)))); err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// ReadCborRPC reads a single framed message from r into out.
func ReadCborRPC(r io.Reader, out interface{}) error {
	l, err := varint.ReadUvarint(toByteReader(r))
	if err != nil {
		return xerrors.Errorf("reading message length: %w", err)
	}
	if l > MaxMessageSize {
		return xerrors.Errorf("message of %d bytes exceeds limit", l)
	}

	buf := make([]byte, l)
	if _, err := io.ReadFull(r, buf); err != nil {
		return err
	}
	return dm.Unmarshal(buf, out)
}

// Dump returns the canonical encoding of obj.
func Dump(obj interface{}) ([]byte, error) {
	return em.Marshal(obj)
}

// Decode decodes a full buffer into out.
func Decode(data []byte, out interface{}) error {
	return dm.Unmarshal(data, out)
}

// Equals compares two values by their canonical encoding.
func Equals(a interface{}, b interface{}) (bool, error) {
	ab, err := Dump(a)
	if err != nil {
		return false, err
	}
	bb, err := Dump(b)
	if err != nil {
		return false, err
	}
	return bytes.Equal(ab, bb), nil
}

type byteReader struct {
	io.Reader
	buf [1]byte
}

func toByteReader(r io.Reader) io.ByteReader {
	if br, ok := r.(io.ByteReader); ok {
		return br
	}
	return &byteReader{Reader: r}
}

func (br *byteReader) ReadByte() (byte, error) {
	if _, err := io.ReadFull(br.Reader, br.buf[:]); err != nil {
		return 0, err
	}
	return br.buf[0], nil
}
