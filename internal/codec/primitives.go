// Package codec implements the fixed-width binary encoding shared by the
// ledger store, block/transaction hashing, and the peer wire protocol.
//
// Every value round-trips byte-identically: fixed 8-byte little-endian
// integers, 8-byte length-prefixed byte strings, and recursion for nested
// values. No varints — determinism across implementations matters more
// than density here.
package codec

import (
	"encoding/binary"
	"fmt"
)

// Reader walks a byte slice left to right, erroring instead of panicking
// on truncation so callers can treat malformed wire data as an ordinary
// protocol error.
type Reader struct {
	buf []byte
	pos int
}

func NewReader(buf []byte) *Reader {
	return &Reader{buf: buf}
}

func (r *Reader) Remaining() int {
	return len(r.buf) - r.pos
}

func (r *Reader) take(n int) ([]byte, error) {
	if n < 0 || r.Remaining() < n {
		return nil, fmt.Errorf("codec: truncated input, need %d bytes, have %d", n, r.Remaining())
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

func (r *Reader) ReadUint64() (uint64, error) {
	b, err := r.take(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (r *Reader) ReadUint32() (uint32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (r *Reader) ReadInt64() (int64, error) {
	v, err := r.ReadUint64()
	return int64(v), err
}

func (r *Reader) ReadByte() (byte, error) {
	b, err := r.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// ReadBytes reads an 8-byte LE length prefix followed by that many bytes.
func (r *Reader) ReadBytes() ([]byte, error) {
	n, err := r.ReadUint64()
	if err != nil {
		return nil, err
	}
	// Bound against a malicious/corrupt length blowing up an allocation.
	if n > uint64(r.Remaining()) {
		return nil, fmt.Errorf("codec: byte string length %d exceeds remaining input", n)
	}
	b, err := r.take(int(n))
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out, nil
}

// ReadHash reads a fixed 32-byte digest.
func (r *Reader) ReadHash() ([32]byte, error) {
	var h [32]byte
	b, err := r.take(32)
	if err != nil {
		return h, err
	}
	copy(h[:], b)
	return h, nil
}

// Writer appends fixed-width fields to an internal buffer.
type Writer struct {
	buf []byte
}

func NewWriter() *Writer {
	return &Writer{}
}

func (w *Writer) Bytes() []byte {
	return w.buf
}

func (w *Writer) WriteUint64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *Writer) WriteUint32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *Writer) WriteInt64(v int64) {
	w.WriteUint64(uint64(v))
}

func (w *Writer) WriteByte(v byte) error {
	w.buf = append(w.buf, v)
	return nil
}

// WriteBytes writes an 8-byte LE length prefix followed by raw bytes.
func (w *Writer) WriteBytes(b []byte) {
	w.WriteUint64(uint64(len(b)))
	w.buf = append(w.buf, b...)
}

// WriteHash writes a fixed 32-byte digest verbatim.
func (w *Writer) WriteHash(h [32]byte) {
	w.buf = append(w.buf, h[:]...)
}
