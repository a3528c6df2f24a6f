// Package wire is the fixed-width, big-endian codec shared by every lobby
// message. Readers never index past the buffer they were given: once a read
// would overrun, the reader latches ErrMalformed and returns zero values.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var ErrMalformed = errors.New("malformed datagram")

var be = binary.BigEndian

// Sizes of the primitive fields.
const (
	SizeU8  = 1
	SizeU16 = 2
	SizeU32 = 4
)

// SizeBytes is the encoded size of a length-prefixed field holding n bytes.
func SizeBytes(n int) int { return SizeU16 + n }

// Writer appends encoded fields to a byte slice.
type Writer struct {
	buf []byte
}

func NewWriter(capacity int) *Writer {
	return &Writer{buf: make([]byte, 0, capacity)}
}

func (w *Writer) Bytes() []byte { return w.buf }
func (w *Writer) Len() int { return len(w.buf) }

func (w *Writer) PutU8(v uint8) { w.buf = append(w.buf, v) }
func (w *Writer) PutI8(v int8) { w.PutU8(uint8(v)) }
func (w *Writer) PutU16(v uint16) { w.buf = be.AppendUint16(w.buf, v) }
func (w *Writer) PutI16(v int16) { w.PutU16(uint16(v)) }
func (w *Writer) PutU32(v uint32) { w.buf = be.AppendUint32(w.buf, v) }
func (w *Writer) PutI32(v int32) { w.PutU32(uint32(v)) }

// PutFixed writes b into a char[n] field. At most n-1 bytes are kept so the
// field always ends in NUL; the remainder is zero padded.
func (w *Writer) PutFixed(b []byte, n int) {
	if len(b) > n-1 {
		b = b[:n-1]
	}
	w.buf = append(w.buf, b...)
	for i := len(b); i < n; i++ {
		w.buf = append(w.buf, 0)
	}
}

// PutBytes writes a 16-bit length followed by the raw bytes.
func (w *Writer) PutBytes(b []byte) {
	if len(b) > 0xFFFF {
		b = b[:0xFFFF]
	}
	w.PutU16(uint16(len(b)))
	w.buf = append(w.buf, b...)
}

// Reader consumes fields from a received datagram.
type Reader struct {
	buf []byte
	off int
	err error
}

func NewReader(b []byte) *Reader {
	return &Reader{buf: b}
}

// Err reports the first decode failure, if any.
func (r *Reader) Err() error { return r.err }

// Remaining is the number of unread bytes.
func (r *Reader) Remaining() int { return len(r.buf) - r.off }

// Invalid latches ErrMalformed for content that decoded but failed
// validation.
func (r *Reader) Invalid(format string, args ...any) { r.fail(format, args...) }

func (r *Reader) fail(format string, args ...any) {
	if r.err == nil {
		r.err = fmt.Errorf("%w: %s", ErrMalformed, fmt.Sprintf(format, args...))
	}
}

// take returns the next n bytes or nil once the reader has failed.
func (r *Reader) take(n int, what string) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.Remaining() < n {
		r.fail("%s needs %d bytes at offset %d, have %d", what, n, r.off, r.Remaining())
		return nil
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b
}

func (r *Reader) U8() uint8 {
	b := r.take(SizeU8, "u8")
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *Reader) I8() int8 { return int8(r.U8()) }

func (r *Reader) U16() uint16 {
	b := r.take(SizeU16, "u16")
	if b == nil {
		return 0
	}
	return be.Uint16(b)
}

func (r *Reader) I16() int16 { return int16(r.U16()) }

func (r *Reader) U32() uint32 {
	b := r.take(SizeU32, "u32")
	if b == nil {
		return 0
	}
	return be.Uint32(b)
}

func (r *Reader) I32() int32 { return int32(r.U32()) }

// Fixed reads a char[n] field and returns the bytes before the first NUL.
// The last byte of the field must be NUL.
func (r *Reader) Fixed(n int) []byte {
	if n <= 0 {
		r.fail("fixed string of %d bytes", n)
		return nil
	}
	b := r.take(n, "fixed string")
	if b == nil {
		return nil
	}
	if b[n-1] != 0 {
		r.fail("fixed string of %d bytes is not NUL terminated", n)
		return nil
	}
	for i, c := range b {
		if c == 0 {
			return append([]byte(nil), b[:i]...)
		}
	}
	return nil
}

// Bytes reads a length-prefixed field; a declared length above limit is
// malformed.
func (r *Reader) Bytes(limit int) []byte {
	n := int(r.U16())
	if r.err != nil {
		return nil
	}
	if n > limit {
		r.fail("length %d exceeds bound %d", n, limit)
		return nil
	}
	b := r.take(n, "bytes")
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}

// Count reads a 16-bit element count that must equal want.
func (r *Reader) Count(want int) {
	n := int(r.U16())
	if r.err == nil && n != want {
		r.fail("array count %d, want %d", n, want)
	}
}

// Done fails the reader if unread bytes remain.
func (r *Reader) Done() error {
	if r.err == nil && r.Remaining() != 0 {
		r.fail("%d trailing bytes", r.Remaining())
	}
	return r.err
}
