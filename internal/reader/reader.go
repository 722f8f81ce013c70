// Package reader provides a bounds-checked cursor over a byte buffer.
//
// It is the leaf of the loader: every other decoding stage (datum, section,
// program) reads through one of these instead of slicing the underlying
// buffer directly, so a truncated or hostile file fails with
// ErrOutOfBounds instead of a panic.
package reader

import (
	"encoding/binary"
	"math"

	"github.com/pkg/errors"
)

// ErrOutOfBounds is returned (wrapped) whenever a read would advance the
// cursor past the end of the buffer.
var ErrOutOfBounds = errors.New("attempted to read out of bounds")

// Reader is a cursor over a fixed byte buffer. The zero value is not usable;
// construct one with New.
type Reader struct {
	start []byte
	cur   int
	end   int
}

// New wraps buf for bounds-checked reading, starting at offset 0.
func New(buf []byte) *Reader {
	return &Reader{start: buf, cur: 0, end: len(buf)}
}

// Pos returns the current cursor offset from the start of the buffer.
func (r *Reader) Pos() int { return r.cur }

// Len returns the total length of the underlying buffer.
func (r *Reader) Len() int { return r.end }

// Seek moves the cursor to an absolute offset from the start of the buffer.
// It does not itself fail on an out-of-range offset; the next read does.
func (r *Reader) Seek(offset int) {
	r.cur = offset
}

func (r *Reader) ensure(n int) error {
	if r.cur < 0 || n < 0 || r.cur+n > r.end {
		return errors.Wrapf(ErrOutOfBounds, "at offset %d, requested %d bytes (buffer length %d)", r.cur, n, r.end)
	}
	return nil
}

// U8 reads one unsigned byte.
func (r *Reader) U8() (uint8, error) {
	if err := r.ensure(1); err != nil {
		return 0, err
	}
	v := r.start[r.cur]
	r.cur++
	return v, nil
}

// U16 reads a little-endian uint16.
func (r *Reader) U16() (uint16, error) {
	if err := r.ensure(2); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint16(r.start[r.cur:])
	r.cur += 2
	return v, nil
}

// U32 reads a little-endian uint32.
func (r *Reader) U32() (uint32, error) {
	if err := r.ensure(4); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(r.start[r.cur:])
	r.cur += 4
	return v, nil
}

// I32 reads a little-endian int32 (two's complement).
func (r *Reader) I32() (int32, error) {
	v, err := r.U32()
	return int32(v), err
}

// F64 reads a little-endian IEEE-754 double.
func (r *Reader) F64() (float64, error) {
	if err := r.ensure(8); err != nil {
		return 0, err
	}
	bits := binary.LittleEndian.Uint64(r.start[r.cur:])
	r.cur += 8
	return math.Float64frombits(bits), nil
}

// Bytes reads n raw bytes and returns an owned copy (never an alias of the
// underlying buffer, so callers may retain it past the life of the loader's
// input slice).
func (r *Reader) Bytes(n int) ([]byte, error) {
	if err := r.ensure(n); err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, r.start[r.cur:r.cur+n])
	r.cur += n
	return out, nil
}

// Skip advances the cursor by n bytes without reading, bounds-checked the
// same as any other read. Used for the header padding.
func (r *Reader) Skip(n int) error {
	if err := r.ensure(n); err != nil {
		return err
	}
	r.cur += n
	return nil
}
