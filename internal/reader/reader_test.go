package reader

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrimitiveDecode(t *testing.T) {
	buf := []byte{0x2A, 0x34, 0x12, 0x78, 0x56, 0x34, 0x12, 'h', 'i'}
	r := New(buf)

	b, err := r.U8()
	require.NoError(t, err)
	assert.EqualValues(t, 0x2A, b)

	u16, err := r.U16()
	require.NoError(t, err)
	assert.EqualValues(t, 0x1234, u16)

	u32, err := r.U32()
	require.NoError(t, err)
	assert.EqualValues(t, 0x12345678, u32)

	raw, err := r.Bytes(2)
	require.NoError(t, err)
	assert.Equal(t, []byte("hi"), raw)
}

func TestOutOfBounds(t *testing.T) {
	r := New([]byte{0x01, 0x02})

	_, err := r.U32()
	require.ErrorIs(t, err, ErrOutOfBounds)
}

func TestSkipAndSeek(t *testing.T) {
	r := New([]byte{1, 2, 3, 4, 5})

	require.NoError(t, r.Skip(3))
	assert.Equal(t, 3, r.Pos())

	r.Seek(0)
	b, err := r.U8()
	require.NoError(t, err)
	assert.EqualValues(t, 1, b)
}

func TestBytesCopiesNotAliases(t *testing.T) {
	buf := []byte{1, 2, 3}
	r := New(buf)

	out, err := r.Bytes(3)
	require.NoError(t, err)
	out[0] = 0xFF
	assert.EqualValues(t, 1, buf[0])
}
