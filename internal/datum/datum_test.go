package datum

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"brkt/internal/reader"
)

func tag(kind uint8, flags uint8) uint8 {
	return kind<<3 | flags
}

func TestReadInt(t *testing.T) {
	buf := []byte{tag(0, 0), 0x2A, 0x00, 0x00, 0x00}
	d, err := Read(reader.New(buf))
	require.NoError(t, err)
	assert.Equal(t, KindInt, d.Kind)
	assert.EqualValues(t, 42, d.AsInt)
}

func TestReadFloat(t *testing.T) {
	bits := math.Float64bits(3.5)
	buf := make([]byte, 9)
	buf[0] = tag(1, 0)
	for i := 0; i < 8; i++ {
		buf[1+i] = byte(bits >> (8 * i))
	}

	d, err := Read(reader.New(buf))
	require.NoError(t, err)
	assert.Equal(t, KindFloat, d.Kind)
	assert.Equal(t, 3.5, d.AsFloat)
}

func TestReadBoolBothValues(t *testing.T) {
	dTrue, err := Read(reader.New([]byte{tag(4, 1)}))
	require.NoError(t, err)
	assert.True(t, dTrue.AsBool)

	dFalse, err := Read(reader.New([]byte{tag(4, 0)}))
	require.NoError(t, err)
	assert.False(t, dFalse.AsBool)
}

func TestReadNil(t *testing.T) {
	d, err := Read(reader.New([]byte{tag(5, 0)}))
	require.NoError(t, err)
	assert.Equal(t, KindNil, d.Kind)
}

func TestReadStrZeroAndMaxLength(t *testing.T) {
	empty, err := Read(reader.New([]byte{tag(6, 0), 0x00, 0x00}))
	require.NoError(t, err)
	assert.Empty(t, empty.AsStr)

	max := make([]byte, 3+65535)
	max[0] = tag(6, 0)
	max[1] = 0xFF
	max[2] = 0xFF
	d, err := Read(reader.New(max))
	require.NoError(t, err)
	assert.Len(t, d.AsStr, 65535)
}

func TestUnknownTag(t *testing.T) {
	_, err := Read(reader.New([]byte{tag(7, 0)}))
	require.ErrorIs(t, err, ErrMalformed)
}
