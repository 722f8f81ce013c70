package bvm_test

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"brkt/internal/asm"
	"brkt/internal/bvm"
)

func TestLoadRoundTripsEmptyProgram(t *testing.T) {
	bin, err := asm.Assemble(`halt`)
	require.NoError(t, err)

	prog, err := bvm.Load(bin)
	require.NoError(t, err)

	require.Equal(t, bvm.Magic, prog.Header.Magic)
	require.Len(t, prog.Bytecode, 1)
	require.Equal(t, bvm.OpHalt, prog.Bytecode[0].Opcode)
	require.Empty(t, prog.Symbols)
	require.Empty(t, prog.Constants)
	require.Empty(t, prog.Procedures)
	require.NotEqual(t, prog.BuildID.String(), "")
}

func TestLoadRejectsBadMagic(t *testing.T) {
	bin, err := asm.Assemble(`halt`)
	require.NoError(t, err)

	corrupt := make([]byte, len(bin))
	copy(corrupt, bin)
	corrupt[0] ^= 0xFF

	_, err = bvm.Load(corrupt)
	require.ErrorIs(t, err, bvm.ErrInvalidMagic)
}

func TestLoadRejectsTruncatedHeader(t *testing.T) {
	bin, err := asm.Assemble(`halt`)
	require.NoError(t, err)

	_, err = bvm.Load(bin[:10])
	require.ErrorIs(t, err, bvm.ErrOutOfBounds)
}

func TestLoadRejectsTruncatedSection(t *testing.T) {
	bin, err := asm.Assemble(`
.const int 7
load_const 0
halt
`)
	require.NoError(t, err)

	// Chop off the final few bytes so the bytecode section (the last one the
	// assembler emits) has a declared size that overruns the buffer the
	// reader actually has.
	truncated := bin[:len(bin)-3]
	_, err = bvm.Load(truncated)
	require.Error(t, err)
}

// A handful of boundary-case headers are easier to construct directly than
// through the assembler, since it always emits a well-formed section table.
func rawHeaderOnly(magic uint32, sectionCount uint8) []byte {
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, magic)
	binary.Write(&buf, binary.LittleEndian, uint16(1))
	buf.WriteByte(4)
	buf.WriteByte(0)
	buf.Write(make([]byte, 16))
	buf.WriteByte(sectionCount)
	return buf.Bytes()
}

func TestLoadAcceptsZeroSections(t *testing.T) {
	bin := rawHeaderOnly(bvm.Magic, 0)
	prog, err := bvm.Load(bin)
	require.NoError(t, err)
	require.Empty(t, prog.Sections)
	require.Nil(t, prog.Bytecode)
}

func TestLoadRejectsDeclaredSectionWithNoTableEntry(t *testing.T) {
	bin := rawHeaderOnly(bvm.Magic, 1)
	// Section count says one entry follows, but the buffer ends here.
	_, err := bvm.Load(bin)
	require.ErrorIs(t, err, bvm.ErrOutOfBounds)
}

func TestSymbolIDLookup(t *testing.T) {
	bin, err := asm.Assemble(`
.primitive +
halt
`)
	require.NoError(t, err)

	prog, err := bvm.Load(bin)
	require.NoError(t, err)

	id, ok := prog.SymbolID("+")
	require.True(t, ok)
	require.Equal(t, uint32(0), id)

	_, ok = prog.SymbolID("does-not-exist")
	require.False(t, ok)
}
