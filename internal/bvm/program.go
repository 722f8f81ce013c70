package bvm

import (
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"brkt/internal/datum"
	"brkt/internal/reader"
)

// Magic is the canonical 32-bit magic number (ASCII "BRKT", little-endian)
// every loader checks against the file header.
const Magic uint32 = 0x544B5242

const headerPaddingBytes = 16

// Section tags identify a section-table entry's payload kind.
type sectionTag uint8

const (
	tagSymbolTable    sectionTag = 0x01
	tagConstantPool   sectionTag = 0x02
	tagProcedureTable sectionTag = 0x03
	tagBytecode       sectionTag = 0x04
	tagDebugInfo      sectionTag = 0x10
	tagSourceMap      sectionTag = 0x11
	tagLineInfo       sectionTag = 0x12
	tagTypeInfo       sectionTag = 0x13
	tagAttributes     sectionTag = 0x14
	tagVendor         sectionTag = 0xFF
)

// Header flag bits.
const (
	FlagOptimized uint8 = 1 << iota
	FlagDebug
	FlagSourceMap
	FlagAttributes
	FlagLineInfo
	FlagTypeInfo
)

// Header is the 24-byte file header.
type Header struct {
	Magic    uint32
	Version  uint16
	WordSize uint8
	Flags    uint8
}

// Section is one section-table entry: a tag and the byte range (relative to
// the start of the file) holding its payload.
type Section struct {
	Tag    uint8
	Offset uint32
	Size   uint32
}

// Symbol maps a global symbol id to its textual name.
type Symbol struct {
	ID   uint32
	Name []byte
}

// Procedure is one procedure-table entry. EntryPC == PrimitiveEntry marks a
// built-in primitive; the procedure's own index then selects which one,
// via the fixed 0..7 primitive-index convention.
type Procedure struct {
	EntryPC    uint32
	Arity      uint16
	LocalCount uint16
	FreeVars   []uint32
}

// Instruction is one decoded bytecode instruction: an opcode plus its
// already-decoded operand datums (operands are datums, not raw bytes).
type Instruction struct {
	Opcode   Opcode
	Operands []datum.Datum
}

// Program is the immutable-after-load result of the loader.
type Program struct {
	Header     Header
	Sections   []Section
	Symbols    []Symbol
	Constants  []datum.Datum
	Procedures []Procedure
	Bytecode   []Instruction

	// SkippedSections holds the raw payload bytes of every recognized-but-
	// unparsed section (SOURCE_MAP, LINE_INFO, TYPE_INFO, ATTRIBUTES,
	// VENDOR, DEBUG_INFO), keyed by tag. The loader never interprets these;
	// they are kept only so a future tool (disassembler, debugger) can read
	// them without re-running the section-table walk.
	SkippedSections map[uint8][]byte

	// BuildID correlates a single run's log lines. It is minted fresh at load time and is not part of the on-disk
	// format.
	BuildID uuid.UUID

	symbolIndex map[string]uint32
}

// SymbolID looks up a global symbol's id by name, used to bind primitives
// into their reserved global slot.
func (p *Program) SymbolID(name string) (uint32, bool) {
	if p.symbolIndex == nil {
		p.symbolIndex = make(map[string]uint32, len(p.Symbols))
		for _, s := range p.Symbols {
			p.symbolIndex[string(s.Name)] = s.ID
		}
	}
	id, ok := p.symbolIndex[name]
	return id, ok
}

// Load parses a complete BRKT binary (header, section table, and each
// recognized section) into a Program.
func Load(bin []byte) (*Program, error) {
	r := reader.New(bin)

	magic, err := r.U32()
	if err != nil {
		return nil, wrapOutOfBounds(err)
	}
	if magic != Magic {
		return nil, errors.Wrapf(ErrInvalidMagic, "got 0x%08x, want 0x%08x", magic, Magic)
	}

	version, err := r.U16()
	if err != nil {
		return nil, wrapOutOfBounds(err)
	}
	wordSize, err := r.U8()
	if err != nil {
		return nil, wrapOutOfBounds(err)
	}
	flags, err := r.U8()
	if err != nil {
		return nil, wrapOutOfBounds(err)
	}
	if err := r.Skip(headerPaddingBytes); err != nil {
		return nil, wrapOutOfBounds(err)
	}

	sectionCount, err := r.U8()
	if err != nil {
		return nil, wrapOutOfBounds(err)
	}

	sections := make([]Section, 0, sectionCount)
	for i := 0; i < int(sectionCount); i++ {
		tag, err := r.U8()
		if err != nil {
			return nil, wrapOutOfBounds(err)
		}
		offset, err := r.U32()
		if err != nil {
			return nil, wrapOutOfBounds(err)
		}
		size, err := r.U32()
		if err != nil {
			return nil, wrapOutOfBounds(err)
		}
		sections = append(sections, Section{Tag: tag, Offset: offset, Size: size})
	}

	prog := &Program{
		Header: Header{
			Magic:    magic,
			Version:  version,
			WordSize: wordSize,
			Flags:    flags,
		},
		Sections:        sections,
		SkippedSections: make(map[uint8][]byte),
		BuildID:         uuid.New(),
	}

	for _, sec := range sections {
		r.Seek(int(sec.Offset))

		switch sectionTag(sec.Tag) {
		case tagSymbolTable:
			if err := loadSymbolTable(r, prog); err != nil {
				return nil, err
			}
		case tagConstantPool:
			if err := loadConstantPool(r, prog); err != nil {
				return nil, err
			}
		case tagProcedureTable:
			if err := loadProcedureTable(r, prog); err != nil {
				return nil, err
			}
		case tagBytecode:
			if err := loadBytecode(r, prog, int(sec.Size)); err != nil {
				return nil, err
			}
		case tagDebugInfo, tagSourceMap, tagLineInfo, tagTypeInfo, tagAttributes, tagVendor:
			blob, err := r.Bytes(int(sec.Size))
			if err != nil {
				return nil, wrapOutOfBounds(err)
			}
			prog.SkippedSections[sec.Tag] = blob
		default:
			// Unknown tag: skip without recording.
		}
	}

	return prog, nil
}

func wrapOutOfBounds(err error) error {
	return errors.Wrap(ErrOutOfBounds, err.Error())
}

// wrapDatumErr maps a datum decode failure onto this package's sentinels so
// ExitCode classifies it: a short read becomes ErrOutOfBounds and an unknown
// tag becomes ErrMalformedConstant.
func wrapDatumErr(err error) error {
	switch {
	case errors.Is(err, reader.ErrOutOfBounds):
		return wrapOutOfBounds(err)
	case errors.Is(err, datum.ErrMalformed):
		return errors.Wrap(ErrMalformedConstant, err.Error())
	}
	return err
}

func loadSymbolTable(r *reader.Reader, prog *Program) error {
	count, err := r.U32()
	if err != nil {
		return wrapOutOfBounds(err)
	}

	symbols := make([]Symbol, 0, count)
	for i := 0; i < int(count); i++ {
		id, err := r.U32()
		if err != nil {
			return wrapOutOfBounds(err)
		}
		nameLen, err := r.U16()
		if err != nil {
			return wrapOutOfBounds(err)
		}
		name, err := r.Bytes(int(nameLen))
		if err != nil {
			return wrapOutOfBounds(err)
		}
		symbols = append(symbols, Symbol{ID: id, Name: name})
	}

	prog.Symbols = symbols
	return nil
}

func loadConstantPool(r *reader.Reader, prog *Program) error {
	count, err := r.U32()
	if err != nil {
		return wrapOutOfBounds(err)
	}

	constants := make([]datum.Datum, 0, count)
	for i := 0; i < int(count); i++ {
		d, err := datum.Read(r)
		if err != nil {
			return wrapDatumErr(err)
		}
		constants = append(constants, d)
	}

	prog.Constants = constants
	return nil
}

func loadProcedureTable(r *reader.Reader, prog *Program) error {
	count, err := r.U32()
	if err != nil {
		return wrapOutOfBounds(err)
	}

	procs := make([]Procedure, 0, count)
	for i := 0; i < int(count); i++ {
		entry, err := r.U32()
		if err != nil {
			return wrapOutOfBounds(err)
		}
		arity, err := r.U16()
		if err != nil {
			return wrapOutOfBounds(err)
		}
		locals, err := r.U16()
		if err != nil {
			return wrapOutOfBounds(err)
		}
		// free_count is written as u16 on disk, not u32.
		freeCount, err := r.U16()
		if err != nil {
			return wrapOutOfBounds(err)
		}

		freeVars := make([]uint32, 0, freeCount)
		for j := 0; j < int(freeCount); j++ {
			v, err := r.U32()
			if err != nil {
				return wrapOutOfBounds(err)
			}
			freeVars = append(freeVars, v)
		}

		procs = append(procs, Procedure{
			EntryPC:    entry,
			Arity:      arity,
			LocalCount: locals,
			FreeVars:   freeVars,
		})
	}

	prog.Procedures = procs
	return nil
}

func loadBytecode(r *reader.Reader, prog *Program, sectionSize int) error {
	raw, err := r.Bytes(sectionSize)
	if err != nil {
		return wrapOutOfBounds(err)
	}

	// Pass 1: count instructions by advancing over opcode + arity(opcode)
	// datums, without building the instruction table.
	countR := reader.New(raw)
	instrCount := 0
	for countR.Pos() < countR.Len() {
		opByte, err := countR.U8()
		if err != nil {
			return wrapOutOfBounds(err)
		}
		arity := Opcode(opByte).Arity()
		if _, err := datum.ReadN(countR, arity); err != nil {
			return wrapDatumErr(err)
		}
		instrCount++
	}

	// Pass 2: allocate the instruction table and decode for real.
	bcR := reader.New(raw)
	instrs := make([]Instruction, 0, instrCount)
	for i := 0; i < instrCount; i++ {
		opByte, err := bcR.U8()
		if err != nil {
			return wrapOutOfBounds(err)
		}
		op := Opcode(opByte)
		operands, err := datum.ReadN(bcR, op.Arity())
		if err != nil {
			return wrapDatumErr(err)
		}
		instrs = append(instrs, Instruction{Opcode: op, Operands: operands})
	}

	prog.Bytecode = instrs
	return nil
}
