// Package asm is a small textual assembler for the BRKT binary format. It
// exists so tests and example programs can be written as readable mnemonic
// listings instead of hand-built byte slices: a line-oriented parser resolves
// labels and directives into the header, section table, and section payloads
// the loader expects.
package asm

import (
	"bytes"
	"encoding/binary"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"brkt/internal/bvm"
)

// operandTok is one not-yet-resolved instruction operand: either a literal
// datum or a bare label reference resolved to a relative jump delta once
// every label's instruction index is known.
type operandTok struct {
	literal  *datumLit
	labelRef string
}

type datumLit struct {
	kind byte // 'i' int, 'f' float, 's' sym, 'd' ident, 'b' bool, 'n' nil, 'z' str
	i    int32
	f    float64
	b    bool
	str  []byte
}

type instrTok struct {
	mnemonic string
	operands []operandTok
	index    int // instruction index this assembles to
}

type procTok struct {
	entryLabel string
	arity      uint16
	locals     uint16
	free       []uint32
	primitive  bool
}

// ErrSyntax is returned (wrapped) for any source line the assembler cannot
// parse.
var ErrSyntax = errors.New("assembler syntax error")

// Assemble turns source into a complete BRKT binary: a 24-byte header, a
// section table, and SYMBOL_TABLE / CONSTANT_POOL / PROCEDURE_TABLE /
// BYTECODE section payloads.
func Assemble(source string) ([]byte, error) {
	a := &assembler{
		symbolIDs: make(map[string]uint32),
		labels:    make(map[string]int),
	}
	if err := a.parse(source); err != nil {
		return nil, err
	}
	return a.encode()
}

type assembler struct {
	symbolNames []string
	symbolIDs   map[string]uint32

	constants []datumLit

	procs []procTok

	instrs []instrTok
	labels map[string]int
}

func (a *assembler) declareSymbol(name string) uint32 {
	if id, ok := a.symbolIDs[name]; ok {
		return id
	}
	id := uint32(len(a.symbolNames))
	a.symbolNames = append(a.symbolNames, name)
	a.symbolIDs[name] = id
	return id
}

func (a *assembler) parse(source string) error {
	for lineNo, raw := range strings.Split(source, "\n") {
		line := raw
		if idx := strings.Index(line, "//"); idx >= 0 {
			line = line[:idx]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		switch {
		case strings.HasSuffix(line, ":") && !strings.HasPrefix(line, "."):
			label := strings.TrimSuffix(line, ":")
			a.labels[label] = len(a.instrs)

		case strings.HasPrefix(line, ".symbol "):
			name := strings.TrimSpace(strings.TrimPrefix(line, ".symbol "))
			a.declareSymbol(name)

		case strings.HasPrefix(line, ".const "):
			lit, err := a.parseConstDirective(strings.TrimPrefix(line, ".const "))
			if err != nil {
				return errors.Wrapf(err, "line %d", lineNo+1)
			}
			a.constants = append(a.constants, lit)

		case strings.HasPrefix(line, ".primitive "):
			name := strings.TrimSpace(strings.TrimPrefix(line, ".primitive "))
			a.declareSymbol(name)
			a.procs = append(a.procs, procTok{primitive: true})

		case strings.HasPrefix(line, ".proc "):
			tok, err := a.parseProcDirective(strings.TrimPrefix(line, ".proc "))
			if err != nil {
				return errors.Wrapf(err, "line %d", lineNo+1)
			}
			a.procs = append(a.procs, tok)

		default:
			tok, err := a.parseInstruction(line)
			if err != nil {
				return errors.Wrapf(err, "line %d", lineNo+1)
			}
			tok.index = len(a.instrs)
			a.instrs = append(a.instrs, tok)
		}
	}

	return nil
}

// .proc entry=label arity=N locals=M free=[a,b,c]
func (a *assembler) parseProcDirective(rest string) (procTok, error) {
	tok := procTok{}
	for _, field := range splitFields(rest) {
		kv := strings.SplitN(field, "=", 2)
		if len(kv) != 2 {
			return procTok{}, errors.Wrapf(ErrSyntax, "malformed .proc field %q", field)
		}
		key, val := kv[0], kv[1]
		switch key {
		case "entry":
			tok.entryLabel = val
		case "arity":
			n, err := strconv.ParseUint(val, 10, 16)
			if err != nil {
				return procTok{}, errors.Wrapf(ErrSyntax, "bad arity %q", val)
			}
			tok.arity = uint16(n)
		case "locals":
			n, err := strconv.ParseUint(val, 10, 16)
			if err != nil {
				return procTok{}, errors.Wrapf(ErrSyntax, "bad locals %q", val)
			}
			tok.locals = uint16(n)
		case "free":
			inner := strings.TrimSuffix(strings.TrimPrefix(val, "["), "]")
			if inner != "" {
				for _, s := range strings.Split(inner, ",") {
					sym := a.declareSymbol(strings.TrimSpace(s))
					tok.free = append(tok.free, sym)
				}
			}
		default:
			return procTok{}, errors.Wrapf(ErrSyntax, "unknown .proc field %q", key)
		}
	}
	return tok, nil
}

func splitFields(s string) []string {
	var fields []string
	depth := 0
	start := 0
	for i, r := range s {
		switch r {
		case '[':
			depth++
		case ']':
			depth--
		case ' ':
			if depth == 0 {
				if i > start {
					fields = append(fields, s[start:i])
				}
				start = i + 1
			}
		}
	}
	if start < len(s) {
		fields = append(fields, s[start:])
	}
	return fields
}

func (a *assembler) parseConstDirective(rest string) (datumLit, error) {
	parts := strings.SplitN(rest, " ", 2)
	kind := parts[0]
	var value string
	if len(parts) > 1 {
		value = strings.TrimSpace(parts[1])
	}

	switch kind {
	case "int":
		n, err := strconv.ParseInt(value, 0, 32)
		if err != nil {
			return datumLit{}, errors.Wrapf(ErrSyntax, "bad int constant %q", value)
		}
		return datumLit{kind: 'i', i: int32(n)}, nil
	case "float":
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return datumLit{}, errors.Wrapf(ErrSyntax, "bad float constant %q", value)
		}
		return datumLit{kind: 'f', f: f}, nil
	case "bool":
		return datumLit{kind: 'b', b: value == "true"}, nil
	case "nil":
		return datumLit{kind: 'n'}, nil
	case "str":
		unq, err := strconv.Unquote(value)
		if err != nil {
			return datumLit{}, errors.Wrapf(ErrSyntax, "bad string constant %q", value)
		}
		return datumLit{kind: 'z', str: []byte(unq)}, nil
	case "sym":
		id := a.declareSymbol(value)
		return datumLit{kind: 's', i: int32(id)}, nil
	case "ident":
		id := a.declareSymbol(value)
		return datumLit{kind: 'd', i: int32(id)}, nil
	default:
		return datumLit{}, errors.Wrapf(ErrSyntax, "unknown constant kind %q", kind)
	}
}

func (a *assembler) parseInstruction(line string) (instrTok, error) {
	fields := strings.Fields(line)
	mnemonic := fields[0]
	if _, ok := bvm.OpcodeByName(mnemonic); !ok {
		return instrTok{}, errors.Wrapf(ErrSyntax, "unknown mnemonic %q", mnemonic)
	}

	tok := instrTok{mnemonic: mnemonic}
	for _, raw := range fields[1:] {
		tok.operands = append(tok.operands, a.parseOperand(raw))
	}
	return tok, nil
}

func (a *assembler) parseOperand(raw string) operandTok {
	switch {
	case strings.HasPrefix(raw, "#"), strings.HasPrefix(raw, "@"):
		// Sugar for a named global slot: bytecode operands are always plain
		// INT datums, and the global environment addresses a symbol's slot
		// by its own id, so "#name"/"@name" just resolves to that id as an
		// INT literal.
		id := a.declareSymbol(raw[1:])
		return operandTok{literal: &datumLit{kind: 'i', i: int32(id)}}
	case raw == "true", raw == "false":
		return operandTok{literal: &datumLit{kind: 'b', b: raw == "true"}}
	case raw == "nil":
		return operandTok{literal: &datumLit{kind: 'n'}}
	case strings.HasPrefix(raw, "\""):
		unq, err := strconv.Unquote(raw)
		if err != nil {
			unq = strings.Trim(raw, "\"")
		}
		return operandTok{literal: &datumLit{kind: 'z', str: []byte(unq)}}
	}

	if n, err := strconv.ParseInt(raw, 0, 32); err == nil {
		return operandTok{literal: &datumLit{kind: 'i', i: int32(n)}}
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return operandTok{literal: &datumLit{kind: 'f', f: f}}
	}

	// Anything else is a label reference, resolved to a relative delta
	// (for jumps) once every label's instruction index is known.
	return operandTok{labelRef: raw}
}

func (a *assembler) resolveOperand(op operandTok, instrIndex int) (datumLit, error) {
	if op.literal != nil {
		return *op.literal, nil
	}

	target, ok := a.labels[op.labelRef]
	if !ok {
		return datumLit{}, errors.Wrapf(ErrSyntax, "undefined label %q", op.labelRef)
	}
	return datumLit{kind: 'i', i: int32(target - instrIndex)}, nil
}

func (a *assembler) encode() ([]byte, error) {
	symbolSection, err := a.encodeSymbols()
	if err != nil {
		return nil, err
	}
	constSection, err := a.encodeConstants()
	if err != nil {
		return nil, err
	}
	procSection, err := a.encodeProcedures()
	if err != nil {
		return nil, err
	}
	bytecodeSection, err := a.encodeBytecode()
	if err != nil {
		return nil, err
	}

	type sec struct {
		tag     byte
		payload []byte
	}
	secs := []sec{
		{tag: 0x01, payload: symbolSection},
		{tag: 0x02, payload: constSection},
		{tag: 0x03, payload: procSection},
		{tag: 0x04, payload: bytecodeSection},
	}

	headerSize := 24
	sectionTableSize := 1 + len(secs)*9
	offset := uint32(headerSize + sectionTableSize)

	var out bytes.Buffer
	binary.Write(&out, binary.LittleEndian, bvm.Magic)
	binary.Write(&out, binary.LittleEndian, uint16(1)) // version
	out.WriteByte(4)                                   // word_size
	out.WriteByte(0)                                   // flags
	out.Write(make([]byte, 16))                        // reserved padding

	out.WriteByte(byte(len(secs)))
	for _, s := range secs {
		out.WriteByte(s.tag)
		binary.Write(&out, binary.LittleEndian, offset)
		binary.Write(&out, binary.LittleEndian, uint32(len(s.payload)))
		offset += uint32(len(s.payload))
	}

	for _, s := range secs {
		out.Write(s.payload)
	}

	return out.Bytes(), nil
}

func (a *assembler) encodeSymbols() ([]byte, error) {
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, uint32(len(a.symbolNames)))
	for id, name := range a.symbolNames {
		binary.Write(&buf, binary.LittleEndian, uint32(id))
		binary.Write(&buf, binary.LittleEndian, uint16(len(name)))
		buf.WriteString(name)
	}
	return buf.Bytes(), nil
}

func encodeDatum(buf *bytes.Buffer, d datumLit) error {
	switch d.kind {
	case 'i':
		buf.WriteByte(0 << 3)
		binary.Write(buf, binary.LittleEndian, d.i)
	case 'f':
		buf.WriteByte(1 << 3)
		binary.Write(buf, binary.LittleEndian, d.f)
	case 's':
		buf.WriteByte(2 << 3)
		binary.Write(buf, binary.LittleEndian, uint32(d.i))
	case 'd':
		buf.WriteByte(3 << 3)
		binary.Write(buf, binary.LittleEndian, uint32(d.i))
	case 'b':
		tag := byte(4 << 3)
		if d.b {
			tag |= 1
		}
		buf.WriteByte(tag)
	case 'n':
		buf.WriteByte(5 << 3)
	case 'z':
		buf.WriteByte(6 << 3)
		binary.Write(buf, binary.LittleEndian, uint16(len(d.str)))
		buf.Write(d.str)
	default:
		return errors.Wrapf(ErrSyntax, "unknown datum literal kind %q", d.kind)
	}
	return nil
}

func (a *assembler) encodeConstants() ([]byte, error) {
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, uint32(len(a.constants)))
	for _, c := range a.constants {
		if err := encodeDatum(&buf, c); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func (a *assembler) encodeProcedures() ([]byte, error) {
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, uint32(len(a.procs)))
	for _, p := range a.procs {
		entry := bvm.PrimitiveEntry
		if !p.primitive {
			idx, ok := a.labels[p.entryLabel]
			if !ok {
				return nil, errors.Wrapf(ErrSyntax, "procedure entry label %q not defined", p.entryLabel)
			}
			entry = uint32(idx)
		}
		binary.Write(&buf, binary.LittleEndian, entry)
		binary.Write(&buf, binary.LittleEndian, p.arity)
		binary.Write(&buf, binary.LittleEndian, p.locals)
		binary.Write(&buf, binary.LittleEndian, uint16(len(p.free)))
		for _, f := range p.free {
			binary.Write(&buf, binary.LittleEndian, f)
		}
	}
	return buf.Bytes(), nil
}

func (a *assembler) encodeBytecode() ([]byte, error) {
	var buf bytes.Buffer
	for _, instr := range a.instrs {
		op, _ := bvm.OpcodeByName(instr.mnemonic)
		buf.WriteByte(byte(op))

		if len(instr.operands) != op.Arity() {
			return nil, errors.Wrapf(ErrSyntax, "%s at instruction %d: expected %d operands, got %d", instr.mnemonic, instr.index, op.Arity(), len(instr.operands))
		}

		for _, operand := range instr.operands {
			lit, err := a.resolveOperand(operand, instr.index)
			if err != nil {
				return nil, err
			}
			if err := encodeDatum(&buf, lit); err != nil {
				return nil, err
			}
		}
	}
	return buf.Bytes(), nil
}
