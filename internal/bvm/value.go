package bvm

import "brkt/internal/datum"

// ValueKind discriminates the Value tagged union.
type ValueKind uint8

const (
	ValInt ValueKind = iota
	ValFloat
	ValBool
	ValNil
	ValSym
	ValIdent
	ValStr
	ValPair
	ValProc
)

// Closure pairs a procedure table index with the environment it closed over.
// EnvIdx is EnvNone for primitives, which capture nothing.
type Closure struct {
	ProcIdx uint32
	EnvIdx  uint32
}

// Pair is reserved for a future cons cell; no current opcode constructs one.
type Pair struct {
	Car, Cdr *Value
}

// Value is the runtime tagged union every stack slot, environment slot, and
// constant decodes into. Exactly one field is meaningful, selected by Kind.
type Value struct {
	Kind ValueKind

	I       int64
	F       float64
	B       bool
	Sym     uint32
	Str     []byte
	Closure Closure
	Pair    Pair
}

// EnvNone is the sentinel environment index meaning "no captured
// environment" (used by primitive closures) or "no parent" (used by the
// global environment).
const EnvNone uint32 = 0xFFFFFFFF

// PrimitiveEntry is the sentinel entry_pc marking a procedure table entry as
// a built-in primitive rather than real bytecode.
const PrimitiveEntry uint32 = 0xFFFFFFFF

func intVal(i int64) Value   { return Value{Kind: ValInt, I: i} }
func floatVal(f float64) Value { return Value{Kind: ValFloat, F: f} }
func boolVal(b bool) Value   { return Value{Kind: ValBool, B: b} }

// FromConstant materializes a runtime Value from a decoded constant-pool
// datum.
func FromConstant(d datum.Datum) (Value, error) {
	switch d.Kind {
	case datum.KindInt:
		return intVal(int64(d.AsInt)), nil
	case datum.KindFloat:
		return floatVal(d.AsFloat), nil
	case datum.KindSym:
		return Value{Kind: ValSym, Sym: d.AsSym}, nil
	case datum.KindIdent:
		return Value{Kind: ValIdent, Sym: d.AsSym}, nil
	case datum.KindBool:
		return boolVal(d.AsBool), nil
	case datum.KindNil:
		return Value{Kind: ValNil}, nil
	case datum.KindStr:
		str := make([]byte, len(d.AsStr))
		copy(str, d.AsStr)
		return Value{Kind: ValStr, Str: str}, nil
	default:
		return Value{}, ErrMalformedConstant
	}
}

// Truthy reports the truthiness used by the NOT opcode: an INT is true unless
// zero, a BOOL is its own value, and every other kind is true.
func (v Value) Truthy() bool {
	switch v.Kind {
	case ValInt:
		return v.I != 0
	case ValBool:
		return v.B
	default:
		return true
	}
}
