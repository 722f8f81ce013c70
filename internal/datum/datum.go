// Package datum decodes the tag-prefixed literal encoding shared by the
// constant pool and inline bytecode operands.
package datum

import (
	"github.com/pkg/errors"

	"brkt/internal/reader"
)

// Kind identifies the payload shape of a Datum, derived from the upper bits
// of the on-disk tag byte (tag >> 3).
type Kind uint8

const (
	KindInt Kind = iota
	KindFloat
	KindSym
	KindIdent
	KindBool
	KindNil
	KindStr
)

// ErrMalformed is returned (wrapped) when a tag byte names a kind this
// decoder does not recognize.
var ErrMalformed = errors.New("unknown constant tag")

// Datum is a decoded tag-prefixed literal. Exactly one of the As* fields is
// meaningful, selected by Kind.
type Datum struct {
	Kind Kind

	AsInt   int32
	AsFloat float64
	AsSym   uint32 // also used for KindIdent
	AsBool  bool
	AsStr   []byte
}

// tag layout: low 3 bits are payload flags (only BOOL uses them, to carry
// its value in place); tag>>3 selects the Kind.
func kindOf(tag uint8) (Kind, error) {
	switch tag >> 3 {
	case 0:
		return KindInt, nil
	case 1:
		return KindFloat, nil
	case 2:
		return KindSym, nil
	case 3:
		return KindIdent, nil
	case 4:
		return KindBool, nil
	case 5:
		return KindNil, nil
	case 6:
		return KindStr, nil
	default:
		return 0, errors.Wrapf(ErrMalformed, "tag byte 0x%02x", tag)
	}
}

// Read decodes one tag-prefixed datum from r. It is used both for constant
// pool entries and for inline operands embedded in the bytecode stream.
func Read(r *reader.Reader) (Datum, error) {
	tag, err := r.U8()
	if err != nil {
		return Datum{}, err
	}

	kind, err := kindOf(tag)
	if err != nil {
		return Datum{}, err
	}

	switch kind {
	case KindInt:
		v, err := r.I32()
		if err != nil {
			return Datum{}, err
		}
		return Datum{Kind: KindInt, AsInt: v}, nil

	case KindFloat:
		v, err := r.F64()
		if err != nil {
			return Datum{}, err
		}
		return Datum{Kind: KindFloat, AsFloat: v}, nil

	case KindSym:
		v, err := r.U32()
		if err != nil {
			return Datum{}, err
		}
		return Datum{Kind: KindSym, AsSym: v}, nil

	case KindIdent:
		v, err := r.U32()
		if err != nil {
			return Datum{}, err
		}
		return Datum{Kind: KindIdent, AsSym: v}, nil

	case KindBool:
		// No on-disk payload: the value lives in the tag's low bit.
		return Datum{Kind: KindBool, AsBool: tag&1 != 0}, nil

	case KindNil:
		return Datum{Kind: KindNil}, nil

	case KindStr:
		n, err := r.U16()
		if err != nil {
			return Datum{}, err
		}
		b, err := r.Bytes(int(n))
		if err != nil {
			return Datum{}, err
		}
		return Datum{Kind: KindStr, AsStr: b}, nil
	}

	return Datum{}, errors.Wrapf(ErrMalformed, "tag byte 0x%02x", tag)
}

// ReadN decodes count consecutive datums: used by the bytecode section's
// two-pass decode to read an instruction's operand list.
func ReadN(r *reader.Reader, count int) ([]Datum, error) {
	out := make([]Datum, 0, count)
	for i := 0; i < count; i++ {
		d, err := Read(r)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}
