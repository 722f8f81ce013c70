package bvm

import "github.com/pkg/errors"

// primitiveKind identifies one of the eight fixed built-ins.
type primitiveKind int

const (
	primAdd primitiveKind = iota
	primSub
	primMul
	primDiv
	primCmpEq
	primCmpLt
	primCmpGt
	primNot
)

// primitiveNames is the fixed procedure-index -> name convention the on-disk
// format uses for the eight built-ins: the procedure table entry carries no
// kind tag of its own, so the kind is recovered purely from its index.
var primitiveNames = [...]string{
	primAdd:   "+",
	primSub:   "-",
	primMul:   "*",
	primDiv:   "/",
	primCmpEq: "=",
	primCmpLt: "<",
	primCmpGt: ">",
	primNot:   "not",
}

func primitiveOfProcIndex(procIdx uint32) (primitiveKind, bool) {
	if procIdx >= uint32(len(primitiveNames)) {
		return 0, false
	}
	return primitiveKind(procIdx), true
}

// applyPrimitive evaluates one of the eight built-ins over INT arguments.
// Mismatched arity or operand types are runtime errors; the caller has
// already resolved which primitive this call targets.
func applyPrimitive(kind primitiveKind, args []Value) (Value, error) {
	asInt := func(v Value) (int64, error) {
		if v.Kind != ValInt {
			return 0, errors.Wrapf(ErrTypeError, "expected INT operand, got kind %d", v.Kind)
		}
		return v.I, nil
	}

	switch kind {
	case primAdd, primSub, primMul, primDiv, primCmpEq, primCmpLt, primCmpGt:
		if len(args) != 2 {
			return Value{}, errors.Wrapf(ErrArityMismatch, "primitive %q expects 2 arguments, got %d", primitiveNames[kind], len(args))
		}
		a, err := asInt(args[0])
		if err != nil {
			return Value{}, err
		}
		b, err := asInt(args[1])
		if err != nil {
			return Value{}, err
		}

		switch kind {
		case primAdd:
			return intVal(a + b), nil
		case primSub:
			return intVal(a - b), nil
		case primMul:
			return intVal(a * b), nil
		case primDiv:
			if b == 0 {
				return Value{}, ErrDivisionByZero
			}
			return intVal(a / b), nil
		case primCmpEq:
			return boolVal(a == b), nil
		case primCmpLt:
			return boolVal(a < b), nil
		case primCmpGt:
			return boolVal(a > b), nil
		}
	case primNot:
		if len(args) != 1 {
			return Value{}, errors.Wrapf(ErrArityMismatch, "primitive %q expects 1 argument, got %d", primitiveNames[kind], len(args))
		}
		a, err := asInt(args[0])
		if err != nil {
			return Value{}, err
		}
		return boolVal(a == 0), nil
	}

	return Value{}, errors.Wrapf(ErrUnknownOpcode, "unhandled primitive kind %d", kind)
}
