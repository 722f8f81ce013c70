package bvm

import (
	"github.com/pkg/errors"

	"brkt/internal/datum"
)

func operandInt(instr Instruction, idx int) (int64, error) {
	if idx >= len(instr.Operands) {
		return 0, errors.Wrapf(ErrTypeError, "%s: missing operand %d", instr.Opcode, idx)
	}
	op := instr.Operands[idx]
	if op.Kind != datum.KindInt {
		return 0, errors.Wrapf(ErrTypeError, "%s: operand %d is not an integer", instr.Opcode, idx)
	}
	return int64(op.AsInt), nil
}

// step executes exactly one instruction. It is the unit both Run's dispatch
// loop and the Step single-stepper drive.
func (vm *VM) step() {
	if vm.pc < 0 || vm.pc >= len(vm.program.Bytecode) {
		vm.err = errors.Wrapf(ErrPcOutOfBounds, "pc=%d, instruction_count=%d", vm.pc, len(vm.program.Bytecode))
		return
	}

	instr := vm.program.Bytecode[vm.pc]

	switch instr.Opcode {
	case OpNop:
		vm.pc++

	case OpLoadConst:
		idx, err := operandInt(instr, 0)
		if err != nil {
			vm.err = err
			return
		}
		if idx < 0 || int(idx) >= len(vm.program.Constants) {
			vm.err = errors.Wrapf(ErrOutOfBounds, "load_const: index %d out of range (%d constants)", idx, len(vm.program.Constants))
			return
		}
		v, err := FromConstant(vm.program.Constants[idx])
		if err != nil {
			vm.err = err
			return
		}
		if err := vm.stack.push(v); err != nil {
			vm.err = err
			return
		}
		vm.pc++

	case OpLoadVar:
		slot, err := operandInt(instr, 0)
		if err != nil {
			vm.err = err
			return
		}
		env := vm.envs.get(vm.currentEnv)
		if slot < 0 || int(slot) >= len(env.Slots) {
			vm.err = errors.Wrapf(ErrSymbolOutOfRange, "load_var: slot %d out of range (env size %d)", slot, len(env.Slots))
			return
		}
		if err := vm.stack.push(env.Slots[slot]); err != nil {
			vm.err = err
			return
		}
		vm.pc++

	case OpStoreVar:
		slot, err := operandInt(instr, 0)
		if err != nil {
			vm.err = err
			return
		}
		env := vm.envs.get(vm.currentEnv)
		if slot < 0 || int(slot) >= len(env.Slots) {
			vm.err = errors.Wrapf(ErrSymbolOutOfRange, "store_var: slot %d out of range (env size %d)", slot, len(env.Slots))
			return
		}
		v, err := vm.stack.pop()
		if err != nil {
			vm.err = err
			return
		}
		env.Slots[slot] = v
		vm.pc++

	case OpLoadClosure:
		slot, err := operandInt(instr, 0)
		if err != nil {
			vm.err = err
			return
		}
		parent := vm.envs.get(vm.currentEnv).Parent
		if parent == EnvNone {
			vm.err = errors.Wrap(ErrClosureOutsideClosure, "load_closure")
			return
		}
		parentEnv := vm.envs.get(parent)
		if slot < 0 || int(slot) >= len(parentEnv.Slots) {
			vm.err = errors.Wrapf(ErrSymbolOutOfRange, "load_closure: slot %d out of range (env size %d)", slot, len(parentEnv.Slots))
			return
		}
		if err := vm.stack.push(parentEnv.Slots[slot]); err != nil {
			vm.err = err
			return
		}
		vm.pc++

	case OpStoreClosure:
		slot, err := operandInt(instr, 0)
		if err != nil {
			vm.err = err
			return
		}
		parent := vm.envs.get(vm.currentEnv).Parent
		if parent == EnvNone {
			vm.err = errors.Wrap(ErrClosureOutsideClosure, "store_closure")
			return
		}
		parentEnv := vm.envs.get(parent)
		if slot < 0 || int(slot) >= len(parentEnv.Slots) {
			vm.err = errors.Wrapf(ErrSymbolOutOfRange, "store_closure: slot %d out of range (env size %d)", slot, len(parentEnv.Slots))
			return
		}
		v, err := vm.stack.pop()
		if err != nil {
			vm.err = err
			return
		}
		parentEnv.Slots[slot] = v
		vm.pc++

	case OpPop:
		if _, err := vm.stack.pop(); err != nil {
			vm.err = err
			return
		}
		vm.pc++

	case OpJmp:
		delta, err := operandInt(instr, 0)
		if err != nil {
			vm.err = err
			return
		}
		vm.pc += int(delta)

	case OpJmpTrue:
		delta, err := operandInt(instr, 0)
		if err != nil {
			vm.err = err
			return
		}
		cond, err := vm.stack.pop()
		if err != nil {
			vm.err = err
			return
		}
		if cond.Kind != ValBool {
			vm.err = errors.Wrap(ErrTypeError, "jmp_true: condition is not a bool")
			return
		}
		if cond.B {
			vm.pc += int(delta)
		} else {
			vm.pc++
		}

	case OpJmpFalse:
		delta, err := operandInt(instr, 0)
		if err != nil {
			vm.err = err
			return
		}
		cond, err := vm.stack.pop()
		if err != nil {
			vm.err = err
			return
		}
		if cond.Kind != ValBool {
			vm.err = errors.Wrap(ErrTypeError, "jmp_false: condition is not a bool")
			return
		}
		if !cond.B {
			vm.pc += int(delta)
		} else {
			vm.pc++
		}

	case OpMakeClosure:
		procIdx, err := operandInt(instr, 0)
		if err != nil {
			vm.err = err
			return
		}
		if procIdx < 0 || int(procIdx) >= len(vm.program.Procedures) {
			vm.err = errors.Wrapf(ErrOutOfBounds, "make_closure: procedure %d out of range", procIdx)
			return
		}
		proc := vm.program.Procedures[procIdx]

		newEnv := vm.envs.alloc(vm.currentEnv, len(proc.FreeVars))
		cur := vm.envs.get(vm.currentEnv)
		dst := vm.envs.get(newEnv)
		for i, symID := range proc.FreeVars {
			if int(symID) >= len(cur.Slots) {
				vm.err = errors.Wrapf(ErrSymbolOutOfRange, "make_closure: free var %d out of range", symID)
				return
			}
			dst.Slots[i] = cur.Slots[symID]
		}

		if err := vm.stack.push(Value{
			Kind: ValProc,
			Closure: Closure{
				ProcIdx: uint32(procIdx),
				EnvIdx:  newEnv,
			},
		}); err != nil {
			vm.err = err
			return
		}
		vm.pc++

	case OpCall:
		vm.execCall(instr)

	case OpReturn:
		vm.execReturn()

	case OpHalt:
		vm.halted = true

	case OpLabel:
		vm.err = errors.Wrap(ErrUnexpectedLabel, "encountered LABEL at runtime")

	case OpAdd, OpSub, OpMul, OpDiv, OpCmpEq, OpCmpLt, OpCmpGt:
		vm.execArithmetic(instr.Opcode)

	case OpNeg:
		v, err := vm.stack.pop()
		if err != nil {
			vm.err = err
			return
		}
		if v.Kind != ValInt {
			vm.err = errors.Wrap(ErrTypeError, "neg: operand is not an integer")
			return
		}
		if err := vm.stack.push(intVal(-v.I)); err != nil {
			vm.err = err
			return
		}
		vm.pc++

	case OpNot:
		v, err := vm.stack.pop()
		if err != nil {
			vm.err = err
			return
		}
		if err := vm.stack.push(boolVal(!v.Truthy())); err != nil {
			vm.err = err
			return
		}
		vm.pc++

	case OpAnd, OpOr, OpXor:
		vm.execBitwise(instr.Opcode)

	case OpTailcall:
		// No frame-reuse optimization yet: dispatch through the same path
		// as CALL, just recognizing the opcode.
		vm.execCall(instr)

	default:
		vm.err = errors.Wrapf(ErrUnknownOpcode, "opcode byte %d", instr.Opcode)
	}
}

func (vm *VM) execArithmetic(op Opcode) {
	b, err := vm.stack.pop()
	if err != nil {
		vm.err = err
		return
	}
	a, err := vm.stack.pop()
	if err != nil {
		vm.err = err
		return
	}
	if a.Kind != ValInt || b.Kind != ValInt {
		vm.err = errors.Wrap(ErrTypeError, "arithmetic operand is not an integer")
		return
	}

	var result Value
	switch op {
	case OpAdd:
		result = intVal(a.I + b.I)
	case OpSub:
		result = intVal(a.I - b.I)
	case OpMul:
		result = intVal(a.I * b.I)
	case OpDiv:
		if b.I == 0 {
			vm.err = ErrDivisionByZero
			return
		}
		result = intVal(a.I / b.I)
	case OpCmpEq:
		result = boolVal(a.I == b.I)
	case OpCmpLt:
		result = boolVal(a.I < b.I)
	case OpCmpGt:
		result = boolVal(a.I > b.I)
	}

	if err := vm.stack.push(result); err != nil {
		vm.err = err
		return
	}
	vm.pc++
}

func (vm *VM) execBitwise(op Opcode) {
	b, err := vm.stack.pop()
	if err != nil {
		vm.err = err
		return
	}
	a, err := vm.stack.pop()
	if err != nil {
		vm.err = err
		return
	}
	if a.Kind != ValInt || b.Kind != ValInt {
		vm.err = errors.Wrap(ErrTypeError, "bitwise operand is not an integer")
		return
	}

	var result Value
	switch op {
	case OpAnd:
		result = intVal(a.I & b.I)
	case OpOr:
		result = intVal(a.I | b.I)
	case OpXor:
		result = intVal(a.I ^ b.I)
	}

	if err := vm.stack.push(result); err != nil {
		vm.err = err
		return
	}
	vm.pc++
}

func (vm *VM) execCall(instr Instruction) {
	argc, err := operandInt(instr, 0)
	if err != nil {
		vm.err = err
		return
	}

	if argc < 0 {
		vm.err = errors.Wrap(ErrArityMismatch, "call: negative argument count")
		return
	}

	args := make([]Value, argc)
	for i := int(argc) - 1; i >= 0; i-- {
		v, err := vm.stack.pop()
		if err != nil {
			vm.err = err
			return
		}
		args[i] = v
	}

	callee, err := vm.stack.pop()
	if err != nil {
		vm.err = err
		return
	}
	if callee.Kind != ValProc {
		vm.err = errors.Wrap(ErrTypeError, "call: callee is not a procedure")
		return
	}

	if int(callee.Closure.ProcIdx) >= len(vm.program.Procedures) {
		vm.err = errors.Wrapf(ErrOutOfBounds, "call: procedure %d out of range", callee.Closure.ProcIdx)
		return
	}
	proc := vm.program.Procedures[callee.Closure.ProcIdx]

	if proc.EntryPC == PrimitiveEntry {
		kind, ok := primitiveOfProcIndex(callee.Closure.ProcIdx)
		if !ok {
			vm.err = errors.Wrapf(ErrUnknownOpcode, "procedure %d marked primitive but has no fixed binding", callee.Closure.ProcIdx)
			return
		}
		result, err := applyPrimitive(kind, args)
		if err != nil {
			vm.err = err
			return
		}
		if err := vm.stack.push(result); err != nil {
			vm.err = err
			return
		}
		vm.pc++
		return
	}

	if int(argc) != int(proc.Arity) {
		vm.err = errors.Wrapf(ErrArityMismatch, "call: expected %d arguments, got %d", proc.Arity, argc)
		return
	}

	newEnv := vm.envs.alloc(callee.Closure.EnvIdx, int(proc.Arity)+int(proc.LocalCount))
	env := vm.envs.get(newEnv)
	copy(env.Slots[:proc.Arity], args)

	vm.frames.push(Frame{
		ReturnPC:  uint32(vm.pc + 1),
		EnvIdx:    vm.currentEnv,
		StackBase: vm.stack.top(),
	})

	vm.currentEnv = newEnv
	vm.pc = int(proc.EntryPC)
}

func (vm *VM) execReturn() {
	ret, err := vm.stack.pop()
	if err != nil {
		vm.err = err
		return
	}

	frame, err := vm.frames.pop()
	if err != nil {
		vm.err = err
		return
	}

	if frame.ReturnPC == frameReturnEntry {
		vm.halted = true
		return
	}

	vm.currentEnv = frame.EnvIdx
	vm.stack.truncate(frame.StackBase)
	if err := vm.stack.push(ret); err != nil {
		vm.err = err
		return
	}
	vm.pc = int(frame.ReturnPC)
}
