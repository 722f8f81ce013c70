package bvm

import (
	"github.com/pkg/errors"
)

// VM is the interpreter's mutable execution state. A Program is logically
// immutable; everything here belongs to one run over it.
type VM struct {
	program *Program

	pc int

	stack  *valueStack
	frames *frameStack
	envs   *envStore

	globalEnv  uint32
	currentEnv uint32

	halted bool
	err    error

	disableGC bool
}

// Options overrides the interpreter's default store capacities and GC
// policy (internal/config's [vm] table feeds these). Zero capacity fields
// keep the built-in default; DisableGC is used as given, so a zero Options
// leaves the garbage collector running, unlike New.
type Options struct {
	StackCapacity int
	EnvCapacity   int
	FrameCapacity int
	DisableGC     bool
}

// New initializes a fresh VM over program with default store capacities and
// the garbage collector disabled for the run's duration, allocating the
// stack, frame stack, and environment store, and binding the eight fixed
// primitives into the global environment.
func New(program *Program) (*VM, error) {
	return NewWithOptions(program, Options{DisableGC: true})
}

// NewWithOptions is New, but with the growable stores pre-sized per opts
// instead of the package defaults. A zero field in opts keeps that store's
// built-in default capacity.
func NewWithOptions(program *Program, opts Options) (*VM, error) {
	envs := newEnvStore()
	if opts.EnvCapacity > 0 {
		envs = &envStore{arr: newDynArray[Env](opts.EnvCapacity)}
	}
	globalEnv := envs.alloc(EnvNone, len(program.Symbols))

	stack := newValueStack()
	if opts.StackCapacity > 0 {
		stack = &valueStack{arr: newDynArray[Value](opts.StackCapacity), max: maxStackCapacity}
	}

	vm := &VM{
		program:    program,
		pc:         0,
		stack:      stack,
		envs:       envs,
		globalEnv:  globalEnv,
		currentEnv: globalEnv,
		disableGC:  opts.DisableGC,
	}
	if opts.FrameCapacity > 0 {
		vm.frames = &frameStack{arr: newDynArray[Frame](opts.FrameCapacity)}
		vm.frames.arr.push(Frame{ReturnPC: frameReturnEntry, EnvIdx: globalEnv, StackBase: 0})
	} else {
		vm.frames = newFrameStack(globalEnv)
	}

	if err := vm.bindPrimitives(); err != nil {
		return nil, err
	}

	return vm, nil
}

func (vm *VM) bindPrimitives() error {
	global := vm.envs.get(vm.globalEnv)

	for procIdx, proc := range vm.program.Procedures {
		if proc.EntryPC != PrimitiveEntry {
			continue
		}

		kind, ok := primitiveOfProcIndex(uint32(procIdx))
		if !ok {
			return errors.Wrapf(ErrUnknownOpcode, "procedure %d marked primitive but has no fixed binding", procIdx)
		}

		name := primitiveNames[kind]
		symID, ok := vm.program.SymbolID(name)
		if !ok {
			return errors.Wrapf(ErrSymbolOutOfRange, "primitive symbol %q not found in symbol table", name)
		}
		if int(symID) >= len(global.Slots) {
			return errors.Wrapf(ErrSymbolOutOfRange, "primitive symbol %q id %d out of range of global environment (size %d)", name, symID, len(global.Slots))
		}

		global.Slots[symID] = Value{
			Kind: ValProc,
			Closure: Closure{
				ProcIdx: uint32(procIdx),
				EnvIdx:  EnvNone,
			},
		}
	}

	return nil
}

// Halted reports whether the VM reached a terminal state (either HALT or an
// unwind of the entry frame through RETURN).
func (vm *VM) Halted() bool { return vm.halted }

// Err returns the fatal error that stopped the dispatch loop, or nil if the
// VM halted normally.
func (vm *VM) Err() error { return vm.err }

// StackTop returns the current top-of-stack value, for callers inspecting
// the final result of a run. It fails if the stack is empty.
func (vm *VM) StackTop() (Value, error) {
	return vm.stack.peek()
}

// ProgramCounter exposes the current instruction index, mainly for the
// debug stepper and diagnostics.
func (vm *VM) ProgramCounter() int { return vm.pc }

// EnvCount exposes the live environment count, used by property tests.
func (vm *VM) EnvCount() int { return vm.envs.count() }

// CurrentEnv exposes the active environment index, used by property tests.
func (vm *VM) CurrentEnv() uint32 { return vm.currentEnv }

// HasEnvCycle reports whether the parent chain from the current environment
// cycles back on itself instead of terminating at EnvNone.
func (vm *VM) HasEnvCycle() bool { return vm.envs.hasCycle(vm.currentEnv) }
