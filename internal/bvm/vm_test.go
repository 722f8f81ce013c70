package bvm_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"brkt/internal/asm"
	"brkt/internal/bvm"
)

func run(t *testing.T, source string) (*bvm.VM, error) {
	t.Helper()

	bin, err := asm.Assemble(source)
	require.NoError(t, err)

	prog, err := bvm.Load(bin)
	require.NoError(t, err)

	vm, err := bvm.New(prog)
	require.NoError(t, err)

	runErr := vm.Run()
	return vm, runErr
}

func TestHaltImmediatelyLeavesVMHalted(t *testing.T) {
	vm, err := run(t, `halt`)
	require.NoError(t, err)
	require.True(t, vm.Halted())
	require.Nil(t, vm.Err())
}

func TestDivisionByZero(t *testing.T) {
	_, err := run(t, `
.const int 1
.const int 0
load_const 0
load_const 1
div
halt
`)
	require.ErrorIs(t, err, bvm.ErrDivisionByZero)
}

func TestStackUnderflowOnPopFromEmptyStack(t *testing.T) {
	_, err := run(t, `pop`)
	require.ErrorIs(t, err, bvm.ErrStackUnderflow)
}

func TestTypeErrorOnNonBooleanJump(t *testing.T) {
	_, err := run(t, `
.const int 1
load_const 0
jmp_true nowhere
nowhere:
halt
`)
	require.ErrorIs(t, err, bvm.ErrTypeError)
}

func TestLoadClosureOutsideClosureFails(t *testing.T) {
	_, err := run(t, `
load_closure 0
halt
`)
	require.ErrorIs(t, err, bvm.ErrClosureOutsideClosure)
}

func TestCallNonProcedureIsTypeError(t *testing.T) {
	_, err := run(t, `
.const int 5
load_const 0
call 0
halt
`)
	require.ErrorIs(t, err, bvm.ErrTypeError)
}

func TestUnknownOpcodeByteIsRejected(t *testing.T) {
	// The corrupted byte still decodes as a well-formed, zero-arity opcode
	// as far as the loader's two-pass count is concerned: the loader never
	// validates that an opcode byte names a reserved opcode; the VM rejects
	// it only once dispatch actually reaches it.
	bin, err := asm.Assemble(`halt`)
	require.NoError(t, err)

	bin[len(bin)-1] = 0xFE

	prog, err := bvm.Load(bin)
	require.NoError(t, err)

	vm, err := bvm.New(prog)
	require.NoError(t, err)

	runErr := vm.Run()
	require.ErrorIs(t, runErr, bvm.ErrUnknownOpcode)
}

func TestLabelOpcodeAtRuntimeIsRejected(t *testing.T) {
	_, err := run(t, `
.const int 1
load_const 0
label 0
halt
`)
	require.ErrorIs(t, err, bvm.ErrUnexpectedLabel)
}

// TestNoEnvironmentCycle exercises that the environment parent chain never
// cycles, across a nested closure call.
func TestNoEnvironmentCycle(t *testing.T) {
	vm, err := run(t, `
.symbol n
.const int 3
.proc entry=adder arity=0 locals=0 free=[n]

load_const 0
store_var #n
make_closure 0 0
call 0
halt

adder:
load_closure 0
return
`)
	require.NoError(t, err)
	require.False(t, vm.HasEnvCycle())
}

// TestStackTopAfterReturnMatchesCallerExpectation exercises the invariant
// that RETURN leaves exactly one new value where the call's operands used
// to be, for a real (non-primitive) procedure with a positional argument.
func TestStackTopAfterReturnMatchesCallerExpectation(t *testing.T) {
	vm, err := run(t, `
.proc entry=double arity=1 locals=0

make_closure 0 0
.const int 21
load_const 0
call 1
halt

double:
load_var 0
load_var 0
add
return
`)
	require.NoError(t, err)
	top, err := vm.StackTop()
	require.NoError(t, err)
	require.Equal(t, int64(42), top.I)
}

func TestArityMismatchOnUserProcedure(t *testing.T) {
	_, err := run(t, `
.const int 5
.proc entry=needs_two arity=2 locals=0

make_closure 0 0
load_const 0
call 1
halt

needs_two:
halt
`)
	require.ErrorIs(t, err, bvm.ErrArityMismatch)
}

func TestBitwiseOpcodes(t *testing.T) {
	vm, err := run(t, `
.const int 6
.const int 3
load_const 0
load_const 1
and
halt
`)
	require.NoError(t, err)
	top, err := vm.StackTop()
	require.NoError(t, err)
	require.Equal(t, int64(2), top.I)
}

func TestNegOpcode(t *testing.T) {
	vm, err := run(t, `
.const int 7
load_const 0
neg
halt
`)
	require.NoError(t, err)
	top, err := vm.StackTop()
	require.NoError(t, err)
	require.Equal(t, int64(-7), top.I)
}
