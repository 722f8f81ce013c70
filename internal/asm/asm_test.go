package asm_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"brkt/internal/asm"
	"brkt/internal/bvm"
)

func loadAndRun(t *testing.T, source string) *bvm.VM {
	t.Helper()

	bin, err := asm.Assemble(source)
	require.NoError(t, err)

	prog, err := bvm.Load(bin)
	require.NoError(t, err)

	vm, err := bvm.New(prog)
	require.NoError(t, err)

	require.NoError(t, vm.Run())
	return vm
}

func TestHaltImmediately(t *testing.T) {
	vm := loadAndRun(t, `
halt
`)
	require.True(t, vm.Halted())
}

func TestConstantLoad(t *testing.T) {
	vm := loadAndRun(t, `
.const int 42
load_const 0
halt
`)
	top, err := vm.StackTop()
	require.NoError(t, err)
	require.Equal(t, bvm.ValInt, top.Kind)
	require.Equal(t, int64(42), top.I)
}

func TestArithmeticViaPrimitive(t *testing.T) {
	vm := loadAndRun(t, `
.primitive +
.const int 2
.const int 3
load_var #+
load_const 0
load_const 1
call 2
halt
`)
	top, err := vm.StackTop()
	require.NoError(t, err)
	require.Equal(t, int64(5), top.I)
}

func TestArithmeticViaDirectOpcode(t *testing.T) {
	vm := loadAndRun(t, `
.const int 2
.const int 3
load_const 0
load_const 1
add
halt
`)
	top, err := vm.StackTop()
	require.NoError(t, err)
	require.Equal(t, int64(5), top.I)
}

func TestConditionalJump(t *testing.T) {
	vm := loadAndRun(t, `
.const bool false
.const int 1
.const int 99
load_const 0
jmp_true else
load_const 1
jmp done
else:
load_const 2
done:
halt
`)
	top, err := vm.StackTop()
	require.NoError(t, err)
	require.Equal(t, int64(1), top.I)
}

func TestClosureCapture(t *testing.T) {
	vm := loadAndRun(t, `
.symbol n
.const int 10
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
	top, err := vm.StackTop()
	require.NoError(t, err)
	require.Equal(t, int64(10), top.I)
}

func TestArityMismatch(t *testing.T) {
	bin, err := asm.Assemble(`
.const int 5
.proc entry=needs_two arity=2 locals=0

make_closure 0 0
load_const 0
call 1
halt

needs_two:
halt
`)
	require.NoError(t, err)

	prog, err := bvm.Load(bin)
	require.NoError(t, err)

	vm, err := bvm.New(prog)
	require.NoError(t, err)

	err = vm.Run()
	require.Error(t, err)
	require.ErrorIs(t, err, bvm.ErrArityMismatch)
}

func TestUnknownMnemonicRejected(t *testing.T) {
	_, err := asm.Assemble(`frobnicate`)
	require.Error(t, err)
}

func TestUndefinedLabelRejected(t *testing.T) {
	_, err := asm.Assemble(`jmp nowhere`)
	require.Error(t, err)
}

func TestSymAndIdentConstants(t *testing.T) {
	vm := loadAndRun(t, `
.const sym foo
.const ident bar
load_const 0
load_const 1
halt
`)
	top, err := vm.StackTop()
	require.NoError(t, err)
	require.Equal(t, bvm.ValIdent, top.Kind)
}
