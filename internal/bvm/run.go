package bvm

import (
	"runtime/debug"
)

// Run executes instructions until the VM halts or a fatal error stops the
// dispatch loop. Environments the loop allocates stay in the append-only
// store until the VM is dropped, so a mid-run collection reclaims little;
// when Options.DisableGC is set (as New does) the garbage collector is
// disabled for the duration of the run and restored afterward.
func (vm *VM) Run() error {
	if vm.disableGC {
		defer debug.SetGCPercent(debug.SetGCPercent(-1))
	}

	for !vm.halted && vm.err == nil {
		vm.step()
	}

	return vm.err
}

// Step executes exactly one instruction and reports whether the VM is still
// runnable afterward. Used by a debug/single-step frontend; does not touch
// GC tuning since a session is expected to run many steps interactively.
func (vm *VM) Step() (done bool) {
	vm.step()
	return vm.halted || vm.err != nil
}
