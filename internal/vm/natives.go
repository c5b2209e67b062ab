package vm

import (
	"time"

	"github.com/ambiguoustexture/lox/internal/value"
)

// defineNative wraps fn as an ObjNative and installs it as a global,
// grounded on the teacher's symbol-table builtin registration
// (compiler/compiler.go's DefineBuiltin calls in New), generalized to
// the heap-owned native-function object spec.md §6 describes.
func (vm *VM) defineNative(name string, fn value.NativeFn) {
	native := vm.heap.NewNative(name, fn)
	vm.globals.Put(name, value.FromObj(native))
}

// nativeClock returns the number of seconds since the Unix epoch, the one
// native function spec.md §6 requires.
func nativeClock(args []value.Value) (value.Value, error) {
	return value.Number(float64(time.Now().UnixNano()) / 1e9), nil
}
