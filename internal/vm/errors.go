package vm

import (
	"fmt"

	"github.com/ambiguoustexture/lox/internal/langerr"
)

// runtimeErrorf builds a RuntimeError carrying the current call-frame
// backtrace and resets the stack, matching the teacher's runtimeError
// helper generalized from a single flat chunk to a frame stack (spec.md
// §7: message, then one "[line L] in <where>" per active frame,
// innermost first).
func (vm *VM) runtimeErrorf(frame *CallFrame, format string, args ...interface{}) error {
	err := langerr.NewRuntimeError(format, args...)

	for i := vm.frameCount - 1; i >= 0; i-- {
		f := &vm.frames[i]
		fn := f.closure.Function
		line := fn.Chunk.LineOf(f.ip - 1)
		name := ""
		if fn.Name != nil {
			name = fn.Name.Chars
		}
		err.Trace = append(err.Trace, langerr.TraceFrame{Line: line, Name: name})
	}

	vm.lastErr = err
	vm.resetStack()
	return err
}

// errorAndReset surfaces vm.lastErr (set by a calling-convention helper
// that already reported its own frame-less error) and resets the stack.
func (vm *VM) errorAndReset() error {
	if vm.lastErr == nil {
		vm.lastErr = fmt.Errorf("interpreter error")
	}
	err := vm.lastErr
	vm.resetStack()
	return err
}

// newTopLevelError builds a RuntimeError with no frame trace, for the one
// call-convention failure that can happen before any frame exists: the
// top-level script closure itself failing arity or depth checks.
func newTopLevelError(format string, args ...interface{}) error {
	return langerr.NewRuntimeError(format, args...)
}
