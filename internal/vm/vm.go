// Package vm is the stack-based bytecode interpreter: the calling
// convention, the arithmetic/comparison/property dispatch, and the
// interface to internal/heap's allocator and collector (spec.md §4.4).
// Grounded on the teacher's vm/vm.go for its cached-register dispatch
// loop (readByte/readShort closures, a single big switch over the opcode
// inside a plain for loop) and its runtimeError helper; call frames,
// closures, upvalues, classes, and the GC hooks are new, since the
// teacher's VM only ever runs one flat chunk of integer arithmetic.
package vm

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/dolthub/swiss"

	"github.com/ambiguoustexture/lox/internal/bytecode"
	"github.com/ambiguoustexture/lox/internal/compiler"
	"github.com/ambiguoustexture/lox/internal/heap"
	"github.com/ambiguoustexture/lox/internal/value"
)

const (
	framesMax = 64
	stackMax  = framesMax * 256
)

// CallFrame is one live call: the closure it's executing, its instruction
// pointer into that closure's chunk, and the base stack slot its locals
// start at (slot 0 is the callee itself, or the receiver for a method).
type CallFrame struct {
	closure   *value.ObjClosure
	ip        int
	slotsBase int
}

// VM executes compiled chunks. One VM holds one Heap, one globals table,
// and the call-frame/value stacks a single Interpret run uses; a REPL
// reuses the same VM across lines so globals persist.
type VM struct {
	stack    [stackMax]value.Value
	stackTop int

	frames     [framesMax]CallFrame
	frameCount int

	globals      *swiss.Map[string, value.Value]
	openUpvalues *value.ObjUpvalue

	heap *heap.Heap
	out  io.Writer

	// Trace, when true, disassembles every instruction to out before it
	// runs (SPEC_FULL.md's -trace flag).
	Trace bool

	// lastErr carries a runtime error out of a calling-convention helper
	// that reports bool (ok) rather than error, so run's opcode cases can
	// still `return vm.lastErr` from their own stack frame.
	lastErr error
}

// New builds a VM backed by h, writing PRINT output to out (os.Stdout if
// nil), and registers the clock() native.
func New(h *heap.Heap, out io.Writer) *VM {
	if out == nil {
		out = os.Stdout
	}
	vm := &VM{
		globals: swiss.NewMap[string, value.Value](32),
		heap:    h,
		out:     out,
	}
	vm.defineNative("clock", nativeClock)
	return vm
}

// Interpret compiles and runs source, returning either a joined set of
// compile errors or a single runtime error; nil on success. Globals and
// the heap persist across calls, so a REPL can build on earlier lines.
func (vm *VM) Interpret(source string) error {
	vm.heap.PushRoot(vm.walkRoots)
	defer vm.heap.PopRoot()

	fn, compileErrs := compiler.Compile(source, vm.heap)
	if len(compileErrs) > 0 {
		errs := make([]error, len(compileErrs))
		for i, e := range compileErrs {
			errs[i] = e
		}
		return errors.Join(errs...)
	}

	closure := vm.heap.NewClosure(fn)
	vm.push(value.FromObj(closure))
	if !vm.call(nil, closure, 0) {
		return vm.errorAndReset()
	}

	return vm.run()
}

func (vm *VM) walkRoots(mark func(value.Value)) {
	for i := 0; i < vm.stackTop; i++ {
		mark(vm.stack[i])
	}
	for i := 0; i < vm.frameCount; i++ {
		mark(value.FromObj(vm.frames[i].closure))
	}
	for uv := vm.openUpvalues; uv != nil; uv = uv.NextOpen {
		mark(value.FromObj(uv))
	}
	vm.globals.Iter(func(_ string, v value.Value) bool {
		mark(v)
		return false
	})
}

// ---- stack primitives ------------------------------------------------------

func (vm *VM) push(v value.Value) {
	vm.stack[vm.stackTop] = v
	vm.stackTop++
}

func (vm *VM) pop() value.Value {
	vm.stackTop--
	return vm.stack[vm.stackTop]
}

func (vm *VM) peek(distance int) value.Value {
	return vm.stack[vm.stackTop-1-distance]
}

func (vm *VM) resetStack() {
	vm.stackTop = 0
	vm.frameCount = 0
	vm.openUpvalues = nil
}

// ---- the dispatch loop ------------------------------------------------------

// run executes frames until the outermost call returns, dispatching one
// instruction at a time. The current frame is cached in a local and only
// re-fetched after an opcode that can change frameCount (CALL, INVOKE,
// SUPER_INVOKE, RETURN), mirroring the teacher's register-caching style.
func (vm *VM) run() error {
	frame := &vm.frames[vm.frameCount-1]
	chunk := frame.closure.Function.Chunk

	readByte := func() byte {
		b := chunk.Read(frame.ip)
		frame.ip++
		return b
	}
	readShort := func() uint16 {
		hi := uint16(readByte())
		lo := uint16(readByte())
		return hi<<8 | lo
	}
	readConstant := func() value.Value { return chunk.Constants[readByte()] }
	readString := func() *value.ObjString { return readConstant().AsString() }

	for {
		if vm.Trace {
			bytecode.DisassembleInstruction(vm.out, chunk, frame.ip)
		}

		op := bytecode.Op(readByte())
		switch op {
		case bytecode.OpConstant:
			vm.push(readConstant())

		case bytecode.OpNil:
			vm.push(value.Nil())
		case bytecode.OpTrue:
			vm.push(value.Bool(true))
		case bytecode.OpFalse:
			vm.push(value.Bool(false))
		case bytecode.OpPop:
			vm.pop()

		case bytecode.OpGetLocal:
			slot := readByte()
			vm.push(vm.stack[frame.slotsBase+int(slot)])
		case bytecode.OpSetLocal:
			slot := readByte()
			vm.stack[frame.slotsBase+int(slot)] = vm.peek(0)

		case bytecode.OpGetUpvalue:
			slot := readByte()
			vm.push(*frame.closure.Upvalues[slot].Location)
		case bytecode.OpSetUpvalue:
			slot := readByte()
			*frame.closure.Upvalues[slot].Location = vm.peek(0)

		case bytecode.OpGetGlobal:
			name := readString()
			v, ok := vm.globals.Get(name.Chars)
			if !ok {
				return vm.runtimeErrorf(frame, "Undefined variable '%s'.", name.Chars)
			}
			vm.push(v)
		case bytecode.OpDefineGlobal:
			name := readString()
			vm.globals.Put(name.Chars, vm.peek(0))
			vm.pop()
		case bytecode.OpSetGlobal:
			name := readString()
			if _, ok := vm.globals.Get(name.Chars); !ok {
				return vm.runtimeErrorf(frame, "Undefined variable '%s'.", name.Chars)
			}
			vm.globals.Put(name.Chars, vm.peek(0))

		case bytecode.OpGetProperty:
			if !vm.peek(0).IsInstance() {
				return vm.runtimeErrorf(frame, "Only instances have properties.")
			}
			inst := vm.peek(0).AsInstance()
			name := readString()
			if v, ok := inst.Fields.Get(name.Chars); ok {
				vm.pop()
				vm.push(v)
				break
			}
			if !vm.bindMethod(frame, inst.Class, name.Chars) {
				return vm.lastErr
			}
		case bytecode.OpSetProperty:
			if !vm.peek(1).IsInstance() {
				return vm.runtimeErrorf(frame, "Only instances have fields.")
			}
			inst := vm.peek(1).AsInstance()
			name := readString()
			inst.Fields.Put(name.Chars, vm.peek(0))
			v := vm.pop()
			vm.pop()
			vm.push(v)
		case bytecode.OpGetSuper:
			name := readString()
			superclass := vm.pop().AsClass()
			if !vm.bindMethod(frame, superclass, name.Chars) {
				return vm.lastErr
			}

		case bytecode.OpEqual:
			b := vm.pop()
			a := vm.pop()
			vm.push(value.Bool(a.Equal(b)))
		case bytecode.OpGreater:
			if err := vm.binaryNumberOp(frame, func(a, b float64) value.Value { return value.Bool(a > b) }); err != nil {
				return err
			}
		case bytecode.OpLess:
			if err := vm.binaryNumberOp(frame, func(a, b float64) value.Value { return value.Bool(a < b) }); err != nil {
				return err
			}

		case bytecode.OpAdd:
			if err := vm.add(frame); err != nil {
				return err
			}
		case bytecode.OpSubtract:
			if err := vm.binaryNumberOp(frame, func(a, b float64) value.Value { return value.Number(a - b) }); err != nil {
				return err
			}
		case bytecode.OpMultiply:
			if err := vm.binaryNumberOp(frame, func(a, b float64) value.Value { return value.Number(a * b) }); err != nil {
				return err
			}
		case bytecode.OpDivide:
			if err := vm.binaryNumberOp(frame, func(a, b float64) value.Value { return value.Number(a / b) }); err != nil {
				return err
			}
		case bytecode.OpNot:
			vm.push(value.Bool(vm.pop().IsFalsey()))
		case bytecode.OpNegate:
			if !vm.peek(0).IsNumber() {
				return vm.runtimeErrorf(frame, "Operand must be a number.")
			}
			vm.push(value.Number(-vm.pop().Number))

		case bytecode.OpPrint:
			fmt.Fprintln(vm.out, vm.pop().String())

		case bytecode.OpJump:
			offset := readShort()
			frame.ip += int(offset)
		case bytecode.OpJumpIfFalse:
			offset := readShort()
			if vm.peek(0).IsFalsey() {
				frame.ip += int(offset)
			}
		case bytecode.OpLoop:
			offset := readShort()
			frame.ip -= int(offset)

		case bytecode.OpCall:
			argCount := int(readByte())
			if !vm.callValue(frame, vm.peek(argCount), argCount) {
				return vm.lastErr
			}
			frame = &vm.frames[vm.frameCount-1]
			chunk = frame.closure.Function.Chunk

		case bytecode.OpInvoke:
			method := readString()
			argCount := int(readByte())
			if !vm.invoke(frame, method.Chars, argCount) {
				return vm.lastErr
			}
			frame = &vm.frames[vm.frameCount-1]
			chunk = frame.closure.Function.Chunk

		case bytecode.OpSuperInvoke:
			method := readString()
			argCount := int(readByte())
			superclass := vm.pop().AsClass()
			if !vm.invokeFromClass(frame, superclass, method.Chars, argCount) {
				return vm.lastErr
			}
			frame = &vm.frames[vm.frameCount-1]
			chunk = frame.closure.Function.Chunk

		case bytecode.OpClosure:
			fn := readConstant().AsFunction()
			closure := vm.heap.NewClosure(fn)
			for i := 0; i < fn.UpvalueCount; i++ {
				isLocal := readByte()
				index := readByte()
				if isLocal != 0 {
					closure.Upvalues[i] = vm.captureUpvalue(frame.slotsBase + int(index))
				} else {
					closure.Upvalues[i] = frame.closure.Upvalues[index]
				}
			}
			vm.push(value.FromObj(closure))

		case bytecode.OpCloseUpvalue:
			vm.closeUpvalues(vm.stackTop - 1)
			vm.pop()

		case bytecode.OpReturn:
			result := vm.pop()
			vm.closeUpvalues(frame.slotsBase)
			vm.frameCount--
			if vm.frameCount == 0 {
				vm.pop()
				return nil
			}
			vm.stackTop = frame.slotsBase
			vm.push(result)
			frame = &vm.frames[vm.frameCount-1]
			chunk = frame.closure.Function.Chunk

		case bytecode.OpClass:
			name := readString()
			vm.push(value.FromObj(vm.heap.NewClass(name)))
		case bytecode.OpInherit:
			superclassVal := vm.peek(1)
			if !superclassVal.IsClass() {
				return vm.runtimeErrorf(frame, "Superclass must be a class.")
			}
			subclass := vm.peek(0).AsClass()
			superclassVal.AsClass().Methods.Iter(func(name string, m *value.ObjClosure) bool {
				subclass.Methods.Put(name, m)
				return false
			})
			vm.pop()
		case bytecode.OpMethod:
			name := readString()
			vm.defineMethod(name.Chars)

		default:
			return vm.runtimeErrorf(frame, "Unknown opcode: %d", op)
		}
	}
}
