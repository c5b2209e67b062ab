package vm

import "github.com/ambiguoustexture/lox/internal/value"

// callValue dispatches CALL argc against whatever kind of callee sits argc
// slots above the top of the stack (spec.md §4.4): a Closure pushes a new
// frame, a Class constructs an Instance and optionally runs its
// initializer, a BoundMethod rebinds its receiver into slot 0 and calls
// its Closure, a Native runs immediately and replaces its own call site
// with the result. Anything else is "Can only call functions and classes."
func (vm *VM) callValue(frame *CallFrame, callee value.Value, argCount int) bool {
	if callee.IsObj() {
		switch callee.Obj.ObjType() {
		case value.TypeClosure:
			return vm.call(frame, callee.AsClosure(), argCount)
		case value.TypeNative:
			native := callee.AsNative()
			args := vm.stack[vm.stackTop-argCount : vm.stackTop]
			result, err := native.Fn(args)
			if err != nil {
				vm.runtimeErrorf(frame, "%s", err.Error())
				return false
			}
			vm.stackTop -= argCount + 1
			vm.push(result)
			return true
		case value.TypeClass:
			class := callee.AsClass()
			instance := vm.heap.NewInstance(class)
			vm.stack[vm.stackTop-argCount-1] = value.FromObj(instance)
			if init, ok := class.Methods.Get(vm.heap.InitString.Chars); ok {
				return vm.call(frame, init, argCount)
			}
			if argCount != 0 {
				vm.runtimeErrorf(frame, "Expected 0 arguments but got %d.", argCount)
				return false
			}
			return true
		case value.TypeBoundMethod:
			bound := callee.AsBoundMethod()
			vm.stack[vm.stackTop-argCount-1] = bound.Receiver
			return vm.call(frame, bound.Method, argCount)
		}
	}
	vm.runtimeErrorf(frame, "Can only call functions and classes.")
	return false
}

// call pushes a new CallFrame for closure, after checking arity and the
// call-depth cap (spec.md §4.4's "Stack overflow" and arity-mismatch
// errors). frame is the caller's frame, used only for error reporting;
// it is nil for Interpret's very first call, before any frame exists.
func (vm *VM) call(frame *CallFrame, closure *value.ObjClosure, argCount int) bool {
	if argCount != closure.Function.Arity {
		vm.reportCallError(frame, "Expected %d arguments but got %d.", closure.Function.Arity, argCount)
		return false
	}
	if vm.frameCount == framesMax {
		vm.reportCallError(frame, "Stack overflow.")
		return false
	}

	newFrame := &vm.frames[vm.frameCount]
	vm.frameCount++
	newFrame.closure = closure
	newFrame.ip = 0
	newFrame.slotsBase = vm.stackTop - argCount - 1
	return true
}

func (vm *VM) reportCallError(frame *CallFrame, format string, args ...interface{}) {
	if frame != nil {
		vm.runtimeErrorf(frame, format, args...)
		return
	}
	vm.lastErr = newTopLevelError(format, args...)
	vm.resetStack()
}

// invoke fuses "read a property" with "call it" into one opcode
// (spec.md §4.4's INVOKE): look the method up on the receiver's fields
// first (a field holding a closure is callable too), then fall back to
// its class's method table.
func (vm *VM) invoke(frame *CallFrame, name string, argCount int) bool {
	receiver := vm.peek(argCount)
	if !receiver.IsInstance() {
		vm.runtimeErrorf(frame, "Only instances have methods.")
		return false
	}
	inst := receiver.AsInstance()

	if v, ok := inst.Fields.Get(name); ok {
		vm.stack[vm.stackTop-argCount-1] = v
		return vm.callValue(frame, v, argCount)
	}
	return vm.invokeFromClass(frame, inst.Class, name, argCount)
}

func (vm *VM) invokeFromClass(frame *CallFrame, class *value.ObjClass, name string, argCount int) bool {
	method, ok := class.Methods.Get(name)
	if !ok {
		vm.runtimeErrorf(frame, "Undefined property '%s'.", name)
		return false
	}
	return vm.call(frame, method, argCount)
}

// bindMethod looks name up on class's method table and, if found, wraps it
// with the current receiver (still on the stack at peek(0)) into a fresh
// BoundMethod, replacing the receiver with it.
func (vm *VM) bindMethod(frame *CallFrame, class *value.ObjClass, name string) bool {
	method, ok := class.Methods.Get(name)
	if !ok {
		vm.runtimeErrorf(frame, "Undefined property '%s'.", name)
		return false
	}
	bound := vm.heap.NewBoundMethod(vm.peek(0), method)
	vm.pop()
	vm.push(value.FromObj(bound))
	return true
}

// defineMethod pops a Closure off the stack and installs it in the class
// just below it on the stack, under name (spec.md §4.4's METHOD opcode;
// the class body compiler leaves the class on the stack for the duration
// of its method declarations).
func (vm *VM) defineMethod(name string) {
	method := vm.pop().AsClosure()
	class := vm.peek(0).AsClass()
	class.Methods.Put(name, method)
}
