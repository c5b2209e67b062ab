package vm

import "github.com/ambiguoustexture/lox/internal/value"

// add implements OP_ADD's dual contract (spec.md §4.2): two numbers sum,
// two strings concatenate (through the heap's intern table, so the result
// is eligible to dedupe against an existing string), anything else is a
// type error.
func (vm *VM) add(frame *CallFrame) error {
	b := vm.peek(0)
	a := vm.peek(1)

	switch {
	case a.IsNumber() && b.IsNumber():
		vm.pop()
		vm.pop()
		vm.push(value.Number(a.Number + b.Number))
		return nil
	case a.IsString() && b.IsString():
		vm.pop()
		vm.pop()
		concatenated := a.AsString().Chars + b.AsString().Chars
		vm.push(value.FromObj(vm.heap.InternString(concatenated)))
		return nil
	default:
		return vm.runtimeErrorf(frame, "Operands must be two numbers or two strings.")
	}
}

// binaryNumberOp implements every other binary numeric operator (-, *, /,
// <, >): both operands must be numbers, or it's a type error.
func (vm *VM) binaryNumberOp(frame *CallFrame, op func(a, b float64) value.Value) error {
	if !vm.peek(0).IsNumber() || !vm.peek(1).IsNumber() {
		return vm.runtimeErrorf(frame, "Operands must be numbers.")
	}
	b := vm.pop()
	a := vm.pop()
	vm.push(op(a.Number, b.Number))
	return nil
}
