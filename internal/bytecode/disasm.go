package bytecode

import (
	"fmt"
	"io"

	"github.com/ambiguoustexture/lox/internal/value"
)

// Disassemble prints every instruction in chunk to w, grounded on the
// teacher's vm/chunk.go Disassemble/DisassembleInstruction. spec.md §1
// keeps the disassembler out of core scope; this is kept only as a debug
// aid behind the VM's -trace flag.
func Disassemble(w io.Writer, chunk *value.Chunk, name string) {
	fmt.Fprintf(w, "== %s ==\n", name)
	for offset := 0; offset < chunk.Count(); {
		offset = DisassembleInstruction(w, chunk, offset)
	}
}

// DisassembleInstruction prints the instruction at offset and returns the
// offset of the next instruction.
func DisassembleInstruction(w io.Writer, chunk *value.Chunk, offset int) int {
	fmt.Fprintf(w, "%04d ", offset)
	if offset > 0 && chunk.LineOf(offset) == chunk.LineOf(offset-1) {
		fmt.Fprint(w, "   | ")
	} else {
		fmt.Fprintf(w, "%4d ", chunk.LineOf(offset))
	}

	op := Op(chunk.Read(offset))
	switch op {
	case OpConstant, OpGetGlobal, OpDefineGlobal, OpSetGlobal,
		OpGetProperty, OpSetProperty, OpGetSuper, OpClass, OpMethod:
		return constantInstruction(w, op, chunk, offset)
	case OpGetLocal, OpSetLocal, OpGetUpvalue, OpSetUpvalue, OpCall:
		return byteInstruction(w, op, chunk, offset)
	case OpInvoke, OpSuperInvoke:
		return invokeInstruction(w, op, chunk, offset)
	case OpJump, OpJumpIfFalse:
		return jumpInstruction(w, op, 1, chunk, offset)
	case OpLoop:
		return jumpInstruction(w, op, -1, chunk, offset)
	case OpClosure:
		return closureInstruction(w, chunk, offset)
	default:
		fmt.Fprintf(w, "%s\n", op)
		return offset + 1
	}
}

func constantInstruction(w io.Writer, op Op, chunk *value.Chunk, offset int) int {
	idx := chunk.Read(offset + 1)
	fmt.Fprintf(w, "%-16s %4d '%s'\n", op, idx, chunk.Constants[idx].String())
	return offset + 2
}

func byteInstruction(w io.Writer, op Op, chunk *value.Chunk, offset int) int {
	slot := chunk.Read(offset + 1)
	fmt.Fprintf(w, "%-16s %4d\n", op, slot)
	return offset + 2
}

func invokeInstruction(w io.Writer, op Op, chunk *value.Chunk, offset int) int {
	idx := chunk.Read(offset + 1)
	argCount := chunk.Read(offset + 2)
	fmt.Fprintf(w, "%-16s (%d args) %4d '%s'\n", op, argCount, idx, chunk.Constants[idx].String())
	return offset + 3
}

func jumpInstruction(w io.Writer, op Op, sign int, chunk *value.Chunk, offset int) int {
	hi := uint16(chunk.Read(offset + 1))
	lo := uint16(chunk.Read(offset + 2))
	jump := hi<<8 | lo
	target := offset + 3 + sign*int(jump)
	fmt.Fprintf(w, "%-16s %4d -> %d\n", op, offset, target)
	return offset + 3
}

func closureInstruction(w io.Writer, chunk *value.Chunk, offset int) int {
	offset++
	idx := chunk.Read(offset)
	offset++
	fmt.Fprintf(w, "%-16s %4d '%s'\n", OpClosure, idx, chunk.Constants[idx].String())

	fn := chunk.Constants[idx].AsFunction()
	for i := 0; i < fn.UpvalueCount; i++ {
		isLocal := chunk.Read(offset)
		offset++
		index := chunk.Read(offset)
		offset++
		kind := "upvalue"
		if isLocal != 0 {
			kind = "local"
		}
		fmt.Fprintf(w, "%04d      |                     %s %d\n", offset-2, kind, index)
	}
	return offset
}
