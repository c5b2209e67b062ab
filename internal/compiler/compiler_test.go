package compiler_test

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ambiguoustexture/lox/internal/bytecode"
	"github.com/ambiguoustexture/lox/internal/compiler"
	"github.com/ambiguoustexture/lox/internal/heap"
)

func TestCompileArithmeticEmitsExpectedOps(t *testing.T) {
	h := heap.New()
	fn, errs := compiler.Compile("print 1 + 2 * 3;", h)
	require.Empty(t, errs)
	require.NotNil(t, fn)

	var ops []bytecode.Op
	for i := 0; i < fn.Chunk.Count(); {
		op := bytecode.Op(fn.Chunk.Read(i))
		ops = append(ops, op)
		switch op {
		case bytecode.OpConstant:
			i += 2
		default:
			i++
		}
	}
	assert.Contains(t, ops, bytecode.OpMultiply)
	assert.Contains(t, ops, bytecode.OpAdd)
	assert.Contains(t, ops, bytecode.OpPrint)
	assert.Equal(t, bytecode.OpReturn, ops[len(ops)-1])
}

func TestCompileReportsUndeclaredSelfReference(t *testing.T) {
	h := heap.New()
	_, errs := compiler.Compile("{ var a = a; }", h)
	require.NotEmpty(t, errs)
	assert.Contains(t, errs[0].Message, "own initializer")
}

func TestCompileReportsReturnOutsideFunction(t *testing.T) {
	h := heap.New()
	_, errs := compiler.Compile("return 1;", h)
	require.NotEmpty(t, errs)
	assert.Contains(t, errs[0].Message, "Can't return from top-level code.")
}

func TestCompileReportsValueReturnInInitializer(t *testing.T) {
	h := heap.New()
	src := `
class Foo {
  init() {
    return 1;
  }
}`
	_, errs := compiler.Compile(src, h)
	require.NotEmpty(t, errs)
	assert.Contains(t, errs[0].Message, "Can't return a value from an initializer.")
}

func TestCompileReportsClassInheritingFromItself(t *testing.T) {
	h := heap.New()
	_, errs := compiler.Compile("class Oops < Oops {}", h)
	require.NotEmpty(t, errs)
	assert.Contains(t, errs[0].Message, "can't inherit from itself")
}

func TestCompileReportsSuperOutsideSubclass(t *testing.T) {
	h := heap.New()
	src := `
class Foo {
  bar() {
    super.bar();
  }
}`
	_, errs := compiler.Compile(src, h)
	require.NotEmpty(t, errs)
	assert.Contains(t, errs[0].Message, "no superclass")
}

func TestCompileReportsThisOutsideClass(t *testing.T) {
	h := heap.New()
	_, errs := compiler.Compile("fun f() { return this; }", h)
	require.NotEmpty(t, errs)
	assert.Contains(t, errs[0].Message, "Can't use 'this' outside of a class.")
}

func TestCompileClosureCapturesByReference(t *testing.T) {
	h := heap.New()
	src := `
fun makeCounter() {
  var i = 0;
  fun count() {
    i = i + 1;
    return i;
  }
  return count;
}`
	fn, errs := compiler.Compile(src, h)
	require.Empty(t, errs)
	require.NotNil(t, fn)

	// makeCounter is the only function constant in the script's chunk.
	var sawClosure, capturesLocal bool
	for _, c := range fn.Chunk.Constants {
		if !c.IsFunction() {
			continue
		}
		body := c.AsFunction().Chunk
		for i := 0; i < body.Count(); i++ {
			if bytecode.Op(body.Read(i)) == bytecode.OpClosure {
				sawClosure = true
				// OP_CLOSURE idx, then (isLocal, index) for count's one upvalue.
				capturesLocal = body.Read(i+2) == 1
			}
		}
	}
	assert.True(t, sawClosure, "makeCounter's body must emit OP_CLOSURE for the nested function")
	assert.True(t, capturesLocal, "count must capture makeCounter's local i, not an outer upvalue")
}

func TestCompileSynchronizesAfterError(t *testing.T) {
	h := heap.New()
	src := `
print (;
print 1;
`
	_, errs := compiler.Compile(src, h)
	require.NotEmpty(t, errs)
	// The scanner/parser must resynchronize and keep compiling rather than
	// bail after the first diagnostic.
	assert.Less(t, len(errs), 5)
}

func TestCompileTooManyLocalsIsAnError(t *testing.T) {
	h := heap.New()
	src := "{\n"
	for i := 0; i < 300; i++ {
		src += "var a" + strconv.Itoa(i) + " = 0;\n"
	}
	src += "}\n"
	_, errs := compiler.Compile(src, h)
	require.NotEmpty(t, errs)
	assert.Contains(t, errs[0].Message, "Too many local variables")
}
