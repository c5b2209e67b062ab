package vm_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ambiguoustexture/lox/internal/heap"
	"github.com/ambiguoustexture/lox/internal/vm"
)

func newMachine(t *testing.T) (*vm.VM, *bytes.Buffer) {
	t.Helper()
	var out bytes.Buffer
	h := heap.New()
	return vm.New(h, &out), &out
}

func TestInterpretArithmeticAndPrint(t *testing.T) {
	machine, out := newMachine(t)
	err := machine.Interpret("print 1 + 2 * 3;")
	require.NoError(t, err)
	assert.Equal(t, "7\n", out.String())
}

func TestInterpretStringConcatenation(t *testing.T) {
	machine, out := newMachine(t)
	err := machine.Interpret(`print "foo" + "bar";`)
	require.NoError(t, err)
	assert.Equal(t, "foobar\n", out.String())
}

func TestInterpretAddTypeMismatchReportsExactMessage(t *testing.T) {
	machine, _ := newMachine(t)
	err := machine.Interpret(`print 1 + "two";`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Operands must be two numbers or two strings.")
}

func TestInterpretGlobalsPersistAcrossCalls(t *testing.T) {
	machine, out := newMachine(t)
	require.NoError(t, machine.Interpret("var counter = 0;"))
	require.NoError(t, machine.Interpret("counter = counter + 1;"))
	require.NoError(t, machine.Interpret("print counter;"))
	assert.Equal(t, "1\n", out.String())
}

func TestInterpretUndefinedGlobal(t *testing.T) {
	machine, _ := newMachine(t)
	err := machine.Interpret("print nope;")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Undefined variable 'nope'.")
}

func TestInterpretClosureCapturesByReference(t *testing.T) {
	machine, out := newMachine(t)
	src := `
fun makeCounter() {
  var i = 0;
  fun count() {
    i = i + 1;
    print i;
  }
  return count;
}
var counter = makeCounter();
counter();
counter();
counter();
`
	require.NoError(t, machine.Interpret(src))
	assert.Equal(t, "1\n2\n3\n", out.String())
}

func TestInterpretClassFieldShadowsMethod(t *testing.T) {
	machine, out := newMachine(t)
	src := `
class Box {
  greet() {
    print "method";
  }
}
fun asField() {
  print "field";
}
var b = Box();
b.greet();
b.greet = asField;
b.greet();
`
	require.NoError(t, machine.Interpret(src))
	assert.Equal(t, "method\nfield\n", out.String())
}

func TestInterpretInheritanceAndSuperDispatch(t *testing.T) {
	machine, out := newMachine(t)
	src := `
class Animal {
  speak() {
    print "...";
  }
}
class Dog < Animal {
  speak() {
    super.speak();
    print "Woof";
  }
}
Dog().speak();
`
	require.NoError(t, machine.Interpret(src))
	assert.Equal(t, "...\nWoof\n", out.String())
}

func TestInterpretInitializerReturnsReceiver(t *testing.T) {
	machine, out := newMachine(t)
	src := `
class Point {
  init(x, y) {
    this.x = x;
    this.y = y;
  }
}
var p = Point(3, 4);
print p.x;
print p.y;
`
	require.NoError(t, machine.Interpret(src))
	assert.Equal(t, "3\n4\n", out.String())
}

func TestInterpretRuntimeErrorIncludesBacktrace(t *testing.T) {
	machine, _ := newMachine(t)
	src := `
fun a() {
  b();
}
fun b() {
  return 1 + nil;
}
a();
`
	err := machine.Interpret(src)
	require.Error(t, err)
	lines := strings.Split(err.Error(), "\n")
	require.GreaterOrEqual(t, len(lines), 3)
	assert.Contains(t, lines[0], "Operands must be two numbers or two strings.")
	assert.Contains(t, err.Error(), "in b()")
	assert.Contains(t, err.Error(), "in a()")
	assert.Contains(t, err.Error(), "in script")
}

func TestInterpretStackOverflowOnUnboundedRecursion(t *testing.T) {
	machine, _ := newMachine(t)
	src := `
fun recurse() {
  return recurse();
}
recurse();
`
	err := machine.Interpret(src)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Stack overflow.")
}

func TestInterpretClockNativeReturnsNumber(t *testing.T) {
	machine, out := newMachine(t)
	require.NoError(t, machine.Interpret("print clock() > 0;"))
	assert.Equal(t, "true\n", out.String())
}

func TestInterpretUnderStressGCStillReachesLiveObjects(t *testing.T) {
	var out bytes.Buffer
	h := heap.New()
	h.StressGC = true
	machine := vm.New(h, &out)

	src := `
class Node {
  init(value) {
    this.value = value;
  }
}
fun build(n) {
  var head = nil;
  var i = 0;
  while (i < n) {
    var node = Node(i);
    node.next = head;
    head = node;
    i = i + 1;
  }
  return head;
}
var list = build(20);
var total = 0;
while (list != nil) {
  total = total + list.value;
  list = list.next;
}
print total;
`
	require.NoError(t, machine.Interpret(src))
	assert.Equal(t, "190\n", out.String())
}
