package value

import (
	"fmt"

	"github.com/dolthub/swiss"
)

// ObjType tags the variant of a heap object (spec.md §3).
type ObjType uint8

const (
	TypeString ObjType = iota
	TypeFunction
	TypeNative
	TypeClosure
	TypeUpvalue
	TypeClass
	TypeInstance
	TypeBoundMethod
)

// Obj is satisfied by every heap object variant. The Heap (internal/heap)
// is the only code that calls the marking/linking methods; everything else
// treats Obj as an opaque reference, matching the "algebraic sum type with
// explicit variants" re-architecture spec.md §9 asks for in place of the
// teacher's unsafe-pointer NaN boxing.
type Obj interface {
	ObjType() ObjType
	String() string
	IsMarked() bool
	SetMarked(bool)
	NextObj() Obj
	SetNextObj(Obj)
	Size() int64
	SetSize(int64)
}

// Header is the common object header every heap object embeds: its type
// tag, GC mark bit, the intrusive "next allocated object" link the Heap's
// all-objects list is threaded through, and the approximate byte size the
// Heap charged against bytesAllocated when it allocated this object
// (spec.md §3/§4.5). Size is set once, at construction, and read back by
// the Heap when an unmarked object is swept.
type Header struct {
	typ    ObjType
	marked bool
	next   Obj
	size   int64
}

func newHeader(t ObjType) Header { return Header{typ: t} }

func (h *Header) ObjType() ObjType { return h.typ }
func (h *Header) IsMarked() bool   { return h.marked }
func (h *Header) SetMarked(m bool) { h.marked = m }
func (h *Header) NextObj() Obj     { return h.next }
func (h *Header) SetNextObj(o Obj) { h.next = o }
func (h *Header) Size() int64      { return h.size }
func (h *Header) SetSize(n int64)  { h.size = n }

// ObjString is an immutable, interned byte sequence with a precomputed
// FNV-1a hash (spec.md §3). The Heap guarantees no two live ObjStrings ever
// share identical content.
type ObjString struct {
	Header
	Chars string
	Hash  uint32
}

func NewObjString(s string, hash uint32) *ObjString {
	return &ObjString{Header: newHeader(TypeString), Chars: s, Hash: hash}
}

func (s *ObjString) String() string { return s.Chars }

// FNV1a hashes a string with the 32-bit FNV-1a algorithm, as spec.md §3
// requires for interning.
func FNV1a(s string) uint32 {
	var hash uint32 = 2166136261
	for i := 0; i < len(s); i++ {
		hash ^= uint32(s[i])
		hash *= 16777619
	}
	return hash
}

// ObjFunction is an arity, an upvalue count, an optional name, and an owned
// Chunk (spec.md §3). It is immutable once the compiler finishes with it.
type ObjFunction struct {
	Header
	Arity        int
	UpvalueCount int
	Name         *ObjString // nil for the top-level script
	Chunk        *Chunk
}

func NewObjFunction() *ObjFunction {
	return &ObjFunction{Header: newHeader(TypeFunction), Chunk: NewChunk()}
}

func (f *ObjFunction) String() string {
	if f.Name == nil {
		return "<script>"
	}
	return fmt.Sprintf("<fn %s>", f.Name.Chars)
}

// NativeFn is a host function: it takes the argument slice (whose length is
// the argument count) and returns a Value or an error (spec.md §3).
type NativeFn func(args []Value) (Value, error)

type ObjNative struct {
	Header
	Name string
	Fn   NativeFn
}

func NewObjNative(name string, fn NativeFn) *ObjNative {
	return &ObjNative{Header: newHeader(TypeNative), Name: name, Fn: fn}
}

func (n *ObjNative) String() string { return fmt.Sprintf("<native fn %s>", n.Name) }

// ObjUpvalue is either open (Location points into a live stack slot) or
// closed (Location points at its own Closed field, spec.md §3/§4.4).
// OpenSlot mirrors which stack index Location points at while the upvalue
// is open; it's VM bookkeeping only (to order and find open upvalues by
// slot without doing pointer arithmetic on Location), not meaningful once
// the upvalue is closed.
type ObjUpvalue struct {
	Header
	Location *Value
	Closed   Value
	OpenSlot int
	NextOpen *ObjUpvalue // open-upvalue list link, sorted by descending stack slot
}

func NewObjUpvalue(slot *Value, slotIndex int) *ObjUpvalue {
	return &ObjUpvalue{Header: newHeader(TypeUpvalue), Location: slot, OpenSlot: slotIndex}
}

func (u *ObjUpvalue) String() string { return "<upvalue>" }

// Close hoists the value the upvalue currently points at onto the heap,
// repointing Location at its own Closed field.
func (u *ObjUpvalue) Close() {
	u.Closed = *u.Location
	u.Location = &u.Closed
}

// ObjClosure pairs one Function with its captured upvalues, whose length
// equals the Function's upvalue count (spec.md §3).
type ObjClosure struct {
	Header
	Function *ObjFunction
	Upvalues []*ObjUpvalue
}

func NewObjClosure(fn *ObjFunction) *ObjClosure {
	return &ObjClosure{
		Header:   newHeader(TypeClosure),
		Function: fn,
		Upvalues: make([]*ObjUpvalue, fn.UpvalueCount),
	}
}

func (c *ObjClosure) String() string { return c.Function.String() }

// ObjClass is a name and a method table (spec.md §3). Methods maps a method
// name to the Closure implementing it.
type ObjClass struct {
	Header
	Name    *ObjString
	Methods *swiss.Map[string, *ObjClosure]
}

func NewObjClass(name *ObjString) *ObjClass {
	return &ObjClass{
		Header:  newHeader(TypeClass),
		Name:    name,
		Methods: swiss.NewMap[string, *ObjClosure](8),
	}
}

func (c *ObjClass) String() string { return c.Name.Chars }

// ObjInstance is a Class reference plus a mutable field table (spec.md §3).
type ObjInstance struct {
	Header
	Class  *ObjClass
	Fields *swiss.Map[string, Value]
}

func NewObjInstance(class *ObjClass) *ObjInstance {
	return &ObjInstance{
		Header: newHeader(TypeInstance),
		Class:  class,
		Fields: swiss.NewMap[string, Value](8),
	}
}

func (i *ObjInstance) String() string { return fmt.Sprintf("%s instance", i.Class.Name.Chars) }

// ObjBoundMethod pairs a receiver with a Closure, callable as if it were a
// plain closure (spec.md §3).
type ObjBoundMethod struct {
	Header
	Receiver Value
	Method   *ObjClosure
}

func NewObjBoundMethod(receiver Value, method *ObjClosure) *ObjBoundMethod {
	return &ObjBoundMethod{Header: newHeader(TypeBoundMethod), Receiver: receiver, Method: method}
}

func (b *ObjBoundMethod) String() string { return b.Method.String() }
