// Package value implements the run-time Value representation and the heap
// object variants it can reference (spec.md §3). Unlike the teacher's
// NaN-boxed uint64 (vm/value.go in abdielwilsn-pidgin-lang, which hides a
// live pointer inside a bit pattern invisible to any garbage collector),
// Value here is an explicit tagged struct: the re-architecture spec.md §9
// calls for.
package value

import "fmt"

// Kind is the tag of a Value.
type Kind uint8

const (
	KindNil Kind = iota
	KindBool
	KindNumber
	KindObj
)

// Value is a tagged run-time value: nil, a boolean, a 64-bit float, or a
// reference to a heap object.
type Value struct {
	Kind   Kind
	Number float64
	Bool   bool
	Obj    Obj
}

func Nil() Value                 { return Value{Kind: KindNil} }
func Bool(b bool) Value          { return Value{Kind: KindBool, Bool: b} }
func Number(n float64) Value     { return Value{Kind: KindNumber, Number: n} }
func FromObj(o Obj) Value        { return Value{Kind: KindObj, Obj: o} }

func (v Value) IsNil() bool    { return v.Kind == KindNil }
func (v Value) IsBool() bool   { return v.Kind == KindBool }
func (v Value) IsNumber() bool { return v.Kind == KindNumber }
func (v Value) IsObj() bool    { return v.Kind == KindObj }

func (v Value) IsString() bool      { return v.objIs(TypeString) }
func (v Value) IsFunction() bool    { return v.objIs(TypeFunction) }
func (v Value) IsNative() bool      { return v.objIs(TypeNative) }
func (v Value) IsClosure() bool     { return v.objIs(TypeClosure) }
func (v Value) IsClass() bool       { return v.objIs(TypeClass) }
func (v Value) IsInstance() bool    { return v.objIs(TypeInstance) }
func (v Value) IsBoundMethod() bool { return v.objIs(TypeBoundMethod) }

func (v Value) objIs(t ObjType) bool {
	return v.Kind == KindObj && v.Obj != nil && v.Obj.ObjType() == t
}

func (v Value) AsString() *ObjString           { return v.Obj.(*ObjString) }
func (v Value) AsFunction() *ObjFunction       { return v.Obj.(*ObjFunction) }
func (v Value) AsNative() *ObjNative           { return v.Obj.(*ObjNative) }
func (v Value) AsClosure() *ObjClosure         { return v.Obj.(*ObjClosure) }
func (v Value) AsClass() *ObjClass             { return v.Obj.(*ObjClass) }
func (v Value) AsInstance() *ObjInstance       { return v.Obj.(*ObjInstance) }
func (v Value) AsBoundMethod() *ObjBoundMethod { return v.Obj.(*ObjBoundMethod) }

// IsFalsey reports falsiness per spec.md §4.2: nil and false are falsy,
// everything else (including 0 and "") is truthy.
func (v Value) IsFalsey() bool {
	return v.IsNil() || (v.IsBool() && !v.Bool)
}

// Equal implements spec.md §3's equality rule: different kinds are never
// equal, numbers compare by IEEE equality, and every heap object (strings
// included, since they're interned) compares by reference identity.
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindNil:
		return true
	case KindBool:
		return v.Bool == o.Bool
	case KindNumber:
		return v.Number == o.Number
	case KindObj:
		return v.Obj == o.Obj
	default:
		return false
	}
}

// String renders a Value the way PRINT and string concatenation do.
func (v Value) String() string {
	switch v.Kind {
	case KindNil:
		return "nil"
	case KindBool:
		if v.Bool {
			return "true"
		}
		return "false"
	case KindNumber:
		return formatNumber(v.Number)
	case KindObj:
		return v.Obj.String()
	default:
		return "<invalid value>"
	}
}

func formatNumber(n float64) string {
	if n == float64(int64(n)) {
		return fmt.Sprintf("%d", int64(n))
	}
	return fmt.Sprintf("%g", n)
}

// TypeName names a Value's run-time type for error messages.
func (v Value) TypeName() string {
	switch v.Kind {
	case KindNil:
		return "nil"
	case KindBool:
		return "boolean"
	case KindNumber:
		return "number"
	case KindObj:
		switch v.Obj.ObjType() {
		case TypeString:
			return "string"
		case TypeFunction, TypeClosure, TypeNative:
			return "function"
		case TypeClass:
			return "class"
		case TypeInstance:
			return "instance"
		case TypeBoundMethod:
			return "method"
		}
	}
	return "value"
}
