package compiler

import "github.com/ambiguoustexture/lox/internal/token"

const maxLocals = 256 // one-byte local/upvalue slot operand, spec.md §4.3

// FunctionType tags what kind of function a *scope is compiling, which
// changes a handful of compile-time rules: a script has an implicit outer
// return, a method/initializer's slot 0 is reserved for the receiver
// instead of being unused, and an initializer may only bare-`return`.
type FunctionType uint8

const (
	FuncScript FunctionType = iota
	FuncFunction
	FuncMethod
	FuncInitializer
)

// Local is one entry in a scope's local-variable array. Depth is -1 while
// the variable's own initializer is still being compiled, which is what
// makes `var a = a;` a compile error rather than silently reading an
// enclosing `a` (spec.md §4.3).
type Local struct {
	Name       token.Token
	Depth      int
	IsCaptured bool
}

// Upvalue is one entry in a scope's upvalue array: Index is either a slot
// in the immediately enclosing function's locals (IsLocal true) or an
// index into the enclosing function's own upvalue array (IsLocal false).
type Upvalue struct {
	Index   byte
	IsLocal bool
}

// classScope tracks the class currently being compiled, chained through
// Enclosing so nested class bodies (a method that itself declares a local
// class) resolve `super` correctly.
type classScope struct {
	Enclosing     *classScope
	HasSuperclass bool
}

// addLocal declares name as a new local in the current scope, uninitialized
// (Depth -1) until the caller calls markInitialized.
func (s *scope) addLocal(name token.Token) bool {
	if len(s.locals) >= maxLocals {
		return false
	}
	s.locals = append(s.locals, Local{Name: name, Depth: -1})
	return true
}

// markInitialized marks the most recently declared local as usable. At
// global scope (scopeDepth == 0, the script's top level) this is a no-op:
// a name declared there is a global, not a local.
func (s *scope) markInitialized() {
	if s.scopeDepth == 0 {
		return
	}
	s.locals[len(s.locals)-1].Depth = s.scopeDepth
}

// resolveLocal searches this scope's own locals, innermost first, for a
// variable named name. It returns slot -1 if no local matches, and slot -1
// with errSelfRef=true if the match is still being initialized.
func (s *scope) resolveLocal(name string) (slot int, errSelfRef bool) {
	for i := len(s.locals) - 1; i >= 0; i-- {
		if s.locals[i].Name.Lexeme == name {
			if s.locals[i].Depth == -1 {
				return -1, true
			}
			return i, false
		}
	}
	return -1, false
}

// addUpvalue records a capture of either a local slot or an outer upvalue
// in the enclosing function, deduping against any upvalue this scope
// already captured for the same source.
func (s *scope) addUpvalue(index byte, isLocal bool) (int, bool) {
	for i, uv := range s.upvalues {
		if uv.Index == index && uv.IsLocal == isLocal {
			return i, true
		}
	}
	if len(s.upvalues) >= maxLocals {
		return -1, false
	}
	s.upvalues = append(s.upvalues, Upvalue{Index: index, IsLocal: isLocal})
	s.function.UpvalueCount = len(s.upvalues)
	return len(s.upvalues) - 1, true
}

// resolveUpvalue walks the enclosing-scope chain looking for name, emitting
// a chain of upvalue captures (one per intervening function) if it finds
// the variable as a local or upvalue somewhere outward. It returns -1 when
// name isn't a local anywhere outward, which means the caller falls back
// to treating it as a global.
func (s *scope) resolveUpvalue(name string) (int, bool) {
	if s.enclosing == nil {
		return -1, false
	}
	if local, selfRef := s.enclosing.resolveLocal(name); local != -1 {
		s.enclosing.locals[local].IsCaptured = true
		idx, ok := s.addUpvalue(byte(local), true)
		return idx, ok
	} else if selfRef {
		return -1, false
	}
	if outer, ok := s.enclosing.resolveUpvalue(name); ok {
		idx, ok2 := s.addUpvalue(byte(outer), false)
		return idx, ok2
	}
	return -1, false
}
