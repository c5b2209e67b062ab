// Package langerr defines the two user-visible error kinds spec.md §7
// distinguishes: compile errors and runtime errors. Grounded on the
// teacher's vm/value.go RuntimeError struct and vm/vm.go's runtimeError
// helper, generalized to also cover compile-time diagnostics.
package langerr

import "fmt"

// CompileError is a single compiler diagnostic: the line and lexeme it was
// reported at, plus a human-readable message. spec.md §7's wire format is
// `[line L] Error at '<lex>': <msg>` (or "at end"/"at error" in place of the
// quoted lexeme).
type CompileError struct {
	Line    int
	Where   string // "at '<lexeme>'", "at end", or "at error"
	Message string
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("[line %d] Error %s: %s", e.Line, e.Where, e.Message)
}

// RuntimeError is a runtime fault plus the frame trace active when it was
// raised (spec.md §7: "<msg>\n[line L] in <where>\n...").
type RuntimeError struct {
	Message string
	Trace   []TraceFrame
}

// TraceFrame is one line of a runtime error's backtrace.
type TraceFrame struct {
	Line int
	Name string // function name, or "script" for the top-level frame
}

func (e *RuntimeError) Error() string {
	s := e.Message
	for _, f := range e.Trace {
		where := f.Name
		if where == "" {
			where = "script"
		} else {
			where = where + "()"
		}
		s += fmt.Sprintf("\n[line %d] in %s", f.Line, where)
	}
	return s
}

func NewRuntimeError(format string, args ...interface{}) *RuntimeError {
	return &RuntimeError{Message: fmt.Sprintf(format, args...)}
}
