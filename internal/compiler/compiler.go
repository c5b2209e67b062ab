// Package compiler implements the single-pass Pratt-precedence compiler
// spec.md §4.3 specifies: source text goes straight to bytecode with no
// intermediate AST. Grounded on the teacher's compiler/compiler.go for
// its switch-driven statement shape and emit*/scope-depth naming, but the
// control flow is rebuilt from the ground up — the teacher compiles a
// pre-built ast.Program node by node, while this compiler drives itself
// directly off the token stream via parsePrecedence (rules.go).
package compiler

import (
	"fmt"

	"github.com/ambiguoustexture/lox/internal/bytecode"
	"github.com/ambiguoustexture/lox/internal/heap"
	"github.com/ambiguoustexture/lox/internal/langerr"
	"github.com/ambiguoustexture/lox/internal/scanner"
	"github.com/ambiguoustexture/lox/internal/token"
	"github.com/ambiguoustexture/lox/internal/value"
)

// scope is one function body's worth of compiler state: its own Chunk
// (owned by function.Chunk), its locals and upvalues, and a link to the
// scope compiling the function lexically enclosing this one (nil for the
// top-level script). The Parser's current scope changes as function and
// method bodies are entered and left; the scope chain itself is what
// resolveUpvalue walks.
type scope struct {
	enclosing  *scope
	function   *value.ObjFunction
	kind       FunctionType
	locals     []Local
	upvalues   []Upvalue
	scopeDepth int
}

// Parser drives the scanner and owns all compile-time state: the current
// token pair, error/panic-mode bookkeeping, the scope chain, and the class
// chain. One Parser compiles exactly one top-level script, recursively
// compiling every function and method it contains as nested scopes.
type Parser struct {
	sc *scanner.Scanner
	h  *heap.Heap

	current  token.Token
	previous token.Token

	hadError  bool
	panicMode bool
	errors    []*langerr.CompileError

	cur   *scope
	class *classScope
}

// Compile compiles source into a top-level script function. On a compile
// error it still returns every diagnostic collected (clox-style: the
// parser resynchronizes at statement boundaries and keeps going so one
// typo doesn't hide the next), and a nil function.
func Compile(source string, h *heap.Heap) (*value.ObjFunction, []*langerr.CompileError) {
	p := &Parser{sc: scanner.New(source), h: h}
	p.cur = &scope{function: h.NewFunction(), kind: FuncScript}
	p.cur.locals = append(p.cur.locals, Local{Name: token.New(token.IDENT, "", 0), Depth: 0})

	h.PushRoot(func(mark func(value.Value)) { p.walkRoots(mark) })
	defer h.PopRoot()

	p.advance()
	for !p.match(token.EOF) {
		p.declaration()
	}

	fn := p.endScope()
	if p.hadError {
		return nil, p.errors
	}
	return fn, nil
}

// walkRoots marks every function and constant still reachable through the
// chain of in-progress scopes, so a collection triggered mid-compile (by
// an ObjString intern or a new ObjFunction) never sweeps a function this
// Parser is still filling in.
func (p *Parser) walkRoots(mark func(value.Value)) {
	for s := p.cur; s != nil; s = s.enclosing {
		mark(value.FromObj(s.function))
		for _, c := range s.function.Chunk.Constants {
			mark(c)
		}
	}
}

// ---- token stream -------------------------------------------------------

func (p *Parser) advance() {
	p.previous = p.current
	for {
		p.current = p.sc.NextToken()
		if p.current.Type != token.ILLEGAL {
			break
		}
		p.errorAtCurrent(p.current.Lexeme)
	}
}

func (p *Parser) check(t token.Type) bool { return p.current.Type == t }

func (p *Parser) match(t token.Type) bool {
	if !p.check(t) {
		return false
	}
	p.advance()
	return true
}

func (p *Parser) consume(t token.Type, message string) {
	if p.current.Type == t {
		p.advance()
		return
	}
	p.errorAtCurrent(message)
}

// ---- declarations & statements -------------------------------------------

func (p *Parser) declaration() {
	switch {
	case p.match(token.CLASS):
		p.classDeclaration()
	case p.match(token.FUN):
		p.funDeclaration()
	case p.match(token.VAR):
		p.varDeclaration()
	default:
		p.statement()
	}
	if p.panicMode {
		p.synchronize()
	}
}

func (p *Parser) statement() {
	switch {
	case p.match(token.PRINT):
		p.printStatement()
	case p.match(token.IF):
		p.ifStatement()
	case p.match(token.WHILE):
		p.whileStatement()
	case p.match(token.FOR):
		p.forStatement()
	case p.match(token.RETURN):
		p.returnStatement()
	case p.match(token.LEFT_BRACE):
		p.beginScope()
		p.block()
		p.endLexicalScope()
	default:
		p.expressionStatement()
	}
}

func (p *Parser) printStatement() {
	p.expression()
	p.consume(token.SEMICOLON, "Expect ';' after value.")
	p.emit(byte(bytecode.OpPrint))
}

func (p *Parser) expressionStatement() {
	p.expression()
	p.consume(token.SEMICOLON, "Expect ';' after expression.")
	p.emit(byte(bytecode.OpPop))
}

func (p *Parser) block() {
	for !p.check(token.RIGHT_BRACE) && !p.check(token.EOF) {
		p.declaration()
	}
	p.consume(token.RIGHT_BRACE, "Expect '}' after block.")
}

func (p *Parser) ifStatement() {
	p.consume(token.LEFT_PAREN, "Expect '(' after 'if'.")
	p.expression()
	p.consume(token.RIGHT_PAREN, "Expect ')' after condition.")

	thenJump := p.emitJump(bytecode.OpJumpIfFalse)
	p.emit(byte(bytecode.OpPop))
	p.statement()

	elseJump := p.emitJump(bytecode.OpJump)
	p.patchJump(thenJump)
	p.emit(byte(bytecode.OpPop))

	if p.match(token.ELSE) {
		p.statement()
	}
	p.patchJump(elseJump)
}

func (p *Parser) whileStatement() {
	loopStart := p.cur.function.Chunk.Count()
	p.consume(token.LEFT_PAREN, "Expect '(' after 'while'.")
	p.expression()
	p.consume(token.RIGHT_PAREN, "Expect ')' after condition.")

	exitJump := p.emitJump(bytecode.OpJumpIfFalse)
	p.emit(byte(bytecode.OpPop))
	p.statement()
	p.emitLoop(loopStart)

	p.patchJump(exitJump)
	p.emit(byte(bytecode.OpPop))
}

func (p *Parser) forStatement() {
	p.beginScope()
	p.consume(token.LEFT_PAREN, "Expect '(' after 'for'.")

	switch {
	case p.match(token.SEMICOLON):
		// no initializer
	case p.match(token.VAR):
		p.varDeclaration()
	default:
		p.expressionStatement()
	}

	loopStart := p.cur.function.Chunk.Count()
	exitJump := -1
	if !p.match(token.SEMICOLON) {
		p.expression()
		p.consume(token.SEMICOLON, "Expect ';' after loop condition.")
		exitJump = p.emitJump(bytecode.OpJumpIfFalse)
		p.emit(byte(bytecode.OpPop))
	}

	if !p.match(token.RIGHT_PAREN) {
		bodyJump := p.emitJump(bytecode.OpJump)
		incrementStart := p.cur.function.Chunk.Count()
		p.expression()
		p.emit(byte(bytecode.OpPop))
		p.consume(token.RIGHT_PAREN, "Expect ')' after for clauses.")

		p.emitLoop(loopStart)
		loopStart = incrementStart
		p.patchJump(bodyJump)
	}

	p.statement()
	p.emitLoop(loopStart)

	if exitJump != -1 {
		p.patchJump(exitJump)
		p.emit(byte(bytecode.OpPop))
	}

	p.endLexicalScope()
}

func (p *Parser) returnStatement() {
	if p.cur.kind == FuncScript {
		p.error("Can't return from top-level code.")
	}
	if p.match(token.SEMICOLON) {
		p.emitReturn()
		return
	}
	if p.cur.kind == FuncInitializer {
		p.error("Can't return a value from an initializer.")
	}
	p.expression()
	p.consume(token.SEMICOLON, "Expect ';' after return value.")
	p.emit(byte(bytecode.OpReturn))
}

func (p *Parser) varDeclaration() {
	global := p.parseVariable("Expect variable name.")

	if p.match(token.EQUAL) {
		p.expression()
	} else {
		p.emit(byte(bytecode.OpNil))
	}
	p.consume(token.SEMICOLON, "Expect ';' after variable declaration.")
	p.defineVariable(global)
}

func (p *Parser) funDeclaration() {
	global := p.parseVariable("Expect function name.")
	p.cur.markInitialized()
	p.function(FuncFunction)
	p.defineVariable(global)
}

func (p *Parser) classDeclaration() {
	p.consume(token.IDENT, "Expect class name.")
	nameTok := p.previous
	nameConst := p.identifierConstant(nameTok.Lexeme)
	p.declareLocal(nameTok)

	p.emitBytes(byte(bytecode.OpClass), nameConst)
	p.defineVariable(nameConst)

	p.class = &classScope{Enclosing: p.class}

	if p.match(token.LESS) {
		p.consume(token.IDENT, "Expect superclass name.")
		p.variable(false)
		if p.previous.Lexeme == nameTok.Lexeme {
			p.error("A class can't inherit from itself.")
		}

		p.beginScope()
		p.cur.addLocal(token.New(token.IDENT, "super", p.previous.Line))
		p.cur.markInitialized()

		p.namedVariable(nameTok, false)
		p.emit(byte(bytecode.OpInherit))
		p.class.HasSuperclass = true
	}

	p.namedVariable(nameTok, false)
	p.consume(token.LEFT_BRACE, "Expect '{' before class body.")
	for !p.check(token.RIGHT_BRACE) && !p.check(token.EOF) {
		p.method()
	}
	p.consume(token.RIGHT_BRACE, "Expect '}' after class body.")
	p.emit(byte(bytecode.OpPop))

	if p.class.HasSuperclass {
		p.endLexicalScope()
	}
	p.class = p.class.Enclosing
}

func (p *Parser) method() {
	p.consume(token.IDENT, "Expect method name.")
	nameTok := p.previous
	nameConst := p.identifierConstant(nameTok.Lexeme)

	kind := FuncMethod
	if nameTok.Lexeme == "init" {
		kind = FuncInitializer
	}
	p.function(kind)
	p.emitBytes(byte(bytecode.OpMethod), nameConst)
}

// function compiles a whole function body (parameter list plus block) as a
// new nested scope, then emits OP_CLOSURE for it in the enclosing scope
// along with the inline upvalue-capture description the VM's OP_CLOSURE
// handler reads (spec.md §4.4).
func (p *Parser) function(kind FunctionType) {
	fn := p.h.NewFunction()
	enclosing := p.cur
	p.cur = &scope{enclosing: enclosing, function: fn, kind: kind}
	if kind != FuncScript {
		fn.Name = p.h.InternString(p.previous.Lexeme)
	}

	// Slot 0 is reserved in every frame; for methods and initializers it is
	// where the receiver lives. The source-level keyword for it is spelled
	// "this", but the compiler synthesizes its slot-0 binding under the
	// internal name "ego" (spec.md §6) — "this" token parses by looking
	// that name up, not its own lexeme.
	receiverName := ""
	if kind == FuncMethod || kind == FuncInitializer {
		receiverName = "ego"
	}
	p.cur.locals = append(p.cur.locals, Local{Name: token.New(token.IDENT, receiverName, 0), Depth: 0})

	p.beginScope()
	p.consume(token.LEFT_PAREN, "Expect '(' after function name.")
	if !p.check(token.RIGHT_PAREN) {
		for {
			fn.Arity++
			if fn.Arity > 255 {
				p.errorAtCurrent("Can't have more than 255 parameters.")
			}
			constIdx := p.parseVariable("Expect parameter name.")
			p.defineVariable(constIdx)
			if !p.match(token.COMMA) {
				break
			}
		}
	}
	p.consume(token.RIGHT_PAREN, "Expect ')' after parameters.")
	p.consume(token.LEFT_BRACE, "Expect '{' before function body.")
	p.block()

	compiled := p.endScope()
	funcScope := p.cur
	p.cur = enclosing

	idx := p.addConstant(value.FromObj(compiled))
	p.emitBytes(byte(bytecode.OpClosure), idx)

	// OP_CLOSURE is followed by one (isLocal, index) byte pair per upvalue
	// the function captures, which is how the VM knows whether to capture
	// a slot in the currently-running frame or reuse an upvalue already
	// threaded through the enclosing closure (spec.md §4.4).
	for _, uv := range funcScope.upvalues {
		isLocal := byte(0)
		if uv.IsLocal {
			isLocal = 1
		}
		p.emit(isLocal)
		p.emit(uv.Index)
	}
}

// ---- scope bookkeeping ----------------------------------------------------

func (p *Parser) beginScope() { p.cur.scopeDepth++ }

// endLexicalScope closes a `{ }` block: it pops every local the block
// declared, closing any that escaped as an upvalue instead of a plain pop.
func (p *Parser) endLexicalScope() {
	p.cur.scopeDepth--
	s := p.cur
	for len(s.locals) > 0 && s.locals[len(s.locals)-1].Depth > s.scopeDepth {
		if s.locals[len(s.locals)-1].IsCaptured {
			p.emit(byte(bytecode.OpCloseUpvalue))
		} else {
			p.emit(byte(bytecode.OpPop))
		}
		s.locals = s.locals[:len(s.locals)-1]
	}
}

// endScope finishes compiling the current function (top-level script or
// not), emitting the implicit final return every function gets for free.
func (p *Parser) endScope() *value.ObjFunction {
	p.emitReturn()
	return p.cur.function
}

func (p *Parser) declareLocal(name token.Token) {
	if p.cur.scopeDepth == 0 {
		return
	}
	for i := len(p.cur.locals) - 1; i >= 0; i-- {
		if p.cur.locals[i].Depth != -1 && p.cur.locals[i].Depth < p.cur.scopeDepth {
			break
		}
		if p.cur.locals[i].Name.Lexeme == name.Lexeme {
			p.error("Already a variable with this name in this scope.")
		}
	}
	if !p.cur.addLocal(name) {
		p.error("Too many local variables in function.")
	}
}

func (p *Parser) parseVariable(message string) byte {
	p.consume(token.IDENT, message)
	nameTok := p.previous
	p.declareLocal(nameTok)
	if p.cur.scopeDepth > 0 {
		return 0
	}
	return p.identifierConstant(nameTok.Lexeme)
}

func (p *Parser) defineVariable(global byte) {
	if p.cur.scopeDepth > 0 {
		p.cur.markInitialized()
		return
	}
	p.emitBytes(byte(bytecode.OpDefineGlobal), global)
}

func (p *Parser) identifierConstant(name string) byte {
	return p.addConstant(value.FromObj(p.h.InternString(name)))
}

// ---- emit helpers ----------------------------------------------------------

func (p *Parser) emit(b byte) { p.cur.function.Chunk.Write(b, p.previous.Line) }

func (p *Parser) emitBytes(a, b byte) {
	p.emit(a)
	p.emit(b)
}

func (p *Parser) addConstant(v value.Value) byte {
	idx, err := p.cur.function.Chunk.AddConstant(v)
	if err != nil {
		p.error(err.Error())
		return 0
	}
	return byte(idx)
}

func (p *Parser) emitJump(op bytecode.Op) int {
	p.emit(byte(op))
	p.emit(0xff)
	p.emit(0xff)
	return p.cur.function.Chunk.Count() - 2
}

func (p *Parser) patchJump(offset int) {
	jump := p.cur.function.Chunk.Count() - offset - 2
	if jump > 0xffff {
		p.error("Too much code to jump over.")
	}
	chunk := p.cur.function.Chunk
	chunk.Code[offset] = byte((jump >> 8) & 0xff)
	chunk.Code[offset+1] = byte(jump & 0xff)
}

func (p *Parser) emitLoop(loopStart int) {
	p.emit(byte(bytecode.OpLoop))
	offset := p.cur.function.Chunk.Count() - loopStart + 2
	if offset > 0xffff {
		p.error("Loop body too large.")
	}
	p.emit(byte((offset >> 8) & 0xff))
	p.emit(byte(offset & 0xff))
}

func (p *Parser) emitReturn() {
	if p.cur.kind == FuncInitializer {
		p.emitBytes(byte(bytecode.OpGetLocal), 0)
	} else {
		p.emit(byte(bytecode.OpNil))
	}
	p.emit(byte(bytecode.OpReturn))
}

// ---- error reporting --------------------------------------------------------

func (p *Parser) errorAtCurrent(message string) { p.errorAt(p.current, message) }
func (p *Parser) error(message string)          { p.errorAt(p.previous, message) }

func (p *Parser) errorAt(tok token.Token, message string) {
	if p.panicMode {
		return
	}
	p.panicMode = true
	p.hadError = true

	where := fmt.Sprintf("at '%s'", tok.Lexeme)
	if tok.Type == token.EOF {
		where = "at end"
	} else if tok.Type == token.ILLEGAL {
		where = "at error"
	}
	p.errors = append(p.errors, &langerr.CompileError{Line: tok.Line, Where: where, Message: message})
}

func (p *Parser) synchronize() {
	p.panicMode = false
	for p.current.Type != token.EOF {
		if p.previous.Type == token.SEMICOLON {
			return
		}
		switch p.current.Type {
		case token.CLASS, token.FUN, token.VAR, token.FOR, token.IF, token.WHILE, token.PRINT, token.RETURN:
			return
		}
		p.advance()
	}
}
