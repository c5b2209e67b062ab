package compiler

import (
	"strconv"

	"github.com/ambiguoustexture/lox/internal/bytecode"
	"github.com/ambiguoustexture/lox/internal/token"
	"github.com/ambiguoustexture/lox/internal/value"
)

// Precedence orders binding strength from loosest to tightest, per
// spec.md §4.3's precedence ladder.
type Precedence int

const (
	PrecNone       Precedence = iota
	PrecAssignment            // =
	PrecOr                    // or
	PrecAnd                   // and
	PrecEquality              // == !=
	PrecComparison            // < > <= >=
	PrecTerm                  // + -
	PrecFactor                // * /
	PrecUnary                 // ! -
	PrecCall                  // . () argument list
	PrecPrimary
)

type parseFn func(p *Parser, canAssign bool)

type rule struct {
	prefix     parseFn
	infix      parseFn
	precedence Precedence
}

var rules map[token.Type]rule

func init() {
	rules = map[token.Type]rule{
		token.LEFT_PAREN:    {prefix: (*Parser).grouping, infix: (*Parser).call, precedence: PrecCall},
		token.DOT:           {infix: (*Parser).dot, precedence: PrecCall},
		token.MINUS:         {prefix: (*Parser).unary, infix: (*Parser).binary, precedence: PrecTerm},
		token.PLUS:          {infix: (*Parser).binary, precedence: PrecTerm},
		token.SLASH:         {infix: (*Parser).binary, precedence: PrecFactor},
		token.STAR:          {infix: (*Parser).binary, precedence: PrecFactor},
		token.BANG:          {prefix: (*Parser).unary},
		token.BANG_EQUAL:    {infix: (*Parser).binary, precedence: PrecEquality},
		token.EQUAL_EQUAL:   {infix: (*Parser).binary, precedence: PrecEquality},
		token.GREATER:       {infix: (*Parser).binary, precedence: PrecComparison},
		token.GREATER_EQUAL: {infix: (*Parser).binary, precedence: PrecComparison},
		token.LESS:          {infix: (*Parser).binary, precedence: PrecComparison},
		token.LESS_EQUAL:    {infix: (*Parser).binary, precedence: PrecComparison},
		token.IDENT:         {prefix: (*Parser).variableExpr},
		token.STRING:        {prefix: (*Parser).string},
		token.NUMBER:        {prefix: (*Parser).number},
		token.AND:           {infix: (*Parser).and},
		token.OR:            {infix: (*Parser).or},
		token.FALSE:         {prefix: (*Parser).literal},
		token.NIL:           {prefix: (*Parser).literal},
		token.TRUE:          {prefix: (*Parser).literal},
		token.THIS:          {prefix: (*Parser).this},
		token.SUPER:         {prefix: (*Parser).super},
	}
}

func getRule(t token.Type) rule { return rules[t] }

func (p *Parser) expression() { p.parsePrecedence(PrecAssignment) }

// parsePrecedence is the Pratt loop: one prefix handler, then infix
// handlers for as long as the next token binds at least as tightly as
// prec (spec.md §4.3).
func (p *Parser) parsePrecedence(prec Precedence) {
	p.advance()
	prefixRule := getRule(p.previous.Type).prefix
	if prefixRule == nil {
		p.error("Expect expression.")
		return
	}

	canAssign := prec <= PrecAssignment
	prefixRule(p, canAssign)

	for prec <= getRule(p.current.Type).precedence {
		p.advance()
		infixRule := getRule(p.previous.Type).infix
		infixRule(p, canAssign)
	}

	if canAssign && p.match(token.EQUAL) {
		p.error("Invalid assignment target.")
	}
}

func (p *Parser) number(canAssign bool) {
	n, _ := strconv.ParseFloat(p.previous.Lexeme, 64)
	p.emitConstant(value.Number(n))
}

func (p *Parser) string(canAssign bool) {
	str := p.h.InternString(p.previous.Lexeme)
	p.emitConstant(value.FromObj(str))
}

func (p *Parser) literal(canAssign bool) {
	switch p.previous.Type {
	case token.FALSE:
		p.emit(byte(bytecode.OpFalse))
	case token.NIL:
		p.emit(byte(bytecode.OpNil))
	case token.TRUE:
		p.emit(byte(bytecode.OpTrue))
	}
}

func (p *Parser) grouping(canAssign bool) {
	p.expression()
	p.consume(token.RIGHT_PAREN, "Expect ')' after expression.")
}

func (p *Parser) unary(canAssign bool) {
	opType := p.previous.Type
	p.parsePrecedence(PrecUnary)
	switch opType {
	case token.BANG:
		p.emit(byte(bytecode.OpNot))
	case token.MINUS:
		p.emit(byte(bytecode.OpNegate))
	}
}

func (p *Parser) binary(canAssign bool) {
	opType := p.previous.Type
	r := getRule(opType)
	p.parsePrecedence(r.precedence + 1)

	switch opType {
	case token.BANG_EQUAL:
		p.emit(byte(bytecode.OpEqual))
		p.emit(byte(bytecode.OpNot))
	case token.EQUAL_EQUAL:
		p.emit(byte(bytecode.OpEqual))
	case token.GREATER:
		p.emit(byte(bytecode.OpGreater))
	case token.GREATER_EQUAL:
		p.emit(byte(bytecode.OpLess))
		p.emit(byte(bytecode.OpNot))
	case token.LESS:
		p.emit(byte(bytecode.OpLess))
	case token.LESS_EQUAL:
		p.emit(byte(bytecode.OpGreater))
		p.emit(byte(bytecode.OpNot))
	case token.PLUS:
		p.emit(byte(bytecode.OpAdd))
	case token.MINUS:
		p.emit(byte(bytecode.OpSubtract))
	case token.STAR:
		p.emit(byte(bytecode.OpMultiply))
	case token.SLASH:
		p.emit(byte(bytecode.OpDivide))
	}
}

func (p *Parser) and(canAssign bool) {
	endJump := p.emitJump(bytecode.OpJumpIfFalse)
	p.emit(byte(bytecode.OpPop))
	p.parsePrecedence(PrecAnd)
	p.patchJump(endJump)
}

func (p *Parser) or(canAssign bool) {
	elseJump := p.emitJump(bytecode.OpJumpIfFalse)
	endJump := p.emitJump(bytecode.OpJump)
	p.patchJump(elseJump)
	p.emit(byte(bytecode.OpPop))
	p.parsePrecedence(PrecOr)
	p.patchJump(endJump)
}

func (p *Parser) call(canAssign bool) {
	argCount := p.argumentList()
	p.emitBytes(byte(bytecode.OpCall), argCount)
}

func (p *Parser) argumentList() byte {
	var count int
	if !p.check(token.RIGHT_PAREN) {
		for {
			p.expression()
			if count == 255 {
				p.error("Can't have more than 255 arguments.")
			}
			count++
			if !p.match(token.COMMA) {
				break
			}
		}
	}
	p.consume(token.RIGHT_PAREN, "Expect ')' after arguments.")
	return byte(count)
}

func (p *Parser) dot(canAssign bool) {
	p.consume(token.IDENT, "Expect property name after '.'.")
	name := p.identifierConstant(p.previous.Lexeme)

	switch {
	case canAssign && p.match(token.EQUAL):
		p.expression()
		p.emitBytes(byte(bytecode.OpSetProperty), name)
	case p.match(token.LEFT_PAREN):
		argCount := p.argumentList()
		p.emitBytes(byte(bytecode.OpInvoke), name)
		p.emit(argCount)
	default:
		p.emitBytes(byte(bytecode.OpGetProperty), name)
	}
}

func (p *Parser) variableExpr(canAssign bool) { p.namedVariable(p.previous, canAssign) }
func (p *Parser) variable(canAssign bool)     { p.namedVariable(p.previous, canAssign) }

// namedVariable resolves name against the local/upvalue/global chain and
// emits either a get or, if canAssign and an '=' follows, a set (spec.md
// §4.3).
func (p *Parser) namedVariable(name token.Token, canAssign bool) {
	var getOp, setOp bytecode.Op
	slot, selfRef := p.cur.resolveLocal(name.Lexeme)
	if selfRef {
		p.error("Can't read local variable in its own initializer.")
	}
	if slot != -1 {
		getOp, setOp = bytecode.OpGetLocal, bytecode.OpSetLocal
	} else if idx, ok := p.cur.resolveUpvalue(name.Lexeme); ok {
		slot = idx
		getOp, setOp = bytecode.OpGetUpvalue, bytecode.OpSetUpvalue
	} else {
		slot = int(p.identifierConstant(name.Lexeme))
		getOp, setOp = bytecode.OpGetGlobal, bytecode.OpSetGlobal
	}

	if canAssign && p.match(token.EQUAL) {
		p.expression()
		p.emitBytes(byte(setOp), byte(slot))
	} else {
		p.emitBytes(byte(getOp), byte(slot))
	}
}

func (p *Parser) this(canAssign bool) {
	if p.class == nil {
		p.error("Can't use 'this' outside of a class.")
		return
	}
	// The receiver keyword parses as "this" but resolves against the
	// compiler-synthesized "ego" slot-0 binding (spec.md §6).
	p.namedVariable(token.New(token.IDENT, "ego", p.previous.Line), false)
}

func (p *Parser) super(canAssign bool) {
	if p.class == nil {
		p.error("Can't use 'super' outside of a class.")
	} else if !p.class.HasSuperclass {
		p.error("Can't use 'super' in a class with no superclass.")
	}

	p.consume(token.DOT, "Expect '.' after 'super'.")
	p.consume(token.IDENT, "Expect superclass method name.")
	name := p.identifierConstant(p.previous.Lexeme)

	p.namedVariable(token.New(token.IDENT, "ego", p.previous.Line), false)
	if p.match(token.LEFT_PAREN) {
		argCount := p.argumentList()
		p.namedVariable(token.New(token.IDENT, "super", p.previous.Line), false)
		p.emitBytes(byte(bytecode.OpSuperInvoke), name)
		p.emit(argCount)
	} else {
		p.namedVariable(token.New(token.IDENT, "super", p.previous.Line), false)
		p.emitBytes(byte(bytecode.OpGetSuper), name)
	}
}

func (p *Parser) emitConstant(v value.Value) {
	p.emitBytes(byte(bytecode.OpConstant), p.addConstant(v))
}
