// Package parser is a recursive-descent parser producing the ast package's
// node model. It is a boundary component in the spec's terms: the IR
// builder treats it as an opaque producer of the AST data model and never
// inspects tokens directly.
package parser

import (
	"fmt"
	"strconv"

	"sentra/internal/ast"
	serrors "sentra/internal/errors"
	"sentra/internal/lexer"
)

type Parser struct {
	tokens []lexer.Token
	pos    int
	file   string
	errs   []error
}

func New(tokens []lexer.Token, file string) *Parser {
	return &Parser{tokens: tokens, file: file}
}

// Parse parses a whole compilation unit as a single expression (a top-level
// sequence if more than one expression is separated by ';').
func Parse(tokens []lexer.Token, file string) (*ast.Node, []error) {
	p := New(tokens, file)
	expr := p.parseSequence()
	if !p.isAtEnd() {
		p.errorf("unexpected token %s", p.peek().Type)
	}
	return expr, p.errs
}

// ParseModule parses a whole source file as a module body: a flat sequence
// of top-level `pub? let[rec] ...` bindings (no trailing 'in' — the rest of
// the file is the implicit body) followed by an optional tail expression.
// Bindings marked `pub` are collected by identifier-pattern name and
// returned alongside the desugared node, which ends in a MakeRecord of those
// names when any exist. A module with no pub bindings desugars to plain
// nested lets around the tail expression, identical to what Parse would
// produce for the same bindings written with explicit 'in'.
func ParseModule(tokens []lexer.Token, file string) (*ast.Node, []string, []error) {
	p := New(tokens, file)

	type topBinding struct {
		loc      ast.Loc
		isRec    bool
		isPub    bool
		bindings []ast.Binding
	}
	var tops []topBinding
	for p.check(lexer.TokenLet) || p.check(lexer.TokenPub) {
		loc := p.loc()
		isPub := p.match(lexer.TokenPub)
		p.expect(lexer.TokenLet, "expected 'let' at top level")
		isRec := p.match(lexer.TokenRec)
		bindings := p.parseBindings()
		p.match(lexer.TokenSemicolon)
		tops = append(tops, topBinding{loc: loc, isRec: isRec, isPub: isPub, bindings: bindings})
	}

	var tail *ast.Node
	if p.isAtEnd() {
		tail = ast.Const(p.loc(), nil)
	} else {
		tail = p.parseSequence()
	}
	if !p.isAtEnd() {
		p.errorf("unexpected token %s", p.peek().Type)
	}

	var pubNames []string
	for _, t := range tops {
		if !t.isPub {
			continue
		}
		for _, bd := range t.bindings {
			if bd.Pattern.Kind == ast.PIdent {
				pubNames = append(pubNames, bd.Pattern.Name)
			}
		}
	}

	body := tail
	if len(pubNames) > 0 {
		vals := make([]*ast.Node, len(pubNames))
		for i, n := range pubNames {
			vals[i] = ast.Ident(tail.Loc, n)
		}
		body = ast.Seq(tail.Loc, []*ast.Node{tail, ast.MakeRecord(tail.Loc, pubNames, vals)})
	}
	for i := len(tops) - 1; i >= 0; i-- {
		t := tops[i]
		if t.isRec {
			body = ast.LetRec(t.loc, t.bindings, body)
		} else {
			body = ast.Let(t.loc, t.bindings, body)
		}
	}
	return body, pubNames, p.errs
}

func (p *Parser) loc() ast.Loc {
	t := p.peek()
	return ast.Loc{File: p.file, Line: t.Line, Column: t.Column}
}

func (p *Parser) peek() lexer.Token  { return p.tokens[p.pos] }
func (p *Parser) previous() lexer.Token { return p.tokens[p.pos-1] }
func (p *Parser) isAtEnd() bool      { return p.peek().Type == lexer.TokenEOF }

func (p *Parser) check(t lexer.TokenType) bool {
	return !p.isAtEnd() && p.peek().Type == t
}

func (p *Parser) advance() lexer.Token {
	if !p.isAtEnd() {
		p.pos++
	}
	return p.previous()
}

func (p *Parser) match(types ...lexer.TokenType) bool {
	for _, t := range types {
		if p.check(t) {
			p.advance()
			return true
		}
	}
	return false
}

func (p *Parser) expect(t lexer.TokenType, msg string) lexer.Token {
	if p.check(t) {
		return p.advance()
	}
	p.errorf("%s (got %s %q)", msg, p.peek().Type, p.peek().Lexeme)
	return p.peek()
}

func (p *Parser) errorf(format string, args ...interface{}) {
	loc := p.loc()
	msg := fmt.Sprintf(format, args...)
	p.errs = append(p.errs, serrors.NewSyntaxError(msg, loc.File, loc.Line, loc.Column))
}

// parseSequence parses `expr (';' expr)*` and collapses a single statement
// to a bare node rather than a KSeq wrapper.
func (p *Parser) parseSequence() *ast.Node {
	loc := p.loc()
	first := p.parseExpr()
	if !p.check(lexer.TokenSemicolon) {
		return first
	}
	stmts := []*ast.Node{first}
	for p.match(lexer.TokenSemicolon) {
		if p.isAtEnd() || p.check(lexer.TokenRBrace) || p.check(lexer.TokenIn) {
			break
		}
		stmts = append(stmts, p.parseExpr())
	}
	return ast.Seq(loc, stmts)
}

func (p *Parser) parseExpr() *ast.Node {
	switch {
	case p.check(lexer.TokenLet):
		return p.parseLet()
	case p.check(lexer.TokenIf):
		return p.parseIf()
	case p.check(lexer.TokenFn):
		return p.parseFn()
	case p.check(lexer.TokenMatch):
		return p.parseMatch()
	case p.check(lexer.TokenTry):
		return p.parseTry()
	case p.check(lexer.TokenAssert):
		loc := p.loc()
		p.advance()
		return ast.Assert(loc, p.parseExpr())
	case p.check(lexer.TokenEvmac):
		loc := p.loc()
		p.advance()
		return ast.EvalAtCompileTime(loc, p.parseExpr())
	case p.check(lexer.TokenReturn):
		loc := p.loc()
		p.advance()
		return ast.Return(loc, p.parseExpr())
	case p.check(lexer.TokenClass):
		return p.parseClass()
	}
	return p.parseAssign()
}

func (p *Parser) parseAssign() *ast.Node {
	expr := p.parseOr()
	if p.check(lexer.TokenEqual) {
		if id, ok := identName(expr); ok {
			loc := p.loc()
			p.advance()
			return ast.Assign(loc, id, p.parseExpr())
		}
	}
	return expr
}

func identName(n *ast.Node) (string, bool) {
	if n != nil && n.Kind == ast.KIdent {
		return n.Name, true
	}
	return "", false
}

func (p *Parser) parseLet() *ast.Node {
	loc := p.loc()
	p.advance() // let
	isRec := p.match(lexer.TokenRec)
	bindings := p.parseBindings()
	p.expect(lexer.TokenIn, "expected 'in' after let bindings")
	body := p.parseExpr()
	if isRec {
		return ast.LetRec(loc, bindings, body)
	}
	return ast.Let(loc, bindings, body)
}

func (p *Parser) parseBindings() []ast.Binding {
	var bindings []ast.Binding
	bindings = append(bindings, p.parseBinding())
	for p.match(lexer.TokenAnd) {
		bindings = append(bindings, p.parseBinding())
	}
	return bindings
}

// parseBinding handles both `pat = expr` and the function-definition sugar
// `name p1 p2 = expr`, which desugars to `name = fn p1 p2 -> expr`.
func (p *Parser) parseBinding() ast.Binding {
	loc := p.loc()
	if p.check(lexer.TokenIdent) && p.peek().Lexeme != "mut" && p.tokens[p.pos+1].Type == lexer.TokenIdent {
		name := p.advance().Lexeme
		var params []string
		for p.check(lexer.TokenIdent) {
			params = append(params, p.advance().Lexeme)
		}
		p.expect(lexer.TokenEqual, "expected '=' in binding")
		value := p.parseExpr()
		if len(params) > 0 {
			value = ast.Fn(loc, params, value)
		}
		return ast.Binding{Pattern: ast.IdentPattern(loc, name, nil), Value: value}
	}
	pat := p.parsePattern()
	p.expect(lexer.TokenEqual, "expected '=' in binding")
	value := p.parseExpr()
	return ast.Binding{Pattern: pat, Value: value}
}

func (p *Parser) parseIf() *ast.Node {
	loc := p.loc()
	p.advance()
	cond := p.parseExpr()
	p.expect(lexer.TokenThen, "expected 'then'")
	then := p.parseExpr()
	var els *ast.Node
	if p.match(lexer.TokenElse) {
		els = p.parseExpr()
	}
	return ast.If(loc, cond, then, els)
}

func (p *Parser) parseFn() *ast.Node {
	loc := p.loc()
	p.advance()
	var params []string
	for p.check(lexer.TokenIdent) {
		params = append(params, p.advance().Lexeme)
	}
	p.expect(lexer.TokenArrow, "expected '->' after fn parameters")
	body := p.parseExpr()
	return ast.Fn(loc, params, body)
}

func (p *Parser) parseMatch() *ast.Node {
	loc := p.loc()
	p.advance()
	scrut := p.parseExpr()
	p.expect(lexer.TokenWith, "expected 'with' after match scrutinee")
	var cases []ast.Case
	for p.match(lexer.TokenBar) {
		pat := p.parsePattern()
		var guard *ast.Node
		if p.match(lexer.TokenIf) {
			guard = p.parseExpr()
		}
		p.expect(lexer.TokenArrow, "expected '->' after pattern")
		body := p.parseExpr()
		cases = append(cases, ast.Case{Patterns: []*ast.Pattern{pat}, Guard: guard, Body: body})
	}
	return ast.Match(loc, scrut, cases)
}

func (p *Parser) parseTry() *ast.Node {
	loc := p.loc()
	p.advance()
	body := p.parseExpr()
	p.expect(lexer.TokenCatch, "expected 'catch' after try body")
	var cases []ast.Case
	p.match(lexer.TokenBar)
	for {
		pat := p.parsePattern()
		p.expect(lexer.TokenArrow, "expected '->' after catch pattern")
		caseBody := p.parseExpr()
		cases = append(cases, ast.Case{Patterns: []*ast.Pattern{pat}, Body: caseBody})
		if !p.match(lexer.TokenBar) {
			break
		}
	}
	return ast.Try(loc, body, cases)
}

func (p *Parser) parseClass() *ast.Node {
	loc := p.loc()
	p.advance()
	name := p.expect(lexer.TokenIdent, "expected class name").Lexeme
	p.expect(lexer.TokenLBrace, "expected '{' after class name")
	var fields []string
	var methods []ast.Binding
	for !p.check(lexer.TokenRBrace) && !p.isAtEnd() {
		if p.check(lexer.TokenFn) {
			mloc := p.loc()
			p.advance()
			mname := p.expect(lexer.TokenIdent, "expected method name").Lexeme
			var params []string
			p.expect(lexer.TokenLParen, "expected '(' in method params")
			for !p.check(lexer.TokenRParen) {
				params = append(params, p.expect(lexer.TokenIdent, "expected parameter name").Lexeme)
				if !p.match(lexer.TokenComma) {
					break
				}
			}
			p.expect(lexer.TokenRParen, "expected ')'")
			p.expect(lexer.TokenFatArrow, "expected '=>'")
			body := p.parseExpr()
			methods = append(methods, ast.Binding{
				Pattern: ast.IdentPattern(mloc, mname, nil),
				Value:   ast.Fn(mloc, params, body),
			})
		} else {
			fields = append(fields, p.expect(lexer.TokenIdent, "expected field name").Lexeme)
		}
		p.match(lexer.TokenComma)
		p.match(lexer.TokenSemicolon)
	}
	p.expect(lexer.TokenRBrace, "expected '}' to close class")
	return ast.Class(loc, name, fields, methods)
}

func (p *Parser) parseOr() *ast.Node {
	left := p.parseAnd()
	for p.check(lexer.TokenOr) {
		loc := p.loc()
		p.advance()
		left = ast.Or(loc, left, p.parseAnd())
	}
	return left
}

func (p *Parser) parseAnd() *ast.Node {
	left := p.parseEquality()
	for p.check(lexer.TokenAnd) {
		loc := p.loc()
		p.advance()
		left = ast.And(loc, left, p.parseEquality())
	}
	return left
}

func (p *Parser) parseEquality() *ast.Node {
	left := p.parseComparison()
	for p.check(lexer.TokenDoubleEq) || p.check(lexer.TokenNotEq) {
		loc := p.loc()
		op := p.advance().Lexeme
		left = ast.Binop(loc, op, left, p.parseComparison())
	}
	return left
}

func (p *Parser) parseComparison() *ast.Node {
	left := p.parsePipe()
	for p.check(lexer.TokenLT) || p.check(lexer.TokenGT) || p.check(lexer.TokenLE) || p.check(lexer.TokenGE) {
		loc := p.loc()
		op := p.advance().Lexeme
		left = ast.Binop(loc, op, left, p.parsePipe())
	}
	return left
}

func (p *Parser) parsePipe() *ast.Node {
	left := p.parseAdditive()
	for p.check(lexer.TokenPipe) {
		loc := p.loc()
		p.advance()
		rhs := p.parseAdditive()
		left = ast.Apply(loc, rhs, []*ast.Node{left})
	}
	return left
}

func (p *Parser) parseAdditive() *ast.Node {
	left := p.parseMultiplicative()
	for p.check(lexer.TokenPlus) || p.check(lexer.TokenMinus) {
		loc := p.loc()
		op := p.advance().Lexeme
		left = ast.Binop(loc, op, left, p.parseMultiplicative())
	}
	return left
}

func (p *Parser) parseMultiplicative() *ast.Node {
	left := p.parseUnary()
	for p.check(lexer.TokenStar) || p.check(lexer.TokenSlash) || p.check(lexer.TokenPercent) {
		loc := p.loc()
		op := p.advance().Lexeme
		left = ast.Binop(loc, op, left, p.parseUnary())
	}
	return left
}

func (p *Parser) parseUnary() *ast.Node {
	if p.check(lexer.TokenMinus) || p.check(lexer.TokenNot) || p.check(lexer.TokenBang) {
		loc := p.loc()
		op := p.advance().Lexeme
		return ast.Unop(loc, op, p.parseUnary())
	}
	return p.parsePostfix()
}

func (p *Parser) parsePostfix() *ast.Node {
	expr := p.parsePrimary()
	for {
		switch {
		case p.check(lexer.TokenDot):
			loc := p.loc()
			p.advance()
			field := p.expect(lexer.TokenIdent, "expected field name after '.'").Lexeme
			expr = ast.FieldAccess(loc, expr, field)
		case p.check(lexer.TokenLParen):
			loc := p.loc()
			p.advance()
			var args []*ast.Node
			for !p.check(lexer.TokenRParen) {
				args = append(args, p.parseExpr())
				if !p.match(lexer.TokenComma) {
					break
				}
			}
			p.expect(lexer.TokenRParen, "expected ')' after call arguments")
			expr = ast.Apply(loc, expr, args)
		case p.check(lexer.TokenWith):
			loc := p.loc()
			p.advance()
			p.expect(lexer.TokenLBrace, "expected '{' after 'with'")
			names, values := p.parseFieldAssignments()
			p.expect(lexer.TokenRBrace, "expected '}' to close record update")
			expr = ast.RecordUpdate(loc, expr, names, values)
		default:
			return expr
		}
	}
}

func (p *Parser) parseFieldAssignments() ([]string, []*ast.Node) {
	var names []string
	var values []*ast.Node
	for !p.check(lexer.TokenRBrace) {
		name := p.expect(lexer.TokenIdent, "expected field name").Lexeme
		p.expect(lexer.TokenEqual, "expected '=' after field name")
		value := p.parseExpr()
		names = append(names, name)
		values = append(values, value)
		if !p.match(lexer.TokenComma) {
			break
		}
	}
	return names, values
}

func (p *Parser) parsePrimary() *ast.Node {
	loc := p.loc()
	switch {
	case p.check(lexer.TokenNumber):
		lit := p.advance().Lexeme
		n, _ := strconv.ParseFloat(lit, 64)
		return ast.Const(loc, n)
	case p.check(lexer.TokenString):
		return ast.Const(loc, p.advance().Lexeme)
	case p.check(lexer.TokenSymbol):
		return ast.Const(loc, ast.Symbol(p.advance().Lexeme))
	case p.check(lexer.TokenTrue):
		p.advance()
		return ast.Const(loc, true)
	case p.check(lexer.TokenFalse):
		p.advance()
		return ast.Const(loc, false)
	case p.check(lexer.TokenNil):
		p.advance()
		return ast.Const(loc, nil)
	case p.check(lexer.TokenDefined):
		p.advance()
		name := p.expect(lexer.TokenIdent, "expected identifier after 'defined?'").Lexeme
		return ast.DefinedP(loc, name)
	case p.check(lexer.TokenIdent):
		return ast.Ident(loc, p.advance().Lexeme)
	case p.check(lexer.TokenLParen):
		p.advance()
		if p.check(lexer.TokenRParen) {
			p.advance()
			return ast.Const(loc, nil)
		}
		expr := p.parseSequence()
		p.expect(lexer.TokenRParen, "expected ')'")
		return expr
	case p.check(lexer.TokenLBrace):
		return p.parseRecordLiteral()
	case p.check(lexer.TokenLBracket):
		return p.parseListLiteral()
	}
	p.errorf("unexpected token %s in expression", p.peek().Type)
	p.advance()
	return ast.Const(loc, nil)
}

func (p *Parser) parseRecordLiteral() *ast.Node {
	loc := p.loc()
	p.advance() // {
	names, values := p.parseFieldAssignments()
	p.expect(lexer.TokenRBrace, "expected '}' to close record literal")
	return ast.MakeRecord(loc, names, values)
}

// parseListLiteral desugars `[a, b, c]` into nested cons applications over
// the `cons`/`nil` primitives, matching the pair-based list representation
// of the value model.
func (p *Parser) parseListLiteral() *ast.Node {
	loc := p.loc()
	p.advance() // [
	var elems []*ast.Node
	for !p.check(lexer.TokenRBracket) {
		elems = append(elems, p.parseExpr())
		if !p.match(lexer.TokenComma) {
			break
		}
	}
	p.expect(lexer.TokenRBracket, "expected ']' to close list literal")
	list := ast.Const(loc, nil)
	for i := len(elems) - 1; i >= 0; i-- {
		list = ast.Apply(loc, ast.Ident(loc, "cons"), []*ast.Node{elems[i], list})
	}
	return list
}
