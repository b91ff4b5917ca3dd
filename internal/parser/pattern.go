package parser

import (
	"strconv"

	"sentra/internal/ast"
	"sentra/internal/lexer"
)

// parsePattern parses the pattern grammar used by let, match and try:
//
//	_                          wildcard
//	mut? ident                 identifier (binds, optionally mutable)
//	Number | String | true | false | nil | `sym   constant
//	Ident(field: pat, ...) [as alias]     unpack-by-type
//	{*}                        record-star (only valid against a constexpr record)
//	{field: pat, ...} [as alias]          record
func (p *Parser) parsePattern() *ast.Pattern {
	loc := p.loc()
	switch {
	case p.check(lexer.TokenIdent) && p.peek().Lexeme == "_":
		p.advance()
		return ast.Wildcard(loc)
	case p.check(lexer.TokenIdent) && p.peek().Lexeme == "mut":
		p.advance()
		name := p.expect(lexer.TokenIdent, "expected identifier after 'mut'").Lexeme
		return ast.IdentPattern(loc, name, ast.NewAttribute(ast.AttrMut, "", loc))
	case p.check(lexer.TokenNumber):
		lit := p.advance().Lexeme
		n, _ := strconv.ParseFloat(lit, 64)
		return ast.ConstPattern(loc, n)
	case p.check(lexer.TokenString):
		return ast.ConstPattern(loc, p.advance().Lexeme)
	case p.check(lexer.TokenSymbol):
		return ast.ConstPattern(loc, ast.Symbol(p.advance().Lexeme))
	case p.check(lexer.TokenTrue):
		p.advance()
		return ast.ConstPattern(loc, true)
	case p.check(lexer.TokenFalse):
		p.advance()
		return ast.ConstPattern(loc, false)
	case p.check(lexer.TokenNil):
		p.advance()
		return ast.ConstPattern(loc, nil)
	case p.check(lexer.TokenLBrace):
		return p.parseRecordPattern()
	case p.check(lexer.TokenIdent):
		name := p.advance().Lexeme
		if p.check(lexer.TokenLParen) {
			return p.parseUnpackPattern(loc, name)
		}
		return p.withAlias(ast.IdentPattern(loc, name, nil))
	}
	p.errorf("unexpected token %s in pattern", p.peek().Type)
	p.advance()
	return ast.Wildcard(loc)
}

func (p *Parser) parseUnpackPattern(loc ast.Loc, typeName string) *ast.Pattern {
	p.advance() // (
	var fields []ast.FieldPattern
	for !p.check(lexer.TokenRParen) {
		fname := p.expect(lexer.TokenIdent, "expected field name").Lexeme
		p.expect(lexer.TokenColon, "expected ':' after field name")
		sub := p.parsePattern()
		fields = append(fields, ast.FieldPattern{Name: fname, Pattern: sub})
		if !p.match(lexer.TokenComma) {
			break
		}
	}
	p.expect(lexer.TokenRParen, "expected ')' to close unpack pattern")
	pat := ast.UnpackPattern(loc, typeName, fields, "")
	return p.withAlias(pat)
}

func (p *Parser) parseRecordPattern() *ast.Pattern {
	loc := p.loc()
	p.advance() // {
	if p.check(lexer.TokenStar) {
		p.advance()
		p.expect(lexer.TokenRBrace, "expected '}' after '*' in record-star pattern")
		return ast.RecordStarPattern(loc)
	}
	var fields []ast.FieldPattern
	for !p.check(lexer.TokenRBrace) {
		fname := p.expect(lexer.TokenIdent, "expected field name").Lexeme
		var sub *ast.Pattern
		if p.match(lexer.TokenColon) {
			sub = p.parsePattern()
		} else {
			sub = ast.IdentPattern(loc, fname, nil)
		}
		fields = append(fields, ast.FieldPattern{Name: fname, Pattern: sub})
		if !p.match(lexer.TokenComma) {
			break
		}
	}
	p.expect(lexer.TokenRBrace, "expected '}' to close record pattern")
	pat := ast.RecordPattern(loc, fields, "")
	return p.withAlias(pat)
}

func (p *Parser) withAlias(pat *ast.Pattern) *ast.Pattern {
	if p.match(lexer.TokenAs) {
		pat.Alias = p.expect(lexer.TokenIdent, "expected alias name after 'as'").Lexeme
	}
	return pat
}
