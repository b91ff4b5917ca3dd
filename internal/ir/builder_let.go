package ir

import "sentra/internal/ast"

// lowerLet handles both `let` and `letrec`. `let` lowers each binding into a
// single-pattern match whose else branch fails with a type_error, chained
// so that later bindings can see earlier ones (spec.md §4.4); a constant
// value bound to a plain (non-mut) name is bound as a constant instead, so
// every use of the name is replaced by the constant itself. `letrec` is
// restricted to `fn` bindings and wraps the chain in a startfix/endfix
// bracket so the SSA builder can introduce a cycle-breaking Scope.
func (b *Builder) lowerLet(loc Loc, n *ast.Node, recursive bool) *Node {
	if recursive {
		return b.lowerLetRec(loc, n)
	}

	b.cur().pushScope()
	defer b.cur().popScope()

	body := b.lowerLetChain(n.Bindings, n.Body)
	return body
}

// lowerLetChain builds the nested match chain: bindings are lowered in
// order, each one's pattern is matched against its value with the
// remaining chain (and finally n.Body) as the success continuation.
func (b *Builder) lowerLetChain(bindings []ast.Binding, astBody *ast.Node) *Node {
	if len(bindings) == 0 {
		return b.lower(astBody)
	}
	bind := bindings[0]
	value := b.lower(bind.Value)
	if value.Kind == KConst && bind.Pattern.Kind == ast.PIdent && !bind.Pattern.Attr.Has(ast.AttrMut) {
		b.cur().bindConst(bind.Pattern.Name, value)
		return b.lowerLetChain(bindings[1:], astBody)
	}
	pat := b.lowerPattern(bind.Pattern)
	rest := b.lowerLetChain(bindings[1:], astBody)
	return &Node{
		Kind:      KMatch,
		Loc:       pat.Loc,
		Scrut:     value,
		Pat:       pat,
		MatchThen: rest,
		MatchElse: &Node{Kind: KMatchFail, Loc: pat.Loc},
	}
}

// lowerLetRec requires every binding's value to be a `fn` literal. Each
// binding name is pre-declared as a local variable (so the fn bodies and
// each other can refer to it) before any body is lowered, then every fn is
// lowered with that pre-declared binding as its "self" name for tail-call
// detection, and the whole chain is wrapped in a KStartFix/KEndFix bracket.
func (b *Builder) lowerLetRec(loc Loc, n *ast.Node) *Node {
	b.cur().pushScope()
	defer b.cur().popScope()

	ids := make([]int, len(n.Bindings))
	names := make([]string, len(n.Bindings))
	for i, bind := range n.Bindings {
		if bind.Value.Kind != ast.KFn {
			b.errorf(loc, "letrec binding %q must be a function", bind.Pattern.Name)
			continue
		}
		names[i] = bind.Pattern.Name
		ids[i] = b.cur().bindVar(bind.Pattern.Name)
	}

	fnNodes := make([]*Node, len(n.Bindings))
	for i, bind := range n.Bindings {
		if bind.Value.Kind != ast.KFn {
			continue
		}
		fnNode := b.lowerFn(fromAstLoc(bind.Value.Loc), names[i], bind.Value.Params, bind.Value.Body)
		fnNodes[i] = &Node{Kind: KAssign, Loc: fnNode.Loc, VarID: ids[i], Left: fnNode}
	}

	body := b.lower(n.Body)
	seqArgs := append([]*Node{{Kind: KStartFix, Loc: loc}}, fnNodes...)
	seqArgs = append(seqArgs, &Node{Kind: KEndFix, Loc: loc, Left: body})
	return &Node{Kind: KSeq, Loc: loc, Args: seqArgs}
}

// lowerPattern desugars an *ast.Pattern into an *ir.Pattern, binding any
// identifier it introduces in the current (innermost) scope.
func (b *Builder) lowerPattern(p *ast.Pattern) *Pattern {
	loc := fromAstLoc(p.Loc)
	switch p.Kind {
	case ast.PWildcard:
		return &Pattern{Kind: PWildcard, Loc: loc}
	case ast.PIdent:
		id := b.cur().bindVar(p.Name)
		return &Pattern{Kind: PIdent, Loc: loc, VarID: id, Mut: p.Attr.Has(ast.AttrMut)}
	case ast.PConst:
		return &Pattern{Kind: PConst, Loc: loc, Const: p.Const}
	case ast.PUnpack:
		fields := b.lowerFieldPatterns(p.Fields)
		pat := &Pattern{Kind: PUnpack, Loc: loc, TypeName: p.TypeName, Fields: fields}
		b.attachAlias(p, pat)
		return pat
	case ast.PRecord:
		fields := b.lowerFieldPatterns(p.Fields)
		pat := &Pattern{Kind: PRecord, Loc: loc, Fields: fields}
		b.attachAlias(p, pat)
		return pat
	case ast.PRecordStar:
		return &Pattern{Kind: PRecordStar, Loc: loc}
	}
	b.errorf(loc, "unhandled pattern kind %d", p.Kind)
	return &Pattern{Kind: PWildcard, Loc: loc}
}

func (b *Builder) lowerFieldPatterns(fields []ast.FieldPattern) []FieldPattern {
	out := make([]FieldPattern, len(fields))
	for i, f := range fields {
		out[i] = FieldPattern{Name: f.Name, Pattern: b.lowerPattern(f.Pattern)}
	}
	sortFieldPatterns(out)
	return out
}

func sortFieldPatterns(fs []FieldPattern) {
	for i := 1; i < len(fs); i++ {
		for j := i; j > 0 && fs[j-1].Name > fs[j].Name; j-- {
			fs[j-1], fs[j] = fs[j], fs[j-1]
		}
	}
}

func (b *Builder) attachAlias(src *ast.Pattern, dst *Pattern) {
	if src.Alias == "" {
		return
	}
	dst.AliasID = b.cur().bindVar(src.Alias)
	dst.HasAlias = true
}
