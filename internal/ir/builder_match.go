package ir

import "sentra/internal/ast"

// lowerMatchCases evaluates scrut once into a fresh local, then chains a
// KMatch per case against that local: the first case whose pattern (and
// guard, if any) succeeds wins; falling through every case raises a
// type_error, per spec.md §4.4's "let lowers to a chain ... else throws"
// note, generalized to match's N cases.
func (b *Builder) lowerMatchCases(loc Loc, scrut *Node, cases []ast.Case) *Node {
	tempID := b.cur().unit.allocVar()
	assign := &Node{Kind: KAssign, Loc: loc, VarID: tempID, Left: scrut}

	acc := &Node{Kind: KMatchFail, Loc: loc}
	for i := len(cases) - 1; i >= 0; i-- {
		c := cases[i]
		b.cur().pushScope()
		pat := b.lowerPattern(c.Patterns[0])
		body := b.lower(c.Body)
		var guard *Node
		if c.Guard != nil {
			guard = b.lower(c.Guard)
		}
		b.cur().popScope()

		then := body
		if guard != nil {
			then = &Node{Kind: KIf, Loc: loc, Left: guard, Then: body, Else: acc}
		}
		acc = &Node{
			Kind:      KMatch,
			Loc:       pat.Loc,
			Scrut:     &Node{Kind: KVar, Loc: loc, VarID: tempID},
			Pat:       pat,
			MatchThen: then,
			MatchElse: acc,
		}
	}
	return &Node{Kind: KSeq, Loc: loc, Args: []*Node{assign, acc}}
}

// lowerTry wraps the catch pattern(s) in an implicit unpack of the
// exception payload: the user's catch patterns match against the raw
// exception's payload value, not the exception wrapper itself. Exit
// objects are never absorbed (an unconditional rethrow guard is emitted
// ahead of the user's cases, tested against the raw caught value before
// it is ever unwrapped), and an exception matching none of the user's
// patterns is rethrown (as the exception wrapper, preserving its trace).
func (b *Builder) lowerTry(loc Loc, n *ast.Node) *Node {
	body := b.lower(n.Scrut)
	tempID := b.cur().unit.allocVar()
	caught := &Node{Kind: KVar, Loc: loc, VarID: tempID}

	payloadID := b.cur().unit.allocVar()
	payload := &Node{Kind: KVar, Loc: loc, VarID: payloadID}

	acc := &Node{Kind: KReturn, Loc: loc, Left: caught} // no case matched: rethrow
	for i := len(n.Cases) - 1; i >= 0; i-- {
		c := n.Cases[i]
		b.cur().pushScope()
		pat := b.lowerPattern(c.Patterns[0])
		caseBody := b.lower(c.Body)
		b.cur().popScope()
		acc = &Node{
			Kind:      KMatch,
			Loc:       pat.Loc,
			Scrut:     payload,
			Pat:       pat,
			MatchThen: caseBody,
			MatchElse: acc,
		}
	}

	// Only reachable once the exit guard below has ruled out an Exit
	// value, so it is safe to unwrap here: every caught value still
	// flowing through is a genuine exception.
	assignPayload := &Node{
		Kind:  KAssign,
		Loc:   loc,
		VarID: payloadID,
		Left:  &Node{Kind: KExnPayload, Loc: loc, Left: caught},
	}
	withPayload := &Node{Kind: KSeq, Loc: loc, Args: []*Node{assignPayload, acc}}

	// Exit objects are never absorbed by a user handler: the check is
	// compiled ahead of the user's patterns, recognized by the SSA builder
	// via the TypeName=="exit" sentinel unpack pattern.
	exitGuard := &Node{
		Kind:      KMatch,
		Loc:       loc,
		Scrut:     caught,
		Pat:       &Pattern{Kind: PUnpack, Loc: loc, TypeName: "exit"},
		MatchThen: &Node{Kind: KReturn, Loc: loc, Left: caught},
		MatchElse: withPayload,
	}

	return &Node{
		Kind:        KTry,
		Loc:         loc,
		TryBody:     body,
		TryCatch:    exitGuard,
		CaughtVarID: tempID,
	}
}

// lowerEvmac compiles the nested body into its own Unit; actually running
// it and substituting the result as a constant is the module loader's job
// (it owns the interpreter needed to execute the nested Unit), so here the
// IR builder only produces the marker node H's orchestration step consumes.
func (b *Builder) lowerEvmac(loc Loc, n *ast.Node) *Node {
	u := NewUnit()
	f := newFrame(u, "")
	b.frames = append(b.frames, f)
	f.pushScope()
	u.Body = b.lower(n.Body)
	f.popScope()
	b.frames = b.frames[:len(b.frames)-1]
	b.cur().unit.Specializations = append(b.cur().unit.Specializations, u)
	return &Node{Kind: KFn, Loc: loc, FnUnit: u} // zero-arity thunk; H evaluates it immediately
}
