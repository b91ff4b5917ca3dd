package ir

import "sentra/internal/ast"

// lowerBinop checks for local operator redefinition before folding or
// emitting a primitive KBinop, per spec.md §4.4: "the builder checks
// whether the operator symbol has been rebound locally; if so, it rewrites
// to an application."
func (b *Builder) lowerBinop(loc Loc, n *ast.Node) *Node {
	if redef := b.lookupOperator(n.Op); redef != nil {
		l := b.lower(n.Left)
		r := b.lower(n.Then)
		return &Node{Kind: KApply, Loc: loc, Fn: redef, Args: []*Node{l, r}}
	}
	l := b.lower(n.Left)
	r := b.lower(n.Then)
	if folded, ok := foldBinop(n.Op, l, r); ok {
		return folded
	}
	return &Node{Kind: KBinop, Loc: loc, Op: n.Op, Left: l, Then: r}
}

func (b *Builder) lowerUnop(loc Loc, n *ast.Node) *Node {
	if redef := b.lookupOperator(n.Op); redef != nil {
		operand := b.lower(n.Left)
		return &Node{Kind: KApply, Loc: loc, Fn: redef, Args: []*Node{operand}}
	}
	operand := b.lower(n.Left)
	if folded, ok := foldUnop(n.Op, operand); ok {
		return folded
	}
	return &Node{Kind: KUnop, Loc: loc, Op: n.Op, Left: operand}
}

// lookupOperator resolves an operator symbol as an ordinary identifier,
// without emitting an unresolved-identifier error when it is absent (the
// overwhelmingly common case: most programs never redefine `+`).
func (b *Builder) lookupOperator(op string) *Node {
	if bd, ok := b.cur().lookupLocal(op); ok {
		if bd.isConst {
			return bd.constVal
		}
		return &Node{Kind: KVar, VarID: bd.varID}
	}
	for fi := len(b.frames) - 2; fi >= 0; fi-- {
		if _, ok := b.frames[fi].lookupLocal(op); ok {
			return b.resolve(Loc{}, op)
		}
	}
	return nil
}
