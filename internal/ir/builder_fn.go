package ir

import "sentra/internal/ast"

// lowerFn pushes a fresh frame for the function body, binds its parameters
// as fresh local variables, lowers the body, and packages the result as a
// KFn node carrying its own Unit plus the capture list accumulated while
// resolving free identifiers against the enclosing frames.
func (b *Builder) lowerFn(loc Loc, selfName string, params []string, astBody *ast.Node) *Node {
	u := NewUnit()
	u.ParamCount = len(params)
	f := newFrame(u, selfName)
	b.frames = append(b.frames, f)
	f.pushScope()
	for _, p := range params {
		f.bindVar(p)
	}
	u.Body = b.lower(astBody)
	f.popScope()
	b.frames = b.frames[:len(b.frames)-1]

	return &Node{
		Kind:     KFn,
		Loc:      loc,
		FnUnit:   u,
		Captures: f.captures,
	}
}

// currentSelfName reports the name the innermost frame is bound to (set by
// letrec lowering), used to flag direct self-recursive applications so the
// SSA builder can compile them as LOOP instead of a generic APPLYTC.
func (b *Builder) currentSelfName() string { return b.cur().selfName }
