package ir

import (
	"fmt"

	"sentra/internal/ast"
)

// BuildError is a single name-resolution or lowering failure; the caller
// wraps a slice of these with github.com/pkg/errors at the BuildIR boundary.
type BuildError struct {
	Loc     Loc
	Message string
}

func (e *BuildError) Error() string { return fmt.Sprintf("%s: %s", e.Loc, e.Message) }

func (l Loc) String() string {
	if l.File == "" {
		return fmt.Sprintf("line %d", l.Line)
	}
	return fmt.Sprintf("%s:%d:%d", l.File, l.Line, l.Column)
}

func fromAstLoc(l ast.Loc) Loc { return Loc{File: l.File, Line: l.Line, Column: l.Column} }

// binding is one name in a scope: either a runtime variable (VarID valid)
// or a constant (Const holds the folded value and VarID is unused).
type binding struct {
	name     string
	varID    int
	isConst  bool
	constVal *Node
	mut      bool
}

type scopeLevel struct {
	bindings []binding
}

// frame is one function's worth of lexical nesting: its own Unit, its own
// stack of scopeLevels, and the capture list being accumulated for it.
type frame struct {
	unit          *Unit
	scopes        []*scopeLevel
	captures      []Capture
	captureByName map[string]int // outer name -> mirrored local var id, memoized
	selfName      string         // name this frame is bound to, for tail-self detection
}

func newFrame(u *Unit, selfName string) *frame {
	return &frame{unit: u, captureByName: map[string]int{}, selfName: selfName}
}

func (f *frame) pushScope()   { f.scopes = append(f.scopes, &scopeLevel{}) }
func (f *frame) popScope()    { f.scopes = f.scopes[:len(f.scopes)-1] }
func (f *frame) top() *scopeLevel { return f.scopes[len(f.scopes)-1] }

func (f *frame) bindVar(name string) int {
	id := f.unit.allocVar()
	f.top().bindings = append(f.top().bindings, binding{name: name, varID: id})
	return id
}

func (f *frame) bindConst(name string, v *Node) {
	f.top().bindings = append(f.top().bindings, binding{name: name, isConst: true, constVal: v})
}

// lookupLocal searches only this frame's own scope chain, innermost first.
func (f *frame) lookupLocal(name string) (binding, bool) {
	for i := len(f.scopes) - 1; i >= 0; i-- {
		s := f.scopes[i]
		for j := len(s.bindings) - 1; j >= 0; j-- {
			if s.bindings[j].name == name {
				return s.bindings[j], true
			}
		}
	}
	return binding{}, false
}

// Builder walks an *ast.Node tree producing a *Unit. One Builder lowers one
// top-level program; nested `fn` literals push a new frame and recurse.
type Builder struct {
	frames  []*frame
	errs    []*BuildError
	globals map[string]interface{}
}

func NewBuilder() *Builder { return &Builder{} }

func (b *Builder) errorf(loc Loc, format string, args ...interface{}) {
	b.errs = append(b.errs, &BuildError{Loc: loc, Message: fmt.Sprintf(format, args...)})
}

func (b *Builder) cur() *frame { return b.frames[len(b.frames)-1] }

// Build lowers a top-level AST expression into a Unit. globals is the
// module/environment system's store of already-bound names (§1: "the
// module/environment system ... treated as a store from which the IR
// builder may obtain bound values") — typically the native prelude (cons,
// raise and exit) plus whatever a prior module exported.
// A name unresolved in every lexical frame falls back to this map before
// being reported as an error. Returns accumulated errors (nil slice means
// success); on error the caller should treat the Unit as unusable, per
// spec.md §7 ("build_ir ... return null").
func Build(root *ast.Node, globals map[string]interface{}) (*Unit, []*BuildError) {
	b := &Builder{globals: globals}
	u := NewUnit()
	f := newFrame(u, "")
	b.frames = append(b.frames, f)
	f.pushScope()
	u.Body = b.lower(root)
	f.popScope()
	return u, b.errs
}

// resolve looks up name across the frame stack, innermost frame first.
// When found in an outer frame as a non-constant binding, it installs a
// capture in every frame between that owner and the current one, returning
// a KVar referencing the (possibly mirrored) local id.
func (b *Builder) resolve(loc Loc, name string) *Node {
	// Search current frame first: no capture needed.
	if bd, ok := b.cur().lookupLocal(name); ok {
		if bd.isConst {
			return bd.constVal
		}
		return &Node{Kind: KVar, Loc: loc, VarID: bd.varID}
	}
	// Search outward.
	for fi := len(b.frames) - 2; fi >= 0; fi-- {
		if bd, ok := b.frames[fi].lookupLocal(name); ok {
			if bd.isConst {
				return bd.constVal
			}
			// Propagate a capture chain from fi+1 up through the current frame.
			outerVarID := bd.varID
			for k := fi + 1; k < len(b.frames); k++ {
				frm := b.frames[k]
				if innerID, ok := frm.captureByName[name]; ok {
					outerVarID = innerID
					continue
				}
				innerID := frm.unit.allocVar()
				frm.captures = append(frm.captures, Capture{OuterID: outerVarID, InnerID: innerID})
				frm.captureByName[name] = innerID
				outerVarID = innerID
			}
			return &Node{Kind: KVar, Loc: loc, VarID: outerVarID, IsCapture: true}
		}
	}
	if v, ok := b.globals[name]; ok {
		return &Node{Kind: KConst, Loc: loc, Const: v}
	}
	b.errorf(loc, "unresolved identifier %q", name)
	return &Node{Kind: KConst, Loc: loc, Const: nil}
}

// lower dispatches on AST Kind.
func (b *Builder) lower(n *ast.Node) *Node {
	if n == nil {
		return nil
	}
	loc := fromAstLoc(n.Loc)
	switch n.Kind {
	case ast.KConstant:
		return &Node{Kind: KConst, Loc: loc, Const: n.Const}

	case ast.KIdent:
		return b.resolve(loc, n.Name)

	case ast.KApply:
		fn := b.lower(n.Fn)
		args := b.lowerAll(n.Args)
		isSelf := n.Fn.Kind == ast.KIdent && n.Fn.Name == b.currentSelfName() && b.currentSelfName() != ""
		return &Node{Kind: KApply, Loc: loc, Fn: fn, Args: args, IsSelfApply: isSelf}

	case ast.KIf:
		return b.lowerIf(loc, n)

	case ast.KSeq:
		return &Node{Kind: KSeq, Loc: loc, Args: b.lowerAll(n.Args)}

	case ast.KAnd:
		// a and b  ==>  if a then b else false
		l := b.lower(n.Left)
		r := b.lower(n.Then)
		return &Node{Kind: KIf, Loc: loc, Left: l, Then: r, Else: &Node{Kind: KConst, Const: false}}

	case ast.KOr:
		// a or b  ==>  if a then true else b
		l := b.lower(n.Left)
		r := b.lower(n.Then)
		return &Node{Kind: KIf, Loc: loc, Left: l, Then: &Node{Kind: KConst, Const: true}, Else: r}

	case ast.KLet:
		return b.lowerLet(loc, n, false)

	case ast.KLetRec:
		return b.lowerLet(loc, n, true)

	case ast.KBinop:
		return b.lowerBinop(loc, n)

	case ast.KUnop:
		return b.lowerUnop(loc, n)

	case ast.KFn:
		return b.lowerFn(loc, "", n.Params, n.Body)

	case ast.KMatch:
		scrut := b.lower(n.Scrut)
		return b.lowerMatchCases(loc, scrut, n.Cases)

	case ast.KMultiMatch:
		scruts := b.lowerAll(n.Args)
		rows := make([]Row, len(n.Cases))
		for i, c := range n.Cases {
			b.cur().pushScope()
			pats := make([]*Pattern, len(c.Patterns))
			for j, p := range c.Patterns {
				pats[j] = b.lowerPattern(p)
			}
			rows[i] = Row{Patterns: pats, Guard: b.lower(c.Guard), Body: b.lower(c.Body)}
			b.cur().popScope()
		}
		return &Node{Kind: KMultiMatch, Loc: loc, Scruts: scruts, Rows: rows}

	case ast.KFieldAccess:
		return &Node{Kind: KFieldAccess, Loc: loc, Left: b.lower(n.Left), Names: []string{n.Name}}

	case ast.KTry:
		return b.lowerTry(loc, n)

	case ast.KMakeRecord:
		return &Node{Kind: KMakeRecord, Loc: loc, Names: append([]string(nil), n.Names...), Args: b.lowerAll(n.Args)}

	case ast.KRecordUpdate:
		return &Node{Kind: KRecordUpdate, Loc: loc, Scrut: b.lower(n.Scrut), Names: append([]string(nil), n.Names...), Args: b.lowerAll(n.Args)}

	case ast.KAssert:
		return &Node{Kind: KAssert, Loc: loc, Left: b.lower(n.Left)}

	case ast.KDefinedP:
		_, found := b.cur().lookupLocal(n.Name)
		if !found {
			for fi := len(b.frames) - 2; fi >= 0 && !found; fi-- {
				_, found = b.frames[fi].lookupLocal(n.Name)
			}
		}
		if !found {
			_, found = b.globals[n.Name]
		}
		return &Node{Kind: KConst, Loc: loc, Const: found}

	case ast.KEvalAtCompileTime:
		return b.lowerEvmac(loc, n)

	case ast.KAssign:
		target := b.resolve(loc, n.Name)
		return &Node{Kind: KAssign, Loc: loc, VarID: target.VarID, Left: b.lower(n.Left)}

	case ast.KReturn:
		return &Node{Kind: KReturn, Loc: loc, Left: b.lower(n.Left)}

	case ast.KClass:
		// Classes are sugar over a record of methods; out of the core's
		// SSA/VM concern (no dedicated opcode), lowered to a make-record of
		// the method closures so the rest of the pipeline never special
		// cases it.
		values := make([]*Node, len(n.Bindings))
		names := make([]string, len(n.Bindings))
		for i, m := range n.Bindings {
			names[i] = m.Pattern.Name
			values[i] = b.lower(m.Value)
		}
		return &Node{Kind: KMakeRecord, Loc: loc, Names: names, Args: values}
	}
	b.errorf(loc, "unhandled ast kind %d", n.Kind)
	return &Node{Kind: KConst, Loc: loc}
}

func (b *Builder) lowerAll(ns []*ast.Node) []*Node {
	out := make([]*Node, len(ns))
	for i, n := range ns {
		out[i] = b.lower(n)
	}
	return out
}

// lowerIf folds a constant condition at build time, per spec.md §4.4.
func (b *Builder) lowerIf(loc Loc, n *ast.Node) *Node {
	cond := b.lower(n.Left)
	then := b.lower(n.Then)
	els := b.lower(n.Else)
	if cond.Kind == KConst {
		if truthy(cond.Const) {
			return then
		}
		return els
	}
	return &Node{Kind: KIf, Loc: loc, Left: cond, Then: then, Else: els}
}

func truthy(v interface{}) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	default:
		return true
	}
}
