// Package ast defines the immutable, refcounted expression tree produced by
// the front end (lexer/parser) and consumed by the IR builder. Nodes are
// heap objects sharing the same ref/unref discipline as runtime values: a
// node created by eval-at-compile-time may be substituted into more than one
// parent, so sharing is explicit rather than assumed.
package ast

// Loc is a source location attached to a node for diagnostics and exception
// traces.
type Loc struct {
	File   string
	Line   int
	Column int
}

func (l Loc) String() string {
	if l.File == "" {
		return "<unknown>"
	}
	return l.File
}

// Kind tags the ~25 node variants the builder understands.
type Kind uint8

const (
	KConstant Kind = iota
	KIdent
	KApply
	KIf
	KSeq
	KLet
	KLetRec
	KBinop
	KUnop
	KFn
	KMatch
	KMultiMatch
	KAnd
	KOr
	KFieldAccess
	KTry
	KMakeRecord
	KRecordUpdate
	KAssert
	KDefinedP
	KEvalAtCompileTime
	KAssign
	KReturn
	KClass
)

// Node is the refcounted AST node. Its rc is bumped whenever it is shared
// (e.g. a constant-folded eval-at-compile-time result substituted at more
// than one use site) and dropped when a parent releases its child.
type Node struct {
	rc   int32
	Kind Kind
	Loc  Loc

	// Payload, populated according to Kind. Only the fields relevant to
	// the node's Kind are meaningful; the rest are zero.
	Const    interface{} // KConstant: Go-native literal (float64, bool, string, nil, Symbol)
	Name     string      // KIdent, KAssign, KFieldAccess (field name), KClass (class name)
	Fn       *Node       // KApply callee, KUnop operand holder reused as Left
	Args     []*Node     // KApply args, KSeq stmts, KMakeRecord values, KMultiMatch scrutinees
	Names    []string    // KMakeRecord field names
	Left     *Node       // KIf cond / KBinop left / KAnd-KOr left
	Then     *Node       // KIf then / KBinop right
	Else     *Node       // KIf else
	Op       string      // KBinop/KUnop operator symbol
	Bindings []Binding   // KLet, KLetRec
	Params   []string    // KFn
	Body     *Node       // KFn, KEvalAtCompileTime, KLet/KLetRec body
	Scrut    *Node       // KMatch scrutinee, KTry body, KRecordUpdate base
	Cases    []Case      // KMatch (n cases), KMultiMatch (n cases), KTry (catch cases)
	Attr     *Attribute  // optional annotation
}

// Binding is a single `pat = expr` clause of a let/letrec.
type Binding struct {
	Pattern *Pattern
	Value   *Node
}

// Case is one arm of a match or try-catch.
type Case struct {
	Patterns []*Pattern // multi-match rows have >1 pattern (one per scrutinee column)
	Guard    *Node
	Body     *Node
}

// NewNode allocates a floating node (rc==0); the caller is expected to
// either Ref it into a parent or Drop it.
func NewNode(k Kind, loc Loc) *Node {
	return &Node{Kind: k, Loc: loc}
}

// Ref increments the node's reference count and returns it, mirroring the
// value package's convention so AST construction code reads the same way
// compiler code that builds runtime values does.
func Ref(n *Node) *Node {
	if n == nil {
		return nil
	}
	n.rc++
	return n
}

// Unref decrements the reference count; when it reaches zero the node (and,
// transitively, any children it alone owned) is considered reclaimable.
// The AST has no destructor side effects beyond bookkeeping, so Unref here
// only walks children when this was the last owner.
func Unref(n *Node) {
	if n == nil {
		return
	}
	n.rc--
	if n.rc > 0 {
		return
	}
	for _, a := range n.Args {
		Unref(a)
	}
	Unref(n.Fn)
	Unref(n.Left)
	Unref(n.Then)
	Unref(n.Else)
	Unref(n.Body)
	Unref(n.Scrut)
	for _, b := range n.Bindings {
		Unref(b.Value)
	}
	for _, c := range n.Cases {
		Unref(c.Guard)
		Unref(c.Body)
	}
}

// Drop reclaims a floating node (rc<=0) eagerly; used for temporaries that
// were built speculatively (e.g. during constant folding) and discarded.
func Drop(n *Node) {
	if n == nil || n.rc > 0 {
		return
	}
	Unref(Ref(n)) // rc becomes 1 then the Unref below brings it back to 0 and recurses
	n.rc = 0
}

// Factory helpers. Each returns a floating node (rc==0).

// Symbol is the constant payload for a backtick symbol literal (`foo): a
// distinct Go type from string so the lexer/parser boundary can hand it
// downstream without that stage needing to know how symbols are interned.
type Symbol string

func Const(loc Loc, v interface{}) *Node {
	return &Node{Kind: KConstant, Loc: loc, Const: v}
}

func Ident(loc Loc, name string) *Node {
	return &Node{Kind: KIdent, Loc: loc, Name: name}
}

func Apply(loc Loc, fn *Node, args []*Node) *Node {
	return &Node{Kind: KApply, Loc: loc, Fn: fn, Args: args}
}

func If(loc Loc, cond, then, els *Node) *Node {
	return &Node{Kind: KIf, Loc: loc, Left: cond, Then: then, Else: els}
}

func Seq(loc Loc, stmts []*Node) *Node {
	return &Node{Kind: KSeq, Loc: loc, Args: stmts}
}

func Let(loc Loc, bindings []Binding, body *Node) *Node {
	return &Node{Kind: KLet, Loc: loc, Bindings: bindings, Body: body}
}

func LetRec(loc Loc, bindings []Binding, body *Node) *Node {
	return &Node{Kind: KLetRec, Loc: loc, Bindings: bindings, Body: body}
}

func Binop(loc Loc, op string, l, r *Node) *Node {
	return &Node{Kind: KBinop, Loc: loc, Op: op, Left: l, Then: r}
}

func Unop(loc Loc, op string, operand *Node) *Node {
	return &Node{Kind: KUnop, Loc: loc, Op: op, Left: operand}
}

func Fn(loc Loc, params []string, body *Node) *Node {
	return &Node{Kind: KFn, Loc: loc, Params: params, Body: body}
}

func Match(loc Loc, scrut *Node, cases []Case) *Node {
	return &Node{Kind: KMatch, Loc: loc, Scrut: scrut, Cases: cases}
}

func MultiMatch(loc Loc, scruts []*Node, cases []Case) *Node {
	return &Node{Kind: KMultiMatch, Loc: loc, Args: scruts, Cases: cases}
}

func And(loc Loc, l, r *Node) *Node {
	return &Node{Kind: KAnd, Loc: loc, Left: l, Then: r}
}

func Or(loc Loc, l, r *Node) *Node {
	return &Node{Kind: KOr, Loc: loc, Left: l, Then: r}
}

func FieldAccess(loc Loc, obj *Node, field string) *Node {
	return &Node{Kind: KFieldAccess, Loc: loc, Left: obj, Name: field}
}

func Try(loc Loc, body *Node, cases []Case) *Node {
	return &Node{Kind: KTry, Loc: loc, Scrut: body, Cases: cases}
}

func MakeRecord(loc Loc, names []string, values []*Node) *Node {
	return &Node{Kind: KMakeRecord, Loc: loc, Names: names, Args: values}
}

func RecordUpdate(loc Loc, base *Node, names []string, values []*Node) *Node {
	return &Node{Kind: KRecordUpdate, Loc: loc, Scrut: base, Names: names, Args: values}
}

func Assert(loc Loc, cond *Node) *Node {
	return &Node{Kind: KAssert, Loc: loc, Left: cond}
}

func DefinedP(loc Loc, name string) *Node {
	return &Node{Kind: KDefinedP, Loc: loc, Name: name}
}

func EvalAtCompileTime(loc Loc, body *Node) *Node {
	return &Node{Kind: KEvalAtCompileTime, Loc: loc, Body: body}
}

func Assign(loc Loc, name string, value *Node) *Node {
	return &Node{Kind: KAssign, Loc: loc, Name: name, Left: value}
}

func Return(loc Loc, value *Node) *Node {
	return &Node{Kind: KReturn, Loc: loc, Left: value}
}

func Class(loc Loc, name string, fields []string, methods []Binding) *Node {
	return &Node{Kind: KClass, Loc: loc, Name: name, Names: fields, Bindings: methods}
}
