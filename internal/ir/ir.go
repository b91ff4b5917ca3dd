// Package ir lowers the AST into a desugared, name-resolved intermediate
// form: identifiers become dense integer variable ids local to a Unit,
// closures record explicit capture lists, constant subexpressions are
// folded eagerly, and and/or/let/letrec/try are rewritten into simpler
// primitives (if-chains, single-pattern matches, startfix/endfix brackets).
package ir

// Kind tags the desugared node variants the SSA builder consumes.
type Kind uint8

const (
	KConst Kind = iota
	KVar
	KApply
	KIf
	KSeq
	KMatch      // single-pattern match: test Pat against Scrut, else branch
	KMultiMatch // multi-pattern match, rows retained for decision-tree compilation
	KBinop
	KUnop
	KFn
	KFieldAccess
	KMakeRecord
	KRecordUpdate
	KAssert
	KDefinedP
	KStartFix // begin a letrec scope bracket
	KEndFix   // end a letrec scope bracket, yields the scope's body value
	KAssign
	KReturn
	KMatchFail  // pattern-match exhaustion: raises a type_error exception at Loc
	KTry        // protected evaluation: TryBody, with TryCatch as the exception continuation
	KExnPayload // Left: a caught exception value; yields its wrapped payload
)

// Node is the IR tree node. Like the AST, fields are reused across kinds;
// only the ones relevant to Kind are meaningful.
type Node struct {
	Kind Kind
	Loc  Loc

	Const interface{} // KConst

	VarID     int  // KVar, KAssign (assignment target)
	IsCapture bool // KVar: resolved to an outer-scope, non-constant binding

	Fn         *Node   // KApply callee
	Args       []*Node // KApply args, KSeq stmts, KMakeRecord/KRecordUpdate values
	IsSelfApply bool   // KApply: callee is a direct reference to the enclosing letrec-bound function

	Left *Node // KIf cond / KBinop left / KUnop operand / KAssign value / KExnPayload exception
	Then *Node // KIf then / KBinop right
	Else *Node // KIf else

	Op string // KBinop/KUnop operator symbol

	Scrut *Node    // KMatch scrutinee, KRecordUpdate base
	Scruts []*Node // KMultiMatch scrutinee columns
	Pat   *Pattern // KMatch
	Rows  []Row    // KMultiMatch

	MatchThen *Node // KMatch: body when Pat matches
	MatchElse *Node // KMatch: body when Pat fails

	Names []string // KMakeRecord/KRecordUpdate field names, KFieldAccess field name

	FnUnit *Unit // KFn: the lowered function body as its own Unit

	Captures []Capture // KFn: ids to close over, outer-id -> inner-id pairs

	TryBody  *Node // KTry: the protected expression
	TryCatch *Node // KTry: continuation given the caught exception bound to CaughtVarID
	CaughtVarID int // KTry: local id the raw exception value is bound to for TryCatch
}

// Capture is one free variable a KFn closes over: OuterID is the variable
// id in the enclosing Unit, InnerID is the mirrored id inside FnUnit.
type Capture struct {
	OuterID int
	InnerID int
}

// Row is one row of a multi-pattern match: a pattern per scrutinee column
// plus an optional guard and a body.
type Row struct {
	Patterns []*Pattern
	Guard    *Node
	Body     *Node
}

// Loc mirrors ast.Loc without importing the ast package, since IR nodes
// outlive their originating AST (constants may be synthesized by folding).
type Loc struct {
	File   string
	Line   int
	Column int
}

// Unit is one compilation unit: a function body (or the top-level program)
// together with its variable count and the nested thunk units built for
// its `evmac` (eval-at-compile-time) nodes, which the module loader runs
// and replaces with their constant results.
type Unit struct {
	Body            *Node
	NVars           int
	ParamCount      int // leading var ids bound to this unit's own formal parameters
	Specializations []*Unit
}

func NewUnit() *Unit { return &Unit{} }

// allocVar reserves the next dense variable id.
func (u *Unit) allocVar() int {
	id := u.NVars
	u.NVars++
	return id
}
