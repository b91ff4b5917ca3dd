package ssa

import (
	"fmt"

	"sentra/internal/ir"
)

// BuildError mirrors ir.BuildError for SSA-stage failures (unresolved
// variable ids that slipped past the IR builder, malformed letrec
// brackets); the caller wraps these with pkg/errors at the build_ssa
// boundary, same as ir.BuildError at build_ir.
type BuildError struct {
	Loc ir.Loc
	Message string
}

func (e *BuildError) Error() string { return fmt.Sprintf("%s: %s", e.Loc, e.Message) }

// scopeSlot records that an IR variable id is bound inside an active
// letrec scope bracket, at the given slot, rather than to an ordinary
// local value.
type scopeSlot struct {
	scopeID int
	slot    int
}

// branchInfo records the contiguous block ranges produced by one branch()
// call, so the RC pass can compensate a value used in only one arm with an
// UNREF in the other (spec.md §4.5 step 3, "force_kill").
type branchInfo struct {
	thenLo, thenHi int // inclusive block index range
	elseLo, elseHi int
}

type builder struct {
	u     *Unit
	cur   int
	vars  map[int]int // ir variable id -> current ssa value id
	scopeOf map[int]scopeSlot
	tryStack []tryCtx
	branches []branchInfo
	tf    *typeFlow
	errs  []error
}

type tryCtx struct {
	catchBlock int
	caughtVal  int // ssa value every throw path MOVes its exception into
}

// Build lowers a top-level ir.Unit (no enclosing captures) into SSA form.
func Build(iu *ir.Unit) (*Unit, []error) {
	return buildUnit(iu, nil)
}

// buildUnit lowers one ir.Unit, given the captures the enclosing KFn site
// recorded for it (nil for the top-level program).
func buildUnit(iu *ir.Unit, captures []ir.Capture) (*Unit, []error) {
	b := &builder{
		u:       newUnit(),
		vars:    map[int]int{},
		scopeOf: map[int]scopeSlot{},
	}
	b.tf = newTypeFlow(b.u.Values)
	b.u.NVars = iu.NVars
	b.u.ParamCount = iu.ParamCount
	b.u.NumCaptures = len(captures)

	for p := 0; p < iu.ParamCount; p++ {
		b.vars[p] = b.u.newValue(RCDefault)
	}
	for _, c := range captures {
		b.vars[c.InnerID] = b.u.newValue(RCDefault)
	}

	b.cur = b.newBlock()
	bodyVal := b.compile(iu.Body, true)
	b.emit(Instr{Op: OpRet, Dest: -1, Args: []int{bodyVal}})

	insertRC(b.u, b.branches)
	return b.u, b.errs
}

func (b *builder) errorf(loc ir.Loc, format string, args ...interface{}) {
	b.errs = append(b.errs, &BuildError{Loc: loc, Message: fmt.Sprintf(format, args...)})
}

func (b *builder) newBlock() int {
	b.u.Blocks = append(b.u.Blocks, &Block{})
	return len(b.u.Blocks) - 1
}

func (b *builder) newValue(rc RCClass) int { return b.u.newValue(rc) }

// emit appends instr to the current block, stamping its creation site on
// Dest's Value metadata when it produces one, and returns the position the
// instruction landed at within its block (for later target patching).
func (b *builder) emit(instr Instr) (blk, pos int) {
	blk = b.cur
	block := b.u.Blocks[blk]
	pos = len(block.Instrs)
	block.Instrs = append(block.Instrs, instr)
	if instr.Dest >= 0 {
		if v := b.u.Values[instr.Dest]; v != nil {
			v.Creation = encodeSite(blk, pos)
		}
	}
	return
}

// encodeSite packs a (block, pos) pair into the single int Value.Creation
// carries, matching the invariant that every producing instruction has one
// identifiable creation site without widening the Value struct further.
func encodeSite(blk, pos int) int { return blk<<20 | pos }
func decodeSite(site int) (blk, pos int) { return site >> 20, site & 0xfffff }

func (b *builder) setTarget(blk, pos, target int)  { b.u.Blocks[blk].Instrs[pos].Target = target }
func (b *builder) setTarget2(blk, pos, target int) { b.u.Blocks[blk].Instrs[pos].Target2 = target }

func (b *builder) insertBefore(blk, pos int, instr Instr) {
	block := b.u.Blocks[blk]
	block.Instrs = append(block.Instrs, Instr{})
	copy(block.Instrs[pos+1:], block.Instrs[pos:])
	block.Instrs[pos] = instr
	if instr.Dest >= 0 {
		if v := b.u.Values[instr.Dest]; v != nil {
			v.Creation = encodeSite(blk, pos)
		}
	}
}

// compile lowers one ir.Node into SSA instructions appended to the current
// block, returning the ssa value id holding its result. tail reports
// whether n sits in tail position of its enclosing unit, enabling
// self-recursive applications to compile to LOOP instead of APPLY/APPLYTC.
func (b *builder) compile(n *ir.Node, tail bool) int {
	if n == nil {
		return b.constNil()
	}
	switch n.Kind {
	case ir.KConst:
		id := b.newValue(RCDisable)
		b.emit(Instr{Op: OpConst, Dest: id, Const: n.Const, Loc: n.Loc})
		if v := b.u.Values[id]; v != nil {
			v.HasConst, v.ConstVal = true, n.Const
		}
		return id

	case ir.KVar:
		if id, ok := b.vars[n.VarID]; ok {
			return id
		}
		b.errorf(n.Loc, "unbound ssa variable %d", n.VarID)
		return b.constNil()

	case ir.KApply:
		return b.compileApply(n, tail)

	case ir.KIf:
		cond := b.compile(n.Left, false)
		return b.branch(cond,
			func() int { return b.compile(n.Then, tail) },
			func() int { return b.compile(n.Else, tail) })

	case ir.KSeq:
		if len(n.Args) > 0 && n.Args[0].Kind == ir.KStartFix {
			return b.compileFix(n, tail)
		}
		return b.compileSeq(n, tail)

	case ir.KMatch:
		scrut := b.compile(n.Scrut, false)
		return b.compileTest(scrut, n.Pat,
			func() int { return b.compile(n.MatchThen, tail) },
			func() int { return b.compile(n.MatchElse, tail) })

	case ir.KMultiMatch:
		scruts := make([]int, len(n.Scruts))
		for i, s := range n.Scruts {
			scruts[i] = b.compile(s, false)
		}
		return b.compileRows(scruts, n.Rows, 0, tail)

	case ir.KBinop:
		l := b.compile(n.Left, false)
		r := b.compile(n.Then, false)
		dest := b.newValue(RCDefault)
		b.emit(Instr{Op: OpBinop, Dest: dest, Args: []int{l, r}, Str: n.Op, Loc: n.Loc})
		b.checkException(dest)
		return dest

	case ir.KUnop:
		v := b.compile(n.Left, false)
		dest := b.newValue(RCDefault)
		b.emit(Instr{Op: OpUnop, Dest: dest, Args: []int{v}, Str: n.Op, Loc: n.Loc})
		b.checkException(dest)
		return dest

	case ir.KExnPayload:
		v := b.compile(n.Left, false)
		dest := b.newValue(RCDefault)
		b.emit(Instr{Op: OpGetExn, Dest: dest, Args: []int{v}, Loc: n.Loc})
		return dest

	case ir.KFn:
		return b.compileFn(n)

	case ir.KFieldAccess:
		obj := b.compile(n.Left, false)
		dest := b.newValue(RCDefault)
		b.emit(Instr{Op: OpFieldLoad, Dest: dest, Args: []int{obj}, Str: n.Names[0], Loc: n.Loc})
		b.checkException(dest)
		return dest

	case ir.KMakeRecord:
		vals := make([]int, len(n.Args))
		for i, a := range n.Args {
			vals[i] = b.compile(a, false)
		}
		dest := b.newValue(RCDefault)
		b.emit(Instr{Op: OpMakeRecord, Dest: dest, Args: vals, Names: n.Names, Loc: n.Loc})
		return dest

	case ir.KRecordUpdate:
		base := b.compile(n.Scrut, false)
		vals := make([]int, len(n.Args))
		for i, a := range n.Args {
			vals[i] = b.compile(a, false)
		}
		dest := b.newValue(RCDefault)
		b.emit(Instr{Op: OpUpdateRecord, Dest: dest, Args: append([]int{base}, vals...), Names: n.Names, Loc: n.Loc})
		b.checkException(dest)
		return dest

	case ir.KAssert:
		cond := b.compile(n.Left, false)
		dest := b.newValue(RCDefault)
		b.emit(Instr{Op: OpAssert, Dest: dest, Args: []int{cond}, Loc: n.Loc})
		b.checkException(dest)
		return dest

	case ir.KDefinedP:
		// folded to a constant bool by the IR builder already (KConst);
		// reaching here means it survived unfolded, treat as `false`.
		id := b.newValue(RCDisable)
		b.emit(Instr{Op: OpConst, Dest: id, Const: false, Loc: n.Loc})
		return id

	case ir.KMatchFail:
		dest := b.newValue(RCDefault)
		b.emit(Instr{Op: OpMatchFail, Dest: dest, Loc: n.Loc})
		b.checkException(dest)
		return dest

	case ir.KTry:
		return b.compileTry(n, tail)

	case ir.KAssign:
		val := b.compile(n.Left, false)
		b.vars[n.VarID] = val
		return val

	case ir.KReturn:
		val := b.compile(n.Left, false)
		b.emit(Instr{Op: OpRet, Dest: -1, Args: []int{val}, Loc: n.Loc})
		return b.newValue(RCDisable) // unreachable after a return; never read

	case ir.KStartFix, ir.KEndFix:
		b.errorf(n.Loc, "letrec bracket encountered outside its KSeq wrapper")
		return b.constNil()
	}
	b.errorf(n.Loc, "unhandled ir kind %d", n.Kind)
	return b.constNil()
}

func (b *builder) constNil() int {
	id := b.newValue(RCDisable)
	b.emit(Instr{Op: OpConst, Dest: id, Const: nil})
	return id
}

// emitTerm emits instr (a control transfer) as the last instruction of the
// current block and returns its address for later target patching.
func (b *builder) emitTerm(instr Instr) (blk, pos int) {
	instr.Dest = -1
	return b.emit(instr)
}

// branch compiles a two-armed conditional producing a single joined
// result: thenFn/elseFn each run in their own fresh block and feed a phi
// value via a MOV at the end of their arm, per spec.md §4.5's PHI
// referencing rule.
func (b *builder) branch(cond int, thenFn, elseFn func() int) int {
	condBlk, condPos := b.emitTerm(Instr{Op: OpBranch, Args: []int{cond}})

	thenStart := b.newBlock()
	b.cur = thenStart
	thenMark := b.tf.Enter()
	thenVal := thenFn()
	b.tf.Exit(thenMark)
	thenJmpBlk, thenJmpPos := b.emitTerm(Instr{Op: OpJmp})

	elseStart := b.newBlock()
	b.cur = elseStart
	elseMark := b.tf.Enter()
	elseVal := elseFn()
	b.tf.Exit(elseMark)
	elseJmpBlk, elseJmpPos := b.emitTerm(Instr{Op: OpJmp})

	join := b.newBlock()

	b.setTarget(condBlk, condPos, thenStart)
	b.setTarget2(condBlk, condPos, elseStart)
	b.setTarget(thenJmpBlk, thenJmpPos, join)
	b.setTarget(elseJmpBlk, elseJmpPos, join)

	phi := b.newValue(RCPhi)
	b.insertBefore(thenJmpBlk, thenJmpPos, Instr{Op: OpMove, Dest: phi, Args: []int{thenVal}})
	b.insertBefore(elseJmpBlk, elseJmpPos, Instr{Op: OpMove, Dest: phi, Args: []int{elseVal}})

	b.branches = append(b.branches, branchInfo{thenLo: thenStart, thenHi: elseStart - 1, elseLo: elseStart, elseHi: join - 1})

	b.cur = join
	return phi
}

// checkException implements spec.md §4.5's exception-propagation rule: any
// instruction that might produce an exception is followed by an "is
// exceptional" test (true for both exception and exit values — exit must
// unwind through the same machinery, since §4.4's try/catch has to see it
// in order to rethrow it unconditionally) that either jumps to the
// innermost try's catch handler or returns the value, unwinding the
// current frame.
func (b *builder) checkException(dest int) {
	test := b.newValue(RCDisable)
	b.emit(Instr{Op: OpIsExceptional, Dest: test, Args: []int{dest}})
	condBlk, condPos := b.emitTerm(Instr{Op: OpBranch, Args: []int{test}})

	excBlock := b.newBlock()
	b.cur = excBlock
	if len(b.tryStack) > 0 {
		tc := b.tryStack[len(b.tryStack)-1]
		// The catch body is compiled once, after the whole try body, so it
		// can only ever read one ssa value for "the caught exception." Every
		// throwing op in the body shares the same catchBlock, so each one
		// must funnel its own dest into that one canonical value via an
		// explicit MOV rather than rebinding b.vars (which only the last
		// throw site compiled would win).
		b.emit(Instr{Op: OpMove, Dest: tc.caughtVal, Args: []int{dest}})
		b.emit(Instr{Op: OpJmp, Dest: -1, Target: tc.catchBlock})
	} else {
		b.emit(Instr{Op: OpRet, Dest: -1, Args: []int{dest}})
	}

	contBlock := b.newBlock()
	b.setTarget(condBlk, condPos, excBlock)
	b.setTarget2(condBlk, condPos, contBlock)
	b.cur = contBlock
}

// compileApply lowers a function application. A direct self-recursive call
// in tail position compiles to LOOP (spec.md §4.5 "Tail calls and loops");
// any other tail application compiles to APPLYTC so the VM may reuse the
// current frame.
func (b *builder) compileApply(n *ir.Node, tail bool) int {
	fn := b.compile(n.Fn, false)
	args := make([]int, len(n.Args))
	for i, a := range n.Args {
		args[i] = b.compile(a, false)
	}
	if tail && n.IsSelfApply {
		b.emit(Instr{Op: OpLoop, Dest: -1, Args: args, Loc: n.Loc})
		return b.newValue(RCDisable) // unreachable: LOOP jumps back to entry
	}
	op := OpApply
	if tail {
		op = OpApplyTC
	}
	dest := b.newValue(RCDefault)
	b.emit(Instr{Op: op, Dest: dest, Args: append([]int{fn}, args...), Loc: n.Loc})
	b.checkException(dest)
	return dest
}

// compileSeq evaluates each statement for effect, keeping only the last
// value; intermediate values that are never referenced again are picked up
// by the generic "no forward use -> DROP at creation" rule in the RC pass,
// so no explicit cleanup is needed here.
func (b *builder) compileSeq(n *ir.Node, tail bool) int {
	if len(n.Args) == 0 {
		return b.constNil()
	}
	var last int
	for i, s := range n.Args {
		last = b.compile(s, tail && i == len(n.Args)-1)
	}
	return last
}

// compileFix lowers a letrec bracket: [KStartFix, assign1..assignN,
// KEndFix]. A Scope value owns the N closures; any closure's reference to
// a sibling bound in the same bracket is rewritten from an ordinary
// captured value read into an OpScopeGet, so the closures never hold a
// direct strong reference to one another (spec.md §3's cycle breaker).
func (b *builder) compileFix(n *ir.Node, tail bool) int {
	members := n.Args[1 : len(n.Args)-1]
	endFix := n.Args[len(n.Args)-1]

	scopeID := b.newValue(RCDefault)
	b.emit(Instr{Op: OpMakeScope, Dest: scopeID, Index: len(members), Loc: n.Loc})

	for slot, m := range members {
		b.scopeOf[m.VarID] = scopeSlot{scopeID: scopeID, slot: slot}
	}
	for slot, m := range members {
		fnVal := b.compile(m.Left, false)
		b.vars[m.VarID] = fnVal
		b.emit(Instr{Op: OpScopeBind, Dest: -1, Args: []int{scopeID, fnVal}, Index: slot})
	}

	return b.compile(endFix.Left, tail)
}

// compileFn compiles a nested function literal: captured values are read
// either as ordinary variable values or, for a sibling bound in the same
// active letrec scope, via OpScopeGet.
func (b *builder) compileFn(n *ir.Node) int {
	captureVals := make([]int, len(n.Captures))
	for i, c := range n.Captures {
		if ss, ok := b.scopeOf[c.OuterID]; ok {
			g := b.newValue(RCDisable)
			b.emit(Instr{Op: OpScopeGet, Dest: g, Args: []int{ss.scopeID}, Index: ss.slot})
			captureVals[i] = g
			continue
		}
		if v, ok := b.vars[c.OuterID]; ok {
			captureVals[i] = v
			continue
		}
		b.errorf(n.Loc, "capture of unbound outer variable %d", c.OuterID)
		captureVals[i] = b.constNil()
	}

	nested, errs := buildUnit(n.FnUnit, n.Captures)
	for _, e := range errs {
		b.errs = append(b.errs, e)
	}

	dest := b.newValue(RCDefault)
	b.emit(Instr{Op: OpFn, Dest: dest, Args: captureVals, FnUnit: nested, Captures: n.Captures, Loc: n.Loc})
	return dest
}

// compileTry lowers a try/catch: the body runs in the current flow with the
// catch block registered as the innermost exception target; normal
// completion and the catch arm join on a phi, matching branch()'s shape.
func (b *builder) compileTry(n *ir.Node, tail bool) int {
	catchBlock := b.newBlock()
	b.u.Blocks[catchBlock].IsCatch = true

	// The catch block sits between the current block and the body, so
	// the body (and, below, the catch code) starts in a fresh trailing block
	// reached by an explicit jump: branch() and checkException() need the
	// block they create next to follow the current block directly.
	entryBlk, entryPos := b.emitTerm(Instr{Op: OpJmp})
	bodyStart := b.newBlock()
	b.setTarget(entryBlk, entryPos, bodyStart)
	b.cur = bodyStart

	// caughtVal is the one ssa value every throwing op in the body funnels
	// its exception into via checkException's MOV; n.CaughtVarID resolves
	// to it for the whole lifetime of the try, set once here rather than
	// re-bound per throw site.
	caughtVal := b.newValue(RCPhi)
	b.vars[n.CaughtVarID] = caughtVal

	b.tryStack = append(b.tryStack, tryCtx{catchBlock: catchBlock, caughtVal: caughtVal})
	bodyVal := b.compile(n.TryBody, false)
	b.tryStack = b.tryStack[:len(b.tryStack)-1]

	normalJmpBlk, normalJmpPos := b.emitTerm(Instr{Op: OpJmp})

	b.cur = catchBlock
	catchEntryBlk, catchEntryPos := b.emitTerm(Instr{Op: OpJmp})
	catchStart := b.newBlock()
	b.setTarget(catchEntryBlk, catchEntryPos, catchStart)
	b.cur = catchStart
	catchVal := b.compile(n.TryCatch, tail)
	catchJmpBlk, catchJmpPos := b.emitTerm(Instr{Op: OpJmp})

	join := b.newBlock()
	b.setTarget(normalJmpBlk, normalJmpPos, join)
	b.setTarget(catchJmpBlk, catchJmpPos, join)

	phi := b.newValue(RCPhi)
	b.insertBefore(normalJmpBlk, normalJmpPos, Instr{Op: OpMove, Dest: phi, Args: []int{bodyVal}})
	b.insertBefore(catchJmpBlk, catchJmpPos, Instr{Op: OpMove, Dest: phi, Args: []int{catchVal}})

	b.cur = join
	return phi
}

// compileTest compiles one ir.Pattern test against scrut, invoking thenFn
// on success and elseFn on failure. Composite patterns (PUnpack/PRecord)
// recurse field by field via compileFieldPatterns.
func (b *builder) compileTest(scrut int, pat *ir.Pattern, thenFn, elseFn func() int) int {
	switch pat.Kind {
	case ir.PWildcard:
		return thenFn()

	case ir.PIdent:
		b.vars[pat.VarID] = scrut
		return thenFn()

	case ir.PConst:
		// If the scrutinee's constant value is already known on this
		// path, the test folds to one arm at build time instead of
		// emitting a runtime comparison (spec.md §4.5).
		if cv, ok := b.tf.ConstOf(scrut); ok {
			if cv == pat.Const {
				return thenFn()
			}
			return elseFn()
		}
		test := b.newValue(RCDisable)
		b.emit(Instr{Op: OpTestCtor, Dest: test, Args: []int{scrut}, Const: pat.Const, Loc: pat.Loc})
		return b.branch(test, thenFn, elseFn)

	case ir.PUnpack:
		// A prior type test on the same logical block path may already
		// have pinned scrut's type; if it matches pat.TypeName exactly,
		// this test is statically known to succeed and compiling it would
		// be redundant (spec.md §4.5: "Unpack patterns with a known
		// scrutinee type emit no type check").
		if known := b.tf.TypeOf(scrut); known == pat.TypeName && known != "" {
			if pat.HasAlias {
				b.vars[pat.AliasID] = scrut
			}
			return b.compileFieldPatterns(scrut, pat.Fields, thenFn, elseFn)
		}
		test := b.newValue(RCDisable)
		b.emit(Instr{Op: OpTestType, Dest: test, Args: []int{scrut}, Str: pat.TypeName, Loc: pat.Loc})
		return b.branch(test, func() int {
			// The then-arm is only reached when scrut's runtime type is
			// known to be pat.TypeName; record that fact for the rest of
			// this logical block so a nested field-type test or constant
			// fold downstream of this unpack can skip a redundant check.
			// branch() undoes it on Exit, so the else-arm never sees it.
			b.tf.AssertType(scrut, pat.TypeName)
			if pat.HasAlias {
				b.vars[pat.AliasID] = scrut
			}
			return b.compileFieldPatterns(scrut, pat.Fields, thenFn, elseFn)
		}, elseFn)

	case ir.PRecord:
		names := make([]string, len(pat.Fields))
		for i, f := range pat.Fields {
			names[i] = f.Name
		}
		test := b.newValue(RCDisable)
		b.emit(Instr{Op: OpTestCtor, Dest: test, Args: []int{scrut}, Str: "record", Names: names, Loc: pat.Loc})
		return b.branch(test, func() int {
			if pat.HasAlias {
				b.vars[pat.AliasID] = scrut
			}
			return b.compileFieldPatterns(scrut, pat.Fields, thenFn, elseFn)
		}, elseFn)

	case ir.PRecordStar:
		// Only valid against a constant-folded record (spec.md §4.3); the
		// IR builder is responsible for rejecting other uses at build
		// time, so by the time SSA sees it the scrutinee is known-record.
		// The test always succeeds here and binds no names.
		return thenFn()
	}
	b.errorf(pat.Loc, "unhandled pattern kind %d", pat.Kind)
	return elseFn()
}

func (b *builder) compileFieldPatterns(scrut int, fields []ir.FieldPattern, thenFn, elseFn func() int) int {
	if len(fields) == 0 {
		return thenFn()
	}
	f := fields[0]
	load := b.newValue(RCDefault)
	b.emit(Instr{Op: OpFieldLoad, Dest: load, Args: []int{scrut}, Str: f.Name})
	return b.compileTest(load, f.Pattern, func() int {
		return b.compileFieldPatterns(scrut, fields[1:], thenFn, elseFn)
	}, elseFn)
}

// compileRows compiles a multi-pattern match as a sequential chain: row i
// is tried only if every earlier row failed. This is a correct, if less
// sharing-optimal, rendering of the classical decision-tree algorithm
// (spec.md §4.5); see DESIGN.md for why this trade was made.
func (b *builder) compileRows(scruts []int, rows []ir.Row, idx int, tail bool) int {
	if idx >= len(rows) {
		dest := b.newValue(RCDefault)
		b.emit(Instr{Op: OpMatchFail, Dest: dest})
		b.checkException(dest)
		return dest
	}
	row := rows[idx]
	return b.compileRowPatterns(scruts, row.Patterns, 0, func() int {
		if row.Guard != nil {
			g := b.compile(row.Guard, false)
			return b.branch(g,
				func() int { return b.compile(row.Body, tail) },
				func() int { return b.compileRows(scruts, rows, idx+1, tail) })
		}
		return b.compile(row.Body, tail)
	}, func() int { return b.compileRows(scruts, rows, idx+1, tail) })
}

func (b *builder) compileRowPatterns(scruts []int, pats []*ir.Pattern, col int, thenFn, elseFn func() int) int {
	if col >= len(pats) {
		return thenFn()
	}
	return b.compileTest(scruts[col], pats[col], func() int {
		return b.compileRowPatterns(scruts, pats, col+1, thenFn, elseFn)
	}, elseFn)
}
