package ssa

// insertRC walks every RCDefault value and inserts the REF/UNREF/DEC/DROP
// traffic spec.md §4.5 describes: a value with no forward use is floating
// and gets DROP'd at creation; a value whose last use borrows it gets an
// UNREF right after that use; a value whose last use kills it (consumed by
// APPLY/RET/LOOP) or moves it into a container needs no extra instruction,
// since the composite constructors in package value already Ref() what
// they store (NewPair, NewRecord, Scope.Bind, NewLambda's capture copy,
// NewException's payload) — moving ownership into them is therefore
// already accounted for at the runtime layer, and a second SSA-level REF
// would only double-count it.
//
// Branch-local analysis is extended with one piece of cross-block
// awareness: when a value created before a branch point is used in
// exactly one of the two arms, the other arm gets a compensating UNREF
// (spec.md §4.5 step 3, "force_kill") so a path that never touches the
// value still releases it.
func insertRC(u *Unit, branches []branchInfo) {
	for id := 0; id < u.NValues; id++ {
		v := u.Values[id]
		if v == nil || v.RC != RCDefault {
			continue
		}
		uses := findUses(u, id)
		if len(uses) == 0 {
			emitDropAtCreation(u, v)
			continue
		}
		last := uses[len(uses)-1]
		switch classifyUse(u, last) {
		case useBorrowing:
			insertAfter(u, last, Instr{Op: OpUnref, Dest: -1, Args: []int{id}})
		case useKilling, useMoving:
			// ownership transferred; nothing to emit.
		}
		compensateBranches(u, id, uses, branches)
	}
}

type use struct {
	blk, pos int
}

// findUses returns every instruction (in block-array order, which matches
// creation order for the straight-line/branch/join shapes the builder
// produces) whose Args reference id, restricted to instructions reachable
// after id's own creation site.
func findUses(u *Unit, id int) []use {
	v := u.Values[id]
	startBlk, startPos := 0, -1
	if v.Creation >= 0 {
		startBlk, startPos = decodeSite(v.Creation)
	}
	var uses []use
	for bi := startBlk; bi < len(u.Blocks); bi++ {
		instrs := u.Blocks[bi].Instrs
		from := 0
		if bi == startBlk {
			from = startPos + 1
		}
		for pi := from; pi < len(instrs); pi++ {
			if containsArg(instrs[pi].Args, id) {
				uses = append(uses, use{bi, pi})
			}
		}
	}
	return uses
}

func containsArg(args []int, id int) bool {
	for _, a := range args {
		if a == id {
			return true
		}
	}
	return false
}

type useClass int

const (
	useBorrowing useClass = iota
	useKilling
	useMoving
)

func classifyUse(u *Unit, us use) useClass {
	op := u.Blocks[us.blk].Instrs[us.pos].Op
	switch op {
	case OpApply, OpApplyTC, OpRet, OpLoop:
		return useKilling
	case OpMove, OpMakeRecord, OpUpdateRecord, OpFn, OpScopeBind:
		return useMoving
	default:
		return useBorrowing
	}
}

func emitDropAtCreation(u *Unit, v *Value) {
	if v.Creation < 0 {
		// argument/capture value never used: still owned by this frame,
		// drop it right at function entry (front of the entry block).
		insertAt(u, 0, 0, Instr{Op: OpDrop, Dest: -1, Args: []int{v.ID}})
		return
	}
	blk, pos := decodeSite(v.Creation)
	insertAfterAt(u, blk, pos, Instr{Op: OpDrop, Dest: -1, Args: []int{v.ID}})
}

func insertAfter(u *Unit, at use, instr Instr) {
	insertAfterAt(u, at.blk, at.pos, instr)
}

func insertAfterAt(u *Unit, blk, pos int, instr Instr) {
	insertAt(u, blk, pos+1, instr)
}

func insertAt(u *Unit, blk, pos int, instr Instr) {
	block := u.Blocks[blk]
	block.Instrs = append(block.Instrs, Instr{})
	copy(block.Instrs[pos+1:], block.Instrs[pos:])
	block.Instrs[pos] = instr
}

// compensateBranches inserts the force_kill UNREF described above: if id
// was created strictly before a branch's decision point and is used
// somewhere in exactly one arm's block range, the other arm releases it
// just before leaving (right before its terminating jump).
func compensateBranches(u *Unit, id int, uses []use, branches []branchInfo) {
	for _, br := range branches {
		inThen := usedInRange(uses, br.thenLo, br.thenHi)
		inElse := usedInRange(uses, br.elseLo, br.elseHi)
		if inThen == inElse {
			continue // used in both, or neither: no compensation needed
		}
		if inThen {
			insertEndOfArm(u, br.elseLo, br.elseHi, id)
		} else {
			insertEndOfArm(u, br.thenLo, br.thenHi, id)
		}
	}
}

func usedInRange(uses []use, lo, hi int) bool {
	for _, us := range uses {
		if us.blk >= lo && us.blk <= hi {
			return true
		}
	}
	return false
}

// insertEndOfArm inserts a compensating UNREF right before the arm's
// terminating jump, in its last block.
func insertEndOfArm(u *Unit, lo, hi int, id int) {
	if hi < lo {
		return
	}
	block := u.Blocks[hi]
	pos := len(block.Instrs) - 1
	if pos < 0 {
		pos = 0
	}
	insertAt(u, hi, pos, Instr{Op: OpUnref, Dest: -1, Args: []int{id}})
}
