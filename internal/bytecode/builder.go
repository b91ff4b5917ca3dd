package bytecode

import "sentra/internal/ssa"

// Compile linearizes one ssa.Unit into a Proto. Block-indexed jumps become
// absolute program counters; ssa value ids become dense registers assigned
// by a first-free-slot allocator that frees a register the instant the RC
// pass already decided the value's lifetime ends (its last use, or its
// DROP/UNREF/DEC instruction) — register pressure falls directly out of the
// ownership analysis instead of needing its own liveness pass.
func Compile(u *ssa.Unit, name string) *Proto {
	flat, blockStart, blockOf := flatten(u)
	last := computeLastUse(flat)

	cb := &cbuilder{
		u:          u,
		flat:       flat,
		blockStart: blockStart,
		blockOf:    blockOf,
		last:       last,
		regOf:      map[int]int{},
		proto:      &Proto{Name: name, ParamCount: u.ParamCount, NumCaptures: u.NumCaptures},
	}
	cb.prologue()
	cb.run()
	cb.patchJumps()
	return cb.proto
}

// flatten concatenates a unit's blocks into one program-order instruction
// list and records, per block, the program counter its first instruction
// lands at (even for an empty block, pointing at where the next
// instruction will start — jumping there simply falls through).
func flatten(u *ssa.Unit) (flat []ssa.Instr, blockStart []int, blockOf []int) {
	blockStart = make([]int, len(u.Blocks))
	pc := 0
	for i, blk := range u.Blocks {
		blockStart[i] = pc
		pc += len(blk.Instrs)
	}
	flat = make([]ssa.Instr, 0, pc)
	blockOf = make([]int, 0, pc)
	for i, blk := range u.Blocks {
		flat = append(flat, blk.Instrs...)
		for range blk.Instrs {
			blockOf = append(blockOf, i)
		}
	}
	return flat, blockStart, blockOf
}

// computeLastUse maps a value id to the flat program counter of the last
// instruction that reads it as an argument. Every RCDefault value's
// lifetime-ending instruction (its DROP/UNREF, or the APPLY/RET/LOOP/MOV
// that kills or moves it) already appears as an explicit use here, so the
// bytecode builder's register allocator rides on the same pass.
func computeLastUse(flat []ssa.Instr) map[int]int {
	last := map[int]int{}
	for pc, ins := range flat {
		for _, a := range ins.Args {
			last[a] = pc
		}
	}
	return last
}

type cbuilder struct {
	u          *ssa.Unit
	flat       []ssa.Instr
	blockStart []int
	blockOf    []int
	last       map[int]int

	regOf    map[int]int
	nextReg  int
	freeList []int

	// codePC maps a flat ssa program counter to the Proto.Code index its
	// translation begins at (after any CATCH marker for its block).
	// JMP/JZE targets are emitted holding the flat pc they jump to and
	// patchJumps rewrites them to real Code indices once every ssa
	// instruction has been translated, since forward jumps can't resolve
	// their destination's Code index before it has been emitted.
	codePC []int

	proto *Proto
}

func (cb *cbuilder) reg(id int) int {
	if r, ok := cb.regOf[id]; ok {
		return r
	}
	var r int
	if n := len(cb.freeList); n > 0 {
		r = cb.freeList[n-1]
		cb.freeList = cb.freeList[:n-1]
	} else {
		r = cb.nextReg
		cb.nextReg++
	}
	cb.regOf[id] = r
	if r+1 > cb.proto.NumRegs {
		cb.proto.NumRegs = r + 1
	}
	return r
}

func (cb *cbuilder) free(id int) {
	if r, ok := cb.regOf[id]; ok {
		cb.freeList = append(cb.freeList, r)
		delete(cb.regOf, id)
	}
}

func (cb *cbuilder) emit(instr Instr) { cb.proto.Code = append(cb.proto.Code, instr) }

// prologue reserves registers 0..ParamCount-1 for the callee's own
// parameters and the following NumCaptures registers for its closed-over
// values, in the same order buildUnit assigned their ssa ids, and emits the
// POP/CAP instructions the VM's calling convention expects at frame entry.
func (cb *cbuilder) prologue() {
	for p := 0; p < cb.proto.ParamCount; p++ {
		cb.reg(p) // pre-allocate in ascending order so register number == param index
	}
	// the caller PUSHes arguments left to right, so the last-pushed (the
	// final argument) is on top of the stack; popping parameters in
	// reverse order restores left-to-right assignment.
	for p := cb.proto.ParamCount - 1; p >= 0; p-- {
		cb.emit(Instr{Op: POP, A: cb.regOf[p]})
	}
	for i := 0; i < cb.proto.NumCaptures; i++ {
		id := cb.proto.ParamCount + i
		r := cb.reg(id)
		cb.emit(Instr{Op: CAP, A: r, C: i})
	}
}

func (cb *cbuilder) run() {
	cb.codePC = make([]int, len(cb.flat))
	for pc, ins := range cb.flat {
		if cb.blockStart[cb.blockOf[pc]] == pc && cb.u.Blocks[cb.blockOf[pc]].IsCatch {
			idx := len(cb.proto.CatchTable)
			cb.proto.CatchTable = append(cb.proto.CatchTable, CatchEntry{PC: len(cb.proto.Code)})
			cb.emit(Instr{Op: CATCH, Idx: idx, Loc: ins.Loc})
		}
		cb.codePC[pc] = len(cb.proto.Code)

		var dst int
		if ins.Dest >= 0 {
			dst = cb.reg(ins.Dest)
		}
		args := make([]int, len(ins.Args))
		for i, a := range ins.Args {
			args[i] = cb.reg(a)
		}

		cb.emitOne(ins, dst, args)

		for _, a := range ins.Args {
			if cb.last[a] == pc {
				cb.free(a)
			}
		}
	}
}

// patchJumps rewrites JMP/JZE Target fields from the flat ssa program
// counter recorded at emission time into the real Proto.Code index.
func (cb *cbuilder) patchJumps() {
	resolve := func(flatPC int) int {
		if flatPC >= len(cb.codePC) {
			return len(cb.proto.Code)
		}
		return cb.codePC[flatPC]
	}
	for i, instr := range cb.proto.Code {
		if instr.Op == JMP || instr.Op == JZE {
			cb.proto.Code[i].Target = resolve(instr.Target)
		}
	}
}

func (cb *cbuilder) emitOne(ins ssa.Instr, dst int, args []int) {
	switch ins.Op {
	case ssa.OpConst:
		cb.emit(Instr{Op: CVAL, A: dst, Const: ins.Const, Loc: ins.Loc})

	case ssa.OpMove:
		cb.emit(Instr{Op: MOV, A: dst, B: args[0], Loc: ins.Loc})

	case ssa.OpBinop:
		op, ok := binopTable[ins.Str]
		if !ok {
			op = ADD
		}
		cb.emit(Instr{Op: op, A: dst, B: args[0], C: args[1], Loc: ins.Loc})

	case ssa.OpUnop:
		op := NEG
		if ins.Str == "not" || ins.Str == "!" {
			op = LNOT
		} else if ins.Str == "~" {
			op = NOT
		}
		cb.emit(Instr{Op: op, A: dst, B: args[0], Loc: ins.Loc})

	case ssa.OpApply, ssa.OpApplyTC:
		for _, r := range args[1:] {
			cb.emit(Instr{Op: PUSH, A: r})
		}
		op := APPLY
		if ins.Op == ssa.OpApplyTC {
			op = APPLYTC
		}
		cb.emit(Instr{Op: op, A: dst, B: args[0], C: len(args) - 1, Loc: ins.Loc})

	case ssa.OpLoop:
		for _, r := range args {
			cb.emit(Instr{Op: PUSH, A: r})
		}
		cb.emit(Instr{Op: LOOP, C: len(args), Loc: ins.Loc})

	case ssa.OpJmp:
		cb.emit(Instr{Op: JMP, Target: cb.blockStart[ins.Target]})

	case ssa.OpBranch:
		// by construction, branch()/checkException() always place the
		// true-arm block immediately after the one ending in this
		// instruction, so JZE on the false target is enough; no
		// unconditional JMP is needed for the fallthrough true arm.
		cb.emit(Instr{Op: JZE, A: args[0], Target: cb.blockStart[ins.Target2]})

	case ssa.OpFieldLoad:
		cb.emit(Instr{Op: LOAD, A: dst, B: args[0], Str: ins.Str, Loc: ins.Loc})

	case ssa.OpLoadRecord:
		cb.emit(Instr{Op: LOADRCRD, B: args[0], Names: ins.Names, Regs: []int{dst}, Loc: ins.Loc})

	case ssa.OpMakeRecord:
		cb.emit(Instr{Op: MKRCRD, A: dst, Regs: args, Names: ins.Names, Loc: ins.Loc})

	case ssa.OpUpdateRecord:
		cb.emit(Instr{Op: UPDTRCRD, A: dst, B: args[0], Regs: args[1:], Names: ins.Names, Loc: ins.Loc})

	case ssa.OpFn:
		nested := Compile(ins.FnUnit, "<closure>")
		cb.emit(Instr{Op: FN, A: dst, Proto: nested, Regs: args, Loc: ins.Loc})

	case ssa.OpMakeScope:
		cb.emit(Instr{Op: MKSCP, A: dst, C: ins.Index, Loc: ins.Loc})

	case ssa.OpScopeBind:
		cb.emit(Instr{Op: SCOPEBIND, B: args[0], C: ins.Index, A: args[1], Loc: ins.Loc})

	case ssa.OpScopeGet:
		cb.emit(Instr{Op: SCOPEGET, A: dst, B: args[0], C: ins.Index, Loc: ins.Loc})

	case ssa.OpRet:
		b := -1
		if len(args) > 0 {
			b = args[0]
		}
		cb.emit(Instr{Op: RET, B: b, Loc: ins.Loc})

	case ssa.OpAssert:
		cb.emit(Instr{Op: ASSERT, A: dst, B: args[0], Loc: ins.Loc})

	case ssa.OpMatchFail:
		cb.emit(Instr{Op: MATCHFAIL, A: dst, Loc: ins.Loc})

	case ssa.OpIsExceptional:
		cb.emit(Instr{Op: ISEXC, A: dst, B: args[0], Loc: ins.Loc})

	case ssa.OpGetExn:
		cb.emit(Instr{Op: GETEXN, A: dst, B: args[0], Loc: ins.Loc})

	case ssa.OpTestType:
		cb.emit(Instr{Op: TESTTY, A: dst, B: args[0], Str: ins.Str, Loc: ins.Loc})

	case ssa.OpTestCtor:
		if len(ins.Names) > 0 || ins.Str == "record" {
			cb.emit(Instr{Op: TESTRCRD, A: dst, B: args[0], Names: ins.Names, Loc: ins.Loc})
		} else {
			cb.emit(Instr{Op: TESTEQUAL, A: dst, B: args[0], Const: ins.Const, Loc: ins.Loc})
		}

	case ssa.OpRef:
		cb.emit(Instr{Op: REF, A: args[0], Loc: ins.Loc})
	case ssa.OpUnref:
		cb.emit(Instr{Op: UNREF, A: args[0], Loc: ins.Loc})
	case ssa.OpDec:
		cb.emit(Instr{Op: DEC, A: args[0], Loc: ins.Loc})
	case ssa.OpDrop:
		cb.emit(Instr{Op: DROP, A: args[0], Loc: ins.Loc})
	}
}
