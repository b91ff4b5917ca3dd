package ssa

import (
	"fmt"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/enum"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"
)

// DumpLLVM renders a best-effort LLVM IR text form of u, for eyeballing the
// arithmetic/control skeleton an SSA unit lowers to without reading the raw
// Instr slice. It is not a code generation backend: the refcounted value
// model (closures, records, pairs, exceptions) has no first-class LLVM
// counterpart, so any instruction outside plain i64 arithmetic and control
// flow is rendered as a zero placeholder rather than skipped silently, which
// keeps block/value numbering stable across a dump even when most of a
// realistic unit falls outside what this renders faithfully. Never called
// from the bytecode/VM path; this exists purely as a debugging aid.
func DumpLLVM(u *Unit, name string) string {
	m := ir.NewModule()
	blocks := make([]*ir.Block, len(u.Blocks))

	params := make([]*ir.Param, u.ParamCount)
	for i := range params {
		params[i] = ir.NewParam(fmt.Sprintf("arg%d", i), types.I64)
	}
	fn := m.NewFunc(name, types.I64, params...)
	for i := range u.Blocks {
		blocks[i] = fn.NewBlock(fmt.Sprintf("bb%d", i))
	}

	for i, blk := range u.Blocks {
		dumpBlock(blocks, i, blk)
	}
	return m.String()
}

func dumpBlock(blocks []*ir.Block, idx int, blk *Block) {
	b := blocks[idx]
	regs := make(map[int]value.Value)
	zero := constant.NewInt(types.I64, 0)

	get := func(id int) value.Value {
		if v, ok := regs[id]; ok {
			return v
		}
		return zero
	}

	for _, instr := range blk.Instrs {
		switch instr.Op {
		case OpConst:
			switch c := instr.Const.(type) {
			case int:
				regs[instr.Dest] = constant.NewInt(types.I64, int64(c))
			case int64:
				regs[instr.Dest] = constant.NewInt(types.I64, c)
			default:
				regs[instr.Dest] = zero
			}
		case OpMove:
			if len(instr.Args) == 1 {
				regs[instr.Dest] = get(instr.Args[0])
			}
		case OpBinop:
			if len(instr.Args) != 2 {
				continue
			}
			lhs, rhs := get(instr.Args[0]), get(instr.Args[1])
			switch instr.Str {
			case "+":
				regs[instr.Dest] = b.NewAdd(lhs, rhs)
			case "-":
				regs[instr.Dest] = b.NewSub(lhs, rhs)
			case "*":
				regs[instr.Dest] = b.NewMul(lhs, rhs)
			case "/":
				regs[instr.Dest] = b.NewSDiv(lhs, rhs)
			case "%":
				regs[instr.Dest] = b.NewSRem(lhs, rhs)
			default:
				regs[instr.Dest] = zero
			}
		case OpJmp:
			b.NewBr(blocks[instr.Target])
			return
		case OpBranch:
			if len(instr.Args) != 1 {
				b.NewBr(blocks[instr.Target])
				return
			}
			cond := get(instr.Args[0])
			nonZero := b.NewICmp(enum.IPredNE, cond, zero)
			b.NewCondBr(nonZero, blocks[instr.Target], blocks[instr.Target2])
			return
		case OpRet:
			if len(instr.Args) == 1 {
				b.NewRet(get(instr.Args[0]))
			} else {
				b.NewRet(zero)
			}
			return
		default:
			if instr.Dest >= 0 {
				regs[instr.Dest] = zero
			}
		}
	}
	if b.Term == nil {
		b.NewRet(zero)
	}
}
