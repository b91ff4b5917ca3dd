// Package vm runs a compiled bytecode.Proto: a threaded-dispatch (plain Go
// switch) interpreter over a single growable register file, addressed by
// frame-relative offsets, the same register-window shape as the teacher's
// own register-machine VM, trimmed of its JIT/native-module machinery since
// none of it survives into this language core.
//
// Exceptions never unwind via Go panic/recover: the SSA builder already
// inserts an explicit "is this exceptional" test after every op that can
// fail or that applies a function (spec.md §4.5) — true for both an
// exception and an exit object, so the latter rethrows unconditionally
// through the same machinery instead of needing its own test. The
// following ISEXC instruction routes control to the right catch block, or
// out through RET if there is none in scope. The VM only needs to know how
// to build that exception value at the handful of places a fault can
// originate.
package vm

import (
	"fmt"
	"math"

	"sentra/internal/ast"
	"sentra/internal/bytecode"
	"sentra/internal/ir"
	"sentra/internal/value"
)

// frame is one call's register window into the shared register file.
type frame struct {
	proto     *bytecode.Proto
	regBase   int
	pc        int
	closure   *value.Function // nil for the top-level unit (no captures)
	returnReg int             // absolute register in the caller's window RET writes into; -1 at the top
}

// Machine is one execution context: its own register file and argument
// stack, so concurrent scripts (or nested module evaluation) never share
// mutable interpreter state.
type Machine struct {
	regs     []value.Value
	regTop   int
	argStack []value.Value
	frames   []*frame
	maxDepth int
}

// DefaultMaxCallDepth mirrors the teacher's own maxCallDepth field: once the
// frame stack would grow past this, a call raises stack_overflow instead of
// growing further, independent of how deep the underlying Go call stack is
// (the dispatch loop never recurses on the Go stack for any bytecode call).
const DefaultMaxCallDepth = 4000

func New() *Machine {
	return &Machine{
		regs:     make([]value.Value, 256),
		maxDepth: DefaultMaxCallDepth,
	}
}

func (m *Machine) ensureRegs(n int) {
	if n <= len(m.regs) {
		return
	}
	grown := len(m.regs) * 2
	if grown < n {
		grown = n
	}
	next := make([]value.Value, grown)
	copy(next, m.regs)
	m.regs = next
}

// Run executes proto from scratch with args bound to its parameters
// (closure-free for the top-level program unit; with closure for a
// synchronous re-entry such as a partial application's saturating call or a
// REPL line). Run is reentrant: a native function invoked from inside an
// already-running dispatch loop may call Run again on the same Machine to
// evaluate a callback to completion before returning to its own caller, and
// each nesting only unwinds back to the frame depth it started from.
func (m *Machine) Run(proto *bytecode.Proto, args []value.Value, closure *value.Function) value.Value {
	base := m.regTop
	m.ensureRegs(base + proto.NumRegs)
	m.regTop = base + proto.NumRegs

	stopDepth := len(m.frames)
	f := &frame{proto: proto, regBase: base, closure: closure, returnReg: -1}
	m.frames = append(m.frames, f)
	for _, a := range args {
		m.argStack = append(m.argStack, a)
	}

	result := m.dispatch(stopDepth)
	m.regTop = base
	return result
}

// dispatch runs until the frame at stopDepth returns, resuming into whichever
// frame is current after every APPLY/APPLYTC/LOOP/RET transition. A nested
// Run call passes its own post-push depth so popping back past it hands
// control back to the caller instead of returning out of dispatch entirely.
func (m *Machine) dispatch(stopDepth int) value.Value {
	f := m.frames[len(m.frames)-1]
	for {
		if f.pc >= len(f.proto.Code) {
			m.regTop = f.regBase
			m.frames = m.frames[:len(m.frames)-1]
			if len(m.frames) <= stopDepth {
				return value.NilValue()
			}
			if f.returnReg >= 0 {
				m.regs[f.returnReg] = value.NilValue()
			}
			f = m.frames[len(m.frames)-1]
			continue
		}
		instr := f.proto.Code[f.pc]
		f.pc++

		switch instr.Op {
		case bytecode.CVAL:
			m.setReg(f, instr.A, constToValue(instr.Const))

		case bytecode.MOV:
			m.setReg(f, instr.A, m.reg(f, instr.B))

		case bytecode.CATCH:
			// marker only: control reaches a catch block exclusively via an
			// explicit JMP compiled from the matching test, never by
			// falling through a dispatch-table lookup.

		case bytecode.PUSH:
			m.argStack = append(m.argStack, m.reg(f, instr.A))

		case bytecode.POP:
			m.setReg(f, instr.A, m.popArg())

		case bytecode.CAP:
			if f.closure != nil && instr.C < len(f.closure.Capture) {
				m.setReg(f, instr.A, f.closure.Capture[instr.C])
			} else {
				m.setReg(f, instr.A, value.NilValue())
			}

		case bytecode.JMP:
			f.pc = instr.Target

		case bytecode.JZE:
			if !value.IsTruthy(m.reg(f, instr.A)) {
				f.pc = instr.Target
			}

		case bytecode.RET:
			var result value.Value = value.NilValue()
			if instr.B >= 0 {
				result = m.reg(f, instr.B)
			}
			m.regTop = f.regBase
			m.frames = m.frames[:len(m.frames)-1]
			if len(m.frames) <= stopDepth {
				return result
			}
			if f.returnReg >= 0 {
				m.regs[f.returnReg] = result
			}
			f = m.frames[len(m.frames)-1]

		case bytecode.APPLY, bytecode.APPLYTC:
			next := m.doApply(f, instr)
			if next != nil {
				f = next
			}

		case bytecode.LOOP:
			f.pc = 0

		case bytecode.MKSCP:
			m.setReg(f, instr.A, value.NewScope(instr.C))

		case bytecode.SCOPEBIND:
			sc, ok := m.reg(f, instr.B).(*value.Scope)
			if ok {
				sc.Bind(instr.C, m.reg(f, instr.A))
			}

		case bytecode.SCOPEGET:
			sc, ok := m.reg(f, instr.B).(*value.Scope)
			if ok {
				m.setReg(f, instr.A, sc.Get(instr.C))
			} else {
				m.setReg(f, instr.A, value.NilValue())
			}

		case bytecode.FN:
			captured := make([]value.Value, len(instr.Regs))
			for i, r := range instr.Regs {
				captured[i] = m.regs[f.regBase+r]
			}
			m.setReg(f, instr.A, value.NewLambda("<closure>", instr.Proto.ParamCount, instr.Proto, captured))

		case bytecode.REF:
			value.Ref(m.reg(f, instr.A))
		case bytecode.UNREF:
			value.Unref(m.reg(f, instr.A))
		case bytecode.DEC:
			value.Dec(m.reg(f, instr.A))
		case bytecode.DROP:
			value.Drop(m.reg(f, instr.A))

		case bytecode.LOAD:
			m.execLoad(f, instr)

		case bytecode.LOADRCRD:
			m.execLoadRecord(f, instr)

		case bytecode.MKRCRD:
			vals := make([]value.Value, len(instr.Regs))
			for i, r := range instr.Regs {
				vals[i] = m.regs[f.regBase+r]
			}
			m.setReg(f, instr.A, value.NewRecord(instr.Names, vals))

		case bytecode.UPDTRCRD:
			m.execUpdateRecord(f, instr)

		case bytecode.ASSERT:
			if value.IsTruthy(m.reg(f, instr.B)) {
				m.setReg(f, instr.A, m.reg(f, instr.B))
			} else {
				m.setReg(f, instr.A, m.runtimeError(value.AssertionFailed, "assertion failed", instr.Loc))
			}

		case bytecode.MATCHFAIL:
			m.setReg(f, instr.A, m.runtimeError(value.TypeError, "no pattern matched", instr.Loc))

		case bytecode.ISEXC:
			tn := typeNameOf(m.reg(f, instr.B))
			m.setReg(f, instr.A, value.Bool_(tn == "exception" || tn == "exit"))

		case bytecode.GETEXN:
			if exc, ok := m.reg(f, instr.B).(*value.Exception); ok {
				m.setReg(f, instr.A, exc.Payload)
			} else {
				m.setReg(f, instr.A, m.reg(f, instr.B))
			}

		case bytecode.TESTTY:
			m.setReg(f, instr.A, value.Bool_(typeNameOf(m.reg(f, instr.B)) == instr.Str))

		case bytecode.TESTRCRD:
			m.setReg(f, instr.A, value.Bool_(hasRecordShape(m.reg(f, instr.B), instr.Names)))

		case bytecode.TESTEQUAL:
			m.setReg(f, instr.A, value.Bool_(constEqual(m.reg(f, instr.B), instr.Const)))

		case bytecode.NEG:
			n, ok := m.reg(f, instr.B).(*value.Number)
			if !ok {
				m.setReg(f, instr.A, m.runtimeError(value.TypeError, "- expects a number", instr.Loc))
				break
			}
			m.setReg(f, instr.A, value.NewNumber(-n.Val))

		case bytecode.NOT:
			n, ok := m.reg(f, instr.B).(*value.Number)
			if !ok {
				m.setReg(f, instr.A, m.runtimeError(value.TypeError, "~ expects a number", instr.Loc))
				break
			}
			m.setReg(f, instr.A, value.NewNumber(float64(^int64(n.Val))))

		case bytecode.LNOT:
			m.setReg(f, instr.A, value.Bool_(!value.IsTruthy(m.reg(f, instr.B))))

		default:
			m.execBinop(f, instr)
		}
	}
}

func (m *Machine) reg(f *frame, i int) value.Value { return m.regs[f.regBase+i] }

func (m *Machine) setReg(f *frame, i int, v value.Value) { m.regs[f.regBase+i] = v }

func (m *Machine) popArg() value.Value {
	n := len(m.argStack)
	if n == 0 {
		return value.NilValue()
	}
	v := m.argStack[n-1]
	m.argStack = m.argStack[:n-1]
	return v
}

func (m *Machine) runtimeError(kind value.ErrorKind, message string, loc ir.Loc) value.Value {
	exc := value.NewRuntimeError(kind, message)
	exc.PushTrace(value.SourceLoc{File: loc.File, Line: loc.Line, Column: loc.Column})
	return exc
}

func constToValue(c interface{}) value.Value {
	switch x := c.(type) {
	case nil:
		return value.NilValue()
	case bool:
		return value.Bool_(x)
	case float64:
		return value.NewNumber(x)
	case int:
		return value.NewNumber(float64(x))
	case string:
		return value.NewString(x)
	case ast.Symbol:
		return value.Intern(string(x))
	case value.Value:
		// Already-constructed runtime values (native functions bound by the
		// module/environment system, interned symbols) ride through IR/SSA
		// constant-folding as opaque payloads; the VM just unwraps them.
		return x
	default:
		return value.NewString(fmt.Sprintf("%v", x))
	}
}

func constEqual(v value.Value, c interface{}) bool {
	switch x := c.(type) {
	case nil:
		_, isNil := v.(*value.Nil)
		return isNil || v == nil
	case bool:
		b, ok := v.(*value.Bool)
		return ok && b.Val == x
	case float64:
		n, ok := v.(*value.Number)
		return ok && n.Val == x
	case int:
		n, ok := v.(*value.Number)
		return ok && n.Val == float64(x)
	case string:
		s, ok := v.(*value.String)
		return ok && s.String() == x
	case ast.Symbol:
		s, ok := v.(*value.Symbol)
		return ok && s.Name == string(x)
	}
	return false
}

func typeNameOf(v value.Value) string {
	if v == nil {
		return "nil"
	}
	h := v.Header()
	if h == nil || h.Type == nil {
		return ""
	}
	return h.Type.Name
}

func hasRecordShape(v value.Value, names []string) bool {
	r, ok := v.(*value.Record)
	if !ok {
		return false
	}
	for _, n := range names {
		if _, present := r.Field(n); !present {
			return false
		}
	}
	return true
}

func (m *Machine) execLoad(f *frame, instr bytecode.Instr) {
	obj := m.reg(f, instr.B)
	r, ok := obj.(*value.Record)
	if !ok {
		m.setReg(f, instr.A, m.runtimeError(value.TypeError, "field access on a non-record value", instr.Loc))
		return
	}
	v, present := r.Field(instr.Str)
	if !present {
		m.setReg(f, instr.A, m.runtimeError(value.AccessError, "no such field: "+instr.Str, instr.Loc))
		return
	}
	m.setReg(f, instr.A, v)
}

func (m *Machine) execLoadRecord(f *frame, instr bytecode.Instr) {
	obj := m.reg(f, instr.B)
	r, ok := obj.(*value.Record)
	if !ok {
		for _, dst := range instr.Regs {
			m.regs[f.regBase+dst] = m.runtimeError(value.TypeError, "field access on a non-record value", instr.Loc)
		}
		return
	}
	for i, name := range instr.Names {
		v, present := r.Field(name)
		if !present {
			v = value.NilValue()
		}
		m.regs[f.regBase+instr.Regs[i]] = v
	}
}

func (m *Machine) execUpdateRecord(f *frame, instr bytecode.Instr) {
	base := m.reg(f, instr.B)
	r, ok := base.(*value.Record)
	if !ok {
		m.setReg(f, instr.A, m.runtimeError(value.TypeError, "record update on a non-record value", instr.Loc))
		return
	}
	vals := make([]value.Value, len(instr.Regs))
	for i, reg := range instr.Regs {
		vals[i] = m.regs[f.regBase+reg]
	}
	m.setReg(f, instr.A, r.With(instr.Names, vals))
}

func (m *Machine) execBinop(f *frame, instr bytecode.Instr) {
	a, b := m.reg(f, instr.B), m.reg(f, instr.C)
	switch instr.Op {
	case bytecode.EQ:
		m.setReg(f, instr.A, value.Bool_(value.Equal(a, b)))
		return
	case bytecode.NEQ:
		m.setReg(f, instr.A, value.Bool_(!value.Equal(a, b)))
		return
	case bytecode.AND:
		m.setReg(f, instr.A, value.Bool_(value.IsTruthy(a) && value.IsTruthy(b)))
		return
	case bytecode.OR:
		m.setReg(f, instr.A, value.Bool_(value.IsTruthy(a) || value.IsTruthy(b)))
		return
	}

	na, aok := a.(*value.Number)
	nb, bok := b.(*value.Number)
	if !aok || !bok {
		m.setReg(f, instr.A, m.runtimeError(value.TypeError, "arithmetic on a non-number value", instr.Loc))
		return
	}
	switch instr.Op {
	case bytecode.ADD:
		m.setReg(f, instr.A, value.NewNumber(na.Val+nb.Val))
	case bytecode.SUB:
		m.setReg(f, instr.A, value.NewNumber(na.Val-nb.Val))
	case bytecode.MUL:
		m.setReg(f, instr.A, value.NewNumber(na.Val*nb.Val))
	case bytecode.DIV:
		// Division by zero is IEEE 754 arithmetic here, not a raised error:
		// spec.md §4.4 allows it to produce ±Inf/NaN, matching both the
		// constant folder (internal/ir/fold.go) and the original's
		// ARITHM_BINOP(DIV, lhs / rhs).
		m.setReg(f, instr.A, value.NewNumber(na.Val/nb.Val))
	case bytecode.MOD:
		m.setReg(f, instr.A, value.NewNumber(math.Mod(na.Val, nb.Val)))
	case bytecode.BAND:
		m.setReg(f, instr.A, value.NewNumber(float64(int64(na.Val)&int64(nb.Val))))
	case bytecode.BOR:
		m.setReg(f, instr.A, value.NewNumber(float64(int64(na.Val)|int64(nb.Val))))
	case bytecode.BXOR:
		m.setReg(f, instr.A, value.NewNumber(float64(int64(na.Val)^int64(nb.Val))))
	case bytecode.BSHL:
		m.setReg(f, instr.A, value.NewNumber(float64(int64(na.Val)<<uint(int64(nb.Val)))))
	case bytecode.BSHR:
		m.setReg(f, instr.A, value.NewNumber(float64(int64(na.Val)>>uint(int64(nb.Val)))))
	case bytecode.LT:
		m.setReg(f, instr.A, value.Bool_(na.Val < nb.Val))
	case bytecode.LE:
		m.setReg(f, instr.A, value.Bool_(na.Val <= nb.Val))
	case bytecode.GT:
		m.setReg(f, instr.A, value.Bool_(na.Val > nb.Val))
	case bytecode.GE:
		m.setReg(f, instr.A, value.Bool_(na.Val >= nb.Val))
	default:
		m.setReg(f, instr.A, m.runtimeError(value.TypeError, "unsupported operator", instr.Loc))
	}
}
