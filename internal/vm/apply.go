package vm

import (
	"sentra/internal/bytecode"
	"sentra/internal/ir"
	"sentra/internal/value"
)

// flattenCallable walks a chain of partial applications down to the
// underlying *value.Function and the ordered list of arguments already
// supplied to it, outermost application last (the order those arguments
// were originally applied in).
func flattenCallable(v value.Value) (*value.Function, []value.Value) {
	switch x := v.(type) {
	case *value.Function:
		return x, nil
	case *value.Partial:
		target, pre := flattenCallable(x.Target)
		if target == nil {
			return nil, nil
		}
		given := make([]value.Value, 0, len(pre)+len(x.Given))
		given = append(given, pre...)
		given = append(given, x.Given...)
		return target, given
	}
	return nil, nil
}

// takeArgs removes and returns the last n values pushed onto the shared
// argument stack, left-to-right (PUSH appends in argument order, so the
// final n entries already read left to right).
func (m *Machine) takeArgs(n int) []value.Value {
	if n == 0 {
		return nil
	}
	start := len(m.argStack) - n
	out := append([]value.Value{}, m.argStack[start:]...)
	m.argStack = m.argStack[:start]
	return out
}

func (m *Machine) dropArgs(n int) {
	if n == 0 {
		return
	}
	m.argStack = m.argStack[:len(m.argStack)-n]
}

// spliceGivenArgs inserts a resolved partial's already-supplied arguments
// just beneath the n freshly pushed ones, so the callee's ordinary POP
// prologue recovers the full left-to-right parameter list without having to
// know anything about partial application at all.
func (m *Machine) spliceGivenArgs(given []value.Value, n int) {
	insertAt := len(m.argStack) - n
	combined := make([]value.Value, 0, len(given)+n)
	combined = append(combined, given...)
	combined = append(combined, m.argStack[insertAt:]...)
	m.argStack = append(m.argStack[:insertAt], combined...)
}

// enterFrame starts proto running at regBase, either pushing a new frame
// (an ordinary call) or replacing the machine's current top frame in place
// (a tail call), so a self- or mutually-recursive tail chain never grows the
// frame slice no matter how deep it runs.
func (m *Machine) enterFrame(proto *bytecode.Proto, closure *value.Function, regBase, returnReg int, replace bool) *frame {
	m.ensureRegs(regBase + proto.NumRegs)
	m.regTop = regBase + proto.NumRegs
	nf := &frame{proto: proto, regBase: regBase, closure: closure, returnReg: returnReg}
	if replace {
		m.frames[len(m.frames)-1] = nf
	} else {
		m.frames = append(m.frames, nf)
	}
	return nf
}

// doApply implements both APPLY and APPLYTC: resolve fnVal (a plain
// function or a chain of partial applications) against the nargs arguments
// already pushed onto the argument stack, and either
//   - materialize a new, larger Partial (too few arguments),
//   - apply the function to its first arguments and the result to the
//     rest (too many, via applyFull),
//   - raise an apply_error exception (not callable at all),
//   - call straight into a native Go function, or
//   - hand off to a compiled lambda's own frame.
//
// It returns the frame dispatch should continue on: non-nil only when a new
// bytecode frame was entered, since the native/partial/error paths write
// their result directly into the caller's destination register and let the
// same frame keep running.
func (m *Machine) doApply(f *frame, instr bytecode.Instr) *frame {
	fnVal := m.reg(f, instr.B)
	nargs := instr.C
	dst := f.regBase + instr.A

	targetFn, given := flattenCallable(fnVal)
	if targetFn == nil {
		m.dropArgs(nargs)
		m.regs[dst] = m.runtimeError(value.ApplyError, "attempt to call a non-function value", instr.Loc)
		return nil
	}

	need := targetFn.Arity - len(given)
	switch {
	case nargs < need:
		newGiven := append(append([]value.Value{}, given...), m.takeArgs(nargs)...)
		m.regs[dst] = value.NewPartial(targetFn, newGiven)
		return nil
	case nargs > need:
		// Over-supplied: saturate targetFn with its first `need` arguments,
		// then apply whatever is left over to the result (spec.md §8
		// boundary behavior), recursing since the result may itself take
		// only some of the remainder.
		allArgs := append(append([]value.Value{}, given...), m.takeArgs(nargs)...)
		m.regs[dst] = m.applyFull(targetFn, allArgs, instr.Loc)
		return nil
	}

	if targetFn.IsNative {
		newArgs := m.takeArgs(nargs)
		allArgs := append(append([]value.Value{}, given...), newArgs...)
		result, exc := targetFn.Native(allArgs)
		if exc != nil {
			m.regs[dst] = exc
		} else {
			m.regs[dst] = result
		}
		return nil
	}

	proto, ok := targetFn.Proto.(*bytecode.Proto)
	if !ok {
		m.dropArgs(nargs)
		m.regs[dst] = m.runtimeError(value.ApplyError, "callable has no compiled body", instr.Loc)
		return nil
	}

	isTail := instr.Op == bytecode.APPLYTC
	if !isTail && len(m.frames) >= m.maxDepth {
		m.dropArgs(nargs)
		m.regs[dst] = m.runtimeError(value.StackOverflow, "call stack exhausted", instr.Loc)
		return nil
	}

	if len(given) > 0 {
		m.spliceGivenArgs(given, nargs)
	}
	// else: the nargs already on top of argStack are exactly the callee's
	// full parameter list; its own POP prologue consumes them directly.

	if isTail {
		return m.enterFrame(proto, targetFn, f.regBase, f.returnReg, true)
	}
	return m.enterFrame(proto, targetFn, m.regTop, dst, false)
}

// applyFull fully applies target to args synchronously, used only by the
// over-application path (the exact-arity and partial-application paths above
// stay on the frame-reuse fast path). When len(args) exceeds target's arity
// it calls target with the first Arity of them and re-applies whatever is
// left to the result, recursing since that result may itself be a function
// needing only some of the remainder.
func (m *Machine) applyFull(target *value.Function, args []value.Value, loc ir.Loc) value.Value {
	need := target.Arity
	if len(args) < need {
		return value.NewPartial(target, args)
	}

	var result value.Value
	if target.IsNative {
		r, exc := target.Native(args[:need])
		if exc != nil {
			result = exc
		} else {
			result = r
		}
	} else {
		proto, ok := target.Proto.(*bytecode.Proto)
		if !ok {
			return m.runtimeError(value.ApplyError, "callable has no compiled body", loc)
		}
		result = m.Run(proto, args[:need], target)
	}

	rest := args[need:]
	if len(rest) == 0 {
		return result
	}
	switch result.(type) {
	case *value.Exception, *value.Exit:
		return result
	}
	nextTarget, nextGiven := flattenCallable(result)
	if nextTarget == nil {
		return m.runtimeError(value.ApplyError, "attempt to call a non-function value", loc)
	}
	combined := append(append([]value.Value{}, nextGiven...), rest...)
	return m.applyFull(nextTarget, combined, loc)
}
