package vm_test

// End-to-end tests driving the full lexer->parser->ir->ssa->bytecode->vm
// pipeline the same way internal/repl and internal/module do, exercising
// the concrete scenarios a complete implementation of this language core
// needs to get right: arithmetic, non-tail and tail recursion, record
// update, and exception/exit propagation through try/catch.

import (
	"math"
	"testing"

	"sentra/internal/bytecode"
	"sentra/internal/ir"
	"sentra/internal/lexer"
	"sentra/internal/module"
	"sentra/internal/parser"
	"sentra/internal/ssa"
	"sentra/internal/value"
	"sentra/internal/vm"
)

func eval(t *testing.T, src string) value.Value {
	t.Helper()
	tokens := lexer.NewScanner(src).ScanTokens()
	root, perrs := parser.Parse(tokens, "<test>")
	if len(perrs) != 0 {
		t.Fatalf("parse error: %v", perrs[0])
	}
	iu, ierrs := ir.Build(root, module.DefaultGlobals())
	if len(ierrs) != 0 {
		t.Fatalf("ir error: %v", ierrs[0])
	}
	su, serrs := ssa.Build(iu)
	if len(serrs) != 0 {
		t.Fatalf("ssa error: %v", serrs[0])
	}
	proto := bytecode.Compile(su, "<test>")
	return vm.New().Run(proto, nil, nil)
}

func wantNumber(t *testing.T, v value.Value, want float64) {
	t.Helper()
	n, ok := v.(*value.Number)
	if !ok {
		t.Fatalf("expected a number, got %T (%v)", v, v)
	}
	if n.Val != want {
		t.Fatalf("got %v, want %v", n.Val, want)
	}
}

func TestArithmeticPrecedence(t *testing.T) {
	wantNumber(t, eval(t, "1 + 2 * 3"), 7)
}

func TestFibonacciNonTail(t *testing.T) {
	src := `let rec f n = if n < 2 then n else f(n-1) + f(n-2) in f(10)`
	wantNumber(t, eval(t, src), 55)
}

func TestFactorialNonTail(t *testing.T) {
	src := `let rec fact n = if n == 0 then 1 else n * fact(n-1) in fact(20)`
	wantNumber(t, eval(t, src), 2432902008176640000)
}

// TestFactorialTailCallDoesNotGrowStack checks spec.md §4.1/§4.7's O(1)
// frame-growth guarantee for a self-tail-call: fact_tail's recursive call
// sits directly in tail position of both if-arms, so ssa's compileApply
// lowers it to LOOP (frame reuse) rather than APPLY. Driving it past
// DefaultMaxCallDepth (4000) would overflow the frame stack under ordinary
// recursion; it must not here.
func TestFactorialTailCallDoesNotGrowStack(t *testing.T) {
	src := `let rec fact_tail n a = if n == 0 then a else fact_tail(n-1, n*a) in fact_tail(10000, 1)`
	result := eval(t, src)
	if exc, ok := result.(*value.Exception); ok {
		t.Fatalf("unexpected exception (want no stack overflow): %v", exc.Payload)
	}
	if _, ok := result.(*value.Number); !ok {
		t.Fatalf("expected a number, got %T (%v)", result, result)
	}
}

// TestRuntimeDivisionByZeroYieldsInf checks spec.md §4.4 at the VM level,
// where the divisor isn't a compile-time constant so the IR folder never
// sees it: 1/x must produce +Inf, the same IEEE semantics as the folded
// constant case, not a raised division_by_zero exception.
func TestRuntimeDivisionByZeroYieldsInf(t *testing.T) {
	result := eval(t, "(fn x -> 1 / x)(0)")
	n, ok := result.(*value.Number)
	if !ok {
		t.Fatalf("expected a number, got %T (%v)", result, result)
	}
	if !math.IsInf(n.Val, 1) {
		t.Fatalf("got %v, want +Inf", n.Val)
	}
}

func TestRecordUpdateKeepsOtherFields(t *testing.T) {
	src := `{ x = 1, y = 2 } with { y = 20 }`
	result := eval(t, src)
	rec, ok := result.(*value.Record)
	if !ok {
		t.Fatalf("expected a record, got %T", result)
	}
	x, _ := rec.Field("x")
	y, _ := rec.Field("y")
	wantNumber(t, x, 1)
	wantNumber(t, y, 20)
}

func TestTryCatchMatchesPayload(t *testing.T) {
	src := "try raise(`foo) catch | `foo -> 42 | _ -> 0"
	wantNumber(t, eval(t, src), 42)
}

func TestTryCatchFallsThroughToMatchingArm(t *testing.T) {
	src := "try raise(`bar) catch | `foo -> 1 | _ -> 42"
	wantNumber(t, eval(t, src), 42)
}

// TestTryNeverAbsorbsExit checks spec.md §4.4: an exit object must rethrow
// unconditionally through every enclosing try, never matching a catch
// pattern (even a wildcard).
func TestTryNeverAbsorbsExit(t *testing.T) {
	src := "try exit(3) catch | _ -> 42"
	result := eval(t, src)
	exit, ok := result.(*value.Exit)
	if !ok {
		t.Fatalf("expected an *value.Exit to escape uncaught, got %T (%v)", result, result)
	}
	if exit.Status != 3 {
		t.Fatalf("got exit status %d, want 3", exit.Status)
	}
}

// TestTryCatchesFirstOfTwoThrowingOps guards against a try body with more
// than one throwing operation delivering the wrong exception to the catch:
// raise(`second) must never even run, since raise(`first) throws first and
// control leaves the try body right there.
func TestTryCatchesFirstOfTwoThrowingOps(t *testing.T) {
	src := "try raise(`first) + raise(`second) catch | `first -> 1 | `second -> 2 | _ -> 0"
	wantNumber(t, eval(t, src), 1)
}

func TestUncaughtExceptionPropagatesOutOfUnit(t *testing.T) {
	result := eval(t, "raise(`boom)")
	exc, ok := result.(*value.Exception)
	if !ok {
		t.Fatalf("expected an *value.Exception, got %T (%v)", result, result)
	}
	sym, ok := exc.Payload.(*value.Symbol)
	if !ok || sym.Name != "boom" {
		t.Fatalf("got payload %+v, want symbol boom", exc.Payload)
	}
}
