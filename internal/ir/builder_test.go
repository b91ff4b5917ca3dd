package ir

import (
	"math"
	"testing"

	"sentra/internal/ast"
)

func loc() ast.Loc { return ast.Loc{File: "t", Line: 1, Column: 1} }

func TestConstantFoldingArithmetic(t *testing.T) {
	// 1 + 2 * 3
	mul := ast.Binop(loc(), "*", ast.Const(loc(), 2.0), ast.Const(loc(), 3.0))
	add := ast.Binop(loc(), "+", ast.Const(loc(), 1.0), mul)
	u, errs := Build(add, nil)
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if u.Body.Kind != KConst {
		t.Fatalf("expected folded constant, got kind %v", u.Body.Kind)
	}
	if u.Body.Const.(float64) != 7 {
		t.Fatalf("got %v, want 7", u.Body.Const)
	}
}

func TestIfWithConstantConditionFolds(t *testing.T) {
	n := ast.If(loc(), ast.Const(loc(), true), ast.Const(loc(), 1.0), ast.Const(loc(), 2.0))
	u, errs := Build(n, nil)
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if u.Body.Kind != KConst || u.Body.Const.(float64) != 1 {
		t.Fatalf("expected folded then-branch, got %+v", u.Body)
	}
}

// TestConstantFoldingDivisionByZeroYieldsInf checks spec.md §4.4: division
// by a constant zero folds to IEEE Inf/NaN rather than a build-time error.
func TestConstantFoldingDivisionByZeroYieldsInf(t *testing.T) {
	div := ast.Binop(loc(), "/", ast.Const(loc(), 1.0), ast.Const(loc(), 0.0))
	u, errs := Build(div, nil)
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if u.Body.Kind != KConst {
		t.Fatalf("expected folded constant, got kind %v", u.Body.Kind)
	}
	if !math.IsInf(u.Body.Const.(float64), 1) {
		t.Fatalf("got %v, want +Inf", u.Body.Const)
	}
}

// TestConstantFoldingModuloByZeroYieldsNaN mirrors the division case for %,
// matching math.Mod's (and the original's fmod's) NaN-on-zero-divisor
// behavior rather than truncating integer modulo.
func TestConstantFoldingModuloByZeroYieldsNaN(t *testing.T) {
	mod := ast.Binop(loc(), "%", ast.Const(loc(), 1.0), ast.Const(loc(), 0.0))
	u, errs := Build(mod, nil)
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if u.Body.Kind != KConst {
		t.Fatalf("expected folded constant, got kind %v", u.Body.Kind)
	}
	if !math.IsNaN(u.Body.Const.(float64)) {
		t.Fatalf("got %v, want NaN", u.Body.Const)
	}
}

func TestUnresolvedIdentifierIsAnError(t *testing.T) {
	_, errs := Build(ast.Ident(loc(), "nope"), nil)
	if len(errs) == 0 {
		t.Fatalf("expected an unresolved-identifier error")
	}
}

func TestLetBindsAndResolves(t *testing.T) {
	// let x = 5 in x + 1
	body := ast.Binop(loc(), "+", ast.Ident(loc(), "x"), ast.Const(loc(), 1.0))
	letNode := ast.Let(loc(), []ast.Binding{{Pattern: ast.IdentPattern(loc(), "x", nil), Value: ast.Const(loc(), 5.0)}}, body)
	u, errs := Build(letNode, nil)
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if u.Body.Kind != KConst || u.Body.Const.(float64) != 6 {
		t.Fatalf("expected let of a constant to bind x as a constant and fold x + 1 to 6, got %+v", u.Body)
	}
}

func TestFnCapturesOuterNonConstantBinding(t *testing.T) {
	// letrec x = fn () -> (fn () -> x) in 0: the letrec-bound `x` is a
	// runtime variable, not an inlined constant, so the inner fn reaches it
	// through a capture chain that runs via the outer fn.
	inner := ast.Fn(loc(), nil, ast.Ident(loc(), "x"))
	letNode := ast.LetRec(loc(), []ast.Binding{{Pattern: ast.IdentPattern(loc(), "x", nil), Value: ast.Fn(loc(), nil, inner)}}, ast.Const(loc(), 0.0))
	u, errs := Build(letNode, nil)
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	outer := u.Body.Args[1].Left
	if outer.Kind != KFn || len(outer.Captures) != 1 || outer.Captures[0].OuterID != 0 {
		t.Fatalf("expected the outer fn to capture letrec-bound x (var 0), got %+v", outer)
	}
	innerFn := outer.FnUnit.Body
	if innerFn.Kind != KFn || len(innerFn.Captures) != 1 || innerFn.Captures[0].OuterID != outer.Captures[0].InnerID {
		t.Fatalf("expected the inner fn to capture x through the outer fn, got %+v", innerFn)
	}
}

func TestSelfApplicationFlaggedForTailCallDetection(t *testing.T) {
	// letrec f = fn n -> f n in 0
	fnBody := ast.Apply(loc(), ast.Ident(loc(), "f"), []*ast.Node{ast.Ident(loc(), "n")})
	fnLit := ast.Fn(loc(), []string{"n"}, fnBody)
	letNode := ast.LetRec(loc(), []ast.Binding{{Pattern: ast.IdentPattern(loc(), "f", nil), Value: fnLit}}, ast.Const(loc(), 0.0))
	u, errs := Build(letNode, nil)
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	call := u.Body.Args[1].Left.FnUnit.Body
	if call.Kind != KApply || !call.IsSelfApply {
		t.Fatalf("expected f n inside f's own body to be flagged as a self application, got %+v", call)
	}
}
