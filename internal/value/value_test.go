package value

import "testing"

func TestRefUnrefDestroysAtZero(t *testing.T) {
	n := NewNumber(42)
	Ref(n)
	if n.RC() != 1 {
		t.Fatalf("RC after one Ref = %d, want 1", n.RC())
	}
	Unref(n)
	if n.RC() != 0 {
		t.Fatalf("RC after matching Unref = %d, want 0", n.RC())
	}
}

func TestSingletonsArePinned(t *testing.T) {
	for i := 0; i < 3; i++ {
		Ref(True())
		Ref(NilValue())
	}
	if True().RC() <= 0 || NilValue().RC() <= 0 {
		t.Fatalf("pinned singletons must never reach a destroying refcount")
	}
}

func TestInternReturnsSamePointer(t *testing.T) {
	a := Intern("foo")
	b := Intern("foo")
	if a != b {
		t.Fatalf("Intern(%q) returned distinct pointers", "foo")
	}
	if !Equal(a, b) {
		t.Fatalf("interned symbols with equal text must compare equal")
	}
}

func TestRecordFieldOrderIndependence(t *testing.T) {
	r1 := NewRecord([]string{"x", "y"}, []Value{NewNumber(1), NewNumber(2)})
	r2 := NewRecord([]string{"y", "x"}, []Value{NewNumber(2), NewNumber(1)})
	if r1.Header.Type != r2.Header.Type {
		t.Fatalf("records with the same field set in different orders must share a type")
	}
	x, ok := r1.Field("x")
	if !ok || x.(*Number).Val != 1 {
		t.Fatalf("Field(x) = %v, %v", x, ok)
	}
}

func TestRecordWithUpdatesOnlyNamedFields(t *testing.T) {
	r := NewRecord([]string{"x", "y"}, []Value{NewNumber(1), NewNumber(2)})
	updated := r.With([]string{"y"}, []Value{NewNumber(20)})
	y, _ := updated.Field("y")
	x, _ := updated.Field("x")
	if y.(*Number).Val != 20 {
		t.Fatalf("updated y = %v, want 20", y)
	}
	if x.(*Number).Val != 1 {
		t.Fatalf("untouched x = %v, want 1", x)
	}
	origX, _ := r.Field("x")
	if origX.(*Number).Val != 1 {
		t.Fatalf("With must not mutate the original record")
	}
}

func TestVariantTagDistinguishesSameFieldSet(t *testing.T) {
	some := NewVariant("Some", []string{"value"}, []Value{NewNumber(1)})
	other := NewVariant("Other", []string{"value"}, []Value{NewNumber(1)})
	if some.Header.Type == other.Header.Type {
		t.Fatalf("variants with different tags must not share a type even with identical fields")
	}
}

func TestVectorPushGetPreservesOlderVersion(t *testing.T) {
	v0 := NewVector(NewNumber(1), NewNumber(2))
	v1 := v0.Push(NewNumber(3))
	if v0.Len() != 2 {
		t.Fatalf("pushing must not mutate the source vector's length")
	}
	if v1.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", v1.Len())
	}
	if v1.Get(2).(*Number).Val != 3 {
		t.Fatalf("Get(2) = %v, want 3", v1.Get(2))
	}
}

func TestVectorSetIsStructurallyShared(t *testing.T) {
	v0 := NewVector(NewNumber(1), NewNumber(2), NewNumber(3))
	v1 := v0.Set(1, NewNumber(99))
	if v0.Get(1).(*Number).Val != 2 {
		t.Fatalf("Set must not mutate the original vector")
	}
	if v1.Get(1).(*Number).Val != 99 {
		t.Fatalf("Set result = %v, want 99", v1.Get(1))
	}
}

func TestScopeDeactivateIsIdempotent(t *testing.T) {
	s := NewScope(2)
	s.Bind(0, NewNumber(1))
	s.Bind(1, NewNumber(2))
	s.Deactivate()
	s.Deactivate() // must not double-free
}

func TestMethodTablePromotesPastThreshold(t *testing.T) {
	mt := &methodTable{}
	for i := 0; i < methodTablePromoteAt+5; i++ {
		mt.insert(string(rune('a'+i%26))+string(rune(i)), NewNumber(float64(i)))
	}
	if mt.big == nil {
		t.Fatalf("method table should have promoted to a map past the threshold")
	}
}

func TestPartialArityAccounting(t *testing.T) {
	fn := NewNativeFunction("add3", 3, func(args []Value) (Value, *Exception) { return NilValue(), nil })
	p := NewPartial(fn, []Value{NewNumber(1)})
	if Arity(p) != 2 {
		t.Fatalf("Arity(partial) = %d, want 2", Arity(p))
	}
}
