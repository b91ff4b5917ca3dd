package value

// Scope breaks the reference cycle that mutually recursive closures would
// otherwise form: instead of closure A capturing closure B and B capturing
// A directly, both capture the same Scope, and the Scope owns the slots.
// Deactivate walks the member slots once, when the scope itself is
// destroyed (freeScope, its type's destructor), so the cycle is collapsed deterministically instead of
// waiting on a tracing collector the rest of this model doesn't have.
type Scope struct {
	Header
	Slots    []Value
	deactive bool
}

func NewScope(n int) *Scope {
	return &Scope{Header: Header{Type: ScopeType}, Slots: make([]Value, n)}
}

func (s *Scope) Bind(i int, v Value) {
	s.Slots[i] = Ref(v)
}

func (s *Scope) Get(i int) Value {
	return s.Slots[i]
}

// Deactivate releases every member slot exactly once; safe to call more
// than once, subsequent calls are no-ops.
func (s *Scope) Deactivate() {
	if s.deactive {
		return
	}
	s.deactive = true
	for i, v := range s.Slots {
		Unref(v)
		s.Slots[i] = nil
	}
}

func freeScope(v Value) {
	s := v.(*Scope)
	s.Deactivate()
}
