package value

// Function is the tagged union of callable values: a native Go function, or
// a compiled lambda closing over captured values. Both arms share arity and
// a display name so the VM's APPLY path never needs a type switch beyond
// the single IsNative check.
type Function struct {
	Header
	Name    string
	Arity   int
	IsNative bool

	// Native arm.
	Native NativeFn

	// Lambda arm: opaque to this package; the bytecode/vm packages define
	// the concrete prototype and captured-register-set types and store
	// them behind this interface to avoid an import cycle back into value.
	Proto   interface{}
	Capture []Value
}

// NativeFn is the signature every built-in function implements. args are
// borrowed (not owned) by the callee; the callee returns an owned result or
// an *Exception.
type NativeFn func(args []Value) (Value, *Exception)

func NewNativeFunction(name string, arity int, fn NativeFn) *Function {
	return &Function{Header: Header{Type: FunctionType}, Name: name, Arity: arity, IsNative: true, Native: fn}
}

func NewLambda(name string, arity int, proto interface{}, capture []Value) *Function {
	f := &Function{Header: Header{Type: FunctionType}, Name: name, Arity: arity, Proto: proto}
	f.Capture = make([]Value, len(capture))
	for i, c := range capture {
		f.Capture[i] = Ref(c)
	}
	return f
}

func freeFunction(v Value) {
	f := v.(*Function)
	for _, c := range f.Capture {
		Unref(c)
	}
	f.Capture = nil
}

// Partial is a partially applied function: a target plus already-supplied
// leading arguments, produced when APPLY receives fewer arguments than the
// target's arity.
type Partial struct {
	Header
	Target Value // *Function or *Partial
	Given  []Value
}

func NewPartial(target Value, given []Value) *Partial {
	p := &Partial{Header: Header{Type: PartialType}, Target: Ref(target)}
	p.Given = make([]Value, len(given))
	for i, g := range given {
		p.Given[i] = Ref(g)
	}
	return p
}

func freePartial(v Value) {
	p := v.(*Partial)
	Unref(p.Target)
	for _, g := range p.Given {
		Unref(g)
	}
}

var PartialType = &Type{Name: "partial", Kind: KindPrimitive, Destroy: freePartial}

// Arity returns how many more arguments a callable needs.
func Arity(v Value) int {
	switch x := v.(type) {
	case *Function:
		return x.Arity
	case *Partial:
		return Arity(x.Target) - len(x.Given)
	}
	return -1
}
