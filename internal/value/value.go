// Package value implements the runtime value representation described by
// the language core: every value is a heap object carrying a {type, rc}
// header, and ownership is governed by reference counting rather than a
// tracing collector. The package also hosts the type registry (component B
// in the design docs) since the header and the type descriptor it points to
// are mutually referential and natural to keep in one compilation unit, the
// same way the teacher codebase keeps its object kinds and value helpers
// together in one file.
package value

import (
	"fmt"
	"math"
	"strings"
	"sync"
)

// Value is satisfied by every heap object the VM manipulates. Header()
// returns the shared rc/type prefix so the generic Ref/Unref/Dec/Drop
// operations never need to know the concrete object kind.
type Value interface {
	Header() *Header
}

// Header is the uniform prefix embedded in every runtime object.
type Header struct {
	Type *Type
	rc   int32
}

// pinned is used for the small set of process-wide singletons (nil, the two
// booleans) whose lifetime never ends; giving them a large starting count
// means Ref/Unref traffic on them is harmless bookkeeping rather than a
// destructor race.
const pinned = int32(1 << 30)

func (h *Header) Header() *Header { return h }

// RC reports the current reference count; 0 means floating.
func (h *Header) RC() int32 { return h.rc }

// Ref increments v's reference count and returns v, so call sites read as
// `captured := value.Ref(v)`.
func Ref(v Value) Value {
	if v == nil {
		return nil
	}
	v.Header().rc++
	return v
}

// Unref decrements v's reference count and invokes the owning type's
// destructor hook once it reaches zero.
func Unref(v Value) {
	if v == nil {
		return
	}
	h := v.Header()
	h.rc--
	if h.rc <= 0 {
		destroy(v)
	}
}

// Dec decrements without destroying; used when the caller has already
// arranged for destruction through some other path (e.g. a scope that is
// about to deactivate all of its member closures at once).
func Dec(v Value) {
	if v == nil {
		return
	}
	v.Header().rc--
}

// Drop destroys v iff its count is already <= 0; used to reclaim floating
// temporaries that nobody ended up owning.
func Drop(v Value) {
	if v == nil {
		return
	}
	if v.Header().rc <= 0 {
		destroy(v)
	}
}

func destroy(v Value) {
	h := v.Header()
	if h.Type != nil && h.Type.Destroy != nil {
		h.Type.Destroy(v)
	}
}

// ---------------------------------------------------------------------
// Primitive object kinds
// ---------------------------------------------------------------------

type Number struct {
	Header
	Val float64
}

var numberPool = sync.Pool{New: func() interface{} { return new(Number) }}

// NewNumber allocates a floating Number value from the size-class pool.
func NewNumber(n float64) *Number {
	obj := numberPool.Get().(*Number)
	obj.rc = 0
	obj.Type = NumberType
	obj.Val = n
	return obj
}

func freeNumber(v Value) {
	n := v.(*Number)
	numberPool.Put(n)
}

type Bool struct {
	Header
	Val bool
}

var (
	trueSingleton  = &Bool{Header: Header{Type: BoolType, rc: pinned}, Val: true}
	falseSingleton = &Bool{Header: Header{Type: BoolType, rc: pinned}, Val: false}
)

func True() *Bool  { return trueSingleton }
func False() *Bool { return falseSingleton }
func Bool_(b bool) *Bool {
	if b {
		return trueSingleton
	}
	return falseSingleton
}

type Nil struct{ Header }

var nilSingleton = &Nil{Header: Header{Type: NilType, rc: pinned}}

func NilValue() *Nil { return nilSingleton }

// Symbol is interned by string: identical text always yields the same
// pointer, so equality and hashing are pointer operations.
type Symbol struct {
	Header
	Name string
	hash uint64
}

var (
	symMu    sync.Mutex
	symTable = map[string]*Symbol{}
)

func Intern(name string) *Symbol {
	symMu.Lock()
	defer symMu.Unlock()
	if s, ok := symTable[name]; ok {
		return s
	}
	s := &Symbol{Header: Header{Type: SymbolType, rc: pinned}, Name: name, hash: fnv1a(name)}
	symTable[name] = s
	return s
}

func (s *Symbol) Hash() uint64 { return s.hash }

func fnv1a(s string) uint64 {
	var h uint64 = 14695981039346656037
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= 1099511628211
	}
	return h
}

type String struct {
	Header
	Bytes []byte
}

var stringPool = sync.Pool{New: func() interface{} { return new(String) }}

func NewString(s string) *String {
	obj := stringPool.Get().(*String)
	obj.rc = 0
	obj.Type = StringType
	obj.Bytes = []byte(s)
	return obj
}

func (s *String) String() string { return string(s.Bytes) }

func freeString(v Value) {
	s := v.(*String)
	stringPool.Put(s)
}

// Pair is the cons cell backing lists.
type Pair struct {
	Header
	Car, Cdr Value
}

var pairPool = sync.Pool{New: func() interface{} { return new(Pair) }}

func NewPair(car, cdr Value) *Pair {
	p := pairPool.Get().(*Pair)
	p.rc = 0
	p.Type = PairType
	p.Car = Ref(car)
	p.Cdr = Ref(cdr)
	return p
}

func freePair(v Value) {
	p := v.(*Pair)
	Unref(p.Car)
	Unref(p.Cdr)
	p.Car, p.Cdr = nil, nil
	pairPool.Put(p)
}

// StrongRef is a mutable cell (the `ref` primitive).
type StrongRef struct {
	Header
	Val Value
}

func NewStrongRef(v Value) *StrongRef {
	return &StrongRef{Header: Header{Type: RefType}, Val: Ref(v)}
}

func freeStrongRef(v Value) {
	r := v.(*StrongRef)
	Unref(r.Val)
}

// Exit carries a process exit status; `try` never absorbs it.
type Exit struct {
	Header
	Status int
}

func NewExit(status int) *Exit {
	return &Exit{Header: Header{Type: ExitType}, Status: status}
}

// File is a minimal handle wrapper; actual I/O is a native-function concern
// outside the core.
type File struct {
	Header
	Name   string
	Closed bool
}

func NewFile(name string) *File {
	return &File{Header: Header{Type: FileType}, Name: name}
}

// Regexp wraps a compiled pattern; the core only needs a distinct type tag
// and a destructor slot, matching regexp as an opaque library collaborator.
type Regexp struct {
	Header
	Source string
}

func NewRegexp(src string) *Regexp {
	return &Regexp{Header: Header{Type: RegexpType}, Source: src}
}

// ---------------------------------------------------------------------
// Exceptions
// ---------------------------------------------------------------------

// SourceLoc is one entry in an exception's trace.
type SourceLoc struct {
	File   string
	Line   int
	Column int
}

func (l SourceLoc) String() string {
	if l.File == "" {
		return fmt.Sprintf("line %d", l.Line)
	}
	return fmt.Sprintf("%s:%d:%d", l.File, l.Line, l.Column)
}

// ErrorKind enumerates the runtime error kinds from the error-handling
// design: each is carried as a payload symbol inside an Exception.
type ErrorKind string

const (
	TypeError         ErrorKind = "type_error"
	InvalidArgument    ErrorKind = "invalid_argument"
	SystemError        ErrorKind = "system_error"
	ApplyError         ErrorKind = "apply_error"
	RegexpError        ErrorKind = "regexp_error"
	FormatError        ErrorKind = "format_error"
	AccessError        ErrorKind = "access_error"
	UpdateError        ErrorKind = "update_error"
	AssertionFailed    ErrorKind = "assertion_failed"
	StackOverflow      ErrorKind = "stack_overflow"
	ImproperList       ErrorKind = "improper_list"
	NotFound           ErrorKind = "not_found"
)

// Exception wraps a payload value and an ordered trace of source locations,
// appended to at every raise/re-raise site.
type Exception struct {
	Header
	Payload Value
	Trace   []SourceLoc
}

func NewException(payload Value) *Exception {
	return &Exception{Header: Header{Type: ExceptionType}, Payload: Ref(payload)}
}

func (e *Exception) PushTrace(loc SourceLoc) {
	e.Trace = append(e.Trace, loc)
}

func freeException(v Value) {
	e := v.(*Exception)
	Unref(e.Payload)
}

func NewRuntimeError(kind ErrorKind, message string) *Exception {
	rec := NewRecord([]string{"kind", "message"}, []Value{
		Intern(string(kind)),
		NewString(message),
	})
	return NewException(rec)
}

func (e *Exception) Error() string {
	var sb strings.Builder
	sb.WriteString(ToDisplayString(e.Payload))
	for _, loc := range e.Trace {
		sb.WriteString("\n  at ")
		sb.WriteString(loc.String())
	}
	return sb.String()
}

// ---------------------------------------------------------------------
// Truthiness, equality, display
// ---------------------------------------------------------------------

func IsTruthy(v Value) bool {
	switch x := v.(type) {
	case nil:
		return false
	case *Nil:
		return false
	case *Bool:
		return x.Val
	default:
		return true
	}
}

// Equal implements structural equality for the primitive kinds and delegates
// to the type's hook for composite kinds.
func Equal(a, b Value) bool {
	if a == b {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	switch x := a.(type) {
	case *Number:
		y, ok := b.(*Number)
		return ok && x.Val == y.Val
	case *Bool:
		y, ok := b.(*Bool)
		return ok && x.Val == y.Val
	case *Nil:
		_, ok := b.(*Nil)
		return ok
	case *Symbol:
		return a == b // interned: pointer equality
	case *String:
		y, ok := b.(*String)
		return ok && string(x.Bytes) == string(y.Bytes)
	case *Pair:
		y, ok := b.(*Pair)
		return ok && Equal(x.Car, y.Car) && Equal(x.Cdr, y.Cdr)
	}
	if a.Header().Type != nil && a.Header().Type.Equal != nil {
		return a.Header().Type.Equal(a, b)
	}
	return false
}

func ToDisplayString(v Value) string {
	switch x := v.(type) {
	case nil:
		return "nil"
	case *Nil:
		return "nil"
	case *Bool:
		if x.Val {
			return "true"
		}
		return "false"
	case *Number:
		return formatNumber(x.Val)
	case *Symbol:
		return "`" + x.Name
	case *String:
		return string(x.Bytes)
	case *Pair:
		return displayList(x)
	case *Exception:
		return "exception: " + ToDisplayString(x.Payload)
	}
	if v.Header().Type != nil && v.Header().Type.Display != nil {
		return v.Header().Type.Display(v)
	}
	return "<" + typeName(v) + ">"
}

func typeName(v Value) string {
	if v.Header().Type != nil {
		return v.Header().Type.Name
	}
	return "object"
}

func formatNumber(n float64) string {
	if n == math.Trunc(n) && !math.IsInf(n, 0) && math.Abs(n) < 1e15 {
		return fmt.Sprintf("%.0f", n)
	}
	return fmt.Sprintf("%g", n)
}

func displayList(p *Pair) string {
	var sb strings.Builder
	sb.WriteByte('[')
	var cur Value = p
	first := true
	for {
		pair, ok := cur.(*Pair)
		if !ok {
			break
		}
		if !first {
			sb.WriteString(", ")
		}
		first = false
		sb.WriteString(ToDisplayString(pair.Car))
		cur = pair.Cdr
	}
	if _, isNil := cur.(*Nil); !isNil && cur != nil {
		sb.WriteString(" | ")
		sb.WriteString(ToDisplayString(cur))
	}
	sb.WriteByte(']')
	return sb.String()
}
