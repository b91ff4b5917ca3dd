package value

import "sync"

// sizeClassPools mirrors the H1..H6 uniform allocator pools from the
// reference allocator: objects are bucketed by how many machine words their
// payload needs beyond the {type, rc} header, so same-shaped objects reuse
// the same backing memory instead of going through a general-purpose
// allocator on every allocation. Go's sync.Pool already does per-P free
// lists with GC-aware draining, so it stands in for the hand-rolled
// uniform allocator the reference implementation needs in C.
type sizeClass int

const (
	H1 sizeClass = iota + 1 // 1 word payload: Bool, Nil, small singletons
	H2                      // 2 words: Pair, StrongRef
	H3                      // 3 words: Number-like + tag
	H4                      // 4 words: small records/variants
	H5                      // 5 words: Function header
	H6                      // 6+ words: large records, vectors nodes
)

var classPools = map[sizeClass]*sync.Pool{
	H1: {New: func() interface{} { return make([]Value, 1) }},
	H2: {New: func() interface{} { return make([]Value, 2) }},
	H3: {New: func() interface{} { return make([]Value, 3) }},
	H4: {New: func() interface{} { return make([]Value, 4) }},
	H5: {New: func() interface{} { return make([]Value, 5) }},
	H6: {New: func() interface{} { return make([]Value, 6) }},
}

// classFor picks the smallest size class that fits n payload words, capping
// at H6 for anything larger (those allocate their own backing slice instead
// of borrowing a fixed-size one).
func classFor(n int) sizeClass {
	switch {
	case n <= 1:
		return H1
	case n <= 2:
		return H2
	case n <= 3:
		return H3
	case n <= 4:
		return H4
	case n <= 5:
		return H5
	default:
		return H6
	}
}

// getSlots borrows a zeroed slot slice of at least n capacity from the size
// class pool matching n, trimmed to exactly n elements.
func getSlots(n int) []Value {
	if n > 6 {
		return make([]Value, n)
	}
	cls := classFor(n)
	buf := classPools[cls].Get().([]Value)
	for i := range buf {
		buf[i] = nil
	}
	return buf[:n]
}

// putSlots returns a slot slice to its size class pool. Callers must have
// already Unref'd every element.
func putSlots(slots []Value) {
	n := cap(slots)
	if n > 6 {
		return
	}
	cls := classFor(n)
	classPools[cls].Put(slots[:n])
}
