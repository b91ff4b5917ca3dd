package ssa

// fact is one recorded type-flow assertion: "id's type is Type" or "id's
// constant value is Const" (HasConst true) or a field set narrowing.
type fact struct {
	id       int
	prevType string
	hadPrevType bool
	prevConst interface{}
	hadPrevConst bool
	setType  bool
	setConst bool
}

// typeFlow is the transactional action log described in spec.md §4.5: a
// "logical block" is a region (e.g. the then-branch of an if after a
// successful type test) over which facts hold; entering snapshots the log
// length, exiting truncates back to it, undoing every fact recorded inside.
type typeFlow struct {
	log    []fact
	values map[int]*Value
}

func newTypeFlow(values map[int]*Value) *typeFlow {
	return &typeFlow{values: values}
}

// Enter returns a mark to later Exit back to, establishing a new logical
// block boundary.
func (t *typeFlow) Enter() int { return len(t.log) }

// Exit undoes every fact recorded since mark.
func (t *typeFlow) Exit(mark int) {
	for i := len(t.log) - 1; i >= mark; i-- {
		f := t.log[i]
		v := t.values[f.id]
		if v == nil {
			continue
		}
		if f.setType {
			if f.hadPrevType {
				v.Type = f.prevType
			} else {
				v.Type = ""
			}
		}
		if f.setConst {
			if f.hadPrevConst {
				v.ConstVal, v.HasConst = f.prevConst, true
			} else {
				v.ConstVal, v.HasConst = nil, false
			}
		}
	}
	t.log = t.log[:mark]
}

// AssertType records "id's static type is name" for the remainder of the
// current logical block.
func (t *typeFlow) AssertType(id int, name string) {
	v := t.values[id]
	if v == nil {
		return
	}
	t.log = append(t.log, fact{id: id, prevType: v.Type, hadPrevType: v.Type != "", setType: true})
	v.Type = name
}

// AssertConst records "id's value is known to be const" for the remainder
// of the current logical block.
func (t *typeFlow) AssertConst(id int, v interface{}) {
	val := t.values[id]
	if val == nil {
		return
	}
	t.log = append(t.log, fact{id: id, prevConst: val.ConstVal, hadPrevConst: val.HasConst, setConst: true})
	val.ConstVal, val.HasConst = v, true
}

// TypeOf returns the currently known static type of id, or "" if unknown.
func (t *typeFlow) TypeOf(id int) string {
	if v := t.values[id]; v != nil {
		return v.Type
	}
	return ""
}

// ConstOf returns the currently known constant value of id, if any.
func (t *typeFlow) ConstOf(id int) (interface{}, bool) {
	if v := t.values[id]; v != nil && v.HasConst {
		return v.ConstVal, true
	}
	return nil, false
}
