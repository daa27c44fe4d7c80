package wisp

// rawEqual implements the raw (metamethod-free) equality used by
// table lookups and by `rawequal`: nil equals only nil, booleans and
// numbers compare by value, strings compare by content (interning
// makes this the same as pointer equality for two properly-interned
// strings, but rawEqual also has to work for throwaway lookup keys —
// see Table.rawgetStr), everything else compares by identity.
func rawEqual(a, b Value) bool {
	if IsNil(a) || IsNil(b) {
		return IsNil(a) && IsNil(b)
	}
	if a.Type() != b.Type() {
		return false
	}
	switch av := a.(type) {
	case Boolean:
		return av == b.(Boolean)
	case Number:
		return av == b.(Number)
	case *LString:
		bv := b.(*LString)
		if av == bv {
			return true
		}
		return string(av.bytes) == string(bv.bytes)
	case LightUserdata:
		return av.Ptr == b.(LightUserdata).Ptr
	default:
		return a == b
	}
}
