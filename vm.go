package wisp

import (
	"math"
	"strconv"
)

// maxIndexDepth bounds `__index`/`__newindex` metatable chasing (§4.2
// Table Access, "bounded to 100 hops to turn a metatable cycle into a
// runtime error instead of an infinite loop").
const maxIndexDepth = 100

// runFrame is the fetch-decode-execute loop (§4.2 Execution Loop). It
// owns exactly one call-info level, `frameIdx`, and returns once that
// frame's own RETURN (or a TAILCALL reusing it) completes; CALL of a
// Lua callee recurses into runFrame for the callee's own frame, which
// is the idiomatic Go substitute for the reference VM's single flat
// dispatch loop plus an explicit C-stack-saving CallInfo array.
func runFrame(t *Thread, frameIdx int) ([]Value, error) {
	ci := &t.frames[frameIdx]
	cl := ci.closure
	proto := cl.Proto
	base := ci.base

	reg := func(i int) Value { return t.stack[base+i] }
	setReg := func(i int, v Value) { t.stack[base+i] = v }
	rk := func(operand int) Value {
		if isK(operand) {
			return orNil(proto.Constants[rkIndex(operand)])
		}
		return reg(rkIndex(operand))
	}

	for {
		if ci.pc >= len(proto.Code) {
			return nil, nil
		}
		inst := proto.Code[ci.pc]
		op := inst.Opcode()
		ci.pc++

		switch op {
		case OpMove:
			setReg(inst.A(), reg(inst.B()))

		case OpLoadK:
			setReg(inst.A(), proto.Constants[inst.Bx()])

		case OpLoadBool:
			setReg(inst.A(), Boolean(inst.B() != 0))
			if inst.C() != 0 {
				ci.pc++
			}

		case OpLoadNil:
			for r := inst.A(); r <= inst.B(); r++ {
				setReg(r, NilValue)
			}

		case OpGetUpval:
			setReg(inst.A(), cl.Upvalues[inst.B()].get())

		case OpSetUpval:
			cl.Upvalues[inst.B()].set(t.global.gc, reg(inst.A()))

		case OpGetGlobal:
			name := proto.Constants[inst.Bx()]
			v, err := index(t, t.global.Globals(), name)
			if err != nil {
				return nil, withFrameLocation(err, proto, ci.pc-1)
			}
			setReg(inst.A(), v)

		case OpSetGlobal:
			name := proto.Constants[inst.Bx()]
			if err := newindex(t, t.global.Globals(), name, reg(inst.A())); err != nil {
				return nil, withFrameLocation(err, proto, ci.pc-1)
			}

		case OpNewTable:
			setReg(inst.A(), newTable(t.global.gc, 0, 0))

		case OpGetTable:
			v, err := index(t, reg(inst.B()), rk(inst.C()))
			if err != nil {
				return nil, withFrameLocation(err, proto, ci.pc-1)
			}
			setReg(inst.A(), v)

		case OpSetTable:
			if err := newindex(t, reg(inst.A()), rk(inst.B()), rk(inst.C())); err != nil {
				return nil, withFrameLocation(err, proto, ci.pc-1)
			}

		case OpSelf:
			obj := reg(inst.B())
			setReg(inst.A()+1, obj)
			v, err := index(t, obj, rk(inst.C()))
			if err != nil {
				return nil, withFrameLocation(err, proto, ci.pc-1)
			}
			setReg(inst.A(), v)

		case OpSetList:
			a, b := inst.A(), inst.B()
			tbl, ok := reg(a).(*Table)
			if !ok {
				return nil, withFrameLocation(newRuntimeError("attempt to initialize a %s value as a table", typeName(reg(a))), proto, ci.pc-1)
			}
			n := b
			if n == 0 {
				n = t.top - (base + a + 1)
			}
			for i := 1; i <= n; i++ {
				tbl.rawset(t.global.gc, Number(i), reg(a+i))
			}

		case OpAdd, OpSub, OpMul, OpDiv, OpMod, OpPow:
			v, err := arith(t, op, rk(inst.B()), rk(inst.C()))
			if err != nil {
				return nil, withFrameLocation(err, proto, ci.pc-1)
			}
			setReg(inst.A(), v)

		case OpUnm:
			n, ok := toNumber(reg(inst.B()))
			if ok {
				setReg(inst.A(), -n)
				break
			}
			v, err := arithMeta1(t, metaUnm, reg(inst.B()))
			if err != nil {
				return nil, withFrameLocation(err, proto, ci.pc-1)
			}
			setReg(inst.A(), v)

		case OpNot:
			setReg(inst.A(), Boolean(!reg(inst.B()).Truthy()))

		case OpLen:
			v, err := length(t, reg(inst.B()))
			if err != nil {
				return nil, withFrameLocation(err, proto, ci.pc-1)
			}
			setReg(inst.A(), v)

		case OpConcat:
			v, err := concat(t, base, inst.B(), inst.C())
			if err != nil {
				return nil, withFrameLocation(err, proto, ci.pc-1)
			}
			setReg(inst.A(), v)

		case OpJmp:
			ci.pc += inst.SBx()

		case OpEq:
			eq, err := valuesEqual(t, rk(inst.B()), rk(inst.C()))
			if err != nil {
				return nil, withFrameLocation(err, proto, ci.pc-1)
			}
			if eq != (inst.A() != 0) {
				ci.pc++
			} else {
				ci.pc += proto.Code[ci.pc].SBx()
				ci.pc++
			}

		case OpLt, OpLe:
			lt, err := compare(t, op, rk(inst.B()), rk(inst.C()))
			if err != nil {
				return nil, withFrameLocation(err, proto, ci.pc-1)
			}
			if lt != (inst.A() != 0) {
				ci.pc++
			} else {
				ci.pc += proto.Code[ci.pc].SBx()
				ci.pc++
			}

		case OpTest:
			if reg(inst.A()).Truthy() != (inst.C() != 0) {
				ci.pc++
			} else {
				ci.pc += proto.Code[ci.pc].SBx()
				ci.pc++
			}

		case OpTestSet:
			v := reg(inst.B())
			if v.Truthy() != (inst.C() != 0) {
				ci.pc++
			} else {
				setReg(inst.A(), v)
				ci.pc += proto.Code[ci.pc].SBx()
				ci.pc++
			}

		case OpCall, OpTailCall:
			a, b, c := inst.A(), inst.B(), inst.C()
			fn := reg(a)
			var args []Value
			if b == 0 {
				n := t.top - (base + a + 1)
				args = make([]Value, n)
				for i := 0; i < n; i++ {
					args[i] = reg(a + 1 + i)
				}
			} else {
				args = make([]Value, b-1)
				for i := 0; i < b-1; i++ {
					args[i] = reg(a + 1 + i)
				}
			}

			nResults := c - 1

			if op == OpTailCall {
				tailPC := ci.pc - 1
				t.closeUpvalues(base)
				// Reuse this frame's call-info slot instead of growing
				// the chain: pop it and reclaim its register window
				// before dispatching, so a Lua callee's own
				// callClosure appends its frame right back at the same
				// index (§8.2 "Tail call non-growth").
				t.frames = t.frames[:frameIdx]
				t.top = base
				results, err := callTail(t, fn, args)
				if err != nil {
					return nil, withFrameLocation(err, proto, tailPC)
				}
				return results, nil
			}

			results, err := call(t, fn, args, nResults)
			if err != nil {
				return nil, withFrameLocation(err, proto, ci.pc-1)
			}
			want := nResults
			if want < 0 {
				want = len(results)
			}
			for i := 0; i < want; i++ {
				if i < len(results) {
					setReg(a+i, results[i])
				} else {
					setReg(a+i, NilValue)
				}
			}
			if c == 0 {
				t.top = base + a + want
			}

		case OpReturn:
			a, b := inst.A(), inst.B()
			t.closeUpvalues(base)
			var n int
			if b == 0 {
				n = t.top - (base + a)
			} else {
				n = b - 1
			}
			results := make([]Value, n)
			for i := 0; i < n; i++ {
				results[i] = reg(a + i)
			}
			t.frames = t.frames[:frameIdx]
			t.top = base
			return results, nil

		case OpVararg:
			a, b := inst.A(), inst.B()
			n := b - 1
			if b == 0 {
				n = len(ci.varargs)
			}
			for i := 0; i < n; i++ {
				if i < len(ci.varargs) {
					setReg(a+i, ci.varargs[i])
				} else {
					setReg(a+i, NilValue)
				}
			}
			if b == 0 {
				t.top = base + a + n
			}

		case OpClosure:
			sub := proto.Protos[inst.Bx()]
			nc := newClosure(t.global.gc, sub)
			for i := range sub.Upvalues {
				desc := sub.Upvalues[i]
				pseudo := proto.Code[ci.pc]
				ci.pc++
				if desc.FromLocal {
					nc.Upvalues[i] = t.findOrMakeUpvalue(base + pseudo.B())
				} else {
					nc.Upvalues[i] = cl.Upvalues[pseudo.B()]
				}
			}
			setReg(inst.A(), nc)

		case OpForPrep:
			a := inst.A()
			start, ok1 := toNumber(reg(a))
			limit, ok2 := toNumber(reg(a + 1))
			step, ok3 := toNumber(reg(a + 2))
			if !ok1 || !ok2 || !ok3 {
				return nil, withFrameLocation(newRuntimeError("'for' initial value must be a number"), proto, ci.pc-1)
			}
			if step == 0 {
				return nil, withFrameLocation(newRuntimeError("'for' step is zero"), proto, ci.pc-1)
			}
			setReg(a, start-step)
			setReg(a+1, limit)
			setReg(a+2, step)
			ci.pc += inst.SBx()

		case OpForLoop:
			a := inst.A()
			step := reg(a + 2).(Number)
			v := reg(a).(Number) + step
			limit := reg(a + 1).(Number)
			more := (step > 0 && v <= limit) || (step < 0 && v >= limit)
			if more {
				setReg(a, v)
				setReg(a+3, v)
				ci.pc += inst.SBx()
			}

		case OpTForLoop:
			a, c := inst.A(), inst.C()
			args := []Value{reg(a + 1), reg(a + 2)}
			results, err := call(t, reg(a), args, c)
			if err != nil {
				return nil, withFrameLocation(err, proto, ci.pc-1)
			}
			for i := 0; i < c; i++ {
				if i < len(results) {
					setReg(a+3+i, results[i])
				} else {
					setReg(a+3+i, NilValue)
				}
			}
			if c > 0 && !IsNil(reg(a+3)) {
				setReg(a+2, reg(a+3))
				ci.pc += proto.Code[ci.pc].SBx()
			}
			ci.pc++

		case OpClose:
			t.closeUpvalues(base + inst.A())

		default:
			return nil, withFrameLocation(newRuntimeError("unimplemented opcode %s", op), proto, ci.pc-1)
		}
	}
}

func withFrameLocation(err error, proto *Proto, pc int) error {
	re, ok := err.(*RuntimeError)
	if !ok {
		return err
	}
	line := 0
	if pc >= 0 && pc < len(proto.Lines) {
		line = proto.Lines[pc]
	}
	return withLocation(re, proto.Source, line)
}

// toNumber implements the arithmetic coercion rule (§4.2 Arithmetic):
// numbers pass through, strings that parse as a number coerce,
// anything else fails so the caller can try a metamethod.
func toNumber(v Value) (Number, bool) {
	switch n := v.(type) {
	case Number:
		return n, true
	case *LString:
		f, err := strconv.ParseFloat(string(n.bytes), 64)
		if err != nil {
			return 0, false
		}
		return Number(f), true
	default:
		return 0, false
	}
}

func arith(t *Thread, op Opcode, a, b Value) (Value, error) {
	an, aok := toNumber(a)
	bn, bok := toNumber(b)
	if aok && bok {
		switch op {
		case OpAdd:
			return an + bn, nil
		case OpSub:
			return an - bn, nil
		case OpMul:
			return an * bn, nil
		case OpDiv:
			return an / bn, nil
		case OpMod:
			return Number(modFloat(float64(an), float64(bn))), nil
		case OpPow:
			return Number(math.Pow(float64(an), float64(bn))), nil
		}
	}
	name := arithMeta[op]
	if mm := getMetamethod(t.global, a, name); mm != nil {
		r, err := call(t, mm, []Value{a, b}, 1)
		return firstOrNil(r), err
	}
	if mm := getMetamethod(t.global, b, name); mm != nil {
		r, err := call(t, mm, []Value{a, b}, 1)
		return firstOrNil(r), err
	}
	bad := a
	if aok {
		bad = b
	}
	return nil, newRuntimeError("attempt to perform arithmetic on a %s value", typeName(bad))
}

func arithMeta1(t *Thread, name string, v Value) (Value, error) {
	if mm := getMetamethod(t.global, v, name); mm != nil {
		r, err := call(t, mm, []Value{v, v}, 1)
		return firstOrNil(r), err
	}
	return nil, newRuntimeError("attempt to perform arithmetic on a %s value", typeName(v))
}

func firstOrNil(vs []Value) Value {
	if len(vs) == 0 {
		return NilValue
	}
	return vs[0]
}

func modFloat(a, b float64) float64 {
	return a - floorFloat(a/b)*b
}

func floorFloat(f float64) float64 {
	i := float64(int64(f))
	if f < 0 && i != f {
		i--
	}
	return i
}


// index implements §3.6 table access with `__index` chaining, bounded
// to maxIndexDepth hops.
func index(t *Thread, obj, key Value) (Value, error) {
	for depth := 0; depth < maxIndexDepth; depth++ {
		if tbl, ok := obj.(*Table); ok {
			v := tbl.rawget(key)
			if !IsNil(v) {
				return v, nil
			}
			mm := tbl.metamethod(metaIndex)
			if mm == nil {
				return NilValue, nil
			}
			if fn, ok := mm.(Callable); ok {
				r, err := call(t, fn, []Value{obj, key}, 1)
				return firstOrNil(r), err
			}
			obj = mm
			continue
		}
		mm := getMetamethod(t.global, obj, metaIndex)
		if mm == nil {
			return nil, newRuntimeError("attempt to index a %s value", typeName(obj))
		}
		if fn, ok := mm.(Callable); ok {
			r, err := call(t, fn, []Value{obj, key}, 1)
			return firstOrNil(r), err
		}
		obj = mm
	}
	return nil, newRuntimeError("'__index' chain too long; possible loop")
}

func newindex(t *Thread, obj, key, val Value) error {
	for depth := 0; depth < maxIndexDepth; depth++ {
		if tbl, ok := obj.(*Table); ok {
			if !IsNil(tbl.rawget(key)) {
				return tbl.rawset(t.global.gc, key, val)
			}
			mm := tbl.metamethod(metaNewIndex)
			if mm == nil {
				return tbl.rawset(t.global.gc, key, val)
			}
			if fn, ok := mm.(Callable); ok {
				_, err := call(t, fn, []Value{obj, key, val}, 0)
				return err
			}
			obj = mm
			continue
		}
		mm := getMetamethod(t.global, obj, metaNewIndex)
		if mm == nil {
			return newRuntimeError("attempt to index a %s value", typeName(obj))
		}
		if fn, ok := mm.(Callable); ok {
			_, err := call(t, fn, []Value{obj, key, val}, 0)
			return err
		}
		obj = mm
	}
	return newRuntimeError("'__newindex' chain too long; possible loop")
}

func length(t *Thread, v Value) (Value, error) {
	switch vv := v.(type) {
	case *LString:
		return Number(vv.Len()), nil
	case *Table:
		if mm := vv.metamethod(metaLen); mm != nil {
			r, err := call(t, mm, []Value{v}, 1)
			return firstOrNil(r), err
		}
		return Number(vv.length()), nil
	default:
		return nil, newRuntimeError("attempt to get length of a %s value", typeName(v))
	}
}

// concat implements the right-associative `..` operator over
// registers base+b..base+c inclusive (§4.2 CONCAT), falling back to
// `__concat` for any adjacent pair that isn't number-or-string.
func concat(t *Thread, base, b, c int) (Value, error) {
	acc := t.stack[base+c]
	for i := c - 1; i >= b; i-- {
		left := t.stack[base+i]
		s, err := concat2(t, left, acc)
		if err != nil {
			return nil, err
		}
		acc = s
	}
	return acc, nil
}

func concat2(t *Thread, a, b Value) (Value, error) {
	as, aok := concatString(a)
	bs, bok := concatString(b)
	if aok && bok {
		return t.global.Intern(as + bs), nil
	}
	if mm := getMetamethod(t.global, a, metaConcat); mm != nil {
		r, err := call(t, mm, []Value{a, b}, 1)
		return firstOrNil(r), err
	}
	if mm := getMetamethod(t.global, b, metaConcat); mm != nil {
		r, err := call(t, mm, []Value{a, b}, 1)
		return firstOrNil(r), err
	}
	bad := a
	if aok {
		bad = b
	}
	return nil, newRuntimeError("attempt to concatenate a %s value", typeName(bad))
}

func concatString(v Value) (string, bool) {
	switch vv := v.(type) {
	case *LString:
		return vv.String(), true
	case Number:
		return vv.String(), true
	default:
		return "", false
	}
}

func valuesEqual(t *Thread, a, b Value) (bool, error) {
	if rawEqual(a, b) {
		return true, nil
	}
	ta, oka := a.(*Table)
	tb, okb := b.(*Table)
	if oka && okb {
		mm := ta.metamethod(metaEq)
		if mm == nil {
			mm = tb.metamethod(metaEq)
		}
		if mm != nil {
			r, err := call(t, mm, []Value{a, b}, 1)
			if err != nil {
				return false, err
			}
			return firstOrNil(r).Truthy(), nil
		}
	}
	return false, nil
}

func compare(t *Thread, op Opcode, a, b Value) (bool, error) {
	if an, ok := a.(Number); ok {
		if bn, ok := b.(Number); ok {
			if op == OpLt {
				return an < bn, nil
			}
			return an <= bn, nil
		}
	}
	if as, ok := a.(*LString); ok {
		if bs, ok := b.(*LString); ok {
			if op == OpLt {
				return as.String() < bs.String(), nil
			}
			return as.String() <= bs.String(), nil
		}
	}
	name := metaLt
	if op == OpLe {
		name = metaLe
	}
	if mm := getMetamethod(t.global, a, name); mm != nil {
		r, err := call(t, mm, []Value{a, b}, 1)
		if err != nil {
			return false, err
		}
		return firstOrNil(r).Truthy(), nil
	}
	if mm := getMetamethod(t.global, b, name); mm != nil {
		r, err := call(t, mm, []Value{a, b}, 1)
		if err != nil {
			return false, err
		}
		return firstOrNil(r).Truthy(), nil
	}
	return false, newRuntimeError("attempt to compare %s with %s", typeName(a), typeName(b))
}
