package wisp

// maxCallDepth bounds the call-info chain (§4.2 properties: "a
// pathological recursive program fails with a stack-overflow runtime
// error rather than exhausting host memory").
const maxCallDepth = 200

// call is the function call protocol entry point (§4.2 Function Call
// Protocol): it dispatches on fn's dynamic type — a Lua closure runs
// through the bytecode interpreter, a Go function runs directly, and
// anything else falls back to its `__call` metamethod, retrying with
// fn prepended to args, to a bounded depth so a metatable cycle can't
// recurse forever.
func call(t *Thread, fn Value, args []Value, nResults int) ([]Value, error) {
	return callDepth(t, fn, args, nResults, 0, false)
}

// callTail is call's tail-position counterpart (§4.2, §8.2 "Tail call
// non-growth"): the caller has already popped its own call-info slot
// and reclaimed its register window before invoking this, so a Lua
// callee's callClosure appends its frame right back into that same
// slot instead of growing the chain.
func callTail(t *Thread, fn Value, args []Value) ([]Value, error) {
	return callDepth(t, fn, args, -1, 0, true)
}

func callDepth(t *Thread, fn Value, args []Value, nResults int, metaDepth int, isTail bool) ([]Value, error) {
	switch f := fn.(type) {
	case *Closure:
		return callClosure(t, f, args, nResults, isTail)
	case *GoFunction:
		return callGoFunction(t, f, args, nResults)
	default:
		if metaDepth > 100 {
			return nil, newRuntimeError("'__call' chain too long; possible loop")
		}
		mm := getMetamethod(t.global, fn, metaCall)
		if mm == nil {
			return nil, newRuntimeError("attempt to call a %s value", typeName(fn))
		}
		newArgs := make([]Value, 0, len(args)+1)
		newArgs = append(newArgs, fn)
		newArgs = append(newArgs, args...)
		return callDepth(t, mm, newArgs, nResults, metaDepth+1, isTail)
	}
}

func callGoFunction(t *Thread, f *GoFunction, args []Value, nResults int) ([]Value, error) {
	if len(t.frames) >= maxCallDepth {
		return nil, newRuntimeError("stack overflow")
	}
	base := t.top
	for _, a := range args {
		t.push(a)
	}
	t.frames = append(t.frames, callInfo{goFn: f, base: base, nWanted: nResults})
	defer func() { t.frames = t.frames[:len(t.frames)-1] }()

	n, err := f.Fn(t)
	if err != nil {
		return nil, err
	}
	// Fn pushes its n results on top of its arguments.
	first := t.top - n
	if first < base {
		first = base
	}
	results := make([]Value, n)
	for i := 0; i < n; i++ {
		results[i] = t.get(first + i)
	}
	t.top = base
	return results, nil
}

// callClosure sets up a fresh register window for cl, copies the
// fixed parameters (and, for a vararg function, stashes the extras
// where OpVararg can find them), then drives the fetch-decode-execute
// loop until this frame's own RETURN pops it.
func callClosure(t *Thread, cl *Closure, args []Value, nResults int, isTail bool) ([]Value, error) {
	if len(t.frames) >= maxCallDepth {
		return nil, newRuntimeError("stack overflow")
	}
	p := cl.Proto
	base := t.top
	t.ensureStack(base + p.MaxStack + 8)

	for i := 0; i < p.NumParams; i++ {
		if i < len(args) {
			t.stack[base+i] = args[i]
		} else {
			t.stack[base+i] = NilValue
		}
	}
	for i := p.NumParams; i < p.MaxStack; i++ {
		t.stack[base+i] = NilValue
	}

	var varargs []Value
	if p.IsVararg && len(args) > p.NumParams {
		varargs = append(varargs, args[p.NumParams:]...)
	}

	t.top = base + p.MaxStack
	t.frames = append(t.frames, callInfo{closure: cl, base: base, nWanted: nResults, varargs: varargs, isTail: isTail})
	frameIdx := len(t.frames) - 1

	return runFrame(t, frameIdx)
}
