package wisp

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// RegisterStdlib installs the minimal standard-library surface
// spec.md's own §8.4 testable-property scenarios exercise directly —
// `print`, `type`, `tostring`, `tonumber`, `pairs`/`ipairs`,
// `setmetatable`/`getmetatable`/`rawget`/`rawset`/`rawequal`,
// `pcall`/`xpcall`/`error`, `assert`, `select`,
// `coroutine.create`/`resume`/`yield`/`status`/`wrap`,
// `collectgarbage`, and a `math` table — into gs's global table
// (§4 "Supplemented features": spec.md §1 scopes the *full* standard
// library as a non-goal, but an embeddable language with nothing
// callable from the embedding API surface can't run any of the
// spec's own worked examples). Every entry is a `*GoFunction` built
// the same way the embedding API's own call convention describes in
// §6.1, following the teacher's own Go-callback hookup pattern for
// handing Go code to the interpreter (api.go's BuiltinFunction shape).
func RegisterStdlib(gs *GlobalState) {
	g := gs.Globals()
	def := func(name string, fn func(t *Thread) (int, error)) {
		g.rawset(gs.gc, gs.Intern(name), newGoFunction(gs.gc, name, fn))
	}

	def("print", stdPrint)
	def("type", stdType)
	def("tostring", stdToString)
	def("tonumber", stdToNumber)
	def("pairs", stdPairs)
	def("ipairs", stdIpairs)
	def("next", stdNext)
	def("setmetatable", stdSetMetatable)
	def("getmetatable", stdGetMetatable)
	def("rawget", stdRawget)
	def("rawset", stdRawset)
	def("rawequal", stdRawequal)
	def("pcall", stdPcall)
	def("xpcall", stdXpcall)
	def("error", stdError)
	def("assert", stdAssert)
	def("select", stdSelect)
	def("collectgarbage", stdCollectgarbage)

	registerMathTable(gs, g)
	registerCoroutineTable(gs, g)
}

// --- value formatting ----------------------------------------------------

// toStringValue implements §3.6's `__tostring` override and the
// default per-type spelling otherwise; tostring() and print() both
// route through this.
func toStringValue(t *Thread, v Value) (string, error) {
	if mm := getMetamethod(t.global, v, metaTostring); mm != nil {
		results, err := call(t, mm, []Value{v}, 1)
		if err != nil {
			return "", err
		}
		if len(results) == 0 {
			return "", newRuntimeError("'__tostring' must return a string")
		}
		s, ok := results[0].(*LString)
		if !ok {
			return "", newRuntimeError("'__tostring' must return a string")
		}
		return string(s.bytes), nil
	}
	switch vv := v.(type) {
	case nil, Nil:
		return "nil", nil
	case Boolean:
		return vv.String(), nil
	case Number:
		return vv.String(), nil
	case *LString:
		return string(vv.bytes), nil
	case *Table:
		return fmt.Sprintf("table: %p", vv), nil
	case *Closure:
		return fmt.Sprintf("function: %p", vv), nil
	case *GoFunction:
		return fmt.Sprintf("function: builtin: %s", vv.Name), nil
	case *Thread:
		return fmt.Sprintf("thread: %p", vv), nil
	case LightUserdata:
		return vv.String(), nil
	case *Userdata:
		return fmt.Sprintf("userdata: %p", vv), nil
	default:
		return fmt.Sprintf("%v", v), nil
	}
}

func stdPrint(t *Thread) (int, error) {
	n := t.ArgCount()
	parts := make([]string, n)
	for i := 0; i < n; i++ {
		s, err := toStringValue(t, t.Arg(i))
		if err != nil {
			return 0, err
		}
		parts[i] = s
	}
	fmt.Println(strings.Join(parts, "\t"))
	return 0, nil
}

func stdType(t *Thread) (int, error) {
	t.push(t.global.Intern(typeName(t.Arg(0))))
	return 1, nil
}

func stdToString(t *Thread) (int, error) {
	s, err := toStringValue(t, t.Arg(0))
	if err != nil {
		return 0, err
	}
	t.push(t.global.Intern(s))
	return 1, nil
}

func stdToNumber(t *Thread) (int, error) {
	switch v := t.Arg(0).(type) {
	case Number:
		t.push(v)
		return 1, nil
	case *LString:
		s := strings.TrimSpace(string(v.bytes))
		if base, ok := t.Arg(1).(Number); ok {
			n, err := strconv.ParseInt(s, int(base), 64)
			if err != nil {
				t.push(NilValue)
				return 1, nil
			}
			t.push(Number(n))
			return 1, nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			t.push(NilValue)
			return 1, nil
		}
		t.push(Number(f))
		return 1, nil
	default:
		t.push(NilValue)
		return 1, nil
	}
}

// --- table iteration -------------------------------------------------

// findHashSlot linearly locates k's slot in the table's flat hash
// array. Iteration order only needs to be *some* fixed order that
// visits every live entry once per full pass — it doesn't need to
// match insertion order — so a direct index scan over the same flat
// node array rawgetHash chains through is sufficient here.
func (t *Table) findHashSlot(k Value) (int, bool) {
	for i := range t.hash {
		if t.hash[i].inUse && rawEqual(t.hash[i].key, k) {
			return i, true
		}
	}
	return 0, false
}

// tableNext implements the stateless `next(t, key)` traversal §3.3
// assumes: array part first (by index), then the hash part (by slot),
// `ok=false` signaling an invalid key rather than end-of-table (which
// is a nil/nil/true result).
func tableNext(tbl *Table, key Value) (Value, Value, bool) {
	if IsNil(key) {
		return scanFrom(tbl, 0, 0)
	}
	if n, ok := key.(Number); ok {
		if i := int(n); Number(i) == n && i >= 1 && i <= len(tbl.array) {
			return scanFrom(tbl, i, 0)
		}
	}
	idx, ok := tbl.findHashSlot(key)
	if !ok {
		return nil, nil, false
	}
	return scanFrom(tbl, len(tbl.array), idx+1)
}

func scanFrom(tbl *Table, arrayFrom, hashFrom int) (Value, Value, bool) {
	for i := arrayFrom; i < len(tbl.array); i++ {
		if !IsNil(tbl.array[i]) {
			return Number(i + 1), tbl.array[i], true
		}
	}
	for j := hashFrom; j < len(tbl.hash); j++ {
		if tbl.hash[j].inUse {
			return tbl.hash[j].key, tbl.hash[j].val, true
		}
	}
	return NilValue, NilValue, true
}

func stdNext(t *Thread) (int, error) {
	tbl, ok := t.Arg(0).(*Table)
	if !ok {
		return 0, newRuntimeError("bad argument #1 to 'next' (table expected, got %s)", typeName(t.Arg(0)))
	}
	var key Value = NilValue
	if t.ArgCount() >= 2 {
		key = t.Arg(1)
	}
	k, v, ok := tableNext(tbl, key)
	if !ok {
		return 0, newRuntimeError("invalid key to 'next'")
	}
	if IsNil(k) {
		t.push(NilValue)
		return 1, nil
	}
	t.push(k)
	t.push(v)
	return 2, nil
}

func stdPairs(t *Thread) (int, error) {
	tbl, ok := t.Arg(0).(*Table)
	if !ok {
		return 0, newRuntimeError("bad argument #1 to 'pairs' (table expected, got %s)", typeName(t.Arg(0)))
	}
	t.push(newGoFunction(t.global.gc, "next", stdNext))
	t.push(tbl)
	t.push(NilValue)
	return 3, nil
}

func stdIpairs(t *Thread) (int, error) {
	tbl, ok := t.Arg(0).(*Table)
	if !ok {
		return 0, newRuntimeError("bad argument #1 to 'ipairs' (table expected, got %s)", typeName(t.Arg(0)))
	}
	t.push(newGoFunction(t.global.gc, "inext", ipairsAux))
	t.push(tbl)
	t.push(Number(0))
	return 3, nil
}

func ipairsAux(t *Thread) (int, error) {
	tbl, ok := t.Arg(0).(*Table)
	if !ok {
		return 0, newRuntimeError("bad argument #1 to 'ipairs iterator' (table expected)")
	}
	i, _ := t.Arg(1).(Number)
	next := i + 1
	v := tbl.rawget(next)
	if IsNil(v) {
		t.push(NilValue)
		return 1, nil
	}
	t.push(next)
	t.push(v)
	return 2, nil
}

// --- metatables / raw access ------------------------------------------

func stdSetMetatable(t *Thread) (int, error) {
	tbl, ok := t.Arg(0).(*Table)
	if !ok {
		return 0, newRuntimeError("bad argument #1 to 'setmetatable' (table expected, got %s)", typeName(t.Arg(0)))
	}
	mtArg := t.Arg(1)
	if IsNil(mtArg) {
		tbl.setMetatable(t.global.gc, nil)
		t.push(tbl)
		return 1, nil
	}
	mt, ok := mtArg.(*Table)
	if !ok {
		return 0, newRuntimeError("bad argument #2 to 'setmetatable' (nil or table expected)")
	}
	tbl.setMetatable(t.global.gc, mt)
	t.push(tbl)
	return 1, nil
}

func stdGetMetatable(t *Thread) (int, error) {
	mt := metatableOf(t.global, t.Arg(0))
	if mt == nil {
		t.push(NilValue)
		return 1, nil
	}
	t.push(mt)
	return 1, nil
}

func stdRawget(t *Thread) (int, error) {
	tbl, ok := t.Arg(0).(*Table)
	if !ok {
		return 0, newRuntimeError("bad argument #1 to 'rawget' (table expected, got %s)", typeName(t.Arg(0)))
	}
	t.push(tbl.rawget(t.Arg(1)))
	return 1, nil
}

func stdRawset(t *Thread) (int, error) {
	tbl, ok := t.Arg(0).(*Table)
	if !ok {
		return 0, newRuntimeError("bad argument #1 to 'rawset' (table expected, got %s)", typeName(t.Arg(0)))
	}
	if err := tbl.rawset(t.global.gc, t.Arg(1), t.Arg(2)); err != nil {
		return 0, err
	}
	t.push(tbl)
	return 1, nil
}

func stdRawequal(t *Thread) (int, error) {
	t.push(Boolean(rawEqual(t.Arg(0), t.Arg(1))))
	return 1, nil
}

// --- protected calls / errors ------------------------------------------

func collectArgs(t *Thread, from int) []Value {
	n := t.ArgCount()
	if from >= n {
		return nil
	}
	args := make([]Value, n-from)
	for i := range args {
		args[i] = t.Arg(from + i)
	}
	return args
}

func stdPcall(t *Thread) (int, error) {
	if t.ArgCount() == 0 {
		return 0, newRuntimeError("bad argument #1 to 'pcall' (value expected)")
	}
	fn := t.Arg(0)
	ok, results, errVal := pcall(t, fn, collectArgs(t, 1))
	t.push(Boolean(ok))
	if !ok {
		t.push(errVal)
		return 2, nil
	}
	for _, r := range results {
		t.push(r)
	}
	return 1 + len(results), nil
}

func stdXpcall(t *Thread) (int, error) {
	if t.ArgCount() < 2 {
		return 0, newRuntimeError("bad argument #2 to 'xpcall' (value expected)")
	}
	fn, handler := t.Arg(0), t.Arg(1)
	ok, results, errVal := xpcall(t, fn, handler, collectArgs(t, 2))
	t.push(Boolean(ok))
	if !ok {
		t.push(errVal)
		return 2, nil
	}
	for _, r := range results {
		t.push(r)
	}
	return 1 + len(results), nil
}

// stdError implements `error(msg, [level])` (§4.4/§7): a string
// message at a nonzero level gains the "<chunkname>:<line>: " prefix
// of whichever Lua frame `level` names, same as the VM's own default
// error formatting.
func stdError(t *Thread) (int, error) {
	msg := t.Arg(0)
	level := 1
	if lv, ok := t.Arg(1).(Number); ok {
		level = int(lv)
	}
	if s, ok := msg.(*LString); ok && level > 0 {
		if chunk, line, ok := t.callerLocation(level); ok {
			panic(withLocation(newRuntimeError("%s", string(s.bytes)), chunk, line))
		}
	}
	panic(&RuntimeError{Value: msg})
}

func stdAssert(t *Thread) (int, error) {
	v := t.Arg(0)
	if v.Truthy() {
		n := t.ArgCount()
		for i := 0; i < n; i++ {
			t.push(t.Arg(i))
		}
		return n, nil
	}
	if t.ArgCount() >= 2 {
		panic(&RuntimeError{Value: t.Arg(1)})
	}
	panic(newRuntimeError("assertion failed!"))
}

func stdSelect(t *Thread) (int, error) {
	sel := t.Arg(0)
	if s, ok := sel.(*LString); ok && string(s.bytes) == "#" {
		t.push(Number(t.ArgCount() - 1))
		return 1, nil
	}
	n, ok := sel.(Number)
	if !ok {
		return 0, newRuntimeError("bad argument #1 to 'select' (number expected, got %s)", typeName(sel))
	}
	i := int(n)
	if i < 0 {
		i = t.ArgCount() + i
	}
	if i < 1 {
		return 0, newRuntimeError("bad argument #1 to 'select' (index out of range)")
	}
	count := 0
	for j := i; j < t.ArgCount(); j++ {
		t.push(t.Arg(j))
		count++
	}
	return count, nil
}

func stdCollectgarbage(t *Thread) (int, error) {
	opt := "collect"
	if s, ok := t.Arg(0).(*LString); ok {
		opt = string(s.bytes)
	}
	switch opt {
	case "collect":
		t.global.Collect()
		t.push(Number(0))
	case "step":
		t.global.CollectStep()
		t.push(Boolean(false))
	case "count":
		t.push(Number(float64(t.global.AllocatedBytes()) / 1024))
	default:
		t.push(Number(0))
	}
	return 1, nil
}

// --- coroutine table ----------------------------------------------------

func registerCoroutineTable(gs *GlobalState, g *Table) {
	co := gs.NewTable()
	g.rawset(gs.gc, gs.Intern("coroutine"), co)
	def := func(name string, fn func(t *Thread) (int, error)) {
		co.rawset(gs.gc, gs.Intern(name), newGoFunction(gs.gc, name, fn))
	}
	def("create", stdCoroutineCreate)
	def("resume", stdCoroutineResume)
	def("yield", stdCoroutineYield)
	def("status", stdCoroutineStatus)
	def("wrap", stdCoroutineWrap)
}

func stdCoroutineCreate(t *Thread) (int, error) {
	fn := t.Arg(0)
	if _, ok := fn.(Callable); !ok {
		return 0, newRuntimeError("bad argument #1 to 'create' (function expected, got %s)", typeName(fn))
	}
	co := newThread(t.global)
	co.push(fn) // loop() reads slot 0 as the function to run
	t.push(co)
	return 1, nil
}

func stdCoroutineResume(t *Thread) (int, error) {
	co, ok := t.Arg(0).(*Thread)
	if !ok {
		return 0, newRuntimeError("bad argument #1 to 'resume' (coroutine expected, got %s)", typeName(t.Arg(0)))
	}
	ok2, results, err := resume(co, collectArgs(t, 1))
	if !ok2 {
		t.push(Boolean(false))
		if err != nil {
			t.push(t.global.Intern(err.Error()))
		} else {
			t.push(NilValue)
		}
		return 2, nil
	}
	t.push(Boolean(true))
	for _, r := range results {
		t.push(r)
	}
	return 1 + len(results), nil
}

func stdCoroutineYield(t *Thread) (int, error) {
	results := t.yield(collectArgs(t, 0))
	for _, r := range results {
		t.push(r)
	}
	return len(results), nil
}

func stdCoroutineStatus(t *Thread) (int, error) {
	co, ok := t.Arg(0).(*Thread)
	if !ok {
		return 0, newRuntimeError("bad argument #1 to 'status' (coroutine expected, got %s)", typeName(t.Arg(0)))
	}
	t.push(t.global.Intern(co.status.String()))
	return 1, nil
}

// stdCoroutineWrap builds a plain function that resumes a freshly
// created coroutine and re-raises its error instead of returning a
// status flag, the usual sugar over coroutine.create/resume (§4.5).
func stdCoroutineWrap(t *Thread) (int, error) {
	fn := t.Arg(0)
	if _, ok := fn.(Callable); !ok {
		return 0, newRuntimeError("bad argument #1 to 'wrap' (function expected, got %s)", typeName(fn))
	}
	co := newThread(t.global)
	co.push(fn)
	wrapped := newGoFunction(t.global.gc, "wrapped coroutine", func(inner *Thread) (int, error) {
		ok, results, err := resume(co, collectArgs(inner, 0))
		if !ok {
			if err != nil {
				return 0, err
			}
			return 0, newRuntimeError("cannot resume dead coroutine")
		}
		for _, r := range results {
			inner.push(r)
		}
		return len(results), nil
	})
	t.push(wrapped)
	return 1, nil
}

// --- math table ----------------------------------------------------------

// registerMathTable wires real math.Pow (and friends) in, the same
// IEEE math.Pow the `^` opcode itself now uses directly (§4.2).
func registerMathTable(gs *GlobalState, g *Table) {
	m := gs.NewTable()
	g.rawset(gs.gc, gs.Intern("math"), m)
	def := func(name string, fn func(t *Thread) (int, error)) {
		m.rawset(gs.gc, gs.Intern(name), newGoFunction(gs.gc, name, fn))
	}
	m.rawset(gs.gc, gs.Intern("pi"), Number(math.Pi))
	m.rawset(gs.gc, gs.Intern("huge"), Number(math.Inf(1)))

	def("floor", mathUnary(math.Floor))
	def("ceil", mathUnary(math.Ceil))
	def("sqrt", mathUnary(math.Sqrt))
	def("abs", mathUnary(math.Abs))
	def("sin", mathUnary(math.Sin))
	def("cos", mathUnary(math.Cos))
	def("tan", mathUnary(math.Tan))
	def("exp", mathUnary(math.Exp))
	def("log", mathLog)
	def("pow", mathPow)
	def("max", mathMax)
	def("min", mathMin)
	def("fmod", mathFmod)
	def("modf", mathModf)
}

func mathUnary(fn func(float64) float64) func(t *Thread) (int, error) {
	return func(t *Thread) (int, error) {
		n, ok := t.Arg(0).(Number)
		if !ok {
			return 0, newRuntimeError("bad argument #1 (number expected, got %s)", typeName(t.Arg(0)))
		}
		t.push(Number(fn(float64(n))))
		return 1, nil
	}
}

func mathLog(t *Thread) (int, error) {
	n, ok := t.Arg(0).(Number)
	if !ok {
		return 0, newRuntimeError("bad argument #1 to 'log' (number expected, got %s)", typeName(t.Arg(0)))
	}
	if base, ok := t.Arg(1).(Number); ok {
		t.push(Number(math.Log(float64(n)) / math.Log(float64(base))))
		return 1, nil
	}
	t.push(Number(math.Log(float64(n))))
	return 1, nil
}

func mathPow(t *Thread) (int, error) {
	a, ok1 := t.Arg(0).(Number)
	b, ok2 := t.Arg(1).(Number)
	if !ok1 || !ok2 {
		return 0, newRuntimeError("bad argument to 'pow' (number expected)")
	}
	t.push(Number(math.Pow(float64(a), float64(b))))
	return 1, nil
}

func mathMax(t *Thread) (int, error) {
	n := t.ArgCount()
	if n == 0 {
		return 0, newRuntimeError("bad argument #1 to 'max' (value expected)")
	}
	best, ok := t.Arg(0).(Number)
	if !ok {
		return 0, newRuntimeError("bad argument #1 to 'max' (number expected, got %s)", typeName(t.Arg(0)))
	}
	for i := 1; i < n; i++ {
		v, ok := t.Arg(i).(Number)
		if !ok {
			return 0, newRuntimeError("bad argument #%d to 'max' (number expected, got %s)", i+1, typeName(t.Arg(i)))
		}
		if v > best {
			best = v
		}
	}
	t.push(best)
	return 1, nil
}

func mathMin(t *Thread) (int, error) {
	n := t.ArgCount()
	if n == 0 {
		return 0, newRuntimeError("bad argument #1 to 'min' (value expected)")
	}
	best, ok := t.Arg(0).(Number)
	if !ok {
		return 0, newRuntimeError("bad argument #1 to 'min' (number expected, got %s)", typeName(t.Arg(0)))
	}
	for i := 1; i < n; i++ {
		v, ok := t.Arg(i).(Number)
		if !ok {
			return 0, newRuntimeError("bad argument #%d to 'min' (number expected, got %s)", i+1, typeName(t.Arg(i)))
		}
		if v < best {
			best = v
		}
	}
	t.push(best)
	return 1, nil
}

func mathFmod(t *Thread) (int, error) {
	a, ok1 := t.Arg(0).(Number)
	b, ok2 := t.Arg(1).(Number)
	if !ok1 || !ok2 {
		return 0, newRuntimeError("bad argument to 'fmod' (number expected)")
	}
	t.push(Number(math.Mod(float64(a), float64(b))))
	return 1, nil
}

func mathModf(t *Thread) (int, error) {
	a, ok := t.Arg(0).(Number)
	if !ok {
		return 0, newRuntimeError("bad argument #1 to 'modf' (number expected, got %s)", typeName(t.Arg(0)))
	}
	ip, fp := math.Modf(float64(a))
	t.push(Number(ip))
	t.push(Number(fp))
	return 2, nil
}
