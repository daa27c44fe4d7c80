package wisp

// GlobalState is shared across every thread of one interpreter
// instance (§3.6): the string intern table, the registry, the
// type-wise default metatables, the collector, and the main thread.
//
// Generalizes the teacher's single flat package-level state (there is
// no analogous "one VM instance" concept in a PEG matcher — every
// Bytecode.Match call is independent) into the parameterized
// `VmContext`-style object spec.md §9.1 calls for instead of a
// C-style global singleton: every subsystem here takes a *GlobalState
// (or a *Thread, which embeds a pointer back to one) rather than
// touching package-level variables.
type GlobalState struct {
	gc      *gc
	strings *stringTable

	registry *Table

	// typeMetatables holds one default metatable per basic type,
	// indexed by Type (§3.6). Only a handful of slots are ever used
	// (string, and whatever the embedder sets for number/boolean).
	typeMetatables [int(TypeThread) + 1]*Table

	mainThread *Thread

	// panicFn is invoked when an error escapes every protection frame
	// (§4.4): "the panic function is called; if it returns, the host
	// is aborted."
	panicFn func(v Value)

	gcParams GCParams
}

// NewState creates a fresh interpreter instance with its own string
// pool, registry, collector and main thread.
func NewState() *GlobalState {
	params := DefaultGCParams()
	g := newGC(params)
	gs := &GlobalState{
		gc:       g,
		strings:  newStringTable(g),
		gcParams: params,
	}
	g.strings = gs.strings
	gs.registry = newTable(g, 0, 8)
	gs.mainThread = newThread(gs)
	g.rootMarker = gs.markRoots
	g.runFinalizer = gs.runFinalizerValue
	gs.panicFn = func(v Value) {
		panic(&RuntimeError{Value: v})
	}
	return gs
}

// MainThread returns the implicitly created main coroutine (§3.5).
func (gs *GlobalState) MainThread() *Thread { return gs.mainThread }

// Intern returns the unique *LString for the given Go string.
func (gs *GlobalState) Intern(s string) *LString {
	return gs.strings.internString(s)
}

// NewTable allocates a fresh, empty table tracked by the collector.
func (gs *GlobalState) NewTable() *Table {
	return newTable(gs.gc, 0, 0)
}

// NewUserdata wraps an arbitrary host value as a collectable Userdata
// (§3.1), the embedding API's counterpart to NewTable: the returned
// value has no metatable until the host calls SetMetatable on it.
func (gs *GlobalState) NewUserdata(data any) *Userdata {
	return newUserdata(gs.gc, data)
}

// Globals returns the global variables table of the main thread's
// base environment. wisp keeps globals as an ordinary table reachable
// from the registry (registry["_G"]), exactly like GETGLOBAL/
// SETGLOBAL resolve them, rather than a separate VM-level slot —
// that's simpler to reach from both Lua code (`_G.x`) and Go host
// code uniformly.
func (gs *GlobalState) Globals() *Table {
	g := gs.registry.rawgetStr("_G")
	t, ok := g.(*Table)
	if !ok {
		t = gs.NewTable()
		gs.registry.rawset(gs.gc, gs.Intern("_G"), t)
		t.rawset(gs.gc, gs.Intern("_G"), t)
	}
	return t
}

// SetPanicFunc overrides what happens when an error escapes every
// protection frame (§4.4).
func (gs *GlobalState) SetPanicFunc(fn func(v Value)) { gs.panicFn = fn }

// markRoots marks everything reachable from outside the heap (§4.3
// Roots): the main thread and its active stack, the registry (which
// transitively holds globals), and the type-wise default metatables.
func (gs *GlobalState) markRoots(g *gc) {
	g.markValue(gs.registry)
	for _, mt := range gs.typeMetatables {
		if mt != nil {
			g.markValue(mt)
		}
	}
	for t := gs.mainThread; t != nil; t = nil {
		g.markValue(t)
	}
}

func (gs *GlobalState) runFinalizerValue(v Value) {
	// Best-effort: finalizers run in protected mode so a failure
	// during collection never corrupts the collector's own state
	// (§4.3 Finalizers).
	defer func() { recover() }()
	call(gs.mainThread, v, nil, -1)
}

// Collect forces the collector through to completion — the
// implementation behind collectgarbage("collect").
func (gs *GlobalState) Collect() { gs.gc.collect() }

// CollectStep performs one bounded unit of incremental work — the
// implementation behind collectgarbage("step").
func (gs *GlobalState) CollectStep() { gs.gc.step() }

// AllocatedBytes reports the collector's own tracked byte counter —
// the implementation behind collectgarbage("count"). It is wisp's
// bookkeeping total, not host process RSS (see gc.go's doc comment).
func (gs *GlobalState) AllocatedBytes() int64 { return gs.gc.totalBytes }
