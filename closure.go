package wisp

// Upvalue is a captured outer-scope local variable (§3.4, §9.1): it
// is either *open* (still pointing into a live thread's value stack)
// or *closed* (a self-owned value cell, once the enclosing scope
// exited). Closing transitions the variant in place rather than
// allocating a new object, so existing closures that share this
// upvalue keep seeing the same cell.
type Upvalue struct {
	gcHeader

	closed bool
	value  Value // meaningful only once closed

	thread *Thread // owner thread while open
	index  int     // stack slot while open

	// openNext threads this upvalue into its owning thread's
	// open-upvalue list, kept ordered by descending stack index so
	// "close everything at or above level L" can walk a prefix.
	openNext *Upvalue
}

// Type reuses the TypeUserdata tag purely so gc.register's h.typ
// bookkeeping has something to record; an Upvalue is never wrapped in
// a Value an interpreted program can observe, so it never collides
// with an actual userdata.go Userdata at a call site that type-
// switches on the concrete Go type.
func (u *Upvalue) Type() Type   { return TypeUserdata }
func (u *Upvalue) Truthy() bool { return true }

func (u *Upvalue) get() Value {
	if u.closed {
		return u.value
	}
	return u.thread.stack[u.index]
}

func (u *Upvalue) set(g *gc, v Value) {
	if u.closed {
		u.value = v
		g.barrierForward(u, v)
		return
	}
	u.thread.stack[u.index] = v
}

func (u *Upvalue) gcTraverse(g *gc) {
	if u.closed {
		g.markValue(u.value)
	}
	// while open, the referenced stack slot is a root reached via the
	// owning thread's own traversal, so nothing else to mark here.
}

// close copies the live stack slot into the upvalue's own cell and
// unlinks it from the thread (§3.4: "closing all upvalues at or above
// a given stack level walks this list, copying each referenced stack
// slot into the upvalue cell and unlinking").
func (u *Upvalue) close() {
	if u.closed {
		return
	}
	u.value = u.thread.stack[u.index]
	u.closed = true
	u.thread = nil
}

// Closure is a Lua closure: a Proto plus its captured upvalue slot
// vector (§3.4).
type Closure struct {
	gcHeader

	Proto    *Proto
	Upvalues []*Upvalue
}

func newClosure(g *gc, p *Proto) *Closure {
	c := &Closure{Proto: p, Upvalues: make([]*Upvalue, len(p.Upvalues))}
	g.register(c)
	return c
}

func (c *Closure) Type() Type        { return TypeFunction }
func (c *Closure) Truthy() bool      { return true }
func (c *Closure) callableMarker()   {}

func (c *Closure) gcTraverse(g *gc) {
	for _, uv := range c.Upvalues {
		if uv != nil {
			g.markValue(uv)
		}
	}
}

// GoFunction is a host ("C") closure: a Go function pointer plus its
// captured upvalue *value* vector (§3.4 — C closures capture values
// directly, not upvalue cells, since there is no Lua stack frame to
// point into).
//
// Fn follows the embedding API calling convention summarized in §6.1:
// it receives the thread it is running on, reads its arguments off
// that thread's stack above the call's argument-window base, pushes
// its results, and returns how many it pushed.
type GoFunction struct {
	gcHeader

	Name     string
	Fn       func(t *Thread) (int, error)
	Upvalues []Value
}

func newGoFunction(g *gc, name string, fn func(t *Thread) (int, error)) *GoFunction {
	f := &GoFunction{Name: name, Fn: fn}
	g.register(f)
	return f
}

func (f *GoFunction) Type() Type      { return TypeFunction }
func (f *GoFunction) Truthy() bool    { return true }
func (f *GoFunction) callableMarker() {}

func (f *GoFunction) gcTraverse(g *gc) {
	for _, v := range f.Upvalues {
		g.markValue(v)
	}
}
