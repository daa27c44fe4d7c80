package wisp

// Userdata is the heap-allocated, collectable userdata variant (§3.1):
// opaque host data wrapped for Lua, with its own metatable and an
// optional environment table, eligible for `__gc` exactly like a table
// (§4.3 Finalizers: "tables/userdata"). LightUserdata (value.go) is its
// non-collectable sibling — a bare pointer the host identifies by
// value; Userdata is for host data whose lifetime the collector itself
// should track and that can carry Lua-visible behavior through its
// metatable.
type Userdata struct {
	gcHeader

	Data any // opaque to wisp; only the host interprets it

	metatable *Table
	env       *Table
}

// newUserdata wraps data in a fresh, GC-tracked Userdata with no
// metatable and no environment table.
func newUserdata(g *gc, data any) *Userdata {
	u := &Userdata{Data: data}
	g.register(u)
	return u
}

func (u *Userdata) Type() Type   { return TypeUserdata }
func (u *Userdata) Truthy() bool { return true }

func (u *Userdata) gcTraverse(g *gc) {
	if u.metatable != nil {
		g.markValue(u.metatable)
	}
	if u.env != nil {
		g.markValue(u.env)
	}
}

// finalizer satisfies the finalizable interface (gc.go): a userdata's
// `__gc` comes from its own metatable, same lookup table.rawgetStr
// uses for a table's.
func (u *Userdata) finalizer() Value {
	if u.metatable == nil {
		return nil
	}
	return u.metatable.rawgetStr(metaGC)
}

// Metatable returns u's metatable, or nil.
func (u *Userdata) Metatable() *Table { return u.metatable }

// SetMetatable installs u's metatable (§3.6). Unlike a table's, a
// userdata's metatable is only reachable from the host embedding API —
// the Lua-level `setmetatable` builtin rejects non-table arguments,
// matching the reference implementation.
func (u *Userdata) SetMetatable(g *gc, mt *Table) {
	u.metatable = mt
	if mt != nil {
		g.barrierForward(u, mt)
	}
}

// Env returns u's environment table (§3.1), or nil if none was set.
func (u *Userdata) Env() *Table { return u.env }

// SetEnv installs u's environment table.
func (u *Userdata) SetEnv(g *gc, env *Table) {
	u.env = env
	if env != nil {
		g.barrierForward(u, env)
	}
}
