package wisp

// localVar is one active local variable binding during compilation of
// a single function.
type localVar struct {
	name string
	reg  int

	// captured marks a local that at least one nested function
	// closes over, so block-exit knows to emit CLOSE for it.
	captured bool
}

// blockScope tracks one lexical `do...end`/loop block's break list and
// the locals-count snapshot needed to pop them back out on exit
// (§4.1 Register Allocator / break handling).
type blockScope struct {
	parent       *blockScope
	firstLocal   int
	isLoop       bool
	breakList    int // jump-list of pending `break` statements
	hasUpvalue   bool
}

// funcState is the per-function compilation context: its Proto under
// construction, its register allocator cursor, its locals and
// upvalue tables, and its constant-pool dedup map. Grounded on §4.1's
// own description of this component and patterned, at the level of
// "one state object per nested function, linked to its parent", after
// the teacher's own nested-scope compiler state in grammar_compiler.go.
type funcState struct {
	parent *funcState
	proto  *Proto

	freeReg  int
	maxStack int

	locals []localVar
	block  *blockScope

	constIndex map[Value]int

	config CompilerConfig

	source  string
	curLine int
}

func newFuncState(parent *funcState, source string, cfg CompilerConfig) *funcState {
	return &funcState{
		parent:     parent,
		proto:      newProto(source),
		constIndex: map[Value]int{},
		config:     cfg,
		source:     source,
	}
}

// reserveRegs bumps the allocator past n registers already considered
// "in use" (e.g. parameters), updating maxStack.
func (fs *funcState) reserveRegs(n int) {
	fs.freeReg += n
	fs.checkStack()
}

func (fs *funcState) checkStack() {
	if fs.freeReg > fs.maxStack {
		fs.maxStack = fs.freeReg
		fs.proto.MaxStack = fs.maxStack
	}
}

// newReg allocates and returns the next free register (§4.1 "LIFO
// discipline": registers above the current locals are temporaries,
// always freed in reverse allocation order).
func (fs *funcState) newReg() (int, error) {
	if fs.freeReg >= fs.config.MaxRegisters {
		return 0, newRuntimeError("function or expression too complex")
	}
	r := fs.freeReg
	fs.freeReg++
	fs.checkStack()
	return r, nil
}

// freeRegister releases register r if it is a temporary above the current
// local-variable high-water mark (freeing a local or constant by
// mistake is a compiler bug, not a runtime possibility).
func (fs *funcState) freeRegister(r int) {
	nactive := 0
	if n := len(fs.locals); n > 0 {
		nactive = fs.locals[n-1].reg + 1
	}
	if r >= nactive && r == fs.freeReg-1 {
		fs.freeReg--
	}
}

func (fs *funcState) freeExp(e expdesc) {
	if e.kind == expNonReloc {
		fs.freeRegister(e.info)
	}
}

// addConstant interns v into the proto's constant pool, deduplicating
// by value so repeated literals share one slot (§4.1 Constant Pool).
func (fs *funcState) addConstant(v Value) (int, error) {
	key := constKey(v)
	if idx, ok := fs.constIndex[key]; ok {
		return idx, nil
	}
	if len(fs.proto.Constants) >= fs.config.MaxConstants {
		return 0, newRuntimeError("too many constants")
	}
	idx := len(fs.proto.Constants)
	fs.proto.Constants = append(fs.proto.Constants, v)
	fs.constIndex[key] = idx
	return idx, nil
}

// constKey normalizes a Value for use as a Go map key: *LString must
// key by content (pointer identity isn't stable until interning, and
// during compilation literal strings aren't interned yet), everything
// else is already a comparable Go value.
func constKey(v Value) Value {
	if s, ok := v.(*LString); ok {
		return constStringKey(string(s.bytes))
	}
	return v
}

// constStringKey is a throwaway comparable Go string used only as a
// constIndex map key; it is never exposed as a runtime Value.
type constStringKey string

func (constStringKey) Type() Type   { return TypeString }
func (constStringKey) Truthy() bool { return true }

// addLocal declares a new local in the current scope at the next free
// register.
func (fs *funcState) addLocal(name string) (int, error) {
	r, err := fs.newReg()
	if err != nil {
		return 0, err
	}
	fs.locals = append(fs.locals, localVar{name: name, reg: r})
	fs.proto.Locals = append(fs.proto.Locals, localVarInfo{Name: name, StartPC: len(fs.proto.Code)})
	return r, nil
}

// resolveLocal finds a local by name in this function only (searching
// outward across function boundaries is resolveUpvalue's job).
func (fs *funcState) resolveLocal(name string) (int, bool) {
	for i := len(fs.locals) - 1; i >= 0; i-- {
		if fs.locals[i].name == name {
			return fs.locals[i].reg, true
		}
	}
	return 0, false
}

// resolveUpvalue finds or creates an upvalue descriptor capturing
// `name` from an enclosing function, recursing outward (§3.4).
func (fs *funcState) resolveUpvalue(name string) (int, bool) {
	if fs.parent == nil {
		return 0, false
	}
	for i, uv := range fs.proto.Upvalues {
		if uv.Name == name {
			return i, true
		}
	}
	if reg, ok := fs.parent.resolveLocal(name); ok {
		fs.parent.markCaptured(reg)
		fs.proto.Upvalues = append(fs.proto.Upvalues, upvalueDesc{Name: name, FromLocal: true, Index: reg})
		return len(fs.proto.Upvalues) - 1, true
	}
	if idx, ok := fs.parent.resolveUpvalue(name); ok {
		fs.proto.Upvalues = append(fs.proto.Upvalues, upvalueDesc{Name: name, FromLocal: false, Index: idx})
		return len(fs.proto.Upvalues) - 1, true
	}
	return 0, false
}

func (fs *funcState) markCaptured(reg int) {
	for i := range fs.locals {
		if fs.locals[i].reg == reg {
			fs.locals[i].captured = true
			for b := fs.block; b != nil && b.firstLocal <= i; b = b.parent {
				b.hasUpvalue = true
			}
			return
		}
	}
}

func (fs *funcState) enterBlock(isLoop bool) {
	fs.block = &blockScope{parent: fs.block, firstLocal: len(fs.locals), isLoop: isLoop, breakList: noJump}
}

// leaveBlock pops the scope's locals back off, closing upvalues first
// if any were captured, and returns the block's pending break list so
// the caller (a loop statement) can patch it to the loop's exit point.
func (fs *funcState) leaveBlock() int {
	b := fs.block
	needsClose := false
	for i := b.firstLocal; i < len(fs.locals); i++ {
		if fs.locals[i].captured {
			needsClose = true
		}
		fs.proto.Locals[indexOfLocal(fs.proto.Locals, fs.locals[i].name, i)].EndPC = len(fs.proto.Code)
	}
	if needsClose {
		fs.emitABC(OpClose, b.firstLocal, 0, 0)
	}
	fs.locals = fs.locals[:b.firstLocal]
	fs.freeReg = b.firstLocal
	fs.block = b.parent
	return b.breakList
}

func indexOfLocal(infos []localVarInfo, name string, fallback int) int {
	for i := len(infos) - 1; i >= 0; i-- {
		if infos[i].Name == name && infos[i].EndPC == 0 {
			return i
		}
	}
	if fallback < len(infos) {
		return fallback
	}
	return len(infos) - 1
}

// emit helpers append one instruction and its source line, returning
// the new instruction's pc.
func (fs *funcState) emitABC(op Opcode, a, b, c int) int {
	fs.proto.Code = append(fs.proto.Code, createABC(op, a, b, c))
	fs.proto.Lines = append(fs.proto.Lines, fs.curLine)
	return len(fs.proto.Code) - 1
}

func (fs *funcState) emitABx(op Opcode, a, bx int) int {
	fs.proto.Code = append(fs.proto.Code, createABx(op, a, bx))
	fs.proto.Lines = append(fs.proto.Lines, fs.curLine)
	return len(fs.proto.Code) - 1
}

func (fs *funcState) emitAsBx(op Opcode, a, sbx int) int {
	fs.proto.Code = append(fs.proto.Code, createAsBx(op, a, sbx))
	fs.proto.Lines = append(fs.proto.Lines, fs.curLine)
	return len(fs.proto.Code) - 1
}

func (fs *funcState) emitJump() int {
	return fs.emitAsBx(OpJmp, 0, noJump)
}
