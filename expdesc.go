package wisp

// expKind classifies an expdesc the way the reference compiler's own
// expkind enum does (§4.1 Expression Descriptor): codegen keeps
// deciding "where does this expression's value actually live" right
// up until the last possible moment, so as many kinds as possible are
// resolved lazily instead of eagerly emitting a register move.
type expKind int

const (
	expVoid     expKind = iota // no value
	expNil                     // nil constant
	expTrue                    // true constant
	expFalse                   // false constant
	expKNum                    // value in numLiteral (not yet pooled); info unused
	expK                       // info: index into the proto's constant pool
	expLocal                   // info: register of a local variable
	expUpval                   // info: index into Upvalues
	expGlobal                  // info: index into the constant pool (the name)
	expIndexed                 // info: table register, aux: RK-encoded key
	expJmp                     // info: pc of a JMP/test instruction pending patch
	expReloc                   // info: pc of an instruction whose A operand is not yet assigned
	expNonReloc                // info: register already holding the value
	expCall                    // info: pc of the CALL instruction (result register = call's own A)
	expVararg                  // info: pc of the VARARG instruction
)

// expdesc describes one expression mid-compilation.
type expdesc struct {
	kind expKind
	info int
	aux  int

	// numLiteral/hasNum hold an expKNum literal's value directly,
	// ungrounded in the constant pool until it is actually discharged
	// or folded, so arithmetic on two literals can fold without ever
	// allocating a constant slot (§8.3 Constant Folding).
	numLiteral float64
	hasNum     bool

	// t and f are jump lists: instruction pcs of conditional jumps
	// that should be patched to "here" once the expression's truth or
	// falsity destination is known (§4.1 Jump-list Discipline).
	t, f int
}

func (e expdesc) hasJumps() bool { return e.t != e.f }

func newExp(kind expKind, info int) expdesc {
	return expdesc{kind: kind, info: info, t: noJump, f: noJump}
}

// concatJump appends list `from` onto `into` (both pc chains threaded
// through each jump instruction's own sBx field until patched),
// returning the new head.
func (fs *funcState) concatJump(into, from int) int {
	if from == noJump {
		return into
	}
	if into == noJump {
		return from
	}
	// Walk `into` to its end, relinking the last entry's placeholder
	// offset to point at `from`.
	cur := into
	for {
		next := fs.jumpTarget(cur)
		if next == noJump {
			break
		}
		cur = next
	}
	fs.patchListAux(cur, from)
	return into
}

// jumpTarget reads the pc currently threaded into a JMP's sBx as a
// "next in this jump list" link (before it is patched to a real
// destination).
func (fs *funcState) jumpTarget(pc int) int {
	offset := fs.proto.Code[pc].SBx()
	if offset == noJump {
		return noJump
	}
	return pc + 1 + offset
}

// patchListAux relinks pc's own jump-list pointer to target `val`.
// sBx is an 18-bit signed field (§4.2); a block spanning more than
// that many instructions panics with a *SyntaxError, which Parse
// recovers at the top level (newReg's register ceiling and
// addConstant's pool ceiling are reported as returned errors instead).
func (fs *funcState) patchListAux(pc, val int) {
	offset := val - (pc + 1)
	if offset > biasSBx || offset < -biasSBx-1 {
		panic(&SyntaxError{ChunkName: fs.source, Line: fs.curLine, Message: "control structure too long"})
	}
	fs.proto.Code[pc] = createAsBx(fs.proto.Code[pc].Opcode(), fs.proto.Code[pc].A(), offset)
}

// patchToHere patches every jump in list `list` to the current pc.
func (fs *funcState) patchToHere(list int) {
	fs.patchListTo(list, len(fs.proto.Code))
}

func (fs *funcState) patchListTo(list, target int) {
	for list != noJump {
		next := fs.jumpTarget(list)
		fs.patchListAux(list, target)
		list = next
	}
}
