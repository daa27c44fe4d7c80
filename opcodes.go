package wisp

// Instruction is a single fixed-width bytecode word (§4.2 Instruction
// Format), laid out as one of three formats:
//
//	ABC:  6-bit opcode | 8-bit A | 9-bit B | 9-bit C
//	ABx:  6-bit opcode | 8-bit A | 18-bit unsigned Bx
//	AsBx: 6-bit opcode | 8-bit A | 18-bit signed sBx (bias-encoded)
//
// B and C may be RK-encoded: the top bit set means "constant pool
// index", clear means "register index" (§4.2).
type Instruction uint32

const (
	sizeOp = 6
	sizeA  = 8
	sizeB  = 9
	sizeC  = 9
	sizeBx = sizeB + sizeC // 18

	posOp = 0
	posA  = posOp + sizeOp
	posB  = posA + sizeA
	posC  = posB + sizeB
	posBx = posA + sizeA
)

const (
	maxArgA  = 1<<sizeA - 1
	maxArgB  = 1<<sizeB - 1
	maxArgC  = 1<<sizeC - 1
	maxArgBx = 1<<sizeBx - 1

	biasSBx = maxArgBx >> 1

	// bitRK is the RK "constant pool index" flag within a 9-bit B/C
	// operand.
	bitRK    = 1 << (sizeB - 1)
	maxIndexRK = bitRK - 1
)

func mask1(n, p uint) uint32 { return ((1 << n) - 1) << p }

func getArg(i Instruction, pos, size uint) int {
	return int((uint32(i) >> pos) & ((1 << size) - 1))
}

func setArg(i *Instruction, v int, pos, size uint) {
	*i = Instruction((uint32(*i) &^ mask1(size, pos)) | ((uint32(v) << pos) & mask1(size, pos)))
}

func (i Instruction) Opcode() Opcode { return Opcode(getArg(i, posOp, sizeOp)) }
func (i Instruction) A() int         { return getArg(i, posA, sizeA) }
func (i Instruction) B() int         { return getArg(i, posB, sizeB) }
func (i Instruction) C() int         { return getArg(i, posC, sizeC) }
func (i Instruction) Bx() int        { return getArg(i, posBx, sizeBx) }
func (i Instruction) SBx() int       { return getArg(i, posBx, sizeBx) - biasSBx }

func createABC(op Opcode, a, b, c int) Instruction {
	var i Instruction
	setArg(&i, int(op), posOp, sizeOp)
	setArg(&i, a, posA, sizeA)
	setArg(&i, b, posB, sizeB)
	setArg(&i, c, posC, sizeC)
	return i
}

func createABx(op Opcode, a, bx int) Instruction {
	var i Instruction
	setArg(&i, int(op), posOp, sizeOp)
	setArg(&i, a, posA, sizeA)
	setArg(&i, bx, posBx, sizeBx)
	return i
}

func createAsBx(op Opcode, a, sbx int) Instruction {
	return createABx(op, a, sbx+biasSBx)
}

// isK reports whether an RK-encoded B/C operand refers to the
// constant pool, and rkIndex extracts the plain index either way.
func isK(rk int) bool   { return rk&bitRK != 0 }
func rkIndex(rk int) int { return rk &^ bitRK }
func asK(idx int) int    { return idx | bitRK }

// Opcode is the VM's instruction set (§4.2 Opcode Set).
type Opcode byte

const (
	OpMove Opcode = iota
	OpLoadK
	OpLoadBool
	OpLoadNil
	OpGetUpval
	OpSetUpval
	OpGetGlobal
	OpSetGlobal
	OpNewTable
	OpGetTable
	OpSetTable
	OpSelf
	OpSetList
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpMod
	OpPow
	OpUnm
	OpNot
	OpLen
	OpConcat
	OpJmp
	OpEq
	OpLt
	OpLe
	OpTest
	OpTestSet
	OpCall
	OpTailCall
	OpReturn
	OpVararg
	OpClosure
	OpForPrep
	OpForLoop
	OpTForLoop
	OpClose
	opCount
)

var opNames = [opCount]string{
	OpMove:      "MOVE",
	OpLoadK:     "LOADK",
	OpLoadBool:  "LOADBOOL",
	OpLoadNil:   "LOADNIL",
	OpGetUpval:  "GETUPVAL",
	OpSetUpval:  "SETUPVAL",
	OpGetGlobal: "GETGLOBAL",
	OpSetGlobal: "SETGLOBAL",
	OpNewTable:  "NEWTABLE",
	OpGetTable:  "GETTABLE",
	OpSetTable:  "SETTABLE",
	OpSelf:      "SELF",
	OpSetList:   "SETLIST",
	OpAdd:       "ADD",
	OpSub:       "SUB",
	OpMul:       "MUL",
	OpDiv:       "DIV",
	OpMod:       "MOD",
	OpPow:       "POW",
	OpUnm:       "UNM",
	OpNot:       "NOT",
	OpLen:       "LEN",
	OpConcat:    "CONCAT",
	OpJmp:       "JMP",
	OpEq:        "EQ",
	OpLt:        "LT",
	OpLe:        "LE",
	OpTest:      "TEST",
	OpTestSet:   "TESTSET",
	OpCall:      "CALL",
	OpTailCall:  "TAILCALL",
	OpReturn:    "RETURN",
	OpVararg:    "VARARG",
	OpClosure:   "CLOSURE",
	OpForPrep:   "FORPREP",
	OpForLoop:   "FORLOOP",
	OpTForLoop:  "TFORLOOP",
	OpClose:     "CLOSE",
}

func (op Opcode) String() string {
	if int(op) < len(opNames) {
		return opNames[op]
	}
	return "?"
}

// noJump is the sentinel terminating a jump list (§4.1 Jump-list
// Discipline): offsets are relative, so -1 (i.e. "jump to self minus
// one") can never occur naturally and is free to reuse as "end of
// list".
const noJump = -1
