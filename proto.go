package wisp

// upvalueDesc describes where a closure's Nth upvalue is captured
// from when the closure is instantiated (§3.4): either a local slot of
// the immediately enclosing function's frame, or one of the enclosing
// function's own upvalues.
type upvalueDesc struct {
	Name      string
	FromLocal bool // true: captures enclosing frame's local #Index
	Index     int
}

// localVarInfo is one entry of a Proto's debug info: the scope in
// which a named local variable is visible, expressed as the
// instruction range [StartPC, EndPC).
type localVarInfo struct {
	Name    string
	StartPC int
	EndPC   int
}

// Proto is the immutable compiled form of one function (§3.4): code,
// constants, nested function prototypes, and debug info. It never
// changes after the parser/codegen finishes emitting it.
type Proto struct {
	Source string // chunk name, for error location prefixes (§7)

	Code []Instruction
	Constants []Value // nil | boolean | number | string

	Protos []*Proto // nested function prototypes, indexed by CLOSURE's Bx

	NumParams int
	IsVararg  bool
	MaxStack  int

	Upvalues []upvalueDesc

	// Debug info (§3.4): parallel to Code, one source line per
	// instruction; plus local variable scopes and, redundantly with
	// Upvalues[i].Name, upvalue names for disassembly/tracebacks.
	Lines     []int
	Locals    []localVarInfo
	UpvalNames []string

	LineDefined     int
	LastLineDefined int
}

func newProto(source string) *Proto {
	return &Proto{Source: source}
}
