package wisp

import "fmt"

// Status is the observable outcome of running or compiling wisp code
// (§7 Error Handling Design, "Kinds").
type Status int

const (
	StatusOK Status = iota
	StatusYield
	StatusRuntime
	StatusSyntax
	StatusMemory
	StatusHandler
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusYield:
		return "yield"
	case StatusRuntime:
		return "runtime error"
	case StatusSyntax:
		return "syntax error"
	case StatusMemory:
		return "not enough memory"
	case StatusHandler:
		return "error in error handling"
	default:
		return "?"
	}
}

// SyntaxError is raised by the parser or the bytecode loader (§7,
// §6.2): "too many locals", "control structure too long", "bad
// header", and so on. Adapted from the teacher's ParsingError (same
// shape: a message plus a source location) generalized from PEG parse
// spans to a single chunk-name:line location.
type SyntaxError struct {
	ChunkName string
	Line      int
	Message   string
}

func (e *SyntaxError) Error() string {
	if e.ChunkName == "" {
		return e.Message
	}
	return fmt.Sprintf("%s:%d: %s", e.ChunkName, e.Line, e.Message)
}

func (e *SyntaxError) Status() Status { return StatusSyntax }

// RuntimeError is raised by user code (`error(...)`) or by the VM for
// semantic failures (type errors, indexing without a metamethod,
// stack overflow). Value carries whatever payload was passed to
// `error` — conventionally a string, but any Value is permitted
// (§4.4).
type RuntimeError struct {
	Value Value
}

func (e *RuntimeError) Error() string {
	if s, ok := e.Value.(*LString); ok {
		return s.String()
	}
	return fmt.Sprintf("(error object is a %s value)", typeName(e.Value))
}

func (e *RuntimeError) Status() Status { return StatusRuntime }

// newRuntimeError builds a *RuntimeError from a plain Go format
// string, for VM-internal semantic errors that have no Lua-visible
// location prefix attached yet (the caller attaches one via
// withLocation before it crosses a pcall boundary).
func newRuntimeError(format string, args ...any) *RuntimeError {
	msg := fmt.Sprintf(format, args...)
	return &RuntimeError{Value: &LString{bytes: []byte(msg), hash: stringHash([]byte(msg))}}
}

// withLocation prepends "<chunkname>:<line>: " to a string-payload
// runtime error, the default location prefix required by §7's
// "User-visible behavior".
func withLocation(err *RuntimeError, chunkName string, line int) *RuntimeError {
	s, ok := err.Value.(*LString)
	if !ok {
		return err
	}
	msg := fmt.Sprintf("%s:%d: %s", chunkName, line, string(s.bytes))
	return &RuntimeError{Value: &LString{bytes: []byte(msg), hash: stringHash([]byte(msg))}}
}

// memoryErrorValue is the distinguished out-of-memory error (§4.4): its
// value is a preallocated literal so raising it never has to
// allocate.
var memoryErrorValue = &LString{bytes: []byte("not enough memory"), hash: stringHash([]byte("not enough memory"))}

type MemoryError struct{}

func (*MemoryError) Error() string  { return "not enough memory" }
func (*MemoryError) Status() Status { return StatusMemory }

// wispError is implemented by every status-carrying error type so
// protected calls can classify what they caught.
type wispError interface {
	error
	Status() Status
}

var (
	_ wispError = (*SyntaxError)(nil)
	_ wispError = (*RuntimeError)(nil)
	_ wispError = (*MemoryError)(nil)
)
