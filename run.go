package wisp

import "fmt"

// Run compiles and executes source as a chunk named chunkName on the
// state's main thread, the same Parse→newClosure→call sequence every
// entry point (CLI, REPL, `load`) goes through. A syntax error comes
// back unwrapped from Parse; a runtime error is whatever was raised
// via `error` or synthesized by the VM (§7 Kinds).
//
// The call itself runs under the same protection `pcall` gives Lua
// code (§7 "Propagation": an error with no enclosing protection frame
// reaches the panic function) — Run *is* that outermost frame, the
// same role lua.c's own top-level dofile wrapping plays, so a bare
// `error(...)` at chunk scope comes back as a normal Go error instead
// of an unrecovered panic.
func Run(gs *GlobalState, chunkName, source string) ([]Value, error) {
	proto, err := Parse(chunkName, source, DefaultCompilerConfig())
	if err != nil {
		return nil, err
	}
	closure := newClosure(gs.gc, proto)
	ok, results, errVal := pcall(gs.mainThread, closure, nil)
	if !ok {
		return nil, &RuntimeError{Value: errVal}
	}
	return results, nil
}

// RunFile reads path and runs it as a chunk named after the path,
// the CLI's non-interactive mode (§6.3).
func RunFile(gs *GlobalState, path string, source []byte) ([]Value, error) {
	return Run(gs, path, string(source))
}

// ToDisplayString renders v the way the REPL echoes a result line:
// same `__tostring`-aware formatting print() itself uses, run on the
// main thread since a bare top-level value has no frame of its own.
func ToDisplayString(gs *GlobalState, v Value) string {
	s, err := toStringValue(gs.mainThread, v)
	if err != nil {
		return fmt.Sprintf("<error formatting value: %s>", err.Error())
	}
	return s
}

// formatError renders an error the way the CLI prints it to stderr:
// a syntax/runtime error already carries its own "<chunk>:<line>: "
// prefix where applicable (§7 "User-visible behavior"); anything else
// (a Go-level I/O error) prints as-is.
func formatError(err error) string {
	return fmt.Sprintf("wisp: %s", err.Error())
}
