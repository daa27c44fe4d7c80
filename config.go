package wisp

// CompilerConfig holds parser/codegen knobs. Adapted from the
// teacher's config.go (a generic string-keyed settings map used by
// the grammar loader); wisp only ever needs a couple of fixed knobs,
// so a plain struct replaces the generic map, matching how the
// teacher's own CompilerConfig{Optimize int} (grammar_compiler.go) is
// already shaped.
type CompilerConfig struct {
	// FoldConstants enables the constant-folding pass of §4.1. Off
	// only for codegen tests that want to see the literal opcodes.
	FoldConstants bool

	// MaxConstants bounds the per-Proto constant pool so indices fit
	// an RK-encoded operand; exceeding it is a compile error.
	MaxConstants int

	// MaxRegisters bounds a function's max_stack; exceeding it is
	// "function or expression too complex" (§4.1 Register Allocator).
	MaxRegisters int
}

// DefaultCompilerConfig mirrors the reference implementation's fixed
// limits (250 registers, a 9-bit RK constant index minus the sign bit).
func DefaultCompilerConfig() CompilerConfig {
	return CompilerConfig{
		FoldConstants: true,
		MaxConstants:  maxIndexRK + 1,
		MaxRegisters:  250,
	}
}

// GCParams holds the collector's runtime-tunable parameters (§4.3
// Step Sizing): pauseRatio controls how much garbage accumulates
// before a new cycle starts, stepMultiplier controls how much work
// each step does relative to allocation.
type GCParams struct {
	PauseRatio     int
	StepMultiplier int
}

// DefaultGCParams mirrors the reference defaults: collection begins
// again at roughly 2x the live set, and the collector does about 2x
// the allocation rate of work per step.
func DefaultGCParams() GCParams {
	return GCParams{
		PauseRatio:     200,
		StepMultiplier: 200,
	}
}
