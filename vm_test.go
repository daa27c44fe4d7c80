package wisp

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func runNumber(t *testing.T, source string) float64 {
	t.Helper()
	gs := NewState()
	RegisterStdlib(gs)
	results, err := Run(gs, "test", source)
	assert.NoError(t, err)
	assert.Len(t, results, 1)
	n, ok := results[0].(Number)
	assert.True(t, ok, "expected a number result, got %T", results[0])
	return float64(n)
}

func TestVM_Arithmetic(t *testing.T) {
	tests := []struct {
		name     string
		source   string
		expected float64
	}{
		{name: "addition", source: "return 1 + 2", expected: 3},
		{name: "precedence", source: "return 2 + 3 * 4", expected: 14},
		{name: "folded literals", source: "return 10 / 4", expected: 2.5},
		{name: "unary minus", source: "return -(3 + 4)", expected: -7},
		{name: "power", source: "return 2 ^ 10", expected: 1024},
		{name: "fractional power at runtime", source: "local x = 4; local y = 0.5; return x ^ y", expected: 2},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, runNumber(t, tc.source))
		})
	}
}

func TestVM_LocalsAndControlFlow(t *testing.T) {
	source := `
		local sum = 0
		for i = 1, 10 do
			sum = sum + i
		end
		return sum
	`
	assert.Equal(t, float64(55), runNumber(t, source))
}

func TestVM_WhileLoop(t *testing.T) {
	source := `
		local i = 0
		local acc = 1
		while i < 5 do
			acc = acc * 2
			i = i + 1
		end
		return acc
	`
	assert.Equal(t, float64(32), runNumber(t, source))
}

func TestVM_Closures(t *testing.T) {
	source := `
		local function counter()
			local n = 0
			return function()
				n = n + 1
				return n
			end
		end
		local c = counter()
		c()
		c()
		return c()
	`
	assert.Equal(t, float64(3), runNumber(t, source))
}

func TestVM_Recursion(t *testing.T) {
	source := `
		local function fact(n)
			if n <= 1 then
				return 1
			end
			return n * fact(n - 1)
		end
		return fact(6)
	`
	assert.Equal(t, float64(720), runNumber(t, source))
}

// TestVM_TailCallNonGrowth exercises §8.2's "tail call non-growth"
// property: 100000 tail-recursive iterations must run in constant
// call-info depth, well past maxCallDepth, instead of overflowing.
func TestVM_TailCallNonGrowth(t *testing.T) {
	source := `
		local function loop(n)
			if n <= 0 then
				return 0
			end
			return loop(n - 1)
		end
		return loop(100000)
	`
	assert.Equal(t, float64(0), runNumber(t, source))
}

func TestVM_TablesAndLength(t *testing.T) {
	source := `
		local t = {10, 20, 30}
		t.x = 99
		return #t + t.x
	`
	assert.Equal(t, float64(102), runNumber(t, source))
}

func TestVM_StringConcat(t *testing.T) {
	gs := NewState()
	RegisterStdlib(gs)
	results, err := Run(gs, "test", `return "foo" .. "bar"`)
	assert.NoError(t, err)
	s, ok := results[0].(*LString)
	assert.True(t, ok)
	assert.Equal(t, "foobar", string(s.bytes))
}

func TestVM_MultipleReturnAndAssign(t *testing.T) {
	source := `
		local function pair()
			return 1, 2
		end
		local a, b = pair()
		return a + b
	`
	assert.Equal(t, float64(3), runNumber(t, source))
}

func TestVM_PcallCatchesError(t *testing.T) {
	gs := NewState()
	RegisterStdlib(gs)
	source := `
		local ok, err = pcall(function() error("boom") end)
		if ok then return 0 end
		return 1
	`
	results, err := Run(gs, "test", source)
	assert.NoError(t, err)
	assert.Equal(t, Number(1), results[0])
}

func TestVM_SyntaxError(t *testing.T) {
	gs := NewState()
	_, err := Run(gs, "test", "local = = =")
	assert.Error(t, err)
	var se *SyntaxError
	assert.ErrorAs(t, err, &se)
}
