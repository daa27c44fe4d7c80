package wisp

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStdlib_TypeAndToString(t *testing.T) {
	gs := NewState()
	RegisterStdlib(gs)

	results, err := Run(gs, "test", `return type(1), type("s"), type(nil), type({})`)
	assert.NoError(t, err)
	assert.Len(t, results, 4)
	assert.Equal(t, "number", string(results[0].(*LString).bytes))
	assert.Equal(t, "string", string(results[1].(*LString).bytes))
	assert.Equal(t, "nil", string(results[2].(*LString).bytes))
	assert.Equal(t, "table", string(results[3].(*LString).bytes))
}

func TestStdlib_ToNumber(t *testing.T) {
	gs := NewState()
	RegisterStdlib(gs)

	results, err := Run(gs, "test", `return tonumber("42"), tonumber("not a number")`)
	assert.NoError(t, err)
	assert.Equal(t, Number(42), results[0])
	assert.True(t, IsNil(results[1]))
}

func TestStdlib_Assert(t *testing.T) {
	gs := NewState()
	RegisterStdlib(gs)
	_, err := Run(gs, "test", `assert(false, "custom message")`)
	assert.Error(t, err)
	rerr, ok := err.(*RuntimeError)
	assert.True(t, ok)
	assert.Equal(t, "custom message", string(rerr.Value.(*LString).bytes))
}

// TestStdlib_ErrorLevelAcrossPcall covers §8.4 scenario 6: `error`'s
// level-2 location must resolve past pcall's own native call-info
// frame to the Lua line that actually invoked the protected function.
func TestStdlib_ErrorLevelAcrossPcall(t *testing.T) {
	gs := NewState()
	RegisterStdlib(gs)
	results, err := Run(gs, "test", `
		local ok, msg = pcall(function() error("boom", 2) end)
		return ok, msg
	`)
	assert.NoError(t, err)
	assert.Len(t, results, 2)
	assert.Equal(t, Boolean(false), results[0])
	msg := string(results[1].(*LString).bytes)
	assert.Contains(t, msg, "boom")
	assert.Contains(t, msg, ": boom")
}

func TestStdlib_Select(t *testing.T) {
	gs := NewState()
	RegisterStdlib(gs)
	results, err := Run(gs, "test", `return select("#", 1, 2, 3)`)
	assert.NoError(t, err)
	assert.Equal(t, Number(3), results[0])
}

func TestStdlib_PairsIteratesTable(t *testing.T) {
	gs := NewState()
	RegisterStdlib(gs)
	results, err := Run(gs, "test", `
		local t = {10, 20, 30}
		local sum = 0
		for k, v in pairs(t) do
			sum = sum + v
		end
		return sum
	`)
	assert.NoError(t, err)
	assert.Equal(t, Number(60), results[0])
}

func TestStdlib_IpairsStopsAtFirstHole(t *testing.T) {
	gs := NewState()
	RegisterStdlib(gs)
	results, err := Run(gs, "test", `
		local t = {1, 2, nil, 4}
		local count = 0
		for i, v in ipairs(t) do
			count = count + 1
		end
		return count
	`)
	assert.NoError(t, err)
	assert.Equal(t, Number(2), results[0])
}

func TestStdlib_MathPow(t *testing.T) {
	gs := NewState()
	RegisterStdlib(gs)
	results, err := Run(gs, "test", `return math.pow(2, 0.5)`)
	assert.NoError(t, err)
	n := float64(results[0].(Number))
	assert.InDelta(t, 1.4142135623730951, n, 1e-12)
}

func TestStdlib_MathMaxMin(t *testing.T) {
	gs := NewState()
	RegisterStdlib(gs)
	results, err := Run(gs, "test", `return math.max(3, 7, 2), math.min(3, 7, 2)`)
	assert.NoError(t, err)
	assert.Equal(t, Number(7), results[0])
	assert.Equal(t, Number(2), results[1])
}

func TestStdlib_Coroutine(t *testing.T) {
	gs := NewState()
	RegisterStdlib(gs)
	results, err := Run(gs, "test", `
		local co = coroutine.create(function(a)
			local b = coroutine.yield(a + 1)
			return b + 1
		end)
		local ok1, v1 = coroutine.resume(co, 1)
		local ok2, v2 = coroutine.resume(co, 10)
		return v1, v2
	`)
	assert.NoError(t, err)
	assert.Equal(t, Number(2), results[0])
	assert.Equal(t, Number(11), results[1])
}
