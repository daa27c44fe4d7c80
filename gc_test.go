package wisp

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGC_CollectReclaimsUnreachableTables(t *testing.T) {
	gs := NewState()

	for i := 0; i < 1000; i++ {
		tbl := gs.NewTable()
		assert.NoError(t, tbl.rawset(gs.gc, Number(1), Number(int64(i))))
	}

	before := gs.AllocatedBytes()
	gs.Collect()
	after := gs.AllocatedBytes()

	assert.LessOrEqual(t, after, before)
}

func TestGC_ReachableTableSurvives(t *testing.T) {
	gs := NewState()
	g := gs.Globals()
	assert.NoError(t, g.rawset(gs.gc, gs.Intern("kept"), gs.NewTable()))

	gs.Collect()

	v := g.rawget(gs.Intern("kept"))
	_, ok := v.(*Table)
	assert.True(t, ok)
}

// TestGC_FinalizerNeedsTwoCollections covers §8.4 scenario 7: the
// first collectgarbage("collect") only marks a dead finalizable object
// for finalization, the second actually runs its __gc.
func TestGC_FinalizerNeedsTwoCollections(t *testing.T) {
	gs := NewState()
	RegisterStdlib(gs)

	_, err := Run(gs, "test", `
		local mt = {__gc = function() _G.finalized = true end}
		local function makeGarbage()
			local t = {}
			setmetatable(t, mt)
		end
		makeGarbage()
	`)
	assert.NoError(t, err)

	gs.Collect()
	finalizedAfterFirst := gs.Globals().rawgetStr("finalized")
	assert.True(t, IsNil(finalizedAfterFirst), "finalizer must not run on the marking collection")

	gs.Collect()
	finalizedAfterSecond := gs.Globals().rawgetStr("finalized")
	assert.Equal(t, Boolean(true), finalizedAfterSecond)
}

func TestGC_CollectStepDoesNotPanic(t *testing.T) {
	gs := NewState()
	for i := 0; i < 100; i++ {
		gs.NewTable()
	}
	assert.NotPanics(t, func() {
		for i := 0; i < 10; i++ {
			gs.CollectStep()
		}
	})
}
