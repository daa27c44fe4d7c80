package wisp

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTable_RawSetGet(t *testing.T) {
	gs := NewState()
	tbl := gs.NewTable()

	assert.NoError(t, tbl.rawset(gs.gc, Number(1), gs.Intern("a")))
	assert.NoError(t, tbl.rawset(gs.gc, gs.Intern("key"), Number(42)))

	got := tbl.rawget(Number(1))
	s, ok := got.(*LString)
	assert.True(t, ok)
	assert.Equal(t, "a", string(s.bytes))

	assert.Equal(t, Number(42), tbl.rawget(gs.Intern("key")))
	assert.True(t, IsNil(tbl.rawget(gs.Intern("missing"))))
}

func TestTable_NilKeyRejected(t *testing.T) {
	gs := NewState()
	tbl := gs.NewTable()
	err := tbl.rawset(gs.gc, NilValue, Number(1))
	assert.Error(t, err)
}

func TestTable_Length(t *testing.T) {
	gs := NewState()
	tbl := gs.NewTable()
	for i := 1; i <= 5; i++ {
		assert.NoError(t, tbl.rawset(gs.gc, Number(i), Number(i*10)))
	}
	assert.Equal(t, 5, tbl.length())
}

func TestTable_SetMetatableAndLookup(t *testing.T) {
	gs := NewState()
	tbl := gs.NewTable()
	mt := gs.NewTable()
	assert.NoError(t, mt.rawset(gs.gc, gs.Intern("__index"), Number(7)))
	tbl.setMetatable(gs.gc, mt)
	assert.Equal(t, mt, tbl.metatable)
	assert.Equal(t, Number(7), tbl.metamethod("__index"))
}

func TestTableNext_VisitsAllEntries(t *testing.T) {
	gs := NewState()
	tbl := gs.NewTable()
	assert.NoError(t, tbl.rawset(gs.gc, Number(1), Number(10)))
	assert.NoError(t, tbl.rawset(gs.gc, Number(2), Number(20)))
	assert.NoError(t, tbl.rawset(gs.gc, gs.Intern("x"), Number(99)))

	seen := map[string]bool{}
	var key Value = NilValue
	for {
		k, v, ok := tableNext(tbl, key)
		assert.True(t, ok)
		if IsNil(k) {
			break
		}
		s, _ := toStringValue(gs.mainThread, k)
		vs, _ := toStringValue(gs.mainThread, v)
		seen[s+"="+vs] = true
		key = k
	}
	assert.True(t, seen["1.0=10.0"])
	assert.True(t, seen["2.0=20.0"])
	assert.True(t, seen["x=99.0"])
	assert.Len(t, seen, 3)
}
