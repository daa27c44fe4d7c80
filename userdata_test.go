package wisp

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUserdata_TypeAndIdentity(t *testing.T) {
	gs := NewState()
	u := gs.NewUserdata(42)
	assert.Equal(t, TypeUserdata, u.Type())
	assert.Equal(t, "userdata", typeName(u))
	assert.True(t, u.Truthy())
	assert.Equal(t, 42, u.Data)

	other := gs.NewUserdata(42)
	assert.True(t, rawEqual(u, u))
	assert.False(t, rawEqual(u, other), "distinct userdata compare by identity, not payload")
}

func TestUserdata_Metatable(t *testing.T) {
	gs := NewState()
	u := gs.NewUserdata("payload")
	assert.Nil(t, metatableOf(gs, u))

	mt := gs.NewTable()
	assert.NoError(t, mt.rawset(gs.gc, gs.Intern("__tostring"), newGoFunction(gs.gc, "tostring", func(tt *Thread) (int, error) {
		tt.push(gs.Intern("custom userdata"))
		return 1, nil
	})))
	u.SetMetatable(gs.gc, mt)
	assert.Same(t, mt, metatableOf(gs, u))

	s, err := toStringValue(gs.mainThread, u)
	assert.NoError(t, err)
	assert.Equal(t, "custom userdata", s)
}

func TestUserdata_FinalizerHook(t *testing.T) {
	gs := NewState()
	u := gs.NewUserdata(nil)
	assert.Nil(t, u.finalizer())

	mt := gs.NewTable()
	fn := newGoFunction(gs.gc, "gc", func(tt *Thread) (int, error) { return 0, nil })
	assert.NoError(t, mt.rawset(gs.gc, gs.Intern("__gc"), fn))
	u.SetMetatable(gs.gc, mt)
	assert.Same(t, fn, u.finalizer())
}
