package wisp

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSyntaxError_Error(t *testing.T) {
	err := &SyntaxError{ChunkName: "chunk", Line: 3, Message: "unexpected symbol"}
	assert.Equal(t, "chunk:3: unexpected symbol", err.Error())
	assert.Equal(t, StatusSyntax, err.Status())
}

func TestSyntaxError_NoChunkName(t *testing.T) {
	err := &SyntaxError{Message: "bad header in precompiled chunk"}
	assert.Equal(t, "bad header in precompiled chunk", err.Error())
}

func TestRuntimeError_StringPayload(t *testing.T) {
	err := newRuntimeError("attempt to call a %s value", "nil")
	assert.Equal(t, "attempt to call a nil value", err.Error())
	assert.Equal(t, StatusRuntime, err.Status())
}

func TestRuntimeError_NonStringPayload(t *testing.T) {
	err := &RuntimeError{Value: Number(42)}
	assert.Equal(t, "(error object is a number value)", err.Error())
}

func TestWithLocation_PrependsPrefix(t *testing.T) {
	err := newRuntimeError("boom")
	located := withLocation(err, "chunk", 10)
	assert.Equal(t, "chunk:10: boom", located.Error())
}
