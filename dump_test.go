package wisp

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDumpLoad_RoundTrip(t *testing.T) {
	proto, err := Parse("chunk", `
		local function add(a, b)
			return a + b
		end
		return add(3, 4)
	`, DefaultCompilerConfig())
	assert.NoError(t, err)

	var buf bytes.Buffer
	assert.NoError(t, Dump(&buf, proto))

	loaded, err := Load(&buf, "chunk")
	assert.NoError(t, err)

	assert.Equal(t, len(proto.Code), len(loaded.Code))
	assert.Equal(t, proto.Code, loaded.Code)
	assert.Equal(t, proto.MaxStack, loaded.MaxStack)
	assert.Equal(t, len(proto.Protos), len(loaded.Protos))
}

func TestLoad_RejectsBadHeader(t *testing.T) {
	_, err := Load(bytes.NewReader([]byte("not a chunk")), "chunk")
	assert.Error(t, err)
	var se *SyntaxError
	assert.ErrorAs(t, err, &se)
}

func TestLoad_RejectsTruncatedInput(t *testing.T) {
	proto, err := Parse("chunk", "return 1", DefaultCompilerConfig())
	assert.NoError(t, err)

	var buf bytes.Buffer
	assert.NoError(t, Dump(&buf, proto))

	truncated := buf.Bytes()[:len(buf.Bytes())-4]
	_, err = Load(bytes.NewReader(truncated), "chunk")
	assert.Error(t, err)
}
