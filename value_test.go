package wisp

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNumber_String(t *testing.T) {
	tests := []struct {
		name     string
		n        Number
		expected string
	}{
		{name: "integral value gets a .0 suffix", n: Number(3), expected: "3.0"},
		{name: "negative integral value", n: Number(-12), expected: "-12.0"},
		{name: "fractional value is untouched", n: Number(3.5), expected: "3.5"},
		{name: "zero", n: Number(0), expected: "0.0"},
		{name: "positive infinity", n: Number(math.Inf(1)), expected: "inf"},
		{name: "negative infinity", n: Number(math.Inf(-1)), expected: "-inf"},
		{name: "NaN", n: Number(math.NaN()), expected: "nan"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, tc.n.String())
		})
	}
}

func TestNumber_Truthy(t *testing.T) {
	assert.True(t, Number(0).Truthy())
	assert.True(t, Number(math.NaN()).Truthy())
}

func TestBoolean_Truthy(t *testing.T) {
	assert.True(t, Boolean(true).Truthy())
	assert.False(t, Boolean(false).Truthy())
}

func TestNil_Truthy(t *testing.T) {
	assert.False(t, Nil{}.Truthy())
	assert.True(t, IsNil(NilValue))
	assert.True(t, IsNil(nil))
	assert.False(t, IsNil(Number(0)))
}

func TestTypeName(t *testing.T) {
	assert.Equal(t, "nil", typeName(NilValue))
	assert.Equal(t, "number", typeName(Number(1)))
	assert.Equal(t, "boolean", typeName(Boolean(true)))
	assert.Equal(t, "no value", typeName(nil))
}
