package wisp

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func scanAll(t *testing.T, source string) []Token {
	t.Helper()
	l := newLexer("test", source)
	var toks []Token
	for {
		tok, err := l.Next()
		assert.NoError(t, err)
		toks = append(toks, tok)
		if tok.Kind == TokEOF {
			return toks
		}
	}
}

func TestLexer_Keywords(t *testing.T) {
	toks := scanAll(t, "local function end")
	assert.Equal(t, []TokenKind{TokLocal, TokFunction, TokEnd, TokEOF}, kinds(toks))
}

func TestLexer_Number(t *testing.T) {
	tests := []struct {
		name     string
		source   string
		expected float64
	}{
		{name: "integer", source: "42", expected: 42},
		{name: "fraction", source: "3.5", expected: 3.5},
		{name: "exponent", source: "1e3", expected: 1000},
		{name: "hex", source: "0xFF", expected: 255},
		{name: "leading dot", source: ".5", expected: 0.5},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			toks := scanAll(t, tc.source)
			assert.Equal(t, TokNumber, toks[0].Kind)
			assert.Equal(t, tc.expected, toks[0].Num)
		})
	}
}

func TestLexer_String(t *testing.T) {
	toks := scanAll(t, `"hi\nthere"`)
	assert.Equal(t, TokString, toks[0].Kind)
	assert.Equal(t, "hi\nthere", toks[0].Str)
}

func TestLexer_LongBracketString(t *testing.T) {
	toks := scanAll(t, "[[line one\nline two]]")
	assert.Equal(t, TokString, toks[0].Kind)
	assert.Equal(t, "line one\nline two", toks[0].Str)
}

func TestLexer_CommentsSkipped(t *testing.T) {
	toks := scanAll(t, "-- a line comment\nlocal --[[ long\ncomment ]] x")
	assert.Equal(t, []TokenKind{TokLocal, TokName, TokEOF}, kinds(toks))
}

func TestLexer_Symbols(t *testing.T) {
	toks := scanAll(t, "== ~= <= >= .. ...")
	assert.Equal(t, []TokenKind{TokEq, TokNe, TokLe, TokGe, TokConcat, TokEllipsis, TokEOF}, kinds(toks))
}

func TestLexer_UnfinishedStringErrors(t *testing.T) {
	l := newLexer("test", `"oops`)
	_, err := l.Next()
	assert.Error(t, err)
	var se *SyntaxError
	assert.ErrorAs(t, err, &se)
}

func kinds(toks []Token) []TokenKind {
	ks := make([]TokenKind, len(toks))
	for i, t := range toks {
		ks[i] = t.Kind
	}
	return ks
}
