package wisp

// TokenKind classifies one lexical token (§4.1 Lexer).
type TokenKind int

const (
	TokEOF TokenKind = iota
	TokName
	TokNumber
	TokString

	// Keywords
	TokAnd
	TokBreak
	TokDo
	TokElse
	TokElseif
	TokEnd
	TokFalse
	TokFor
	TokFunction
	TokIf
	TokIn
	TokLocal
	TokNil
	TokNot
	TokOr
	TokRepeat
	TokReturn
	TokThen
	TokTrue
	TokUntil
	TokWhile

	// Symbols
	TokPlus
	TokMinus
	TokStar
	TokSlash
	TokPercent
	TokCaret
	TokHash
	TokEq
	TokNe
	TokLe
	TokGe
	TokLt
	TokGt
	TokAssign
	TokLParen
	TokRParen
	TokLBrace
	TokRBrace
	TokLBracket
	TokRBracket
	TokSemi
	TokColon
	TokComma
	TokDot
	TokConcat  // ..
	TokEllipsis // ...
)

var keywords = map[string]TokenKind{
	"and": TokAnd, "break": TokBreak, "do": TokDo, "else": TokElse,
	"elseif": TokElseif, "end": TokEnd, "false": TokFalse, "for": TokFor,
	"function": TokFunction, "if": TokIf, "in": TokIn, "local": TokLocal,
	"nil": TokNil, "not": TokNot, "or": TokOr, "repeat": TokRepeat,
	"return": TokReturn, "then": TokThen, "true": TokTrue, "until": TokUntil,
	"while": TokWhile,
}

// Token is one scanned lexeme plus its source location, used both by
// the parser and by error messages (§7).
type Token struct {
	Kind   TokenKind
	Str    string  // Name, String (decoded), or the literal symbol text
	Num    float64 // meaningful only when Kind == TokNumber
	Line   int
	Column int
}
