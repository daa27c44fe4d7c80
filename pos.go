package wisp

import "fmt"

// Location is a 1-based line/column position plus the 0-based byte
// offset it corresponds to, used throughout the lexer/parser/VM to
// build the "<chunkname>:<line>: " error prefixes required by §7.
//
// Adapted from the teacher's pos.go Location/LineIndex pair: the
// byte-offset-indexed binary search for line lookup is kept, the
// Range/Span vocabulary (meant for PEG parse-tree node spans) is
// dropped since wisp errors need a single point, not an interval.
type Location struct {
	Line   int
	Column int
	Offset int
}

func (l Location) String() string {
	return fmt.Sprintf("%d:%d", l.Line, l.Column)
}

// lineIndex allows fast conversion from byte offsets to line/column,
// built once per chunk and shared by the lexer and every error raised
// while compiling or running it.
type lineIndex struct {
	lineStart []int
}

func newLineIndex(src []byte) *lineIndex {
	starts := make([]int, 1, 64)
	starts[0] = 0
	for i, b := range src {
		if b == '\n' {
			starts = append(starts, i+1)
		}
	}
	return &lineIndex{lineStart: starts}
}

func (li *lineIndex) locationAt(offset int) Location {
	lo, hi := 0, len(li.lineStart)-1
	line := 0
	for lo <= hi {
		mid := (lo + hi) / 2
		if li.lineStart[mid] <= offset {
			line = mid
			lo = mid + 1
		} else {
			hi = mid - 1
		}
	}
	return Location{
		Line:   line + 1,
		Column: offset - li.lineStart[line] + 1,
		Offset: offset,
	}
}
