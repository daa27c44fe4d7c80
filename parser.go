package wisp

import (
	"fmt"
	"math"
)

// Parser performs single-pass, recursive-descent parsing directly
// into bytecode (§4.1 Parser/Codegen): there is no separate AST stage.
// Adapted from the teacher's own recursive-descent grammar shape (one
// method per nonterminal, a lookahead token, Expect-style helpers),
// regeneralized from "parse a PEG grammar file" to "parse and
// simultaneously emit register-based bytecode".
type Parser struct {
	lex   *Lexer
	tok   Token
	ahead *Token

	fs *funcState

	chunkName string
	config    CompilerConfig
}

func NewParser(chunkName, source string, cfg CompilerConfig) (*Parser, error) {
	p := &Parser{lex: newLexer(chunkName, source), chunkName: chunkName, config: cfg}
	if err := p.next(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Parser) next() error {
	if p.ahead != nil {
		p.tok = *p.ahead
		p.ahead = nil
		return nil
	}
	t, err := p.lex.Next()
	if err != nil {
		return err
	}
	p.tok = t
	return nil
}

func (p *Parser) peekAhead() (Token, error) {
	if p.ahead == nil {
		t, err := p.lex.Next()
		if err != nil {
			return Token{}, err
		}
		p.ahead = &t
	}
	return *p.ahead, nil
}

func (p *Parser) errorf(format string, args ...any) *SyntaxError {
	return &SyntaxError{ChunkName: p.chunkName, Line: p.tok.Line, Message: fmt.Sprintf(format, args...)}
}

func (p *Parser) expect(k TokenKind, what string) error {
	if p.tok.Kind != k {
		return p.errorf("'%s' expected", what)
	}
	return p.next()
}

func (p *Parser) syncLine() { p.fs.curLine = p.tok.Line }

// Parse compiles an entire chunk into its main Proto: an implicitly
// vararg function with no parameters (§4.1).
func Parse(chunkName, source string, cfg CompilerConfig) (proto *Proto, err error) {
	defer func() {
		if r := recover(); r != nil {
			if se, ok := r.(*SyntaxError); ok {
				proto, err = nil, se
				return
			}
			panic(r)
		}
	}()

	p, err := NewParser(chunkName, source, cfg)
	if err != nil {
		return nil, err
	}
	p.fs = newFuncState(nil, chunkName, cfg)
	p.fs.proto.IsVararg = true
	p.fs.proto.LineDefined = 0
	p.fs.enterBlock(false)

	if err := p.block(); err != nil {
		return nil, err
	}
	if p.tok.Kind != TokEOF {
		return nil, p.errorf("'<eof>' expected")
	}
	p.fs.leaveBlock()
	p.fs.emitABC(OpReturn, 0, 1, 0)
	p.fs.proto.LastLineDefined = p.tok.Line
	return p.fs.proto, nil
}

// block parses zero or more statements, stopping at a block-follow
// token (end/else/elseif/until/eof) or after a `return` statement,
// which must be last.
func (p *Parser) block() error {
	for !isBlockFollow(p.tok.Kind) {
		if p.tok.Kind == TokReturn {
			return p.returnStat()
		}
		if err := p.statement(); err != nil {
			return err
		}
	}
	return nil
}

func isBlockFollow(k TokenKind) bool {
	switch k {
	case TokEOF, TokEnd, TokElse, TokElseif, TokUntil:
		return true
	}
	return false
}

func (p *Parser) statement() error {
	p.syncLine()
	switch p.tok.Kind {
	case TokSemi:
		return p.next()
	case TokIf:
		return p.ifStat()
	case TokWhile:
		return p.whileStat()
	case TokDo:
		if err := p.next(); err != nil {
			return err
		}
		p.fs.enterBlock(false)
		if err := p.block(); err != nil {
			return err
		}
		p.fs.leaveBlock()
		return p.expect(TokEnd, "end")
	case TokFor:
		return p.forStat()
	case TokRepeat:
		return p.repeatStat()
	case TokFunction:
		return p.funcStat()
	case TokLocal:
		return p.localStat()
	case TokBreak:
		return p.breakStat()
	default:
		return p.exprStat()
	}
}

// --- control flow ---------------------------------------------------

func (p *Parser) ifStat() error {
	var escapeList = noJump
	if err := p.next(); err != nil {
		return err
	}
	falseList, err := p.condThenBlock()
	if err != nil {
		return err
	}
	for p.tok.Kind == TokElseif {
		j := p.fs.emitJump()
		escapeList = p.fs.concatJump(escapeList, j)
		p.fs.patchToHere(falseList)
		if err := p.next(); err != nil {
			return err
		}
		falseList, err = p.condThenBlock()
		if err != nil {
			return err
		}
	}
	if p.tok.Kind == TokElse {
		j := p.fs.emitJump()
		escapeList = p.fs.concatJump(escapeList, j)
		p.fs.patchToHere(falseList)
		if err := p.next(); err != nil {
			return err
		}
		p.fs.enterBlock(false)
		if err := p.block(); err != nil {
			return err
		}
		p.fs.leaveBlock()
	} else {
		p.fs.patchToHere(falseList)
	}
	p.fs.patchToHere(escapeList)
	return p.expect(TokEnd, "end")
}

// condThenBlock parses `cond then block`, returning the condition's
// false-jump list (to be patched to the next branch or escape).
func (p *Parser) condThenBlock() (int, error) {
	e, err := p.expr()
	if err != nil {
		return 0, err
	}
	falseList, err := p.goIfTrue(e)
	if err != nil {
		return 0, err
	}
	if err := p.expect(TokThen, "then"); err != nil {
		return 0, err
	}
	p.fs.enterBlock(false)
	if err := p.block(); err != nil {
		return 0, err
	}
	p.fs.leaveBlock()
	return falseList, nil
}

func (p *Parser) whileStat() error {
	if err := p.next(); err != nil {
		return err
	}
	loopStart := len(p.fs.proto.Code)
	e, err := p.expr()
	if err != nil {
		return err
	}
	falseList, err := p.goIfTrue(e)
	if err != nil {
		return err
	}
	if err := p.expect(TokDo, "do"); err != nil {
		return err
	}
	p.fs.enterBlock(true)
	if err := p.block(); err != nil {
		return err
	}
	back := p.fs.emitJump()
	p.fs.patchListTo(back, loopStart)
	breakList := p.fs.leaveBlock()
	p.fs.patchToHere(falseList)
	p.fs.patchToHere(breakList)
	return p.expect(TokEnd, "end")
}

// repeatStat compiles `repeat body until cond`: the condition is
// parsed inside the body's own scope so it can see body-local names.
// If the body captured any of its locals into a closure, the loop-back
// path must close those upvalues before jumping, so the backward
// branch is a conditional skip over a CLOSE+JMP pair instead of a
// plain branch (§4.1 "repeat/until").
func (p *Parser) repeatStat() error {
	if err := p.next(); err != nil {
		return err
	}
	loopStart := len(p.fs.proto.Code)
	p.fs.enterBlock(true)
	p.fs.enterBlock(false)
	if err := p.block(); err != nil {
		return err
	}
	if err := p.expect(TokUntil, "until"); err != nil {
		return err
	}
	e, err := p.expr()
	if err != nil {
		return err
	}
	inner := p.fs.block
	skipList, err := p.goIfFalse(e) // jump taken when the condition is true: skip the close+backjump and exit
	if err != nil {
		return err
	}
	if inner.hasUpvalue {
		p.fs.emitABC(OpClose, inner.firstLocal, 0, 0)
	}
	back := p.fs.emitJump()
	p.fs.patchListTo(back, loopStart)
	p.fs.patchToHere(skipList)
	p.fs.leaveBlock() // inner scope bookkeeping; may emit a second, harmless CLOSE
	breakList := p.fs.leaveBlock()
	p.fs.patchToHere(breakList)
	return nil
}

func (p *Parser) breakStat() error {
	if err := p.next(); err != nil {
		return err
	}
	b := p.fs.block
	for b != nil && !b.isLoop {
		if b.hasUpvalue {
			p.fs.emitABC(OpClose, b.firstLocal, 0, 0)
		}
		b = b.parent
	}
	if b == nil {
		return p.errorf("no loop to break")
	}
	j := p.fs.emitJump()
	b.breakList = p.fs.concatJump(b.breakList, j)
	return nil
}

func (p *Parser) forStat() error {
	if err := p.next(); err != nil {
		return err
	}
	name, err := p.name()
	if err != nil {
		return err
	}
	if p.tok.Kind == TokAssign {
		return p.numericFor(name)
	}
	return p.genericFor(name)
}

// numericFor compiles `for v = start, limit [, step] do body end`:
// three hidden control slots plus the user variable, FORPREP/FORLOOP
// bracketing the body (§4.1 "numeric for").
func (p *Parser) numericFor(firstName string) error {
	if err := p.next(); err != nil { // consume '='
		return err
	}
	if err := p.exprInto(); err != nil {
		return err
	}
	if err := p.expect(TokComma, ","); err != nil {
		return err
	}
	if err := p.exprInto(); err != nil {
		return err
	}
	if p.tok.Kind == TokComma {
		if err := p.next(); err != nil {
			return err
		}
		if err := p.exprInto(); err != nil {
			return err
		}
	} else {
		idx, err := p.fs.addConstant(Number(1))
		if err != nil {
			return err
		}
		r, err := p.fs.newReg()
		if err != nil {
			return err
		}
		p.fs.emitABx(OpLoadK, r, idx)
	}

	base := p.fs.freeReg - 3
	p.fs.enterBlock(true)
	if _, err := p.fs.addLocal(firstName); err != nil {
		return err
	}

	prep := p.fs.emitAsBx(OpForPrep, base, noJump)
	if err := p.expect(TokDo, "do"); err != nil {
		return err
	}
	if err := p.block(); err != nil {
		return err
	}
	loopEnd := len(p.fs.proto.Code)
	p.fs.patchListTo(prep, loopEnd)
	p.fs.emitAsBx(OpForLoop, base, (prep+1)-(loopEnd+1))
	breakList := p.fs.leaveBlock()
	p.fs.patchToHere(breakList)
	return p.expect(TokEnd, "end")
}

// genericFor compiles `for vars in explist do body end`: three hidden
// control slots {iterator, state, control} plus the user variables,
// TFORLOOP driving each iteration (§4.1 "generic for").
func (p *Parser) genericFor(firstName string) error {
	names := []string{firstName}
	for p.tok.Kind == TokComma {
		if err := p.next(); err != nil {
			return err
		}
		n, err := p.name()
		if err != nil {
			return err
		}
		names = append(names, n)
	}
	if err := p.expect(TokIn, "in"); err != nil {
		return err
	}
	base := p.fs.freeReg
	if _, err := p.adjustedExprList(3); err != nil {
		return err
	}

	p.fs.enterBlock(true)
	for _, n := range names {
		if _, err := p.fs.addLocal(n); err != nil {
			return err
		}
	}
	if err := p.expect(TokDo, "do"); err != nil {
		return err
	}
	prep := p.fs.emitJump()
	if err := p.block(); err != nil {
		return err
	}
	p.fs.patchToHere(prep)
	p.fs.emitABC(OpTForLoop, base, 0, len(names))
	back := p.fs.emitJump()
	p.fs.patchListTo(back, prep+1)
	breakList := p.fs.leaveBlock()
	p.fs.patchToHere(breakList)
	return p.expect(TokEnd, "end")
}

// --- declarations -----------------------------------------------------

func (p *Parser) localStat() error {
	if err := p.next(); err != nil {
		return err
	}
	if p.tok.Kind == TokFunction {
		return p.localFunction()
	}
	names, err := p.nameList()
	if err != nil {
		return err
	}
	base := p.fs.freeReg
	nExprs := 0
	if p.tok.Kind == TokAssign {
		if err := p.next(); err != nil {
			return err
		}
		nExprs, err = p.adjustedExprList(len(names))
		if err != nil {
			return err
		}
	}
	for nExprs < len(names) {
		r, err := p.fs.newReg()
		if err != nil {
			return err
		}
		p.fs.emitABC(OpLoadNil, r, r, 0)
		nExprs++
	}
	p.fs.freeReg = base // the new locals take over the registers holding their values
	for _, n := range names {
		if _, err := p.fs.addLocal(n); err != nil {
			return err
		}
	}
	return nil
}

func (p *Parser) localFunction() error {
	if err := p.next(); err != nil {
		return err
	}
	fname, err := p.name()
	if err != nil {
		return err
	}
	reg, err := p.fs.addLocal(fname)
	if err != nil {
		return err
	}
	e, err := p.functionBody(false)
	if err != nil {
		return err
	}
	return p.assignExpdesc(expdesc{kind: expLocal, info: reg, t: noJump, f: noJump}, e)
}

func (p *Parser) funcStat() error {
	if err := p.next(); err != nil {
		return err
	}
	target, isMethod, err := p.funcNameTarget()
	if err != nil {
		return err
	}
	e, err := p.functionBody(isMethod)
	if err != nil {
		return err
	}
	return p.assignExpdesc(target, e)
}

// funcNameTarget parses `Name{.Name}[:Name]` and returns an expdesc
// describing the assignment target plus whether a method (and thus an
// implicit `self` parameter) was declared.
func (p *Parser) funcNameTarget() (expdesc, bool, error) {
	n, err := p.name()
	if err != nil {
		return expdesc{}, false, err
	}
	e, err := p.singleVar(n)
	if err != nil {
		return expdesc{}, false, err
	}
	for p.tok.Kind == TokDot {
		if err := p.next(); err != nil {
			return expdesc{}, false, err
		}
		field, err := p.name()
		if err != nil {
			return expdesc{}, false, err
		}
		e, err = p.indexField(e, field)
		if err != nil {
			return expdesc{}, false, err
		}
	}
	if p.tok.Kind == TokColon {
		if err := p.next(); err != nil {
			return expdesc{}, false, err
		}
		field, err := p.name()
		if err != nil {
			return expdesc{}, false, err
		}
		e, err = p.indexField(e, field)
		if err != nil {
			return expdesc{}, false, err
		}
		return e, true, nil
	}
	return e, false, nil
}

func (p *Parser) functionBody(isMethod bool) (expdesc, error) {
	childFs := newFuncState(p.fs, p.chunkName, p.config)
	childFs.proto.LineDefined = p.tok.Line
	parent := p.fs
	p.fs = childFs
	p.fs.enterBlock(false)

	if isMethod {
		if _, err := p.fs.addLocal("self"); err != nil {
			return expdesc{}, err
		}
	}
	if err := p.expect(TokLParen, "("); err != nil {
		return expdesc{}, err
	}
	nparams := 0
	isVararg := false
	if p.tok.Kind != TokRParen {
		for {
			if p.tok.Kind == TokEllipsis {
				isVararg = true
				if err := p.next(); err != nil {
					return expdesc{}, err
				}
				break
			}
			n, err := p.name()
			if err != nil {
				return expdesc{}, err
			}
			if _, err := p.fs.addLocal(n); err != nil {
				return expdesc{}, err
			}
			nparams++
			if p.tok.Kind != TokComma {
				break
			}
			if err := p.next(); err != nil {
				return expdesc{}, err
			}
		}
	}
	if err := p.expect(TokRParen, ")"); err != nil {
		return expdesc{}, err
	}
	p.fs.proto.NumParams = nparams
	p.fs.proto.IsVararg = isVararg
	p.fs.proto.Source = p.chunkName

	if err := p.block(); err != nil {
		return expdesc{}, err
	}
	p.fs.proto.LastLineDefined = p.tok.Line
	p.fs.leaveBlock()
	p.fs.emitABC(OpReturn, 0, 1, 0)

	if err := p.expect(TokEnd, "end"); err != nil {
		return expdesc{}, err
	}

	childProto := p.fs.proto
	parent.proto.Protos = append(parent.proto.Protos, childProto)
	protoIdx := len(parent.proto.Protos) - 1
	p.fs = parent

	reg, err := p.fs.newReg()
	if err != nil {
		return expdesc{}, err
	}
	p.fs.emitABx(OpClosure, reg, protoIdx)
	for _, uv := range childProto.Upvalues {
		p.fs.emitABC(OpMove, 0, uv.Index, 0) // pseudo-instruction: B carries the captured local/upvalue index
	}
	return expdesc{kind: expNonReloc, info: reg, t: noJump, f: noJump}, nil
}

// --- assignment / expression statements --------------------------------

func (p *Parser) exprStat() error {
	e, err := p.suffixedExpr()
	if err != nil {
		return err
	}
	if p.tok.Kind == TokAssign || p.tok.Kind == TokComma {
		return p.assignment([]expdesc{e})
	}
	if e.kind != expCall {
		return p.errorf("syntax error (expression statement must be a call)")
	}
	return nil
}

// assignment implements `a, b, c = e1, e2, e3` (§4.1 multi-assignment):
// every RHS expression is evaluated before any target is written, and
// a safe-copy guards the "prior target used as an index" hazard (e.g.
// `a, t[a] = e1, e2`): a target's own table/key registers are snap-
// shotted into fresh temporaries up front, before later assignments
// can clobber the registers they read from.
func (p *Parser) assignment(targets []expdesc) error {
	if p.tok.Kind == TokComma {
		if err := p.next(); err != nil {
			return err
		}
		e, err := p.suffixedExpr()
		if err != nil {
			return err
		}
		return p.assignment(append(targets, e))
	}
	if err := p.expect(TokAssign, "="); err != nil {
		return err
	}

	safe := make([]expdesc, len(targets))
	copy(safe, targets)
	for i := 0; i < len(safe)-1; i++ {
		if safe[i].kind == expIndexed && !isK(safe[i].aux) {
			r, err := p.fs.newReg()
			if err != nil {
				return err
			}
			p.fs.emitABC(OpMove, r, rkIndex(safe[i].aux), 0)
			safe[i].aux = r
		}
	}

	base := p.fs.freeReg
	if _, err := p.adjustedExprList(len(safe)); err != nil {
		return err
	}

	for i := len(safe) - 1; i >= 0; i-- {
		valReg := base + i
		if err := p.assignExpdesc(safe[i], expdesc{kind: expNonReloc, info: valReg, t: noJump, f: noJump}); err != nil {
			return err
		}
	}
	p.fs.freeReg = base
	return nil
}

// assignExpdesc stores the (already-evaluated, register-resident)
// value `val` into target `dst`.
func (p *Parser) assignExpdesc(dst, val expdesc) error {
	switch dst.kind {
	case expLocal:
		p.fs.emitABC(OpMove, dst.info, val.info, 0)
	case expUpval:
		p.fs.emitABC(OpSetUpval, val.info, dst.info, 0)
	case expGlobal:
		p.fs.emitABx(OpSetGlobal, val.info, dst.info)
	case expIndexed:
		p.fs.emitABC(OpSetTable, dst.info, dst.aux, val.info)
	default:
		return p.errorf("cannot assign to this expression")
	}
	return nil
}

// --- return -------------------------------------------------------------

func (p *Parser) returnStat() error {
	if err := p.next(); err != nil {
		return err
	}
	base := p.fs.freeReg
	nret := 0
	isTail := false
	if !isBlockFollow(p.tok.Kind) && p.tok.Kind != TokSemi {
		var err error
		nret, isTail, err = p.returnExprList()
		if err != nil {
			return err
		}
	}
	if isTail {
		last := len(p.fs.proto.Code) - 1
		inst := p.fs.proto.Code[last]
		p.fs.proto.Code[last] = createABC(OpTailCall, inst.A(), inst.B(), inst.C())
		p.fs.emitABC(OpReturn, inst.A(), 0, 0)
	} else {
		p.fs.emitABC(OpReturn, base, nret+1, 0)
	}
	if p.tok.Kind == TokSemi {
		return p.next()
	}
	return nil
}

// returnExprList parses the return value list, reporting whether the
// sole expression was a plain function call suitable for TAILCALL
// retagging (§4.1 "return": a tail call of the form `return f(...)`).
func (p *Parser) returnExprList() (int, bool, error) {
	first, err := p.expr()
	if err != nil {
		return 0, false, err
	}
	isTail := first.kind == expCall && p.tok.Kind != TokComma
	if isTail {
		if _, err := p.exprToRegs(first, -1); err != nil {
			return 0, false, err
		}
		return 0, true, nil
	}
	if first.kind == expCall || first.kind == expVararg {
		if p.tok.Kind != TokComma {
			if _, err := p.exprToRegs(first, -1); err != nil {
				return 0, false, err
			}
			return -1, false, nil // signals "b=0, all results" via the OpReturn b==0 convention below
		}
	}
	if _, err := p.exprToNextReg(first); err != nil {
		return 0, false, err
	}
	n := 1
	for p.tok.Kind == TokComma {
		if err := p.next(); err != nil {
			return 0, false, err
		}
		e, err := p.expr()
		if err != nil {
			return 0, false, err
		}
		last := p.tok.Kind != TokComma
		if last && (e.kind == expCall || e.kind == expVararg) {
			if _, err := p.exprToRegs(e, -1); err != nil {
				return 0, false, err
			}
			return -1, false, nil
		}
		if _, err := p.exprToNextReg(e); err != nil {
			return 0, false, err
		}
		n++
	}
	return n, false, nil
}

// --- name/expr lists ------------------------------------------------

func (p *Parser) name() (string, error) {
	if p.tok.Kind != TokName {
		return "", p.errorf("<name> expected")
	}
	s := p.tok.Str
	return s, p.next()
}

func (p *Parser) nameList() ([]string, error) {
	n, err := p.name()
	if err != nil {
		return nil, err
	}
	names := []string{n}
	for p.tok.Kind == TokComma {
		if err := p.next(); err != nil {
			return nil, err
		}
		n, err := p.name()
		if err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, nil
}

// adjustedExprList parses a comma-separated expression list and
// leaves exactly `want` values in consecutive fresh registers,
// expanding the last multi-result expression or padding with nil as
// needed (§4.1 multi-assignment adjustment rule).
func (p *Parser) adjustedExprList(want int) (int, error) {
	n := 0
	for {
		e, err := p.expr()
		if err != nil {
			return 0, err
		}
		last := p.tok.Kind != TokComma
		if last && (e.kind == expCall || e.kind == expVararg) && want > n+1 {
			extra := want - n
			if _, err := p.exprToRegs(e, extra); err != nil {
				return 0, err
			}
			n = want
		} else {
			if _, err := p.exprToNextReg(e); err != nil {
				return 0, err
			}
			n++
		}
		if last {
			break
		}
		if err := p.next(); err != nil {
			return 0, err
		}
	}
	for n < want {
		r, err := p.fs.newReg()
		if err != nil {
			return 0, err
		}
		p.fs.emitABC(OpLoadNil, r, r, 0)
		n++
	}
	return n, nil
}

func (p *Parser) exprInto() error {
	e, err := p.expr()
	if err != nil {
		return err
	}
	_, err = p.exprToNextReg(e)
	return err
}

// --- expression evaluation helpers --------------------------------------

// exprToNextReg discharges e into a freshly allocated register.
func (p *Parser) exprToNextReg(e expdesc) (int, error) {
	switch e.kind {
	case expNonReloc:
		p.freeIfTemp(e)
	case expIndexed:
		if !isK(e.aux) {
			p.fs.freeRegister(e.aux)
		}
		p.fs.freeRegister(e.info)
	case expCall:
		p.fs.freeRegister(p.fs.proto.Code[e.info].A())
	}
	r, err := p.fs.newReg()
	if err != nil {
		return 0, err
	}
	if err := p.dischargeInto(e, r); err != nil {
		return 0, err
	}
	return r, nil
}

// exprToRegs retargets a call/vararg expdesc to request exactly n
// results (n<0 meaning "all results", the OpCall/OpVararg B/C==0
// convention), starting at the instruction's own result base.
func (p *Parser) exprToRegs(e expdesc, n int) (int, error) {
	pc := e.info
	inst := p.fs.proto.Code[pc]
	if e.kind == expCall {
		p.fs.proto.Code[pc] = createABC(inst.Opcode(), inst.A(), inst.B(), n+1)
	} else {
		p.fs.proto.Code[pc] = createABC(inst.Opcode(), inst.A(), n+1, inst.C())
	}
	if n >= 0 {
		p.fs.freeReg = inst.A() + n
		p.fs.checkStack()
	}
	return inst.A(), nil
}

// dischargeInto materializes e's value into register r.
func (p *Parser) dischargeInto(e expdesc, r int) error {
	switch e.kind {
	case expNil:
		p.fs.emitABC(OpLoadNil, r, r, 0)
	case expTrue:
		p.fs.emitABC(OpLoadBool, r, 1, 0)
	case expFalse:
		p.fs.emitABC(OpLoadBool, r, 0, 0)
	case expKNum:
		idx, err := p.fs.addConstant(Number(e.numLiteral))
		if err != nil {
			return err
		}
		p.fs.emitABx(OpLoadK, r, idx)
	case expK:
		p.fs.emitABx(OpLoadK, r, e.info)
	case expLocal:
		if e.info != r {
			p.fs.emitABC(OpMove, r, e.info, 0)
		}
	case expUpval:
		p.fs.emitABC(OpGetUpval, r, e.info, 0)
	case expGlobal:
		p.fs.emitABx(OpGetGlobal, r, e.info)
	case expIndexed:
		p.fs.emitABC(OpGetTable, r, e.info, e.aux)
	case expNonReloc:
		if e.info != r {
			p.fs.emitABC(OpMove, r, e.info, 0)
		}
	case expCall:
		if a := p.fs.proto.Code[e.info].A(); a != r {
			p.fs.emitABC(OpMove, r, a, 0)
		}
	case expReloc, expVararg:
		pc := e.info
		inst := p.fs.proto.Code[pc]
		p.fs.proto.Code[pc] = createABC(inst.Opcode(), r, inst.B(), inst.C())
	case expJmp:
		// A bare comparison used as a value: materialize it as a
		// boolean via the LOADBOOL-pair idiom.
		// e.t already holds e.info, so it is patched here and not
		// again below.
		p.fs.emitABC(OpLoadBool, r, 0, 1)
		p.fs.patchToHere(e.t)
		p.fs.emitABC(OpLoadBool, r, 1, 0)
		return nil
	}
	if e.hasJumps() {
		end := len(p.fs.proto.Code)
		p.fs.patchListTo(e.t, end)
		p.fs.patchListTo(e.f, end)
	}
	return nil
}

// goIfTrue / goIfFalse implement short-circuit boolean codegen: they
// emit (if needed) a TEST+JMP pair and return the jump list for the
// "other" outcome, per §4.1's jump-list discipline.
func (p *Parser) goIfTrue(e expdesc) (int, error) {
	switch e.kind {
	case expTrue:
		return noJump, nil
	case expFalse:
		return p.fs.emitJump(), nil
	default:
		r, err := p.exprToAnyReg(e)
		if err != nil {
			return 0, err
		}
		p.fs.emitABC(OpTest, r, 0, 0)
		return p.fs.emitJump(), nil
	}
}

func (p *Parser) goIfFalse(e expdesc) (int, error) {
	switch e.kind {
	case expFalse:
		return noJump, nil
	case expTrue:
		return p.fs.emitJump(), nil
	default:
		r, err := p.exprToAnyReg(e)
		if err != nil {
			return 0, err
		}
		p.fs.emitABC(OpTest, r, 0, 1)
		return p.fs.emitJump(), nil
	}
}

func (p *Parser) exprToAnyReg(e expdesc) (int, error) {
	if e.kind == expNonReloc {
		return e.info, nil
	}
	return p.exprToNextReg(e)
}

// --- expressions: precedence climbing -----------------------------------

type binOp struct{ left, right int }

var binPrec = map[TokenKind]binOp{
	TokOr:      {1, 1},
	TokAnd:     {2, 2},
	TokLt:      {3, 3},
	TokGt:      {3, 3},
	TokLe:      {3, 3},
	TokGe:      {3, 3},
	TokNe:      {3, 3},
	TokEq:      {3, 3},
	TokConcat:  {9, 8}, // right-assoc
	TokPlus:    {10, 10},
	TokMinus:   {10, 10},
	TokStar:    {11, 11},
	TokSlash:   {11, 11},
	TokPercent: {11, 11},
	TokCaret:   {14, 13}, // right-assoc
}

const unaryPrec = 12

func (p *Parser) expr() (expdesc, error) { return p.subExpr(0) }

func (p *Parser) subExpr(limit int) (expdesc, error) {
	var e expdesc
	var err error
	if isUnaryOp(p.tok.Kind) {
		op := p.tok.Kind
		if err := p.next(); err != nil {
			return expdesc{}, err
		}
		operand, err := p.subExpr(unaryPrec)
		if err != nil {
			return expdesc{}, err
		}
		e, err = p.emitUnary(op, operand)
		if err != nil {
			return expdesc{}, err
		}
	} else {
		e, err = p.simpleExpr()
		if err != nil {
			return expdesc{}, err
		}
	}

	for {
		bp, ok := binPrec[p.tok.Kind]
		if !ok || bp.left <= limit {
			break
		}
		op := p.tok.Kind
		if err := p.next(); err != nil {
			return expdesc{}, err
		}
		// The left operand takes its register before the right one is
		// compiled, so temporaries are released in LIFO order and CONCAT
		// operands sit in consecutive registers.
		isArith := op == TokPlus || op == TokMinus || op == TokStar || op == TokSlash || op == TokPercent || op == TokCaret
		if op == TokConcat || (isArith && e.kind != expKNum && e.kind != expK && e.kind != expLocal) {
			var r int
			if op == TokConcat {
				r, err = p.exprToNextReg(e)
			} else {
				r, err = p.exprToAnyReg(e)
			}
			if err != nil {
				return expdesc{}, err
			}
			e = expdesc{kind: expNonReloc, info: r, t: noJump, f: noJump}
		}
		rhs, err := p.subExpr(bp.right)
		if err != nil {
			return expdesc{}, err
		}
		e, err = p.emitBinary(op, e, rhs)
		if err != nil {
			return expdesc{}, err
		}
	}
	return e, nil
}

func isUnaryOp(k TokenKind) bool {
	return k == TokNot || k == TokMinus || k == TokHash
}

func (p *Parser) emitUnary(op TokenKind, e expdesc) (expdesc, error) {
	if op == TokMinus && e.kind == expKNum && p.config.FoldConstants {
		return expdesc{kind: expKNum, numLiteral: -e.numLiteral, hasNum: true, t: noJump, f: noJump}, nil
	}
	r, err := p.exprToAnyReg(e)
	if err != nil {
		return expdesc{}, err
	}
	var opcode Opcode
	switch op {
	case TokNot:
		opcode = OpNot
	case TokMinus:
		opcode = OpUnm
	case TokHash:
		opcode = OpLen
	}
	p.fs.freeRegister(r)
	dst, err := p.fs.newReg()
	if err != nil {
		return expdesc{}, err
	}
	p.fs.emitABC(opcode, dst, r, 0)
	return expdesc{kind: expNonReloc, info: dst, t: noJump, f: noJump}, nil
}

func (p *Parser) emitBinary(op TokenKind, lhs, rhs expdesc) (expdesc, error) {
	switch op {
	case TokAnd:
		return p.shortCircuitAnd(lhs, rhs)
	case TokOr:
		return p.shortCircuitOr(lhs, rhs)
	}

	if p.config.FoldConstants {
		if folded, ok := tryFoldArith(op, lhs, rhs); ok {
			return folded, nil
		}
	}

	switch op {
	case TokPlus, TokMinus, TokStar, TokSlash, TokPercent, TokCaret:
		return p.emitArith(arithOpcode(op), lhs, rhs)
	case TokConcat:
		return p.emitConcat(lhs, rhs)
	case TokEq, TokNe:
		return p.emitCompareEq(op, lhs, rhs)
	case TokLt, TokGt, TokLe, TokGe:
		return p.emitCompareOrder(op, lhs, rhs)
	}
	return expdesc{}, p.errorf("unsupported operator")
}

func arithOpcode(k TokenKind) Opcode {
	switch k {
	case TokPlus:
		return OpAdd
	case TokMinus:
		return OpSub
	case TokStar:
		return OpMul
	case TokSlash:
		return OpDiv
	case TokPercent:
		return OpMod
	case TokCaret:
		return OpPow
	}
	return opCount
}

// tryFoldArith implements §8.3's constant-folding property: literal
// numeric operands with a nonzero divisor (and no NaN result) fold to
// a single constant at compile time instead of emitting an arithmetic
// opcode.
func tryFoldArith(op TokenKind, lhs, rhs expdesc) (expdesc, bool) {
	a, aok := lhs.literalNumber()
	b, bok := rhs.literalNumber()
	if !aok || !bok {
		return expdesc{}, false
	}
	var r float64
	switch op {
	case TokPlus:
		r = a + b
	case TokMinus:
		r = a - b
	case TokStar:
		r = a * b
	case TokSlash:
		if b == 0 {
			return expdesc{}, false
		}
		r = a / b
	case TokPercent:
		if b == 0 {
			return expdesc{}, false
		}
		r = modFloat(a, b)
	case TokCaret:
		r = math.Pow(a, b)
	default:
		return expdesc{}, false
	}
	if r != r { // NaN
		return expdesc{}, false
	}
	return expdesc{kind: expKNum, numLiteral: r, hasNum: true, t: noJump, f: noJump}, true
}

func (e expdesc) literalNumber() (float64, bool) {
	if e.kind == expKNum && e.hasNum {
		return e.numLiteral, true
	}
	return 0, false
}

func (p *Parser) emitArith(op Opcode, lhs, rhs expdesc) (expdesc, error) {
	b, err := p.exprToRK(lhs)
	if err != nil {
		return expdesc{}, err
	}
	c, err := p.exprToRK(rhs)
	if err != nil {
		return expdesc{}, err
	}
	p.freeRKIfTemp(c)
	p.freeRKIfTemp(b)
	dst, err := p.fs.newReg()
	if err != nil {
		return expdesc{}, err
	}
	p.fs.emitABC(op, dst, b, c)
	return expdesc{kind: expNonReloc, info: dst, t: noJump, f: noJump}, nil
}

func (p *Parser) emitConcat(lhs, rhs expdesc) (expdesc, error) {
	l, err := p.exprToAnyReg(lhs)
	if err != nil {
		return expdesc{}, err
	}
	r, err := p.exprToNextReg(rhs)
	if err != nil {
		return expdesc{}, err
	}
	p.fs.freeRegister(r)
	p.fs.freeRegister(l)
	dst, err := p.fs.newReg()
	if err != nil {
		return expdesc{}, err
	}
	p.fs.emitABC(OpConcat, dst, l, r)
	return expdesc{kind: expNonReloc, info: dst, t: noJump, f: noJump}, nil
}

func (p *Parser) emitCompareEq(op TokenKind, lhs, rhs expdesc) (expdesc, error) {
	b, err := p.exprToRK(lhs)
	if err != nil {
		return expdesc{}, err
	}
	c, err := p.exprToRK(rhs)
	if err != nil {
		return expdesc{}, err
	}
	p.freeRKIfTemp(c)
	p.freeRKIfTemp(b)
	a := 1
	if op == TokNe {
		a = 0
	}
	p.fs.emitABC(OpEq, a, b, c)
	jmp := p.fs.emitJump()
	return expdesc{kind: expJmp, info: jmp, t: jmp, f: noJump}, nil
}

func (p *Parser) emitCompareOrder(op TokenKind, lhs, rhs expdesc) (expdesc, error) {
	swap := op == TokGt || op == TokGe
	if swap {
		lhs, rhs = rhs, lhs
	}
	opc := OpLt
	if op == TokLe || op == TokGe {
		opc = OpLe
	}
	b, err := p.exprToRK(lhs)
	if err != nil {
		return expdesc{}, err
	}
	c, err := p.exprToRK(rhs)
	if err != nil {
		return expdesc{}, err
	}
	p.freeRKIfTemp(c)
	p.freeRKIfTemp(b)
	p.fs.emitABC(opc, 1, b, c)
	jmp := p.fs.emitJump()
	return expdesc{kind: expJmp, info: jmp, t: jmp, f: noJump}, nil
}

func (p *Parser) shortCircuitAnd(lhs, rhs expdesc) (expdesc, error) {
	falseList, err := p.goIfTrue(lhs)
	if err != nil {
		return expdesc{}, err
	}
	r, err := p.exprToAnyReg(rhs)
	if err != nil {
		return expdesc{}, err
	}
	return expdesc{kind: expNonReloc, info: r, t: noJump, f: falseList}, nil
}

func (p *Parser) shortCircuitOr(lhs, rhs expdesc) (expdesc, error) {
	trueList, err := p.goIfFalse(lhs)
	if err != nil {
		return expdesc{}, err
	}
	r, err := p.exprToAnyReg(rhs)
	if err != nil {
		return expdesc{}, err
	}
	return expdesc{kind: expNonReloc, info: r, t: trueList, f: noJump}, nil
}

// exprToRK discharges e to either a constant-pool RK reference (no
// instruction emitted) or a register.
func (p *Parser) exprToRK(e expdesc) (int, error) {
	switch e.kind {
	case expLocal:
		return e.info, nil
	case expK:
		return asK(e.info), nil
	case expKNum:
		idx, err := p.fs.addConstant(Number(e.numLiteral))
		if err != nil {
			return 0, err
		}
		return asK(idx), nil
	default:
		return p.exprToAnyReg(e)
	}
}

// freeRKIfTemp releases a register allocated by exprToRK's fallback
// path (never a constant-pool reference).
func (p *Parser) freeRKIfTemp(rk int) {
	if !isK(rk) {
		p.fs.freeRegister(rk)
	}
}

func (p *Parser) freeIfTemp(e expdesc) {
	if e.kind == expNonReloc && e.info >= len(p.fs.locals) {
		p.fs.freeRegister(e.info)
	}
}

// --- primary/simple expressions ------------------------------------------

func (p *Parser) simpleExpr() (expdesc, error) {
	p.syncLine()
	switch p.tok.Kind {
	case TokNumber:
		n := p.tok.Num
		if err := p.next(); err != nil {
			return expdesc{}, err
		}
		return expdesc{kind: expKNum, numLiteral: n, hasNum: true, t: noJump, f: noJump}, nil
	case TokString:
		s := p.tok.Str
		if err := p.next(); err != nil {
			return expdesc{}, err
		}
		idx, err := p.fs.addConstant(&LString{bytes: []byte(s), hash: stringHash([]byte(s))})
		if err != nil {
			return expdesc{}, err
		}
		return expdesc{kind: expK, info: idx, t: noJump, f: noJump}, nil
	case TokNil:
		if err := p.next(); err != nil {
			return expdesc{}, err
		}
		return expdesc{kind: expNil, t: noJump, f: noJump}, nil
	case TokTrue:
		if err := p.next(); err != nil {
			return expdesc{}, err
		}
		return expdesc{kind: expTrue, t: noJump, f: noJump}, nil
	case TokFalse:
		if err := p.next(); err != nil {
			return expdesc{}, err
		}
		return expdesc{kind: expFalse, t: noJump, f: noJump}, nil
	case TokEllipsis:
		if err := p.next(); err != nil {
			return expdesc{}, err
		}
		pc := p.fs.emitABC(OpVararg, 0, 0, 0)
		return expdesc{kind: expVararg, info: pc, t: noJump, f: noJump}, nil
	case TokFunction:
		if err := p.next(); err != nil {
			return expdesc{}, err
		}
		return p.functionBody(false)
	case TokLBrace:
		return p.tableConstructor()
	default:
		return p.suffixedExpr()
	}
}

func (p *Parser) suffixedExpr() (expdesc, error) {
	e, err := p.primaryExpr()
	if err != nil {
		return expdesc{}, err
	}
	for {
		switch p.tok.Kind {
		case TokDot:
			if err := p.next(); err != nil {
				return expdesc{}, err
			}
			field, err := p.name()
			if err != nil {
				return expdesc{}, err
			}
			e, err = p.indexField(e, field)
			if err != nil {
				return expdesc{}, err
			}
		case TokLBracket:
			if err := p.next(); err != nil {
				return expdesc{}, err
			}
			key, err := p.expr()
			if err != nil {
				return expdesc{}, err
			}
			if err := p.expect(TokRBracket, "]"); err != nil {
				return expdesc{}, err
			}
			e, err = p.indexExpr(e, key)
			if err != nil {
				return expdesc{}, err
			}
		case TokColon:
			if err := p.next(); err != nil {
				return expdesc{}, err
			}
			method, err := p.name()
			if err != nil {
				return expdesc{}, err
			}
			e, err = p.selfCall(e, method)
			if err != nil {
				return expdesc{}, err
			}
		case TokLParen, TokString, TokLBrace:
			e, err = p.callArgs(e)
			if err != nil {
				return expdesc{}, err
			}
		default:
			return e, nil
		}
	}
}

func (p *Parser) primaryExpr() (expdesc, error) {
	switch p.tok.Kind {
	case TokLParen:
		if err := p.next(); err != nil {
			return expdesc{}, err
		}
		e, err := p.expr()
		if err != nil {
			return expdesc{}, err
		}
		if err := p.expect(TokRParen, ")"); err != nil {
			return expdesc{}, err
		}
		// Parenthesizing truncates a multi-result expression to one
		// value; materialize eagerly so callers see expNonReloc.
		if e.kind == expCall || e.kind == expVararg {
			r, err := p.exprToNextReg(e)
			if err != nil {
				return expdesc{}, err
			}
			return expdesc{kind: expNonReloc, info: r, t: noJump, f: noJump}, nil
		}
		return e, nil
	case TokName:
		n := p.tok.Str
		if err := p.next(); err != nil {
			return expdesc{}, err
		}
		return p.singleVar(n)
	default:
		return expdesc{}, p.errorf("unexpected symbol")
	}
}

// singleVar resolves a bare name against locals, then upvalues, then
// falls back to a global (§4.1 Name Resolution).
func (p *Parser) singleVar(name string) (expdesc, error) {
	if reg, ok := p.fs.resolveLocal(name); ok {
		return expdesc{kind: expLocal, info: reg, t: noJump, f: noJump}, nil
	}
	if idx, ok := p.fs.resolveUpvalue(name); ok {
		return expdesc{kind: expUpval, info: idx, t: noJump, f: noJump}, nil
	}
	idx, err := p.fs.addConstant(&LString{bytes: []byte(name), hash: stringHash([]byte(name))})
	if err != nil {
		return expdesc{}, err
	}
	return expdesc{kind: expGlobal, info: idx, t: noJump, f: noJump}, nil
}

func (p *Parser) indexField(obj expdesc, field string) (expdesc, error) {
	idx, err := p.fs.addConstant(&LString{bytes: []byte(field), hash: stringHash([]byte(field))})
	if err != nil {
		return expdesc{}, err
	}
	r, err := p.exprToAnyReg(obj)
	if err != nil {
		return expdesc{}, err
	}
	return expdesc{kind: expIndexed, info: r, aux: asK(idx), t: noJump, f: noJump}, nil
}

func (p *Parser) indexExpr(obj, key expdesc) (expdesc, error) {
	r, err := p.exprToAnyReg(obj)
	if err != nil {
		return expdesc{}, err
	}
	k, err := p.exprToRK(key)
	if err != nil {
		return expdesc{}, err
	}
	return expdesc{kind: expIndexed, info: r, aux: k, t: noJump, f: noJump}, nil
}

func (p *Parser) selfCall(obj expdesc, method string) (expdesc, error) {
	objReg, err := p.exprToAnyReg(obj)
	if err != nil {
		return expdesc{}, err
	}
	idx, err := p.fs.addConstant(&LString{bytes: []byte(method), hash: stringHash([]byte(method))})
	if err != nil {
		return expdesc{}, err
	}
	base, err := p.fs.newReg()
	if err != nil {
		return expdesc{}, err
	}
	if _, err := p.fs.newReg(); err != nil { // implicit self slot
		return expdesc{}, err
	}
	p.fs.emitABC(OpSelf, base, objReg, asK(idx))
	return p.callArgs(expdesc{kind: expNonReloc, info: base, t: noJump, f: noJump})
}

func (p *Parser) callArgs(fn expdesc) (expdesc, error) {
	fnReg, err := p.exprToAnyReg(fn)
	if err != nil {
		return expdesc{}, err
	}
	base := fnReg
	if p.fs.freeReg <= fnReg {
		p.fs.freeReg = fnReg + 1
	}
	nargs := 0
	multiret := false

	switch p.tok.Kind {
	case TokLParen:
		if err := p.next(); err != nil {
			return expdesc{}, err
		}
		if p.tok.Kind != TokRParen {
			for {
				e, err := p.expr()
				if err != nil {
					return expdesc{}, err
				}
				isLast := p.tok.Kind != TokComma
				if isLast && (e.kind == expCall || e.kind == expVararg) {
					if _, err := p.exprToRegs(e, -1); err != nil {
						return expdesc{}, err
					}
					multiret = true
				} else {
					if _, err := p.exprToNextReg(e); err != nil {
						return expdesc{}, err
					}
					nargs++
				}
				if isLast {
					break
				}
				if err := p.next(); err != nil {
					return expdesc{}, err
				}
			}
		}
		if err := p.expect(TokRParen, ")"); err != nil {
			return expdesc{}, err
		}
	case TokString:
		idx, err := p.fs.addConstant(&LString{bytes: []byte(p.tok.Str), hash: stringHash([]byte(p.tok.Str))})
		if err != nil {
			return expdesc{}, err
		}
		r, err := p.fs.newReg()
		if err != nil {
			return expdesc{}, err
		}
		p.fs.emitABx(OpLoadK, r, idx)
		nargs = 1
		if err := p.next(); err != nil {
			return expdesc{}, err
		}
	case TokLBrace:
		e, err := p.tableConstructor()
		if err != nil {
			return expdesc{}, err
		}
		if _, err := p.exprToNextReg(e); err != nil {
			return expdesc{}, err
		}
		nargs = 1
	}

	b := nargs + 1
	if multiret {
		b = 0
	}
	p.fs.freeReg = base + 1
	pc := p.fs.emitABC(OpCall, base, b, 2)
	return expdesc{kind: expCall, info: pc, t: noJump, f: noJump}, nil
}

func (p *Parser) tableConstructor() (expdesc, error) {
	if err := p.expect(TokLBrace, "{"); err != nil {
		return expdesc{}, err
	}
	reg, err := p.fs.newReg()
	if err != nil {
		return expdesc{}, err
	}
	p.fs.emitABC(OpNewTable, reg, 0, 0)

	arrayCount := 0
	multiretLast := false
	for p.tok.Kind != TokRBrace {
		switch {
		case p.tok.Kind == TokLBracket:
			if err := p.next(); err != nil {
				return expdesc{}, err
			}
			key, err := p.expr()
			if err != nil {
				return expdesc{}, err
			}
			if err := p.expect(TokRBracket, "]"); err != nil {
				return expdesc{}, err
			}
			if err := p.expect(TokAssign, "="); err != nil {
				return expdesc{}, err
			}
			val, err := p.expr()
			if err != nil {
				return expdesc{}, err
			}
			k, err := p.exprToRK(key)
			if err != nil {
				return expdesc{}, err
			}
			v, err := p.exprToRK(val)
			if err != nil {
				return expdesc{}, err
			}
			p.fs.emitABC(OpSetTable, reg, k, v)

		case p.tok.Kind == TokName && p.fieldAssignAhead():
			field := p.tok.Str
			if err := p.next(); err != nil {
				return expdesc{}, err
			}
			if err := p.next(); err != nil { // consume '='
				return expdesc{}, err
			}
			val, err := p.expr()
			if err != nil {
				return expdesc{}, err
			}
			idx, err := p.fs.addConstant(&LString{bytes: []byte(field), hash: stringHash([]byte(field))})
			if err != nil {
				return expdesc{}, err
			}
			v, err := p.exprToRK(val)
			if err != nil {
				return expdesc{}, err
			}
			p.fs.emitABC(OpSetTable, reg, asK(idx), v)

		default:
			e, err := p.expr()
			if err != nil {
				return expdesc{}, err
			}
			last := p.tok.Kind != TokComma && p.tok.Kind != TokSemi
			if last && (e.kind == expCall || e.kind == expVararg) {
				if _, err := p.exprToRegs(e, -1); err != nil {
					return expdesc{}, err
				}
				multiretLast = true
			} else {
				if _, err := p.exprToNextReg(e); err != nil {
					return expdesc{}, err
				}
				arrayCount++
			}
		}

		if p.tok.Kind == TokComma || p.tok.Kind == TokSemi {
			if err := p.next(); err != nil {
				return expdesc{}, err
			}
		} else {
			break
		}
	}
	if err := p.expect(TokRBrace, "}"); err != nil {
		return expdesc{}, err
	}

	switch {
	case multiretLast:
		p.fs.emitABC(OpSetList, reg, 0, 0)
	case arrayCount > 0:
		p.fs.emitABC(OpSetList, reg, arrayCount, 0)
	}
	p.fs.freeReg = reg + 1
	return expdesc{kind: expNonReloc, info: reg, t: noJump, f: noJump}, nil
}

func (p *Parser) fieldAssignAhead() bool {
	ahead, err := p.peekAhead()
	return err == nil && ahead.Kind == TokAssign
}
