package wisp

import (
	"fmt"
	"io"

	"github.com/wisplang/wisp/ascii"
)

// Disassemble writes a human-readable listing of p's instructions (and
// recursively, every nested Proto's) to w, one line per instruction:
// source line, program counter, opcode mnemonic and operands. Operator
// and operand tokens are colorized via the ascii package's syntax-
// highlighting theme fields, the same ones the teacher reserved for
// its own AST/ASM printers — wisp's own "ASM printer" is exactly this.
func Disassemble(w io.Writer, p *Proto) error {
	return disassemble(w, p, 0)
}

func disassemble(w io.Writer, p *Proto, depth int) error {
	indent := ""
	for i := 0; i < depth; i++ {
		indent += "  "
	}
	name := fmt.Sprintf("%s:%d", p.Source, p.LineDefined)
	fmt.Fprintf(w, "%s%s %s\n", indent, ascii.Color(ascii.DefaultTheme.Label, "function"), ascii.Color(ascii.DefaultTheme.Muted, "<%s>", name))
	for pc, inst := range p.Code {
		op := inst.Opcode()
		line := 0
		if pc < len(p.Lines) {
			line = p.Lines[pc]
		}
		operator := ascii.Color(ascii.DefaultTheme.Operator, "%-10s", op.String())
		operands := ascii.Color(ascii.DefaultTheme.Operand, "%s", disasmOperands(op, inst))
		fmt.Fprintf(w, "%s  [%s] %4d  %s%s\n", indent,
			ascii.Color(ascii.DefaultTheme.Span, "%4d", line), pc, operator, operands)
	}
	for _, sub := range p.Protos {
		if err := disassemble(w, sub, depth+1); err != nil {
			return err
		}
	}
	return nil
}

// disasmOperands renders the ABC/ABx/AsBx fields an instruction
// actually uses (§4.2 "instructions share one of three encodings")
// as bare numbers; constant-table indices and RK-encoded operands are
// printed as their raw field values, with no `K` marker.
func disasmOperands(op Opcode, inst Instruction) string {
	switch op {
	case OpLoadK, OpGetGlobal, OpSetGlobal, OpClosure, OpGetUpval, OpSetUpval:
		return fmt.Sprintf("%d %d", inst.A(), inst.Bx())
	case OpJmp, OpForPrep, OpForLoop:
		return fmt.Sprintf("%d %d", inst.A(), inst.SBx())
	default:
		return fmt.Sprintf("%d %d %d", inst.A(), inst.B(), inst.C())
	}
}
