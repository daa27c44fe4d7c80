package wisp

import (
	"encoding/binary"
	"io"
	"math"
)

// Binary chunk signature and fixed header (§6.2): the loader compares
// this byte-for-byte against what Load produces on the running build,
// so a chunk dumped on one platform/number-width never silently loads
// wrong on another.
var dumpSignature = [4]byte{0x1B, 'L', 'u', 'a'}

const (
	dumpVersion     = 0x01
	dumpFormat      = 0x00
	dumpLittleEndian = 0x01
	dumpSizeInt      = 4
	dumpSizeSizeT    = 8
	dumpSizeInstr    = 4
	dumpSizeNumber   = 8
	dumpIntegral     = 0x00 // Number is always float64
)

const (
	tagNil = iota
	tagFalse
	tagTrue
	tagNumber
	tagString
)

// Dump serializes a compiled Proto to its binary chunk representation
// (§6.2), the format `Load` reads back. Grounded on the teacher's own
// manual byte-buffer encoder in vm_encoder.go (Encode): a flat walk of
// the in-memory structure appending fixed-width fields with
// encoding/binary, generalized from a PEG program's instruction/set
// tables to a Proto's code/constants/nested-protos/debug-info tree.
func Dump(w io.Writer, p *Proto) error {
	if err := writeHeader(w); err != nil {
		return err
	}
	return dumpProto(w, p)
}

func writeHeader(w io.Writer) error {
	if _, err := w.Write(dumpSignature[:]); err != nil {
		return err
	}
	hdr := []byte{dumpVersion, dumpFormat, dumpLittleEndian, dumpSizeInt, dumpSizeSizeT, dumpSizeInstr, dumpSizeNumber, dumpIntegral}
	_, err := w.Write(hdr)
	return err
}

func dumpProto(w io.Writer, p *Proto) error {
	if err := writeString(w, p.Source); err != nil {
		return err
	}
	if err := writeU32(w, uint32(p.LineDefined)); err != nil {
		return err
	}
	if err := writeU32(w, uint32(p.LastLineDefined)); err != nil {
		return err
	}
	if err := writeU32(w, uint32(len(p.Upvalues))); err != nil {
		return err
	}
	if err := writeU32(w, uint32(p.NumParams)); err != nil {
		return err
	}
	if err := writeBool(w, p.IsVararg); err != nil {
		return err
	}
	if err := writeU32(w, uint32(p.MaxStack)); err != nil {
		return err
	}

	if err := writeU32(w, uint32(len(p.Code))); err != nil {
		return err
	}
	for _, inst := range p.Code {
		if err := writeU32(w, uint32(inst)); err != nil {
			return err
		}
	}

	if err := writeU32(w, uint32(len(p.Constants))); err != nil {
		return err
	}
	for _, c := range p.Constants {
		if err := dumpConstant(w, c); err != nil {
			return err
		}
	}

	if err := writeU32(w, uint32(len(p.Protos))); err != nil {
		return err
	}
	for _, child := range p.Protos {
		if err := dumpProto(w, child); err != nil {
			return err
		}
	}

	if err := writeU32(w, uint32(len(p.Lines))); err != nil {
		return err
	}
	for _, line := range p.Lines {
		if err := writeU32(w, uint32(line)); err != nil {
			return err
		}
	}

	if err := writeU32(w, uint32(len(p.Locals))); err != nil {
		return err
	}
	for _, lv := range p.Locals {
		if err := writeString(w, lv.Name); err != nil {
			return err
		}
		if err := writeU32(w, uint32(lv.StartPC)); err != nil {
			return err
		}
		if err := writeU32(w, uint32(lv.EndPC)); err != nil {
			return err
		}
	}

	if err := writeU32(w, uint32(len(p.UpvalNames))); err != nil {
		return err
	}
	for _, n := range p.UpvalNames {
		if err := writeString(w, n); err != nil {
			return err
		}
	}
	return nil
}

func dumpConstant(w io.Writer, v Value) error {
	switch c := v.(type) {
	case Nil:
		return writeByte(w, tagNil)
	case Boolean:
		if c {
			return writeByte(w, tagTrue)
		}
		return writeByte(w, tagFalse)
	case Number:
		if err := writeByte(w, tagNumber); err != nil {
			return err
		}
		return writeU64(w, math.Float64bits(float64(c)))
	case *LString:
		if err := writeByte(w, tagString); err != nil {
			return err
		}
		return writeString(w, string(c.bytes))
	default:
		return newRuntimeError("bad constant: non-literal value in prototype constant pool")
	}
}

func writeByte(w io.Writer, b byte) error {
	_, err := w.Write([]byte{b})
	return err
}

func writeBool(w io.Writer, b bool) error {
	if b {
		return writeByte(w, 1)
	}
	return writeByte(w, 0)
}

func writeU32(w io.Writer, v uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}

func writeU64(w io.Writer, v uint64) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}

// writeString length-prefixes a byte string; an empty Source name
// (the common "anonymous chunk" case) dumps as a zero-length string
// rather than needing a separate nil representation.
func writeString(w io.Writer, s string) error {
	if err := writeU32(w, uint32(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}
