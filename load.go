package wisp

import (
	"encoding/binary"
	"io"
	"math"
)

const maxProtoDepth = 200 // §6.2 "code too deep"

// Load deserializes a binary chunk produced by Dump back into a
// Proto, the symmetric counterpart of Dump. The header is compared
// byte-for-byte against the current build's own header (§6.2): any
// mismatch — including one produced by a different platform's
// int/size_t/number widths — is rejected rather than silently
// misread, since nothing here attempts cross-platform portability.
func Load(r io.Reader, chunkName string) (*Proto, error) {
	if err := readHeader(r); err != nil {
		return nil, err
	}
	return loadProto(r, chunkName, 0)
}

func readHeader(r io.Reader) error {
	var sig [4]byte
	if _, err := io.ReadFull(r, sig[:]); err != nil {
		return loadErrorf("unexpected end")
	}
	if sig != dumpSignature {
		return loadErrorf("bad header in precompiled chunk")
	}
	var hdr [8]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return loadErrorf("unexpected end")
	}
	want := [8]byte{dumpVersion, dumpFormat, dumpLittleEndian, dumpSizeInt, dumpSizeSizeT, dumpSizeInstr, dumpSizeNumber, dumpIntegral}
	if hdr != want {
		return loadErrorf("bad header in precompiled chunk")
	}
	return nil
}

func loadProto(r io.Reader, chunkName string, depth int) (*Proto, error) {
	if depth > maxProtoDepth {
		return nil, loadErrorf("code too deep")
	}
	p := newProto(chunkName)

	source, err := readString(r)
	if err != nil {
		return nil, err
	}
	p.Source = source

	lineDefined, err := readCount(r)
	if err != nil {
		return nil, err
	}
	p.LineDefined = lineDefined

	lastLine, err := readCount(r)
	if err != nil {
		return nil, err
	}
	p.LastLineDefined = lastLine

	nUpvals, err := readCount(r)
	if err != nil {
		return nil, err
	}
	nParams, err := readCount(r)
	if err != nil {
		return nil, err
	}
	p.NumParams = nParams

	vararg, err := readBool(r)
	if err != nil {
		return nil, err
	}
	p.IsVararg = vararg

	maxStack, err := readCount(r)
	if err != nil {
		return nil, err
	}
	p.MaxStack = maxStack

	nCode, err := readCount(r)
	if err != nil {
		return nil, err
	}
	p.Code = make([]Instruction, nCode)
	for i := range p.Code {
		v, err := readU32(r)
		if err != nil {
			return nil, loadErrorf("unexpected end")
		}
		p.Code[i] = Instruction(v)
	}

	nConst, err := readCount(r)
	if err != nil {
		return nil, err
	}
	p.Constants = make([]Value, nConst)
	for i := range p.Constants {
		v, err := loadConstant(r)
		if err != nil {
			return nil, err
		}
		p.Constants[i] = v
	}

	nProtos, err := readCount(r)
	if err != nil {
		return nil, err
	}
	p.Protos = make([]*Proto, nProtos)
	for i := range p.Protos {
		child, err := loadProto(r, chunkName, depth+1)
		if err != nil {
			return nil, err
		}
		p.Protos[i] = child
	}

	nLines, err := readCount(r)
	if err != nil {
		return nil, err
	}
	p.Lines = make([]int, nLines)
	for i := range p.Lines {
		p.Lines[i], err = readCount(r)
		if err != nil {
			return nil, err
		}
	}

	nLocals, err := readCount(r)
	if err != nil {
		return nil, err
	}
	p.Locals = make([]localVarInfo, nLocals)
	for i := range p.Locals {
		name, err := readString(r)
		if err != nil {
			return nil, err
		}
		start, err := readCount(r)
		if err != nil {
			return nil, err
		}
		end, err := readCount(r)
		if err != nil {
			return nil, err
		}
		p.Locals[i] = localVarInfo{Name: name, StartPC: start, EndPC: end}
	}

	nUpNames, err := readCount(r)
	if err != nil {
		return nil, err
	}
	p.UpvalNames = make([]string, nUpNames)
	for i := range p.UpvalNames {
		p.UpvalNames[i], err = readString(r)
		if err != nil {
			return nil, err
		}
	}
	_ = nUpvals // upvalue descriptors themselves are resolved at CLOSURE time from the parent; only the count/name debug info round-trips

	return p, nil
}

func loadConstant(r io.Reader) (Value, error) {
	tag, err := readByte(r)
	if err != nil {
		return nil, loadErrorf("unexpected end")
	}
	switch tag {
	case tagNil:
		return NilValue, nil
	case tagFalse:
		return Boolean(false), nil
	case tagTrue:
		return Boolean(true), nil
	case tagNumber:
		bits, err := readU64(r)
		if err != nil {
			return nil, loadErrorf("unexpected end")
		}
		return Number(math.Float64frombits(bits)), nil
	case tagString:
		s, err := readString(r)
		if err != nil {
			return nil, err
		}
		return &LString{bytes: []byte(s), hash: stringHash([]byte(s))}, nil
	default:
		return nil, loadErrorf("bad constant")
	}
}

func readByte(r io.Reader) (byte, error) {
	var buf [1]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return buf[0], nil
}

func readBool(r io.Reader) (bool, error) {
	b, err := readByte(r)
	if err != nil {
		return false, loadErrorf("unexpected end")
	}
	return b != 0, nil
}

func readU32(r io.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

func readU64(r io.Reader) (uint64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

// readCount reads a length-prefixed count, rejecting a negative value
// read as a 2's-complement uint32 (§6.2 "bad integer").
func readCount(r io.Reader) (int, error) {
	v, err := readU32(r)
	if err != nil {
		return 0, loadErrorf("unexpected end")
	}
	if v >= 1<<31 {
		return 0, loadErrorf("bad integer")
	}
	return int(v), nil
}

func readString(r io.Reader) (string, error) {
	n, err := readCount(r)
	if err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", loadErrorf("unexpected end")
	}
	return string(buf), nil
}

func loadErrorf(msg string) error {
	return &SyntaxError{ChunkName: "?", Line: 0, Message: msg}
}
