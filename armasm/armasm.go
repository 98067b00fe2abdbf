// Package armasm is a very small A32 assembler. It knows just enough
// instructions to build the helper routines that are executed on the SoC
// through FEL. Only ARMv5 encodings are used, so the output runs on every
// supported core (including the ARM926 in the F1C100s).
package armasm

import (
	"encoding/binary"
	"errors"
	"fmt"
)

type Reg uint32

const (
	R0 Reg = iota
	R1
	R2
	R3
	R4
	R5
	R6
	R7
	R8
	R9
	R10
	R11
	R12
	SP
	LR
	PC
)

type Cond uint32

const (
	EQ Cond = 0x0
	NE Cond = 0x1
	HS Cond = 0x2
	LO Cond = 0x3
	MI Cond = 0x4
	PL Cond = 0x5
	HI Cond = 0x8
	LS Cond = 0x9
	GE Cond = 0xa
	LT Cond = 0xb
	AL Cond = 0xe
)

// Data processing opcodes
const (
	opAND = 0x0
	opSUB = 0x2
	opADD = 0x4
	opTST = 0x8
	opCMP = 0xa
	opORR = 0xc
	opMOV = 0xd
)

var (
	ErrorImmediate = errors.New("immediate out of range")
	ErrorLabel     = errors.New("label is not bound")
	ErrorBranch    = errors.New("branch target out of range")
)

type Label int

type fixup struct {
	word  int
	label Label
}

type Assembler struct {
	origin uint32
	words  []uint32

	labels   []int
	branches []fixup

	literals []uint32
	litRefs  []fixup // label field holds the literal index

	err error
}

// New returns an assembler for code that will be loaded at origin.
func New(origin uint32) *Assembler {
	return &Assembler{origin: origin}
}

func (a *Assembler) fail(err error) {
	if a.err == nil {
		a.err = err
	}
}

func (a *Assembler) emit(w uint32) {
	a.words = append(a.words, w)
}

// PC returns the address of the next instruction.
func (a *Assembler) PC() uint32 {
	return a.origin + 4*uint32(len(a.words))
}

func (a *Assembler) NewLabel() Label {
	a.labels = append(a.labels, -1)
	return Label(len(a.labels) - 1)
}

// Bind attaches l to the next instruction.
func (a *Assembler) Bind(l Label) {
	a.labels[l] = len(a.words)
}

func (a *Assembler) dp(cond Cond, op uint32, s bool, rn, rd Reg, op2 uint32, imm bool) {
	w := uint32(cond)<<28 | op<<21 | uint32(rn)<<16 | uint32(rd)<<12 | op2
	if imm {
		w |= 1 << 25
	}
	if s {
		w |= 1 << 20
	}
	a.emit(w)
}

func (a *Assembler) imm8(v uint32) uint32 {
	if v > 0xff {
		a.fail(fmt.Errorf("%w: %#x", ErrorImmediate, v))
		return 0
	}
	return v
}

func (a *Assembler) Mov(rd Reg, imm uint32) {
	a.dp(AL, opMOV, false, 0, rd, a.imm8(imm), true)
}

func (a *Assembler) MovReg(rd, rm Reg) {
	a.dp(AL, opMOV, false, 0, rd, uint32(rm), false)
}

func (a *Assembler) Add(rd, rn Reg, imm uint32) {
	a.dp(AL, opADD, false, rn, rd, a.imm8(imm), true)
}

func (a *Assembler) AddReg(rd, rn, rm Reg) {
	a.dp(AL, opADD, false, rn, rd, uint32(rm), false)
}

func (a *Assembler) SubReg(rd, rn, rm Reg) {
	a.dp(AL, opSUB, false, rn, rd, uint32(rm), false)
}

func (a *Assembler) And(rd, rn Reg, imm uint32) {
	a.dp(AL, opAND, false, rn, rd, a.imm8(imm), true)
}

func (a *Assembler) OrrReg(rd, rn, rm Reg) {
	a.dp(AL, opORR, false, rn, rd, uint32(rm), false)
}

// OrrLsl computes rd = rn | (rm << shift).
func (a *Assembler) OrrLsl(rd, rn, rm Reg, shift uint32) {
	if shift > 31 {
		a.fail(fmt.Errorf("%w: shift %d", ErrorImmediate, shift))
	}
	a.dp(AL, opORR, false, rn, rd, (shift&31)<<7|uint32(rm), false)
}

func (a *Assembler) Cmp(rn Reg, imm uint32) {
	a.dp(AL, opCMP, true, rn, 0, a.imm8(imm), true)
}

func (a *Assembler) CmpReg(rn, rm Reg) {
	a.dp(AL, opCMP, true, rn, 0, uint32(rm), false)
}

func (a *Assembler) TstReg(rn, rm Reg) {
	a.dp(AL, opTST, true, rn, 0, uint32(rm), false)
}

func (a *Assembler) mem(load, byteAccess bool, rd, rn Reg, off uint32) {
	if off > 0xfff {
		a.fail(fmt.Errorf("%w: offset %#x", ErrorImmediate, off))
		off = 0
	}

	w := uint32(AL)<<28 | 0x04000000 | 1<<24 | 1<<23 | uint32(rn)<<16 | uint32(rd)<<12 | off
	if byteAccess {
		w |= 1 << 22
	}
	if load {
		w |= 1 << 20
	}
	a.emit(w)
}

func (a *Assembler) memReg(load, byteAccess bool, rd, rn, rm Reg) {
	w := uint32(AL)<<28 | 0x06000000 | 1<<24 | 1<<23 | uint32(rn)<<16 | uint32(rd)<<12 | uint32(rm)
	if byteAccess {
		w |= 1 << 22
	}
	if load {
		w |= 1 << 20
	}
	a.emit(w)
}

func (a *Assembler) Ldr(rd, rn Reg, off uint32)  { a.mem(true, false, rd, rn, off) }
func (a *Assembler) Str(rd, rn Reg, off uint32)  { a.mem(false, false, rd, rn, off) }
func (a *Assembler) Ldrb(rd, rn Reg, off uint32) { a.mem(true, true, rd, rn, off) }
func (a *Assembler) Strb(rd, rn Reg, off uint32) { a.mem(false, true, rd, rn, off) }

func (a *Assembler) LdrbReg(rd, rn, rm Reg) { a.memReg(true, true, rd, rn, rm) }
func (a *Assembler) StrbReg(rd, rn, rm Reg) { a.memReg(false, true, rd, rn, rm) }

// LoadConst loads a 32-bit value from the literal pool that is placed
// after the code.
func (a *Assembler) LoadConst(rd Reg, value uint32) {
	index := -1
	for i, m := range a.literals {
		if m == value {
			index = i
			break
		}
	}
	if index < 0 {
		a.literals = append(a.literals, value)
		index = len(a.literals) - 1
	}

	a.litRefs = append(a.litRefs, fixup{word: len(a.words), label: Label(index)})
	a.emit(uint32(AL)<<28 | 0x05900000 | uint32(PC)<<16 | uint32(rd)<<12)
}

func regList(regs []Reg) uint32 {
	var mask uint32
	for _, r := range regs {
		mask |= 1 << r
	}
	return mask
}

func (a *Assembler) Push(regs ...Reg) {
	a.emit(uint32(AL)<<28 | 0x092d0000 | regList(regs))
}

func (a *Assembler) Pop(regs ...Reg) {
	a.emit(uint32(AL)<<28 | 0x08bd0000 | regList(regs))
}

func (a *Assembler) Bx(rm Reg) {
	a.emit(uint32(AL)<<28 | 0x012fff10 | uint32(rm))
}

func (a *Assembler) B(cond Cond, l Label) {
	a.branches = append(a.branches, fixup{word: len(a.words), label: l})
	a.emit(uint32(cond)<<28 | 0x0a000000)
}

// Words resolves branches and literals and returns the final program,
// literal pool included.
func (a *Assembler) Words() ([]uint32, error) {
	if a.err != nil {
		return nil, a.err
	}

	out := make([]uint32, len(a.words), len(a.words)+len(a.literals))
	copy(out, a.words)

	for _, m := range a.branches {
		target := a.labels[m.label]
		if target < 0 {
			return nil, fmt.Errorf("%w: %d", ErrorLabel, m.label)
		}

		/* PC reads two instructions ahead */
		offset := target - (m.word + 2)
		if offset < -(1<<23) || offset >= 1<<23 {
			return nil, ErrorBranch
		}
		out[m.word] |= uint32(offset) & 0xffffff
	}

	for _, m := range a.litRefs {
		offset := 4 * (len(a.words) + int(m.label) - (m.word + 2))
		if offset < 0 || offset > 0xfff {
			return nil, fmt.Errorf("%w: literal offset %d", ErrorImmediate, offset)
		}
		out[m.word] |= uint32(offset)
	}

	return append(out, a.literals...), nil
}

// Bytes returns the little-endian machine code.
func (a *Assembler) Bytes() ([]byte, error) {
	words, err := a.Words()
	if err != nil {
		return nil, err
	}

	buf := make([]byte, 4*len(words))
	for i, w := range words {
		binary.LittleEndian.PutUint32(buf[4*i:], w)
	}
	return buf, nil
}
