package relay

import (
	"fmt"

	"github.com/BertoldVdb/felspiflash/armasm"
)

/* Register usage of the generated routine:
 *   r0 payload pointer, r1 length, r2 bytes sent, r3 bytes received,
 *   r4 register address, r5/r6 scratch */

// Assemble turns the program into A32 code to be loaded at origin. The
// routine is called by the boot ROM and returns to it.
func (p Program) Assemble(origin uint32) ([]byte, error) {
	a := armasm.New(origin)
	a.Push(armasm.R4, armasm.R5, armasm.R6, armasm.LR)

	loaded := false
	for _, m := range p.Ops {
		switch op := m.(type) {
		case LoadLength:
			a.LoadConst(armasm.R0, op.Buffer)
			a.Ldrb(armasm.R1, armasm.R0, 0)
			a.Ldrb(armasm.R4, armasm.R0, 1)
			a.OrrLsl(armasm.R1, armasm.R4, armasm.R1, 8)
			a.Add(armasm.R0, armasm.R0, 2)
			a.Mov(armasm.R2, 0)
			a.Mov(armasm.R3, 0)
			loaded = true

		case SetCount:
			if !loaded {
				return nil, ErrorNoLength
			}
			a.LoadConst(armasm.R4, op.Reg)
			a.Str(armasm.R1, armasm.R4, 0)

		case Fill:
			if !loaded {
				return nil, ErrorNoLength
			}
			loop, done := a.NewLabel(), a.NewLabel()
			a.Bind(loop)
			a.CmpReg(armasm.R2, armasm.R1)
			a.B(armasm.HS, done)
			a.Cmp(armasm.R2, op.Window)
			a.B(armasm.HS, done)
			a.LdrbReg(armasm.R5, armasm.R0, armasm.R2)
			a.LoadConst(armasm.R4, op.TX)
			a.Strb(armasm.R5, armasm.R4, 0)
			a.Add(armasm.R2, armasm.R2, 1)
			a.B(armasm.AL, loop)
			a.Bind(done)

		case SetBits:
			a.LoadConst(armasm.R4, op.Reg)
			a.Ldr(armasm.R5, armasm.R4, 0)
			a.LoadConst(armasm.R6, op.Mask)
			a.OrrReg(armasm.R5, armasm.R5, armasm.R6)
			a.Str(armasm.R5, armasm.R4, 0)

		case Exchange:
			if !loaded {
				return nil, ErrorNoLength
			}
			loop, rx, done := a.NewLabel(), a.NewLabel(), a.NewLabel()
			a.Bind(loop)
			a.CmpReg(armasm.R3, armasm.R1)
			a.B(armasm.HS, done)

			/* Keep feeding TX as long as the window allows */
			a.CmpReg(armasm.R2, armasm.R1)
			a.B(armasm.HS, rx)
			a.SubReg(armasm.R6, armasm.R2, armasm.R3)
			a.Cmp(armasm.R6, op.Window)
			a.B(armasm.HS, rx)
			a.LdrbReg(armasm.R5, armasm.R0, armasm.R2)
			a.LoadConst(armasm.R4, op.TX)
			a.Strb(armasm.R5, armasm.R4, 0)
			a.Add(armasm.R2, armasm.R2, 1)

			a.Bind(rx)
			a.LoadConst(armasm.R4, op.Status)
			a.Ldr(armasm.R5, armasm.R4, 0)
			a.And(armasm.R5, armasm.R5, fifoLevelMask)
			a.Cmp(armasm.R5, 0)
			a.B(armasm.EQ, loop)
			a.LoadConst(armasm.R4, op.RX)
			a.Ldrb(armasm.R5, armasm.R4, 0)
			a.StrbReg(armasm.R5, armasm.R0, armasm.R3)
			a.Add(armasm.R3, armasm.R3, 1)
			a.B(armasm.AL, loop)
			a.Bind(done)

		case WaitClear:
			wait := a.NewLabel()
			a.LoadConst(armasm.R4, op.Reg)
			a.LoadConst(armasm.R6, op.Mask)
			a.Bind(wait)
			a.Ldr(armasm.R5, armasm.R4, 0)
			a.TstReg(armasm.R5, armasm.R6)
			a.B(armasm.NE, wait)

		default:
			return nil, fmt.Errorf("%w: %T", ErrorUnknownOp, m)
		}
	}

	a.Pop(armasm.R4, armasm.R5, armasm.R6, armasm.PC)
	return a.Bytes()
}
