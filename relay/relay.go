// Package relay builds the routine that moves bytes between the shared SRAM
// buffer and the SPI controller FIFOs. The routine is described as a short
// list of operations that is either assembled into A32 code for the SoC or
// interpreted in Go.
//
// Buffer layout, as seen by the routine:
//
//	+0  length, 16 bit big endian
//	+2  payload; replaced in place by the bytes received during the exchange
package relay

import (
	"errors"
	"fmt"
	"strings"
)

// Window is the number of bytes that may be in flight between the TX and RX
// FIFOs. Both FIFOs are 64 bytes deep on every supported controller.
const Window = 32

// fifoLevelMask extracts the RX FIFO level from the FIFO status register on
// both register layouts.
const fifoLevelMask = 0x7f

// Params are the register addresses the routine is specialised with.
type Params struct {
	Buffer        uint32
	Control       uint32
	ExchangeBit   uint32
	FIFOStatus    uint32
	TX            uint32
	RX            uint32
	BurstCount    uint32
	TransferCount uint32
	BurstCounter  uint32 // zero if the controller has none
}

type Op interface {
	String() string
}

// LoadLength reads the length prefix of the buffer.
type LoadLength struct{ Buffer uint32 }

// SetCount writes the transfer length to a count register.
type SetCount struct{ Reg uint32 }

// Fill pushes the first bytes of the payload into the TX FIFO.
type Fill struct{ TX, Window uint32 }

// SetBits sets Mask in Reg (read-modify-write).
type SetBits struct{ Reg, Mask uint32 }

// Exchange pushes the rest of the payload and pulls every received byte
// back into the buffer.
type Exchange struct{ TX, RX, Status, Window uint32 }

// WaitClear spins until Mask is cleared in Reg.
type WaitClear struct{ Reg, Mask uint32 }

func (o LoadLength) String() string { return fmt.Sprintf("load-length  buf=%08x", o.Buffer) }
func (o SetCount) String() string   { return fmt.Sprintf("set-count    reg=%08x", o.Reg) }
func (o Fill) String() string       { return fmt.Sprintf("fill         tx=%08x n=%d", o.TX, o.Window) }
func (o SetBits) String() string    { return fmt.Sprintf("set-bits     reg=%08x mask=%08x", o.Reg, o.Mask) }
func (o WaitClear) String() string  { return fmt.Sprintf("wait-clear   reg=%08x mask=%08x", o.Reg, o.Mask) }
func (o Exchange) String() string {
	return fmt.Sprintf("exchange     tx=%08x rx=%08x sta=%08x n=%d", o.TX, o.RX, o.Status, o.Window)
}

type Program struct {
	Ops []Op
}

// Build returns the relay program for the given registers.
func Build(p Params) Program {
	ops := []Op{
		LoadLength{Buffer: p.Buffer},
		SetCount{Reg: p.BurstCount},
		SetCount{Reg: p.TransferCount},
	}
	if p.BurstCounter != 0 {
		ops = append(ops, SetCount{Reg: p.BurstCounter})
	}

	ops = append(ops,
		Fill{TX: p.TX, Window: Window},
		SetBits{Reg: p.Control, Mask: p.ExchangeBit},
		Exchange{TX: p.TX, RX: p.RX, Status: p.FIFOStatus, Window: Window},
		WaitClear{Reg: p.Control, Mask: p.ExchangeBit},
	)

	return Program{Ops: ops}
}

func (p Program) String() string {
	var b strings.Builder
	for i, m := range p.Ops {
		fmt.Fprintf(&b, "%2d: %s\n", i, m)
	}
	return b.String()
}

var (
	ErrorStalled   = errors.New("relay: controller stalled")
	ErrorNoLength  = errors.New("relay: program does not load the length")
	ErrorUnknownOp = errors.New("relay: unknown operation")
)
