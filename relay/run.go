package relay

import "fmt"

// Bus is the device as seen by the interpreter.
type Bus interface {
	Read8(addr uint32) uint8
	Write8(addr uint32, value uint8)
	Read32(addr uint32) uint32
	Write32(addr uint32, value uint32)
}

const spinLimit = 1 << 20

// Run interprets the program against bus, with the same semantics as the
// assembled routine. The device routine spins forever on a stuck
// controller, Run gives up after spinLimit polls.
func (p Program) Run(bus Bus) error {
	var ptr, length, sent, received uint32
	loaded := false

	for _, m := range p.Ops {
		switch op := m.(type) {
		case LoadLength:
			length = uint32(bus.Read8(op.Buffer))<<8 | uint32(bus.Read8(op.Buffer+1))
			ptr = op.Buffer + 2
			sent, received = 0, 0
			loaded = true

		case SetCount:
			if !loaded {
				return ErrorNoLength
			}
			bus.Write32(op.Reg, length)

		case Fill:
			if !loaded {
				return ErrorNoLength
			}
			for sent < length && sent < op.Window {
				bus.Write8(op.TX, bus.Read8(ptr+sent))
				sent++
			}

		case SetBits:
			bus.Write32(op.Reg, bus.Read32(op.Reg)|op.Mask)

		case Exchange:
			if !loaded {
				return ErrorNoLength
			}
			for spins := 0; received < length; spins++ {
				if spins > spinLimit {
					return fmt.Errorf("%w: %d of %d bytes received", ErrorStalled, received, length)
				}

				if sent < length && sent-received < op.Window {
					bus.Write8(op.TX, bus.Read8(ptr+sent))
					sent++
				}

				if bus.Read32(op.Status)&fifoLevelMask != 0 {
					bus.Write8(ptr+received, bus.Read8(op.RX))
					received++
				}
			}

		case WaitClear:
			for spins := 0; bus.Read32(op.Reg)&op.Mask != 0; spins++ {
				if spins > spinLimit {
					return fmt.Errorf("%w: %08x never cleared %08x", ErrorStalled, op.Reg, op.Mask)
				}
			}

		default:
			return fmt.Errorf("%w: %T", ErrorUnknownOp, m)
		}
	}

	return nil
}
