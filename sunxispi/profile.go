// Package sunxispi drives the SPI0 controller of an Allwinner SoC through
// the FEL boot ROM. Every register access and every exchange goes through
// memory reads, memory writes and calls into code placed in SRAM.
package sunxispi

import (
	"errors"
	"fmt"

	"github.com/BertoldVdb/felspiflash/fel"
	"github.com/BertoldVdb/felspiflash/relay"
	"periph.io/x/conn/v3/physic"
)

type Layout int

const (
	// LayoutLegacy is the sun4i controller: separate TX/RX ports, burst
	// and transfer count registers.
	LayoutLegacy Layout = iota
	// LayoutUnified is the sun6i controller: FIFO windows and a third
	// burst counter register.
	LayoutUnified
)

func (l Layout) String() string {
	if l == LayoutLegacy {
		return "sun4i"
	}
	return "sun6i"
}

type Clock int

const (
	// ClockOsc24M feeds the controller from the 24 MHz oscillator.
	ClockOsc24M Clock = iota
	// ClockAHB feeds it from the AHB bus clock, which has to be set up first.
	ClockAHB
)

type Profile struct {
	SoC         uint16
	Name        string
	Layout      Layout
	Base        uint32
	PinFunction uint32
	Clock       Clock
	SRAM        fel.SoC
}

var ErrUnsupportedSoC = errors.New("sunxispi: unsupported SoC")

type UnsupportedSoCError struct {
	ID uint16
}

func (e *UnsupportedSoCError) Error() string {
	return fmt.Sprintf("%v %04x", ErrUnsupportedSoC, e.ID)
}

func (e *UnsupportedSoCError) Unwrap() error {
	return ErrUnsupportedSoC
}

const (
	baseSun4i = 0x01c05000
	baseSun6i = 0x01c68000
)

var profiles = []Profile{
	{SoC: 0x1625, Name: "A13", Layout: LayoutLegacy, Base: baseSun4i, PinFunction: 3},
	{SoC: 0x1663, Name: "F1C100s", Layout: LayoutUnified, Base: baseSun4i, PinFunction: 2, Clock: ClockAHB},
	{SoC: 0x1680, Name: "H3", Layout: LayoutUnified, Base: baseSun6i, PinFunction: 3},
	{SoC: 0x1689, Name: "A64", Layout: LayoutUnified, Base: baseSun6i, PinFunction: 4},
	{SoC: 0x1718, Name: "H5", Layout: LayoutUnified, Base: baseSun6i, PinFunction: 3},
}

// Resolve returns the controller profile for a SoC id.
func Resolve(soc uint16) (Profile, error) {
	for _, m := range profiles {
		if m.SoC != soc {
			continue
		}

		sram, ok := fel.SoCLookup(soc)
		if !ok {
			break
		}
		m.SRAM = sram
		return m, nil
	}

	return Profile{}, &UnsupportedSoCError{ID: soc}
}

func (p Profile) String() string {
	return fmt.Sprintf("%s (%04x), %v SPI0 at %08x", p.Name, p.SoC, p.Layout, p.Base)
}

func (p Profile) legacy() bool {
	return p.Layout == LayoutLegacy
}

func (p Profile) pick(legacy, unified uint32) uint32 {
	if p.legacy() {
		return p.Base + legacy
	}
	return p.Base + unified
}

// GlobalControl is only present on the unified layout.
func (p Profile) GlobalControl() uint32 { return p.pick(0x08, 0x04) }

// Control holds the exchange bit.
func (p Profile) Control() uint32       { return p.pick(0x08, 0x08) }
func (p Profile) FIFOStatus() uint32    { return p.pick(0x28, 0x1c) }
func (p Profile) ClockControl() uint32  { return p.pick(0x1c, 0x24) }
func (p Profile) BurstCount() uint32    { return p.pick(0x20, 0x30) }
func (p Profile) TransferCount() uint32 { return p.pick(0x24, 0x34) }
func (p Profile) TX() uint32            { return p.pick(0x04, 0x200) }
func (p Profile) RX() uint32            { return p.pick(0x00, 0x300) }

func (p Profile) BurstCounter() uint32 {
	if p.legacy() {
		return 0
	}
	return p.Base + 0x38
}

func (p Profile) ExchangeBit() uint32 {
	if p.legacy() {
		return sun4iCtlXCH
	}
	return sun6iTcrXCH
}

// Frequency is the SPI clock after bring-up.
func (p Profile) Frequency() physic.Frequency {
	if p.Clock == ClockAHB {
		return 200 * physic.MegaHertz / 32
	}
	return 24 * physic.MegaHertz / 4
}

// RelayParams specialises the relay routine for this controller.
func (p Profile) RelayParams() relay.Params {
	return relay.Params{
		Buffer:        p.SRAM.SPLAddr,
		Control:       p.Control(),
		ExchangeBit:   p.ExchangeBit(),
		FIFOStatus:    p.FIFOStatus(),
		TX:            p.TX(),
		RX:            p.RX(),
		BurstCount:    p.BurstCount(),
		TransferCount: p.TransferCount(),
		BurstCounter:  p.BurstCounter(),
	}
}
