package sunxispi

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/BertoldVdb/felspiflash/relay"
	"github.com/BertoldVdb/felspiflash/spiflash/spiflashtest"
)

type access struct {
	addr uint32
	n    int
}

/* fakeTarget is a SoC in FEL mode: sparse memory, a register file and an
 * SPI0 controller wired to a simulated flash chip. Executing the relay
 * routine interprets its program against the controller. */
type fakeTarget struct {
	profile Profile
	mem     map[uint32]byte
	regs    map[uint32]uint32
	chip    *spiflashtest.Chip

	code    []byte
	program relay.Program

	writes []access
	reads  []access
	execs  int

	corruptRelay bool
	stuckReset   bool
	failReg      uint32

	tx, rx  []byte
	shifted uint32
}

func newFakeTarget(soc uint16, chip *spiflashtest.Chip) *fakeTarget {
	profile, err := Resolve(soc)
	if err != nil {
		panic(err)
	}

	f := &fakeTarget{
		profile: profile,
		mem:     map[uint32]byte{},
		regs:    map[uint32]uint32{},
		chip:    chip,
		program: relay.Build(profile.RelayParams()),
	}

	f.code, err = f.program.Assemble(profile.SRAM.ScratchAddr)
	if err != nil {
		panic(err)
	}

	/* Whatever the boot ROM left behind */
	for i := 0; i < profile.SRAM.BufferSize(); i++ {
		f.mem[profile.SRAM.SPLAddr+uint32(i)] = byte(i*7 + 3)
	}
	return f
}

func (f *fakeTarget) sram() []byte {
	out := make([]byte, f.profile.SRAM.BufferSize())
	for i := range out {
		out[i] = f.mem[f.profile.SRAM.SPLAddr+uint32(i)]
	}
	return out
}

func (f *fakeTarget) resetLog() {
	f.writes, f.reads, f.execs = nil, nil, 0
}

func (f *fakeTarget) ReadMemory(addr uint32, buf []byte) error {
	f.reads = append(f.reads, access{addr, len(buf)})
	for i := range buf {
		buf[i] = f.mem[addr+uint32(i)]
	}
	return nil
}

func (f *fakeTarget) WriteMemory(addr uint32, buf []byte) error {
	f.writes = append(f.writes, access{addr, len(buf)})
	for i, m := range buf {
		f.mem[addr+uint32(i)] = m
	}
	if f.corruptRelay && addr == f.profile.SRAM.ScratchAddr && len(buf) > 8 {
		f.mem[addr+8] ^= 0x40
	}
	return nil
}

/* The FEL register helpers run from the scratch address too */
func (f *fakeTarget) scribble() {
	for i := uint32(0); i < 16; i++ {
		f.mem[f.profile.SRAM.ScratchAddr+i] = 0xaa
	}
}

func (f *fakeTarget) ReadL(addr uint32) (uint32, error) {
	f.scribble()
	v := f.regs[addr]
	if !f.profile.legacy() && addr == f.profile.GlobalControl() && !f.stuckReset {
		f.regs[addr] &^= sun6iGcrSRST
	}
	return v, nil
}

func (f *fakeTarget) WriteL(addr uint32, value uint32) error {
	f.scribble()
	if f.failReg != 0 && addr == f.failReg {
		return fmt.Errorf("write to %08x failed", addr)
	}
	f.regs[addr] = value
	return nil
}

func (f *fakeTarget) Execute(addr uint32) error {
	f.execs++
	if addr != f.profile.SRAM.ScratchAddr {
		return fmt.Errorf("execute at %08x", addr)
	}

	installed := make([]byte, len(f.code))
	f.ReadMemory(addr, installed)
	f.reads = f.reads[:len(f.reads)-1]
	if !bytes.Equal(installed, f.code) {
		return errors.New("no relay routine at the scratch address")
	}

	return f.program.Run(controller{f})
}

/* controller is the SPI0 block as seen by the relay routine */
type controller struct {
	f *fakeTarget
}

func (c controller) step() {
	f, p := c.f, c.f.profile
	if f.regs[p.Control()]&p.ExchangeBit() == 0 {
		return
	}

	if len(f.tx) > 0 && f.shifted < f.regs[p.BurstCount()] {
		f.rx = append(f.rx, f.chip.Shift(f.tx[0]))
		f.tx = f.tx[1:]
		f.shifted++
	}
	if f.shifted >= f.regs[p.BurstCount()] {
		f.regs[p.Control()] &^= p.ExchangeBit()
		f.shifted = 0
		f.chip.Deselect()
	}
}

func (c controller) Read8(addr uint32) uint8 {
	if addr == c.f.profile.RX() {
		if len(c.f.rx) == 0 {
			return 0
		}
		b := c.f.rx[0]
		c.f.rx = c.f.rx[1:]
		return b
	}
	return c.f.mem[addr]
}

func (c controller) Write8(addr uint32, value uint8) {
	if addr == c.f.profile.TX() {
		c.f.tx = append(c.f.tx, value)
		return
	}
	c.f.mem[addr] = value
}

func (c controller) Read32(addr uint32) uint32 {
	c.step()
	if addr == c.f.profile.FIFOStatus() {
		return uint32(len(c.f.tx))<<16 | uint32(len(c.f.rx))
	}
	return c.f.regs[addr]
}

func (c controller) Write32(addr uint32, value uint32) {
	c.f.regs[addr] = value
}
