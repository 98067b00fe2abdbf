// Package spiflashtest simulates an SPI NAND chip with a page cache.
package spiflashtest

import (
	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/spi"
)

const PageSize = 2048

// Chip answers the commands used by the read path: JEDEC id (9F), get
// feature (0F), page read to cache (13) and read from cache (0B).
// Bytes are shifted one at a time with Shift; Deselect ends a command.
type Chip struct {
	Manufacturer uint8
	Device       uint16
	Data         []byte

	// BusyPolls is the number of status reads that report busy after each
	// page read, negative for a chip that never finishes.
	BusyPolls int

	// Commands holds every byte sent, one entry per chip select cycle.
	Commands [][]byte

	cmd   []byte
	cache []byte
	busy  int
}

var _ spi.Conn = (*Chip)(nil)

func New(manufacturer uint8, device uint16, size int) *Chip {
	c := &Chip{
		Manufacturer: manufacturer,
		Device:       device,
		Data:         make([]byte, size),
	}
	for i := range c.Data {
		c.Data[i] = byte(i/PageSize) ^ byte(i*13)
	}
	return c
}

func (c *Chip) respond(index int) byte {
	switch c.cmd[0] {
	case 0x9f:
		switch index {
		case 1:
			return c.Manufacturer
		case 2:
			return byte(c.Device)
		case 3:
			return byte(c.Device >> 8)
		}

	case 0x0f:
		if index == 2 && c.cmd[1] == 0xc0 {
			if c.busy < 0 {
				return 1
			}
			if c.busy > 0 {
				c.busy--
				return 1
			}
			return 0
		}

	case 0x0b:
		if index >= 4 {
			col := int(c.cmd[1])<<8 | int(c.cmd[2])
			if i := col + index - 4; i < len(c.cache) {
				return c.cache[i]
			}
			return 0xff
		}
	}

	return 0
}

// Shift clocks one byte in and returns the byte clocked out.
func (c *Chip) Shift(b byte) byte {
	c.cmd = append(c.cmd, b)
	if len(c.cmd) == 1 {
		return 0
	}
	return c.respond(len(c.cmd) - 1)
}

func (c *Chip) Deselect() {
	if len(c.cmd) == 0 {
		return
	}
	c.Commands = append(c.Commands, c.cmd)

	if c.cmd[0] == 0x13 && len(c.cmd) >= 4 {
		block := int(c.cmd[1])<<16 | int(c.cmd[2])<<8 | int(c.cmd[3])

		c.cache = make([]byte, PageSize)
		for i := range c.cache {
			c.cache[i] = 0xff
		}
		if start := block * PageSize; start < len(c.Data) {
			copy(c.cache, c.Data[start:])
		}
		c.busy = c.BusyPolls
	}

	c.cmd = nil
}

// PageReads returns the blocks loaded into the cache so far.
func (c *Chip) PageReads() []int {
	var blocks []int
	for _, m := range c.Commands {
		if m[0] == 0x13 && len(m) >= 4 {
			blocks = append(blocks, int(m[1])<<16|int(m[2])<<8|int(m[3]))
		}
	}
	return blocks
}

// CacheReads returns the byte counts of the read from cache commands.
func (c *Chip) CacheReads() []int {
	var sizes []int
	for _, m := range c.Commands {
		if m[0] == 0x0b && len(m) >= 4 {
			sizes = append(sizes, len(m)-4)
		}
	}
	return sizes
}

func (c *Chip) String() string {
	return "spiflashtest"
}

func (c *Chip) Duplex() conn.Duplex {
	return conn.Full
}

func (c *Chip) Tx(w, r []byte) error {
	c.exchange(w, r)
	c.Deselect()
	return nil
}

func (c *Chip) exchange(w, r []byte) {
	n := len(w)
	if len(r) > n {
		n = len(r)
	}

	for i := 0; i < n; i++ {
		var b byte
		if i < len(w) {
			b = w[i]
		}
		out := c.Shift(b)
		if i < len(r) {
			r[i] = out
		}
	}
}

func (c *Chip) TxPackets(p []spi.Packet) error {
	for _, m := range p {
		c.exchange(m.W, m.R)
		if !m.KeepCS {
			c.Deselect()
		}
	}
	c.Deselect()
	return nil
}
