package fel

import (
	"encoding/binary"

	"github.com/BertoldVdb/felspiflash/armasm"
)

/* Register helpers live at the scratch address:
 *   +0 result word
 *   +4 code, followed by its literal pool
 * They overwrite whatever code was placed there before. */

func readLCode(origin uint32, addr uint32) ([]byte, error) {
	a := armasm.New(origin)
	a.LoadConst(armasm.R0, addr)
	a.Ldr(armasm.R1, armasm.R0, 0)
	a.LoadConst(armasm.R2, origin-4)
	a.Str(armasm.R1, armasm.R2, 0)
	a.Bx(armasm.LR)
	return a.Bytes()
}

func writeLCode(origin uint32, addr uint32, value uint32) ([]byte, error) {
	a := armasm.New(origin)
	a.LoadConst(armasm.R0, addr)
	a.LoadConst(armasm.R1, value)
	a.Str(armasm.R1, armasm.R0, 0)
	a.Bx(armasm.LR)
	return a.Bytes()
}

func (c *Conn) scratch() (uint32, error) {
	soc, err := c.SoC()
	if err != nil {
		return 0, err
	}
	return soc.ScratchAddr, nil
}

// ReadL performs a single 32-bit load on the device.
func (c *Conn) ReadL(addr uint32) (uint32, error) {
	scratch, err := c.scratch()
	if err != nil {
		return 0, err
	}

	code, err := readLCode(scratch+4, addr)
	if err != nil {
		return 0, err
	}

	/* Result word is cleared and uploaded together with the code */
	if err := c.WriteMemory(scratch, append(make([]byte, 4), code...)); err != nil {
		return 0, err
	}
	if err := c.Execute(scratch + 4); err != nil {
		return 0, err
	}

	var result [4]byte
	if err := c.ReadMemory(scratch, result[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(result[:]), nil
}

// WriteL performs a single 32-bit store on the device.
func (c *Conn) WriteL(addr uint32, value uint32) error {
	scratch, err := c.scratch()
	if err != nil {
		return err
	}

	code, err := writeLCode(scratch+4, addr, value)
	if err != nil {
		return err
	}

	if err := c.WriteMemory(scratch+4, code); err != nil {
		return err
	}
	return c.Execute(scratch + 4)
}
