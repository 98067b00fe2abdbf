package fel

import "fmt"

const maxChunk = 64 * 1024

func (c *Conn) read(addr uint32, buf []byte) error {
	if err := c.request(cmdRead, addr, len(buf)); err != nil {
		return err
	}
	if err := c.usbRead(buf); err != nil {
		return err
	}
	return c.status()
}

func (c *Conn) write(addr uint32, buf []byte) error {
	if err := c.request(cmdWrite, addr, len(buf)); err != nil {
		return err
	}
	if err := c.usbWrite(buf); err != nil {
		return err
	}
	return c.status()
}

// chunked hands buf to f in pieces the boot ROM accepts in a single request.
func chunked(addr uint32, buf []byte, f func(addr uint32, chunk []byte) error) error {
	for done := 0; done < len(buf); done += maxChunk {
		chunk := buf[done:min(done+maxChunk, len(buf))]
		if err := f(addr+uint32(done), chunk); err != nil {
			return fmt.Errorf("%08x: %w", addr+uint32(done), err)
		}
	}
	return nil
}

// ReadMemory copies device memory at addr into buf. The boot ROM copies
// bytewise, use ReadL for peripheral registers.
func (c *Conn) ReadMemory(addr uint32, buf []byte) error {
	c.log("Read %d bytes from %08x", len(buf), addr)
	return chunked(addr, buf, c.read)
}

func (c *Conn) WriteMemory(addr uint32, buf []byte) error {
	c.log("Write %d bytes to %08x", len(buf), addr)
	return chunked(addr, buf, c.write)
}

// Execute calls the code at addr and returns once it has returned.
func (c *Conn) Execute(addr uint32) error {
	c.log("Execute %08x", addr)
	if err := c.request(cmdExec, addr, 0); err != nil {
		return err
	}
	return c.status()
}
