// Package fel talks to the USB boot mode (FEL) of the Allwinner boot ROM.
// FEL can read and write any memory address and call code; everything else
// in this tool is built on those three operations.
package fel

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// Transport moves raw bulk transfers to and from the FEL device.
type Transport interface {
	BulkSend(data []byte) error
	BulkRecv(data []byte) error
	Close() error
}

const (
	usbRead  uint16 = 0x11
	usbWrite uint16 = 0x12

	cmdVersion uint32 = 0x001
	cmdWrite   uint32 = 0x101
	cmdExec    uint32 = 0x102
	cmdRead    uint32 = 0x103
)

var (
	ErrorResponse   = errors.New("fel: invalid USB response")
	ErrorVersion    = errors.New("fel: invalid version response")
	ErrorUnknownSoC = errors.New("fel: unknown SoC")
)

// StatusError is returned when the boot ROM reports a failed USB transfer.
type StatusError struct {
	Status uint8
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fel: transfer failed with status %d", e.Status)
}

type Version struct {
	SoCID      uint16
	Firmware   uint32
	Protocol   uint16
	Scratchpad uint32
}

type Conn struct {
	t       Transport
	version Version

	LogFunc func(format string, params ...any)
}

func (c *Conn) log(format string, params ...any) {
	if c.LogFunc != nil {
		c.LogFunc(format, params...)
	}
}

// New queries the boot ROM version over t.
func New(t Transport) (*Conn, error) {
	c := &Conn{t: t}

	v, err := c.readVersion()
	if err != nil {
		return nil, err
	}
	c.version = v

	return c, nil
}

func (c *Conn) Close() error {
	return c.t.Close()
}

func (c *Conn) Version() Version {
	return c.version
}

// SoC returns the memory layout of the connected chip.
func (c *Conn) SoC() (SoC, error) {
	soc, ok := SoCLookup(c.version.SoCID)
	if !ok {
		return soc, fmt.Errorf("%w: %04x", ErrorUnknownSoC, c.version.SoCID)
	}
	return soc, nil
}

func (c *Conn) usbRequest(request uint16, length int) error {
	var req [32]byte
	copy(req[:], "AWUC")
	binary.LittleEndian.PutUint32(req[8:], uint32(length))
	binary.LittleEndian.PutUint32(req[12:], 0x0c000000)
	binary.LittleEndian.PutUint16(req[16:], request)
	binary.LittleEndian.PutUint32(req[18:], uint32(length))

	return c.t.BulkSend(req[:])
}

func (c *Conn) usbResponse() error {
	var resp [13]byte
	if err := c.t.BulkRecv(resp[:]); err != nil {
		return err
	}

	if !bytes.Equal(resp[:4], []byte("AWUS")) {
		return fmt.Errorf("%w: % x", ErrorResponse, resp[:4])
	}
	if resp[12] != 0 {
		return &StatusError{Status: resp[12]}
	}
	return nil
}

func (c *Conn) usbWrite(data []byte) error {
	if err := c.usbRequest(usbWrite, len(data)); err != nil {
		return err
	}
	if err := c.t.BulkSend(data); err != nil {
		return err
	}
	return c.usbResponse()
}

func (c *Conn) usbRead(data []byte) error {
	if err := c.usbRequest(usbRead, len(data)); err != nil {
		return err
	}
	if err := c.t.BulkRecv(data); err != nil {
		return err
	}
	return c.usbResponse()
}

func (c *Conn) request(cmd uint32, addr uint32, length int) error {
	var req [16]byte
	binary.LittleEndian.PutUint32(req[0:], cmd)
	binary.LittleEndian.PutUint32(req[4:], addr)
	binary.LittleEndian.PutUint32(req[8:], uint32(length))

	return c.usbWrite(req[:])
}

func (c *Conn) status() error {
	var status [8]byte
	return c.usbRead(status[:])
}

func (c *Conn) readVersion() (Version, error) {
	var v Version

	if err := c.request(cmdVersion, 0, 0); err != nil {
		return v, err
	}

	var buf [32]byte
	if err := c.usbRead(buf[:]); err != nil {
		return v, err
	}
	if err := c.status(); err != nil {
		return v, err
	}

	if !bytes.Equal(buf[:8], []byte("AWUSBFEX")) {
		return v, fmt.Errorf("%w: %q", ErrorVersion, buf[:8])
	}

	v.SoCID = uint16(binary.LittleEndian.Uint32(buf[8:]) >> 8)
	v.Firmware = binary.LittleEndian.Uint32(buf[12:])
	v.Protocol = binary.LittleEndian.Uint16(buf[16:])
	v.Scratchpad = binary.LittleEndian.Uint32(buf[20:])

	return v, nil
}
