// Package usb opens the bulk pipe of an Allwinner SoC in FEL mode, either
// directly through Linux usbfs or through libusb.
package usb

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	VendorID  uint16 = 0x1f3a
	ProductID uint16 = 0xefe8

	maxTransfer = 512 * 1024
	timeout     = 10 * time.Second
)

var (
	ErrorNotFound  = errors.New("no USB device in FEL mode was found")
	ErrorAmbiguous = errors.New("found more than one USB device in FEL mode")
	ErrorSelector  = errors.New("invalid device selector")
	ErrorShort     = errors.New("short transfer")
)

type Error struct {
	Op  string
	Err error
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Error() string {
	return "usb: " + e.Op + ": " + e.Err.Error()
}

func wrapErr(op string, err *error) {
	if *err != nil {
		*err = &Error{op, *err}
	}
}

// Selector picks one device. The zero value matches every FEL device.
type Selector struct {
	Bus, Address int
	VID, PID     uint16
}

// ParseSelector accepts "" (any FEL device), BUS:DEV in decimal or
// VVVV:PPPP in hexadecimal. Two fields of exactly four hex digits are
// always VID:PID, so "0001:0005" is not bus 1 device 5; write "1:5".
func ParseSelector(s string) (Selector, error) {
	sel := Selector{VID: VendorID, PID: ProductID}
	if s == "" {
		return sel, nil
	}

	a, b, ok := strings.Cut(s, ":")
	if !ok || a == "" || b == "" {
		return sel, fmt.Errorf("%w: %q", ErrorSelector, s)
	}

	if len(a) == 4 && len(b) == 4 {
		vid, err1 := strconv.ParseUint(a, 16, 16)
		pid, err2 := strconv.ParseUint(b, 16, 16)
		if err1 == nil && err2 == nil {
			return Selector{VID: uint16(vid), PID: uint16(pid)}, nil
		}
	}

	bus, err1 := strconv.ParseUint(a, 10, 8)
	dev, err2 := strconv.ParseUint(b, 10, 8)
	if err1 != nil || err2 != nil {
		return sel, fmt.Errorf("%w: %q", ErrorSelector, s)
	}
	sel.Bus, sel.Address = int(bus), int(dev)
	return sel, nil
}

func (s Selector) Match(bus, address int, vid, pid uint16) bool {
	if s.Bus != 0 && (bus != s.Bus || address != s.Address) {
		return false
	}
	if s.VID != 0 && vid != s.VID {
		return false
	}
	if s.PID != 0 && pid != s.PID {
		return false
	}
	return true
}

func (s Selector) String() string {
	if s.Bus != 0 {
		return fmt.Sprintf("%03d:%03d", s.Bus, s.Address)
	}
	return fmt.Sprintf("%04x:%04x", s.VID, s.PID)
}

/* chunks calls f with pieces of p no larger than maxTransfer */
func chunks(p []byte, f func(p []byte) (int, error)) error {
	for len(p) > 0 {
		n := len(p)
		if n > maxTransfer {
			n = maxTransfer
		}

		done, err := f(p[:n])
		if err != nil {
			return err
		}
		if done != n {
			return fmt.Errorf("%w: %d of %d bytes", ErrorShort, done, n)
		}
		p = p[n:]
	}
	return nil
}
