package sunxispi

import (
	"errors"
	"time"
)

const (
	portC = 2

	gpioBase          = 0x01c20800
	ccmAHBGating0     = 0x01c20060
	ccmAHBGateSPI0    = 1 << 20
	ccmSPI0Clk        = 0x01c200a0
	ccmPLL6           = 0x01c20028
	ccmAHBAPBConfig   = 0x01c20054
	sun6iBusSoftRst0  = 0x01c202c0
	sun6iSPI0Rst      = 1 << 20
	sun6iGcrSRST      = 1 << 31
	sun6iGcrMasterEn  = 3
	sun6iTcrXCH       = 1 << 31
	sun4iCtlEnable    = 1 << 0
	sun4iCtlMaster    = 1 << 1
	sun4iCtlTFRst     = 1 << 8
	sun4iCtlRFRst     = 1 << 9
	sun4iCtlXCH       = 1 << 10
	clkDivBy4         = 0x1001
	clkDivBy32        = 0x100f
	clkSrcOsc24M      = 1 << 31
	pll6At600MHz      = 0x80041400
	ahbAt200MHz       = 0x00003180
	defaultResetLimit = 100 * time.Millisecond
)

var ErrTimeout = errors.New("sunxispi: timeout")

func (s *Session) setPinFunction(port, pin int, function uint32) error {
	reg := uint32(gpioBase + port*0x24 + 4*(pin/8))
	shift := uint32(pin%8) * 4

	x, err := s.readl(reg)
	if err != nil {
		return err
	}
	x &^= 0x7 << shift
	x |= function << shift
	return s.writel(reg, x)
}

func (s *Session) setBits(reg uint32, bits uint32) error {
	x, err := s.readl(reg)
	if err != nil {
		return err
	}
	return s.writel(reg, x|bits)
}

func (s *Session) waitReset(maxDuration time.Duration) error {
	gcr := s.profile.GlobalControl()

	timeout := time.Now().Add(maxDuration)
	for {
		x, err := s.readl(gcr)
		if err != nil {
			return err
		}
		if x&sun6iGcrSRST == 0 {
			return nil
		}
		if !time.Now().Before(timeout) {
			return ErrTimeout
		}
	}
}

/* bringUp muxes PC0..PC3, clocks the controller and resets it into master
 * mode. Every step can be repeated. */
func (s *Session) bringUp() error {
	p := s.profile

	for pin := 0; pin < 4; pin++ {
		if err := s.setPinFunction(portC, pin, p.PinFunction); err != nil {
			return err
		}
	}

	if err := s.setBits(ccmAHBGating0, ccmAHBGateSPI0); err != nil {
		return err
	}

	if p.legacy() {
		if err := s.setBits(p.Control(), sun4iCtlMaster|sun4iCtlEnable|sun4iCtlTFRst|sun4iCtlRFRst); err != nil {
			return err
		}
	} else {
		if err := s.setBits(sun6iBusSoftRst0, sun6iSPI0Rst); err != nil {
			return err
		}
		if err := s.setBits(p.GlobalControl(), sun6iGcrSRST|sun6iGcrMasterEn); err != nil {
			return err
		}
		if err := s.waitReset(s.resetTimeout); err != nil {
			return err
		}
	}

	if p.Clock == ClockAHB {
		/* No module clock, run the AHB at 200 MHz from a 600 MHz PLL6 */
		if err := s.writel(ccmPLL6, pll6At600MHz); err != nil {
			return err
		}
		if err := s.writel(ccmAHBAPBConfig, ahbAt200MHz); err != nil {
			return err
		}
		if err := s.writel(p.ClockControl(), clkDivBy32); err != nil {
			return err
		}
	} else {
		if err := s.writel(ccmSPI0Clk, clkSrcOsc24M); err != nil {
			return err
		}
		if err := s.writel(p.ClockControl(), clkDivBy4); err != nil {
			return err
		}
	}

	s.log("SPI0 of %v running at %v", p, p.Frequency())
	return nil
}
