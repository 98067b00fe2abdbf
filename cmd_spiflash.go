package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/BertoldVdb/felspiflash/spiflash"
	"github.com/BertoldVdb/felspiflash/sunxispi"
	"github.com/golang/glog"
	"github.com/snksoft/crc"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show the boot ROM version and SoC",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp()
		if err != nil {
			return err
		}
		defer app.close()

		v := app.fel.Version()
		fmt.Printf("%v, firmware %08x, protocol %04x, scratchpad %08x\n", app.soc, v.Firmware, v.Protocol, v.Scratchpad)
		if app.soc.Name != "" {
			fmt.Printf("SRAM buffer %08x-%08x\n", app.soc.SPLAddr, app.soc.ScratchAddr)
		}
		return nil
	},
}

func identify(f *spiflash.Flash) (spiflash.Info, error) {
	info, err := f.Identify()

	var ue *spiflash.UnsupportedError
	switch {
	case errors.Is(err, spiflash.ErrNotFound):
		fmt.Println("SPI Flash not found")
	case errors.As(err, &ue):
		fmt.Println(ue)
	}
	return info, err
}

func newFlash(s *sunxispi.Session, opts ...spiflash.Option) *spiflash.Flash {
	opts = append([]spiflash.Option{
		spiflash.WithLogFunc(glog.Infof),
		spiflash.WithBusyTimeout(flagBusyTimeout),
	}, opts...)
	return spiflash.New(s, opts...)
}

var spiflashInfoCmd = &cobra.Command{
	Use:   "spiflash-info",
	Short: "Retrieves basic information",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp()
		if err != nil {
			return err
		}
		defer app.close()

		var info spiflash.Info
		err = app.session(func(s *sunxispi.Session) error {
			info, err = identify(newFlash(s))
			return err
		})
		if err != nil {
			return err
		}

		fmt.Printf("Device: %v.\n", info)
		return nil
	},
}

type glogProgress struct {
	total, done int
	step        int
}

func (p *glogProgress) Start(total int) {
	p.total, p.done, p.step = total, 0, 0
}

func (p *glogProgress) Update(n int) {
	p.done += n
	if p.total == 0 {
		return
	}

	/* One line per 5% */
	if step := p.done * 20 / p.total; step != p.step || p.done == p.total {
		p.step = step
		glog.Infof("%.2f%%...", float32(p.done)*100/float32(p.total))
	}
}

// clipLength limits a read of length bytes at addr to the end of the chip.
func clipLength(info spiflash.Info, addr, length uint32) (uint32, error) {
	if addr >= info.Capacity {
		return 0, fmt.Errorf("%w: %#x", spiflash.ErrOutOfRange, addr)
	}
	if left := info.Capacity - addr; length > left {
		glog.Warningf("Flash ends at %08x, reading %d bytes", info.Capacity, left)
		return left, nil
	}
	return length, nil
}

var spiflashReadCmd = &cobra.Command{
	Use:   "spiflash-read [addr] [length] [file]",
	Short: "Write SPI flash contents into file",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, err := parseNumber(args[0])
		if err != nil {
			return err
		}
		length, err := parseNumber(args[1])
		if err != nil {
			return err
		}

		app, err := newApp()
		if err != nil {
			return err
		}
		defer app.close()

		var buf []byte
		err = app.session(func(s *sunxispi.Session) error {
			f := newFlash(s, spiflash.WithProgress(&glogProgress{}))
			info, err := identify(f)
			if err != nil {
				return err
			}

			clipped, err := clipLength(info, addr, length)
			if err != nil {
				return err
			}

			buf = make([]byte, clipped)
			n, err := f.Read(addr, buf)
			buf = buf[:n]
			return err
		})
		if err != nil {
			return err
		}
		n := len(buf)

		if err := os.WriteFile(args[2], buf, 0644); err != nil {
			return err
		}
		glog.Infof("Read %d bytes from %08x, crc32 %08x", n, addr, crc.CalculateCRC(crc.CRC32, buf))
		return nil
	},
}

var spiflashWriteCmd = &cobra.Command{
	Use:   "spiflash-write [addr] [file]",
	Short: "Store file contents into SPI flash",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return errors.New("writing SPI flash is not supported yet")
	},
}
