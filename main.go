package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/BertoldVdb/felspiflash/fel"
	"github.com/BertoldVdb/felspiflash/sunxispi"
	"github.com/BertoldVdb/felspiflash/usb"
	"github.com/golang/glog"
	"github.com/spf13/cobra"
)

var (
	flagDevice       string
	flagBackend      string
	flagBusyTimeout  time.Duration
	flagResetTimeout time.Duration
)

var rootCmd = &cobra.Command{
	Use:          "felspiflash",
	Short:        "Read SPI flash on Allwinner boards in FEL mode",
	Long:         "Access the SPI flash attached to SPI0 of an Allwinner SoC that is waiting in FEL (USB boot) mode, without any code on the board.",
	SilenceUsage: true,
}

type app struct {
	fel *fel.Conn
	soc fel.SoC
}

func openTransport() (fel.Transport, error) {
	sel, err := usb.ParseSelector(flagDevice)
	if err != nil {
		return nil, err
	}

	switch flagBackend {
	case "usbfs":
		return usb.OpenUSBFS(sel)
	case "libusb":
		return usb.OpenLibUSB(sel)
	}
	return nil, fmt.Errorf("unknown backend %q", flagBackend)
}

func newApp() (*app, error) {
	t, err := openTransport()
	if err != nil {
		return nil, err
	}

	conn, err := fel.New(t)
	if err != nil {
		t.Close()
		return nil, fmt.Errorf("failed to talk to the boot ROM: %w", err)
	}
	conn.LogFunc = glog.V(2).Infof

	a := &app{fel: conn}
	a.soc, _ = fel.SoCLookup(conn.Version().SoCID)
	glog.V(1).Infof("Connected to %v", a.soc)

	return a, nil
}

func (a *app) close() {
	if err := a.fel.Close(); err != nil {
		glog.Warningf("Closing device: %v", err)
	}
}

func (a *app) session(fn func(s *sunxispi.Session) error) error {
	return sunxispi.Run(a.fel, a.soc.ID, fn,
		sunxispi.WithLogFunc(glog.V(1).Infof),
		sunxispi.WithResetTimeout(flagResetTimeout))
}

func parseNumber(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q", s)
	}
	return uint32(v), nil
}

func main() {
	flag.Set("logtostderr", "true")
	rootCmd.PersistentFlags().AddGoFlagSet(flag.CommandLine)

	rootCmd.PersistentFlags().StringVarP(&flagDevice, "device", "d", "", "FEL device as decimal BUS:DEV or hex VVVV:PPPP (4+4 digits are always VID:PID), empty for the only one present")
	rootCmd.PersistentFlags().StringVar(&flagBackend, "backend", "usbfs", "USB access method: usbfs or libusb")
	rootCmd.PersistentFlags().DurationVar(&flagBusyTimeout, "busy-timeout", 500*time.Millisecond, "Maximum time the flash may stay busy after a page read")
	rootCmd.PersistentFlags().DurationVar(&flagResetTimeout, "reset-timeout", 100*time.Millisecond, "Maximum time the SPI controller may take to reset")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(spiflashInfoCmd)
	rootCmd.AddCommand(spiflashReadCmd)
	rootCmd.AddCommand(spiflashWriteCmd)

	err := rootCmd.Execute()
	glog.Flush()
	if err != nil {
		os.Exit(1)
	}
}
