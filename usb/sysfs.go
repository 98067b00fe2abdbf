package usb

import (
	"errors"
	"fmt"
	"os"
	"path"
	"strconv"
	"strings"
)

var sysfsDevices = "/sys/bus/usb/devices"

type sysfsDevice struct {
	path         string
	bus, address int
	vid, pid     uint16
}

func (d sysfsDevice) node() string {
	return fmt.Sprintf("/dev/bus/usb/%03d/%03d", d.bus, d.address)
}

func readAttr(file string) (string, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func readHex(file string) (uint16, error) {
	data, err := readAttr(file)
	if err != nil {
		return 0, err
	}

	if len(data) < 4 {
		return 0, errors.New("vid/pid entry is too short")
	}

	result, err := strconv.ParseUint(data[:4], 16, 16)
	return uint16(result), err
}

func readDec(file string) (int, error) {
	data, err := readAttr(file)
	if err != nil {
		return 0, err
	}

	result, err := strconv.ParseUint(data, 10, 16)
	return int(result), err
}

func findDevices(root string, sel Selector) ([]sysfsDevice, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}

	var results []sysfsDevice
	for _, m := range entries {
		name := m.Name()

		/* Interfaces look like 1-1:1.0, we only want devices */
		if strings.Contains(name, ":") {
			continue
		}
		dev := path.Join(root, name)

		vendorID, err := readHex(dev + "/idVendor")
		if err != nil {
			continue
		}
		productID, _ := readHex(dev + "/idProduct")

		bus, err := readDec(dev + "/busnum")
		if err != nil {
			continue
		}
		address, err := readDec(dev + "/devnum")
		if err != nil {
			continue
		}

		if !sel.Match(bus, address, vendorID, productID) {
			continue
		}

		results = append(results, sysfsDevice{
			path:    dev,
			bus:     bus,
			address: address,
			vid:     vendorID,
			pid:     productID,
		})
	}

	return results, nil
}

func findDevice(root string, sel Selector) (sysfsDevice, error) {
	devs, err := findDevices(root, sel)
	if err != nil {
		return sysfsDevice{}, err
	}
	if len(devs) == 0 {
		return sysfsDevice{}, ErrorNotFound
	}
	if len(devs) > 1 {
		return sysfsDevice{}, ErrorAmbiguous
	}
	return devs[0], nil
}

/* bulkEndpoints returns the endpoint addresses of the first interface */
func bulkEndpoints(d sysfsDevice) (in uint8, out uint8, err error) {
	intf := path.Join(d.path, path.Base(d.path)+":1.0")

	entries, err := os.ReadDir(intf)
	if err != nil {
		return 0, 0, err
	}

	for _, m := range entries {
		name := m.Name()
		if !strings.HasPrefix(name, "ep_") {
			continue
		}

		addr, err := strconv.ParseUint(name[3:], 16, 8)
		if err != nil {
			continue
		}
		if kind, err := readAttr(path.Join(intf, name, "type")); err == nil && kind != "Bulk" {
			continue
		}

		if addr&0x80 != 0 {
			in = uint8(addr)
		} else {
			out = uint8(addr)
		}
	}

	if in == 0 || out == 0 {
		return 0, 0, fmt.Errorf("device %s has no bulk endpoint pair", d.node())
	}
	return in, out, nil
}
