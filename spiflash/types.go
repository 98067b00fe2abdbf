package spiflash

import "fmt"

// Info describes a supported flash chip.
type Info struct {
	ManufacturerID uint8
	DeviceID       uint16
	Name           string

	WriteEnable    uint8
	LargeEraseCmd  uint8
	LargeEraseSize uint32
	SmallEraseCmd  uint8
	SmallEraseSize uint32
	ProgramCmd     uint8
	ProgramSize    uint32

	Capacity uint32
}

func (i Info) String() string {
	return fmt.Sprintf("%s (%02Xh %04X), capacity: %d bytes", i.Name, i.ManufacturerID, i.DeviceID, i.Capacity)
}

/* The Winbond and Macronix entries have not been tried on hardware */
var devices = []Info{
	{ManufacturerID: 0x00, DeviceID: 0xe10b, Name: "XTX XT26G01A", WriteEnable: 0x06, LargeEraseCmd: 0xd8, LargeEraseSize: 64 * 1024, SmallEraseCmd: 0x20, SmallEraseSize: 4 * 1024, ProgramCmd: 0x02, ProgramSize: 256, Capacity: 0x8000000},
	{ManufacturerID: 0xef, DeviceID: 0x4018, Name: "Winbond W25Qxx", WriteEnable: 0x06, LargeEraseCmd: 0xd8, LargeEraseSize: 64 * 1024, SmallEraseCmd: 0x20, SmallEraseSize: 4 * 1024, ProgramCmd: 0x02, ProgramSize: 256, Capacity: 0x1000000},
	{ManufacturerID: 0xc2, DeviceID: 0x2018, Name: "Macronix MX25Lxxxx", WriteEnable: 0x06, LargeEraseCmd: 0xd8, LargeEraseSize: 64 * 1024, SmallEraseCmd: 0x20, SmallEraseSize: 4 * 1024, ProgramCmd: 0x02, ProgramSize: 256, Capacity: 0x1000000},
}

func deviceLookup(manufacturer uint8, device uint16) (Info, bool) {
	for _, m := range devices {
		if m.ManufacturerID == manufacturer && m.DeviceID == device {
			return m, true
		}
	}
	return Info{}, false
}
