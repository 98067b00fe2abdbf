package fel

import "fmt"

// SoC describes where free SRAM is on a chip while the boot ROM runs FEL.
// The region [SPLAddr, ScratchAddr) is where an SPL would be loaded and can
// be borrowed as a data buffer, ScratchAddr is where helper code runs.
type SoC struct {
	ID          uint16
	Name        string
	SPLAddr     uint32
	ScratchAddr uint32
}

// SoCs lists the chips with a known SRAM layout.
var SoCs = []SoC{
	{ID: 0x1623, Name: "A10", ScratchAddr: 0x1000},
	{ID: 0x1625, Name: "A13", ScratchAddr: 0x1000},
	{ID: 0x1651, Name: "A20", ScratchAddr: 0x1000},
	{ID: 0x1663, Name: "F1C100s", ScratchAddr: 0x1000},
	{ID: 0x1680, Name: "H3", ScratchAddr: 0x1000},
	{ID: 0x1689, Name: "A64", SPLAddr: 0x10000, ScratchAddr: 0x11000},
	{ID: 0x1718, Name: "H5", SPLAddr: 0x10000, ScratchAddr: 0x11000},
}

func SoCLookup(id uint16) (SoC, bool) {
	for _, m := range SoCs {
		if m.ID == id {
			return m, true
		}
	}
	return SoC{ID: id}, false
}

// BufferSize is the size of the borrowed SRAM region.
func (s SoC) BufferSize() int {
	return int(s.ScratchAddr - s.SPLAddr)
}

func (s SoC) String() string {
	if s.Name == "" {
		return fmt.Sprintf("unknown SoC %04x", s.ID)
	}
	return fmt.Sprintf("%s (%04x)", s.Name, s.ID)
}
