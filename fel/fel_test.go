package fel

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"testing"
)

/* fakeDevice emulates the boot ROM side of the FEL protocol on top of a
 * sparse memory. Executed code is interpreted with a tiny A32 subset, which
 * is enough for the register helpers. */
type fakeDevice struct {
	t      *testing.T
	socID  uint16
	mem    map[uint32]byte
	status uint8

	pendingUSB  uint16
	pendingLen  uint32
	pendingFEL  *[3]uint32
	reads       [][]byte
	usbRequests int
	execs       []uint32
}

func newFakeDevice(t *testing.T, socID uint16) *fakeDevice {
	return &fakeDevice{t: t, socID: socID, mem: map[uint32]byte{}}
}

func (f *fakeDevice) read32(addr uint32) uint32 {
	var b [4]byte
	for i := range b {
		b[i] = f.mem[addr+uint32(i)]
	}
	return binary.LittleEndian.Uint32(b[:])
}

func (f *fakeDevice) write32(addr uint32, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	for i := range b {
		f.mem[addr+uint32(i)] = b[i]
	}
}

func (f *fakeDevice) awus() []byte {
	resp := make([]byte, 13)
	copy(resp, "AWUS")
	resp[12] = f.status
	return resp
}

func (f *fakeDevice) BulkSend(data []byte) error {
	if f.pendingUSB == 0 {
		if len(data) != 32 || string(data[:4]) != "AWUC" {
			return fmt.Errorf("expected AWUC, got % x", data)
		}
		f.usbRequests++
		f.pendingUSB = binary.LittleEndian.Uint16(data[16:])
		f.pendingLen = binary.LittleEndian.Uint32(data[8:])
		if l := binary.LittleEndian.Uint32(data[18:]); l != f.pendingLen {
			return fmt.Errorf("length mismatch %d != %d", l, f.pendingLen)
		}
		return nil
	}

	if f.pendingUSB != usbWrite || uint32(len(data)) != f.pendingLen {
		return fmt.Errorf("unexpected data for request %x", f.pendingUSB)
	}
	f.pendingUSB = 0
	f.reads = append(f.reads, f.awus())
	return f.felData(data)
}

func (f *fakeDevice) felData(data []byte) error {
	if f.pendingFEL != nil {
		addr := f.pendingFEL[1]
		f.pendingFEL = nil
		for i, m := range data {
			f.mem[addr+uint32(i)] = m
		}
		f.queueRead(make([]byte, 8))
		return nil
	}

	if len(data) != 16 {
		return fmt.Errorf("FEL request of %d bytes", len(data))
	}
	cmd := binary.LittleEndian.Uint32(data)
	addr := binary.LittleEndian.Uint32(data[4:])
	length := binary.LittleEndian.Uint32(data[8:])

	switch cmd {
	case cmdVersion:
		v := make([]byte, 32)
		copy(v, "AWUSBFEX")
		binary.LittleEndian.PutUint32(v[8:], uint32(f.socID)<<8)
		binary.LittleEndian.PutUint32(v[12:], 1)
		binary.LittleEndian.PutUint16(v[16:], 1)
		binary.LittleEndian.PutUint32(v[20:], 0x7e00)
		f.queueRead(v)
		f.queueRead(make([]byte, 8))
	case cmdWrite:
		f.pendingFEL = &[3]uint32{cmd, addr, length}
	case cmdRead:
		out := make([]byte, length)
		for i := range out {
			out[i] = f.mem[addr+uint32(i)]
		}
		f.queueRead(out)
		f.queueRead(make([]byte, 8))
	case cmdExec:
		f.execs = append(f.execs, addr)
		if err := f.exec(addr); err != nil {
			return err
		}
		f.queueRead(make([]byte, 8))
	default:
		return fmt.Errorf("unknown FEL command %x", cmd)
	}
	return nil
}

/* Data reads are preceded by their own AWUC request, the AWUS answer is
 * queued after the data. */
func (f *fakeDevice) queueRead(data []byte) {
	f.reads = append(f.reads, data)
}

func (f *fakeDevice) BulkRecv(data []byte) error {
	if f.pendingUSB == usbRead {
		f.pendingUSB = 0
		if len(f.reads) == 0 {
			return errors.New("nothing to read")
		}
		next := f.reads[0]
		f.reads = f.reads[1:]
		if len(next) != len(data) {
			return fmt.Errorf("read of %d bytes, device has %d", len(data), len(next))
		}
		copy(data, next)
		f.reads = append([][]byte{f.awus()}, f.reads...)
		return nil
	}

	if len(f.reads) == 0 || len(f.reads[0]) != len(data) {
		return fmt.Errorf("unexpected read of %d bytes", len(data))
	}
	copy(data, f.reads[0])
	f.reads = f.reads[1:]
	return nil
}

func (f *fakeDevice) Close() error {
	return nil
}

/* exec interprets ldr/str with immediate offsets and bx lr */
func (f *fakeDevice) exec(addr uint32) error {
	var r [16]uint32
	pc := addr

	for steps := 0; steps < 64; steps++ {
		w := f.read32(pc)
		switch {
		case w == 0xe12fff1e:
			return nil
		case w&0xfff00000 == 0xe5900000:
			rn, rd, off := (w>>16)&15, (w>>12)&15, w&0xfff
			base := r[rn]
			if rn == 15 {
				base = pc + 8
			}
			r[rd] = f.read32(base + off)
		case w&0xfff00000 == 0xe5800000:
			rn, rd, off := (w>>16)&15, (w>>12)&15, w&0xfff
			f.write32(r[rn]+off, r[rd])
		default:
			return fmt.Errorf("unsupported instruction %08x at %08x", w, pc)
		}
		pc += 4
	}
	return errors.New("helper did not return")
}

func TestVersion(t *testing.T) {
	dev := newFakeDevice(t, 0x1680)
	c, err := New(dev)
	if err != nil {
		t.Fatal(err)
	}

	v := c.Version()
	if v.SoCID != 0x1680 || v.Firmware != 1 || v.Protocol != 1 || v.Scratchpad != 0x7e00 {
		t.Errorf("Unexpected version %+v", v)
	}

	soc, err := c.SoC()
	if err != nil {
		t.Fatal(err)
	}
	if soc.Name != "H3" || soc.BufferSize() != 4096 {
		t.Errorf("Unexpected SoC %v", soc)
	}
}

func TestUnknownSoC(t *testing.T) {
	c, err := New(newFakeDevice(t, 0x1234))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.SoC(); !errors.Is(err, ErrorUnknownSoC) {
		t.Error("Unknown SoC accepted:", err)
	}
}

func TestStatusError(t *testing.T) {
	dev := newFakeDevice(t, 0x1680)
	dev.status = 2

	var se *StatusError
	if _, err := New(dev); !errors.As(err, &se) || se.Status != 2 {
		t.Error("Failed status not reported:", err)
	}
}

func TestMemory(t *testing.T) {
	dev := newFakeDevice(t, 0x1718)
	c, err := New(dev)
	if err != nil {
		t.Fatal(err)
	}

	data := make([]byte, maxChunk+100)
	for i := range data {
		data[i] = byte(i * 7)
	}

	dev.usbRequests = 0
	if err := c.WriteMemory(0x10000, data); err != nil {
		t.Fatal(err)
	}
	/* Two chunks, each is a request, the payload and a status */
	if dev.usbRequests != 6 {
		t.Errorf("Write used %d USB requests", dev.usbRequests)
	}

	back := make([]byte, len(data))
	if err := c.ReadMemory(0x10000, back); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(back, data) {
		t.Error("Memory read back differs")
	}
}

func TestChunked(t *testing.T) {
	var addrs []uint32
	var sizes []int
	err := chunked(0x20000, make([]byte, 2*maxChunk+1), func(addr uint32, chunk []byte) error {
		addrs = append(addrs, addr)
		sizes = append(sizes, len(chunk))
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(addrs) != 3 || addrs[1] != 0x20000+maxChunk || addrs[2] != 0x20000+2*maxChunk {
		t.Errorf("Chunks at %x", addrs)
	}
	if len(sizes) != 3 || sizes[0] != maxChunk || sizes[2] != 1 {
		t.Errorf("Chunk sizes %v", sizes)
	}

	if err := chunked(0, nil, func(uint32, []byte) error { return ErrorResponse }); err != nil {
		t.Error("Empty buffer was transferred:", err)
	}

	calls := 0
	err = chunked(0x100, make([]byte, 2*maxChunk), func(uint32, []byte) error {
		calls++
		return ErrorResponse
	})
	if !errors.Is(err, ErrorResponse) || calls != 1 {
		t.Errorf("Failed chunk after %d calls: %v", calls, err)
	}
}

func TestRegisters(t *testing.T) {
	for _, id := range []uint16{0x1625, 0x1689} {
		dev := newFakeDevice(t, id)
		c, err := New(dev)
		if err != nil {
			t.Fatal(err)
		}
		soc, _ := c.SoC()

		dev.write32(0x01c20800, 0xdeadbeef)
		v, err := c.ReadL(0x01c20800)
		if err != nil {
			t.Fatal(err)
		}
		if v != 0xdeadbeef {
			t.Errorf("ReadL returned %08x", v)
		}

		if err := c.WriteL(0x01c20804, 0x12345678); err != nil {
			t.Fatal(err)
		}
		if v := dev.read32(0x01c20804); v != 0x12345678 {
			t.Errorf("WriteL stored %08x", v)
		}

		for _, m := range dev.execs {
			if m != soc.ScratchAddr+4 {
				t.Errorf("Helper executed at %08x", m)
			}
		}
	}
}

func TestExecute(t *testing.T) {
	dev := newFakeDevice(t, 0x1680)
	c, err := New(dev)
	if err != nil {
		t.Fatal(err)
	}

	dev.write32(0x2000, 0xe12fff1e)
	if err := c.Execute(0x2000); err != nil {
		t.Fatal(err)
	}
	if len(dev.execs) != 1 || dev.execs[0] != 0x2000 {
		t.Errorf("Executed %x", dev.execs)
	}
}
