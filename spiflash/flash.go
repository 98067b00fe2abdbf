// Package spiflash identifies and reads SPI NAND flash with a page cache,
// over any periph SPI connection.
package spiflash

import (
	"errors"
	"fmt"
	"time"

	"periph.io/x/conn/v3/spi"
)

const (
	PageSize = 2048

	opcodeJEDECID       = 0x9f
	opcodeGetFeature    = 0x0f
	opcodePageRead      = 0x13
	opcodeReadFromCache = 0x0b

	featureStatus = 0xc0
	statusBusy    = 1 << 0

	defaultBusyTimeout = 500 * time.Millisecond
)

var (
	ErrNotFound   = errors.New("SPI flash not found")
	ErrTimeout    = errors.New("SPI flash stays busy")
	ErrOutOfRange = errors.New("offset is past the end of the flash")
	ErrTxTooSmall = errors.New("connection cannot carry a read from cache command")
)

// UnsupportedError is returned for a chip that answered with an id that is
// not in the device table.
type UnsupportedError struct {
	Manufacturer uint8
	Device       uint16
}

func (e *UnsupportedError) Error() string {
	return fmt.Sprintf("SPI flash not recognized (%02x:%04x)", e.Manufacturer, e.Device)
}

// Progress is told the size of a read up front and then every chunk done.
type Progress interface {
	Start(total int)
	Update(n int)
}

type Flash struct {
	conn spi.Conn

	info       Info
	identified bool

	busyTimeout time.Duration
	progress    Progress
	logFunc     func(format string, params ...any)
}

type Option func(*Flash)

func WithLogFunc(f func(format string, params ...any)) Option {
	return func(fl *Flash) {
		fl.logFunc = f
	}
}

// WithBusyTimeout bounds the wait for a page to reach the cache.
func WithBusyTimeout(d time.Duration) Option {
	return func(fl *Flash) {
		fl.busyTimeout = d
	}
}

func WithProgress(p Progress) Option {
	return func(fl *Flash) {
		fl.progress = p
	}
}

func New(conn spi.Conn, opts ...Option) *Flash {
	f := &Flash{
		conn:        conn,
		busyTimeout: defaultBusyTimeout,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *Flash) log(format string, params ...any) {
	if f.logFunc != nil {
		f.logFunc(format, params...)
	}
}

// ReadID returns the raw JEDEC ids. The device id is sent low byte first.
func (f *Flash) ReadID() (uint8, uint16, error) {
	buf := []byte{opcodeJEDECID, 0, 0, 0}
	if err := f.conn.Tx(buf, buf); err != nil {
		return 0, 0, err
	}

	return buf[1], uint16(buf[2]) | uint16(buf[3])<<8, nil
}

// Identify looks the chip up in the device table. It returns ErrNotFound
// when nothing drives MISO and *UnsupportedError for an unknown chip.
func (f *Flash) Identify() (Info, error) {
	manufacturer, device, err := f.ReadID()
	if err != nil {
		return Info{}, err
	}

	/* A floating MISO reads as all zeros or all ones */
	if device == 0x0000 || device == 0xffff {
		return Info{}, ErrNotFound
	}

	info, ok := deviceLookup(manufacturer, device)
	if !ok {
		return Info{}, &UnsupportedError{Manufacturer: manufacturer, Device: device}
	}

	f.info = info
	f.identified = true
	return info, nil
}

func (f *Flash) GetFeature(addr uint8) (uint8, error) {
	buf := []byte{opcodeGetFeature, addr, 0}
	if err := f.conn.Tx(buf, buf); err != nil {
		return 0, err
	}
	return buf[2], nil
}

func (f *Flash) waitIdle(maxDuration time.Duration) error {
	timeout := time.Now().Add(maxDuration)
	for {
		status, err := f.GetFeature(featureStatus)
		if err != nil {
			return err
		}
		if status&statusBusy == 0 {
			return nil
		}
		if !time.Now().Before(timeout) {
			return ErrTimeout
		}
	}
}

func (f *Flash) maxData() int {
	n := PageSize
	if l, ok := f.conn.(interface{ MaxTxSize() int }); ok {
		if m := l.MaxTxSize() - 4; m < n {
			n = m
		}
	}
	return n
}

func (f *Flash) read(offset uint32, data []byte) (int, error) {
	block := offset / PageSize

	cmd := []byte{opcodePageRead, byte(block >> 16), byte(block >> 8), byte(block)}
	if err := f.conn.Tx(cmd, nil); err != nil {
		return 0, err
	}

	if err := f.waitIdle(f.busyTimeout); err != nil {
		return 0, fmt.Errorf("page %d: %w", block, err)
	}

	/* Do not read over page boundary */
	n := pageCrossLength(offset, PageSize)
	if n > f.maxData() {
		n = f.maxData()
	}
	if len(data) > n {
		data = data[:n]
	}

	pageAddr := offset % PageSize
	buf := make([]byte, 4+len(data))
	buf[0] = opcodeReadFromCache
	buf[1] = byte(pageAddr >> 8)
	buf[2] = byte(pageAddr)

	if err := f.conn.Tx(buf, buf); err != nil {
		return 0, err
	}
	copy(data, buf[4:])

	if f.progress != nil {
		f.progress.Update(len(data))
	}
	return len(data), nil
}

// Read fills data from offset. Reads past the end of the chip are cut
// short, the returned count says how much was read.
func (f *Flash) Read(offset uint32, data []byte) (int, error) {
	if !f.identified {
		if _, err := f.Identify(); err != nil {
			return 0, err
		}
	}

	if offset >= f.info.Capacity {
		return 0, fmt.Errorf("%w: %#x", ErrOutOfRange, offset)
	}
	if uint64(offset)+uint64(len(data)) > uint64(f.info.Capacity) {
		f.log("Truncating read to flash size")
		data = data[:f.info.Capacity-offset]
	}

	/* Command and address take 4 bytes of every cache read */
	if f.maxData() < 1 {
		return 0, ErrTxTooSmall
	}

	if f.progress != nil {
		f.progress.Start(len(data))
	}
	return completeIO(offset, data, f.read)
}

func (f *Flash) Info() (Info, bool) {
	return f.info, f.identified
}
