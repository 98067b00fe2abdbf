package sunxispi

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/BertoldVdb/felspiflash/relay"
	"github.com/snksoft/crc"
)

// Target is the remote memory and execution primitive, implemented by
// *fel.Conn.
type Target interface {
	ReadMemory(addr uint32, buf []byte) error
	WriteMemory(addr uint32, buf []byte) error
	Execute(addr uint32) error
	ReadL(addr uint32) (uint32, error)
	WriteL(addr uint32, value uint32) error
}

var (
	ErrTransactionTooLarge = errors.New("sunxispi: transaction too large")
	ErrRelayCorrupt        = errors.New("sunxispi: relay routine corrupted in SRAM")
	ErrClosed              = errors.New("sunxispi: session is closed")
)

var crcTable = crc.NewTable(crc.CRC32)

// Session owns the SRAM buffer of the SoC from Open until Close.
type Session struct {
	dev     Target
	profile Profile
	program relay.Program
	code    []byte
	backup  []byte

	relayInstalled bool
	closed         bool

	resetTimeout time.Duration
	logFunc      func(format string, params ...any)
}

type Option func(*Session)

func WithLogFunc(f func(format string, params ...any)) Option {
	return func(s *Session) {
		s.logFunc = f
	}
}

// WithResetTimeout bounds the wait for the controller soft reset.
func WithResetTimeout(d time.Duration) Option {
	return func(s *Session) {
		s.resetTimeout = d
	}
}

func (s *Session) log(format string, params ...any) {
	if s.logFunc != nil {
		s.logFunc(format, params...)
	}
}

// Open resolves the controller of soc, saves the SRAM buffer, brings up
// SPI0 and installs the relay routine. If anything after the save fails
// the buffer is restored before returning.
func Open(dev Target, soc uint16, opts ...Option) (*Session, error) {
	profile, err := Resolve(soc)
	if err != nil {
		return nil, err
	}

	s := &Session{
		dev:          dev,
		profile:      profile,
		program:      relay.Build(profile.RelayParams()),
		resetTimeout: defaultResetLimit,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.code, err = s.program.Assemble(profile.SRAM.ScratchAddr)
	if err != nil {
		return nil, err
	}

	s.backup = make([]byte, profile.SRAM.BufferSize())
	if err := dev.ReadMemory(profile.SRAM.SPLAddr, s.backup); err != nil {
		return nil, fmt.Errorf("sunxispi: failed to save SRAM: %w", err)
	}

	if err := s.bringUp(); err != nil {
		return nil, errors.Join(fmt.Errorf("sunxispi: bring-up failed: %w", err), s.Close())
	}
	if err := s.installRelay(); err != nil {
		return nil, errors.Join(err, s.Close())
	}

	return s, nil
}

// Run calls fn with an open session and always restores the SRAM buffer.
func Run(dev Target, soc uint16, fn func(s *Session) error, opts ...Option) error {
	s, err := Open(dev, soc, opts...)
	if err != nil {
		return err
	}

	return errors.Join(fn(s), s.Close())
}

// Close writes the saved SRAM buffer back. Calling it again does nothing.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	if err := s.dev.WriteMemory(s.profile.SRAM.SPLAddr, s.backup); err != nil {
		return fmt.Errorf("sunxispi: failed to restore SRAM: %w", err)
	}
	return nil
}

func (s *Session) Profile() Profile {
	return s.profile
}

// The register helpers share the scratch address with the relay routine.
func (s *Session) readl(addr uint32) (uint32, error) {
	s.relayInstalled = false
	return s.dev.ReadL(addr)
}

func (s *Session) writel(addr uint32, value uint32) error {
	s.relayInstalled = false
	return s.dev.WriteL(addr, value)
}

func checksum(data []byte) uint32 {
	h := crc.NewHashWithTable(crcTable)
	h.Update(data)
	return h.CRC32()
}

func (s *Session) installRelay() error {
	scratch := s.profile.SRAM.ScratchAddr

	if err := s.dev.WriteMemory(scratch, s.code); err != nil {
		return err
	}

	back := make([]byte, len(s.code))
	if err := s.dev.ReadMemory(scratch, back); err != nil {
		return err
	}
	if want, got := checksum(s.code), checksum(back); want != got {
		return fmt.Errorf("%w: crc %08x, want %08x", ErrRelayCorrupt, got, want)
	}

	s.relayInstalled = true
	s.log("Relay routine installed at %08x (%d bytes, crc %08x)", scratch, len(s.code), checksum(s.code))
	return nil
}

// MaxTxSize is the largest exchange the SRAM buffer can hold.
func (s *Session) MaxTxSize() int {
	return s.profile.SRAM.BufferSize() - 2
}

// Transact shifts buf out on SPI0 and replaces it with the bytes shifted in.
// Chip select is asserted for the whole exchange.
func (s *Session) Transact(buf []byte) error {
	if s.closed {
		return ErrClosed
	}
	if len(buf) > s.MaxTxSize() {
		return fmt.Errorf("%w: %d bytes, at most %d", ErrTransactionTooLarge, len(buf), s.MaxTxSize())
	}

	if !s.relayInstalled {
		if err := s.installRelay(); err != nil {
			return err
		}
	}

	sram := s.profile.SRAM

	/* Length prefix plus payload, padded to whole words */
	frame := make([]byte, (len(buf)+5)/4*4)
	binary.BigEndian.PutUint16(frame, uint16(len(buf)))
	copy(frame[2:], buf)

	if err := s.dev.WriteMemory(sram.SPLAddr, frame); err != nil {
		return err
	}
	if err := s.dev.Execute(sram.ScratchAddr); err != nil {
		return err
	}
	return s.dev.ReadMemory(sram.SPLAddr+2, buf)
}
