package sunxispi

import (
	"fmt"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/spi"
)

var _ spi.Conn = (*Session)(nil)

func (s *Session) String() string {
	return "fel-spi0(" + s.profile.Name + ")"
}

func (s *Session) Duplex() conn.Duplex {
	return conn.Full
}

// Tx runs one exchange of max(len(w), len(r)) bytes. Missing write bytes
// are sent as zero.
func (s *Session) Tx(w, r []byte) error {
	n := len(w)
	if len(r) > n {
		n = len(r)
	}

	buf := make([]byte, n)
	copy(buf, w)
	if err := s.Transact(buf); err != nil {
		return err
	}
	copy(r, buf)
	return nil
}

// TxPackets joins packets with KeepCS set and the packet following them into
// a single exchange.
func (s *Session) TxPackets(p []spi.Packet) error {
	var group []spi.Packet

	for i, m := range p {
		if m.BitsPerWord != 0 && m.BitsPerWord != 8 {
			return fmt.Errorf("sunxispi: %d bits per word is not supported", m.BitsPerWord)
		}

		group = append(group, m)
		if m.KeepCS && i != len(p)-1 {
			continue
		}

		if err := s.txGroup(group); err != nil {
			return err
		}
		group = group[:0]
	}

	return nil
}

func (s *Session) txGroup(group []spi.Packet) error {
	var buf []byte
	offsets := make([]int, len(group))

	for i, m := range group {
		n := len(m.W)
		if len(m.R) > n {
			n = len(m.R)
		}

		offsets[i] = len(buf)
		buf = append(buf, make([]byte, n)...)
		copy(buf[offsets[i]:], m.W)
	}

	if err := s.Transact(buf); err != nil {
		return err
	}

	for i, m := range group {
		copy(m.R, buf[offsets[i]:])
	}
	return nil
}
