package main

import (
	"errors"
	"testing"

	"github.com/BertoldVdb/felspiflash/spiflash"
)

func TestClipLength(t *testing.T) {
	info := spiflash.Info{Name: "test", Capacity: 0x1000000}

	tests := []struct {
		addr, length, want uint32
	}{
		{0, 100, 100},
		{0, 0x1000000, 0x1000000},
		{0x100, 0xffffffff, 0xffff00},
		{0xffff9c, 300, 100},
	}
	for _, tt := range tests {
		got, err := clipLength(info, tt.addr, tt.length)
		if err != nil || got != tt.want {
			t.Errorf("clipLength(%#x, %#x) = %#x, %v; want %#x", tt.addr, tt.length, got, err, tt.want)
		}
	}

	if _, err := clipLength(info, 0x1000000, 1); !errors.Is(err, spiflash.ErrOutOfRange) {
		t.Error("Read past the end:", err)
	}
}
