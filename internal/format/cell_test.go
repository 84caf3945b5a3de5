package format

import (
	"encoding/binary"
	"errors"
	"testing"
)

func buildBin(size uint32, echo uint32) []byte {
	b := make([]byte, size)
	copy(b, HBINSignature)
	binary.LittleEndian.PutUint32(b[HBINFileOffsetField:], echo)
	binary.LittleEndian.PutUint32(b[HBINSizeOffset:], size)
	return b
}

func TestNextHBIN(t *testing.T) {
	bins := append(buildBin(0x1000, 0), buildBin(0x2000, 0x1000)...)

	h, next, err := NextHBIN(bins, 0)
	if err != nil {
		t.Fatalf("first bin: %v", err)
	}
	if h.Size != 0x1000 || next != 0x1000 {
		t.Fatalf("first bin: %+v next=%#x", h, next)
	}

	h, next, err = NextHBIN(bins, next)
	if err != nil {
		t.Fatalf("second bin: %v", err)
	}
	if h.Size != 0x2000 || h.OffsetEcho != 0x1000 || next != 0x3000 {
		t.Fatalf("second bin: %+v next=%#x", h, next)
	}
}

func TestNextHBINErrors(t *testing.T) {
	if _, _, err := NextHBIN(make([]byte, 8), 0); !errors.Is(err, ErrTruncated) {
		t.Fatalf("short: %v", err)
	}
	bad := buildBin(0x1000, 0)
	copy(bad, "nope")
	if _, _, err := NextHBIN(bad, 0); !errors.Is(err, ErrSignatureMismatch) {
		t.Fatalf("signature: %v", err)
	}
	// Declared size larger than the remaining data.
	big := buildBin(0x1000, 0)
	binary.LittleEndian.PutUint32(big[HBINSizeOffset:], 0x2000)
	if _, _, err := NextHBIN(big, 0); !errors.Is(err, ErrTruncated) {
		t.Fatalf("oversize: %v", err)
	}
	// Unaligned size.
	odd := buildBin(0x1000, 0)
	binary.LittleEndian.PutUint32(odd[HBINSizeOffset:], 0x0800)
	if _, _, err := NextHBIN(odd, 0); err == nil {
		t.Fatal("expected alignment error")
	}
}

func TestParseCellAt(t *testing.T) {
	bins := buildBin(0x1000, 0)
	// Allocated 16-byte cell at 0x20 tagged "nk".
	binary.LittleEndian.PutUint32(bins[0x20:], uint32(0xFFFFFFF0)) // -16
	copy(bins[0x24:], "nk")
	// Free 32-byte cell at 0x30.
	binary.LittleEndian.PutUint32(bins[0x30:], 32)

	c, err := ParseCellAt(bins, 0x20, 0x1000)
	if err != nil {
		t.Fatalf("allocated cell: %v", err)
	}
	if c.Free || c.Size != 16 || c.Tag != [2]byte{'n', 'k'} || len(c.Data) != 12 {
		t.Fatalf("allocated cell: %+v", c)
	}

	c, err = ParseCellAt(bins, 0x30, 0x1000)
	if err != nil {
		t.Fatalf("free cell: %v", err)
	}
	if !c.Free || c.Size != 32 {
		t.Fatalf("free cell: %+v", c)
	}
}

func TestParseCellAtErrors(t *testing.T) {
	bins := buildBin(0x1000, 0)
	if _, err := ParseCellAt(bins, 0x20, 0x1000); !errors.Is(err, ErrZeroCell) {
		t.Fatalf("zero cell: %v", err)
	}
	// Size running past the bin end.
	binary.LittleEndian.PutUint32(bins[0xFF8:], uint32(0xFFFFFFE0)) // -32 with 8 bytes left
	if _, err := ParseCellAt(bins, 0xFF8, 0x1000); !errors.Is(err, ErrTruncated) {
		t.Fatalf("cross-bin cell: %v", err)
	}
	if _, err := ParseCellAt(bins, 0xFFE, 0x1000); !errors.Is(err, ErrTruncated) {
		t.Fatalf("header past limit: %v", err)
	}
}

func TestAlign8(t *testing.T) {
	cases := [][2]int{{0, 0}, {1, 8}, {8, 8}, {9, 16}, {76, 80}}
	for _, c := range cases {
		if got := Align8(c[0]); got != c[1] {
			t.Fatalf("Align8(%d) = %d, want %d", c[0], got, c[1])
		}
	}
	if !IsCellAligned(0x20) || IsCellAligned(0x21) {
		t.Fatal("IsCellAligned")
	}
}
