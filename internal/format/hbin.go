package format

import (
	"bytes"
	"fmt"

	"github.com/joshuapare/hivescout/internal/buf"
)

// HBIN describes a hive bin header. Bins partition the data region into
// 4 KiB-multiple blocks; cells never span a bin boundary. The header echoes
// the bin's own offset (relative to the data region start), which real hives
// keep consistent but corrupt ones may not, so the echo is retained for
// validation rather than trusted for navigation.
type HBIN struct {
	OffsetEcho uint32 // bin's self-reported offset, relative to the data region
	Size       uint32 // total bin size including the 0x20-byte header
}

// NextHBIN validates the bin header at off within the data region and
// returns it along with the offset of the following bin. A bin whose
// declared size is zero, unaligned, or runs past the buffer is an error;
// callers decide whether that ends the walk or marks the tail invalid.
func NextHBIN(bins []byte, off int) (HBIN, int, error) {
	head, ok := buf.Slice(bins, off, HBINHeaderSize)
	if !ok {
		return HBIN{}, 0, fmt.Errorf("hbin at %#x: %w", off, ErrTruncated)
	}
	if !bytes.Equal(head[:HBINSignatureSize], HBINSignature) {
		return HBIN{}, 0, fmt.Errorf("hbin at %#x: %w", off, ErrSignatureMismatch)
	}
	h := HBIN{
		OffsetEcho: buf.U32LE(head[HBINFileOffsetField:]),
		Size:       buf.U32LE(head[HBINSizeOffset:]),
	}
	if h.Size == 0 || h.Size&HBINAlignmentMask != 0 {
		return HBIN{}, 0, fmt.Errorf("hbin at %#x: invalid size %#x", off, h.Size)
	}
	next, ok := buf.AddOverflowSafe(off, int(h.Size))
	if !ok || next > len(bins) {
		return HBIN{}, 0, fmt.Errorf("hbin at %#x: declared size %#x exceeds data: %w",
			off, h.Size, ErrTruncated)
	}
	return h, next, nil
}
