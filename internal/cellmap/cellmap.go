// Package cellmap builds a complete allocation map of the hive bin region.
// Every byte of every bin is accounted for by exactly one extent: a bin
// header, an allocated cell, a free cell, or an invalid range where the walk
// could not continue. The map gives the tree layer O(1) payload lookup and
// gives the recovery scanner its enumeration of free and unreachable space.
package cellmap

import (
	"errors"
	"fmt"

	"github.com/joshuapare/hivescout/internal/diag"
	"github.com/joshuapare/hivescout/internal/format"
	"github.com/joshuapare/hivescout/pkg/types"
)

// State classifies an extent.
type State uint8

const (
	StateBinHeader State = iota
	StateAllocated
	StateFree
	StateInvalid // unparseable region, flagged with a diagnostic
)

func (s State) String() string {
	switch s {
	case StateBinHeader:
		return "bin-header"
	case StateAllocated:
		return "allocated"
	case StateFree:
		return "free"
	case StateInvalid:
		return "invalid"
	}
	return "unknown"
}

// Extent is one contiguous classified range of the data region. Offset and
// Size are relative to the region start, matching the offsets records use.
type Extent struct {
	Offset uint32
	Size   uint32
	State  State
	Tag    [format.SignatureSize]byte // first two payload bytes, cells only
}

// End returns the offset one past the extent.
func (e Extent) End() uint32 { return e.Offset + e.Size }

// Map is the built allocation index.
type Map struct {
	bins    []byte
	extents []Extent
	index   map[uint32]int32 // cell start offset -> extents position
}

// Build walks every bin in the data region and classifies all of it.
// Anomalies (zero-size cells, cells crossing a bin end, malformed bin
// headers) are recorded on col and the affected remainder is marked invalid;
// Build itself only fails when the region is empty or starts with garbage,
// since then there is no map to build.
func Build(bins []byte, maxCellSize int, col *diag.Collector) (*Map, error) {
	if maxCellSize <= 0 {
		maxCellSize = types.DefaultMaxCellSize
	}
	m := &Map{
		bins:  bins,
		index: make(map[uint32]int32),
	}

	off := 0
	for off < len(bins) {
		h, next, err := format.NextHBIN(bins, off)
		if err != nil {
			if len(m.extents) == 0 {
				// The region starts with garbage: there is no map to build.
				return nil, types.WrapErr(types.ErrKindCorrupt, "no hive bins found", err)
			}
			// No bin header here: the rest of the region is unusable.
			col.AddIssue(types.SevCritical, types.DiagStructure, types.CodeTruncatedCell,
				fileOffset(off), "hbin",
				fmt.Sprintf("bin walk stopped: %v; %d bytes unmapped", err, len(bins)-off))
			m.addInvalid(off, len(bins))
			break
		}
		if h.OffsetEcho != uint32(off) {
			col.AddIssue(types.SevWarning, types.DiagIntegrity, types.CodeCountMismatch,
				fileOffset(off), "hbin",
				fmt.Sprintf("bin self-offset %#x disagrees with position %#x", h.OffsetEcho, off))
		}
		m.extents = append(m.extents, Extent{
			Offset: uint32(off),
			Size:   format.HBINHeaderSize,
			State:  StateBinHeader,
		})
		m.walkCells(off+format.HBINHeaderSize, next, maxCellSize, col)
		off = next
	}

	if len(m.extents) == 0 {
		return nil, types.WrapErr(types.ErrKindCorrupt, "no hive bins found", nil)
	}
	return m, nil
}

// walkCells classifies the cell run of one bin, [start, binEnd).
func (m *Map) walkCells(start, binEnd, maxCellSize int, col *diag.Collector) {
	off := start
	for off < binEnd {
		c, err := format.ParseCellAt(m.bins, off, binEnd)
		if err != nil {
			code := types.CodeTruncatedCell
			if errors.Is(err, format.ErrZeroCell) {
				code = types.CodeZeroSizeCell
			}
			col.AddIssue(types.SevError, types.DiagStructure, code,
				fileOffset(off), "cell",
				fmt.Sprintf("cell walk stopped: %v; rest of bin marked invalid", err))
			m.addInvalid(off, binEnd)
			return
		}
		if c.Size > maxCellSize {
			col.AddIssue(types.SevError, types.DiagStructure, types.CodeTruncatedCell,
				fileOffset(off), "cell",
				fmt.Sprintf("cell size %d exceeds configured maximum %d; rest of bin marked invalid",
					c.Size, maxCellSize))
			m.addInvalid(off, binEnd)
			return
		}

		state := StateAllocated
		if c.Free {
			state = StateFree
		}
		m.index[uint32(off)] = int32(len(m.extents))
		m.extents = append(m.extents, Extent{
			Offset: uint32(off),
			Size:   uint32(c.Size),
			State:  state,
			Tag:    c.Tag,
		})
		off += c.Size
	}
}

func (m *Map) addInvalid(from, to int) {
	if to <= from {
		return
	}
	m.extents = append(m.extents, Extent{
		Offset: uint32(from),
		Size:   uint32(to - from),
		State:  StateInvalid,
	})
}

// Lookup returns the extent whose cell starts exactly at off. Bin headers
// and invalid ranges are not addressable.
func (m *Map) Lookup(off uint32) (Extent, bool) {
	i, ok := m.index[off]
	if !ok {
		return Extent{}, false
	}
	return m.extents[i], true
}

// Payload returns the payload bytes of the allocated cell starting at off.
// Free cells, unmapped offsets, and the 0xFFFFFFFF placeholder all fail with
// descriptive errors so callers can attach diagnostics.
func (m *Map) Payload(off uint32) ([]byte, error) {
	if off == format.InvalidOffset {
		return nil, fmt.Errorf("payload at %#x: %w", off, format.ErrNotFound)
	}
	e, ok := m.Lookup(off)
	if !ok {
		return nil, fmt.Errorf("payload at %#x: no cell starts here: %w", off, format.ErrNotFound)
	}
	if e.State != StateAllocated {
		return nil, fmt.Errorf("payload at %#x: cell is %s: %w", off, e.State, format.ErrFreeCell)
	}
	return m.bins[e.Offset+format.CellHeaderSize : e.End()], nil
}

// FreePayload is Payload for cells in free space, used by the recovery
// scanner. The cell header is skipped the same way.
func (m *Map) FreePayload(e Extent) []byte {
	if e.Size <= format.CellHeaderSize {
		return nil
	}
	return m.bins[e.Offset+format.CellHeaderSize : e.End()]
}

// Extents returns all extents in region order. The slice is shared; callers
// must not modify it.
func (m *Map) Extents() []Extent { return m.extents }

// Bins returns the underlying data region.
func (m *Map) Bins() []byte { return m.bins }

// Size returns the mapped region length in bytes.
func (m *Map) Size() int { return len(m.bins) }

func fileOffset(regionOff int) int64 {
	return int64(regionOff) + format.HiveDataBase
}
