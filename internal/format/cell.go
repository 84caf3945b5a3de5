package format

import (
	"errors"
	"fmt"

	"github.com/joshuapare/hivescout/internal/buf"
)

// ErrZeroCell indicates a cell header with size 0, which would stall any
// forward walk. Callers treat the rest of the bin as unparseable.
var ErrZeroCell = errors.New("format: zero-size cell")

// Cell is a single allocation inside an HBIN. The signed size field that
// precedes every cell encodes the allocation state: negative means in use,
// positive means free. The absolute value counts the 4-byte header itself.
type Cell struct {
	Offset int  // relative to the start of the data region
	Size   int  // total size including the header
	Free   bool // true when the size field was positive
	Tag    [SignatureSize]byte
	Data   []byte // payload, aliasing the underlying buffer
}

// ParseCellAt decodes the cell whose header starts at off, constrained to
// end at or before limit (normally the enclosing bin's end). A declared size
// reaching past limit is reported as ErrTruncated since cells cannot cross
// bin boundaries.
func ParseCellAt(bins []byte, off, limit int) (Cell, error) {
	if limit > len(bins) {
		limit = len(bins)
	}
	if off < 0 || off+CellHeaderSize > limit {
		return Cell{}, fmt.Errorf("cell at %#x: %w", off, ErrTruncated)
	}
	raw := buf.I32LE(bins[off:])
	if raw == 0 {
		return Cell{}, fmt.Errorf("cell at %#x: %w", off, ErrZeroCell)
	}
	free := raw > 0
	size := int(raw)
	if !free {
		size = -size
	}
	if size < CellHeaderSize {
		return Cell{}, fmt.Errorf("cell at %#x: declared size %d below header size", off, size)
	}
	if !IsCellAligned(uint32(size)) {
		// An off-grid size would desync the whole cell walk for this bin.
		return Cell{}, fmt.Errorf("cell at %#x: declared size %d off the 8-byte grid", off, size)
	}
	end, ok := buf.AddOverflowSafe(off, size)
	if !ok || end > limit {
		return Cell{}, fmt.Errorf("cell at %#x: declared size %d crosses bin end %#x: %w",
			off, size, limit, ErrTruncated)
	}
	c := Cell{
		Offset: off,
		Size:   size,
		Free:   free,
		Data:   bins[off+CellHeaderSize : end],
	}
	if len(c.Data) >= SignatureSize {
		c.Tag[0], c.Tag[1] = c.Data[0], c.Data[1]
	}
	return c, nil
}
