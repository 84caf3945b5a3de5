package reader

import (
	"fmt"
	"sync"

	"github.com/joshuapare/hivescout/internal/format"
	"github.com/joshuapare/hivescout/pkg/types"
)

// securityArena caches decoded SK records by cell offset. Hives share a
// small set of descriptors across thousands of keys, so decoding each once
// and handing out the shared copy keeps Security lookups cheap.
type securityArena struct {
	mu    sync.Mutex
	byOff map[uint32]*types.SecurityDescriptor
}

func newSecurityArena() *securityArena {
	return &securityArena{byOff: make(map[uint32]*types.SecurityDescriptor)}
}

// Security resolves the SK record at off, serving repeats from the arena.
func (r *Reader) Security(off uint32) (*types.SecurityDescriptor, error) {
	if off == format.InvalidOffset {
		return nil, types.ErrNotFound
	}

	r.sk.mu.Lock()
	if sd, ok := r.sk.byOff[off]; ok {
		r.sk.mu.Unlock()
		return sd, nil
	}
	r.sk.mu.Unlock()

	p, err := r.cm.Payload(off)
	if err != nil {
		return nil, r.badRef("sk", off, err)
	}
	rec, err := format.DecodeSK(p)
	if err != nil {
		return nil, r.badRecord("sk", off, err)
	}

	sd := &types.SecurityDescriptor{
		Offset:         off,
		ReferenceCount: rec.ReferenceCount,
		Descriptor:     rec.Descriptor,
	}
	r.sk.mu.Lock()
	r.sk.byOff[off] = sd
	r.sk.mu.Unlock()
	return sd, nil
}

// SecurityChain walks the hive-wide circular SK list starting at start,
// following forward links until the walk returns to its origin. A link that
// leaves the allocated cell set or revisits a non-origin node ends the walk
// with a diagnostic, so a corrupted list yields the readable prefix.
func (r *Reader) SecurityChain(start uint32) []types.SecurityDescriptor {
	if start == format.InvalidOffset {
		return nil
	}
	var out []types.SecurityDescriptor
	visited := make(map[uint32]bool)

	off := start
	for {
		if visited[off] {
			if off != start {
				r.col.AddIssue(types.SevError, types.DiagIntegrity, types.CodeCycleDetected,
					fileOffset(off), "sk",
					fmt.Sprintf("security list revisits %#x without closing at origin %#x", off, start))
			}
			return out
		}
		visited[off] = true

		p, err := r.cm.Payload(off)
		if err != nil {
			r.refIssue("sk", off, err)
			return out
		}
		rec, err := format.DecodeSK(p)
		if err != nil {
			r.recordIssue("sk", off, err)
			return out
		}
		out = append(out, types.SecurityDescriptor{
			Offset:         off,
			ReferenceCount: rec.ReferenceCount,
			Descriptor:     rec.Descriptor,
		})
		off = rec.Flink
	}
}
