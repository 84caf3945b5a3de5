// Package reader resolves decoded records through the cell allocation map:
// keys to their subkey and value lists, values to their data (inline, single
// cell, or big-data), keys to class names and security descriptors. It owns
// the tolerance policy for reference corruption: a dangling or mistyped
// offset yields a diagnostic and a typed error the tree layer converts into
// a skipped branch, never a failed parse.
package reader

import (
	"errors"
	"fmt"

	"github.com/joshuapare/hivescout/internal/cellmap"
	"github.com/joshuapare/hivescout/internal/diag"
	"github.com/joshuapare/hivescout/internal/format"
	"github.com/joshuapare/hivescout/pkg/types"
)

// Reader resolves record references within one hive image.
type Reader struct {
	cm   *cellmap.Map
	col  *diag.Collector
	opts types.Options

	sk *securityArena
}

// New builds a Reader over a built cell map.
func New(cm *cellmap.Map, col *diag.Collector, opts types.Options) *Reader {
	return &Reader{
		cm:   cm,
		col:  col,
		opts: opts.Normalize(),
		sk:   newSecurityArena(),
	}
}

// Map exposes the underlying cell map (used by the recovery scanner).
func (r *Reader) Map() *cellmap.Map { return r.cm }

// Collector exposes the diagnostic collector.
func (r *Reader) Collector() *diag.Collector { return r.col }

// Options returns the normalized options in effect.
func (r *Reader) Options() types.Options { return r.opts }

// KeyNode resolves and decodes the NK record at off.
func (r *Reader) KeyNode(off uint32) (format.NKRecord, error) {
	p, err := r.cm.Payload(off)
	if err != nil {
		return format.NKRecord{}, r.badRef("nk", off, err)
	}
	nk, err := format.DecodeNK(p)
	if err != nil {
		return format.NKRecord{}, r.badRecord("nk", off, err)
	}
	return nk, nil
}

// Value resolves and decodes the VK record at off.
func (r *Reader) Value(off uint32) (format.VKRecord, error) {
	p, err := r.cm.Payload(off)
	if err != nil {
		return format.VKRecord{}, r.badRef("vk", off, err)
	}
	vk, err := format.DecodeVK(p)
	if err != nil {
		return format.VKRecord{}, r.badRecord("vk", off, err)
	}
	return vk, nil
}

// riNestingLimit bounds index-root indirection. Real hives nest RI lists one
// level deep; the limit only exists to stop reference cycles between lists.
const riNestingLimit = 16

// SubkeyOffsets returns the NK offsets of a key's stable subkeys with RI
// index roots flattened away. List-level corruption drops the affected list
// and keeps the rest, so partial fan-out survives.
func (r *Reader) SubkeyOffsets(nk format.NKRecord) []uint32 {
	if nk.SubkeyCount == 0 || nk.SubkeyListOffset == format.InvalidOffset {
		return nil
	}
	out := make([]uint32, 0, nk.SubkeyCount)
	out = r.appendSubkeyList(out, nk.SubkeyListOffset, 0)
	if len(out) != int(nk.SubkeyCount) {
		r.col.AddIssue(types.SevWarning, types.DiagIntegrity, types.CodeCountMismatch,
			fileOffset(nk.SubkeyListOffset), "nk",
			fmt.Sprintf("subkey list yields %d entries, key declares %d", len(out), nk.SubkeyCount))
	}
	return out
}

func (r *Reader) appendSubkeyList(out []uint32, off uint32, depth int) []uint32 {
	if depth > riNestingLimit {
		r.col.AddIssue(types.SevError, types.DiagStructure, types.CodeCycleDetected,
			fileOffset(off), "ri",
			fmt.Sprintf("subkey list nesting exceeds %d, dropping list", riNestingLimit))
		return out
	}
	p, err := r.cm.Payload(off)
	if err != nil {
		r.refIssue("subkey list", off, err)
		return out
	}
	list, err := format.DecodeSubkeyList(p)
	if err != nil {
		r.recordIssue("subkey list", off, err)
		return out
	}
	if list.Kind == format.ListRI {
		for _, sub := range list.Offsets {
			out = r.appendSubkeyList(out, sub, depth+1)
		}
		return out
	}
	return append(out, list.Offsets...)
}

// ValueOffsets returns the VK offsets of a key's values.
func (r *Reader) ValueOffsets(nk format.NKRecord) []uint32 {
	if nk.ValueCount == 0 || nk.ValueListOffset == format.InvalidOffset {
		return nil
	}
	p, err := r.cm.Payload(nk.ValueListOffset)
	if err != nil {
		r.refIssue("value list", nk.ValueListOffset, err)
		return nil
	}
	offsets, err := format.DecodeValueList(p, int(nk.ValueCount))
	if err != nil {
		// The list cell is smaller than the declared count: take what fits.
		r.recordIssue("value list", nk.ValueListOffset, err)
		usable := len(p) / format.OffsetFieldSize
		if usable == 0 {
			return nil
		}
		offsets, err = format.DecodeValueList(p, usable)
		if err != nil {
			return nil
		}
		r.col.AddIssue(types.SevWarning, types.DiagIntegrity, types.CodeCountMismatch,
			fileOffset(nk.ValueListOffset), "nk",
			fmt.Sprintf("value list holds %d entries, key declares %d", usable, nk.ValueCount))
	}
	return offsets
}

// ClassName resolves a key's class name cell and decodes it as UTF-16LE.
func (r *Reader) ClassName(nk format.NKRecord) (string, error) {
	if nk.ClassNameOffset == format.InvalidOffset || nk.ClassLength == 0 {
		return "", nil
	}
	p, err := r.cm.Payload(nk.ClassNameOffset)
	if err != nil {
		return "", r.badRef("class name", nk.ClassNameOffset, err)
	}
	if int(nk.ClassLength) < len(p) {
		p = p[:nk.ClassLength]
	} else if int(nk.ClassLength) > len(p) {
		r.col.AddIssue(types.SevWarning, types.DiagData, types.CodeTruncatedCell,
			fileOffset(nk.ClassNameOffset), "nk",
			fmt.Sprintf("class name cell holds %d bytes, key declares %d", len(p), nk.ClassLength))
	}
	s, lossy := format.DecodeUTF16LE(p)
	if lossy {
		r.lossyIssue("class name", nk.ClassNameOffset)
	}
	return s, nil
}

// DecodeKeyName applies the NK compression flag and records a diagnostic on
// lossy decodes.
func (r *Reader) DecodeKeyName(nk format.NKRecord, off uint32) (string, bool) {
	name, lossy := nk.Name()
	if lossy {
		r.lossyIssue("key name", off)
	}
	return name, lossy
}

// DecodeValueName applies the VK compression flag and records a diagnostic
// on lossy decodes.
func (r *Reader) DecodeValueName(vk format.VKRecord, off uint32) (string, bool) {
	name, lossy := vk.Name()
	if lossy {
		r.lossyIssue("value name", off)
	}
	return name, lossy
}

// ---------------------------------------------------------------------------
// diagnostics plumbing
// ---------------------------------------------------------------------------

// badRef wraps a failed cell dereference: the offset pointed outside the
// allocated cell set.
func (r *Reader) badRef(structure string, off uint32, err error) error {
	r.refIssue(structure, off, err)
	return types.WrapErr(types.ErrKindCorrupt,
		fmt.Sprintf("%s reference at %#x", structure, off), err)
}

// badRecord wraps a failed decode of an allocated cell's payload.
func (r *Reader) badRecord(structure string, off uint32, err error) error {
	r.recordIssue(structure, off, err)
	return types.WrapErr(types.ErrKindCorrupt,
		fmt.Sprintf("%s record at %#x", structure, off), err)
}

func (r *Reader) refIssue(structure string, off uint32, err error) {
	r.col.AddIssue(types.SevError, types.DiagIntegrity, types.CodeDanglingOffset,
		fileOffset(off), structure,
		fmt.Sprintf("reference does not resolve to an allocated cell: %v", err))
}

func (r *Reader) recordIssue(structure string, off uint32, err error) {
	code := types.CodeTruncatedCell
	if errors.Is(err, format.ErrSignatureMismatch) {
		code = types.CodeUnrecognizedSignature
	}
	r.col.AddIssue(types.SevError, types.DiagStructure, code,
		fileOffset(off), structure, err.Error())
}

func (r *Reader) lossyIssue(structure string, off uint32) {
	r.col.AddIssue(types.SevWarning, types.DiagData, types.CodeInvalidStringEncoding,
		fileOffset(off), structure,
		"invalid byte sequences replaced with U+FFFD")
}

func fileOffset(off uint32) int64 {
	return int64(off) + format.HiveDataBase
}
