// Package testutil builds synthetic hive images for tests. Builders assemble
// real cell layouts (bin headers, cell size fields, record payloads) so tests
// exercise the same byte paths as captured hives, without fixture files.
package testutil

import (
	"encoding/binary"

	"github.com/joshuapare/hivescout/internal/format"
)

// HiveBuilder accumulates cells into a single growing bin and emits either
// the raw bin region or a complete hive image with a valid base block.
type HiveBuilder struct {
	bins []byte // cell area, starting after the bin header
}

// NewHiveBuilder starts an empty builder.
func NewHiveBuilder() *HiveBuilder {
	return &HiveBuilder{bins: make([]byte, format.HBINHeaderSize)}
}

// AddCell appends an allocated cell with the given payload and returns its
// cell offset (relative to the bin region start, as records reference it).
func (b *HiveBuilder) AddCell(payload []byte) uint32 {
	return b.addCell(payload, false)
}

// AddFreeCell appends a free cell whose payload still carries the given
// bytes, the shape deleted records take on disk.
func (b *HiveBuilder) AddFreeCell(payload []byte) uint32 {
	return b.addCell(payload, true)
}

func (b *HiveBuilder) addCell(payload []byte, free bool) uint32 {
	off := uint32(len(b.bins))
	size := format.Align8(format.CellHeaderSize + len(payload))
	cell := make([]byte, size)
	raw := int32(size)
	if !free {
		raw = -raw
	}
	binary.LittleEndian.PutUint32(cell, uint32(raw))
	copy(cell[format.CellHeaderSize:], payload)
	b.bins = append(b.bins, cell...)
	return off
}

// PatchU32 overwrites a uint32 field inside a previously added cell's
// payload. Needed for parent links, which are circular with subkey lists.
func (b *HiveBuilder) PatchU32(cellOff uint32, fieldOff int, v uint32) {
	pos := int(cellOff) + format.CellHeaderSize + fieldOff
	binary.LittleEndian.PutUint32(b.bins[pos:], v)
}

// Bins finalizes and returns the bin region: the tail is padded to a 4 KiB
// boundary with one free cell and the bin header is stamped.
func (b *HiveBuilder) Bins() []byte {
	total := len(b.bins)
	padded := (total + format.HBINAlignmentMask) &^ format.HBINAlignmentMask
	if padded == format.HBINHeaderSize {
		padded = format.HBINAlignment
	}
	out := make([]byte, padded)
	copy(out, b.bins)
	if pad := padded - total; pad > 0 {
		binary.LittleEndian.PutUint32(out[total:], uint32(pad)) // free filler cell
	}
	copy(out, format.HBINSignature)
	binary.LittleEndian.PutUint32(out[format.HBINFileOffsetField:], 0)
	binary.LittleEndian.PutUint32(out[format.HBINSizeOffset:], uint32(padded))
	return out
}

// BuildImage returns a complete hive image: base block with the given root
// cell offset, matching sequence numbers, and a valid checksum, followed by
// the bin region.
func (b *HiveBuilder) BuildImage(rootOff uint32) []byte {
	return b.BuildImageSeq(rootOff, 1, 1)
}

// BuildImageSeq is BuildImage with explicit sequence numbers, for dirty-hive
// scenarios.
func (b *HiveBuilder) BuildImageSeq(rootOff, primarySeq, secondarySeq uint32) []byte {
	bins := b.Bins()
	hdr := make([]byte, format.HeaderSize)
	copy(hdr, format.REGFSignature)
	binary.LittleEndian.PutUint32(hdr[format.REGFPrimarySeqOffset:], primarySeq)
	binary.LittleEndian.PutUint32(hdr[format.REGFSecondarySeqOffset:], secondarySeq)
	binary.LittleEndian.PutUint64(hdr[format.REGFTimeStampOffset:], 133500000000000000)
	binary.LittleEndian.PutUint32(hdr[format.REGFMajorVersionOffset:], 1)
	binary.LittleEndian.PutUint32(hdr[format.REGFMinorVersionOffset:], 5)
	binary.LittleEndian.PutUint32(hdr[format.REGFTypeOffset:], format.FileTypePrimary)
	binary.LittleEndian.PutUint32(hdr[format.REGFFormatOffset:], 1)
	binary.LittleEndian.PutUint32(hdr[format.REGFRootCellOffset:], rootOff)
	binary.LittleEndian.PutUint32(hdr[format.REGFDataSizeOffset:], uint32(len(bins)))
	binary.LittleEndian.PutUint32(hdr[format.REGFClusterOffset:], 1)
	binary.LittleEndian.PutUint32(hdr[format.REGFCheckSumOffset:], format.HeaderChecksum(hdr))
	return append(hdr, bins...)
}

// ---------------------------------------------------------------------------
// record payload encoders
// ---------------------------------------------------------------------------

// NKSpec describes a key node payload.
type NKSpec struct {
	Name       string
	Flags      uint16 // NKFlagCompressedName is set automatically for Name
	LastWrite  uint64
	Parent     uint32
	SubkeyN    uint32
	SubkeyList uint32
	ValueN     uint32
	ValueList  uint32
	Security   uint32
	ClassName  uint32
	ClassLen   uint16
}

// EncodeNK builds an NK payload with a compressed (8-bit) name.
func EncodeNK(s NKSpec) []byte {
	name := []byte(s.Name)
	b := make([]byte, format.NKFixedHeaderSize+len(name))
	copy(b, format.NKSignature)
	binary.LittleEndian.PutUint16(b[format.NKFlagsOffset:], s.Flags|format.NKFlagCompressedName)
	binary.LittleEndian.PutUint64(b[format.NKLastWriteOffset:], s.LastWrite)
	binary.LittleEndian.PutUint32(b[format.NKParentOffset:], s.Parent)
	binary.LittleEndian.PutUint32(b[format.NKSubkeyCountOffset:], s.SubkeyN)
	binary.LittleEndian.PutUint32(b[format.NKSubkeyListOffset:], orInvalid(s.SubkeyList, s.SubkeyN))
	binary.LittleEndian.PutUint32(b[format.NKVolSubkeyListOffset:], format.InvalidOffset)
	binary.LittleEndian.PutUint32(b[format.NKValueCountOffset:], s.ValueN)
	binary.LittleEndian.PutUint32(b[format.NKValueListOffset:], orInvalid(s.ValueList, s.ValueN))
	binary.LittleEndian.PutUint32(b[format.NKSecurityOffset:], invalidIfZero(s.Security))
	binary.LittleEndian.PutUint32(b[format.NKClassNameOffset:], invalidIfZero(s.ClassName))
	binary.LittleEndian.PutUint16(b[format.NKNameLenOffset:], uint16(len(name)))
	binary.LittleEndian.PutUint16(b[format.NKClassLenOffset:], s.ClassLen)
	copy(b[format.NKNameOffset:], name)
	return b
}

// AddNK encodes and places a key node, returning its cell offset.
func (b *HiveBuilder) AddNK(s NKSpec) uint32 {
	return b.AddCell(EncodeNK(s))
}

// VKSpec describes a value key payload.
type VKSpec struct {
	Name    string
	Type    uint32
	DataLen uint32 // raw field; or with format.VKDataInlineBit
	DataOff uint32 // cell offset, or inline bytes
}

// EncodeVK builds a VK payload with a compressed (8-bit) name.
func EncodeVK(s VKSpec) []byte {
	name := []byte(s.Name)
	b := make([]byte, format.VKMinSize+len(name))
	copy(b, format.VKSignature)
	binary.LittleEndian.PutUint16(b[format.VKNameLenOffset:], uint16(len(name)))
	binary.LittleEndian.PutUint32(b[format.VKDataLenOffset:], s.DataLen)
	binary.LittleEndian.PutUint32(b[format.VKDataOffOffset:], s.DataOff)
	binary.LittleEndian.PutUint32(b[format.VKTypeOffset:], s.Type)
	binary.LittleEndian.PutUint16(b[format.VKFlagsOffset:], format.VKFlagASCIIName)
	copy(b[format.VKNameOffset:], name)
	return b
}

// AddVK encodes and places a value key, returning its cell offset.
func (b *HiveBuilder) AddVK(s VKSpec) uint32 {
	return b.AddCell(EncodeVK(s))
}

// AddValueWithData places a data cell and a VK referencing it.
func (b *HiveBuilder) AddValueWithData(name string, typ uint32, data []byte) uint32 {
	dataOff := b.AddCell(data)
	return b.AddVK(VKSpec{Name: name, Type: typ, DataLen: uint32(len(data)), DataOff: dataOff})
}

// AddInlineValue places a VK whose data is packed into the offset field.
func (b *HiveBuilder) AddInlineValue(name string, typ uint32, data []byte) uint32 {
	var off uint32
	for i, c := range data {
		off |= uint32(c) << (8 * i)
	}
	return b.AddVK(VKSpec{
		Name:    name,
		Type:    typ,
		DataLen: format.VKDataInlineBit | uint32(len(data)),
		DataOff: off,
	})
}

// AddSubkeyList places a subkey list of the given kind over the offsets.
// LF/LH hash fields are left zero; lookup never trusts them.
func (b *HiveBuilder) AddSubkeyList(sig []byte, offsets ...uint32) uint32 {
	stride := format.LIEntrySize
	if string(sig) == "lf" || string(sig) == "lh" {
		stride = format.LFEntrySize
	}
	p := make([]byte, format.ListHeaderSize+len(offsets)*stride)
	copy(p, sig)
	binary.LittleEndian.PutUint16(p[format.SignatureSize:], uint16(len(offsets)))
	for i, off := range offsets {
		binary.LittleEndian.PutUint32(p[format.ListHeaderSize+i*stride:], off)
	}
	return b.AddCell(p)
}

// AddValueList places a value list (bare offset array).
func (b *HiveBuilder) AddValueList(offsets ...uint32) uint32 {
	p := make([]byte, len(offsets)*format.OffsetFieldSize)
	for i, off := range offsets {
		binary.LittleEndian.PutUint32(p[i*format.OffsetFieldSize:], off)
	}
	return b.AddCell(p)
}

// AddSK places a security descriptor cell.
func (b *HiveBuilder) AddSK(flink, blink, refCount uint32, descriptor []byte) uint32 {
	p := make([]byte, format.SKHeaderSize+len(descriptor))
	copy(p, format.SKSignature)
	binary.LittleEndian.PutUint32(p[format.SKFlinkOffset:], flink)
	binary.LittleEndian.PutUint32(p[format.SKBlinkOffset:], blink)
	binary.LittleEndian.PutUint32(p[format.SKReferenceCountOffset:], refCount)
	binary.LittleEndian.PutUint32(p[format.SKDescriptorLengthOffset:], uint32(len(descriptor)))
	copy(p[format.SKDescriptorOffset:], descriptor)
	return b.AddCell(p)
}

// AddDB places a big data record and its block list over the given block
// cell offsets.
func (b *HiveBuilder) AddDB(blocks ...uint32) uint32 {
	listOff := b.AddValueList(blocks...) // same wire shape: bare offsets
	p := make([]byte, format.DBHeaderSize)
	copy(p, format.DBSignature)
	binary.LittleEndian.PutUint16(p[format.DBNumBlocksOffset:], uint16(len(blocks)))
	binary.LittleEndian.PutUint32(p[format.DBBlocklistOffset:], listOff)
	return b.AddCell(p)
}

func invalidIfZero(off uint32) uint32 {
	if off == 0 {
		return format.InvalidOffset
	}
	return off
}

func orInvalid(off, count uint32) uint32 {
	if count == 0 && off == 0 {
		return format.InvalidOffset
	}
	return off
}
