package format

import (
	"bytes"
	"fmt"

	"github.com/joshuapare/hivescout/internal/buf"
)

// VKRecord is a decoded value key. Data lives either inline in the
// DataOffset field (when the high bit of DataLength is set) or in a separate
// cell, which for lengths above a single cell's capacity is a DB record.
type VKRecord struct {
	NameLength uint16
	DataLength uint32 // raw field, high bit = inline marker
	DataOffset uint32
	Type       uint32
	Flags      uint16
	NameRaw    []byte
}

// NameIsCompressed reports whether the name is stored as Windows-1252 bytes.
func (vk VKRecord) NameIsCompressed() bool {
	return vk.Flags&VKFlagASCIIName != 0
}

// DataInline reports whether the data is packed into the DataOffset field.
func (vk VKRecord) DataInline() bool {
	return vk.DataLength&VKDataInlineBit != 0
}

// DataSize returns the data length with the inline marker masked off.
func (vk VKRecord) DataSize() int {
	return int(vk.DataLength & VKDataLengthMask)
}

// Name decodes the value name. An empty name denotes the key's default value.
func (vk VKRecord) Name() (string, bool) {
	if vk.NameIsCompressed() {
		return DecodeWindows1252(vk.NameRaw)
	}
	return DecodeUTF16LE(vk.NameRaw)
}

// InlineData returns the data bytes packed into the DataOffset field.
// Callers must check DataInline first; at most 4 bytes exist.
func (vk VKRecord) InlineData() []byte {
	n := vk.DataSize()
	if n > OffsetFieldSize {
		n = OffsetFieldSize
	}
	raw := [OffsetFieldSize]byte{
		byte(vk.DataOffset),
		byte(vk.DataOffset >> 8),
		byte(vk.DataOffset >> 16),
		byte(vk.DataOffset >> 24),
	}
	out := make([]byte, n)
	copy(out, raw[:n])
	return out
}

// DecodeVK decodes a VK record payload with full bounds and sanity checking.
func DecodeVK(b []byte) (VKRecord, error) {
	if len(b) < VKMinSize {
		return VKRecord{}, fmt.Errorf("vk: %w (have %d, need %d)", ErrTruncated, len(b), VKMinSize)
	}
	if !bytes.Equal(b[:SignatureSize], VKSignature) {
		return VKRecord{}, fmt.Errorf("vk: %w", ErrSignatureMismatch)
	}

	vk := VKRecord{
		NameLength: buf.U16LE(b[VKNameLenOffset:]),
		DataLength: buf.U32LE(b[VKDataLenOffset:]),
		DataOffset: buf.U32LE(b[VKDataOffOffset:]),
		Type:       buf.U32LE(b[VKTypeOffset:]),
		Flags:      buf.U16LE(b[VKFlagsOffset:]),
	}

	if int(vk.NameLength) > MaxNameLen {
		return VKRecord{}, fmt.Errorf("vk name len %d exceeds limit %d: %w",
			vk.NameLength, MaxNameLen, ErrSanityLimit)
	}
	if vk.DataSize() > MaxValueDataLen {
		return VKRecord{}, fmt.Errorf("vk data len %d exceeds limit %d: %w",
			vk.DataSize(), MaxValueDataLen, ErrSanityLimit)
	}
	if vk.DataInline() && vk.DataSize() > OffsetFieldSize {
		return VKRecord{}, fmt.Errorf("vk inline data len %d exceeds field size: %w",
			vk.DataSize(), ErrSanityLimit)
	}

	name, ok := buf.Slice(b, VKNameOffset, int(vk.NameLength))
	if !ok {
		return VKRecord{}, fmt.Errorf("vk name: %w (need %d bytes at %#x, have %d)",
			ErrTruncated, vk.NameLength, VKNameOffset, len(b))
	}
	vk.NameRaw = name

	return vk, nil
}
