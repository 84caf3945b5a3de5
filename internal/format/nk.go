package format

import (
	"bytes"
	"fmt"

	"github.com/joshuapare/hivescout/internal/buf"
)

// NKRecord is a decoded key node. Every offset field is a cell index
// relative to the data region and is kept opaque here; resolution belongs to
// the tree layer. Volatile fields are decoded for completeness but never
// point at anything in an offline file.
//
//	Offset  Size  Field
//	0x00    2     'n' 'k'
//	0x02    2     Flags (0x20 => name stored as Windows-1252)
//	0x04    8     Last write time (FILETIME)
//	0x0C    4     Access bits (Windows 8+)
//	0x10    4     Parent cell offset
//	0x14    4     Number of stable subkeys
//	0x18    4     Number of volatile subkeys
//	0x1C    4     Stable subkey list offset
//	0x20    4     Volatile subkey list offset
//	0x24    4     Number of values
//	0x28    4     Value list offset
//	0x2C    4     Security (SK) offset
//	0x30    4     Class name offset
//	0x34    4     Max subkey name length
//	0x38    4     Max subkey class length
//	0x3C    4     Max value name length
//	0x40    4     Max value data length
//	0x44    4     Work var
//	0x48    2     Name length (bytes)
//	0x4A    2     Class name length (bytes)
//	0x4C    n     Name bytes (Windows-1252 or UTF-16LE)
type NKRecord struct {
	Flags               uint16
	LastWriteRaw        uint64
	AccessBits          uint32
	ParentOffset        uint32
	SubkeyCount         uint32
	VolSubkeyCount      uint32
	SubkeyListOffset    uint32
	VolSubkeyListOffset uint32
	ValueCount          uint32
	ValueListOffset     uint32
	SecurityOffset      uint32
	ClassNameOffset     uint32
	MaxNameLength       uint32
	MaxClassLength      uint32
	MaxValueNameLength  uint32
	MaxValueDataLength  uint32
	NameLength          uint16
	ClassLength         uint16
	NameRaw             []byte
}

// NameIsCompressed reports whether the name is stored in 8-bit form.
func (nk NKRecord) NameIsCompressed() bool {
	return nk.Flags&NKFlagCompressedName != 0
}

// IsRoot reports whether this node carries the hive-entry flag.
func (nk NKRecord) IsRoot() bool {
	return nk.Flags&NKFlagHiveEntry != 0
}

// Name decodes the key name, applying the compression flag. The lossy result
// reports replacement characters were substituted for invalid sequences.
func (nk NKRecord) Name() (string, bool) {
	if nk.NameIsCompressed() {
		return DecodeWindows1252(nk.NameRaw)
	}
	return DecodeUTF16LE(nk.NameRaw)
}

// DecodeNK decodes an NK record payload with full bounds and sanity checking.
func DecodeNK(b []byte) (NKRecord, error) {
	if len(b) < NKMinSize {
		return NKRecord{}, fmt.Errorf("nk: %w (have %d, need %d)", ErrTruncated, len(b), NKMinSize)
	}
	if !bytes.Equal(b[:SignatureSize], NKSignature) {
		return NKRecord{}, fmt.Errorf("nk: %w", ErrSignatureMismatch)
	}

	// The fixed header fits (checked above), so plain reads are safe here.
	nk := NKRecord{
		Flags:               buf.U16LE(b[NKFlagsOffset:]),
		LastWriteRaw:        buf.U64LE(b[NKLastWriteOffset:]),
		AccessBits:          buf.U32LE(b[NKAccessBitsOffset:]),
		ParentOffset:        buf.U32LE(b[NKParentOffset:]),
		SubkeyCount:         buf.U32LE(b[NKSubkeyCountOffset:]),
		VolSubkeyCount:      buf.U32LE(b[NKVolSubkeyCountOffset:]),
		SubkeyListOffset:    buf.U32LE(b[NKSubkeyListOffset:]),
		VolSubkeyListOffset: buf.U32LE(b[NKVolSubkeyListOffset:]),
		ValueCount:          buf.U32LE(b[NKValueCountOffset:]),
		ValueListOffset:     buf.U32LE(b[NKValueListOffset:]),
		SecurityOffset:      buf.U32LE(b[NKSecurityOffset:]),
		ClassNameOffset:     buf.U32LE(b[NKClassNameOffset:]),
		MaxNameLength:       buf.U32LE(b[NKMaxNameLenOffset:]),
		MaxClassLength:      buf.U32LE(b[NKMaxClassLenOffset:]),
		MaxValueNameLength:  buf.U32LE(b[NKMaxValueNameOffset:]),
		MaxValueDataLength:  buf.U32LE(b[NKMaxValueDataOffset:]),
		NameLength:          buf.U16LE(b[NKNameLenOffset:]),
		ClassLength:         buf.U16LE(b[NKClassLenOffset:]),
	}

	if nk.SubkeyCount > MaxSubkeyCount {
		return NKRecord{}, fmt.Errorf("nk subkey count %d exceeds limit %d: %w",
			nk.SubkeyCount, MaxSubkeyCount, ErrSanityLimit)
	}
	if nk.ValueCount > MaxValueCount {
		return NKRecord{}, fmt.Errorf("nk value count %d exceeds limit %d: %w",
			nk.ValueCount, MaxValueCount, ErrSanityLimit)
	}
	if int(nk.NameLength) > MaxNameLen {
		return NKRecord{}, fmt.Errorf("nk name len %d exceeds limit %d: %w",
			nk.NameLength, MaxNameLen, ErrSanityLimit)
	}
	if int(nk.ClassLength) > MaxClassLen {
		return NKRecord{}, fmt.Errorf("nk class len %d exceeds limit %d: %w",
			nk.ClassLength, MaxClassLen, ErrSanityLimit)
	}

	name, ok := buf.Slice(b, NKNameOffset, int(nk.NameLength))
	if !ok {
		return NKRecord{}, fmt.Errorf("nk name: %w (need %d bytes at %#x, have %d)",
			ErrTruncated, nk.NameLength, NKNameOffset, len(b))
	}
	nk.NameRaw = name

	return nk, nil
}
