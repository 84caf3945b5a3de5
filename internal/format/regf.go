package format

import (
	"bytes"
	"fmt"

	"github.com/google/uuid"

	"github.com/joshuapare/hivescout/internal/buf"
)

// REGFHeader carries every field of the 4096-byte base block. Sequence
// numbers and the hive bins data size matter for transaction log recovery;
// the rest is metadata surfaced through the public Info call.
type REGFHeader struct {
	PrimarySequence   uint32
	SecondarySequence uint32
	TimestampRaw      uint64
	MajorVersion      uint32
	MinorVersion      uint32
	FileType          uint32
	FileFormat        uint32
	RootCellOffset    uint32
	HiveBinsDataSize  uint32
	ClusteringFactor  uint32
	FileName          string
	RmID              uuid.UUID
	LogID             uuid.UUID
	Flags             uint32
	TmID              uuid.UUID
	GuidSignature     uint32
	LastReorganized   uint64
	StoredChecksum    uint32
	ComputedChecksum  uint32
	BootType          uint32
	BootRecover       uint32
}

// ChecksumValid reports whether the stored checksum matches the bytes. A
// mismatch is advisory: the hive is still parsed, callers record a diagnostic.
func (h REGFHeader) ChecksumValid() bool {
	return h.StoredChecksum == h.ComputedChecksum
}

// Dirty reports whether the two sequence numbers disagree, meaning a write
// was in flight when the hive was captured and the transaction logs may hold
// newer data.
func (h REGFHeader) Dirty() bool {
	return h.PrimarySequence != h.SecondarySequence
}

// DecodeREGF decodes a base block. The buffer must hold the full header
// page; wrong magic and short buffers are fatal since nothing downstream can
// be trusted without a root offset and data size.
func DecodeREGF(b []byte) (REGFHeader, error) {
	if len(b) < HeaderSize {
		return REGFHeader{}, fmt.Errorf("regf: %w (have %d, need %d)", ErrTruncated, len(b), HeaderSize)
	}
	if !bytes.Equal(b[:REGFSignatureSize], REGFSignature) {
		return REGFHeader{}, fmt.Errorf("regf: %w", ErrSignatureMismatch)
	}

	h := REGFHeader{
		PrimarySequence:   buf.U32LE(b[REGFPrimarySeqOffset:]),
		SecondarySequence: buf.U32LE(b[REGFSecondarySeqOffset:]),
		TimestampRaw:      buf.U64LE(b[REGFTimeStampOffset:]),
		MajorVersion:      buf.U32LE(b[REGFMajorVersionOffset:]),
		MinorVersion:      buf.U32LE(b[REGFMinorVersionOffset:]),
		FileType:          buf.U32LE(b[REGFTypeOffset:]),
		FileFormat:        buf.U32LE(b[REGFFormatOffset:]),
		RootCellOffset:    buf.U32LE(b[REGFRootCellOffset:]),
		HiveBinsDataSize:  buf.U32LE(b[REGFDataSizeOffset:]),
		ClusteringFactor:  buf.U32LE(b[REGFClusterOffset:]),
		Flags:             buf.U32LE(b[REGFFlagsOffset:]),
		GuidSignature:     buf.U32LE(b[REGFGuidSigOffset:]),
		LastReorganized:   buf.U64LE(b[REGFLastReorgTimeOffset:]),
		StoredChecksum:    buf.U32LE(b[REGFCheckSumOffset:]),
		ComputedChecksum:  HeaderChecksum(b),
		BootType:          buf.U32LE(b[REGFBootTypeOffset:]),
		BootRecover:       buf.U32LE(b[REGFBootRecovOffset:]),
	}

	name, _ := DecodeUTF16LE(b[REGFFileNameOffset : REGFFileNameOffset+REGFFileNameSize])
	if i := indexRune(name, 0); i >= 0 {
		name = name[:i]
	}
	h.FileName = name

	h.RmID = decodeGUID(b[REGFRmIDOffset:])
	h.LogID = decodeGUID(b[REGFLogIDOffset:])
	h.TmID = decodeGUID(b[REGFTmIDOffset:])

	return h, nil
}

// DecodeLogHeader decodes the base block of a transaction log. Log base
// blocks occupy a single 512-byte sector (entries start at 0x200), so only
// the fields below that boundary exist; the boot fields of a primary header
// are left zero.
func DecodeLogHeader(b []byte) (REGFHeader, error) {
	if len(b) < LogEntriesStart {
		return REGFHeader{}, fmt.Errorf("regf log: %w (have %d, need %d)",
			ErrTruncated, len(b), LogEntriesStart)
	}
	if !bytes.Equal(b[:REGFSignatureSize], REGFSignature) {
		return REGFHeader{}, fmt.Errorf("regf log: %w", ErrSignatureMismatch)
	}

	h := REGFHeader{
		PrimarySequence:   buf.U32LE(b[REGFPrimarySeqOffset:]),
		SecondarySequence: buf.U32LE(b[REGFSecondarySeqOffset:]),
		TimestampRaw:      buf.U64LE(b[REGFTimeStampOffset:]),
		MajorVersion:      buf.U32LE(b[REGFMajorVersionOffset:]),
		MinorVersion:      buf.U32LE(b[REGFMinorVersionOffset:]),
		FileType:          buf.U32LE(b[REGFTypeOffset:]),
		FileFormat:        buf.U32LE(b[REGFFormatOffset:]),
		RootCellOffset:    buf.U32LE(b[REGFRootCellOffset:]),
		HiveBinsDataSize:  buf.U32LE(b[REGFDataSizeOffset:]),
		ClusteringFactor:  buf.U32LE(b[REGFClusterOffset:]),
		Flags:             buf.U32LE(b[REGFFlagsOffset:]),
		StoredChecksum:    buf.U32LE(b[REGFCheckSumOffset:]),
		ComputedChecksum:  HeaderChecksum(b),
	}
	name, _ := DecodeUTF16LE(b[REGFFileNameOffset : REGFFileNameOffset+REGFFileNameSize])
	if i := indexRune(name, 0); i >= 0 {
		name = name[:i]
	}
	h.FileName = name
	return h, nil
}

// HeaderChecksum computes the XOR-32 over the first 508 bytes of the base
// block, with the two reserved foldings Windows applies: a result of 0
// becomes 1, and all-ones becomes 0xFFFFFFFE.
func HeaderChecksum(b []byte) uint32 {
	var sum uint32
	for i := 0; i < REGFChecksumDwords; i++ {
		sum ^= buf.U32LE(b[i*4:])
	}
	switch sum {
	case 0:
		return 1
	case 0xFFFFFFFF:
		return 0xFFFFFFFE
	}
	return sum
}

// decodeGUID reads an on-disk GUID: the first three components are
// little-endian, the final eight bytes are as stored.
func decodeGUID(b []byte) uuid.UUID {
	var g uuid.UUID
	if len(b) < GUIDSize {
		return g
	}
	d1 := buf.U32LE(b)
	d2 := buf.U16LE(b[4:])
	d3 := buf.U16LE(b[6:])
	g[0] = byte(d1 >> 24)
	g[1] = byte(d1 >> 16)
	g[2] = byte(d1 >> 8)
	g[3] = byte(d1)
	g[4] = byte(d2 >> 8)
	g[5] = byte(d2)
	g[6] = byte(d3 >> 8)
	g[7] = byte(d3)
	copy(g[8:], b[8:16])
	return g
}

func indexRune(s string, r rune) int {
	for i, c := range s {
		if c == r {
			return i
		}
	}
	return -1
}
