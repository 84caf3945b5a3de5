// Package format houses low-level decoders for the Windows Registry hive
// file format and its transaction log entries. The goal is to keep the
// parsing focused, allocation-free where possible, and independent from the
// public API so higher-level packages can orchestrate the data in a more
// ergonomic form. Decoders are pure: they never resolve offsets, they only
// decode fields and retain child offsets as opaque values.
package format

var (
	// REGFSignature is the four-byte signature at the start of every hive
	// file and every transaction log file.
	REGFSignature = []byte{'r', 'e', 'g', 'f'}

	// HBINSignature is the four-byte signature at the beginning of each hive bin.
	HBINSignature = []byte{'h', 'b', 'i', 'n'}

	// HvLESignature identifies a new-format transaction log entry.
	HvLESignature = []byte{'H', 'v', 'L', 'E'}

	// DIRTSignature identifies an old-format (dirty vector) transaction log.
	// Old-format logs carry no per-entry sequence numbers and are not replayed.
	DIRTSignature = []byte{'D', 'I', 'R', 'T'}

	// NKSignature identifies an NK (key node) cell payload.
	NKSignature = []byte{'n', 'k'}

	// VKSignature identifies a VK (value key) cell payload.
	VKSignature = []byte{'v', 'k'}

	// LFSignature, LHSignature, and LISignature identify subkey list variants.
	// LF/LH include name hints/hashes, while LI is a linear list without them.
	LFSignature = []byte{'l', 'f'}
	LHSignature = []byte{'l', 'h'}
	LISignature = []byte{'l', 'i'}

	// RISignature identifies an RI (index root) subkey list used when a key
	// has many subkeys. RI lists contain offsets to multiple LF/LH/LI lists.
	RISignature = []byte{'r', 'i'}

	// SKSignature identifies a security descriptor (SK) cell.
	SKSignature = []byte{'s', 'k'}

	// DBSignature identifies a big data (DB) record for large registry values.
	DBSignature = []byte{'d', 'b'}
)

const (
	// HeaderSize is the size of the REGF header in bytes: one 4 KiB page.
	HeaderSize = 4096

	// HiveDataBase is the file offset where the hive bin region starts.
	// All cell offsets in the format are relative to this base.
	HiveDataBase = 0x1000

	// HBINHeaderSize is the size of the HBIN header in bytes.
	HBINHeaderSize = 0x20

	// HBINAlignment is the required alignment (and granularity) of hive bins.
	HBINAlignment = 0x1000

	// CellHeaderSize is the number of bytes used by the signed size field
	// preceding every allocation (free or in-use) within an HBIN.
	CellHeaderSize = 4

	// CellAlignment is the allocation granularity of cells within HBINs.
	CellAlignment = 8

	CellAlignmentMask = CellAlignment - 1
	HBINAlignmentMask = HBINAlignment - 1

	// HBIN field offsets within the header structure.
	HBINSignatureOffset = 0x00
	HBINSignatureSize   = 4
	HBINFileOffsetField = 0x04 // offset echo of this bin, relative to HiveDataBase
	HBINSizeOffset      = 0x08

	// InvalidOffset is the placeholder value used for unused/invalid offset fields.
	InvalidOffset = 0xFFFFFFFF

	// SignatureSize is the standard size for record signatures (NK, VK, SK, ...).
	SignatureSize = 2

	// OffsetFieldSize is the size of cell offset fields (uint32).
	OffsetFieldSize = 4
)

// ============================================================================
// REGF header field offsets
// ============================================================================
const (
	REGFSignatureOffset     = 0x000
	REGFSignatureSize       = 4
	REGFPrimarySeqOffset    = 0x004 // uint32, incremented at write start
	REGFSecondarySeqOffset  = 0x008 // uint32, incremented at write end
	REGFTimeStampOffset     = 0x00C // FILETIME (uint64 LE)
	REGFMajorVersionOffset  = 0x014
	REGFMinorVersionOffset  = 0x018
	REGFTypeOffset          = 0x01C // 0 = primary, 1 = log, 6 = new-format log
	REGFFormatOffset        = 0x020 // 1 = direct memory load
	REGFRootCellOffset      = 0x024 // cell index relative to HiveDataBase
	REGFDataSizeOffset      = 0x028 // total size of hive bin data
	REGFClusterOffset       = 0x02C
	REGFFileNameOffset      = 0x030 // UTF-16LE, 64 bytes
	REGFFileNameSize        = 64
	REGFRmIDOffset          = 0x070 // GUID
	REGFLogIDOffset         = 0x080 // GUID
	REGFFlagsOffset         = 0x090
	REGFTmIDOffset          = 0x094 // GUID
	REGFGuidSigOffset       = 0x0A4
	REGFLastReorgTimeOffset = 0x0A8 // FILETIME or marker 0x1/0x2
	REGFCheckSumOffset      = 0x1FC // XOR-32 of the first 508 bytes
	REGFBootTypeOffset      = 0xFF8
	REGFBootRecovOffset     = 0xFFC
)

// GUIDSize is the byte size of the on-disk GUID fields.
const GUIDSize = 16

// Header checksum covers the first 508 bytes (0x000..0x1FB), i.e. 127 dwords.
const (
	REGFChecksumRegionLen = 508
	REGFChecksumDwords    = 127
)

// REGF file types.
const (
	FileTypePrimary           = 0
	FileTypeTransactionLog    = 1
	FileTypeTransactionLogNew = 6
)

// ============================================================================
// Transaction log entry (HvLE) field offsets
// ============================================================================
const (
	LogEntrySignatureOffset = 0x00 // "HvLE"
	LogEntrySizeOffset      = 0x04 // uint32, multiple of 512
	LogEntryFlagsOffset     = 0x08
	LogEntrySequenceOffset  = 0x0C
	LogEntryDataSizeOffset  = 0x10 // hive bins data size after this entry
	LogEntryPageCountOffset = 0x14 // number of dirty page references
	LogEntryHash1Offset     = 0x18 // Marvin32 over bytes [0x28:Size]
	LogEntryHash2Offset     = 0x20 // Marvin32 over bytes [0x00:0x20]
	LogEntryHeaderSize      = 0x28

	// LogEntryPageRefSize is the size of one dirty page reference:
	// uint32 target offset (relative to HiveDataBase) + uint32 page size.
	LogEntryPageRefSize = 8

	// LogEntryAlignment: entry sizes are multiples of 512 bytes.
	LogEntryAlignment = 512

	// LogEntriesStart is the file offset of the first log entry. The log's
	// base block occupies one 512-byte sector; entries follow page-aligned.
	LogEntriesStart = 0x200
)

// MarvinSeed is the fixed seed Windows uses for log entry hashes.
const MarvinSeed = 0x82EF4D887A4E55C5

// ============================================================================
// NK record (key node) field offsets
// ============================================================================
const (
	NKSignatureOffset      = 0x00 // "nk"
	NKFlagsOffset          = 0x02 // uint16
	NKLastWriteOffset      = 0x04 // FILETIME
	NKAccessBitsOffset     = 0x0C // spare on older hives, access bits on Win8+
	NKParentOffset         = 0x10 // cell index of parent
	NKSubkeyCountOffset    = 0x14 // stable subkey count
	NKVolSubkeyCountOffset = 0x18 // volatile subkey count (never on disk)
	NKSubkeyListOffset     = 0x1C // cell index of stable subkey list
	NKVolSubkeyListOffset  = 0x20 // volatile subkey list offset
	NKValueCountOffset     = 0x24
	NKValueListOffset      = 0x28
	NKSecurityOffset       = 0x2C // cell index of SK record
	NKClassNameOffset      = 0x30 // cell index of class name data
	NKMaxNameLenOffset     = 0x34
	NKMaxClassLenOffset    = 0x38
	NKMaxValueNameOffset   = 0x3C
	NKMaxValueDataOffset   = 0x40
	NKWorkVarOffset        = 0x44
	NKNameLenOffset        = 0x48 // uint16, bytes
	NKClassLenOffset       = 0x4A // uint16, bytes
	NKNameOffset           = 0x4C // inline name bytes
)

// NK flags.
const (
	NKFlagVolatile       = 0x0001
	NKFlagHiveExit       = 0x0002
	NKFlagHiveEntry      = 0x0004 // root key of the hive
	NKFlagNoDelete       = 0x0008
	NKFlagSymlink        = 0x0010
	NKFlagCompressedName = 0x0020 // name stored as 8-bit Windows-1252
	NKFlagPredefined     = 0x0040

	// NKKnownFlagsMask covers every flag bit observed in real hives; used by
	// the recovery scanner's plausibility gate.
	NKKnownFlagsMask = 0x40FF
)

const (
	NKFixedHeaderSize = NKNameOffset // 0x4C
	NKMinSize         = NKFixedHeaderSize
)

// ============================================================================
// VK record (value key) field offsets
// ============================================================================
const (
	VKMinSize = 0x14

	VKSignatureOffset = 0x00 // "vk"
	VKNameLenOffset   = 0x02 // uint16
	VKDataLenOffset   = 0x04 // uint32, high bit = inline flag
	VKDataOffOffset   = 0x08 // data cell index, or inline data bytes
	VKTypeOffset      = 0x0C // uint32 registry type
	VKFlagsOffset     = 0x10 // uint16
	VKSpareOffset     = 0x12
	VKNameOffset      = 0x14 // name bytes begin

	VKFlagASCIIName  = 0x0001     // name stored as Windows-1252
	VKDataInlineBit  = 0x80000000 // high bit of DataLength: data inline in DataOff
	VKDataLengthMask = 0x7FFFFFFF
)

// ============================================================================
// Subkey / value list constants
// ============================================================================
const (
	// ListHeaderSize covers signature (2) + count (2) for LI/LF/LH/RI.
	ListHeaderSize = 4

	// LIEntrySize is one uint32 cell index.
	LIEntrySize = 4

	// LFEntrySize is one {uint32 cell index, uint32 hint-or-hash} pair.
	LFEntrySize = 8
)

// ============================================================================
// SK record (security descriptor) field offsets
// ============================================================================
const (
	SKSignatureOffset        = 0x00 // "sk"
	SKReservedOffset         = 0x02
	SKFlinkOffset            = 0x04 // forward link in the hive-wide SK list
	SKBlinkOffset            = 0x08 // backward link
	SKReferenceCountOffset   = 0x0C // number of key nodes sharing this descriptor
	SKDescriptorLengthOffset = 0x10
	SKDescriptorOffset       = 0x14 // SECURITY_DESCRIPTOR_RELATIVE bytes

	SKHeaderSize = SKDescriptorOffset
	SKMinSize    = SKHeaderSize
)

// ============================================================================
// DB record (big data) field offsets
// ============================================================================
const (
	DBSignatureOffset = 0x00 // "db"
	DBNumBlocksOffset = 0x02 // uint16, 2..65535
	DBBlocklistOffset = 0x04 // cell index of the block offset list
	DBUnknown1Offset  = 0x08

	DBHeaderSize = 0x0C
	DBMinSize    = DBHeaderSize

	// DBChunkSize is the usable data capacity of one big-data block.
	DBChunkSize = 16344

	// DBBlockPadding: each data block carries 4 trailing bytes that must be
	// trimmed when assembling the value.
	DBBlockPadding = 4

	// DBMinBlockCount: a DB record with fewer than 2 blocks indicates
	// corruption; smaller values use inline or single-cell storage.
	DBMinBlockCount = 2
)

// ============================================================================
// Registry value data types and sizes
// ============================================================================
const (
	DWORDSize = 4
	QWORDSize = 8

	RegNone     = 0
	RegSz       = 1
	RegExpandSz = 2
	RegBinary   = 3
	RegDword    = 4
	RegDwordBE  = 5
	RegLink     = 6
	RegMultiSz  = 7
	RegQword    = 11
)
