// Package types defines the public data types shared across the hive parser:
// typed errors, registry value types, header and record metadata, recovered
// record descriptions, and the diagnostic report surface.
package types

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// -----------------------------------------------------------------------------
// Typed Errors (stable categories for programmatic handling)
// -----------------------------------------------------------------------------

// ErrKind classifies errors so callers can branch on intent rather than text.
type ErrKind int

const (
	ErrKindFormat      ErrKind = iota // malformed headers/signatures (e.g., bad "regf")
	ErrKindCorrupt                    // structural corruption (bad sizes/offsets/tags)
	ErrKindUnsupported                // valid feature we don't support
	ErrKindNotFound                   // missing key/value/path
	ErrKindType                       // requested decode doesn't match value RegType
	ErrKindState                      // invalid operation for current state (e.g., closed)
)

// Error is a typed error with an optional underlying cause.
type Error struct {
	Kind ErrKind
	Msg  string
	Err  error // optional underlying cause
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is makes sentinel comparison work across wrapped copies that share a kind
// and message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && e.Msg == t.Msg
}

// Sentinels returned by the parser.
var (
	// ErrNotHive indicates the file lacks a valid "regf" header.
	ErrNotHive = &Error{Kind: ErrKindFormat, Msg: "not a registry hive (bad regf header)"}
	// ErrCorrupt indicates non-recoverable structural inconsistency.
	ErrCorrupt = &Error{Kind: ErrKindCorrupt, Msg: "corrupt hive structure"}
	// ErrNotLog indicates a buffer passed as a transaction log is not one.
	ErrNotLog = &Error{Kind: ErrKindFormat, Msg: "not a transaction log (bad header)"}
	// ErrUnsupported indicates a recognized but unsupported feature/variant.
	ErrUnsupported = &Error{Kind: ErrKindUnsupported, Msg: "unsupported hive feature"}
	// ErrNotFound indicates a missing key/value/path.
	ErrNotFound = &Error{Kind: ErrKindNotFound, Msg: "not found"}
	// ErrTypeMismatch indicates the requested decode doesn't match the value type.
	ErrTypeMismatch = &Error{Kind: ErrKindType, Msg: "registry value has different type"}
	// ErrClosed indicates use of a hive after Close.
	ErrClosed = &Error{Kind: ErrKindState, Msg: "hive is closed"}
)

// WrapErr builds a typed error around a cause.
func WrapErr(kind ErrKind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// -----------------------------------------------------------------------------
// Registry value types
// -----------------------------------------------------------------------------

// RegType enumerates Windows registry value types. The numbers align with
// the Windows definitions.
type RegType uint32

const (
	REG_NONE                       RegType = 0
	REG_SZ                         RegType = 1
	REG_EXPAND_SZ                  RegType = 2
	REG_BINARY                     RegType = 3
	REG_DWORD                      RegType = 4
	REG_DWORD_BE                   RegType = 5
	REG_LINK                       RegType = 6
	REG_MULTI_SZ                   RegType = 7
	REG_RESOURCE_LIST              RegType = 8
	REG_FULL_RESOURCE_DESCRIPTOR   RegType = 9
	REG_RESOURCE_REQUIREMENTS_LIST RegType = 10
	REG_QWORD                      RegType = 11
)

// String implements the Stringer interface for RegType.
func (t RegType) String() string {
	switch t {
	case REG_NONE:
		return "REG_NONE"
	case REG_SZ:
		return "REG_SZ"
	case REG_EXPAND_SZ:
		return "REG_EXPAND_SZ"
	case REG_BINARY:
		return "REG_BINARY"
	case REG_DWORD:
		return "REG_DWORD"
	case REG_DWORD_BE:
		return "REG_DWORD_BE"
	case REG_LINK:
		return "REG_LINK"
	case REG_MULTI_SZ:
		return "REG_MULTI_SZ"
	case REG_RESOURCE_LIST:
		return "REG_RESOURCE_LIST"
	case REG_FULL_RESOURCE_DESCRIPTOR:
		return "REG_FULL_RESOURCE_DESCRIPTOR"
	case REG_RESOURCE_REQUIREMENTS_LIST:
		return "REG_RESOURCE_REQUIREMENTS_LIST"
	case REG_QWORD:
		return "REG_QWORD"
	default:
		return fmt.Sprintf("UNKNOWN_TYPE_%d", uint32(t))
	}
}

// -----------------------------------------------------------------------------
// Header and record metadata
// -----------------------------------------------------------------------------

// HiveInfo exposes registry hive header (REGF) metadata.
type HiveInfo struct {
	PrimarySequence   uint32
	SecondarySequence uint32
	LastWrite         time.Time
	MajorVersion      uint32
	MinorVersion      uint32
	FileType          uint32 // 0 = primary, 1/6 = transaction log
	FileFormat        uint32
	RootCellOffset    uint32
	HiveBinsDataSize  uint32
	ClusteringFactor  uint32
	FileName          string // embedded partial file path, UTF-16LE on disk
	RmID              uuid.UUID
	LogID             uuid.UUID
	TmID              uuid.UUID
	Flags             uint32
	BootType          uint32
	BootRecover       uint32
	ChecksumValid     bool
	Dirty             bool // sequence numbers disagree; logs may hold newer data
	LogsApplied       int  // log entries replayed into this view
}

// SecurityDescriptor is one entry of the hive's shared security descriptor
// list. Raw bytes are SECURITY_DESCRIPTOR_RELATIVE, undecoded.
type SecurityDescriptor struct {
	Offset         uint32 // cell offset, stable identity within the hive
	ReferenceCount uint32
	Descriptor     []byte
}

// OrphanKind distinguishes what a recovered record decoded as.
type OrphanKind uint8

const (
	OrphanKey OrphanKind = iota
	OrphanValue
)

func (k OrphanKind) String() string {
	if k == OrphanKey {
		return "key"
	}
	return "value"
}

// OrphanRecord describes a deleted or unreachable record recovered from
// free or unlinked cell space. Recovered data is best-effort: cells may have
// been partially reused, so fields can be internally consistent yet stale.
type OrphanRecord struct {
	Kind       OrphanKind
	Offset     uint32 // cell offset the record was found at
	FromFree   bool   // true: free cell; false: allocated but unreachable
	Name       string
	NameLossy  bool
	LastWrite  time.Time // keys only
	Type       RegType   // values only
	DataSize   int       // values only, declared size
	Data       []byte    // values only, when the data cell still resolves
	ParentHint uint32    // keys: former parent offset, unverified
}
