// Package txlog parses Windows registry transaction logs and replays their
// dirty pages onto a base hive image. Only the new-format (HvLE) log is
// replayed; old-format dirty-vector logs are recognized and rejected with a
// diagnostic since they carry no per-entry sequencing or hashes.
package txlog

import (
	"bytes"
	"fmt"

	"github.com/joshuapare/hivescout/internal/buf"
	"github.com/joshuapare/hivescout/internal/format"
	"github.com/joshuapare/hivescout/pkg/types"
)

// EntryState tracks an entry through validation. Entries advance
// Unvalidated -> Parsed -> Applied or Rejected; a rejected entry also
// rejects everything after it in the same file, because log entries form a
// chain and nothing past a break can be trusted.
type EntryState uint8

const (
	StateUnvalidated EntryState = iota
	StateParsed
	StateApplied
	StateRejected
)

func (s EntryState) String() string {
	switch s {
	case StateUnvalidated:
		return "unvalidated"
	case StateParsed:
		return "parsed"
	case StateApplied:
		return "applied"
	case StateRejected:
		return "rejected"
	}
	return "unknown"
}

// DirtyPage is one page payload of a log entry, targeted at an offset
// relative to the hive bin region.
type DirtyPage struct {
	TargetOffset uint32
	Data         []byte
}

// Entry is a parsed and hash-verified log entry.
type Entry struct {
	Sequence         uint32
	Flags            uint32
	HiveBinsDataSize uint32
	Pages            []DirtyPage
	FileOffset       int64 // where the entry started, for diagnostics
	Source           int   // which log file the entry came from (caller-assigned)
	State            EntryState
}

// Log is one parsed transaction log file.
type Log struct {
	Header  format.REGFHeader
	Entries []Entry // verified entries in file order

	// RejectedAt is the file offset of the first bad entry, or -1 when the
	// whole file parsed clean. Everything from this offset on was dropped.
	RejectedAt int64
	// RejectReason describes why parsing stopped, empty when RejectedAt < 0.
	RejectReason string
}

// Parse validates a transaction log file and returns its verified entries.
// The base block must carry the regf signature with a log file type; HvLE
// entries are then walked from offset 0x200 until the first failure. A
// failed entry is not an error: the log is returned with the tail rejected,
// and the caller decides what that means for recovery.
func Parse(logData []byte) (*Log, error) {
	hdr, err := format.DecodeLogHeader(logData)
	if err != nil {
		return nil, types.WrapErr(types.ErrKindFormat, "transaction log base block", err)
	}
	switch hdr.FileType {
	case format.FileTypeTransactionLogNew:
		// parsed below
	case format.FileTypeTransactionLog:
		return nil, types.WrapErr(types.ErrKindUnsupported,
			"old-format (dirty vector) transaction log is not replayable", nil)
	default:
		return nil, types.WrapErr(types.ErrKindFormat,
			fmt.Sprintf("file type %d is not a transaction log", hdr.FileType), nil)
	}

	log := &Log{Header: hdr, RejectedAt: -1}
	off := format.LogEntriesStart
	for off < len(logData) {
		e, size, err := parseEntry(logData, off)
		if err != nil {
			log.RejectedAt = int64(off)
			log.RejectReason = err.Error()
			break
		}
		e.FileOffset = int64(off)
		e.State = StateParsed
		log.Entries = append(log.Entries, e)
		off += size
	}
	return log, nil
}

// parseEntry decodes and hash-verifies the HvLE entry at off.
func parseEntry(b []byte, off int) (Entry, int, error) {
	head, ok := buf.Slice(b, off, format.LogEntryHeaderSize)
	if !ok {
		return Entry{}, 0, fmt.Errorf("log entry at %#x: %w", off, format.ErrTruncated)
	}
	if !bytes.Equal(head[:4], format.HvLESignature) {
		return Entry{}, 0, fmt.Errorf("log entry at %#x: %w", off, format.ErrSignatureMismatch)
	}

	size := int(buf.U32LE(head[format.LogEntrySizeOffset:]))
	if size < format.LogEntryHeaderSize || size%format.LogEntryAlignment != 0 {
		return Entry{}, 0, fmt.Errorf("log entry at %#x: invalid size %d", off, size)
	}
	entry, ok := buf.Slice(b, off, size)
	if !ok {
		return Entry{}, 0, fmt.Errorf("log entry at %#x: declared size %d: %w",
			off, size, format.ErrTruncated)
	}

	e := Entry{
		Flags:            buf.U32LE(head[format.LogEntryFlagsOffset:]),
		Sequence:         buf.U32LE(head[format.LogEntrySequenceOffset:]),
		HiveBinsDataSize: buf.U32LE(head[format.LogEntryDataSizeOffset:]),
	}
	pageCount := int(buf.U32LE(head[format.LogEntryPageCountOffset:]))
	hash1 := buf.U64LE(head[format.LogEntryHash1Offset:])
	hash2 := buf.U64LE(head[format.LogEntryHash2Offset:])

	// Hash2 covers the first 32 bytes of the header, hash1 the rest of the
	// entry. Hash2 is checked first so a corrupt header is reported before
	// the (much larger) body is touched.
	if got := Marvin32(format.MarvinSeed, entry[:format.LogEntryHash2Offset]); got != hash2 {
		return Entry{}, 0, fmt.Errorf("log entry at %#x: header hash mismatch (stored %#x, computed %#x)",
			off, hash2, got)
	}
	if got := Marvin32(format.MarvinSeed, entry[format.LogEntryHeaderSize:]); got != hash1 {
		return Entry{}, 0, fmt.Errorf("log entry at %#x: body hash mismatch (stored %#x, computed %#x)",
			off, hash1, got)
	}

	// Dirty page references follow the header; page data follows the refs.
	refsEnd, err := buf.CheckListBounds(size, format.LogEntryHeaderSize, pageCount, format.LogEntryPageRefSize)
	if err != nil {
		return Entry{}, 0, fmt.Errorf("log entry at %#x: page refs: %v", off, err)
	}
	dataOff := refsEnd
	e.Pages = make([]DirtyPage, 0, pageCount)
	for i := 0; i < pageCount; i++ {
		ref := entry[format.LogEntryHeaderSize+i*format.LogEntryPageRefSize:]
		target := buf.U32LE(ref)
		pageSize := int(buf.U32LE(ref[4:]))
		data, ok := buf.Slice(entry, dataOff, pageSize)
		if !ok {
			return Entry{}, 0, fmt.Errorf("log entry at %#x: page %d data (%d bytes at %#x): %w",
				off, i, pageSize, dataOff, format.ErrTruncated)
		}
		e.Pages = append(e.Pages, DirtyPage{TargetOffset: target, Data: data})
		dataOff += pageSize
	}

	return e, size, nil
}
