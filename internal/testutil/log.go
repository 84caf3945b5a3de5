package testutil

import (
	"encoding/binary"

	"github.com/joshuapare/hivescout/internal/format"
	"github.com/joshuapare/hivescout/internal/txlog"
)

// LogPage is one dirty page for a synthetic transaction log entry.
type LogPage struct {
	Target uint32 // offset relative to the bin region
	Data   []byte
}

// BinPage builds a full dirty page image carrying a valid bin header, the
// unit transaction logs write.
func BinPage(echo uint32, fill byte) []byte {
	p := make([]byte, format.HBINAlignment)
	copy(p, format.HBINSignature)
	binary.LittleEndian.PutUint32(p[format.HBINFileOffsetField:], echo)
	binary.LittleEndian.PutUint32(p[format.HBINSizeOffset:], format.HBINAlignment)
	for i := format.HBINHeaderSize; i < len(p); i++ {
		p[i] = fill
	}
	return p
}

// BuildLogEntry assembles one HvLE entry with valid Marvin32 hashes.
func BuildLogEntry(seq, binsSize uint32, pages ...LogPage) []byte {
	refsSize := len(pages) * format.LogEntryPageRefSize
	dataSize := 0
	for _, p := range pages {
		dataSize += len(p.Data)
	}
	raw := format.LogEntryHeaderSize + refsSize + dataSize
	size := (raw + format.LogEntryAlignment - 1) &^ (format.LogEntryAlignment - 1)

	e := make([]byte, size)
	copy(e, format.HvLESignature)
	binary.LittleEndian.PutUint32(e[format.LogEntrySizeOffset:], uint32(size))
	binary.LittleEndian.PutUint32(e[format.LogEntrySequenceOffset:], seq)
	binary.LittleEndian.PutUint32(e[format.LogEntryDataSizeOffset:], binsSize)
	binary.LittleEndian.PutUint32(e[format.LogEntryPageCountOffset:], uint32(len(pages)))

	off := format.LogEntryHeaderSize
	dataOff := format.LogEntryHeaderSize + refsSize
	for _, p := range pages {
		binary.LittleEndian.PutUint32(e[off:], p.Target)
		binary.LittleEndian.PutUint32(e[off+4:], uint32(len(p.Data)))
		copy(e[dataOff:], p.Data)
		off += format.LogEntryPageRefSize
		dataOff += len(p.Data)
	}

	binary.LittleEndian.PutUint64(e[format.LogEntryHash1Offset:],
		txlog.Marvin32(format.MarvinSeed, e[format.LogEntryHeaderSize:]))
	binary.LittleEndian.PutUint64(e[format.LogEntryHash2Offset:],
		txlog.Marvin32(format.MarvinSeed, e[:format.LogEntryHash2Offset]))
	return e
}

// BuildLog assembles a new-format transaction log file: a 512-byte base
// block followed by the given entries.
func BuildLog(entries ...[]byte) []byte {
	hdr := make([]byte, format.HeaderSize)
	copy(hdr, format.REGFSignature)
	binary.LittleEndian.PutUint32(hdr[format.REGFPrimarySeqOffset:], 1)
	binary.LittleEndian.PutUint32(hdr[format.REGFSecondarySeqOffset:], 1)
	binary.LittleEndian.PutUint32(hdr[format.REGFMajorVersionOffset:], 1)
	binary.LittleEndian.PutUint32(hdr[format.REGFMinorVersionOffset:], 5)
	binary.LittleEndian.PutUint32(hdr[format.REGFTypeOffset:], format.FileTypeTransactionLogNew)
	binary.LittleEndian.PutUint32(hdr[format.REGFFormatOffset:], 1)
	binary.LittleEndian.PutUint32(hdr[format.REGFCheckSumOffset:], format.HeaderChecksum(hdr))

	out := hdr[:format.LogEntriesStart]
	for _, e := range entries {
		out = append(out, e...)
	}
	return out
}
