package txlog

import (
	"fmt"

	"github.com/joshuapare/hivescout/internal/buf"
	"github.com/joshuapare/hivescout/internal/diag"
	"github.com/joshuapare/hivescout/internal/format"
	"github.com/joshuapare/hivescout/pkg/types"
)

// Result describes the outcome of replaying logs onto a base image.
type Result struct {
	// Data is the recovered image. When nothing applied it is the base
	// image unchanged (not a copy).
	Data []byte
	// Applied counts the log entries written into Data.
	Applied int
	// NewSequence is the sequence number the header was stamped with,
	// meaningful when Applied > 0.
	NewSequence uint32
}

// Replay merges the entries of up to two transaction logs and applies them
// to the base hive image.
//
// Acceptance is strictly sequential: the first applicable sequence is the
// base header's secondary sequence number, and each applied entry must carry
// exactly the next number. Windows alternates writes between the two log
// files, so the merged stream draws from both; when both files carry the
// same sequence, preferSecondary picks which copy wins. The first gap or
// apply failure ends the replay, since later entries describe states built
// on the missing one.
//
// The base image is never modified; a working copy is made once the first
// entry applies. After the last entry the header's sequence numbers and
// hive-bins size are updated and the checksum recomputed, so the result is
// a self-consistent hive image.
func Replay(base []byte, col *diag.Collector, preferSecondary bool, logs ...*Log) (Result, error) {
	hdr, err := format.DecodeREGF(base)
	if err != nil {
		return Result{}, types.WrapErr(types.ErrKindFormat, "replay base", err)
	}

	for i, lg := range logs {
		if lg == nil {
			continue
		}
		if lg.RejectedAt >= 0 {
			col.AddIssue(types.SevWarning, types.DiagRecovery, types.CodeLogEntryRejected,
				lg.RejectedAt, "log",
				fmt.Sprintf("log %d: entries from offset %#x rejected: %s", i, lg.RejectedAt, lg.RejectReason))
		}
	}

	// Entries older than the base's secondary sequence are already in the
	// image; they are stale copies, not corruption.
	expected := hdr.SecondarySequence

	var work []byte
	applied := 0
	last := expected
	for {
		e := takeEntry(logs, expected, preferSecondary)
		if e == nil {
			break
		}
		if work == nil {
			work = make([]byte, len(base))
			copy(work, base)
		}
		if err := applyEntry(&work, e); err != nil {
			e.State = StateRejected
			col.AddIssue(types.SevError, types.DiagRecovery, types.CodeLogEntryRejected,
				e.FileOffset, "log",
				fmt.Sprintf("entry seq %d failed to apply: %v; replay stopped", e.Sequence, err))
			break
		}
		e.State = StateApplied
		last = e.Sequence
		applied++
		expected = e.Sequence + 1
	}

	if applied == 0 {
		col.AddIssue(types.SevInfo, types.DiagRecovery, types.CodeNoLogApplied,
			0, "log",
			fmt.Sprintf("no log entry matched expected sequence %d; base image used as-is", expected))
		return Result{Data: base}, nil
	}

	// Stamp the recovered image: both sequence numbers take the last applied
	// sequence, making the image clean.
	buf.PutU32LE(work, format.REGFPrimarySeqOffset, last)
	buf.PutU32LE(work, format.REGFSecondarySeqOffset, last)
	buf.PutU32LE(work, format.REGFCheckSumOffset, format.HeaderChecksum(work))

	return Result{Data: work, Applied: applied, NewSequence: last}, nil
}

// takeEntry returns the parsed entry with the wanted sequence, drawing from
// all logs. With copies in more than one log, preferSecondary selects the
// later file (logs are passed primary first).
func takeEntry(logs []*Log, seq uint32, preferSecondary bool) *Entry {
	var found *Entry
	for i := range logs {
		if logs[i] == nil {
			continue
		}
		for j := range logs[i].Entries {
			e := &logs[i].Entries[j]
			if e.State != StateParsed || e.Sequence != seq {
				continue
			}
			if found == nil || preferSecondary {
				found = e
			}
		}
	}
	return found
}

// applyEntry writes the entry's dirty pages into the working image and
// updates the header's hive-bins size. The image grows when the entry
// declares a larger data region (bin growth is a normal logged operation).
func applyEntry(work *[]byte, e *Entry) error {
	newSize := format.HeaderSize + int(e.HiveBinsDataSize)
	if newSize > len(*work) {
		grown := make([]byte, newSize)
		copy(grown, *work)
		*work = grown
	}

	for i, p := range e.Pages {
		target, ok := buf.AddOverflowSafe(format.HiveDataBase, int(p.TargetOffset))
		if !ok {
			return fmt.Errorf("page %d: target offset %#x overflows", i, p.TargetOffset)
		}
		end, ok := buf.AddOverflowSafe(target, len(p.Data))
		if !ok || end > newSize {
			return fmt.Errorf("page %d: %d bytes at %#x exceed declared image size %d",
				i, len(p.Data), target, newSize)
		}
		copy((*work)[target:end], p.Data)
	}

	buf.PutU32LE(*work, format.REGFDataSizeOffset, e.HiveBinsDataSize)
	return nil
}
