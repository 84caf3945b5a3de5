// Package hive is the public entry point for reading offline Windows
// Registry hive files: the logical key/value tree, header metadata,
// transaction log replay, deleted-record recovery, and the diagnostic
// report describing every tolerated anomaly.
package hive

import (
	"fmt"
	"sync"

	"github.com/joshuapare/hivescout/internal/cellmap"
	"github.com/joshuapare/hivescout/internal/diag"
	"github.com/joshuapare/hivescout/internal/format"
	"github.com/joshuapare/hivescout/internal/mmfile"
	"github.com/joshuapare/hivescout/internal/reader"
	"github.com/joshuapare/hivescout/internal/recovery"
	"github.com/joshuapare/hivescout/internal/txlog"
	"github.com/joshuapare/hivescout/pkg/types"
)

// Hive is a parsed, read-only registry hive. All navigation is lazy: Parse
// decodes the header and builds the cell allocation map, but key and value
// records decode on first touch. A Hive is safe for concurrent readers.
type Hive struct {
	hdr  format.REGFHeader
	rd   *reader.Reader
	col  *diag.Collector
	opts types.Options

	logsApplied int
	cleanup     func() error
	closed      bool

	orphansOnce sync.Once
	orphans     []types.OrphanRecord
}

// Parse parses a hive image held in memory. The buffer is retained and must
// stay alive and unmodified for the lifetime of the Hive. A nil opts selects
// DefaultOptions.
func Parse(data []byte, opts *types.Options) (*Hive, error) {
	return parse(data, nil, nil, opts)
}

// ParseWithLogs parses a hive image after replaying its transaction logs.
// Either log may be nil. Logs are only consulted when the header's sequence
// numbers disagree or the logs carry newer sequences; a clean hive with
// stale logs parses identically to Parse.
func ParseWithLogs(data, primaryLog, secondaryLog []byte, opts *types.Options) (*Hive, error) {
	return parse(data, primaryLog, secondaryLog, opts)
}

// Open maps the file at path and parses it. Close releases the mapping.
func Open(path string, opts *types.Options) (*Hive, error) {
	data, cleanup, err := mmfile.Map(path)
	if err != nil {
		return nil, err
	}
	h, err := Parse(data, opts)
	if err != nil {
		_ = cleanup()
		return nil, err
	}
	h.cleanup = cleanup
	return h, nil
}

// OpenWithLogs maps the hive and its transaction logs ("" skips a log) and
// parses the recovered view.
func OpenWithLogs(path, primaryLogPath, secondaryLogPath string, opts *types.Options) (*Hive, error) {
	data, cleanup, err := mmfile.Map(path)
	if err != nil {
		return nil, err
	}
	cleanups := []func() error{cleanup}
	closeAll := func() error {
		var first error
		for _, c := range cleanups {
			if err := c(); err != nil && first == nil {
				first = err
			}
		}
		return first
	}

	var logs [2][]byte
	for i, p := range []string{primaryLogPath, secondaryLogPath} {
		if p == "" {
			continue
		}
		lg, lgCleanup, err := mmfile.Map(p)
		if err != nil {
			_ = closeAll()
			return nil, err
		}
		cleanups = append(cleanups, lgCleanup)
		logs[i] = lg
	}

	h, err := ParseWithLogs(data, logs[0], logs[1], opts)
	if err != nil {
		_ = closeAll()
		return nil, err
	}
	h.cleanup = closeAll
	return h, nil
}

func parse(data, primaryLog, secondaryLog []byte, optsIn *types.Options) (*Hive, error) {
	opts := types.DefaultOptions()
	if optsIn != nil {
		opts = optsIn.Normalize()
	}
	col := diag.NewCollector(int64(len(data)))

	hdr, err := format.DecodeREGF(data)
	if err != nil {
		return nil, types.WrapErr(types.ErrKindFormat, types.ErrNotHive.Msg, err)
	}
	if hdr.FileType != format.FileTypePrimary {
		return nil, types.WrapErr(types.ErrKindFormat,
			fmt.Sprintf("file type %d is not a primary hive", hdr.FileType), nil)
	}
	if !hdr.ChecksumValid() {
		col.Add(types.Diagnostic{
			Severity:  types.SevWarning,
			Category:  types.DiagIntegrity,
			Code:      types.CodeChecksumMismatch,
			Offset:    format.REGFCheckSumOffset,
			Structure: "regf",
			Issue:     "base block checksum mismatch; header fields may be unreliable",
			Expected:  fmt.Sprintf("%#x", hdr.ComputedChecksum),
			Actual:    fmt.Sprintf("%#x", hdr.StoredChecksum),
		})
	}

	logsApplied := 0
	if primaryLog != nil || secondaryLog != nil {
		data, hdr, logsApplied, err = replayLogs(data, hdr, primaryLog, secondaryLog, opts, col)
		if err != nil {
			return nil, err
		}
	} else if hdr.Dirty() {
		col.AddIssue(types.SevWarning, types.DiagIntegrity, types.CodeNoLogApplied,
			format.REGFPrimarySeqOffset, "regf",
			fmt.Sprintf("hive is dirty (sequences %d/%d) and no transaction logs were provided",
				hdr.PrimarySequence, hdr.SecondarySequence))
	}

	bins, err := binsRegion(data, hdr, col)
	if err != nil {
		return nil, err
	}
	cm, err := cellmap.Build(bins, opts.MaxCellSize, col)
	if err != nil {
		return nil, err
	}

	return &Hive{
		hdr:         hdr,
		rd:          reader.New(cm, col, opts),
		col:         col,
		opts:        opts,
		logsApplied: logsApplied,
	}, nil
}

// replayLogs parses whichever logs were provided and applies them.
func replayLogs(data []byte, hdr format.REGFHeader, primaryLog, secondaryLog []byte,
	opts types.Options, col *diag.Collector) ([]byte, format.REGFHeader, int, error) {

	parseOne := func(name string, raw []byte) *txlog.Log {
		if raw == nil {
			return nil
		}
		lg, err := txlog.Parse(raw)
		if err != nil {
			col.AddIssue(types.SevError, types.DiagRecovery, types.CodeLogEntryRejected,
				0, "log", fmt.Sprintf("%s log unusable: %v", name, err))
			return nil
		}
		return lg
	}
	primary := parseOne("primary", primaryLog)
	secondary := parseOne("secondary", secondaryLog)

	res, err := txlog.Replay(data, col, opts.PreferSecondaryLog, primary, secondary)
	if err != nil {
		return nil, format.REGFHeader{}, 0, err
	}
	if res.Applied == 0 {
		return data, hdr, 0, nil
	}
	newHdr, err := format.DecodeREGF(res.Data)
	if err != nil {
		return nil, format.REGFHeader{}, 0, types.WrapErr(types.ErrKindCorrupt,
			"header unreadable after log replay", err)
	}
	return res.Data, newHdr, res.Applied, nil
}

// binsRegion slices the data region out of the image, tolerating a file
// shorter than the header's declared size.
func binsRegion(data []byte, hdr format.REGFHeader, col *diag.Collector) ([]byte, error) {
	if len(data) <= format.HeaderSize {
		return nil, types.WrapErr(types.ErrKindCorrupt, "hive has no bin data", nil)
	}
	end := format.HeaderSize + int(hdr.HiveBinsDataSize)
	if end > len(data) {
		col.AddIssue(types.SevWarning, types.DiagStructure, types.CodeTruncatedCell,
			format.REGFDataSizeOffset, "regf",
			fmt.Sprintf("header declares %d bytes of bin data, file holds %d",
				hdr.HiveBinsDataSize, len(data)-format.HeaderSize))
		end = len(data)
	}
	return data[format.HeaderSize:end], nil
}

// Close releases the file mapping, if any. Keys, values, and data slices
// obtained from the hive are invalid afterwards.
func (h *Hive) Close() error {
	if h.closed {
		return nil
	}
	h.closed = true
	if h.cleanup != nil {
		return h.cleanup()
	}
	return nil
}

// Info returns header metadata for the parsed (possibly log-recovered) view.
func (h *Hive) Info() types.HiveInfo {
	return types.HiveInfo{
		PrimarySequence:   h.hdr.PrimarySequence,
		SecondarySequence: h.hdr.SecondarySequence,
		LastWrite:         format.FiletimeToTime(h.hdr.TimestampRaw),
		MajorVersion:      h.hdr.MajorVersion,
		MinorVersion:      h.hdr.MinorVersion,
		FileType:          h.hdr.FileType,
		FileFormat:        h.hdr.FileFormat,
		RootCellOffset:    h.hdr.RootCellOffset,
		HiveBinsDataSize:  h.hdr.HiveBinsDataSize,
		ClusteringFactor:  h.hdr.ClusteringFactor,
		FileName:          h.hdr.FileName,
		RmID:              h.hdr.RmID,
		LogID:             h.hdr.LogID,
		TmID:              h.hdr.TmID,
		Flags:             h.hdr.Flags,
		BootType:          h.hdr.BootType,
		BootRecover:       h.hdr.BootRecover,
		ChecksumValid:     h.hdr.ChecksumValid(),
		Dirty:             h.hdr.Dirty(),
		LogsApplied:       h.logsApplied,
	}
}

// Root returns the root key.
func (h *Hive) Root() (*Key, error) {
	if h.closed {
		return nil, types.ErrClosed
	}
	return h.keyAt(h.hdr.RootCellOffset, nil)
}

// KeyAt resolves a backslash-separated path relative to the root, matching
// names case-insensitively the way the registry does.
func (h *Hive) KeyAt(path string) (*Key, error) {
	k, err := h.Root()
	if err != nil {
		return nil, err
	}
	for _, part := range splitPath(path) {
		k, err = k.Subkey(part)
		if err != nil {
			return nil, err
		}
	}
	return k, nil
}

// Walk visits every reachable key in pre-order, honoring the depth bound and
// cycle guards. Returning SkipSubtree from fn prunes the subtree; any other
// error aborts the walk.
func (h *Hive) Walk(fn func(*Key) error) error {
	root, err := h.Root()
	if err != nil {
		return err
	}
	return walk(root, fn)
}

// Orphans runs the deleted-record recovery scan on first call and returns
// the recovered records. Returns nil when Options.RecoverDeleted is unset.
func (h *Hive) Orphans() []types.OrphanRecord {
	if !h.opts.RecoverDeleted || h.closed {
		return nil
	}
	h.orphansOnce.Do(func() {
		h.orphans = recovery.New(h.rd).Scan(h.hdr.RootCellOffset)
	})
	return h.orphans
}

// SecurityChain walks the hive-wide security descriptor list starting from
// the root key's descriptor.
func (h *Hive) SecurityChain() ([]types.SecurityDescriptor, error) {
	root, err := h.Root()
	if err != nil {
		return nil, err
	}
	return h.rd.SecurityChain(root.nk.SecurityOffset), nil
}

// Diagnostics returns the report of everything tolerated so far. Lazy
// operations performed after this call append to a later report.
func (h *Hive) Diagnostics() *types.DiagnosticReport {
	return h.col.Report()
}

func walk(k *Key, fn func(*Key) error) error {
	if err := fn(k); err != nil {
		if err == SkipSubtree {
			return nil
		}
		return err
	}
	children, err := k.Subkeys()
	if err != nil {
		return err
	}
	for _, c := range children {
		if err := walk(c, fn); err != nil {
			return err
		}
	}
	return nil
}

func splitPath(path string) []string {
	var parts []string
	start := 0
	for i := 0; i <= len(path); i++ {
		if i == len(path) || path[i] == '\\' {
			if i > start {
				parts = append(parts, path[start:i])
			}
			start = i + 1
		}
	}
	return parts
}
