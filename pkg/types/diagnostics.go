package types

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// -----------------------------------------------------------------------------
// Diagnostic System
// -----------------------------------------------------------------------------
//
// Structural anomalies never abort a parse unless the data is unusable
// (bad magic, truncated header). Everything else is recorded here: the parse
// continues with the affected branch skipped and the caller inspects the
// report afterwards. Collection is always on; every diagnostic carries the
// exact byte offset and a stable condition code for programmatic filtering.

// Severity classifies how serious a diagnostic issue is.
type Severity int

const (
	SevInfo     Severity = iota // unusual but valid
	SevWarning                  // non-critical, data may be incomplete
	SevError                    // a key, value, or branch is inaccessible
	SevCritical                 // structural corruption affecting large regions
)

func (s Severity) String() string {
	switch s {
	case SevInfo:
		return "INFO"
	case SevWarning:
		return "WARNING"
	case SevError:
		return "ERROR"
	case SevCritical:
		return "CRITICAL"
	}
	return fmt.Sprintf("SEVERITY_%d", int(s))
}

// MarshalJSON renders severities as their names.
func (s Severity) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// DiagCategory classifies the type of issue found.
type DiagCategory int

const (
	DiagStructure DiagCategory = iota // REGF/HBIN/cell structure problems
	DiagData                          // value data corruption or truncation
	DiagIntegrity                     // checksums, links, references broken
	DiagRecovery                      // transaction log and deleted-record findings
)

func (c DiagCategory) String() string {
	switch c {
	case DiagStructure:
		return "structure"
	case DiagData:
		return "data"
	case DiagIntegrity:
		return "integrity"
	case DiagRecovery:
		return "recovery"
	}
	return fmt.Sprintf("category_%d", int(c))
}

// MarshalJSON renders categories as their names.
func (c DiagCategory) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

// Code is a stable condition code identifying what was detected. Codes are
// part of the API: callers filter on them, so values never change meaning.
type Code string

const (
	CodeChecksumMismatch      Code = "checksum-mismatch"
	CodeTruncatedCell         Code = "truncated-cell"
	CodeZeroSizeCell          Code = "zero-size-cell"
	CodeUnrecognizedSignature Code = "unrecognized-signature"
	CodeCycleDetected         Code = "cycle-detected"
	CodeDepthExceeded         Code = "depth-exceeded"
	CodeInvalidStringEncoding Code = "invalid-string-encoding"
	CodeDanglingOffset        Code = "dangling-offset"
	CodeCountMismatch         Code = "count-mismatch"
	CodeNoLogApplied          Code = "no-log-applied"
	CodeLogEntryRejected      Code = "log-entry-rejected"
	CodeOrphanDuplicate       Code = "orphan-duplicate"
)

// Diagnostic represents a single issue found in the hive.
type Diagnostic struct {
	Severity  Severity     `json:"severity"`
	Category  DiagCategory `json:"category"`
	Code      Code         `json:"code"`
	Offset    int64        `json:"offset"`             // byte offset in the file
	Structure string       `json:"structure"`          // "regf", "hbin", "nk", "vk", "log", ...
	Issue     string       `json:"issue"`              // human-readable description
	Expected  any          `json:"expected,omitempty"` // what the format requires
	Actual    any          `json:"actual,omitempty"`   // what was found
	KeyPath   string       `json:"key_path,omitempty"` // logical path when known
}

// DiagnosticReport collects all diagnostics found during a parse.
type DiagnosticReport struct {
	FileSize    int64        `json:"file_size"`
	Diagnostics []Diagnostic `json:"diagnostics"`
	Summary     DiagSummary  `json:"summary"`

	// Pre-computed groupings, populated by Finalize.
	BySeverity map[Severity][]Diagnostic `json:"-"`
	ByCode     map[Code][]Diagnostic     `json:"-"`
	ByOffset   []Diagnostic              `json:"-"`
}

// DiagSummary provides quick statistics.
type DiagSummary struct {
	Critical int `json:"critical"`
	Errors   int `json:"errors"`
	Warnings int `json:"warnings"`
	Info     int `json:"info"`
}

// NewDiagnosticReport creates an empty report.
func NewDiagnosticReport() *DiagnosticReport {
	return &DiagnosticReport{
		BySeverity: make(map[Severity][]Diagnostic),
		ByCode:     make(map[Code][]Diagnostic),
	}
}

// Add appends a diagnostic and updates the summary and groupings.
func (r *DiagnosticReport) Add(d Diagnostic) {
	r.Diagnostics = append(r.Diagnostics, d)

	switch d.Severity {
	case SevCritical:
		r.Summary.Critical++
	case SevError:
		r.Summary.Errors++
	case SevWarning:
		r.Summary.Warnings++
	case SevInfo:
		r.Summary.Info++
	}

	r.BySeverity[d.Severity] = append(r.BySeverity[d.Severity], d)
	r.ByCode[d.Code] = append(r.ByCode[d.Code], d)
}

// Finalize sorts diagnostics by offset and prepares the report for output.
func (r *DiagnosticReport) Finalize() {
	r.ByOffset = make([]Diagnostic, len(r.Diagnostics))
	copy(r.ByOffset, r.Diagnostics)
	sort.SliceStable(r.ByOffset, func(i, j int) bool {
		return r.ByOffset[i].Offset < r.ByOffset[j].Offset
	})
}

// Has reports whether any diagnostic with the given code was recorded.
func (r *DiagnosticReport) Has(code Code) bool {
	return len(r.ByCode[code]) > 0
}

// HasErrors returns true if any errors or critical issues were found.
func (r *DiagnosticReport) HasErrors() bool {
	return r.Summary.Critical > 0 || r.Summary.Errors > 0
}

// HasAnyIssues returns true if anything at all was recorded.
func (r *DiagnosticReport) HasAnyIssues() bool {
	return len(r.Diagnostics) > 0
}

// FormatJSON returns the report as formatted JSON (2-space indentation).
func (r *DiagnosticReport) FormatJSON() (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// FormatText returns a human-readable text report.
func (r *DiagnosticReport) FormatText() string {
	var b strings.Builder

	b.WriteString(strings.Repeat("=", 79) + "\n")
	b.WriteString("Registry Hive Diagnostic Report\n")
	b.WriteString(strings.Repeat("=", 79) + "\n\n")

	b.WriteString(fmt.Sprintf("Size: %d bytes\n\n", r.FileSize))

	b.WriteString("SUMMARY\n")
	b.WriteString(strings.Repeat("-", 79) + "\n")
	b.WriteString(fmt.Sprintf("  Critical: %d\n", r.Summary.Critical))
	b.WriteString(fmt.Sprintf("  Errors:   %d\n", r.Summary.Errors))
	b.WriteString(fmt.Sprintf("  Warnings: %d\n", r.Summary.Warnings))
	b.WriteString(fmt.Sprintf("  Info:     %d\n\n", r.Summary.Info))

	if len(r.Diagnostics) == 0 {
		b.WriteString("No issues found.\n")
		return b.String()
	}

	b.WriteString("DIAGNOSTICS\n")
	b.WriteString(strings.Repeat("-", 79) + "\n")

	for _, severity := range []Severity{SevCritical, SevError, SevWarning, SevInfo} {
		diags := r.BySeverity[severity]
		if len(diags) == 0 {
			continue
		}
		b.WriteString(fmt.Sprintf("\n%s (%d)\n", severity, len(diags)))
		for i, d := range diags {
			b.WriteString(fmt.Sprintf("\n%d. [%s/%s/%s] at offset 0x%X\n",
				i+1, d.Structure, d.Category, d.Code, d.Offset))
			b.WriteString(fmt.Sprintf("   %s\n", d.Issue))
			if d.Expected != nil {
				b.WriteString(fmt.Sprintf("   Expected: %v\n", d.Expected))
			}
			if d.Actual != nil {
				b.WriteString(fmt.Sprintf("   Actual:   %v\n", d.Actual))
			}
			if d.KeyPath != "" {
				b.WriteString(fmt.Sprintf("   Path:     %s\n", d.KeyPath))
			}
		}
	}
	b.WriteString("\n")

	return b.String()
}

// FormatTextCompact returns a compact one-line-per-issue text format.
func (r *DiagnosticReport) FormatTextCompact() string {
	if len(r.Diagnostics) == 0 {
		return "No issues found.\n"
	}
	var b strings.Builder
	rows := r.ByOffset
	if rows == nil {
		rows = r.Diagnostics
	}
	for _, d := range rows {
		b.WriteString(fmt.Sprintf("0x%08X [%s/%s/%s] %s\n",
			d.Offset, d.Severity, d.Structure, d.Code, d.Issue))
	}
	return b.String()
}
