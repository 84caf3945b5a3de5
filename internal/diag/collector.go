// Package diag provides the mutex-guarded diagnostic collector shared by the
// parsing layers. Collection is unconditional: anomalies are cheap to record
// and the report is the only channel through which tolerated corruption is
// visible to callers.
package diag

import (
	"sync"

	"github.com/joshuapare/hivescout/pkg/types"
)

// Collector accumulates diagnostics from concurrent parse activity.
type Collector struct {
	mu     sync.Mutex
	report *types.DiagnosticReport
}

// NewCollector creates a collector for a file of the given size.
func NewCollector(fileSize int64) *Collector {
	r := types.NewDiagnosticReport()
	r.FileSize = fileSize
	return &Collector{report: r}
}

// Add records one diagnostic.
func (c *Collector) Add(d types.Diagnostic) {
	c.mu.Lock()
	c.report.Add(d)
	c.mu.Unlock()
}

// AddIssue is shorthand for the common fields.
func (c *Collector) AddIssue(sev types.Severity, cat types.DiagCategory, code types.Code,
	offset int64, structure, issue string) {
	c.Add(types.Diagnostic{
		Severity:  sev,
		Category:  cat,
		Code:      code,
		Offset:    offset,
		Structure: structure,
		Issue:     issue,
	})
}

// Has reports whether a diagnostic with the given code has been recorded.
func (c *Collector) Has(code types.Code) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, d := range c.report.Diagnostics {
		if d.Code == code {
			return true
		}
	}
	return false
}

// Report finalizes and returns the report. The collector stays usable; a
// later call reflects diagnostics added in between.
func (c *Collector) Report() *types.DiagnosticReport {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.report.Finalize()
	return c.report
}
