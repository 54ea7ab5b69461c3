// Package diagnose scans a finished child's structured log, applies the
// scope's noise filters, and reports the errors that remain.
package diagnose

import (
	"fmt"
	"strings"

	"github.com/quazardous/sailing/internal/noise"
	"github.com/quazardous/sailing/internal/tail"
)

// Options bound the report size.
type Options struct {
	MaxErrors int // error samples kept
	MaxLen    int // max runes per sample
}

// DefaultOptions matches the shipped config defaults.
func DefaultOptions() Options {
	return Options{MaxErrors: 5, MaxLen: 400}
}

// Sample is one surviving error event.
type Sample struct {
	Type    string `json:"type"`
	Summary string `json:"summary"`
}

// Report is the diagnose outcome for one run.
type Report struct {
	TaskID      string   `json:"task_id"`
	TotalEvents int      `json:"total_events"`
	Filtered    int      `json:"filtered"`
	ErrorCount  int      `json:"error_count"`
	Errors      []Sample `json:"errors,omitempty"`
	Unparsable  int      `json:"unparsable,omitempty"`
}

// Clean reports whether nothing actionable remains.
func (r *Report) Clean() bool { return r.ErrorCount == 0 }

// Scan reads the structured log and produces the report. Noise filters are
// applied in order; a filtered event never appears in the report
// regardless of where it sits in the log.
func Scan(taskID, jsonlogPath string, filters *noise.Set, epicID, prdID string, opts Options) (*Report, error) {
	if opts.MaxErrors <= 0 {
		opts.MaxErrors = DefaultOptions().MaxErrors
	}
	if opts.MaxLen <= 0 {
		opts.MaxLen = DefaultOptions().MaxLen
	}

	events, err := tail.ReadAllEvents(jsonlogPath)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", jsonlogPath, err)
	}

	report := &Report{TaskID: taskID}
	for _, ev := range events {
		if ev.Err != nil {
			report.Unparsable++
			continue
		}
		report.TotalEvents++
		if ev.Parsed.Suppressed(filters, epicID, prdID) {
			report.Filtered++
			continue
		}
		if !ev.Parsed.IsErrorLike() {
			continue
		}
		report.ErrorCount++
		if len(report.Errors) < opts.MaxErrors {
			report.Errors = append(report.Errors, Sample{
				Type:    ev.Parsed.Type,
				Summary: ev.Parsed.Summarize(opts.MaxLen),
			})
		}
	}
	return report, nil
}

// ActionRequired renders the human-readable block shown when errors
// remain: how to suppress a recurring harmless pattern, and where real
// issues go.
func (r *Report) ActionRequired() string {
	if r.Clean() {
		return ""
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "action required: %d error event(s) in the run log of %s\n", r.ErrorCount, r.TaskID)
	for i, s := range r.Errors {
		fmt.Fprintf(&sb, "  %d. [%s] %s\n", i+1, s.Type, s.Summary)
	}
	if r.ErrorCount > len(r.Errors) {
		fmt.Fprintf(&sb, "  ... and %d more\n", r.ErrorCount-len(r.Errors))
	}
	sb.WriteString("\n")
	sb.WriteString("If a pattern is harmless noise, teach the filter:\n")
	fmt.Fprintf(&sb, "  sailing noise add --contains '<pattern>' --description '<why>'\n")
	fmt.Fprintf(&sb, "For real issues, inspect the full log with `sailing log %s -e 50` and reject or respawn the task.\n", r.TaskID)
	return sb.String()
}
