package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	apperrors "polarcli/internal/errors"
	"polarcli/internal/services"
	"polarcli/internal/stokes"
	"polarcli/pkg/contracts/domain"
)

// progressPrinter reports session stages on stderr so stdout stays
// parseable
func progressPrinter(cmd *cobra.Command) stokes.ProgressFunc {
	w := cmd.ErrOrStderr()
	return func(p domain.Progress) {
		if p.Message != "" {
			fmt.Fprintf(w, "%-10s %s: %s\n", p.Stage, p.Source, p.Message)
			return
		}
		fmt.Fprintf(w, "%-10s %s\n", p.Stage, p.Source)
	}
}

// batchFileJSON is the printable form of one batch entry
type batchFileJSON struct {
	Input  string         `json:"input"`
	Output string         `json:"output,omitempty"`
	Result *stokes.Result `json:"result,omitempty"`
	Error  string         `json:"error,omitempty"`
	Reason string         `json:"reason,omitempty"`
}

type batchReportJSON struct {
	Succeeded  int             `json:"succeeded"`
	Failed     int             `json:"failed"`
	Duration   string          `json:"duration"`
	ReportPath string          `json:"report_path,omitempty"`
	Files      []batchFileJSON `json:"files"`
}

func batchJSON(report *services.BatchReport) batchReportJSON {
	out := batchReportJSON{
		Succeeded:  report.Succeeded,
		Failed:     report.Failed,
		Duration:   report.Duration.String(),
		ReportPath: report.ReportPath,
		Files:      make([]batchFileJSON, 0, len(report.Files)),
	}
	for _, f := range report.Files {
		entry := batchFileJSON{Input: f.Input, Output: f.Output, Result: f.Result}
		if f.Err != nil {
			entry.Error = f.Err.Error()
			entry.Reason = string(apperrors.ReasonOf(f.Err))
		}
		out.Files = append(out.Files, entry)
	}
	return out
}

// printBatch renders a batch report as a table followed by the diagnostics
// of failed files
func printBatch(w io.Writer, report *services.BatchReport) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STATUS\tINPUT\tROWS\tENCODING\tOUTPUT")
	for _, f := range report.Files {
		if f.OK() {
			fmt.Fprintf(tw, "ok\t%s\t%d\t%s\t%s\n", f.Input, f.Result.Summary.Rows, f.Result.Source.Encoding, f.Output)
			continue
		}
		fmt.Fprintf(tw, "failed\t%s\t-\t-\t-\n", f.Input)
	}
	tw.Flush()

	for _, f := range report.Files {
		if f.OK() {
			continue
		}
		fmt.Fprintf(w, "\n%s:\n%s\n", f.Input, apperrors.Diagnose(f.Err))
	}

	fmt.Fprintf(w, "\n%d converted, %d failed in %s\n", report.Succeeded, report.Failed, report.Duration.Round(time.Millisecond))
	if report.ReportPath != "" {
		fmt.Fprintf(w, "Report: %s\n", report.ReportPath)
	}
}
