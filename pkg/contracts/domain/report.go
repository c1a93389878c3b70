package domain

import (
	"fmt"
	"strings"
	"time"
)

// String renders the summary as the plain-text conversion report
func (s ConversionSummary) String() string {
	var b strings.Builder
	b.WriteString("=== Stokes conversion summary ===\n")
	if s.Source != "" {
		fmt.Fprintf(&b, "Source: %s\n", s.Source)
	}
	fmt.Fprintf(&b, "Samples: %d\n", s.Rows)

	b.WriteString("\nStokes parameter statistics:\n")
	for _, p := range []struct {
		name  string
		stats ParameterStats
	}{{"S0", s.S0}, {"S1", s.S1}, {"S2", s.S2}, {"S3", s.S3}} {
		fmt.Fprintf(&b, "%s: mean=%.4f, std=%.4f, range=[%.4f, %.4f]\n",
			p.name, float64(p.stats.Mean), float64(p.stats.Std), float64(p.stats.Min), float64(p.stats.Max))
	}

	b.WriteString("\nDOP check (measured vs calculated):\n")
	fmt.Fprintf(&b, "Mean deviation: %.6f\n", float64(s.DOPDeviationMean))
	fmt.Fprintf(&b, "Max deviation: %.6f\n", float64(s.DOPDeviationMax))
	if s.DegenerateRows > 0 {
		fmt.Fprintf(&b, "Degenerate samples: %d\n", s.DegenerateRows)
	}
	return b.String()
}

// String renders the round-trip comparison
func (r RoundTripReport) String() string {
	var b strings.Builder
	b.WriteString("=== Round-trip check ===\n")
	fmt.Fprintf(&b, "Samples compared: %d of %d (tolerance %g)\n", r.Compared, r.Rows, r.Tolerance)
	fmt.Fprintf(&b, "DOP deviation: mean=%.6g, max=%.6g\n", float64(r.DOPDeviationMean), float64(r.DOPDeviationMax))
	fmt.Fprintf(&b, "Azimuth deviation [°]: mean=%.6g, max=%.6g\n", float64(r.AzimuthDeviationMean), float64(r.AzimuthDeviationMax))
	if r.Passed() {
		b.WriteString("Result: all samples within tolerance\n")
		return b.String()
	}
	fmt.Fprintf(&b, "Result: %d sample(s) outside tolerance: %s\n", len(r.Outliers), joinNumbers(r.Outliers, 20))
	return b.String()
}

func joinNumbers(nums []int64, limit int) string {
	parts := make([]string, 0, limit+1)
	for i, n := range nums {
		if i == limit {
			parts = append(parts, fmt.Sprintf("... (%d more)", len(nums)-limit))
			break
		}
		parts = append(parts, fmt.Sprintf("%d", n))
	}
	return strings.Join(parts, ", ")
}

// ProgressStage names a step of processing one file
type ProgressStage string

const (
	StageLoading    ProgressStage = "loading"
	StageConverting ProgressStage = "converting"
	StageDone       ProgressStage = "done"
	StageFailed     ProgressStage = "failed"
)

// Percent returns the fixed completion percentage reported for a stage
func (s ProgressStage) Percent() int {
	switch s {
	case StageLoading:
		return 25
	case StageConverting:
		return 50
	case StageDone, StageFailed:
		return 100
	}
	return 0
}

// Progress is emitted while a file is processed
type Progress struct {
	Source    string        `json:"source"`
	Stage     ProgressStage `json:"stage"`
	Percent   int           `json:"percent"`
	Message   string        `json:"message,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}
