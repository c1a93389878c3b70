package testutil

import (
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/encoding/unicode"
)

// DefaultPreamble is the two-line banner analyzer exports start with
var DefaultPreamble = []string{
	"Polarization Analyzer PA-530 measurement export",
	"Date: 2024-03-18 14:02:11\tWavelength: 1550 nm",
}

// ChinesePreamble is the banner written by analyzers with a Chinese UI
var ChinesePreamble = []string{
	"偏振分析仪测量数据导出",
	"日期: 2024-03-18 14:02:11\t波长: 1550 nm",
}

// DefaultHeader places the azimuth at index 4
var DefaultHeader = []string{"No", "Time [s]", "Intensity [%]", "DOP [%]", "φ [°]", "PER [dB]"}

// Sample is one measurement row
type Sample struct {
	No        int64
	Intensity float64
	DOP       float64
	Azimuth   float64
	PER       float64
}

// ReferenceSample converts to S0=1, S1≈0, S2≈0.998, S3≈0.0633
var ReferenceSample = Sample{No: 1, Intensity: 100, DOP: 100, Azimuth: 45, PER: 30}

// StandardSamples is a small well-conditioned measurement series
func StandardSamples() []Sample {
	return []Sample{
		ReferenceSample,
		{No: 2, Intensity: 98.5, DOP: 97.2, Azimuth: 12.5, PER: 25.3},
		{No: 3, Intensity: 95.1, DOP: 88.4, Azimuth: -33.7, PER: 18.9},
		{No: 4, Intensity: 90.0, DOP: 75.0, Azimuth: 60.2, PER: 12.1},
		{No: 5, Intensity: 87.3, DOP: 60.5, Azimuth: -71.4, PER: 6.4},
	}
}

// ExportFixture builds analyzer export files for tests
type ExportFixture struct {
	Preamble []string
	Header   []string
	Rows     [][]string
	CRLF     bool
}

// NewExportFixture returns a fixture with the default banner and header
func NewExportFixture() *ExportFixture {
	return &ExportFixture{
		Preamble: append([]string(nil), DefaultPreamble...),
		Header:   append([]string(nil), DefaultHeader...),
	}
}

// WithPreamble replaces the banner lines
func (f *ExportFixture) WithPreamble(lines ...string) *ExportFixture {
	f.Preamble = lines
	return f
}

// WithHeader replaces the header
func (f *ExportFixture) WithHeader(cells ...string) *ExportFixture {
	f.Header = cells
	return f
}

// WithCRLF switches line endings to CRLF
func (f *ExportFixture) WithCRLF() *ExportFixture {
	f.CRLF = true
	return f
}

// AddSamples appends rows in DefaultHeader column order
func (f *ExportFixture) AddSamples(samples ...Sample) *ExportFixture {
	for _, s := range samples {
		f.Rows = append(f.Rows, []string{
			strconv.FormatInt(s.No, 10),
			strconv.FormatFloat(float64(s.No)*0.1, 'f', 1, 64),
			formatCell(s.Intensity),
			formatCell(s.DOP),
			formatCell(s.Azimuth),
			formatCell(s.PER),
		})
	}
	return f
}

// AddRow appends a raw row
func (f *ExportFixture) AddRow(cells ...string) *ExportFixture {
	f.Rows = append(f.Rows, cells)
	return f
}

// Text renders the export as tab-separated text
func (f *ExportFixture) Text() string {
	eol := "\n"
	if f.CRLF {
		eol = "\r\n"
	}
	var b strings.Builder
	for _, line := range f.Preamble {
		b.WriteString(line)
		b.WriteString(eol)
	}
	b.WriteString(strings.Join(f.Header, "\t"))
	b.WriteString(eol)
	for _, row := range f.Rows {
		b.WriteString(strings.Join(row, "\t"))
		b.WriteString(eol)
	}
	return b.String()
}

// Bytes renders the export as UTF-8
func (f *ExportFixture) Bytes() []byte {
	return []byte(f.Text())
}

// GBK renders the export in GBK
func (f *ExportFixture) GBK(t testing.TB) []byte {
	t.Helper()
	out, err := simplifiedchinese.GBK.NewEncoder().String(f.Text())
	if err != nil {
		t.Fatalf("encode GBK: %v", err)
	}
	return []byte(out)
}

// UTF16LE renders the export in UTF-16 little-endian, optionally with a BOM
func (f *ExportFixture) UTF16LE(t testing.TB, bom bool) []byte {
	t.Helper()
	policy := unicode.IgnoreBOM
	if bom {
		policy = unicode.UseBOM
	}
	out, err := unicode.UTF16(unicode.LittleEndian, policy).NewEncoder().String(f.Text())
	if err != nil {
		t.Fatalf("encode UTF-16LE: %v", err)
	}
	return []byte(out)
}

// WriteFile writes data to dir/name and returns the path
func WriteFile(t testing.TB, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("write fixture %s: %v", path, err)
	}
	return path
}

func formatCell(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// ParseCell reads a number written by the CSV export. Empty cells are NaN.
func ParseCell(t testing.TB, s string) float64 {
	t.Helper()
	if s == "" {
		return math.NaN()
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		t.Fatalf("parse cell %q: %v", s, err)
	}
	return f
}
