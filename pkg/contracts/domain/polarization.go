package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// Input column names as written by the polarization analyzer export
const (
	ColumnNo        = "No"
	ColumnIntensity = "Intensity [%]"
	ColumnDOP       = "DOP [%]"
	ColumnAzimuth   = "φ [°]"
	ColumnPER       = "PER [dB]"

	// AzimuthPosition is the zero-based column used when ColumnAzimuth is absent
	AzimuthPosition = 4
)

// StokesHeaders is the exported column order of a StokesTable
var StokesHeaders = []string{
	"No", "S0", "S1", "S2", "S3", "DOP_calculated",
	"Azimuth_original [°]", "PER_original [dB]", "Intensity_original [%]",
}

// PropertyHeaders is the exported column order of a PropertyTable, without No
var PropertyHeaders = []string{
	"DOP [%]", "Azimuth_calculated [°]", "Ellipticity_angle [°]",
	"Ellipticity_ratio", "Linear_DOP [%]", "Circular_DOP [%]",
}

// EncodingResolution records how the text encoding of a source was chosen
type EncodingResolution string

const (
	ResolutionCandidate EncodingResolution = "candidate"
	ResolutionDetected  EncodingResolution = "detected"
	ResolutionWorkbook  EncodingResolution = "workbook"
)

// Float is a float64 that marshals non-finite values as JSON null
type Float float64

// MarshalJSON implements json.Marshaler
func (f Float) MarshalJSON() ([]byte, error) {
	v := float64(f)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return []byte("null"), nil
	}
	return json.Marshal(v)
}

// UnmarshalJSON implements json.Unmarshaler
func (f *Float) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*f = Float(math.NaN())
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*f = Float(v)
	return nil
}

// SourceInfo describes where a RawSampleTable came from
type SourceInfo struct {
	Name              string             `json:"name"`
	Encoding          string             `json:"encoding"`
	Resolution        EncodingResolution `json:"resolution"`
	Confidence        int                `json:"confidence,omitempty"`
	Digest            string             `json:"digest"`
	Size              int64              `json:"size"`
	SkippedLines      int                `json:"skipped_lines"`
	Header            []string           `json:"header"`
	AzimuthColumn     string             `json:"azimuth_column"`
	AzimuthPositional bool               `json:"azimuth_positional"`
	LoadedAt          time.Time          `json:"loaded_at"`
}

// RawSampleTable holds the measured samples of one file in source order.
// All column slices have the same length.
type RawSampleTable struct {
	Source    SourceInfo
	No        []int64
	Intensity []float64 // percent
	DOP       []float64 // percent
	Azimuth   []float64 // degrees
	PER       []float64 // dB
}

// NewRawSampleTable allocates a table with capacity for n rows
func NewRawSampleTable(n int) *RawSampleTable {
	return &RawSampleTable{
		No:        make([]int64, 0, n),
		Intensity: make([]float64, 0, n),
		DOP:       make([]float64, 0, n),
		Azimuth:   make([]float64, 0, n),
		PER:       make([]float64, 0, n),
	}
}

// Append adds one sample row
func (t *RawSampleTable) Append(no int64, intensity, dop, azimuth, per float64) {
	t.No = append(t.No, no)
	t.Intensity = append(t.Intensity, intensity)
	t.DOP = append(t.DOP, dop)
	t.Azimuth = append(t.Azimuth, azimuth)
	t.PER = append(t.PER, per)
}

// Len returns the number of rows
func (t *RawSampleTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.No)
}

// Validate checks that all columns are the same length
func (t *RawSampleTable) Validate() error {
	n := len(t.No)
	for name, col := range map[string][]float64{
		ColumnIntensity: t.Intensity,
		ColumnDOP:       t.DOP,
		ColumnAzimuth:   t.Azimuth,
		ColumnPER:       t.PER,
	} {
		if len(col) != n {
			return fmt.Errorf("column %q has %d rows, expected %d", name, len(col), n)
		}
	}
	return nil
}

// StokesTable holds the Stokes vector of every sample plus the original
// measurements it was derived from. It is never mutated after creation.
type StokesTable struct {
	No                []int64
	S0                []float64
	S1                []float64
	S2                []float64
	S3                []float64
	DOPCalculated     []float64
	AzimuthOriginal   []float64
	PEROriginal       []float64
	IntensityOriginal []float64

	// DegenerateRows counts rows with at least one non-finite output
	DegenerateRows int
}

// Len returns the number of rows
func (t *StokesTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.No)
}

// StokesRecord is a row view of a StokesTable
type StokesRecord struct {
	No                int64 `json:"no"`
	S0                Float `json:"s0"`
	S1                Float `json:"s1"`
	S2                Float `json:"s2"`
	S3                Float `json:"s3"`
	DOPCalculated     Float `json:"dop_calculated"`
	AzimuthOriginal   Float `json:"azimuth_original"`
	PEROriginal       Float `json:"per_original"`
	IntensityOriginal Float `json:"intensity_original"`
}

// Record returns row i
func (t *StokesTable) Record(i int) StokesRecord {
	return StokesRecord{
		No:                t.No[i],
		S0:                Float(t.S0[i]),
		S1:                Float(t.S1[i]),
		S2:                Float(t.S2[i]),
		S3:                Float(t.S3[i]),
		DOPCalculated:     Float(t.DOPCalculated[i]),
		AzimuthOriginal:   Float(t.AzimuthOriginal[i]),
		PEROriginal:       Float(t.PEROriginal[i]),
		IntensityOriginal: Float(t.IntensityOriginal[i]),
	}
}

// Records returns every row in order
func (t *StokesTable) Records() []StokesRecord {
	out := make([]StokesRecord, t.Len())
	for i := range out {
		out[i] = t.Record(i)
	}
	return out
}

// Values returns the exported cells of row i in StokesHeaders order, No excluded
func (t *StokesTable) Values(i int) []float64 {
	return []float64{
		t.S0[i], t.S1[i], t.S2[i], t.S3[i], t.DOPCalculated[i],
		t.AzimuthOriginal[i], t.PEROriginal[i], t.IntensityOriginal[i],
	}
}

// PropertyTable holds polarization properties recomputed from a StokesTable
type PropertyTable struct {
	No                []int64
	DOP               []float64 // percent
	AzimuthCalculated []float64 // degrees
	EllipticityAngle  []float64 // degrees
	EllipticityRatio  []float64
	LinearDOP         []float64 // percent
	CircularDOP       []float64 // percent
}

// Len returns the number of rows
func (t *PropertyTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.No)
}

// PropertyRecord is a row view of a PropertyTable
type PropertyRecord struct {
	No                int64 `json:"no"`
	DOP               Float `json:"dop"`
	AzimuthCalculated Float `json:"azimuth_calculated"`
	EllipticityAngle  Float `json:"ellipticity_angle"`
	EllipticityRatio  Float `json:"ellipticity_ratio"`
	LinearDOP         Float `json:"linear_dop"`
	CircularDOP       Float `json:"circular_dop"`
}

// Record returns row i
func (t *PropertyTable) Record(i int) PropertyRecord {
	return PropertyRecord{
		No:                t.No[i],
		DOP:               Float(t.DOP[i]),
		AzimuthCalculated: Float(t.AzimuthCalculated[i]),
		EllipticityAngle:  Float(t.EllipticityAngle[i]),
		EllipticityRatio:  Float(t.EllipticityRatio[i]),
		LinearDOP:         Float(t.LinearDOP[i]),
		CircularDOP:       Float(t.CircularDOP[i]),
	}
}

// Records returns every row in order
func (t *PropertyTable) Records() []PropertyRecord {
	out := make([]PropertyRecord, t.Len())
	for i := range out {
		out[i] = t.Record(i)
	}
	return out
}

// Values returns the exported cells of row i in PropertyHeaders order
func (t *PropertyTable) Values(i int) []float64 {
	return []float64{
		t.DOP[i], t.AzimuthCalculated[i], t.EllipticityAngle[i],
		t.EllipticityRatio[i], t.LinearDOP[i], t.CircularDOP[i],
	}
}

// ParameterStats summarizes one Stokes parameter column
type ParameterStats struct {
	Mean Float `json:"mean"`
	Std  Float `json:"std"`
	Min  Float `json:"min"`
	Max  Float `json:"max"`
}

// ConversionSummary is the statistical digest of a converted table
type ConversionSummary struct {
	Source           string         `json:"source,omitempty"`
	Rows             int            `json:"rows"`
	S0               ParameterStats `json:"s0"`
	S1               ParameterStats `json:"s1"`
	S2               ParameterStats `json:"s2"`
	S3               ParameterStats `json:"s3"`
	DOPDeviationMean Float          `json:"dop_deviation_mean"`
	DOPDeviationMax  Float          `json:"dop_deviation_max"`
	DegenerateRows   int            `json:"degenerate_rows"`
}

// RoundTripReport compares measured values against values recomputed from
// the Stokes vector
type RoundTripReport struct {
	Rows                 int     `json:"rows"`
	Compared             int     `json:"compared"`
	Tolerance            float64 `json:"tolerance"`
	DOPDeviationMean     Float   `json:"dop_deviation_mean"`
	DOPDeviationMax      Float   `json:"dop_deviation_max"`
	AzimuthDeviationMean Float   `json:"azimuth_deviation_mean"`
	AzimuthDeviationMax  Float   `json:"azimuth_deviation_max"`
	Outliers             []int64 `json:"outliers"`
}

// Passed reports whether every comparable row stayed within tolerance
func (r RoundTripReport) Passed() bool {
	return len(r.Outliers) == 0
}
