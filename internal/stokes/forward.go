package stokes

import (
	"math"

	"gonum.org/v1/gonum/floats"

	apperrors "polarcli/internal/errors"
	"polarcli/pkg/contracts/domain"
)

const (
	degToRad = math.Pi / 180
	radToDeg = 180 / math.Pi
)

// Forward converts measured samples into Stokes vectors.
//
//	I      = Intensity[%] / 100
//	DOP    = DOP[%] / 100
//	PERlin = 10^(PER[dB] / 10)
//	χ      = atan(2 / sqrt(PERlin - 1)) / 2
//	S0     = I
//	S1     = I·DOP·cos2φ·cos2χ
//	S2     = I·DOP·sin2φ·cos2χ
//	S3     = I·DOP·sin2χ
//
// Rows are independent and keep their order. Non-finite results follow
// IEEE semantics and are counted in DegenerateRows, never clamped.
func Forward(raw *domain.RawSampleTable) (*domain.StokesTable, error) {
	if raw == nil {
		return nil, apperrors.NewConversionError(apperrors.ReasonNoData, "no samples loaded", nil)
	}
	if err := raw.Validate(); err != nil {
		return nil, apperrors.NewConversionError(apperrors.ReasonNoData, "sample table is inconsistent", err)
	}

	n := raw.Len()
	intensity := make([]float64, n)
	dop := make([]float64, n)
	for i := 0; i < n; i++ {
		intensity[i] = raw.Intensity[i] / 100
		dop[i] = raw.DOP[i] / 100
	}

	phi := floats.ScaleTo(make([]float64, n), degToRad, raw.Azimuth)
	chi := make([]float64, n)
	for i, per := range raw.PER {
		chi[i] = ellipticity(per)
	}

	cos2phi, sin2phi := make([]float64, n), make([]float64, n)
	cos2chi, sin2chi := make([]float64, n), make([]float64, n)
	for i := 0; i < n; i++ {
		sin2phi[i], cos2phi[i] = math.Sincos(2 * phi[i])
		sin2chi[i], cos2chi[i] = math.Sincos(2 * chi[i])
	}

	amplitude := floats.MulTo(make([]float64, n), intensity, dop)

	s1 := floats.MulTo(make([]float64, n), amplitude, cos2phi)
	floats.Mul(s1, cos2chi)
	s2 := floats.MulTo(make([]float64, n), amplitude, sin2phi)
	floats.Mul(s2, cos2chi)
	s3 := floats.MulTo(make([]float64, n), amplitude, sin2chi)

	table := &domain.StokesTable{
		No:                append([]int64(nil), raw.No...),
		S0:                intensity,
		S1:                s1,
		S2:                s2,
		S3:                s3,
		DOPCalculated:     degreeOfPolarization(intensity, s1, s2, s3),
		AzimuthOriginal:   append([]float64(nil), raw.Azimuth...),
		PEROriginal:       append([]float64(nil), raw.PER...),
		IntensityOriginal: append([]float64(nil), raw.Intensity...),
	}
	table.DegenerateRows = len(DegenerateIndices(table))
	return table, nil
}

// ellipticity returns the ellipticity angle χ in radians for an
// extinction ratio in dB. PER = 0 gives π/4 through 2/0 = +Inf; PER < 0
// gives NaN.
func ellipticity(perDB float64) float64 {
	perLinear := math.Pow(10, perDB/10)
	return 0.5 * math.Atan(2/math.Sqrt(perLinear-1))
}

// degreeOfPolarization returns sqrt(S1²+S2²+S3²)/S0 per row
func degreeOfPolarization(s0, s1, s2, s3 []float64) []float64 {
	out := make([]float64, len(s0))
	for i := range out {
		out[i] = math.Sqrt(s1[i]*s1[i]+s2[i]*s2[i]+s3[i]*s3[i]) / s0[i]
	}
	return out
}

// DegenerateIndices returns the rows whose Stokes vector or recomputed DOP
// is not finite
func DegenerateIndices(t *domain.StokesTable) []int {
	var idx []int
	for i := 0; i < t.Len(); i++ {
		if !finite(t.S0[i], t.S1[i], t.S2[i], t.S3[i], t.DOPCalculated[i]) {
			idx = append(idx, i)
		}
	}
	return idx
}

func finite(values ...float64) bool {
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
